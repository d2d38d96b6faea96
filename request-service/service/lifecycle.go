package service

import (
	"fmt"

	"fuelfix/request-service/domain"
)

// Action is a lifecycle operation requested by an actor.
type Action string

const (
	ActionAccept   Action = "accept"
	ActionCancel   Action = "cancel"
	ActionComplete Action = "complete"
)

// transition is the outcome of a lifecycle decision: the target status
// and, for accept, the mechanic to record as assignee.
type transition struct {
	to       domain.Status
	assignTo string
}

// decide is the single authority for lifecycle transitions. Given the
// stored request, the acting identity and the requested action it either
// returns the transition to apply or rejects with ErrForbidden (wrong
// role or identity) or ErrInvalidTransition (wrong current state).
//
//	pending  --accept(mechanic)-------------> accepted
//	pending  --cancel(owner)----------------> cancelled
//	accepted --cancel(owner|assignee)-------> cancelled
//	accepted --complete(owner)--------------> user_completed
//	accepted --complete(assignee)-----------> mechanic_completed
//	mechanic_completed --complete(owner)----> completed
//	user_completed --complete(assignee)-----> completed
//
// Completion requires both parties to confirm independently before the
// request is finalized.
func decide(req *domain.Request, actor domain.Actor, action Action) (transition, error) {
	switch action {
	case ActionAccept:
		if actor.Role != domain.RoleMechanic {
			return transition{}, fmt.Errorf("%w: only mechanics can accept requests", domain.ErrForbidden)
		}
		if req.Status != domain.StatusPending {
			return transition{}, stateError(req.Status, domain.StatusPending)
		}
		return transition{to: domain.StatusAccepted, assignTo: actor.ID}, nil

	case ActionCancel:
		if err := requireParty(req, actor); err != nil {
			return transition{}, err
		}
		if req.Status != domain.StatusPending && req.Status != domain.StatusAccepted {
			return transition{}, stateError(req.Status, domain.StatusPending, domain.StatusAccepted)
		}
		return transition{to: domain.StatusCancelled}, nil

	case ActionComplete:
		if err := requireParty(req, actor); err != nil {
			return transition{}, err
		}
		if actor.Role == domain.RoleUser {
			switch req.Status {
			case domain.StatusAccepted:
				return transition{to: domain.StatusUserCompleted}, nil
			case domain.StatusMechanicCompleted:
				return transition{to: domain.StatusCompleted}, nil
			}
			return transition{}, stateError(req.Status, domain.StatusAccepted, domain.StatusMechanicCompleted)
		}
		switch req.Status {
		case domain.StatusAccepted:
			return transition{to: domain.StatusMechanicCompleted}, nil
		case domain.StatusUserCompleted:
			return transition{to: domain.StatusCompleted}, nil
		}
		return transition{}, stateError(req.Status, domain.StatusAccepted, domain.StatusUserCompleted)
	}
	return transition{}, fmt.Errorf("%w: unknown action %q", domain.ErrInvalidTransition, action)
}

// requireParty checks that the actor is the owning user or the assigned
// mechanic of the request. Role and identity must both match.
func requireParty(req *domain.Request, actor domain.Actor) error {
	switch actor.Role {
	case domain.RoleUser:
		if req.Owner != actor.ID {
			return fmt.Errorf("%w: request belongs to another user", domain.ErrForbidden)
		}
	case domain.RoleMechanic:
		if req.AssignedTo == "" || req.AssignedTo != actor.ID {
			return fmt.Errorf("%w: request is not assigned to this mechanic", domain.ErrForbidden)
		}
	default:
		return fmt.Errorf("%w: unknown role %q", domain.ErrForbidden, actor.Role)
	}
	return nil
}

// stateError reports a rejected transition with the current status and
// the statuses the action would require, so a stale client can refetch
// and reconcile.
func stateError(current domain.Status, required ...domain.Status) error {
	if len(required) == 1 {
		return fmt.Errorf("%w: status is %q, requires %q", domain.ErrInvalidTransition, current, required[0])
	}
	return fmt.Errorf("%w: status is %q, requires one of %v", domain.ErrInvalidTransition, current, required)
}
