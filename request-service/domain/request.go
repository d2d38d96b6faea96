package domain

import "time"

// Status is the lifecycle state of a service request.
type Status string

const (
	StatusPending           Status = "pending"
	StatusAccepted          Status = "accepted"
	StatusUserCompleted     Status = "user_completed"
	StatusMechanicCompleted Status = "mechanic_completed"
	StatusCompleted         Status = "completed"
	StatusCancelled         Status = "cancelled"
)

// Valid reports whether s is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusUserCompleted,
		StatusMechanicCompleted, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// VehicleType is the kind of vehicle a request is for.
type VehicleType string

const (
	VehicleCar       VehicleType = "car"
	VehicleMotorbike VehicleType = "motorbike"
)

func (v VehicleType) Valid() bool {
	return v == VehicleCar || v == VehicleMotorbike
}

// ServiceType is the kind of roadside service requested.
type ServiceType string

const (
	ServiceFlatTire   ServiceType = "flatTire"
	ServiceFuel       ServiceType = "fuel"
	ServiceEngine     ServiceType = "engine"
	ServiceSpark      ServiceType = "spark"
	ServiceOilLeakage ServiceType = "oilLeakage"
)

func (s ServiceType) Valid() bool {
	switch s {
	case ServiceFlatTire, ServiceFuel, ServiceEngine, ServiceSpark, ServiceOilLeakage:
		return true
	}
	return false
}

// Role discriminates the two identity classes.
type Role string

const (
	RoleUser     Role = "user"
	RoleMechanic Role = "mechanic"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleMechanic
}

// Actor is the authenticated caller of an operation. Every service
// method takes the actor explicitly; there is no ambient request state.
type Actor struct {
	ID   string
	Role Role
}

// Request represents a vehicle service request. Status and AssignedTo
// change only through the lifecycle engine; AssignedTo is set on accept
// and kept through cancel/complete for history.
type Request struct {
	ID          string      `bson:"_id" json:"id"`
	Owner       string      `bson:"owner" json:"owner"`
	VehicleType VehicleType `bson:"vehicleType" json:"vehicleType"`
	ServiceType ServiceType `bson:"serviceType" json:"serviceType"`
	Description string      `bson:"description" json:"description"`
	Image       string      `bson:"image,omitempty" json:"image,omitempty"`
	Status      Status      `bson:"status" json:"status"`
	AssignedTo  string      `bson:"assignedTo,omitempty" json:"assignedTo,omitempty"`
	CreatedAt   time.Time   `bson:"createdAt" json:"createdAt"`
}

// OutboxEvent is a pending status-change event awaiting publication.
type OutboxEvent struct {
	ID          string     `bson:"_id" json:"id"`
	EventType   string     `bson:"event_type" json:"event_type"`
	Payload     []byte     `bson:"payload" json:"payload"`
	CreatedAt   time.Time  `bson:"created_at" json:"created_at"`
	Processed   bool       `bson:"processed" json:"processed"`
	ProcessedAt *time.Time `bson:"processed_at,omitempty" json:"processed_at,omitempty"`
}
