package handlers

import (
	"io"
	"net/http"
	"strings"

	"log/slog"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// forwardedHeaders are the request headers relayed to backends.
var forwardedHeaders = []string{"Authorization", "Content-Type", "Accept"}

// ProxyHandler forwards gateway traffic to the auth and request services
type ProxyHandler struct {
	authServiceURL    string
	requestServiceURL string
	client            *http.Client
	upgrader          websocket.Upgrader
	tracer            trace.Tracer
	logger            *slog.Logger
}

// NewProxyHandler creates a new ProxyHandler
func NewProxyHandler(authServiceURL, requestServiceURL string, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		authServiceURL:    authServiceURL,
		requestServiceURL: requestServiceURL,
		client:            &http.Client{},
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		tracer: otel.Tracer("api-gateway"),
		logger: logger,
	}
}

// HealthCheck provides a health endpoint for Consul
func (h *ProxyHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	_, span := h.tracer.Start(r.Context(), "HealthCheck")
	defer span.End()

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// ForwardAuth relays a request to the auth service
func (h *ProxyHandler) ForwardAuth(w http.ResponseWriter, r *http.Request) {
	h.forward(w, r, h.authServiceURL, "ForwardAuth")
}

// ForwardRequests relays a request to the request service
func (h *ProxyHandler) ForwardRequests(w http.ResponseWriter, r *http.Request) {
	h.forward(w, r, h.requestServiceURL, "ForwardRequests")
}

func (h *ProxyHandler) forward(w http.ResponseWriter, r *http.Request, backend, spanName string) {
	ctx, span := h.tracer.Start(r.Context(), spanName)
	defer span.End()
	span.SetAttributes(
		attribute.String("backend", backend),
		attribute.String("path", r.URL.Path),
		attribute.String("method", r.Method),
	)

	target := backend + r.URL.Path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, target, r.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to create backend request")
		http.Error(w, "Failed to create backend request", http.StatusInternalServerError)
		return
	}
	for _, name := range forwardedHeaders {
		if v := r.Header.Get(name); v != "" {
			req.Header.Set(name, v)
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Backend unreachable")
		h.logger.Error("Backend unreachable", "backend", backend, "path", r.URL.Path, "error", err, "app", "api-gateway")
		http.Error(w, "Failed to contact backend service", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		h.logger.Error("Failed to relay backend response", "backend", backend, "error", err, "app", "api-gateway")
	}
}

// HandleWebSocket bridges the client's websocket to the request service's
// live feed
func (h *ProxyHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	_, span := h.tracer.Start(r.Context(), "HandleWebSocket")
	defer span.End()

	backendURL := strings.Replace(h.requestServiceURL, "http://", "ws://", 1) + "/ws"
	backendConn, _, err := websocket.DefaultDialer.Dial(backendURL, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to reach request service feed")
		h.logger.Error("Failed to reach request service feed", "url", backendURL, "error", err, "app", "api-gateway")
		http.Error(w, "Live feed unavailable", http.StatusBadGateway)
		return
	}
	defer backendConn.Close()

	clientConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to upgrade connection")
		h.logger.Error("Failed to upgrade connection", "error", err, "app", "api-gateway")
		return
	}
	defer clientConn.Close()

	errc := make(chan error, 2)
	relay := func(dst, src *websocket.Conn) {
		for {
			msgType, msg, err := src.ReadMessage()
			if err != nil {
				errc <- err
				return
			}
			if err := dst.WriteMessage(msgType, msg); err != nil {
				errc <- err
				return
			}
		}
	}
	go relay(clientConn, backendConn)
	go relay(backendConn, clientConn)
	<-errc
}
