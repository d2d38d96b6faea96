package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"log/slog"

	"fuelfix/api-gateway/handlers"
	"fuelfix/logging"

	"github.com/gorilla/mux"
	"github.com/hashicorp/consul/api"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// initTracer initializes OpenTelemetry tracer
func initTracer(logger *slog.Logger) (func(), error) {
	jaegerEndpoint := os.Getenv("JAEGER_ENDPOINT")
	if jaegerEndpoint == "" {
		jaegerEndpoint = "jaeger:4318"
	}
	logger.Info("Initializing tracer", "jaeger_endpoint", jaegerEndpoint, "app", "api-gateway")

	exporter, err := otlptracehttp.New(context.Background(),
		otlptracehttp.WithEndpoint(jaegerEndpoint),
		otlptracehttp.WithInsecure(),
		otlptracehttp.WithURLPath("/v1/traces"),
	)
	if err != nil {
		logger.Error("Failed to create OTLP exporter", "error", err, "app", "api-gateway")
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	resources := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String("api-gateway"),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(exporter, sdktrace.WithExportTimeout(5*time.Second))),
		sdktrace.WithResource(resources),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return func() {
		logger.Info("Shutting down tracer provider", "app", "api-gateway")
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Error("Error shutting down tracer provider", "error", err, "app", "api-gateway")
		}
	}, nil
}

// resolveService finds a backend's base URL through Consul, with an env
// override
func resolveService(consulClient *api.Client, serviceName, envKey string, logger *slog.Logger) (string, error) {
	if url := os.Getenv(envKey); url != "" {
		return url, nil
	}
	services, _, err := consulClient.Agent().Service(serviceName+"-"+defaultPorts[serviceName], nil)
	if err != nil || services == nil {
		// Fall back to the well-known address when Consul can't resolve
		logger.Error("Failed to resolve service from Consul, using default address", "service", serviceName, "error", err, "app", "api-gateway")
		return fmt.Sprintf("http://%s:%s", serviceName, defaultPorts[serviceName]), nil
	}
	url := fmt.Sprintf("http://%s:%d", services.Address, services.Port)
	logger.Info("Resolved service from Consul", "service", serviceName, "url", url, "app", "api-gateway")
	return url, nil
}

var defaultPorts = map[string]string{
	"auth-service":    "8085",
	"request-service": "8083",
}

func main() {
	// Load optional .env and initialize structured logging
	godotenv.Load()
	logger, logFile, err := logging.NewLogger("api-gateway")
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	defer logFile.Close()
	slog.SetDefault(logger)

	logger.Info("Starting api-gateway", "app", "api-gateway", "timestamp", time.Now().Unix())

	// Initialize tracer
	shutdown, err := initTracer(logger)
	if err != nil {
		logger.Error("Failed to initialize tracer", "error", err, "app", "api-gateway")
		os.Exit(1)
	}
	defer shutdown()

	// Initialize Consul client and register service
	consulAddr := os.Getenv("CONSUL_ADDRESS")
	if consulAddr == "" {
		consulAddr = "consul:8500"
	}
	consulConfig := api.DefaultConfig()
	consulConfig.Address = consulAddr
	consulClient, err := api.NewClient(consulConfig)
	if err != nil {
		logger.Error("Failed to create Consul client", "error", err, "app", "api-gateway")
		os.Exit(1)
	}

	servicePort := os.Getenv("SERVICE_PORT")
	if servicePort == "" {
		servicePort = "8081"
	}
	serviceID := "api-gateway-" + servicePort
	registration := &api.AgentServiceRegistration{
		ID:      serviceID,
		Name:    "api-gateway",
		Port:    8081,
		Address: "api-gateway",
		Check: &api.AgentServiceCheck{
			HTTP:     fmt.Sprintf("http://api-gateway:%s/health", servicePort),
			Interval: "10s",
			Timeout:  "5s",
		},
	}
	if err := consulClient.Agent().ServiceRegister(registration); err != nil {
		logger.Error("Failed to register with Consul", "error", err, "app", "api-gateway")
		os.Exit(1)
	}
	logger.Info("Registered with Consul", "service_id", serviceID, "app", "api-gateway")

	// Resolve backend services
	authURL, err := resolveService(consulClient, "auth-service", "AUTH_SERVICE_URL", logger)
	if err != nil {
		logger.Error("Failed to resolve auth-service", "error", err, "app", "api-gateway")
		os.Exit(1)
	}
	requestURL, err := resolveService(consulClient, "request-service", "REQUEST_SERVICE_URL", logger)
	if err != nil {
		logger.Error("Failed to resolve request-service", "error", err, "app", "api-gateway")
		os.Exit(1)
	}

	// Initialize handler
	handler := handlers.NewProxyHandler(authURL, requestURL, logger)

	// Initialize router
	r := mux.NewRouter()
	r.Use(otelmux.Middleware("api-gateway"))

	r.HandleFunc("/health", handler.HealthCheck).Methods("GET")
	r.HandleFunc("/ws", handler.HandleWebSocket).Methods("GET")

	// Auth service routes
	r.HandleFunc("/api/signup", handler.ForwardAuth).Methods("POST")
	r.HandleFunc("/api/login", handler.ForwardAuth).Methods("POST")
	r.HandleFunc("/api/verify", handler.ForwardAuth).Methods("POST")
	r.HandleFunc("/api/profile", handler.ForwardAuth).Methods("GET")

	// Request service routes
	r.PathPrefix("/api/requests").HandlerFunc(handler.ForwardRequests)

	// Start server
	logger.Info("Starting api-gateway", "port", servicePort, "app", "api-gateway")
	if err := http.ListenAndServe(":"+servicePort, r); err != nil {
		logger.Error("Failed to start server", "error", err, "app", "api-gateway")
		os.Exit(1)
	}
}
