package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"log/slog"

	"fuelfix/auth"
	"fuelfix/logging"
	"fuelfix/request-service/domain"
	"fuelfix/request-service/handlers"
	"fuelfix/request-service/kafka"
	"fuelfix/request-service/service"

	"github.com/gorilla/mux"
	"github.com/hashicorp/consul/api"
	"github.com/joho/godotenv"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
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
	logger.Info("Initializing tracer", "jaeger_endpoint", jaegerEndpoint, "app", "request-service")

	exporter, err := otlptracehttp.New(context.Background(),
		otlptracehttp.WithEndpoint(jaegerEndpoint),
		otlptracehttp.WithInsecure(),
		otlptracehttp.WithURLPath("/v1/traces"),
	)
	if err != nil {
		logger.Error("Failed to create OTLP exporter", "error", err, "app", "request-service")
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	resources := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String("request-service"),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(exporter, sdktrace.WithExportTimeout(5*time.Second))),
		sdktrace.WithResource(resources),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return func() {
		logger.Info("Shutting down tracer provider", "app", "request-service")
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Error("Error shutting down tracer provider", "error", err, "app", "request-service")
		}
	}, nil
}

// connectToMongoDB connects with retries
func connectToMongoDB(uri string, retries int, delay time.Duration, logger *slog.Logger) (*mongo.Client, error) {
	var err error
	for i := 0; i < retries; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		var client *mongo.Client
		client, err = mongo.Connect(ctx, options.Client().ApplyURI(uri))
		if err == nil {
			err = client.Ping(ctx, nil)
			if err == nil {
				cancel()
				logger.Info("Connected to MongoDB", "uri", uri, "app", "request-service")
				return client, nil
			}
		}
		cancel()
		logger.Error("Failed to connect to MongoDB", "attempt", i+1, "max_attempts", retries, "error", err, "app", "request-service")
		if i < retries-1 {
			time.Sleep(delay)
		}
	}
	return nil, fmt.Errorf("failed to connect to MongoDB after %d retries: %w", retries, err)
}

// resolveKafka finds the Kafka bootstrap address through Consul, with an
// env override
func resolveKafka(consulClient *api.Client, logger *slog.Logger) (string, error) {
	if addr := os.Getenv("KAFKA_BOOTSTRAP_SERVERS"); addr != "" {
		return addr, nil
	}
	services, _, err := consulClient.Agent().Service("kafka-9094", nil)
	if err != nil {
		return "", fmt.Errorf("failed to query Consul for Kafka service: %w", err)
	}
	if services == nil {
		return "", fmt.Errorf("kafka service not found in Consul")
	}
	bootstrapServers := fmt.Sprintf("%s:%d", services.Address, services.Port)
	logger.Info("Resolved Kafka service from Consul", "bootstrapServers", bootstrapServers, "app", "request-service")
	return bootstrapServers, nil
}

func main() {
	// Load optional .env and initialize structured logging
	godotenv.Load()
	logger, logFile, err := logging.NewLogger("request-service")
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	defer logFile.Close()
	slog.SetDefault(logger)

	logger.Info("Starting request-service", "app", "request-service", "timestamp", time.Now().Unix())

	// Initialize tracer
	shutdown, err := initTracer(logger)
	if err != nil {
		logger.Error("Failed to initialize tracer", "error", err, "app", "request-service")
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
		logger.Error("Failed to create Consul client", "error", err, "app", "request-service")
		os.Exit(1)
	}

	serviceName := os.Getenv("SERVICE_NAME")
	if serviceName == "" {
		serviceName = "request-service"
	}
	servicePort := os.Getenv("SERVICE_PORT")
	if servicePort == "" {
		servicePort = "8083"
	}
	serviceID := serviceName + "-" + servicePort
	registration := &api.AgentServiceRegistration{
		ID:      serviceID,
		Name:    serviceName,
		Port:    8083,
		Address: "request-service",
		Check: &api.AgentServiceCheck{
			HTTP:     fmt.Sprintf("http://request-service:%s/health", servicePort),
			Interval: "10s",
			Timeout:  "5s",
		},
	}
	if err := consulClient.Agent().ServiceRegister(registration); err != nil {
		logger.Error("Failed to register with Consul", "error", err, "app", "request-service")
		os.Exit(1)
	}
	logger.Info("Registered with Consul", "service_id", serviceID, "app", "request-service")

	// Connect to MongoDB with retries
	mongoURI := os.Getenv("MONGO_URI")
	if mongoURI == "" {
		mongoURI = "mongodb://mongodb:27017/fuelfixdb?replicaSet=rs0"
	}
	client, err := connectToMongoDB(mongoURI, 5, 2*time.Second, logger)
	if err != nil {
		logger.Error("Failed to connect to MongoDB", "error", err, "app", "request-service")
		os.Exit(1)
	}
	defer func() {
		if err := client.Disconnect(context.Background()); err != nil {
			logger.Error("Failed to disconnect from MongoDB", "error", err, "app", "request-service")
		}
	}()

	// Initialize repository and service
	repo := domain.NewMongoRepository(client)
	svc := service.NewService(repo, logger)

	// Initialize Kafka producer and outbox processor. Events stay in the
	// outbox until the pipeline is reachable.
	schemaRegistryURL := os.Getenv("SCHEMA_REGISTRY_URL")
	if schemaRegistryURL == "" {
		schemaRegistryURL = "http://schema-registry:8081"
	}
	bootstrapServers, err := resolveKafka(consulClient, logger)
	if err != nil {
		logger.Error("Kafka unavailable, outbox events will not be published", "error", err, "app", "request-service")
	} else {
		producer, err := kafka.NewProducer(bootstrapServers, schemaRegistryURL, "request-events", logger)
		if err != nil {
			logger.Error("Failed to initialize Kafka producer", "error", err, "app", "request-service")
		} else {
			processor := kafka.NewOutboxProcessor(repo, producer, logger)
			go func() {
				if err := processor.Start(context.Background()); err != nil {
					logger.Error("Outbox processor stopped with error", "error", err, "app", "request-service")
				}
			}()
		}
	}

	// Initialize handler
	handler := handlers.NewRequestHandler(svc, repo, logger)

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = "your_jwt_secret"
	}

	// Initialize router
	r := mux.NewRouter()
	r.Use(otelmux.Middleware("request-service"))

	r.HandleFunc("/health", handler.HealthCheck).Methods("GET")
	r.HandleFunc("/ws", handler.HandleWebSocket).Methods("GET")

	apiRouter := r.PathPrefix("/api").Subrouter()
	apiRouter.Use(auth.Middleware(jwtSecret, logger))
	apiRouter.HandleFunc("/requests", handler.Submit).Methods("POST")
	apiRouter.HandleFunc("/requests", handler.ListMine).Methods("GET")
	apiRouter.HandleFunc("/requests/open", handler.ListOpen).Methods("GET")
	apiRouter.HandleFunc("/requests/{requestID}/accept", handler.Accept).Methods("POST")
	apiRouter.HandleFunc("/requests/{requestID}/cancel", handler.Cancel).Methods("POST")
	apiRouter.HandleFunc("/requests/{requestID}/complete", handler.Complete).Methods("POST")

	// Start server
	logger.Info("Starting request-service", "port", servicePort, "app", "request-service")
	if err := http.ListenAndServe(":"+servicePort, r); err != nil {
		logger.Error("Failed to start server", "error", err, "app", "request-service")
		os.Exit(1)
	}
}
