package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"log/slog"

	"fuelfix/auth"
	"fuelfix/auth-service/domain"
	"fuelfix/auth-service/handlers"
	"fuelfix/auth-service/kafka"
	"fuelfix/auth-service/service"
	"fuelfix/logging"

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
	logger.Info("Initializing tracer", "jaeger_endpoint", jaegerEndpoint, "app", "auth-service")

	exporter, err := otlptracehttp.New(context.Background(),
		otlptracehttp.WithEndpoint(jaegerEndpoint),
		otlptracehttp.WithInsecure(),
		otlptracehttp.WithURLPath("/v1/traces"),
	)
	if err != nil {
		logger.Error("Failed to create OTLP exporter", "error", err, "app", "auth-service")
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	resources := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String("auth-service"),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(exporter, sdktrace.WithExportTimeout(5*time.Second))),
		sdktrace.WithResource(resources),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return func() {
		logger.Info("Shutting down tracer provider", "app", "auth-service")
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Error("Error shutting down tracer provider", "error", err, "app", "auth-service")
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
				logger.Info("Connected to MongoDB", "uri", uri, "app", "auth-service")
				return client, nil
			}
		}
		cancel()
		logger.Error("Failed to connect to MongoDB", "attempt", i+1, "max_attempts", retries, "error", err, "app", "auth-service")
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
	logger.Info("Resolved Kafka service from Consul", "bootstrapServers", bootstrapServers, "app", "auth-service")
	return bootstrapServers, nil
}

func main() {
	// Load optional .env and initialize structured logging
	godotenv.Load()
	logger, logFile, err := logging.NewLogger("auth-service")
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	defer logFile.Close()
	slog.SetDefault(logger)

	logger.Info("Starting auth-service", "app", "auth-service", "timestamp", time.Now().Unix())

	// Initialize tracer
	shutdown, err := initTracer(logger)
	if err != nil {
		logger.Error("Failed to initialize tracer", "error", err, "app", "auth-service")
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
		logger.Error("Failed to create Consul client", "error", err, "app", "auth-service")
		os.Exit(1)
	}

	serviceName := os.Getenv("SERVICE_NAME")
	if serviceName == "" {
		serviceName = "auth-service"
	}
	servicePort := os.Getenv("SERVICE_PORT")
	if servicePort == "" {
		servicePort = "8085"
	}
	serviceID := serviceName + "-" + servicePort
	registration := &api.AgentServiceRegistration{
		ID:      serviceID,
		Name:    serviceName,
		Port:    8085,
		Address: "auth-service",
		Check: &api.AgentServiceCheck{
			HTTP:     fmt.Sprintf("http://auth-service:%s/health", servicePort),
			Interval: "10s",
			Timeout:  "5s",
		},
	}
	if err := consulClient.Agent().ServiceRegister(registration); err != nil {
		logger.Error("Failed to register with Consul", "error", err, "app", "auth-service")
		os.Exit(1)
	}
	logger.Info("Registered with Consul", "service_id", serviceID, "app", "auth-service")

	// Connect to MongoDB with retries
	mongoURI := os.Getenv("MONGO_URI")
	if mongoURI == "" {
		mongoURI = "mongodb://mongodb:27017/fuelfixdb?replicaSet=rs0"
	}
	client, err := connectToMongoDB(mongoURI, 5, 2*time.Second, logger)
	if err != nil {
		logger.Error("Failed to connect to MongoDB", "error", err, "app", "auth-service")
		os.Exit(1)
	}
	defer func() {
		if err := client.Disconnect(context.Background()); err != nil {
			logger.Error("Failed to disconnect from MongoDB", "error", err, "app", "auth-service")
		}
	}()

	// Initialize repository and unique email index
	repo := domain.NewMongoRepository(client)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := repo.EnsureIndexes(ctx); err != nil {
		cancel()
		logger.Error("Failed to create indexes", "error", err, "app", "auth-service")
		os.Exit(1)
	}
	cancel()

	// Verification codes are delivered through Kafka. The service degrades
	// gracefully when the broker is unreachable.
	var notifier service.Notifier
	bootstrapServers, err := resolveKafka(consulClient, logger)
	if err != nil {
		logger.Error("Kafka unavailable, verification codes will not be delivered", "error", err, "app", "auth-service")
	} else {
		kafkaNotifier, err := kafka.NewNotifier(bootstrapServers, "notification-events", logger)
		if err != nil {
			logger.Error("Failed to initialize Kafka notifier", "error", err, "app", "auth-service")
		} else {
			defer kafkaNotifier.Close()
			notifier = kafkaNotifier
		}
	}

	svc := service.NewService(repo, notifier, logger)

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = "your_jwt_secret"
	}

	handler := handlers.NewAuthHandler(svc, jwtSecret, logger)

	// Initialize router
	r := mux.NewRouter()
	r.Use(otelmux.Middleware("auth-service"))

	r.HandleFunc("/health", handler.HealthCheck).Methods("GET")
	r.HandleFunc("/api/signup", handler.Signup).Methods("POST")
	r.HandleFunc("/api/login", handler.Login).Methods("POST")
	r.HandleFunc("/api/verify", handler.VerifyEmail).Methods("POST")

	protected := r.PathPrefix("/api").Subrouter()
	protected.Use(auth.Middleware(jwtSecret, logger))
	protected.HandleFunc("/profile", handler.Profile).Methods("GET")

	// Start server
	logger.Info("Starting auth-service", "port", servicePort, "app", "auth-service")
	if err := http.ListenAndServe(":"+servicePort, r); err != nil {
		logger.Error("Failed to start server", "error", err, "app", "auth-service")
		os.Exit(1)
	}
}
