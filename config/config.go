package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Config is the runtime configuration shared by handlers, jobs and one-shot
// commands. Load reads everything from the environment once at startup;
// secrets for the mail, payments and upload collaborators stay in env and are
// read by their clients in utils.
type Config struct {
	MongoClient *mongo.Client
	DBName      string
	Port        string
	JWTSecret   string

	AllowedOrigins []string

	// Cron specs for the in-process scheduler (serve mode). External cron
	// invokers use the sweep/accrue/reconcile subcommands instead.
	SweepSpec     string
	AccrualSpec   string
	ReconcileSpec string

	OpsEmail string

	Engine EngineConfig
}

// Load reads env vars, connects to MongoDB and loads the engine tuning.
// Call godotenv.Load() before this in main.
func Load() (*Config, error) {
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		return nil, fmt.Errorf("MONGODB_URI is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	engine, err := LoadEngineConfig(os.Getenv("ENGINE_CONFIG_FILE"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		MongoClient:    client,
		DBName:         envOr("DB_NAME", "impact_audit"),
		Port:           envOr("PORT", "8080"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		AllowedOrigins: splitOrigins(envOr("ALLOWED_ORIGINS", "*")),
		SweepSpec:      envOr("SWEEP_CRON", "0 */2 * * *"),
		AccrualSpec:    envOr("ACCRUAL_CRON", "0 2 * * *"),
		ReconcileSpec:  envOr("RECONCILE_CRON", "30 2 * * *"),
		OpsEmail:       os.Getenv("OPS_EMAIL"),
		Engine:         engine,
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	return cfg, nil
}

// Close disconnects the mongo client. Used by the one-shot subcommands.
func (c *Config) Close() {
	if c.MongoClient == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = c.MongoClient.Disconnect(ctx)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitOrigins(raw string) []string {
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
