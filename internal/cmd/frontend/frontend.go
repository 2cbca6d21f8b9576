// Package frontend parses frontend command flags and starts the calling
// frontend.
package frontend

import (
	"context"
	"flag"
	"time"

	entrypoint "github.com/akonradi/Signal-Calling-Service/internal/platform/cmd"
	server "github.com/akonradi/Signal-Calling-Service/internal/services/frontend/app"
	storagedynamodb "github.com/akonradi/Signal-Calling-Service/internal/services/frontend/storage/dynamodb"
)

// Config holds frontend command configuration.
type Config struct {
	Port                  int           `env:"CALLING_FRONTEND_PORT" envDefault:"8090"`
	StorageRegion         string        `env:"CALLING_FRONTEND_STORAGE_REGION" envDefault:"us-west-2"`
	StorageTable          string        `env:"CALLING_FRONTEND_STORAGE_TABLE"`
	StorageEndpoint       string        `env:"CALLING_FRONTEND_STORAGE_ENDPOINT"`
	IdentityTokenURL      string        `env:"CALLING_FRONTEND_IDENTITY_TOKEN_URL"`
	IdentityTokenPath     string        `env:"CALLING_FRONTEND_IDENTITY_TOKEN_PATH"`
	IdentityFetchInterval time.Duration `env:"CALLING_FRONTEND_IDENTITY_FETCH_INTERVAL" envDefault:"10m"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The frontend server port")
	fs.StringVar(&cfg.StorageTable, "storage-table", cfg.StorageTable, "The DynamoDB table for call link records (empty selects in-memory storage)")
	fs.StringVar(&cfg.StorageEndpoint, "storage-endpoint", cfg.StorageEndpoint, "A DynamoDB endpoint override for local testing")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the calling frontend service.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceFrontend, func(context.Context) error {
		return server.Run(ctx, server.Config{
			Port: cfg.Port,
			Storage: storagedynamodb.Config{
				Region:   cfg.StorageRegion,
				Table:    cfg.StorageTable,
				Endpoint: cfg.StorageEndpoint,
			},
			IdentityTokenURL:      cfg.IdentityTokenURL,
			IdentityTokenPath:     cfg.IdentityTokenPath,
			IdentityFetchInterval: cfg.IdentityFetchInterval,
		}, nil)
	})
}
