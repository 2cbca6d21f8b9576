// Package server bootstraps the calling frontend: storage selection, the
// credential-gated call-link service, the identity token fetcher, and a gRPC
// server exposing health checks.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/akonradi/Signal-Calling-Service/internal/services/frontend/calllinks"
	"github.com/akonradi/Signal-Calling-Service/internal/services/frontend/identity"
	"github.com/akonradi/Signal-Calling-Service/internal/services/frontend/storage"
	storagedynamodb "github.com/akonradi/Signal-Calling-Service/internal/services/frontend/storage/dynamodb"
	storagememory "github.com/akonradi/Signal-Calling-Service/internal/services/frontend/storage/memory"
)

// Config holds the settings for a frontend server.
type Config struct {
	// Port is the gRPC listen port.
	Port int
	// Storage selects the DynamoDB table; an empty table name selects the
	// in-memory store for local runs.
	Storage storagedynamodb.Config
	// IdentityTokenURL is the metadata endpoint serving identity tokens. When
	// empty no fetcher runs.
	IdentityTokenURL string
	// IdentityTokenPath is where fetched tokens are written.
	IdentityTokenPath string
	// IdentityFetchInterval is how often the token is refreshed.
	IdentityFetchInterval time.Duration
}

// Server hosts the calling frontend.
type Server struct {
	listener   net.Listener
	grpcServer *grpc.Server
	health     *health.Server
	store      storage.Storage
	service    *calllinks.Service
	fetcher    *identity.Fetcher
}

// New creates a configured frontend server listening on the provided port. A
// nil verifier denies every credential.
func New(ctx context.Context, cfg Config, verifier calllinks.Verifier) (*Server, error) {
	if verifier == nil {
		verifier = calllinks.DenyAll{}
	}
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("listen on port %d: %w", cfg.Port, err)
	}

	var store storage.Storage
	if cfg.Storage.Table != "" {
		dynamoStore, err := storagedynamodb.Open(ctx, cfg.Storage)
		if err != nil {
			_ = listener.Close()
			return nil, err
		}
		store = dynamoStore
	} else {
		log.Printf("no storage table configured; using in-memory storage")
		store = storagememory.New()
	}

	var fetcher *identity.Fetcher
	if cfg.IdentityTokenURL != "" {
		fetcher = identity.New(cfg.IdentityTokenURL, cfg.IdentityTokenPath, cfg.IdentityFetchInterval)
	}

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
	)
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	return &Server{
		listener:   listener,
		grpcServer: grpcServer,
		health:     healthServer,
		store:      store,
		service:    calllinks.New(store, verifier),
		fetcher:    fetcher,
	}, nil
}

// Addr returns the listener address for the frontend server.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// CallLinks returns the credential-gated call-link service.
func (s *Server) CallLinks() *calllinks.Service {
	return s.service
}

// Storage returns the backing store.
func (s *Server) Storage() storage.Storage {
	return s.store
}

// Run creates and serves a frontend server until the context ends.
func Run(ctx context.Context, cfg Config, verifier calllinks.Verifier) error {
	frontend, err := New(ctx, cfg, verifier)
	if err != nil {
		return err
	}
	return frontend.Serve(ctx)
}

// Serve starts the frontend server and blocks until it stops or the context
// ends.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	serverCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if s.fetcher != nil {
		go s.fetcher.Run(serverCtx)
	}

	log.Printf("frontend server listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.grpcServer.Serve(s.listener)
	}()

	handleErr := func(err error) error {
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	}

	select {
	case <-ctx.Done():
		if s.health != nil {
			s.health.Shutdown()
		}
		s.grpcServer.GracefulStop()
		return handleErr(<-serveErr)
	case err := <-serveErr:
		return handleErr(err)
	}
}
