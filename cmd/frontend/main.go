package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	frontendcmd "github.com/akonradi/Signal-Calling-Service/internal/cmd/frontend"
)

func main() {
	cfg, err := frontendcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[FRONTEND] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := frontendcmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
