// Package main starts the negotiation real-time service and handles
// termination.
//
// The process is a transport adapter around negotiation session rooms and
// message translation fan-out; commerce state stays with the catalog and
// order services.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	negotiationcmd "github.com/uday68/VyaparMitra-sub002/internal/cmd/negotiation"
)

func main() {
	cfg, err := negotiationcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[NEGOTIATION] ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := negotiationcmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
