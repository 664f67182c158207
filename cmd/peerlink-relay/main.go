package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"prepmate/peerlink/internal/config"
	"prepmate/peerlink/internal/relay"
	"prepmate/peerlink/internal/store/memstore"
)

const helpText = `peerlink-relay - Shared store relay for peerlink clients

Serves the queue and room documents over WebSocket at /ws so that clients
configured with PEERLINK_STORE=relay can rendezvous.

Environment Variables:
  PORT  Listen port (default 8080)

Options:
  -h, --help  Show this help message
`

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "-h" || os.Args[1] == "--help") {
		fmt.Print(helpText)
		os.Exit(0)
	}

	log.SetOutput(os.Stderr)
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[main] %v", err)
	}

	relayServer := relay.NewServer(memstore.New())

	mux := http.NewServeMux()
	mux.Handle("/ws", relayServer)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: mux,
	}

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received %s, shutting down", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		relayServer.Close()
		srv.Shutdown(ctx)
	}()

	log.Printf("[main] relay listening on :%s", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("[main] %v", err)
	}
	log.Printf("[main] done")
}
