package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"easel/sync/internal/config"
	"easel/sync/internal/lifecycle"
	"easel/sync/internal/room"
	"easel/sync/internal/server"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	rm := room.New(cfg.Document, room.Options{
		IdleTimeout: cfg.IdleTimeout,
		SendBuffer:  cfg.SendBuffer,
	})
	go rm.Run()

	started := time.Now()
	record := func() lifecycle.Record {
		return lifecycle.Record{
			Document:    cfg.Document,
			Addr:        cfg.AdvertiseAddr,
			Connections: rm.Connections(),
			StartedAt:   started,
		}
	}

	var directory *lifecycle.Directory
	if cfg.RedisURL != "" {
		var err error
		directory, err = lifecycle.New(cfg.RedisURL, 30*time.Second)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer directory.Close()
		if err := directory.Announce(ctx, record()); err != nil {
			log.Fatalf("directory announce failed: %v", err)
		}
		heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
		defer stopHeartbeat()
		go directory.Heartbeat(heartbeatCtx, 10*time.Second, record)
	} else {
		log.Printf("REDIS_URL unset, running without directory announcements")
	}

	httpServer := &http.Server{
		Addr: cfg.Addr,
		// No read/write timeouts: the event channel is a long-lived
		// websocket.
		ReadHeaderTimeout: 10 * time.Second,
		Handler:           server.New(rm).Handler(),
	}

	go func() {
		log.Printf("syncd for document %q listening on %s", cfg.Document, cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		log.Printf("signal received, shutting down")
	case <-rm.Done():
		// Idle reclamation: the room has been empty long enough.
	}

	if directory != nil {
		withdrawCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := directory.Withdraw(withdrawCtx, cfg.Document); err != nil {
			log.Printf("directory withdraw failed: %v", err)
		}
		cancel()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
