package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/scenesengine/artifactd/internal/api"
	"github.com/scenesengine/artifactd/internal/config"
	"github.com/scenesengine/artifactd/internal/engine"
	"github.com/scenesengine/artifactd/internal/logger"
)

func main() {
	port := flag.Int("port", 8080, "Port to listen on")
	flag.Parse()

	cfg := config.Load()
	logger.Init(cfg.LogLevel)

	if _, err := os.Stat(cfg.MediaRoot); os.IsNotExist(err) {
		log.Fatalf("media root does not exist: %s", cfg.MediaRoot)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Println("║                      artifactd                            ║")
	fmt.Println("║          media artifact generation engine                 ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Media root:   %s\n", cfg.MediaRoot)
	fmt.Printf("  State dir:    %s\n", cfg.StateDir)
	fmt.Printf("  Job slots:    %d\n", cfg.JobMaxConcurrency)
	fmt.Printf("  FFmpeg slots: %d\n", cfg.FFmpegConcurrency)
	fmt.Println()

	eng, err := engine.New(cfg)
	if err != nil {
		log.Fatalf("failed to start engine: %v", err)
	}
	defer eng.Close()

	handler := api.NewHandler(eng)
	router := api.NewRouter(handler)

	fmt.Printf("  Starting server on port %d\n", *port)
	fmt.Println()
	fmt.Println("  Press Ctrl+C to stop")
	fmt.Println()

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", *port),
		Handler: router,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\n  Shutting down...")
		server.Close()
	}()

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}

	fmt.Println("  Goodbye!")
}
