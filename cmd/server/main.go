package main

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	personawebui "github.com/MegaGrindStone/persona-web-ui"
	"github.com/MegaGrindStone/persona-web-ui/internal/handlers"
	"github.com/MegaGrindStone/persona-web-ui/internal/services"
	"gopkg.in/yaml.v3"
)

func main() {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		log.Fatal(fmt.Errorf("error getting user config dir: %w", err))
	}
	cfgPath := filepath.Join(cfgDir, "personawebui")
	if err := os.MkdirAll(cfgPath, 0755); err != nil {
		log.Fatal(fmt.Errorf("error creating config directory: %w", err))
	}

	cfg := config{}
	cfgFilePath := filepath.Join(cfgPath, "config.yaml")
	cfgFile, err := os.Open(cfgFilePath)
	if err == nil {
		if err := yaml.NewDecoder(cfgFile).Decode(&cfg); err != nil {
			cfgFile.Close()
			log.Fatal(fmt.Errorf("error decoding config file: %w", err))
		}
		cfgFile.Close()
	} else if !os.IsNotExist(err) {
		log.Fatal(fmt.Errorf("error opening config file: %w", err))
	}
	cfg = cfg.applyDefaults()

	logLevel := slog.LevelInfo
	if cfg.LogLevel == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = cfgPath
	}
	uploadDir := cfg.UploadDir
	if uploadDir == "" {
		uploadDir = filepath.Join(dataDir, "uploads")
	}

	boltDB, err := services.NewBoltDB(filepath.Join(dataDir, "store.db"))
	if err != nil {
		log.Fatal(fmt.Errorf("error opening store: %w", err))
	}
	defer boltDB.Close()

	blobs, err := services.NewFileStore(uploadDir, logger)
	if err != nil {
		log.Fatal(fmt.Errorf("error opening blob store: %w", err))
	}

	registry := services.NewRegistry(cfg.registryConfig(), logger)

	m, err := handlers.NewMain(
		func(model string) (handlers.LLM, error) {
			return registry.Provider(model)
		},
		boltDB,
		blobs,
		cfg.DefaultModel,
		logger,
	)
	if err != nil {
		log.Fatal(fmt.Errorf("error creating handlers: %w", err))
	}

	staticFS, err := fs.Sub(personawebui.StaticFS, "static")
	if err != nil {
		log.Fatal(err)
	}
	fileServer := http.FileServer(http.FS(staticFS))

	mux := http.NewServeMux()
	mux.Handle("/static/", http.StripPrefix("/static/", fileServer))
	mux.Handle("/uploads/", http.StripPrefix("/uploads/", http.FileServer(http.Dir(uploadDir))))
	mux.HandleFunc("/", m.HandleHome)
	mux.HandleFunc("/api/chat", m.HandleChatCompletion)
	mux.HandleFunc("/api/upload", m.HandleUpload)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErrors := make(chan error, 1)

	go func() {
		logger.Info("Server starting", slog.String("port", cfg.Port))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("Server error", slog.String("err", err.Error()))

	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String("err", err.Error()))
			if err := srv.Close(); err != nil {
				logger.Error("Forcing server close", slog.String("err", err.Error()))
			}
		}
	}
}
