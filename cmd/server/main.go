package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"fieldsync-service/internal/api"
	"fieldsync-service/internal/config"
	"fieldsync-service/internal/database"
	"fieldsync-service/internal/logger"
	"fieldsync-service/internal/store"
	"fieldsync-service/internal/sync"
)

func main() {
	// Load Config
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Init Logger
	if err := logger.InitLogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Log.Info("Starting fieldsync server")

	// Init State Store
	stateStore, err := newStateStore(cfg)
	if err != nil {
		logger.Log.Fatal("Failed to init state store", zap.Error(err))
	}
	defer stateStore.Close()

	// Connect to the business database
	appDB, err := database.NewDatabase(cfg.Database)
	if err != nil {
		logger.Log.Fatal("Failed to connect to business database", zap.Error(err))
	}
	defer appDB.Close()

	// Init Orchestrator
	source := database.NewRecordSource(appDB, cfg.Sync.Tables)
	files := sync.NewFileAgent(cfg.Sync.FilesRoot, logger.Log)
	peer := sync.NewPeerClient(cfg.Sync.GetRequestTimeout())
	orchestrator := sync.NewOrchestrator(stateStore, source, files, peer, logger.Log)

	// Init Scheduler
	scheduler := sync.NewScheduler(cfg.Scheduler, stateStore, orchestrator)
	scheduler.Start()
	defer scheduler.Stop()

	// Init Changefeed
	var changefeed *sync.Changefeed
	if cfg.Changefeed.Enabled {
		changefeed, err = sync.NewChangefeed(cfg.Database, cfg.Changefeed, cfg.Sync.Tables, stateStore)
		if err != nil {
			logger.Log.Fatal("Failed to init changefeed", zap.Error(err))
		}
		if err := changefeed.Start(); err != nil {
			logger.Log.Fatal("Failed to start changefeed", zap.Error(err))
		}
		defer changefeed.Stop()
	}

	// Init API
	handler := api.NewHandler(stateStore, orchestrator, peer)
	router := handler.Routes()

	// Start Server
	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.GetReadTimeout(),
		WriteTimeout: cfg.Server.GetWriteTimeout(),
	}

	go func() {
		logger.Log.Info("Server listening", zap.String("addr", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Log.Error("Server shutdown error", zap.Error(err))
	}
}

func newStateStore(cfg *config.Config) (store.Store, error) {
	if cfg.StateStorage.Type == "memory" {
		return store.NewMemoryStore(), nil
	}
	return store.NewMySQLStore(cfg.StateStorage.Connection)
}
