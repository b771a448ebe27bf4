package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/substratehq/substrate/access"
	"github.com/substratehq/substrate/call"
	"github.com/substratehq/substrate/call/builtin"
	"github.com/substratehq/substrate/call/script"
	"github.com/substratehq/substrate/config"
	"github.com/substratehq/substrate/internal/vpath"
	"github.com/substratehq/substrate/server"
	"github.com/substratehq/substrate/sessions"
	"github.com/substratehq/substrate/storage"
	"github.com/substratehq/substrate/storage/localfs"
	"github.com/substratehq/substrate/storage/memory"
	"github.com/substratehq/substrate/storage/postgres"
	"github.com/substratehq/substrate/storage/s3"
	"github.com/substratehq/substrate/storage/sqlite"
	"github.com/substratehq/substrate/users"
)

var rootCmd = &cobra.Command{
	Use:   "substrate",
	Short: "Substrate - embeddable application platform",
	Long: `Substrate is an embeddable application platform built around a layered
path-addressed storage tree, a role-based permission engine and a
procedure invocation engine.`,
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the substrate server",
	Long:  "Start the substrate server with the configured storage mounts and API endpoints",
	RunE:  runServer,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  "Validate the substrate configuration and display the loaded settings",
	RunE:  validateConfig,
}

var configFilePath string

func main() {
	serverCmd.Flags().StringVarP(&configFilePath, "config", "c", "", "Path to configuration file")

	configCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(serverCmd, configCmd)

	// If no command specified, default to server
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "server")
	}

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

// runServer starts the substrate server
func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigFromFile(configFilePath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := initializeLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		if err := logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to sync logger: %v\n", err)
		}
	}()

	logger.Info("Starting substrate server",
		zap.String("listen_addr", cfg.Server.ListenAddr),
		zap.Int("mounts", len(cfg.Mounts)))

	// Assemble the virtual store from the configured mounts.
	store := storage.New(logger)
	defer func() {
		for _, m := range store.Mounts() {
			if err := m.Layer.Close(); err != nil {
				logger.Warn("Failed to close storage layer", zap.Error(err))
			}
		}
	}()
	for i, mc := range cfg.Mounts {
		layer, err := buildLayer(mc, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize mount %d (%s at %s): %w", i, mc.Type, mc.Prefix, err)
		}
		mount := storage.Mount{
			Prefix:   vpath.MustParse(mc.Prefix),
			Priority: mc.Priority,
			Layer:    layer,
			Writable: mc.Writable,
			Source:   fmt.Sprintf("config:%s", mc.Type),
		}
		if err := store.AddMount(mount); err != nil {
			return fmt.Errorf("failed to attach mount %d: %w", i, err)
		}
		logger.Info("Storage layer mounted",
			zap.String("prefix", mc.Prefix),
			zap.String("type", mc.Type),
			zap.Int("priority", mc.Priority),
			zap.Bool("writable", mc.Writable))
	}

	// Session store.
	var sessionManager sessions.Manager
	switch cfg.Sessions.Store {
	case "redis":
		sessionManager, err = sessions.NewRedisManager(
			cfg.Sessions.RedisAddr, cfg.Sessions.RedisPassword,
			"substrate:session:", cfg.Sessions.MaxIdle, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize redis session store: %w", err)
		}
	default:
		sessionManager = sessions.NewMemoryManager()
	}
	defer sessionManager.Close()

	// The sweeper only matters for stores without server-side expiry.
	if cfg.Sessions.Store == "memory" && cfg.Sessions.SweepInterval > 0 {
		sweeper, err := sessions.StartSweeper(sessionManager, cfg.Sessions.SweepInterval, cfg.Sessions.MaxIdle, logger)
		if err != nil {
			return fmt.Errorf("failed to start session sweeper: %w", err)
		}
		defer sweeper.Stop()
	}

	// Access engine over stored roles; the call chain feeds "via" grants.
	roleSource := access.NewStoreRoleSource(store)
	authorizer := access.NewAuthorizer(roleSource, call.ChainNames, cfg.Access.AnonymousRoles, logger)

	userSvc := users.NewService(store, logger)

	// Invocation engine: builtins plus stored script procedures.
	library := call.NewLibrary()
	executor := call.NewExecutor(library, authorizer, logger)
	executor.SetMaxDelay(cfg.Call.MaxDelay)
	builtin.Register(library, builtin.Deps{Store: store, Authorizer: authorizer, Logger: logger})
	resolver := script.NewResolver(store, executor, logger)
	resolver.SetTimeout(cfg.Call.ScriptTimeout)
	library.SetResolver(resolver)

	router := server.NewRouter(store, authorizer, executor, sessionManager, userSvc, &cfg.Server, logger)

	srv := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		var err error
		if cfg.Server.CertFile != "" && cfg.Server.KeyFile != "" {
			logger.Info("Starting HTTPS server", zap.String("addr", cfg.Server.ListenAddr))
			err = srv.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			logger.Info("Starting HTTP server", zap.String("addr", cfg.Server.ListenAddr))
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
		return err
	}

	logger.Info("Server exited gracefully")
	return nil
}

// buildLayer constructs the backing layer for one configured mount.
func buildLayer(mc config.MountConfig, logger *zap.Logger) (storage.Layer, error) {
	switch mc.Type {
	case "memory":
		return memory.New(), nil
	case "localfs":
		return localfs.New(mc.Path, !mc.Writable)
	case "sqlite":
		return sqlite.New(mc.Path, logger)
	case "postgres":
		return postgres.New(mc.DSN, logger)
	case "s3":
		return s3.New(s3.Config{
			AccessKey: mc.S3AccessKey,
			SecretKey: mc.S3SecretKey,
			Region:    mc.S3Region,
			Bucket:    mc.S3Bucket,
			Endpoint:  mc.S3Endpoint,
			KeyPrefix: mc.S3KeyPrefix,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown mount type %q", mc.Type)
	}
}

// validateConfig validates the substrate configuration and displays settings
func validateConfig(cmd *cobra.Command, args []string) error {
	fmt.Println("Validating configuration...")

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Configuration validation failed: %v\n", err)
		return err
	}

	fmt.Println("Configuration is valid")
	fmt.Printf("Listen Address: %s\n", cfg.Server.ListenAddr)
	fmt.Printf("Session Store: %s\n", cfg.Sessions.Store)
	fmt.Printf("Mounts:\n")
	for _, m := range cfg.Mounts {
		fmt.Printf("  %s -> %s (priority %d, writable %t)\n", m.Prefix, m.Type, m.Priority, m.Writable)
	}

	return nil
}

// initializeLogger creates a zap logger based on configuration
func initializeLogger(logCfg config.LogConfig) (*zap.Logger, error) {
	var cfg zap.Config

	if logCfg.Format == "json" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}

	switch logCfg.Level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}
