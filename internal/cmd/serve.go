package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/johandahlberg/arteria-delivery/internal/config"
	"github.com/johandahlberg/arteria-delivery/internal/observability"
	"github.com/johandahlberg/arteria-delivery/internal/server"
	"github.com/johandahlberg/arteria-delivery/internal/server/handlers"
	"github.com/johandahlberg/arteria-delivery/pkg/delivery"
	"github.com/johandahlberg/arteria-delivery/pkg/execservice"
	"github.com/johandahlberg/arteria-delivery/pkg/fileservice"
	"github.com/johandahlberg/arteria-delivery/pkg/mover"
	"github.com/johandahlberg/arteria-delivery/pkg/orderstore"
	"github.com/johandahlberg/arteria-delivery/pkg/runfolders"
	"github.com/johandahlberg/arteria-delivery/pkg/staging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the staging and delivery REST service",
	RunE:  runServe,
}

var (
	serveHost string
	servePort int
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "Override the configured listen host")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Override the configured listen port")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		observability.CLILogger.Error("Failed to load configuration", zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	if err := cfg.Validate(); err != nil {
		observability.CLILogger.Error("Configuration is incomplete", zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = serveHost
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = servePort
	}

	logger := observability.New(cfg.Logging.Level, cfg.Logging.JSON)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := orderstore.Open(ctx, orderstore.Config{Path: cfg.Store.Path})
	if err != nil {
		logger.Error("cannot open order store", zap.String("path", cfg.Store.Path), zap.Error(err))
		return exitError(foundry.ExitFileReadError, "Cannot open order store", err)
	}
	defer func() { _ = db.Close() }()

	if err := orderstore.Migrate(ctx, db); err != nil {
		logger.Error("cannot migrate order store", zap.Error(err))
		return exitError(foundry.ExitFileWriteError, "Cannot migrate order store", err)
	}
	store := orderstore.NewStore(db)

	fileService := fileservice.New()
	runfolderRepo := runfolders.NewRepository(cfg.Delivery.RunfolderDirectory, fileService)
	projectRepo := runfolders.NewGeneralProjectRepository(cfg.Delivery.GeneralProjectDirectory, fileService)

	stagingService := staging.NewService(cfg.Delivery.StagingDirectory,
		execservice.New(), store, fileService, logger)
	moverService := mover.NewService(cfg.Delivery.PathToMover,
		execservice.New(), execservice.New(), store, fileService, logger)
	deliveryService := delivery.NewService(stagingService, runfolderRepo, projectRepo,
		store, fileService, cfg.Delivery.ProjectLinksDirectory, logger)

	healthManager := handlers.InitHealthManager(versionInfo.Version)
	healthManager.RegisterChecker("order_store", store)

	srv := server.New(cfg.Server.Host, cfg.Server.Port, server.Deps{
		Delivery:   deliveryService,
		Mover:      moverService,
		Runfolders: runfolderRepo,
		Version:    versionInfo.Version,

		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})

	logger.Info("starting delivery service",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("runfolder_directory", cfg.Delivery.RunfolderDirectory),
		zap.String("staging_directory", cfg.Delivery.StagingDirectory),
		zap.String("path_to_mover", cfg.Delivery.PathToMover))

	if err := srv.ListenAndServe(ctx); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Server failed", err)
	}
	logger.Info("server stopped")
	return nil
}
