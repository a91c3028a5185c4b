package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/network/netpoll"
	"github.com/spf13/cobra"

	"github.com/optimiscs/ZhimoWanxiang/internal/config"
	"github.com/optimiscs/ZhimoWanxiang/internal/handler"
	infradb "github.com/optimiscs/ZhimoWanxiang/internal/infrastructure/database"
	"github.com/optimiscs/ZhimoWanxiang/internal/infrastructure/llm"
	"github.com/optimiscs/ZhimoWanxiang/internal/router"
	"github.com/optimiscs/ZhimoWanxiang/internal/usecase"
	dbpkg "github.com/optimiscs/ZhimoWanxiang/pkg/database"
	"github.com/optimiscs/ZhimoWanxiang/pkg/logger"
)

var (
	cfgFile string
	version = "0.1.0"
)

var rootCmd = &cobra.Command{
	Use:   "wanxiang-server",
	Short: "Chat backend for the Wanxiang opinion monitoring dashboard",
	Long: `wanxiang-server is the HTTP backend behind the Wanxiang dashboard.
It serves authenticated chat sessions, SSE reply streams backed by an
OpenAI-compatible model upstream, and background opinion analysis tasks.`,
	Version: version,
	Run:     runServer,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "configs/config.yaml", "path to config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func runServer(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := logger.Setup(cfg.Log); err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}

	slog.Info("config loaded successfully", "config_file", cfgFile)
	slog.Info("wanxiang server starting...",
		"version", version,
		"config", cfgFile,
	)

	// Route Hertz internals through slog
	hertzLogger := logger.NewHertzSlogAdapter(slog.Default())
	hlog.SetLogger(hertzLogger)
	hlog.SetLevel(hlog.LevelDebug)

	// Initialize storage
	dbClient, err := dbpkg.NewClient(cfg.Database, slog.Default())
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}

	slog.Info("database opened successfully", "path", cfg.Database.Path)

	// Model upstream
	modelClient, err := llm.NewClient(cfg.Model, slog.Default())
	if err != nil {
		slog.Error("failed to create model client", "error", err)
		os.Exit(1)
	}

	// Repositories
	userRepo := infradb.NewUserRepository(dbClient)
	sessionRepo := infradb.NewSessionRepository(dbClient)
	messageRepo := infradb.NewMessageRepository(dbClient)

	// Usecases
	userUsecase := usecase.NewUserUsecase(userRepo, slog.Default())
	chatUsecase := usecase.NewChatUsecase(modelClient, sessionRepo, messageRepo, userRepo, slog.Default())
	taskUsecase := usecase.NewTaskUsecase(modelClient, slog.Default())

	// Handlers
	userHandler := handler.NewUserHandler(userUsecase, cfg.JWT.Secret, slog.Default())
	chatHandler := handler.NewChatHandler(chatUsecase, slog.Default())
	taskHandler := handler.NewTaskHandler(taskUsecase, slog.Default())
	healthHandler := handler.NewHealthHandler(dbClient)

	slog.Info("handlers initialized")

	h := server.Default(
		server.WithHostPorts(cfg.GetServerAddr()),
		server.WithReadTimeout(cfg.GetReadTimeout()),
		server.WithWriteTimeout(cfg.GetWriteTimeout()),
		server.WithMaxRequestBodySize(cfg.Server.MaxRequestBodySize*1024*1024),
		server.WithTransport(netpoll.NewTransporter),
	)

	router.Setup(h, userHandler, chatHandler, taskHandler, healthHandler)

	slog.Info("server started successfully",
		"address", cfg.GetServerAddr(),
		"mode", cfg.Server.Mode,
	)

	go func() {
		if err := h.Run(); err != nil {
			slog.Error("server run failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := h.Shutdown(ctx); err != nil {
		slog.Error("server shutdown failed", "error", err)
		os.Exit(1)
	}

	if err := dbClient.Close(); err != nil {
		slog.Error("failed to close database", "error", err)
	} else {
		slog.Info("database closed successfully")
	}

	slog.Info("server stopped gracefully")
}
