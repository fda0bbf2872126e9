package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/kawafuchieirin/app-prototype/internal/config"
	"github.com/kawafuchieirin/app-prototype/internal/database"
	"github.com/kawafuchieirin/app-prototype/internal/logging"
	"github.com/kawafuchieirin/app-prototype/internal/repositories"
	"github.com/kawafuchieirin/app-prototype/internal/routes"
	"github.com/kawafuchieirin/app-prototype/internal/services"
)

const shutdownTimeout = 10 * time.Second

type loadFunc func() (*config.Settings, error)

func newServeCmd(load loadFunc) *cobra.Command {
	var (
		port  string
		debug bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := load()
			if err != nil {
				return err
			}
			// フラグは環境変数より優先する
			if cmd.Flags().Changed("port") {
				settings.Port = port
			}
			if cmd.Flags().Changed("debug") {
				settings.Debug = debug
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, settings)
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "port to listen on (overrides PORT)")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging and gin debug mode")
	return cmd
}

func serve(ctx context.Context, settings *config.Settings) error {
	logger := logging.New(os.Stderr, settings.Debug)
	if settings.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	client, err := database.NewClient(ctx, settings, logger)
	if err != nil {
		return err
	}

	// リポジトリ
	todoRepo := repositories.NewTodoRepository(client, settings.DynamoDBTableName)

	// サービス
	todoService := services.NewTodoService(todoRepo)
	verifier := services.NewTokenVerifier(settings, logger)

	r := routes.SetupRouter(routes.Dependencies{
		Settings:    settings,
		Logger:      logger,
		TodoService: todoService,
		Verifier:    verifier,
		DB:          todoRepo,
	})

	srv := &http.Server{
		Addr:              net.JoinHostPort("", settings.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr, "version", settings.AppVersion, "table", settings.DynamoDBTableName)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server stopped: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
