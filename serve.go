package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"tasklane/api"
	"tasklane/attachments"
	"tasklane/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and run the reminder scheduler",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func serve(ctx context.Context, cfg config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	auth, err := newAuth(cfg.Auth)
	if err != nil {
		return err
	}
	files, err := attachments.NewFS(cfg.Attachment.Dir, cfg.Attachment.MaxSize)
	if err != nil {
		return err
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	e.Use(echoprometheus.NewMiddleware("tasklane"))
	e.GET("/metrics", echoprometheus.NewHandler())
	api.Register(e, api.Deps{
		Tasks:     a.service,
		Files:     files,
		Auth:      auth,
		Directory: a.store,
		Logger:    a.logger,
	})

	var background func(context.Context)
	if cfg.Reminder.Enabled {
		background = a.scheduler.Start
	}
	return runUntilDone(ctx, func() error { return e.Start(":" + cfg.ListenPort) }, e.Shutdown, background)
}

// runUntilDone runs start and background until ctx ends or start fails. Either
// way background is cancelled, the server is shut down, and background has
// returned before runUntilDone does.
func runUntilDone(ctx context.Context, start func() error, shutdown func(context.Context) error, background func(context.Context)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	backgroundDone := make(chan struct{})
	if background != nil {
		go func() {
			defer close(backgroundDone)
			background(ctx)
		}()
	} else {
		close(backgroundDone)
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- start()
	}()

	var runErr error
	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("http server stopped")
			runErr = err
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}
	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	<-backgroundDone
	return runErr
}

func newAuth(cfg config.Auth) (*api.Auth, error) {
	if cfg.LocalMode {
		return api.NewLocalAuth([]byte(cfg.LocalSecret), cfg.LocalAudience, cfg.LocalIssuer), nil
	}
	jwks, err := keyfunc.Get("https://"+cfg.Domain+"/.well-known/jwks.json", keyfunc.Options{})
	if err != nil {
		return nil, err
	}
	return api.NewAuth(jwks, cfg.Audience, "https://"+cfg.Domain+"/"), nil
}
