package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/lessonlab/codecamp"
	"github.com/lessonlab/codecamp/internal/config"
	"github.com/lessonlab/codecamp/servers/tutor"
)

const serverInstructions = `Use list_courses to see what can be learned here, course_details to see a
course's lessons, start_lesson to fetch an exercise, and check_work to get
the student's code graded with hints and rewards.`

func serveCmd() *cobra.Command {
	var configPath string
	var useStdIO bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the tutoring server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Missing .env is the normal case outside development.
			_ = godotenv.Load()

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			if useStdIO {
				return serveStdIO(cfg)
			}
			return serveSSE(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to a TOML config file")
	cmd.Flags().BoolVar(&useStdIO, "stdio", false, "serve a single session over stdin/stdout")

	return cmd
}

func newLogger(cfg *config.Config, w *os.File) *slog.Logger {
	level, _ := cfg.SlogLevel()
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

func newTutorServer(cfg *config.Config) (tutor.Server, error) {
	store, err := tutor.NewStore()
	if err != nil {
		return tutor.Server{}, fmt.Errorf("failed to load course content: %w", err)
	}
	return tutor.NewServer(store, tutor.WithMaxSubmissionLength(cfg.MaxSubmissionLength)), nil
}

func serveSSE(ctx context.Context, cfg *config.Config) error {
	logger := newLogger(cfg, os.Stderr)

	tutorSrv, err := newTutorServer(cfg)
	if err != nil {
		return err
	}

	transport := codecamp.NewSSEServer(cfg.MessagePath,
		codecamp.WithSSEServerIdleTimeout(cfg.SessionIdleTimeout.Duration),
		codecamp.WithSSEServerLogger(logger),
	)

	srv := codecamp.NewServer(codecamp.Info{Name: "codecamp", Version: "1.0.0"}, transport,
		codecamp.WithToolServer(tutorSrv),
		codecamp.WithResourceServer(tutorSrv),
		codecamp.WithInstructions(serverInstructions),
		codecamp.WithServerLogger(logger),
	)
	go srv.Serve()

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Handle(cfg.StreamPath, transport.HandleSSE())
	r.Handle(cfg.MessagePath, transport.HandleMessage())

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		// The SSE stream stays open indefinitely, so no write timeout.
		WriteTimeout: 0,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 1)
	go func() {
		logger.Info("server started",
			slog.String("addr", httpSrv.Addr),
			slog.String("streamPath", cfg.StreamPath),
			slog.String("messagePath", cfg.MessagePath))
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", slog.String("err", err.Error()))
	}
	return srv.Shutdown(shutdownCtx)
}

func serveStdIO(cfg *config.Config) error {
	// Stdout carries the protocol, so logs go to stderr only.
	logger := newLogger(cfg, os.Stderr)

	tutorSrv, err := newTutorServer(cfg)
	if err != nil {
		return err
	}

	transport := codecamp.NewStdIO(os.Stdin, os.Stdout)
	srv := codecamp.NewServer(codecamp.Info{Name: "codecamp", Version: "1.0.0"}, transport,
		codecamp.WithToolServer(tutorSrv),
		codecamp.WithResourceServer(tutorSrv),
		codecamp.WithInstructions(serverInstructions),
		codecamp.WithServerLogger(logger),
	)

	// Serve returns when stdin reaches EOF and the session stops.
	srv.Serve()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
