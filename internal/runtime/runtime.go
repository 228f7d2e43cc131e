package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/murmurlabs/whisperd/internal/config"
	"github.com/murmurlabs/whisperd/internal/device"
	"github.com/murmurlabs/whisperd/internal/events"
	"github.com/murmurlabs/whisperd/internal/server"
	"github.com/murmurlabs/whisperd/internal/staging"
	"github.com/murmurlabs/whisperd/internal/transcribe"
	"github.com/murmurlabs/whisperd/internal/whisper"
)

// Runtime wires the service together and owns its lifecycle.
type Runtime struct {
	cfg            config.Config
	logger         *slog.Logger
	httpServer     *http.Server
	publisher      *events.Publisher
	telemetryClose func(context.Context) error
	wg             sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetryClose = shutdownTelemetry

	dev := r.resolveDevice(ctx)
	r.logger.Info("device resolved",
		slog.String("backend", string(dev.Backend)),
		slog.String("precision", string(dev.Precision)),
		slog.String("model_size", r.cfg.Whisper.ModelSize))

	stager, err := staging.NewStager(r.cfg.Staging.Dir, int64(r.cfg.Staging.MaxUploadMB)<<20)
	if err != nil {
		return fmt.Errorf("failed to create upload stager: %w", err)
	}

	var notifier transcribe.Notifier
	if r.cfg.Events.Enabled {
		publisher, err := events.Connect(r.cfg.Events, r.logger)
		if err != nil {
			return fmt.Errorf("failed to connect event publisher: %w", err)
		}
		r.publisher = publisher
		notifier = publisher
	}

	cache := whisper.NewCache(loaderFor(r.cfg.Whisper))
	svc := transcribe.NewService(r.cfg.Whisper, dev, cache, r.logger, notifier)
	srv := server.New(stager, svc, r.logger, int64(r.cfg.Staging.MaxUploadMB)<<20)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(metricsHandler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	r.publisher.Close()

	if r.telemetryClose != nil {
		if err := r.telemetryClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

// resolveDevice runs the hardware probe exactly once at startup. An
// explicit whisper.device setting skips probing.
func (r *Runtime) resolveDevice(ctx context.Context) device.Config {
	if r.cfg.Whisper.Device != "auto" {
		return device.ForBackend(device.Backend(r.cfg.Whisper.Device))
	}
	return device.NewResolver().Resolve(ctx)
}

func loaderFor(cfg config.WhisperConfig) whisper.LoadFunc {
	return func(ctx context.Context, size string, dev device.Config) (whisper.Engine, error) {
		if cfg.Mode == "mock" {
			return whisper.NewMockEngine(), nil
		}
		engineCfg := cfg
		engineCfg.ModelSize = size
		engine, err := whisper.NewExecEngine(engineCfg, dev)
		if err != nil {
			return nil, err
		}
		if preloader, ok := engine.(whisper.Preloader); ok {
			if err := preloader.Preload(ctx); err != nil {
				return nil, err
			}
		}
		return engine, nil
	}
}
