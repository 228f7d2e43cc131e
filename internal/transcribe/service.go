package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/murmurlabs/whisperd/internal/config"
	"github.com/murmurlabs/whisperd/internal/device"
	"github.com/murmurlabs/whisperd/internal/whisper"
)

// Notifier receives completed transcriptions. Implementations must not
// fail the request.
type Notifier interface {
	TranscriptionCompleted(ctx context.Context, result Result, elapsed time.Duration)
}

// Service is the request orchestrator: it holds the resolved device
// config, obtains the cached model, bounds concurrent inference, and
// normalizes the output.
type Service struct {
	cfg      config.WhisperConfig
	dev      device.Config
	cache    *whisper.Cache
	logger   *slog.Logger
	notifier Notifier

	// slots bounds concurrent model invocations.
	slots chan struct{}
	// engineMu serializes inference when the engine does not support
	// concurrent calls against one loaded model.
	engineMu sync.Mutex

	tracer   trace.Tracer
	requests metric.Int64Counter
	latency  metric.Float64Histogram
}

func NewService(cfg config.WhisperConfig, dev device.Config, cache *whisper.Cache, logger *slog.Logger, notifier Notifier) *Service {
	meter := otel.Meter("whisperd/transcribe")
	requests, err := meter.Int64Counter("whisperd.transcribe.requests",
		metric.WithDescription("Transcription requests by outcome"))
	if err != nil {
		logger.Warn("failed to create request counter", slog.String("error", err.Error()))
	}
	latency, err := meter.Float64Histogram("whisperd.transcribe.duration_seconds",
		metric.WithDescription("Wall-clock transcription duration"),
		metric.WithUnit("s"))
	if err != nil {
		logger.Warn("failed to create latency histogram", slog.String("error", err.Error()))
	}

	return &Service{
		cfg:      cfg,
		dev:      dev,
		cache:    cache,
		logger:   logger,
		notifier: notifier,
		slots:    make(chan struct{}, cfg.Workers),
		tracer:   otel.Tracer("whisperd/transcribe"),
		requests: requests,
		latency:  latency,
	}
}

// Device returns the resolved compute configuration.
func (s *Service) Device() device.Config {
	return s.dev
}

// ModelLoaded reports whether the configured model is cached. Cheap;
// never triggers a load.
func (s *Service) ModelLoaded() bool {
	return s.cache.Loaded(s.cfg.ModelSize, s.dev)
}

// Transcribe runs one job end to end. The staged file's lifetime is
// owned by the caller; this method never deletes it.
func (s *Service) Transcribe(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "transcribe",
		trace.WithAttributes(
			attribute.String("task", string(req.Task)),
			attribute.String("language_hint", req.Language),
			attribute.String("model_size", s.cfg.ModelSize),
			attribute.String("device", string(s.dev.Backend)),
		))
	defer span.End()

	select {
	case s.slots <- struct{}{}:
		defer func() { <-s.slots }()
	case <-ctx.Done():
		s.record(ctx, start, "cancelled")
		return Result{}, ctx.Err()
	}

	handle, err := s.cache.GetOrLoad(ctx, s.cfg.ModelSize, s.dev)
	if err != nil {
		s.record(ctx, start, "unavailable")
		return Result{}, err
	}

	inferCtx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.TimeoutMS)*time.Millisecond)
	defer cancel()

	raw, err := s.invoke(inferCtx, handle.Engine, req)
	if err != nil {
		if errors.Is(inferCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			s.record(ctx, start, "timeout")
			return Result{}, fmt.Errorf("%w after %dms", ErrTimeout, s.cfg.TimeoutMS)
		}
		if ctx.Err() != nil {
			s.record(ctx, start, "cancelled")
			return Result{}, ctx.Err()
		}
		s.record(ctx, start, "inference_failure")
		return Result{}, fmt.Errorf("%w: %v", ErrInference, err)
	}

	result := Normalize(raw, req)
	elapsed := time.Since(start)
	result.ProcessingTime = round2(elapsed.Seconds())

	s.record(ctx, start, "ok")
	s.logger.Info("transcription completed",
		slog.String("language", result.Language),
		slog.String("task", result.Task),
		slog.Float64("audio_seconds", result.Duration),
		slog.Float64("processing_seconds", result.ProcessingTime),
		slog.Int("segments", len(result.Segments)))

	if s.notifier != nil {
		s.notifier.TranscriptionCompleted(ctx, result, elapsed)
	}
	return result, nil
}

func (s *Service) invoke(ctx context.Context, engine whisper.Engine, req Request) (whisper.RawOutput, error) {
	if s.cfg.Serialize {
		s.engineMu.Lock()
		defer s.engineMu.Unlock()
	}
	return engine.Transcribe(ctx, req.StagedPath, whisper.Options{
		Language: req.Language,
		Task:     req.Task,
	})
}

func (s *Service) record(ctx context.Context, start time.Time, outcome string) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	if s.requests != nil {
		s.requests.Add(ctx, 1, attrs)
	}
	if s.latency != nil {
		s.latency.Record(ctx, time.Since(start).Seconds(), attrs)
	}
}
