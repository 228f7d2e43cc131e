package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/murmurlabs/whisperd/internal/config"
	"github.com/murmurlabs/whisperd/internal/device"
	"github.com/murmurlabs/whisperd/internal/whisper"
)

type stubEngine struct {
	fn func(ctx context.Context, path string, opts whisper.Options) (whisper.RawOutput, error)
}

func (s *stubEngine) Transcribe(ctx context.Context, path string, opts whisper.Options) (whisper.RawOutput, error) {
	return s.fn(ctx, path, opts)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() config.WhisperConfig {
	cfg := config.Default().Whisper
	cfg.Mode = "mock"
	cfg.TimeoutMS = 200
	return cfg
}

func serviceWithEngine(cfg config.WhisperConfig, engine whisper.Engine) *Service {
	cache := whisper.NewCache(func(ctx context.Context, size string, dev device.Config) (whisper.Engine, error) {
		return engine, nil
	})
	dev := device.Config{Backend: device.BackendCPU, Precision: device.PrecisionInt8}
	return NewService(cfg, dev, cache, testLogger(), nil)
}

func TestTranscribeHappyPath(t *testing.T) {
	engine := &stubEngine{fn: func(ctx context.Context, path string, opts whisper.Options) (whisper.RawOutput, error) {
		return whisper.RawOutput{
			Language:            "en",
			LanguageProbability: 0.95,
			Duration:            3.5,
			Segments: []whisper.RawSegment{
				{Start: 0, End: 3.5, Text: "hello world", AvgLogProb: -0.2},
			},
		}, nil
	}}
	svc := serviceWithEngine(testConfig(), engine)

	if svc.ModelLoaded() {
		t.Fatal("model must not be loaded before the first request")
	}

	res, err := svc.Transcribe(context.Background(), Request{StagedPath: "clip.wav", Task: whisper.TaskTranscribe})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "hello world" {
		t.Fatalf("unexpected text %q", res.Text)
	}
	if res.Duration != 3.5 {
		t.Fatalf("unexpected duration %v", res.Duration)
	}
	if res.LanguageProbability <= 0 || res.LanguageProbability > 1 {
		t.Fatalf("probability out of range: %v", res.LanguageProbability)
	}
	if res.Task != "transcribe" {
		t.Fatalf("unexpected task echo %q", res.Task)
	}
	if !svc.ModelLoaded() {
		t.Fatal("model should be cached after the first request")
	}
}

func TestTranscribeTimeout(t *testing.T) {
	engine := &stubEngine{fn: func(ctx context.Context, path string, opts whisper.Options) (whisper.RawOutput, error) {
		<-ctx.Done()
		return whisper.RawOutput{}, ctx.Err()
	}}
	cfg := testConfig()
	cfg.TimeoutMS = 20
	svc := serviceWithEngine(cfg, engine)

	_, err := svc.Transcribe(context.Background(), Request{StagedPath: "clip.wav", Task: whisper.TaskTranscribe})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestTranscribeModelUnavailable(t *testing.T) {
	cache := whisper.NewCache(func(ctx context.Context, size string, dev device.Config) (whisper.Engine, error) {
		return nil, fmt.Errorf("weights download failed")
	})
	dev := device.Config{Backend: device.BackendCPU, Precision: device.PrecisionInt8}
	svc := NewService(testConfig(), dev, cache, testLogger(), nil)

	_, err := svc.Transcribe(context.Background(), Request{StagedPath: "clip.wav", Task: whisper.TaskTranscribe})
	if !errors.Is(err, whisper.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if svc.ModelLoaded() {
		t.Fatal("failed load must not mark the model as cached")
	}
}

func TestTranscribeInferenceFailure(t *testing.T) {
	engine := &stubEngine{fn: func(ctx context.Context, path string, opts whisper.Options) (whisper.RawOutput, error) {
		return whisper.RawOutput{}, fmt.Errorf("corrupt stream")
	}}
	svc := serviceWithEngine(testConfig(), engine)

	_, err := svc.Transcribe(context.Background(), Request{StagedPath: "clip.wav", Task: whisper.TaskTranscribe})
	if !errors.Is(err, ErrInference) {
		t.Fatalf("expected ErrInference, got %v", err)
	}
}

func TestTranscribeCancelledCaller(t *testing.T) {
	engine := &stubEngine{fn: func(ctx context.Context, path string, opts whisper.Options) (whisper.RawOutput, error) {
		<-ctx.Done()
		return whisper.RawOutput{}, ctx.Err()
	}}
	svc := serviceWithEngine(testConfig(), engine)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := svc.Transcribe(ctx, Request{StagedPath: "clip.wav", Task: whisper.TaskTranscribe})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestTranscribeBoundsConcurrentInference(t *testing.T) {
	var inFlight atomic.Int64
	var peak atomic.Int64
	gate := make(chan struct{})

	engine := &stubEngine{fn: func(ctx context.Context, path string, opts whisper.Options) (whisper.RawOutput, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-gate
		inFlight.Add(-1)
		return whisper.RawOutput{Language: "en", Duration: 1}, nil
	}}

	cfg := testConfig()
	cfg.Workers = 2
	cfg.TimeoutMS = 5000
	svc := serviceWithEngine(cfg, engine)

	const requests = 6
	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.Transcribe(context.Background(), Request{StagedPath: "clip.wav", Task: whisper.TaskTranscribe})
		}()
	}

	// Give the pool time to saturate before opening the gate.
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	if got := peak.Load(); got > 2 {
		t.Fatalf("expected at most 2 concurrent inferences, saw %d", got)
	}
}

func TestTranscribeSerializedDispatch(t *testing.T) {
	var inFlight atomic.Int64
	engine := &stubEngine{fn: func(ctx context.Context, path string, opts whisper.Options) (whisper.RawOutput, error) {
		if inFlight.Add(1) > 1 {
			t.Error("engine invoked concurrently despite serialize=true")
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return whisper.RawOutput{Language: "en", Duration: 1}, nil
	}}

	cfg := testConfig()
	cfg.Workers = 4
	cfg.Serialize = true
	svc := serviceWithEngine(cfg, engine)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Transcribe(context.Background(), Request{StagedPath: "clip.wav", Task: whisper.TaskTranscribe}); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
}
