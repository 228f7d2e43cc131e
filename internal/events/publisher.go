package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/murmurlabs/whisperd/internal/config"
	"github.com/murmurlabs/whisperd/internal/transcribe"
)

// Publisher emits completed-transcription events to NATS. It is
// fire-and-forget: publish errors are logged and never fail the
// request that produced them.
type Publisher struct {
	conn    *nats.Conn
	subject string
	log     *slog.Logger
}

type transcriptionEvent struct {
	ID           string    `json:"id"`
	Language     string    `json:"language"`
	Task         string    `json:"task"`
	Duration     float64   `json:"duration"`
	SegmentCount int       `json:"segment_count"`
	ElapsedMS    int64     `json:"elapsed_ms"`
	Timestamp    time.Time `json:"timestamp"`
}

func Connect(cfg config.EventsConfig, log *slog.Logger) (*Publisher, error) {
	options := []nats.Option{
		nats.Name("whisperd"),
		nats.Timeout(time.Duration(cfg.ConnectTimeout) * time.Millisecond),
	}
	if cfg.Username != "" || cfg.Password != "" {
		options = append(options, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}

	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	log.Info("connected to NATS", slog.String("servers", url), slog.String("subject", cfg.Subject))

	return &Publisher{
		conn:    conn,
		subject: cfg.Subject,
		log:     log,
	}, nil
}

// TranscriptionCompleted implements transcribe.Notifier. The event
// carries metadata only, never the transcript text.
func (p *Publisher) TranscriptionCompleted(_ context.Context, result transcribe.Result, elapsed time.Duration) {
	event := transcriptionEvent{
		ID:           uuid.NewString(),
		Language:     result.Language,
		Task:         result.Task,
		Duration:     result.Duration,
		SegmentCount: len(result.Segments),
		ElapsedMS:    elapsed.Milliseconds(),
		Timestamp:    time.Now().UTC(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn("failed to marshal transcription event", slog.String("error", err.Error()))
		return
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		p.log.Warn("failed to publish transcription event", slog.String("error", err.Error()))
	}
}

func (p *Publisher) Close() {
	if p == nil {
		return
	}
	p.log.Info("closing NATS connection")
	_ = p.conn.Drain()
	p.conn.Close()
}

func (p *Publisher) Healthy() bool {
	return p != nil && p.conn != nil && p.conn.Status() == nats.CONNECTED
}
