package whisper

import (
	"context"
	"errors"
)

// Task selects what the model produces: a transcript in the source
// language, or an English translation of it.
type Task string

const (
	TaskTranscribe Task = "transcribe"
	TaskTranslate  Task = "translate"
)

// ErrUnavailable indicates the model could not be loaded or the
// selected device became unusable. Safe to retry later.
var ErrUnavailable = errors.New("model unavailable")

// Options carries the per-request inference parameters.
type Options struct {
	// Language is an ISO 639-1 hint. Empty means auto-detect.
	Language string
	Task     Task
}

// RawSegment is one time-bounded span as the model reports it.
// Timestamps are seconds; AvgLogProb is the model-native confidence.
type RawSegment struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	AvgLogProb float64 `json:"avg_logprob"`
}

// RawOutput is the engine-native result before normalization.
// Duration is the decoded audio length, which may exceed the last
// segment's end when trailing silence is trimmed.
type RawOutput struct {
	Language            string       `json:"language"`
	LanguageProbability float64      `json:"language_probability"`
	Duration            float64      `json:"duration"`
	Segments            []RawSegment `json:"segments"`
}

// Engine abstracts the speech model. Given a staged audio file and
// options it returns segments; everything else about the model is
// opaque to this service.
type Engine interface {
	Transcribe(ctx context.Context, audioPath string, opts Options) (RawOutput, error)
}

// Preloader is implemented by engines that can fetch model weights
// ahead of the first transcription.
type Preloader interface {
	Preload(ctx context.Context) error
}
