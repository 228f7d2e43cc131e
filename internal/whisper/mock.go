package whisper

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
)

// mockEngine produces deterministic output for development and tests.
// WAV inputs get their real decoded duration; everything else gets a
// fixed one-second clip.
type mockEngine struct{}

func NewMockEngine() Engine {
	return &mockEngine{}
}

func (m *mockEngine) Transcribe(_ context.Context, audioPath string, opts Options) (RawOutput, error) {
	duration := 1.0
	if strings.EqualFold(filepath.Ext(audioPath), ".wav") {
		d, err := wavDuration(audioPath)
		if err != nil {
			return RawOutput{}, fmt.Errorf("decode audio: %w", err)
		}
		duration = d
	}
	if duration <= 0 {
		return RawOutput{}, fmt.Errorf("decode audio: zero-length stream")
	}

	language := opts.Language
	if language == "" {
		language = "en"
	}
	text := fmt.Sprintf("mock %s of %s", opts.Task, filepath.Base(audioPath))

	// One segment per two seconds, last one clipped to the clip end.
	var segments []RawSegment
	for start := 0.0; start < duration; start += 2.0 {
		end := start + 2.0
		if end > duration {
			end = duration
		}
		segments = append(segments, RawSegment{
			Start:      start,
			End:        end,
			Text:       text,
			AvgLogProb: -0.25,
		})
	}

	return RawOutput{
		Language:            language,
		LanguageProbability: 0.93,
		Duration:            duration,
		Segments:            segments,
	}, nil
}

func wavDuration(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return 0, fmt.Errorf("not a valid wav file")
	}
	d, err := dec.Duration()
	if err != nil {
		return 0, err
	}
	return d.Seconds(), nil
}
