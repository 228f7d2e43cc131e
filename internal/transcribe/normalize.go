package transcribe

import (
	"math"
	"strings"

	"github.com/murmurlabs/whisperd/internal/whisper"
)

// Normalize maps engine-native output onto the public schema. Segment
// timestamps and confidence pass through (rounded, not rescaled); the
// aggregate text is the trimmed segment texts joined by single spaces;
// duration comes from the decoded audio length, not the last segment's
// end. A supplied language hint is echoed with probability 1.0.
func Normalize(raw whisper.RawOutput, req Request) Result {
	segments := make([]Segment, 0, len(raw.Segments))
	var text strings.Builder
	for _, s := range raw.Segments {
		trimmed := strings.TrimSpace(s.Text)
		segments = append(segments, Segment{
			Start:      round2(s.Start),
			End:        round2(s.End),
			Text:       trimmed,
			Confidence: round3(s.AvgLogProb),
		})
		if trimmed != "" {
			if text.Len() > 0 {
				text.WriteByte(' ')
			}
			text.WriteString(trimmed)
		}
	}

	language := raw.Language
	probability := round3(raw.LanguageProbability)
	if req.Language != "" {
		language = req.Language
		probability = 1.0
	}

	return Result{
		Text:                text.String(),
		Language:            language,
		LanguageProbability: probability,
		Duration:            round2(raw.Duration),
		Segments:            segments,
		Task:                string(req.Task),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
