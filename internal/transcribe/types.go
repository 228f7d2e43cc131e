package transcribe

import "github.com/murmurlabs/whisperd/internal/whisper"

// Request is one transcription job over an already-staged file.
type Request struct {
	StagedPath string
	Language   string // ISO 639-1 hint, empty = auto-detect
	Task       whisper.Task
}

// Segment timestamps are seconds. Confidence stays on the model's
// native log-probability scale.
type Segment struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Result is the public response schema. The field set is fixed here
// regardless of what the inference backend natively returns.
type Result struct {
	Text                string    `json:"text"`
	Language            string    `json:"language"`
	LanguageProbability float64   `json:"language_probability"`
	Duration            float64   `json:"duration"`
	ProcessingTime      float64   `json:"processing_time"`
	Segments            []Segment `json:"segments"`
	Task                string    `json:"task"`
}
