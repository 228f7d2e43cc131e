package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/murmurlabs/whisperd/internal/staging"
	"github.com/murmurlabs/whisperd/internal/transcribe"
	"github.com/murmurlabs/whisperd/internal/whisper"
)

// multipartOverhead leaves room for the form framing around the file
// part when bounding the request body.
const multipartOverhead = 64 << 10

// Server owns the HTTP surface: health endpoints and the single
// transcription endpoint.
type Server struct {
	stager         *staging.Stager
	svc            *transcribe.Service
	logger         *slog.Logger
	maxUploadBytes int64
}

func New(stager *staging.Stager, svc *transcribe.Service, logger *slog.Logger, maxUploadBytes int64) *Server {
	return &Server{
		stager:         stager,
		svc:            svc,
		logger:         logger,
		maxUploadBytes: maxUploadBytes,
	}
}

// Handler builds the route table. metrics may be nil when the
// prometheus exporter is unavailable.
func (s *Server) Handler(metrics http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/transcribe", s.handleTranscribe)
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}
	return allowAllCORS(mux)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	s.handleHealth(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	loaded := s.svc.ModelLoaded()
	status := "initializing"
	if loaded {
		status = "healthy"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       status,
		"model_loaded": loaded,
	})
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+multipartOverhead)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	defer file.Close()

	task := whisper.Task(r.FormValue("task"))
	if task == "" {
		task = whisper.TaskTranscribe
	}
	if task != whisper.TaskTranscribe && task != whisper.TaskTranslate {
		writeError(w, http.StatusBadRequest, "task must be one of transcribe|translate")
		return
	}

	upload, err := s.stager.Stage(file, header.Filename)
	if err != nil {
		s.writeStagingError(w, err)
		return
	}
	defer func() {
		if err := upload.Release(); err != nil {
			s.logger.Warn("failed to remove staged file",
				slog.String("path", upload.StagedPath),
				slog.String("error", err.Error()))
		}
	}()

	result, err := s.svc.Transcribe(r.Context(), transcribe.Request{
		StagedPath: upload.StagedPath,
		Language:   r.FormValue("language"),
		Task:       task,
	})
	if err != nil {
		s.writeTranscribeError(w, r.Context(), err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) writeStagingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, staging.ErrUnsupportedFormat):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, staging.ErrEmptyUpload):
		writeError(w, http.StatusBadRequest, "uploaded file is empty")
	case errors.Is(err, staging.ErrTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	default:
		s.logger.Error("staging failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to stage upload")
	}
}

func (s *Server) writeTranscribeError(w http.ResponseWriter, ctx context.Context, err error) {
	switch {
	case errors.Is(err, whisper.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, transcribe.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, transcribe.ErrInference):
		writeError(w, http.StatusBadRequest, err.Error())
	case ctx.Err() != nil:
		// Caller disconnected; nothing useful to write.
		s.logger.Info("request cancelled by caller")
	default:
		s.logger.Error("transcription failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "transcription failed")
	}
}

func allowAllCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
