package staging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrUnsupportedFormat means the declared filename's extension is
	// not in the supported set. Nothing is written to disk.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrEmptyUpload means the stream contained no bytes.
	ErrEmptyUpload = errors.New("empty upload")

	// ErrTooLarge means the stream exceeded the configured byte cap.
	ErrTooLarge = errors.New("upload too large")
)

// supportedExtensions covers audio files plus audio-bearing video
// containers. Lowercase, with leading dot.
var supportedExtensions = map[string]bool{
	".wav": true, ".mp3": true, ".m4a": true, ".flac": true,
	".ogg": true, ".mp4": true, ".mov": true, ".avi": true,
}

// UploadedAudio is a staged upload. Release removes the staged file
// and must run on every exit path of the request that owns it.
type UploadedAudio struct {
	OriginalFilename string
	StagedPath       string
	ByteSize         int64

	once sync.Once
}

// Release deletes the staged file. Idempotent; a missing file is not
// an error.
func (u *UploadedAudio) Release() error {
	var err error
	u.once.Do(func() {
		if rmErr := os.Remove(u.StagedPath); rmErr != nil && !os.IsNotExist(rmErr) {
			err = rmErr
		}
	})
	return err
}

// Stager writes uploads into a dedicated temp-audio directory.
type Stager struct {
	dir      string
	maxBytes int64
}

// NewStager ensures the staging directory exists. An empty dir
// defaults to a whisperd-audio directory under the system temp root.
func NewStager(dir string, maxBytes int64) (*Stager, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "whisperd-audio")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	return &Stager{dir: dir, maxBytes: maxBytes}, nil
}

// Stage validates the upload and writes it to a uniquely named file.
// The extension check runs before any disk I/O, so rejected formats
// never touch the filesystem.
func (s *Stager) Stage(r io.Reader, declaredFilename string) (*UploadedAudio, error) {
	ext := strings.ToLower(filepath.Ext(declaredFilename))
	if !supportedExtensions[ext] {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	name := uuid.NewString() + ext
	path := filepath.Join(s.dir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create staged file: %w", err)
	}

	n, err := io.Copy(f, io.LimitReader(r, s.maxBytes+1))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("write staged file: %w", err)
	}
	if n == 0 {
		_ = os.Remove(path)
		return nil, ErrEmptyUpload
	}
	if n > s.maxBytes {
		_ = os.Remove(path)
		return nil, fmt.Errorf("%w: limit %d bytes", ErrTooLarge, s.maxBytes)
	}

	return &UploadedAudio{
		OriginalFilename: declaredFilename,
		StagedPath:       path,
		ByteSize:         n,
	}, nil
}

// Dir returns the staging directory path.
func (s *Stager) Dir() string {
	return s.dir
}
