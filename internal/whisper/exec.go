package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/mattn/go-shellwords"

	"github.com/murmurlabs/whisperd/internal/config"
	"github.com/murmurlabs/whisperd/internal/device"
)

// execEngine shells out to an inference helper. The helper contract:
// it reads the audio file, runs faster-whisper, and prints a single
// JSON object on stdout matching RawOutput. With --preload it only
// fetches the model weights and exits.
type execEngine struct {
	cmd      []string
	size     string
	cacheDir string
	dev      device.Config
}

func NewExecEngine(cfg config.WhisperConfig, dev device.Config) (Engine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse whisper command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("whisper command is empty")
	}
	if _, err := exec.LookPath(args[0]); err != nil {
		return nil, fmt.Errorf("whisper command not found: %w", err)
	}
	return &execEngine{
		cmd:      args,
		size:     cfg.ModelSize,
		cacheDir: cfg.CacheDir,
		dev:      dev,
	}, nil
}

// Preload downloads the model weights so the first transcription does
// not pay the fetch cost inside its own deadline. Seconds to minutes.
func (e *execEngine) Preload(ctx context.Context) error {
	args := e.baseArgs()
	args = append(args, "--preload")
	if err := e.run(ctx, args, nil); err != nil {
		return err
	}
	return nil
}

func (e *execEngine) Transcribe(ctx context.Context, audioPath string, opts Options) (RawOutput, error) {
	args := e.baseArgs()
	args = append(args, "--audio", audioPath, "--task", string(opts.Task))
	if opts.Language != "" {
		args = append(args, "--language", opts.Language)
	}

	var out RawOutput
	if err := e.run(ctx, args, &out); err != nil {
		return RawOutput{}, err
	}
	return out, nil
}

func (e *execEngine) baseArgs() []string {
	args := append([]string{}, e.cmd[1:]...)
	args = append(args,
		"--model", e.size,
		"--device", deviceArg(e.dev.Backend),
		"--compute-type", string(e.dev.Precision),
	)
	if e.cacheDir != "" {
		args = append(args, "--cache-dir", e.cacheDir)
	}
	return args
}

func (e *execEngine) run(ctx context.Context, args []string, out *RawOutput) error {
	command := exec.CommandContext(ctx, e.cmd[0], args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return fmt.Errorf("whisper command failed: %w: %s", err, stderr.String())
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(stdout.Bytes(), out); err != nil {
		return fmt.Errorf("decode whisper response: %w", err)
	}
	return nil
}

func deviceArg(backend device.Backend) string {
	switch backend {
	case device.BackendNvidia:
		return "cuda"
	case device.BackendAMD:
		return "rocm"
	default:
		return "cpu"
	}
}
