package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"

	"github.com/loqalabs/loqa-piper/internal/audio"
	"github.com/mattn/go-shellwords"
)

type execEngine struct {
	cmd        []string
	model      string
	sampleRate int
	options    map[string]string

	mu       sync.Mutex
	nextID   uint64
	inflight map[uint64]context.CancelFunc
}

// NewExecEngine prepares an engine that pipes text through the piper CLI and
// reads raw s16le mono audio from its stdout.
func NewExecEngine(command, model string, sampleRate int, options map[string]string) (Engine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("tts command empty")
	}
	if model == "" {
		return nil, errors.New("tts model path required")
	}
	if _, err := os.Stat(model); err != nil {
		return nil, fmt.Errorf("tts model not accessible: %w", err)
	}
	return &execEngine{
		cmd:        args,
		model:      model,
		sampleRate: sampleRate,
		options:    options,
		inflight:   make(map[uint64]context.CancelFunc),
	}, nil
}

func (e *execEngine) Synthesize(ctx context.Context, req SynthRequest) (audio.PCM, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.inflight[id] = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.inflight, id)
		e.mu.Unlock()
	}()

	cmd := exec.CommandContext(ctx, e.cmd[0], e.args(req)...)
	cmd.Stdin = strings.NewReader(req.Text)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return audio.PCM{}, fmt.Errorf("piper cancelled: %w", ctx.Err())
		}
		return audio.PCM{}, fmt.Errorf("piper failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	pcm := audio.Empty(audio.Mono16(e.sampleRate))
	pcm.Data = stdout.Bytes()
	return pcm, nil
}

// Stop kills every running piper process.
func (e *execEngine) Stop(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, cancel := range e.inflight {
		cancel()
	}
	return nil
}

func (e *execEngine) running() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.inflight)
}

func (e *execEngine) args(req SynthRequest) []string {
	args := append([]string{}, e.cmd[1:]...)
	args = append(args, "--model", e.model, "--output-raw")
	if req.Voice != "" {
		args = append(args, "--speaker", req.Voice)
	}
	keys := make([]string, 0, len(e.options))
	for k := range e.options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "--"+strings.ReplaceAll(k, "_", "-"), e.options[k])
	}
	return args
}
