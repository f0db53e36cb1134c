package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultCLITimeout   = 120 * time.Second
	defaultCLIMaxOutput = 1 << 20
	cliStderrLimit      = 64 << 10
	cliWaitDelay        = 2 * time.Second
)

// CLIConfig configures a provider that runs a local LLM command-line tool.
// The prompt is appended as the last argument; no shell is involved, so the
// prompt is never interpreted.
type CLIConfig struct {
	Command string
	Args    []string
	// Timeout bounds each invocation when ctx has no earlier deadline.
	Timeout time.Duration
	// MaxOutputBytes caps captured stdout. Output past the cap is dropped.
	MaxOutputBytes int
	// Env is appended to the inherited environment.
	Env []string
}

// CLIProvider implements Provider by executing a command per request.
type CLIProvider struct {
	cfg CLIConfig
}

// NewCLI returns a command-line provider.
func NewCLI(cfg CLIConfig) (*CLIProvider, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, errors.New("llm: cli: command is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultCLITimeout
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = defaultCLIMaxOutput
	}
	return &CLIProvider{cfg: cfg}, nil
}

func (p *CLIProvider) Name() string { return "cli:" + filepath.Base(p.cfg.Command) }

func (p *CLIProvider) SupportsThinking() bool { return false }

// Complete flattens req into one prompt and runs the command. On timeout the
// process is killed and ErrTimeout is reported.
func (p *CLIProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	prompt := FlattenPrompt(req)

	runCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	args := append(append([]string(nil), p.cfg.Args...), prompt)
	cmd := exec.CommandContext(runCtx, p.cfg.Command, args...)
	cmd.WaitDelay = cliWaitDelay
	if len(p.cfg.Env) > 0 {
		cmd.Env = append(cmd.Environ(), p.cfg.Env...)
	}

	var stdout, stderr limitedBuffer
	stdout.Limit = p.cfg.MaxOutputBytes
	stderr.Limit = cliStderrLimit
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	latency := time.Since(start)

	if runCtx.Err() != nil {
		return nil, &ProviderError{
			Provider: p.Name(),
			Op:       "run",
			Stderr:   stderr.String(),
			ExitCode: exitCode(err),
			Err:      fmt.Errorf("%w after %s: %v", ErrTimeout, latency.Round(time.Millisecond), runCtx.Err()),
		}
	}
	if err != nil {
		return nil, &ProviderError{
			Provider: p.Name(),
			Op:       "run",
			Stderr:   stderr.String(),
			ExitCode: exitCode(err),
			Err:      err,
		}
	}

	text := strings.TrimSpace(stdout.String())
	if text == "" {
		return nil, &ProviderError{Provider: p.Name(), Op: "run", Stderr: stderr.String(), Err: ErrEmptyResponse}
	}
	if stdout.Truncated {
		slog.Warn("cli provider output truncated", "provider", p.Name(), "limit", p.cfg.MaxOutputBytes)
	}

	return &Response{
		Text:    text,
		Model:   p.Name(),
		Latency: latency,
		Usage: Usage{
			InputTokens:  EstimateTokens(prompt),
			OutputTokens: EstimateTokens(text),
		},
	}, nil
}

func exitCode(err error) int {
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return 0
}

// limitedBuffer keeps at most Limit bytes and silently discards the rest so
// a chatty process cannot exhaust memory.
type limitedBuffer struct {
	Limit     int
	Truncated bool
	buf       bytes.Buffer
}

func (w *limitedBuffer) Write(p []byte) (int, error) {
	if w.Limit <= 0 {
		return w.buf.Write(p)
	}
	remaining := w.Limit - w.buf.Len()
	if remaining <= 0 {
		w.Truncated = true
		return len(p), nil
	}
	if len(p) <= remaining {
		return w.buf.Write(p)
	}
	_, _ = w.buf.Write(p[:remaining])
	w.Truncated = true
	return len(p), nil
}

func (w *limitedBuffer) String() string {
	return w.buf.String()
}
