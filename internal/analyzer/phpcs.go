package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

// Input is one analysis request after validation.
type Input struct {
	Code       string
	Standard   string
	PHPVersion string
	Options    Options
}

// Engine runs the static-analysis tool.
type Engine interface {
	// Analyze returns the engine's JSON report for in.
	Analyze(ctx context.Context, in Input) (json.RawMessage, error)
	// Standards lists the installed coding standards.
	Standards(ctx context.Context) ([]string, error)
	// Version reports the engine version.
	Version(ctx context.Context) (string, error)
}

// ErrTimeout is returned when the engine does not finish in time.
var ErrTimeout = errors.New("analysis engine timed out")

// PHPCSConfig configures the PHPCS runner.
type PHPCSConfig struct {
	// Path is the phpcs executable.
	Path string
	// TempDir holds the source files handed to phpcs.
	TempDir string
	// Timeout bounds each invocation.
	Timeout time.Duration
}

// PHPCS runs phpcs as a child process.
type PHPCS struct {
	cfg    PHPCSConfig
	logger *slog.Logger
}

// NewPHPCS creates a runner.
func NewPHPCS(cfg PHPCSConfig, logger *slog.Logger) *PHPCS {
	if cfg.Path == "" {
		cfg.Path = "phpcs"
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PHPCS{cfg: cfg, logger: logger}
}

// Analyze writes the code to a temporary file and runs phpcs on it.
func (p *PHPCS) Analyze(ctx context.Context, in Input) (json.RawMessage, error) {
	if err := os.MkdirAll(p.cfg.TempDir, 0o750); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	f, err := os.CreateTemp(p.cfg.TempDir, "phpcs_*.php")
	if err != nil {
		return nil, fmt.Errorf("create source file: %w", err)
	}
	defer os.Remove(f.Name())

	if _, err := f.WriteString(in.Code); err != nil {
		f.Close()
		return nil, fmt.Errorf("write source file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close source file: %w", err)
	}

	out, err := p.run(ctx, analyzeArgs(in, f.Name())...)
	// phpcs exits 1 or 2 when it found violations; the report is still valid.
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() <= 2 && json.Valid(out) {
		err = nil
	}
	if err != nil {
		return nil, err
	}

	out = bytes.TrimSpace(out)
	if !json.Valid(out) {
		return nil, fmt.Errorf("invalid phpcs output: %q", truncate(string(out), 200))
	}
	return json.RawMessage(out), nil
}

// Standards runs phpcs -i.
func (p *PHPCS) Standards(ctx context.Context) ([]string, error) {
	out, err := p.run(ctx, "-i")
	if err != nil {
		return nil, err
	}
	return parseStandards(string(out)), nil
}

// Version runs phpcs --version.
func (p *PHPCS) Version(ctx context.Context) (string, error) {
	out, err := p.run(ctx, "--version")
	if err != nil {
		return "", err
	}
	return parseVersion(string(out)), nil
}

func (p *PHPCS) run(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.cfg.Path, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	start := time.Now()
	err := cmd.Run()
	p.logger.Debug("phpcs finished",
		slog.Any("args", args),
		slog.Duration("duration", time.Since(start)),
	)

	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("%w after %s", ErrTimeout, p.cfg.Timeout)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return stdout.Bytes(), fmt.Errorf("phpcs exited with status %d: %s: %w",
				exitErr.ExitCode(), truncate(strings.TrimSpace(stderr.String()), 200), err)
		}
		return nil, fmt.Errorf("run phpcs: %w", err)
	}
	return stdout.Bytes(), nil
}

func analyzeArgs(in Input, file string) []string {
	args := []string{"-q", "--report=json", "--standard=" + in.Standard}
	if in.PHPVersion != "" {
		args = append(args, "--runtime-set", "testVersion", in.PHPVersion)
	}
	args = append(args, in.Options.Args()...)
	return append(args, "--", file)
}

var (
	standardsLine = regexp.MustCompile(`(?m)The installed coding standards are (.+)$`)
	versionNumber = regexp.MustCompile(`version (\d+\.\d+\.\d+)`)
)

// parseStandards extracts the list from "The installed coding standards are
// A, B and C".
func parseStandards(out string) []string {
	m := standardsLine.FindStringSubmatch(out)
	if m == nil {
		return []string{}
	}
	list := strings.ReplaceAll(m[1], " and ", ", ")
	var standards []string
	for _, s := range strings.Split(list, ",") {
		if s = strings.TrimSpace(s); s != "" {
			standards = append(standards, s)
		}
	}
	return standards
}

func parseVersion(out string) string {
	if m := versionNumber.FindStringSubmatch(out); m != nil {
		return m[1]
	}
	return "unknown"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
