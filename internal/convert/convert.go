// Package convert shells out to the kit converter that turns exported chart
// PDFs into their print-ready form.
package convert

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

var commandContext = exec.CommandContext

// ConversionError carries the subprocess diagnostics when a conversion
// fails: the exit code and whatever the tool wrote to stderr or stdout.
type ConversionError struct {
	ExitCode int
	Output   string
}

func (e *ConversionError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		out = "no diagnostic output"
	}
	return fmt.Sprintf("converter exited with code %d: %s", e.ExitCode, out)
}

// Converter produces a print-ready PDF next to the input file.
type Converter interface {
	Convert(ctx context.Context, inputPath string) (string, error)
}

// Option configures the CLI converter.
type Option func(*CLI)

// WithBinary overrides the default converter binary.
func WithBinary(binary string) Option {
	return func(c *CLI) {
		if binary != "" {
			c.binary = binary
		}
	}
}

// WithTimeout bounds each conversion. Zero leaves the subprocess unbounded,
// which matches how the converter has always been run.
func WithTimeout(d time.Duration) Option {
	return func(c *CLI) {
		c.timeout = d
	}
}

// CLI wraps the converter command-line tool. The tool takes the input path
// as its only argument and writes "<name>.converted.pdf" beside it.
type CLI struct {
	binary  string
	timeout time.Duration
}

// NewCLI constructs a CLI converter using defaults.
func NewCLI(opts ...Option) *CLI {
	cli := &CLI{binary: "chartkit-convert"}
	for _, opt := range opts {
		opt(cli)
	}
	return cli
}

// Convert runs the converter on inputPath and returns the produced file.
// A nonzero exit, or a clean exit that left no output file, is a
// ConversionError.
func (c *CLI) Convert(ctx context.Context, inputPath string) (string, error) {
	if inputPath == "" {
		return "", errors.New("input path required")
	}

	base := filepath.Base(inputPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" {
		stem = base
	}
	outputPath := filepath.Join(filepath.Dir(inputPath), stem+".converted.pdf")

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	cmd := commandContext(ctx, c.binary, inputPath) //nolint:gosec
	out, err := cmd.CombinedOutput()
	if err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		output := string(out)
		if output == "" {
			output = err.Error()
		}
		if ctx.Err() == context.DeadlineExceeded {
			output = strings.TrimSpace(output + "\nconversion timed out after " + c.timeout.String())
		}
		return "", &ConversionError{ExitCode: exitCode, Output: output}
	}

	if _, err := os.Stat(outputPath); err != nil {
		return "", &ConversionError{ExitCode: 0, Output: fmt.Sprintf("converter exited cleanly but produced no file at %s", outputPath)}
	}
	return outputPath, nil
}

var _ Converter = (*CLI)(nil)
