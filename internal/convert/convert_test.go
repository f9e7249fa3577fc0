package convert

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setHelperCommand(t *testing.T, mode string) *[]string {
	t.Helper()
	var captured []string
	original := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		captured = append([]string(nil), args...)
		cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestHelperProcess")
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", fmt.Sprintf("CONVERT_HELPER_MODE=%s", mode))
		return cmd
	}
	t.Cleanup(func() {
		commandContext = original
	})
	return &captured
}

func TestNewCLIWithBinary(t *testing.T) {
	cli := NewCLI(WithBinary("/opt/chartkit/convert"))
	assert.Equal(t, "/opt/chartkit/convert", cli.binary)
}

func TestConvertRequiresInput(t *testing.T) {
	_, err := NewCLI().Convert(context.Background(), "")
	assert.Error(t, err)
}

func TestConvertSuccess(t *testing.T) {
	args := setHelperCommand(t, "success")

	dir := t.TempDir()
	input := filepath.Join(dir, "fox_kit_1.pdf")
	require.NoError(t, os.WriteFile(input, []byte("%PDF"), 0644))
	// The converter writes its result next to the input.
	expected := filepath.Join(dir, "fox_kit_1.converted.pdf")
	require.NoError(t, os.WriteFile(expected, []byte("%PDF"), 0644))

	got, err := NewCLI().Convert(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, expected, got)

	// The tool is invoked with the input path as its only argument.
	require.Len(t, *args, 1)
	assert.Equal(t, input, (*args)[0])
}

func TestConvertNonzeroExit(t *testing.T) {
	setHelperCommand(t, "failure")

	dir := t.TempDir()
	input := filepath.Join(dir, "fox_kit_1.pdf")
	require.NoError(t, os.WriteFile(input, []byte("%PDF"), 0644))

	_, err := NewCLI().Convert(context.Background(), input)

	var convErr *ConversionError
	require.True(t, errors.As(err, &convErr))
	assert.Equal(t, 3, convErr.ExitCode)
	assert.Contains(t, convErr.Output, "unsupported page size")
}

func TestConvertMissingOutput(t *testing.T) {
	setHelperCommand(t, "success")

	dir := t.TempDir()
	input := filepath.Join(dir, "fox_kit_1.pdf")
	require.NoError(t, os.WriteFile(input, []byte("%PDF"), 0644))
	// No .converted.pdf is created: a clean exit is still a failure.

	_, err := NewCLI().Convert(context.Background(), input)

	var convErr *ConversionError
	require.True(t, errors.As(err, &convErr))
	assert.Equal(t, 0, convErr.ExitCode)
	assert.Contains(t, convErr.Output, "fox_kit_1.converted.pdf")
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	switch os.Getenv("CONVERT_HELPER_MODE") {
	case "success":
		fmt.Println("converted 12 pages")
		os.Exit(0)
	case "failure":
		fmt.Fprintln(os.Stderr, "unsupported page size")
		os.Exit(3)
	default:
		os.Exit(0)
	}
}
