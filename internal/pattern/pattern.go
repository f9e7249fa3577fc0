// Package pattern carries the design metadata that flows through the
// publishing pipeline. Extraction of this metadata from annotated chart PDFs
// happens in the chart tooling; the pipeline only consumes the result.
package pattern

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Info describes one cross-stitch design as extracted from its chart.
type Info struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Notes       string `yaml:"notes"`
	Width       int    `yaml:"width"`  // stitches
	Height      int    `yaml:"height"` // stitches
	NColors     int    `yaml:"n_colors"`
}

// Validate checks the fields the pipeline cannot work without.
func (i *Info) Validate() error {
	if strings.TrimSpace(i.Title) == "" {
		return fmt.Errorf("pattern title is required")
	}
	if i.Width <= 0 || i.Height <= 0 {
		return fmt.Errorf("pattern dimensions must be positive, got %dx%d", i.Width, i.Height)
	}
	return nil
}

// Extractor produces design metadata from a chart document.
type Extractor interface {
	Extract(ctx context.Context, chartPath string) (*Info, error)
}

// LoadInfo reads a YAML sidecar file describing a design. The CLI uses this
// in place of marker extraction when publishing from pre-exported charts.
func LoadInfo(path string) (*Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading design metadata: %w", err)
	}
	var info Info
	if err := yaml.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parsing design metadata: %w", err)
	}
	if err := info.Validate(); err != nil {
		return nil, err
	}
	return &info, nil
}
