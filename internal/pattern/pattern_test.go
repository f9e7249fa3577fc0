package pattern

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	info := Info{Title: "Autumn Fox", Width: 120, Height: 90, NColors: 14}
	assert.NoError(t, info.Validate())

	info.Title = "   "
	assert.Error(t, info.Validate())

	info.Title = "Autumn Fox"
	info.Width = 0
	assert.Error(t, info.Validate())

	info.Width = 120
	info.Height = -1
	assert.Error(t, info.Validate())
}

func TestLoadInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fox.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
title: "Fox in the Ferns"
description: "A fox among falling leaves."
notes: "Aida 14ct"
width: 120
height: 160
n_colors: 24
`), 0644))

	info, err := LoadInfo(path)
	require.NoError(t, err)
	assert.Equal(t, "Fox in the Ferns", info.Title)
	assert.Equal(t, "A fox among falling leaves.", info.Description)
	assert.Equal(t, "Aida 14ct", info.Notes)
	assert.Equal(t, 120, info.Width)
	assert.Equal(t, 160, info.Height)
	assert.Equal(t, 24, info.NColors)
}

func TestLoadInfoRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("description: no title or size\n"), 0644))

	_, err := LoadInfo(path)
	assert.Error(t, err)
}

func TestLoadInfoMissingFile(t *testing.T) {
	_, err := LoadInfo(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadInfoMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("title: [unclosed\n"), 0644))

	_, err := LoadInfo(path)
	assert.Error(t, err)
}
