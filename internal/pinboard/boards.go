package pinboard

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/makerloom/stitchpress/internal/config"
	"github.com/makerloom/stitchpress/internal/pkg/logger"
)

// BoardIndex maps 4-digit album ids to board ids. The mapping CSV
// (AlbumID,"Caption",BoardID) is read once on first use and frozen;
// concurrent first touches are serialized by sync.Once. Boards created at
// runtime are remembered in a separate overlay so the CSV is never written.
type BoardIndex struct {
	path           string
	defaultBoardID string

	once    sync.Once
	loadErr error
	boards  map[string]string

	mu      sync.Mutex
	created map[string]string
}

// NewBoardIndex builds an index over the mapping CSV. Either path or
// defaultBoardID may be empty, but not both if pins are ever published.
func NewBoardIndex(path, defaultBoardID string) *BoardIndex {
	return &BoardIndex{
		path:           path,
		defaultBoardID: defaultBoardID,
		created:        map[string]string{},
	}
}

// Lookup returns the mapped board for an album without applying the default
// fallback. found is false when the album has no mapping.
func (ix *BoardIndex) Lookup(albumID string) (boardID string, found bool, err error) {
	ix.once.Do(ix.load)
	if ix.loadErr != nil {
		return "", false, ix.loadErr
	}

	key := normalizeAlbumID(albumID)
	if id, ok := ix.boards[key]; ok {
		return id, true, nil
	}

	ix.mu.Lock()
	id, ok := ix.created[key]
	ix.mu.Unlock()
	if ok {
		return id, true, nil
	}
	return "", false, nil
}

// Resolve returns the board an album's pins go to: the CSV mapping when one
// exists, otherwise the configured default. No mapping and no default is a
// configuration problem, not a publishable state.
func (ix *BoardIndex) Resolve(albumID string) (string, error) {
	id, found, err := ix.Lookup(albumID)
	if err != nil {
		return "", err
	}
	if found {
		return id, nil
	}
	if ix.defaultBoardID != "" {
		logger.Debug("Album has no board mapping, using default board", "album_id", albumID, "board_id", ix.defaultBoardID)
		return ix.defaultBoardID, nil
	}
	return "", &config.ConfigurationError{
		Setting: "pinboard.default_board_id",
		Reason:  fmt.Sprintf("album %s has no board mapping and no default board is configured", albumID),
	}
}

// Register remembers a board created at runtime so later publishes in the
// same process reuse it. The CSV on disk is left untouched.
func (ix *BoardIndex) Register(albumID, boardID string) {
	ix.mu.Lock()
	ix.created[normalizeAlbumID(albumID)] = boardID
	ix.mu.Unlock()
}

func (ix *BoardIndex) load() {
	ix.boards = map[string]string{}
	if ix.path == "" {
		return
	}

	f, err := os.Open(ix.path)
	if err != nil {
		ix.loadErr = fmt.Errorf("opening board mapping: %w", err)
		return
	}
	defer f.Close()

	// Captions come from the album tool with embedded commas and quotes, so
	// rows go through a real CSV reader rather than a string split.
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	line := 0
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			ix.loadErr = fmt.Errorf("reading board mapping: %w", err)
			return
		}
		line++

		if len(record) < 3 {
			logger.Warn("Skipping short board mapping row", "line", line, "fields", len(record))
			continue
		}
		albumID := strings.TrimSpace(record[0])
		boardID := strings.TrimSpace(record[2])
		if line == 1 && strings.EqualFold(albumID, "albumid") {
			continue
		}
		if albumID == "" || boardID == "" {
			continue
		}
		ix.boards[normalizeAlbumID(albumID)] = boardID
	}

	logger.Debug("Loaded board mapping", "path", ix.path, "albums", len(ix.boards))
}

// normalizeAlbumID pads numeric album ids to the canonical 4-digit form, so
// "7" and "0007" address the same album.
func normalizeAlbumID(albumID string) string {
	albumID = strings.TrimSpace(albumID)
	if n, err := strconv.Atoi(albumID); err == nil {
		return fmt.Sprintf("%04d", n)
	}
	return albumID
}
