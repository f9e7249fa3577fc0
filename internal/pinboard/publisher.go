package pinboard

import (
	"context"
	"fmt"

	"github.com/makerloom/stitchpress/internal/pattern"
	"github.com/makerloom/stitchpress/internal/pkg/logger"
)

// Publisher runs the pin side of a publish: board resolution, theme
// detection, payload assembly, pin creation.
type Publisher struct {
	client     *Client
	boards     *BoardIndex
	autoCreate bool
}

// NewPublisher wires the pin client and board index together. autoCreate
// lets unmapped albums get a fresh board instead of the default.
func NewPublisher(client *Client, boards *BoardIndex, autoCreate bool) *Publisher {
	return &Publisher{client: client, boards: boards, autoCreate: autoCreate}
}

// EnsureBoard returns the board for an album. Mapped albums use their CSV
// entry. Unmapped albums get a board created from the album caption when
// auto-creation is on; otherwise the default-board fallback applies. Created
// boards are registered in memory only, never written back to the CSV.
func (p *Publisher) EnsureBoard(ctx context.Context, albumID, caption string) (string, error) {
	id, found, err := p.boards.Lookup(albumID)
	if err != nil {
		return "", err
	}
	if found {
		return id, nil
	}

	if p.autoCreate && caption != "" {
		description := fmt.Sprintf("Cross-stitch patterns from the %s collection.", caption)
		boardID, err := p.client.CreateBoard(ctx, caption, description)
		if err != nil {
			return "", fmt.Errorf("creating board for album %s: %w", albumID, err)
		}
		p.boards.Register(albumID, boardID)
		logger.Info("Created board for album", "album_id", albumID, "board_id", boardID)
		return boardID, nil
	}

	return p.boards.Resolve(albumID)
}

// Publish creates the pin for a design and returns the pin id. An empty id
// with a nil error means the platform confirmed creation without one.
func (p *Publisher) Publish(ctx context.Context, albumID, caption string, info *pattern.Info, link, imageURL string) (string, error) {
	boardID, err := p.EnsureBoard(ctx, albumID, caption)
	if err != nil {
		return "", err
	}

	theme := DetectTheme(info)
	logger.Debug("Detected design theme", "title", info.Title, "theme", theme.Name)

	pin := BuildPinPayload(info, theme, boardID, link, imageURL)
	pinID, err := p.client.CreatePin(ctx, pin)
	if err != nil {
		return "", err
	}
	if pinID == "" {
		logger.Warn("Pin created but the API returned no id", "board_id", boardID, "title", pin.Title)
	}
	return pinID, nil
}
