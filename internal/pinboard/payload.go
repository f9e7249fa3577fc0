package pinboard

import (
	"fmt"
	"strings"

	"github.com/makerloom/stitchpress/internal/pattern"
)

// Pin platform field limits. Text beyond these is cut, not rejected.
const (
	maxTitleRunes       = 100
	maxAltTextRunes     = 500
	maxDescriptionRunes = 500
)

// BuildPinPayload assembles the pin for one design: title and alt text cut
// to the platform limits, and a description built from the design summary
// plus the deduplicated generic and theme hashtags.
func BuildPinPayload(info *pattern.Info, theme Theme, boardID, link, imageURL string) PinRequest {
	summary := fmt.Sprintf("%s counted cross-stitch pattern. %d x %d stitches, %d colors. Instant PDF download.",
		info.Title, info.Width, info.Height, info.NColors)

	tags := dedupHashtags(genericHashtags, theme.Hashtags)
	description := summary + " " + strings.Join(tags, " ")

	altText := fmt.Sprintf("Cross-stitch chart preview: %s, %d by %d stitches", info.Title, info.Width, info.Height)

	return PinRequest{
		BoardID:     boardID,
		Title:       truncateRunes(info.Title, maxTitleRunes),
		Description: truncateRunes(description, maxDescriptionRunes),
		AltText:     truncateRunes(altText, maxAltTextRunes),
		Link:        link,
		MediaSource: MediaSource{SourceType: "image_url", URL: imageURL},
	}
}

// dedupHashtags merges tag groups preserving first-seen order, comparing
// case-insensitively so "#CrossStitch" never repeats "#crossstitch".
func dedupHashtags(groups ...[]string) []string {
	seen := map[string]bool{}
	var out []string
	for _, group := range groups {
		for _, tag := range group {
			key := strings.ToLower(tag)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, tag)
		}
	}
	return out
}

// truncateRunes cuts s to at most n runes. Limits are rune counts, not
// bytes, so multibyte titles survive the cut intact.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
