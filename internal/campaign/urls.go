package campaign

import (
	"net/url"
	"time"

	"github.com/makerloom/stitchpress/internal/pkg/logger"
	"github.com/makerloom/stitchpress/internal/token"
)

// URLBuilder derives the per-recipient links embedded in campaign mail.
type URLBuilder struct {
	UnsubscribeBase string
	Secret          string
	UTMSource       string
	UTMMedium       string

	// Now is swapped in tests; utm_campaign carries the send date.
	Now func() time.Time
}

func (b *URLBuilder) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

// UnsubscribeURL returns the one-click unsubscribe link for an address. The
// token is deterministic, so the link stays valid across campaigns without
// any stored state.
func (b *URLBuilder) UnsubscribeURL(email string) string {
	u, err := url.Parse(b.UnsubscribeBase)
	if err != nil {
		logger.Warn("Unparseable unsubscribe base URL", "error", err)
		return b.UnsubscribeBase
	}
	q := u.Query()
	q.Set("email", email)
	q.Set("token", token.Generate(email, b.Secret))
	u.RawQuery = q.Encode()
	return u.String()
}

// TrackingURL appends the campaign parameters to a destination link. Each
// parameter is added only when the URL does not already carry it, so links
// that come pre-tagged keep their original attribution.
func (b *URLBuilder) TrackingURL(rawURL, cid, eid string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		logger.Warn("Unparseable campaign link left untagged", "url", rawURL, "error", err)
		return rawURL
	}

	params := []struct{ key, value string }{
		{"cid", cid},
		{"eid", eid},
		{"utm_source", b.UTMSource},
		{"utm_medium", b.UTMMedium},
		{"utm_campaign", b.now().Format("2006-01-02")},
	}

	q := u.Query()
	for _, p := range params {
		if p.value == "" || q.Has(p.key) {
			continue
		}
		q.Set(p.key, p.value)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
