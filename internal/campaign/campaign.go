package campaign

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/makerloom/stitchpress/internal/catalog"
	"github.com/makerloom/stitchpress/internal/config"
	"github.com/makerloom/stitchpress/internal/pkg/logger"
	"github.com/makerloom/stitchpress/internal/token"
)

// RecipientStore is the slice of the catalog the campaign uses.
type RecipientStore interface {
	ScanRecipients(ctx context.Context, opts catalog.ScanOptions) ([]catalog.Recipient, error)
	CountEligible(ctx context.Context, opts catalog.ScanOptions) (int, error)
	UpdateLastSent(ctx context.Context, email string, at time.Time) error
	SetCorrelationID(ctx context.Context, email, cid string) error
}

// Sender delivers one finished message.
type Sender interface {
	Send(ctx context.Context, msg *Message) (string, error)
}

// SendError aborts the remaining batch when a single delivery fails. Email
// is stored redacted; Sent counts the deliveries that succeeded before the
// failure.
type SendError struct {
	Email string
	Sent  int
	Err   error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to %s failed after %d successful sends: %v", e.Email, e.Sent, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// adminCorrelationID marks the admin's preview copy in tracked links.
const adminCorrelationID = "admin"

// progressEvery is how many sends pass between progress reports.
const progressEvery = 50

// Content is the campaign material before per-recipient personalization.
// Subject and bodies are Liquid templates.
type Content struct {
	Subject   string
	HTMLBody  string
	TextBody  string
	Title     string
	DesignURL string
	EditionID string
}

// Summary reports what a finished or aborted run accomplished. Sent counts
// main-loop deliveries; the admin copy is tracked separately.
type Summary struct {
	Target    int
	Sent      int
	AdminSent bool
	Elapsed   time.Duration
}

// Runner walks the recipient list strictly one send at a time. The
// sequential loop is deliberate: it respects the provider's rate limits and
// keeps progress reporting deterministic.
type Runner struct {
	store    RecipientStore
	sender   Sender
	renderer *Renderer
	urls     *URLBuilder
	admin    string
	interval time.Duration
	progress func(string)
	now      func() time.Time
}

// NewRunner builds a campaign runner. progress may be nil.
func NewRunner(store RecipientStore, sender Sender, cfg config.CampaignConfig, progress func(string)) *Runner {
	if progress == nil {
		progress = func(string) {}
	}
	return &Runner{
		store:    store,
		sender:   sender,
		renderer: NewRenderer(),
		urls: &URLBuilder{
			UnsubscribeBase: cfg.UnsubscribeBaseURL,
			Secret:          cfg.UnsubscribeSecret,
			UTMSource:       cfg.UTMSource,
			UTMMedium:       cfg.UTMMedium,
		},
		admin:    cfg.AdminEmail,
		interval: cfg.SendInterval(),
		progress: progress,
		now:      time.Now,
	}
}

// FetchRecipients pulls the recipient list with the requested filters and
// deduplicates by lower-cased address, keeping the first occurrence.
func (r *Runner) FetchRecipients(ctx context.Context, onlyVerified, onlySubscribed bool) ([]catalog.Recipient, error) {
	list, err := r.store.ScanRecipients(ctx, catalog.ScanOptions{
		OnlyVerified:   onlyVerified,
		OnlySubscribed: onlySubscribed,
	})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(list))
	deduped := list[:0]
	for _, rcpt := range list {
		key := strings.ToLower(strings.TrimSpace(rcpt.Email))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		rcpt.Email = key
		deduped = append(deduped, rcpt)
	}
	return deduped, nil
}

// Run announces the campaign to every eligible recipient. The admin copy, if
// configured, goes out first and the admin address is excluded from the main
// loop. A failed send aborts the remainder with *SendError; the summary
// reflects whatever completed. Cancellation is honored between sends, never
// mid-send.
func (r *Runner) Run(ctx context.Context, content Content) (*Summary, error) {
	summary := &Summary{}

	recipients, err := r.FetchRecipients(ctx, true, true)
	if err != nil {
		return summary, fmt.Errorf("fetching recipients: %w", err)
	}

	// Independent count; the progress target never reads below the list we
	// actually hold.
	eligible, err := r.store.CountEligible(ctx, catalog.ScanOptions{OnlyVerified: true, OnlySubscribed: true})
	if err != nil {
		return summary, fmt.Errorf("counting eligible recipients: %w", err)
	}
	summary.Target = eligible
	if len(recipients) > summary.Target {
		summary.Target = len(recipients)
	}

	logger.Info("Starting campaign", "recipients", len(recipients), "eligible", eligible, "target", summary.Target)

	if r.admin != "" {
		msg, err := r.buildMessage(content, r.admin, "", adminCorrelationID)
		if err != nil {
			return summary, fmt.Errorf("building admin message: %w", err)
		}
		if _, err := r.sender.Send(ctx, msg); err != nil {
			return summary, &SendError{Email: logger.RedactEmail(r.admin), Sent: 0, Err: err}
		}
		summary.AdminSent = true
		r.progress(fmt.Sprintf("Admin copy sent to %s", logger.RedactEmail(r.admin)))
	}

	start := r.now()
	for i, rcpt := range recipients {
		select {
		case <-ctx.Done():
			summary.Elapsed = r.now().Sub(start)
			return summary, ctx.Err()
		default:
		}

		if r.admin != "" && strings.EqualFold(rcpt.Email, r.admin) {
			continue
		}

		cid := rcpt.CorrelationID
		if cid == "" {
			cid, err = token.Random(16)
			if err != nil {
				summary.Elapsed = r.now().Sub(start)
				return summary, fmt.Errorf("generating correlation id: %w", err)
			}
			if err := r.store.SetCorrelationID(ctx, rcpt.Email, cid); err != nil {
				summary.Elapsed = r.now().Sub(start)
				return summary, fmt.Errorf("backfilling correlation id: %w", err)
			}
		}

		msg, err := r.buildMessage(content, rcpt.Email, rcpt.FirstName, cid)
		if err != nil {
			summary.Elapsed = r.now().Sub(start)
			return summary, fmt.Errorf("building message: %w", err)
		}
		if _, err := r.sender.Send(ctx, msg); err != nil {
			summary.Elapsed = r.now().Sub(start)
			return summary, &SendError{Email: logger.RedactEmail(rcpt.Email), Sent: summary.Sent, Err: err}
		}
		summary.Sent++

		// Best effort only: a recipient that got the mail but misses the
		// timestamp is not worth aborting the batch.
		if err := r.store.UpdateLastSent(ctx, rcpt.Email, r.now()); err != nil {
			logger.Warn("Failed to update last_sent_at", "email", rcpt.Email, "error", err)
		}

		if summary.Sent%progressEvery == 0 {
			r.reportProgress(summary.Sent, summary.Target, start)
		}

		if r.interval > 0 && i < len(recipients)-1 {
			select {
			case <-ctx.Done():
				summary.Elapsed = r.now().Sub(start)
				return summary, ctx.Err()
			case <-time.After(r.interval):
			}
		}
	}

	if summary.Sent%progressEvery != 0 || summary.Sent == 0 {
		r.reportProgress(summary.Sent, summary.Target, start)
	}
	summary.Elapsed = r.now().Sub(start)
	logger.Info("Campaign finished", "sent", summary.Sent, "target", summary.Target, "elapsed", summary.Elapsed.String())
	return summary, nil
}

// reportProgress emits the running stats line: sends done, pace, and the
// projection for the remainder against the target count.
func (r *Runner) reportProgress(sent, target int, start time.Time) {
	elapsed := r.now().Sub(start)

	remaining := target - sent
	if remaining < 0 {
		remaining = 0
	}

	avg := 0.0
	if sent > 0 {
		avg = elapsed.Seconds() / float64(sent)
	}
	eta := time.Duration(avg*float64(remaining)) * time.Second
	pctRemaining := 0.0
	if target > 0 {
		pctRemaining = float64(remaining) / float64(target) * 100
	}

	r.progress(fmt.Sprintf("Sent %d/%d (elapsed %s, avg %.1fs/send, ETA %s, %.1f%% remaining)",
		sent, target, elapsed.Round(time.Second), avg, eta.Round(time.Second), pctRemaining))
}

// buildMessage personalizes the campaign content for one recipient. The
// design link is tagged with the recipient's correlation id and the edition
// id; the unsubscribe link carries the deterministic token.
func (r *Runner) buildMessage(content Content, email, firstName, cid string) (*Message, error) {
	binding := map[string]interface{}{
		"first_name":      firstName,
		"title":           content.Title,
		"design_url":      r.urls.TrackingURL(content.DesignURL, cid, content.EditionID),
		"unsubscribe_url": r.urls.UnsubscribeURL(email),
	}

	subject, err := r.renderer.Render(content.Subject, content.Subject, binding)
	if err != nil {
		return nil, fmt.Errorf("subject: %w", err)
	}
	html, err := r.renderer.Render(content.HTMLBody, content.HTMLBody, binding)
	if err != nil {
		return nil, fmt.Errorf("html body: %w", err)
	}
	text := ""
	if content.TextBody != "" {
		text, err = r.renderer.Render(content.TextBody, content.TextBody, binding)
		if err != nil {
			return nil, fmt.Errorf("text body: %w", err)
		}
	}

	return &Message{
		To:             email,
		Subject:        subject,
		HTMLBody:       html,
		TextBody:       text,
		UnsubscribeURL: binding["unsubscribe_url"].(string),
		CorrelationID:  cid,
	}, nil
}
