// Package unsub is the HTTP service behind the unsubscribe links the
// campaign embeds: a browser confirmation page and the RFC 8058 one-click
// endpoint mail providers call directly.
package unsub

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/makerloom/stitchpress/internal/catalog"
	"github.com/makerloom/stitchpress/internal/pkg/httputil"
	"github.com/makerloom/stitchpress/internal/pkg/logger"
	"github.com/makerloom/stitchpress/internal/token"
)

const confirmationPage = `<!DOCTYPE html>
<html>
<head><title>Unsubscribed</title></head>
<body style="font-family:Georgia,serif;text-align:center;padding:56px;background:#faf7f2;color:#4a4038;">
  <h1>You're unsubscribed</h1>
  <p>You will no longer receive new design announcements.</p>
  <p style="font-size:13px;color:#8a7f72;">Changed your mind? Reply to any earlier email and we'll add you back.</p>
</body>
</html>
`

// RecipientStore is the slice of the catalog the service needs.
type RecipientStore interface {
	MarkUnsubscribed(ctx context.Context, email string) error
}

// Handler terminates unsubscribe links. Tokens are verified against the
// same secret the campaign signs them with; an invalid token changes
// nothing.
type Handler struct {
	store  RecipientStore
	secret string
}

func NewHandler(store RecipientStore, secret string) *Handler {
	return &Handler{store: store, secret: secret}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
	}))
	r.Get("/unsubscribe", h.HandleConfirm)
	r.Post("/unsubscribe", h.HandleOneClick)
	r.Get("/health", h.HandleHealth)
	return r
}

// HandleConfirm serves the link recipients click in their mail client.
func (h *Handler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if !token.Verify(email, h.secret, r.URL.Query().Get("token")) {
		http.Error(w, "invalid unsubscribe link", http.StatusBadRequest)
		return
	}
	if err := h.unsubscribe(r.Context(), email, "link"); err != nil {
		httputil.InternalError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(confirmationPage))
}

// HandleOneClick implements the List-Unsubscribe-Post flow: mail providers
// POST the List-Unsubscribe URL with a fixed form body and no user present.
func (h *Handler) HandleOneClick(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httputil.BadRequest(w, "unreadable form body")
		return
	}
	if r.PostFormValue("List-Unsubscribe") != "One-Click" {
		httputil.BadRequest(w, "expected List-Unsubscribe=One-Click")
		return
	}
	email := r.URL.Query().Get("email")
	if !token.Verify(email, h.secret, r.URL.Query().Get("token")) {
		httputil.BadRequest(w, "invalid unsubscribe token")
		return
	}
	if err := h.unsubscribe(r.Context(), email, "one-click"); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"status": "unsubscribed"})
}

func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.OK(w, map[string]string{"status": "ok"})
}

// unsubscribe flips the flag. An address that already vanished from the
// list is treated as done, the outcome the caller wanted already holds.
func (h *Handler) unsubscribe(ctx context.Context, email, via string) error {
	err := h.store.MarkUnsubscribed(ctx, email)
	var nf *catalog.NotFoundError
	if errors.As(err, &nf) {
		logger.Warn("unsubscribe for unknown recipient", "email", logger.RedactEmail(email), "via", via)
		return nil
	}
	if err != nil {
		return err
	}
	logger.Info("recipient unsubscribed", "email", logger.RedactEmail(email), "via", via)
	return nil
}
