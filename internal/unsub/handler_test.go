package unsub

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makerloom/stitchpress/internal/catalog"
	"github.com/makerloom/stitchpress/internal/token"
)

const testSecret = "campaign-secret"

type fakeStore struct {
	t    *testing.T
	mark func(email string) error
}

func (f *fakeStore) MarkUnsubscribed(_ context.Context, email string) error {
	if f.mark == nil {
		f.t.Fatal("unexpected MarkUnsubscribed call")
	}
	return f.mark(email)
}

func serve(t *testing.T, store *fakeStore, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	NewHandler(store, testSecret).Routes().ServeHTTP(rr, req)
	return rr
}

func unsubURL(email string) string {
	return "/unsubscribe?email=" + url.QueryEscape(email) + "&token=" + token.Generate(email, testSecret)
}

func oneClickRequest(target string) *http.Request {
	form := url.Values{"List-Unsubscribe": {"One-Click"}}
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestConfirmUnsubscribes(t *testing.T) {
	var marked []string
	store := &fakeStore{t: t, mark: func(email string) error {
		marked = append(marked, email)
		return nil
	}}

	rr := serve(t, store, httptest.NewRequest(http.MethodGet, unsubURL("kara@example.com"), nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rr.Body.String(), "You're unsubscribed")
	assert.Equal(t, []string{"kara@example.com"}, marked)
}

func TestConfirmRejectsForgedToken(t *testing.T) {
	store := &fakeStore{t: t}

	target := "/unsubscribe?email=kara@example.com&token=" + token.Generate("other@example.com", testSecret)
	rr := serve(t, store, httptest.NewRequest(http.MethodGet, target, nil))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestConfirmRejectsMissingParams(t *testing.T) {
	store := &fakeStore{t: t}

	rr := serve(t, store, httptest.NewRequest(http.MethodGet, "/unsubscribe", nil))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestConfirmUnknownRecipientStillConfirms(t *testing.T) {
	store := &fakeStore{t: t, mark: func(email string) error {
		return &catalog.NotFoundError{Entity: "recipient", Key: email}
	}}

	rr := serve(t, store, httptest.NewRequest(http.MethodGet, unsubURL("gone@example.com"), nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "You're unsubscribed")
}

func TestConfirmStoreFailure(t *testing.T) {
	store := &fakeStore{t: t, mark: func(string) error {
		return errors.New("dynamo unreachable")
	}}

	rr := serve(t, store, httptest.NewRequest(http.MethodGet, unsubURL("kara@example.com"), nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rr.Body.String())
}

func TestOneClick(t *testing.T) {
	var marked []string
	store := &fakeStore{t: t, mark: func(email string) error {
		marked = append(marked, email)
		return nil
	}}

	rr := serve(t, store, oneClickRequest(unsubURL("kara@example.com")))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"unsubscribed"}`, rr.Body.String())
	assert.Equal(t, []string{"kara@example.com"}, marked)
}

func TestOneClickRequiresFormMarker(t *testing.T) {
	store := &fakeStore{t: t}

	req := httptest.NewRequest(http.MethodPost, unsubURL("kara@example.com"), strings.NewReader("other=value"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := serve(t, store, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "One-Click")
}

func TestOneClickRejectsForgedToken(t *testing.T) {
	store := &fakeStore{t: t}

	target := "/unsubscribe?email=kara@example.com&token=forged"
	rr := serve(t, store, oneClickRequest(target))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHealth(t *testing.T) {
	store := &fakeStore{t: t}

	rr := serve(t, store, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestCORSPreflight(t *testing.T) {
	store := &fakeStore{t: t}

	req := httptest.NewRequest(http.MethodOptions, "/unsubscribe", nil)
	req.Header.Set("Origin", "https://makerloom.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rr := serve(t, store, req)

	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}
