package pinboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token"})
	return NewClientWithTokenSource(srv.URL, ts, 5*time.Second)
}

func TestCreatePin(t *testing.T) {
	var got PinRequest
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/pins", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"pin-123"}`))
	})

	pin := PinRequest{
		BoardID:     "board-1",
		Title:       "Autumn Fox",
		Description: "Counted pattern",
		Link:        "https://shop.example.com/fox",
		MediaSource: MediaSource{SourceType: "image_url", URL: "https://cdn.example.com/fox.jpg"},
	}
	id, err := client.CreatePin(context.Background(), pin)
	require.NoError(t, err)
	assert.Equal(t, "pin-123", id)
	assert.Equal(t, pin, got)
}

func TestCreatePinEmptyBody(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	id, err := client.CreatePin(context.Background(), PinRequest{BoardID: "board-1"})
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestCreatePinAPIError(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"board not found"}`))
	})

	_, err := client.CreatePin(context.Background(), PinRequest{BoardID: "missing"})
	var pubErr *PublishError
	require.True(t, errors.As(err, &pubErr))
	assert.Equal(t, http.StatusBadRequest, pubErr.StatusCode)
	assert.Contains(t, pubErr.Body, "board not found")
	assert.False(t, pubErr.Retryable())
}

func TestCreateBoard(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/boards", r.URL.Path)

		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "Woodland Friends", payload["name"])

		_, _ = w.Write([]byte(`{"id":"board-77"}`))
	})

	id, err := client.CreateBoard(context.Background(), "Woodland Friends", "")
	require.NoError(t, err)
	assert.Equal(t, "board-77", id)
}

func TestCreateBoardMissingID(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})

	_, err := client.CreateBoard(context.Background(), "Woodland Friends", "")
	assert.Error(t, err)
}

func TestUpdateBoard(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/boards/board-77", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})

	err := client.UpdateBoard(context.Background(), "board-77", BoardPatch{Name: "Renamed"})
	assert.NoError(t, err)
}

func TestPublishErrorRetryable(t *testing.T) {
	assert.True(t, (&PublishError{StatusCode: http.StatusTooManyRequests}).Retryable())
	assert.True(t, (&PublishError{StatusCode: http.StatusBadGateway}).Retryable())
	assert.False(t, (&PublishError{StatusCode: http.StatusBadRequest}).Retryable())
	assert.False(t, (&PublishError{StatusCode: http.StatusUnauthorized}).Retryable())
}

func TestPublishErrorMessage(t *testing.T) {
	err := &PublishError{StatusCode: 500, Body: "  "}
	assert.Contains(t, err.Error(), "empty response body")

	err = &PublishError{StatusCode: 400, Body: `{"message":"too long"}`}
	assert.Contains(t, err.Error(), "too long")
}
