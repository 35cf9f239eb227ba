package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func answerBody(parts ...string) string {
	var ps []map[string]string
	for _, p := range parts {
		ps = append(ps, map[string]string{"text": p})
	}
	b, _ := json.Marshal(map[string]any{
		"candidates": []any{
			map[string]any{"content": map[string]any{"role": "model", "parts": ps}},
		},
	})
	return string(b)
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := New(Config{
		APIKey:     "test-key",
		Model:      "test-model",
		BaseURL:    url,
		MaxChars:   100,
		RetryDelay: time.Millisecond,
	}, nil, nil)
	require.NoError(t, err)
	return c
}

func TestClient_Answer(t *testing.T) {
	var gotPath, gotKey, gotPrompt, gotSystem string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		body, _ := io.ReadAll(r.Body)
		gotPrompt = gjson.GetBytes(body, "contents.0.parts.0.text").String()
		gotSystem = gjson.GetBytes(body, "systemInstruction.parts.0.text").String()
		io.WriteString(w, answerBody("Water boils at\n\n100 °C", "at sea level."))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	answer, err := c.Answer(context.Background(), "when does water boil?")
	require.NoError(t, err)

	assert.Equal(t, "Water boils at 100 °C at sea level.", answer)
	assert.Equal(t, "/models/test-model:generateContent", gotPath)
	assert.Equal(t, "test-key", gotKey)
	assert.True(t, strings.HasPrefix(gotPrompt, "when does water boil?"))
	assert.Contains(t, gotSystem, "radio mesh")
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			io.WriteString(w, `{"error":{"message":"overloaded"}}`)
			return
		}
		io.WriteString(w, answerBody("ok"))
	}))
	defer srv.Close()

	answer, err := newTestClient(t, srv.URL).Answer(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "ok", answer)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_GivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		io.WriteString(w, answerBody())
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Answer(context.Background(), "q")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyAnswer)
	assert.Equal(t, int32(DefaultMaxAttempts), calls.Load())
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, `{"error":{"message":"API key not valid"}}`)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Answer(context.Background(), "q")

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusForbidden, se.Code)
	assert.Equal(t, "API key not valid", se.Message)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_BlockedPrompt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"promptFeedback":{"blockReason":"SAFETY"}}`)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Answer(context.Background(), "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SAFETY")
}

func TestClient_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := newTestClient(t, srv.URL).Answer(ctx, "q")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNew_RequiresKey(t *testing.T) {
	_, err := New(Config{}, nil, nil)
	assert.Error(t, err)
}

func TestTrimToMaxChars(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"short enough", "Hello there.", 50, "Hello there."},
		{"cuts at sentence", "First one. Second one. Third one is long.", 25, "First one. Second one."},
		{"cuts at question", "Why? Because it works well enough", 20, "Why?"},
		{"cuts before dash", "Do this - then that and more", 15, "Do this"},
		{"no boundary", "abcdefghijklmnop", 5, "abcde"},
		{"counts characters not bytes", "ééééé. ééééé", 8, "ééééé."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TrimToMaxChars(tt.in, tt.max))
		})
	}
}

func TestCollapseWhitespace(t *testing.T) {
	assert.Equal(t, "a b c", CollapseWhitespace("  a\n\tb   c \n"))
	assert.Equal(t, "", CollapseWhitespace(" \n "))
}
