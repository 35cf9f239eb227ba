// Package gemini answers intercepted commands with Google's Gemini REST API.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/bft-labs/meshrelay/internal/ports"
	"github.com/bft-labs/meshrelay/pkg/log"
)

// DefaultBaseURL is the public Gemini endpoint.
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Defaults for Config.
const (
	DefaultModel       = "gemini-2.5-flash"
	DefaultMaxChars    = 600
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = time.Second
)

// ErrEmptyAnswer is returned when the service replies without any text.
var ErrEmptyAnswer = errors.New("gemini: empty answer")

const brevityPreamble = "You answer questions sent over a low-bandwidth radio mesh.\n" +
	"- Be brief: one compact paragraph or up to three short bullets.\n" +
	"- No greetings, preamble or filler; give facts and steps.\n" +
	"- Plain text only, no markdown."

const brevitySuffix = "\n\n(Reply concisely: a few short sentences, no fluff.)"

// Config holds the Gemini client settings.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string

	// MaxChars bounds the answer length in characters. Longer answers are
	// cut at the last sentence boundary.
	MaxChars int

	MaxAttempts int

	// RetryDelay grows linearly: attempt n waits n*RetryDelay.
	RetryDelay time.Duration
}

// Client implements ports.Answerer.
type Client struct {
	cfg    Config
	http   ports.HTTPClient
	logger log.Logger
}

// New creates a client. A nil httpClient uses http.DefaultClient.
func New(cfg Config, httpClient ports.HTTPClient, logger log.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = DefaultMaxChars
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Client{
		cfg:    cfg,
		http:   httpClient,
		logger: logger.With(log.String("component", "gemini"), log.String("model", cfg.Model)),
	}, nil
}

// Answer asks the model, retrying transient failures.
func (c *Client) Answer(ctx context.Context, question string) (string, error) {
	prompt := question + brevitySuffix

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		raw, err := c.generate(ctx, prompt)
		if err == nil {
			answer := TrimToMaxChars(CollapseWhitespace(raw), c.cfg.MaxChars)
			if answer != "" {
				c.logger.Debug("answer received",
					log.Int("attempt", attempt),
					log.Int("chars", len([]rune(answer))))
				return answer, nil
			}
			err = ErrEmptyAnswer
		}
		lastErr = err

		var se *StatusError
		if errors.As(err, &se) && !se.Retryable() {
			return "", err
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		c.logger.Warn("answer attempt failed",
			log.Int("attempt", attempt),
			log.Err(err))

		if attempt == c.cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Duration(attempt) * c.cfg.RetryDelay):
		}
	}
	return "", fmt.Errorf("gemini: %d attempts failed: %w", c.cfg.MaxAttempts, lastErr)
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"topP"`
	TopK            int     `json:"topK"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type generateRequest struct {
	SystemInstruction content          `json:"systemInstruction"`
	Contents          []content        `json:"contents"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{
		SystemInstruction: content{Parts: []part{{Text: brevityPreamble}}},
		Contents:          []content{{Role: "user", Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{
			Temperature:     0.6,
			TopP:            0.8,
			TopK:            40,
			MaxOutputTokens: 200,
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.cfg.BaseURL, c.cfg.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode/100 != 2 {
		msg := gjson.GetBytes(respBody, "error.message").String()
		if msg == "" {
			msg = strings.TrimSpace(string(respBody))
		}
		return "", &StatusError{Code: resp.StatusCode, Message: msg}
	}

	if reason := gjson.GetBytes(respBody, "promptFeedback.blockReason").String(); reason != "" {
		return "", fmt.Errorf("prompt blocked: %s", reason)
	}

	var texts []string
	for _, t := range gjson.GetBytes(respBody, "candidates.0.content.parts.#.text").Array() {
		if s := t.String(); s != "" {
			texts = append(texts, s)
		}
	}
	return strings.TrimSpace(strings.Join(texts, "\n")), nil
}

// StatusError is a non-2xx reply from the service.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}

// Retryable reports whether the request may succeed if repeated.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

var _ ports.Answerer = (*Client)(nil)
