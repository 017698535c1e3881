// Package completion forwards prompts to an OpenAI-compatible completion API.
package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	// DefaultBaseURL is the OpenAI API root.
	DefaultBaseURL = "https://api.openai.com/v1"

	// maxResponseSize caps how much of an upstream body is read.
	maxResponseSize = 10 * 1024 * 1024
)

// Config holds the settings for the upstream completion API.
type Config struct {
	BaseURL      string
	APIKey       string
	Organization string
	// Timeout bounds a whole round trip. Zero leaves it to the transport.
	Timeout time.Duration
	// HTTPClient overrides the default client.
	HTTPClient *http.Client
}

// Client sends single-shot completion requests upstream.
type Client struct {
	baseURL      string
	apiKey       string
	organization string
	httpClient   *http.Client
}

// NewClient constructs a Client from cfg.
func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   30 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
			Timeout: cfg.Timeout,
		}
	}
	return &Client{
		baseURL:      baseURL,
		apiKey:       strings.TrimSpace(cfg.APIKey),
		organization: strings.TrimSpace(cfg.Organization),
		httpClient:   httpClient,
	}
}

// Complete forwards model, prompt, and parameters upstream and returns the generated text.
// Upstream-reported failures are *UpstreamError; transport failures wrap ErrUpstreamUnavailable.
func (c *Client) Complete(ctx context.Context, model, prompt string, parameters map[string]any) (string, error) {
	model = NormalizeModel(model)
	chat := IsChatModel(model)

	body, err := buildRequestBody(model, prompt, parameters, chat)
	if err != nil {
		return "", err
	}

	endpoint := c.baseURL + "/completions"
	if chat {
		endpoint = c.baseURL + "/chat/completions"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("completion: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.organization != "" {
		req.Header.Set("OpenAI-Organization", c.organization)
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.WithError(errClose).Warn("completion: close response body failed")
		}
	}()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrUpstreamUnavailable, err)
	}

	log.WithFields(log.Fields{
		"model":   model,
		"status":  resp.StatusCode,
		"elapsed": time.Since(started).String(),
	}).Debug("completion: upstream responded")

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", parseUpstreamError(resp.StatusCode, payload)
	}
	return extractText(resp.StatusCode, payload, chat)
}

// buildRequestBody merges parameters with the model and prompt fields.
func buildRequestBody(model, prompt string, parameters map[string]any, chat bool) ([]byte, error) {
	if parameters == nil {
		parameters = map[string]any{}
	}
	body, err := json.Marshal(parameters)
	if err != nil {
		return nil, fmt.Errorf("completion: encode parameters: %w", err)
	}
	if body, err = sjson.SetBytes(body, "model", model); err != nil {
		return nil, fmt.Errorf("completion: set model: %w", err)
	}
	if chat {
		body, err = sjson.SetBytes(body, "messages", []map[string]string{{"role": "user", "content": prompt}})
		if err == nil {
			body, err = sjson.DeleteBytes(body, "prompt")
		}
	} else {
		body, err = sjson.SetBytes(body, "prompt", prompt)
	}
	if err != nil {
		return nil, fmt.Errorf("completion: set prompt: %w", err)
	}
	return body, nil
}

func parseUpstreamError(status int, payload []byte) error {
	upstreamErr := &UpstreamError{Status: status}
	if gjson.ValidBytes(payload) {
		parsed := gjson.ParseBytes(payload)
		upstreamErr.Type = parsed.Get("error.type").String()
		upstreamErr.Message = parsed.Get("error.message").String()
		if upstreamErr.Message == "" {
			upstreamErr.Message = parsed.Get("error").String()
		}
	}
	if upstreamErr.Message == "" {
		upstreamErr.Message = strings.TrimSpace(string(payload))
	}
	if upstreamErr.Message == "" {
		upstreamErr.Message = http.StatusText(status)
	}
	return upstreamErr
}

func extractText(status int, payload []byte, chat bool) (string, error) {
	if !gjson.ValidBytes(payload) {
		return "", &UpstreamError{Status: status, Type: "invalid_response", Message: "response is not valid JSON"}
	}
	path := "choices.0.text"
	if chat {
		path = "choices.0.message.content"
	}
	text := gjson.GetBytes(payload, path)
	if !text.Exists() {
		return "", &UpstreamError{Status: status, Type: "invalid_response", Message: "response has no choices"}
	}
	return text.String(), nil
}

// IsUpstreamFailure reports whether err came from the upstream API or the path to it.
func IsUpstreamFailure(err error) bool {
	var upstreamErr *UpstreamError
	return errors.Is(err, ErrUpstreamUnavailable) || errors.As(err, &upstreamErr)
}
