// Package llm defines the Provider boundary (spec §6: "consumed, not
// specified here") and a single concrete HTTPS+JSON implementation. The
// Controller only depends on the Provider interface; everything about a
// specific vendor's wire format lives behind it.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/riftlabs/rfsn-controller/pkg/rerr"
)

// Provider accepts a prompt and a sampling temperature, and returns the
// model's raw UTF-8 JSON reply text for pkg/modelio to parse. It takes no
// schema or mode hint; the expected reply shape is conveyed by the prompt.
// Malformed or off-schema replies are not this interface's concern — it
// only reports transport/auth failures as errors.
type Provider interface {
	Complete(ctx context.Context, prompt string, temperature float64) (string, error)
}

// HTTPProvider is the one concrete Provider: a generic chat-completions
// style HTTPS client. Only the Endpoint, API key, and model are
// configurable; the request and response always use the chat-completions
// JSON shape below.
type HTTPProvider struct {
	Endpoint   string
	APIKey     string
	Model      string
	HTTPClient *http.Client
}

// NewHTTPProvider reads the API key from the environment variable named
// envVar (spec §6: "<PROVIDER>_API_KEY"). Returns a model_provider_missing
// error if it is unset, per spec §7's fail-closed list.
func NewHTTPProvider(endpoint, envVar, model string) (*HTTPProvider, error) {
	key := os.Getenv(envVar)
	if strings.TrimSpace(key) == "" {
		return nil, rerr.New(rerr.CodeModelProviderMissing, "environment variable "+envVar+" is not set").
			WithContext("env_var", envVar)
	}
	return &HTTPProvider{
		Endpoint:   endpoint,
		APIKey:     key,
		Model:      model,
		HTTPClient: &http.Client{Timeout: 90 * time.Second},
	}, nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	Messages    []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete posts prompt as a single user message to Endpoint and returns
// the first choice's content verbatim — the raw text pkg/modelio.Parse
// expects.
func (p *HTTPProvider) Complete(ctx context.Context, prompt string, temperature float64) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       p.Model,
		Temperature: temperature,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", rerr.Wrap(err, rerr.CodeUnexpectedException, "marshal LLM request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", rerr.Wrap(err, rerr.CodeUnexpectedException, "build LLM request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.APIKey)

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return "", rerr.Wrap(err, rerr.CodeUnexpectedException, "LLM request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", rerr.Wrap(err, rerr.CodeUnexpectedException, "read LLM response body")
	}

	if resp.StatusCode >= 400 {
		return "", rerr.New(rerr.CodeUnexpectedException, fmt.Sprintf("LLM endpoint returned %d: %s", resp.StatusCode, string(raw)))
	}

	var cr chatResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return "", rerr.Wrap(err, rerr.CodeUnexpectedException, "LLM response was not valid JSON")
	}
	if cr.Error != nil {
		return "", rerr.New(rerr.CodeUnexpectedException, "LLM provider error: "+cr.Error.Message)
	}
	if len(cr.Choices) == 0 {
		return "", rerr.New(rerr.CodeUnexpectedException, "LLM response carried no choices")
	}
	return cr.Choices[0].Message.Content, nil
}
