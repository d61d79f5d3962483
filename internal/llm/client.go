// Package llm provides a client for an OpenAI-compatible chat completions
// endpoint. The dialogue layer treats it as an opaque function from prompt +
// history to text or to a structured JSON decision.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/avoliek/slicetalk/internal/config"
	"github.com/avoliek/slicetalk/internal/domain"
	"github.com/avoliek/slicetalk/internal/shared"
)

// Client calls the chat completions API.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// New creates a chat completions client from config. The per-call timeout is
// carried by the http.Client so one slow call never outlives its budget.
func New(cfg config.LLMConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
	Temperature    float64         `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete sends system + history to the chat API and returns the reply text.
func (c *Client) Complete(ctx context.Context, system string, history []domain.Message) (string, error) {
	return c.complete(ctx, system, history, nil)
}

// CompleteJSON requests a JSON-object response and unmarshals it into out.
func (c *Client) CompleteJSON(ctx context.Context, system string, history []domain.Message, out any) error {
	content, err := c.complete(ctx, system, history, &responseFormat{Type: "json_object"})
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return fmt.Errorf("decoding structured completion: %w (content %.200q)", err, content)
	}
	return nil
}

func (c *Client) complete(ctx context.Context, system string, history []domain.Message, format *responseFormat) (string, error) {
	msgs := make([]chatMessage, 0, len(history)+1)
	if system != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: system})
	}
	for _, m := range history {
		msgs = append(msgs, chatMessage{Role: m.ChatRole(), Content: m.Text})
	}

	reqBody := chatRequest{
		Model:          c.model,
		Messages:       msgs,
		ResponseFormat: format,
		Temperature:    0.2,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshalling chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("creating chat request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", shared.NewTransportError("llm", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", shared.NewTransportError("llm", fmt.Errorf("chat failed (status %d): %s", resp.StatusCode, respBody))
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("decoding chat response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned from chat API")
	}

	content := chatResp.Choices[0].Message.Content
	slog.Debug("chat completion", "model", c.model, "messages", len(msgs), "reply_length", len(content))
	return content, nil
}
