// Package ai wraps the Gemini API for bot replies and report
// summarization. The client degrades gracefully: without an API key it
// constructs fine but reports itself unavailable, and callers fall back
// to non-AI behavior.
package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.5-flash"

// ErrUnavailable is returned by generation methods when no API key was
// configured.
var ErrUnavailable = errors.New("ai: no API key configured")

// audioNote is appended to the system instruction when the request
// carries an audio attachment, so the model transcribes before replying.
const audioNote = "The user sent an audio message. First transcribe it, then respond to its content."

// MediaAttachment is inline media passed alongside a prompt.
type MediaAttachment struct {
	Data     []byte
	MimeType string
}

// Client talks to the Gemini API.
type Client struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

// NewClient creates a Gemini client. An empty API key yields a client
// that is constructed but unavailable, so the rest of the system can
// run without AI features.
func NewClient(ctx context.Context, apiKey, model string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "ai")

	if model == "" {
		model = DefaultModel
	}

	c := &Client{model: model, logger: logger}
	if apiKey == "" {
		logger.Warn("no Gemini API key configured, AI features disabled")
		return c, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating Gemini client: %w", err)
	}
	c.client = client
	logger.Info("Gemini client ready", "model", model)
	return c, nil
}

// Available reports whether the client can make API calls.
func (c *Client) Available() bool {
	return c != nil && c.client != nil
}

// GenerateReply produces a response to prompt under the given system
// instruction. Media, when present, is sent inline with the prompt.
func (c *Client) GenerateReply(ctx context.Context, systemInstruction, prompt string, media *MediaAttachment) (string, error) {
	if !c.Available() {
		return "", ErrUnavailable
	}

	parts := []*genai.Part{genai.NewPartFromText(prompt)}
	if media != nil && len(media.Data) > 0 {
		parts = append(parts, genai.NewPartFromBytes(media.Data, media.MimeType))
		if strings.HasPrefix(media.MimeType, "audio/") {
			if systemInstruction != "" {
				systemInstruction += "\n\n"
			}
			systemInstruction += audioNote
		}
	}

	config := &genai.GenerateContentConfig{}
	if systemInstruction != "" {
		config.SystemInstruction = genai.NewContentFromText(systemInstruction, genai.RoleUser)
	}

	contents := []*genai.Content{
		genai.NewContentFromParts(parts, genai.RoleUser),
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("empty response from model")
	}
	return text, nil
}

// Summarize runs a plain prompt without media or a system instruction,
// used by the daily report.
func (c *Client) Summarize(ctx context.Context, prompt string) (string, error) {
	if !c.Available() {
		return "", ErrUnavailable
	}

	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("generating summary: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("empty response from model")
	}
	return text, nil
}
