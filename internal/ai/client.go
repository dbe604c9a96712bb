// Package ai talks to the external verdict service. The service is
// treated as unreliable and slow: callers must tolerate absence, timeout,
// and malformed responses, degrading to pattern-only verdicts.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Status is the verdict classification returned by the service.
type Status string

const (
	StatusClean      Status = "clean"
	StatusSuspicious Status = "suspicious"
	StatusMalicious  Status = "malicious"
)

// Verdict is the service's assessment of a condensed content context.
type Verdict struct {
	Status      Status `json:"status"`
	Explanation string `json:"explanation"`
}

// VerdictClient is the interface the finding builder consumes.
type VerdictClient interface {
	Analyze(ctx context.Context, prompt string) (*Verdict, error)
}

// Client wraps the Anthropic API client.
type Client struct {
	client  *anthropic.Client
	model   string
	timeout time.Duration
}

// NewClient creates a verdict client. The API token resolves from the
// parameter first, then the ANTHROPIC_API_KEY environment variable.
func NewClient(model string, apiToken string, timeoutSeconds int) (*Client, error) {
	token := apiToken
	if token == "" {
		token = os.Getenv("ANTHROPIC_API_KEY")
	}
	if token == "" {
		return nil, errors.New("no API token provided: set ai.token or ANTHROPIC_API_KEY environment variable")
	}

	client := anthropic.NewClient(option.WithAPIKey(token))

	timeout := time.Duration(timeoutSeconds) * time.Second
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	return &Client{
		client:  client,
		model:   mapModelName(model),
		timeout: timeout,
	}, nil
}

// mapModelName converts friendly model names to model IDs.
func mapModelName(name string) string {
	switch strings.ToLower(name) {
	case "haiku":
		return "claude-3-5-haiku-latest"
	case "opus":
		return "claude-opus-4-20250514"
	default:
		return "claude-sonnet-4-20250514"
	}
}

const systemPrompt = `You are a malware analyst reviewing code snippets flagged by a
pattern-based scanner on a shared web host. Classify the content as a whole.
Respond with a single JSON object: {"status": "clean" | "suspicious" | "malicious",
"explanation": "<one or two sentences>"}. "clean" means every flagged construct has
a legitimate purpose in context. When in doubt between suspicious and malicious,
prefer suspicious.`

// Analyze sends the condensed context for classification.
func (c *Client) Analyze(ctx context.Context, prompt string) (*Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.F(c.model),
		MaxTokens: anthropic.F(int64(512)),
		System: anthropic.F([]anthropic.TextBlockParam{
			anthropic.NewTextBlock(systemPrompt),
		}),
		Messages: anthropic.F([]anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}

	responseText := extractTextContent(message)
	if responseText == "" {
		return nil, errors.New("empty response from API")
	}

	verdict, err := ParseVerdict(responseText)
	if err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return verdict, nil
}

// extractTextContent extracts text from the message response.
func extractTextContent(message *anthropic.Message) string {
	var text strings.Builder
	for _, block := range message.Content {
		if block.Type == anthropic.ContentBlockTypeText {
			text.WriteString(block.Text)
		}
	}
	return text.String()
}

// ParseVerdict parses a service response into a Verdict, tolerating
// markdown fencing around the JSON object.
func ParseVerdict(text string) (*Verdict, error) {
	text = extractJSON(text)

	var raw struct {
		Status      string `json:"status"`
		Explanation string `json:"explanation"`
	}
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, err
	}

	switch Status(strings.ToLower(raw.Status)) {
	case StatusClean, StatusSuspicious, StatusMalicious:
		return &Verdict{Status: Status(strings.ToLower(raw.Status)), Explanation: raw.Explanation}, nil
	default:
		return nil, fmt.Errorf("unknown verdict status %q", raw.Status)
	}
}

// extractJSON extracts JSON from text that might contain markdown code blocks.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.Contains(text, "```") {
		start := strings.Index(text, "```json")
		if start == -1 {
			start = strings.Index(text, "```")
		}
		if start != -1 {
			contentStart := strings.Index(text[start:], "\n")
			if contentStart != -1 {
				start = start + contentStart + 1
			}
		}

		end := strings.LastIndex(text, "```")
		if start != -1 && end > start {
			text = text[start:end]
		}
	}

	text = strings.TrimSpace(text)
	jsonStart := strings.Index(text, "{")
	jsonEnd := strings.LastIndex(text, "}")

	if jsonStart != -1 && jsonEnd > jsonStart {
		text = text[jsonStart : jsonEnd+1]
	}

	return strings.TrimSpace(text)
}
