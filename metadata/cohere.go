package metadata

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	cohere "github.com/cohere-ai/cohere-go/v2"
	cohereclient "github.com/cohere-ai/cohere-go/v2/client"

	"clipsmith/store"
)

const prompt = `Analyze the following video clip transcript and generate relevant metadata.

Transcript:
---
%s
---

Based ONLY on the transcript provided, generate the following metadata in JSON format:
{
  "title": "A concise, engaging title for this clip (max 10 words)",
  "description": "A brief summary of the clip's content (1-2 sentences)",
  "keywords": ["list", "of", "relevant", "keywords", "or", "tags"]
}

JSON Output:`

// Generator produces clip metadata from transcript text via the Cohere
// chat API.
type Generator struct {
	client *cohereclient.Client
	model  string
}

// NewGenerator creates a metadata generator, or nil when no API key is
// configured. Callers treat a nil generator as "metadata disabled".
func NewGenerator(apiKey, model string) *Generator {
	if apiKey == "" {
		return nil
	}

	// Force HTTP/1.1 to avoid HTTP/2 protocol errors against the API edge.
	httpClient := &http.Client{
		Timeout: 60 * time.Second,
		Transport: &http.Transport{
			TLSNextProto:      make(map[string]func(authority string, c *tls.Conn) http.RoundTripper),
			ForceAttemptHTTP2: false,
		},
	}

	client := cohereclient.NewClient(
		cohereclient.WithToken(apiKey),
		cohereclient.WithHTTPClient(httpClient),
	)
	return &Generator{client: client, model: model}
}

// Generate asks the model for title/description/keywords grounded on the
// transcript.
func (g *Generator) Generate(ctx context.Context, transcript string) (store.GeneratedMetadata, error) {
	if strings.TrimSpace(transcript) == "" {
		return store.GeneratedMetadata{}, errors.New("metadata generation requires transcript text")
	}

	resp, err := g.client.Chat(ctx, &cohere.ChatRequest{
		Model:   &g.model,
		Message: fmt.Sprintf(prompt, transcript),
	})
	if err != nil {
		return store.GeneratedMetadata{}, fmt.Errorf("cohere chat: %w", err)
	}
	if resp == nil || resp.Text == "" {
		return store.GeneratedMetadata{}, errors.New("cohere chat returned empty response")
	}

	meta, err := parseResponse(resp.Text)
	if err != nil {
		return store.GeneratedMetadata{}, err
	}
	return meta, nil
}

// parseResponse extracts the JSON object from the model reply, tolerating
// markdown code fences around it.
func parseResponse(text string) (store.GeneratedMetadata, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var meta store.GeneratedMetadata
	if err := json.Unmarshal([]byte(text), &meta); err != nil {
		return store.GeneratedMetadata{}, fmt.Errorf("parse metadata response: %w", err)
	}
	if meta.Title == "" {
		return store.GeneratedMetadata{}, fmt.Errorf("metadata response missing title: %q", text)
	}
	return meta, nil
}
