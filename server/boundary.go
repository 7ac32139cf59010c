package server

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

// Delta is a normalized text fragment extracted from a provider's SSE
// stream, or the zero value with Done=true when the stream signals
// completion.
type Delta struct {
	Text string
	Done bool
}

// BoundaryAdapter is the Boundary Adapter component: it parses an
// upstream LLM provider's SSE stream and normalizes the two provider
// shapes this hub understands into a single Delta stream. Nothing in
// this package calls it: MarketplaceHandler streams through
// StreamOrchestrator and the agent fabric, and no upstream SSE
// connection is opened.
//
// The parser is purely structural: it does not validate model names,
// auth, or provider-specific error bodies.
type BoundaryAdapter struct {
	provider string // "openai" or "anthropic"
}

func NewBoundaryAdapter(provider string) *BoundaryAdapter {
	return &BoundaryAdapter{provider: strings.ToLower(provider)}
}

// ParseChunk extracts a Delta from one SSE `data:` payload (the line's
// content, without the "data: " prefix). A nil return means the line
// carried no text delta worth forwarding.
func (b *BoundaryAdapter) ParseChunk(data string) *Delta {
	if b.provider == "anthropic" {
		return parseAnthropicChunk(data)
	}
	return parseOpenAIChunk(data)
}

func parseOpenAIChunk(data string) *Delta {
	if strings.TrimSpace(data) == "[DONE]" {
		return &Delta{Done: true}
	}
	var payload struct {
		Choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
		} `json:"choices"`
	}
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return nil
	}
	if len(payload.Choices) == 0 || payload.Choices[0].Delta.Content == "" {
		return nil
	}
	return &Delta{Text: payload.Choices[0].Delta.Content}
}

func parseAnthropicChunk(data string) *Delta {
	var payload struct {
		Type  string `json:"type"`
		Delta struct {
			Text string `json:"text"`
		} `json:"delta"`
	}
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return nil
	}
	if payload.Type != "content_block_delta" || payload.Delta.Text == "" {
		return nil
	}
	return &Delta{Text: payload.Delta.Text}
}

// Stream reads an SSE byte stream line by line, yielding a Delta for
// every `data:` line the provider's shape parses, and stopping (without
// error) once a Done delta or EOF is observed.
func (b *BoundaryAdapter) Stream(r io.Reader, onDelta func(Delta)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		delta := b.ParseChunk(data)
		if delta == nil {
			continue
		}
		onDelta(*delta)
		if delta.Done {
			return nil
		}
	}
	return scanner.Err()
}
