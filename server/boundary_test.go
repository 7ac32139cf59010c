package server

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOpenAIChunk(t *testing.T) {
	b := NewBoundaryAdapter("openai")

	d := b.ParseChunk(`{"choices":[{"delta":{"content":"Hel"}}]}`)
	require.NotNil(t, d)
	assert.Equal(t, "Hel", d.Text)
	assert.False(t, d.Done)

	d = b.ParseChunk("[DONE]")
	require.NotNil(t, d)
	assert.True(t, d.Done)

	assert.Nil(t, b.ParseChunk(`{"choices":[]}`))
	assert.Nil(t, b.ParseChunk(`{"choices":[{"delta":{}}]}`))
	assert.Nil(t, b.ParseChunk(`not json`))
}

func TestParseAnthropicChunk(t *testing.T) {
	b := NewBoundaryAdapter("anthropic")

	d := b.ParseChunk(`{"type":"content_block_delta","delta":{"text":"Hel"}}`)
	require.NotNil(t, d)
	assert.Equal(t, "Hel", d.Text)

	assert.Nil(t, b.ParseChunk(`{"type":"message_start"}`))
	assert.Nil(t, b.ParseChunk(`{"type":"content_block_delta","delta":{}}`))
	assert.Nil(t, b.ParseChunk(`{"type":"ping"}`))
	assert.Nil(t, b.ParseChunk(`garbage`))
}

func TestBoundaryAdapter_Stream(t *testing.T) {
	sse := strings.Join([]string{
		`data: {"choices":[{"delta":{"content":"Hello"}}]}`,
		``,
		`: a comment line`,
		`data: {"choices":[{"delta":{"content":", world"}}]}`,
		`data: [DONE]`,
		`data: {"choices":[{"delta":{"content":"after done, never seen"}}]}`,
	}, "\n")

	b := NewBoundaryAdapter("openai")
	var got strings.Builder
	doneSeen := false
	err := b.Stream(strings.NewReader(sse), func(d Delta) {
		if d.Done {
			doneSeen = true
			return
		}
		got.WriteString(d.Text)
	})
	require.NoError(t, err)
	assert.True(t, doneSeen)
	assert.Equal(t, "Hello, world", got.String())
}

func TestBoundaryAdapter_StreamAnthropic(t *testing.T) {
	sse := strings.Join([]string{
		`data: {"type":"message_start"}`,
		`data: {"type":"content_block_delta","delta":{"text":"par"}}`,
		`data: {"type":"content_block_delta","delta":{"text":"tial"}}`,
		`data: {"type":"message_stop"}`,
	}, "\n")

	b := NewBoundaryAdapter("anthropic")
	var got strings.Builder
	err := b.Stream(strings.NewReader(sse), func(d Delta) {
		got.WriteString(d.Text)
	})
	require.NoError(t, err)
	assert.Equal(t, "partial", got.String())
}
