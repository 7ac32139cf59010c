package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	in := NewEnvelope(TypeUserMessage, &UserMessage{
		ConversationID: "conv_1",
		Content:        "hello @a1",
		Mentions:       []string{"a1"},
	})
	in.UserID = "u1"

	data, err := in.Encode()
	require.NoError(t, err)

	out, err := DecodeEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, TypeUserMessage, out.Type)
	assert.Equal(t, "u1", out.UserID)

	body, err := DecodeBody[UserMessage](out)
	require.NoError(t, err)
	assert.Equal(t, "conv_1", body.ConversationID)
	assert.Equal(t, "hello @a1", body.Content)
	assert.Equal(t, []string{"a1"}, body.Mentions)
}

// DecodeBody must work both on a freshly constructed envelope (typed
// Body) and on one that came off the wire (map Body).
func TestDecodeBody_TypedPassthrough(t *testing.T) {
	env := NewEnvelope(TypeAgentChunk, AgentChunk{TaskID: "t1", Content: "abc"})
	body, err := DecodeBody[AgentChunk](env)
	require.NoError(t, err)
	assert.Equal(t, "t1", body.TaskID)
	assert.Equal(t, "abc", body.Content)
}

func TestDecodeEnvelope_Garbage(t *testing.T) {
	_, err := DecodeEnvelope([]byte{0xc1, 0xff, 0x00})
	assert.Error(t, err)
}

func TestTraceParent(t *testing.T) {
	env := NewEnvelope(TypePong, &Pong{})
	assert.Empty(t, env.TraceParent())
	assert.False(t, env.HasTraceContext())

	env.TraceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	env.SpanID = "00f067aa0ba902b7"
	env.TraceFlags = 1
	assert.True(t, env.HasTraceContext())
	assert.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", env.TraceParent())
}
