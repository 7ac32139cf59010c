package server

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeChunk(t *testing.T) {
	tests := []struct {
		name        string
		accumulated string
		incoming    string
		want        string
	}{
		{"first chunk is always a delta", "", "Hello", "Hello"},
		{"accumulated mode yields the suffix", "Hello", "Hello, world", ", world"},
		{"identical snapshot yields nothing", "Hello", "Hello", ""},
		{"non-prefix is a delta", "Hello", ", world", ", world"},
		{"delta that happens to repeat text", "abcabc", "abc", "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeChunk(tt.accumulated, tt.incoming))
		})
	}
}

func collectUntilClosed(t *testing.T, events <-chan AgentEvent) []AgentEvent {
	t.Helper()
	var out []AgentEvent
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("events channel never closed")
		}
	}
}

// Feeding accumulated-mode snapshots must yield deltas whose
// concatenation equals the last snapshot.
func TestAgentTaskRouter_AccumulatedModeNormalization(t *testing.T) {
	r := NewAgentTaskRouter(time.Minute)
	events := r.Register("t1", "agent1")

	snapshots := []string{"He", "Hell", "Hello, ", "Hello, world", "Hello, world!"}
	go func() {
		for _, s := range snapshots {
			r.HandleChunk("agent1", "t1", s)
		}
		r.Complete("agent1", "t1", "Hello, world!", nil)
	}()

	var b strings.Builder
	for _, ev := range collectUntilClosed(t, events) {
		switch ev.Kind {
		case AgentEventChunk:
			b.WriteString(ev.Delta)
		case AgentEventComplete:
			assert.Equal(t, "Hello, world!", ev.Content)
		}
	}
	assert.Equal(t, snapshots[len(snapshots)-1], b.String())
}

func TestAgentTaskRouter_DeltaMode(t *testing.T) {
	r := NewAgentTaskRouter(time.Minute)
	events := r.Register("t1", "agent1")

	go func() {
		r.HandleChunk("agent1", "t1", "foo")
		r.HandleChunk("agent1", "t1", "bar")
		r.Complete("agent1", "t1", "foobar", nil)
	}()

	var b strings.Builder
	for _, ev := range collectUntilClosed(t, events) {
		if ev.Kind == AgentEventChunk {
			b.WriteString(ev.Delta)
		}
	}
	assert.Equal(t, "foobar", b.String())
}

func TestAgentTaskRouter_CompleteCarriesMentions(t *testing.T) {
	r := NewAgentTaskRouter(time.Minute)
	events := r.Register("t1", "agent1")

	go r.Complete("agent1", "t1", "done", []string{"a2", "a3"})

	evs := collectUntilClosed(t, events)
	require.Len(t, evs, 1)
	assert.Equal(t, AgentEventComplete, evs[0].Kind)
	assert.Equal(t, []string{"a2", "a3"}, evs[0].Mentions)
}

// Frames for a cancelled task are dropped silently; the events channel
// closes without a terminal event.
func TestAgentTaskRouter_CancelDropsLateFrames(t *testing.T) {
	r := NewAgentTaskRouter(time.Minute)
	events := r.Register("t1", "agent1")

	r.Cancel("t1")
	r.HandleChunk("agent1", "t1", "late chunk")
	r.Complete("agent1", "t1", "late complete", nil)
	r.Fail("agent1", "t1", "late error")

	assert.Empty(t, collectUntilClosed(t, events))
}

// A frame whose agentID doesn't own the task is ignored, so a second
// agent can't write into someone else's stream.
func TestAgentTaskRouter_WrongAgentIgnored(t *testing.T) {
	r := NewAgentTaskRouter(time.Minute)
	events := r.Register("t1", "agent1")

	r.HandleChunk("intruder", "t1", "nope")
	r.Complete("intruder", "t1", "nope", nil)

	go r.Complete("agent1", "t1", "real", nil)
	evs := collectUntilClosed(t, events)
	require.Len(t, evs, 1)
	assert.Equal(t, "real", evs[0].Content)
}

func TestAgentTaskRouter_DisconnectSweepsTasks(t *testing.T) {
	r := NewAgentTaskRouter(time.Minute)
	e1 := r.Register("t1", "agent1")
	e2 := r.Register("t2", "agent1")
	e3 := r.Register("t3", "agent2")

	r.DisconnectAgent("agent1")

	for _, events := range []<-chan AgentEvent{e1, e2} {
		evs := collectUntilClosed(t, events)
		require.Len(t, evs, 1)
		assert.Equal(t, AgentEventAborted, evs[0].Kind)
		assert.Equal(t, "agent disconnected", evs[0].Error)
	}

	// agent2's task is untouched and still completable.
	go r.Complete("agent2", "t3", "fine", nil)
	evs := collectUntilClosed(t, e3)
	require.Len(t, evs, 1)
	assert.Equal(t, AgentEventComplete, evs[0].Kind)
}

func TestAgentTaskRouter_IdleTimeout(t *testing.T) {
	r := NewAgentTaskRouter(20 * time.Millisecond)
	events := r.Register("t1", "agent1")

	evs := collectUntilClosed(t, events)
	require.Len(t, evs, 1)
	assert.Equal(t, AgentEventAborted, evs[0].Kind)
	assert.Contains(t, evs[0].Error, "timed out")
}

// A chunk resets the idle deadline, so a slow-but-alive agent is not
// timed out between chunks.
func TestAgentTaskRouter_ChunkResetsIdleDeadline(t *testing.T) {
	r := NewAgentTaskRouter(80 * time.Millisecond)
	events := r.Register("t1", "agent1")

	go func() {
		for i := 0; i < 4; i++ {
			time.Sleep(50 * time.Millisecond)
			r.HandleChunk("agent1", "t1", "x")
		}
		r.Complete("agent1", "t1", "xxxx", nil)
	}()

	evs := collectUntilClosed(t, events)
	require.NotEmpty(t, evs)
	assert.Equal(t, AgentEventComplete, evs[len(evs)-1].Kind)
}
