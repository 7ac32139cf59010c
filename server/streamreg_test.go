package server

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamRegistry_AdmitBindFinalize(t *testing.T) {
	r := NewStreamRegistry()
	key := streamKey("conv1", "agent1")

	require.True(t, r.TryAdmit(key, queuedTask{}))
	assert.True(t, r.HasActiveStream(key))

	// Reserved but unbound: no message to report yet.
	_, ok := r.ActiveMessageID(key)
	assert.False(t, ok)

	cancelCh := r.Bind(key, "m1")
	require.NotNil(t, cancelCh)

	id, ok := r.ActiveMessageID(key)
	require.True(t, ok)
	assert.Equal(t, "m1", id)

	next, ok := r.Finalize(key, "m1")
	assert.False(t, ok)
	assert.Zero(t, next)
	assert.False(t, r.HasActiveStream(key))
}

// Follow-ups for a busy key come back out in arrival order, one per
// finalization.
func TestStreamRegistry_FollowupFIFO(t *testing.T) {
	r := NewStreamRegistry()
	key := streamKey("conv1", "agent1")

	require.True(t, r.TryAdmit(key, queuedTask{}))
	r.Bind(key, "m1")

	for _, content := range []string{"second", "third", "fourth"} {
		assert.False(t, r.TryAdmit(key, queuedTask{content: content}))
	}

	active := "m1"
	for i, want := range []string{"second", "third", "fourth"} {
		next, ok := r.Finalize(key, active)
		require.True(t, ok)
		assert.Equal(t, want, next.content)

		require.True(t, r.TryAdmit(key, next))
		active = fmt.Sprintf("m%d", i+2)
		r.Bind(key, active)
	}

	_, ok := r.Finalize(key, active)
	assert.False(t, ok)
}

// Separate keys never contend: the same agent can stream into two
// conversations, and two agents into the same conversation.
func TestStreamRegistry_KeysIndependent(t *testing.T) {
	r := NewStreamRegistry()

	require.True(t, r.TryAdmit(streamKey("conv1", "agent1"), queuedTask{}))
	assert.True(t, r.TryAdmit(streamKey("conv2", "agent1"), queuedTask{}))
	assert.True(t, r.TryAdmit(streamKey("conv1", "agent2"), queuedTask{}))
}

// TryReserve reports busy instead of queueing.
func TestStreamRegistry_TryReserveDoesNotQueue(t *testing.T) {
	r := NewStreamRegistry()
	key := streamKey("conv1", "agent1")

	require.True(t, r.TryReserve(key))
	assert.False(t, r.TryReserve(key))

	// Nothing was queued by the failed reserve.
	next, ok := r.Finalize(key, "")
	assert.False(t, ok)
	assert.Zero(t, next)
}

// An abandoned reservation (allocation failed before Bind) releases the
// slot and surfaces the next queued task.
func TestStreamRegistry_FinalizeUnboundReservation(t *testing.T) {
	r := NewStreamRegistry()
	key := streamKey("conv1", "agent1")

	require.True(t, r.TryAdmit(key, queuedTask{}))
	assert.False(t, r.TryAdmit(key, queuedTask{content: "queued"}))

	next, ok := r.Finalize(key, "")
	require.True(t, ok)
	assert.Equal(t, "queued", next.content)
	assert.False(t, r.HasActiveStream(key))
}

func TestStreamRegistry_CancelIdempotent(t *testing.T) {
	r := NewStreamRegistry()
	key := streamKey("conv1", "agent1")

	require.True(t, r.TryAdmit(key, queuedTask{}))
	cancelCh := r.Bind(key, "m1")

	assert.True(t, r.Cancel("m1"))
	assert.True(t, r.Cancel("m1")) // second cancel is a no-op, not a panic

	select {
	case <-cancelCh:
	default:
		t.Fatal("cancel channel not closed")
	}

	// After finalization the canceller is gone.
	r.Finalize(key, "m1")
	assert.False(t, r.Cancel("m1"))
}

func TestStreamRegistry_CancelUnknownMessage(t *testing.T) {
	r := NewStreamRegistry()
	assert.False(t, r.Cancel("never-registered"))
}
