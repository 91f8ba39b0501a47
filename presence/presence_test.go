package presence

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndLookup(t *testing.T) {
	r := NewRegistry()

	_, ok := r.Lookup("u1")
	assert.False(t, ok)

	prev, had := r.Register("u1", "c1")
	assert.False(t, had)
	assert.Empty(t, prev)

	connID, ok := r.Lookup("u1")
	require.True(t, ok)
	assert.Equal(t, "c1", connID)
}

func TestRegisterOverwriteReturnsPrevious(t *testing.T) {
	r := NewRegistry()

	r.Register("u1", "c1")
	prev, had := r.Register("u1", "c2")
	require.True(t, had)
	assert.Equal(t, "c1", prev)

	connID, ok := r.Lookup("u1")
	require.True(t, ok)
	assert.Equal(t, "c2", connID)
	assert.Equal(t, 1, r.Count())
}

func TestUnregisterMatchingConnection(t *testing.T) {
	r := NewRegistry()

	r.Register("u1", "c1")
	assert.True(t, r.Unregister("u1", "c1"))

	_, ok := r.Lookup("u1")
	assert.False(t, ok)
}

func TestUnregisterStaleConnectionIsNoop(t *testing.T) {
	r := NewRegistry()

	r.Register("u1", "c1")
	r.Register("u1", "c2")

	// The superseded connection's disconnect must not evict the survivor.
	assert.False(t, r.Unregister("u1", "c1"))

	connID, ok := r.Lookup("u1")
	require.True(t, ok)
	assert.Equal(t, "c2", connID)
}

func TestUnregisterUnknownUser(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.Unregister("ghost", "c1"))
}

func TestConcurrentRegisterSingleSurvivor(t *testing.T) {
	r := NewRegistry()
	const n = 64

	var wg sync.WaitGroup
	connIDs := make([]string, n)
	for i := 0; i < n; i++ {
		connIDs[i] = fmt.Sprintf("conn-%d", i)
	}

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(connID string) {
			defer wg.Done()
			r.Register("u1", connID)
		}(connIDs[i])
	}
	wg.Wait()

	// Exactly one entry remains and it is one of the registered ids.
	require.Equal(t, 1, r.Count())
	survivor, ok := r.Lookup("u1")
	require.True(t, ok)
	assert.Contains(t, connIDs, survivor)

	// Every loser's own unregister must leave the survivor alone.
	for _, connID := range connIDs {
		if connID == survivor {
			continue
		}
		assert.False(t, r.Unregister("u1", connID))
	}
	got, ok := r.Lookup("u1")
	require.True(t, ok)
	assert.Equal(t, survivor, got)
}

func TestSnapshotIsACopy(t *testing.T) {
	r := NewRegistry()
	r.Register("u1", "c1")
	r.Register("u2", "c2")

	snap := r.Snapshot()
	assert.Equal(t, map[string]string{"u1": "c1", "u2": "c2"}, snap)

	snap["u1"] = "tampered"
	delete(snap, "u2")

	connID, ok := r.Lookup("u1")
	require.True(t, ok)
	assert.Equal(t, "c1", connID)
	assert.Equal(t, 2, r.Count())
}
