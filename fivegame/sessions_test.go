package fivegame

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionRegistryBindGet(t *testing.T) {
	sr := NewSessionRegistry()

	_, ok := sr.Get("conn-a")
	assert.False(t, ok)

	sess := sr.Bind("conn-a", "alice", 500)
	assert.Equal(t, "conn-a", sess.ConnID)
	assert.Equal(t, "alice", sess.UserID)
	assert.Equal(t, int64(500), sess.Balance)

	got, ok := sr.Get("conn-a")
	require.True(t, ok)
	assert.Equal(t, sess, got)
	assert.Equal(t, 1, sr.Count())

	// re-binding the same connection replaces the session
	sr.Bind("conn-a", "bob", 200)
	got, ok = sr.Get("conn-a")
	require.True(t, ok)
	assert.Equal(t, "bob", got.UserID)
	assert.Equal(t, 1, sr.Count())
}

func TestSessionRegistryByUser(t *testing.T) {
	sr := NewSessionRegistry()
	sr.Bind("conn-a", "alice", 500)
	sr.Bind("conn-b", "alice", 500)
	sr.Bind("conn-c", "bob", 100)

	sessions := sr.ByUser("alice")
	assert.Len(t, sessions, 2)
	for _, sess := range sessions {
		assert.Equal(t, "alice", sess.UserID)
	}

	assert.Len(t, sr.ByUser("bob"), 1)
	assert.Empty(t, sr.ByUser("carol"))
}

func TestSessionRegistrySetBalance(t *testing.T) {
	sr := NewSessionRegistry()
	sr.Bind("conn-a", "alice", 500)

	sr.SetBalance("conn-a", 720)
	got, ok := sr.Get("conn-a")
	require.True(t, ok)
	assert.Equal(t, int64(720), got.Balance)

	// unknown connection is a no-op
	sr.SetBalance("conn-x", 999)
	_, ok = sr.Get("conn-x")
	assert.False(t, ok)
}

func TestSessionRegistryRemove(t *testing.T) {
	sr := NewSessionRegistry()
	sr.Bind("conn-a", "alice", 500)
	sr.Bind("conn-b", "bob", 100)

	sr.Remove("conn-a")
	_, ok := sr.Get("conn-a")
	assert.False(t, ok)
	assert.Equal(t, 1, sr.Count())

	// removing twice must not panic
	sr.Remove("conn-a")
	assert.Equal(t, 1, sr.Count())
}

func TestSessionRegistryConcurrentAccess(t *testing.T) {
	sr := NewSessionRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			connID := fmt.Sprintf("conn-%d", n)
			for j := 0; j < 100; j++ {
				sr.Bind(connID, "alice", int64(j))
				sr.Get(connID)
				sr.SetBalance(connID, int64(j)*2)
				sr.ByUser("alice")
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, sr.Count())
	assert.Len(t, sr.ByUser("alice"), 10)
}
