package bot

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatQueues_CloseWaitsForPending(t *testing.T) {
	var mu sync.Mutex
	seen := map[int64][]string{}
	q := newChatQueues(func(ev Event) {
		time.Sleep(time.Millisecond)
		mu.Lock()
		seen[ev.ChatID] = append(seen[ev.ChatID], ev.Text)
		mu.Unlock()
	})

	for _, s := range []string{"a", "b", "c"} {
		require.True(t, q.push(Event{ChatID: 1, Text: s}))
		require.True(t, q.push(Event{ChatID: 2, Text: s}))
	}
	require.NoError(t, q.close(context.Background()))

	assert.Equal(t, []string{"a", "b", "c"}, seen[1])
	assert.Equal(t, []string{"a", "b", "c"}, seen[2])
	assert.False(t, q.push(Event{ChatID: 1, Text: "late"}))
}

func TestChatQueues_CloseHonoursContext(t *testing.T) {
	release := make(chan struct{})
	q := newChatQueues(func(Event) { <-release })
	defer close(release)

	require.True(t, q.push(Event{ChatID: 1}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.close(ctx), context.DeadlineExceeded)
}
