package idx_test

import (
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/twofactor/pkg/idx"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"
)

func TestNewAt_EmbedsTime(t *testing.T) {
	tm := time.Unix(1700000000, 0).UTC()
	id := idx.NewAt(tm)

	u, err := ulid.ParseStrict(id.String())
	require.NoError(t, err)
	require.WithinDuration(t, tm, ulid.Time(u.Time()), time.Millisecond)
}

func TestNewAt_SortsByTime(t *testing.T) {
	a := idx.NewAt(time.Unix(1, 0).UTC())
	b := idx.NewAt(time.Unix(2, 0).UTC())
	require.Less(t, a.String(), b.String())
}

func TestNewAt_Concurrent(t *testing.T) {
	const n = 200
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[idx.ID]struct{}, n)
		now  = time.Now().UTC()
	)

	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := idx.NewAt(now)
			mu.Lock()
			seen[id] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, seen, n)
}
