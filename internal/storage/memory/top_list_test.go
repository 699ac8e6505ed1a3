package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/hn-mirror/internal/item"
)

func TestTopList_EmptyBeforeSet(t *testing.T) {
	t.Parallel()

	top := NewTopList(nil)
	require.NotNil(t, top.Get())
	require.Empty(t, top.Get())
	require.False(t, top.Published())
}

func TestTopList_SetCopiesInput(t *testing.T) {
	t.Parallel()

	top := NewTopList(nil)
	ids := []item.ID{10, 20, 30}
	top.Set(ids)
	ids[0] = 99

	require.Equal(t, []item.ID{10, 20, 30}, top.Get())
	require.True(t, top.Published())
}

func TestTopList_OldSnapshotSurvivesReplace(t *testing.T) {
	t.Parallel()

	top := NewTopList(nil)
	top.Set([]item.ID{1, 2})
	old := top.Get()
	top.Set([]item.ID{3, 4, 5})

	require.Equal(t, []item.ID{1, 2}, old)
	require.Equal(t, []item.ID{3, 4, 5}, top.Get())
}

// TestTopList_NoTornReads has one writer alternate between two uniform lists
// of different lengths while readers assert every snapshot is uniform.
func TestTopList_NoTornReads(t *testing.T) {
	t.Parallel()

	uniform := func(v item.ID, n int) []item.ID {
		out := make([]item.ID, n)
		for i := range out {
			out[i] = v
		}
		return out
	}
	lists := [][]item.ID{uniform(1, 30), uniform(2, 17)}

	top := NewTopList(nil)
	top.Set(lists[0])

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ctx.Err() == nil; i++ {
			top.Set(lists[i%2])
		}
	}()

	errs := make(chan string, 4)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				snap := top.Get()
				switch {
				case len(snap) == 30 && snap[0] == 1 && snap[29] == 1:
				case len(snap) == 17 && snap[0] == 2 && snap[16] == 2:
				default:
					errs <- "observed torn top list"
					return
				}
				for _, v := range snap {
					if v != snap[0] {
						errs <- "observed mixed top list"
						return
					}
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for msg := range errs {
		t.Fatal(msg)
	}
}
