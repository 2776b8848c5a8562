package msgindex

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWindow(t *testing.T) {
	ctx := context.Background()
	x, err := Open(ctx, filepath.Join(t.TempDir(), "index.db"), time.Second)
	require.NoError(t, err)
	defer x.Close()

	now := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	for id, album := range map[int]string{80: "", 98: "a1", 100: "a1", 101: "a1", 105: "a1", 110: "", 111: "b"} {
		require.NoError(t, x.Record(ctx, Message{ChatID: -1001234567890, Username: "SourceChan", ID: id, AlbumID: album, Date: now}))
	}
	// Same ids in another chat never leak in.
	require.NoError(t, x.Record(ctx, Message{ChatID: -1009, Username: "otherchan", ID: 100, AlbumID: "zz", Date: now}))

	refs, err := x.Window(ctx, "@sourcechan", 100, 20)
	require.NoError(t, err)
	var ids []int
	for _, r := range refs {
		ids = append(ids, r.ID)
		require.Equal(t, "@sourcechan", r.Chat)
	}
	require.Equal(t, []int{98, 100, 101, 105}, ids)
	require.Equal(t, "a1", refs[0].GroupKey)

	refs, err = x.Window(ctx, "-1001234567890", 110, 4)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	require.Equal(t, 110, refs[0].ID)
	require.Equal(t, "b", refs[1].GroupKey)

	_, err = x.Window(ctx, "sourcechan", 100, 20)
	require.Error(t, err)
}

func TestRecordUpsertAndPrune(t *testing.T) {
	ctx := context.Background()
	x, err := Open(ctx, filepath.Join(t.TempDir(), "index.db"), 0)
	require.NoError(t, err)
	defer x.Close()

	old := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, x.Record(ctx, Message{ChatID: -1001, Username: "chan_one", ID: 5, Date: old}))
	require.NoError(t, x.Record(ctx, Message{ChatID: -1001, Username: "chan_one", ID: 5, AlbumID: "g", Date: old}))
	require.NoError(t, x.Record(ctx, Message{ChatID: -1001, Username: "chan_one", ID: 6, Date: old.AddDate(1, 0, 0)}))

	refs, err := x.Window(ctx, "@chan_one", 5, 20)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	require.Equal(t, "g", refs[0].GroupKey)

	n, err := x.Prune(ctx, old.Add(time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	require.Error(t, x.Record(ctx, Message{ChatID: 0, ID: 1}))
}
