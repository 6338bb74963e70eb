package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chatrelay/pkg/envelope"
)

func openTemp(t *testing.T) {
	t.Helper()
	require.NoError(t, Open(filepath.Join(t.TempDir(), "journal")))
	t.Cleanup(func() { require.NoError(t, Close()) })
}

func TestJournal_AppendAndListInOrder(t *testing.T) {
	openTemp(t)

	require.NoError(t, Append("13800000000", envelope.Event{Type: "points_update", Data: `{"newPoints":10}`}))
	require.NoError(t, Append("13800000000", envelope.Event{Type: "chat_message", Data: `{"id":1}`}))
	require.NoError(t, Append("admin", envelope.Event{Type: "notification", Data: "x"}))

	recs, err := List("13800000000", 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, "points_update", recs[0].Type)
	require.Equal(t, "chat_message", recs[1].Type)

	recs, err = List("admin", 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
}

func TestJournal_ListLimit(t *testing.T) {
	openTemp(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, Append("admin", envelope.Event{Type: "notification", Data: "n"}))
	}
	recs, err := List("admin", 3)
	require.NoError(t, err)
	require.Len(t, recs, 3)
}

func TestJournal_SweepOlderThan(t *testing.T) {
	openTemp(t)

	require.NoError(t, Append("admin", envelope.Event{Type: "notification", Data: "old"}))
	require.NoError(t, Append("admin", envelope.Event{Type: "notification", Data: "newer"}))

	// cutoff in the past removes nothing
	n, err := SweepOlderThan(time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	require.Zero(t, n)

	// cutoff in the future removes everything
	n, err = SweepOlderThan(time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 2, n)

	recs, err := List("admin", 0)
	require.NoError(t, err)
	require.Empty(t, recs)
}

func TestJournal_NotOpen(t *testing.T) {
	require.Error(t, Append("x", envelope.Event{}))
	_, err := List("x", 0)
	require.Error(t, err)
}
