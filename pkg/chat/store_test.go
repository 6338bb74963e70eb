package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chatrelay/pkg/envelope"
	"chatrelay/pkg/models"
)

func chatEvent(m models.ChatMessage) *envelope.ChatEvent {
	return &envelope.ChatEvent{Type: envelope.TypeNewMessage, ChatMessage: m}
}

func TestStore_EchoThenDelivery_SingleEntry(t *testing.T) {
	s := NewStore("13800000000", "key1", nil)
	now := time.Now().UTC().Format(time.RFC3339)

	s.AppendLocalEcho(models.ChatMessage{
		APIKey: "key1", Sender: "13800000000", Receiver: "admin", Content: "hello",
	})

	appended := s.Ingest(chatEvent(models.ChatMessage{
		ID: 42, APIKey: "key1", Sender: "13800000000", Receiver: "admin",
		Content: "hello", CreatedAt: now,
	}))
	require.False(t, appended, "delivered copy of own echo must merge, not append")

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, int64(42), msgs[0].ID, "echo adopts the backend id")
	require.False(t, msgs[0].Optimistic)
}

func TestStore_DuplicateDeliveryById(t *testing.T) {
	s := NewStore("13800000000", "key1", nil)
	m := models.ChatMessage{ID: 7, APIKey: "key1", Sender: "admin", Receiver: "13800000000", Content: "yo"}

	require.True(t, s.Ingest(chatEvent(m)))
	require.False(t, s.Ingest(chatEvent(m)), "same id must not append twice")
	require.Len(t, s.Messages(), 1)
}

func TestStore_DistinctMessagesBothAppend(t *testing.T) {
	s := NewStore("13800000000", "key1", nil)
	require.True(t, s.Ingest(chatEvent(models.ChatMessage{ID: 1, APIKey: "key1", Sender: "admin", Content: "a"})))
	require.True(t, s.Ingest(chatEvent(models.ChatMessage{ID: 2, APIKey: "key1", Sender: "admin", Content: "b"})))
	msgs := s.Messages()
	require.Len(t, msgs, 2)
	// arrival order is preserved
	require.Equal(t, "a", msgs[0].Content)
	require.Equal(t, "b", msgs[1].Content)
}

func TestStore_StaleEchoDoesNotAbsorbNewMessage(t *testing.T) {
	s := NewStore("13800000000", "key1", nil)
	old := time.Now().UTC().Add(-time.Minute).Format(time.RFC3339)
	s.AppendLocalEcho(models.ChatMessage{
		APIKey: "key1", Sender: "13800000000", Content: "same text", CreatedAt: old, UpdatedAt: old,
	})

	// same sender and content but far outside the race window: a genuinely
	// new message
	appended := s.Ingest(chatEvent(models.ChatMessage{
		ID: 9, APIKey: "key1", Sender: "13800000000", Content: "same text",
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}))
	require.True(t, appended)
	require.Len(t, s.Messages(), 2)
}

func TestStore_UnreadCounting(t *testing.T) {
	s := NewStore("13800000000", "key1", nil)

	s.Ingest(chatEvent(models.ChatMessage{ID: 1, APIKey: "key1", Sender: "admin", Receiver: "13800000000", Content: "a"}))
	s.Ingest(chatEvent(models.ChatMessage{ID: 2, APIKey: "key1", Sender: "admin", Receiver: "13800000000", Content: "b"}))
	require.Equal(t, 2, s.Unread())

	// own outbound messages never count
	s.Ingest(chatEvent(models.ChatMessage{ID: 3, APIKey: "key1", Sender: "13800000000", Receiver: "admin", Content: "c"}))
	require.Equal(t, 2, s.Unread())

	s.MarkRead()
	require.Equal(t, 0, s.Unread())
}

func TestStore_AdminFiltersUnselectedSessions(t *testing.T) {
	s := NewStore(models.AdminIdentity, "", nil)
	s.SelectSession("key1", nil)

	appended := s.Ingest(chatEvent(models.ChatMessage{
		ID: 5, APIKey: "key2", Sender: "13911111111", Receiver: models.AdminIdentity, Content: "other session",
	}))
	require.False(t, appended, "unselected session must not reach the list")
	require.Empty(t, s.Messages())
	require.Equal(t, 1, s.UnreadFor("key2"), "filtered delivery still counts as unread")

	require.True(t, s.Ingest(chatEvent(models.ChatMessage{
		ID: 6, APIKey: "key1", Sender: "13800000000", Receiver: models.AdminIdentity, Content: "selected",
	})))
	require.Len(t, s.Messages(), 1)
}

func TestStore_SelectSessionClearsUnreadAndInstallsHistory(t *testing.T) {
	s := NewStore(models.AdminIdentity, "key1", nil)
	s.Ingest(chatEvent(models.ChatMessage{ID: 1, APIKey: "key2", Receiver: models.AdminIdentity, Sender: "x", Content: "m"}))
	require.Equal(t, 1, s.UnreadFor("key2"))

	s.SelectSession("key2", []models.ChatMessage{
		{ID: 1, APIKey: "key2", Sender: "x", Content: "m"},
	})
	require.Equal(t, 0, s.Unread())
	require.Len(t, s.Messages(), 1)
}

func TestStore_OnAppendFiresForNewEntriesOnly(t *testing.T) {
	var fired int
	s := NewStore("13800000000", "key1", func(Entry) { fired++ })

	s.AppendLocalEcho(models.ChatMessage{APIKey: "key1", Sender: "13800000000", Content: "hi"})
	require.Equal(t, 1, fired)

	// merged delivery must not fire the scroll signal again
	s.Ingest(chatEvent(models.ChatMessage{
		ID: 1, APIKey: "key1", Sender: "13800000000", Content: "hi",
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}))
	require.Equal(t, 1, fired)

	s.Ingest(chatEvent(models.ChatMessage{ID: 2, APIKey: "key1", Sender: "admin", Content: "reply"}))
	require.Equal(t, 2, fired)
}

func TestStore_LoadHistoryReplaces(t *testing.T) {
	s := NewStore("13800000000", "key1", nil)
	s.Ingest(chatEvent(models.ChatMessage{ID: 1, APIKey: "key1", Sender: "admin", Content: "old"}))

	s.LoadHistory([]models.ChatMessage{
		{ID: 10, APIKey: "key1", Sender: "admin", Content: "h1"},
		{ID: 11, APIKey: "key1", Sender: "13800000000", Content: "h2"},
	})
	msgs := s.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, int64(10), msgs[0].ID)
}
