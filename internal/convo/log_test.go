package convo

import (
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/formly-app/formly/internal/bus"
	"github.com/formly-app/formly/internal/store"
)

func testLog(t *testing.T) (*Log, *bus.Bus) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	b := bus.New()
	return NewLog(db, b, zap.NewNop()), b
}

func TestConversationKeyDeterminism(t *testing.T) {
	a := ConversationKey("l1", "f1", "u1")
	b := ConversationKey("l1", "f1", "u1")
	if a != b {
		t.Errorf("same inputs gave %q and %q", a, b)
	}

	other := ConversationKey("l1", "f1", "u2")
	if a == other {
		t.Error("different userID must yield a different key")
	}
	omitted := ConversationKey("l1", "f1", "")
	if a == omitted {
		t.Error("omitted userID must yield a different key")
	}
}

func TestAddPendingMessageVisibleImmediately(t *testing.T) {
	l, b := testLog(t)

	ch, unsub := b.Subscribe("message.pending", 4)
	defer unsub()

	key := ConversationKey("l1", "f1", "u1")
	localID, err := l.AddPendingMessage(Draft{ConversationKey: key, Content: "hi", SenderID: "u1"})
	if err != nil {
		t.Fatal(err)
	}
	if localID == "" {
		t.Fatal("empty local id")
	}

	msgs, err := l.Messages(key, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 before any network round-trip", len(msgs))
	}
	if !msgs[0].IsPending || msgs[0].ServerSynced {
		t.Errorf("flags = pending:%v synced:%v, want true/false", msgs[0].IsPending, msgs[0].ServerSynced)
	}
	if msgs[0].ID != localID {
		t.Errorf("id = %q, want %q", msgs[0].ID, localID)
	}

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message.pending event")
	}
}

func TestAddPendingMessageUniqueLocalIDs(t *testing.T) {
	l, _ := testLog(t)
	key := ConversationKey("l1", "f1", "")

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		id, err := l.AddPendingMessage(Draft{ConversationKey: key, Content: "x"})
		if err != nil {
			t.Fatal(err)
		}
		if seen[id] {
			t.Fatalf("local id %q reused", id)
		}
		seen[id] = true
	}
}

func TestMarkMessageSyncedTransition(t *testing.T) {
	l, b := testLog(t)
	key := ConversationKey("l1", "f1", "")

	localID, err := l.AddPendingMessage(Draft{ConversationKey: key, Content: "hi"})
	if err != nil {
		t.Fatal(err)
	}

	ch, unsub := b.Subscribe("message.synced", 4)
	defer unsub()

	if err := l.MarkMessageSynced(localID, "srv1"); err != nil {
		t.Fatal(err)
	}

	msgs, _ := l.Messages(key, 0)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want exactly 1 after reconciliation", len(msgs))
	}
	if msgs[0].ID != "srv1" || msgs[0].IsPending || !msgs[0].ServerSynced {
		t.Errorf("message = %+v, want synced under srv1", msgs[0])
	}

	pending, _ := l.PendingMessages()
	if len(pending) != 0 {
		t.Errorf("pending backlog = %d, want 0", len(pending))
	}

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message.synced event")
	}
}

func TestCleanOldMessagesSkipsPending(t *testing.T) {
	l, _ := testLog(t)
	key := ConversationKey("l1", "f1", "")

	if err := l.SaveMessages([]*store.Message{
		{ID: "srv1", ConversationKey: key, Content: "old", CreatedAt: 1},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := l.AddPendingMessage(Draft{ConversationKey: key, Content: "mine"}); err != nil {
		t.Fatal(err)
	}
	// A zero maxAge puts the cutoff at "now": everything synced is old.
	deleted, err := l.CleanOldMessages(0)
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	msgs, _ := l.Messages(key, 0)
	if len(msgs) != 1 || !msgs[0].IsPending {
		t.Fatal("pending message must survive any eviction age")
	}
}

func TestSaveMessagesPublishesUpserts(t *testing.T) {
	l, b := testLog(t)
	key := ConversationKey("l1", "f1", "")

	ch, unsub := b.Subscribe("message.upserted", 8)
	defer unsub()

	if err := l.SaveMessages([]*store.Message{
		{ID: "srv1", ConversationKey: key, Content: "a", CreatedAt: 1000},
		{ID: "srv2", ConversationKey: key, Content: "b", CreatedAt: 2000},
	}); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for upsert event %d", i)
		}
	}

	convs, err := l.Conversations(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 1 || convs[0].ID != key {
		t.Errorf("conversations = %v, want summary for %s", convs, key)
	}
}

func TestParseConversationKey(t *testing.T) {
	tests := []struct {
		key                           string
		formationID, lessonID, userID string
		ok                            bool
	}{
		{ConversationKey("l1", "f1", ""), "f1", "l1", "", true},
		{ConversationKey("l1", "f1", "u1"), "f1", "l1", "u1", true},
		{"conv:f1:l1", "f1", "l1", "", true},
		{"not-a-key", "", "", "", false},
		{"conv:x1:l1", "", "", "", false},
		{"conv:f1:l1:x1", "", "", "", false},
	}
	for _, tt := range tests {
		f, l, u, ok := ParseConversationKey(tt.key)
		if f != tt.formationID || l != tt.lessonID || u != tt.userID || ok != tt.ok {
			t.Errorf("ParseConversationKey(%q) = %q/%q/%q/%v, want %q/%q/%q/%v",
				tt.key, f, l, u, ok, tt.formationID, tt.lessonID, tt.userID, tt.ok)
		}
	}
}

// TestConversationMetadataFromKey verifies that message writes fill in the
// summary's type and scope ids, so list views don't render bare keys.
func TestConversationMetadataFromKey(t *testing.T) {
	log, _ := testLog(t)

	key := ConversationKey("l1", "f1", "")
	if _, err := log.AddPendingMessage(Draft{ConversationKey: key, Content: "hi", SenderID: "me"}); err != nil {
		t.Fatal(err)
	}

	convs, err := log.Conversations(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 1 {
		t.Fatalf("want 1 conversation, got %d", len(convs))
	}
	c := convs[0]
	if c.Type != "lesson" || c.FormationID != "f1" || c.LessonID != "l1" {
		t.Errorf("metadata = %q/%q/%q, want lesson/f1/l1", c.Type, c.FormationID, c.LessonID)
	}

	// Pulled batches fill metadata too, and a private scope gets its own type.
	userKey := ConversationKey("l2", "f2", "u9")
	if err := log.SaveMessages([]*store.Message{
		{ID: "srv-1", ConversationKey: userKey, Content: "yo", SenderID: "peer", MessageType: "text", CreatedAt: 1000},
	}); err != nil {
		t.Fatal(err)
	}
	convs, err = log.Conversations(0)
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range convs {
		if c.ID != userKey {
			continue
		}
		if c.Type != "private" || c.FormationID != "f2" || c.LessonID != "l2" {
			t.Errorf("metadata = %q/%q/%q, want private/f2/l2", c.Type, c.FormationID, c.LessonID)
		}
		if c.UnreadCount != 1 {
			t.Errorf("unread = %d, want 1; metadata upsert must not clobber counts", c.UnreadCount)
		}
		return
	}
	t.Fatalf("conversation %q not found in %+v", userKey, convs)
}
