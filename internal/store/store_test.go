package store

import (
	"fmt"
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateAppliesOnFreshDB(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate; a second run must be a no-op.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 2 {
		t.Errorf("version = %d, want 2 (init + send_status)", result.Version)
	}
}

// TestMigrateSchemaHasRequiredColumns verifies the migrations create every
// column the engine depends on, including the ones added by later versions.
func TestMigrateSchemaHasRequiredColumns(t *testing.T) {
	db := testDB(t)

	requiredOps := []struct {
		desc  string
		query string
		args  []any
	}{
		{"insert formation", "INSERT INTO formations (id, content, is_fully_downloaded, downloaded_at, last_sync_at) VALUES (?, ?, ?, ?, ?)", []any{"f1", "{}", true, 1000, 1000}},
		{"insert lesson", "INSERT INTO lessons (id, formation_id, level_id, title, content, position) VALUES (?, ?, ?, ?, ?, ?)", []any{"l1", "f1", "lv1", "Intro", "{}", 0}},
		{"insert media", "INSERT INTO media (url, payload, kind, size_bytes, downloaded_at) VALUES (?, ?, ?, ?, ?)", []any{"https://cdn/x.png", []byte{1}, "image", 1, 1000}},
		{"insert message with send_failed", "INSERT INTO messages (id, conversation_key, content, is_pending, server_synced, send_failed, created_at, stored_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)", []any{"m1", "c1", "hi", 0, 1, 0, 1000, 1000}},
		{"insert conversation with unread_count", "INSERT INTO conversations (id, type, last_message_at, unread_count) VALUES (?, ?, ?, ?)", []any{"c1", "lesson", 1000, 2}},
		{"insert pending", "INSERT INTO pending (local_id, conversation_key, created_at) VALUES (?, ?, ?)", []any{"local1", "c1", 1000}},
		{"set sync state", "INSERT INTO sync_state (key, last_sync_at) VALUES (?, ?)", []any{"c1", 1000}},
	}

	for _, op := range requiredOps {
		t.Run(op.desc, func(t *testing.T) {
			if _, err := db.Exec(op.query, op.args...); err != nil {
				t.Fatalf("%s failed: %v", op.desc, err)
			}
		})
	}
}

func TestSaveFormationReplacesSnapshot(t *testing.T) {
	db := testDB(t)

	f := &Formation{ID: "f1", Content: `{"levels":[]}`, IsFullyDownloaded: false}
	lessons := []Lesson{
		{ID: "l1", LevelID: "lv1", Title: "Intro", Position: 0},
		{ID: "l2", LevelID: "lv1", Title: "Basics", Position: 1},
	}
	if err := db.SaveFormation(f, lessons); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetFormation("f1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("formation not stored")
	}
	if got.SyncVersion != 1 {
		t.Errorf("sync_version = %d, want 1 on first save", got.SyncVersion)
	}

	// Re-save with fewer lessons: projections must be replaced, not merged,
	// and sync_version must not advance.
	f.Content = `{"levels":["v2"]}`
	f.IsFullyDownloaded = true
	if err := db.SaveFormation(f, lessons[:1]); err != nil {
		t.Fatal(err)
	}

	got, err = db.GetFormation("f1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Content != `{"levels":["v2"]}` {
		t.Errorf("content = %q, want replaced snapshot", got.Content)
	}
	if !got.IsFullyDownloaded {
		t.Error("is_fully_downloaded = false, want true")
	}
	if got.SyncVersion != 1 {
		t.Errorf("sync_version = %d, want 1 (re-save must not bump it)", got.SyncVersion)
	}

	projected, err := db.LessonsByFormation("f1")
	if err != nil {
		t.Fatal(err)
	}
	if len(projected) != 1 {
		t.Errorf("got %d lessons after re-save, want 1", len(projected))
	}
}

func TestTouchFormationSync(t *testing.T) {
	db := testDB(t)

	if err := db.SaveFormation(&Formation{ID: "f1", Content: "{}"}, nil); err != nil {
		t.Fatal(err)
	}
	if err := db.TouchFormationSync("f1"); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetFormation("f1")
	if err != nil {
		t.Fatal(err)
	}
	if got.SyncVersion != 2 {
		t.Errorf("sync_version = %d, want 2 after TouchFormationSync", got.SyncVersion)
	}
}

func TestGetFormationMissing(t *testing.T) {
	db := testDB(t)

	got, err := db.GetFormation("nope")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("expected nil for missing formation")
	}
}

func TestListFormations(t *testing.T) {
	db := testDB(t)

	for _, id := range []string{"f1", "f2", "f3"} {
		if err := db.SaveFormation(&Formation{ID: id, Content: "{}"}, nil); err != nil {
			t.Fatal(err)
		}
	}
	all, err := db.ListFormations()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("got %d formations, want 3", len(all))
	}
}

func TestDeleteFormationKeepsMedia(t *testing.T) {
	db := testDB(t)

	lessons := []Lesson{{ID: "l1", LevelID: "lv1"}}
	if err := db.SaveFormation(&Formation{ID: "f1", Content: "{}"}, lessons); err != nil {
		t.Fatal(err)
	}
	if err := db.PutMedia(&Media{URL: "https://cdn/a.png", Payload: []byte{1}, Kind: "image"}); err != nil {
		t.Fatal(err)
	}

	if err := db.DeleteFormation("f1"); err != nil {
		t.Fatal(err)
	}

	got, _ := db.GetFormation("f1")
	if got != nil {
		t.Error("formation still present after delete")
	}
	projected, _ := db.LessonsByFormation("f1")
	if len(projected) != 0 {
		t.Errorf("got %d lessons after delete, want 0", len(projected))
	}
	has, _ := db.HasMedia("https://cdn/a.png")
	if !has {
		t.Error("media must survive formation deletion (independent lifecycle)")
	}
}

func TestLessonsByLevel(t *testing.T) {
	db := testDB(t)

	lessons := []Lesson{
		{ID: "l1", LevelID: "lv1", Position: 1},
		{ID: "l2", LevelID: "lv2", Position: 0},
		{ID: "l3", LevelID: "lv1", Position: 0},
	}
	if err := db.SaveFormation(&Formation{ID: "f1", Content: "{}"}, lessons); err != nil {
		t.Fatal(err)
	}

	lv1, err := db.LessonsByLevel("lv1")
	if err != nil {
		t.Fatal(err)
	}
	if len(lv1) != 2 {
		t.Fatalf("got %d lessons for lv1, want 2", len(lv1))
	}
	if lv1[0].ID != "l3" || lv1[1].ID != "l1" {
		t.Errorf("order = %s,%s, want l3,l1 (by position)", lv1[0].ID, lv1[1].ID)
	}
}

func TestMediaCacheMissThenHit(t *testing.T) {
	db := testDB(t)

	has, err := db.HasMedia("https://cdn/pic.png")
	if err != nil {
		t.Fatal(err)
	}
	if has {
		t.Error("HasMedia = true before download")
	}

	if err := db.PutMedia(&Media{URL: "https://cdn/pic.png", Payload: []byte("bytes"), Kind: "image"}); err != nil {
		t.Fatal(err)
	}

	has, err = db.HasMedia("https://cdn/pic.png")
	if err != nil {
		t.Fatal(err)
	}
	if !has {
		t.Error("HasMedia = false after download")
	}

	m, err := db.GetMedia("https://cdn/pic.png")
	if err != nil {
		t.Fatal(err)
	}
	if m == nil || string(m.Payload) != "bytes" {
		t.Errorf("GetMedia = %v, want stored payload", m)
	}
	if m.SizeBytes != 5 {
		t.Errorf("size_bytes = %d, want 5", m.SizeBytes)
	}
}

func TestDeleteMediaOlderThan(t *testing.T) {
	db := testDB(t)

	if err := db.PutMedia(&Media{URL: "https://cdn/old.png", Payload: []byte{1}, Kind: "image"}); err != nil {
		t.Fatal(err)
	}
	// Backdate the record.
	if _, err := db.Exec(`UPDATE media SET downloaded_at = 1000 WHERE url = ?`, "https://cdn/old.png"); err != nil {
		t.Fatal(err)
	}
	if err := db.PutMedia(&Media{URL: "https://cdn/new.png", Payload: []byte{2}, Kind: "image"}); err != nil {
		t.Fatal(err)
	}

	deleted, err := db.DeleteMediaOlderThan(2000)
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
	has, _ := db.HasMedia("https://cdn/new.png")
	if !has {
		t.Error("recent media must survive eviction")
	}
}

func TestSaveSyncedMessagesIdempotent(t *testing.T) {
	db := testDB(t)

	batch := []*Message{
		{ID: "srv1", ConversationKey: "c1", Content: "one", MessageType: "text", CreatedAt: 1000},
		{ID: "srv2", ConversationKey: "c1", Content: "two", MessageType: "text", CreatedAt: 2000},
	}
	if err := db.SaveSyncedMessages(batch); err != nil {
		t.Fatal(err)
	}
	// Applying the same batch twice must not duplicate or reorder.
	if err := db.SaveSyncedMessages(batch); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("c1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2 (idempotent batch)", len(msgs))
	}
	if msgs[0].ID != "srv1" || msgs[1].ID != "srv2" {
		t.Errorf("order = %s,%s, want srv1,srv2", msgs[0].ID, msgs[1].ID)
	}

	conv, err := db.GetConversation("c1")
	if err != nil {
		t.Fatal(err)
	}
	if conv == nil || conv.LastMessageAt != 2000 {
		t.Errorf("conversation summary = %v, want last_message_at=2000", conv)
	}
}

func TestListMessagesAscendingWithTailLimit(t *testing.T) {
	db := testDB(t)

	var batch []*Message
	for i := 1; i <= 5; i++ {
		batch = append(batch, &Message{
			ID: string(rune('a'+i-1)) + "1", ConversationKey: "c1",
			Content: "m", MessageType: "text", CreatedAt: int64(i * 1000),
		})
	}
	if err := db.SaveSyncedMessages(batch); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("c1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	// Tail truncation: the two NEWEST, still ascending.
	if msgs[0].CreatedAt != 4000 || msgs[1].CreatedAt != 5000 {
		t.Errorf("tail = %d,%d, want 4000,5000", msgs[0].CreatedAt, msgs[1].CreatedAt)
	}
}

func TestOrderingWithInterleavedPending(t *testing.T) {
	db := testDB(t)

	if err := db.SaveSyncedMessages([]*Message{
		{ID: "srv1", ConversationKey: "c1", Content: "first", CreatedAt: 1000},
		{ID: "srv3", ConversationKey: "c1", Content: "third", CreatedAt: 3000},
	}); err != nil {
		t.Fatal(err)
	}
	if err := db.InsertPendingMessage(&Message{
		ID: "localA", LocalID: "localA", ConversationKey: "c1", Content: "second", CreatedAt: 2000,
	}); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("c1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	want := []string{"srv1", "localA", "srv3"}
	for i, id := range want {
		if msgs[i].ID != id {
			t.Errorf("msgs[%d] = %s, want %s (created_at ascending)", i, msgs[i].ID, id)
		}
	}
	if !msgs[1].IsPending {
		t.Error("interleaved local message must carry is_pending")
	}
}

func TestLastMessageTimeExcludesPending(t *testing.T) {
	db := testDB(t)

	ts, err := db.LastMessageTime("c1")
	if err != nil {
		t.Fatal(err)
	}
	if ts != 0 {
		t.Errorf("empty conversation cursor = %d, want 0", ts)
	}

	if err := db.SaveSyncedMessages([]*Message{
		{ID: "srv1", ConversationKey: "c1", Content: "x", CreatedAt: 5000},
	}); err != nil {
		t.Fatal(err)
	}
	// A newer pending local message must not advance the cursor.
	if err := db.InsertPendingMessage(&Message{
		ID: "localA", LocalID: "localA", ConversationKey: "c1", Content: "y", CreatedAt: 9000,
	}); err != nil {
		t.Fatal(err)
	}

	ts, err = db.LastMessageTime("c1")
	if err != nil {
		t.Fatal(err)
	}
	if ts != 5000 {
		t.Errorf("cursor = %d, want 5000 (synced only)", ts)
	}
}

func TestEvictionNeverDeletesPending(t *testing.T) {
	db := testDB(t)

	if err := db.SaveSyncedMessages([]*Message{
		{ID: "srv1", ConversationKey: "c1", Content: "old synced", CreatedAt: 1000},
	}); err != nil {
		t.Fatal(err)
	}
	if err := db.InsertPendingMessage(&Message{
		ID: "localA", LocalID: "localA", ConversationKey: "c1", Content: "old pending", CreatedAt: 500,
	}); err != nil {
		t.Fatal(err)
	}

	deleted, err := db.DeleteMessagesOlderThan(999999)
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1 (only the synced row)", deleted)
	}

	msgs, _ := db.ListMessages("c1", 0)
	if len(msgs) != 1 || !msgs[0].IsPending {
		t.Fatalf("got %v, want only the pending message to survive", msgs)
	}
}

func TestMarkMessageSyncedAtomic(t *testing.T) {
	db := testDB(t)

	if err := db.InsertPendingMessage(&Message{
		ID: "localA", LocalID: "localA", ConversationKey: "c1", Content: "hi", CreatedAt: 1000,
	}); err != nil {
		t.Fatal(err)
	}

	pending, err := db.PendingMessages()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ID != "localA" {
		t.Fatalf("pending = %v, want [localA]", pending)
	}

	if err := db.MarkMessageSynced("localA", "srv9"); err != nil {
		t.Fatal(err)
	}

	// Exactly one record for the logical message, under the server id.
	msgs, err := db.ListMessages("c1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (no duplicate under both ids)", len(msgs))
	}
	m := msgs[0]
	if m.ID != "srv9" || m.LocalID != "localA" {
		t.Errorf("identity = %s/%s, want srv9/localA", m.ID, m.LocalID)
	}
	if m.IsPending || !m.ServerSynced {
		t.Errorf("flags = pending:%v synced:%v, want false/true", m.IsPending, m.ServerSynced)
	}
	if m.CreatedAt != 1000 {
		t.Errorf("created_at = %d, want 1000 (assigned once, never mutated)", m.CreatedAt)
	}

	pending, _ = db.PendingMessages()
	if len(pending) != 0 {
		t.Errorf("pending set not empty after reconciliation: %v", pending)
	}
}

func TestMarkMessageSyncedIdempotent(t *testing.T) {
	db := testDB(t)

	if err := db.InsertPendingMessage(&Message{
		ID: "localA", LocalID: "localA", ConversationKey: "c1", Content: "hi", CreatedAt: 1000,
	}); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkMessageSynced("localA", "srv9"); err != nil {
		t.Fatal(err)
	}
	// Replay (e.g. retry after a crash between ack and cleanup).
	if err := db.MarkMessageSynced("localA", "srv9"); err != nil {
		t.Fatal(err)
	}

	msgs, _ := db.ListMessages("c1", 0)
	if len(msgs) != 1 {
		t.Errorf("got %d messages after replay, want 1", len(msgs))
	}
}

func TestMarkMessageSyncedWhenPullWonTheRace(t *testing.T) {
	db := testDB(t)

	if err := db.InsertPendingMessage(&Message{
		ID: "localA", LocalID: "localA", ConversationKey: "c1", Content: "hi", CreatedAt: 1000,
	}); err != nil {
		t.Fatal(err)
	}
	// A differential pull delivered the server's copy before the ack was processed.
	if err := db.SaveSyncedMessages([]*Message{
		{ID: "srv9", ConversationKey: "c1", Content: "hi", CreatedAt: 1000},
	}); err != nil {
		t.Fatal(err)
	}

	if err := db.MarkMessageSynced("localA", "srv9"); err != nil {
		t.Fatal(err)
	}

	msgs, _ := db.ListMessages("c1", 0)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (pull copy and local copy merged)", len(msgs))
	}
	if msgs[0].LocalID != "localA" {
		t.Errorf("local_id = %q, want localA preserved on the merged row", msgs[0].LocalID)
	}
}

func TestMarkSendFailed(t *testing.T) {
	db := testDB(t)

	if err := db.InsertPendingMessage(&Message{
		ID: "localA", LocalID: "localA", ConversationKey: "c1", Content: "hi", CreatedAt: 1000,
	}); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkSendFailed("localA"); err != nil {
		t.Fatal(err)
	}

	msgs, _ := db.ListMessages("c1", 0)
	if len(msgs) != 1 || !msgs[0].SendFailed {
		t.Error("send_failed not set")
	}
	if !msgs[0].IsPending {
		t.Error("a send-failed message must stay pending (retry-forever)")
	}
	pending, _ := db.PendingMessages()
	if len(pending) != 1 {
		t.Error("send-failed message must stay in the pending queue")
	}
}

func TestMarkConversationRead(t *testing.T) {
	db := testDB(t)

	if err := db.SaveSyncedMessages([]*Message{
		{ID: "srv1", ConversationKey: "c1", Content: "x", CreatedAt: 1000},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`UPDATE conversations SET unread_count = 3 WHERE id = 'c1'`); err != nil {
		t.Fatal(err)
	}

	if err := db.MarkConversationRead("c1"); err != nil {
		t.Fatal(err)
	}

	msgs, _ := db.ListMessages("c1", 0)
	if !msgs[0].IsRead {
		t.Error("message not marked read")
	}
	conv, _ := db.GetConversation("c1")
	if conv.UnreadCount != 0 {
		t.Errorf("unread_count = %d, want 0", conv.UnreadCount)
	}
}

func TestCheckpoint(t *testing.T) {
	db := testDB(t)

	ts, err := db.Checkpoint("c1")
	if err != nil {
		t.Fatal(err)
	}
	if ts != 0 {
		t.Errorf("missing checkpoint = %d, want 0", ts)
	}

	if err := db.SetCheckpoint("c1", 12345); err != nil {
		t.Fatal(err)
	}
	if err := db.SetCheckpoint("c1", 23456); err != nil {
		t.Fatal(err)
	}

	ts, err = db.Checkpoint("c1")
	if err != nil {
		t.Fatal(err)
	}
	if ts != 23456 {
		t.Errorf("checkpoint = %d, want 23456", ts)
	}
}

func TestCollectStatsAndClearAll(t *testing.T) {
	db := testDB(t)

	if err := db.SaveFormation(&Formation{ID: "f1", Content: "{}"}, []Lesson{{ID: "l1", LevelID: "lv1"}}); err != nil {
		t.Fatal(err)
	}
	if err := db.PutMedia(&Media{URL: "u1", Payload: []byte("abc"), Kind: "image"}); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveSyncedMessages([]*Message{{ID: "srv1", ConversationKey: "c1", Content: "x", CreatedAt: 1}}); err != nil {
		t.Fatal(err)
	}
	if err := db.InsertPendingMessage(&Message{ID: "la", LocalID: "la", ConversationKey: "c1", Content: "y", CreatedAt: 2}); err != nil {
		t.Fatal(err)
	}

	s, err := db.CollectStats()
	if err != nil {
		t.Fatal(err)
	}
	if s.Formations != 1 || s.Lessons != 1 || s.Media != 1 || s.Messages != 2 || s.Conversations != 1 || s.Pending != 1 {
		t.Errorf("stats = %+v, want 1/1/1/2/1/1", s)
	}
	if s.MediaBytes != 3 {
		t.Errorf("media bytes = %d, want 3", s.MediaBytes)
	}
	if s.DBBytes <= 0 {
		t.Errorf("db bytes = %d, want > 0", s.DBBytes)
	}

	if err := db.ClearAll(); err != nil {
		t.Fatal(err)
	}
	s, err = db.CollectStats()
	if err != nil {
		t.Fatal(err)
	}
	if s.Formations != 0 || s.Messages != 0 || s.Pending != 0 || s.Media != 0 {
		t.Errorf("stats after ClearAll = %+v, want zeros", s)
	}
}

// TestListConversationsUnlimited guards the sync cycle's conversation
// enumeration: a non-positive limit must return every conversation, not a
// default page, or conversations past the page silently stop syncing.
func TestListConversationsUnlimited(t *testing.T) {
	db := testDB(t)

	for i := 0; i < 60; i++ {
		key := fmt.Sprintf("conv:f%d:l1", i)
		if err := db.SaveSyncedMessages([]*Message{
			{ID: fmt.Sprintf("srv-%d", i), ConversationKey: key, Content: "hi", SenderID: "peer", MessageType: "text", CreatedAt: int64(1000 + i)},
		}); err != nil {
			t.Fatal(err)
		}
	}

	all, err := db.ListConversations(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 60 {
		t.Fatalf("ListConversations(0) = %d conversations, want all 60", len(all))
	}

	page, err := db.ListConversations(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 10 {
		t.Fatalf("ListConversations(10) = %d conversations, want 10", len(page))
	}
	if page[0].ID != "conv:f59:l1" {
		t.Errorf("page[0] = %q, want the newest conversation", page[0].ID)
	}
}

func TestUnreadCountTracksIncomingMessages(t *testing.T) {
	db := testDB(t)

	batch := []*Message{
		{ID: "srv-1", ConversationKey: "c1", Content: "a", SenderID: "peer", MessageType: "text", CreatedAt: 1000},
		{ID: "srv-2", ConversationKey: "c1", Content: "b", SenderID: "peer", MessageType: "text", CreatedAt: 2000},
	}
	if err := db.SaveSyncedMessages(batch); err != nil {
		t.Fatal(err)
	}
	conv, err := db.GetConversation("c1")
	if err != nil {
		t.Fatal(err)
	}
	if conv.UnreadCount != 2 {
		t.Errorf("unread after 2 incoming = %d, want 2", conv.UnreadCount)
	}

	// A replayed pull batch must not inflate the count.
	if err := db.SaveSyncedMessages(batch); err != nil {
		t.Fatal(err)
	}
	if conv, _ = db.GetConversation("c1"); conv.UnreadCount != 2 {
		t.Errorf("unread after replay = %d, want 2", conv.UnreadCount)
	}

	if err := db.MarkConversationRead("c1"); err != nil {
		t.Fatal(err)
	}
	if conv, _ = db.GetConversation("c1"); conv.UnreadCount != 0 {
		t.Errorf("unread after MarkConversationRead = %d, want 0", conv.UnreadCount)
	}

	// New incoming message counts; re-pulled read ones stay read.
	if err := db.SaveSyncedMessages([]*Message{
		{ID: "srv-1", ConversationKey: "c1", Content: "a", SenderID: "peer", MessageType: "text", CreatedAt: 1000},
		{ID: "srv-3", ConversationKey: "c1", Content: "c", SenderID: "peer", MessageType: "text", CreatedAt: 3000},
	}); err != nil {
		t.Fatal(err)
	}
	if conv, _ = db.GetConversation("c1"); conv.UnreadCount != 1 {
		t.Errorf("unread after one new message = %d, want 1", conv.UnreadCount)
	}

	// Local pending writes are authored here and never count as unread.
	if err := db.InsertPendingMessage(&Message{ID: "local-1", LocalID: "local-1", ConversationKey: "c1", Content: "mine", CreatedAt: 4000}); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveSyncedMessages([]*Message{
		{ID: "srv-4", ConversationKey: "c1", Content: "d", SenderID: "peer", MessageType: "text", CreatedAt: 5000},
	}); err != nil {
		t.Fatal(err)
	}
	if conv, _ = db.GetConversation("c1"); conv.UnreadCount != 2 {
		t.Errorf("unread with a pending local write present = %d, want 2", conv.UnreadCount)
	}
}
