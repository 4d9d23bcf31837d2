package store

// Formation is a cached course content tree. The levels→lessons structure is
// stored as an opaque JSON snapshot; the server already structures it and the
// client only ever replaces it wholesale.
type Formation struct {
	ID                string
	Content           string
	IsFullyDownloaded bool
	SyncVersion       int
	DownloadedAt      int64
	LastSyncAt        int64
}

// Lesson is a projection of one lesson inside a formation, duplicated out of
// the snapshot so per-formation and per-level queries don't re-parse the tree.
type Lesson struct {
	ID          string
	FormationID string
	LevelID     string
	Title       string
	Content     string
	Position    int
}

// Media is a downloaded binary resource, keyed by URL.
type Media struct {
	URL          string
	Payload      []byte
	Kind         string
	SizeBytes    int64
	DownloadedAt int64
}

// Message is one conversation message. ID holds whichever identity is
// currently authoritative: the client-assigned local id while pending, the
// server id once acknowledged. LocalID keeps the original client id after
// reconciliation.
type Message struct {
	ID              string
	LocalID         string
	ConversationKey string
	Content         string
	SenderID        string
	ReceiverID      string
	MessageType     string
	FileRef         string
	IsPending       bool
	IsRead          bool
	ServerSynced    bool
	SendFailed      bool
	CreatedAt       int64
	StoredAt        int64
}

// Conversation is a summary record maintained alongside message writes so
// list views never scan the messages table.
type Conversation struct {
	ID                 string
	Type               string
	FormationID        string
	LessonID           string
	LastMessageAt      int64
	LastMessagePreview string
	UnreadCount        int
}

// PendingEntry is one row of the offline-write backlog. It exists exactly
// while the corresponding message has IsPending set.
type PendingEntry struct {
	LocalID         string
	ConversationKey string
	CreatedAt       int64
}

// Stats aggregates record counts and storage usage.
type Stats struct {
	Formations    int64
	Lessons       int64
	Media         int64
	Messages      int64
	Conversations int64
	Pending       int64
	MediaBytes    int64
	DBBytes       int64
}
