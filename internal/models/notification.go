package models

// Notification is a flattened, persistable notification entry.
type Notification struct {
	ID string

	// Type is the notification verb ("follow", "reply", "tag", ...).
	Type string

	// Pubky is the identity this notification belongs to (the viewer).
	Pubky string

	// Sender is the identity that caused the notification.
	Sender string

	// PostID references the related post, when the type has one.
	PostID string

	// Body is the raw indexer payload, kept for the UI layer.
	Body []byte

	Timestamp int64
}

// NotificationState is the derived read-state returned by bootstrap.
// LastRead is authoritative on the homeserver; Unread is derived locally by
// comparing persisted notification timestamps against it.
type NotificationState struct {
	Unread   int
	LastRead int64
}

// LastReadMarker is the homeserver record storing the last-read timestamp.
type LastReadMarker struct {
	Timestamp int64 `json:"timestamp"`
}
