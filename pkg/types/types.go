package types

import "time"

// FolderType identifies the role of a mail folder.
type FolderType string

const (
	FolderInbox  FolderType = "inbox"
	FolderSent   FolderType = "sent"
	FolderDrafts FolderType = "drafts"
	FolderTrash  FolderType = "trash"
	FolderSpam   FolderType = "spam"
	FolderCustom FolderType = "custom"
)

// Email represents a locally cached email message. CachedAt reflects the
// most recent local write, not the server's timestamp.
type Email struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	Folder         string    `json:"folder"`
	ThreadID       string    `json:"thread_id,omitempty"`
	SenderName     string    `json:"sender_name"`
	SenderEmail    string    `json:"sender_email"`
	To             []string  `json:"to"`
	Cc             []string  `json:"cc,omitempty"`
	Subject        string    `json:"subject"`
	BodyText       string    `json:"body_text,omitempty"`
	BodyHTML       string    `json:"body_html,omitempty"`
	IsRead         bool      `json:"is_read"`
	IsStarred      bool      `json:"is_starred"`
	HasAttachments bool      `json:"has_attachments"`
	Labels         []string  `json:"labels,omitempty"`
	Date           time.Time `json:"date"`
	CachedAt       time.Time `json:"cached_at"`
}

// Folder represents a mail folder with its counters.
type Folder struct {
	ID          string     `json:"id"`
	TenantID    string     `json:"tenant_id"`
	Name        string     `json:"name"`
	Type        FolderType `json:"type"`
	UnreadCount int        `json:"unread_count"`
	TotalCount  int        `json:"total_count"`
}

// AttachmentMeta describes a draft attachment without carrying its bytes.
type AttachmentMeta struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// Draft represents a locally composed message. Drafts created while offline
// live only in the cache until the queued send is replayed.
type Draft struct {
	ID          string           `json:"id"`
	TenantID    string           `json:"tenant_id"`
	To          []string         `json:"to"`
	Cc          []string         `json:"cc,omitempty"`
	Bcc         []string         `json:"bcc,omitempty"`
	Subject     string           `json:"subject"`
	Body        string           `json:"body"`
	Attachments []AttachmentMeta `json:"attachments,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// ChecklistItem is a single entry of a checklist note.
type ChecklistItem struct {
	Text      string `json:"text"`
	IsChecked bool   `json:"is_checked"`
}

// Note represents a locally cached note.
type Note struct {
	ID          string          `json:"id"`
	TenantID    string          `json:"tenant_id"`
	Title       string          `json:"title"`
	Content     string          `json:"content,omitempty"`
	Color       string          `json:"color,omitempty"`
	IsPinned    bool            `json:"is_pinned"`
	IsArchived  bool            `json:"is_archived"`
	IsTrashed   bool            `json:"is_trashed"`
	IsChecklist bool            `json:"is_checklist"`
	Items       []ChecklistItem `json:"items,omitempty"`
	Labels      []string        `json:"labels,omitempty"`
	Reminder    *time.Time      `json:"reminder,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
