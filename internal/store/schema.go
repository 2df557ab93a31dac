package store

// migrations holds one SQL script per schema version. PRAGMA user_version
// tracks how many have been applied; Open runs the remainder in order.
var migrations = []string{schemaV1}

const schemaV1 = `
-- Cached emails
CREATE TABLE IF NOT EXISTS emails (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    folder TEXT NOT NULL,
    thread_id TEXT,
    sender_name TEXT,
    sender_email TEXT,
    recipients TEXT,
    cc TEXT,
    subject TEXT,
    body_text TEXT,
    body_html TEXT,
    is_read INTEGER NOT NULL DEFAULT 0,
    is_starred INTEGER NOT NULL DEFAULT 0,
    has_attachments INTEGER NOT NULL DEFAULT 0,
    labels TEXT,
    date TEXT NOT NULL,
    cached_at TEXT NOT NULL
);

-- Mail folders
CREATE TABLE IF NOT EXISTS folders (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    type TEXT NOT NULL,
    unread_count INTEGER NOT NULL DEFAULT 0,
    total_count INTEGER NOT NULL DEFAULT 0
);

-- Locally composed drafts
CREATE TABLE IF NOT EXISTS drafts (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    recipients TEXT,
    cc TEXT,
    bcc TEXT,
    subject TEXT,
    body TEXT,
    attachments TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

-- Cached notes
CREATE TABLE IF NOT EXISTS notes (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    title TEXT,
    content TEXT,
    color TEXT,
    is_pinned INTEGER NOT NULL DEFAULT 0,
    is_archived INTEGER NOT NULL DEFAULT 0,
    is_trashed INTEGER NOT NULL DEFAULT 0,
    is_checklist INTEGER NOT NULL DEFAULT 0,
    items TEXT,
    labels TEXT,
    reminder TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

-- Pending mutations recorded while offline
CREATE TABLE IF NOT EXISTS sync_queue (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    type TEXT NOT NULL,
    action TEXT NOT NULL,
    entity_id TEXT,
    payload TEXT,
    created_at TEXT NOT NULL,
    retry_count INTEGER NOT NULL DEFAULT 0,
    last_error TEXT,
    next_attempt TEXT NOT NULL DEFAULT '',
    dead INTEGER NOT NULL DEFAULT 0
);

-- Process-wide settings
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

-- Indexes for the filter paths that would otherwise scan
CREATE INDEX IF NOT EXISTS idx_emails_tenant_folder ON emails(tenant_id, folder);
CREATE INDEX IF NOT EXISTS idx_emails_thread ON emails(thread_id);
CREATE INDEX IF NOT EXISTS idx_emails_date ON emails(date);
CREATE INDEX IF NOT EXISTS idx_folders_tenant ON folders(tenant_id);
CREATE INDEX IF NOT EXISTS idx_drafts_tenant ON drafts(tenant_id);
CREATE INDEX IF NOT EXISTS idx_notes_tenant_state ON notes(tenant_id, is_archived, is_trashed);
CREATE INDEX IF NOT EXISTS idx_notes_updated ON notes(updated_at);
CREATE INDEX IF NOT EXISTS idx_queue_tenant_created ON sync_queue(tenant_id, created_at);
CREATE INDEX IF NOT EXISTS idx_queue_created ON sync_queue(created_at);
`
