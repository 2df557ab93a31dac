package mailstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/brandon/offlinekit/internal/queue"
	"github.com/brandon/offlinekit/internal/store"
	"github.com/brandon/offlinekit/pkg/types"
)

// EntityType is the queue domain for mail mutations.
const EntityType = "email"

const bodyCacheSize = 256

// Store applies mail-specific caching policy on top of the persistent
// store, and enqueues replay mutations for writes made while offline.
type Store struct {
	store  *store.Store
	queue  *queue.Manager
	logger *logrus.Logger

	// Read-through cache of recently opened messages, dropped on every
	// mutation of the same id.
	bodies *lru.Cache[string, *types.Email]
}

// ListOptions filters a cached email listing.
type ListOptions struct {
	TenantID string
	Folder   string
	Limit    int
	Offset   int
}

// New creates a mail store over the shared cache and mutation queue.
func New(s *store.Store, q *queue.Manager, logger *logrus.Logger) (*Store, error) {
	bodies, err := lru.New[string, *types.Email](bodyCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create body cache: %w", err)
	}
	return &Store{store: s, queue: q, logger: logger, bodies: bodies}, nil
}

// CacheEmails overwrites or creates each record with a fresh cached_at.
// Called after every successful network fetch; calling it twice with the
// same set leaves one row per id.
func (s *Store) CacheEmails(emails []types.Email, tenantID string) error {
	tx, err := s.store.DB().Begin()
	if err != nil {
		return fmt.Errorf("failed to begin email caching: %w", err)
	}

	now := time.Now()
	for i := range emails {
		email := emails[i]
		email.TenantID = tenantID
		email.CachedAt = now
		if err := upsertEmail(tx, &email); err != nil {
			tx.Rollback()
			return err
		}
		s.bodies.Remove(email.ID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit email caching: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		"tenant": tenantID,
		"count":  len(emails),
	}).Debug("Cached emails")
	return nil
}

// CacheFolders overwrites or creates each folder record.
func (s *Store) CacheFolders(folders []types.Folder, tenantID string) error {
	tx, err := s.store.DB().Begin()
	if err != nil {
		return fmt.Errorf("failed to begin folder caching: %w", err)
	}
	for i := range folders {
		f := folders[i]
		f.TenantID = tenantID
		_, err := tx.Exec(`
			INSERT INTO folders (id, tenant_id, name, type, unread_count, total_count)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				tenant_id = excluded.tenant_id,
				name = excluded.name,
				type = excluded.type,
				unread_count = excluded.unread_count,
				total_count = excluded.total_count
		`, f.ID, f.TenantID, f.Name, string(f.Type), f.UnreadCount, f.TotalCount)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to cache folder %s: %w", f.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit folder caching: %w", err)
	}
	return nil
}

// GetCachedEmails lists cached emails for a tenant, newest first,
// optionally restricted to one folder.
func (s *Store) GetCachedEmails(opts ListOptions) ([]types.Email, error) {
	query := selectEmails + " WHERE tenant_id = ?"
	args := []any{opts.TenantID}
	if opts.Folder != "" {
		query += " AND folder = ?"
		args = append(args, opts.Folder)
	}
	query += " ORDER BY date DESC"
	if opts.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, opts.Limit, opts.Offset)
	}

	rows, err := s.store.DB().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list cached emails: %w", err)
	}
	defer rows.Close()
	return scanEmails(rows)
}

// GetEmail returns one cached email, or nil when it is not cached.
func (s *Store) GetEmail(id string) (*types.Email, error) {
	if email, ok := s.bodies.Get(id); ok {
		return email, nil
	}

	rows, err := s.store.DB().Query(selectEmails+" WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to get email: %w", err)
	}
	defer rows.Close()

	emails, err := scanEmails(rows)
	if err != nil {
		return nil, err
	}
	if len(emails) == 0 {
		return nil, nil
	}
	email := &emails[0]
	s.bodies.Add(id, email)
	return email, nil
}

// GetFolders lists the cached folders for a tenant.
func (s *Store) GetFolders(tenantID string) ([]types.Folder, error) {
	rows, err := s.store.DB().Query(`
		SELECT id, tenant_id, name, type, unread_count, total_count
		FROM folders WHERE tenant_id = ? ORDER BY name
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	defer rows.Close()

	var folders []types.Folder
	for rows.Next() {
		var f types.Folder
		var ftype string
		if err := rows.Scan(&f.ID, &f.TenantID, &f.Name, &ftype, &f.UnreadCount, &f.TotalCount); err != nil {
			return nil, fmt.Errorf("failed to scan folder: %w", err)
		}
		f.Type = types.FolderType(ftype)
		folders = append(folders, f)
	}
	return folders, rows.Err()
}

// SearchEmails does a case-insensitive substring match over subject, body,
// and sender, restricted to the tenant.
func (s *Store) SearchEmails(tenantID, query string) ([]types.Email, error) {
	term := "%" + query + "%"
	rows, err := s.store.DB().Query(selectEmails+`
		WHERE tenant_id = ?
		  AND (subject LIKE ? OR body_text LIKE ? OR sender_name LIKE ? OR sender_email LIKE ?)
		ORDER BY date DESC
	`, tenantID, term, term, term, term)
	if err != nil {
		return nil, fmt.Errorf("failed to search emails: %w", err)
	}
	defer rows.Close()
	return scanEmails(rows)
}

// MarkRead flips the read flag on a cached email. When offline is set the
// change is also enqueued for replay.
func (s *Store) MarkRead(id string, read, offline bool) error {
	return s.mutate(id, offline, queue.ActionUpdate,
		updatePayload{ID: id, IsRead: &read},
		func(e *types.Email) { e.IsRead = read })
}

// ToggleStar sets the starred flag on a cached email.
func (s *Store) ToggleStar(id string, starred, offline bool) error {
	return s.mutate(id, offline, queue.ActionUpdate,
		updatePayload{ID: id, IsStarred: &starred},
		func(e *types.Email) { e.IsStarred = starred })
}

// MoveToFolder moves a cached email to another folder.
func (s *Store) MoveToFolder(id, folder string, offline bool) error {
	return s.mutate(id, offline, queue.ActionMove,
		movePayload{ID: id, Folder: folder},
		func(e *types.Email) { e.Folder = folder })
}

// mutate implements the shared read-merge-write-enqueue contract. Mutating
// an id that is not cached is a no-op: with no local basis the change is
// dropped entirely, enqueue included.
func (s *Store) mutate(id string, offline bool, action queue.Action, payload any, apply func(*types.Email)) error {
	email, err := s.GetEmail(id)
	if err != nil {
		return err
	}
	if email == nil {
		s.logger.WithField("email", id).Debug("Mutation on uncached email skipped")
		return nil
	}

	updated := *email
	apply(&updated)
	updated.CachedAt = time.Now()

	if err := s.writeEmail(&updated); err != nil {
		return err
	}
	s.bodies.Remove(id)

	if offline {
		if _, err := s.queue.Enqueue(EntityType, action, payload, id, email.TenantID); err != nil {
			return err
		}
	}
	return nil
}

// DeleteEmail removes a cached email. When offline is set the delete is
// enqueued for replay; deleting an uncached id is a no-op.
func (s *Store) DeleteEmail(id string, offline bool) error {
	email, err := s.GetEmail(id)
	if err != nil {
		return err
	}
	if email == nil {
		s.logger.WithField("email", id).Debug("Delete of uncached email skipped")
		return nil
	}

	if _, err := s.store.DB().Exec("DELETE FROM emails WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete email: %w", err)
	}
	s.bodies.Remove(id)

	if offline {
		if _, err := s.queue.Enqueue(EntityType, queue.ActionDelete, deletePayload{ID: id}, id, email.TenantID); err != nil {
			return err
		}
	}
	return nil
}

// SaveDraft creates or overwrites a draft, refreshing updated_at.
func (s *Store) SaveDraft(draft *types.Draft) error {
	now := time.Now()
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = now
	}
	draft.UpdatedAt = now

	to, _ := json.Marshal(draft.To)
	cc, _ := json.Marshal(draft.Cc)
	bcc, _ := json.Marshal(draft.Bcc)
	attachments, _ := json.Marshal(draft.Attachments)

	_, err := s.store.DB().Exec(`
		INSERT INTO drafts (id, tenant_id, recipients, cc, bcc, subject, body, attachments, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			recipients = excluded.recipients,
			cc = excluded.cc,
			bcc = excluded.bcc,
			subject = excluded.subject,
			body = excluded.body,
			attachments = excluded.attachments,
			updated_at = excluded.updated_at
	`, draft.ID, draft.TenantID, string(to), string(cc), string(bcc),
		draft.Subject, draft.Body, string(attachments),
		store.FormatTime(draft.CreatedAt), store.FormatTime(draft.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save draft: %w", err)
	}
	return nil
}

// GetDraft returns one draft, or nil when it does not exist.
func (s *Store) GetDraft(id string) (*types.Draft, error) {
	rows, err := s.store.DB().Query(selectDrafts+" WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to get draft: %w", err)
	}
	defer rows.Close()

	drafts, err := scanDrafts(rows)
	if err != nil {
		return nil, err
	}
	if len(drafts) == 0 {
		return nil, nil
	}
	return &drafts[0], nil
}

// ListDrafts lists a tenant's drafts, most recently updated first.
func (s *Store) ListDrafts(tenantID string) ([]types.Draft, error) {
	rows, err := s.store.DB().Query(selectDrafts+" WHERE tenant_id = ? ORDER BY updated_at DESC", tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list drafts: %w", err)
	}
	defer rows.Close()
	return scanDrafts(rows)
}

// DeleteDraft removes a draft after a successful send or explicit discard.
func (s *Store) DeleteDraft(id string) error {
	if _, err := s.store.DB().Exec("DELETE FROM drafts WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete draft: %w", err)
	}
	return nil
}

const selectEmails = `
	SELECT id, tenant_id, folder, thread_id, sender_name, sender_email,
	       recipients, cc, subject, body_text, body_html,
	       is_read, is_starred, has_attachments, labels, date, cached_at
	FROM emails
`

const selectDrafts = `
	SELECT id, tenant_id, recipients, cc, bcc, subject, body, attachments, created_at, updated_at
	FROM drafts
`

func (s *Store) writeEmail(email *types.Email) error {
	tx, err := s.store.DB().Begin()
	if err != nil {
		return fmt.Errorf("failed to begin email write: %w", err)
	}
	if err := upsertEmail(tx, email); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func upsertEmail(tx *sql.Tx, email *types.Email) error {
	to, _ := json.Marshal(email.To)
	cc, _ := json.Marshal(email.Cc)
	labels, _ := json.Marshal(email.Labels)

	_, err := tx.Exec(`
		INSERT INTO emails (id, tenant_id, folder, thread_id, sender_name, sender_email,
			recipients, cc, subject, body_text, body_html,
			is_read, is_starred, has_attachments, labels, date, cached_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			folder = excluded.folder,
			thread_id = excluded.thread_id,
			sender_name = excluded.sender_name,
			sender_email = excluded.sender_email,
			recipients = excluded.recipients,
			cc = excluded.cc,
			subject = excluded.subject,
			body_text = excluded.body_text,
			body_html = excluded.body_html,
			is_read = excluded.is_read,
			is_starred = excluded.is_starred,
			has_attachments = excluded.has_attachments,
			labels = excluded.labels,
			date = excluded.date,
			cached_at = excluded.cached_at
	`, email.ID, email.TenantID, email.Folder, email.ThreadID, email.SenderName, email.SenderEmail,
		string(to), string(cc), email.Subject, email.BodyText, email.BodyHTML,
		boolInt(email.IsRead), boolInt(email.IsStarred), boolInt(email.HasAttachments),
		string(labels), store.FormatTime(email.Date), store.FormatTime(email.CachedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert email %s: %w", email.ID, err)
	}
	return nil
}

func scanEmails(rows *sql.Rows) ([]types.Email, error) {
	var emails []types.Email
	for rows.Next() {
		var (
			e                       types.Email
			to, cc, labels          string
			isRead, starred, hasAtt int
			date, cachedAt          string
		)
		err := rows.Scan(&e.ID, &e.TenantID, &e.Folder, &e.ThreadID, &e.SenderName, &e.SenderEmail,
			&to, &cc, &e.Subject, &e.BodyText, &e.BodyHTML,
			&isRead, &starred, &hasAtt, &labels, &date, &cachedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan email: %w", err)
		}
		json.Unmarshal([]byte(to), &e.To)
		json.Unmarshal([]byte(cc), &e.Cc)
		json.Unmarshal([]byte(labels), &e.Labels)
		e.IsRead = isRead == 1
		e.IsStarred = starred == 1
		e.HasAttachments = hasAtt == 1
		e.Date = store.ParseTime(date)
		e.CachedAt = store.ParseTime(cachedAt)
		emails = append(emails, e)
	}
	return emails, rows.Err()
}

func scanDrafts(rows *sql.Rows) ([]types.Draft, error) {
	var drafts []types.Draft
	for rows.Next() {
		var (
			d                    types.Draft
			to, cc, bcc, att     string
			createdAt, updatedAt string
		)
		err := rows.Scan(&d.ID, &d.TenantID, &to, &cc, &bcc, &d.Subject, &d.Body, &att, &createdAt, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan draft: %w", err)
		}
		json.Unmarshal([]byte(to), &d.To)
		json.Unmarshal([]byte(cc), &d.Cc)
		json.Unmarshal([]byte(bcc), &d.Bcc)
		json.Unmarshal([]byte(att), &d.Attachments)
		d.CreatedAt = store.ParseTime(createdAt)
		d.UpdatedAt = store.ParseTime(updatedAt)
		drafts = append(drafts, d)
	}
	return drafts, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
