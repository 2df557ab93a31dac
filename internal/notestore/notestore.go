package notestore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/brandon/offlinekit/internal/queue"
	"github.com/brandon/offlinekit/internal/store"
	"github.com/brandon/offlinekit/pkg/types"
)

// EntityType is the queue domain for note mutations.
const EntityType = "notes"

// LocalIDPrefix marks notes created offline, before the server has
// assigned a canonical id.
const LocalIDPrefix = "local-"

// Store applies note-specific caching policy on top of the persistent
// store, and enqueues replay mutations for writes made while offline.
type Store struct {
	store  *store.Store
	queue  *queue.Manager
	logger *logrus.Logger
}

// ListOptions filters a cached note listing. Nil flag filters are ignored.
type ListOptions struct {
	TenantID string
	Archived *bool
	Trashed  *bool
	Label    string
}

// NotePatch is a partial note update. Nil fields are left unchanged.
type NotePatch struct {
	Title      *string               `json:"title,omitempty"`
	Content    *string               `json:"content,omitempty"`
	Color      *string               `json:"color,omitempty"`
	IsPinned   *bool                 `json:"is_pinned,omitempty"`
	IsArchived *bool                 `json:"is_archived,omitempty"`
	IsTrashed  *bool                 `json:"is_trashed,omitempty"`
	Items      []types.ChecklistItem `json:"items,omitempty"`
	Labels     []string              `json:"labels,omitempty"`
	Reminder   *time.Time            `json:"reminder,omitempty"`
}

// New creates a notes store over the shared cache and mutation queue.
func New(s *store.Store, q *queue.Manager, logger *logrus.Logger) *Store {
	return &Store{store: s, queue: q, logger: logger}
}

// CacheNotes overwrites or creates each record with a fresh updated_at.
// Calling it twice with the same set leaves one row per id.
func (s *Store) CacheNotes(notes []types.Note, tenantID string) error {
	tx, err := s.store.DB().Begin()
	if err != nil {
		return fmt.Errorf("failed to begin note caching: %w", err)
	}
	now := time.Now()
	for i := range notes {
		note := notes[i]
		note.TenantID = tenantID
		note.UpdatedAt = now
		if note.CreatedAt.IsZero() {
			note.CreatedAt = now
		}
		if err := upsertNote(tx, &note); err != nil {
			tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit note caching: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		"tenant": tenantID,
		"count":  len(notes),
	}).Debug("Cached notes")
	return nil
}

// GetCachedNotes applies the optional archived/trashed/label filters, then
// sorts pinned-first and most-recently-updated first. The full filtered
// set is returned; slicing is the caller's business.
func (s *Store) GetCachedNotes(opts ListOptions) ([]types.Note, error) {
	query := selectNotes + " WHERE tenant_id = ?"
	args := []any{opts.TenantID}
	if opts.Archived != nil {
		query += " AND is_archived = ?"
		args = append(args, boolInt(*opts.Archived))
	}
	if opts.Trashed != nil {
		query += " AND is_trashed = ?"
		args = append(args, boolInt(*opts.Trashed))
	}
	if opts.Label != "" {
		// Labels are a JSON array column; a quoted LIKE matches one element.
		query += " AND labels LIKE ?"
		args = append(args, `%"`+opts.Label+`"%`)
	}
	query += " ORDER BY is_pinned DESC, updated_at DESC"

	rows, err := s.store.DB().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list cached notes: %w", err)
	}
	defer rows.Close()
	return scanNotes(rows)
}

// GetNote returns one cached note, or nil when it is not cached.
func (s *Store) GetNote(id string) (*types.Note, error) {
	rows, err := s.store.DB().Query(selectNotes+" WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to get note: %w", err)
	}
	defer rows.Close()

	notes, err := scanNotes(rows)
	if err != nil {
		return nil, err
	}
	if len(notes) == 0 {
		return nil, nil
	}
	return &notes[0], nil
}

// SearchNotes does a case-insensitive substring match over title, content,
// and checklist-item text, restricted to the tenant and excluding trashed
// notes.
func (s *Store) SearchNotes(tenantID, query string) ([]types.Note, error) {
	term := "%" + query + "%"
	rows, err := s.store.DB().Query(selectNotes+`
		WHERE tenant_id = ? AND is_trashed = 0
		  AND (title LIKE ? OR content LIKE ? OR items LIKE ?)
		ORDER BY is_pinned DESC, updated_at DESC
	`, tenantID, term, term, term)
	if err != nil {
		return nil, fmt.Errorf("failed to search notes: %w", err)
	}
	defer rows.Close()
	return scanNotes(rows)
}

// CreateNoteOffline stores a note under a distinguishable local id and
// enqueues the create for replay. The registered create handler later
// rewrites the record under the server's canonical id.
func (s *Store) CreateNoteOffline(note types.Note, tenantID string) (string, error) {
	if note.ID == "" {
		note.ID = LocalIDPrefix + uuid.NewString()
	}
	note.TenantID = tenantID
	now := time.Now()
	note.CreatedAt = now
	note.UpdatedAt = now

	tx, err := s.store.DB().Begin()
	if err != nil {
		return "", fmt.Errorf("failed to begin note create: %w", err)
	}
	if err := upsertNote(tx, &note); err != nil {
		tx.Rollback()
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit note create: %w", err)
	}

	if _, err := s.queue.Enqueue(EntityType, queue.ActionCreate, createPayload{Note: note}, note.ID, tenantID); err != nil {
		return "", err
	}
	return note.ID, nil
}

// UpdateNote merges a patch into a cached note and refreshes updated_at.
// When offline is set the patch is also enqueued for replay. Patching an
// uncached id is a no-op: with no local basis the change is dropped
// entirely, enqueue included.
func (s *Store) UpdateNote(id string, patch NotePatch, offline bool) error {
	note, err := s.GetNote(id)
	if err != nil {
		return err
	}
	if note == nil {
		s.logger.WithField("note", id).Debug("Mutation on uncached note skipped")
		return nil
	}

	applyPatch(note, patch)
	note.UpdatedAt = time.Now()

	tx, err := s.store.DB().Begin()
	if err != nil {
		return fmt.Errorf("failed to begin note update: %w", err)
	}
	if err := upsertNote(tx, note); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit note update: %w", err)
	}

	if offline {
		if _, err := s.queue.Enqueue(EntityType, queue.ActionUpdate, updatePayload{ID: id, Patch: patch}, id, note.TenantID); err != nil {
			return err
		}
	}
	return nil
}

// ArchiveNote sets the archived flag.
func (s *Store) ArchiveNote(id string, archived, offline bool) error {
	return s.UpdateNote(id, NotePatch{IsArchived: &archived}, offline)
}

// TrashNote sets the trashed flag.
func (s *Store) TrashNote(id string, trashed, offline bool) error {
	return s.UpdateNote(id, NotePatch{IsTrashed: &trashed}, offline)
}

// PinNote sets the pinned flag.
func (s *Store) PinNote(id string, pinned, offline bool) error {
	return s.UpdateNote(id, NotePatch{IsPinned: &pinned}, offline)
}

// ChangeColor sets the note color.
func (s *Store) ChangeColor(id, color string, offline bool) error {
	return s.UpdateNote(id, NotePatch{Color: &color}, offline)
}

// DeleteNote removes a cached note. When offline is set the delete is
// enqueued for replay; deleting an uncached id is a no-op.
func (s *Store) DeleteNote(id string, offline bool) error {
	note, err := s.GetNote(id)
	if err != nil {
		return err
	}
	if note == nil {
		s.logger.WithField("note", id).Debug("Delete of uncached note skipped")
		return nil
	}

	if _, err := s.store.DB().Exec("DELETE FROM notes WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete note: %w", err)
	}

	if offline {
		if _, err := s.queue.Enqueue(EntityType, queue.ActionDelete, deletePayload{ID: id}, id, note.TenantID); err != nil {
			return err
		}
	}
	return nil
}

// ReplaceID rewrites a note under a new id, keeping its data. Used by the
// create handler once the server returns the canonical id for a note that
// was created offline.
func (s *Store) ReplaceID(oldID, newID string) error {
	note, err := s.GetNote(oldID)
	if err != nil {
		return err
	}
	if note == nil {
		s.logger.WithField("note", oldID).Debug("Id rewrite on uncached note skipped")
		return nil
	}

	note.ID = newID
	tx, err := s.store.DB().Begin()
	if err != nil {
		return fmt.Errorf("failed to begin id rewrite: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM notes WHERE id = ?", oldID); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to remove local note %s: %w", oldID, err)
	}
	if err := upsertNote(tx, note); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit id rewrite: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"local":  oldID,
		"server": newID,
	}).Debug("Rewrote offline-created note id")
	return nil
}

func applyPatch(note *types.Note, patch NotePatch) {
	if patch.Title != nil {
		note.Title = *patch.Title
	}
	if patch.Content != nil {
		note.Content = *patch.Content
	}
	if patch.Color != nil {
		note.Color = *patch.Color
	}
	if patch.IsPinned != nil {
		note.IsPinned = *patch.IsPinned
	}
	if patch.IsArchived != nil {
		note.IsArchived = *patch.IsArchived
	}
	if patch.IsTrashed != nil {
		note.IsTrashed = *patch.IsTrashed
	}
	if patch.Items != nil {
		note.Items = patch.Items
		note.IsChecklist = len(patch.Items) > 0
	}
	if patch.Labels != nil {
		note.Labels = patch.Labels
	}
	if patch.Reminder != nil {
		note.Reminder = patch.Reminder
	}
}

const selectNotes = `
	SELECT id, tenant_id, title, content, color,
	       is_pinned, is_archived, is_trashed, is_checklist,
	       items, labels, reminder, created_at, updated_at
	FROM notes
`

func upsertNote(tx *sql.Tx, note *types.Note) error {
	items, _ := json.Marshal(note.Items)
	labels, _ := json.Marshal(note.Labels)
	reminder := ""
	if note.Reminder != nil {
		reminder = store.FormatTime(*note.Reminder)
	}

	_, err := tx.Exec(`
		INSERT INTO notes (id, tenant_id, title, content, color,
			is_pinned, is_archived, is_trashed, is_checklist,
			items, labels, reminder, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			title = excluded.title,
			content = excluded.content,
			color = excluded.color,
			is_pinned = excluded.is_pinned,
			is_archived = excluded.is_archived,
			is_trashed = excluded.is_trashed,
			is_checklist = excluded.is_checklist,
			items = excluded.items,
			labels = excluded.labels,
			reminder = excluded.reminder,
			updated_at = excluded.updated_at
	`, note.ID, note.TenantID, note.Title, note.Content, note.Color,
		boolInt(note.IsPinned), boolInt(note.IsArchived), boolInt(note.IsTrashed), boolInt(note.IsChecklist),
		string(items), string(labels), reminder,
		store.FormatTime(note.CreatedAt), store.FormatTime(note.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert note %s: %w", note.ID, err)
	}
	return nil
}

func scanNotes(rows *sql.Rows) ([]types.Note, error) {
	var notes []types.Note
	for rows.Next() {
		var (
			n                                    types.Note
			pinned, archived, trashed, checklist int
			items, labels, reminder              string
			createdAt, updatedAt                 string
		)
		err := rows.Scan(&n.ID, &n.TenantID, &n.Title, &n.Content, &n.Color,
			&pinned, &archived, &trashed, &checklist,
			&items, &labels, &reminder, &createdAt, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		json.Unmarshal([]byte(items), &n.Items)
		json.Unmarshal([]byte(labels), &n.Labels)
		n.IsPinned = pinned == 1
		n.IsArchived = archived == 1
		n.IsTrashed = trashed == 1
		n.IsChecklist = checklist == 1
		if reminder != "" {
			t := store.ParseTime(reminder)
			n.Reminder = &t
		}
		n.CreatedAt = store.ParseTime(createdAt)
		n.UpdatedAt = store.ParseTime(updatedAt)
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
