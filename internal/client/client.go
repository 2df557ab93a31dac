package client

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/brandon/offlinekit/internal/mailstore"
	"github.com/brandon/offlinekit/internal/notestore"
	"github.com/brandon/offlinekit/internal/queue"
	"github.com/brandon/offlinekit/pkg/types"
)

// ErrNoCachedData is returned when a read can reach neither the network
// nor a cached copy. It is the only error the read path surfaces to the UI.
var ErrNoCachedData = errors.New("no network connection and no cached data available")

// localDraftPrefix marks drafts composed offline, before the server has
// seen them.
const localDraftPrefix = "local-"

// RemoteAPI is the full remote surface the client calls. *API implements
// it; tests substitute fakes.
type RemoteAPI interface {
	mailstore.MailAPI
	notestore.NotesAPI
	ListEmails(ctx context.Context, folder string) ([]types.Email, error)
	ListFolders(ctx context.Context) ([]types.Folder, error)
	ListNotes(ctx context.Context) ([]types.Note, error)
	UpdateEmailFetch(ctx context.Context, id string, changes mailstore.EmailChanges) (*types.Email, error)
}

// connectivity is the slice of the network observer the client needs.
type connectivity interface {
	Online() bool
}

// Client is the single call surface the UI consumes. Reads try the network
// and fall back to the cache; writes go to the network when online and are
// queued for replay when not.
type Client struct {
	api    RemoteAPI
	mail   *mailstore.Store
	notes  *notestore.Store
	queue  *queue.Manager
	conn   connectivity
	tenant string
	logger *logrus.Logger
}

// New creates a client for one tenant.
func New(api RemoteAPI, mail *mailstore.Store, notes *notestore.Store, q *queue.Manager, conn connectivity, tenant string, logger *logrus.Logger) *Client {
	return &Client{
		api:    api,
		mail:   mail,
		notes:  notes,
		queue:  q,
		conn:   conn,
		tenant: tenant,
		logger: logger,
	}
}

// Response wraps read results with their provenance.
type Response[T any] struct {
	Data      T
	FromCache bool
}

// CacheHandler supplies the cache side of a network-first read.
type CacheHandler[T any] struct {
	// GetCached returns the cached value and whether one exists.
	GetCached func() (T, bool, error)
	// Populate stores a fresh network result. Optional.
	Populate func(T) error
}

// Request runs a network-first read. Online it attempts the fetch,
// populates the cache in the background on success, and returns the fresh
// data. On network failure, or offline, it falls back to the cache; only
// when both are empty does it fail, with ErrNoCachedData.
func Request[T any](ctx context.Context, c *Client, fetch func(context.Context) (T, error), cache CacheHandler[T]) (Response[T], error) {
	if c.conn.Online() {
		data, err := fetch(ctx)
		if err == nil {
			if cache.Populate != nil {
				go func() {
					if err := cache.Populate(data); err != nil {
						c.logger.WithError(err).Warn("Failed to populate cache")
					}
				}()
			}
			return Response[T]{Data: data}, nil
		}
		c.logger.WithError(err).Warn("Network request failed, falling back to cache")
	}

	var zero Response[T]
	cached, ok, err := cache.GetCached()
	if err != nil {
		return zero, err
	}
	if !ok {
		return zero, ErrNoCachedData
	}
	return Response[T]{Data: cached, FromCache: true}, nil
}

// ListEmails returns a folder's messages, from the network when possible.
func (c *Client) ListEmails(ctx context.Context, folder string) (Response[[]types.Email], error) {
	return Request(ctx, c,
		func(ctx context.Context) ([]types.Email, error) { return c.api.ListEmails(ctx, folder) },
		CacheHandler[[]types.Email]{
			GetCached: func() ([]types.Email, bool, error) {
				emails, err := c.mail.GetCachedEmails(mailstore.ListOptions{TenantID: c.tenant, Folder: folder})
				return emails, len(emails) > 0, err
			},
			Populate: func(emails []types.Email) error { return c.mail.CacheEmails(emails, c.tenant) },
		})
}

// ListFolders returns the folder list, from the network when possible.
func (c *Client) ListFolders(ctx context.Context) (Response[[]types.Folder], error) {
	return Request(ctx, c,
		func(ctx context.Context) ([]types.Folder, error) { return c.api.ListFolders(ctx) },
		CacheHandler[[]types.Folder]{
			GetCached: func() ([]types.Folder, bool, error) {
				folders, err := c.mail.GetFolders(c.tenant)
				return folders, len(folders) > 0, err
			},
			Populate: func(folders []types.Folder) error { return c.mail.CacheFolders(folders, c.tenant) },
		})
}

// ListNotes returns the note set, from the network when possible.
func (c *Client) ListNotes(ctx context.Context) (Response[[]types.Note], error) {
	return Request(ctx, c,
		func(ctx context.Context) ([]types.Note, error) { return c.api.ListNotes(ctx) },
		CacheHandler[[]types.Note]{
			GetCached: func() ([]types.Note, bool, error) {
				notes, err := c.notes.GetCachedNotes(notestore.ListOptions{TenantID: c.tenant})
				return notes, len(notes) > 0, err
			},
			Populate: func(notes []types.Note) error { return c.notes.CacheNotes(notes, c.tenant) },
		})
}

// MarkAsRead flips the read flag. Online, the cache is driven by the
// server's response; offline, the optimistic value is applied and the
// change queued.
func (c *Client) MarkAsRead(ctx context.Context, id string, read bool) error {
	return c.updateEmail(ctx, id, mailstore.EmailChanges{IsRead: &read},
		func(offline bool) error { return c.mail.MarkRead(id, read, offline) })
}

// ToggleStar flips the starred flag with the same online/offline contract
// as MarkAsRead.
func (c *Client) ToggleStar(ctx context.Context, id string, starred bool) error {
	return c.updateEmail(ctx, id, mailstore.EmailChanges{IsStarred: &starred},
		func(offline bool) error { return c.mail.ToggleStar(id, starred, offline) })
}

func (c *Client) updateEmail(ctx context.Context, id string, changes mailstore.EmailChanges, applyLocal func(offline bool) error) error {
	if c.conn.Online() {
		email, err := c.api.UpdateEmailFetch(ctx, id, changes)
		if err == nil {
			if email != nil && email.ID != "" {
				return c.mail.CacheEmails([]types.Email{*email}, c.tenant)
			}
			return applyLocal(false)
		}
		c.logger.WithError(err).WithField("email", id).Warn("Email update failed, queueing for replay")
	}
	return applyLocal(true)
}

// MoveToFolder moves a message, queueing the move when offline.
func (c *Client) MoveToFolder(ctx context.Context, id, folder string) error {
	if c.conn.Online() {
		if err := c.api.MoveEmail(ctx, id, folder); err == nil {
			return c.mail.MoveToFolder(id, folder, false)
		} else {
			c.logger.WithError(err).WithField("email", id).Warn("Email move failed, queueing for replay")
		}
	}
	return c.mail.MoveToFolder(id, folder, true)
}

// DeleteEmail deletes a message, queueing the delete when offline.
func (c *Client) DeleteEmail(ctx context.Context, id string) error {
	if c.conn.Online() {
		if err := c.api.DeleteEmail(ctx, id); err == nil {
			return c.mail.DeleteEmail(id, false)
		} else {
			c.logger.WithError(err).WithField("email", id).Warn("Email delete failed, queueing for replay")
		}
	}
	return c.mail.DeleteEmail(id, true)
}

// SendResult reports how a send was handled.
type SendResult struct {
	// Queued is true when the send was recorded for later replay instead
	// of delivered.
	Queued bool   `json:"queued"`
	ID     string `json:"id"`
}

// SendEmail delivers a draft. Online, the draft is destroyed once the
// server confirms the send. Offline (or when delivery fails), a snapshot
// of the draft is queued and the draft stays visible and editable until
// the replay succeeds.
func (c *Client) SendEmail(ctx context.Context, draft types.Draft) (SendResult, error) {
	draft.TenantID = c.tenant

	if c.conn.Online() {
		serverID, err := c.api.SendDraft(ctx, draft)
		if err == nil {
			if draft.ID != "" {
				if err := c.mail.DeleteDraft(draft.ID); err != nil {
					c.logger.WithError(err).WithField("draft", draft.ID).Warn("Failed to delete sent draft")
				}
			}
			return SendResult{ID: serverID}, nil
		}
		c.logger.WithError(err).Warn("Send failed, queueing for replay")
	}

	if draft.ID == "" {
		draft.ID = localDraftPrefix + uuid.NewString()
	}
	if err := c.mail.SaveDraft(&draft); err != nil {
		return SendResult{}, err
	}
	itemID, err := c.queue.Enqueue(mailstore.EntityType, queue.ActionSend,
		mailstore.SendPayload{DraftID: draft.ID, Draft: draft}, draft.ID, c.tenant)
	if err != nil {
		return SendResult{}, err
	}
	return SendResult{Queued: true, ID: itemID}, nil
}

// CreateNote creates a note. Offline the note is cached under a local id
// and queued; the replay rewrites it under the server id.
func (c *Client) CreateNote(ctx context.Context, note types.Note) (string, error) {
	if c.conn.Online() {
		serverID, err := c.api.CreateNote(ctx, note)
		if err == nil {
			note.ID = serverID
			if err := c.notes.CacheNotes([]types.Note{note}, c.tenant); err != nil {
				return "", err
			}
			return serverID, nil
		}
		c.logger.WithError(err).Warn("Note create failed, queueing for replay")
	}
	return c.notes.CreateNoteOffline(note, c.tenant)
}

// UpdateNote patches a note, queueing the patch when offline.
func (c *Client) UpdateNote(ctx context.Context, id string, patch notestore.NotePatch) error {
	if c.conn.Online() {
		if err := c.api.UpdateNote(ctx, id, patch); err == nil {
			return c.notes.UpdateNote(id, patch, false)
		} else {
			c.logger.WithError(err).WithField("note", id).Warn("Note update failed, queueing for replay")
		}
	}
	return c.notes.UpdateNote(id, patch, true)
}

// DeleteNote deletes a note, queueing the delete when offline.
func (c *Client) DeleteNote(ctx context.Context, id string) error {
	if c.conn.Online() {
		if err := c.api.DeleteNote(ctx, id); err == nil {
			return c.notes.DeleteNote(id, false)
		} else {
			c.logger.WithError(err).WithField("note", id).Warn("Note delete failed, queueing for replay")
		}
	}
	return c.notes.DeleteNote(id, true)
}

// SyncNow triggers a manual queue flush; a no-op when offline.
func (c *Client) SyncNow(ctx context.Context) error {
	return c.queue.Flush(ctx)
}

// IsOnline reports the observed connectivity state.
func (c *Client) IsOnline() bool {
	return c.conn.Online()
}
