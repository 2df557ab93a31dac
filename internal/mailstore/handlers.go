package mailstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/brandon/offlinekit/internal/queue"
	"github.com/brandon/offlinekit/pkg/types"
)

// EmailChanges carries the mutable flags of an email update replay.
type EmailChanges struct {
	IsRead    *bool `json:"is_read,omitempty"`
	IsStarred *bool `json:"is_starred,omitempty"`
}

// MailAPI is the slice of the remote API the mail sync handlers replay
// against.
type MailAPI interface {
	UpdateEmail(ctx context.Context, id string, changes EmailChanges) error
	MoveEmail(ctx context.Context, id, folder string) error
	DeleteEmail(ctx context.Context, id string) error
	SendDraft(ctx context.Context, draft types.Draft) (serverID string, err error)
}

// updatePayload is the queue payload for flag mutations.
type updatePayload struct {
	ID        string `json:"id"`
	IsRead    *bool  `json:"is_read,omitempty"`
	IsStarred *bool  `json:"is_starred,omitempty"`
}

type movePayload struct {
	ID     string `json:"id"`
	Folder string `json:"folder"`
}

type deletePayload struct {
	ID string `json:"id"`
}

// SendPayload embeds a snapshot of the draft content so the draft
// collection and the queue evolve independently.
type SendPayload struct {
	DraftID string      `json:"draft_id"`
	Draft   types.Draft `json:"draft"`
}

// RegisterMailSyncHandlers wires the remote API as the mutation queue's
// executors for the mail domain.
func RegisterMailSyncHandlers(q *queue.Manager, api MailAPI, mail *Store) {
	q.RegisterHandler(EntityType, queue.ActionUpdate, func(ctx context.Context, item *queue.Item) queue.SyncResult {
		var p updatePayload
		if err := json.Unmarshal(item.Payload, &p); err != nil {
			return failure(item, fmt.Errorf("bad update payload: %w", err))
		}
		if err := api.UpdateEmail(ctx, p.ID, EmailChanges{IsRead: p.IsRead, IsStarred: p.IsStarred}); err != nil {
			return failure(item, err)
		}
		return queue.SyncResult{Success: true, ItemID: item.ID}
	})

	q.RegisterHandler(EntityType, queue.ActionMove, func(ctx context.Context, item *queue.Item) queue.SyncResult {
		var p movePayload
		if err := json.Unmarshal(item.Payload, &p); err != nil {
			return failure(item, fmt.Errorf("bad move payload: %w", err))
		}
		if err := api.MoveEmail(ctx, p.ID, p.Folder); err != nil {
			return failure(item, err)
		}
		return queue.SyncResult{Success: true, ItemID: item.ID}
	})

	q.RegisterHandler(EntityType, queue.ActionDelete, func(ctx context.Context, item *queue.Item) queue.SyncResult {
		var p deletePayload
		if err := json.Unmarshal(item.Payload, &p); err != nil {
			return failure(item, fmt.Errorf("bad delete payload: %w", err))
		}
		if err := api.DeleteEmail(ctx, p.ID); err != nil {
			return failure(item, err)
		}
		return queue.SyncResult{Success: true, ItemID: item.ID}
	})

	// A replayed send destroys the local draft only once the server has
	// confirmed it.
	q.RegisterHandler(EntityType, queue.ActionSend, func(ctx context.Context, item *queue.Item) queue.SyncResult {
		var p SendPayload
		if err := json.Unmarshal(item.Payload, &p); err != nil {
			return failure(item, fmt.Errorf("bad send payload: %w", err))
		}
		serverID, err := api.SendDraft(ctx, p.Draft)
		if err != nil {
			return failure(item, err)
		}
		if p.DraftID != "" {
			if err := mail.DeleteDraft(p.DraftID); err != nil {
				mail.logger.WithError(err).WithField("draft", p.DraftID).Warn("Failed to delete sent draft")
			}
		}
		return queue.SyncResult{Success: true, ItemID: item.ID, ServerID: serverID}
	})
}

func failure(item *queue.Item, err error) queue.SyncResult {
	return queue.SyncResult{ItemID: item.ID, Error: err.Error()}
}
