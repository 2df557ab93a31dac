package notestore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/brandon/offlinekit/internal/queue"
	"github.com/brandon/offlinekit/pkg/types"
)

// NotesAPI is the slice of the remote API the note sync handlers replay
// against.
type NotesAPI interface {
	CreateNote(ctx context.Context, note types.Note) (serverID string, err error)
	UpdateNote(ctx context.Context, id string, patch NotePatch) error
	DeleteNote(ctx context.Context, id string) error
}

type createPayload struct {
	Note types.Note `json:"note"`
}

type updatePayload struct {
	ID    string    `json:"id"`
	Patch NotePatch `json:"patch"`
}

type deletePayload struct {
	ID string `json:"id"`
}

// RegisterNoteSyncHandlers wires the remote API as the mutation queue's
// executors for the notes domain.
func RegisterNoteSyncHandlers(q *queue.Manager, api NotesAPI, notes *Store) {
	// A replayed create reconciles the temporary local id with the id the
	// server assigned.
	q.RegisterHandler(EntityType, queue.ActionCreate, func(ctx context.Context, item *queue.Item) queue.SyncResult {
		var p createPayload
		if err := json.Unmarshal(item.Payload, &p); err != nil {
			return failure(item, fmt.Errorf("bad create payload: %w", err))
		}
		serverID, err := api.CreateNote(ctx, p.Note)
		if err != nil {
			return failure(item, err)
		}
		if serverID != "" && serverID != p.Note.ID {
			if err := notes.ReplaceID(p.Note.ID, serverID); err != nil {
				return failure(item, err)
			}
		}
		return queue.SyncResult{Success: true, ItemID: item.ID, ServerID: serverID}
	})

	q.RegisterHandler(EntityType, queue.ActionUpdate, func(ctx context.Context, item *queue.Item) queue.SyncResult {
		var p updatePayload
		if err := json.Unmarshal(item.Payload, &p); err != nil {
			return failure(item, fmt.Errorf("bad update payload: %w", err))
		}
		if err := api.UpdateNote(ctx, p.ID, p.Patch); err != nil {
			return failure(item, err)
		}
		return queue.SyncResult{Success: true, ItemID: item.ID}
	})

	q.RegisterHandler(EntityType, queue.ActionDelete, func(ctx context.Context, item *queue.Item) queue.SyncResult {
		var p deletePayload
		if err := json.Unmarshal(item.Payload, &p); err != nil {
			return failure(item, fmt.Errorf("bad delete payload: %w", err))
		}
		if err := api.DeleteNote(ctx, p.ID); err != nil {
			return failure(item, err)
		}
		return queue.SyncResult{Success: true, ItemID: item.ID}
	})
}

func failure(item *queue.Item, err error) queue.SyncResult {
	return queue.SyncResult{ItemID: item.ID, Error: err.Error()}
}
