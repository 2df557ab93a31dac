package notestore

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/offlinekit/internal/queue"
	"github.com/brandon/offlinekit/internal/store"
	"github.com/brandon/offlinekit/pkg/types"
)

type fakeConn struct {
	online bool
}

func (c *fakeConn) Online() bool                          { return c.online }
func (c *fakeConn) Subscribe(fn func(online bool)) func() { return func() {} }

func newTestNoteStore(t *testing.T) (*Store, *queue.Manager, *fakeConn) {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	s, err := store.Open(filepath.Join(t.TempDir(), "cache.db"), 0, logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	conn := &fakeConn{}
	q := queue.NewManager(s, conn, queue.Options{}, logger)
	return New(s, q, logger), q, conn
}

func boolPtr(b bool) *bool { return &b }

func TestCacheNotes_Idempotent(t *testing.T) {
	notes, _, _ := newTestNoteStore(t)

	batch := []types.Note{
		{ID: "n1", Title: "Groceries"},
		{ID: "n2", Title: "Ideas"},
	}
	require.NoError(t, notes.CacheNotes(batch, "t1"))
	require.NoError(t, notes.CacheNotes(batch, "t1"))

	got, err := notes.GetCachedNotes(ListOptions{TenantID: "t1"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestGetCachedNotes_PinnedFirstThenRecency(t *testing.T) {
	notes, _, _ := newTestNoteStore(t)

	// Separate CacheNotes calls give each note a distinct updated_at.
	require.NoError(t, notes.CacheNotes([]types.Note{{ID: "old", Title: "old"}}, "t1"))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, notes.CacheNotes([]types.Note{{ID: "pinned", Title: "pinned", IsPinned: true}}, "t1"))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, notes.CacheNotes([]types.Note{{ID: "new", Title: "new"}}, "t1"))

	got, err := notes.GetCachedNotes(ListOptions{TenantID: "t1"})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "pinned", got[0].ID)
	assert.Equal(t, "new", got[1].ID)
	assert.Equal(t, "old", got[2].ID)
}

func TestGetCachedNotes_Filters(t *testing.T) {
	notes, _, _ := newTestNoteStore(t)

	require.NoError(t, notes.CacheNotes([]types.Note{
		{ID: "plain", Title: "plain"},
		{ID: "archived", Title: "archived", IsArchived: true},
		{ID: "trashed", Title: "trashed", IsTrashed: true},
		{ID: "labelled", Title: "labelled", Labels: []string{"work", "urgent"}},
	}, "t1"))

	active, err := notes.GetCachedNotes(ListOptions{
		TenantID: "t1",
		Archived: boolPtr(false),
		Trashed:  boolPtr(false),
	})
	require.NoError(t, err)
	require.Len(t, active, 2)

	archived, err := notes.GetCachedNotes(ListOptions{TenantID: "t1", Archived: boolPtr(true)})
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, "archived", archived[0].ID)

	work, err := notes.GetCachedNotes(ListOptions{TenantID: "t1", Label: "work"})
	require.NoError(t, err)
	require.Len(t, work, 1)
	assert.Equal(t, "labelled", work[0].ID)

	none, err := notes.GetCachedNotes(ListOptions{TenantID: "t1", Label: "home"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSearchNotes(t *testing.T) {
	notes, _, _ := newTestNoteStore(t)

	require.NoError(t, notes.CacheNotes([]types.Note{
		{ID: "n1", Title: "Shopping list", Content: "milk and eggs"},
		{ID: "n2", Title: "Plans", Items: []types.ChecklistItem{{Text: "buy milk"}}, IsChecklist: true},
		{ID: "n3", Title: "Milk prices", IsTrashed: true},
		{ID: "n4", Title: "Unrelated"},
	}, "t1"))

	hits, err := notes.SearchNotes("t1", "milk")
	require.NoError(t, err)
	require.Len(t, hits, 2, "matches title, content and checklist text but never trashed notes")

	ids := []string{hits[0].ID, hits[1].ID}
	assert.Contains(t, ids, "n1")
	assert.Contains(t, ids, "n2")
}

func TestCreateNoteOffline_AssignsLocalID(t *testing.T) {
	notes, q, _ := newTestNoteStore(t)

	id, err := notes.CreateNoteOffline(types.Note{Title: "draft thought"}, "t1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, LocalIDPrefix))

	note, err := notes.GetNote(id)
	require.NoError(t, err)
	require.NotNil(t, note)
	assert.Equal(t, "draft thought", note.Title)

	items, err := q.Items("t1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, queue.ActionCreate, items[0].Action)
	assert.Equal(t, id, items[0].EntityID)
}

func TestUpdateNote_MergesPatch(t *testing.T) {
	notes, q, _ := newTestNoteStore(t)

	require.NoError(t, notes.CacheNotes([]types.Note{
		{ID: "n1", Title: "Original", Content: "keep me", Color: "yellow"},
	}, "t1"))

	title := "Renamed"
	require.NoError(t, notes.UpdateNote("n1", NotePatch{Title: &title}, true))

	note, err := notes.GetNote("n1")
	require.NoError(t, err)
	require.NotNil(t, note)
	assert.Equal(t, "Renamed", note.Title)
	assert.Equal(t, "keep me", note.Content, "fields outside the patch are untouched")
	assert.Equal(t, "yellow", note.Color)

	items, err := q.Items("t1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, queue.ActionUpdate, items[0].Action)
}

func TestUpdateNote_ChecklistTogglesFlag(t *testing.T) {
	notes, _, _ := newTestNoteStore(t)

	require.NoError(t, notes.CacheNotes([]types.Note{{ID: "n1", Title: "Plain"}}, "t1"))

	require.NoError(t, notes.UpdateNote("n1", NotePatch{
		Items: []types.ChecklistItem{{Text: "step one"}},
	}, false))

	note, err := notes.GetNote("n1")
	require.NoError(t, err)
	assert.True(t, note.IsChecklist)
	require.Len(t, note.Items, 1)
	assert.Equal(t, "step one", note.Items[0].Text)
}

func TestUpdateNote_UncachedID_NoOpAndNoQueueItem(t *testing.T) {
	notes, q, _ := newTestNoteStore(t)

	title := "ghost"
	require.NoError(t, notes.UpdateNote("ghost", NotePatch{Title: &title}, true))
	require.NoError(t, notes.DeleteNote("ghost", true))

	count, err := q.Pending("")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestFlagHelpers(t *testing.T) {
	notes, _, _ := newTestNoteStore(t)

	require.NoError(t, notes.CacheNotes([]types.Note{{ID: "n1", Title: "note"}}, "t1"))

	require.NoError(t, notes.PinNote("n1", true, false))
	require.NoError(t, notes.ArchiveNote("n1", true, false))
	require.NoError(t, notes.ChangeColor("n1", "red", false))

	note, err := notes.GetNote("n1")
	require.NoError(t, err)
	assert.True(t, note.IsPinned)
	assert.True(t, note.IsArchived)
	assert.Equal(t, "red", note.Color)

	require.NoError(t, notes.TrashNote("n1", true, false))
	note, err = notes.GetNote("n1")
	require.NoError(t, err)
	assert.True(t, note.IsTrashed)
}

func TestDeleteNote_Offline(t *testing.T) {
	notes, q, _ := newTestNoteStore(t)

	require.NoError(t, notes.CacheNotes([]types.Note{{ID: "n1", Title: "gone soon"}}, "t1"))
	require.NoError(t, notes.DeleteNote("n1", true))

	note, err := notes.GetNote("n1")
	require.NoError(t, err)
	assert.Nil(t, note)

	items, err := q.Items("t1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, queue.ActionDelete, items[0].Action)
}

func TestReplaceID(t *testing.T) {
	notes, _, _ := newTestNoteStore(t)

	require.NoError(t, notes.CacheNotes([]types.Note{{ID: "local-abc", Title: "created offline"}}, "t1"))
	require.NoError(t, notes.ReplaceID("local-abc", "srv-1"))

	old, err := notes.GetNote("local-abc")
	require.NoError(t, err)
	assert.Nil(t, old)

	renamed, err := notes.GetNote("srv-1")
	require.NoError(t, err)
	require.NotNil(t, renamed)
	assert.Equal(t, "created offline", renamed.Title)
}

func TestReminderRoundTrip(t *testing.T) {
	notes, _, _ := newTestNoteStore(t)

	remind := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, notes.CacheNotes([]types.Note{
		{ID: "n1", Title: "call dentist", Reminder: &remind},
		{ID: "n2", Title: "no reminder"},
	}, "t1"))

	withReminder, err := notes.GetNote("n1")
	require.NoError(t, err)
	require.NotNil(t, withReminder.Reminder)
	assert.True(t, withReminder.Reminder.Equal(remind))

	without, err := notes.GetNote("n2")
	require.NoError(t, err)
	assert.Nil(t, without.Reminder)
}

type fakeNotesAPI struct {
	created []types.Note
	updated map[string]NotePatch
	deleted []string
	nextID  string
}

func (f *fakeNotesAPI) CreateNote(ctx context.Context, note types.Note) (string, error) {
	f.created = append(f.created, note)
	return f.nextID, nil
}

func (f *fakeNotesAPI) UpdateNote(ctx context.Context, id string, patch NotePatch) error {
	if f.updated == nil {
		f.updated = make(map[string]NotePatch)
	}
	f.updated[id] = patch
	return nil
}

func (f *fakeNotesAPI) DeleteNote(ctx context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func TestCreateHandler_ReconcilesLocalID(t *testing.T) {
	notes, q, conn := newTestNoteStore(t)

	api := &fakeNotesAPI{nextID: "server-789"}
	RegisterNoteSyncHandlers(q, api, notes)

	localID, err := notes.CreateNoteOffline(types.Note{Title: "offline idea"}, "t1")
	require.NoError(t, err)

	conn.online = true
	require.NoError(t, q.Flush(context.Background()))

	require.Len(t, api.created, 1)
	assert.Equal(t, "offline idea", api.created[0].Title)

	old, err := notes.GetNote(localID)
	require.NoError(t, err)
	assert.Nil(t, old, "local placeholder row should be rewritten")

	reconciled, err := notes.GetNote("server-789")
	require.NoError(t, err)
	require.NotNil(t, reconciled)
	assert.Equal(t, "offline idea", reconciled.Title)

	count, err := q.Pending("t1")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSyncHandlers_ReplayUpdateAndDelete(t *testing.T) {
	notes, q, conn := newTestNoteStore(t)

	api := &fakeNotesAPI{}
	RegisterNoteSyncHandlers(q, api, notes)

	require.NoError(t, notes.CacheNotes([]types.Note{
		{ID: "n1", Title: "first"},
		{ID: "n2", Title: "second"},
	}, "t1"))

	title := "first, renamed"
	require.NoError(t, notes.UpdateNote("n1", NotePatch{Title: &title}, true))
	require.NoError(t, notes.DeleteNote("n2", true))

	conn.online = true
	require.NoError(t, q.Flush(context.Background()))

	require.Contains(t, api.updated, "n1")
	require.NotNil(t, api.updated["n1"].Title)
	assert.Equal(t, "first, renamed", *api.updated["n1"].Title)
	assert.Equal(t, []string{"n2"}, api.deleted)

	count, err := q.Pending("t1")
	require.NoError(t, err)
	assert.Zero(t, count)
}
