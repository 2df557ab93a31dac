package mailstore

import (
	"context"
	"io"
	"path/filepath"
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

func newTestMailStore(t *testing.T) (*Store, *queue.Manager) {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	s, err := store.Open(filepath.Join(t.TempDir(), "cache.db"), 0, logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	q := queue.NewManager(s, &fakeConn{}, queue.Options{}, logger)
	mail, err := New(s, q, logger)
	require.NoError(t, err)
	return mail, q
}

func testEmail(id, folder string, date time.Time) types.Email {
	return types.Email{
		ID:          id,
		Folder:      folder,
		SenderName:  "Ada Lovelace",
		SenderEmail: "ada@example.com",
		To:          []string{"me@example.com"},
		Subject:     "Subject " + id,
		BodyText:    "body of " + id,
		Date:        date,
	}
}

func TestCacheEmails_Idempotent(t *testing.T) {
	mail, _ := newTestMailStore(t)

	batch := []types.Email{
		testEmail("e1", "inbox", time.Now()),
		testEmail("e2", "inbox", time.Now()),
	}
	require.NoError(t, mail.CacheEmails(batch, "t1"))
	require.NoError(t, mail.CacheEmails(batch, "t1"))

	emails, err := mail.GetCachedEmails(ListOptions{TenantID: "t1"})
	require.NoError(t, err)
	assert.Len(t, emails, 2)
}

func TestCacheEmails_RefreshesCachedAt(t *testing.T) {
	mail, _ := newTestMailStore(t)

	require.NoError(t, mail.CacheEmails([]types.Email{testEmail("e1", "inbox", time.Now())}, "t1"))
	first, err := mail.GetEmail("e1")
	require.NoError(t, err)
	require.NotNil(t, first)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, mail.CacheEmails([]types.Email{testEmail("e1", "inbox", time.Now())}, "t1"))
	second, err := mail.GetEmail("e1")
	require.NoError(t, err)
	require.NotNil(t, second)

	assert.True(t, second.CachedAt.After(first.CachedAt))
}

func TestGetCachedEmails_FolderFilterAndOrder(t *testing.T) {
	mail, _ := newTestMailStore(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, mail.CacheEmails([]types.Email{
		testEmail("old", "inbox", base),
		testEmail("new", "inbox", base.Add(time.Hour)),
		testEmail("other", "sent", base.Add(2*time.Hour)),
	}, "t1"))

	inbox, err := mail.GetCachedEmails(ListOptions{TenantID: "t1", Folder: "inbox"})
	require.NoError(t, err)
	require.Len(t, inbox, 2)
	assert.Equal(t, "new", inbox[0].ID)
	assert.Equal(t, "old", inbox[1].ID)

	all, err := mail.GetCachedEmails(ListOptions{TenantID: "t1"})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestGetCachedEmails_TenantScoped(t *testing.T) {
	mail, _ := newTestMailStore(t)

	require.NoError(t, mail.CacheEmails([]types.Email{testEmail("e1", "inbox", time.Now())}, "t1"))
	require.NoError(t, mail.CacheEmails([]types.Email{testEmail("e2", "inbox", time.Now())}, "t2"))

	emails, err := mail.GetCachedEmails(ListOptions{TenantID: "t1"})
	require.NoError(t, err)
	require.Len(t, emails, 1)
	assert.Equal(t, "e1", emails[0].ID)
}

func TestGetEmail_Missing(t *testing.T) {
	mail, _ := newTestMailStore(t)

	email, err := mail.GetEmail("nope")
	require.NoError(t, err)
	assert.Nil(t, email)
}

func TestSearchEmails(t *testing.T) {
	mail, _ := newTestMailStore(t)

	now := time.Now()
	invoice := testEmail("e1", "inbox", now)
	invoice.Subject = "Quarterly Invoice"
	greeting := testEmail("e2", "inbox", now)
	greeting.Subject = "Hello"
	greeting.BodyText = "the invoice is attached"
	unrelated := testEmail("e3", "inbox", now)
	unrelated.Subject = "Lunch"
	unrelated.BodyText = "see you at noon"
	require.NoError(t, mail.CacheEmails([]types.Email{invoice, greeting, unrelated}, "t1"))

	// LIKE matches case-insensitively on ASCII.
	hits, err := mail.SearchEmails("t1", "invoice")
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	bySender, err := mail.SearchEmails("t1", "lovelace")
	require.NoError(t, err)
	assert.Len(t, bySender, 3)

	none, err := mail.SearchEmails("t1", "zebra")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMarkRead_Offline_EnqueuesReplay(t *testing.T) {
	mail, q := newTestMailStore(t)

	require.NoError(t, mail.CacheEmails([]types.Email{testEmail("e1", "inbox", time.Now())}, "t1"))
	require.NoError(t, mail.MarkRead("e1", true, true))

	email, err := mail.GetEmail("e1")
	require.NoError(t, err)
	require.NotNil(t, email)
	assert.True(t, email.IsRead)

	items, err := q.Items("t1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, EntityType, items[0].Type)
	assert.Equal(t, queue.ActionUpdate, items[0].Action)
	assert.Equal(t, "e1", items[0].EntityID)
}

func TestMarkRead_Online_SkipsQueue(t *testing.T) {
	mail, q := newTestMailStore(t)

	require.NoError(t, mail.CacheEmails([]types.Email{testEmail("e1", "inbox", time.Now())}, "t1"))
	require.NoError(t, mail.MarkRead("e1", true, false))

	count, err := q.Pending("t1")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestMutate_UncachedID_NoOpAndNoQueueItem(t *testing.T) {
	mail, q := newTestMailStore(t)

	require.NoError(t, mail.MarkRead("ghost", true, true))
	require.NoError(t, mail.MoveToFolder("ghost", "trash", true))
	require.NoError(t, mail.DeleteEmail("ghost", true))

	count, err := q.Pending("")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestToggleStar(t *testing.T) {
	mail, _ := newTestMailStore(t)

	require.NoError(t, mail.CacheEmails([]types.Email{testEmail("e1", "inbox", time.Now())}, "t1"))

	require.NoError(t, mail.ToggleStar("e1", true, false))
	email, err := mail.GetEmail("e1")
	require.NoError(t, err)
	assert.True(t, email.IsStarred)

	require.NoError(t, mail.ToggleStar("e1", false, false))
	email, err = mail.GetEmail("e1")
	require.NoError(t, err)
	assert.False(t, email.IsStarred)
}

func TestMoveToFolder(t *testing.T) {
	mail, q := newTestMailStore(t)

	require.NoError(t, mail.CacheEmails([]types.Email{testEmail("e1", "inbox", time.Now())}, "t1"))
	require.NoError(t, mail.MoveToFolder("e1", "archive", true))

	email, err := mail.GetEmail("e1")
	require.NoError(t, err)
	assert.Equal(t, "archive", email.Folder)

	items, err := q.Items("t1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, queue.ActionMove, items[0].Action)
}

func TestDeleteEmail_Offline(t *testing.T) {
	mail, q := newTestMailStore(t)

	require.NoError(t, mail.CacheEmails([]types.Email{testEmail("e1", "inbox", time.Now())}, "t1"))
	require.NoError(t, mail.DeleteEmail("e1", true))

	email, err := mail.GetEmail("e1")
	require.NoError(t, err)
	assert.Nil(t, email)

	items, err := q.Items("t1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, queue.ActionDelete, items[0].Action)
}

func TestCacheFolders(t *testing.T) {
	mail, _ := newTestMailStore(t)

	folders := []types.Folder{
		{ID: "f1", Name: "Inbox", Type: types.FolderInbox, UnreadCount: 3, TotalCount: 10},
		{ID: "f2", Name: "Sent", Type: types.FolderSent, TotalCount: 4},
	}
	require.NoError(t, mail.CacheFolders(folders, "t1"))

	folders[0].UnreadCount = 1
	require.NoError(t, mail.CacheFolders(folders, "t1"))

	got, err := mail.GetFolders("t1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Inbox", got[0].Name)
	assert.Equal(t, 1, got[0].UnreadCount)
	assert.Equal(t, types.FolderInbox, got[0].Type)
}

func TestDrafts_CRUD(t *testing.T) {
	mail, _ := newTestMailStore(t)

	draft := &types.Draft{
		ID:       "d1",
		TenantID: "t1",
		To:       []string{"bob@example.com"},
		Subject:  "WIP",
		Body:     "first pass",
	}
	require.NoError(t, mail.SaveDraft(draft))
	assert.False(t, draft.CreatedAt.IsZero())

	time.Sleep(5 * time.Millisecond)
	draft.Body = "second pass"
	require.NoError(t, mail.SaveDraft(draft))

	got, err := mail.GetDraft("d1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "second pass", got.Body)
	assert.Equal(t, []string{"bob@example.com"}, got.To)
	assert.True(t, got.UpdatedAt.After(got.CreatedAt))

	list, err := mail.ListDrafts("t1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, mail.DeleteDraft("d1"))
	got, err = mail.GetDraft("d1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetEmail_CacheInvalidatedOnMutation(t *testing.T) {
	mail, _ := newTestMailStore(t)

	require.NoError(t, mail.CacheEmails([]types.Email{testEmail("e1", "inbox", time.Now())}, "t1"))

	// Pull it into the body cache, mutate, and read again: the stale
	// cached copy must not survive.
	first, err := mail.GetEmail("e1")
	require.NoError(t, err)
	require.False(t, first.IsRead)

	require.NoError(t, mail.MarkRead("e1", true, false))

	second, err := mail.GetEmail("e1")
	require.NoError(t, err)
	assert.True(t, second.IsRead)
}

type fakeMailAPI struct {
	updated map[string]EmailChanges
	moved   map[string]string
	deleted []string
	sent    []types.Draft
}

func newFakeMailAPI() *fakeMailAPI {
	return &fakeMailAPI{
		updated: make(map[string]EmailChanges),
		moved:   make(map[string]string),
	}
}

func (f *fakeMailAPI) UpdateEmail(ctx context.Context, id string, changes EmailChanges) error {
	f.updated[id] = changes
	return nil
}

func (f *fakeMailAPI) MoveEmail(ctx context.Context, id, folder string) error {
	f.moved[id] = folder
	return nil
}

func (f *fakeMailAPI) DeleteEmail(ctx context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeMailAPI) SendDraft(ctx context.Context, draft types.Draft) (string, error) {
	f.sent = append(f.sent, draft)
	return "server-" + draft.ID, nil
}

func TestSyncHandlers_ReplayOfflineMutations(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	s, err := store.Open(filepath.Join(t.TempDir(), "cache.db"), 0, logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	conn := &fakeConn{}
	q := queue.NewManager(s, conn, queue.Options{}, logger)
	mail, err := New(s, q, logger)
	require.NoError(t, err)

	api := newFakeMailAPI()
	RegisterMailSyncHandlers(q, api, mail)

	require.NoError(t, mail.CacheEmails([]types.Email{
		testEmail("e1", "inbox", time.Now()),
		testEmail("e2", "inbox", time.Now()),
	}, "t1"))

	require.NoError(t, mail.MarkRead("e1", true, true))
	require.NoError(t, mail.MoveToFolder("e1", "archive", true))
	require.NoError(t, mail.DeleteEmail("e2", true))

	conn.online = true
	require.NoError(t, q.Flush(context.Background()))

	count, err := q.Pending("t1")
	require.NoError(t, err)
	assert.Zero(t, count)

	require.Contains(t, api.updated, "e1")
	require.NotNil(t, api.updated["e1"].IsRead)
	assert.True(t, *api.updated["e1"].IsRead)
	assert.Equal(t, "archive", api.moved["e1"])
	assert.Equal(t, []string{"e2"}, api.deleted)
}

func TestSendHandler_DeletesDraftOnConfirmedSend(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	s, err := store.Open(filepath.Join(t.TempDir(), "cache.db"), 0, logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	conn := &fakeConn{}
	q := queue.NewManager(s, conn, queue.Options{}, logger)
	mail, err := New(s, q, logger)
	require.NoError(t, err)

	api := newFakeMailAPI()
	RegisterMailSyncHandlers(q, api, mail)

	draft := &types.Draft{ID: "d1", TenantID: "t1", To: []string{"bob@example.com"}, Subject: "Hi"}
	require.NoError(t, mail.SaveDraft(draft))

	_, err = q.Enqueue(EntityType, queue.ActionSend, SendPayload{DraftID: "d1", Draft: *draft}, "d1", "t1")
	require.NoError(t, err)

	conn.online = true
	require.NoError(t, q.Flush(context.Background()))

	require.Len(t, api.sent, 1)
	assert.Equal(t, "Hi", api.sent[0].Subject)

	got, err := mail.GetDraft("d1")
	require.NoError(t, err)
	assert.Nil(t, got, "draft should be deleted once the server confirmed the send")
}
