package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/offlinekit/internal/mailstore"
	"github.com/brandon/offlinekit/internal/notestore"
	"github.com/brandon/offlinekit/pkg/types"
)

// API is the thin REST transport against the remote backend. It implements
// mailstore.MailAPI and notestore.NotesAPI so the sync handlers can replay
// queued mutations through it.
type API struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *logrus.Logger
}

// NewAPI creates a transport for the given base URL and bearer token.
func NewAPI(baseURL, token string, timeout time.Duration, logger *logrus.Logger) *API {
	return &API{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// do performs one JSON request. A nil out discards the response body.
func (a *API) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// ListEmails fetches the messages of one folder (all folders when empty).
func (a *API) ListEmails(ctx context.Context, folder string) ([]types.Email, error) {
	path := "/mail/messages"
	if folder != "" {
		path += "?folder=" + url.QueryEscape(folder)
	}
	var emails []types.Email
	if err := a.do(ctx, http.MethodGet, path, nil, &emails); err != nil {
		return nil, err
	}
	return emails, nil
}

// ListFolders fetches the folder list with its counters.
func (a *API) ListFolders(ctx context.Context) ([]types.Folder, error) {
	var folders []types.Folder
	if err := a.do(ctx, http.MethodGet, "/mail/folders", nil, &folders); err != nil {
		return nil, err
	}
	return folders, nil
}

// UpdateEmail patches message flags and returns the server's view of the
// record.
func (a *API) UpdateEmail(ctx context.Context, id string, changes mailstore.EmailChanges) error {
	return a.do(ctx, http.MethodPatch, "/mail/messages/"+url.PathEscape(id), changes, nil)
}

// UpdateEmailFetch patches message flags and decodes the updated record, so
// the cache can be driven by the server's response instead of the
// optimistic local value.
func (a *API) UpdateEmailFetch(ctx context.Context, id string, changes mailstore.EmailChanges) (*types.Email, error) {
	var email types.Email
	if err := a.do(ctx, http.MethodPatch, "/mail/messages/"+url.PathEscape(id), changes, &email); err != nil {
		return nil, err
	}
	return &email, nil
}

// MoveEmail moves a message to another folder.
func (a *API) MoveEmail(ctx context.Context, id, folder string) error {
	body := map[string]string{"folder": folder}
	return a.do(ctx, http.MethodPost, "/mail/messages/"+url.PathEscape(id)+"/move", body, nil)
}

// DeleteEmail deletes a message.
func (a *API) DeleteEmail(ctx context.Context, id string) error {
	return a.do(ctx, http.MethodDelete, "/mail/messages/"+url.PathEscape(id), nil, nil)
}

// SendDraft submits a draft for delivery and returns the sent message id.
func (a *API) SendDraft(ctx context.Context, draft types.Draft) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	if err := a.do(ctx, http.MethodPost, "/mail/messages/send", draft, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// ListNotes fetches the full note set.
func (a *API) ListNotes(ctx context.Context) ([]types.Note, error) {
	var notes []types.Note
	if err := a.do(ctx, http.MethodGet, "/notes", nil, &notes); err != nil {
		return nil, err
	}
	return notes, nil
}

// CreateNote creates a note and returns the server-assigned id.
func (a *API) CreateNote(ctx context.Context, note types.Note) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	if err := a.do(ctx, http.MethodPost, "/notes", note, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// UpdateNote patches a note.
func (a *API) UpdateNote(ctx context.Context, id string, patch notestore.NotePatch) error {
	return a.do(ctx, http.MethodPatch, "/notes/"+url.PathEscape(id), patch, nil)
}

// DeleteNote deletes a note.
func (a *API) DeleteNote(ctx context.Context, id string) error {
	return a.do(ctx, http.MethodDelete, "/notes/"+url.PathEscape(id), nil, nil)
}
