package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/brandon/offlinekit/internal/store"
)

// Action is the kind of write a queued item represents.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionMove   Action = "move"
	ActionSend   Action = "send"
)

// Item is one durably recorded write intent. Queue order is creation order
// and is the processing order.
type Item struct {
	ID          string          `json:"id"`
	TenantID    string          `json:"tenant_id"`
	Type        string          `json:"type"`
	Action      Action          `json:"action"`
	EntityID    string          `json:"entity_id,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	RetryCount  int             `json:"retry_count"`
	LastError   string          `json:"last_error,omitempty"`
	NextAttempt time.Time       `json:"next_attempt,omitempty"`
	Dead        bool            `json:"dead"`
}

// SyncResult is the contract every handler returns. ServerID carries the
// canonical id assigned by the server for create/send replays.
type SyncResult struct {
	Success  bool   `json:"success"`
	ItemID   string `json:"item_id"`
	ServerID string `json:"server_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Handler executes one queued item against the remote system.
type Handler func(ctx context.Context, item *Item) SyncResult

// Connectivity is the slice of the network observer the queue needs.
type Connectivity interface {
	Online() bool
	Subscribe(fn func(online bool)) (unsubscribe func())
}

// Options tunes retry behavior. The zero value restores the original
// contract: unbounded immediate retries on every flush.
type Options struct {
	// MaxRetries dead-letters an item after this many failed attempts.
	// Zero means retry forever.
	MaxRetries int
	// RetryBackoff is the base of the exponential backoff schedule between
	// attempts. Zero makes failed items due again immediately.
	RetryBackoff time.Duration
	// FlushInterval is the period of the background flush ticker.
	FlushInterval time.Duration
}

const (
	defaultFlushInterval = 5 * time.Minute
	maxBackoff           = time.Hour
)

type handlerKey struct {
	entityType string
	action     Action
}

// Manager is the durable mutation queue. It records write intents while
// offline and replays them in FIFO order through registered handlers once
// connectivity returns.
type Manager struct {
	store  *store.Store
	conn   Connectivity
	opts   Options
	logger *logrus.Logger
	events *eventBus

	mu       sync.RWMutex
	handlers map[handlerKey]Handler

	syncing atomic.Bool
	now     func() time.Time
}

// NewManager creates a mutation queue over the given store.
func NewManager(s *store.Store, conn Connectivity, opts Options, logger *logrus.Logger) *Manager {
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = defaultFlushInterval
	}
	return &Manager{
		store:    s,
		conn:     conn,
		opts:     opts,
		logger:   logger,
		events:   newEventBus(logger),
		handlers: make(map[handlerKey]Handler),
		now:      time.Now,
	}
}

// RegisterHandler associates an executor with a (type, action) pair. The
// last registration for a pair wins.
func (m *Manager) RegisterHandler(entityType string, action Action, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[handlerKey{entityType, action}] = h
	m.logger.WithFields(logrus.Fields{
		"type":   entityType,
		"action": action,
	}).Debug("Registered sync handler")
}

// On subscribes a listener to a sync event type and returns its
// unsubscribe function.
func (m *Manager) On(eventType EventType, fn Listener) func() {
	return m.events.on(eventType, fn)
}

// Enqueue durably records a write intent and returns its id immediately.
// When currently online it also kicks an asynchronous flush; the caller
// never blocks on network completion.
func (m *Manager) Enqueue(entityType string, action Action, payload any, entityID, tenantID string) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	now := m.now()
	// Time prefix keeps ids roughly sortable; the random suffix guarantees
	// uniqueness without coordination.
	id := fmt.Sprintf("%d-%s", now.UnixNano(), strings.Split(uuid.NewString(), "-")[0])

	_, err = m.store.DB().Exec(`
		INSERT INTO sync_queue (id, tenant_id, type, action, entity_id, payload, created_at, retry_count, last_error, next_attempt, dead)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, '', '', 0)
	`, id, tenantID, entityType, string(action), entityID, string(data), store.FormatTime(now))
	if err != nil {
		return "", fmt.Errorf("failed to enqueue mutation: %w", err)
	}

	m.logger.WithFields(logrus.Fields{
		"item":   id,
		"type":   entityType,
		"action": action,
	}).Debug("Enqueued mutation")

	if m.conn.Online() {
		go m.Flush(context.Background())
	}
	return id, nil
}

// Flush replays every due queued item in creation order. Only one flush
// runs at a time; a concurrent call is a no-op while one is in flight.
// Offline it does nothing.
func (m *Manager) Flush(ctx context.Context) error {
	if !m.syncing.CompareAndSwap(false, true) {
		m.logger.Debug("Flush already in progress, skipping")
		return nil
	}
	defer m.syncing.Store(false)

	if !m.conn.Online() {
		m.logger.Debug("Offline, skipping flush")
		return nil
	}

	m.events.emit(Event{Type: EventSyncStart})

	items, err := m.dueItems()
	if err != nil {
		m.events.emit(Event{Type: EventSyncError, Error: err.Error()})
		return fmt.Errorf("failed to read queue: %w", err)
	}

	var synced, failed int
	for i := range items {
		item := &items[i]
		result := m.process(ctx, item)
		if result.Success {
			if err := m.remove(item.ID); err != nil {
				m.logger.WithError(err).WithField("item", item.ID).Warn("Failed to remove synced item")
				failed++
				continue
			}
			synced++
			m.events.emit(Event{Type: EventItemSynced, Item: item})
		} else {
			if err := m.recordFailure(item, result.Error); err != nil {
				m.logger.WithError(err).WithField("item", item.ID).Warn("Failed to record item failure")
			}
			failed++
			m.events.emit(Event{Type: EventItemFailed, Item: item, Error: result.Error})
		}
	}

	m.logger.WithFields(logrus.Fields{
		"synced": synced,
		"failed": failed,
		"total":  len(items),
	}).Info("Flush complete")
	m.events.emit(Event{Type: EventSyncComplete, Synced: synced, Failed: failed, Total: len(items)})
	return nil
}

// process runs the registered handler for one item. A missing handler and
// a panicking handler both count as failures; the item is retained either
// way.
func (m *Manager) process(ctx context.Context, item *Item) (result SyncResult) {
	m.mu.RLock()
	h, ok := m.handlers[handlerKey{item.Type, item.Action}]
	m.mu.RUnlock()
	if !ok {
		return SyncResult{
			ItemID: item.ID,
			Error:  fmt.Sprintf("no handler registered for %s/%s", item.Type, item.Action),
		}
	}

	defer func() {
		if r := recover(); r != nil {
			result = SyncResult{ItemID: item.ID, Error: fmt.Sprintf("handler panicked: %v", r)}
		}
	}()
	return h(ctx, item)
}

// recordFailure increments the retry counter, records the error, schedules
// the next attempt, and dead-letters the item once it exceeds MaxRetries.
func (m *Manager) recordFailure(item *Item, errMsg string) error {
	item.RetryCount++
	item.LastError = errMsg

	dead := 0
	if m.opts.MaxRetries > 0 && item.RetryCount >= m.opts.MaxRetries {
		dead = 1
		item.Dead = true
		m.logger.WithFields(logrus.Fields{
			"item":    item.ID,
			"retries": item.RetryCount,
			"error":   errMsg,
		}).Warn("Dead-lettered mutation")
	}

	next := m.now().Add(m.backoff(item.RetryCount))
	item.NextAttempt = next

	_, err := m.store.DB().Exec(`
		UPDATE sync_queue SET retry_count = ?, last_error = ?, next_attempt = ?, dead = ?
		WHERE id = ?
	`, item.RetryCount, errMsg, store.FormatTime(next), dead, item.ID)
	return err
}

// backoff returns the delay before the given attempt number, doubling per
// failure and capped at an hour. A zero base disables the schedule.
func (m *Manager) backoff(retries int) time.Duration {
	if m.opts.RetryBackoff <= 0 {
		return 0
	}
	d := m.opts.RetryBackoff
	for i := 1; i < retries; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

func (m *Manager) remove(id string) error {
	_, err := m.store.DB().Exec("DELETE FROM sync_queue WHERE id = ?", id)
	return err
}

// dueItems reads the live items whose next attempt has come, in creation
// order.
func (m *Manager) dueItems() ([]Item, error) {
	rows, err := m.store.DB().Query(`
		SELECT id, tenant_id, type, action, entity_id, payload, created_at, retry_count, last_error, next_attempt, dead
		FROM sync_queue
		WHERE dead = 0 AND next_attempt <= ?
		ORDER BY created_at ASC, id ASC
	`, store.FormatTime(m.now()))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanItems(rows)
}

// Items returns every live queued item for a tenant (all tenants when the
// id is empty), in creation order.
func (m *Manager) Items(tenantID string) ([]Item, error) {
	return m.list(tenantID, 0)
}

// DeadItems returns the dead-lettered items for a tenant.
func (m *Manager) DeadItems(tenantID string) ([]Item, error) {
	return m.list(tenantID, 1)
}

func (m *Manager) list(tenantID string, dead int) ([]Item, error) {
	query := `
		SELECT id, tenant_id, type, action, entity_id, payload, created_at, retry_count, last_error, next_attempt, dead
		FROM sync_queue WHERE dead = ?
	`
	args := []any{dead}
	if tenantID != "" {
		query += " AND tenant_id = ?"
		args = append(args, tenantID)
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := m.store.DB().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue items: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// Pending returns the count of live queued items for a tenant (all tenants
// when the id is empty).
func (m *Manager) Pending(tenantID string) (int, error) {
	query := "SELECT COUNT(*) FROM sync_queue WHERE dead = 0"
	args := []any{}
	if tenantID != "" {
		query += " AND tenant_id = ?"
		args = append(args, tenantID)
	}
	var count int
	if err := m.store.DB().QueryRow(query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count pending items: %w", err)
	}
	return count, nil
}

// Start wires the process-wide triggers: an immediate flush on every
// offline-to-online transition and a periodic flush while online. It
// returns after launching the background loop, which stops with ctx.
func (m *Manager) Start(ctx context.Context) {
	unsubscribe := m.conn.Subscribe(func(online bool) {
		if online {
			m.logger.Info("Back online, flushing sync queue")
			go m.Flush(ctx)
		}
	})

	go func() {
		defer unsubscribe()
		ticker := time.NewTicker(m.opts.FlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if m.conn.Online() {
					if err := m.Flush(ctx); err != nil {
						m.logger.WithError(err).Warn("Periodic flush failed")
					}
				}
			}
		}
	}()
}

func scanItems(rows *sql.Rows) ([]Item, error) {
	var items []Item
	for rows.Next() {
		var (
			item                   Item
			action, payload        string
			createdAt, nextAttempt string
			dead                   int
		)
		err := rows.Scan(&item.ID, &item.TenantID, &item.Type, &action, &item.EntityID,
			&payload, &createdAt, &item.RetryCount, &item.LastError, &nextAttempt, &dead)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		item.Action = Action(action)
		item.Payload = json.RawMessage(payload)
		item.CreatedAt = store.ParseTime(createdAt)
		item.NextAttempt = store.ParseTime(nextAttempt)
		item.Dead = dead == 1
		items = append(items, item)
	}
	return items, rows.Err()
}
