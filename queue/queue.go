// Package queue implements the on-disk delivery queue: at-least-once,
// crash-safe outbound message delivery with bounded exponential backoff and
// a dead-letter directory for exhausted retries.
package queue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// BackoffSchedule is the fixed bounded backoff applied between delivery
// attempts, indexed by retryCount (0-based, clamped to the last entry).
var BackoffSchedule = []time.Duration{5 * time.Second, 25 * time.Second, 2 * time.Minute, 10 * time.Minute}

// DefaultMaxRetries is the retry ceiling before a delivery is dead-lettered.
const DefaultMaxRetries = 5

// Delivery is one outbound message awaiting delivery through a channel adapter.
type Delivery struct {
	ID          string    `json:"id"`
	Channel     string    `json:"channel"`
	To          string    `json:"to"`
	Text        string    `json:"text"`
	AgentID     string    `json:"agent_id"`
	SessionKey  string    `json:"session_key"`
	RetryCount  int       `json:"retry_count"`
	MaxRetries  int       `json:"max_retries"`
	LastError   string    `json:"last_error,omitempty"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
	NextRetryAt time.Time `json:"next_retry_at"`
}

// backoffFor returns the delay to apply after retryCount prior attempts.
func backoffFor(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount >= len(BackoffSchedule) {
		return BackoffSchedule[len(BackoffSchedule)-1]
	}
	return BackoffSchedule[retryCount]
}

// Queue persists deliveries as one file per item under dataDir, moving
// exhausted items into dataDir/failed. Every mutation is a tmp-file-then-
// rename so a crash mid-write never leaves a torn record.
type Queue struct {
	dataDir   string
	failedDir string

	mu    sync.Mutex
	items map[string]*Delivery
}

// New creates a Queue rooted at dataDir, replaying any deliveries already on disk.
func New(dataDir string) (*Queue, error) {
	failedDir := filepath.Join(dataDir, "failed")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create queue data dir: %w", err)
	}
	if err := os.MkdirAll(failedDir, 0o755); err != nil {
		return nil, fmt.Errorf("create dead-letter dir: %w", err)
	}
	q := &Queue{dataDir: dataDir, failedDir: failedDir, items: make(map[string]*Delivery)}
	if err := q.loadFromDisk(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Queue) itemPath(id string) string {
	return filepath.Join(q.dataDir, id+".json")
}

func (q *Queue) failedPath(id string) string {
	return filepath.Join(q.failedDir, id+".json")
}

func (q *Queue) loadFromDisk() error {
	entries, err := os.ReadDir(q.dataDir)
	if err != nil {
		return fmt.Errorf("read queue data dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(q.dataDir, e.Name()))
		if err != nil {
			continue
		}
		var d Delivery
		if err := json.Unmarshal(data, &d); err != nil {
			continue
		}
		q.items[d.ID] = &d
	}
	return nil
}

func (q *Queue) writeAtomic(path string, d *Delivery) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Enqueue durably persists a new delivery and returns its assigned ID.
func (q *Queue) Enqueue(d Delivery) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.MaxRetries <= 0 {
		d.MaxRetries = DefaultMaxRetries
	}
	now := time.Now()
	if d.EnqueuedAt.IsZero() {
		d.EnqueuedAt = now
	}
	d.NextRetryAt = now

	if err := q.writeAtomic(q.itemPath(d.ID), &d); err != nil {
		return "", fmt.Errorf("persist delivery: %w", err)
	}
	q.items[d.ID] = &d
	return d.ID, nil
}

// Due returns a snapshot of deliveries whose NextRetryAt has passed.
func (q *Queue) Due(now time.Time) []Delivery {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []Delivery
	for _, d := range q.items {
		if !now.Before(d.NextRetryAt) {
			out = append(out, *d)
		}
	}
	return out
}

// MarkDelivered removes a successfully delivered item from the queue.
func (q *Queue) MarkDelivered(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.items, id)
	if err := os.Remove(q.itemPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove delivered item: %w", err)
	}
	return nil
}

// MarkFailed records a delivery attempt failure. If the delivery has not
// exhausted its retries, it schedules the next attempt using the bounded
// backoff schedule; otherwise it moves the item to the dead-letter directory.
func (q *Queue) MarkFailed(id string, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	d, ok := q.items[id]
	if !ok {
		return fmt.Errorf("delivery %s not found", id)
	}
	d.RetryCount++
	if cause != nil {
		d.LastError = cause.Error()
	}

	if d.RetryCount >= d.MaxRetries {
		if err := q.writeAtomic(q.failedPath(id), d); err != nil {
			return fmt.Errorf("dead-letter delivery: %w", err)
		}
		delete(q.items, id)
		return os.Remove(q.itemPath(id))
	}

	d.NextRetryAt = time.Now().Add(backoffFor(d.RetryCount - 1))
	return q.writeAtomic(q.itemPath(id), d)
}

// DeadLetter moves a delivery straight to the dead-letter directory without
// attempting it and without incrementing RetryCount. The worker calls this
// when it finds a due delivery that has already exhausted its retries
// (retryCount >= maxRetries) before making another send attempt.
func (q *Queue) DeadLetter(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	d, ok := q.items[id]
	if !ok {
		return fmt.Errorf("delivery %s not found", id)
	}
	if err := q.writeAtomic(q.failedPath(id), d); err != nil {
		return fmt.Errorf("dead-letter delivery: %w", err)
	}
	delete(q.items, id)
	return os.Remove(q.itemPath(id))
}

// Len reports the number of deliveries currently pending (excluding dead-lettered ones).
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
