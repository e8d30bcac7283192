package task

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Store persists the task list as a single JSONL file, rewritten wholesale
// on every mutation via a tmp-then-rename swap, the same crash-safe pattern
// session.Store uses for its index. Task lists are small enough (tens to
// low hundreds of entries) that whole-file rewrite beats the complexity of
// an append log with compaction.
type Store struct {
	dataDir string
	logger  *zap.Logger

	mu    sync.Mutex
	tasks map[string]*Task
}

// NewStore creates a Store rooted at dataDir, loading any existing tasks.
func NewStore(dataDir string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create task data dir: %w", err)
	}
	s := &Store{
		dataDir: dataDir,
		logger:  logger.With(zap.String("component", "task_store")),
		tasks:   make(map[string]*Task),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) path() string {
	return filepath.Join(s.dataDir, "tasks.jsonl")
}

func (s *Store) load() error {
	f, err := os.Open(s.path())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var t Task
		if err := json.Unmarshal(line, &t); err != nil {
			s.logger.Warn("skipping corrupt task line", zap.Error(err))
			continue
		}
		s.tasks[t.ID] = &t
	}
	return scanner.Err()
}

// CreateInput is what a caller supplies; everything else (ID, CreatedAt,
// Status) is assigned by Create.
type CreateInput struct {
	Title       string
	Description string
	Type        Type
	Priority    Priority
	DueAt       time.Time
	ScheduledAt time.Time
	Tags        []string
	SourceKey   string
}

// Create adds a new pending task and persists it.
func (s *Store) Create(in CreateInput) (Task, error) {
	if in.Title == "" {
		return Task{}, fmt.Errorf("title is required")
	}
	taskType := in.Type
	if taskType == "" {
		taskType = TypeTodo
	}
	priority := in.Priority
	if priority == (Priority{}) {
		priority = DefaultPriority
	}

	t := Task{
		ID:          newID(),
		Title:       in.Title,
		Description: in.Description,
		Type:        taskType,
		Status:      StatusPending,
		Priority:    priority,
		CreatedAt:   time.Now(),
		DueAt:       in.DueAt,
		ScheduledAt: in.ScheduledAt,
		Tags:        in.Tags,
		SourceKey:   in.SourceKey,
	}

	s.mu.Lock()
	s.tasks[t.ID] = &t
	s.mu.Unlock()

	if err := s.persist(); err != nil {
		return Task{}, err
	}
	s.logger.Info("task created", zap.String("task_id", t.ID), zap.String("title", t.Title))
	return t, nil
}

// Get returns the task with id, if any.
func (s *Store) Get(id string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// ListFilter narrows List's results; zero-value fields are unfiltered.
type ListFilter struct {
	Status Status
	Type   Type
}

// List returns tasks matching filter, sorted by descending priority score.
func (s *Store) List(filter ListFilter) []Task {
	s.mu.Lock()
	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.Type != "" && t.Type != filter.Type {
			continue
		}
		out = append(out, *t)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].PriorityScore() > out[j].PriorityScore()
	})
	return out
}

// Complete marks a task done, recording result.
func (s *Store) Complete(id, result string) (bool, error) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return false, nil
	}
	t.Status = StatusCompleted
	t.CompletedAt = time.Now()
	t.Result = result
	s.mu.Unlock()

	if err := s.persist(); err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes a single task by ID.
func (s *Store) Delete(id string) (bool, error) {
	s.mu.Lock()
	_, ok := s.tasks[id]
	if ok {
		delete(s.tasks, id)
	}
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, s.persist()
}

// DeleteMany removes every task in ids, returning how many actually existed.
func (s *Store) DeleteMany(ids []string) (int, error) {
	s.mu.Lock()
	n := 0
	for _, id := range ids {
		if _, ok := s.tasks[id]; ok {
			delete(s.tasks, id)
			n++
		}
	}
	s.mu.Unlock()
	if n == 0 {
		return 0, nil
	}
	return n, s.persist()
}

// DeleteAllPending removes every task currently in StatusPending, the
// "clear my task list" operation: it deliberately spares tasks already
// in progress, blocked, or finished rather than wiping history.
func (s *Store) DeleteAllPending() (int, error) {
	s.mu.Lock()
	n := 0
	for id, t := range s.tasks {
		if t.Status == StatusPending {
			delete(s.tasks, id)
			n++
		}
	}
	s.mu.Unlock()
	if n == 0 {
		return 0, nil
	}
	return n, s.persist()
}

func (s *Store) persist() error {
	s.mu.Lock()
	tasks := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	tmp := s.path() + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open task store tmp file: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, t := range tasks {
		b, err := json.Marshal(t)
		if err != nil {
			f.Close()
			return err
		}
		if _, err := w.Write(append(b, '\n')); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path())
}
