package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Message is one transcript entry.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is the in-memory summary of a persisted conversation.
type Session struct {
	Key          string    `json:"key"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	MessageCount int       `json:"message_count"`
	Archived     bool      `json:"archived"`
}

// ArchiveAge is the idle duration after which Store.SweepArchive archives a session.
const ArchiveAge = 30 * 24 * time.Hour

// Store persists one JSONL transcript per sessionKey plus a sessions.jsonl
// index, mirroring the tmp-file-then-rename atomicity used elsewhere for
// crash-safe on-disk state.
type Store struct {
	dataDir string
	logger  *zap.Logger

	mu       sync.Mutex // guards locks map and the index file
	locks    map[string]*sync.Mutex
	sessions map[string]*Session
}

// NewStore creates a Store rooted at dataDir, loading any existing index.
func NewStore(dataDir string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Join(dataDir, "transcripts"), 0o755); err != nil {
		return nil, fmt.Errorf("create session data dir: %w", err)
	}
	s := &Store{
		dataDir:  dataDir,
		logger:   logger.With(zap.String("component", "session_store")),
		locks:    make(map[string]*sync.Mutex),
		sessions: make(map[string]*Session),
	}
	if err := s.loadIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) indexPath() string {
	return filepath.Join(s.dataDir, "sessions.jsonl")
}

func (s *Store) transcriptPath(key string) string {
	return filepath.Join(s.dataDir, "transcripts", safeFilename(key)+".jsonl")
}

func safeFilename(key string) string {
	out := make([]rune, 0, len(key))
	for _, r := range key {
		if r == ':' {
			out = append(out, '_')
			continue
		}
		out = append(out, r)
	}
	return string(out)
}

func (s *Store) loadIndex() error {
	f, err := os.Open(s.indexPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open session index: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var sess Session
		if err := json.Unmarshal(line, &sess); err != nil {
			s.logger.Warn("skipping corrupt session index line", zap.Error(err))
			continue
		}
		// normalize legacy 3/4-segment ambiguity on load
		if key, err := ParseKey(sess.Key); err == nil {
			sess.Key = key.String()
		}
		s.sessions[sess.Key] = &sess
	}
	return scanner.Err()
}

// lockFor returns the per-sessionKey mutex, creating it if necessary. The
// same mutex is shared with the supervisor's confirmation-gate state so a
// session's history and its pending confirmation always evolve atomically.
func (s *Store) lockFor(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// Lock exposes the per-sessionKey mutex so callers (the supervisor) can hold
// it across a whole confirm-or-call turn.
func (s *Store) Lock(key Key) *sync.Mutex {
	return s.lockFor(key.String())
}

// GetOrCreate returns the Session for key, creating a fresh one on first use.
func (s *Store) GetOrCreate(key Key) *Session {
	k := key.String()
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[k]; ok {
		return sess
	}
	now := time.Now()
	sess := &Session{Key: k, CreatedAt: now, LastActiveAt: now}
	s.sessions[k] = sess
	return sess
}

// Get returns the Session for key if it exists.
func (s *Store) Get(key Key) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[key.String()]
	return sess, ok
}

// Append writes msg to key's transcript as one fsynced appended line, then
// rewrites the index through an atomic tmp-then-rename write.
func (s *Store) Append(key Key, msg Message) error {
	lock := s.lockFor(key.String())
	lock.Lock()
	defer lock.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	if err := appendJSONLine(s.transcriptPath(key.String()), msg); err != nil {
		return fmt.Errorf("append transcript: %w", err)
	}

	sess := s.GetOrCreate(key)
	s.mu.Lock()
	sess.LastActiveAt = msg.CreatedAt
	sess.MessageCount++
	s.mu.Unlock()

	return s.writeIndex()
}

// Transcript reads back the full message history for key.
func (s *Store) Transcript(key Key) ([]Message, error) {
	f, err := os.Open(s.transcriptPath(key.String()))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	var out []Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var m Message
		if err := json.Unmarshal(line, &m); err != nil {
			s.logger.Warn("skipping corrupt transcript line", zap.Error(err))
			continue
		}
		out = append(out, m)
	}
	return out, scanner.Err()
}

// Delete removes a session's transcript and index entry. Whether this is a
// hard delete or an archival flip is an explicit open question, decided in
// DESIGN.md: this implementation hard-deletes, matching the sessions.delete
// method's spec wording, while SweepArchive separately soft-archives idle
// sessions after ArchiveAge.
func (s *Store) Delete(key Key) error {
	lock := s.lockFor(key.String())
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(s.transcriptPath(key.String())); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove transcript: %w", err)
	}

	s.mu.Lock()
	delete(s.sessions, key.String())
	s.mu.Unlock()

	return s.writeIndex()
}

// SweepArchive marks sessions idle for longer than ArchiveAge as archived.
func (s *Store) SweepArchive(now time.Time) (int, error) {
	s.mu.Lock()
	n := 0
	for _, sess := range s.sessions {
		if !sess.Archived && now.Sub(sess.LastActiveAt) > ArchiveAge {
			sess.Archived = true
			n++
		}
	}
	s.mu.Unlock()
	if n == 0 {
		return 0, nil
	}
	return n, s.writeIndex()
}

// List returns all known sessions ordered by LastActiveAt descending, most
// recently active first.
func (s *Store) List() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActiveAt.After(out[j].LastActiveAt)
	})
	return out
}

func (s *Store) writeIndex() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}

	tmp := s.indexPath() + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, sess := range sessions {
		b, err := json.Marshal(sess)
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
	return os.Rename(tmp, s.indexPath())
}

func appendJSONLine(path string, v any) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	if _, err := f.Write(b); err != nil {
		return err
	}
	return f.Sync()
}
