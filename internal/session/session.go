// Package session persists conversation history between Butler processes.
package session

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/KafClaw/butler/internal/agent"
)

// Message is one stored turn.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Session is one conversation.
type Session struct {
	Key            string    `json:"key"`
	ConversationID string    `json:"conversation_id"`
	Messages       []Message `json:"messages"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Turns returns the last max messages as agent turns; max <= 0 returns all.
func (s *Session) Turns(max int) []agent.Turn {
	msgs := s.Messages
	if max > 0 && len(msgs) > max {
		msgs = msgs[len(msgs)-max:]
	}
	out := make([]agent.Turn, len(msgs))
	for i, m := range msgs {
		out[i] = agent.Turn{Role: m.Role, Content: m.Content}
	}
	return out
}

// SessionInfo describes a stored session without its messages.
type SessionInfo struct {
	Key            string
	ConversationID string
	Messages       int
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Path           string
}

// Manager stores one JSONL file per session: a metadata line followed by
// one line per message.
type Manager struct {
	dir        string
	maxHistory int

	mu sync.Mutex
}

// NewManager opens (and creates) the sessions directory. At most maxHistory
// messages are kept per session; 0 keeps everything.
func NewManager(dir string, maxHistory int) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	return &Manager{dir: dir, maxHistory: maxHistory}, nil
}

type metaLine struct {
	Type           string    `json:"_type"`
	ConversationID string    `json:"conversation_id"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// History returns the stored conversation of key; found is false when the
// session has never been saved.
func (m *Manager) History(key string) (conversationID string, turns []agent.Turn, found bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.load(key)
	if err != nil || s == nil {
		return "", nil, false
	}
	return s.ConversationID, s.Turns(m.maxHistory), true
}

// Append adds turns to the session, creating it when missing.
func (m *Manager) Append(key, conversationID string, turns ...agent.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.load(key)
	if err != nil {
		return err
	}
	now := time.Now()
	if s == nil {
		s = &Session{Key: key, ConversationID: conversationID, CreatedAt: now}
	}
	for _, t := range turns {
		s.Messages = append(s.Messages, Message{Role: t.Role, Content: t.Content, Timestamp: now})
	}
	if m.maxHistory > 0 && len(s.Messages) > m.maxHistory {
		s.Messages = s.Messages[len(s.Messages)-m.maxHistory:]
	}
	s.UpdatedAt = now
	return m.save(s)
}

// End removes the session. Ending an unknown session is not an error.
func (m *Manager) End(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := os.Remove(m.sessionPath(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session %s: %w", key, err)
	}
	return nil
}

// Get returns the full stored session, or nil when missing.
func (m *Manager) Get(key string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load(key)
}

// List returns the stored sessions, most recently updated first.
func (m *Manager) List() ([]SessionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("read sessions dir: %w", err)
	}
	var out []SessionInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		path := filepath.Join(m.dir, e.Name())
		s, err := readFile(path, "")
		if err != nil || s == nil {
			continue
		}
		out = append(out, SessionInfo{
			Key:            s.Key,
			ConversationID: s.ConversationID,
			Messages:       len(s.Messages),
			CreatedAt:      s.CreatedAt,
			UpdatedAt:      s.UpdatedAt,
			Path:           path,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (m *Manager) save(s *Session) error {
	path := m.sessionPath(s.Key)
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create session file: %w", err)
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	// Key is stored in the metadata so List can recover keys that were
	// escaped in the file name.
	meta := struct {
		metaLine
		Key string `json:"key"`
	}{metaLine{Type: "metadata", ConversationID: s.ConversationID, CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt}, s.Key}
	if err := enc.Encode(meta); err != nil {
		f.Close()
		return fmt.Errorf("write session metadata: %w", err)
	}
	for _, msg := range s.Messages {
		if err := enc.Encode(msg); err != nil {
			f.Close()
			return fmt.Errorf("write session message: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flush session file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close session file: %w", err)
	}
	return os.Rename(tmp, path)
}

func (m *Manager) load(key string) (*Session, error) {
	return readFile(m.sessionPath(key), key)
}

func readFile(path, key string) (*Session, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open session file: %w", err)
	}
	defer f.Close()

	s := &Session{Key: key}
	dec := json.NewDecoder(f)
	for dec.More() {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			break
		}
		var meta struct {
			metaLine
			Key string `json:"key"`
		}
		if json.Unmarshal(raw, &meta) == nil && meta.Type == "metadata" {
			s.ConversationID = meta.ConversationID
			s.CreatedAt, s.UpdatedAt = meta.CreatedAt, meta.UpdatedAt
			if s.Key == "" {
				s.Key = meta.Key
			}
			continue
		}
		var msg Message
		if json.Unmarshal(raw, &msg) == nil {
			s.Messages = append(s.Messages, msg)
		}
	}
	return s, nil
}

func (m *Manager) sessionPath(key string) string {
	safeKey := strings.ReplaceAll(key, ":", "_")
	// Strip path separators and traversal components to prevent path injection.
	safeKey = strings.ReplaceAll(safeKey, "/", "_")
	safeKey = strings.ReplaceAll(safeKey, "\\", "_")
	safeKey = strings.ReplaceAll(safeKey, "..", "_")
	return filepath.Join(m.dir, filepath.Base(safeKey)+".jsonl")
}
