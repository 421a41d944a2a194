// Package history keeps chat transcripts on disk, one JSON file per conversation.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/saker-ai/xiaozhi-client/internal/logger"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	roleMetadata  = "metadata"
)

var (
	ErrInvalidID = errors.New("invalid history id")
	ErrNotFound  = errors.New("history not found")
)

// Message is one transcript line.
type Message struct {
	Role      string `json:"role"`
	Timestamp string `json:"timestamp"`
	Content   string `json:"content,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// Info summarises one conversation for listings.
type Info struct {
	ID            string  `json:"id"`
	LatestMessage Message `json:"latest_message"`
	Timestamp     string  `json:"timestamp"`
}

var safeIDPattern = regexp.MustCompile(`^[A-Za-z0-9_\-\.]+$`)

// Store writes transcripts under dir. Record appends to the current
// conversation, starting one on first use.
type Store struct {
	dir    string
	now    func() time.Time
	logger *zap.Logger

	mu      sync.Mutex
	current string
}

func NewStore(dir string, log *zap.Logger) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("history dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{dir: dir, now: time.Now, logger: logger.OrNop(log).Named("history")}, nil
}

// Begin starts a new conversation and makes it current.
func (s *Store) Begin() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.beginLocked()
}

func (s *Store) beginLocked() (string, error) {
	now := s.now()
	id := now.Format("2006-01-02_15-04-05") + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	meta := []Message{{Role: roleMetadata, Timestamp: now.Format(time.RFC3339)}}
	if err := writeMessages(filepath.Join(s.dir, id+".json"), meta); err != nil {
		return "", err
	}
	s.current = id
	return id, nil
}

// Current returns the id of the conversation Record appends to, if any.
func (s *Store) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Record appends one line to the current conversation. Blank content is ignored.
func (s *Store) Record(role, content, sessionID string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == "" {
		if _, err := s.beginLocked(); err != nil {
			return err
		}
	}
	path := filepath.Join(s.dir, s.current+".json")
	messages, err := readMessages(path)
	if err != nil {
		return fmt.Errorf("read history %s: %w", s.current, err)
	}
	messages = append(messages, Message{
		Role:      role,
		Timestamp: s.now().Format(time.RFC3339),
		Content:   content,
		SessionID: sessionID,
	})
	return writeMessages(path, messages)
}

// Get returns the transcript lines of one conversation.
func (s *Store) Get(id string) ([]Message, error) {
	path, err := s.path(id)
	if err != nil {
		return nil, err
	}
	messages, err := readMessages(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	filtered := []Message{}
	for _, msg := range messages {
		if msg.Role == roleMetadata {
			continue
		}
		filtered = append(filtered, msg)
	}
	return filtered, nil
}

// Delete removes one conversation. Deleting the current one makes the next
// Record start a fresh conversation.
func (s *Store) Delete(id string) error {
	path, err := s.path(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return err
	}
	if s.current == id {
		s.current = ""
	}
	return nil
}

// List returns conversations with at least one line, newest first.
func (s *Store) List() []Info {
	list := []Info{}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Warn("list history failed", zap.Error(err))
		return list
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		messages, err := readMessages(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			continue
		}
		for i := len(messages) - 1; i >= 0; i-- {
			if messages[i].Role == roleMetadata {
				continue
			}
			list = append(list, Info{
				ID:            strings.TrimSuffix(entry.Name(), ".json"),
				LatestMessage: messages[i],
				Timestamp:     messages[i].Timestamp,
			})
			break
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Timestamp == list[j].Timestamp {
			return list[i].ID > list[j].ID
		}
		return list[i].Timestamp > list[j].Timestamp
	})
	return list
}

func (s *Store) path(id string) (string, error) {
	if !safeIDPattern.MatchString(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return filepath.Join(s.dir, id+".json"), nil
}

func readMessages(path string) ([]Message, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var messages []Message
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func writeMessages(path string, messages []Message) error {
	data, err := json.MarshalIndent(messages, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
