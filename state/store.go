// Package state is the durable record of uploaded-file metadata, usage
// counters, and conversation history. It owns none of the chunk vectors;
// those belong to the index.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/fabfab/docqa/storage"
)

const (
	filesInfoPath     = "state/files_info.json"
	statsPath         = "state/stats.json"
	conversationsPath = "state/conversations.json"
)

var (
	ErrTooManyDocuments = errors.New("maximum number of documents reached")
	ErrDuplicateName    = errors.New("a document with this name already exists")
)

type Document struct {
	ID           string    `json:"id"`
	OriginalName string    `json:"original_name"`
	SourceType   string    `json:"source_type"`
	ByteSize     int64     `json:"byte_size"`
	UploadedAt   time.Time `json:"upload_timestamp"`
	ChunkCount   int       `json:"chunk_count"`
}

// Turn is one question/answer (or refusal) exchange. Exactly one of
// Answer and RefusalReason is set.
type Turn struct {
	SessionID         string    `json:"session_id"`
	Query             string    `json:"query_text"`
	Answer            string    `json:"answer_text,omitempty"`
	RefusalReason     string    `json:"refusal_reason,omitempty"`
	RetrievedChunkIDs []string  `json:"retrieved_chunk_ids,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

type UsageStats struct {
	DocumentCount     int `json:"document_count"`
	ConversationCount int `json:"conversation_count"`
}

// Store serialises every mutation behind one mutex and persists each
// change through the storage backend before it becomes visible, writing
// whole files that the backend replaces atomically. The counters are
// derived from the authoritative collections, never tracked separately.
type Store struct {
	mu           sync.Mutex
	backend      storage.Backend
	logger       *log.Logger
	maxDocuments int

	documents []Document
	turns     []Turn
}

func NewStore(backend storage.Backend, maxDocuments int, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Default()
	}
	return &Store{
		backend:      backend,
		logger:       logger,
		maxDocuments: maxDocuments,
	}
}

// Load reads persisted state. A missing or corrupt backing file yields
// empty state and a log line, never a startup failure.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.documents = nil
	s.turns = nil

	var documents []Document
	if ok := s.readJSON(filesInfoPath, &documents); ok {
		s.documents = documents
	}

	var turns []Turn
	if ok := s.readJSON(conversationsPath, &turns); ok {
		s.turns = turns
	}

	return nil
}

func (s *Store) readJSON(path string, dst any) bool {
	data, err := s.backend.ReadBytes(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Printf("state file %s unreadable, starting empty: %v", path, err)
		}
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		s.logger.Printf("state file %s corrupt, starting empty: %v", path, err)
		return false
	}
	return true
}

func (s *Store) AddDocument(doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.documents) >= s.maxDocuments {
		return fmt.Errorf("%w (%d)", ErrTooManyDocuments, s.maxDocuments)
	}
	for _, existing := range s.documents {
		if existing.OriginalName == doc.OriginalName {
			return fmt.Errorf("%w: %s", ErrDuplicateName, doc.OriginalName)
		}
		if existing.ID == doc.ID {
			return fmt.Errorf("document %s already recorded", doc.ID)
		}
	}

	next := append(append([]Document(nil), s.documents...), doc)
	if err := s.persistDocuments(next); err != nil {
		return err
	}
	s.documents = next
	return nil
}

// RemoveDocument drops a document's metadata by id and reports whether
// it existed.
func (s *Store) RemoveDocument(id string) (Document, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]Document, 0, len(s.documents))
	var removed Document
	found := false
	for _, doc := range s.documents {
		if doc.ID == id {
			removed = doc
			found = true
			continue
		}
		next = append(next, doc)
	}
	if !found {
		return Document{}, false, nil
	}

	if err := s.persistDocuments(next); err != nil {
		return Document{}, false, err
	}
	s.documents = next
	return removed, true, nil
}

func (s *Store) ListDocuments() []Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Document(nil), s.documents...)
}

func (s *Store) FindDocument(id string) (Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, doc := range s.documents {
		if doc.ID == id {
			return doc, true
		}
	}
	return Document{}, false
}

// RecordConversation appends a turn. Late arrivals from superseded
// queries are kept in timestamp order rather than overwriting anything.
func (s *Store) RecordConversation(turn Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}

	next := append(append([]Turn(nil), s.turns...), turn)
	sort.SliceStable(next, func(i, j int) bool {
		return next[i].Timestamp.Before(next[j].Timestamp)
	})

	if err := s.persistTurns(next); err != nil {
		return err
	}
	s.turns = next
	return nil
}

func (s *Store) History(sessionID string) []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := make([]Turn, 0)
	for _, turn := range s.turns {
		if turn.SessionID == sessionID {
			history = append(history, turn)
		}
	}
	return history
}

func (s *Store) Stats() UsageStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return UsageStats{
		DocumentCount:     len(s.documents),
		ConversationCount: len(s.turns),
	}
}

func (s *Store) persistDocuments(documents []Document) error {
	if err := s.writeJSON(filesInfoPath, documents); err != nil {
		return err
	}
	return s.writeJSON(statsPath, UsageStats{
		DocumentCount:     len(documents),
		ConversationCount: len(s.turns),
	})
}

func (s *Store) persistTurns(turns []Turn) error {
	if err := s.writeJSON(conversationsPath, turns); err != nil {
		return err
	}
	return s.writeJSON(statsPath, UsageStats{
		DocumentCount:     len(s.documents),
		ConversationCount: len(turns),
	})
}

func (s *Store) writeJSON(path string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	if err := s.backend.WriteBytes(path, data); err != nil {
		return fmt.Errorf("persist %s: %w", path, err)
	}
	return nil
}
