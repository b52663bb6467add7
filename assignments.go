package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrAlreadyCompleted = errors.New("assignment already completed")

// Assignment is the plaintext of one stored record.
type Assignment struct {
	Giver     string    `json:"giver"`
	Recipient string    `json:"recipient"`
	Timestamp time.Time `json:"timestamp"`
}

// StoredAssignment is a record as it sits in the store, still sealed.
type StoredAssignment struct {
	Giver     string
	Data      string
	CreatedAt time.Time
}

// AssignmentStore keeps one sealed Assignment per giver in a document
// collection. Read failures are logged and degrade to a safe default; write
// failures are returned so they can be shown to the user.
type AssignmentStore struct {
	cfg        *Config
	docs       DocumentStore
	collection string
	sealer     *Sealer
	now        func() time.Time
}

func NewAssignmentStore(cfg *Config, docs DocumentStore, collection string, sealer *Sealer) *AssignmentStore {
	return &AssignmentStore{
		cfg:        cfg,
		docs:       docs,
		collection: collection,
		sealer:     sealer,
		now:        time.Now,
	}
}

// CountCompleted returns the number of stored records, or 0 on failure.
func (s *AssignmentStore) CountCompleted(ctx context.Context) int {
	n, err := s.docs.Count(ctx, s.collection)
	if err != nil {
		errorf("STORE: counting %s: %v", s.collection, err)
		return 0
	}
	return n
}

// HasCompleted reports whether a record exists for giver. The payload is not
// inspected. Failures report false.
func (s *AssignmentStore) HasCompleted(ctx context.Context, giver string) bool {
	ok, err := s.docs.Exists(ctx, s.collection, giver)
	if err != nil {
		errorf("STORE: checking %s/%s: %v", s.collection, giver, err)
		return false
	}
	return ok
}

// Persist seals a and stores it under a.Giver. It returns ErrAlreadyCompleted
// and writes nothing if the giver already has a record.
func (s *AssignmentStore) Persist(ctx context.Context, a Assignment) error {
	if a.Giver == "" || a.Recipient == "" {
		return errors.New("assignment needs both a giver and a recipient")
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = s.now().UTC()
	}

	plaintext, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode assignment: %w", err)
	}

	sealed, err := s.sealer.Seal(plaintext)
	if err != nil {
		return fmt.Errorf("seal assignment: %w", err)
	}

	doc, err := s.docs.Create(ctx, s.collection, a.Giver, sealed)
	if errors.Is(err, ErrDocumentExists) {
		return ErrAlreadyCompleted
	}
	if err != nil {
		errorf("STORE: saving %s/%s: %v", s.collection, a.Giver, err)
		return fmt.Errorf("save assignment: %w", err)
	}

	logf(s.cfg, "STORE: Saved assignment for %q at %s", a.Giver, doc.CreatedAt.Format(logDate))

	return nil
}

// ListAll returns every stored record, still sealed, or nil on failure.
func (s *AssignmentStore) ListAll(ctx context.Context) []StoredAssignment {
	docs, err := s.docs.List(ctx, s.collection)
	if err != nil {
		errorf("STORE: listing %s: %v", s.collection, err)
		return nil
	}

	out := make([]StoredAssignment, 0, len(docs))
	for _, doc := range docs {
		out = append(out, StoredAssignment{
			Giver:     doc.Key,
			Data:      doc.Data,
			CreatedAt: doc.CreatedAt,
		})
	}
	return out
}

// Decrypt opens one record. It reports false instead of failing when the
// payload is malformed or sealed under another passphrase.
func (s *AssignmentStore) Decrypt(rec StoredAssignment) (Assignment, bool) {
	plaintext, err := s.sealer.Open(rec.Data)
	if err != nil {
		logf(s.cfg, "STORE: Skipping unreadable record %q: %v", rec.Giver, err)
		return Assignment{}, false
	}

	var a Assignment
	if err := json.Unmarshal(plaintext, &a); err != nil {
		logf(s.cfg, "STORE: Skipping malformed record %q: %v", rec.Giver, err)
		return Assignment{}, false
	}

	return a, true
}
