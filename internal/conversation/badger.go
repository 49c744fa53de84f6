package conversation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/timshannon/badgerhold/v4"
	"go.uber.org/zap"
)

// record is the persisted form of one conversation.
type record struct {
	ID        string
	Turns     []models.Turn
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BadgerStore persists histories in a Badger database through badgerhold.
type BadgerStore struct {
	store  *badgerhold.Store
	logger *zap.Logger
}

// OpenBadgerStore opens (or creates) the database directory at path.
func OpenBadgerStore(path string, logger *zap.Logger) (*BadgerStore, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create conversation directory: %w", err)
	}
	options := badgerhold.DefaultOptions
	options.Dir = path
	options.ValueDir = path
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open conversation store: %w", err)
	}
	if logger != nil {
		logger.Debug("conversation store opened", zap.String("path", path))
	}
	return &BadgerStore{store: store, logger: logger}, nil
}

// Read returns the history for id.
func (s *BadgerStore) Read(ctx context.Context, id string) ([]models.Turn, error) {
	var rec record
	if err := s.store.Get(id, &rec); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return []models.Turn{}, nil
		}
		return nil, fmt.Errorf("failed to read conversation: %w", err)
	}
	return copyTurns(rec.Turns), nil
}

// Append records one exchange for id in a single transaction.
func (s *BadgerStore) Append(ctx context.Context, id, userText, assistantText string) error {
	err := s.store.Badger().Update(func(tx *badger.Txn) error {
		now := time.Now().UTC()
		var rec record
		if err := s.store.TxGet(tx, id, &rec); err != nil {
			if !errors.Is(err, badgerhold.ErrNotFound) {
				return err
			}
			rec = record{ID: id, CreatedAt: now}
		}
		rec.Turns = appendExchange(rec.Turns, userText, assistantText)
		rec.UpdatedAt = now
		return s.store.TxUpsert(tx, id, &rec)
	})
	if err != nil {
		return fmt.Errorf("failed to append to conversation: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	return s.store.Close()
}
