// Package conversation keeps the bounded per-conversation history used as
// chat context.
package conversation

import (
	"context"
	"fmt"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/models"
	"go.uber.org/zap"
)

// MaxTurns is the number of history entries kept per conversation (ten exchanges).
const MaxTurns = 20

// Store holds conversation history keyed by conversation ID.
type Store interface {
	// Read returns a copy of the history for id, oldest first. Unknown ids yield
	// an empty history.
	Read(ctx context.Context, id string) ([]models.Turn, error)
	// Append records one exchange and trims the history to the last MaxTurns entries.
	Append(ctx context.Context, id, userText, assistantText string) error
	Close() error
}

// NewStore opens the conversation backend selected by cfg.Conversations.
func NewStore(cfg *config.StorageConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Conversations {
	case "memory", "":
		return NewMemoryStore(cfg.MaxConversations), nil
	case "badger":
		return OpenBadgerStore(cfg.BadgerPath, logger)
	default:
		return nil, fmt.Errorf("unknown conversation backend: %s (supported: memory, badger)", cfg.Conversations)
	}
}

// appendExchange adds a user/assistant pair to turns and keeps the newest MaxTurns.
func appendExchange(turns []models.Turn, userText, assistantText string) []models.Turn {
	turns = append(turns,
		models.Turn{Role: models.RoleUser, Text: userText},
		models.Turn{Role: models.RoleAssistant, Text: assistantText},
	)
	if len(turns) > MaxTurns {
		kept := make([]models.Turn, MaxTurns)
		copy(kept, turns[len(turns)-MaxTurns:])
		turns = kept
	}
	return turns
}

func copyTurns(turns []models.Turn) []models.Turn {
	out := make([]models.Turn, len(turns))
	copy(out, turns)
	return out
}
