// Package storage persists the history of completed raffle rounds.
package storage

import (
	"context"
	"errors"
	"time"
)

// Errors
var (
	ErrNotFound    = errors.New("round not found")
	ErrRoundExists = errors.New("round already recorded")
)

// RoundRecord describes one completed round.
type RoundRecord struct {
	ID           string    `json:"id" db:"id"`
	Round        uint64    `json:"round" db:"round"`
	RequestID    uint64    `json:"request_id" db:"request_id"`
	Winner       string    `json:"winner" db:"winner"`
	Prize        int64     `json:"prize" db:"prize"`
	Participants int       `json:"participants" db:"participants"`
	RandomWord   string    `json:"random_word" db:"random_word"`
	DrawnAt      time.Time `json:"drawn_at" db:"drawn_at"`
}

// RoundStore persists round records. Rounds are unique by number.
type RoundStore interface {
	SaveRound(ctx context.Context, rec RoundRecord) (RoundRecord, error)
	GetRound(ctx context.Context, round uint64) (RoundRecord, error)
	// ListRounds returns records newest first.
	ListRounds(ctx context.Context, limit, offset int) ([]RoundRecord, error)
}
