// Package postgres implements the round history store on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/R3E-Network/raffle/internal/storage"
)

const uniqueViolation = "23505"

// Store implements storage.RoundStore backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.RoundStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Open connects to dsn, applies migrations and returns the store.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := Migrate(db.DB); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db), nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// roundRow mirrors raffle_rounds; BIGINT columns are signed.
type roundRow struct {
	ID           string    `db:"id"`
	Round        int64     `db:"round"`
	RequestID    int64     `db:"request_id"`
	Winner       string    `db:"winner"`
	Prize        int64     `db:"prize"`
	Participants int       `db:"participants"`
	RandomWord   string    `db:"random_word"`
	DrawnAt      time.Time `db:"drawn_at"`
}

func toRow(rec storage.RoundRecord) roundRow {
	return roundRow{
		ID:           rec.ID,
		Round:        int64(rec.Round),
		RequestID:    int64(rec.RequestID),
		Winner:       rec.Winner,
		Prize:        rec.Prize,
		Participants: rec.Participants,
		RandomWord:   rec.RandomWord,
		DrawnAt:      rec.DrawnAt,
	}
}

func (r roundRow) record() storage.RoundRecord {
	return storage.RoundRecord{
		ID:           r.ID,
		Round:        uint64(r.Round),
		RequestID:    uint64(r.RequestID),
		Winner:       r.Winner,
		Prize:        r.Prize,
		Participants: r.Participants,
		RandomWord:   r.RandomWord,
		DrawnAt:      r.DrawnAt.UTC(),
	}
}

func (s *Store) SaveRound(ctx context.Context, rec storage.RoundRecord) (storage.RoundRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.DrawnAt.IsZero() {
		rec.DrawnAt = time.Now().UTC()
	}
	if rec.RandomWord == "" {
		rec.RandomWord = "0"
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO raffle_rounds (id, round, request_id, winner, prize, participants, random_word, drawn_at)
		VALUES (:id, :round, :request_id, :winner, :prize, :participants, :random_word, :drawn_at)
	`, toRow(rec))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return storage.RoundRecord{}, fmt.Errorf("%w: %d", storage.ErrRoundExists, rec.Round)
		}
		return storage.RoundRecord{}, err
	}
	return rec, nil
}

func (s *Store) GetRound(ctx context.Context, round uint64) (storage.RoundRecord, error) {
	var row roundRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, round, request_id, winner, prize, participants, random_word::TEXT AS random_word, drawn_at
		FROM raffle_rounds
		WHERE round = $1
	`, int64(round))
	if errors.Is(err, sql.ErrNoRows) {
		return storage.RoundRecord{}, fmt.Errorf("%w: %d", storage.ErrNotFound, round)
	}
	if err != nil {
		return storage.RoundRecord{}, err
	}
	return row.record(), nil
}

func (s *Store) ListRounds(ctx context.Context, limit, offset int) ([]storage.RoundRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	var rows []roundRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, round, request_id, winner, prize, participants, random_word::TEXT AS random_word, drawn_at
		FROM raffle_rounds
		ORDER BY round DESC
		LIMIT $1 OFFSET $2
	`, limit, offset); err != nil {
		return nil, err
	}

	out := make([]storage.RoundRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.record())
	}
	return out, nil
}
