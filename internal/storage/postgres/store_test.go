package postgres

import (
	"context"
	"os"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/raffle/internal/storage"
)

var roundColumns = []string{"id", "round", "request_id", "winner", "prize", "participants", "random_word", "drawn_at"}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "postgres")), mock
}

func TestStore_SaveRound(t *testing.T) {
	store, mock := newMockStore(t)
	drawn := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO raffle_rounds")).
		WithArgs(sqlmock.AnyArg(), int64(4), int64(9), "NWinner", int64(300), 3, "42", drawn).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec, err := store.SaveRound(context.Background(), storage.RoundRecord{
		Round: 4, RequestID: 9, Winner: "NWinner", Prize: 300, Participants: 3, RandomWord: "42", DrawnAt: drawn,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_SaveRoundDuplicate(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO raffle_rounds")).
		WillReturnError(&pq.Error{Code: uniqueViolation, Message: "duplicate key"})

	_, err := store.SaveRound(context.Background(), storage.RoundRecord{Round: 1})
	assert.ErrorIs(t, err, storage.ErrRoundExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetRound(t *testing.T) {
	store, mock := newMockStore(t)
	drawn := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM raffle_rounds")).
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows(roundColumns).
			AddRow("id-2", int64(2), int64(5), "NWinner", int64(200), 2, "77", drawn))

	rec, err := store.GetRound(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, storage.RoundRecord{
		ID: "id-2", Round: 2, RequestID: 5, Winner: "NWinner", Prize: 200, Participants: 2, RandomWord: "77", DrawnAt: drawn,
	}, rec)

	mock.ExpectQuery(regexp.QuoteMeta("FROM raffle_rounds")).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows(roundColumns))

	_, err = store.GetRound(context.Background(), 3)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ListRounds(t *testing.T) {
	store, mock := newMockStore(t)
	drawn := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY round DESC")).
		WithArgs(100, 0).
		WillReturnRows(sqlmock.NewRows(roundColumns).
			AddRow("b", int64(2), int64(2), "NB", int64(20), 1, "1", drawn).
			AddRow("a", int64(1), int64(1), "NA", int64(10), 1, "0", drawn))

	recs, err := store.ListRounds(context.Background(), 0, -1)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, uint64(2), recs[0].Round)
	assert.Equal(t, "NA", recs[1].Winner)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	ctx := context.Background()
	store, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	round := uint64(time.Now().UnixNano())
	word := "78541660797044910968829902406342334108369226379826116161446442989268089806461"
	saved, err := store.SaveRound(ctx, storage.RoundRecord{Round: round, RequestID: 1, Winner: "NWinner", Prize: 1, Participants: 1, RandomWord: word})
	if err != nil {
		t.Fatalf("save round: %v", err)
	}

	got, err := store.GetRound(ctx, round)
	if err != nil {
		t.Fatalf("get round: %v", err)
	}
	if got.ID != saved.ID || got.RandomWord != word {
		t.Fatalf("unexpected round: %+v", got)
	}

	if _, err := store.SaveRound(ctx, storage.RoundRecord{Round: round}); err == nil {
		t.Fatal("expected duplicate round error")
	}
}
