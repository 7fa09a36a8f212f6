package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"furbox-service/internal/models"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(&pq.Error{Code: "23505"}))
	assert.True(t, isUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})))
	assert.False(t, isUniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("boom")))
}

func TestSchemaEmbedded(t *testing.T) {
	for _, table := range []string{"drafts", "draft_items", "order_sequences", "orders", "plan_cycles", "inventory_logs"} {
		assert.Contains(t, schema, "CREATE TABLE IF NOT EXISTS "+table)
	}
}

// integrationStore connects to TEST_DATABASE_URL; without it the test is skipped.
func integrationStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("Integration test - requires database")
	}

	s, err := NewStore("postgres", url)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestOrderSequenceIsPerDay(t *testing.T) {
	s := integrationStore(t)
	ctx := context.Background()
	day := time.Date(2001, time.January, 2, 0, 0, 0, 0, time.UTC)

	var first, second int
	err := s.WithTx(ctx, func(q Queries) error {
		var err error
		if first, err = q.NextOrderSequence(ctx, day); err != nil {
			return err
		}
		second, err = q.NextOrderSequence(ctx, day)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, first+1, second)
}

func TestOrderSequenceUnderConcurrentTransactions(t *testing.T) {
	for _, driver := range []string{"postgres", "pgx"} {
		t.Run(driver, func(t *testing.T) {
			s := integrationStore(t)
			if driver != "postgres" {
				var err error
				s, err = NewStore(driver, os.Getenv("TEST_DATABASE_URL"))
				require.NoError(t, err)
				t.Cleanup(func() { s.Close() })
			}
			ctx := context.Background()
			// a day no other run has touched, so the first upserts race on the insert path
			day := time.Date(1970, time.January, 1, 0, 0, 0, 0, time.UTC).
				AddDate(0, 0, int(time.Now().UnixNano()%20000))

			const n = 25
			seqs := make([]int, n)
			errs := make([]error, n)
			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					errs[i] = s.WithTx(ctx, func(q Queries) error {
						var err error
						seqs[i], err = q.NextOrderSequence(ctx, day)
						return err
					})
				}(i)
			}
			wg.Wait()

			for _, err := range errs {
				require.NoError(t, err)
			}
			sort.Ints(seqs)
			for i := 1; i < n; i++ {
				assert.Equal(t, seqs[i-1]+1, seqs[i], "sequence values must be distinct and contiguous")
			}
		})
	}
}

func TestRollbackDiscardsDraft(t *testing.T) {
	s := integrationStore(t)
	ctx := context.Background()

	var id int64
	err := s.WithTx(ctx, func(q Queries) error {
		d := &models.Draft{OwnerID: 42, Kind: models.DraftKindBundle, Status: models.DraftStatusDraft}
		if err := q.CreateDraft(ctx, d); err != nil {
			return err
		}
		id = d.ID
		return errors.New("abort")
	})
	require.EqualError(t, err, "abort")

	err = s.WithTx(ctx, func(q Queries) error {
		_, err := q.GetDraft(ctx, id)
		return err
	})
	assert.ErrorIs(t, err, ErrNotFound)
}
