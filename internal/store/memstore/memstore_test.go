package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"furbox-service/internal/models"
	"furbox-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithTxRollsBackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	p := s.AddProduct("Chew Toy", true)
	v := s.AddVariant(p, "Large", "CHEW-L", 25000, 5)

	err := s.WithTx(ctx, func(q store.Queries) error {
		if _, err := q.AdjustStock(ctx, v, -3, models.StockReasonOrderPlaced, nil); err != nil {
			return err
		}
		return errors.New("later step failed")
	})
	require.Error(t, err)
	assert.Equal(t, 5, s.Stock(v))

	err = s.WithTx(ctx, func(q store.Queries) error {
		logs, err := q.ListInventoryLogs(ctx, v)
		assert.Empty(t, logs)
		return err
	})
	require.NoError(t, err)
}

func TestAdjustStockNeverGoesNegative(t *testing.T) {
	s := New()
	ctx := context.Background()
	p := s.AddProduct("Kibble", true)
	v := s.AddVariant(p, "2kg", "KIB-2", 80000, 2)

	err := s.WithTx(ctx, func(q store.Queries) error {
		_, err := q.AdjustStock(ctx, v, -3, models.StockReasonOrderPlaced, nil)
		return err
	})
	assert.ErrorIs(t, err, store.ErrInsufficientStock)

	var entry *models.InventoryLog
	err = s.WithTx(ctx, func(q store.Queries) error {
		var err error
		entry, err = q.AdjustStock(ctx, v, -2, models.StockReasonOrderPlaced, nil)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 2, entry.PreviousStock)
	assert.Equal(t, 0, entry.NewStock)
	assert.Equal(t, 0, s.Stock(v))

	err = s.WithTx(ctx, func(q store.Queries) error {
		_, err := q.AdjustStock(ctx, 9999, 1, models.StockReasonOrderCancelled, nil)
		return err
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpsertDraftItemKeepsLockedPrice(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.WithTx(ctx, func(q store.Queries) error {
		d := &models.Draft{OwnerID: 1, Kind: models.DraftKindBundle, Status: models.DraftStatusDraft}
		require.NoError(t, q.CreateDraft(ctx, d))

		first := &models.LineItem{DraftID: d.ID, ProductID: 10, VariantID: 11, Quantity: 1, UnitPrice: 500}
		require.NoError(t, q.UpsertDraftItem(ctx, first))

		second := &models.LineItem{DraftID: d.ID, ProductID: 10, VariantID: 11, Quantity: 2, UnitPrice: 900}
		require.NoError(t, q.UpsertDraftItem(ctx, second))
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, 3, second.Quantity)
		assert.Equal(t, int64(500), second.UnitPrice)

		got, err := q.GetDraft(ctx, d.ID)
		require.NoError(t, err)
		assert.Len(t, got.Items, 1)
		return nil
	})
	require.NoError(t, err)
}

func TestOrderSequencePerDayAndDuplicateNumbers(t *testing.T) {
	s := New()
	ctx := context.Background()
	day1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)

	err := s.WithTx(ctx, func(q store.Queries) error {
		a, _ := q.NextOrderSequence(ctx, day1)
		b, _ := q.NextOrderSequence(ctx, day1)
		c, _ := q.NextOrderSequence(ctx, day2)
		assert.Equal(t, []int{1, 2, 1}, []int{a, b, c})

		require.NoError(t, q.CreateOrder(ctx, &models.Order{OrderNumber: "ORD2601010001", UserID: 1}))
		err := q.CreateOrder(ctx, &models.Order{OrderNumber: "ORD2601010001", UserID: 2})
		assert.ErrorIs(t, err, store.ErrDuplicate)
		return nil
	})
	require.NoError(t, err)
}

func TestListDuePlanIDs(t *testing.T) {
	s := New()
	ctx := context.Background()
	today := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)
	yesterday := today.AddDate(0, 0, -1)
	tomorrow := today.AddDate(0, 0, 1)

	var dueToday, dueYesterday int64
	err := s.WithTx(ctx, func(q store.Queries) error {
		mk := func(status string, next time.Time) int64 {
			d := &models.Draft{OwnerID: 1, Kind: models.DraftKindMonthlyPlan, Status: status, NextBillingDate: &next}
			require.NoError(t, q.CreateDraft(ctx, d))
			return d.ID
		}
		dueToday = mk(models.DraftStatusActive, today)
		dueYesterday = mk(models.DraftStatusActive, yesterday)
		mk(models.DraftStatusActive, tomorrow)
		mk(models.DraftStatusPaused, yesterday)
		return nil
	})
	require.NoError(t, err)

	err = s.WithTx(ctx, func(q store.Queries) error {
		ids, err := q.ListDuePlanIDs(ctx, today)
		assert.Equal(t, []int64{dueYesterday, dueToday}, ids)
		return err
	})
	require.NoError(t, err)
}

func TestWithTxHonoursCancelledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.WithTx(ctx, func(q store.Queries) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestSeedDemoIsUsable(t *testing.T) {
	s := New()
	s.SeedDemo()
	ctx := context.Background()

	err := s.WithTx(ctx, func(q store.Queries) error {
		addr, err := q.GetDefaultAddress(ctx, DemoUserID)
		require.NoError(t, err)
		assert.Equal(t, "Bengaluru", addr.City)

		found := 0
		for id := int64(1); id < 20; id++ {
			v, err := q.GetVariant(ctx, id)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			require.NoError(t, err)
			assert.True(t, v.IsActive && v.ProductIsActive)
			assert.Positive(t, v.Price)
			assert.NotEmpty(t, v.ProductName)
			found++
		}
		assert.Equal(t, 8, found)
		return nil
	})
	require.NoError(t, err)
}
