package shared

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestStateMachineFire(t *testing.T) {
	m := NewStateMachine("requisition",
		Transition{Event: "submit", From: []string{"draft"}, To: "pending_approval"},
		Transition{Event: "approve", From: []string{"pending_approval"}, To: "approved"},
	)
	ctx := context.Background()

	next, err := m.Fire(ctx, "draft", "submit")
	require.NoError(t, err)
	require.Equal(t, "pending_approval", next)

	next, err = m.Fire(ctx, "draft", "approve")
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Equal(t, "draft", next)

	_, err = m.Fire(ctx, "draft", "explode")
	require.ErrorIs(t, err, ErrInvalidTransition)

	require.True(t, m.Can("pending_approval", "approve"))
	require.False(t, m.Can("approved", "approve"))
}

func TestStateMachineSelfLoopIsNoop(t *testing.T) {
	m := NewStateMachine("po", Transition{Event: "receive", From: []string{"ordered", "partial"}, To: "partial"})
	next, err := m.Fire(context.Background(), "partial", "receive")
	require.NoError(t, err)
	require.Equal(t, "partial", next)
}

func TestStateMachineEventTo(t *testing.T) {
	m := NewStateMachine("work order",
		Transition{Event: "start", From: []string{"open"}, To: "in_progress"},
		Transition{Event: "complete", From: []string{"open", "in_progress"}, To: "completed"},
	)
	event, ok := m.EventTo("in_progress", "completed")
	require.True(t, ok)
	require.Equal(t, "complete", event)

	_, ok = m.EventTo("completed", "open")
	require.False(t, ok)
}

func TestLineTotalRoundsToCents(t *testing.T) {
	cases := []struct {
		qty, unit, want float64
	}{
		{qty: 3, unit: 19.99, want: 59.97},
		{qty: 1.5, unit: 10.005, want: 15.01},
		{qty: 0.333, unit: 3, want: 1.0},
		{qty: 2, unit: 0, want: 0},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, LineTotal(tc.qty, tc.unit))
	}
	require.Equal(t, 0.3, SumAmounts(0.1, 0.2))
}

func TestNeedsOrdering(t *testing.T) {
	require.True(t, NeedsOrdering(LineInventoryPart, 5, 2))
	require.False(t, NeedsOrdering(LineInventoryPart, 1, 2))
	require.False(t, NeedsOrdering(LineInventoryPart, 2, 2))
	require.True(t, NeedsOrdering(LineZeroStockPart, 1, 100))
	require.False(t, NeedsOrdering(LineLabor, 10, 0))
	require.False(t, NeedsOrdering(LineNonInventoryItem, 10, 0))
}

func TestIdempotencyStoreReplaysCompletedResponse(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := NewIdempotencyStore(client, time.Hour)
	ctx := context.Background()

	stored, err := store.Begin(ctx, "key-1", "estimates.convert")
	require.NoError(t, err)
	require.Nil(t, stored)

	_, err = store.Begin(ctx, "key-1", "estimates.convert")
	require.ErrorIs(t, err, ErrIdempotencyConflict)

	require.NoError(t, store.Complete(ctx, "key-1", "estimates.convert", StoredResponse{Status: 201, Body: []byte(`{"data":1}`)}))
	stored, err = store.Begin(ctx, "key-1", "estimates.convert")
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, 201, stored.Status)
	require.JSONEq(t, `{"data":1}`, string(stored.Body))

	// a different module never collides
	stored, err = store.Begin(ctx, "key-1", "requisitions.convert")
	require.NoError(t, err)
	require.Nil(t, stored)

	require.NoError(t, store.Delete(ctx, "key-1", "requisitions.convert"))
	stored, err = store.Begin(ctx, "key-1", "requisitions.convert")
	require.NoError(t, err)
	require.Nil(t, stored)

	mr.FastForward(2 * time.Hour)
	stored, err = store.Begin(ctx, "key-1", "estimates.convert")
	require.NoError(t, err)
	require.Nil(t, stored)
}

func TestPageParams(t *testing.T) {
	page, perPage := PageParams(map[string][]string{"page": {"3"}, "per_page": {"500"}})
	require.Equal(t, 3, page)
	require.Equal(t, 200, perPage)
	require.Equal(t, 400, Offset(page, perPage))

	p := NewPagination(2, 10, 25)
	require.Equal(t, 3, p.TotalPages)
}

func TestNormalizeLineUsesStoredPrecision(t *testing.T) {
	q, c, total := NormalizeLine(8, 0.125)
	require.Equal(t, 8.0, q)
	require.Equal(t, 0.13, c)
	require.Equal(t, 1.04, total)
	require.Equal(t, LineTotal(q, c), total)

	q, _, total = NormalizeLine(0.0004, 50)
	require.Zero(t, q)
	require.Zero(t, total)

	require.Equal(t, 0.3, SumQuantities(0.1, 0.2))
	require.Equal(t, 1.5, SumQuantities(2.0004, -0.5))
}
