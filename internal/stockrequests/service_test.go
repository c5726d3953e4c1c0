package stockrequests

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	requests map[int64]StockRequest
}

func (m *memoryRepo) ListEligibleLines(_ context.Context, _ int64, statuses []Status) ([]Line, error) {
	var out []Line
	for _, sr := range m.requests {
		for _, st := range statuses {
			if sr.Status != st {
				continue
			}
			for _, it := range sr.Items {
				out = append(out, Line{Item: it, RequestCode: sr.Code, RequestStatus: sr.Status})
			}
		}
	}
	return out, nil
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: m})
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) LockLines(context.Context, []int64) ([]Line, error) { return nil, nil }

func (t *memoryTx) IncrementReceived(_ context.Context, itemID int64, qty decimal.Decimal) error {
	for id, sr := range t.repo.requests {
		for i, it := range sr.Items {
			if it.ID != itemID {
				continue
			}
			if it.ReceivedQty.Add(qty).GreaterThan(it.RequestedQty) {
				return ErrOverReceipt
			}
			sr.Items[i].ReceivedQty = it.ReceivedQty.Add(qty)
			t.repo.requests[id] = sr
			return nil
		}
	}
	return ErrItemNotFound
}

func (t *memoryTx) GetRequestForUpdate(_ context.Context, id int64) (StockRequest, error) {
	sr, ok := t.repo.requests[id]
	if !ok {
		return StockRequest{}, ErrRequestNotFound
	}
	return sr, nil
}

func (t *memoryTx) UpdateStatus(_ context.Context, id int64, status Status) error {
	sr := t.repo.requests[id]
	sr.Status = status
	t.repo.requests[id] = sr
	return nil
}

func qty(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func newRepo() *memoryRepo {
	return &memoryRepo{requests: map[int64]StockRequest{
		1: {ID: 1, Code: "SR-1", Status: StatusApproved, Items: []Item{
			{ID: 11, StockRequestID: 1, ItemID: 100, RequestedQty: qty(100)},
			{ID: 12, StockRequestID: 1, ItemID: 101, RequestedQty: qty(10)},
		}},
		2: {ID: 2, Code: "SR-2", Status: StatusCancelled, Items: []Item{
			{ID: 21, StockRequestID: 2, ItemID: 100, RequestedQty: qty(5), ReceivedQty: qty(5)},
		}},
	}}
}

func TestAllocatableFloorsAtZero(t *testing.T) {
	it := Item{RequestedQty: qty(10), ReceivedQty: qty(12)}
	require.True(t, it.Allocatable().IsZero())
	it = Item{RequestedQty: qty(100), ReceivedQty: qty(40)}
	require.True(t, it.Allocatable().Equal(qty(60)))
}

func TestSelectableStatuses(t *testing.T) {
	for _, s := range []Status{StatusSubmitted, StatusApproved, StatusReadyForPick, StatusPicked} {
		require.True(t, s.IsSelectable(), s)
	}
	for _, s := range []Status{StatusDraft, StatusCancelled, StatusCompleted, StatusDelivered, StatusReceived} {
		require.False(t, s.IsSelectable(), s)
	}
}

func TestRecalculatePartialThenComplete(t *testing.T) {
	repo := newRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	status, err := svc.Recalculate(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, status)

	tx := &memoryTx{repo: repo}
	require.NoError(t, tx.IncrementReceived(ctx, 11, qty(55)))
	status, err = svc.Recalculate(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, status)
	require.True(t, status.IsSelectable())

	lines, err := svc.EligibleLines(ctx, 1)
	require.NoError(t, err)
	var remaining decimal.Decimal
	for _, l := range lines {
		if l.ID == 11 {
			remaining = l.Allocatable()
		}
	}
	require.True(t, remaining.Equal(qty(45)), "remaining allocatable %s", remaining)

	require.NoError(t, tx.IncrementReceived(ctx, 11, qty(45)))
	require.NoError(t, tx.IncrementReceived(ctx, 12, qty(10)))
	status, err = svc.Recalculate(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, status)
	require.Equal(t, StatusCompleted, repo.requests[1].Status)
}

func TestRecalculateLeavesClosedRequests(t *testing.T) {
	repo := newRepo()
	status, err := NewService(repo, nil).Recalculate(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, status)
}

func TestRecalculateUnknownRequest(t *testing.T) {
	_, err := NewService(newRepo(), nil).Recalculate(context.Background(), 9)
	require.ErrorIs(t, err, ErrRequestNotFound)
}

func TestEligibleLinesUsesSelectableStatuses(t *testing.T) {
	lines, err := NewService(newRepo(), nil).EligibleLines(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	for _, l := range lines {
		require.Equal(t, "SR-1", l.RequestCode)
	}
}
