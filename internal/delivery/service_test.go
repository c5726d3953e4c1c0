package delivery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/fulfillment/internal/shared"
	"github.com/odyssey-erp/fulfillment/internal/stockrequests"
)

const (
	requestingWH int64 = 10
	fulfillingWH int64 = 20
	requestingBU int64 = 1
	fulfillingBU int64 = 2
	srLineID     int64 = 501
	srID         int64 = 50
	skuID        int64 = 900
)

var (
	dispatcher = shared.Actor{UserID: 3, BusinessUnitID: fulfillingBU}
	receiver   = shared.Actor{UserID: 7, BusinessUnitID: requestingBU}
)

type fixture struct {
	svc     *Service
	repo    *memoryRepo
	oracle  *fakeOracle
	pub     *recordingPublisher
	audit   *recordingAudit
	metrics *Metrics
}

func newFixture(t *testing.T, policy Policy) *fixture {
	t.Helper()
	repo := newMemoryRepo()
	fulfilling := fulfillingWH
	repo.addStockRequestLine(stockrequests.Line{
		Item: stockrequests.Item{
			ID:             srLineID,
			StockRequestID: srID,
			ItemID:         skuID,
			UOMID:          1,
			RequestedQty:   decimal.NewFromInt(100),
			ReceivedQty:    decimal.Zero,
		},
		RequestCode:           "SR-1",
		RequestStatus:         stockrequests.StatusApproved,
		RequestingWarehouseID: requestingWH,
		FulfillingWarehouseID: &fulfilling,
	})
	oracle := newFakeOracle()
	oracle.set(fulfillingWH, skuID, "60")

	f := &fixture{
		repo:    repo,
		oracle:  oracle,
		pub:     &recordingPublisher{},
		audit:   &recordingAudit{},
		metrics: NewMetrics(prometheus.NewRegistry()),
	}
	f.svc = NewService(ServiceConfig{
		Repository: repo,
		Oracle:     oracle,
		Warehouses: fakeWarehouses{requestingWH: requestingBU, fulfillingWH: fulfillingBU},
		Users:      fakeUsers{41: "Ana Picker", 42: "Budi Picker"},
		Publisher:  f.pub,
		Audit:      f.audit,
		Metrics:    f.metrics,
		Policy:     policy,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Clock:      stepClock(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)),
	})
	return f
}

func strictPolicy() Policy {
	return Policy{RequireDriverSignature: true, SegregateReceiving: true}
}

func qty(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func strptr(s string) *string { return &s }

func (f *fixture) create(t *testing.T, allocated string) DeliveryNote {
	t.Helper()
	dn, err := f.svc.CreateDeliveryNote(context.Background(), CreateInput{
		RequestingWarehouseID: requestingWH,
		FulfillingWarehouseID: fulfillingWH,
		Lines: []CreateLine{{
			StockRequestID:     srID,
			StockRequestItemID: srLineID,
			AllocatedQty:       qty(allocated),
		}},
	}, dispatcher)
	require.NoError(t, err)
	return dn
}

// advance drives a fresh note to the target status with picked == allocated
// unless picked is given.
func (f *fixture) advance(t *testing.T, allocated string, target Status, picked string) DeliveryNote {
	t.Helper()
	ctx := context.Background()
	dn := f.create(t, allocated)
	if target == StatusDraft {
		return dn
	}
	dn, err := f.svc.ConfirmDeliveryNote(ctx, dn.ID, dispatcher)
	require.NoError(t, err)
	if target == StatusConfirmed {
		return dn
	}
	dn, err = f.svc.QueuePicking(ctx, dn.ID, QueuePickingInput{PickerIDs: []int64{41}}, dispatcher)
	require.NoError(t, err)
	if target == StatusQueuedForPicking {
		return dn
	}
	dn, err = f.svc.StartPickList(ctx, dn.ActivePickList.ID, dispatcher)
	require.NoError(t, err)
	if target == StatusPickingInProgress {
		return dn
	}
	var lines []LineQty
	if picked != "" {
		lines = []LineQty{{ItemID: dn.Items[0].ID, Qty: qty(picked)}}
	}
	dn, err = f.svc.CompletePickList(ctx, dn.ActivePickList.ID, PickInput{Lines: lines}, dispatcher)
	require.NoError(t, err)
	if target == StatusDispatchReady {
		return dn
	}
	dn, err = f.svc.DispatchDeliveryNote(ctx, dn.ID, DispatchInput{
		DriverName:      strptr("Joko"),
		VehicleNumber:   strptr("B 1234 XY"),
		DriverSignature: strptr("sig:joko"),
	}, dispatcher)
	require.NoError(t, err)
	if target == StatusDispatched {
		return dn
	}
	dn, err = f.svc.ReceiveDeliveryNote(ctx, dn.ID, ReceiveInput{}, receiver)
	require.NoError(t, err)
	return dn
}

func assertInvariants(t *testing.T, dn DeliveryNote) {
	t.Helper()
	for _, it := range dn.Items {
		assert.Truef(t, it.CheckQuantities(), "quantities out of order on line %d: %+v", it.LineNo, it)
		if it.PickRecorded && dn.Status != StatusPickingInProgress {
			assert.Truef(t, it.ShortQty.Equal(it.AllocatedQty.Sub(it.PickedQty)),
				"short %s drifted from allocated %s - picked %s", it.ShortQty, it.AllocatedQty, it.PickedQty)
		}
	}
}

// ============================================================================
// CREATE
// ============================================================================

func TestCreateDeliveryNoteRespectsAvailability(t *testing.T) {
	f := newFixture(t, strictPolicy())
	ctx := context.Background()

	_, err := f.svc.CreateDeliveryNote(ctx, CreateInput{
		RequestingWarehouseID: requestingWH,
		FulfillingWarehouseID: fulfillingWH,
		Lines:                 []CreateLine{{StockRequestID: srID, StockRequestItemID: srLineID, AllocatedQty: qty("80")}},
	}, dispatcher)
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrValidation)
	assert.Contains(t, err.Error(), "exceeds available 60")
	assert.Zero(t, f.repo.noteCount())
	assert.Zero(t, f.repo.itemCount())

	dn := f.create(t, "60")
	assert.Equal(t, StatusDraft, dn.Status)
	assert.Equal(t, "DN-20260302-000001", dn.Number)
	require.Len(t, dn.Items, 1)
	assert.True(t, dn.Items[0].AllocatedQty.Equal(qty("60")))
	assert.Equal(t, skuID, dn.Items[0].ItemID)
	assert.Equal(t, "WH-20", dn.FulfillingWarehouseLabel)
	assert.Equal(t, []string{"delivery_note.create"}, f.audit.actions())
}

func TestCreateDeliveryNoteRejectsInvalidInput(t *testing.T) {
	fulfilling := fulfillingWH
	tests := []struct {
		name    string
		mutate  func(*CreateInput)
		prepare func(*fixture)
		field   string
	}{
		{
			name:   "same warehouse",
			mutate: func(in *CreateInput) { in.FulfillingWarehouseID = requestingWH },
			field:  "fulfilling_warehouse_id",
		},
		{
			name:   "no lines",
			mutate: func(in *CreateInput) { in.Lines = nil },
			field:  "lines",
		},
		{
			name:   "zero quantity",
			mutate: func(in *CreateInput) { in.Lines[0].AllocatedQty = decimal.Zero },
			field:  "lines[0].allocated_qty",
		},
		{
			name: "duplicate line",
			mutate: func(in *CreateInput) {
				in.Lines = append(in.Lines, in.Lines[0])
			},
			field: "lines[1].stock_request_item_id",
		},
		{
			name:   "unknown stock request item",
			mutate: func(in *CreateInput) { in.Lines[0].StockRequestItemID = 999 },
			field:  "lines[0].stock_request_item_id",
		},
		{
			name:   "warehouse pair mismatch",
			mutate: func(in *CreateInput) { in.RequestingWarehouseID = 11 },
			field:  "lines[0]",
		},
		{
			name: "above allocatable",
			prepare: func(f *fixture) {
				f.oracle.set(fulfillingWH, skuID, "500")
				f.repo.addStockRequestLine(stockrequests.Line{
					Item: stockrequests.Item{ID: srLineID, StockRequestID: srID, ItemID: skuID,
						RequestedQty: qty("100"), ReceivedQty: qty("50")},
					RequestCode: "SR-1", RequestStatus: stockrequests.StatusApproved,
					RequestingWarehouseID: requestingWH, FulfillingWarehouseID: &fulfilling,
				})
			},
			mutate: func(in *CreateInput) { in.Lines[0].AllocatedQty = qty("55") },
			field:  "lines[0].allocated_qty",
		},
		{
			name: "closed stock request",
			prepare: func(f *fixture) {
				f.repo.addStockRequestLine(stockrequests.Line{
					Item: stockrequests.Item{ID: srLineID, StockRequestID: srID, ItemID: skuID,
						RequestedQty: qty("100")},
					RequestCode: "SR-1", RequestStatus: stockrequests.StatusCompleted,
					RequestingWarehouseID: requestingWH, FulfillingWarehouseID: &fulfilling,
				})
			},
			mutate: func(*CreateInput) {},
			field:  "lines[0]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, strictPolicy())
			if tt.prepare != nil {
				tt.prepare(f)
			}
			in := CreateInput{
				RequestingWarehouseID: requestingWH,
				FulfillingWarehouseID: fulfillingWH,
				Lines:                 []CreateLine{{StockRequestID: srID, StockRequestItemID: srLineID, AllocatedQty: qty("10")}},
			}
			tt.mutate(&in)
			_, err := f.svc.CreateDeliveryNote(context.Background(), in, dispatcher)
			var verr *shared.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
			assert.Zero(t, f.repo.noteCount())
		})
	}
}

// ============================================================================
// STATE MACHINE
// ============================================================================

func TestTransitionTable(t *testing.T) {
	allowed := map[Status][]Action{
		StatusDraft:             {ActionConfirm, ActionVoid},
		StatusConfirmed:         {ActionQueuePicking, ActionVoid},
		StatusQueuedForPicking:  {ActionStartPicking, ActionRecordPicks, ActionCompletePicking, ActionCancelPicking, ActionVoid},
		StatusPickingInProgress: {ActionRecordPicks, ActionCompletePicking, ActionVoid},
		StatusDispatchReady:     {ActionDispatch, ActionVoid},
		StatusDispatched:        {ActionReceive},
		StatusReceived:          nil,
		StatusVoided:            nil,
	}
	all := []Action{ActionConfirm, ActionQueuePicking, ActionStartPicking, ActionRecordPicks,
		ActionCompletePicking, ActionCancelPicking, ActionDispatch, ActionReceive, ActionVoid}

	for status, actions := range allowed {
		permitted := map[Action]bool{}
		for _, a := range actions {
			permitted[a] = true
		}
		for _, a := range all {
			assert.Equalf(t, permitted[a], status.Can(a), "%s -> %s", status, a)
		}
		assert.Equal(t, len(actions) == 0, status.IsTerminal(), status)
	}
	assert.False(t, Status("shipped").IsValid())
}

func TestConfirmTwiceReportsCurrentStatus(t *testing.T) {
	f := newFixture(t, strictPolicy())
	dn := f.create(t, "10")

	_, err := f.svc.ConfirmDeliveryNote(context.Background(), dn.ID, dispatcher)
	require.NoError(t, err)
	_, err = f.svc.ConfirmDeliveryNote(context.Background(), dn.ID, dispatcher)

	var serr *shared.InvalidStateError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "confirmed", serr.Current)
	assert.Equal(t, "confirm", serr.Attempted)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.transitions.WithLabelValues("draft", "confirmed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.failures.WithLabelValues("confirm", "invalid_state")))
}

func TestUnknownDeliveryNote(t *testing.T) {
	f := newFixture(t, strictPolicy())
	_, err := f.svc.ConfirmDeliveryNote(context.Background(), 404, dispatcher)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestFullLifecycleWithShortPick(t *testing.T) {
	f := newFixture(t, strictPolicy())
	ctx := context.Background()

	dn := f.advance(t, "60", StatusDispatchReady, "55")
	assert.Equal(t, StatusDispatchReady, dn.Status)
	require.NotNil(t, dn.ActivePickList)
	assert.Equal(t, PickListCompleted, dn.ActivePickList.Status)
	assert.True(t, dn.Items[0].PickedQty.Equal(qty("55")))
	assert.True(t, dn.Items[0].ShortQty.Equal(qty("5")))
	assert.NotNil(t, dn.PickingStartedAt)
	assert.NotNil(t, dn.PickingCompletedAt)
	assertInvariants(t, dn)

	dn, err := f.svc.DispatchDeliveryNote(ctx, dn.ID, DispatchInput{
		DriverName:      strptr("  Joko  "),
		DriverSignature: strptr("sig:joko"),
	}, dispatcher)
	require.NoError(t, err)
	assert.Equal(t, StatusDispatched, dn.Status)
	assert.True(t, dn.Items[0].DispatchedQty.Equal(qty("55")))
	assert.True(t, dn.Items[0].ShortQty.Equal(qty("5")))
	require.NotNil(t, dn.DriverName)
	assert.Equal(t, "Joko", *dn.DriverName)
	assertInvariants(t, dn)

	dn, err = f.svc.ReceiveDeliveryNote(ctx, dn.ID, ReceiveInput{Notes: strptr("all good")}, receiver)
	require.NoError(t, err)
	assert.Equal(t, StatusReceived, dn.Status)
	assert.True(t, dn.Items[0].ReceivedQty.Equal(qty("55")))
	assert.Equal(t, receiver.UserID, *dn.ReceivedBy)
	assertInvariants(t, dn)

	line := f.repo.stockRequestLine(srLineID)
	assert.True(t, line.ReceivedQty.Equal(qty("55")), "stock request received %s", line.ReceivedQty)

	require.Len(t, f.pub.events, 1)
	assert.Equal(t, dn.ID, f.pub.events[0].DeliveryNoteID)
	assert.Equal(t, []int64{srID}, f.pub.events[0].StockRequestIDs)

	assert.Equal(t, []string{
		"delivery_note.create",
		"delivery_note.confirm",
		"delivery_note.queue_picking",
		"delivery_note.start_picking",
		"delivery_note.complete_picking",
		"delivery_note.dispatch",
		"delivery_note.receive",
	}, f.audit.actions())
}

// ============================================================================
// LEDGER
// ============================================================================

func TestVoidAfterReceiveFails(t *testing.T) {
	f := newFixture(t, strictPolicy())
	dn := f.advance(t, "60", StatusReceived, "")

	_, err := f.svc.VoidDeliveryNote(context.Background(), dn.ID, ReasonInput{Reason: strptr("oops")}, dispatcher)
	var serr *shared.InvalidStateError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "received", serr.Current)

	got, err := f.svc.GetDeliveryNote(context.Background(), dn.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusReceived, got.Status)
	assert.Nil(t, got.VoidedAt)
}

func TestVoidAfterDispatchFails(t *testing.T) {
	f := newFixture(t, strictPolicy())
	dn := f.advance(t, "60", StatusDispatched, "")

	_, err := f.svc.VoidDeliveryNote(context.Background(), dn.ID, ReasonInput{}, dispatcher)
	assert.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestReceiveTwiceDoesNotDoubleIncrement(t *testing.T) {
	f := newFixture(t, strictPolicy())
	dn := f.advance(t, "60", StatusReceived, "")

	_, err := f.svc.ReceiveDeliveryNote(context.Background(), dn.ID, ReceiveInput{}, receiver)
	assert.ErrorIs(t, err, shared.ErrInvalidState)

	line := f.repo.stockRequestLine(srLineID)
	assert.True(t, line.ReceivedQty.Equal(qty("60")))
	assert.Len(t, f.pub.events, 1)
}

func TestReceiveRollsBackWhenStockRequestUpdateFails(t *testing.T) {
	f := newFixture(t, strictPolicy())
	dn := f.advance(t, "60", StatusDispatched, "")
	f.repo.failIncrement = errors.New("connection reset")

	_, err := f.svc.ReceiveDeliveryNote(context.Background(), dn.ID, ReceiveInput{}, receiver)
	require.Error(t, err)
	assert.NotErrorIs(t, err, shared.ErrValidation)

	got, err := f.svc.GetDeliveryNote(context.Background(), dn.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDispatched, got.Status)
	assert.True(t, got.Items[0].ReceivedQty.IsZero())
	assert.Empty(t, f.pub.events)
}

func TestReceiveRejectsOverReceipt(t *testing.T) {
	f := newFixture(t, strictPolicy())
	dn := f.advance(t, "60", StatusDispatched, "")

	line := f.repo.stockRequestLine(srLineID)
	line.ReceivedQty = qty("90")
	f.repo.addStockRequestLine(line)

	_, err := f.svc.ReceiveDeliveryNote(context.Background(), dn.ID, ReceiveInput{}, receiver)
	assert.ErrorIs(t, err, shared.ErrValidation)
	assert.True(t, f.repo.stockRequestLine(srLineID).ReceivedQty.Equal(qty("90")))
}

func TestReceivePartialQuantity(t *testing.T) {
	f := newFixture(t, strictPolicy())
	dn := f.advance(t, "60", StatusDispatched, "")

	dn, err := f.svc.ReceiveDeliveryNote(context.Background(), dn.ID, ReceiveInput{
		Lines: []LineQty{{ItemID: dn.Items[0].ID, Qty: qty("58")}},
	}, receiver)
	require.NoError(t, err)
	assert.True(t, dn.Items[0].ReceiveShortfall().Equal(qty("2")))
	assert.True(t, f.repo.stockRequestLine(srLineID).ReceivedQty.Equal(qty("58")))

	_, err = f.svc.ReceiveDeliveryNote(context.Background(), dn.ID, ReceiveInput{}, receiver)
	assert.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestReceiveMoreThanDispatchedFails(t *testing.T) {
	f := newFixture(t, strictPolicy())
	dn := f.advance(t, "60", StatusDispatched, "50")

	_, err := f.svc.ReceiveDeliveryNote(context.Background(), dn.ID, ReceiveInput{
		Lines: []LineQty{{ItemID: dn.Items[0].ID, Qty: qty("51")}},
	}, receiver)
	assert.ErrorIs(t, err, shared.ErrValidation)
	assert.True(t, f.repo.stockRequestLine(srLineID).ReceivedQty.IsZero())
}

func TestReceiveBySameBusinessUnitIsForbidden(t *testing.T) {
	f := newFixture(t, strictPolicy())
	dn := f.advance(t, "60", StatusDispatched, "")

	_, err := f.svc.ReceiveDeliveryNote(context.Background(), dn.ID, ReceiveInput{}, dispatcher)
	assert.ErrorIs(t, err, shared.ErrForbidden)

	_, err = f.svc.ReceiveDeliveryNote(context.Background(), dn.ID, ReceiveInput{}, shared.Actor{UserID: 9})
	assert.ErrorIs(t, err, shared.ErrForbidden)

	got, err := f.svc.GetDeliveryNote(context.Background(), dn.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDispatched, got.Status)
}

func TestRelaxedPolicy(t *testing.T) {
	f := newFixture(t, Policy{})
	ctx := context.Background()
	dn := f.advance(t, "60", StatusDispatchReady, "")

	dn, err := f.svc.DispatchDeliveryNote(ctx, dn.ID, DispatchInput{}, dispatcher)
	require.NoError(t, err)
	assert.Nil(t, dn.DriverSignature)

	dn, err = f.svc.ReceiveDeliveryNote(ctx, dn.ID, ReceiveInput{}, dispatcher)
	require.NoError(t, err)
	assert.Equal(t, StatusReceived, dn.Status)
}

func TestDispatchValidation(t *testing.T) {
	f := newFixture(t, strictPolicy())
	ctx := context.Background()
	dn := f.advance(t, "60", StatusDispatchReady, "55")

	_, err := f.svc.DispatchDeliveryNote(ctx, dn.ID, DispatchInput{DriverSignature: strptr("   ")}, dispatcher)
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "driver_signature", verr.Field)

	_, err = f.svc.DispatchDeliveryNote(ctx, dn.ID, DispatchInput{
		DriverSignature: strptr("sig"),
		Lines:           []LineQty{{ItemID: dn.Items[0].ID, Qty: qty("56")}},
	}, dispatcher)
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.DispatchDeliveryNote(ctx, dn.ID, DispatchInput{
		DriverSignature: strptr("sig"),
		Lines:           []LineQty{{ItemID: 12345, Qty: qty("1")}},
	}, dispatcher)
	assert.ErrorIs(t, err, shared.ErrValidation)

	dn, err = f.svc.DispatchDeliveryNote(ctx, dn.ID, DispatchInput{
		DriverSignature: strptr("sig"),
		Lines:           []LineQty{{ItemID: dn.Items[0].ID, Qty: qty("50")}},
	}, dispatcher)
	require.NoError(t, err)
	assert.True(t, dn.Items[0].DispatchedQty.Equal(qty("50")))
	assert.True(t, dn.Items[0].DispatchShortfall().Equal(qty("5")))
	assert.True(t, dn.Items[0].ShortQty.Equal(qty("5")))
	assertInvariants(t, dn)
}

func TestVoidLeavesStockRequestsUntouched(t *testing.T) {
	for _, status := range []Status{StatusDraft, StatusConfirmed, StatusQueuedForPicking, StatusPickingInProgress, StatusDispatchReady} {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture(t, strictPolicy())
			dn := f.advance(t, "60", status, "")
			before := f.repo.stockRequestLine(srLineID)

			dn, err := f.svc.VoidDeliveryNote(context.Background(), dn.ID, ReasonInput{Reason: strptr("customer cancelled")}, dispatcher)
			require.NoError(t, err)
			assert.Equal(t, StatusVoided, dn.Status)
			assert.Equal(t, "customer cancelled", *dn.VoidReason)
			assert.Equal(t, before, f.repo.stockRequestLine(srLineID))
			if status != StatusDispatchReady {
				assert.Nil(t, dn.ActivePickList)
			}

			lists, err := f.svc.ListPickLists(context.Background(), dn.ID)
			require.NoError(t, err)
			for _, pl := range lists {
				if status == StatusDispatchReady {
					assert.Equal(t, PickListCompleted, pl.Status)
				} else {
					assert.Equal(t, PickListCancelled, pl.Status)
				}
			}
		})
	}
}

// ============================================================================
// PICK LISTS
// ============================================================================

func TestConcurrentQueuePickingCreatesOnePickList(t *testing.T) {
	f := newFixture(t, strictPolicy())
	dn := f.advance(t, "60", StatusConfirmed, "")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	notes := make([]DeliveryNote, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			notes[i], errs[i] = f.svc.QueuePicking(context.Background(), dn.ID,
				QueuePickingInput{PickerIDs: []int64{41 + int64(i)}}, dispatcher)
		}(i)
	}
	wg.Wait()

	var winner, loser int
	switch {
	case errs[0] == nil && errs[1] != nil:
		winner, loser = 0, 1
	case errs[1] == nil && errs[0] != nil:
		winner, loser = 1, 0
	default:
		t.Fatalf("expected exactly one success, got %v and %v", errs[0], errs[1])
	}

	var conflict *shared.ConflictError
	require.ErrorAs(t, errs[loser], &conflict)
	require.NotNil(t, notes[winner].ActivePickList)
	assert.Equal(t, notes[winner].ActivePickList.ID, conflict.ID)

	lists, err := f.svc.ListPickLists(context.Background(), dn.ID)
	require.NoError(t, err)
	assert.Len(t, lists, 1)
}

func TestQueuePickingRequiresPicker(t *testing.T) {
	f := newFixture(t, strictPolicy())
	dn := f.advance(t, "60", StatusConfirmed, "")

	_, err := f.svc.QueuePicking(context.Background(), dn.ID, QueuePickingInput{PickerIDs: []int64{0, -1}}, dispatcher)
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestQueuePickingRejectsNonPositivePicker(t *testing.T) {
	f := newFixture(t, strictPolicy())
	dn := f.advance(t, "60", StatusConfirmed, "")

	_, err := f.svc.QueuePicking(context.Background(), dn.ID, QueuePickingInput{PickerIDs: []int64{-1, 5}}, dispatcher)
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "picker_ids", verr.Field)
	assert.Contains(t, verr.Reason, "-1")

	lists, err := f.svc.ListPickLists(context.Background(), dn.ID)
	require.NoError(t, err)
	assert.Empty(t, lists)
}

func TestQueuePickingAfterPickingIsInvalidState(t *testing.T) {
	for _, target := range []Status{StatusDispatchReady, StatusDispatched, StatusReceived} {
		t.Run(string(target), func(t *testing.T) {
			f := newFixture(t, strictPolicy())
			dn := f.advance(t, "60", target, "")

			_, err := f.svc.QueuePicking(context.Background(), dn.ID, QueuePickingInput{PickerIDs: []int64{41}}, dispatcher)
			var invalid *shared.InvalidStateError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, string(target), invalid.Current)
			assert.False(t, errors.Is(err, shared.ErrConflict))
		})
	}
}

func TestQueuePickingFromDraftFails(t *testing.T) {
	f := newFixture(t, strictPolicy())
	dn := f.create(t, "10")

	_, err := f.svc.QueuePicking(context.Background(), dn.ID, QueuePickingInput{PickerIDs: []int64{41}}, dispatcher)
	assert.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestQueuePickingPopulatesActivePickList(t *testing.T) {
	f := newFixture(t, strictPolicy())
	dn := f.advance(t, "60", StatusQueuedForPicking, "")

	require.NotNil(t, dn.ActivePickList)
	assert.Equal(t, "PL-20260302-000001", dn.ActivePickList.Number)
	assert.Equal(t, PickListQueued, dn.ActivePickList.Status)
	assert.True(t, dn.ActivePickList.Active)
	assert.Equal(t, map[int64]string{41: "Ana Picker"}, dn.ActivePickList.PickerNames)
}

func TestCancelPickListAllowsRequeue(t *testing.T) {
	f := newFixture(t, strictPolicy())
	ctx := context.Background()
	dn := f.advance(t, "60", StatusQueuedForPicking, "")
	first := dn.ActivePickList.ID

	dn, err := f.svc.CancelPickList(ctx, first, ReasonInput{Reason: strptr("picker sick")}, dispatcher)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, dn.Status)
	assert.Nil(t, dn.ActivePickList)

	dn, err = f.svc.QueuePicking(ctx, dn.ID, QueuePickingInput{PickerIDs: []int64{42}}, dispatcher)
	require.NoError(t, err)
	require.NotNil(t, dn.ActivePickList)
	assert.NotEqual(t, first, dn.ActivePickList.ID)

	lists, err := f.svc.ListPickLists(ctx, dn.ID)
	require.NoError(t, err)
	require.Len(t, lists, 2)
	assert.Equal(t, dn.ActivePickList.ID, lists[0].ID)
	assert.True(t, lists[0].Active)
	assert.False(t, lists[1].Active)
	assert.Equal(t, PickListCancelled, lists[1].Status)
	assert.Equal(t, "picker sick", *lists[1].CancelReason)

	_, err = f.svc.StartPickList(ctx, first, dispatcher)
	assert.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestCancelStartedPickListFails(t *testing.T) {
	f := newFixture(t, strictPolicy())
	dn := f.advance(t, "60", StatusPickingInProgress, "")

	_, err := f.svc.CancelPickList(context.Background(), dn.ActivePickList.ID, ReasonInput{}, dispatcher)
	var serr *shared.InvalidStateError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "in_progress", serr.Current)
}

func TestRecordPicksThenComplete(t *testing.T) {
	f := newFixture(t, strictPolicy())
	ctx := context.Background()
	dn := f.advance(t, "60", StatusQueuedForPicking, "")
	plID := dn.ActivePickList.ID
	itemID := dn.Items[0].ID

	dn, err := f.svc.RecordPicks(ctx, plID, PickInput{Lines: []LineQty{{ItemID: itemID, Qty: qty("40")}}}, dispatcher)
	require.NoError(t, err)
	assert.Equal(t, StatusPickingInProgress, dn.Status)
	assert.Equal(t, PickListInProgress, dn.ActivePickList.Status)
	assert.NotNil(t, dn.PickingStartedAt)
	startedAt := *dn.PickingStartedAt

	dn, err = f.svc.RecordPicks(ctx, plID, PickInput{Lines: []LineQty{{ItemID: itemID, Qty: qty("45")}}}, dispatcher)
	require.NoError(t, err)
	assert.Equal(t, startedAt, *dn.PickingStartedAt)

	_, err = f.svc.RecordPicks(ctx, plID, PickInput{}, dispatcher)
	assert.ErrorIs(t, err, shared.ErrValidation)

	dn, err = f.svc.CompletePickList(ctx, plID, PickInput{}, dispatcher)
	require.NoError(t, err)
	assert.Equal(t, StatusDispatchReady, dn.Status)
	assert.True(t, dn.Items[0].PickedQty.Equal(qty("45")))
	assert.True(t, dn.Items[0].ShortQty.Equal(qty("15")))
	assertInvariants(t, dn)

	_, err = f.svc.RecordPicks(ctx, plID, PickInput{Lines: []LineQty{{ItemID: itemID, Qty: qty("1")}}}, dispatcher)
	assert.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestCompleteQueuedPickListDefaultsToAllocated(t *testing.T) {
	f := newFixture(t, strictPolicy())
	dn := f.advance(t, "60", StatusQueuedForPicking, "")

	dn, err := f.svc.CompletePickList(context.Background(), dn.ActivePickList.ID, PickInput{}, dispatcher)
	require.NoError(t, err)
	assert.Equal(t, StatusDispatchReady, dn.Status)
	assert.True(t, dn.Items[0].PickedQty.Equal(qty("60")))
	assert.True(t, dn.Items[0].ShortQty.IsZero())
	assert.NotNil(t, dn.ActivePickList.StartedAt)
}

func TestCompleteRejectsOverPick(t *testing.T) {
	f := newFixture(t, strictPolicy())
	dn := f.advance(t, "60", StatusPickingInProgress, "")

	_, err := f.svc.CompletePickList(context.Background(), dn.ActivePickList.ID, PickInput{
		Lines: []LineQty{{ItemID: dn.Items[0].ID, Qty: qty("61")}},
	}, dispatcher)
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.CompletePickList(context.Background(), dn.ActivePickList.ID, PickInput{
		Lines: []LineQty{{ItemID: dn.Items[0].ID, Qty: qty("-1")}},
	}, dispatcher)
	assert.ErrorIs(t, err, shared.ErrValidation)

	got, err := f.svc.GetDeliveryNote(context.Background(), dn.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPickingInProgress, got.Status)
	assert.True(t, got.Items[0].PickedQty.IsZero())
}

func TestUnknownPickList(t *testing.T) {
	f := newFixture(t, strictPolicy())
	_, err := f.svc.StartPickList(context.Background(), 77, dispatcher)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestActivePickListRule(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	deleted := base.Add(time.Hour)
	tests := []struct {
		name  string
		lists []PickList
		want  int64
	}{
		{name: "empty", want: 0},
		{
			name: "latest wins",
			lists: []PickList{
				{ID: 1, Status: PickListCompleted, CreatedAt: base},
				{ID: 2, Status: PickListQueued, CreatedAt: base.Add(time.Minute)},
			},
			want: 2,
		},
		{
			name: "latest cancelled hides older open list",
			lists: []PickList{
				{ID: 1, Status: PickListQueued, CreatedAt: base},
				{ID: 2, Status: PickListCancelled, CreatedAt: base.Add(time.Minute)},
			},
			want: 0,
		},
		{
			name: "tie broken by id",
			lists: []PickList{
				{ID: 5, Status: PickListInProgress, CreatedAt: base},
				{ID: 4, Status: PickListQueued, CreatedAt: base},
			},
			want: 5,
		},
		{
			name: "soft deleted ignored",
			lists: []PickList{
				{ID: 1, Status: PickListCompleted, CreatedAt: base},
				{ID: 2, Status: PickListQueued, CreatedAt: base.Add(time.Minute), DeletedAt: &deleted},
			},
			want: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ActivePickList(tt.lists)
			if tt.want == 0 {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.ID)
		})
	}
}

// ============================================================================
// READS
// ============================================================================

func TestListDeliveryNotesFilters(t *testing.T) {
	f := newFixture(t, strictPolicy())
	ctx := context.Background()
	f.create(t, "10")
	confirmed := f.advance(t, "10", StatusConfirmed, "")

	status := StatusConfirmed
	notes, page, err := f.svc.ListDeliveryNotes(ctx, ListFilters{Status: &status})
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, confirmed.ID, notes[0].ID)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, "WH-10", notes[0].RequestingWarehouseLabel)

	notes, page, err = f.svc.ListDeliveryNotes(ctx, ListFilters{PerPage: 1})
	require.NoError(t, err)
	assert.Len(t, notes, 1)
	assert.Equal(t, 2, page.Total)

	bad := Status("lost")
	_, _, err = f.svc.ListDeliveryNotes(ctx, ListFilters{Status: &bad})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestPublishFailureDoesNotUndoReceive(t *testing.T) {
	f := newFixture(t, strictPolicy())
	f.pub.err = errors.New("redis down")
	dn := f.advance(t, "60", StatusReceived, "")

	assert.Equal(t, StatusReceived, dn.Status)
	assert.True(t, f.repo.stockRequestLine(srLineID).ReceivedQty.Equal(qty("60")))
}
