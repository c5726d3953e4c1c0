package delivery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fulfillment/internal/shared"
	"github.com/odyssey-erp/fulfillment/internal/stockrequests"
)

// ============================================================================
// IN-MEMORY REPOSITORY
// ============================================================================

// memoryRepo serialises transactions with a mutex and runs each one against a
// copy of the state, publishing the copy only when the callback succeeds.
type memoryRepo struct {
	mu    sync.Mutex
	state memState

	// failIncrement makes IncrementStockRequestReceived fail.
	failIncrement error
}

type memState struct {
	notes     map[int64]DeliveryNote
	pickLists map[int64]PickList
	srLines   map[int64]stockrequests.Line
	dnSeq     int64
	plSeq     int64
	itemSeq   int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{state: memState{
		notes:     map[int64]DeliveryNote{},
		pickLists: map[int64]PickList{},
		srLines:   map[int64]stockrequests.Line{},
	}}
}

func (s memState) clone() memState {
	out := memState{
		notes:     make(map[int64]DeliveryNote, len(s.notes)),
		pickLists: make(map[int64]PickList, len(s.pickLists)),
		srLines:   make(map[int64]stockrequests.Line, len(s.srLines)),
		dnSeq:     s.dnSeq,
		plSeq:     s.plSeq,
		itemSeq:   s.itemSeq,
	}
	for id, dn := range s.notes {
		dn.Items = append([]Item(nil), dn.Items...)
		out.notes[id] = dn
	}
	for id, pl := range s.pickLists {
		pl.PickerIDs = append([]int64(nil), pl.PickerIDs...)
		out.pickLists[id] = pl
	}
	for id, l := range s.srLines {
		out.srLines[id] = l
	}
	return out
}

func (m *memoryRepo) addStockRequestLine(l stockrequests.Line) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.srLines[l.ID] = l
}

func (m *memoryRepo) stockRequestLine(id int64) stockrequests.Line {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.srLines[id]
}

func (m *memoryRepo) noteCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state.notes)
}

func (m *memoryRepo) itemCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, dn := range m.state.notes {
		n += len(dn.Items)
	}
	return n
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	work := m.state.clone()
	if err := fn(ctx, &memoryTx{repo: m, state: &work}); err != nil {
		return err
	}
	m.state = work
	return nil
}

func (m *memoryRepo) GetDeliveryNote(_ context.Context, id int64) (DeliveryNote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dn, ok := m.state.notes[id]
	if !ok {
		return DeliveryNote{}, noteNotFound(id)
	}
	dn.Items = append([]Item(nil), dn.Items...)
	return dn, nil
}

func (m *memoryRepo) ListDeliveryNotes(_ context.Context, f ListFilters) ([]DeliveryNote, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []DeliveryNote
	for _, dn := range m.state.notes {
		if f.Status != nil && dn.Status != *f.Status {
			continue
		}
		if f.RequestingWarehouseID != nil && dn.RequestingWarehouseID != *f.RequestingWarehouseID {
			continue
		}
		if f.FulfillingWarehouseID != nil && dn.FulfillingWarehouseID != *f.FulfillingWarehouseID {
			continue
		}
		dn.Items = nil
		all = append(all, dn)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	total := len(all)
	start := (f.Page - 1) * f.PerPage
	if start > total {
		start = total
	}
	end := start + f.PerPage
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (m *memoryRepo) GetPickList(_ context.Context, id int64) (PickList, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pl, ok := m.state.pickLists[id]
	if !ok || pl.DeletedAt != nil {
		return PickList{}, pickListNotFound(id)
	}
	return pl, nil
}

func (m *memoryRepo) ListPickLists(_ context.Context, dnID int64) ([]PickList, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PickList
	for _, pl := range m.state.pickLists {
		if pl.DeliveryNoteID == dnID && pl.DeletedAt == nil {
			out = append(out, pl)
		}
	}
	SortPickLists(out)
	return out, nil
}

type memoryTx struct {
	repo  *memoryRepo
	state *memState
}

func (t *memoryTx) NextDeliveryNoteNumber(_ context.Context, at time.Time) (string, error) {
	t.state.dnSeq++
	return fmt.Sprintf("DN-%s-%06d", at.Format("20060102"), t.state.dnSeq), nil
}

func (t *memoryTx) NextPickListNumber(_ context.Context, at time.Time) (string, error) {
	t.state.plSeq++
	return fmt.Sprintf("PL-%s-%06d", at.Format("20060102"), t.state.plSeq), nil
}

func (t *memoryTx) LockStockRequestLines(_ context.Context, ids []int64) ([]stockrequests.Line, error) {
	var out []stockrequests.Line
	for _, id := range ids {
		if l, ok := t.state.srLines[id]; ok {
			out = append(out, l)
		}
	}
	return out, nil
}

func (t *memoryTx) IncrementStockRequestReceived(_ context.Context, itemID int64, qty decimal.Decimal) error {
	if t.repo.failIncrement != nil {
		return t.repo.failIncrement
	}
	l, ok := t.state.srLines[itemID]
	if !ok {
		return stockrequests.ErrItemNotFound
	}
	if l.ReceivedQty.Add(qty).GreaterThan(l.RequestedQty) {
		return fmt.Errorf("item %d: %w", itemID, stockrequests.ErrOverReceipt)
	}
	l.ReceivedQty = l.ReceivedQty.Add(qty)
	t.state.srLines[itemID] = l
	return nil
}

func (t *memoryTx) InsertDeliveryNote(_ context.Context, dn DeliveryNote) (int64, error) {
	id := int64(len(t.state.notes) + 1)
	for {
		if _, taken := t.state.notes[id]; !taken {
			break
		}
		id++
	}
	dn.ID = id
	dn.Items = nil
	t.state.notes[id] = dn
	return id, nil
}

func (t *memoryTx) InsertItems(_ context.Context, dnID int64, items []Item) error {
	dn, ok := t.state.notes[dnID]
	if !ok {
		return noteNotFound(dnID)
	}
	for _, it := range items {
		t.state.itemSeq++
		it.ID = t.state.itemSeq
		it.DeliveryNoteID = dnID
		dn.Items = append(dn.Items, it)
	}
	t.state.notes[dnID] = dn
	return nil
}

func (t *memoryTx) GetDeliveryNoteForUpdate(_ context.Context, id int64) (DeliveryNote, error) {
	dn, ok := t.state.notes[id]
	if !ok {
		return DeliveryNote{}, noteNotFound(id)
	}
	dn.Items = append([]Item(nil), dn.Items...)
	return dn, nil
}

func (t *memoryTx) UpdateStatus(_ context.Context, id int64, c StatusChange) error {
	dn, ok := t.state.notes[id]
	if !ok {
		return noteNotFound(id)
	}
	if dn.Status != c.From {
		return ErrStatusChanged
	}
	at, by := c.At, c.By
	switch c.Action {
	case ActionConfirm:
		dn.ConfirmedAt, dn.ConfirmedBy = &at, &by
	case ActionStartPicking, ActionRecordPicks, ActionCompletePicking:
		if dn.PickingStartedAt == nil {
			dn.PickingStartedAt, dn.PickingStartedBy = &at, &by
		}
		if c.Action == ActionCompletePicking {
			dn.PickingCompletedAt, dn.PickingCompletedBy = &at, &by
		}
	case ActionDispatch:
		dn.DispatchedAt, dn.DispatchedBy = &at, &by
		dn.DriverName, dn.VehicleNumber, dn.DriverSignature, dn.DispatchNotes = c.DriverName, c.VehicleNumber, c.DriverSignature, c.Notes
	case ActionReceive:
		dn.ReceivedAt, dn.ReceivedBy, dn.ReceiveNotes = &at, &by, c.Notes
	case ActionVoid:
		dn.VoidedAt, dn.VoidedBy, dn.VoidReason = &at, &by, c.Reason
	}
	dn.Status = c.To
	dn.UpdatedAt = at
	t.state.notes[id] = dn
	return nil
}

func (t *memoryTx) UpdateItems(_ context.Context, items []Item) error {
	for _, upd := range items {
		dn, ok := t.state.notes[upd.DeliveryNoteID]
		if !ok {
			return errors.New("item without note")
		}
		for i := range dn.Items {
			if dn.Items[i].ID == upd.ID {
				dn.Items[i] = upd
			}
		}
		t.state.notes[upd.DeliveryNoteID] = dn
	}
	return nil
}

func (t *memoryTx) ActivePickListForUpdate(_ context.Context, dnID int64) (*PickList, error) {
	var lists []PickList
	for _, pl := range t.state.pickLists {
		if pl.DeliveryNoteID == dnID {
			lists = append(lists, pl)
		}
	}
	return ActivePickList(lists), nil
}

func (t *memoryTx) GetPickListForUpdate(_ context.Context, id int64) (PickList, error) {
	pl, ok := t.state.pickLists[id]
	if !ok || pl.DeletedAt != nil {
		return PickList{}, pickListNotFound(id)
	}
	return pl, nil
}

func (t *memoryTx) InsertPickList(_ context.Context, pl PickList) (int64, error) {
	pl.ID = int64(len(t.state.pickLists) + 1)
	t.state.pickLists[pl.ID] = pl
	return pl.ID, nil
}

func (t *memoryTx) UpdatePickListStatus(_ context.Context, id int64, c PickListChange) error {
	pl, ok := t.state.pickLists[id]
	if !ok {
		return pickListNotFound(id)
	}
	if pl.Status != c.From {
		return ErrStatusChanged
	}
	at := c.At
	switch c.To {
	case PickListInProgress:
		pl.StartedAt = &at
	case PickListCompleted:
		pl.CompletedAt = &at
		if pl.StartedAt == nil {
			pl.StartedAt = &at
		}
	case PickListCancelled:
		pl.CancelledAt, pl.CancelReason = &at, c.Reason
	}
	pl.Status = c.To
	t.state.pickLists[id] = pl
	return nil
}

// ============================================================================
// COLLABORATOR FAKES
// ============================================================================

type fakeOracle struct {
	mu        sync.Mutex
	available map[int64]map[int64]decimal.Decimal
	calls     int
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{available: map[int64]map[int64]decimal.Decimal{}}
}

func (o *fakeOracle) set(warehouseID, itemID int64, qty string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.available[warehouseID] == nil {
		o.available[warehouseID] = map[int64]decimal.Decimal{}
	}
	o.available[warehouseID][itemID] = decimal.RequireFromString(qty)
}

func (o *fakeOracle) GetAvailable(ctx context.Context, warehouseID, itemID int64) (decimal.Decimal, error) {
	m, err := o.GetAvailableBatch(ctx, warehouseID, []int64{itemID})
	return m[itemID], err
}

func (o *fakeOracle) GetAvailableBatch(_ context.Context, warehouseID int64, itemIDs []int64) (map[int64]decimal.Decimal, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	out := make(map[int64]decimal.Decimal, len(itemIDs))
	for _, id := range itemIDs {
		out[id] = o.available[warehouseID][id]
	}
	return out, nil
}

type fakeWarehouses map[int64]int64

func (f fakeWarehouses) BusinessUnitOf(_ context.Context, warehouseID int64) (int64, error) {
	bu, ok := f[warehouseID]
	if !ok {
		return 0, errors.New("warehouse not found")
	}
	return bu, nil
}

func (f fakeWarehouses) Labels(_ context.Context, ids []int64) (map[int64]string, error) {
	out := map[int64]string{}
	for _, id := range ids {
		if _, ok := f[id]; ok {
			out[id] = fmt.Sprintf("WH-%d", id)
		}
	}
	return out, nil
}

type fakeUsers map[int64]string

func (f fakeUsers) DisplayNames(_ context.Context, ids []int64) (map[int64]string, error) {
	out := map[int64]string{}
	for _, id := range ids {
		if n, ok := f[id]; ok {
			out[id] = n
		}
	}
	return out, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []NoteReceived
	err    error
}

func (p *recordingPublisher) PublishNoteReceived(_ context.Context, evt NoteReceived) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, evt)
	return nil
}

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func (a *recordingAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.logs))
	for i, l := range a.logs {
		out[i] = l.Action
	}
	return out
}

// stepClock returns a clock that advances one second per call.
func stepClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}
