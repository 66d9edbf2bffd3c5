package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wms-platform/ledger-engine/internal/domain"
	"github.com/wms-platform/ledger-engine/pkg/logging"
	"github.com/wms-platform/ledger-engine/pkg/resilience"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var errStoreDown = errors.New("store unavailable")

type fakeMaterials struct {
	items map[string]*domain.Material
	err   error
}

func (f *fakeMaterials) FindByID(_ context.Context, id string) (*domain.Material, error) {
	if f.err != nil {
		return nil, f.err
	}
	m, ok := f.items[id]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

type fakeBalances struct {
	records map[string]domain.BalanceRecord
	seq     int

	saveErr   func(rec domain.BalanceRecord) error
	revertErr error
	reverts   int
}

func newFakeBalances() *fakeBalances {
	return &fakeBalances{records: make(map[string]domain.BalanceRecord)}
}

func (f *fakeBalances) put(key domain.BalanceKey, unrestricted, reserved string) string {
	f.seq++
	id := fmt.Sprintf("bal-%d", f.seq)
	u, r := dec(unrestricted), dec(reserved)
	f.records[id] = domain.BalanceRecord{ID: id, Key: key, Unrestricted: u, Reserved: r, Balance: u.Add(r)}
	return id
}

func (f *fakeBalances) get(key domain.BalanceKey) domain.BalanceRecord {
	for _, r := range f.records {
		if r.Key == key {
			return r
		}
	}
	return domain.BalanceRecord{}
}

func (f *fakeBalances) Find(_ context.Context, key domain.BalanceKey) (*domain.BalanceRecord, error) {
	for _, r := range f.records {
		if r.Key == key {
			cp := r
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeBalances) FindSerials(_ context.Context, materialID, plantID, locationID string, serialNos []string) ([]domain.BalanceRecord, error) {
	wanted := make(map[string]bool, len(serialNos))
	for _, sn := range serialNos {
		wanted[sn] = true
	}
	var out []domain.BalanceRecord
	for _, r := range f.records {
		k := r.Key
		if k.Scope.Kind() == domain.ScopeSerial && k.MaterialID == materialID && k.PlantID == plantID &&
			k.LocationID == locationID && wanted[k.Scope.SerialNo()] {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeBalances) Create(_ context.Context, record *domain.BalanceRecord) (string, error) {
	f.seq++
	id := fmt.Sprintf("bal-%d", f.seq)
	record.ID = id
	f.records[id] = *record
	return id, nil
}

func (f *fakeBalances) Save(_ context.Context, record *domain.BalanceRecord) error {
	if f.saveErr != nil {
		if err := f.saveErr(*record); err != nil {
			return err
		}
	}
	f.records[record.ID] = *record
	return nil
}

func (f *fakeBalances) Revert(_ context.Context, pre domain.BalanceRecord) error {
	f.reverts++
	if f.revertErr != nil {
		return f.revertErr
	}
	f.records[pre.ID] = pre
	return nil
}

type fakeValuation struct {
	layers   map[string][]domain.FIFOLayer
	averages map[string][]domain.WeightedAverage
	err      error
}

func newFakeValuation() *fakeValuation {
	return &fakeValuation{
		layers:   make(map[string][]domain.FIFOLayer),
		averages: make(map[string][]domain.WeightedAverage),
	}
}

func (f *fakeValuation) addLayer(key domain.ValuationKey, seq int64, available, cost string) {
	f.layers[key.String()] = append(f.layers[key.String()], domain.FIFOLayer{
		ID:        fmt.Sprintf("%s#%d", key, seq),
		Key:       key,
		Sequence:  seq,
		Available: dec(available),
		CostPrice: dec(cost),
	})
}

func (f *fakeValuation) FindLayers(_ context.Context, key domain.ValuationKey) ([]domain.FIFOLayer, error) {
	if f.err != nil {
		return nil, f.err
	}
	return append([]domain.FIFOLayer(nil), f.layers[key.String()]...), nil
}

func (f *fakeValuation) SaveLayer(_ context.Context, layer domain.FIFOLayer) error {
	layers := f.layers[layer.Key.String()]
	for i := range layers {
		if layers[i].ID == layer.ID {
			layers[i] = layer
			return nil
		}
	}
	f.layers[layer.Key.String()] = append(layers, layer)
	return nil
}

func (f *fakeValuation) FindWeightedAverages(_ context.Context, key domain.ValuationKey) ([]domain.WeightedAverage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return append([]domain.WeightedAverage(nil), f.averages[key.String()]...), nil
}

func (f *fakeValuation) SaveWeightedAverage(_ context.Context, record domain.WeightedAverage) error {
	records := f.averages[record.Key.String()]
	for i := range records {
		if records[i].ID == record.ID {
			records[i] = record
			return nil
		}
	}
	f.averages[record.Key.String()] = append(records, record)
	return nil
}

type fakeMovements struct {
	movements []domain.Movement
	serials   []domain.SerialMovement
	createErr error
}

func (f *fakeMovements) Create(_ context.Context, m *domain.Movement) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	m.ID = fmt.Sprintf("mv-%d", len(f.movements)+1)
	f.movements = append(f.movements, *m)
	return m.ID, nil
}

func (f *fakeMovements) CreateSerial(_ context.Context, m *domain.SerialMovement) (string, error) {
	m.ID = fmt.Sprintf("smv-%d", len(f.serials)+1)
	f.serials = append(f.serials, *m)
	return m.ID, nil
}

func (f *fakeMovements) SoftDelete(_ context.Context, id string) error {
	for i := range f.movements {
		if f.movements[i].ID == id {
			f.movements[i].IsDeleted = true
		}
	}
	return nil
}

func (f *fakeMovements) SoftDeleteSerial(_ context.Context, id string) error {
	for i := range f.serials {
		if f.serials[i].ID == id {
			f.serials[i].IsDeleted = true
		}
	}
	return nil
}

func (f *fakeMovements) Find(_ context.Context, q domain.MovementQuery) ([]domain.Movement, error) {
	var out []domain.Movement
	for _, m := range f.movements {
		if m.IsDeleted && !q.IncludeDeleted {
			continue
		}
		if (q.TransactionNo == "" || m.TransactionNo == q.TransactionNo) && (q.ReferenceNo == "" || m.ReferenceNo == q.ReferenceNo) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMovements) FindSerials(_ context.Context, ids []string) ([]domain.SerialMovement, error) {
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	var out []domain.SerialMovement
	for _, s := range f.serials {
		if wanted[s.MovementID] {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeMovements) live() []domain.Movement {
	var out []domain.Movement
	for _, m := range f.movements {
		if !m.IsDeleted {
			out = append(out, m)
		}
	}
	return out
}

type fakeReservations struct {
	records []domain.Reservation
}

func (f *fakeReservations) add(r domain.Reservation) {
	r.ID = fmt.Sprintf("res-%d", len(f.records)+1)
	f.records = append(f.records, r)
}

func (f *fakeReservations) FindByDocument(_ context.Context, documentType, documentNo string) ([]domain.Reservation, error) {
	var out []domain.Reservation
	for _, r := range f.records {
		if !r.IsDeleted && r.Key.DocumentType == documentType && r.Key.DocumentNo == documentNo {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeReservations) Create(_ context.Context, r *domain.Reservation) (string, error) {
	r.ID = fmt.Sprintf("res-%d", len(f.records)+1)
	f.records = append(f.records, *r)
	return r.ID, nil
}

func (f *fakeReservations) Save(_ context.Context, r domain.Reservation) error {
	for i := range f.records {
		if f.records[i].ID == r.ID {
			f.records[i] = r
			return nil
		}
	}
	return fmt.Errorf("reservation %s not found", r.ID)
}

func (f *fakeReservations) SoftDelete(_ context.Context, id string) error {
	for i := range f.records {
		if f.records[i].ID == id {
			f.records[i].IsDeleted = true
		}
	}
	return nil
}

func (f *fakeReservations) byKey(key domain.ReservationKey) (domain.Reservation, bool) {
	for _, r := range f.records {
		if r.Key == key {
			return r, true
		}
	}
	return domain.Reservation{}, false
}

type fakeEvents struct {
	events []domain.Event
	err    error
}

func (f *fakeEvents) Publish(_ context.Context, event domain.Event) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

func (f *fakeEvents) types() []string {
	out := make([]string, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.EventType())
	}
	return out
}

// fakeTransactor runs fn directly and restores the balance records when fn
// fails, as an aborted transaction would.
type fakeTransactor struct {
	balances *fakeBalances
	calls    int
	aborted  int
}

func (f *fakeTransactor) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	f.calls++
	snapshot := make(map[string]domain.BalanceRecord, len(f.balances.records))
	for k, v := range f.balances.records {
		snapshot[k] = v
	}
	if err := fn(ctx); err != nil {
		f.aborted++
		f.balances.records = snapshot
		return err
	}
	return nil
}

type testEngine struct {
	*LedgerEngine
	materials    *fakeMaterials
	balances     *fakeBalances
	valuation    *fakeValuation
	movements    *fakeMovements
	reservations *fakeReservations
	events       *fakeEvents
}

const (
	plant    = "P1"
	location = "L1"
)

func newTestEngine(t *testing.T, materials ...*domain.Material) *testEngine {
	t.Helper()
	return newTestEngineWith(t, DefaultOptions(), nil, materials...)
}

func newTestEngineWith(t *testing.T, options Options, transactor func(*fakeBalances) domain.Transactor, materials ...*domain.Material) *testEngine {
	t.Helper()
	te := &testEngine{
		materials:    &fakeMaterials{items: make(map[string]*domain.Material)},
		balances:     newFakeBalances(),
		valuation:    newFakeValuation(),
		movements:    &fakeMovements{},
		reservations: &fakeReservations{},
		events:       &fakeEvents{},
	}
	for _, m := range materials {
		te.materials.items[m.ID] = m
	}
	options.CompensationRetry = &resilience.RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1}

	deps := Dependencies{
		Materials:    te.materials,
		Balances:     te.balances,
		Valuation:    te.valuation,
		Movements:    te.movements,
		Reservations: te.reservations,
		Events:       te.events,
	}
	if transactor != nil {
		deps.Transactor = transactor(te.balances)
	}
	te.LedgerEngine = NewLedgerEngine(deps, options, logging.NewNop(), nil)
	return te
}

func aggregateKey(materialID string) domain.BalanceKey {
	return domain.BalanceKey{MaterialID: materialID, PlantID: plant, LocationID: location, Scope: domain.AggregateScope()}
}

func serialKey(materialID, serialNo string) domain.BalanceKey {
	return domain.BalanceKey{MaterialID: materialID, PlantID: plant, LocationID: location, Scope: domain.SerialScope(serialNo, "")}
}

func document(stage domain.DocumentStage, action domain.DocumentAction) domain.Document {
	return domain.Document{
		DocumentType: "GD",
		DocumentNo:   "GD-0001",
		ReferenceNo:  "SO-1",
		PlantID:      plant,
		Stage:        stage,
		Action:       action,
		UserID:       "tester",
	}
}

func line(lineNo, materialID string, allocations ...domain.Allocation) domain.LineItem {
	return domain.LineItem{LineNo: lineNo, MaterialID: materialID, Allocations: allocations}
}

func alloc(qty string) domain.Allocation {
	return domain.Allocation{LocationID: location, Quantity: dec(qty)}
}

func serialAlloc(serialNo, qty string) domain.Allocation {
	return domain.Allocation{LocationID: location, SerialNo: serialNo, Quantity: dec(qty)}
}
