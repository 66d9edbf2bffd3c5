package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupAllocations_BatchManaged(t *testing.T) {
	allocations := []Allocation{
		{LocationID: "BIN-B", BatchID: "B1", Quantity: dec("2")},
		{LocationID: "BIN-A", BatchID: "B2", Quantity: dec("1.5")},
		{LocationID: "BIN-A", BatchID: "B1", Quantity: dec("3")},
		{LocationID: "BIN-A", BatchID: "B1", Quantity: dec("0.25")},
	}

	groups := GroupAllocations(allocations, true)
	require.Len(t, groups, 3)

	assert.Equal(t, "BIN-A|B1", groups[0].Key)
	assertDecimal(t, "3.25", groups[0].Quantity)
	assert.Len(t, groups[0].Allocations, 2)
	assert.Equal(t, "BIN-A|B2", groups[1].Key)
	assert.Equal(t, "BIN-B|B1", groups[2].Key)
	assert.Equal(t, "B1", groups[2].BatchID)
}

func TestGroupAllocations_IgnoresBatchWhenNotManaged(t *testing.T) {
	groups := GroupAllocations([]Allocation{
		{LocationID: "BIN-A", BatchID: "B1", Quantity: dec("1")},
		{LocationID: "BIN-A", BatchID: "B2", Quantity: dec("2")},
	}, false)

	require.Len(t, groups, 1)
	assert.Equal(t, "BIN-A", groups[0].Key)
	assert.Empty(t, groups[0].BatchID)
	assertDecimal(t, "3", groups[0].Quantity)
}

func TestGroupAllocations_OrderIndependentAndIdempotent(t *testing.T) {
	allocations := []Allocation{
		{LocationID: "BIN-A", SerialNo: "SN-3", Quantity: dec("1")},
		{LocationID: "BIN-B", SerialNo: "SN-2", Quantity: dec("1")},
		{LocationID: "BIN-A", SerialNo: "SN-1", Quantity: dec("1")},
	}
	reversed := []Allocation{allocations[2], allocations[1], allocations[0]}

	first := GroupAllocations(allocations, false)
	second := GroupAllocations(reversed, false)
	assert.Equal(t, first, second)

	var flattened []Allocation
	for _, g := range first {
		flattened = append(flattened, g.Allocations...)
	}
	assert.Equal(t, first, GroupAllocations(flattened, false))

	serials, qty := first[0].SerialQuantities()
	assert.Equal(t, []string{"SN-1", "SN-3"}, serials)
	assertDecimal(t, "1", qty["SN-3"])
}

func TestMergeGroupKeys(t *testing.T) {
	current := GroupAllocations([]Allocation{{LocationID: "BIN-B", Quantity: dec("1")}}, false)
	previous := GroupAllocations([]Allocation{
		{LocationID: "BIN-A", Quantity: dec("1")},
		{LocationID: "BIN-B", Quantity: dec("2")},
	}, false)

	assert.Equal(t, []string{"BIN-A", "BIN-B"}, MergeGroupKeys(current, previous))
}

func TestGroupLine_ConvertsToBaseUOM(t *testing.T) {
	m := &Material{ID: "MAT-1", BaseUOM: "EA", Conversions: []UOMConversion{{AltUOM: "BOX", BaseQty: dec("12")}}}
	l := LineItem{LineNo: "1", MaterialID: "MAT-1", UOM: "BOX", Allocations: []Allocation{
		{LocationID: "BIN-B", Quantity: dec("1")},
		{LocationID: "BIN-A", Quantity: dec("0.5")},
		{LocationID: "BIN-A", Quantity: dec("1.5")},
	}}

	groups, converted := GroupLine(l, m)
	assert.True(t, converted)
	require.Len(t, groups, 2)
	assertDecimal(t, "2", groups[0].Quantity)
	assertDecimal(t, "24", groups[0].BaseQuantity)
	assertDecimal(t, "12", groups[1].BaseQuantity)

	l.UOM = "PALLET"
	groups, converted = GroupLine(l, m)
	assert.False(t, converted)
	assertDecimal(t, "2", groups[0].BaseQuantity, "unknown units are taken 1:1")
}

func TestMaterialToBase(t *testing.T) {
	m := &Material{
		ID:      "MAT-1",
		BaseUOM: "EA",
		Conversions: []UOMConversion{
			{AltUOM: "BOX", BaseQty: dec("12")},
			{AltUOM: "PACK", BaseQty: dec("0.3333")},
		},
	}

	base, ok := m.ToBase(dec("2"), "BOX")
	assert.True(t, ok)
	assertDecimal(t, "24", base)

	base, ok = m.ToBase(dec("5"), "EA")
	assert.True(t, ok)
	assertDecimal(t, "5", base)

	base, ok = m.ToBase(dec("3"), "PACK")
	assert.True(t, ok)
	assertDecimal(t, "1", base)

	base, ok = m.ToBase(dec("7"), "PALLET")
	assert.False(t, ok)
	assertDecimal(t, "7", base)
}

func TestBalanceRecordApply_ClampsNegative(t *testing.T) {
	r := &BalanceRecord{Unrestricted: dec("5"), Reserved: dec("1"), Balance: dec("6")}

	clamps := r.Apply(Deduction(dec("2"), dec("3")))
	require.Len(t, clamps, 1)
	assert.Equal(t, "reservedQty", clamps[0].Field)
	assertDecimal(t, "2", r.Unrestricted)
	assertDecimal(t, "0", r.Reserved)
	assertDecimal(t, "2", r.Balance)
	assertDecimal(t, r.Unrestricted.Add(r.Reserved).String(), r.Balance)

	// drifted aggregate row: nothing unrestricted to take
	r = &BalanceRecord{Unrestricted: dec("0"), Reserved: dec("5"), Balance: dec("5")}
	clamps = r.Apply(Deduction(dec("0"), dec("1")))
	require.Len(t, clamps, 1)
	assert.Equal(t, "unrestrictedQty", clamps[0].Field)
	assertDecimal(t, "-1", clamps[0].Attempted)
	assertDecimal(t, "0", r.Unrestricted)
	assertDecimal(t, "5", r.Reserved)
	assertDecimal(t, "5", r.Balance)

	r = &BalanceRecord{Unrestricted: dec("100"), Reserved: dec("20"), Balance: dec("120")}
	assert.Empty(t, r.Apply(Release(dec("5"))))
	assertDecimal(t, "105", r.Unrestricted)
	assertDecimal(t, "15", r.Reserved)
	assertDecimal(t, "120", r.Balance)
}

func TestBalanceScope(t *testing.T) {
	assert.Equal(t, ScopeAggregate, StockScope("").Kind())
	assert.Equal(t, ScopeBatch, StockScope("B1").Kind())
	assert.Equal(t, "serial:SN-1@B1", SerialScope("SN-1", "B1").String())
	assert.Equal(t, "B1", SerialScope("SN-1", "B1").BatchID())
}
