package domain

import (
	"sort"

	"github.com/shopspring/decimal"
)

// AllocationGroup is the consolidation of a line's allocations by location
// and, for batch-managed materials, batch.
type AllocationGroup struct {
	Key         string
	LocationID  string
	BatchID     string
	Allocations []Allocation
	// Quantity is the total in the line's order UOM.
	Quantity decimal.Decimal
	// BaseQuantity is Quantity in the material's base UOM. Set by GroupLine.
	BaseQuantity decimal.Decimal
}

// GroupKey returns location, or location|batch when batch applies.
func GroupKey(locationID, batchID string, isBatchManaged bool) string {
	if isBatchManaged && batchID != "" {
		return locationID + "|" + batchID
	}
	return locationID
}

// GroupAllocations collapses allocations into groups sorted by key. Output
// does not depend on input order.
func GroupAllocations(allocations []Allocation, isBatchManaged bool) []AllocationGroup {
	byKey := make(map[string]*AllocationGroup)
	for _, a := range allocations {
		batchID := ""
		if isBatchManaged {
			batchID = a.BatchID
		}
		key := GroupKey(a.LocationID, batchID, isBatchManaged)

		g, ok := byKey[key]
		if !ok {
			g = &AllocationGroup{Key: key, LocationID: a.LocationID, BatchID: batchID}
			byKey[key] = g
		}
		g.Allocations = append(g.Allocations, a)
		g.Quantity = RoundQty(g.Quantity.Add(a.Quantity))
	}

	groups := make([]AllocationGroup, 0, len(byKey))
	for _, g := range byKey {
		sort.SliceStable(g.Allocations, func(i, j int) bool {
			ai, aj := g.Allocations[i], g.Allocations[j]
			if ai.SerialNo != aj.SerialNo {
				return ai.SerialNo < aj.SerialNo
			}
			if ai.BatchID != aj.BatchID {
				return ai.BatchID < aj.BatchID
			}
			return ai.Quantity.LessThan(aj.Quantity)
		})
		groups = append(groups, *g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Key < groups[j].Key })
	return groups
}

// GroupLine groups a line's allocations for material and converts each group
// total to base UOM. converted is false when the line's UOM has no
// conversion and quantities were taken 1:1.
func GroupLine(line LineItem, material *Material) (groups []AllocationGroup, converted bool) {
	groups = GroupAllocations(line.Allocations, material.IsBatchManaged)
	converted = true
	for i := range groups {
		base, exact := material.ToBase(groups[i].Quantity, line.UOM)
		groups[i].BaseQuantity = base
		converted = converted && exact
	}
	return groups, converted
}

// SerialQuantities sums allocation quantity per serial number in group
// order.
func (g AllocationGroup) SerialQuantities() ([]string, map[string]decimal.Decimal) {
	var order []string
	qty := make(map[string]decimal.Decimal)
	for _, a := range g.Allocations {
		if a.SerialNo == "" {
			continue
		}
		if _, ok := qty[a.SerialNo]; !ok {
			order = append(order, a.SerialNo)
		}
		qty[a.SerialNo] = RoundQty(qty[a.SerialNo].Add(a.Quantity))
	}
	return order, qty
}

// MergeGroupKeys returns the sorted union of the keys of two group sets.
func MergeGroupKeys(current, previous []AllocationGroup) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, set := range [][]AllocationGroup{current, previous} {
		for _, g := range set {
			if !seen[g.Key] {
				seen[g.Key] = true
				keys = append(keys, g.Key)
			}
		}
	}
	sort.Strings(keys)
	return keys
}

// IndexGroups maps groups by key.
func IndexGroups(groups []AllocationGroup) map[string]AllocationGroup {
	out := make(map[string]AllocationGroup, len(groups))
	for _, g := range groups {
		out[g.Key] = g
	}
	return out
}
