package appcontext

import (
	"cmp"
	"slices"
)

// Prioritized components are ordered before every other component, by
// ascending priority.
type Prioritized interface {
	Priority() int
}

// Ordered components follow prioritized ones, by ascending order.
type Ordered interface {
	Order() int
}

// orderGroup returns the sort group of v and its key within the group
func orderGroup(v any) (group, key int) {
	if p, ok := v.(Prioritized); ok {
		return 0, p.Priority()
	}
	if o, ok := v.(Ordered); ok {
		return 1, o.Order()
	}
	return 2, 0
}

// SortComponents orders items by the Prioritized group first, then the
// Ordered group, then everything else. The sort is stable, so unordered items
// keep discovery order.
func SortComponents[T any](items []T) {
	slices.SortStableFunc(items, func(a, b T) int {
		return compareOrder(a, b)
	})
}

// compareOrder compares two components by their ordering group and key
func compareOrder(a, b any) int {
	ga, ka := orderGroup(a)
	gb, kb := orderGroup(b)
	if c := cmp.Compare(ga, gb); c != 0 {
		return c
	}
	return cmp.Compare(ka, kb)
}
