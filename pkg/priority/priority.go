// Package priority maintains contiguous 1..N priority permutations for
// ordered entity scopes (PAC configs and proxy rules). Operations are pure:
// they take the current (id, priority) pairs and return only the pairs whose
// priority must change, so callers can persist a minimal update set inside
// one transaction per scope.
package priority

import (
	"fmt"
	"sort"
)

// Item is one (id, priority) pair within a scope.
type Item struct {
	ID       int64
	Priority int
}

// NextPriority returns the priority a newly inserted item receives:
// current max + 1, or 1 for an empty scope.
func NextPriority(items []Item) int {
	max := 0
	for _, it := range items {
		if it.Priority > max {
			max = it.Priority
		}
	}
	return max + 1
}

// CloseGap computes the updates needed after deleting the item that held
// deletedPriority: every remaining item above the gap shifts down by one.
// The input must no longer contain the deleted item.
func CloseGap(items []Item, deletedPriority int) []Item {
	updates := make([]Item, 0)
	for _, it := range items {
		if it.Priority > deletedPriority {
			updates = append(updates, Item{ID: it.ID, Priority: it.Priority - 1})
		}
	}
	sortByPriority(updates)
	return updates
}

// Move computes the updates for moving id to newPriority, clamped to [1, N].
// Items strictly between the old and new slots shift by one toward the
// vacated slot; the moved item lands exactly on newPriority. A move to the
// item's current slot yields no updates.
func Move(items []Item, id int64, newPriority int) ([]Item, error) {
	n := len(items)
	if n == 0 {
		return nil, fmt.Errorf("move: empty scope")
	}
	old := 0
	found := false
	for _, it := range items {
		if it.ID == id {
			old = it.Priority
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("move: id %d not in scope", id)
	}
	if newPriority < 1 {
		newPriority = 1
	}
	if newPriority > n {
		newPriority = n
	}
	if newPriority == old {
		return []Item{}, nil
	}

	updates := make([]Item, 0)
	for _, it := range items {
		switch {
		case it.ID == id:
			updates = append(updates, Item{ID: id, Priority: newPriority})
		case old < newPriority && it.Priority > old && it.Priority <= newPriority:
			updates = append(updates, Item{ID: it.ID, Priority: it.Priority - 1})
		case old > newPriority && it.Priority >= newPriority && it.Priority < old:
			updates = append(updates, Item{ID: it.ID, Priority: it.Priority + 1})
		}
	}
	sortByPriority(updates)
	return updates, nil
}

// Verify checks the contiguity invariant: priorities are exactly {1..N}
// with no duplicates. A failure here is a defect in the mutation path, not
// a user error.
func Verify(items []Item) error {
	seen := make(map[int]int64, len(items))
	for _, it := range items {
		if it.Priority < 1 || it.Priority > len(items) {
			return fmt.Errorf("priority %d on id %d outside [1, %d]", it.Priority, it.ID, len(items))
		}
		if prev, ok := seen[it.Priority]; ok {
			return fmt.Errorf("priority %d held by both id %d and id %d", it.Priority, prev, it.ID)
		}
		seen[it.Priority] = it.ID
	}
	return nil
}

// Apply merges updates into items and returns the result ordered by
// priority. Used by tests and by callers that keep an in-memory view.
func Apply(items []Item, updates []Item) []Item {
	byID := make(map[int64]int, len(updates))
	for _, u := range updates {
		byID[u.ID] = u.Priority
	}
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if p, ok := byID[it.ID]; ok {
			it.Priority = p
		}
		out = append(out, it)
	}
	sortByPriority(out)
	return out
}

func sortByPriority(items []Item) {
	sort.Slice(items, func(i, j int) bool { return items[i].Priority < items[j].Priority })
}
