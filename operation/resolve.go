package operation

import (
	"sort"
)

// SortCanonical sorts operations into the canonical resolution order:
// timestamp first, then userId as the tie-break. Every replica must
// resolve a batch in exactly this order to converge.
func SortCanonical(ops []*Operation) {
	sort.SliceStable(ops, func(i, j int) bool {
		return Less(ops[i], ops[j])
	})
}

// Less reports whether a precedes b in the canonical resolution order.
func Less(a, b *Operation) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.UserID < b.UserID
}

// Resolve transforms a batch of concurrent operations into the list that
// will actually be applied, in application order.
//
// The batch is first sorted canonically, then each operation is filtered
// against the already-applied history (history operations can eliminate an
// incoming operation but are themselves immutable), and finally transformed
// against every operation accepted before it within the batch:
//
//   - disjoint paths: both stand;
//   - identical paths: if either is a Delete the Delete is kept and the
//     other is dropped; two Updates resolve last-writer-wins (the later
//     one in resolution order survives);
//   - parent/child paths: a Delete on the shorter path drops the
//     operation on the longer one.
//
// An operation dropped mid-transformation is excluded immediately and not
// transformed further.
func Resolve(batch []*Operation, history []*Operation) []*Operation {
	sorted := make([]*Operation, len(batch))
	copy(sorted, batch)
	SortCanonical(sorted)

	resolved := make([]*Operation, 0, len(sorted))
	for _, op := range sorted {
		if eliminatedByHistory(op, history) {
			continue
		}

		keep := true
		for i := 0; i < len(resolved); i++ {
			switch transform(resolved[i], op) {
			case outcomeDropIncoming:
				keep = false
			case outcomeDropPrior:
				resolved = append(resolved[:i], resolved[i+1:]...)
				i--
			}
			if !keep {
				break
			}
		}
		if keep {
			resolved = append(resolved, op)
		}
	}
	return resolved
}

type outcome int

const (
	outcomeKeepBoth outcome = iota
	outcomeDropIncoming
	outcomeDropPrior
)

// transform decides the fate of an incoming operation against one that was
// accepted earlier in resolution order. Operations without a structural
// path (Move) never conflict.
func transform(prior, incoming *Operation) outcome {
	if len(prior.Path) == 0 || len(incoming.Path) == 0 {
		return outcomeKeepBoth
	}

	switch {
	case prior.Path.Equal(incoming.Path):
		return resolveSamePath(prior, incoming)
	case prior.Path.IsStrictPrefixOf(incoming.Path):
		if prior.Kind == KindDelete {
			return outcomeDropIncoming
		}
	case incoming.Path.IsStrictPrefixOf(prior.Path):
		if incoming.Kind == KindDelete {
			return outcomeDropPrior
		}
	}
	return outcomeKeepBoth
}

func resolveSamePath(prior, incoming *Operation) outcome {
	// Delete wins over anything else at the same path, regardless of order.
	switch {
	case prior.Kind == KindDelete && incoming.Kind == KindDelete:
		return outcomeDropIncoming
	case prior.Kind == KindDelete:
		return outcomeDropIncoming
	case incoming.Kind == KindDelete:
		return outcomeDropPrior
	}

	// Two updates on the same path: the later one in resolution order wins
	// outright, the earlier is dropped rather than merged.
	if prior.Kind == KindUpdate && incoming.Kind == KindUpdate {
		return outcomeDropPrior
	}
	return outcomeKeepBoth
}

// eliminatedByHistory reports whether an already-applied operation makes
// the incoming one moot: a Delete that covered its path, or a same-path
// Update that is later in canonical order than the incoming one.
func eliminatedByHistory(incoming *Operation, history []*Operation) bool {
	if len(incoming.Path) == 0 {
		return false
	}
	for _, applied := range history {
		if len(applied.Path) == 0 {
			continue
		}
		if applied.Path.Equal(incoming.Path) {
			if applied.Kind == KindDelete {
				return true
			}
			if applied.Kind == KindUpdate && incoming.Kind == KindUpdate && Less(incoming, applied) {
				return true
			}
			continue
		}
		if applied.Kind == KindDelete && applied.Path.IsStrictPrefixOf(incoming.Path) {
			return true
		}
	}
	return false
}
