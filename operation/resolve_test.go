package operation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func mkOp(id string, kind Kind, userID string, ts time.Time, path ...string) *Operation {
	return &Operation{
		ID:          id,
		Kind:        kind,
		DashboardID: "d1",
		UserID:      userID,
		Timestamp:   ts,
		Path:        Path(path),
		Payload:     id + "-payload",
	}
}

func resolvedIDs(ops []*Operation) []string {
	ids := make([]string, 0, len(ops))
	for _, op := range ops {
		ids = append(ids, op.ID)
	}
	return ids
}

func TestSortCanonical(t *testing.T) {
	a := mkOp("a", KindUpdate, "zoe", base, "title")
	b := mkOp("b", KindUpdate, "amy", base, "title")
	c := mkOp("c", KindUpdate, "amy", base.Add(-time.Second), "title")

	ops := []*Operation{a, b, c}
	SortCanonical(ops)

	// Timestamp first, then userId breaks the tie.
	assert.Equal(t, []string{"c", "b", "a"}, resolvedIDs(ops))
}

func TestResolveSamePathUpdateLastWriterWins(t *testing.T) {
	early := mkOp("early", KindUpdate, "u1", base, "title")
	late := mkOp("late", KindUpdate, "u2", base.Add(time.Second), "title")

	resolved := Resolve([]*Operation{late, early}, nil)

	require.Len(t, resolved, 1)
	assert.Equal(t, "late", resolved[0].ID)
}

func TestResolveDeleteWinsOverUpdate(t *testing.T) {
	tests := []struct {
		name      string
		deleteAt  time.Time
		updateAt  time.Time
	}{
		{"delete earlier", base, base.Add(time.Second)},
		{"delete later", base.Add(time.Second), base},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			del := mkOp("del", KindDelete, "u1", tt.deleteAt, "widgets", "0")
			upd := mkOp("upd", KindUpdate, "u2", tt.updateAt, "widgets", "0")

			resolved := Resolve([]*Operation{upd, del}, nil)

			require.Len(t, resolved, 1)
			assert.Equal(t, "del", resolved[0].ID)
		})
	}
}

func TestResolveParentDeleteDropsChild(t *testing.T) {
	tests := []struct {
		name     string
		deleteAt time.Time
		childAt  time.Time
	}{
		{"delete resolves first", base, base.Add(time.Second)},
		{"child resolves first", base.Add(time.Second), base},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			del := mkOp("del", KindDelete, "u1", tt.deleteAt, "widgets", "0")
			child := mkOp("child", KindUpdate, "u2", tt.childAt, "widgets", "0", "title")

			resolved := Resolve([]*Operation{del, child}, nil)

			require.Len(t, resolved, 1)
			assert.Equal(t, "del", resolved[0].ID)
		})
	}
}

func TestResolveDisjointPathsBothStand(t *testing.T) {
	a := mkOp("a", KindUpdate, "u1", base, "title")
	b := mkOp("b", KindUpdate, "u2", base.Add(time.Second), "widgets", "0")

	resolved := Resolve([]*Operation{b, a}, nil)

	assert.ElementsMatch(t, []string{"a", "b"}, resolvedIDs(resolved))
}

func TestResolveParentUpdateKeepsChild(t *testing.T) {
	parent := mkOp("parent", KindUpdate, "u1", base, "widgets", "0")
	child := mkOp("child", KindUpdate, "u2", base.Add(time.Second), "widgets", "0", "title")

	resolved := Resolve([]*Operation{child, parent}, nil)

	assert.ElementsMatch(t, []string{"parent", "child"}, resolvedIDs(resolved))
}

func TestResolveMoveNeverConflictsStructurally(t *testing.T) {
	move := &Operation{
		ID: "move", Kind: KindMove, UserID: "u1", Timestamp: base,
		Payload: MovePayload{SourcePath: Path{"widgets", "0"}, TargetPath: Path{"widgets", "1"}},
	}
	del := mkOp("del", KindDelete, "u2", base.Add(time.Second), "widgets", "0")

	resolved := Resolve([]*Operation{move, del}, nil)

	assert.ElementsMatch(t, []string{"move", "del"}, resolvedIDs(resolved))
}

func TestResolveDeterministicAcrossArrivalOrders(t *testing.T) {
	ops := []*Operation{
		mkOp("a", KindUpdate, "u1", base, "title"),
		mkOp("b", KindUpdate, "u2", base.Add(time.Second), "title"),
		mkOp("c", KindDelete, "u3", base.Add(2*time.Second), "widgets", "0"),
		mkOp("d", KindUpdate, "u4", base.Add(3*time.Second), "widgets", "0", "title"),
		mkOp("e", KindStyle, "u5", base.Add(4*time.Second), "widgets", "1"),
	}

	permutations := [][]int{
		{0, 1, 2, 3, 4},
		{4, 3, 2, 1, 0},
		{2, 0, 4, 1, 3},
		{1, 4, 0, 3, 2},
	}

	var want []string
	for i, perm := range permutations {
		batch := make([]*Operation, 0, len(ops))
		for _, idx := range perm {
			batch = append(batch, ops[idx])
		}
		got := resolvedIDs(Resolve(batch, nil))
		if i == 0 {
			want = got
			continue
		}
		assert.Equal(t, want, got, "permutation %v diverged", perm)
	}
}

func TestResolveAgainstHistory(t *testing.T) {
	applied := mkOp("applied", KindUpdate, "u2", base.Add(time.Second), "title")
	applied.Version = 1
	history := []*Operation{applied}

	t.Run("stale same-path update is eliminated", func(t *testing.T) {
		stale := mkOp("stale", KindUpdate, "u1", base, "title")
		assert.Empty(t, Resolve([]*Operation{stale}, history))
	})

	t.Run("newer same-path update survives", func(t *testing.T) {
		newer := mkOp("newer", KindUpdate, "u1", base.Add(2*time.Second), "title")
		resolved := Resolve([]*Operation{newer}, history)
		require.Len(t, resolved, 1)
		assert.Equal(t, "newer", resolved[0].ID)
	})

	t.Run("applied delete tombstones descendants", func(t *testing.T) {
		del := mkOp("del", KindDelete, "u2", base, "widgets", "0")
		child := mkOp("child", KindUpdate, "u1", base.Add(time.Minute), "widgets", "0", "title")
		assert.Empty(t, Resolve([]*Operation{child}, []*Operation{del}))
	})
}

func TestResolveDroppedOperationStopsTransforming(t *testing.T) {
	// upd loses to the delete at the same path; it must not then knock out
	// the later update it would otherwise supersede nothing against.
	del := mkOp("del", KindDelete, "u1", base, "title")
	upd := mkOp("upd", KindUpdate, "u2", base.Add(time.Second), "title")
	other := mkOp("other", KindUpdate, "u3", base.Add(2*time.Second), "subtitle")

	resolved := Resolve([]*Operation{other, upd, del}, nil)

	assert.ElementsMatch(t, []string{"del", "other"}, resolvedIDs(resolved))
}
