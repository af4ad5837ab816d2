package reconcile

import (
	"reflect"
	"testing"
)

func kinds(p Plan) []OpKind {
	out := make([]OpKind, len(p.Ops))
	for i, op := range p.Ops {
		out[i] = op.Kind
	}
	return out
}

func TestDiffIdenticalOrders(t *testing.T) {
	plan := Diff([]string{"a", "b", "c"}, []string{"a", "b", "c"})
	if !plan.Empty() {
		t.Errorf("Diff() on identical orders = %v, want empty plan", plan.Ops)
	}
}

func TestDiffEmptyBoth(t *testing.T) {
	if plan := Diff(nil, nil); !plan.Empty() {
		t.Errorf("Diff(nil, nil) = %v, want empty plan", plan.Ops)
	}
}

func TestDiffSingleSwapIsOneMove(t *testing.T) {
	plan := Diff([]string{"A", "B", "C"}, []string{"A", "C", "B"})

	adds, removes, moves := plan.Counts()
	if adds != 0 || removes != 0 || moves != 1 {
		t.Fatalf("Diff() = %d adds, %d removes, %d moves; want 0/0/1 (got ops %v)",
			adds, removes, moves, plan.Ops)
	}

	op := plan.Ops[0]
	if op.RemoteID != "B" && op.RemoteID != "C" {
		t.Errorf("MOVE targets %q, want B or C", op.RemoteID)
	}
}

func TestDiffAddsAtPosition(t *testing.T) {
	plan := Diff([]string{"x", "a", "b", "y"}, []string{"a", "b"})

	want := []Op{
		{Kind: OpAdd, RemoteID: "x", Position: 0},
		{Kind: OpAdd, RemoteID: "y", Position: 3},
	}
	if !reflect.DeepEqual(plan.Ops, want) {
		t.Errorf("Diff() ops = %v, want %v", plan.Ops, want)
	}
}

func TestDiffRemovesBackToFront(t *testing.T) {
	plan := Diff([]string{"b"}, []string{"a", "b", "c"})

	want := []Op{
		{Kind: OpRemove, RemoteID: "c"},
		{Kind: OpRemove, RemoteID: "a"},
	}
	if !reflect.DeepEqual(plan.Ops, want) {
		t.Errorf("Diff() ops = %v, want %v", plan.Ops, want)
	}
}

func TestDiffMixed(t *testing.T) {
	// Current playlist drifted: "z" was added remotely, "c" moved, "d" is new locally.
	plan := Diff(
		[]string{"a", "c", "b", "d"},
		[]string{"a", "b", "z", "c"},
	)

	adds, removes, moves := plan.Counts()
	if removes != 1 || adds != 1 || moves != 1 {
		t.Fatalf("Diff() = %d adds, %d removes, %d moves; want 1/1/1 (got ops %v)",
			adds, removes, moves, plan.Ops)
	}
	if got := kinds(plan); got[0] != OpRemove || got[len(got)-1] != OpAdd {
		t.Errorf("op order = %v, want removes first and adds last", got)
	}
}

func TestDiffRebuildUnrelated(t *testing.T) {
	plan := Diff([]string{"x", "y"}, []string{"a", "b"})
	adds, removes, moves := plan.Counts()
	if adds != 2 || removes != 2 || moves != 0 {
		t.Errorf("Diff() = %d adds, %d removes, %d moves; want 2/2/0", adds, removes, moves)
	}
}

func TestDiffDeterministic(t *testing.T) {
	desired := []string{"a", "e", "b", "c", "f", "d"}
	current := []string{"b", "a", "c", "d", "g", "e"}

	first := Diff(desired, current)
	for i := 0; i < 10; i++ {
		if again := Diff(desired, current); !reflect.DeepEqual(first, again) {
			t.Fatalf("Diff() differed between runs: %v vs %v", first.Ops, again.Ops)
		}
	}
}

// replay executes a plan with the index semantics the playlist service uses:
// removes and moves take the track's live index, inserts land at the
// recorded position.
func replay(t *testing.T, current []string, plan Plan) []string {
	t.Helper()
	working := append([]string(nil), current...)
	for _, op := range plan.Ops {
		if op.Kind != OpAdd {
			i := indexOf(working, op.RemoteID)
			if i < 0 {
				t.Fatalf("%v targets %q, which is not in %v", op.Kind, op.RemoteID, working)
			}
			working = cut(working, i)
		}
		if op.Kind == OpRemove {
			continue
		}
		if op.Position < 0 || op.Position > len(working) {
			t.Fatalf("%v of %q targets index %d in a playlist of %d", op.Kind, op.RemoteID, op.Position, len(working))
		}
		working = splice(working, op.Position, op.RemoteID)
	}
	return working
}

func permutations(ids []string) [][]string {
	if len(ids) <= 1 {
		return [][]string{append([]string(nil), ids...)}
	}
	var out [][]string
	for i := range ids {
		rest := make([]string, 0, len(ids)-1)
		rest = append(rest, ids[:i]...)
		rest = append(rest, ids[i+1:]...)
		for _, p := range permutations(rest) {
			out = append(out, append([]string{ids[i]}, p...))
		}
	}
	return out
}

func TestDiffReplayAddBeforeMovedTrack(t *testing.T) {
	// Plans mixing reorders with insertions ahead of the moved tracks are
	// the ones where recorded positions and live positions diverge.
	tests := []struct {
		desired []string
		current []string
	}{
		{desired: []string{"x", "b", "a"}, current: []string{"a", "b"}},
		{desired: []string{"n1", "n2", "n3", "a", "b"}, current: []string{"b", "a"}},
		{desired: []string{"a", "x", "b"}, current: []string{"b", "a"}},
	}
	for _, tt := range tests {
		plan := Diff(tt.desired, tt.current)
		if got := replay(t, tt.current, plan); !reflect.DeepEqual(got, tt.desired) {
			t.Errorf("replaying Diff(%v, %v) ops %v gave %v", tt.desired, tt.current, plan.Ops, got)
		}
	}
}

func TestDiffReplayYieldsDesired(t *testing.T) {
	desireds := [][]string{
		{"a", "b", "c", "d"},
		{"d", "a", "c"},
		{"x", "b", "a"},
		{"b", "y", "d", "z", "a"},
		{"c"},
	}
	for _, current := range permutations([]string{"a", "b", "c", "d"}) {
		for _, desired := range desireds {
			plan := Diff(desired, current)
			got := replay(t, current, plan)
			if !reflect.DeepEqual(got, desired) {
				t.Fatalf("replaying Diff(%v, %v) ops %v gave %v", desired, current, plan.Ops, got)
			}
			if again := Diff(desired, got); !again.Empty() {
				t.Errorf("plan against the already-aligned %v is not empty: %v", desired, again.Ops)
			}
		}
	}
}
