package reconcile

// Diff computes the edit plan turning the current remote order into the
// desired order. IDs present in both and in unchanged relative order are
// left untouched; the rest become REMOVE, MOVE and ADD operations, in that
// order. Op positions are indices into the playlist as it stands when the
// op executes, so a plan is only valid applied front to back against the
// same current order it was computed from. A full rebuild would cost one
// mutation per track on every run; the longest-common-subsequence alignment
// bounds the cost to the actual delta.
func Diff(desired, current []string) Plan {
	desiredSet := make(map[string]bool, len(desired))
	for _, id := range desired {
		desiredSet[id] = true
	}
	currentSet := make(map[string]bool, len(current))
	for _, id := range current {
		currentSet[id] = true
	}

	var plan Plan

	// IDs the crate no longer wants, removed back to front so earlier
	// positions stay valid while the batch applies.
	for i := len(current) - 1; i >= 0; i-- {
		if !desiredSet[current[i]] {
			plan.Ops = append(plan.Ops, Op{Kind: OpRemove, RemoteID: current[i]})
		}
	}

	// Align the survivors. working simulates the playlist op by op, so
	// the recorded positions are the live indices at execution time.
	// Tracks on the common subsequence stay put; every other track is
	// placed directly after its predecessor in the desired order. Walking
	// desired front to back keeps each visited track in final relative
	// position before the next one is placed.
	working := filter(current, func(id string) bool { return desiredSet[id] })
	desiredKept := filter(desired, func(id string) bool { return currentSet[id] })
	anchored := lcs(desiredKept, working)

	for i, id := range desired {
		switch {
		case currentSet[id] && anchored[id]:
			continue
		case currentSet[id]:
			working = cut(working, indexOf(working, id))
			to := placement(working, desired, i)
			plan.Ops = append(plan.Ops, Op{Kind: OpMove, RemoteID: id, Position: to})
			working = splice(working, to, id)
		default:
			to := placement(working, desired, i)
			plan.Ops = append(plan.Ops, Op{Kind: OpAdd, RemoteID: id, Position: to})
			working = splice(working, to, id)
		}
	}

	return plan
}

// placement returns the index putting desired[i] directly after desired[i-1]
// in the working sequence. The walk order guarantees the predecessor is
// already placed.
func placement(working, desired []string, i int) int {
	if i == 0 {
		return 0
	}
	return indexOf(working, desired[i-1]) + 1
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

func cut(ids []string, i int) []string {
	return append(ids[:i], ids[i+1:]...)
}

func splice(ids []string, i int, id string) []string {
	return append(ids[:i], append([]string{id}, ids[i:]...)...)
}

func filter(ids []string, keep func(string) bool) []string {
	var out []string
	for _, id := range ids {
		if keep(id) {
			out = append(out, id)
		}
	}
	return out
}

// lcs returns the set of IDs on a longest common subsequence of a and b.
// Backtracking prefers the same direction on ties, keeping the result
// deterministic for identical inputs.
func lcs(a, b []string) map[string]bool {
	m, n := len(a), len(b)
	table := make([][]int, m+1)
	for i := range table {
		table[i] = make([]int, n+1)
	}
	for i := m - 1; i >= 0; i-- {
		for j := n - 1; j >= 0; j-- {
			if a[i] == b[j] {
				table[i][j] = table[i+1][j+1] + 1
			} else if table[i+1][j] >= table[i][j+1] {
				table[i][j] = table[i+1][j]
			} else {
				table[i][j] = table[i][j+1]
			}
		}
	}

	anchored := make(map[string]bool, table[0][0])
	for i, j := 0, 0; i < m && j < n; {
		switch {
		case a[i] == b[j]:
			anchored[a[i]] = true
			i++
			j++
		case table[i+1][j] >= table[i][j+1]:
			i++
		default:
			j++
		}
	}
	return anchored
}
