package reconcile

import "fmt"

// OpKind identifies one playlist mutation.
type OpKind int

const (
	OpAdd OpKind = iota
	OpRemove
	OpMove
)

func (k OpKind) String() string {
	switch k {
	case OpAdd:
		return "ADD"
	case OpRemove:
		return "REMOVE"
	case OpMove:
		return "MOVE"
	default:
		return fmt.Sprintf("OpKind(%d)", int(k))
	}
}

// Op is a single edit. Position is the insertion index in the playlist as it
// stands when the op executes (for MOVE, after the track's removal) and is
// meaningful for ADD and MOVE only.
type Op struct {
	Kind     OpKind
	RemoteID string
	Position int
}

// Plan is the ordered edit list aligning a remote playlist with a crate.
// It is ephemeral: consumed by the playlist-mutation collaborator and
// discarded.
type Plan struct {
	Ops []Op
}

// Empty reports whether the playlist already matches the crate.
func (p Plan) Empty() bool { return len(p.Ops) == 0 }

// Counts tallies the plan per operation kind.
func (p Plan) Counts() (adds, removes, moves int) {
	for _, op := range p.Ops {
		switch op.Kind {
		case OpAdd:
			adds++
		case OpRemove:
			removes++
		case OpMove:
			moves++
		}
	}
	return adds, removes, moves
}
