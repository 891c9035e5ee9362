package replay

import (
	"fmt"

	"github.com/okian/transferwire/internal/domain/model"
	"github.com/okian/transferwire/internal/domain/reliability"
)

// Check names.
const (
	CheckHashUnique     = "hash_unique"
	CheckSignalOnce     = "signal_once"
	CheckUpdateCount    = "update_count_monotonic"
	CheckStatus         = "status_forward"
	CheckScoreBounds    = "score_bounds"
	CheckChatter        = "chatter_excluded"
	CheckUnknownSignals = "signal_known"
)

// Violation is one failed invariant.
type Violation struct {
	Check  string `json:"check"`
	Detail string `json:"detail"`
}

// verifier carries the previous snapshot between cycles.
type verifier struct {
	updates    map[string]int
	status     map[string]model.Status
	violations []Violation
}

func newVerifier() *verifier {
	return &verifier{updates: make(map[string]int), status: make(map[string]model.Status)}
}

func (v *verifier) fail(check, format string, args ...any) {
	v.violations = append(v.violations, Violation{Check: check, Detail: fmt.Sprintf(format, args...)})
}

// observe checks one snapshot of every story and source score.
func (v *verifier) observe(cycle int, stories []model.Story, scores map[string]float64, g *generator) {
	hashes := make(map[string]string, len(stories))
	owners := make(map[string]string)

	for _, st := range stories {
		if !st.Status.Superseded() {
			if other, dup := hashes[st.CanonicalHash]; dup {
				v.fail(CheckHashUnique, "cycle %d: stories %s and %s share hash %s", cycle, other, st.ID, st.CanonicalHash)
			}
			hashes[st.CanonicalHash] = st.ID
		}

		for _, id := range st.SignalIDs {
			if other, dup := owners[id]; dup {
				v.fail(CheckSignalOnce, "cycle %d: signal %s in stories %s and %s", cycle, id, other, st.ID)
			}
			owners[id] = st.ID
			switch i, ok := g.origin[id]; {
			case !ok:
				v.fail(CheckUnknownSignals, "cycle %d: story %s holds unknown signal %s", cycle, st.ID, id)
			case i < 0:
				v.fail(CheckChatter, "cycle %d: chatter %s merged into story %s", cycle, id, st.ID)
			}
		}

		if prev, ok := v.updates[st.ID]; ok && st.UpdateCount < prev {
			v.fail(CheckUpdateCount, "cycle %d: story %s update count fell from %d to %d", cycle, st.ID, prev, st.UpdateCount)
		}
		v.updates[st.ID] = st.UpdateCount

		if prev, ok := v.status[st.ID]; ok && prev != st.Status && !prev.CanTransition(st.Status) {
			v.fail(CheckStatus, "cycle %d: story %s moved from %s to %s", cycle, st.ID, prev, st.Status)
		}
		v.status[st.ID] = st.Status
	}

	for id, s := range scores {
		if s < 0 || s > reliability.MaxScore {
			v.fail(CheckScoreBounds, "cycle %d: source %s score %.4f outside [0,%.2f]", cycle, id, s, reliability.MaxScore)
		}
	}
}
