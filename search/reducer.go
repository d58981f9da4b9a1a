package search

import (
	"sort"

	"github.com/petar/GoLLRB/llrb"

	"github.com/ken-matsui/morello/cost"
	"github.com/ken-matsui/morello/spec"
)

// ImplReducer is a bounded top-k set keyed by Cost, with tie-breaking by a
// caller-supplied preference list of action indices. It is roughly
// 5% of the engine's logic but sits underneath every SpecTask.
//
// For the common top_k == 1 path this is a single held candidate, updated
// in O(1). For top_k > 1 (reserved for future work) it is backed by a
// GoLLRB red-black tree ordered by (Cost, ActionIdx).
type ImplReducer struct {
	topK        int
	preferences []spec.ActionIdx

	// single-candidate fast path, used whenever topK == 1.
	one    *candidate
	hasOne bool

	// tree is non-nil only when topK > 1.
	tree *llrb.LLRB
	size int
}

type candidate struct {
	cost      cost.Cost
	actionIdx spec.ActionIdx
}

// Less implements llrb.Item: ordered by (Cost, ActionIdx), matching
// Finalize ordering contract.
func (c *candidate) Less(than llrb.Item) bool {
	o, ok := than.(*candidate)
	if !ok {
		// llrb passes its internal negative-infinity sentinel as `than`
		// when traversing via AscendGreaterOrEqual(llrb.Inf(-1), ...);
		// no real candidate is less than it.
		return false
	}
	switch c.cost.Compare(o.cost) {
	case -1:
		return true
	case 1:
		return false
	default:
		return c.actionIdx < o.actionIdx
	}
}

// NewImplReducer constructs a reducer bounded to topK candidates. A
// database Miss may supply preferences to seed tie-breaking;
// len(preferences) need not equal topK and preferences must not repeat an
// ActionIdx twice (a contract the caller, not this type, is responsible
// for).
func NewImplReducer(topK int, preferences []spec.ActionIdx) *ImplReducer {
	r := &ImplReducer{topK: topK, preferences: preferences}
	if topK > 1 {
		r.tree = llrb.New()
	}
	return r
}

// Insert offers (actionIdx, cost) to the reducer: insert outright while
// under topK; on a tie at topK capacity, replace only if the preference
// list says so; otherwise replace the worst held candidate if the new one
// is strictly better. With topK <= 1 a tie is settled by insertOne
// instead: the smaller actionIdx is kept and preferences are not read.
func (r *ImplReducer) Insert(actionIdx spec.ActionIdx, c cost.Cost) {
	if r.topK <= 1 {
		r.insertOne(actionIdx, c)
		return
	}
	r.insertMany(actionIdx, c)
}

// insertOne is the topK<=1 shape of the same contract insertMany
// implements for larger top-k, but it does not consult preferences: with
// only one slot held it keeps the lexicographic minimum of
// (cost, actionIdx) outright, so the winning ActionIdx never depends on
// insertion order.
func (r *ImplReducer) insertOne(actionIdx spec.ActionIdx, c cost.Cost) {
	if !r.hasOne {
		r.one = &candidate{cost: c, actionIdx: actionIdx}
		r.hasOne = true
		return
	}

	switch r.one.cost.Compare(c) {
	case 0:
		if actionIdx < r.one.actionIdx {
			r.one = &candidate{cost: c, actionIdx: actionIdx}
		}
	default:
		if c.Less(r.one.cost) {
			r.one = &candidate{cost: c, actionIdx: actionIdx}
		}
	}
}

func (r *ImplReducer) insertMany(actionIdx spec.ActionIdx, c cost.Cost) {
	cand := &candidate{cost: c, actionIdx: actionIdx}

	if r.size < r.topK {
		r.tree.ReplaceOrInsert(cand)
		r.size++
		return
	}

	// Walk the held set in ascending cost order, looking for a
	// same-cost element at a preference-governed position.
	var held []*candidate
	r.tree.AscendGreaterOrEqual(llrb.Inf(-1), func(i llrb.Item) bool {
		held = append(held, i.(*candidate))
		return true
	})

	sameCostFound := false
	for i, h := range held {
		if h.cost.Compare(c) != 0 {
			continue
		}
		sameCostFound = true
		if i >= len(r.preferences) {
			continue
		}
		if r.preferences[i] == actionIdx {
			r.tree.Delete(h)
			r.tree.ReplaceOrInsert(cand)
			return
		}
	}
	if sameCostFound {
		// Tied at a non-preferred position: leave the set unchanged.
		return
	}

	// Otherwise: strictly better than the worst held candidate?
	worst := held[len(held)-1]
	if c.Less(worst.cost) {
		r.tree.Delete(worst)
		r.tree.ReplaceOrInsert(cand)
	}
}

// Finalize returns the held pairs in ascending cost order, with equal-cost
// ties broken by ascending action index. The reducer must not be
// used after Finalize.
func (r *ImplReducer) Finalize() cost.ActionCostVec {
	if r.topK <= 1 {
		if !r.hasOne {
			return cost.ActionCostVec{}
		}
		return cost.ActionCostVec{{ActionIdx: r.one.actionIdx, Cost: r.one.cost}}
	}

	var held []*candidate
	r.tree.AscendGreaterOrEqual(llrb.Inf(-1), func(i llrb.Item) bool {
		held = append(held, i.(*candidate))
		return true
	})
	sort.Slice(held, func(i, j int) bool { return held[i].Less(held[j]) })

	out := make(cost.ActionCostVec, len(held))
	for i, h := range held {
		out[i] = cost.ActionIdxCost{ActionIdx: h.actionIdx, Cost: h.cost}
	}
	return out
}
