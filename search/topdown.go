package search

import (
	"context"
	"runtime"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ken-matsui/morello/cost"
	"github.com/ken-matsui/morello/db"
	"github.com/ken-matsui/morello/spec"
)

// ErrTopKUnsupported is returned by TopDown/TopDownMany when top_k > 1.
// Multi-result synthesis is reserved future work: the reducer
// beneath it is fully general, but only top_k == 1 is exercised in
// production, so the top-level entry point gates it here rather than
// deeper in the engine.
var ErrTopKUnsupported = errors.New("top_down: top_k > 1 is not yet implemented")

// TopDownSearch is the per-worker context threaded through one
// BlockSearch/SpecTask tree: the database, the requested top_k, this
// worker's rotation parameters, and its own hit/miss counters.
type TopDownSearch struct {
	db          db.Database
	topK        int
	threadIdx   int
	threadCount int
	tilingDepth *uint32

	hits   uint64
	misses uint64
}

// TopDown computes an optimal implementation of goal and stores it (and
// every sub-Spec solved along the way) in database. jobs <= 0 means use
// all available cores.
func TopDown(ctx context.Context, database db.Database, goal spec.Spec, topK int, jobs int) (cost.ActionCostVec, uint64, uint64, error) {
	results, hits, misses, err := TopDownMany(ctx, database, []spec.Spec{goal}, topK, jobs)
	if err != nil {
		return nil, hits, misses, err
	}
	return results[0], hits, misses, nil
}

// TopDownMany computes optimal implementations for every goal, grouping
// them by database page and dispatching one BlockSearch per group. goals
// need not be unique or pre-grouped by page; this function performs both
// canonicalization and grouping.
func TopDownMany(ctx context.Context, database db.Database, goals []spec.Spec, topK int, jobs int) ([]cost.ActionCostVec, uint64, uint64, error) {
	if topK > 1 {
		return nil, 0, 0, ErrTopKUnsupported
	}
	if maxK, bounded := database.MaxK(); bounded && topK > maxK {
		panic(errors.Errorf("requested top_k=%d exceeds database capacity %d", topK, maxK))
	}

	var tilingDepth *uint32
	if td, bounded := database.TilingDepth(); bounded {
		tilingDepth = &td
	}

	canonicalGoals := make([]spec.Spec, len(goals))
	for i, g := range goals {
		cg := g
		if err := cg.Canonicalize(); err != nil {
			panic(errors.Annotatef(err, "goal Spec %s should be possible to canonicalize", g))
		}
		canonicalGoals[i] = cg
	}

	// Group goal Specs by database page, comparing pages with Equal. A
	// repeated goal is synthesized once and its result copied to every
	// position it appears at.
	var groupPages []db.PageId
	var groups [][]int
	firstIdx := make(map[string]int)
	dupOf := make(map[int]int)
	for i, g := range canonicalGoals {
		if j, ok := firstIdx[g.Key()]; ok {
			dupOf[i] = j
			continue
		}
		firstIdx[g.Key()] = i
		page := database.PageID(g)
		gi := 0
		for gi < len(groupPages) && !groupPages[gi].Equal(page) {
			gi++
		}
		if gi == len(groupPages) {
			groupPages = append(groupPages, page)
			groups = append(groups, nil)
		}
		groups[gi] = append(groups[gi], i)
	}

	threadCount := jobs
	if threadCount <= 0 {
		threadCount = runtime.NumCPU()
	}

	combined := make([]cost.ActionCostVec, len(canonicalGoals))
	var combinedHits, combinedMisses uint64

	for _, indices := range groups {
		goalGroup := make([]spec.Spec, len(indices))
		for i, idx := range indices {
			goalGroup[i] = canonicalGoals[idx]
		}

		result, hits, misses, err := synthesizeGroup(ctx, database, goalGroup, topK, tilingDepth, threadCount)
		if err != nil {
			return nil, combinedHits, combinedMisses, err
		}
		for i, idx := range indices {
			combined[idx] = result[i]
		}
		combinedHits += hits
		combinedMisses += misses
	}
	for i, j := range dupOf {
		combined[i] = combined[j]
	}

	return combined, combinedHits, combinedMisses, nil
}

// synthesizeGroup runs one page-group's worth of goals through BlockSearch,
// either directly (threadCount == 1) or data-parallel across threadCount
// workers that differ only in their action-enumeration rotation. The
// final result is taken from a single fixed worker for determinism; the
// rest exist only to warm the shared database.
func synthesizeGroup(ctx context.Context, database db.Database, goalGroup []spec.Spec, topK int, tilingDepth *uint32, threadCount int) ([]cost.ActionCostVec, uint64, uint64, error) {
	if threadCount <= 1 {
		s := &TopDownSearch{db: database, topK: topK, threadIdx: 0, threadCount: 1, tilingDepth: tilingDepth}
		result := Synthesize(ctx, goalGroup, s, nil)
		return result, s.hits, s.misses, nil
	}

	resultsByWorker := make([][]cost.ActionCostVec, threadCount)
	hitsByWorker := make([]uint64, threadCount)
	missesByWorker := make([]uint64, threadCount)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < threadCount; i++ {
		i := i
		g.Go(func() error {
			s := &TopDownSearch{db: database, topK: topK, threadIdx: i, threadCount: threadCount, tilingDepth: tilingDepth}
			resultsByWorker[i] = Synthesize(gctx, goalGroup, s, nil)
			hitsByWorker[i] = s.hits
			missesByWorker[i] = s.misses
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, 0, errors.Trace(err)
	}

	log.Debug("synthesized page group with parallel workers",
		zap.Int("goals", len(goalGroup)), zap.Int("threads", threadCount))

	// Keep the last worker's result (and its hits/misses): an arbitrary
	// but fixed choice that makes the overall call deterministic
	// regardless of scheduling, since every worker computes the same
	// answer and only differs in which sub-Specs it happened to warm
	// first.
	last := threadCount - 1
	return resultsByWorker[last], hitsByWorker[last], missesByWorker[last], nil
}
