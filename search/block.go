// Package search implements the top-down synthesis engine: the
// ImplReducer (reducer.go), the per-Spec SpecTask coroutine (spectask.go),
// the per-page BlockSearch frame (this file), and the top-level driver
// (topdown.go). This is the hard engineering core the rest of morello's
// design (database, Spec algebra, cost model) exists to serve.
package search

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/ken-matsui/morello/cost"
	"github.com/ken-matsui/morello/spec"
)

// reqHandle is one (requesting Spec, RequestId) pair waiting on a
// requested sub-Spec.
type reqHandle struct {
	spec spec.Spec
	id   RequestId
}

// pendingSet maps a requested sub-Spec's key to every waiter on it. It
// remembers first-request order so that sub-block goal lists (and with
// them prefetch order) are deterministic.
type pendingSet struct {
	order  []string
	bySpec map[string]spec.Spec
	byKey  map[string][]reqHandle
}

func newPendingSet() *pendingSet {
	return &pendingSet{bySpec: make(map[string]spec.Spec), byKey: make(map[string][]reqHandle)}
}

func (p *pendingSet) add(subspec spec.Spec, h reqHandle) {
	key := subspec.Key()
	if _, ok := p.bySpec[key]; !ok {
		p.order = append(p.order, key)
		p.bySpec[key] = subspec
	}
	p.byKey[key] = append(p.byKey[key], h)
}

// take removes and returns the waiters on subspec, or ok=false if there are
// none (the Spec was never requested, or was already resolved).
func (p *pendingSet) take(subspec spec.Spec) ([]reqHandle, bool) {
	key := subspec.Key()
	hs, ok := p.byKey[key]
	if !ok {
		return nil, false
	}
	delete(p.byKey, key)
	delete(p.bySpec, key)
	return hs, true
}

func (p *pendingSet) empty() bool { return len(p.byKey) == 0 }

func (p *pendingSet) keys() []spec.Spec {
	out := make([]spec.Spec, 0, len(p.bySpec))
	for _, k := range p.order {
		if s, ok := p.bySpec[k]; ok {
			out = append(out, s)
		}
	}
	return out
}

// outboxEntry is a deferred completion: a Spec that completed while the
// engine could not safely re-enter its own notification path.
type outboxEntry struct {
	spec   spec.Spec
	result cost.ActionCostVec
}

// wsEntry is one working-set member: a Spec and the coroutine computing
// it.
type wsEntry struct {
	spec spec.Spec
	task *SpecTask
}

// BlockSearch is one stack frame per database page: it owns a
// working set of SpecTasks whose Specs share that page, routes intra-page
// requests locally, buckets cross-page requests into ordered sub-blocks,
// and recurses into each.
type BlockSearch struct {
	ctx    context.Context
	search *TopDownSearch

	workingSet    map[string]*wsEntry
	wsOrder       []string
	runningCount  int
	intraRequests *pendingSet
	subBlocks     []*pendingSet
}

// Synthesize computes an ActionCostVec for each of goals (which must be
// unique and all lie on one page) and returns them in the same order.
// prefetchAfter, if non-nil, is the caller's hint for "what will follow
// this block"; it is prefetched just before the recursion into the last
// sub-block of a wave.
func Synthesize(ctx context.Context, goals []spec.Spec, search *TopDownSearch, prefetchAfter *spec.Spec) []cost.ActionCostVec {
	span, ctx := opentracing.StartSpanFromContext(ctx, "BlockSearch.Synthesize")
	defer span.Finish()

	block := &BlockSearch{
		ctx:           ctx,
		search:        search,
		workingSet:    make(map[string]*wsEntry, len(goals)),
		intraRequests: newPendingSet(),
	}

	visited := make(map[string]bool)
	var outbox []outboxEntry
	for _, g := range goals {
		block.visitSpec(g, visited, &outbox)
	}

	for {
		// (a) Drain the outbox of deferred completions.
		for _, e := range outbox {
			block.resolveIntra(e.spec, e.result)
		}
		outbox = outbox[:0]

		// (b) Recurse into every accumulated sub-block, in order.
		subBlocks := block.subBlocks
		block.subBlocks = nil
		for i, sb := range subBlocks {
			// Warm whatever comes after this recursion: the next
			// sub-block's page, or — on the last sub-block — the caller's
			// own hint for what follows this whole block.
			var next *spec.Spec
			if i+1 < len(subBlocks) {
				if keys := subBlocks[i+1].keys(); len(keys) > 0 {
					next = &keys[0]
				}
			} else {
				next = prefetchAfter
			}
			if next != nil {
				search.db.Prefetch(*next)
			}

			subGoals := sb.keys()
			subResults := Synthesize(ctx, subGoals, search, next)
			for j, sg := range subGoals {
				block.resolveExternal(sb, sg, subResults[j])
			}
		}

		if block.runningCount == 0 {
			break
		}

		// (c) Re-sweep every still-Running task, in working-set insertion
		// order, so batch interleaving (and with it sub-block creation
		// order) is deterministic: emit each task's next batch.
		var sweep []*wsEntry
		for _, key := range block.wsOrder {
			if e, ok := block.workingSet[key]; ok && e.task.IsRunning() {
				sweep = append(sweep, e)
			}
		}
		visited = make(map[string]bool)
		for _, e := range sweep {
			// A task already visited as some earlier task's sub-Spec had
			// its batch for this wave emitted there; one batch per wave.
			if visited[e.spec.Key()] {
				continue
			}
			visited[e.spec.Key()] = true
			block.visitNextRequestBatch(e.spec, e.task, visited, &outbox)
		}
	}

	if !block.intraRequests.empty() {
		panic(errors.Errorf("working_block_requests is not empty at block exit"))
	}
	if len(block.subBlocks) != 0 {
		panic(errors.New("subblock_requests is not empty at block exit"))
	}

	// Seal: gather goal results, removing them from the working set.
	results := make([]cost.ActionCostVec, len(goals))
	for i, g := range goals {
		e, ok := block.workingSet[g.Key()]
		if !ok {
			panic(errors.Errorf("goal %s missing from working set at seal", g))
		}
		delete(block.workingSet, g.Key())
		result, fromDB := e.task.Result()
		if !fromDB {
			if err := search.db.Put(ctx, g, result); err != nil {
				panic(errors.Annotatef(err, "database put failed for %s", g))
			}
		}
		results[i] = result
	}

	// Anything left in the working set is not a goal, but must still be
	// flushed to the database.
	for _, key := range block.wsOrder {
		e, ok := block.workingSet[key]
		if !ok {
			continue
		}
		result, fromDB := e.task.Result()
		if !fromDB {
			if err := search.db.Put(ctx, e.spec, result); err != nil {
				panic(errors.Annotatef(err, "database put failed for %s", e.spec))
			}
		}
	}

	return results
}

// visitSpec returns the working-set handle for spec, creating it (via the
// database or SpecTask.Start) if absent, and — on first visit this sweep —
// kicks off its first request batch.
func (b *BlockSearch) visitSpec(s spec.Spec, visited map[string]bool, outbox *[]outboxEntry) *wsEntry {
	e := b.getOrCreateTask(s)
	if !visited[s.Key()] {
		visited[s.Key()] = true
		b.visitNextRequestBatch(s, e.task, visited, outbox)
	}
	return e
}

func (b *BlockSearch) getOrCreateTask(s spec.Spec) *wsEntry {
	if e, ok := b.workingSet[s.Key()]; ok {
		return e
	}

	lookup, err := b.search.db.GetWithPreference(b.ctx, s)
	if err != nil {
		panic(errors.Annotatef(err, "database get failed for %s", s))
	}

	var task *SpecTask
	if lookup.Hit {
		b.search.hits++
		task = CompleteFromDB(lookup.Result)
	} else {
		b.search.misses++
		task = StartSpecTask(s, lookup.Preferences, b.search.topK, b.search.tilingDepth, b.search.threadIdx, b.search.threadCount)
		if task.IsRunning() {
			b.runningCount++
		}
	}

	e := &wsEntry{spec: s, task: task}
	b.workingSet[s.Key()] = e
	b.wsOrder = append(b.wsOrder, s.Key())
	return e
}

// visitNextRequestBatch drains one batch from task and routes each
// requested sub-Spec either intra-block (recursing via visitSpec) or into
// a cross-block sub-block bucket.
func (b *BlockSearch) visitNextRequestBatch(s spec.Spec, task *SpecTask, visited map[string]bool, outbox *[]outboxEntry) {
	if !task.IsRunning() {
		return
	}
	page := b.search.db.PageID(s)

	batch, ok := task.NextRequestBatch()
	if !ok {
		return
	}
	for _, req := range batch {
		if page.Contains(req.subSpec) {
			sub := b.visitSpec(req.subSpec, visited, outbox)
			if sub.task.IsRunning() {
				b.intraRequests.add(req.subSpec, reqHandle{spec: s, id: req.id})
				continue
			}
			result, _ := sub.task.Result()
			c, satisfiable := result.BestCost()
			var costOpt *cost.Cost
			if satisfiable {
				costOpt = &c
			}
			task.ResolveRequest(req.id, costOpt)
			if !task.IsRunning() {
				b.runningCount--
				completed, _ := task.Result()
				*outbox = append(*outbox, outboxEntry{spec: s, result: completed})
			}
		} else {
			b.addExternalRequest(s, req.subSpec, reqHandle{spec: s, id: req.id})
		}
	}
}

// addExternalRequest appends a cross-page request into the sub-block
// bucket for req.subSpec's page, creating one if none of the current
// buckets match. The first new bucket in a block triggers a
// prefetch of the requesting Spec, so that by the time this block returns
// to recurse into its buckets, the requester's own page is warm again.
func (b *BlockSearch) addExternalRequest(requester, subspec spec.Spec, h reqHandle) {
	subPage := b.search.db.PageID(subspec)
	for _, bucket := range b.subBlocks {
		// All entries in one bucket share a PageId; the first
		// representative suffices to test membership.
		if reps := bucket.keys(); len(reps) > 0 && subPage.Contains(reps[0]) {
			bucket.add(subspec, h)
			return
		}
	}
	if len(b.subBlocks) == 0 {
		b.search.db.Prefetch(requester)
	}
	fresh := newPendingSet()
	fresh.add(subspec, h)
	b.subBlocks = append(b.subBlocks, fresh)
}

// resolveIntra resolves a completed subspec against the block's own
// routing table.
func (b *BlockSearch) resolveIntra(subspec spec.Spec, results cost.ActionCostVec) {
	b.innerResolve(b.intraRequests, nil, subspec, results)
}

// resolveExternal resolves a completed subspec returned by a recursive
// sub-block call. The sub-block's own routing map is the primary source;
// cascaded completions (a waiter that itself completes) fall through to
// the current block's intra-block routing table, exactly as cross-block
// results do once they arrive.
func (b *BlockSearch) resolveExternal(subBlock *pendingSet, subspec spec.Spec, results cost.ActionCostVec) {
	b.innerResolve(subBlock, b.intraRequests, subspec, results)
}

// innerResolve implements inner_resolve_request: notify every
// waiter on subspec; if doing so completes a waiter's own task, recurse
// using nextSubblock (or source itself, if nextSubblock is nil) as the
// routing table for *that* completion's waiters — since completing a Spec
// may cascade into completing its own waiters.
func (b *BlockSearch) innerResolve(source *pendingSet, nextSubblock *pendingSet, subspec spec.Spec, results cost.ActionCostVec) {
	waiters, ok := source.take(subspec)
	if !ok {
		return
	}

	resolvedNext := nextSubblock
	if resolvedNext == nil {
		resolvedNext = source
	}

	c, satisfiable := results.BestCost()
	var costOpt *cost.Cost
	if satisfiable {
		costOpt = &c
	}

	for _, w := range waiters {
		e, ok := b.workingSet[w.spec.Key()]
		if !ok {
			continue
		}
		if !e.task.IsRunning() {
			continue
		}
		e.task.ResolveRequest(w.id, costOpt)
		if !e.task.IsRunning() {
			b.runningCount--
			completedResults, _ := e.task.Result()
			log.Debug("spec task completed", zap.String("spec", w.spec.Key()))
			b.innerResolve(resolvedNext, nil, w.spec, completedResults)
		}
	}
}
