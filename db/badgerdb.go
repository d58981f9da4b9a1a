package db

import (
	"context"
	"encoding/json"

	badger "github.com/Connor1996/badger"
	"github.com/opentracing/opentracing-go"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/ken-matsui/morello/cost"
	"github.com/ken-matsui/morello/spec"
)

// BadgerDatabase is the production Database: a persistent, paging
// key/value store backed by Connor1996/badger, an embedded LSM-tree
// store. Keys are encoded as <pageId-prefix>/<specKey> so that a page's
// members are contiguous in badger's sorted key space; Prefetch exploits
// this by issuing a prefix iteration in a background goroutine to warm
// badger's block cache ahead of a sub-block recursion.
type BadgerDatabase struct {
	bdb         *badger.DB
	maxK        int
	tilingDepth uint32
	boundedK    bool
	boundedTD   bool
}

// wireRecord is the on-disk encoding of one committed ActionCostVec.
// The record is persistence-internal; nothing outside this file reads or
// writes it.
type wireRecord struct {
	Entries []wireEntry `json:"entries"`
}

type wireEntry struct {
	ActionIdx spec.ActionIdx `json:"action_idx"`
	Main      uint64         `json:"main"`
	Peaks     []uint64       `json:"peaks"`
	Depth     uint32         `json:"depth"`
}

func encodeResult(result cost.ActionCostVec) ([]byte, error) {
	rec := wireRecord{Entries: make([]wireEntry, len(result))}
	for i, e := range result {
		rec.Entries[i] = wireEntry{
			ActionIdx: e.ActionIdx,
			Main:      e.Cost.Main,
			Peaks:     []uint64(e.Cost.Peaks),
			Depth:     e.Cost.Depth,
		}
	}
	return json.Marshal(rec)
}

func decodeResult(data []byte) (cost.ActionCostVec, error) {
	var rec wireRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errors.Trace(err)
	}
	out := make(cost.ActionCostVec, len(rec.Entries))
	for i, e := range rec.Entries {
		out[i] = cost.ActionIdxCost{
			ActionIdx: e.ActionIdx,
			Cost:      cost.Cost{Main: e.Main, Peaks: e.Peaks, Depth: e.Depth},
		}
	}
	return out, nil
}

// OpenBadgerDatabase opens (creating if absent) a badger store at dir.
// maxK <= 0 and tilingDepth == nil mean unbounded, matching MemDatabase.
func OpenBadgerDatabase(dir string, maxK int, tilingDepth *uint32) (*BadgerDatabase, error) {
	opts := badger.DefaultOptions
	opts.Dir, opts.ValueDir = dir, dir
	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Annotatef(err, "opening badger database at %s", dir)
	}
	d := &BadgerDatabase{bdb: bdb}
	if maxK > 0 {
		d.maxK, d.boundedK = maxK, true
	}
	if tilingDepth != nil {
		d.tilingDepth, d.boundedTD = *tilingDepth, true
	}
	return d, nil
}

// Close flushes and releases the underlying badger store.
func (d *BadgerDatabase) Close() error {
	return errors.Trace(d.bdb.Close())
}

func (d *BadgerDatabase) MaxK() (int, bool)         { return d.maxK, d.boundedK }
func (d *BadgerDatabase) TilingDepth() (uint32, bool) { return d.tilingDepth, d.boundedTD }

func (d *BadgerDatabase) PageID(s spec.Spec) PageId {
	return pageFor(s)
}

func badgerKey(s spec.Spec) []byte {
	page := pageFor(s)
	return append(page.Prefix(), []byte(s.Key())...)
}

func (d *BadgerDatabase) GetWithPreference(ctx context.Context, s spec.Spec) (Lookup, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "BadgerDatabase.GetWithPreference")
	defer span.Finish()

	var result cost.ActionCostVec
	hit := false
	err := d.bdb.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(s))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		result, err = decodeResult(val)
		if err != nil {
			return err
		}
		hit = true
		return nil
	})
	if err != nil {
		return Lookup{}, errors.Annotatef(err, "badger get %s", s.Key())
	}
	return Lookup{Hit: hit, Result: result}, nil
}

func (d *BadgerDatabase) Put(ctx context.Context, s spec.Spec, result cost.ActionCostVec) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "BadgerDatabase.Put")
	defer span.Finish()

	payload, err := encodeResult(result)
	if err != nil {
		return errors.Trace(err)
	}
	key := badgerKey(s)
	err = d.bdb.Update(func(txn *badger.Txn) error {
		// put is idempotent: re-encoding and re-writing the same
		// result is harmless, badger simply versions over it.
		return txn.Set(key, payload)
	})
	if err != nil {
		return errors.Annotatef(err, "badger put %s", s.Key())
	}
	return nil
}

// Prefetch warms badger's block cache for every key sharing s's page by
// issuing a best-effort prefix iteration on a background goroutine. It
// never blocks the caller and swallows its own errors: a failed prefetch
// only costs time, never correctness, so the "surfaced errors are fatal"
// rule applies only to Get and Put.
func (d *BadgerDatabase) Prefetch(s spec.Spec) {
	prefix := pageFor(s).Prefix()
	go func() {
		err := d.bdb.View(func(txn *badger.Txn) error {
			it := txn.NewIterator(badger.DefaultIteratorOptions)
			defer it.Close()
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				_, _ = it.Item().ValueCopy(nil)
			}
			return nil
		})
		if err != nil {
			log.Warn("prefetch failed", zap.String("page", pageFor(s).String()), zap.Error(err))
		}
	}()
}
