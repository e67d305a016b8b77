// Package vector implements the Vector primitive façade named in spec §1:
// similarity search over named collections of embeddings, scoped per run.
//
// Each vector is durable the same way every other primitive's data is:
// as a normal substrate entry, tagged TagVector, staged through pkg/txn so
// an upsert commits with the same OCC validate/WAL/apply path as a KV
// write. Search itself needs an in-memory ANN graph rather than a linear
// scan, so Store keeps one pkg/hnsw.Index per (run, collection) alongside
// the substrate, built lazily from the committed data on first use and
// kept in sync after every committed Upsert/Delete. The graph is a cache,
// not a second source of truth: recovery replays only the substrate, and
// a process that restarts rebuilds the cache from scratch on first Search.
package vector

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"strata/pkg/errs"
	"strata/pkg/hnsw"
	"strata/pkg/storage"
	"strata/pkg/txn"
	"strata/pkg/types"
	"strata/pkg/walog"
)

type Store struct {
	store *storage.Store
	mgr   *txn.Manager

	mu    sync.Mutex
	cache map[collKey]*collCache
}

func New(store *storage.Store, mgr *txn.Manager) *Store {
	return &Store{store: store, mgr: mgr, cache: make(map[collKey]*collCache)}
}

const maxCommitRetries = 8

func runTxn(ctx context.Context, mgr *txn.Manager, tx *txn.Txn, fn func(*txn.Txn) error) error {
	if tx != nil {
		return fn(tx)
	}
	var lastErr error
	for attempt := 0; attempt < maxCommitRetries; attempt++ {
		t, err := mgr.Begin(ctx)
		if err != nil {
			return err
		}
		if err := fn(t); err != nil {
			mgr.Abort(t)
			return err
		}
		if err := mgr.Commit(ctx, t); err != nil {
			if errs.Is(err, errs.Conflict) {
				lastErr = err
				continue
			}
			return err
		}
		return nil
	}
	return lastErr
}

type collKey struct {
	runID uuid.UUID
	name  string
}

// collCache is the in-memory ANN graph plus the bookkeeping needed to
// translate between hnsw's int64 rowID space and a caller's own []byte
// ids: hnsw has no notion of arbitrary keys, only row numbers.
type collCache struct {
	idx      *hnsw.Index
	metric   types.DistanceMetric
	nextRow  int64
	rowOf    map[string]int64
	keyOf    map[int64]string
	metadata map[int64]types.Value
}

const (
	fieldDimension = "dimension"
	fieldMetric    = "metric"
)

func collectionConfigKey(runID uuid.UUID, name string) types.Key {
	return types.NewKey(runID, types.TagVector, []byte(types.ReservedKeyPrefix+"collection:"+name))
}

// vectorKey scopes a user-supplied id inside its collection's slice of
// the TagVector keyspace: "<collection>\x00<id>" so two collections with
// the same id never collide and a collection's own entries sort
// contiguously for cascade scans.
func vectorKey(runID uuid.UUID, collection string, id []byte) types.Key {
	user := make([]byte, 0, len(collection)+1+len(id))
	user = append(user, collection...)
	user = append(user, 0)
	user = append(user, id...)
	return types.NewKey(runID, types.TagVector, user)
}

func splitVectorUser(user []byte) (collection string, id []byte, ok bool) {
	for i, b := range user {
		if b == 0 {
			return string(user[:i]), user[i+1:], true
		}
	}
	return "", nil, false
}

const (
	fieldVector   = "vector"
	fieldMetadata = "metadata"
)

func encodeRecord(vec []float32, metadata types.Value) types.Value {
	return types.Map(map[string]types.Value{
		fieldVector:   types.Bytes(types.NewVector(vec).ToBytes()),
		fieldMetadata: metadata,
	})
}

func decodeRecord(v types.Value) (vec *types.Vector, metadata types.Value, err error) {
	m := v.AsMap()
	vec, err = types.VectorFromBytes(m[fieldVector].AsBytes())
	if err != nil {
		return nil, types.Value{}, err
	}
	return vec, m[fieldMetadata], nil
}

// CreateCollection registers a named collection with a fixed dimension
// and distance metric. Collection configuration lives under the same
// reserved-prefix scheme pkg/event uses for its cursors: a housekeeping
// record a caller's own ids can never collide with.
func CreateCollection(ctx context.Context, store *Store, tx *txn.Txn, runID uuid.UUID, name string, dimension int, metric types.DistanceMetric) error {
	k := collectionConfigKey(runID, name)
	err := runTxn(ctx, store.mgr, tx, func(t *txn.Txn) error {
		if _, found, err := t.Get(k); err != nil {
			return err
		} else if found {
			return errs.New(errs.ConstraintViolation, "vector.create_collection", "collection already exists").WithKey(k)
		}
		cfg := types.Map(map[string]types.Value{
			fieldDimension: types.Int(int64(dimension)),
			fieldMetric:    types.String(metric.String()),
		})
		return t.PutRaw(k, cfg, 0, walog.EntryVectorCreateCollection)
	})
	if err != nil {
		return err
	}
	store.mu.Lock()
	store.cache[collKey{runID, name}] = newCollCache(dimension, metric)
	store.mu.Unlock()
	return nil
}

// DropCollection removes a collection's configuration and every vector
// record under it, evicting the in-memory index.
func DropCollection(ctx context.Context, store *Store, tx *txn.Txn, runID uuid.UUID, name string) error {
	k := collectionConfigKey(runID, name)
	err := runTxn(ctx, store.mgr, tx, func(t *txn.Txn) error {
		if _, found, err := t.Get(k); err != nil {
			return err
		} else if !found {
			return errs.New(errs.NotFound, "vector.drop_collection", "collection does not exist").WithKey(k)
		}
		for _, kv := range t.ScanByRun(runID) {
			if kv.Key.Type != types.TagVector {
				continue
			}
			coll, id, ok := splitVectorUser(kv.Key.User)
			if !ok || coll != name {
				continue
			}
			vk := vectorKey(runID, name, id)
			if err := t.Delete(vk, walog.EntryVectorDelete); err != nil {
				return err
			}
		}
		return t.Delete(k, walog.EntryVectorDropCollection)
	})
	if err != nil {
		return err
	}
	store.mu.Lock()
	delete(store.cache, collKey{runID, name})
	store.mu.Unlock()
	return nil
}

func readCollectionConfig(t *txn.Txn, store *Store, runID uuid.UUID, name string) (dimension int, metric types.DistanceMetric, err error) {
	k := collectionConfigKey(runID, name)
	var v types.Value
	var found bool
	if t != nil {
		v, found, err = t.Get(k)
	} else {
		var vv types.Versioned[types.Value]
		vv, found = store.store.Get(k)
		v = vv.Value
	}
	if err != nil {
		return 0, 0, err
	}
	if !found {
		return 0, 0, errs.New(errs.NotFound, "vector", "collection does not exist").WithKey(k)
	}
	m := v.AsMap()
	metric, parseErr := types.ParseDistanceMetric(m[fieldMetric].AsString())
	if parseErr != nil {
		return 0, 0, errs.Wrap(errs.ConstraintViolation, "vector", parseErr)
	}
	return int(m[fieldDimension].AsInt()), metric, nil
}

// Upsert writes vec under id in collection, creating or replacing any
// existing record, then applies the same write to the in-memory index.
func Upsert(ctx context.Context, store *Store, tx *txn.Txn, runID uuid.UUID, collection string, id []byte, vec []float32, metadata types.Value) error {
	dimension, metric, err := readCollectionConfig(tx, store, runID, collection)
	if err != nil {
		return err
	}
	if len(vec) != dimension {
		return errs.New(errs.ConstraintViolation, "vector.upsert", "vector dimension does not match collection")
	}
	k := vectorKey(runID, collection, id)
	record := encodeRecord(vec, metadata)
	if err := runTxn(ctx, store.mgr, tx, func(t *txn.Txn) error {
		return t.PutRaw(k, record, 0, walog.EntryVectorUpsert)
	}); err != nil {
		return err
	}

	c := store.ensureCache(runID, collection, dimension, metric)
	c.upsert(string(id), vec, metadata)
	return nil
}

// Get returns a vector's raw embedding and metadata.
func Get(store *Store, tx *txn.Txn, runID uuid.UUID, collection string, id []byte) (vec []float32, metadata types.Value, found bool, err error) {
	k := vectorKey(runID, collection, id)
	var raw types.Value
	if tx != nil {
		v, f, e := tx.Get(k)
		if e != nil || !f {
			return nil, types.Value{}, f, e
		}
		raw = v.Value
	} else {
		v, f := store.store.Get(k)
		if !f {
			return nil, types.Value{}, false, nil
		}
		raw = v.Value
	}
	vv, md, err := decodeRecord(raw)
	if err != nil {
		return nil, types.Value{}, false, err
	}
	return vv.Data(), md, true, nil
}

// Delete removes a vector record and evicts it from the in-memory index.
func Delete(ctx context.Context, store *Store, tx *txn.Txn, runID uuid.UUID, collection string, id []byte) error {
	k := vectorKey(runID, collection, id)
	if err := runTxn(ctx, store.mgr, tx, func(t *txn.Txn) error {
		return t.Delete(k, walog.EntryVectorDelete)
	}); err != nil {
		return err
	}

	store.mu.Lock()
	c := store.cache[collKey{runID, collection}]
	store.mu.Unlock()
	if c != nil {
		c.delete(string(id))
	}
	return nil
}

// Match describes one Search hit.
type Match struct {
	ID       []byte
	Distance float32
	Metadata types.Value
}

// Search returns up to k nearest neighbors of query within collection,
// restricted to records for which filter returns true (a nil filter
// matches everything). filter runs after the ANN lookup, so a very
// selective filter combined with a small collection may return fewer
// than k matches; Search widens its internal candidate list once before
// giving up, rather than falling back to a linear scan.
func Search(store *Store, runID uuid.UUID, collection string, query []float32, k int, filter func(types.Value) bool) ([]Match, error) {
	c, err := store.loadCache(runID, collection)
	if err != nil {
		return nil, err
	}
	if len(query) != c.idx.Dimension() {
		return nil, errs.New(errs.ConstraintViolation, "vector.search", "query dimension does not match collection")
	}

	ef := k * 4
	if ef < 64 {
		ef = 64
	}
	results, err := c.idx.SearchKNNWithEf(types.NewVector(query), k, ef)
	if err != nil {
		return nil, errs.Wrap(errs.ConstraintViolation, "vector.search", err)
	}
	out := c.toMatches(results, filter)
	if filter != nil && len(out) < k && ef < c.idx.Len() {
		wide, err := c.idx.SearchKNNWithEf(types.NewVector(query), c.idx.Len(), c.idx.Len())
		if err == nil {
			out = c.toMatches(wide, filter)
		}
	}
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (c *collCache) toMatches(results []hnsw.SearchResult, filter func(types.Value) bool) []Match {
	out := make([]Match, 0, len(results))
	for _, r := range results {
		id, ok := c.keyOf[r.RowID]
		if !ok {
			continue
		}
		md := c.metadata[r.RowID]
		if filter != nil && !filter(md) {
			continue
		}
		out = append(out, Match{ID: []byte(id), Distance: r.Distance, Metadata: md})
	}
	return out
}

func newCollCache(dimension int, metric types.DistanceMetric) *collCache {
	cfg := hnsw.DefaultConfig(dimension)
	cfg.DistanceMetric = metric
	return &collCache{
		idx:      hnsw.NewIndex(cfg),
		metric:   metric,
		rowOf:    make(map[string]int64),
		keyOf:    make(map[int64]string),
		metadata: make(map[int64]types.Value),
	}
}

func (c *collCache) upsert(id string, vec []float32, metadata types.Value) {
	row, existed := c.rowOf[id]
	if !existed {
		row = c.nextRow
		c.nextRow++
		c.rowOf[id] = row
		c.keyOf[row] = id
	}
	c.metadata[row] = metadata
	v := types.NewVector(vec)
	if existed && c.idx.Contains(row) {
		c.idx.Update(row, v)
		return
	}
	c.idx.Insert(row, v)
}

func (c *collCache) delete(id string) {
	row, ok := c.rowOf[id]
	if !ok {
		return
	}
	c.idx.Delete(row)
	delete(c.rowOf, id)
	delete(c.keyOf, row)
	delete(c.metadata, row)
}

// ensureCache returns collection's cache, creating an empty one if this
// is the first reference to it in this process (CreateCollection already
// populated one; this path covers a process restart).
func (store *Store) ensureCache(runID uuid.UUID, collection string, dimension int, metric types.DistanceMetric) *collCache {
	key := collKey{runID, collection}
	store.mu.Lock()
	defer store.mu.Unlock()
	if c, ok := store.cache[key]; ok {
		return c
	}
	c := newCollCache(dimension, metric)
	store.cache[key] = c
	return c
}

// loadCache returns collection's cache, rebuilding it from committed
// substrate data if this process has not touched the collection yet.
func (store *Store) loadCache(runID uuid.UUID, collection string) (*collCache, error) {
	key := collKey{runID, collection}
	store.mu.Lock()
	if c, ok := store.cache[key]; ok {
		store.mu.Unlock()
		return c, nil
	}
	store.mu.Unlock()

	dimension, metric, err := readCollectionConfig(nil, store, runID, collection)
	if err != nil {
		return nil, err
	}
	c := newCollCache(dimension, metric)
	for _, kv := range store.store.ScanByRun(runID, store.store.CurrentVersion()) {
		if kv.Key.Type != types.TagVector {
			continue
		}
		coll, id, ok := splitVectorUser(kv.Key.User)
		if !ok || coll != collection {
			continue
		}
		vec, metadata, err := decodeRecord(kv.Entry.Value)
		if err != nil {
			continue
		}
		c.upsert(string(id), vec.Data(), metadata)
	}

	store.mu.Lock()
	if existing, ok := store.cache[key]; ok {
		store.mu.Unlock()
		return existing, nil
	}
	store.cache[key] = c
	store.mu.Unlock()
	return c, nil
}
