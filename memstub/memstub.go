// Package memstub is an in-memory implementation of the legacy datastore
// service behind stub.Gateway. It backs local development and tests: data
// lives in process memory, optionally snapshotted into a bbolt file so a
// dev server survives restarts.
package memstub

import (
	"sync"

	"github.com/google/uuid"

	"github.com/cloudshims/dsbridge/dsv3"
	"github.com/cloudshims/dsbridge/stub"
)

// Stub holds all datastore state for one app. All access funnels through
// Call, which serializes on an internal lock.
type Stub struct {
	appID string

	mu       sync.Mutex
	entities map[string]*dsv3.EntityProto
	// groups tracks a version counter per entity group for transaction
	// conflict detection.
	groups  map[string]int64
	nextID  int64
	txs     map[string]*txn
	cursors map[string]*liveCursor

	persist *persistence
}

var _ stub.Gateway = (*Stub)(nil)

// Option configures a Stub.
type Option func(*Stub)

// WithPath enables snapshot persistence into the bbolt file at path.
func WithPath(path string) Option {
	return func(s *Stub) {
		s.persist = &persistence{path: path}
	}
}

// New returns an empty stub for the given runtime app identifier, loading
// the snapshot file first when one is configured.
func New(appID string, opts ...Option) (*Stub, error) {
	s := &Stub{
		appID:    appID,
		entities: map[string]*dsv3.EntityProto{},
		groups:   map[string]int64{},
		nextID:   1,
		txs:      map[string]*txn{},
		cursors:  map[string]*liveCursor{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.persist != nil {
		if err := s.persist.open(); err != nil {
			return nil, err
		}
		if err := s.persist.load(s); err != nil {
			s.persist.close()
			return nil, err
		}
	}
	return s, nil
}

// Close releases the snapshot file, if any.
func (s *Stub) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.persist != nil {
		return s.persist.close()
	}
	return nil
}

// Call dispatches one legacy RPC. in and out must be pointers to the dsv3
// types matching method.
func (s *Stub) Call(method string, in, out interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch method {
	case stub.MethodGet:
		req, ok1 := in.(*dsv3.GetRequest)
		res, ok2 := out.(*dsv3.GetResponse)
		if !ok1 || !ok2 {
			return badShape(method)
		}
		return s.get(req, res)
	case stub.MethodPut:
		req, ok1 := in.(*dsv3.PutRequest)
		res, ok2 := out.(*dsv3.PutResponse)
		if !ok1 || !ok2 {
			return badShape(method)
		}
		return s.put(req, res)
	case stub.MethodDelete:
		req, ok1 := in.(*dsv3.DeleteRequest)
		res, ok2 := out.(*dsv3.DeleteResponse)
		if !ok1 || !ok2 {
			return badShape(method)
		}
		return s.delete(req, res)
	case stub.MethodRunQuery:
		req, ok1 := in.(*dsv3.Query)
		res, ok2 := out.(*dsv3.QueryResult)
		if !ok1 || !ok2 {
			return badShape(method)
		}
		return s.runQuery(req, res)
	case stub.MethodNext:
		req, ok1 := in.(*dsv3.NextRequest)
		res, ok2 := out.(*dsv3.QueryResult)
		if !ok1 || !ok2 {
			return badShape(method)
		}
		return s.next(req, res)
	case stub.MethodBeginTransaction:
		req, ok1 := in.(*dsv3.BeginTransactionRequest)
		res, ok2 := out.(*dsv3.Transaction)
		if !ok1 || !ok2 {
			return badShape(method)
		}
		return s.beginTransaction(req, res)
	case stub.MethodCommit:
		req, ok1 := in.(*dsv3.CommitRequest)
		res, ok2 := out.(*dsv3.CommitResponse)
		if !ok1 || !ok2 {
			return badShape(method)
		}
		return s.commit(req, res)
	case stub.MethodRollback:
		req, ok1 := in.(*dsv3.RollbackRequest)
		res, ok2 := out.(*dsv3.RollbackResponse)
		if !ok1 || !ok2 {
			return badShape(method)
		}
		return s.rollback(req, res)
	case stub.MethodAllocateIDs:
		req, ok1 := in.(*dsv3.AllocateIDsRequest)
		res, ok2 := out.(*dsv3.AllocateIDsResponse)
		if !ok1 || !ok2 {
			return badShape(method)
		}
		return s.allocateIDs(req, res)
	default:
		return dsv3.Errorf(dsv3.BadRequest, "unknown method %q", method)
	}
}

func badShape(method string) error {
	return dsv3.Errorf(dsv3.InternalError, "mismatched message types for %s", method)
}

func refKey(ref *dsv3.Reference) string {
	return ref.String()
}

func groupKey(ref *dsv3.Reference) string {
	return ref.Root().String()
}

func (s *Stub) get(req *dsv3.GetRequest, res *dsv3.GetResponse) error {
	tx, err := s.resolveTx(req.Transaction)
	if err != nil {
		return err
	}
	for _, ref := range req.Keys {
		if len(ref.Path) == 0 {
			return dsv3.Errorf(dsv3.BadRequest, "reference has an empty path")
		}
		if tx != nil {
			tx.observe(s, groupKey(ref))
		}
		ent := s.lookup(tx, ref)
		res.Entities = append(res.Entities, dsv3.GetResponseEntity{
			Key:    ref.Clone(),
			Entity: ent.Clone(),
		})
	}
	return nil
}

// lookup reads through a transaction's buffered writes, then global state.
func (s *Stub) lookup(tx *txn, ref *dsv3.Reference) *dsv3.EntityProto {
	k := refKey(ref)
	if tx != nil {
		if tx.deleted[k] {
			return nil
		}
		if ent, ok := tx.written[k]; ok {
			return ent
		}
	}
	return s.entities[k]
}

func (s *Stub) put(req *dsv3.PutRequest, res *dsv3.PutResponse) error {
	tx, err := s.resolveTx(req.Transaction)
	if err != nil {
		return err
	}
	for _, ent := range req.Entities {
		if ent.Key == nil || len(ent.Key.Path) == 0 {
			return dsv3.Errorf(dsv3.BadRequest, "entity has no key path")
		}
		stored := ent.Clone()
		last := len(stored.Key.Path) - 1
		if stored.Key.Path[last].ID == 0 && stored.Key.Path[last].Name == "" {
			stored.Key.Path[last].ID = s.allocate(1)
		}
		for i, elem := range stored.Key.Path[:last] {
			if elem.ID == 0 && elem.Name == "" {
				return dsv3.Errorf(dsv3.BadRequest, "key path element %d is incomplete", i)
			}
		}

		if tx != nil {
			// Buffered writes report no cost; commit does, once they
			// actually land.
			tx.observe(s, groupKey(stored.Key))
			tx.write(stored)
		} else {
			if err := s.apply(stored); err != nil {
				return err
			}
			res.Cost.IndexWrites++
		}
		res.Keys = append(res.Keys, stored.Key.Clone())
	}
	return nil
}

func (s *Stub) delete(req *dsv3.DeleteRequest, res *dsv3.DeleteResponse) error {
	tx, err := s.resolveTx(req.Transaction)
	if err != nil {
		return err
	}
	for _, ref := range req.Keys {
		if len(ref.Path) == 0 {
			return dsv3.Errorf(dsv3.BadRequest, "reference has an empty path")
		}
		if tx != nil {
			tx.observe(s, groupKey(ref))
			tx.remove(ref)
			continue
		}
		k := refKey(ref)
		if _, ok := s.entities[k]; ok {
			if err := s.applyDelete(ref); err != nil {
				return err
			}
			res.Cost.IndexWrites++
		}
	}
	return nil
}

// apply writes one entity into global state and the snapshot, bumping its
// group version.
func (s *Stub) apply(ent *dsv3.EntityProto) error {
	k := refKey(ent.Key)
	s.entities[k] = ent
	s.groups[groupKey(ent.Key)]++
	if s.persist != nil {
		return s.persist.putEntity(k, ent, s.nextID)
	}
	return nil
}

func (s *Stub) applyDelete(ref *dsv3.Reference) error {
	k := refKey(ref)
	delete(s.entities, k)
	s.groups[groupKey(ref)]++
	if s.persist != nil {
		return s.persist.deleteEntity(k, s.nextID)
	}
	return nil
}

func (s *Stub) allocate(n int64) int64 {
	start := s.nextID
	s.nextID += n
	return start
}

func (s *Stub) allocateIDs(req *dsv3.AllocateIDsRequest, res *dsv3.AllocateIDsResponse) error {
	if req.ModelKey == nil || len(req.ModelKey.Path) == 0 {
		return dsv3.Errorf(dsv3.BadRequest, "allocate ids request has no model key")
	}
	if req.Size <= 0 {
		return dsv3.Errorf(dsv3.BadRequest, "allocation size must be positive, got %d", req.Size)
	}
	start := s.allocate(req.Size)
	res.Start = start
	res.End = start + req.Size - 1
	if s.persist != nil {
		return s.persist.putNextID(s.nextID)
	}
	return nil
}

func (s *Stub) beginTransaction(req *dsv3.BeginTransactionRequest, res *dsv3.Transaction) error {
	handle := uuid.New()
	tx := &txn{
		handle:   handle[:],
		observed: map[string]int64{},
		written:  map[string]*dsv3.EntityProto{},
		deleted:  map[string]bool{},
	}
	s.txs[string(tx.handle)] = tx
	res.Handle = tx.handle
	return nil
}

// resolveTx maps a transaction message onto the live transaction it names.
func (s *Stub) resolveTx(t *dsv3.Transaction) (*txn, error) {
	if t == nil {
		return nil, nil
	}
	tx, ok := s.txs[string(t.Handle)]
	if !ok {
		return nil, dsv3.Errorf(dsv3.BadRequest, "transaction handle is unknown or already finalized")
	}
	return tx, nil
}

func (s *Stub) commit(req *dsv3.CommitRequest, res *dsv3.CommitResponse) error {
	if req.Transaction == nil {
		return dsv3.Errorf(dsv3.BadRequest, "commit request has no transaction")
	}
	tx, err := s.resolveTx(req.Transaction)
	if err != nil {
		return err
	}
	delete(s.txs, string(tx.handle))

	for g, seen := range tx.observed {
		if s.groups[g] != seen {
			return dsv3.Errorf(dsv3.ConcurrentTransaction, "entity group was modified by a concurrent transaction")
		}
	}
	for _, ent := range tx.written {
		if err := s.apply(ent); err != nil {
			return err
		}
		res.Cost.IndexWrites++
	}
	for k := range tx.deleted {
		if ent, ok := s.entities[k]; ok {
			if err := s.applyDelete(ent.Key); err != nil {
				return err
			}
			res.Cost.IndexWrites++
		}
	}
	return nil
}

func (s *Stub) rollback(req *dsv3.RollbackRequest, res *dsv3.RollbackResponse) error {
	if req.Transaction == nil {
		return dsv3.Errorf(dsv3.BadRequest, "rollback request has no transaction")
	}
	tx, err := s.resolveTx(req.Transaction)
	if err != nil {
		return err
	}
	delete(s.txs, string(tx.handle))
	return nil
}
