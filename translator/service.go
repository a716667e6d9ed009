package translator

import (
	pb "google.golang.org/genproto/googleapis/datastore/v1"

	"github.com/cloudshims/dsbridge/dsv3"
	"github.com/cloudshims/dsbridge/stub"
)

// The legacy stub exposes no per-entity version; the public wire requires
// one, so every result reports this fixed value.
const entityVersion = 1

// Lookup fetches entities by key, splitting the answer into found and
// missing. The union of the two always equals the requested keys; the
// deferred list stays empty against a local stub.
func (t *Translator) Lookup(req *pb.LookupRequest) (*pb.LookupResponse, error) {
	refs := make([]*dsv3.Reference, 0, len(req.Keys))
	for _, key := range req.Keys {
		ref, err := t.toCompleteV3Reference(key)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}

	get := &dsv3.GetRequest{Keys: refs}
	switch ct := req.GetReadOptions().GetConsistencyType().(type) {
	case *pb.ReadOptions_Transaction:
		get.Transaction = &dsv3.Transaction{Handle: ct.Transaction}
	case *pb.ReadOptions_ReadConsistency_:
		if ct.ReadConsistency == pb.ReadOptions_EVENTUAL {
			get.FailoverMS = -1
		}
	}

	res := &dsv3.GetResponse{}
	if err := t.gw.Call(stub.MethodGet, get, res); err != nil {
		return nil, fromStub(err)
	}

	resp := &pb.LookupResponse{}
	for i, ent := range res.Entities {
		if ent.Entity != nil {
			v1ent, err := t.toV1Entity(ent.Entity, false)
			if err != nil {
				return nil, err
			}
			resp.Found = append(resp.Found, &pb.EntityResult{Entity: v1ent, Version: entityVersion})
			continue
		}
		key := ent.Key
		if key == nil {
			key = refs[i]
		}
		resp.Missing = append(resp.Missing, &pb.EntityResult{
			Entity:  &pb.Entity{Key: t.toV1Key(key)},
			Version: entityVersion,
		})
	}
	return resp, nil
}

// BeginTransaction opens a stub transaction and hands back its opaque
// handle. Transaction options carry no meaning for the local stub and are
// accepted silently.
func (t *Translator) BeginTransaction(req *pb.BeginTransactionRequest) (*pb.BeginTransactionResponse, error) {
	tx := &dsv3.Transaction{}
	if err := t.gw.Call(stub.MethodBeginTransaction, &dsv3.BeginTransactionRequest{App: t.appID}, tx); err != nil {
		return nil, fromStub(err)
	}
	return &pb.BeginTransactionResponse{Transaction: tx.Handle}, nil
}

// Rollback abandons a transaction. A handle that was already finalized
// surfaces as INVALID_ARGUMENT.
func (t *Translator) Rollback(req *pb.RollbackRequest) (*pb.RollbackResponse, error) {
	if len(req.Transaction) == 0 {
		return nil, invalidf("rollback request carries no transaction")
	}
	v3req := &dsv3.RollbackRequest{Transaction: &dsv3.Transaction{Handle: req.Transaction}}
	if err := t.gw.Call(stub.MethodRollback, v3req, &dsv3.RollbackResponse{}); err != nil {
		return nil, fromStub(err)
	}
	return &pb.RollbackResponse{}, nil
}

// AllocateIds fills the incomplete trailing slot of each key with an id
// from the stub's range allocator, preserving input order.
func (t *Translator) AllocateIds(req *pb.AllocateIdsRequest) (*pb.AllocateIdsResponse, error) {
	keys := make([]*pb.Key, 0, len(req.Keys))
	for _, key := range req.Keys {
		ref, err := t.toAllocatableV3Reference(key)
		if err != nil {
			return nil, err
		}
		res := &dsv3.AllocateIDsResponse{}
		if err := t.gw.Call(stub.MethodAllocateIDs, &dsv3.AllocateIDsRequest{ModelKey: ref, Size: 1}, res); err != nil {
			return nil, fromStub(err)
		}
		ref.Path[len(ref.Path)-1].ID = res.Start
		keys = append(keys, t.toV1Key(ref))
	}
	return &pb.AllocateIdsResponse{Keys: keys}, nil
}

// ReserveIds validates its keys and succeeds without touching the stub.
// The local allocator hands out ids monotonically past anything ever
// written, so reservation is a best-effort no-op here.
func (t *Translator) ReserveIds(req *pb.ReserveIdsRequest) (*pb.ReserveIdsResponse, error) {
	for _, key := range req.Keys {
		if _, err := t.toCompleteV3Reference(key); err != nil {
			return nil, err
		}
	}
	return &pb.ReserveIdsResponse{}, nil
}
