package translator

import (
	pb "google.golang.org/genproto/googleapis/datastore/v1"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/cloudshims/dsbridge/dsv3"
	"github.com/cloudshims/dsbridge/stub"
)

// Commit applies the request's mutations, one legacy call per mutation.
// With a transaction handle every write runs inside it and a single stub
// commit seals the batch; without one each mutation stands alone, with
// Insert and Update wrapped in short-lived transactions so their existence
// checks stay atomic with the write.
func (t *Translator) Commit(req *pb.CommitRequest) (*pb.CommitResponse, error) {
	var tx *dsv3.Transaction
	if ts, ok := req.GetTransactionSelector().(*pb.CommitRequest_Transaction); ok {
		if req.Mode == pb.CommitRequest_NON_TRANSACTIONAL {
			return nil, invalidf("commit carries a transaction but requests non-transactional mode")
		}
		if len(ts.Transaction) == 0 {
			return nil, invalidf("commit carries an empty transaction")
		}
		tx = &dsv3.Transaction{Handle: ts.Transaction}
	}

	resp := &pb.CommitResponse{}
	for _, m := range req.Mutations {
		result, cost, err := t.applyMutation(m, tx)
		if err != nil {
			return nil, err
		}
		resp.MutationResults = append(resp.MutationResults, result)
		resp.IndexUpdates += cost
	}

	if tx != nil {
		cost, err := t.commitTx(tx)
		if err != nil {
			return nil, err
		}
		resp.IndexUpdates += cost
	}
	return resp, nil
}

func (t *Translator) applyMutation(m *pb.Mutation, tx *dsv3.Transaction) (*pb.MutationResult, int32, error) {
	switch op := m.GetOperation().(type) {
	case *pb.Mutation_Insert:
		return t.applyInsert(op.Insert, tx)
	case *pb.Mutation_Update:
		return t.applyUpdate(op.Update, tx)
	case *pb.Mutation_Upsert:
		return t.applyUpsert(op.Upsert, tx)
	case *pb.Mutation_Delete:
		return t.applyDelete(op.Delete, tx)
	default:
		return nil, 0, invalidf("mutation carries no operation")
	}
}

func (t *Translator) applyInsert(e *pb.Entity, tx *dsv3.Transaction) (*pb.MutationResult, int32, error) {
	ent, err := t.toV3Entity(e, false)
	if err != nil {
		return nil, 0, err
	}

	if !ent.Key.Complete() {
		// The stub assigns the id; nothing to pre-check.
		res, cost, err := t.put(ent, tx)
		if err != nil {
			return nil, 0, err
		}
		return &pb.MutationResult{Key: t.toV1Key(res.Keys[0]), Version: entityVersion}, cost, nil
	}

	inner, ownTx, err := t.ensureTx(tx)
	if err != nil {
		return nil, 0, err
	}
	exists, err := t.keyExists(ent.Key, inner)
	if err != nil {
		t.abandonTx(inner, ownTx)
		return nil, 0, err
	}
	if exists {
		t.abandonTx(inner, ownTx)
		return nil, 0, status.Errorf(codes.AlreadyExists, "entity already exists: %s", ent.Key)
	}
	_, cost, err := t.put(ent, inner)
	if err != nil {
		t.abandonTx(inner, ownTx)
		return nil, 0, err
	}
	if ownTx {
		commitCost, err := t.commitTx(inner)
		if err != nil {
			return nil, 0, err
		}
		cost += commitCost
	}
	return &pb.MutationResult{Version: entityVersion}, cost, nil
}

func (t *Translator) applyUpdate(e *pb.Entity, tx *dsv3.Transaction) (*pb.MutationResult, int32, error) {
	ent, err := t.toV3Entity(e, false)
	if err != nil {
		return nil, 0, err
	}
	if !ent.Key.Complete() {
		return nil, 0, invalidf("update requires a complete key, got %s", ent.Key)
	}

	inner, ownTx, err := t.ensureTx(tx)
	if err != nil {
		return nil, 0, err
	}
	exists, err := t.keyExists(ent.Key, inner)
	if err != nil {
		t.abandonTx(inner, ownTx)
		return nil, 0, err
	}
	if !exists {
		t.abandonTx(inner, ownTx)
		return nil, 0, status.Errorf(codes.NotFound, "no entity to update: %s", ent.Key)
	}
	_, cost, err := t.put(ent, inner)
	if err != nil {
		t.abandonTx(inner, ownTx)
		return nil, 0, err
	}
	if ownTx {
		commitCost, err := t.commitTx(inner)
		if err != nil {
			return nil, 0, err
		}
		cost += commitCost
	}
	return &pb.MutationResult{Version: entityVersion}, cost, nil
}

func (t *Translator) applyUpsert(e *pb.Entity, tx *dsv3.Transaction) (*pb.MutationResult, int32, error) {
	ent, err := t.toV3Entity(e, false)
	if err != nil {
		return nil, 0, err
	}
	wasIncomplete := !ent.Key.Complete()
	res, cost, err := t.put(ent, tx)
	if err != nil {
		return nil, 0, err
	}
	result := &pb.MutationResult{Version: entityVersion}
	if wasIncomplete {
		result.Key = t.toV1Key(res.Keys[0])
	}
	return result, cost, nil
}

func (t *Translator) applyDelete(key *pb.Key, tx *dsv3.Transaction) (*pb.MutationResult, int32, error) {
	ref, err := t.toCompleteV3Reference(key)
	if err != nil {
		return nil, 0, err
	}
	res := &dsv3.DeleteResponse{}
	v3req := &dsv3.DeleteRequest{Keys: []*dsv3.Reference{ref}, Transaction: tx}
	if err := t.gw.Call(stub.MethodDelete, v3req, res); err != nil {
		return nil, 0, fromStub(err)
	}
	return &pb.MutationResult{Version: entityVersion}, res.Cost.IndexWrites, nil
}

func (t *Translator) put(ent *dsv3.EntityProto, tx *dsv3.Transaction) (*dsv3.PutResponse, int32, error) {
	res := &dsv3.PutResponse{}
	v3req := &dsv3.PutRequest{Entities: []*dsv3.EntityProto{ent}, Transaction: tx}
	if err := t.gw.Call(stub.MethodPut, v3req, res); err != nil {
		return nil, 0, fromStub(err)
	}
	if len(res.Keys) != 1 {
		return nil, 0, unknownf("put returned %d keys for one entity", len(res.Keys))
	}
	return res, res.Cost.IndexWrites, nil
}

func (t *Translator) keyExists(ref *dsv3.Reference, tx *dsv3.Transaction) (bool, error) {
	res := &dsv3.GetResponse{}
	v3req := &dsv3.GetRequest{Keys: []*dsv3.Reference{ref}, Transaction: tx}
	if err := t.gw.Call(stub.MethodGet, v3req, res); err != nil {
		return false, fromStub(err)
	}
	return len(res.Entities) == 1 && res.Entities[0].Entity != nil, nil
}

// ensureTx returns tx, or opens a fresh single-mutation transaction when
// none was given. The second return reports ownership.
func (t *Translator) ensureTx(tx *dsv3.Transaction) (*dsv3.Transaction, bool, error) {
	if tx != nil {
		return tx, false, nil
	}
	fresh := &dsv3.Transaction{}
	if err := t.gw.Call(stub.MethodBeginTransaction, &dsv3.BeginTransactionRequest{App: t.appID}, fresh); err != nil {
		return nil, false, fromStub(err)
	}
	return fresh, true, nil
}

// commitTx seals a transaction. The returned cost includes the stub's
// reported index writes plus one for the commit call itself.
func (t *Translator) commitTx(tx *dsv3.Transaction) (int32, error) {
	res := &dsv3.CommitResponse{}
	if err := t.gw.Call(stub.MethodCommit, &dsv3.CommitRequest{Transaction: tx}, res); err != nil {
		return 0, fromStub(err)
	}
	return res.Cost.IndexWrites + 1, nil
}

// abandonTx rolls back a short-lived transaction we opened ourselves.
// Rollback failures only get logged; the caller's error stands.
func (t *Translator) abandonTx(tx *dsv3.Transaction, own bool) {
	if !own {
		return
	}
	err := t.gw.Call(stub.MethodRollback, &dsv3.RollbackRequest{Transaction: tx}, &dsv3.RollbackResponse{})
	if err != nil {
		t.log.WithError(err).Debug("rollback of internal transaction failed")
	}
}
