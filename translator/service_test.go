package translator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	pb "google.golang.org/genproto/googleapis/datastore/v1"
	"google.golang.org/grpc/codes"
	"google.golang.org/protobuf/proto"

	"github.com/cloudshims/dsbridge/memstub"
)

// newStubTranslator wires a translator to a fresh in-memory service.
func newStubTranslator(t *testing.T) *Translator {
	t.Helper()
	s, err := memstub.New("dev~myapp")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New("dev~myapp", s, nil)
}

func upsertMutation(e *pb.Entity) *pb.Mutation {
	return &pb.Mutation{Operation: &pb.Mutation_Upsert{Upsert: e}}
}

func taskEntity(id int64, n int64) *pb.Entity {
	return &pb.Entity{
		Key: testKey("Task", id),
		Properties: map[string]*pb.Value{
			"n": {ValueType: &pb.Value_IntegerValue{IntegerValue: n}},
		},
	}
}

func mustCommit(t *testing.T, tr *Translator, muts ...*pb.Mutation) *pb.CommitResponse {
	t.Helper()
	resp, err := tr.Commit(&pb.CommitRequest{
		Mode:      pb.CommitRequest_NON_TRANSACTIONAL,
		Mutations: muts,
	})
	require.NoError(t, err)
	return resp
}

func TestLookupFoundAndMissing(t *testing.T) {
	tr := newStubTranslator(t)
	mustCommit(t, tr, upsertMutation(taskEntity(1, 10)))

	resp, err := tr.Lookup(&pb.LookupRequest{Keys: []*pb.Key{
		testKey("Task", 1),
		testKey("Task", 2),
	}})
	require.NoError(t, err)

	require.Len(t, resp.Found, 1)
	assert.Equal(t, int64(10), resp.Found[0].Entity.Properties["n"].GetIntegerValue())
	assert.Equal(t, int64(1), resp.Found[0].Version)

	require.Len(t, resp.Missing, 1)
	missing := resp.Missing[0].Entity
	assert.True(t, proto.Equal(testKey("Task", 2), missing.Key))
	assert.Empty(t, missing.Properties)
	assert.Empty(t, resp.Deferred)
}

func TestLookupRejectsIncompleteKey(t *testing.T) {
	tr := newStubTranslator(t)

	_, err := tr.Lookup(&pb.LookupRequest{Keys: []*pb.Key{
		{Path: []*pb.Key_PathElement{{Kind: "Task"}}},
	}})
	assertCode(t, err, codes.InvalidArgument)
}

func TestLookupInsideTransaction(t *testing.T) {
	tr := newStubTranslator(t)
	mustCommit(t, tr, upsertMutation(taskEntity(1, 10)))

	btResp, err := tr.BeginTransaction(&pb.BeginTransactionRequest{})
	require.NoError(t, err)
	require.NotEmpty(t, btResp.Transaction)

	resp, err := tr.Lookup(&pb.LookupRequest{
		Keys: []*pb.Key{testKey("Task", 1)},
		ReadOptions: &pb.ReadOptions{
			ConsistencyType: &pb.ReadOptions_Transaction{Transaction: btResp.Transaction},
		},
	})
	require.NoError(t, err)
	assert.Len(t, resp.Found, 1)

	_, err = tr.Rollback(&pb.RollbackRequest{Transaction: btResp.Transaction})
	require.NoError(t, err)
}

func TestRollbackFinalizedTransaction(t *testing.T) {
	tr := newStubTranslator(t)

	btResp, err := tr.BeginTransaction(&pb.BeginTransactionRequest{})
	require.NoError(t, err)

	_, err = tr.Rollback(&pb.RollbackRequest{Transaction: btResp.Transaction})
	require.NoError(t, err)

	_, err = tr.Rollback(&pb.RollbackRequest{Transaction: btResp.Transaction})
	assertCode(t, err, codes.InvalidArgument)
}

func TestRollbackEmptyHandle(t *testing.T) {
	tr := newStubTranslator(t)

	_, err := tr.Rollback(&pb.RollbackRequest{})
	assertCode(t, err, codes.InvalidArgument)
}

func TestAllocateIds(t *testing.T) {
	tr := newStubTranslator(t)

	incomplete := func() *pb.Key {
		return &pb.Key{
			PartitionId: &pb.PartitionId{ProjectId: "myapp"},
			Path:        []*pb.Key_PathElement{{Kind: "Task"}},
		}
	}
	resp, err := tr.AllocateIds(&pb.AllocateIdsRequest{Keys: []*pb.Key{incomplete(), incomplete()}})
	require.NoError(t, err)

	require.Len(t, resp.Keys, 2)
	first := resp.Keys[0].Path[0].GetId()
	second := resp.Keys[1].Path[0].GetId()
	assert.NotZero(t, first)
	assert.NotZero(t, second)
	assert.NotEqual(t, first, second)
}

func TestAllocateIdsNeverCollidesWithWrites(t *testing.T) {
	tr := newStubTranslator(t)

	// An incomplete insert consumes an id before any explicit allocation.
	resp := mustCommit(t, tr, &pb.Mutation{Operation: &pb.Mutation_Insert{Insert: &pb.Entity{
		Key: &pb.Key{Path: []*pb.Key_PathElement{{Kind: "Task"}}},
	}}})
	written := resp.MutationResults[0].Key.Path[0].GetId()

	alloc, err := tr.AllocateIds(&pb.AllocateIdsRequest{Keys: []*pb.Key{
		{Path: []*pb.Key_PathElement{{Kind: "Task"}}},
	}})
	require.NoError(t, err)
	assert.Greater(t, alloc.Keys[0].Path[0].GetId(), written)
}

func TestReserveIds(t *testing.T) {
	tr := newStubTranslator(t)

	_, err := tr.ReserveIds(&pb.ReserveIdsRequest{Keys: []*pb.Key{testKey("Task", 5)}})
	require.NoError(t, err)

	_, err = tr.ReserveIds(&pb.ReserveIdsRequest{Keys: []*pb.Key{
		{Path: []*pb.Key_PathElement{{Kind: "Task"}}},
	}})
	assertCode(t, err, codes.InvalidArgument)
}
