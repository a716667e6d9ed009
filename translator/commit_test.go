package translator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	pb "google.golang.org/genproto/googleapis/datastore/v1"
	"google.golang.org/grpc/codes"
)

func TestCommitInsertAssignsId(t *testing.T) {
	tr := newStubTranslator(t)

	resp := mustCommit(t, tr, &pb.Mutation{Operation: &pb.Mutation_Insert{Insert: &pb.Entity{
		Key: &pb.Key{Path: []*pb.Key_PathElement{{Kind: "Task"}}},
		Properties: map[string]*pb.Value{
			"n": {ValueType: &pb.Value_IntegerValue{IntegerValue: 1}},
		},
	}}})

	require.Len(t, resp.MutationResults, 1)
	mr := resp.MutationResults[0]
	require.NotNil(t, mr.Key, "an incomplete insert must report its assigned key")
	assert.NotZero(t, mr.Key.Path[0].GetId())
	assert.Equal(t, int64(1), mr.Version)
	assert.Equal(t, int32(1), resp.IndexUpdates)
}

func TestCommitInsertExistingConflicts(t *testing.T) {
	tr := newStubTranslator(t)
	mustCommit(t, tr, upsertMutation(taskEntity(1, 10)))

	_, err := tr.Commit(&pb.CommitRequest{
		Mode: pb.CommitRequest_NON_TRANSACTIONAL,
		Mutations: []*pb.Mutation{
			{Operation: &pb.Mutation_Insert{Insert: taskEntity(1, 20)}},
		},
	})
	assertCode(t, err, codes.AlreadyExists)

	// The failed insert must not clobber the stored entity.
	look, err := tr.Lookup(&pb.LookupRequest{Keys: []*pb.Key{testKey("Task", 1)}})
	require.NoError(t, err)
	require.Len(t, look.Found, 1)
	assert.Equal(t, int64(10), look.Found[0].Entity.Properties["n"].GetIntegerValue())
}

func TestCommitUpdateMissing(t *testing.T) {
	tr := newStubTranslator(t)

	_, err := tr.Commit(&pb.CommitRequest{
		Mode: pb.CommitRequest_NON_TRANSACTIONAL,
		Mutations: []*pb.Mutation{
			{Operation: &pb.Mutation_Update{Update: taskEntity(404, 1)}},
		},
	})
	assertCode(t, err, codes.NotFound)
}

func TestCommitUpdateRequiresCompleteKey(t *testing.T) {
	tr := newStubTranslator(t)

	_, err := tr.Commit(&pb.CommitRequest{
		Mode: pb.CommitRequest_NON_TRANSACTIONAL,
		Mutations: []*pb.Mutation{
			{Operation: &pb.Mutation_Update{Update: &pb.Entity{
				Key: &pb.Key{Path: []*pb.Key_PathElement{{Kind: "Task"}}},
			}}},
		},
	})
	assertCode(t, err, codes.InvalidArgument)
}

func TestCommitUpsertKeyReporting(t *testing.T) {
	tr := newStubTranslator(t)

	resp := mustCommit(t, tr,
		upsertMutation(taskEntity(1, 10)),
		upsertMutation(&pb.Entity{Key: &pb.Key{Path: []*pb.Key_PathElement{{Kind: "Task"}}}}),
	)
	require.Len(t, resp.MutationResults, 2)
	assert.Nil(t, resp.MutationResults[0].Key, "a complete upsert reports no key")
	require.NotNil(t, resp.MutationResults[1].Key)
	assert.NotZero(t, resp.MutationResults[1].Key.Path[0].GetId())
}

func TestCommitDeleteCost(t *testing.T) {
	tr := newStubTranslator(t)
	mustCommit(t, tr, upsertMutation(taskEntity(1, 10)))

	resp := mustCommit(t, tr, &pb.Mutation{Operation: &pb.Mutation_Delete{Delete: testKey("Task", 1)}})
	require.Len(t, resp.MutationResults, 1)
	assert.Equal(t, int32(1), resp.IndexUpdates)

	// Deleting what is already gone still succeeds, at no cost.
	resp = mustCommit(t, tr, &pb.Mutation{Operation: &pb.Mutation_Delete{Delete: testKey("Task", 1)}})
	require.Len(t, resp.MutationResults, 1)
	assert.Zero(t, resp.IndexUpdates)
}

func TestCommitMutationResultsKeepOrder(t *testing.T) {
	tr := newStubTranslator(t)

	resp := mustCommit(t, tr,
		upsertMutation(taskEntity(1, 10)),
		&pb.Mutation{Operation: &pb.Mutation_Delete{Delete: testKey("Task", 99)}},
		upsertMutation(&pb.Entity{Key: &pb.Key{Path: []*pb.Key_PathElement{{Kind: "Task"}}}}),
	)
	require.Len(t, resp.MutationResults, 3)
	assert.Nil(t, resp.MutationResults[0].Key)
	assert.Nil(t, resp.MutationResults[1].Key)
	assert.NotNil(t, resp.MutationResults[2].Key)
}

func TestCommitTransactional(t *testing.T) {
	tr := newStubTranslator(t)

	btResp, err := tr.BeginTransaction(&pb.BeginTransactionRequest{})
	require.NoError(t, err)

	resp, err := tr.Commit(&pb.CommitRequest{
		Mode:                pb.CommitRequest_TRANSACTIONAL,
		TransactionSelector: &pb.CommitRequest_Transaction{Transaction: btResp.Transaction},
		Mutations: []*pb.Mutation{
			upsertMutation(taskEntity(1, 10)),
			upsertMutation(taskEntity(2, 20)),
		},
	})
	require.NoError(t, err)
	require.Len(t, resp.MutationResults, 2)
	// Two applied writes plus one for the commit itself.
	assert.Equal(t, int32(3), resp.IndexUpdates)

	look, err := tr.Lookup(&pb.LookupRequest{Keys: []*pb.Key{testKey("Task", 1), testKey("Task", 2)}})
	require.NoError(t, err)
	assert.Len(t, look.Found, 2)
}

func TestCommitTransactionalConflict(t *testing.T) {
	tr := newStubTranslator(t)
	mustCommit(t, tr, upsertMutation(taskEntity(1, 10)))

	btResp, err := tr.BeginTransaction(&pb.BeginTransactionRequest{})
	require.NoError(t, err)

	// Reading inside the transaction pins the entity group's version.
	_, err = tr.Lookup(&pb.LookupRequest{
		Keys: []*pb.Key{testKey("Task", 1)},
		ReadOptions: &pb.ReadOptions{
			ConsistencyType: &pb.ReadOptions_Transaction{Transaction: btResp.Transaction},
		},
	})
	require.NoError(t, err)

	// A write outside the transaction moves the group forward.
	mustCommit(t, tr, upsertMutation(taskEntity(1, 99)))

	_, err = tr.Commit(&pb.CommitRequest{
		Mode:                pb.CommitRequest_TRANSACTIONAL,
		TransactionSelector: &pb.CommitRequest_Transaction{Transaction: btResp.Transaction},
		Mutations:           []*pb.Mutation{upsertMutation(taskEntity(1, 11))},
	})
	assertCode(t, err, codes.Aborted)

	// The loser's write never lands.
	look, err := tr.Lookup(&pb.LookupRequest{Keys: []*pb.Key{testKey("Task", 1)}})
	require.NoError(t, err)
	require.Len(t, look.Found, 1)
	assert.Equal(t, int64(99), look.Found[0].Entity.Properties["n"].GetIntegerValue())
}

func TestCommitTransactionWithNonTransactionalMode(t *testing.T) {
	tr := newStubTranslator(t)

	_, err := tr.Commit(&pb.CommitRequest{
		Mode:                pb.CommitRequest_NON_TRANSACTIONAL,
		TransactionSelector: &pb.CommitRequest_Transaction{Transaction: []byte("tx")},
		Mutations:           []*pb.Mutation{upsertMutation(taskEntity(1, 1))},
	})
	assertCode(t, err, codes.InvalidArgument)
}

func TestCommitEmptyTransactionHandle(t *testing.T) {
	tr := newStubTranslator(t)

	_, err := tr.Commit(&pb.CommitRequest{
		Mode:                pb.CommitRequest_TRANSACTIONAL,
		TransactionSelector: &pb.CommitRequest_Transaction{Transaction: nil},
	})
	assertCode(t, err, codes.InvalidArgument)
}

func TestCommitMutationWithoutOperation(t *testing.T) {
	tr := newStubTranslator(t)

	_, err := tr.Commit(&pb.CommitRequest{
		Mode:      pb.CommitRequest_NON_TRANSACTIONAL,
		Mutations: []*pb.Mutation{{}},
	})
	assertCode(t, err, codes.InvalidArgument)
}
