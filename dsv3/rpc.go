package dsv3

// Cost reports the write amplification of a mutating call.
type Cost struct {
	IndexWrites int32
}

// Transaction is an opaque handle issued by BeginTransaction.
type Transaction struct {
	Handle []byte
}

type BeginTransactionRequest struct {
	App string
}

type GetRequest struct {
	Keys        []*Reference
	Transaction *Transaction
	// FailoverMS below zero requests an eventually consistent read.
	FailoverMS int64
}

// GetResponseEntity pairs a requested key with the stored entity, Entity
// being nil when nothing is stored under the key.
type GetResponseEntity struct {
	Key    *Reference
	Entity *EntityProto
}

type GetResponse struct {
	Entities []GetResponseEntity
}

type PutRequest struct {
	Entities    []*EntityProto
	Transaction *Transaction
}

type PutResponse struct {
	// Keys holds the stored keys in input order, with IDs filled in for
	// entities that arrived incomplete.
	Keys []*Reference
	Cost Cost
}

type DeleteRequest struct {
	Keys        []*Reference
	Transaction *Transaction
}

type DeleteResponse struct {
	Cost Cost
}

type CommitRequest struct {
	Transaction *Transaction
}

type CommitResponse struct {
	Cost Cost
}

type RollbackRequest struct {
	Transaction *Transaction
}

type RollbackResponse struct{}

// AllocateIDsRequest asks the range allocator for Size consecutive numeric
// IDs usable under ModelKey's kind and parent. ModelKey's trailing element
// is incomplete.
type AllocateIDsRequest struct {
	ModelKey *Reference
	Size     int64
}

type AllocateIDsResponse struct {
	Start int64
	End   int64
}
