// Package stub defines the synchronous gateway into the legacy datastore
// service. The translator depends only on this interface; the concrete
// backend (see memstub) is injected at construction time.
package stub

// Legacy service method names.
const (
	MethodGet              = "Get"
	MethodPut              = "Put"
	MethodDelete           = "Delete"
	MethodRunQuery         = "RunQuery"
	MethodNext             = "Next"
	MethodBeginTransaction = "BeginTransaction"
	MethodCommit           = "Commit"
	MethodRollback         = "Rollback"
	MethodAllocateIDs      = "AllocateIds"
)

// Gateway is the single entry point into the legacy service. in and out are
// pointers to the dsv3 request and response types matching method; the call
// either fills out and returns nil, or returns a *dsv3.Error (or an opaque
// error for faults the service could not classify).
//
// Implementations must be safe for concurrent callers and serialize
// internally as needed.
type Gateway interface {
	Call(method string, in, out interface{}) error
}
