package dsv3

// Filter operators, numbered per the original definitions.
type FilterOp int32

const (
	LessThan           FilterOp = 1
	LessThanOrEqual    FilterOp = 2
	GreaterThan        FilterOp = 3
	GreaterThanOrEqual FilterOp = 4
	Equal              FilterOp = 5
)

type SortDirection int32

const (
	Ascending  SortDirection = 1
	Descending SortDirection = 2
)

// Filter restricts a query to entities whose named property compares
// against Value under Op.
type Filter struct {
	Op       FilterOp
	Property string
	Value    PropertyValue
}

// Order is one sort criterion.
type Order struct {
	Property  string
	Direction SortDirection
}

// Query is the legacy query message. At most one Kind; Ancestor restricts
// results to one entity group. PropertyNames non-empty requests a
// projection; KeysOnly strips entities down to their references.
type Query struct {
	App           string
	NameSpace     string
	Kind          string
	Ancestor      *Reference
	Filters       []Filter
	Orders        []Order
	KeysOnly      bool
	PropertyNames []string
	Offset        int32
	Limit         *int32
	StartCursor   []byte
	EndCursor     []byte
	Transaction   *Transaction
	// FailoverMS below zero requests an eventually consistent read.
	FailoverMS int64
}

// QueryResult is the batch answer to a RunQuery or Next call.
type QueryResult struct {
	Results        []*EntityProto
	SkippedResults int32
	SkippedCursor  []byte
	CompiledCursor []byte
	MoreResults    bool
	KeysOnly       bool
	IndexOnly      bool
}

// NextRequest resumes a server-side result stream from a cursor.
type NextRequest struct {
	Cursor []byte
	Count  int32
}
