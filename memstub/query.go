package memstub

import (
	"bytes"
	"sort"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/cloudshims/dsbridge/dsv3"
)

// cursorToken is the opaque position the stub hands out. Pos indexes into
// the sorted result set of an equivalent query; Live names a retained
// server-side stream for Next calls.
type cursorToken struct {
	Pos  int    `msgpack:"pos"`
	Live string `msgpack:"live,omitempty"`
}

type liveCursor struct {
	rest []*dsv3.EntityProto
	pos  int
}

func encodeCursor(tok cursorToken) []byte {
	b, err := msgpack.Marshal(tok)
	if err != nil {
		// The token is two plain fields; marshaling cannot fail.
		panic(err)
	}
	return b
}

func decodeCursor(b []byte) (cursorToken, error) {
	var tok cursorToken
	if err := msgpack.Unmarshal(b, &tok); err != nil {
		return tok, dsv3.Errorf(dsv3.BadRequest, "undecodable cursor")
	}
	if tok.Pos < 0 {
		return tok, dsv3.Errorf(dsv3.BadRequest, "cursor position out of range")
	}
	return tok, nil
}

func (s *Stub) runQuery(q *dsv3.Query, res *dsv3.QueryResult) error {
	tx, err := s.resolveTx(q.Transaction)
	if err != nil {
		return err
	}
	if tx != nil && q.Ancestor != nil {
		tx.observe(s, groupKey(q.Ancestor))
	}

	var matched []*dsv3.EntityProto
	for _, ent := range s.entities {
		if ent.Key.NameSpace != q.NameSpace {
			continue
		}
		if q.Kind != "" && ent.Key.Kind() != q.Kind {
			continue
		}
		if q.Ancestor != nil && !ent.Key.HasAncestor(q.Ancestor) {
			continue
		}
		if !matchFilters(ent, q.Filters) {
			continue
		}
		if !hasOrderProperties(ent, q.Orders) {
			continue
		}
		if len(q.PropertyNames) > 0 && !hasAllProperties(ent, q.PropertyNames) {
			continue
		}
		matched = append(matched, ent)
	}
	sortEntities(matched, q.Orders)

	start := 0
	if len(q.StartCursor) > 0 {
		tok, err := decodeCursor(q.StartCursor)
		if err != nil {
			return err
		}
		start = tok.Pos
	}
	end := len(matched)
	if len(q.EndCursor) > 0 {
		tok, err := decodeCursor(q.EndCursor)
		if err != nil {
			return err
		}
		if tok.Pos < end {
			end = tok.Pos
		}
	}
	if start > end {
		start = end
	}
	window := matched[start:end]

	skip := int(q.Offset)
	if skip > len(window) {
		skip = len(window)
	}
	res.SkippedResults = int32(skip)
	if skip > 0 {
		res.SkippedCursor = encodeCursor(cursorToken{Pos: start + skip})
	}
	window = window[skip:]

	truncated := false
	if q.Limit != nil && int(*q.Limit) < len(window) {
		window = window[:int(*q.Limit)]
		truncated = true
	}
	pos := start + skip + len(window)

	for _, ent := range window {
		res.Results = append(res.Results, shapeResult(ent, q))
	}
	res.KeysOnly = q.KeysOnly
	res.IndexOnly = len(q.PropertyNames) > 0
	res.MoreResults = truncated

	tok := cursorToken{Pos: pos}
	if truncated {
		rest := make([]*dsv3.EntityProto, 0, end-pos)
		for _, ent := range matched[pos:end] {
			rest = append(rest, shapeResult(ent, q))
		}
		tok.Live = uuid.NewString()
		s.cursors[tok.Live] = &liveCursor{rest: rest, pos: pos}
	}
	res.CompiledCursor = encodeCursor(tok)
	return nil
}

// next continues a result stream retained by an earlier truncated query.
func (s *Stub) next(req *dsv3.NextRequest, res *dsv3.QueryResult) error {
	tok, err := decodeCursor(req.Cursor)
	if err != nil {
		return err
	}
	lc, ok := s.cursors[tok.Live]
	if tok.Live == "" || !ok {
		return dsv3.Errorf(dsv3.BadRequest, "no result stream for cursor")
	}

	count := len(lc.rest)
	if req.Count > 0 && int(req.Count) < count {
		count = int(req.Count)
	}
	res.Results = append(res.Results, lc.rest[:count]...)
	lc.rest = lc.rest[count:]
	lc.pos += count

	out := cursorToken{Pos: lc.pos}
	if len(lc.rest) > 0 {
		out.Live = tok.Live
		res.MoreResults = true
	} else {
		delete(s.cursors, tok.Live)
	}
	res.CompiledCursor = encodeCursor(out)
	return nil
}

// shapeResult trims a stored entity down to the query's result shape.
func shapeResult(ent *dsv3.EntityProto, q *dsv3.Query) *dsv3.EntityProto {
	if q.KeysOnly {
		return &dsv3.EntityProto{Key: ent.Key.Clone()}
	}
	if len(q.PropertyNames) == 0 {
		return ent.Clone()
	}
	out := &dsv3.EntityProto{Key: ent.Key.Clone()}
	for _, p := range ent.Properties {
		for _, name := range q.PropertyNames {
			if p.Name == name {
				out.Properties = append(out.Properties, cloneProperty(p))
				break
			}
		}
	}
	return out
}

func cloneProperty(p dsv3.Property) dsv3.Property {
	single := &dsv3.EntityProto{Properties: []dsv3.Property{p}}
	return single.Clone().Properties[0]
}

// matchFilters applies the query's conjuncts. Only indexed properties
// participate; a multi-valued property matches when any element does.
func matchFilters(ent *dsv3.EntityProto, filters []dsv3.Filter) bool {
	for _, f := range filters {
		ok := false
		for _, p := range ent.Properties {
			if p.Name != f.Property {
				continue
			}
			if satisfies(compareValues(p.Value, f.Value), f.Op) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

func satisfies(cmp int, op dsv3.FilterOp) bool {
	switch op {
	case dsv3.LessThan:
		return cmp < 0
	case dsv3.LessThanOrEqual:
		return cmp <= 0
	case dsv3.GreaterThan:
		return cmp > 0
	case dsv3.GreaterThanOrEqual:
		return cmp >= 0
	case dsv3.Equal:
		return cmp == 0
	}
	return false
}

// hasOrderProperties mirrors the index behavior: an entity missing a sort
// property never appears in the ordered result.
func hasOrderProperties(ent *dsv3.EntityProto, orders []dsv3.Order) bool {
	for _, o := range orders {
		if _, ok := firstValue(ent, o.Property); !ok {
			return false
		}
	}
	return true
}

func hasAllProperties(ent *dsv3.EntityProto, names []string) bool {
	for _, name := range names {
		if _, ok := firstValue(ent, name); !ok {
			return false
		}
	}
	return true
}

func firstValue(ent *dsv3.EntityProto, name string) (dsv3.PropertyValue, bool) {
	for _, p := range ent.Properties {
		if p.Name == name {
			return p.Value, true
		}
	}
	return dsv3.PropertyValue{}, false
}

func sortEntities(ents []*dsv3.EntityProto, orders []dsv3.Order) {
	sort.SliceStable(ents, func(i, j int) bool {
		for _, o := range orders {
			av, _ := firstValue(ents[i], o.Property)
			bv, _ := firstValue(ents[j], o.Property)
			c := compareValues(av, bv)
			if o.Direction == dsv3.Descending {
				c = -c
			}
			if c != 0 {
				return c < 0
			}
		}
		return dsv3.CompareReferences(ents[i].Key, ents[j].Key) < 0
	})
}

// compareValues orders values the way the index does: first by storage
// type, then within the type. Cross-type comparisons are well-defined but
// only meaningful for sorting.
func compareValues(a, b dsv3.PropertyValue) int {
	ar, br := typeRank(a), typeRank(b)
	if ar != br {
		if ar < br {
			return -1
		}
		return 1
	}
	switch ar {
	case 0: // null
		return 0
	case 1:
		return compareInt64(*a.Int64, *b.Int64)
	case 2:
		switch {
		case !*a.Bool && *b.Bool:
			return -1
		case *a.Bool && !*b.Bool:
			return 1
		}
		return 0
	case 3:
		return bytes.Compare(*a.Str, *b.Str)
	case 4:
		switch {
		case *a.Double < *b.Double:
			return -1
		case *a.Double > *b.Double:
			return 1
		}
		return 0
	case 5:
		if c := compareFloat(a.Point.Lat, b.Point.Lat); c != 0 {
			return c
		}
		return compareFloat(a.Point.Lng, b.Point.Lng)
	case 6:
		if a.User.Email < b.User.Email {
			return -1
		}
		if a.User.Email > b.User.Email {
			return 1
		}
		return 0
	default:
		return dsv3.CompareReferences(a.Ref, b.Ref)
	}
}

func typeRank(v dsv3.PropertyValue) int {
	switch {
	case v.Int64 != nil:
		return 1
	case v.Bool != nil:
		return 2
	case v.Str != nil:
		return 3
	case v.Double != nil:
		return 4
	case v.Point != nil:
		return 5
	case v.User != nil:
		return 6
	case v.Ref != nil:
		return 7
	}
	return 0
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

