package translator

import (
	"reflect"

	pb "google.golang.org/genproto/googleapis/datastore/v1"

	"github.com/cloudshims/dsbridge/dsv3"
	"github.com/cloudshims/dsbridge/stub"
)

const keyPropertyName = "__key__"

// RunQuery translates a public query, runs it against the stub, and
// packages the results as a single batch.
func (t *Translator) RunQuery(req *pb.RunQueryRequest) (*pb.RunQueryResponse, error) {
	var q *pb.Query
	switch qt := req.GetQueryType().(type) {
	case *pb.RunQueryRequest_Query:
		q = qt.Query
	case *pb.RunQueryRequest_GqlQuery:
		return nil, unimplementedf("GQL queries are not supported")
	default:
		return nil, invalidf("run query request carries no query")
	}

	v3q, err := t.toV3Query(q, req.PartitionId, req.ReadOptions)
	if err != nil {
		return nil, err
	}

	res := &dsv3.QueryResult{}
	if err := t.gw.Call(stub.MethodRunQuery, v3q, res); err != nil {
		return nil, fromStub(err)
	}

	batch, err := t.toV1Batch(q, v3q, res)
	if err != nil {
		return nil, err
	}
	return &pb.RunQueryResponse{Batch: batch}, nil
}

// toV3Query builds the legacy query message, normalizing filters and
// validating the shape rules the legacy side cannot express.
func (t *Translator) toV3Query(q *pb.Query, partition *pb.PartitionId, ro *pb.ReadOptions) (*dsv3.Query, error) {
	if q == nil {
		return nil, invalidf("query is missing")
	}
	ns := ""
	if partition != nil {
		if partition.ProjectId != "" && partition.ProjectId != t.projectID {
			return nil, invalidf("mismatched project id %q, expected %q", partition.ProjectId, t.projectID)
		}
		ns = partition.NamespaceId
	}
	v3q := &dsv3.Query{App: t.appID, NameSpace: ns}

	if len(q.Kind) > 1 {
		return nil, invalidf("queries may carry at most one kind, got %d", len(q.Kind))
	}
	if len(q.Kind) == 1 {
		if q.Kind[0].GetName() == "" {
			return nil, invalidf("kind expression is missing a name")
		}
		v3q.Kind = q.Kind[0].Name
	}
	if len(q.DistinctOn) > 0 {
		return nil, unimplementedf("distinct on is not supported")
	}

	ineqProp, err := t.addFilters(v3q, q.Filter)
	if err != nil {
		return nil, err
	}

	for _, o := range q.Order {
		name := o.GetProperty().GetName()
		if name == "" {
			return nil, invalidf("ordering is missing a property name")
		}
		dir := dsv3.Ascending
		if o.Direction == pb.PropertyOrder_DESCENDING {
			dir = dsv3.Descending
		}
		v3q.Orders = append(v3q.Orders, dsv3.Order{Property: name, Direction: dir})
	}
	if ineqProp != "" && len(v3q.Orders) > 0 && v3q.Orders[0].Property != ineqProp {
		return nil, invalidf("the first sort property must be the same as the inequality filter property, got %q and %q",
			v3q.Orders[0].Property, ineqProp)
	}

	names := make([]string, 0, len(q.Projection))
	for _, p := range q.Projection {
		name := p.GetProperty().GetName()
		if name == "" {
			return nil, invalidf("projection is missing a property name")
		}
		names = append(names, name)
	}
	if len(names) == 1 && names[0] == keyPropertyName {
		v3q.KeysOnly = true
	} else if len(names) > 0 {
		v3q.PropertyNames = names
	}

	if q.Offset < 0 {
		return nil, invalidf("offset must not be negative, got %d", q.Offset)
	}
	v3q.Offset = q.Offset
	if q.Limit != nil {
		if q.Limit.Value <= 0 {
			return nil, invalidf("limit must be positive, got %d", q.Limit.Value)
		}
		l := q.Limit.Value
		v3q.Limit = &l
	}
	v3q.StartCursor = q.StartCursor
	v3q.EndCursor = q.EndCursor

	switch ct := ro.GetConsistencyType().(type) {
	case *pb.ReadOptions_Transaction:
		v3q.Transaction = &dsv3.Transaction{Handle: ct.Transaction}
	case *pb.ReadOptions_ReadConsistency_:
		if ct.ReadConsistency == pb.ReadOptions_EVENTUAL {
			v3q.FailoverMS = -1
		}
	}
	return v3q, nil
}

// addFilters flattens the filter tree into legacy conjuncts, lifting the
// ancestor filter into its dedicated slot. It returns the property carrying
// inequality filters, if any.
func (t *Translator) addFilters(v3q *dsv3.Query, f *pb.Filter) (string, error) {
	var conjuncts []*pb.PropertyFilter
	if err := flattenFilter(f, &conjuncts); err != nil {
		return "", err
	}

	eq := make(map[string]dsv3.PropertyValue)
	ineqProp := ""
	for _, pf := range conjuncts {
		prop := pf.GetProperty().GetName()
		if prop == "" {
			return "", invalidf("filter is missing a property name")
		}

		if pf.Op == pb.PropertyFilter_HAS_ANCESTOR {
			if prop != keyPropertyName {
				return "", invalidf("ancestor filters must apply to %s, got %q", keyPropertyName, prop)
			}
			kv, ok := pf.GetValue().GetValueType().(*pb.Value_KeyValue)
			if !ok {
				return "", invalidf("ancestor filter value must be a key")
			}
			if v3q.Ancestor != nil {
				return "", invalidf("queries may carry at most one ancestor filter")
			}
			ref, err := t.toCompleteV3Reference(kv.KeyValue)
			if err != nil {
				return "", err
			}
			if ref.NameSpace != v3q.NameSpace {
				return "", invalidf("ancestor namespace %q does not match the query namespace %q", ref.NameSpace, v3q.NameSpace)
			}
			v3q.Ancestor = ref
			continue
		}

		var op dsv3.FilterOp
		switch pf.Op {
		case pb.PropertyFilter_LESS_THAN:
			op = dsv3.LessThan
		case pb.PropertyFilter_LESS_THAN_OR_EQUAL:
			op = dsv3.LessThanOrEqual
		case pb.PropertyFilter_GREATER_THAN:
			op = dsv3.GreaterThan
		case pb.PropertyFilter_GREATER_THAN_OR_EQUAL:
			op = dsv3.GreaterThanOrEqual
		case pb.PropertyFilter_EQUAL:
			op = dsv3.Equal
		default:
			return "", invalidf("unsupported filter operator %s", pf.Op)
		}

		fv := pf.GetValue()
		if fv == nil {
			return "", invalidf("filter on %q carries no value", prop)
		}
		if fv.ExcludeFromIndexes {
			return "", invalidf("filter on %q uses an unindexed value", prop)
		}
		if _, ok := fv.ValueType.(*pb.Value_ArrayValue); ok {
			return "", invalidf("filter on %q uses an array value", prop)
		}
		pv, _, err := t.toV3Value(fv)
		if err != nil {
			return "", err
		}

		if op == dsv3.Equal {
			if prev, ok := eq[prop]; ok && !reflect.DeepEqual(prev, pv) {
				return "", invalidf("conflicting equality filters on %q", prop)
			}
			eq[prop] = pv
		} else {
			if ineqProp != "" && ineqProp != prop {
				return "", invalidf("only one property may carry inequality filters, got %q and %q", ineqProp, prop)
			}
			ineqProp = prop
		}

		v3q.Filters = append(v3q.Filters, dsv3.Filter{Op: op, Property: prop, Value: pv})
	}
	return ineqProp, nil
}

func flattenFilter(f *pb.Filter, out *[]*pb.PropertyFilter) error {
	if f == nil {
		return nil
	}
	switch ft := f.FilterType.(type) {
	case *pb.Filter_CompositeFilter:
		cf := ft.CompositeFilter
		if cf.Op != pb.CompositeFilter_AND {
			return invalidf("unsupported composite filter operator %s", cf.Op)
		}
		for _, sub := range cf.Filters {
			if err := flattenFilter(sub, out); err != nil {
				return err
			}
		}
	case *pb.Filter_PropertyFilter:
		*out = append(*out, ft.PropertyFilter)
	default:
		return invalidf("filter carries no type")
	}
	return nil
}

// toV1Batch shapes the stub's result stream into the public batch,
// including the conservative moreResults disposition.
func (t *Translator) toV1Batch(q *pb.Query, v3q *dsv3.Query, res *dsv3.QueryResult) (*pb.QueryResultBatch, error) {
	batch := &pb.QueryResultBatch{
		EndCursor: res.CompiledCursor,
	}
	switch {
	case v3q.KeysOnly:
		batch.EntityResultType = pb.EntityResult_KEY_ONLY
	case len(v3q.PropertyNames) > 0:
		batch.EntityResultType = pb.EntityResult_PROJECTION
	default:
		batch.EntityResultType = pb.EntityResult_FULL
	}

	for _, ep := range res.Results {
		var ent *pb.Entity
		if v3q.KeysOnly {
			ent = &pb.Entity{Key: t.toV1Key(ep.Key)}
		} else {
			var err error
			ent, err = t.toV1Entity(ep, false)
			if err != nil {
				return nil, err
			}
		}
		batch.EntityResults = append(batch.EntityResults, &pb.EntityResult{
			Entity:  ent,
			Version: entityVersion,
		})
	}

	switch {
	case v3q.Limit != nil && int32(len(res.Results)) >= *v3q.Limit:
		batch.MoreResults = pb.QueryResultBatch_MORE_RESULTS_AFTER_LIMIT
	case len(q.EndCursor) > 0:
		batch.MoreResults = pb.QueryResultBatch_MORE_RESULTS_AFTER_CURSOR
	default:
		batch.MoreResults = pb.QueryResultBatch_NO_MORE_RESULTS
	}

	if v3q.Offset > 0 {
		batch.SkippedResults = v3q.Offset
		batch.SkippedCursor = res.SkippedCursor
	}
	return batch, nil
}
