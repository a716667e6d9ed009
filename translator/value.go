package translator

import (
	pb "google.golang.org/genproto/googleapis/datastore/v1"
	"google.golang.org/genproto/googleapis/type/latlng"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/cloudshims/dsbridge/dsv3"
)

// meaningUserEntity tags a public entity value that carries a legacy user
// tuple. The legacy side stores users in a dedicated union field, so the
// tag only ever appears on the public wire.
const meaningUserEntity = 20

// toV3Value converts one public scalar value into a legacy value plus the
// meaning to store alongside it. Array values never reach here; the
// property layer unrolls them first.
func (t *Translator) toV3Value(v *pb.Value) (dsv3.PropertyValue, dsv3.Meaning, error) {
	var pv dsv3.PropertyValue
	var meaning dsv3.Meaning

	switch vt := v.ValueType.(type) {
	case nil:
		return pv, 0, invalidf("value carries no type")

	case *pb.Value_NullValue:
		// The null value is the unset union.

	case *pb.Value_BooleanValue:
		b := vt.BooleanValue
		pv.Bool = &b

	case *pb.Value_IntegerValue:
		n := vt.IntegerValue
		pv.Int64 = &n

	case *pb.Value_DoubleValue:
		d := vt.DoubleValue
		pv.Double = &d

	case *pb.Value_TimestampValue:
		if err := vt.TimestampValue.CheckValid(); err != nil {
			return pv, 0, invalidf("invalid timestamp value: %v", err)
		}
		us := timestampToMicros(vt.TimestampValue)
		pv.Int64 = &us
		meaning = dsv3.GDWhen

	case *pb.Value_StringValue:
		b := []byte(vt.StringValue)
		pv.Str = &b
		if v.ExcludeFromIndexes {
			meaning = dsv3.Text
		}

	case *pb.Value_BlobValue:
		b := append([]byte(nil), vt.BlobValue...)
		pv.Str = &b
		if v.ExcludeFromIndexes {
			meaning = dsv3.Blob
		} else {
			meaning = dsv3.ByteString
		}

	case *pb.Value_KeyValue:
		ref, err := t.toV3Reference(vt.KeyValue)
		if err != nil {
			return pv, 0, err
		}
		pv.Ref = ref

	case *pb.Value_GeoPointValue:
		pv.Point = &dsv3.Point{
			Lat: vt.GeoPointValue.GetLatitude(),
			Lng: vt.GeoPointValue.GetLongitude(),
		}
		meaning = dsv3.GeoRSSPoint

	case *pb.Value_EntityValue:
		if v.Meaning == meaningUserEntity {
			u, err := toV3User(vt.EntityValue)
			if err != nil {
				return pv, 0, err
			}
			pv.User = u
			return pv, 0, nil
		}
		inner, err := t.toV3Entity(vt.EntityValue, true)
		if err != nil {
			return pv, 0, err
		}
		b, err := dsv3.EncodeEntity(inner)
		if err != nil {
			return pv, 0, invalidf("unencodable entity value: %v", err)
		}
		pv.Str = &b
		meaning = dsv3.EntityProtoMeaning

	case *pb.Value_ArrayValue:
		return pv, 0, invalidf("nested array values are not allowed")

	default:
		return pv, 0, invalidf("unknown value type %T", vt)
	}

	// An explicit meaning on the wire wins over the defaults above; the
	// user tag never reaches the legacy side.
	if v.Meaning != 0 && v.Meaning != meaningUserEntity {
		meaning = dsv3.Meaning(v.Meaning)
	}
	return pv, meaning, nil
}

// toV1Value converts a legacy value and its meaning back into a public
// value. Meanings implied by the public wire tag are dropped; the rest are
// carried through verbatim so a round trip reproduces the original.
func (t *Translator) toV1Value(pv dsv3.PropertyValue, meaning dsv3.Meaning, indexed bool) (*pb.Value, error) {
	v := &pb.Value{ExcludeFromIndexes: !indexed}

	switch {
	case pv.IsNull():
		v.ValueType = &pb.Value_NullValue{NullValue: structpb.NullValue_NULL_VALUE}
		v.Meaning = int32(meaning)

	case pv.Int64 != nil:
		if meaning == dsv3.GDWhen {
			ts := microsToTimestamp(*pv.Int64)
			if ts.CheckValid() == nil {
				v.ValueType = &pb.Value_TimestampValue{TimestampValue: ts}
			} else {
				// Out of ISO-8601 range; ride on the integer with the
				// meaning kept visible.
				v.ValueType = &pb.Value_IntegerValue{IntegerValue: *pv.Int64}
				v.Meaning = int32(dsv3.GDWhen)
			}
		} else {
			v.ValueType = &pb.Value_IntegerValue{IntegerValue: *pv.Int64}
			v.Meaning = int32(meaning)
		}

	case pv.Bool != nil:
		v.ValueType = &pb.Value_BooleanValue{BooleanValue: *pv.Bool}
		v.Meaning = int32(meaning)

	case pv.Double != nil:
		v.ValueType = &pb.Value_DoubleValue{DoubleValue: *pv.Double}
		v.Meaning = int32(meaning)

	case pv.Str != nil:
		b := *pv.Str
		switch meaning {
		case dsv3.NoMeaning:
			v.ValueType = &pb.Value_StringValue{StringValue: string(b)}
		case dsv3.Text:
			v.ValueType = &pb.Value_StringValue{StringValue: string(b)}
		case dsv3.EntityProtoMeaning:
			inner, err := dsv3.DecodeEntity(b)
			if err != nil {
				return nil, fromStub(dsv3.Errorf(dsv3.InternalError, "undecodable embedded entity: %v", err))
			}
			ent, err := t.toV1Entity(inner, true)
			if err != nil {
				return nil, err
			}
			v.ValueType = &pb.Value_EntityValue{EntityValue: ent}
		case dsv3.Blob:
			v.ValueType = &pb.Value_BlobValue{BlobValue: b}
			if indexed {
				v.Meaning = int32(dsv3.Blob)
			}
		case dsv3.ByteString:
			v.ValueType = &pb.Value_BlobValue{BlobValue: b}
			if !indexed {
				v.Meaning = int32(dsv3.ByteString)
			}
		default:
			v.ValueType = &pb.Value_BlobValue{BlobValue: b}
			v.Meaning = int32(meaning)
		}

	case pv.Point != nil:
		v.ValueType = &pb.Value_GeoPointValue{GeoPointValue: &latlng.LatLng{
			Latitude:  pv.Point.Lat,
			Longitude: pv.Point.Lng,
		}}
		if meaning != dsv3.GeoRSSPoint {
			v.Meaning = int32(meaning)
		}

	case pv.Ref != nil:
		v.ValueType = &pb.Value_KeyValue{KeyValue: t.toV1Key(pv.Ref)}
		v.Meaning = int32(meaning)

	case pv.User != nil:
		v.ValueType = &pb.Value_EntityValue{EntityValue: toV1UserEntity(pv.User)}
		v.Meaning = meaningUserEntity

	default:
		return nil, unknownf("unknown legacy value shape")
	}
	return v, nil
}

// toV3Properties converts one named public value into its legacy property
// records plus whether they belong in the unindexed list. Arrays unroll
// into one record per element with Multiple set; their elements must agree
// on the indexing flag.
func (t *Translator) toV3Properties(name string, v *pb.Value) ([]dsv3.Property, bool, error) {
	if name == "" {
		return nil, false, invalidf("property name is empty")
	}
	if v == nil {
		return nil, false, invalidf("property %q carries no value", name)
	}

	if av, ok := v.ValueType.(*pb.Value_ArrayValue); ok {
		vals := av.ArrayValue.GetValues()
		if len(vals) == 0 {
			// An empty list survives as a single valueless record.
			return []dsv3.Property{{Name: name, Meaning: dsv3.EmptyList}}, v.ExcludeFromIndexes, nil
		}
		raw := vals[0].ExcludeFromIndexes
		props := make([]dsv3.Property, 0, len(vals))
		for i, el := range vals {
			if el.ExcludeFromIndexes != raw {
				return nil, false, unimplementedf("property %q mixes indexed and unindexed array elements", name)
			}
			if _, ok := el.ValueType.(*pb.Value_ArrayValue); ok {
				return nil, false, invalidf("property %q nests an array inside an array", name)
			}
			pv, meaning, err := t.toV3Value(el)
			if err != nil {
				return nil, false, propertyError(name, i, err)
			}
			props = append(props, dsv3.Property{Name: name, Value: pv, Meaning: meaning, Multiple: true})
		}
		return props, raw, nil
	}

	pv, meaning, err := t.toV3Value(v)
	if err != nil {
		return nil, false, propertyError(name, -1, err)
	}
	raw := v.ExcludeFromIndexes
	switch meaning {
	case dsv3.Text, dsv3.Blob, dsv3.EntityProtoMeaning:
		// These ride on unindexable storage.
		raw = true
	}
	return []dsv3.Property{{Name: name, Value: pv, Meaning: meaning}}, raw, nil
}

// toV1Properties converts one legacy property list into public values,
// regrouping Multiple records that share a name into a single array value.
// The entity-level indexing flag is attached to every element.
func (t *Translator) toV1Properties(props []dsv3.Property, indexed bool, out map[string]*pb.Value) error {
	var grouped map[string]bool
	for idx, p := range props {
		if p.Meaning == dsv3.EmptyList {
			out[p.Name] = &pb.Value{
				ValueType:          &pb.Value_ArrayValue{ArrayValue: &pb.ArrayValue{}},
				ExcludeFromIndexes: !indexed,
			}
			continue
		}
		if !p.Multiple {
			v, err := t.toV1Value(p.Value, p.Meaning, indexed)
			if err != nil {
				return err
			}
			out[p.Name] = v
			continue
		}
		if grouped == nil {
			grouped = make(map[string]bool)
		} else if grouped[p.Name] {
			continue
		}
		grouped[p.Name] = true

		av := &pb.ArrayValue{}
		for _, p2 := range props[idx:] {
			if p2.Name != p.Name {
				continue
			}
			v, err := t.toV1Value(p2.Value, p2.Meaning, indexed)
			if err != nil {
				return err
			}
			av.Values = append(av.Values, v)
		}
		out[p.Name] = &pb.Value{ValueType: &pb.Value_ArrayValue{ArrayValue: av}}
	}
	return nil
}

func toV3User(e *pb.Entity) (*dsv3.User, error) {
	u := &dsv3.User{}
	for name, v := range e.GetProperties() {
		sv, ok := v.GetValueType().(*pb.Value_StringValue)
		if !ok {
			return nil, invalidf("user entity property %q is not a string", name)
		}
		switch name {
		case "email":
			u.Email = sv.StringValue
		case "auth_domain":
			u.AuthDomain = sv.StringValue
		case "user_id":
			u.UserID = sv.StringValue
		default:
			return nil, invalidf("unexpected user entity property %q", name)
		}
	}
	if u.Email == "" {
		return nil, invalidf("user entity is missing an email")
	}
	return u, nil
}

func toV1UserEntity(u *dsv3.User) *pb.Entity {
	props := map[string]*pb.Value{
		"email": {
			ValueType:          &pb.Value_StringValue{StringValue: u.Email},
			ExcludeFromIndexes: true,
		},
		"auth_domain": {
			ValueType:          &pb.Value_StringValue{StringValue: u.AuthDomain},
			ExcludeFromIndexes: true,
		},
	}
	if u.UserID != "" {
		props["user_id"] = &pb.Value{
			ValueType:          &pb.Value_StringValue{StringValue: u.UserID},
			ExcludeFromIndexes: true,
		}
	}
	return &pb.Entity{Properties: props}
}

func propertyError(name string, idx int, err error) error {
	// Validation errors already carry a status; keep its code and just
	// point the message at the slot.
	code := status.Code(err)
	if idx >= 0 {
		return status.Errorf(code, "property %q element %d: %v", name, idx, statusMessage(err))
	}
	return status.Errorf(code, "property %q: %v", name, statusMessage(err))
}

func timestampToMicros(ts *timestamppb.Timestamp) int64 {
	return ts.GetSeconds()*1e6 + int64(ts.GetNanos())/1e3
}

func microsToTimestamp(us int64) *timestamppb.Timestamp {
	sec := us / 1e6
	rem := us % 1e6
	if rem < 0 {
		sec--
		rem += 1e6
	}
	return &timestamppb.Timestamp{Seconds: sec, Nanos: int32(rem) * 1e3}
}
