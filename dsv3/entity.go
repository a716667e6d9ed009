package dsv3

// Meaning disambiguates values that share an underlying storage type.
// The numeric values follow the original onestore definitions.
type Meaning int32

const (
	NoMeaning          Meaning = 0
	GDWhen             Meaning = 7
	GeoRSSPoint        Meaning = 9
	Blob               Meaning = 14
	Text               Meaning = 15
	ByteString         Meaning = 16
	IndexValue         Meaning = 18
	EntityProtoMeaning Meaning = 19
	EmptyList          Meaning = 24
)

// PropertyValue is the legacy tagged union over storable scalars. Exactly
// one pointer field is set; all nil means the null value.
type PropertyValue struct {
	Int64  *int64
	Bool   *bool
	Str    *[]byte
	Double *float64
	Point  *Point
	User   *User
	Ref    *Reference
}

// Point is a latitude/longitude pair.
type Point struct {
	Lat float64
	Lng float64
}

// User is the legacy account tuple.
type User struct {
	Email      string
	AuthDomain string
	UserID     string
}

// Property is a named value slot of an entity. Multiple marks one element
// of a repeated property; repeated elements ride as adjacent Property
// records sharing a name.
type Property struct {
	Name     string
	Value    PropertyValue
	Meaning  Meaning
	Multiple bool
}

// EntityProto is the legacy entity record. Indexed properties live in
// Properties, unindexed ones in RawProperties; an entity never lists the
// same name in both.
type EntityProto struct {
	Key           *Reference
	Properties    []Property
	RawProperties []Property
}

// Clone returns a deep copy. Value pointers are re-allocated so mutating
// the copy never reaches back into the original.
func (e *EntityProto) Clone() *EntityProto {
	if e == nil {
		return nil
	}
	x := &EntityProto{
		Key:           e.Key.Clone(),
		Properties:    cloneProperties(e.Properties),
		RawProperties: cloneProperties(e.RawProperties),
	}
	return x
}

func cloneProperties(ps []Property) []Property {
	if ps == nil {
		return nil
	}
	out := make([]Property, len(ps))
	for i, p := range ps {
		out[i] = p
		out[i].Value = p.Value.clone()
	}
	return out
}

func (v PropertyValue) clone() PropertyValue {
	var x PropertyValue
	if v.Int64 != nil {
		n := *v.Int64
		x.Int64 = &n
	}
	if v.Bool != nil {
		b := *v.Bool
		x.Bool = &b
	}
	if v.Str != nil {
		s := append([]byte(nil), *v.Str...)
		x.Str = &s
	}
	if v.Double != nil {
		d := *v.Double
		x.Double = &d
	}
	if v.Point != nil {
		p := *v.Point
		x.Point = &p
	}
	if v.User != nil {
		u := *v.User
		x.User = &u
	}
	if v.Ref != nil {
		x.Ref = v.Ref.Clone()
	}
	return x
}

// IsNull reports whether no union field is set.
func (v PropertyValue) IsNull() bool {
	return v.Int64 == nil && v.Bool == nil && v.Str == nil &&
		v.Double == nil && v.Point == nil && v.User == nil && v.Ref == nil
}
