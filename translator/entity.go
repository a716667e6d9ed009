package translator

import (
	"sort"

	pb "google.golang.org/genproto/googleapis/datastore/v1"

	"github.com/cloudshims/dsbridge/dsv3"
)

// toV3Entity converts a public entity into its legacy record. Top-level
// entities must carry a key; embedded ones may omit it, in which case an
// empty-path incomplete reference stands in (and is stripped again on the
// way back). Properties are emitted in name order, split across the
// indexed and raw lists.
func (t *Translator) toV3Entity(e *pb.Entity, embedded bool) (*dsv3.EntityProto, error) {
	if e == nil {
		return nil, invalidf("entity is missing")
	}
	var ref *dsv3.Reference
	var err error
	switch {
	case e.Key != nil:
		ref, err = t.toV3Reference(e.Key)
		if err != nil {
			return nil, err
		}
	case embedded:
		ref = &dsv3.Reference{App: t.appID}
	default:
		return nil, invalidf("entity is missing a key")
	}

	names := make([]string, 0, len(e.GetProperties()))
	for name := range e.GetProperties() {
		names = append(names, name)
	}
	sort.Strings(names)

	ent := &dsv3.EntityProto{Key: ref}
	for _, name := range names {
		props, raw, err := t.toV3Properties(name, e.Properties[name])
		if err != nil {
			return nil, err
		}
		if raw {
			ent.RawProperties = append(ent.RawProperties, props...)
		} else {
			ent.Properties = append(ent.Properties, props...)
		}
	}
	return ent, nil
}

// toV1Entity is the inverse of toV3Entity. A synthesized empty-path key on
// an embedded entity is dropped rather than surfaced.
func (t *Translator) toV1Entity(e *dsv3.EntityProto, embedded bool) (*pb.Entity, error) {
	if e == nil {
		return nil, unknownf("legacy entity is missing")
	}
	ent := &pb.Entity{Properties: map[string]*pb.Value{}}
	if e.Key != nil && len(e.Key.Path) > 0 {
		ent.Key = t.toV1Key(e.Key)
	} else if !embedded {
		return nil, unknownf("legacy entity is missing a key")
	}
	if err := t.toV1Properties(e.Properties, true, ent.Properties); err != nil {
		return nil, err
	}
	if err := t.toV1Properties(e.RawProperties, false, ent.Properties); err != nil {
		return nil, err
	}
	return ent, nil
}
