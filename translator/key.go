package translator

import (
	pb "google.golang.org/genproto/googleapis/datastore/v1"

	"github.com/cloudshims/dsbridge/dsv3"
)

// toV3Reference converts a public key into a legacy reference. The
// partition's project identifier, when present, must match the served
// project. A trailing path element with neither id nor name is carried
// through as the legacy incomplete sentinel (id zero); an incomplete
// element anywhere else is rejected.
func (t *Translator) toV3Reference(key *pb.Key) (*dsv3.Reference, error) {
	if key == nil {
		return nil, invalidf("key is missing")
	}
	if len(key.Path) == 0 {
		return nil, invalidf("key path is empty")
	}
	ns := ""
	if p := key.PartitionId; p != nil {
		if p.ProjectId != "" && p.ProjectId != t.projectID {
			return nil, invalidf("mismatched project id %q, expected %q", p.ProjectId, t.projectID)
		}
		ns = p.NamespaceId
	}
	path := make([]dsv3.PathElement, 0, len(key.Path))
	for i, elem := range key.Path {
		if elem.Kind == "" {
			return nil, invalidf("key path element %d is missing a kind", i)
		}
		pe := dsv3.PathElement{Kind: elem.Kind}
		switch id := elem.IdType.(type) {
		case *pb.Key_PathElement_Id:
			if id.Id == 0 {
				return nil, invalidf("key path element %d has reserved id 0", i)
			}
			pe.ID = id.Id
		case *pb.Key_PathElement_Name:
			if id.Name == "" {
				return nil, invalidf("key path element %d has an empty name", i)
			}
			pe.Name = id.Name
		case nil:
			if i != len(key.Path)-1 {
				return nil, invalidf("key path element %d is incomplete", i)
			}
			// Trailing slot stays at the zero sentinel.
		}
		path = append(path, pe)
	}
	return &dsv3.Reference{App: t.appID, NameSpace: ns, Path: path}, nil
}

// toCompleteV3Reference is toV3Reference plus a completeness check.
func (t *Translator) toCompleteV3Reference(key *pb.Key) (*dsv3.Reference, error) {
	ref, err := t.toV3Reference(key)
	if err != nil {
		return nil, err
	}
	if !ref.Complete() {
		return nil, invalidf("key %s is not complete", ref)
	}
	return ref, nil
}

// toAllocatableV3Reference accepts only keys whose trailing element is
// incomplete and whose earlier elements are complete, the shape AllocateIds
// requires.
func (t *Translator) toAllocatableV3Reference(key *pb.Key) (*dsv3.Reference, error) {
	ref, err := t.toV3Reference(key)
	if err != nil {
		return nil, err
	}
	last := ref.Path[len(ref.Path)-1]
	if last.ID != 0 || last.Name != "" {
		return nil, invalidf("key %s is complete, the last path element must have neither id nor name", ref)
	}
	for i, elem := range ref.Path[:len(ref.Path)-1] {
		if elem.ID == 0 && elem.Name == "" {
			return nil, invalidf("key path element %d is incomplete", i)
		}
	}
	return ref, nil
}

// toV1Key converts a legacy reference back into a public key. The partition
// prefix is stripped from the project identifier. The zero id never leaks
// out: a slot carrying it is emitted with neither id nor name.
func (t *Translator) toV1Key(ref *dsv3.Reference) *pb.Key {
	key := &pb.Key{
		PartitionId: &pb.PartitionId{
			ProjectId:   StripPartitionPrefix(ref.App),
			NamespaceId: ref.NameSpace,
		},
		Path: make([]*pb.Key_PathElement, 0, len(ref.Path)),
	}
	for _, elem := range ref.Path {
		pe := &pb.Key_PathElement{Kind: elem.Kind}
		switch {
		case elem.Name != "":
			pe.IdType = &pb.Key_PathElement_Name{Name: elem.Name}
		case elem.ID != 0:
			pe.IdType = &pb.Key_PathElement_Id{Id: elem.ID}
		}
		key.Path = append(key.Path, pe)
	}
	return key
}
