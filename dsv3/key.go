package dsv3

import (
	"fmt"
	"strings"
)

// Reference identifies a stored entity. It is the legacy analog of the
// public Key message: a flat (app, namespace, path) triple.
type Reference struct {
	App       string
	NameSpace string
	Path      []PathElement
}

// PathElement is one (kind, id-or-name) step of a Reference path.
// An element carrying neither an ID nor a Name marks the key incomplete;
// on the wire that slot rides as ID zero and consumers must ignore it.
type PathElement struct {
	Kind string
	ID   int64
	Name string
}

// Complete reports whether every path element carries an ID or a Name.
func (r *Reference) Complete() bool {
	for _, elem := range r.Path {
		if elem.ID == 0 && elem.Name == "" {
			return false
		}
	}
	return true
}

// Kind returns the kind of the last path element, or "" for an empty path.
func (r *Reference) Kind() string {
	if len(r.Path) == 0 {
		return ""
	}
	return r.Path[len(r.Path)-1].Kind
}

// Root returns a copy of the reference truncated to its first path element.
// Entities sharing a root belong to the same entity group.
func (r *Reference) Root() *Reference {
	return &Reference{
		App:       r.App,
		NameSpace: r.NameSpace,
		Path:      r.Path[:1],
	}
}

// HasAncestor reports whether anc is a strict or equal prefix of r within
// the same app and namespace.
func (r *Reference) HasAncestor(anc *Reference) bool {
	if r.App != anc.App || r.NameSpace != anc.NameSpace {
		return false
	}
	if len(anc.Path) > len(r.Path) {
		return false
	}
	for i, elem := range anc.Path {
		if r.Path[i] != elem {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (r *Reference) Clone() *Reference {
	if r == nil {
		return nil
	}
	x := *r
	x.Path = append([]PathElement(nil), r.Path...)
	return &x
}

// Equal reports field-by-field equality.
func (r *Reference) Equal(o *Reference) bool {
	if r == nil || o == nil {
		return r == o
	}
	if r.App != o.App || r.NameSpace != o.NameSpace || len(r.Path) != len(o.Path) {
		return false
	}
	for i, elem := range r.Path {
		if o.Path[i] != elem {
			return false
		}
	}
	return true
}

func (r *Reference) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s", r.App)
	if r.NameSpace != "" {
		fmt.Fprintf(&b, "!%s", r.NameSpace)
	}
	for _, elem := range r.Path {
		if elem.Name != "" {
			fmt.Fprintf(&b, "/%s,%q", elem.Kind, elem.Name)
		} else {
			fmt.Fprintf(&b, "/%s,%d", elem.Kind, elem.ID)
		}
	}
	return b.String()
}

// CompareReferences orders references the way the storage layer sorts keys:
// namespace, then path element by element (kind, then numeric IDs before
// names), shorter paths first.
func CompareReferences(a, b *Reference) int {
	if c := strings.Compare(a.NameSpace, b.NameSpace); c != 0 {
		return c
	}
	n := len(a.Path)
	if len(b.Path) < n {
		n = len(b.Path)
	}
	for i := 0; i < n; i++ {
		if c := comparePathElements(a.Path[i], b.Path[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a.Path) < len(b.Path):
		return -1
	case len(a.Path) > len(b.Path):
		return 1
	}
	return 0
}

func comparePathElements(a, b PathElement) int {
	if c := strings.Compare(a.Kind, b.Kind); c != 0 {
		return c
	}
	aNamed := a.Name != ""
	bNamed := b.Name != ""
	switch {
	case !aNamed && bNamed:
		return -1
	case aNamed && !bNamed:
		return 1
	case aNamed:
		return strings.Compare(a.Name, b.Name)
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}
