package memstub

import (
	"github.com/cloudshims/dsbridge/dsv3"
)

// txn buffers the writes of one open transaction. Reads and writes record
// the version of every entity group they touch; commit re-checks those
// versions and fails with CONCURRENT_TRANSACTION when another commit got
// there first.
type txn struct {
	handle   []byte
	observed map[string]int64
	written  map[string]*dsv3.EntityProto
	deleted  map[string]bool
}

// observe snapshots an entity group's version the first time the
// transaction touches it.
func (tx *txn) observe(s *Stub, group string) {
	if _, ok := tx.observed[group]; !ok {
		tx.observed[group] = s.groups[group]
	}
}

func (tx *txn) write(ent *dsv3.EntityProto) {
	k := refKey(ent.Key)
	delete(tx.deleted, k)
	tx.written[k] = ent
}

func (tx *txn) remove(ref *dsv3.Reference) {
	k := refKey(ref)
	delete(tx.written, k)
	tx.deleted[k] = true
}
