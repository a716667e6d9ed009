package memstub

import (
	"encoding/binary"

	bolt "go.etcd.io/bbolt"

	"github.com/cloudshims/dsbridge/dsv3"
)

var (
	bucketEntities = []byte("entities")
	bucketMeta     = []byte("meta")
	keyNextID      = []byte("next_id")
)

// persistence snapshots stub state into a bbolt file so a dev server keeps
// its data across restarts. Every mutation writes through; the in-memory
// maps stay authoritative for reads.
type persistence struct {
	path string
	db   *bolt.DB
}

func (p *persistence) open() error {
	db, err := bolt.Open(p.path, 0o600, nil)
	if err != nil {
		return err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketEntities); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketMeta)
		return err
	})
	if err != nil {
		db.Close()
		return err
	}
	p.db = db
	return nil
}

func (p *persistence) close() error {
	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	return err
}

func (p *persistence) load(s *Stub) error {
	return p.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketMeta).Get(keyNextID); len(v) == 8 {
			s.nextID = int64(binary.BigEndian.Uint64(v))
		}
		return tx.Bucket(bucketEntities).ForEach(func(k, v []byte) error {
			ent, err := dsv3.DecodeEntity(v)
			if err != nil {
				return err
			}
			s.entities[string(k)] = ent
			s.groups[groupKey(ent.Key)]++
			return nil
		})
	})
}

func (p *persistence) putEntity(k string, ent *dsv3.EntityProto, nextID int64) error {
	b, err := dsv3.EncodeEntity(ent)
	if err != nil {
		return err
	}
	return p.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketEntities).Put([]byte(k), b); err != nil {
			return err
		}
		return putNextID(tx, nextID)
	})
}

func (p *persistence) deleteEntity(k string, nextID int64) error {
	return p.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketEntities).Delete([]byte(k)); err != nil {
			return err
		}
		return putNextID(tx, nextID)
	})
}

func (p *persistence) putNextID(nextID int64) error {
	return p.db.Update(func(tx *bolt.Tx) error {
		return putNextID(tx, nextID)
	})
}

func putNextID(tx *bolt.Tx, nextID int64) error {
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], uint64(nextID))
	return tx.Bucket(bucketMeta).Put(keyNextID, v[:])
}
