package dsv3

import (
	"github.com/vmihailenco/msgpack/v5"
)

// EncodeEntity serializes an entity for storage inside a byte-string value
// (meaning EntityProtoMeaning) or in the on-disk snapshot.
func EncodeEntity(e *EntityProto) ([]byte, error) {
	return msgpack.Marshal(e)
}

// DecodeEntity is the inverse of EncodeEntity.
func DecodeEntity(b []byte) (*EntityProto, error) {
	e := &EntityProto{}
	if err := msgpack.Unmarshal(b, e); err != nil {
		return nil, err
	}
	return e, nil
}
