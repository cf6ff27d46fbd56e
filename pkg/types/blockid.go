package types

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
)

// BlockIdExt fully identifies one block: shard, sequence number and the two
// content hashes.
type BlockIdExt struct {
	Shard    ShardIdent
	SeqNo    uint32
	RootHash [32]byte
	FileHash [32]byte
}

// blockIdExtSize is the fixed wire size of a serialized BlockIdExt
const blockIdExtSize = 4 + 8 + 4 + 32 + 32

// Key returns the database key form of the id: a SHA-256 over all five
// components in little-endian order.
func (id BlockIdExt) Key() []byte {
	h := sha256.New()

	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[:4], uint32(id.Shard.Workchain))
	h.Write(buf[:4])
	binary.LittleEndian.PutUint64(buf[:], id.Shard.Prefix)
	h.Write(buf[:])
	binary.LittleEndian.PutUint32(buf[:4], id.SeqNo)
	h.Write(buf[:4])
	h.Write(id.RootHash[:])
	h.Write(id.FileHash[:])

	return h.Sum(nil)
}

// Serialize writes the fixed little-endian form of the id
func (id BlockIdExt) Serialize(w io.Writer) error {
	buf := make([]byte, blockIdExtSize)
	binary.LittleEndian.PutUint32(buf[0:], uint32(id.Shard.Workchain))
	binary.LittleEndian.PutUint64(buf[4:], id.Shard.Prefix)
	binary.LittleEndian.PutUint32(buf[12:], id.SeqNo)
	copy(buf[16:], id.RootHash[:])
	copy(buf[48:], id.FileHash[:])

	_, err := w.Write(buf)
	return err
}

// DeserializeBlockIdExt reads the fixed little-endian form of an id
func DeserializeBlockIdExt(r io.Reader) (BlockIdExt, error) {
	buf := make([]byte, blockIdExtSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return BlockIdExt{}, fmt.Errorf("reading block id: %w", err)
	}

	var id BlockIdExt
	id.Shard.Workchain = int32(binary.LittleEndian.Uint32(buf[0:]))
	id.Shard.Prefix = binary.LittleEndian.Uint64(buf[4:])
	id.SeqNo = binary.LittleEndian.Uint32(buf[12:])
	copy(id.RootHash[:], buf[16:48])
	copy(id.FileHash[:], buf[48:80])

	return id, nil
}

func (id BlockIdExt) String() string {
	return fmt.Sprintf("(%d:%016x,%d)", id.Shard.Workchain, id.Shard.Prefix, id.SeqNo)
}
