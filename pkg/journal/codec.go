package journal

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"sync"

	"github.com/klauspost/compress/zstd"
	xdr "github.com/rasky/go-xdr/xdr2"
)

// Record is one sequenced entry as stored in logs and checkpoints.
type Record struct {
	Seq   uint64
	Entry Entry
}

// wireRecord is the flat XDR form of a Record. Fields not used by a kind are
// zero.
type wireRecord struct {
	Seq      uint64
	Kind     uint32
	StoreID  uint64
	OtherID  uint64
	KeyStart []byte
	KeyLimit []byte
	BlockID  uint64
	KeyCount uint64
}

// frameHeaderSize is the length (u32) plus the CRC-32C (u32) of the payload.
const frameHeaderSize = 8

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

func toWire(seq uint64, e Entry) (wireRecord, error) {
	w := wireRecord{Seq: seq}
	switch v := e.(type) {
	case CreateStore:
		w.Kind = uint32(KindCreateStore)
		w.StoreID = v.StoreID
	case CompletePartition:
		w.Kind = uint32(KindCompletePartition)
		w.StoreID = v.StoreID
		w.KeyStart = v.Info.KeyStart
		w.KeyLimit = v.Info.KeyLimit
		w.BlockID = v.Info.BlockID
		w.KeyCount = v.Info.KeyCount
	case CompleteStore:
		w.Kind = uint32(KindCompleteStore)
		w.StoreID = v.StoreID
	case DeleteStore:
		w.Kind = uint32(KindDeleteStore)
		w.StoreID = v.StoreID
	case RenameStore:
		w.Kind = uint32(KindRenameStore)
		w.StoreID = v.OldStoreID
		w.OtherID = v.NewStoreID
	case MergeStore:
		w.Kind = uint32(KindMergeStore)
		w.StoreID = v.FromStoreID
		w.OtherID = v.ToStoreID
	default:
		return wireRecord{}, fmt.Errorf("unsupported journal entry %T", e)
	}
	return w, nil
}

func fromWire(w wireRecord) (Record, error) {
	var e Entry
	switch EntryKind(w.Kind) {
	case KindCreateStore:
		e = CreateStore{StoreID: w.StoreID}
	case KindCompletePartition:
		e = CompletePartition{StoreID: w.StoreID, Info: PartitionInfo{
			KeyStart: nonNil(w.KeyStart),
			KeyLimit: nonNil(w.KeyLimit),
			BlockID:  w.BlockID,
			KeyCount: w.KeyCount,
		}}
	case KindCompleteStore:
		e = CompleteStore{StoreID: w.StoreID}
	case KindDeleteStore:
		e = DeleteStore{StoreID: w.StoreID}
	case KindRenameStore:
		e = RenameStore{OldStoreID: w.StoreID, NewStoreID: w.OtherID}
	case KindMergeStore:
		e = MergeStore{FromStoreID: w.StoreID, ToStoreID: w.OtherID}
	default:
		return Record{}, fmt.Errorf("%w: unknown entry kind %d at seq %d", ErrCorrupted, w.Kind, w.Seq)
	}
	return Record{Seq: w.Seq, Entry: e}, nil
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

// AppendRecord frames and appends one record to buf.
func AppendRecord(buf *bytes.Buffer, seq uint64, e Entry) error {
	w, err := toWire(seq, e)
	if err != nil {
		return err
	}

	var payload bytes.Buffer
	if _, err := xdr.Marshal(&payload, &w); err != nil {
		return fmt.Errorf("failed to encode journal record %d: %w", seq, err)
	}

	var header [frameHeaderSize]byte
	binary.BigEndian.PutUint32(header[0:4], uint32(payload.Len()))
	binary.BigEndian.PutUint32(header[4:8], crc32.Checksum(payload.Bytes(), castagnoli))
	buf.Write(header[:])
	buf.Write(payload.Bytes())
	return nil
}

// DecodeRecords parses every frame in data. Compressed objects are detected
// by their zstd magic and inflated first.
func DecodeRecords(data []byte) ([]Record, error) {
	if bytes.HasPrefix(data, zstdMagic) {
		raw, err := decompress(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
		}
		data = raw
	}

	var records []Record
	for off := 0; off < len(data); {
		if len(data)-off < frameHeaderSize {
			return nil, fmt.Errorf("%w: truncated frame header at offset %d", ErrCorrupted, off)
		}
		size := int(binary.BigEndian.Uint32(data[off : off+4]))
		sum := binary.BigEndian.Uint32(data[off+4 : off+8])
		off += frameHeaderSize

		if size > len(data)-off {
			return nil, fmt.Errorf("%w: truncated frame payload at offset %d", ErrCorrupted, off)
		}
		payload := data[off : off+size]
		off += size

		if crc32.Checksum(payload, castagnoli) != sum {
			return nil, fmt.Errorf("%w: checksum mismatch at offset %d", ErrCorrupted, off-size)
		}

		var w wireRecord
		if _, err := xdr.Unmarshal(bytes.NewReader(payload), &w); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
		}
		rec, err := fromWire(w)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdErr     error
)

func initZstd() {
	zstdOnce.Do(func() {
		zstdEncoder, zstdErr = zstd.NewWriter(nil)
		if zstdErr != nil {
			return
		}
		zstdDecoder, zstdErr = zstd.NewReader(nil)
	})
}

func compress(data []byte) ([]byte, error) {
	initZstd()
	if zstdErr != nil {
		return nil, zstdErr
	}
	return zstdEncoder.EncodeAll(data, nil), nil
}

func decompress(data []byte) ([]byte, error) {
	initZstd()
	if zstdErr != nil {
		return nil, zstdErr
	}
	return zstdDecoder.DecodeAll(data, nil)
}
