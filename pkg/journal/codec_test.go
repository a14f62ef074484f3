package journal

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allEntries() []Entry {
	return []Entry{
		CreateStore{StoreID: 2},
		CompletePartition{StoreID: 2, Info: PartitionInfo{
			KeyStart: []byte("a"),
			KeyLimit: []byte("m"),
			BlockID:  42,
			KeyCount: 1000,
		}},
		CompleteStore{StoreID: 2},
		RenameStore{OldStoreID: 2, NewStoreID: 3},
		MergeStore{FromStoreID: 4, ToStoreID: 3},
		DeleteStore{StoreID: 3},
	}
}

func encodeAll(t *testing.T, first uint64, entries []Entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	for i, e := range entries {
		require.NoError(t, AppendRecord(&buf, first+uint64(i), e))
	}
	return buf.Bytes()
}

func TestCodecRoundTrip(t *testing.T) {
	entries := allEntries()
	data := encodeAll(t, 10, entries)

	records, err := DecodeRecords(data)
	require.NoError(t, err)
	require.Len(t, records, len(entries))
	for i, rec := range records {
		assert.Equal(t, uint64(10+i), rec.Seq)
		assert.Equal(t, entries[i], rec.Entry)
	}
}

func TestCodecEmptyKeys(t *testing.T) {
	data := encodeAll(t, 0, []Entry{CompletePartition{StoreID: 1}})

	records, err := DecodeRecords(data)
	require.NoError(t, err)
	require.Len(t, records, 1)

	cp := records[0].Entry.(CompletePartition)
	assert.NotNil(t, cp.Info.KeyStart)
	assert.Empty(t, cp.Info.KeyStart)
	assert.Empty(t, cp.Info.KeyLimit)
}

func TestDecodeEmpty(t *testing.T) {
	records, err := DecodeRecords(nil)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestDecodeCorruption(t *testing.T) {
	data := encodeAll(t, 0, allEntries())

	t.Run("checksum", func(t *testing.T) {
		bad := bytes.Clone(data)
		bad[len(bad)-1] ^= 0xff
		_, err := DecodeRecords(bad)
		assert.ErrorIs(t, err, ErrCorrupted)
	})

	t.Run("truncated payload", func(t *testing.T) {
		_, err := DecodeRecords(data[:len(data)-3])
		assert.ErrorIs(t, err, ErrCorrupted)
	})

	t.Run("truncated header", func(t *testing.T) {
		first := encodeAll(t, 0, allEntries()[:1])
		_, err := DecodeRecords(append(bytes.Clone(first), 0, 0, 0))
		assert.ErrorIs(t, err, ErrCorrupted)
	})

	t.Run("bad zstd frame", func(t *testing.T) {
		_, err := DecodeRecords(append(bytes.Clone(zstdMagic), 1, 2, 3, 4))
		assert.ErrorIs(t, err, ErrCorrupted)
	})
}

func TestCodecCompressed(t *testing.T) {
	entries := allEntries()
	raw := encodeAll(t, 0, entries)

	packed, err := compress(raw)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(packed, zstdMagic))

	records, err := DecodeRecords(packed)
	require.NoError(t, err)
	require.Len(t, records, len(entries))
	assert.Equal(t, entries[4], records[4].Entry)
}
