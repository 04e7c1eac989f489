package device

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildSyntheticPIT encodes a header + entries layout matching §3 for test
// purposes: magic, entry_count, 8 bytes unknown, 8 bytes project, reserved,
// then entry_count*132 bytes.
func buildSyntheticPIT(t *testing.T, entries []PartitionEntry) []byte {
	t.Helper()
	buf := make([]byte, pitHeaderSize+len(entries)*pitEntrySize)
	binary.LittleEndian.PutUint32(buf[0:4], pitMagic)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(entries)))
	copy(buf[8:16], []byte("UNKNOWN0"))
	copy(buf[16:24], []byte("PROJECT0"))

	offset := pitHeaderSize
	for _, e := range entries {
		fields := []int32{
			e.BinaryType, e.DeviceType, e.PartitionID, e.Attributes,
			e.UpdateAttributes, e.BlockSize, e.BlockCount, e.FileOffset, e.FileSize,
		}
		for i, v := range fields {
			binary.LittleEndian.PutUint32(buf[offset+i*4:offset+i*4+4], uint32(v))
		}
		const fixed = 9 * 4
		copy(buf[offset+fixed:offset+fixed+32], []byte(e.Partition))
		copy(buf[offset+fixed+32:offset+fixed+64], []byte(e.FileName))
		copy(buf[offset+fixed+64:offset+fixed+96], []byte(e.DeltaName))
		offset += pitEntrySize
	}
	return buf
}

// TestParsePITRoundTrip is scenario S3 / §8 invariant 4.
func TestParsePITRoundTrip(t *testing.T) {
	want := PartitionEntry{
		BinaryType: 0, DeviceType: 2, PartitionID: 7,
		Attributes: 5, UpdateAttributes: 1,
		BlockSize: 512, BlockCount: 1024,
		FileOffset: 0, FileSize: 65536,
		Partition: "BOOT", FileName: "boot.img", DeltaName: "",
	}
	raw := buildSyntheticPIT(t, []PartitionEntry{want})

	partitions, err := ParsePIT(raw)
	require.NoError(t, err)
	require.Contains(t, partitions, "BOOT")
	require.Equal(t, want, partitions["BOOT"])
}

func TestParsePITMagicMismatch(t *testing.T) {
	raw := buildSyntheticPIT(t, nil)
	binary.LittleEndian.PutUint32(raw[0:4], 0xdeadbeef)

	_, err := ParsePIT(raw)
	require.ErrorIs(t, err, ErrMagicMismatch)
}

func TestParsePITTruncatedEntry(t *testing.T) {
	raw := buildSyntheticPIT(t, []PartitionEntry{{Partition: "BOOT"}})
	raw = raw[:len(raw)-10]

	_, err := ParsePIT(raw)
	require.ErrorIs(t, err, ErrProtocolError)
}

func TestParsePITDuplicateNamesOverwrite(t *testing.T) {
	raw := buildSyntheticPIT(t, []PartitionEntry{
		{Partition: "BOOT", FileSize: 1},
		{Partition: "BOOT", FileSize: 2},
	})

	partitions, err := ParsePIT(raw)
	require.NoError(t, err)
	require.Len(t, partitions, 1)
	require.EqualValues(t, 2, partitions["BOOT"].FileSize)
}
