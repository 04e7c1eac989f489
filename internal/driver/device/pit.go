// internal/driver/device/pit.go
// PIT (Partition Information Table) download and binary codec.
package device

import (
	"context"
	"errors"
	"fmt"
)

const (
	pitMagic     uint32 = 0x12349876
	pitBlockSize        = 500
	pitEntrySize        = 132
	pitHeaderSize       = 4 + 4 + 8 + 8 + 4 // magic, count, unknown, project, reserved
)

// PartitionEntry is one fixed 132-byte record of the PIT.
type PartitionEntry struct {
	BinaryType       int32 // 0 = AP/regular, 1 = modem
	DeviceType       int32
	PartitionID      int32
	Attributes       int32
	UpdateAttributes int32
	BlockSize        int32
	BlockCount       int32
	FileOffset       int32
	FileSize         int32
	Partition        string
	FileName         string
	DeltaName        string
}

// GetPIT downloads the PIT in 500-byte blocks, reassembles it, parses it
// into s.partitions, and returns the raw bytes.
func (s *Session) GetPIT(ctx context.Context) ([]byte, error) {
	f := NewFrame()
	f.PutInt32(OffsetOpcode, 0x65)
	f.PutInt32(OffsetSubop, 0x01)
	if err := s.write(f.Bytes()); err != nil {
		return nil, fmt.Errorf("get pit: request dump: %w", err)
	}
	reply, err := s.read(s.cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("get pit: request dump: %w", err)
	}
	size, err := DecodeUint32(reply, 4)
	if err != nil {
		return nil, fmt.Errorf("get pit: size: %w", err)
	}

	blocks := (int(size) + pitBlockSize - 1) / pitBlockSize
	pitBuf := make([]byte, size)
	for i := 0; i < blocks; i++ {
		f := NewFrame()
		f.PutInt32(OffsetOpcode, 0x65)
		f.PutInt32(OffsetSubop, 0x02)
		f.PutInt32(OffsetArg0, int32(i))
		if err := s.write(f.Bytes()); err != nil {
			return nil, fmt.Errorf("get pit: block %d: %w", i, err)
		}
		reply, err := s.read(s.cfg.ReadTimeout)
		if err != nil {
			return nil, fmt.Errorf("get pit: block %d: %w", i, err)
		}
		copy(pitBuf[i*pitBlockSize:], reply)
	}

	// Trailing ZLP-sync read: the device is expected to emit a spurious
	// zero-length read here; a transport/timeout failure is swallowed.
	if _, err := s.read(s.cfg.ReadTimeout); err != nil {
		if !errors.Is(err, ErrTransport) && !errors.Is(err, ErrTimeout) {
			return nil, fmt.Errorf("get pit: zlp sync: %w", err)
		}
	}

	f = NewFrame()
	f.PutInt32(OffsetOpcode, 0x65)
	f.PutInt32(OffsetSubop, 0x03)
	if err := s.write(f.Bytes()); err != nil {
		return nil, fmt.Errorf("get pit: finish: %w", err)
	}
	if _, err := s.read(s.cfg.ReadTimeout); err != nil {
		return nil, fmt.Errorf("get pit: finish: %w", err)
	}

	partitions, err := ParsePIT(pitBuf)
	if err != nil {
		return nil, err
	}
	s.partitions = partitions
	return pitBuf, nil
}

// ParsePIT decodes a raw PIT buffer (header + entry_count*132 bytes) into a
// map keyed by trimmed partition name. Duplicate names overwrite, matching
// the source's behavior.
func ParsePIT(raw []byte) (map[string]PartitionEntry, error) {
	if len(raw) < pitHeaderSize {
		return nil, fmt.Errorf("parse pit: header: %w", ErrProtocolError)
	}
	magic, err := DecodeUint32(raw, 0)
	if err != nil {
		return nil, fmt.Errorf("parse pit: %w", err)
	}
	if magic != pitMagic {
		return nil, fmt.Errorf("parse pit: got 0x%08x: %w", magic, ErrMagicMismatch)
	}
	count, err := DecodeUint32(raw, 4)
	if err != nil {
		return nil, fmt.Errorf("parse pit: %w", err)
	}

	partitions := make(map[string]PartitionEntry, count)
	offset := pitHeaderSize
	for i := uint32(0); i < count; i++ {
		if len(raw) < offset+pitEntrySize {
			return nil, fmt.Errorf("parse pit: entry %d truncated: %w", i, ErrProtocolError)
		}
		entry, err := decodePartitionEntry(raw[offset : offset+pitEntrySize])
		if err != nil {
			return nil, fmt.Errorf("parse pit: entry %d: %w", i, err)
		}
		partitions[entry.Partition] = entry
		offset += pitEntrySize
	}
	return partitions, nil
}

func decodePartitionEntry(b []byte) (PartitionEntry, error) {
	var e PartitionEntry
	var err error
	fields := []*int32{
		&e.BinaryType, &e.DeviceType, &e.PartitionID, &e.Attributes,
		&e.UpdateAttributes, &e.BlockSize, &e.BlockCount, &e.FileOffset, &e.FileSize,
	}
	for i, f := range fields {
		*f, err = DecodeInt32(b, i*4)
		if err != nil {
			return e, err
		}
	}
	const fixedFieldsSize = 9 * 4
	if e.Partition, err = DecodeString(b[fixedFieldsSize : fixedFieldsSize+32]); err != nil {
		return e, err
	}
	if e.FileName, err = DecodeString(b[fixedFieldsSize+32 : fixedFieldsSize+64]); err != nil {
		return e, err
	}
	if e.DeltaName, err = DecodeString(b[fixedFieldsSize+64 : fixedFieldsSize+96]); err != nil {
		return e, err
	}
	return e, nil
}

// PrintPIT renders the currently-known partition table as indented text,
// supplementing the source's tree-drawing print_pit without pulling in a
// tree-rendering dependency.
func (s *Session) PrintPIT() string {
	out := "Partitions\n"
	for name, e := range s.partitions {
		out += fmt.Sprintf("  %s\n", name)
		out += fmt.Sprintf("    BinaryType: %d\n", e.BinaryType)
		out += fmt.Sprintf("    DeviceType: %d\n", e.DeviceType)
		out += fmt.Sprintf("    PartitionID: %d\n", e.PartitionID)
		out += fmt.Sprintf("    BlockSize: %d\n", e.BlockSize)
		out += fmt.Sprintf("    BlockCount: %d\n", e.BlockCount)
		out += fmt.Sprintf("    FileOffset: %d\n", e.FileOffset)
		out += fmt.Sprintf("    FileSize: %d\n", e.FileSize)
		out += fmt.Sprintf("    FileName: %s\n", e.FileName)
		out += fmt.Sprintf("    DeltaName: %s\n", e.DeltaName)
	}
	return out
}
