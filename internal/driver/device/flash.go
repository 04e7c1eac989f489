// internal/driver/device/flash.go
// Flash engine: announce, sequence, stream, and finalize a partition image.
package device

import (
	"context"
	"fmt"
	"log"
)

// ImageSource is an abstract byte source for the image being flashed. Len
// reports the total length up front; ReadInto has short-read-at-EOF
// semantics (the caller zero-pads the remainder, it does not error).
type ImageSource interface {
	Len() int64
	ReadInto(buf []byte) (int, error)
}

// ProgressFunc is invoked after every acknowledged packet and once per
// completed sequence at 100%.
type ProgressFunc func(percent float64)

// SequencePlan describes how an image of length L is split into sequences
// of flashPacketSize*sequenceSize bytes each (§4.5, invariant 2 of §8).
type SequencePlan struct {
	Sequences    int
	RealSizes    []int64 // per-sequence payload size, sums to L
	AlignedSizes []int64 // per-sequence size rounded up to a flashPacketSize multiple
}

// planSequences computes the sequence layout for an image of length
// totalLen given the session's negotiated sizing.
func planSequences(totalLen int64, flashPacketSize, sequenceSize int32) SequencePlan {
	sequenceBytes := int64(flashPacketSize) * int64(sequenceSize)
	sequences := int(totalLen / sequenceBytes)
	lastSequence := totalLen % sequenceBytes
	if lastSequence == 0 {
		lastSequence = sequenceBytes
	} else {
		sequences++
	}

	plan := SequencePlan{
		Sequences:    sequences,
		RealSizes:    make([]int64, sequences),
		AlignedSizes: make([]int64, sequences),
	}
	for i := 0; i < sequences; i++ {
		last := i == sequences-1
		realSize := sequenceBytes
		if last {
			realSize = lastSequence
		}
		alignedSize := realSize
		if rem := realSize % int64(flashPacketSize); rem != 0 {
			alignedSize += int64(flashPacketSize) - rem
		}
		plan.RealSizes[i] = realSize
		plan.AlignedSizes[i] = alignedSize
	}
	return plan
}

// sendTotalBytes announces the total image size before flashing.
func (s *Session) sendTotalBytes(total int64) error {
	f := NewFrame()
	f.PutInt32(OffsetOpcode, 0x64)
	f.PutInt32(OffsetSubop, 0x02)
	f.PutInt32(OffsetArg0, int32(total))
	if err := s.write(f.Bytes()); err != nil {
		return err
	}
	_, err := s.read(s.cfg.ReadTimeout)
	return err
}

// Flash uploads src's contents to the named partition. If the partition
// table hasn't been fetched yet, it is fetched first. update_bootloader and
// efs_clear are only meaningful for regular (non-modem) partitions.
func (s *Session) Flash(ctx context.Context, partition string, src ImageSource, progress ProgressFunc, updateBootloader, efsClear bool) error {
	if !s.sessionStarted {
		return ErrNoSession
	}
	if len(s.partitions) == 0 {
		if _, err := s.GetPIT(ctx); err != nil {
			return fmt.Errorf("flash: %w", err)
		}
	}
	entry, ok := s.partitions[partition]
	if !ok {
		return fmt.Errorf("flash: %q: %w", partition, ErrUnknownPartition)
	}

	totalLen := src.Len()
	if err := s.sendTotalBytes(totalLen); err != nil {
		return fmt.Errorf("flash: send total bytes: %w", err)
	}

	f := NewFrame()
	f.PutInt32(OffsetOpcode, 0x66)
	f.PutInt32(OffsetSubop, 0x00)
	if err := s.write(f.Bytes()); err != nil {
		return fmt.Errorf("flash: begin: %w", err)
	}
	if _, err := s.read(s.cfg.ReadTimeout); err != nil {
		return fmt.Errorf("flash: begin: %w", err)
	}

	plan := planSequences(totalLen, s.flashPacketSize, s.sequenceSize)

	for i := 0; i < plan.Sequences; i++ {
		last := i == plan.Sequences-1
		realSize := plan.RealSizes[i]
		alignedSize := plan.AlignedSizes[i]

		f := NewFrame()
		f.PutInt32(OffsetOpcode, 0x66)
		f.PutInt32(OffsetSubop, 0x02)
		f.PutInt32(OffsetArg0, int32(alignedSize))
		if err := s.write(f.Bytes()); err != nil {
			return fmt.Errorf("flash: sequence %d header: %w", i, err)
		}
		if _, err := s.read(s.cfg.ReadTimeout); err != nil {
			return fmt.Errorf("flash: sequence %d header: %w", i, err)
		}

		parts := int(alignedSize / int64(s.flashPacketSize))
		for j := 0; j < parts; j++ {
			buf := make([]byte, s.flashPacketSize)
			if _, err := src.ReadInto(buf); err != nil {
				return fmt.Errorf("flash: sequence %d part %d: read image: %w", i, j, err)
			}
			if err := s.write(buf); err != nil {
				return fmt.Errorf("flash: sequence %d part %d: %w", i, j, err)
			}
			reply, err := s.read(s.cfg.ReadTimeout)
			if err != nil {
				return fmt.Errorf("flash: sequence %d part %d: %w", i, j, err)
			}
			if len(reply) > 4 && int(reply[4]) != j {
				log.Printf("flash: sequence %d part %d: device acked index %d, expected %d", i, j, reply[4], j)
			}
			if progress != nil {
				progress((float64(j) / float64(parts)) * 100)
			}
		}
		if progress != nil {
			progress(100)
		}

		if err := s.finalizeSequence(entry, realSize, last, updateBootloader, efsClear); err != nil {
			return fmt.Errorf("flash: sequence %d finalize: %w", i, err)
		}
	}
	return nil
}

// finalizeSequence sends the per-sequence finalization frame. The layout
// differs for modem (binary_type == 1) vs. regular partitions (§4.5, S6).
func (s *Session) finalizeSequence(entry PartitionEntry, realSize int64, last, updateBootloader, efsClear bool) error {
	f := NewFrame()
	f.PutInt32(OffsetOpcode, 0x66)
	f.PutInt32(OffsetSubop, 0x03)

	if entry.BinaryType == 1 {
		f.PutInt32(OffsetArg0, 0x01)
		f.PutInt32(OffsetArg1, int32(realSize))
		f.PutInt32(OffsetArg2, entry.BinaryType)
		f.PutInt32(OffsetArg3, entry.DeviceType)
		f.PutInt32(OffsetArg4, boolToInt32(last))
	} else {
		f.PutInt32(OffsetArg0, 0x00)
		f.PutInt32(OffsetArg1, int32(realSize))
		f.PutInt32(OffsetArg2, entry.BinaryType)
		f.PutInt32(OffsetArg3, entry.DeviceType)
		f.PutInt32(OffsetArg4, entry.PartitionID)
		f.PutInt32(OffsetArg5, boolToInt32(last))
		f.PutInt32(OffsetArg6, boolToInt32(efsClear))
		f.PutInt32(OffsetArg7, boolToInt32(updateBootloader))
	}

	if err := s.write(f.Bytes()); err != nil {
		return err
	}
	_, err := s.read(s.cfg.FinalizeTimeout)
	return err
}

func boolToInt32(b bool) int32 {
	if b {
		return 1
	}
	return 0
}
