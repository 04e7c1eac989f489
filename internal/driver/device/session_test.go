package device

import (
	"context"
	"errors"
	"testing"
)

func frameBytes(t *testing.T, values map[int]int32) []byte {
	t.Helper()
	f := NewFrame()
	for offset, v := range values {
		f.PutInt32(offset, v)
	}
	return f.Bytes()
}

func mustReply(length int, sets map[int]byte) []byte {
	b := make([]byte, length)
	for offset, v := range sets {
		b[offset] = v
	}
	return b
}

// TestBeginSessionHandshakeHappyPath is scenario S1: ODIN/LOKE exchange,
// version probe (reply byte 6 = 0x02, a "modern" bootloader), followed by
// the flash_packet_size announcement for the resulting 1048576 packet size.
func TestBeginSessionHandshakeHappyPath(t *testing.T) {
	script := []fakeExchange{
		{wantWrite: []byte("ODIN"), reply: []byte("LOKE")},
		{
			wantWrite: frameBytes(t, map[int]int32{OffsetOpcode: 0x64, OffsetSubop: 0x00, OffsetArg0: 0xFFFF}),
			reply:     mustReply(16, map[int]byte{6: 0x02}),
		},
		{
			wantWrite: frameBytes(t, map[int]int32{OffsetOpcode: 0x64, OffsetSubop: 0x05, OffsetArg0: 1048576}),
			reply:     []byte{0, 0, 0, 0},
		},
	}
	tr := newFakeTransport(script)
	s := NewSession(tr, nil)

	if err := s.BeginSession(context.Background(), false); err != nil {
		t.Fatalf("BeginSession: %v", err)
	}
	if !s.sessionStarted {
		t.Fatal("expected sessionStarted = true")
	}
	if s.flashPacketSize != 1048576 || s.sequenceSize != 30 {
		t.Errorf("got packet=%d sequence=%d, want 1048576/30", s.flashPacketSize, s.sequenceSize)
	}
}

// TestBeginSessionHandshakeMismatch is scenario S2.
func TestBeginSessionHandshakeMismatch(t *testing.T) {
	script := []fakeExchange{
		{wantWrite: []byte("ODIN"), reply: []byte("XXXX")},
	}
	tr := newFakeTransport(script)
	s := NewSession(tr, nil)

	err := s.BeginSession(context.Background(), false)
	if !errors.Is(err, ErrHandshakeMismatch) {
		t.Fatalf("got %v, want ErrHandshakeMismatch", err)
	}
	if s.sessionStarted {
		t.Fatal("expected sessionStarted rolled back to false on failure")
	}
}

// TestBeginSessionLegacyVersionSizing covers §8 invariant 5.
func TestBeginSessionLegacyVersionSizing(t *testing.T) {
	for _, version := range []byte{0, 1} {
		script := []fakeExchange{
			{wantWrite: []byte("ODIN"), reply: []byte("LOKE")},
			{reply: mustReply(16, map[int]byte{6: version})},
			{reply: []byte{0, 0, 0, 0}},
		}
		tr := newFakeTransport(script)
		s := NewSession(tr, nil)
		if err := s.BeginSession(context.Background(), false); err != nil {
			t.Fatalf("version %d: BeginSession: %v", version, err)
		}
		if s.flashPacketSize != 131072 || s.sequenceSize != 240 {
			t.Errorf("version %d: got packet=%d sequence=%d, want 131072/240", version, s.flashPacketSize, s.sequenceSize)
		}
	}
}

// TestNoSessionGate covers §8 invariant 6: write/read before BeginSession
// fails with ErrNoSession.
func TestNoSessionGate(t *testing.T) {
	s := NewSession(newFakeTransport(nil), nil)
	if _, err := s.read(s.cfg.ReadTimeout); !errors.Is(err, ErrNoSession) {
		t.Fatalf("read: got %v, want ErrNoSession", err)
	}
	if err := s.write([]byte("x")); !errors.Is(err, ErrNoSession) {
		t.Fatalf("write: got %v, want ErrNoSession", err)
	}
}

func TestEndSessionEncodesOpcode(t *testing.T) {
	script := []fakeExchange{
		{wantWrite: frameBytes(t, map[int]int32{OffsetOpcode: 0x67, OffsetSubop: 0x00}), reply: []byte{0}},
	}
	s := NewSession(newFakeTransport(script), nil)
	s.sessionStarted = true
	if err := s.EndSession(context.Background()); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
}

func TestRebootClearsState(t *testing.T) {
	script := []fakeExchange{
		{wantWrite: frameBytes(t, map[int]int32{OffsetOpcode: 0x67, OffsetSubop: 0x00}), reply: []byte{0}},
		{wantWrite: frameBytes(t, map[int]int32{OffsetOpcode: 0x67, OffsetSubop: 0x01}), reply: []byte{0}},
	}
	s := NewSession(newFakeTransport(script), nil)
	s.sessionStarted = true
	s.partitions["BOOT"] = PartitionEntry{}

	if err := s.Reboot(context.Background()); err != nil {
		t.Fatalf("Reboot: %v", err)
	}
	if s.transport != nil {
		t.Error("expected transport cleared after reboot")
	}
	if len(s.partitions) != 0 {
		t.Error("expected partitions cleared after reboot")
	}
}
