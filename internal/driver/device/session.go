// internal/driver/device/session.go
// ODIN session negotiation: handshake, version probe, packet sizing,
// end-session, reboot, shutdown, factory-reset, T-Flash.
package device

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/justaCasualCoder/PyThor/internal/config"
)

// Version-dependent sizing (§4.3).
const (
	legacyFlashPacketSize = 131072
	legacySequenceSize    = 240
	modernFlashPacketSize = 1048576
	modernSequenceSize    = 30
)

// Stats holds cumulative request/byte/latency counters for a session,
// guarded by its own mutex so a snapshot can be handed to a caller without
// copying the lock.
type Stats struct {
	mu             sync.RWMutex
	TotalRequests  uint64
	TotalBytes     uint64
	TotalLatencyNs uint64
	PeakLatencyNs  uint64
	ErrorCount     uint64
}

// StatsSnapshot is a lock-free copy of Stats for callers.
type StatsSnapshot struct {
	TotalRequests  uint64
	TotalBytes     uint64
	TotalLatencyNs uint64
	PeakLatencyNs  uint64
	ErrorCount     uint64
}

func (s *Stats) record(bytes uint64, latency time.Duration, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TotalRequests++
	s.TotalBytes += bytes
	latencyNs := uint64(latency.Nanoseconds())
	s.TotalLatencyNs += latencyNs
	if latencyNs > s.PeakLatencyNs {
		s.PeakLatencyNs = latencyNs
	}
	if failed {
		s.ErrorCount++
	}
}

// Snapshot returns a copy of the current counters.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return StatsSnapshot{
		TotalRequests:  s.TotalRequests,
		TotalBytes:     s.TotalBytes,
		TotalLatencyNs: s.TotalLatencyNs,
		PeakLatencyNs:  s.PeakLatencyNs,
		ErrorCount:     s.ErrorCount,
	}
}

// Session is the single stateful handle for one ODIN device conversation. It
// owns the transport exclusively: no operation interleaves with another, and
// there is no locking beyond Stats because no concurrent access is permitted.
type Session struct {
	transport Transport
	cfg       config.Config

	sessionStarted bool
	tFlashEnabled  bool

	flashPacketSize int32
	sequenceSize    int32

	partitions map[string]PartitionEntry

	Stats *Stats
}

// NewSession creates a Session bound to an already-open transport, with its
// ack timeouts and read burst size taken from cfg (a nil cfg falls back to
// config.Defaults()). The session is not usable for protocol I/O until
// BeginSession succeeds.
func NewSession(t Transport, cfg *config.Config) *Session {
	c := config.Defaults()
	if cfg != nil {
		c = *cfg
	}
	return &Session{
		transport:  t,
		cfg:        c,
		partitions: make(map[string]PartitionEntry),
		Stats:      &Stats{},
	}
}

// write gates on sessionStarted and records stats, matching the source's
// "write requires a started session" behavior.
func (s *Session) write(data []byte) error {
	if !s.sessionStarted {
		return ErrNoSession
	}
	start := time.Now()
	err := s.transport.Write(data)
	s.Stats.record(uint64(len(data)), time.Since(start), err != nil)
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// read gates on sessionStarted and records stats.
func (s *Session) read(timeout time.Duration) ([]byte, error) {
	if !s.sessionStarted {
		return nil, ErrNoSession
	}
	start := time.Now()
	data, err := s.transport.Read(s.cfg.ReadBurstSize, timeout)
	s.Stats.record(uint64(len(data)), time.Since(start), err != nil)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	return data, nil
}

// BeginSession performs the ODIN/LOKE handshake (unless resume is true),
// probes the bootloader version, negotiates flash packet sizing, and
// announces the chosen packet size.
//
// The source sets sessionStarted before the handshake write so that write is
// not rejected by the NoSession gate; this is preserved deliberately (the
// handshake literal "ODIN" is not itself a 1024-byte command frame and has
// to reach the device before any "session" formally exists). On failure the
// gate is rolled back.
func (s *Session) BeginSession(ctx context.Context, resume bool) error {
	s.sessionStarted = true

	if !resume {
		if err := s.transport.Write([]byte("ODIN")); err != nil {
			s.sessionStarted = false
			return fmt.Errorf("begin session: %w", err)
		}
		reply, err := s.transport.Read(s.cfg.ReadBurstSize, s.cfg.ReadTimeout)
		if err != nil {
			s.sessionStarted = false
			if errors.Is(err, ErrTimeout) {
				return fmt.Errorf("begin session: %w", ErrSessionStart)
			}
			return fmt.Errorf("begin session: %w", err)
		}
		if string(reply) != "LOKE" {
			s.sessionStarted = false
			return fmt.Errorf("begin session: got %q: %w", reply, ErrHandshakeMismatch)
		}
	}

	f := NewFrame()
	f.PutInt32(OffsetOpcode, 0x64)
	f.PutInt32(OffsetSubop, 0x00)
	f.PutInt32(OffsetArg0, 0xFFFF)
	if err := s.write(f.Bytes()); err != nil {
		s.sessionStarted = false
		return fmt.Errorf("begin session: version probe: %w", err)
	}
	reply, err := s.read(s.cfg.ReadTimeout)
	if err != nil {
		s.sessionStarted = false
		return fmt.Errorf("begin session: version probe: %w", err)
	}
	if len(reply) < 7 {
		s.sessionStarted = false
		return fmt.Errorf("begin session: version probe reply: %w", ErrProtocolError)
	}
	version := reply[6]
	log.Printf("device: bootloader version %d", version)

	if version == 0 || version == 1 {
		s.flashPacketSize = legacyFlashPacketSize
		s.sequenceSize = legacySequenceSize
	} else {
		s.flashPacketSize = modernFlashPacketSize
		s.sequenceSize = modernSequenceSize
	}

	f = NewFrame()
	f.PutInt32(OffsetOpcode, 0x64)
	f.PutInt32(OffsetSubop, 0x05)
	f.PutInt32(OffsetArg0, s.flashPacketSize)
	if err := s.write(f.Bytes()); err != nil {
		s.sessionStarted = false
		return fmt.Errorf("begin session: announce packet size: %w", err)
	}
	if _, err := s.read(s.cfg.ReadTimeout); err != nil {
		s.sessionStarted = false
		return fmt.Errorf("begin session: announce packet size: %w", err)
	}

	log.Printf("device: session started (packet=%d sequence=%d)", s.flashPacketSize, s.sequenceSize)
	return nil
}

// sendSimple writes a single opcode/subop frame and reads one ack.
func (s *Session) sendSimple(opcode, subop int32, timeout time.Duration) error {
	f := NewFrame()
	f.PutInt32(OffsetOpcode, opcode)
	f.PutInt32(OffsetSubop, subop)
	if err := s.write(f.Bytes()); err != nil {
		return err
	}
	_, err := s.read(timeout)
	return err
}

// EndSession sends the end-session power-family frame.
func (s *Session) EndSession(ctx context.Context) error {
	if err := s.sendSimple(0x67, 0x00, s.cfg.ReadTimeout); err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// Reboot ends the session first, then reboots the device, and clears local
// session state (transport handle and partition table).
func (s *Session) Reboot(ctx context.Context) error {
	if err := s.EndSession(ctx); err != nil {
		return fmt.Errorf("reboot: %w", err)
	}
	if err := s.sendSimple(0x67, 0x01, s.cfg.ReadTimeout); err != nil {
		return fmt.Errorf("reboot: %w", err)
	}
	s.clear()
	return nil
}

// Shutdown shuts the device down and clears local session state.
func (s *Session) Shutdown(ctx context.Context) error {
	if err := s.sendSimple(0x67, 0x03, s.cfg.ReadTimeout); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.clear()
	return nil
}

// FactoryReset erases userdata. The device may take a long time to ack.
func (s *Session) FactoryReset(ctx context.Context) error {
	if err := s.sendSimple(0x64, 0x07, s.cfg.LongTimeout); err != nil {
		return fmt.Errorf("factory reset: %w", err)
	}
	return nil
}

// EnableTFlash enables flashing to removable media.
func (s *Session) EnableTFlash(ctx context.Context) error {
	if err := s.sendSimple(0x64, 0x08, s.cfg.LongTimeout); err != nil {
		return fmt.Errorf("enable t-flash: %w", err)
	}
	s.tFlashEnabled = true
	return nil
}

// clear releases the transport and partition table, mirroring the source's
// reboot()/shutdown() clearing self.dev and self.partitions.
func (s *Session) clear() {
	if s.transport != nil {
		if err := s.transport.Close(); err != nil {
			log.Printf("device: close transport: %v", err)
		}
		s.transport = nil
	}
	s.partitions = make(map[string]PartitionEntry)
	s.sessionStarted = false
}

// TFlashEnabled reports whether EnableTFlash has succeeded this session.
func (s *Session) TFlashEnabled() bool {
	return s.tFlashEnabled
}
