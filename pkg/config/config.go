// Package config holds the process-wide configuration snapshot. Rather than
// a globally mutable settings object, every subsystem is constructed with an
// immutable *Snapshot and reconfiguration happens by swapping an
// atomic.Pointer — no component ever observes a config value changing
// mid-read.
package config

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/WebFirstLanguage/lanbeacon/pkg/constants"
)

// Snapshot is an immutable set of runtime options (§6 of SPEC_FULL.md).
type Snapshot struct {
	Nickname string
	LogLevel string

	MulticastGroup string
	MulticastPort  int
	UnicastPort    int

	BeaconInterval time.Duration
	PeerTimeout    time.Duration

	MaxUDPDatagramSize int
	ReadBufferSize     int
	SocketBufferSize   int
	SocketTimeout      time.Duration
	UploadLifetime     time.Duration

	MaxConcurrentDownloads        int
	MaxConcurrentDownloadsPerPeer int

	ChunkSize int

	StateDir string
}

// Default returns the system's default configuration.
func Default() *Snapshot {
	return &Snapshot{
		Nickname:                      "bee",
		LogLevel:                      "info",
		MulticastGroup:                constants.DefaultMulticastGroup,
		MulticastPort:                 constants.DefaultMulticastPort,
		UnicastPort:                   constants.DefaultUnicastPort,
		BeaconInterval:                constants.BeaconInterval,
		PeerTimeout:                   constants.PeerTimeout,
		MaxUDPDatagramSize:            constants.MaxUDPDatagramSize,
		ReadBufferSize:                constants.ReadBufferSize,
		SocketBufferSize:              constants.SocketBufferSize,
		SocketTimeout:                 constants.SocketDrainTimeout,
		UploadLifetime:                constants.UploaderIdleLifetime,
		MaxConcurrentDownloads:        constants.MaxConcurrentGlobal,
		MaxConcurrentDownloadsPerPeer: constants.MaxConcurrentPeer,
		ChunkSize:                     constants.DefaultChunkSize,
		StateDir:                      ".",
	}
}

// Validate enforces the §7 configuration error policy: an invalid value is
// rejected outright rather than partially applied.
func (s *Snapshot) Validate() error {
	if len(s.Nickname) == 0 || len(s.Nickname) > constants.MaxNicknameBytes {
		return fmt.Errorf("config: nickname must be 1..%d bytes", constants.MaxNicknameBytes)
	}
	if s.MulticastPort <= 0 || s.MulticastPort > 65535 {
		return fmt.Errorf("config: invalid multicast port %d", s.MulticastPort)
	}
	if s.UnicastPort <= 0 || s.UnicastPort > 65535 {
		return fmt.Errorf("config: invalid unicast port %d", s.UnicastPort)
	}
	if s.BeaconInterval <= 0 {
		return fmt.Errorf("config: beacon interval must be positive")
	}
	if s.PeerTimeout <= s.BeaconInterval {
		return fmt.Errorf("config: peer timeout must exceed beacon interval")
	}
	if s.MaxConcurrentDownloads <= 0 {
		return fmt.Errorf("config: max concurrent downloads must be positive")
	}
	if s.MaxConcurrentDownloadsPerPeer <= 0 || s.MaxConcurrentDownloadsPerPeer > s.MaxConcurrentDownloads {
		return fmt.Errorf("config: invalid per-peer concurrency cap")
	}
	if s.ChunkSize <= 0 {
		return fmt.Errorf("config: chunk size must be positive")
	}
	return nil
}

// Store is an atomically swappable holder of the current Snapshot.
type Store struct {
	p atomic.Pointer[Snapshot]
}

// NewStore creates a Store seeded with initial.
func NewStore(initial *Snapshot) *Store {
	s := &Store{}
	s.p.Store(initial)
	return s
}

// Load returns the currently active snapshot.
func (s *Store) Load() *Snapshot {
	return s.p.Load()
}

// Swap validates next and, if valid, atomically replaces the active
// snapshot. On validation failure the previous snapshot is left untouched
// and the error is returned.
func (s *Store) Swap(next *Snapshot) error {
	if err := next.Validate(); err != nil {
		return err
	}
	s.p.Store(next)
	return nil
}
