// Package constants defines cross-cutting default values, size limits, and
// wire-level enumerations shared by every component.
package constants

import "time"

// Identity and hashing.
const (
	// PeerIDSize and ChunkHashSize are both 20 bytes (leading bytes of a
	// BLAKE3-256 digest); a PeerID travels hex-encoded in a frame's From
	// field.
	PeerIDSize    = 20
	ChunkHashSize = 20

	HashAlgorithm = "blake3-256"
	TextEncoding  = "utf-8"

	MaxNicknameBytes = 255
)

// Timing defaults (§5, §6 of the spec).
const (
	BeaconInterval       = 2 * time.Second
	PeerTimeout          = 60 * time.Second
	SocketIdleTimeout    = 5 * time.Second
	SocketDrainTimeout   = 10 * time.Second
	ChunkRequestTimeout  = 15 * time.Second
	UploaderIdleLifetime = 5 * time.Second
	SchedulingTick       = 500 * time.Millisecond
	HashMismatchCooldown = 10 * time.Second
	RateWindow           = 5 * time.Second

	// MaxClockSkew bounds how far a frame's timestamp may drift from local
	// time before it is rejected.
	MaxClockSkew = 120 * time.Second
)

// Size and concurrency defaults.
const (
	MaxUDPDatagramSize  = 8192
	MaxStreamBodySize   = 16 * 1024 * 1024
	ReadBufferSize      = 128 * 1024
	SocketBufferSize    = 1024 * 1024
	DefaultChunkSize    = 64 * 1024 * 1024
	MaxConcurrentGlobal = 3
	MaxConcurrentPeer   = 3
	MaxTransportRetries = 3
)

// Default network endpoints.
const (
	DefaultMulticastGroup = "239.192.27.1"
	DefaultMulticastPort  = 27500
	DefaultUnicastPort    = 27501
	DefaultControlAddr    = "127.0.0.1:27502"
)

// Frame magic and protocol version. Only ProtocolVersion is carried in
// frames; pkg/wire neither writes nor checks FrameMagic.
const (
	FrameMagic      uint32 = 0x4c414e42 // "LANB"
	ProtocolVersion uint16 = 1
)

// Message kinds carried in a frame's Kind field.
const (
	KindError uint8 = iota
	KindIMAlive
	KindChunkOwned
	KindFind
	KindFindResult
	KindChat
	KindGetEntries
	KindGetEntriesResult
	KindGetHashes
	KindHashList
	KindGetChunk
	KindGetChunkResult
	KindPing
	KindPong
)

// GetChunkResult status values.
const (
	ChunkStatusOK uint8 = iota
	ChunkStatusDontHave
	ChunkStatusError
)

// HashRequestType selects which half of the active-interest set a beacon
// advertises, alternating on every beacon so both halves eventually reach
// every listener within a bounded datagram size.
type HashRequestType uint8

const (
	OldestHashes HashRequestType = iota
	NewestHashes
)

// Protocol error codes (§7 of the spec).
const (
	ErrorProtocolViolation uint16 = iota + 1
	ErrorTransient
	ErrorSourceRefused
	ErrorIntegrity
	ErrorLocalIO
	ErrorConfiguration
)
