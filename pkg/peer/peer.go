// Package peer maintains the live set of LAN peers (§3, §4.D of
// SPEC_FULL.md): a single-writer, many-reader directory upserted from
// presence beacons and evicted on timeout.
package peer

import (
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/WebFirstLanguage/lanbeacon/pkg/constants"
)

// Peer is one entry in the directory.
type Peer struct {
	ID          string // hex PeerID, stable for the remote process's lifetime
	Nickname    string
	Addr        string
	Port        uint16
	BytesFree   uint64
	BytesShared uint64
	DownloadBps uint64
	Version     uint16
	LastSeen    time.Time
}

// NormalizeNickname applies NFKC normalization and truncates to the
// protocol's maximum nickname length, matching the Unicode handling used
// for name handles elsewhere in this lineage.
func NormalizeNickname(nick string) string {
	n := norm.NFKC.String(nick)
	if len(n) > constants.MaxNicknameBytes {
		n = n[:constants.MaxNicknameBytes]
	}
	return n
}

// EventKind distinguishes directory change notifications.
type EventKind int

const (
	EventAdded EventKind = iota
	EventUpdated
	EventRemoved
)

// Event is published to directory subscribers on every mutation.
type Event struct {
	Kind EventKind
	Peer Peer
}

// Directory is the single-writer, many-reader live peer table. Mutation
// happens only through Upsert (by the discovery transport) and the
// timeout-driven EvictStale sweep; reads take a read lock and return copies
// of the records.
type Directory struct {
	mu      sync.RWMutex
	self    string
	peers   map[string]*Peer
	timeout time.Duration

	subMu sync.Mutex
	subs  []chan Event
}

// New creates a Directory that never admits selfID (the local node's own
// PeerID never appears in its own directory, §3).
func New(selfID string, timeout time.Duration) *Directory {
	if timeout <= 0 {
		timeout = constants.PeerTimeout
	}
	return &Directory{
		self:    selfID,
		peers:   make(map[string]*Peer),
		timeout: timeout,
	}
}

// Subscribe returns a channel that receives every directory Event. The
// channel is buffered; slow subscribers drop events rather than block the
// writer.
func (d *Directory) Subscribe(buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = 32
	}
	ch := make(chan Event, buffer)
	d.subMu.Lock()
	d.subs = append(d.subs, ch)
	d.subMu.Unlock()
	return ch
}

func (d *Directory) publish(ev Event) {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	for _, ch := range d.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Upsert inserts or refreshes a peer record from an incoming beacon. It is
// a no-op for the local node's own id.
func (d *Directory) Upsert(p Peer) {
	if p.ID == d.self {
		return
	}
	p.Nickname = NormalizeNickname(p.Nickname)
	p.LastSeen = time.Now()

	d.mu.Lock()
	existing, had := d.peers[p.ID]
	d.peers[p.ID] = &p
	d.mu.Unlock()

	if !had {
		d.publish(Event{Kind: EventAdded, Peer: p})
		return
	}
	if *existing != p {
		d.publish(Event{Kind: EventUpdated, Peer: p})
	}
}

// Get returns a copy of the peer record for id, if present.
func (d *Directory) Get(id string) (Peer, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.peers[id]
	if !ok {
		return Peer{}, false
	}
	return *p, true
}

// Snapshot returns a copy of every known peer.
func (d *Directory) Snapshot() []Peer {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Peer, 0, len(d.peers))
	for _, p := range d.peers {
		out = append(out, *p)
	}
	return out
}

// Len returns the number of known peers.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.peers)
}

// EvictStale removes every peer whose last beacon is older than the
// directory's timeout, returning the removed ids. Intended to be called
// from a periodic timer tick (§4.D).
func (d *Directory) EvictStale() []string {
	cutoff := time.Now().Add(-d.timeout)

	d.mu.Lock()
	var removed []Peer
	for id, p := range d.peers {
		if p.LastSeen.Before(cutoff) {
			removed = append(removed, *p)
			delete(d.peers, id)
		}
	}
	d.mu.Unlock()

	ids := make([]string, len(removed))
	for i, p := range removed {
		ids[i] = p.ID
		d.publish(Event{Kind: EventRemoved, Peer: p})
	}
	return ids
}
