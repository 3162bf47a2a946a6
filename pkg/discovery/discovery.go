// Package discovery implements the datagram-based presence, search, and
// chat transport (§4.C of SPEC_FULL.md): a multicast beacon socket and a
// unicast reply socket, grounded on this lineage's presence refresh loop
// (internal/dht/presence.go) for the periodic-ticker shape and on the
// original D-LAN implementation's UDPListener for the two-socket layout and
// the oldest/newest interest-hash rotation.
package discovery

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/WebFirstLanguage/lanbeacon/pkg/catalog"
	"github.com/WebFirstLanguage/lanbeacon/pkg/codec/cborcanon"
	"github.com/WebFirstLanguage/lanbeacon/pkg/config"
	"github.com/WebFirstLanguage/lanbeacon/pkg/constants"
	"github.com/WebFirstLanguage/lanbeacon/pkg/peer"
	"github.com/WebFirstLanguage/lanbeacon/pkg/wire"
)

// InterestSource supplies the set of chunk hashes the local download engine
// is actively trying to fetch, so the beacon can advertise them (§4.G.2).
type InterestSource interface {
	OldestInterest(n int) []string
	NewestInterest(n int) []string
}

// SelfInfo is the locally-known self-description echoed in every beacon.
type SelfInfo struct {
	ID          string
	Nickname    string
	Port        uint16
	BytesFree   uint64
	BytesShared uint64
	DownloadBps uint64
}

// Transport owns the multicast and unicast sockets and drives the periodic
// beacon, search, and chat protocol.
type Transport struct {
	cfg  *config.Snapshot
	self SelfInfo
	dir  *peer.Directory
	cat  *catalog.Catalog
	log  *logrus.Entry

	interest InterestSource

	mcastConn *net.UDPConn
	ucastConn *net.UDPConn
	mcastAddr *net.UDPAddr

	rotation constants.HashRequestType
	tag      uint32
	tagMu    sync.Mutex

	dedupMu sync.Mutex
	dedup   map[string]time.Time // sender|tag -> first-seen time

	findMu      sync.Mutex
	findResults map[uint32]chan wire.FindResultBody

	queryHandler func(pattern string) []wire.FindEntry
	ownerHandler func(hash, peerID, addr string)
}

// SetOwnerHandler wires the callback invoked whenever a remote peer
// announces ownership of a chunk this node is interested in (§4.G.2's
// source-discovery path). Typically wired to the download engine's
// source-candidate tracker.
func (t *Transport) SetOwnerHandler(fn func(hash, peerID, addr string)) {
	t.ownerHandler = fn
}

// New builds a Transport. Sockets are opened lazily in Start.
func New(cfg *config.Snapshot, self SelfInfo, dir *peer.Directory, cat *catalog.Catalog, interest InterestSource, log *logrus.Entry) *Transport {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Transport{
		cfg:         cfg,
		self:        self,
		dir:         dir,
		cat:         cat,
		interest:    interest,
		log:         log.WithField("component", "discovery"),
		dedup:       make(map[string]time.Time),
		findResults: make(map[uint32]chan wire.FindResultBody),
	}
}

func (t *Transport) nextTag() uint32 {
	t.tagMu.Lock()
	defer t.tagMu.Unlock()
	t.tag++
	return t.tag
}

// Start opens both sockets and launches the beacon, listener, and
// duplicate-cache reaper goroutines. It blocks until ctx is cancelled.
func (t *Transport) Start(ctx context.Context) error {
	mcastAddr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", t.cfg.MulticastGroup, t.cfg.MulticastPort))
	if err != nil {
		return fmt.Errorf("resolve multicast address: %w", err)
	}
	t.mcastAddr = mcastAddr

	mcastConn, err := net.ListenMulticastUDP("udp4", nil, mcastAddr)
	if err != nil {
		return fmt.Errorf("listen multicast: %w", err)
	}
	t.mcastConn = mcastConn

	ucastConn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: t.cfg.UnicastPort})
	if err != nil {
		mcastConn.Close()
		return fmt.Errorf("listen unicast: %w", err)
	}
	t.ucastConn = ucastConn

	var wg sync.WaitGroup
	wg.Add(4)
	go func() { defer wg.Done(); t.beaconLoop(ctx) }()
	go func() { defer wg.Done(); t.readLoop(ctx, t.mcastConn) }()
	go func() { defer wg.Done(); t.readLoop(ctx, t.ucastConn) }()
	go func() { defer wg.Done(); t.dedupReapLoop(ctx) }()

	<-ctx.Done()
	mcastConn.Close()
	ucastConn.Close()
	wg.Wait()
	return nil
}

func (t *Transport) beaconLoop(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.BeaconInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.sendBeacon()
		}
	}
}

func (t *Transport) sendBeacon() {
	var sample []string
	if t.interest != nil {
		const sampleSize = 16
		if t.rotation == constants.OldestHashes {
			sample = t.interest.OldestInterest(sampleSize)
		} else {
			sample = t.interest.NewestInterest(sampleSize)
		}
	}

	body := &wire.IMAliveBody{
		Port:         t.self.Port,
		Nickname:     t.self.Nickname,
		BytesFree:    t.self.BytesFree,
		BytesShared:  t.self.BytesShared,
		DownloadBps:  t.self.DownloadBps,
		RotationType: t.rotation,
		Interest:     sample,
	}
	if t.rotation == constants.OldestHashes {
		t.rotation = constants.NewestHashes
	} else {
		t.rotation = constants.OldestHashes
	}

	frame := wire.NewIMAlive(t.self.ID, t.nextTag(), body)
	data, err := frame.Marshal()
	if err != nil {
		t.log.WithError(err).Warn("failed to encode beacon")
		return
	}
	if len(data) > t.cfg.MaxUDPDatagramSize {
		t.log.Warn("beacon exceeds max datagram size, dropping interest sample")
		body.Interest = nil
		frame.Body = body
		data, err = frame.Marshal()
		if err != nil {
			t.log.WithError(err).Warn("failed to re-encode shrunk beacon")
			return
		}
	}

	if _, err := t.mcastConn.WriteToUDP(data, t.mcastAddr); err != nil {
		t.log.WithError(err).Warn("failed to send beacon")
	}
}

func (t *Transport) readLoop(ctx context.Context, conn *net.UDPConn) {
	buf := make([]byte, constants.MaxUDPDatagramSize*2)
	for {
		if ctx.Err() != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(time.Second))
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		if n > t.cfg.MaxUDPDatagramSize {
			t.log.Warn("dropping oversized datagram")
			continue
		}
		t.handleDatagram(buf[:n], from)
	}
}

func (t *Transport) handleDatagram(data []byte, from *net.UDPAddr) {
	var frame wire.Frame
	if err := frame.Unmarshal(data); err != nil {
		t.log.WithError(err).Debug("dropping malformed datagram")
		return
	}
	if err := frame.Validate(); err != nil {
		t.log.WithError(err).Debug("dropping invalid frame")
		return
	}
	if frame.From == t.self.ID {
		return
	}

	switch frame.Kind {
	case constants.KindIMAlive:
		t.handleIMAlive(&frame, from)
	case constants.KindChunkOwned:
		t.handleChunkOwned(&frame, from)
	case constants.KindFind:
		t.handleFind(&frame, from)
	case constants.KindFindResult:
		t.handleFindResult(&frame)
	case constants.KindChat:
		// No-op by default; callers observe chat via the directory
		// snapshot and their own UI layer.
	}
}

func (t *Transport) handleIMAlive(frame *wire.Frame, from *net.UDPAddr) {
	key := fmt.Sprintf("%s|%d", frame.From, frame.Tag)
	t.dedupMu.Lock()
	if _, seen := t.dedup[key]; seen {
		t.dedupMu.Unlock()
		return
	}
	t.dedup[key] = time.Now()
	t.dedupMu.Unlock()

	var body wire.IMAliveBody
	if err := reencode(frame.Body, &body); err != nil {
		t.log.WithError(err).Debug("dropping malformed IMAlive body")
		return
	}

	t.dir.Upsert(peer.Peer{
		ID:          frame.From,
		Nickname:    body.Nickname,
		Addr:        from.IP.String(),
		Port:        body.Port,
		BytesFree:   body.BytesFree,
		BytesShared: body.BytesShared,
		DownloadBps: body.DownloadBps,
		Version:     frame.V,
	})

	owned := t.cat.MatchInterest(body.Interest)
	for _, hash := range owned {
		reply := wire.NewChunkOwned(t.self.ID, frame.Tag, &wire.ChunkOwnedBody{Hash: hash})
		data, err := reply.Marshal()
		if err != nil {
			continue
		}
		t.ucastConn.WriteToUDP(data, from)
	}
}

func (t *Transport) handleChunkOwned(frame *wire.Frame, from *net.UDPAddr) {
	var body wire.ChunkOwnedBody
	if err := reencode(frame.Body, &body); err != nil {
		return
	}
	if t.ownerHandler != nil {
		t.ownerHandler(body.Hash, frame.From, from.String())
	}
}

func (t *Transport) handleFind(frame *wire.Frame, from *net.UDPAddr) {
	// The file manager collaborator performs the actual query; this
	// package only relays the request/response. Embedders wire Query
	// through SetQueryHandler.
	if t.queryHandler == nil {
		return
	}
	var body wire.FindBody
	if err := reencode(frame.Body, &body); err != nil {
		return
	}
	entries := t.queryHandler(body.Pattern)
	reply := wire.NewFindResult(t.self.ID, frame.Tag, entries)
	data, err := reply.Marshal()
	if err != nil {
		return
	}
	t.ucastConn.WriteToUDP(data, from)
}

func (t *Transport) handleFindResult(frame *wire.Frame) {
	var body wire.FindResultBody
	if err := reencode(frame.Body, &body); err != nil {
		return
	}
	t.findMu.Lock()
	ch, ok := t.findResults[frame.Tag]
	t.findMu.Unlock()
	if ok {
		select {
		case ch <- body:
		default:
		}
	}
}

// SetQueryHandler wires the function that answers incoming Find requests
// against the local file index (the File Manager collaborator, §6).
func (t *Transport) SetQueryHandler(fn func(pattern string) []wire.FindEntry) {
	t.queryHandler = fn
}

func (t *Transport) dedupReapLoop(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.BeaconInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-2 * t.cfg.BeaconInterval)
			t.dedupMu.Lock()
			for k, ts := range t.dedup {
				if ts.Before(cutoff) {
					delete(t.dedup, k)
				}
			}
			t.dedupMu.Unlock()
		}
	}
}

// Find multicasts a search query and collects results for timeout.
func (t *Transport) Find(pattern string, timeout time.Duration) ([]wire.FindEntry, error) {
	tag := t.nextTag()
	ch := make(chan wire.FindResultBody, 8)
	t.findMu.Lock()
	t.findResults[tag] = ch
	t.findMu.Unlock()
	defer func() {
		t.findMu.Lock()
		delete(t.findResults, tag)
		t.findMu.Unlock()
	}()

	frame := wire.NewFind(t.self.ID, tag, pattern)
	data, err := frame.Marshal()
	if err != nil {
		return nil, err
	}
	if _, err := t.mcastConn.WriteToUDP(data, t.mcastAddr); err != nil {
		return nil, err
	}

	var entries []wire.FindEntry
	deadline := time.After(timeout)
	for {
		select {
		case res := <-ch:
			entries = append(entries, res.Entries...)
		case <-deadline:
			return entries, nil
		}
	}
}

// Chat multicasts a plain text message.
func (t *Transport) Chat(text string) error {
	frame := wire.NewChat(t.self.ID, t.nextTag(), text)
	data, err := frame.Marshal()
	if err != nil {
		return err
	}
	_, err = t.mcastConn.WriteToUDP(data, t.mcastAddr)
	return err
}

// reencode round-trips v's CBOR-decoded form (a map[interface{}]interface{}
// after generic Unmarshal) back through canonical CBOR into a concrete
// struct. Frame.Body is decoded as interface{} by the generic Unmarshal, so
// callers need this step to recover a typed body.
func reencode(from interface{}, to interface{}) error {
	data, err := cborcanon.Marshal(from)
	if err != nil {
		return err
	}
	return cborcanon.Unmarshal(data, to)
}
