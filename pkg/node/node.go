// Package node wires the Peer Directory, Discovery Transport, Socket Pool,
// Chunk Catalog, Upload Engine, Download Engine, and the read-only Control
// surface into one running process with a start/stop lifecycle (§2 of
// SPEC_FULL.md). The lifecycle follows agent.Agent's state machine
// (Stopped/Starting/Running/Stopping/Error, a cancelable context plus a
// done channel), with its DHT/SWIM/gossip fields replaced by this system's
// flat discovery-and-transfer stack.
package node

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/WebFirstLanguage/lanbeacon/pkg/catalog"
	"github.com/WebFirstLanguage/lanbeacon/pkg/config"
	"github.com/WebFirstLanguage/lanbeacon/pkg/constants"
	"github.com/WebFirstLanguage/lanbeacon/pkg/control"
	"github.com/WebFirstLanguage/lanbeacon/pkg/discovery"
	"github.com/WebFirstLanguage/lanbeacon/pkg/download"
	"github.com/WebFirstLanguage/lanbeacon/pkg/filemanager"
	"github.com/WebFirstLanguage/lanbeacon/pkg/hashid"
	"github.com/WebFirstLanguage/lanbeacon/pkg/peer"
	"github.com/WebFirstLanguage/lanbeacon/pkg/pool"
	"github.com/WebFirstLanguage/lanbeacon/pkg/ratecalc"
	"github.com/WebFirstLanguage/lanbeacon/pkg/settings"
	"github.com/WebFirstLanguage/lanbeacon/pkg/transport"
	"github.com/WebFirstLanguage/lanbeacon/pkg/transport/tcp"
	"github.com/WebFirstLanguage/lanbeacon/pkg/upload"
	"github.com/WebFirstLanguage/lanbeacon/pkg/wire"
)

// State is the node's lifecycle state.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	StateError
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Node owns every SPEC_FULL.md component for one local process.
type Node struct {
	mu    sync.RWMutex
	state State

	cfgStore *config.Store
	selfID   string
	fm       filemanager.Collaborator
	log      *logrus.Entry

	dir    *peer.Directory
	cat    *catalog.Catalog
	tr     transport.Transport
	pl     *pool.Pool
	disc   *discovery.Transport
	q      *download.Queue
	dl     *download.Engine
	ctrl   *control.Server
	upRate *ratecalc.Calculator

	uploadMu  sync.Mutex
	uploaders map[uint64]*upload.Uploader

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Node. stateDir is where settings.Data is persisted; fm
// is the external File Manager collaborator.
func New(stateDir string, fm filemanager.Collaborator, log *logrus.Entry) (*Node, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	d, err := settings.Load(stateDir)
	if err != nil {
		d = &settings.Data{Nickname: config.Default().Nickname}
	}
	if d.PeerID == "" {
		id, err := hashid.NewPeerID()
		if err != nil {
			return nil, fmt.Errorf("node: generate peer id: %w", err)
		}
		d.PeerID = id
		if err := settings.Save(stateDir, d); err != nil {
			return nil, fmt.Errorf("node: persist generated peer id: %w", err)
		}
	}

	cfg := config.Default()
	if d.Nickname != "" {
		cfg.Nickname = d.Nickname
	}
	cfg.StateDir = stateDir
	if d.MulticastGroup != "" {
		cfg.MulticastGroup = d.MulticastGroup
	}
	if d.MulticastPort != 0 {
		cfg.MulticastPort = d.MulticastPort
	}
	if d.UnicastPort != 0 {
		cfg.UnicastPort = d.UnicastPort
	}
	if d.ChunkSize != 0 {
		cfg.ChunkSize = d.ChunkSize
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("node: invalid config: %w", err)
	}

	n := &Node{
		state:     StateStopped,
		cfgStore:  config.NewStore(cfg),
		selfID:    d.PeerID,
		fm:        fm,
		log:       log.WithField("component", "node"),
		cat:       catalog.New(),
		tr:        tcp.New(nil),
		upRate:    ratecalc.New(constants.RateWindow),
		uploaders: make(map[uint64]*upload.Uploader),
		done:      make(chan struct{}),
	}
	n.dir = peer.New(n.selfID, cfg.PeerTimeout)
	n.pl = pool.New(n.tr, n.dispatch, constants.SocketIdleTimeout, log)

	n.q = download.NewQueue()
	n.dl = download.New(cfg, n.selfID, n.q, n.pl, n.cat, fm, log)

	self := discovery.SelfInfo{ID: n.selfID, Nickname: cfg.Nickname}
	n.disc = discovery.New(cfg, self, n.dir, n.cat, n.dl, log)
	n.disc.SetOwnerHandler(n.dl.LearnSource)
	n.disc.SetQueryHandler(n.handleQuery)

	n.ctrl = control.NewServer(n.snapshot, log)

	return n, nil
}

// State returns the current lifecycle state.
func (n *Node) State() State {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state
}

func (n *Node) setState(s State) {
	n.mu.Lock()
	n.state = s
	n.mu.Unlock()
}

// SelfID returns the local node's PeerID.
func (n *Node) SelfID() string { return n.selfID }

// Config returns the active configuration snapshot.
func (n *Node) Config() *config.Snapshot { return n.cfgStore.Load() }

// Reconfigure validates and swaps in a new configuration (§7's
// "Configuration" error policy: reject and keep the previous value on
// failure).
func (n *Node) Reconfigure(next *config.Snapshot) error {
	return n.cfgStore.Swap(next)
}

// Queue returns the download queue, for enqueuing remote paths fetched via
// discovery Find results.
func (n *Node) Queue() *download.Queue { return n.q }

// Engine returns the download engine, so a caller can enqueue remote paths
// through download.EnqueueRemotePath.
func (n *Node) Engine() *download.Engine { return n.dl }

func (n *Node) snapshot() control.Snapshot {
	return control.Snapshot{
		Peers:       n.dir.Snapshot(),
		Queue:       n.q.Items(),
		CatalogSize: n.cat.Len(),
	}
}

// Start launches the discovery transport, download scheduler, control
// server, and peer-eviction sweep. It returns once the stream listener and
// the control listener are bound; the discovery sockets are opened by the
// discovery goroutine after Start returns. The component goroutines keep
// running until Stop is called.
func (n *Node) Start(ctx context.Context, controlAddr string) error {
	n.setState(StateStarting)
	n.ctx, n.cancel = context.WithCancel(ctx)

	cfg := n.cfgStore.Load()
	listener, err := n.tr.Listen(n.ctx, fmt.Sprintf(":%d", cfg.UnicastPort))
	if err != nil {
		n.setState(StateError)
		return fmt.Errorf("node: listen: %w", err)
	}

	var ctrlListener net.Listener
	if controlAddr != "" {
		cl, err := net.Listen("tcp", controlAddr)
		if err != nil {
			listener.Close()
			n.setState(StateError)
			return fmt.Errorf("node: control listen: %w", err)
		}
		ctrlListener = cl
		go n.ctrl.Serve(n.ctx, cl)
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); n.acceptLoop(n.ctx, listener) }()
	go func() { defer wg.Done(); n.disc.Start(n.ctx) }()
	go func() { defer wg.Done(); n.dl.Run(n.ctx) }()
	go n.evictLoop(n.ctx)
	go n.idleReapLoop(n.ctx)

	n.setState(StateRunning)
	go func() {
		wg.Wait()
		if ctrlListener != nil {
			ctrlListener.Close()
		}
		close(n.done)
	}()
	return nil
}

// Stop cancels every component goroutine and waits for the accept loop,
// discovery transport and download scheduler to exit.
func (n *Node) Stop() {
	n.setState(StateStopping)
	if n.cancel != nil {
		n.cancel()
	}
	<-n.done
	n.setState(StateStopped)
}

func (n *Node) acceptLoop(ctx context.Context, listener transport.Listener) {
	defer listener.Close()
	go func() {
		<-ctx.Done()
		listener.Close()
	}()
	for {
		conn, err := listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		n.pl.Adopt(conn.RemoteAddr().String(), conn)
	}
}

func (n *Node) evictLoop(ctx context.Context) {
	interval := n.cfgStore.Load().PeerTimeout / 4
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.dir.EvictStale()
			n.dl.Kick(ctx)
		}
	}
}

func (n *Node) idleReapLoop(ctx context.Context) {
	interval := n.cfgStore.Load().SocketTimeout
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.pl.ReapIdle()
		}
	}
}

// handleQuery answers an inbound Find against the local File Manager.
func (n *Node) handleQuery(pattern string) []wire.FindEntry {
	entries, err := n.fm.Query(pattern)
	if err != nil {
		return nil
	}
	out := make([]wire.FindEntry, len(entries))
	for i, e := range entries {
		out[i] = wire.FindEntry{SharedRoot: e.SharedRoot, Path: e.Path, Size: e.Size, IsDir: e.IsDir}
	}
	return out
}
