package download

import (
	"sort"
	"sync"
	"time"
)

// sourceStat tracks what the scheduler knows about one peer as a candidate
// source for chunks in general: how many chunks it is currently serving to
// this node (outstanding) and how many times a fetch from it has failed.
type sourceStat struct {
	outstanding  int
	failureCount int
}

// blacklistKey pairs a chunk hash with a source PeerID, mirroring the
// teacher's SecurityManager.blacklist map[string]time.Time keyed by a
// single identity; a chunk/source pair is the unit this engine needs to
// cool down (§4.G.3), not the source alone, since a source may still be
// good for other chunks.
type blacklistKey struct {
	hash string
	peer string
}

// SourceTracker records which peers are known to hold which chunks
// (learned from discovery's ChunkOwned callback), each source's current
// load and failure history for scheduling (§4.G.2's tie-break rule), and a
// per-(chunk,source) cooldown after a hash mismatch (§4.G.3). Grounded on
// the blacklist-with-expiry pattern in this lineage's DHT SecurityManager,
// narrowed from a single blacklist key to a (hash,peer) pair.
type SourceTracker struct {
	mu sync.Mutex

	// candidates[hash] is the set of peer addresses known to hold hash.
	candidates map[string]map[string]string // hash -> peerID -> addr
	stats      map[string]*sourceStat       // peerID -> stats
	blacklist  map[blacklistKey]time.Time   // (hash,peer) -> cooldown expiry

	cooldown time.Duration
}

// NewSourceTracker creates a tracker with the given hash-mismatch cooldown.
func NewSourceTracker(cooldown time.Duration) *SourceTracker {
	return &SourceTracker{
		candidates: make(map[string]map[string]string),
		stats:      make(map[string]*sourceStat),
		blacklist:  make(map[blacklistKey]time.Time),
		cooldown:   cooldown,
	}
}

// Learn records that peerID (reachable at addr) owns hash. Wired to
// discovery.Transport's owner callback.
func (t *SourceTracker) Learn(hash, peerID, addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.candidates[hash]
	if !ok {
		m = make(map[string]string)
		t.candidates[hash] = m
	}
	m[peerID] = addr
}

// Forget drops peerID as a known source for hash, used when a DONT_HAVE
// response shows the earlier announcement was stale (§4.G.3).
func (t *SourceTracker) Forget(hash, peerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m, ok := t.candidates[hash]; ok {
		delete(m, peerID)
	}
}

// candidate is a scoring view of one (peerID, addr) pair for a chunk.
type candidate struct {
	peerID string
	addr   string
}

// Choose picks the best source for hash per §4.G.2's tie-break rule:
// lowest outstanding count, then lower failure count, then PeerID
// bytewise. Sources currently blacklisted for this hash are excluded.
func (t *SourceTracker) Choose(hash string) (peerID, addr string, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	m := t.candidates[hash]
	if len(m) == 0 {
		return "", "", false
	}

	now := time.Now()
	var cands []candidate
	for p, a := range m {
		if exp, blacklisted := t.blacklist[blacklistKey{hash, p}]; blacklisted {
			if now.Before(exp) {
				continue
			}
			delete(t.blacklist, blacklistKey{hash, p})
		}
		cands = append(cands, candidate{peerID: p, addr: a})
	}
	if len(cands) == 0 {
		return "", "", false
	}

	sort.Slice(cands, func(i, j int) bool {
		si, sj := t.stats[cands[i].peerID], t.stats[cands[j].peerID]
		oi, oj := statOutstanding(si), statOutstanding(sj)
		if oi != oj {
			return oi < oj
		}
		fi, fj := statFailures(si), statFailures(sj)
		if fi != fj {
			return fi < fj
		}
		return cands[i].peerID < cands[j].peerID
	})
	best := cands[0]
	return best.peerID, best.addr, true
}

func statOutstanding(s *sourceStat) int {
	if s == nil {
		return 0
	}
	return s.outstanding
}

func statFailures(s *sourceStat) int {
	if s == nil {
		return 0
	}
	return s.failureCount
}

// MarkStarted increments peerID's outstanding-transfer count.
func (t *SourceTracker) MarkStarted(peerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.statFor(peerID).outstanding++
}

// MarkFinished decrements peerID's outstanding-transfer count. failed
// additionally increments its failure count (used for the tie-break rule,
// not for blacklisting — that is per chunk, via Blacklist).
func (t *SourceTracker) MarkFinished(peerID string, failed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.statFor(peerID)
	if s.outstanding > 0 {
		s.outstanding--
	}
	if failed {
		s.failureCount++
	}
}

func (t *SourceTracker) statFor(peerID string) *sourceStat {
	s, ok := t.stats[peerID]
	if !ok {
		s = &sourceStat{}
		t.stats[peerID] = s
	}
	return s
}

// Blacklist cools down peerID as a source for hash for the tracker's
// configured cooldown (§4.G.3, on HASH_MISMATCH).
func (t *SourceTracker) Blacklist(hash, peerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.blacklist[blacklistKey{hash, peerID}] = time.Now().Add(t.cooldown)
}

// IsBlacklisted reports whether peerID is currently cooling down for hash.
func (t *SourceTracker) IsBlacklisted(hash, peerID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	exp, ok := t.blacklist[blacklistKey{hash, peerID}]
	if !ok {
		return false
	}
	return time.Now().Before(exp)
}
