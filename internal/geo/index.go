package geo

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/aloksahay/warhead/pkg/core"
	"github.com/peterstace/simplefeatures/rtree"
)

// boxPadding widens every search box, in EPSG:3857 metres, so that points lying
// exactly on the radius survive floating point error in the prefilter.
const boxPadding = 1.0

// minOverlay is the number of pending changes always tolerated before the
// snapshot is rebuilt, however small the index.
const minOverlay = 256

// Hit is a single proximity query result.
type Hit struct {
	PlayerID       string
	Location       core.LatLon
	DistanceMeters float64
}

// position is immutable once stored; updates replace it.
type position struct {
	playerID  string
	loc       core.LatLon
	x, y      float64
	seq       uint64
	updatedAt time.Time
}

// change is a write not yet folded into the snapshot. A nil pos is a removal.
type change struct {
	pos *position
	seq uint64
}

// snapshot is an immutable R-tree over the positions as of seq.
type snapshot struct {
	tree      *rtree.RTree
	positions []*position
	seq       uint64
	builtAt   time.Time
}

// Option configures an Index.
type Option func(*Index)

// WithRebuildInterval bounds how long pending changes are answered from the
// overlay before the R-tree is rebuilt. Zero rebuilds on size only.
func WithRebuildInterval(d time.Duration) Option {
	return func(ix *Index) {
		ix.rebuildInterval = d
	}
}

// WithOverlayLimit sets the number of pending changes that forces a rebuild.
// The default is one sixteenth of the index, at least minOverlay.
func WithOverlayLimit(n int) Option {
	return func(ix *Index) {
		ix.overlayLimit = n
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(ix *Index) {
		ix.now = now
	}
}

// Index holds the last reported position of every player and answers radius
// queries. It is a projection of the player store, not the system of record.
//
// Queries combine an immutable bulk-loaded R-tree with an overlay of the
// changes made since it was built, so answers always reflect every completed
// Upsert and Remove. The tree is rebuilt outside mu, one builder at a time.
type Index struct {
	mu        sync.RWMutex
	positions map[string]*position
	pending   map[string]change
	snap      *snapshot
	seq       uint64

	buildMu sync.Mutex

	rebuildInterval time.Duration
	overlayLimit    int
	now             func() time.Time
}

// NewIndex creates an empty index.
func NewIndex(opts ...Option) *Index {
	ix := &Index{
		positions: make(map[string]*position),
		pending:   make(map[string]change),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(ix)
	}
	ix.snap = &snapshot{builtAt: ix.now()}
	return ix
}

// Upsert records the position of a player. Invalid coordinates leave the
// previous position untouched.
func (ix *Index) Upsert(playerID string, lat, lon float64) error {
	if err := Validate(lat, lon); err != nil {
		return err
	}
	x, y := WebMercator(lat, lon)

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.seq++
	p := &position{
		playerID:  playerID,
		loc:       core.LatLon{Lat: lat, Lon: lon},
		x:         x,
		y:         y,
		seq:       ix.seq,
		updatedAt: ix.now(),
	}
	ix.positions[playerID] = p
	ix.pending[playerID] = change{pos: p, seq: ix.seq}
	return nil
}

// Remove drops a player from the index.
func (ix *Index) Remove(playerID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if _, ok := ix.positions[playerID]; !ok {
		return
	}
	ix.seq++
	delete(ix.positions, playerID)
	ix.pending[playerID] = change{seq: ix.seq}
}

// Position returns the latest recorded position of a player.
func (ix *Index) Position(playerID string) (core.LatLon, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	p, ok := ix.positions[playerID]
	if !ok {
		return core.LatLon{}, false
	}
	return p.loc, true
}

// Len returns the number of indexed players.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.positions)
}

// Pending returns the number of changes not yet folded into the R-tree.
func (ix *Index) Pending() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.pending)
}

// Nearby returns every player within radiusMeters (inclusive) of the query
// point, sorted by distance and then player ID.
func (ix *Index) Nearby(lat, lon, radiusMeters float64) ([]Hit, error) {
	if err := Validate(lat, lon); err != nil {
		return nil, err
	}
	if math.IsNaN(radiusMeters) || radiusMeters < 0 {
		return nil, fmt.Errorf("%w: radius=%v", core.ErrInvalidCoordinate, radiusMeters)
	}

	ix.maybeRebuild()
	snap, overlay := ix.view()

	center := core.LatLon{Lat: lat, Lon: lon}
	hits := make([]Hit, 0)
	consider := func(p *position) {
		d := Haversine(center, p.loc)
		if d <= radiusMeters {
			hits = append(hits, Hit{PlayerID: p.playerID, Location: p.loc, DistanceMeters: d})
		}
	}

	if snap.tree != nil {
		seen := make(map[int]struct{})
		for _, b := range capBounds(center, radiusMeters) {
			minX, minY := WebMercator(b.minLat, b.minLon)
			maxX, maxY := WebMercator(b.maxLat, b.maxLon)
			box := rtree.Box{
				MinX: minX - boxPadding,
				MinY: minY - boxPadding,
				MaxX: maxX + boxPadding,
				MaxY: maxY + boxPadding,
			}
			err := snap.tree.RangeSearch(box, func(recordID int) error {
				if _, dup := seen[recordID]; dup {
					return nil
				}
				seen[recordID] = struct{}{}

				p := snap.positions[recordID]
				if _, changed := overlay[p.playerID]; changed {
					return nil
				}
				consider(p)
				return nil
			})
			if err != nil {
				return nil, err
			}
		}
	}

	for _, c := range overlay {
		if c.pos != nil {
			consider(c.pos)
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].DistanceMeters != hits[j].DistanceMeters {
			return hits[i].DistanceMeters < hits[j].DistanceMeters
		}
		return hits[i].PlayerID < hits[j].PlayerID
	})
	return hits, nil
}

// view returns the snapshot with a consistent copy of the changes made since.
func (ix *Index) view() (*snapshot, map[string]change) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	overlay := make(map[string]change, len(ix.pending))
	for id, c := range ix.pending {
		overlay[id] = c
	}
	return ix.snap, overlay
}

func (ix *Index) needsRebuild() bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if len(ix.pending) == 0 {
		return false
	}
	if len(ix.pending) >= ix.limit() {
		return true
	}
	return ix.rebuildInterval > 0 && ix.now().Sub(ix.snap.builtAt) >= ix.rebuildInterval
}

// limit must be called with mu held.
func (ix *Index) limit() int {
	if ix.overlayLimit > 0 {
		return ix.overlayLimit
	}
	return max(minOverlay, len(ix.positions)/16)
}

// maybeRebuild folds pending changes into a fresh R-tree when the overlay is
// too large or too old. Callers that find a build in progress keep using the
// overlay.
func (ix *Index) maybeRebuild() {
	if !ix.needsRebuild() {
		return
	}
	if !ix.buildMu.TryLock() {
		return
	}
	defer ix.buildMu.Unlock()
	ix.rebuild()
}

// Rebuild folds every pending change into a fresh R-tree.
func (ix *Index) Rebuild() {
	ix.buildMu.Lock()
	defer ix.buildMu.Unlock()
	ix.rebuild()
}

// rebuild must be called with buildMu held.
func (ix *Index) rebuild() {
	ix.mu.RLock()
	seq := ix.seq
	positions := make([]*position, 0, len(ix.positions))
	for _, p := range ix.positions {
		positions = append(positions, p)
	}
	ix.mu.RUnlock()

	snap := &snapshot{positions: positions, seq: seq, builtAt: ix.now()}
	if len(positions) > 0 {
		items := make([]rtree.BulkItem, len(positions))
		for i, p := range positions {
			items[i] = rtree.BulkItem{
				Box:      rtree.Box{MinX: p.x, MinY: p.y, MaxX: p.x, MaxY: p.y},
				RecordID: i,
			}
		}
		snap.tree = rtree.BulkLoad(items)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.snap = snap
	for id, c := range ix.pending {
		if c.seq <= seq {
			delete(ix.pending, id)
		}
	}
}
