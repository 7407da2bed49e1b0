package sim

import "sync/atomic"

// TileHandle identifies a renderer-side ground tile. The simulation never
// looks inside it.
type TileHandle uint64

// TileFactory creates and releases the visual resources behind tiles.
type TileFactory interface {
	CreateTile(z float64) TileHandle
	ReleaseTile(handle TileHandle)
}

// SequentialTiles hands out increasing handles. Renderers map them to meshes
// using the tile events carried in snapshots.
type SequentialTiles struct {
	next     atomic.Uint64
	released atomic.Uint64
}

func (f *SequentialTiles) CreateTile(float64) TileHandle {
	return TileHandle(f.next.Add(1))
}

func (f *SequentialTiles) ReleaseTile(TileHandle) {
	f.released.Add(1)
}

// Live reports how many handles are outstanding.
func (f *SequentialTiles) Live() uint64 {
	return f.next.Load() - f.released.Load()
}

// TerrainTile is one ground plane, centered at Z.
type TerrainTile struct {
	Z      float64    `json:"z"`
	Handle TileHandle `json:"handle"`
}

// TileEventKind distinguishes tile creation from release.
type TileEventKind string

const (
	TileCreated  TileEventKind = "create"
	TileReleased TileEventKind = "destroy"
)

// TileEvent records a change to the tile window.
type TileEvent struct {
	Kind   TileEventKind `json:"kind"`
	Z      float64       `json:"z"`
	Handle TileHandle    `json:"handle"`
}

// TerrainStreamer keeps a contiguous window of tiles around the vehicle.
// tiles[0] is the front (lowest z) and the last entry is the rear.
type TerrainStreamer struct {
	cfg     SimulationConfig
	factory TileFactory
	tiles   []TerrainTile
	events  []TileEvent
}

func NewTerrainStreamer(cfg SimulationConfig, factory TileFactory) *TerrainStreamer {
	if factory == nil {
		factory = &SequentialTiles{}
	}
	t := &TerrainStreamer{cfg: cfg, factory: factory}
	t.seed()
	return t
}

func (t *TerrainStreamer) seed() {
	size := t.cfg.PlaneSize
	for i := -t.cfg.InitialTilesAhead; i <= t.cfg.InitialTilesBehind; i++ {
		t.appendRear(float64(i) * size)
	}
}

// Reset releases every tile and seeds a fresh window around the origin.
func (t *TerrainStreamer) Reset() {
	for _, tile := range t.tiles {
		t.release(tile)
	}
	t.tiles = t.tiles[:0]
	t.seed()
}

// Tiles returns a copy of the window, front first.
func (t *TerrainStreamer) Tiles() []TerrainTile {
	out := make([]TerrainTile, len(t.tiles))
	copy(out, t.tiles)
	return out
}

// Len reports the window size.
func (t *TerrainStreamer) Len() int {
	return len(t.tiles)
}

// DrainEvents returns and clears the tile events recorded since the last call.
func (t *TerrainStreamer) DrainEvents() []TileEvent {
	if len(t.events) == 0 {
		return nil
	}
	out := t.events
	t.events = nil
	return out
}

// Update extends the window ahead of the vehicle and drops tiles it has left
// far behind. Both directions along z are handled.
func (t *TerrainStreamer) Update(vehicleZ float64) {
	size := t.cfg.PlaneSize

	for vehicleZ < t.front().Z+size {
		t.prependFront(t.front().Z - size)
	}
	for len(t.tiles) > t.cfg.MaxTiles && vehicleZ < t.rear().Z-2*size {
		t.release(t.rear())
		t.tiles = t.tiles[:len(t.tiles)-1]
	}

	for vehicleZ > t.rear().Z-size {
		t.appendRear(t.rear().Z + size)
	}
	for len(t.tiles) > t.cfg.MaxTiles && vehicleZ > t.front().Z+2*size {
		t.release(t.front())
		t.tiles = append(t.tiles[:0], t.tiles[1:]...)
	}
}

func (t *TerrainStreamer) front() TerrainTile { return t.tiles[0] }

func (t *TerrainStreamer) rear() TerrainTile { return t.tiles[len(t.tiles)-1] }

func (t *TerrainStreamer) create(z float64) TerrainTile {
	tile := TerrainTile{Z: z, Handle: t.factory.CreateTile(z)}
	t.events = append(t.events, TileEvent{Kind: TileCreated, Z: z, Handle: tile.Handle})
	return tile
}

func (t *TerrainStreamer) release(tile TerrainTile) {
	t.factory.ReleaseTile(tile.Handle)
	t.events = append(t.events, TileEvent{Kind: TileReleased, Z: tile.Z, Handle: tile.Handle})
}

func (t *TerrainStreamer) prependFront(z float64) {
	t.tiles = append(t.tiles, TerrainTile{})
	copy(t.tiles[1:], t.tiles)
	t.tiles[0] = t.create(z)
}

func (t *TerrainStreamer) appendRear(z float64) {
	t.tiles = append(t.tiles, t.create(z))
}
