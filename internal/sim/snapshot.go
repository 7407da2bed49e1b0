package sim

import "github.com/go-gl/mathgl/mgl64"

// VehicleSnapshot mirrors VehicleState for renderers.
type VehicleSnapshot struct {
	Position   mgl64.Vec3 `json:"position"`
	Heading    float64    `json:"heading"`
	Behavior   string     `json:"behavior"`
	WalkCycle  float64    `json:"walkCycle"`
	ShootCycle float64    `json:"shootCycle"`
	// TargetHeading is only set while turning.
	TargetHeading *float64 `json:"targetHeading,omitempty"`
	BodyOffset    float64  `json:"bodyOffset"`
}

// Snapshot captures the state exposed to non-simulation callers. It is a value
// copy; mutating it has no effect on the simulation.
type Snapshot struct {
	Tick       uint64          `json:"tick"`
	Variant    Variant         `json:"variant"`
	Vehicle    VehicleSnapshot `json:"vehicle"`
	Weapon     WeaponState     `json:"weapon"`
	Target     TargetEntity    `json:"target"`
	Particles  []Particle      `json:"particles,omitempty"`
	Tiles      []TerrainTile   `json:"tiles"`
	TileEvents []TileEvent     `json:"tileEvents,omitempty"`
	Camera     CameraPose      `json:"camera"`
	Light      LightPose       `json:"light"`
	// Commands lists the command types applied this tick, in order.
	Commands []CommandType `json:"commands,omitempty"`
}

func vehicleSnapshot(state VehicleState) VehicleSnapshot {
	out := VehicleSnapshot{
		Position:   state.Position,
		Heading:    state.Heading,
		Behavior:   state.Behavior.String(),
		WalkCycle:  state.WalkCycle,
		ShootCycle: state.ShootCycle,
		BodyOffset: state.BodyOffset,
	}
	if state.Behavior == BehaviorTurning {
		target := state.TargetHeading
		out.TargetHeading = &target
	}
	return out
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := s
	if s.Vehicle.TargetHeading != nil {
		target := *s.Vehicle.TargetHeading
		out.Vehicle.TargetHeading = &target
	}
	out.Particles = cloneSlice(s.Particles)
	out.Tiles = cloneSlice(s.Tiles)
	out.TileEvents = cloneSlice(s.TileEvents)
	out.Commands = cloneSlice(s.Commands)
	return out
}

func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}
