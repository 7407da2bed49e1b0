package sim

import (
	"context"
	"errors"
	"fmt"

	loggingcombat "palm-pilots/server/logging/combat"
	loggingterrain "palm-pilots/server/logging/terrain"
)

const (
	metricTicks           = "sim_ticks_total"
	metricCommandsApplied = "sim_commands_applied_total"
	metricCommandsIgnored = "sim_commands_ignored_total"
	metricTargetHits      = "sim_target_hits_total"
	metricParticles       = "sim_particles"
	metricTiles           = "sim_terrain_tiles"
	metricTilesSpawned    = "sim_terrain_tiles_spawned_total"
	metricTilesEvicted    = "sim_terrain_tiles_evicted_total"
	metricTurnsCompleted  = "sim_turns_completed_total"
)

// ErrUnknownCommand is returned by Apply for commands outside the closed
// command set. Such commands are skipped; the rest of the batch still applies.
var ErrUnknownCommand = errors.New("sim: unknown command type")

// Simulation runs one tick in a fixed order: vehicle, combat, impact,
// terrain, camera.
type Simulation struct {
	cfg  SimulationConfig
	deps Deps

	tick    uint64
	hitTick uint64

	vehicle *VehicleStateMachine
	combat  *CombatSystem
	impact  *ImpactSystem
	terrain *TerrainStreamer
	camera  *CameraRig

	applied []CommandType
	last    Snapshot
}

// NewSimulation builds a simulation at its initial state. A nil factory uses
// SequentialTiles.
func NewSimulation(cfg SimulationConfig, deps Deps, factory TileFactory) *Simulation {
	cfg = cfg.Normalized()
	deps = deps.withDefaults()
	s := &Simulation{
		cfg:     cfg,
		deps:    deps,
		vehicle: NewVehicleStateMachine(cfg),
		combat:  NewCombatSystem(cfg, deps.RNG),
		impact:  NewImpactSystem(cfg, deps.RNG),
		terrain: NewTerrainStreamer(cfg, factory),
		camera:  NewCameraRig(cfg),
	}
	s.capture(s.terrain.DrainEvents())
	return s
}

func (s *Simulation) Deps() Deps { return s.deps }

func (s *Simulation) Config() SimulationConfig { return s.cfg }

// Tick reports the number of completed steps.
func (s *Simulation) Tick() uint64 { return s.tick }

// Apply feeds commands to the vehicle in order. Repeated requests ignored by
// the re-entry policy and turn requests on a vehicle that cannot turn are
// counted but are not errors.
func (s *Simulation) Apply(cmds []Command) error {
	var errs []error
	for _, cmd := range cmds {
		if !cmd.Type.Valid() {
			errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Type))
			continue
		}
		if !s.vehicle.Apply(cmd.Type) {
			s.deps.Metrics.Add(metricCommandsIgnored, 1)
			continue
		}
		s.applied = append(s.applied, cmd.Type)
		s.deps.Metrics.Add(metricCommandsApplied, 1)
	}
	return errors.Join(errs...)
}

// Step advances every subsystem by one tick and captures a snapshot.
func (s *Simulation) Step() {
	ctx := context.Background()
	s.tick++

	if s.vehicle.Step() {
		s.deps.Metrics.Add(metricTurnsCompleted, 1)
	}
	vehicle := s.vehicle.State()

	hit := s.combat.Step(vehicle, s.impact)
	if hit.Hit {
		s.hitTick = s.tick
		target := s.impact.Target()
		s.deps.Metrics.Add(metricTargetHits, 1)
		loggingcombat.TargetHit(ctx, s.deps.Publisher, s.tick, loggingcombat.TargetHitPayload{
			Distance:  hit.Distance,
			HitRadius: s.cfg.HitRadius,
			VehicleZ:  vehicle.Position.Z(),
			TargetZ:   target.BasePosition.Z(),
			Particles: s.impact.ParticleCount(),
		}, nil)
	}

	if result := s.impact.Step(); result.FallComplete {
		loggingcombat.TargetDown(ctx, s.deps.Publisher, s.tick, loggingcombat.TargetDownPayload{
			FallTicks: s.tick - s.hitTick,
		}, nil)
	}

	s.terrain.Update(vehicle.Position.Z())
	events := s.terrain.DrainEvents()
	s.publishTileEvents(ctx, events, vehicle.Position.Z())

	s.capture(events)
	s.deps.Metrics.Add(metricTicks, 1)
	s.deps.Metrics.Store(metricParticles, uint64(s.impact.ParticleCount()))
	s.deps.Metrics.Store(metricTiles, uint64(s.terrain.Len()))
}

// Snapshot returns the state captured at the end of the last step.
func (s *Simulation) Snapshot() Snapshot {
	return s.last.Clone()
}

// Reset returns every subsystem to its initial state. The tick counter keeps
// running so snapshots stay ordered.
func (s *Simulation) Reset() {
	s.vehicle.Reset()
	s.combat.Reset()
	s.impact.Reset()
	s.terrain.Reset()
	s.hitTick = 0
	s.applied = s.applied[:0]
	s.capture(s.terrain.DrainEvents())
}

func (s *Simulation) capture(events []TileEvent) {
	vehicle := s.vehicle.State()
	camera, light := s.camera.Update(vehicle)
	var applied []CommandType
	if len(s.applied) > 0 {
		applied = cloneSlice(s.applied)
		s.applied = s.applied[:0]
	}
	s.last = Snapshot{
		Tick:       s.tick,
		Variant:    s.cfg.Variant,
		Vehicle:    vehicleSnapshot(vehicle),
		Weapon:     s.combat.Weapon(),
		Target:     s.impact.Target(),
		Particles:  s.impact.Particles(),
		Tiles:      s.terrain.Tiles(),
		TileEvents: events,
		Camera:     camera,
		Light:      light,
		Commands:   applied,
	}
}

func (s *Simulation) publishTileEvents(ctx context.Context, events []TileEvent, vehicleZ float64) {
	for _, event := range events {
		payload := loggingterrain.TilePayload{Z: event.Z, VehicleZ: vehicleZ, WindowSize: s.terrain.Len()}
		extra := map[string]any{"handle": uint64(event.Handle)}
		switch event.Kind {
		case TileCreated:
			s.deps.Metrics.Add(metricTilesSpawned, 1)
			loggingterrain.TileSpawned(ctx, s.deps.Publisher, s.tick, payload, extra)
		case TileReleased:
			s.deps.Metrics.Add(metricTilesEvicted, 1)
			loggingterrain.TileEvicted(ctx, s.deps.Publisher, s.tick, payload, extra)
		}
	}
}

var _ EngineCore = (*Simulation)(nil)
