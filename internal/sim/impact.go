package sim

import (
	"math"
	"math/rand"

	"github.com/go-gl/mathgl/mgl64"
)

// TargetEntity is the billboard the vehicle shoots at. Position is the center
// of the board; BasePosition is the pivot it topples around.
type TargetEntity struct {
	Position     mgl64.Vec3 `json:"position"`
	BasePosition mgl64.Vec3 `json:"basePosition"`
	Size         float64    `json:"size"`
	Hit          bool       `json:"hit"`
	FallProgress float64    `json:"fallProgress"`
	// Rotation is the signed topple angle; negative tips the top away from the
	// shooter along FallDirection.
	Rotation      float64    `json:"rotation"`
	FallDirection mgl64.Vec3 `json:"fallDirection"`
}

// Down reports whether the fall animation has finished.
func (t TargetEntity) Down() bool {
	return t.Hit && t.FallProgress >= 1
}

// Particle is one debris fragment.
type Particle struct {
	Position mgl64.Vec3 `json:"position"`
	Velocity mgl64.Vec3 `json:"velocity"`
	Lifetime int        `json:"lifetime"`
}

// ImpactResult describes what happened during an impact step.
type ImpactResult struct {
	Expired      int
	FallComplete bool
}

// ImpactSystem owns the target and its debris.
type ImpactSystem struct {
	cfg       SimulationConfig
	rng       *rand.Rand
	target    TargetEntity
	particles []Particle
}

func NewImpactSystem(cfg SimulationConfig, rng *rand.Rand) *ImpactSystem {
	s := &ImpactSystem{cfg: cfg, rng: rng}
	s.Reset()
	return s
}

// Reset stands the target back up and clears debris.
func (s *ImpactSystem) Reset() {
	half := s.cfg.TargetSize / 2
	s.target = TargetEntity{
		BasePosition:  s.cfg.TargetBase,
		Position:      s.cfg.TargetBase.Add(mgl64.Vec3{0, half, 0}),
		Size:          s.cfg.TargetSize,
		FallDirection: mgl64.Vec3{0, 0, -1},
	}
	s.particles = s.particles[:0]
}

// Target returns a copy of the target.
func (s *ImpactSystem) Target() TargetEntity {
	return s.target
}

// Particles returns a copy of the live particles.
func (s *ImpactSystem) Particles() []Particle {
	if len(s.particles) == 0 {
		return nil
	}
	out := make([]Particle, len(s.particles))
	copy(out, s.particles)
	return out
}

// ParticleCount reports the number of live particles.
func (s *ImpactSystem) ParticleCount() int {
	return len(s.particles)
}

// Trigger latches the target as hit and emits a burst of debris at its
// center. The target falls away from shooter. Trigger reports false when the
// target was already hit.
func (s *ImpactSystem) Trigger(shooter mgl64.Vec3) bool {
	if s.target.Hit {
		return false
	}
	s.target.Hit = true
	s.target.FallDirection = fallDirection(shooter, s.target.BasePosition)

	origin := s.target.Position
	for i := 0; i < s.cfg.ParticleBatch; i++ {
		s.particles = append(s.particles, Particle{
			Position: origin,
			Velocity: mgl64.Vec3{
				(s.rng.Float64() - 0.5) * 0.3,
				s.rng.Float64()*0.4 + 0.2,
				(s.rng.Float64() - 0.5) * 0.3,
			},
			Lifetime: s.cfg.ParticleLifetime,
		})
	}
	return true
}

// Step integrates debris and advances the fall animation.
func (s *ImpactSystem) Step() ImpactResult {
	var result ImpactResult

	live := s.particles[:0]
	for _, p := range s.particles {
		p.Velocity[1] -= s.cfg.Gravity
		p.Position = p.Position.Add(p.Velocity)
		p.Lifetime--
		if p.Lifetime <= 0 || p.Position.Y() < s.cfg.GroundLevel {
			result.Expired++
			continue
		}
		live = append(live, p)
	}
	clear(s.particles[len(live):])
	s.particles = live

	if s.target.Hit && s.target.FallProgress < 1 {
		s.target.FallProgress = math.Min(1, s.target.FallProgress+s.cfg.FallRate)
		angle := s.target.FallProgress * math.Pi / 2
		half := s.target.Size / 2
		s.target.Rotation = -angle
		s.target.Position = s.target.BasePosition.
			Add(s.target.FallDirection.Mul(half * math.Sin(angle))).
			Add(mgl64.Vec3{0, half * math.Cos(angle), 0})
		result.FallComplete = s.target.FallProgress >= 1
	}
	return result
}

// fallDirection is the unit ground-plane direction from shooter to base,
// defaulting to -z when they coincide.
func fallDirection(shooter, base mgl64.Vec3) mgl64.Vec3 {
	away := mgl64.Vec3{base.X() - shooter.X(), 0, base.Z() - shooter.Z()}
	if away.Len() < 1e-9 {
		return mgl64.Vec3{0, 0, -1}
	}
	return away.Normalize()
}
