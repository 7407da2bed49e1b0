package sim

import (
	"math"
	"math/rand"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImpactTriggerSpawnsBurst(t *testing.T) {
	impact := NewImpactSystem(ExtendedConfig(), rand.New(rand.NewSource(21)))
	require.True(t, impact.Trigger(mgl64.Vec3{0, 0, -36}))

	particles := impact.Particles()
	require.Len(t, particles, 20)
	center := mgl64.Vec3{0, 3, -50}
	for _, p := range particles {
		assert.Equal(t, center, p.Position)
		assert.Equal(t, 60, p.Lifetime)
		assert.GreaterOrEqual(t, p.Velocity.X(), -0.15)
		assert.Less(t, p.Velocity.X(), 0.15)
		assert.GreaterOrEqual(t, p.Velocity.Y(), 0.2)
		assert.Less(t, p.Velocity.Y(), 0.6)
		assert.GreaterOrEqual(t, p.Velocity.Z(), -0.15)
		assert.Less(t, p.Velocity.Z(), 0.15)
	}

	assert.False(t, impact.Trigger(mgl64.Vec3{0, 0, -36}), "latch must hold")
	assert.Equal(t, 20, impact.ParticleCount())
}

func TestImpactParticleIntegration(t *testing.T) {
	impact := NewImpactSystem(ExtendedConfig(), rand.New(rand.NewSource(2)))
	impact.particles = []Particle{{
		Position: mgl64.Vec3{0, 3, 0},
		Velocity: mgl64.Vec3{0.1, 0.5, 0},
		Lifetime: 60,
	}}

	impact.Step()
	p := impact.Particles()[0]
	assert.InDelta(t, 0.48, p.Velocity.Y(), 1e-12)
	assert.InDelta(t, 3.48, p.Position.Y(), 1e-12)
	assert.InDelta(t, 0.1, p.Position.X(), 1e-12)
	assert.Equal(t, 59, p.Lifetime)
}

func TestImpactParticlesExpire(t *testing.T) {
	impact := NewImpactSystem(ExtendedConfig(), rand.New(rand.NewSource(2)))
	impact.particles = []Particle{
		// Falls below ground on the first step.
		{Position: mgl64.Vec3{0, 0.01, 0}, Velocity: mgl64.Vec3{0, -0.1, 0}, Lifetime: 60},
		// Runs out of lifetime while still airborne.
		{Position: mgl64.Vec3{0, 100, 0}, Velocity: mgl64.Vec3{}, Lifetime: 2},
		{Position: mgl64.Vec3{0, 100, 0}, Velocity: mgl64.Vec3{}, Lifetime: 60},
	}

	result := impact.Step()
	assert.Equal(t, 1, result.Expired)
	require.Equal(t, 2, impact.ParticleCount())

	result = impact.Step()
	assert.Equal(t, 1, result.Expired)
	require.Equal(t, 1, impact.ParticleCount())
	assert.Equal(t, 58, impact.Particles()[0].Lifetime)
}

func TestImpactEveryParticleGoneWithinLifetime(t *testing.T) {
	impact := NewImpactSystem(ExtendedConfig(), rand.New(rand.NewSource(42)))
	impact.Trigger(mgl64.Vec3{0, 0, -36})
	for tick := 1; tick <= 60; tick++ {
		impact.Step()
		for _, p := range impact.Particles() {
			assert.GreaterOrEqual(t, p.Position.Y(), 0.0)
			assert.Equal(t, 60-tick, p.Lifetime)
		}
	}
	assert.Zero(t, impact.ParticleCount())
}

func TestImpactFallProgress(t *testing.T) {
	cfg := ExtendedConfig()
	impact := NewImpactSystem(cfg, rand.New(rand.NewSource(8)))
	impact.Step()
	assert.Zero(t, impact.Target().FallProgress, "standing target must not fall")

	impact.Trigger(mgl64.Vec3{0, 0, -36})
	previous := 0.0
	completions := 0
	for tick := 0; tick < 150; tick++ {
		if impact.Step().FallComplete {
			completions++
		}
		target := impact.Target()
		assert.GreaterOrEqual(t, target.FallProgress, previous)
		assert.GreaterOrEqual(t, target.FallProgress, 0.0)
		assert.LessOrEqual(t, target.FallProgress, 1.0)
		previous = target.FallProgress

		angle := target.FallProgress * math.Pi / 2
		assert.InDelta(t, -angle, target.Rotation, 1e-12)
		assert.InDelta(t, 3*math.Cos(angle), target.Position.Y(), 1e-9)
		assert.InDelta(t, -50-3*math.Sin(angle), target.Position.Z(), 1e-9)
	}
	assert.Equal(t, 1, completions)
	assert.True(t, impact.Target().Down())
	assert.InDelta(t, 0.0, impact.Target().Position.Y(), 1e-9)
}

func TestImpactFallsAwayFromShooter(t *testing.T) {
	impact := NewImpactSystem(ExtendedConfig(), rand.New(rand.NewSource(8)))
	// Shooter past the target, to its -x side.
	impact.Trigger(mgl64.Vec3{-10, 0, -50})
	for i := 0; i < 100; i++ {
		impact.Step()
	}
	target := impact.Target()
	assert.InDelta(t, 3.0, target.Position.X(), 1e-9)
	assert.InDelta(t, -50.0, target.Position.Z(), 1e-9)
	assert.Equal(t, mgl64.Vec3{1, 0, 0}, target.FallDirection)
}

func TestImpactReset(t *testing.T) {
	impact := NewImpactSystem(ExtendedConfig(), rand.New(rand.NewSource(8)))
	impact.Trigger(mgl64.Vec3{})
	impact.Step()
	impact.Reset()

	target := impact.Target()
	assert.False(t, target.Hit)
	assert.Zero(t, target.FallProgress)
	assert.Equal(t, mgl64.Vec3{0, 3, -50}, target.Position)
	assert.Zero(t, impact.ParticleCount())
}
