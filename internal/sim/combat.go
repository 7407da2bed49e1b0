package sim

import (
	"math"
	"math/rand"

	"github.com/go-gl/mathgl/mgl64"
)

// WeaponState is the visual state of the turret for the current tick.
type WeaponState struct {
	Recoil       float64    `json:"recoil"`
	BarrelZ      float64    `json:"barrelZ"`
	BarrelTipZ   float64    `json:"barrelTipZ"`
	FlashOpacity float64    `json:"flashOpacity"`
	FlashScale   mgl64.Vec3 `json:"flashScale"`
	Firing       bool       `json:"firing"`
}

// CombatResult describes what happened during a combat step.
type CombatResult struct {
	Hit      bool
	Distance float64
}

// CombatSystem derives recoil and muzzle flash from the shoot cycle and
// decides when a shot connects with the target.
type CombatSystem struct {
	cfg    SimulationConfig
	rng    *rand.Rand
	weapon WeaponState
	hits   uint64
}

func NewCombatSystem(cfg SimulationConfig, rng *rand.Rand) *CombatSystem {
	c := &CombatSystem{cfg: cfg, rng: rng}
	c.rest()
	return c
}

// Weapon returns the weapon state computed by the last Step.
func (c *CombatSystem) Weapon() WeaponState {
	return c.weapon
}

// Hits reports how many times the target has been brought down.
func (c *CombatSystem) Hits() uint64 {
	return c.hits
}

// Reset puts the weapon at rest.
func (c *CombatSystem) Reset() {
	c.rest()
}

// Step updates the weapon for vehicle and, when the vehicle is firing within
// range of a standing target, triggers impact exactly once.
func (c *CombatSystem) Step(vehicle VehicleState, impact *ImpactSystem) CombatResult {
	if vehicle.Behavior != BehaviorShooting {
		c.rest()
		return CombatResult{}
	}

	recoil := math.Abs(math.Sin(3*vehicle.ShootCycle)) * c.cfg.RecoilAmplitude
	c.weapon.Firing = true
	c.weapon.Recoil = recoil
	c.weapon.BarrelZ = c.cfg.BarrelRestZ + recoil
	c.weapon.BarrelTipZ = c.cfg.BarrelTipRestZ + recoil
	if c.rng.Float64() > c.cfg.FlashThreshold {
		c.weapon.FlashOpacity = 0.8 + c.rng.Float64()*0.2
		c.weapon.FlashScale = mgl64.Vec3{
			1 + c.rng.Float64()*0.5,
			1 + c.rng.Float64()*0.5,
			1 + c.rng.Float64()*0.5,
		}
	} else {
		c.weapon.FlashOpacity = 0
		c.weapon.FlashScale = mgl64.Vec3{1, 1, 1}
	}

	if impact == nil {
		return CombatResult{}
	}
	target := impact.Target()
	if target.Hit {
		return CombatResult{}
	}
	distance := math.Abs(vehicle.Position.Z() - target.Position.Z())
	if distance > c.cfg.HitRadius {
		return CombatResult{Distance: distance}
	}
	if !impact.Trigger(vehicle.Position) {
		return CombatResult{Distance: distance}
	}
	c.hits++
	return CombatResult{Hit: true, Distance: distance}
}

func (c *CombatSystem) rest() {
	c.weapon = WeaponState{
		BarrelZ:    c.cfg.BarrelRestZ,
		BarrelTipZ: c.cfg.BarrelTipRestZ,
		FlashScale: mgl64.Vec3{1, 1, 1},
	}
}
