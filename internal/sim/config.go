package sim

import (
	"fmt"
	"math"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
)

// Variant names one of the command vocabularies the demo shipped with.
type Variant string

const (
	// VariantClassic accepts MOVE, STOP and SHOOT and ignores repeated requests
	// for the current behavior.
	VariantClassic Variant = "classic"
	// VariantExtended adds LEFT and RIGHT and re-enters the current behavior on
	// a repeated request, resetting its cycle.
	VariantExtended Variant = "extended"
)

// SimulationConfig holds every tunable of the simulation. The zero value is
// not usable; start from ExtendedConfig or ClassicConfig.
type SimulationConfig struct {
	Variant                Variant `json:"variant"`
	SupportsTurning        bool    `json:"supportsTurning"`
	ReentrySameStateIsNoop bool    `json:"reentrySameStateIsNoop"`
	// NormalizeHeading keeps heading in [0, 2π) and turns along the shortest
	// arc. When false heading accumulates without bound.
	NormalizeHeading bool `json:"normalizeHeading"`

	Speed        float64 `json:"speed"`
	WalkRate     float64 `json:"walkRate"`
	ShootRate    float64 `json:"shootRate"`
	TurnRate     float64 `json:"turnRate"`
	TurnStep     float64 `json:"turnStep"`
	AngleEpsilon float64 `json:"angleEpsilon"`
	BaseHeight   float64 `json:"baseHeight"`
	BobAmplitude float64 `json:"bobAmplitude"`

	RecoilAmplitude float64 `json:"recoilAmplitude"`
	BarrelRestZ     float64 `json:"barrelRestZ"`
	BarrelTipRestZ  float64 `json:"barrelTipRestZ"`
	FlashThreshold  float64 `json:"flashThreshold"`
	HitRadius       float64 `json:"hitRadius"`

	ParticleBatch    int     `json:"particleBatch"`
	ParticleLifetime int     `json:"particleLifetime"`
	Gravity          float64 `json:"gravity"`
	GroundLevel      float64 `json:"groundLevel"`
	FallRate         float64 `json:"fallRate"`
	TargetSize       float64 `json:"targetSize"`
	// TargetBase is where the target stands on the ground.
	TargetBase mgl64.Vec3 `json:"targetBase"`

	PlaneSize          float64 `json:"planeSize"`
	MaxTiles           int     `json:"maxTiles"`
	InitialTilesBehind int     `json:"initialTilesBehind"`
	InitialTilesAhead  int     `json:"initialTilesAhead"`

	CameraDistance float64    `json:"cameraDistance"`
	CameraHeight   float64    `json:"cameraHeight"`
	LightOffset    mgl64.Vec3 `json:"lightOffset"`
}

// ExtendedConfig returns the five-command configuration.
func ExtendedConfig() SimulationConfig {
	return SimulationConfig{
		Variant:                VariantExtended,
		SupportsTurning:        true,
		ReentrySameStateIsNoop: false,
		NormalizeHeading:       true,

		Speed:        0.1,
		WalkRate:     0.1,
		ShootRate:    0.2,
		TurnRate:     0.1,
		TurnStep:     math.Pi / 4,
		AngleEpsilon: 0.01,
		BaseHeight:   1.2,
		BobAmplitude: 0.05,

		RecoilAmplitude: 0.2,
		BarrelRestZ:     -1.8,
		BarrelTipRestZ:  -3.2,
		FlashThreshold:  0.5,
		HitRadius:       15,

		ParticleBatch:    20,
		ParticleLifetime: 60,
		Gravity:          0.02,
		GroundLevel:      0,
		FallRate:         0.01,
		TargetSize:       6,
		TargetBase:       mgl64.Vec3{0, 0, -50},

		PlaneSize:          50,
		MaxTiles:           5,
		InitialTilesBehind: 1,
		InitialTilesAhead:  3,

		CameraDistance: 12,
		CameraHeight:   8,
		LightOffset:    mgl64.Vec3{10, 20, 10},
	}
}

// ClassicConfig returns the three-command configuration.
func ClassicConfig() SimulationConfig {
	cfg := ExtendedConfig()
	cfg.Variant = VariantClassic
	cfg.SupportsTurning = false
	cfg.ReentrySameStateIsNoop = true
	return cfg
}

// ConfigForVariant resolves a variant name, case-insensitively.
func ConfigForVariant(name string) (SimulationConfig, error) {
	switch Variant(strings.ToLower(strings.TrimSpace(name))) {
	case "", VariantExtended:
		return ExtendedConfig(), nil
	case VariantClassic:
		return ClassicConfig(), nil
	default:
		return SimulationConfig{}, fmt.Errorf("unknown simulation variant %q", name)
	}
}

// Normalized replaces unusable values with the extended defaults.
func (c SimulationConfig) Normalized() SimulationConfig {
	def := ExtendedConfig()
	if c.Variant == "" {
		c.Variant = def.Variant
	}
	positive := func(v *float64, fallback float64) {
		if *v <= 0 || math.IsNaN(*v) || math.IsInf(*v, 0) {
			*v = fallback
		}
	}
	positive(&c.Speed, def.Speed)
	positive(&c.WalkRate, def.WalkRate)
	positive(&c.ShootRate, def.ShootRate)
	positive(&c.TurnRate, def.TurnRate)
	positive(&c.TurnStep, def.TurnStep)
	positive(&c.AngleEpsilon, def.AngleEpsilon)
	positive(&c.HitRadius, def.HitRadius)
	positive(&c.FallRate, def.FallRate)
	positive(&c.TargetSize, def.TargetSize)
	positive(&c.PlaneSize, def.PlaneSize)
	positive(&c.CameraDistance, def.CameraDistance)
	if c.ParticleBatch <= 0 {
		c.ParticleBatch = def.ParticleBatch
	}
	if c.ParticleLifetime <= 0 {
		c.ParticleLifetime = def.ParticleLifetime
	}
	if c.MaxTiles < 2 {
		c.MaxTiles = def.MaxTiles
	}
	if c.InitialTilesBehind < 0 {
		c.InitialTilesBehind = 0
	}
	if c.InitialTilesAhead < 1 {
		c.InitialTilesAhead = 1
	}
	if c.Gravity < 0 {
		c.Gravity = -c.Gravity
	}
	return c
}
