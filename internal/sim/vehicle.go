package sim

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Behavior is the vehicle's current activity.
type Behavior uint8

const (
	BehaviorStopped Behavior = iota
	BehaviorWalking
	BehaviorShooting
	BehaviorTurning
)

func (b Behavior) String() string {
	switch b {
	case BehaviorStopped:
		return "stopped"
	case BehaviorWalking:
		return "walking"
	case BehaviorShooting:
		return "shooting"
	case BehaviorTurning:
		return "turning"
	default:
		return "unknown"
	}
}

// VehicleState is the kinematic and behavioral state of the vehicle.
// Position.Y stays on the ground; BodyOffset is the hull height above it.
type VehicleState struct {
	Position      mgl64.Vec3
	Heading       float64
	Behavior      Behavior
	WalkCycle     float64
	ShootCycle    float64
	TargetHeading float64
	BodyOffset    float64
}

// Forward returns the unit direction of travel for the current heading.
// Heading 0 faces -z.
func (s VehicleState) Forward() mgl64.Vec3 {
	return mgl64.Vec3{-math.Sin(s.Heading), 0, -math.Cos(s.Heading)}
}

// VehicleStateMachine is the only writer of VehicleState.
type VehicleStateMachine struct {
	cfg   SimulationConfig
	state VehicleState
}

func NewVehicleStateMachine(cfg SimulationConfig) *VehicleStateMachine {
	m := &VehicleStateMachine{cfg: cfg}
	m.Reset()
	return m
}

// Reset returns the vehicle to the origin, stopped and facing -z.
func (m *VehicleStateMachine) Reset() {
	m.state = VehicleState{
		Behavior:   BehaviorStopped,
		BodyOffset: m.cfg.BaseHeight,
	}
}

// State returns a copy of the current state.
func (m *VehicleStateMachine) State() VehicleState {
	return m.state
}

// Apply performs the transition requested by cmd. It reports false when the
// command was ignored, either because turning is disabled or because the
// request repeats the current behavior under the no-op re-entry policy.
func (m *VehicleStateMachine) Apply(cmd CommandType) bool {
	if cmd.IsTurn() {
		if !m.cfg.SupportsTurning {
			return false
		}
		step := m.cfg.TurnStep
		if cmd == CommandTurnRight {
			step = -step
		}
		m.state.TargetHeading = m.wrap(m.state.Heading + step)
		m.state.Behavior = BehaviorTurning
		return true
	}

	next, ok := behaviorFor(cmd)
	if !ok {
		return false
	}
	if m.cfg.ReentrySameStateIsNoop && next == m.state.Behavior {
		return false
	}
	switch next {
	case BehaviorWalking:
		m.state.WalkCycle = 0
	case BehaviorShooting:
		m.state.ShootCycle = 0
		m.state.BodyOffset = m.cfg.BaseHeight
	case BehaviorStopped:
		m.state.BodyOffset = m.cfg.BaseHeight
	}
	m.state.Behavior = next
	return true
}

// Step advances the current behavior by one tick. It reports true when a turn
// completed during this step.
func (m *VehicleStateMachine) Step() bool {
	switch m.state.Behavior {
	case BehaviorWalking:
		m.state.WalkCycle += m.cfg.WalkRate
		m.state.BodyOffset = m.cfg.BaseHeight + math.Sin(2*m.state.WalkCycle)*m.cfg.BobAmplitude
		m.state.Position = m.state.Position.Add(m.state.Forward().Mul(m.cfg.Speed))
	case BehaviorShooting:
		m.state.ShootCycle += m.cfg.ShootRate
	case BehaviorTurning:
		delta := m.headingDelta()
		if math.Abs(delta) < m.cfg.AngleEpsilon {
			m.state.Heading = m.state.TargetHeading
			m.state.Behavior = BehaviorStopped
			return true
		}
		turn := math.Min(m.cfg.TurnRate, math.Abs(delta))
		m.state.Heading = m.wrap(m.state.Heading + math.Copysign(turn, delta))
	}
	return false
}

func (m *VehicleStateMachine) headingDelta() float64 {
	delta := m.state.TargetHeading - m.state.Heading
	if m.cfg.NormalizeHeading {
		return ShortestAngle(delta)
	}
	return delta
}

func (m *VehicleStateMachine) wrap(angle float64) float64 {
	if !m.cfg.NormalizeHeading {
		return angle
	}
	return NormalizeAngle(angle)
}

func behaviorFor(cmd CommandType) (Behavior, bool) {
	switch cmd {
	case CommandMove:
		return BehaviorWalking, true
	case CommandStop:
		return BehaviorStopped, true
	case CommandShoot:
		return BehaviorShooting, true
	default:
		return BehaviorStopped, false
	}
}

// NormalizeAngle wraps angle into [0, 2π).
func NormalizeAngle(angle float64) float64 {
	wrapped := math.Mod(angle, 2*math.Pi)
	if wrapped < 0 {
		wrapped += 2 * math.Pi
	}
	if wrapped >= 2*math.Pi {
		wrapped = 0
	}
	return wrapped
}

// ShortestAngle maps delta into (-π, π].
func ShortestAngle(delta float64) float64 {
	wrapped := NormalizeAngle(delta)
	if wrapped > math.Pi {
		wrapped -= 2 * math.Pi
	}
	return wrapped
}
