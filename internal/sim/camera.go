package sim

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// CameraPose is the chase camera for one tick.
type CameraPose struct {
	Eye    mgl64.Vec3 `json:"eye"`
	Target mgl64.Vec3 `json:"target"`
	Up     mgl64.Vec3 `json:"up"`
	View   mgl64.Mat4 `json:"view"`
}

// LightPose is the directional light that follows the vehicle so its shadow
// camera keeps covering it.
type LightPose struct {
	Position mgl64.Vec3 `json:"position"`
	Target   mgl64.Vec3 `json:"target"`
}

// CameraRig derives camera and light poses from the vehicle. It keeps no
// state of its own beyond configuration.
type CameraRig struct {
	cfg SimulationConfig
}

func NewCameraRig(cfg SimulationConfig) *CameraRig {
	return &CameraRig{cfg: cfg}
}

// Update computes the poses for vehicle.
func (r *CameraRig) Update(vehicle VehicleState) (CameraPose, LightPose) {
	pos := vehicle.Position
	eye := pos.Add(mgl64.Vec3{
		math.Sin(vehicle.Heading) * r.cfg.CameraDistance,
		r.cfg.CameraHeight,
		math.Cos(vehicle.Heading) * r.cfg.CameraDistance,
	})
	up := mgl64.Vec3{0, 1, 0}
	camera := CameraPose{
		Eye:    eye,
		Target: pos,
		Up:     up,
		View:   mgl64.LookAtV(eye, pos, up),
	}
	light := LightPose{
		Position: pos.Add(r.cfg.LightOffset),
		Target:   pos,
	}
	return camera, light
}
