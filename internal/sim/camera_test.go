package sim

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
)

func TestCameraTrailsVehicle(t *testing.T) {
	rig := NewCameraRig(ExtendedConfig())

	tests := []struct {
		name    string
		heading float64
		eye     mgl64.Vec3
	}{
		{name: "facing -z", heading: 0, eye: mgl64.Vec3{0, 8, -8}},
		{name: "facing -x", heading: math.Pi / 2, eye: mgl64.Vec3{12, 8, -20}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			vehicle := VehicleState{Position: mgl64.Vec3{0, 0, -20}, Heading: tc.heading}
			camera, light := rig.Update(vehicle)

			assert.True(t, camera.Eye.ApproxEqualThreshold(tc.eye, 1e-9), "eye %v", camera.Eye)
			assert.Equal(t, vehicle.Position, camera.Target)
			assert.Equal(t, mgl64.LookAtV(camera.Eye, vehicle.Position, mgl64.Vec3{0, 1, 0}), camera.View)
			assert.Equal(t, mgl64.Vec3{10, 20, -10}, light.Position)
			assert.Equal(t, vehicle.Position, light.Target)
		})
	}
}

func TestCameraViewLooksAtVehicle(t *testing.T) {
	rig := NewCameraRig(ExtendedConfig())
	vehicle := VehicleState{Position: mgl64.Vec3{3, 0, -7}, Heading: 1.3}
	camera, _ := rig.Update(vehicle)

	// The vehicle sits on the view axis, in front of the camera.
	eyeSpace := camera.View.Mul4x1(vehicle.Position.Vec4(1))
	assert.InDelta(t, 0.0, eyeSpace.X(), 1e-9)
	assert.InDelta(t, 0.0, eyeSpace.Y(), 1e-9)
	assert.Less(t, eyeSpace.Z(), 0.0)
}
