// package camera models the ray-generation camera: a position, a viewing
// direction, and a physical lens. Each frame it is flattened into the
// CameraData block the kernels read and the scheduler reads back.
package camera

import (
	"math"
	"sync"

	"github.com/lumen-rt/lumen/common"
)

type cameraImpl struct {
	mu *sync.Mutex

	position  [3]float32
	direction [3]float32
	up        [3]float32

	fov           float32 // vertical field of view, radians
	aperture      float32
	focalDistance float32
}

// Camera defines the interface for the ray-generation camera. All methods
// are safe for concurrent use; View snapshots the state for a frame.
type Camera interface {
	// Position returns the camera's world-space position.
	Position() [3]float32

	// SetPosition moves the camera.
	//
	// Parameters:
	//   - x, y, z: new world-space position
	SetPosition(x, y, z float32)

	// Direction returns the normalized viewing direction.
	Direction() [3]float32

	// SetDirection points the camera along a direction. The vector is
	// normalized; a zero vector is ignored.
	//
	// Parameters:
	//   - x, y, z: new viewing direction
	SetDirection(x, y, z float32)

	// LookAt points the camera at a world-space target.
	//
	// Parameters:
	//   - x, y, z: target position
	LookAt(x, y, z float32)

	// Fov returns the vertical field of view in radians.
	Fov() float32

	// SetFov sets the vertical field of view in radians, clamped to
	// (0, pi).
	//
	// Parameters:
	//   - fov: field of view in radians
	SetFov(fov float32)

	// Aperture returns the lens aperture (0 disables depth of field).
	Aperture() float32

	// SetAperture sets the lens aperture.
	//
	// Parameters:
	//   - aperture: lens radius in world units
	SetAperture(aperture float32)

	// FocalDistance returns the focus distance.
	FocalDistance() float32

	// SetFocalDistance sets the focus distance, clamped to > 0.
	//
	// Parameters:
	//   - distance: focus distance in world units
	SetFocalDistance(distance float32)

	// View snapshots the camera state for one frame.
	//
	// Returns:
	//   - CameraView: an immutable copy of the current state
	View() CameraView
}

var _ Camera = &cameraImpl{}

// NewCamera creates a camera at the origin looking down -Z with a 90 degree
// vertical field of view, a pinhole lens, and a focus distance of 1.
//
// Parameters:
//   - options: configuration overrides
//
// Returns:
//   - Camera: the new camera
func NewCamera(options ...CameraOption) Camera {
	c := &cameraImpl{
		mu:            &sync.Mutex{},
		position:      [3]float32{0, 0, 0},
		direction:     [3]float32{0, 0, -1},
		up:            [3]float32{0, 1, 0},
		fov:           float32(math.Pi / 2),
		aperture:      0,
		focalDistance: 1,
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

func (c *cameraImpl) Position() [3]float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position
}

func (c *cameraImpl) SetPosition(x, y, z float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.position = [3]float32{x, y, z}
}

func (c *cameraImpl) Direction() [3]float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.direction
}

func (c *cameraImpl) SetDirection(x, y, z float32) {
	if x == 0 && y == 0 && z == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.direction = common.Normalize3([3]float32{x, y, z})
}

func (c *cameraImpl) LookAt(x, y, z float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	dir := common.Sub3([3]float32{x, y, z}, c.position)
	if dir == ([3]float32{0, 0, 0}) {
		return
	}
	c.direction = common.Normalize3(dir)
}

func (c *cameraImpl) Fov() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fov
}

func (c *cameraImpl) SetFov(fov float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fov <= 0 || fov >= float32(math.Pi) {
		return
	}
	c.fov = fov
}

func (c *cameraImpl) Aperture() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aperture
}

func (c *cameraImpl) SetAperture(aperture float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if aperture < 0 {
		aperture = 0
	}
	c.aperture = aperture
}

func (c *cameraImpl) FocalDistance() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.focalDistance
}

func (c *cameraImpl) SetFocalDistance(distance float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if distance <= 0 {
		return
	}
	c.focalDistance = distance
}

func (c *cameraImpl) View() CameraView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CameraView{
		Position:      c.position,
		Direction:     c.direction,
		Up:            c.up,
		Fov:           c.fov,
		Aperture:      c.aperture,
		FocalDistance: c.focalDistance,
	}
}

// CameraView is an immutable snapshot of the camera for one frame.
type CameraView struct {
	Position      [3]float32
	Direction     [3]float32
	Up            [3]float32
	Fov           float32
	Aperture      float32
	FocalDistance float32
}
