package camera

// CameraOption configures a camera at construction time.
type CameraOption func(*cameraImpl)

// WithPosition sets the initial camera position.
//
// Parameters:
//   - x, y, z: world-space position
func WithPosition(x, y, z float32) CameraOption {
	return func(c *cameraImpl) {
		c.position = [3]float32{x, y, z}
	}
}

// WithDirection sets the initial viewing direction. The vector is normalized
// by the camera; a zero vector keeps the default.
//
// Parameters:
//   - x, y, z: viewing direction
func WithDirection(x, y, z float32) CameraOption {
	return func(c *cameraImpl) {
		if x == 0 && y == 0 && z == 0 {
			return
		}
		c.SetDirection(x, y, z)
	}
}

// WithFov sets the vertical field of view in radians.
//
// Parameters:
//   - fov: field of view in radians, (0, pi)
func WithFov(fov float32) CameraOption {
	return func(c *cameraImpl) {
		c.SetFov(fov)
	}
}

// WithAperture sets the lens aperture.
//
// Parameters:
//   - aperture: lens radius in world units; 0 disables depth of field
func WithAperture(aperture float32) CameraOption {
	return func(c *cameraImpl) {
		c.SetAperture(aperture)
	}
}

// WithFocalDistance sets the focus distance.
//
// Parameters:
//   - distance: focus distance in world units, > 0
func WithFocalDistance(distance float32) CameraOption {
	return func(c *cameraImpl) {
		c.SetFocalDistance(distance)
	}
}
