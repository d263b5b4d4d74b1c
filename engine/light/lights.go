package light

import "sync"

// Lights aggregates the scene's light lists. Setters replace whole lists,
// matching how scenes are authored; the change flag tells synchronize when
// the GPU buffers need a re-upload. Zero lights of every kind is a valid
// scene.
type Lights struct {
	mu          *sync.Mutex
	point       []PointLight
	spot        []SpotLight
	directional []DirectionalLight
	area        []AreaLight
	changed     bool
}

// NewLights creates an empty light set.
//
// Returns:
//   - *Lights: the new set
func NewLights() *Lights {
	return &Lights{mu: &sync.Mutex{}}
}

// SetPointLights replaces the point light list.
func (l *Lights) SetPointLights(lights []PointLight) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.point = lights
	l.changed = true
}

// SetSpotLights replaces the spot light list.
func (l *Lights) SetSpotLights(lights []SpotLight) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.spot = lights
	l.changed = true
}

// SetDirectionalLights replaces the directional light list.
func (l *Lights) SetDirectionalLights(lights []DirectionalLight) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.directional = lights
	l.changed = true
}

// SetAreaLights replaces the area light list.
func (l *Lights) SetAreaLights(lights []AreaLight) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.area = lights
	l.changed = true
}

// PointLights returns the current point light list.
func (l *Lights) PointLights() []PointLight {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.point
}

// SpotLights returns the current spot light list.
func (l *Lights) SpotLights() []SpotLight {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.spot
}

// DirectionalLights returns the current directional light list.
func (l *Lights) DirectionalLights() []DirectionalLight {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.directional
}

// AreaLights returns the current area light list.
func (l *Lights) AreaLights() []AreaLight {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.area
}

// Counts returns the four list lengths in the order the camera uniform
// carries them: point, spot, directional, area.
func (l *Lights) Counts() (int32, int32, int32, int32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return int32(len(l.point)), int32(len(l.spot)), int32(len(l.directional)), int32(len(l.area))
}

// Changed reports whether any list was replaced since the last ClearChanged.
func (l *Lights) Changed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.changed
}

// ClearChanged resets the change flag after an upload.
func (l *Lights) ClearChanged() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.changed = false
}
