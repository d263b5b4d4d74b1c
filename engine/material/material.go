// package material holds surface descriptions and their textures. Materials
// upload as a flat storage buffer; textures stage into layers of a single
// RGBA8 texture array sized to the largest image.
package material

import (
	"sync"

	"github.com/lumen-rt/lumen/common"
)

// Material is the authoring-side surface description. The zero value is a
// matte white, untextured surface.
type Material struct {
	BaseColor      [3]float32
	Roughness      float32
	Emissive       [3]float32
	Metallic       float32
	Transmission   float32
	IOR            float32
	DiffuseTexture int
	NormalTexture  int
}

// NewMaterial returns a matte white material with no textures.
//
// Returns:
//   - Material: the default material
func NewMaterial() Material {
	return Material{
		BaseColor:      [3]float32{1, 1, 1},
		Roughness:      1,
		IOR:            1.45,
		DiffuseTexture: -1,
		NormalTexture:  -1,
	}
}

// GPUData flattens the material into its GPU layout.
//
// Returns:
//   - GPUMaterial: the GPU-resident form
func (m *Material) GPUData() GPUMaterial {
	return GPUMaterial{
		BaseColor:      m.BaseColor,
		Roughness:      m.Roughness,
		Emissive:       m.Emissive,
		Metallic:       m.Metallic,
		DiffuseTexture: int32(m.DiffuseTexture),
		NormalTexture:  int32(m.NormalTexture),
		Transmission:   m.Transmission,
		IOR:            m.IOR,
	}
}

// Library holds the scene's materials and textures. Setters replace whole
// lists; the change flags tell synchronize what to re-upload. Texture indices
// in materials refer to positions in the texture list.
type Library struct {
	mu              *sync.Mutex
	materials       []Material
	textures        []common.TextureStagingData
	materialChanged bool
	textureChanged  bool
}

// NewLibrary creates an empty material library.
//
// Returns:
//   - *Library: the new library
func NewLibrary() *Library {
	return &Library{mu: &sync.Mutex{}}
}

// SetMaterials replaces the material list.
func (l *Library) SetMaterials(materials []Material) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.materials = materials
	l.materialChanged = true
}

// SetTextures replaces the texture list.
func (l *Library) SetTextures(textures []common.TextureStagingData) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.textures = textures
	l.textureChanged = true
}

// Materials returns the current material list.
func (l *Library) Materials() []Material {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.materials
}

// Textures returns the current texture list.
func (l *Library) Textures() []common.TextureStagingData {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.textures
}

// GPUData flattens every material. Scenes with no materials still get one
// default entry so the storage buffer never binds empty.
//
// Returns:
//   - []GPUMaterial: one entry per material, at least one
func (l *Library) GPUData() []GPUMaterial {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.materials) == 0 {
		def := NewMaterial()
		return []GPUMaterial{def.GPUData()}
	}
	out := make([]GPUMaterial, len(l.materials))
	for i := range l.materials {
		out[i] = l.materials[i].GPUData()
	}
	return out
}

// MaterialsChanged reports whether the material list was replaced since the
// last ClearChanged.
func (l *Library) MaterialsChanged() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.materialChanged
}

// TexturesChanged reports whether the texture list was replaced since the
// last ClearChanged.
func (l *Library) TexturesChanged() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.textureChanged
}

// ClearChanged resets both change flags after an upload.
func (l *Library) ClearChanged() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.materialChanged = false
	l.textureChanged = false
}
