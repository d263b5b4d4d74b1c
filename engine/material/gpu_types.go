package material

import (
	_ "embed"
	"encoding/binary"
	"math"
	"unsafe"
)

// GPUMaterialSource is the canonical WGSL definition of the Material struct.
// Matches GPUMaterial layout exactly (48 bytes, std430 aligned).
//
//go:embed assets/material.wgsl
var GPUMaterialSource string

// GPUMaterial is the GPU-resident surface description the shade kernel
// evaluates. Texture indices of -1 mean untextured.
// Matches the WGSL Material struct layout exactly (see GPUMaterialSource).
// Size: 48 bytes (std430 / WGSL aligned).
type GPUMaterial struct {
	BaseColor [3]float32 // offset  0: albedo
	Roughness float32    // offset 12

	Emissive [3]float32 // offset 16: RGB emission, non-zero makes the surface a light
	Metallic float32    // offset 28

	DiffuseTexture int32   // offset 32: layer in the texture array, -1 untextured
	NormalTexture  int32   // offset 36: layer in the texture array, -1 untextured
	Transmission   float32 // offset 40
	IOR            float32 // offset 44
}

// Size returns the size of the GPUMaterial struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (48)
func (m *GPUMaterial) Size() int {
	return int(unsafe.Sizeof(*m))
}

// Marshal serializes the GPUMaterial struct into a byte buffer suitable for
// GPU upload.
//
// Returns:
//   - []byte: 48-byte buffer ready for GPU upload
func (m *GPUMaterial) Marshal() []byte {
	buf := make([]byte, 48)
	putF := func(off int, v float32) {
		binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(v))
	}
	putF(0, m.BaseColor[0])
	putF(4, m.BaseColor[1])
	putF(8, m.BaseColor[2])
	putF(12, m.Roughness)
	putF(16, m.Emissive[0])
	putF(20, m.Emissive[1])
	putF(24, m.Emissive[2])
	putF(28, m.Metallic)
	binary.LittleEndian.PutUint32(buf[32:36], uint32(m.DiffuseTexture))
	binary.LittleEndian.PutUint32(buf[36:40], uint32(m.NormalTexture))
	putF(40, m.Transmission)
	putF(44, m.IOR)
	return buf
}
