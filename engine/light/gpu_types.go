// package light holds the four light kinds the shade and connect kernels
// sample. The structs are GPU-resident as-is; the CPU side only tracks the
// slices and a change flag.
package light

import (
	_ "embed"
	"encoding/binary"
	"math"
	"unsafe"
)

// GPULightsSource is the canonical WGSL definition of the four light structs.
// Matches the Go layouts exactly (std430 aligned).
//
//go:embed assets/lights.wgsl
var GPULightsSource string

// PointLight radiates uniformly from a position.
// Size: 32 bytes (std430 / WGSL aligned).
type PointLight struct {
	Position [3]float32 // offset  0
	Energy   float32    // offset 12: scalar intensity
	Radiance [3]float32 // offset 16: RGB emission
	_pad     float32    // offset 28
}

// SpotLight radiates inside a cone. The cosines are precomputed so the
// kernel compares dot products directly.
// Size: 48 bytes (std430 / WGSL aligned).
type SpotLight struct {
	Position  [3]float32 // offset  0
	CosInner  float32    // offset 12: cos of the inner half-angle
	Radiance  [3]float32 // offset 16
	CosOuter  float32    // offset 28: cos of the outer half-angle
	Direction [3]float32 // offset 32
	Energy    float32    // offset 44
}

// DirectionalLight radiates along a constant direction from infinity.
// Size: 32 bytes (std430 / WGSL aligned).
type DirectionalLight struct {
	Direction [3]float32 // offset  0
	Energy    float32    // offset 12
	Radiance  [3]float32 // offset 16
	_pad      float32    // offset 28
}

// AreaLight is an emissive triangle, kept denormalized (vertices inline) so
// next-event estimation samples it without touching the scene buffers.
// Size: 96 bytes (std430 / WGSL aligned).
type AreaLight struct {
	Position [3]float32 // offset  0: triangle centroid
	Energy   float32    // offset 12
	Normal   [3]float32 // offset 16
	Area     float32    // offset 28
	Radiance [3]float32 // offset 32

	TriangleID int32      // offset 44: source triangle in the shared buffer
	Vertex0    [3]float32 // offset 48
	InstanceID int32      // offset 60: owning instance slot
	Vertex1    [3]float32 // offset 64
	_pad0      float32    // offset 76
	Vertex2    [3]float32 // offset 80
	_pad1      float32    // offset 92
}

// Size returns the size of the PointLight struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (32)
func (l *PointLight) Size() int {
	return int(unsafe.Sizeof(*l))
}

// Marshal serializes the PointLight struct into a byte buffer suitable for
// GPU upload.
//
// Returns:
//   - []byte: 32-byte buffer ready for GPU upload
func (l *PointLight) Marshal() []byte {
	buf := make([]byte, 32)
	putVec3(buf, 0, l.Position)
	putF32(buf, 12, l.Energy)
	putVec3(buf, 16, l.Radiance)
	return buf
}

// Size returns the size of the SpotLight struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (48)
func (l *SpotLight) Size() int {
	return int(unsafe.Sizeof(*l))
}

// Marshal serializes the SpotLight struct into a byte buffer suitable for
// GPU upload.
//
// Returns:
//   - []byte: 48-byte buffer ready for GPU upload
func (l *SpotLight) Marshal() []byte {
	buf := make([]byte, 48)
	putVec3(buf, 0, l.Position)
	putF32(buf, 12, l.CosInner)
	putVec3(buf, 16, l.Radiance)
	putF32(buf, 28, l.CosOuter)
	putVec3(buf, 32, l.Direction)
	putF32(buf, 44, l.Energy)
	return buf
}

// Size returns the size of the DirectionalLight struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (32)
func (l *DirectionalLight) Size() int {
	return int(unsafe.Sizeof(*l))
}

// Marshal serializes the DirectionalLight struct into a byte buffer suitable
// for GPU upload.
//
// Returns:
//   - []byte: 32-byte buffer ready for GPU upload
func (l *DirectionalLight) Marshal() []byte {
	buf := make([]byte, 32)
	putVec3(buf, 0, l.Direction)
	putF32(buf, 12, l.Energy)
	putVec3(buf, 16, l.Radiance)
	return buf
}

// Size returns the size of the AreaLight struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (96)
func (l *AreaLight) Size() int {
	return int(unsafe.Sizeof(*l))
}

// Marshal serializes the AreaLight struct into a byte buffer suitable for
// GPU upload.
//
// Returns:
//   - []byte: 96-byte buffer ready for GPU upload
func (l *AreaLight) Marshal() []byte {
	buf := make([]byte, 96)
	putVec3(buf, 0, l.Position)
	putF32(buf, 12, l.Energy)
	putVec3(buf, 16, l.Normal)
	putF32(buf, 28, l.Area)
	putVec3(buf, 32, l.Radiance)
	binary.LittleEndian.PutUint32(buf[44:48], uint32(l.TriangleID))
	putVec3(buf, 48, l.Vertex0)
	binary.LittleEndian.PutUint32(buf[60:64], uint32(l.InstanceID))
	putVec3(buf, 64, l.Vertex1)
	putVec3(buf, 80, l.Vertex2)
	return buf
}

func putVec3(buf []byte, off int, v [3]float32) {
	binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(v[0]))
	binary.LittleEndian.PutUint32(buf[off+4:off+8], math.Float32bits(v[1]))
	binary.LittleEndian.PutUint32(buf[off+8:off+12], math.Float32bits(v[2]))
}

func putF32(buf []byte, off int, v float32) {
	binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(v))
}
