package mesh

import (
	_ "embed"
	"encoding/binary"
	"math"
	"unsafe"
)

// GPUTriangleSource is the canonical WGSL definition of the Triangle struct.
// Matches Triangle layout exactly (112 bytes, std430 aligned).
//
//go:embed assets/triangle.wgsl
var GPUTriangleSource string

// Triangle is the GPU-resident triangle payload the intersection and shading
// kernels consume. Vertex UVs ride in the fourth lane of each vec3 row.
// Matches the WGSL Triangle struct layout exactly (see GPUTriangleSource).
// Size: 112 bytes (std430 / WGSL aligned).
type Triangle struct {
	Vertex0 [3]float32 // offset  0: first vertex position
	U0      float32    // offset 12: first vertex U
	Vertex1 [3]float32 // offset 16: second vertex position
	U1      float32    // offset 28: second vertex U
	Vertex2 [3]float32 // offset 32: third vertex position
	U2      float32    // offset 44: third vertex U
	Normal0 [3]float32 // offset 48: first vertex normal
	V0      float32    // offset 60: first vertex V
	Normal1 [3]float32 // offset 64: second vertex normal
	V1      float32    // offset 76: second vertex V
	Normal2 [3]float32 // offset 80: third vertex normal
	V2      float32    // offset 92: third vertex V

	GeoNormal  [3]float32 // offset  96: geometric (face) normal
	MaterialID int32      // offset 108: index into the material buffer
}

// Size returns the size of the Triangle struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (112)
func (t *Triangle) Size() int {
	return int(unsafe.Sizeof(*t))
}

// Marshal serializes the Triangle struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: 112-byte buffer ready for GPU upload
func (t *Triangle) Marshal() []byte {
	buf := make([]byte, 112)
	put3 := func(off int, v [3]float32) {
		binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(v[0]))
		binary.LittleEndian.PutUint32(buf[off+4:off+8], math.Float32bits(v[1]))
		binary.LittleEndian.PutUint32(buf[off+8:off+12], math.Float32bits(v[2]))
	}
	put3(0, t.Vertex0)
	binary.LittleEndian.PutUint32(buf[12:16], math.Float32bits(t.U0))
	put3(16, t.Vertex1)
	binary.LittleEndian.PutUint32(buf[28:32], math.Float32bits(t.U1))
	put3(32, t.Vertex2)
	binary.LittleEndian.PutUint32(buf[44:48], math.Float32bits(t.U2))
	put3(48, t.Normal0)
	binary.LittleEndian.PutUint32(buf[60:64], math.Float32bits(t.V0))
	put3(64, t.Normal1)
	binary.LittleEndian.PutUint32(buf[76:80], math.Float32bits(t.V1))
	put3(80, t.Normal2)
	binary.LittleEndian.PutUint32(buf[92:96], math.Float32bits(t.V2))
	put3(96, t.GeoNormal)
	binary.LittleEndian.PutUint32(buf[108:112], uint32(t.MaterialID))
	return buf
}

// GPUMeshDataSource is the canonical WGSL definition of the MeshData struct.
// Matches GPUMeshData layout exactly (32 bytes, std430 aligned).
//
//go:embed assets/mesh_data.wgsl
var GPUMeshDataSource string

// GPUMeshData locates one mesh's acceleration data inside the shared scene
// buffers. Offsets are element counts, not bytes. An empty mesh slot carries
// an all-zero descriptor.
// Matches the WGSL MeshData struct layout exactly (see GPUMeshDataSource).
// Size: 32 bytes (std430 / WGSL aligned).
type GPUMeshData struct {
	BVHOffset       int32 // offset  0: first node in the shared BVH buffer
	BVHNodeCount    int32 // offset  4: node count of this mesh's BVH
	TriangleOffset  int32 // offset  8: first triangle in the shared triangle buffer
	TriangleCount   int32 // offset 12: triangle count
	PrimIndexOffset int32 // offset 16: first entry in the shared primitive index buffer
	MBVHOffset      int32 // offset 20: first node in the shared MBVH buffer
	_pad0           int32 // offset 24
	_pad1           int32 // offset 28
}

// Size returns the size of the GPUMeshData struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (32)
func (d *GPUMeshData) Size() int {
	return int(unsafe.Sizeof(*d))
}

// Marshal serializes the GPUMeshData struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: 32-byte buffer ready for GPU upload
func (d *GPUMeshData) Marshal() []byte {
	buf := make([]byte, 32)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(d.BVHOffset))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(d.BVHNodeCount))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(d.TriangleOffset))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(d.TriangleCount))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(d.PrimIndexOffset))
	binary.LittleEndian.PutUint32(buf[20:24], uint32(d.MBVHOffset))
	return buf
}
