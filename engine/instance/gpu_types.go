package instance

import (
	_ "embed"
	"encoding/binary"
	"math"
	"unsafe"
)

// GPUInstanceDataSource is the canonical WGSL definition of the InstanceData
// struct. Matches GPUInstanceData layout exactly (256 bytes, std430 aligned).
//
//go:embed assets/instance_data.wgsl
var GPUInstanceDataSource string

// GPUInstanceData is the GPU-resident instance record. The four offsets are
// the referenced mesh's placement in the shared scene buffers, resolved at
// flatten time so the traversal kernel never indirects through a mesh table.
// Matches the WGSL InstanceData struct layout exactly (see
// GPUInstanceDataSource).
// Size: 256 bytes (std430 / WGSL aligned).
type GPUInstanceData struct {
	BVHOffset       int32 // offset  0
	MBVHOffset      int32 // offset  4
	TriangleOffset  int32 // offset  8
	PrimIndexOffset int32 // offset 12

	_pad0 [4]float32 // offset 16
	_pad1 [4]float32 // offset 32
	_pad2 [4]float32 // offset 48

	Matrix        [16]float32 // offset  64: object to world
	InverseMatrix [16]float32 // offset 128: world to object, rays transform by this
	NormalMatrix  [16]float32 // offset 192: transpose of the inverse, for normals
}

// Size returns the size of the GPUInstanceData struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (256)
func (d *GPUInstanceData) Size() int {
	return int(unsafe.Sizeof(*d))
}

// Marshal serializes the GPUInstanceData struct into a byte buffer suitable
// for GPU upload.
//
// Returns:
//   - []byte: 256-byte buffer ready for GPU upload
func (d *GPUInstanceData) Marshal() []byte {
	buf := make([]byte, 256)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(d.BVHOffset))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(d.MBVHOffset))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(d.TriangleOffset))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(d.PrimIndexOffset))
	putMat := func(off int, m [16]float32) {
		for i, v := range m {
			binary.LittleEndian.PutUint32(buf[off+i*4:off+i*4+4], math.Float32bits(v))
		}
	}
	putMat(64, d.Matrix)
	putMat(128, d.InverseMatrix)
	putMat(192, d.NormalMatrix)
	return buf
}
