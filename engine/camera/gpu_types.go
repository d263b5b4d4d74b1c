package camera

import (
	_ "embed"
	"encoding/binary"
	"math"
	"unsafe"

	"github.com/lumen-rt/lumen/common"
)

// defaultClampValue bounds per-sample radiance to tame fireflies.
const defaultClampValue = 10.0

// GPUCameraDataSource is the canonical WGSL definition of the CameraData
// struct. Matches GPUCameraData layout exactly (128 bytes, std430 aligned).
//
//go:embed assets/camera_data.wgsl
var GPUCameraDataSource string

// GPUCameraData is the per-frame uniform the kernels read and the scheduler
// reads back. The generation kernel derives primary rays from the screen
// plane vectors (P1, Right, Up); the shade and connect kernels bump the
// atomic PathCount/ExtensionID/ShadowID counters, which the readback after
// each pass turns into the wavefront loop decision.
// Matches the WGSL CameraData struct layout exactly (see GPUCameraDataSource).
// Size: 128 bytes (std430 / WGSL aligned).
type GPUCameraData struct {
	Position   [3]float32 // offset  0: lens center
	PathLength int32      // offset 12: bounce index of the running wave

	Right    [3]float32 // offset 16: screen plane horizontal span
	LensSize float32    // offset 28: aperture radius

	Up          [3]float32 // offset 32: screen plane vertical span
	SpreadAngle float32    // offset 44: per-pixel cone angle for LOD

	P1      [3]float32 // offset 48: screen plane top-left corner
	Epsilon float32    // offset 60: self-intersection offset

	InvWidth    float32 // offset 64
	InvHeight   float32 // offset 68
	PathCount   int32   // offset 72: live paths entering the next pass
	ExtensionID int32   // offset 76: extension rays queued by the last pass

	ShadowID    int32 // offset 80: shadow rays queued by the last pass
	Width       int32 // offset 84
	Height      int32 // offset 88
	SampleCount int32 // offset 92: accumulated samples per pixel

	ClampValue            float32 // offset  96: radiance clamp
	PointLightCount       int32   // offset 100
	SpotLightCount        int32   // offset 104
	DirectionalLightCount int32   // offset 108

	AreaLightCount int32 // offset 112
	_pad0          int32 // offset 116
	_pad1          int32 // offset 120
	_pad2          int32 // offset 124
}

// NewGPUCameraData flattens a camera snapshot into the kernel uniform for a
// given render target size. Counter fields start at zero; the scheduler owns
// them across the wavefront loop.
//
// Parameters:
//   - view: the camera snapshot
//   - width, height: render target size in pixels
//
// Returns:
//   - GPUCameraData: the populated uniform block
func NewGPUCameraData(view CameraView, width, height uint32) GPUCameraData {
	if width == 0 {
		width = 1
	}
	if height == 0 {
		height = 1
	}

	dir := common.Normalize3(view.Direction)
	right := common.Normalize3(common.Cross3(dir, view.Up))
	if right == ([3]float32{0, 0, 0}) {
		// Viewing direction parallel to up; pick another basis.
		right = common.Normalize3(common.Cross3(dir, [3]float32{1, 0, 0}))
	}
	up := common.Cross3(right, dir)

	focal := view.FocalDistance
	if focal <= 0 {
		focal = 1
	}
	aspect := float32(width) / float32(height)
	halfHeight := focal * float32(math.Tan(float64(view.Fov)*0.5))
	halfWidth := halfHeight * aspect

	center := [3]float32{
		view.Position[0] + dir[0]*focal,
		view.Position[1] + dir[1]*focal,
		view.Position[2] + dir[2]*focal,
	}
	p1 := [3]float32{
		center[0] - right[0]*halfWidth + up[0]*halfHeight,
		center[1] - right[1]*halfWidth + up[1]*halfHeight,
		center[2] - right[2]*halfWidth + up[2]*halfHeight,
	}
	rightSpan := [3]float32{right[0] * 2 * halfWidth, right[1] * 2 * halfWidth, right[2] * 2 * halfWidth}
	upSpan := [3]float32{-up[0] * 2 * halfHeight, -up[1] * 2 * halfHeight, -up[2] * 2 * halfHeight}

	return GPUCameraData{
		Position:    view.Position,
		Right:       rightSpan,
		LensSize:    view.Aperture,
		Up:          upSpan,
		SpreadAngle: view.Fov / float32(height),
		P1:          p1,
		Epsilon:     1e-4,
		InvWidth:    1.0 / float32(width),
		InvHeight:   1.0 / float32(height),
		Width:       int32(width),
		Height:      int32(height),
		ClampValue:  defaultClampValue,
	}
}

// Size returns the size of the GPUCameraData struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (128)
func (g *GPUCameraData) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUCameraData struct into a byte buffer suitable
// for GPU upload.
//
// Returns:
//   - []byte: 128-byte buffer ready for GPU upload
func (g *GPUCameraData) Marshal() []byte {
	buf := make([]byte, 128)
	putF := func(off int, v float32) {
		binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(v))
	}
	putI := func(off int, v int32) {
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(v))
	}
	putF(0, g.Position[0])
	putF(4, g.Position[1])
	putF(8, g.Position[2])
	putI(12, g.PathLength)
	putF(16, g.Right[0])
	putF(20, g.Right[1])
	putF(24, g.Right[2])
	putF(28, g.LensSize)
	putF(32, g.Up[0])
	putF(36, g.Up[1])
	putF(40, g.Up[2])
	putF(44, g.SpreadAngle)
	putF(48, g.P1[0])
	putF(52, g.P1[1])
	putF(56, g.P1[2])
	putF(60, g.Epsilon)
	putF(64, g.InvWidth)
	putF(68, g.InvHeight)
	putI(72, g.PathCount)
	putI(76, g.ExtensionID)
	putI(80, g.ShadowID)
	putI(84, g.Width)
	putI(88, g.Height)
	putI(92, g.SampleCount)
	putF(96, g.ClampValue)
	putI(100, g.PointLightCount)
	putI(104, g.SpotLightCount)
	putI(108, g.DirectionalLightCount)
	putI(112, g.AreaLightCount)
	return buf
}

// Unmarshal parses the 128-byte block read back from the GPU, recovering the
// counter fields the kernels advanced.
//
// Parameters:
//   - buf: at least 128 bytes copied out of the readback buffer
//
// Returns:
//   - bool: false when buf is too short
func (g *GPUCameraData) Unmarshal(buf []byte) bool {
	if len(buf) < 128 {
		return false
	}
	getF := func(off int) float32 {
		return math.Float32frombits(binary.LittleEndian.Uint32(buf[off : off+4]))
	}
	getI := func(off int) int32 {
		return int32(binary.LittleEndian.Uint32(buf[off : off+4]))
	}
	g.Position = [3]float32{getF(0), getF(4), getF(8)}
	g.PathLength = getI(12)
	g.Right = [3]float32{getF(16), getF(20), getF(24)}
	g.LensSize = getF(28)
	g.Up = [3]float32{getF(32), getF(36), getF(40)}
	g.SpreadAngle = getF(44)
	g.P1 = [3]float32{getF(48), getF(52), getF(56)}
	g.Epsilon = getF(60)
	g.InvWidth = getF(64)
	g.InvHeight = getF(68)
	g.PathCount = getI(72)
	g.ExtensionID = getI(76)
	g.ShadowID = getI(80)
	g.Width = getI(84)
	g.Height = getI(88)
	g.SampleCount = getI(92)
	g.ClampValue = getF(96)
	g.PointLightCount = getI(100)
	g.SpotLightCount = getI(104)
	g.DirectionalLightCount = getI(108)
	g.AreaLightCount = getI(112)
	return true
}
