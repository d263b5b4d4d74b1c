package tracer

import (
	_ "embed"
	"unsafe"
)

// GPUWavefrontStateSource is the canonical WGSL definition of the PathState
// and ShadowRay structs. Matches GPUPathState and GPUShadowRay exactly.
//
//go:embed assets/wavefront_state.wgsl
var GPUWavefrontStateSource string

// GPUTraversalSource holds the BVH node structs and the traversal functions
// shared by every kernel that intersects rays against the scene.
//
//go:embed assets/traversal.wgsl
var GPUTraversalSource string

// GPUBindingsSource declares the four bind groups every kernel module shares:
// frame state, mesh data, the top-level tree, and lights plus materials.
//
//go:embed assets/bindings.wgsl
var GPUBindingsSource string

//go:embed assets/primary.wgsl
var kernelPrimarySource string

//go:embed assets/extend.wgsl
var kernelExtendSource string

//go:embed assets/shade.wgsl
var kernelShadeSource string

//go:embed assets/shadow.wgsl
var kernelShadowSource string

//go:embed assets/blit.wgsl
var kernelBlitSource string

// GPUPathState is one live path in the wavefront. The generation and extend
// kernels fill the hit fields; the shade kernel consumes them and compacts
// survivors into the other half of the double-buffered path array.
// Matches the WGSL PathState struct layout exactly (see
// GPUWavefrontStateSource). Size: 64 bytes (std430 / WGSL aligned).
type GPUPathState struct {
	Origin [3]float32 // offset  0: ray origin, world space
	T      float32    // offset 12: hit distance, 1e30 on miss

	Direction  [3]float32 // offset 16: ray direction, normalized
	PixelIndex int32      // offset 28: accumulator slot the path feeds

	Throughput [3]float32 // offset 32: running product of surface attenuation
	InstanceID int32      // offset 44: hit instance, -1 on miss

	PrimID int32   // offset 48: hit primitive within the mesh, -1 on miss
	U      float32 // offset 52: barycentric u at the hit
	V      float32 // offset 56: barycentric v at the hit
	Seed   uint32  // offset 60: per-path RNG state
}

// Size returns the size of the GPUPathState struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (64)
func (p *GPUPathState) Size() int {
	return int(unsafe.Sizeof(*p))
}

// GPUShadowRay is one queued occlusion test carrying the radiance it deposits
// when the segment to the light is clear.
// Matches the WGSL ShadowRay struct layout exactly (see
// GPUWavefrontStateSource). Size: 48 bytes (std430 / WGSL aligned).
type GPUShadowRay struct {
	Origin [3]float32 // offset  0: offset surface point
	TMax   float32    // offset 12: distance to the light, minus epsilon slack

	Direction  [3]float32 // offset 16: toward the light, normalized
	PixelIndex int32      // offset 28

	Radiance [3]float32 // offset 32: unshadowed contribution
	_pad0    float32    // offset 44
}

// Size returns the size of the GPUShadowRay struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (48)
func (s *GPUShadowRay) Size() int {
	return int(unsafe.Sizeof(*s))
}
