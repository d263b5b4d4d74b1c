package tracer

import (
	"github.com/cogentcore/webgpu/wgpu"

	"github.com/lumen-rt/lumen/common"
	"github.com/lumen-rt/lumen/engine/bvh"
	"github.com/lumen-rt/lumen/engine/camera"
	"github.com/lumen-rt/lumen/engine/instance"
	"github.com/lumen-rt/lumen/engine/light"
	"github.com/lumen-rt/lumen/engine/material"
	"github.com/lumen-rt/lumen/engine/mesh"
)

// sceneBuffers groups the growable GPU buffers that hold the scene. The
// tracer writes their CPU mirrors during Synchronize; FlushScene uploads
// whatever changed and rebuilds bind groups when a reallocation invalidated
// them.
type sceneBuffers struct {
	bvhNodes    *ManagedBuffer[bvh.AABB]
	mbvhNodes   *ManagedBuffer[bvh.MBVHNode]
	primIndices *ManagedBuffer[uint32]
	triangles   *ManagedBuffer[mesh.Triangle]
	meshData    *ManagedBuffer[mesh.GPUMeshData]

	topNodes   *ManagedBuffer[bvh.AABB]
	topIndices *ManagedBuffer[uint32]
	instances  *ManagedBuffer[instance.GPUInstanceData]

	pointLights       *ManagedBuffer[light.PointLight]
	spotLights        *ManagedBuffer[light.SpotLight]
	directionalLights *ManagedBuffer[light.DirectionalLight]
	areaLights        *ManagedBuffer[light.AreaLight]
	materials         *ManagedBuffer[material.GPUMaterial]
}

func newSceneBuffers() *sceneBuffers {
	storage := wgpu.BufferUsageStorage
	return &sceneBuffers{
		bvhNodes:          NewManagedBuffer[bvh.AABB]("BVH Nodes", storage),
		mbvhNodes:         NewManagedBuffer[bvh.MBVHNode]("MBVH Nodes", storage),
		primIndices:       NewManagedBuffer[uint32]("Primitive Indices", storage),
		triangles:         NewManagedBuffer[mesh.Triangle]("Triangles", storage),
		meshData:          NewManagedBuffer[mesh.GPUMeshData]("Mesh Descriptors", storage),
		topNodes:          NewManagedBuffer[bvh.AABB]("Top-Level Nodes", storage),
		topIndices:        NewManagedBuffer[uint32]("Top-Level Indices", storage),
		instances:         NewManagedBuffer[instance.GPUInstanceData]("Instances", storage),
		pointLights:       NewManagedBuffer[light.PointLight]("Point Lights", storage),
		spotLights:        NewManagedBuffer[light.SpotLight]("Spot Lights", storage),
		directionalLights: NewManagedBuffer[light.DirectionalLight]("Directional Lights", storage),
		areaLights:        NewManagedBuffer[light.AreaLight]("Area Lights", storage),
		materials:         NewManagedBuffer[material.GPUMaterial]("Materials", storage),
	}
}

// meshGroupInvalid reports whether any buffer in the mesh bind group was
// reallocated since the group was last built.
func (s *sceneBuffers) meshGroupInvalid() bool {
	return s.bvhNodes.BindingsInvalid() || s.mbvhNodes.BindingsInvalid() ||
		s.primIndices.BindingsInvalid() || s.triangles.BindingsInvalid() ||
		s.meshData.BindingsInvalid()
}

// topGroupInvalid reports whether any buffer in the top-level bind group was
// reallocated since the group was last built.
func (s *sceneBuffers) topGroupInvalid() bool {
	return s.topNodes.BindingsInvalid() || s.topIndices.BindingsInvalid() ||
		s.instances.BindingsInvalid()
}

// shadeGroupInvalid reports whether any buffer in the light and material bind
// group was reallocated since the group was last built.
func (s *sceneBuffers) shadeGroupInvalid() bool {
	return s.pointLights.BindingsInvalid() || s.spotLights.BindingsInvalid() ||
		s.directionalLights.BindingsInvalid() || s.areaLights.BindingsInvalid() ||
		s.materials.BindingsInvalid()
}

// clearInvalid acknowledges the bind group rebuilds after a flush.
func (s *sceneBuffers) clearInvalid() {
	for _, b := range []interface{ ClearBindingsInvalid() }{
		s.bvhNodes, s.mbvhNodes, s.primIndices, s.triangles, s.meshData,
		s.topNodes, s.topIndices, s.instances,
		s.pointLights, s.spotLights, s.directionalLights, s.areaLights,
		s.materials,
	} {
		b.ClearBindingsInvalid()
	}
}

// TracerBackend abstracts the device behind the wavefront loop. The wgpu
// implementation drives compute pipelines; tests substitute a recording fake
// so the scheduling logic runs without a GPU.
type TracerBackend interface {
	// FlushScene uploads every dirty scene buffer and rebuilds the bind
	// groups that reference reallocated buffers.
	//
	// Parameters:
	//   - buffers: the scene buffers to upload
	//
	// Returns:
	//   - error: non-nil when a buffer upload fails
	FlushScene(buffers *sceneBuffers) error

	// UploadTextures replaces the texture array with the staged images. All
	// layers share the extent of the largest image; smaller images occupy
	// the top-left corner of their layer.
	//
	// Parameters:
	//   - textures: the staged images, one layer each
	//
	// Returns:
	//   - error: non-nil when texture creation or upload fails
	UploadTextures(textures []common.TextureStagingData) error

	// WriteCamera uploads the camera uniform, resetting the atomic wave
	// counters to the values the struct carries.
	//
	// Parameters:
	//   - data: the camera block to upload
	WriteCamera(data camera.GPUCameraData)

	// ReadCamera copies the camera block back from the GPU and blocks until
	// the copy completes. The wavefront loop reads the counter fields the
	// kernels advanced.
	//
	// Returns:
	//   - camera.GPUCameraData: the block as the kernels left it
	//   - error: non-nil when the readback mapping fails
	ReadCamera() (camera.GPUCameraData, error)

	// RunPrimary dispatches the camera ray generation and first intersection
	// pass over the full render target.
	//
	// Parameters:
	//   - width, height: render target size in pixels
	//
	// Returns:
	//   - error: non-nil when command encoding fails
	RunPrimary(width, height uint32) error

	// RunExtend dispatches the bounce intersection pass over the live paths.
	//
	// Parameters:
	//   - pathCount: live paths entering the pass
	//
	// Returns:
	//   - error: non-nil when command encoding fails
	RunExtend(pathCount int32) error

	// RunShade dispatches the material evaluation pass over the live paths.
	//
	// Parameters:
	//   - pathCount: live paths entering the pass
	//
	// Returns:
	//   - error: non-nil when command encoding fails
	RunShade(pathCount int32) error

	// RunShadow dispatches the occlusion pass over the queued shadow rays.
	//
	// Parameters:
	//   - shadowCount: shadow rays queued by the last shade pass
	//
	// Returns:
	//   - error: non-nil when command encoding fails
	RunShadow(shadowCount int32) error

	// RunBlit dispatches the tone map pass that resolves the accumulator
	// into the display texture.
	//
	// Parameters:
	//   - width, height: render target size in pixels
	//
	// Returns:
	//   - error: non-nil when command encoding fails
	RunBlit(width, height uint32) error

	// Present copies the display texture to the surface and presents it.
	// No-op for headless backends.
	Present()

	// Resize recreates the per-frame buffers and the display texture for a
	// new render target size.
	//
	// Parameters:
	//   - width, height: new render target size in pixels
	//   - pathCapacity: path state slots to allocate, already padded with
	//     headroom by the caller
	//
	// Returns:
	//   - error: non-nil when resource creation fails
	Resize(width, height uint32, pathCapacity int) error

	// Release frees every GPU resource the backend owns.
	Release()
}
