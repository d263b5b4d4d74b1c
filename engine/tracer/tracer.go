// package tracer hosts the wavefront path tracing scheduler. Scene edits
// stage into CPU-side stores; Synchronize flushes them to GPU buffers in one
// pass, and Render drives the generate, extend, shade, and connect kernels
// until the wave drains, reading the atomic counters back between passes.
package tracer

import (
	"fmt"
	"log"
	"sync"

	"github.com/Carmen-Shannon/automation/tools/worker"

	"github.com/lumen-rt/lumen/common"
	"github.com/lumen-rt/lumen/engine/bvh"
	"github.com/lumen-rt/lumen/engine/camera"
	"github.com/lumen-rt/lumen/engine/instance"
	"github.com/lumen-rt/lumen/engine/light"
	"github.com/lumen-rt/lumen/engine/material"
	"github.com/lumen-rt/lumen/engine/mesh"
	"github.com/lumen-rt/lumen/engine/profiler"
)

// RenderMode selects what happens to the accumulator when a frame starts.
type RenderMode int

const (
	// RenderModeAccumulate adds the new sample set to the running average.
	RenderModeAccumulate RenderMode = iota
	// RenderModeReset discards the accumulator first, used after camera or
	// scene changes that invalidate previous samples.
	RenderModeReset
)

// maxPathLength caps the wavefront loop at three segments per sample: the
// camera ray and two bounces.
const maxPathLength = 3

// pathHeadroomNum and pathHeadroomDen pad path capacity to 1.5x the pixel
// count so moderate resize growth reuses the existing allocation.
const (
	pathHeadroomNum = 3
	pathHeadroomDen = 2
)

type tracerImpl struct {
	mu      *sync.Mutex
	backend TracerBackend
	buffers *sceneBuffers

	store     *mesh.Store
	table     *instance.Table
	lights    *light.Lights
	materials *material.Library
	cam       camera.Camera

	pool worker.DynamicWorkerPool
	prof *profiler.Profiler

	width        uint32
	height       uint32
	pathCapacity int
	sampleCount  int32
	meshesFresh  bool
}

// Tracer is the renderer's public surface. Scene setters stage edits that the
// next Synchronize flushes; Render traces one sample per pixel into the
// accumulator and presents the averaged result.
type Tracer interface {
	// SetMesh stages a static mesh under an identifier, replacing any mesh
	// already there. A nil or empty triangle list removes the mesh; existing
	// instances of it become empty and stop intersecting rays.
	//
	// Parameters:
	//   - id: mesh identifier, non-negative
	//   - triangles: the mesh geometry
	SetMesh(id int, triangles []mesh.Triangle)

	// SetAnimatedMesh stages a skinned mesh under an identifier in the
	// animated namespace, separate from static mesh identifiers.
	//
	// Parameters:
	//   - id: animated mesh identifier, non-negative
	//   - triangles: the rest pose geometry
	//   - skin: per-vertex joint indices and weights, three entries per
	//     triangle
	SetAnimatedMesh(id int, triangles []mesh.Triangle, skin []mesh.VertexWeights)

	// PoseAnimatedMesh re-skins an animated mesh with a joint palette. The
	// mesh's trees refit during the next Synchronize.
	//
	// Parameters:
	//   - id: animated mesh identifier
	//   - jointMatrices: world-from-joint palette, nil restores the rest pose
	//
	// Returns:
	//   - bool: false when no animated mesh exists under id
	PoseAnimatedMesh(id int, jointMatrices [][16]float32) bool

	// SetInstance places or replaces an instance binding a mesh reference to
	// a world transform. Referencing a mesh identifier that was never set is
	// a programmer error and fails.
	//
	// Parameters:
	//   - id: instance identifier, non-negative
	//   - ref: the mesh reference, static or animated
	//   - transform: column-major world-from-object matrix
	//
	// Returns:
	//   - error: non-nil when the reference is invalid
	SetInstance(id int, ref instance.ObjectRef, transform [16]float32) error

	// SetInstanceTransform updates only the transform of an existing
	// instance.
	//
	// Parameters:
	//   - id: instance identifier
	//   - transform: column-major world-from-object matrix
	//
	// Returns:
	//   - error: non-nil when no instance exists under id
	SetInstanceTransform(id int, transform [16]float32) error

	// SetMaterials replaces the material list. Triangle material identifiers
	// index into it.
	SetMaterials(materials []material.Material)

	// SetTextures replaces the texture list. Material texture indices refer
	// to positions in it.
	SetTextures(textures []common.TextureStagingData)

	// SetPointLights replaces the point light list.
	SetPointLights(lights []light.PointLight)

	// SetSpotLights replaces the spot light list.
	SetSpotLights(lights []light.SpotLight)

	// SetDirectionalLights replaces the directional light list.
	SetDirectionalLights(lights []light.DirectionalLight)

	// SetAreaLights replaces the area light list.
	SetAreaLights(lights []light.AreaLight)

	// Camera returns the camera the next frame renders through.
	Camera() camera.Camera

	// Synchronize flushes every staged scene edit to the GPU: dirty meshes
	// rebuild or refit in parallel, buffer offsets recompute, the top-level
	// tree rebuilds over the current instance bounds, and changed light,
	// material, and texture lists re-upload. Must be called before Render
	// after any scene edit.
	//
	// Returns:
	//   - error: non-nil when a GPU upload fails
	Synchronize() error

	// Render traces one sample per pixel through the wavefront loop and
	// presents the accumulated average.
	//
	// Parameters:
	//   - mode: accumulate into or reset the running average
	//
	// Returns:
	//   - error: non-nil when a kernel dispatch or readback fails
	Render(mode RenderMode) error

	// Resize changes the render target size. Path state capacity grows with
	// headroom and never shrinks, so alternating between two sizes only
	// allocates once. Accumulated samples reset.
	//
	// Parameters:
	//   - width, height: new render target size in pixels, both non-zero
	//
	// Returns:
	//   - error: non-nil when the size is zero or resource creation fails
	Resize(width, height uint32) error

	// SampleCount returns the samples per pixel accumulated so far.
	SampleCount() int32

	// Release frees every GPU resource the tracer owns.
	Release()
}

var _ Tracer = &tracerImpl{}

func (t *tracerImpl) SetMesh(id int, triangles []mesh.Triangle) {
	t.store.SetMesh(id, triangles)
}

func (t *tracerImpl) SetAnimatedMesh(id int, triangles []mesh.Triangle, skin []mesh.VertexWeights) {
	t.store.SetAnimatedMesh(id, triangles, skin)
}

func (t *tracerImpl) PoseAnimatedMesh(id int, jointMatrices [][16]float32) bool {
	return t.store.PoseAnimatedMesh(id, jointMatrices)
}

func (t *tracerImpl) SetInstance(id int, ref instance.ObjectRef, transform [16]float32) error {
	return t.table.Set(id, ref, transform)
}

func (t *tracerImpl) SetInstanceTransform(id int, transform [16]float32) error {
	return t.table.SetTransform(id, transform)
}

func (t *tracerImpl) SetMaterials(materials []material.Material) {
	t.materials.SetMaterials(materials)
}

func (t *tracerImpl) SetTextures(textures []common.TextureStagingData) {
	t.materials.SetTextures(textures)
}

func (t *tracerImpl) SetPointLights(lights []light.PointLight) {
	t.lights.SetPointLights(lights)
}

func (t *tracerImpl) SetSpotLights(lights []light.SpotLight) {
	t.lights.SetSpotLights(lights)
}

func (t *tracerImpl) SetDirectionalLights(lights []light.DirectionalLight) {
	t.lights.SetDirectionalLights(lights)
}

func (t *tracerImpl) SetAreaLights(lights []light.AreaLight) {
	t.lights.SetAreaLights(lights)
}

func (t *tracerImpl) Camera() camera.Camera {
	return t.cam
}

func (t *tracerImpl) Synchronize() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rebuilt := t.store.RebuildDirty(t.pool)
	if rebuilt > 0 || !t.meshesFresh {
		t.flushMeshes()
		t.meshesFresh = true
	}

	// The top-level tree is cheap next to mesh builds, so it rebuilds every
	// pass rather than tracking which of its inputs moved.
	t.flushTopLevel()

	if t.lights.Changed() {
		t.buffers.pointLights.Reserve(len(t.lights.PointLights()))
		t.buffers.pointLights.CopyFromSlice(t.lights.PointLights())
		t.buffers.spotLights.Reserve(len(t.lights.SpotLights()))
		t.buffers.spotLights.CopyFromSlice(t.lights.SpotLights())
		t.buffers.directionalLights.Reserve(len(t.lights.DirectionalLights()))
		t.buffers.directionalLights.CopyFromSlice(t.lights.DirectionalLights())
		t.buffers.areaLights.Reserve(len(t.lights.AreaLights()))
		t.buffers.areaLights.CopyFromSlice(t.lights.AreaLights())
		t.lights.ClearChanged()
	}

	if t.materials.MaterialsChanged() || t.buffers.materials.Len() == 0 {
		gpuMaterials := t.materials.GPUData()
		t.buffers.materials.Reserve(len(gpuMaterials))
		t.buffers.materials.CopyFromSlice(gpuMaterials)
	}
	texturesChanged := t.materials.TexturesChanged()
	t.materials.ClearChanged()

	if err := t.backend.FlushScene(t.buffers); err != nil {
		return fmt.Errorf("synchronize: %w", err)
	}
	if texturesChanged {
		if err := t.backend.UploadTextures(t.materials.Textures()); err != nil {
			return fmt.Errorf("synchronize textures: %w", err)
		}
	}
	return nil
}

// flushMeshes lays every built mesh out in the shared buffers at freshly
// computed offsets and uploads the descriptor table.
func (t *tracerImpl) flushMeshes() {
	descriptors, totals := t.store.ComputeOffsets()

	t.buffers.bvhNodes.Reserve(totals.BVHNodes)
	t.buffers.mbvhNodes.Reserve(totals.MBVHNodes)
	t.buffers.primIndices.Reserve(totals.PrimIndices)
	t.buffers.triangles.Reserve(totals.Triangles)
	t.buffers.meshData.Reserve(len(descriptors))

	t.store.ForEachFilled(func(flatID int, m *mesh.Mesh, desc mesh.GPUMeshData) {
		t.buffers.bvhNodes.CopyFromSliceOffset(m.Tree.Nodes, int(desc.BVHOffset))
		t.buffers.mbvhNodes.CopyFromSliceOffset(m.Wide.Nodes, int(desc.MBVHOffset))
		t.buffers.primIndices.CopyFromSliceOffset(m.Tree.PrimIndices, int(desc.PrimIndexOffset))
		t.buffers.triangles.CopyFromSliceOffset(m.Triangles, int(desc.TriangleOffset))
	})
	t.buffers.meshData.CopyFromSlice(descriptors)
}

// flushTopLevel flattens the instance table, rebuilds the scene tree over the
// instance world bounds, and stages all three top-level buffers.
func (t *tracerImpl) flushTopLevel() {
	instances, worldBounds := t.table.Flatten()
	top := bvh.NewTopLevelBVH(worldBounds)

	t.buffers.topNodes.Reserve(len(top.Nodes))
	t.buffers.topNodes.CopyFromSlice(top.Nodes)
	t.buffers.topIndices.Reserve(len(top.PrimIndices))
	t.buffers.topIndices.CopyFromSlice(top.PrimIndices)
	t.buffers.instances.Reserve(len(instances))
	t.buffers.instances.CopyFromSlice(instances)
	t.table.ClearChanged()
}

func (t *tracerImpl) Render(mode RenderMode) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if mode == RenderModeReset {
		t.sampleCount = 0
	}

	data := camera.NewGPUCameraData(t.cam.View(), t.width, t.height)
	data.SampleCount = t.sampleCount
	data.PointLightCount, data.SpotLightCount, data.DirectionalLightCount, data.AreaLightCount = t.lights.Counts()

	pathCount := int32(t.width) * int32(t.height)
	data.PathCount = pathCount
	t.backend.WriteCamera(data)

	traced := 0
	for round := 0; round < maxPathLength && pathCount > 0; round++ {
		traced += int(pathCount)
		if round == 0 {
			if err := t.backend.RunPrimary(t.width, t.height); err != nil {
				return fmt.Errorf("render primary: %w", err)
			}
		} else {
			if err := t.backend.RunExtend(pathCount); err != nil {
				return fmt.Errorf("render extend: %w", err)
			}
		}
		if err := t.backend.RunShade(pathCount); err != nil {
			return fmt.Errorf("render shade: %w", err)
		}

		counters, err := t.backend.ReadCamera()
		if err != nil {
			return fmt.Errorf("render readback: %w", err)
		}
		if counters.ShadowID > 0 {
			if err := t.backend.RunShadow(counters.ShadowID); err != nil {
				return fmt.Errorf("render shadow: %w", err)
			}
		}

		// Paths never split, so the next wave can only shrink. Clamping
		// guards against a kernel over-counting past the live range.
		next := counters.ExtensionID
		if next < 0 {
			next = 0
		}
		if next > pathCount {
			log.Printf("[Tracer] extension counter %d exceeds live paths %d, clamping", next, pathCount)
			next = pathCount
		}
		pathCount = next

		data.PathLength = int32(round + 1)
		data.PathCount = pathCount
		data.ExtensionID = 0
		data.ShadowID = 0
		t.backend.WriteCamera(data)
	}

	t.sampleCount++
	data.SampleCount = t.sampleCount
	t.backend.WriteCamera(data)
	if err := t.backend.RunBlit(t.width, t.height); err != nil {
		return fmt.Errorf("render blit: %w", err)
	}
	t.backend.Present()
	t.prof.AddPaths(traced)
	t.prof.Tick()
	return nil
}

func (t *tracerImpl) Resize(width, height uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if width == 0 || height == 0 {
		return fmt.Errorf("resize to %dx%d: dimensions must be non-zero", width, height)
	}

	pixels := int(width) * int(height)
	if pixels > t.pathCapacity {
		t.pathCapacity = pixels * pathHeadroomNum / pathHeadroomDen
	}
	if err := t.backend.Resize(width, height, t.pathCapacity); err != nil {
		return fmt.Errorf("resize to %dx%d: %w", width, height, err)
	}
	t.width = width
	t.height = height
	t.sampleCount = 0
	return nil
}

func (t *tracerImpl) SampleCount() int32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sampleCount
}

func (t *tracerImpl) Release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	// The build pool drains on its idle timeout; only GPU resources need an
	// explicit release.
	t.backend.Release()
}
