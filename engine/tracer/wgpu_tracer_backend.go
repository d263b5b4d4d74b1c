package tracer

import (
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/cogentcore/webgpu/wgpu"

	"github.com/lumen-rt/lumen/common"
	"github.com/lumen-rt/lumen/engine/camera"
	"github.com/lumen-rt/lumen/engine/instance"
	"github.com/lumen-rt/lumen/engine/light"
	"github.com/lumen-rt/lumen/engine/material"
	"github.com/lumen-rt/lumen/engine/mesh"
)

// cameraBlockSize is the byte size of the camera uniform and its readback
// staging buffer.
const cameraBlockSize = 128

// Workgroup shapes baked into the kernel sources.
const (
	primaryGroupX = 16
	primaryGroupY = 16
	linearGroupX  = 64
	blitGroupX    = 16
	blitGroupY    = 4
)

type wgpuTracerBackendImpl struct {
	mu     *sync.Mutex
	device *wgpu.Device
	queue  *wgpu.Queue

	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	surface  *wgpu.Surface

	surfaceFormat *wgpu.TextureFormat

	frameLayout *wgpu.BindGroupLayout
	meshLayout  *wgpu.BindGroupLayout
	topLayout   *wgpu.BindGroupLayout
	shadeLayout *wgpu.BindGroupLayout

	pipelinePrimary *wgpu.ComputePipeline
	pipelineExtend  *wgpu.ComputePipeline
	pipelineShade   *wgpu.ComputePipeline
	pipelineShadow  *wgpu.ComputePipeline
	pipelineBlit    *wgpu.ComputePipeline

	cameraBuffer   *wgpu.Buffer
	readbackBuffer *wgpu.Buffer
	pathStates     *wgpu.Buffer
	shadowRays     *wgpu.Buffer
	accumulator    *wgpu.Buffer

	outputTexture *wgpu.Texture
	outputView    *wgpu.TextureView
	textureArray  *wgpu.Texture
	textureView   *wgpu.TextureView
	sampler       *wgpu.Sampler

	frameGroup *wgpu.BindGroup
	meshGroup  *wgpu.BindGroup
	topGroup   *wgpu.BindGroup
	shadeGroup *wgpu.BindGroup

	// scene is the buffer set last flushed, retained so texture uploads can
	// rebuild the shade bind group without another flush.
	scene *sceneBuffers

	width        uint32
	height       uint32
	pathCapacity int
}

var _ TracerBackend = &wgpuTracerBackendImpl{}

// newWGPUTracerBackend acquires the adapter and device, compiles the five
// wavefront kernels, and allocates the camera uniform and its readback
// staging buffer. Panics when any of that fails; there is no tracing without
// a working device.
//
// Parameters:
//   - surfaceDescriptor: the window surface to present to, nil for headless
//   - forceFallbackAdapter: true to force a CPU/software adapter
//
// Returns:
//   - TracerBackend: the device-backed implementation
func newWGPUTracerBackend(surfaceDescriptor *wgpu.SurfaceDescriptor, forceFallbackAdapter bool) TracerBackend {
	runtime.LockOSThread()
	b := &wgpuTracerBackendImpl{
		mu:       &sync.Mutex{},
		instance: wgpu.CreateInstance(nil),
	}
	if surfaceDescriptor != nil {
		b.surface = b.instance.CreateSurface(surfaceDescriptor)
	}

	a, err := b.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		ForceFallbackAdapter: forceFallbackAdapter,
		CompatibleSurface:    b.surface,
	})
	if err != nil {
		panic(err)
	}
	b.adapter = a

	// Start from the WebGPU spec default limits and raise the storage buffer
	// count: the kernels bind 17 storage buffers across the four groups.
	limits := wgpu.DefaultLimits()
	limits.MaxStorageBuffersPerShaderStage = 24

	d, err := a.RequestDevice(&wgpu.DeviceDescriptor{
		Label: "Tracer Device",
		RequiredLimits: &wgpu.RequiredLimits{
			Limits: limits,
		},
	})
	if err != nil {
		panic(err)
	}
	b.device = d
	b.queue = d.GetQueue()

	if err := b.createLayouts(); err != nil {
		panic(err)
	}
	if err := b.createPipelines(); err != nil {
		panic(err)
	}
	if err := b.createCameraBuffers(); err != nil {
		panic(err)
	}
	if err := b.createSampler(common.SamplerStagingData{}); err != nil {
		panic(err)
	}
	// A 1x1 placeholder keeps the shade bind group valid for untextured
	// scenes.
	if err := b.UploadTextures(nil); err != nil {
		panic(err)
	}
	return b
}

func (b *wgpuTracerBackendImpl) createLayouts() error {
	storageEntry := func(binding uint32, readOnly bool) wgpu.BindGroupLayoutEntry {
		entry := wgpu.BindGroupLayoutEntry{
			Binding:    binding,
			Visibility: wgpu.ShaderStageCompute,
		}
		if readOnly {
			entry.Buffer.Type = wgpu.BufferBindingTypeReadOnlyStorage
		} else {
			entry.Buffer.Type = wgpu.BufferBindingTypeStorage
		}
		return entry
	}

	outputEntry := wgpu.BindGroupLayoutEntry{
		Binding:    4,
		Visibility: wgpu.ShaderStageCompute,
	}
	outputEntry.StorageTexture.Access = wgpu.StorageTextureAccessWriteOnly
	outputEntry.StorageTexture.Format = wgpu.TextureFormatRGBA8Unorm
	outputEntry.StorageTexture.ViewDimension = wgpu.TextureViewDimension2D

	frame, err := b.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "Frame Layout",
		Entries: []wgpu.BindGroupLayoutEntry{
			storageEntry(0, false),
			storageEntry(1, false),
			storageEntry(2, false),
			storageEntry(3, false),
			outputEntry,
		},
	})
	if err != nil {
		return fmt.Errorf("frame layout: %w", err)
	}
	b.frameLayout = frame

	meshLayout, err := b.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "Mesh Layout",
		Entries: []wgpu.BindGroupLayoutEntry{
			storageEntry(0, true),
			storageEntry(1, true),
			storageEntry(2, true),
			storageEntry(3, true),
			storageEntry(4, true),
		},
	})
	if err != nil {
		return fmt.Errorf("mesh layout: %w", err)
	}
	b.meshLayout = meshLayout

	topLayout, err := b.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "Top-Level Layout",
		Entries: []wgpu.BindGroupLayoutEntry{
			storageEntry(0, true),
			storageEntry(1, true),
			storageEntry(2, true),
		},
	})
	if err != nil {
		return fmt.Errorf("top-level layout: %w", err)
	}
	b.topLayout = topLayout

	textureEntry := wgpu.BindGroupLayoutEntry{
		Binding:    5,
		Visibility: wgpu.ShaderStageCompute,
	}
	textureEntry.Texture.SampleType = wgpu.TextureSampleTypeFloat
	textureEntry.Texture.ViewDimension = wgpu.TextureViewDimension2DArray

	samplerEntry := wgpu.BindGroupLayoutEntry{
		Binding:    6,
		Visibility: wgpu.ShaderStageCompute,
	}
	samplerEntry.Sampler.Type = wgpu.SamplerBindingTypeFiltering

	shadeLayout, err := b.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "Shade Layout",
		Entries: []wgpu.BindGroupLayoutEntry{
			storageEntry(0, true),
			storageEntry(1, true),
			storageEntry(2, true),
			storageEntry(3, true),
			storageEntry(4, true),
			textureEntry,
			samplerEntry,
		},
	})
	if err != nil {
		return fmt.Errorf("shade layout: %w", err)
	}
	b.shadeLayout = shadeLayout
	return nil
}

func (b *wgpuTracerBackendImpl) createPipelines() error {
	layout, err := b.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label: "Tracer Pipeline Layout",
		BindGroupLayouts: []*wgpu.BindGroupLayout{
			b.frameLayout, b.meshLayout, b.topLayout, b.shadeLayout,
		},
	})
	if err != nil {
		return fmt.Errorf("pipeline layout: %w", err)
	}

	// Every kernel module shares the struct definitions and bind group
	// declarations; only the entry point differs.
	shared := strings.Join([]string{
		camera.GPUCameraDataSource,
		mesh.GPUTriangleSource,
		mesh.GPUMeshDataSource,
		instance.GPUInstanceDataSource,
		material.GPUMaterialSource,
		light.GPULightsSource,
		GPUWavefrontStateSource,
		GPUBindingsSource,
		GPUTraversalSource,
	}, "\n")

	kernels := []struct {
		label      string
		entryPoint string
		source     string
		target     **wgpu.ComputePipeline
	}{
		{"Primary Kernel", "primary", kernelPrimarySource, &b.pipelinePrimary},
		{"Extend Kernel", "extend", kernelExtendSource, &b.pipelineExtend},
		{"Shade Kernel", "shade", kernelShadeSource, &b.pipelineShade},
		{"Shadow Kernel", "shadow", kernelShadowSource, &b.pipelineShadow},
		{"Blit Kernel", "blit", kernelBlitSource, &b.pipelineBlit},
	}
	for _, k := range kernels {
		module, err := b.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
			Label: k.label,
			WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{
				Code: shared + "\n" + k.source,
			},
		})
		if err != nil {
			return fmt.Errorf("%s module: %w", k.label, err)
		}
		p, err := b.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
			Label:  k.label,
			Layout: layout,
			Compute: wgpu.ProgrammableStageDescriptor{
				Module:     module,
				EntryPoint: k.entryPoint,
			},
		})
		module.Release()
		if err != nil {
			return fmt.Errorf("%s pipeline: %w", k.label, err)
		}
		*k.target = p
	}
	layout.Release()
	return nil
}

func (b *wgpuTracerBackendImpl) createCameraBuffers() error {
	cam, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "Camera Block",
		Size:  cameraBlockSize,
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc,
	})
	if err != nil {
		return fmt.Errorf("camera buffer: %w", err)
	}
	b.cameraBuffer = cam

	readback, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "Camera Readback",
		Size:  cameraBlockSize,
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("camera readback buffer: %w", err)
	}
	b.readbackBuffer = readback
	return nil
}

// createSampler builds the scene texture sampler, filling unset staging
// fields with repeat addressing and linear filtering.
func (b *wgpuTracerBackendImpl) createSampler(staging common.SamplerStagingData) error {
	samp, err := b.device.CreateSampler(&wgpu.SamplerDescriptor{
		Label:         "Scene Texture Sampler",
		AddressModeU:  common.Coalesce(staging.AddressModeU, wgpu.AddressModeRepeat),
		AddressModeV:  common.Coalesce(staging.AddressModeV, wgpu.AddressModeRepeat),
		AddressModeW:  common.Coalesce(staging.AddressModeW, wgpu.AddressModeRepeat),
		MagFilter:     common.Coalesce(staging.MagFilter, wgpu.FilterModeLinear),
		MinFilter:     common.Coalesce(staging.MinFilter, wgpu.FilterModeLinear),
		MipmapFilter:  common.Coalesce(staging.MipmapFilter, wgpu.MipmapFilterModeNearest),
		LodMinClamp:   staging.LodMinClamp,
		LodMaxClamp:   common.Coalesce(staging.LodMaxClamp, 32.0),
		MaxAnisotropy: common.Coalesce(staging.MaxAnisotropy, 1),
	})
	if err != nil {
		return fmt.Errorf("scene sampler: %w", err)
	}
	b.sampler = samp
	return nil
}

func (b *wgpuTracerBackendImpl) FlushScene(buffers *sceneBuffers) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, u := range []interface {
		Update(device *wgpu.Device, queue *wgpu.Queue) error
	}{
		buffers.bvhNodes, buffers.mbvhNodes, buffers.primIndices,
		buffers.triangles, buffers.meshData,
		buffers.topNodes, buffers.topIndices, buffers.instances,
		buffers.pointLights, buffers.spotLights, buffers.directionalLights,
		buffers.areaLights, buffers.materials,
	} {
		if err := u.Update(b.device, b.queue); err != nil {
			return err
		}
	}
	b.scene = buffers

	if b.meshGroup == nil || buffers.meshGroupInvalid() {
		if err := b.rebuildMeshGroup(buffers); err != nil {
			return err
		}
	}
	if b.topGroup == nil || buffers.topGroupInvalid() {
		if err := b.rebuildTopGroup(buffers); err != nil {
			return err
		}
	}
	if b.shadeGroup == nil || buffers.shadeGroupInvalid() {
		if err := b.rebuildShadeGroup(buffers); err != nil {
			return err
		}
	}
	buffers.clearInvalid()
	return nil
}

func (b *wgpuTracerBackendImpl) rebuildMeshGroup(buffers *sceneBuffers) error {
	if b.meshGroup != nil {
		b.meshGroup.Release()
	}
	group, err := b.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "Mesh Bind Group",
		Layout: b.meshLayout,
		Entries: []wgpu.BindGroupEntry{
			buffers.bvhNodes.Binding(0),
			buffers.mbvhNodes.Binding(1),
			buffers.primIndices.Binding(2),
			buffers.triangles.Binding(3),
			buffers.meshData.Binding(4),
		},
	})
	if err != nil {
		return fmt.Errorf("mesh bind group: %w", err)
	}
	b.meshGroup = group
	return nil
}

func (b *wgpuTracerBackendImpl) rebuildTopGroup(buffers *sceneBuffers) error {
	if b.topGroup != nil {
		b.topGroup.Release()
	}
	group, err := b.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "Top-Level Bind Group",
		Layout: b.topLayout,
		Entries: []wgpu.BindGroupEntry{
			buffers.topNodes.Binding(0),
			buffers.topIndices.Binding(1),
			buffers.instances.Binding(2),
		},
	})
	if err != nil {
		return fmt.Errorf("top-level bind group: %w", err)
	}
	b.topGroup = group
	return nil
}

func (b *wgpuTracerBackendImpl) rebuildShadeGroup(buffers *sceneBuffers) error {
	if b.shadeGroup != nil {
		b.shadeGroup.Release()
	}
	group, err := b.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "Shade Bind Group",
		Layout: b.shadeLayout,
		Entries: []wgpu.BindGroupEntry{
			buffers.pointLights.Binding(0),
			buffers.spotLights.Binding(1),
			buffers.directionalLights.Binding(2),
			buffers.areaLights.Binding(3),
			buffers.materials.Binding(4),
			{Binding: 5, TextureView: b.textureView},
			{Binding: 6, Sampler: b.sampler},
		},
	})
	if err != nil {
		return fmt.Errorf("shade bind group: %w", err)
	}
	b.shadeGroup = group
	return nil
}

func (b *wgpuTracerBackendImpl) UploadTextures(textures []common.TextureStagingData) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	maxWidth, maxHeight := uint32(1), uint32(1)
	for _, t := range textures {
		if t.Width > maxWidth {
			maxWidth = t.Width
		}
		if t.Height > maxHeight {
			maxHeight = t.Height
		}
	}
	layers := uint32(len(textures))
	if layers == 0 {
		layers = 1
	}

	tex, err := b.device.CreateTexture(&wgpu.TextureDescriptor{
		Label:     "Scene Texture Array",
		Usage:     wgpu.TextureUsageTextureBinding | wgpu.TextureUsageCopyDst,
		Dimension: wgpu.TextureDimension2D,
		Size: wgpu.Extent3D{
			Width:              maxWidth,
			Height:             maxHeight,
			DepthOrArrayLayers: layers,
		},
		Format:        wgpu.TextureFormatRGBA8UnormSrgb,
		MipLevelCount: 1,
		SampleCount:   1,
	})
	if err != nil {
		return fmt.Errorf("texture array: %w", err)
	}

	for i, t := range textures {
		if len(t.Pixels) == 0 {
			continue
		}
		b.queue.WriteTexture(
			&wgpu.ImageCopyTexture{
				Texture:  tex,
				MipLevel: 0,
				Origin:   wgpu.Origin3D{Z: uint32(i)},
				Aspect:   wgpu.TextureAspectAll,
			},
			t.Pixels,
			&wgpu.TextureDataLayout{
				Offset:       0,
				BytesPerRow:  t.Width * 4,
				RowsPerImage: t.Height,
			},
			&wgpu.Extent3D{
				Width:              t.Width,
				Height:             t.Height,
				DepthOrArrayLayers: 1,
			},
		)
	}

	view, err := tex.CreateView(&wgpu.TextureViewDescriptor{
		Label:           "Scene Texture Array View",
		Format:          wgpu.TextureFormatRGBA8UnormSrgb,
		Dimension:       wgpu.TextureViewDimension2DArray,
		BaseMipLevel:    0,
		MipLevelCount:   1,
		BaseArrayLayer:  0,
		ArrayLayerCount: layers,
		Aspect:          wgpu.TextureAspectAll,
	})
	if err != nil {
		tex.Release()
		return fmt.Errorf("texture array view: %w", err)
	}

	if b.textureView != nil {
		b.textureView.Release()
	}
	if b.textureArray != nil {
		b.textureArray.Release()
	}
	b.textureArray = tex
	b.textureView = view

	if b.scene != nil {
		return b.rebuildShadeGroup(b.scene)
	}
	return nil
}

func (b *wgpuTracerBackendImpl) WriteCamera(data camera.GPUCameraData) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue.WriteBuffer(b.cameraBuffer, 0, data.Marshal())
}

func (b *wgpuTracerBackendImpl) ReadCamera() (camera.GPUCameraData, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out camera.GPUCameraData

	encoder, err := b.device.CreateCommandEncoder(nil)
	if err != nil {
		return out, fmt.Errorf("readback encoder: %w", err)
	}
	if err := encoder.CopyBufferToBuffer(b.cameraBuffer, 0, b.readbackBuffer, 0, cameraBlockSize); err != nil {
		encoder.Release()
		return out, fmt.Errorf("readback copy: %w", err)
	}
	commandBuffer, err := encoder.Finish(nil)
	if err != nil {
		encoder.Release()
		return out, fmt.Errorf("readback finish: %w", err)
	}
	b.queue.Submit(commandBuffer)
	commandBuffer.Release()
	encoder.Release()

	var status wgpu.BufferMapAsyncStatus
	if err := b.readbackBuffer.MapAsync(wgpu.MapModeRead, 0, cameraBlockSize, func(s wgpu.BufferMapAsyncStatus) {
		status = s
	}); err != nil {
		return out, fmt.Errorf("readback map: %w", err)
	}
	b.device.Poll(true, nil)
	if status != wgpu.BufferMapAsyncStatusSuccess {
		return out, fmt.Errorf("readback map status: %v", status)
	}

	mapped := b.readbackBuffer.GetMappedRange(0, cameraBlockSize)
	staging := make([]byte, cameraBlockSize)
	copy(staging, mapped)
	b.readbackBuffer.Unmap()

	if !out.Unmarshal(staging) {
		return out, fmt.Errorf("readback block truncated at %d bytes", len(staging))
	}
	return out, nil
}

// dispatch encodes a single compute pass with all four bind groups set and
// submits it. The wavefront passes are readback-separated, so batching them
// into one encoder would not save a submission.
func (b *wgpuTracerBackendImpl) dispatch(label string, pipeline *wgpu.ComputePipeline, x, y, z uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frameGroup == nil || b.meshGroup == nil || b.topGroup == nil || b.shadeGroup == nil {
		return fmt.Errorf("%s: scene not synchronized", label)
	}

	encoder, err := b.device.CreateCommandEncoder(nil)
	if err != nil {
		return fmt.Errorf("%s encoder: %w", label, err)
	}
	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(pipeline)
	pass.SetBindGroup(0, b.frameGroup, nil)
	pass.SetBindGroup(1, b.meshGroup, nil)
	pass.SetBindGroup(2, b.topGroup, nil)
	pass.SetBindGroup(3, b.shadeGroup, nil)
	pass.DispatchWorkgroups(x, y, z)
	pass.End()
	pass.Release()

	commandBuffer, err := encoder.Finish(nil)
	if err != nil {
		encoder.Release()
		return fmt.Errorf("%s finish: %w", label, err)
	}
	b.queue.Submit(commandBuffer)
	commandBuffer.Release()
	encoder.Release()
	return nil
}

func groupCount(n int32, groupSize uint32) uint32 {
	if n <= 0 {
		return 0
	}
	return (uint32(n) + groupSize - 1) / groupSize
}

func (b *wgpuTracerBackendImpl) RunPrimary(width, height uint32) error {
	return b.dispatch("primary", b.pipelinePrimary,
		(width+primaryGroupX-1)/primaryGroupX, (height+primaryGroupY-1)/primaryGroupY, 1)
}

func (b *wgpuTracerBackendImpl) RunExtend(pathCount int32) error {
	return b.dispatch("extend", b.pipelineExtend, groupCount(pathCount, linearGroupX), 1, 1)
}

func (b *wgpuTracerBackendImpl) RunShade(pathCount int32) error {
	return b.dispatch("shade", b.pipelineShade, groupCount(pathCount, linearGroupX), 1, 1)
}

func (b *wgpuTracerBackendImpl) RunShadow(shadowCount int32) error {
	return b.dispatch("shadow", b.pipelineShadow, groupCount(shadowCount, linearGroupX), 1, 1)
}

func (b *wgpuTracerBackendImpl) RunBlit(width, height uint32) error {
	return b.dispatch("blit", b.pipelineBlit,
		(width+blitGroupX-1)/blitGroupX, (height+blitGroupY-1)/blitGroupY, 1)
}

func (b *wgpuTracerBackendImpl) Present() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.surface == nil || b.outputTexture == nil {
		return
	}

	surfaceTexture, err := b.surface.GetCurrentTexture()
	if err != nil {
		return
	}
	encoder, err := b.device.CreateCommandEncoder(nil)
	if err != nil {
		surfaceTexture.Release()
		return
	}
	copySize := wgpu.Extent3D{Width: b.width, Height: b.height, DepthOrArrayLayers: 1}
	if err := encoder.CopyTextureToTexture(
		&wgpu.ImageCopyTexture{Texture: b.outputTexture, Aspect: wgpu.TextureAspectAll},
		&wgpu.ImageCopyTexture{Texture: surfaceTexture, Aspect: wgpu.TextureAspectAll},
		&copySize,
	); err != nil {
		encoder.Release()
		surfaceTexture.Release()
		return
	}
	commandBuffer, err := encoder.Finish(nil)
	if err != nil {
		encoder.Release()
		surfaceTexture.Release()
		return
	}
	b.queue.Submit(commandBuffer)
	commandBuffer.Release()
	encoder.Release()

	b.surface.Present()
	surfaceTexture.Release()
}

func (b *wgpuTracerBackendImpl) Resize(width, height uint32, pathCapacity int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var zero GPUPathState
	var zeroRay GPUShadowRay

	// The path array is double buffered: shade compacts survivors into the
	// half the next wave reads.
	paths, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "Path States",
		Size:  uint64(pathCapacity) * 2 * uint64(zero.Size()),
		Usage: wgpu.BufferUsageStorage,
	})
	if err != nil {
		return fmt.Errorf("path state buffer: %w", err)
	}

	rays, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "Shadow Rays",
		Size:  uint64(pathCapacity) * uint64(zeroRay.Size()),
		Usage: wgpu.BufferUsageStorage,
	})
	if err != nil {
		paths.Release()
		return fmt.Errorf("shadow ray buffer: %w", err)
	}

	accumulator, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "Accumulator",
		Size:  uint64(width) * uint64(height) * 16,
		Usage: wgpu.BufferUsageStorage,
	})
	if err != nil {
		paths.Release()
		rays.Release()
		return fmt.Errorf("accumulator buffer: %w", err)
	}

	output, err := b.device.CreateTexture(&wgpu.TextureDescriptor{
		Label:     "Display Texture",
		Usage:     wgpu.TextureUsageStorageBinding | wgpu.TextureUsageCopySrc,
		Dimension: wgpu.TextureDimension2D,
		Size: wgpu.Extent3D{
			Width:              width,
			Height:             height,
			DepthOrArrayLayers: 1,
		},
		Format:        wgpu.TextureFormatRGBA8Unorm,
		MipLevelCount: 1,
		SampleCount:   1,
	})
	if err != nil {
		paths.Release()
		rays.Release()
		accumulator.Release()
		return fmt.Errorf("display texture: %w", err)
	}
	outputView, err := output.CreateView(nil)
	if err != nil {
		paths.Release()
		rays.Release()
		accumulator.Release()
		output.Release()
		return fmt.Errorf("display texture view: %w", err)
	}

	b.releaseFrameResources()
	b.pathStates = paths
	b.shadowRays = rays
	b.accumulator = accumulator
	b.outputTexture = output
	b.outputView = outputView
	b.width = width
	b.height = height
	b.pathCapacity = pathCapacity

	if b.surface != nil {
		b.configureSurface(width, height)
	}
	return b.rebuildFrameGroup()
}

// configureSurface picks a copy-compatible surface format when the adapter
// offers one, since presentation copies the display texture directly.
func (b *wgpuTracerBackendImpl) configureSurface(width, height uint32) {
	capabilities := b.surface.GetCapabilities(b.adapter)
	format := capabilities.Formats[0]
	for _, f := range capabilities.Formats {
		if f == wgpu.TextureFormatRGBA8Unorm {
			format = f
			break
		}
	}
	b.surfaceFormat = &format

	b.surface.Configure(b.adapter, b.device, &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment | wgpu.TextureUsageCopyDst,
		Format:      format,
		Width:       width,
		Height:      height,
		PresentMode: wgpu.PresentModeImmediate,
		AlphaMode:   capabilities.AlphaModes[0],
	})
}

func (b *wgpuTracerBackendImpl) rebuildFrameGroup() error {
	if b.frameGroup != nil {
		b.frameGroup.Release()
		b.frameGroup = nil
	}
	group, err := b.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "Frame Bind Group",
		Layout: b.frameLayout,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: b.cameraBuffer, Size: cameraBlockSize},
			{Binding: 1, Buffer: b.pathStates, Size: b.pathStates.GetSize()},
			{Binding: 2, Buffer: b.shadowRays, Size: b.shadowRays.GetSize()},
			{Binding: 3, Buffer: b.accumulator, Size: b.accumulator.GetSize()},
			{Binding: 4, TextureView: b.outputView},
		},
	})
	if err != nil {
		return fmt.Errorf("frame bind group: %w", err)
	}
	b.frameGroup = group
	return nil
}

func (b *wgpuTracerBackendImpl) releaseFrameResources() {
	if b.outputView != nil {
		b.outputView.Release()
		b.outputView = nil
	}
	if b.outputTexture != nil {
		b.outputTexture.Release()
		b.outputTexture = nil
	}
	if b.accumulator != nil {
		b.accumulator.Release()
		b.accumulator = nil
	}
	if b.shadowRays != nil {
		b.shadowRays.Release()
		b.shadowRays = nil
	}
	if b.pathStates != nil {
		b.pathStates.Release()
		b.pathStates = nil
	}
}

func (b *wgpuTracerBackendImpl) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frameGroup != nil {
		b.frameGroup.Release()
	}
	if b.meshGroup != nil {
		b.meshGroup.Release()
	}
	if b.topGroup != nil {
		b.topGroup.Release()
	}
	if b.shadeGroup != nil {
		b.shadeGroup.Release()
	}
	b.releaseFrameResources()
	if b.scene != nil {
		for _, r := range []interface{ Release() }{
			b.scene.bvhNodes, b.scene.mbvhNodes, b.scene.primIndices,
			b.scene.triangles, b.scene.meshData,
			b.scene.topNodes, b.scene.topIndices, b.scene.instances,
			b.scene.pointLights, b.scene.spotLights, b.scene.directionalLights,
			b.scene.areaLights, b.scene.materials,
		} {
			r.Release()
		}
	}
	if b.textureView != nil {
		b.textureView.Release()
	}
	if b.textureArray != nil {
		b.textureArray.Release()
	}
	if b.sampler != nil {
		b.sampler.Release()
	}
	if b.readbackBuffer != nil {
		b.readbackBuffer.Release()
	}
	if b.cameraBuffer != nil {
		b.cameraBuffer.Release()
	}
	if b.pipelinePrimary != nil {
		b.pipelinePrimary.Release()
	}
	if b.pipelineExtend != nil {
		b.pipelineExtend.Release()
	}
	if b.pipelineShade != nil {
		b.pipelineShade.Release()
	}
	if b.pipelineShadow != nil {
		b.pipelineShadow.Release()
	}
	if b.pipelineBlit != nil {
		b.pipelineBlit.Release()
	}
	if b.device != nil {
		b.device.Release()
	}
}
