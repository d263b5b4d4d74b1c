package tracer

import (
	"runtime"
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/cogentcore/webgpu/wgpu"

	"github.com/lumen-rt/lumen/engine/camera"
	"github.com/lumen-rt/lumen/engine/instance"
	"github.com/lumen-rt/lumen/engine/light"
	"github.com/lumen-rt/lumen/engine/material"
	"github.com/lumen-rt/lumen/engine/mesh"
	"github.com/lumen-rt/lumen/engine/profiler"
)

const (
	defaultWidth  = 1280
	defaultHeight = 720
)

// TracerOption is a functional option applied to a tracer during construction
// via NewTracer.
type TracerOption func(*tracerImpl)

// WithDimensions sets the initial render target size.
//
// Parameters:
//   - width, height: render target size in pixels
//
// Returns:
//   - TracerOption: a function that applies the dimensions to a tracer
func WithDimensions(width, height uint32) TracerOption {
	return func(t *tracerImpl) {
		t.width = width
		t.height = height
	}
}

// WithComputeWorkers sets the worker count for parallel mesh builds. Zero
// disables the pool; builds then run inline on the synchronizing goroutine.
// Defaults to the logical CPU count.
//
// Parameters:
//   - workers: worker goroutine count
//
// Returns:
//   - TracerOption: a function that applies the worker count to a tracer
func WithComputeWorkers(workers int) TracerOption {
	return func(t *tracerImpl) {
		if workers <= 0 {
			t.pool = nil
			return
		}
		t.pool = worker.NewDynamicWorkerPool(workers, 256, 1*time.Second)
	}
}

// WithSurfaceDescriptor attaches a window surface for presentation. Without
// one the tracer runs headless: frames still render and accumulate, Present
// is a no-op.
//
// Parameters:
//   - descriptor: the surface descriptor obtained from the window layer
//
// Returns:
//   - TracerOption: a function that applies the surface to a tracer
func WithSurfaceDescriptor(descriptor *wgpu.SurfaceDescriptor) TracerOption {
	return func(t *tracerImpl) {
		if t.backend == nil {
			t.backend = newWGPUTracerBackend(descriptor, false)
		}
	}
}

// WithForceSoftwareTracer forces WGPU to use a CPU/software fallback adapter
// instead of hardware GPU acceleration. Requires a software Vulkan ICD on the
// system (e.g. SwiftShader or lavapipe).
//
// Parameters:
//   - force: true to force the software fallback adapter
//
// Returns:
//   - TracerOption: a function that applies the fallback option to a tracer
func WithForceSoftwareTracer(force bool) TracerOption {
	return func(t *tracerImpl) {
		if t.backend == nil && force {
			t.backend = newWGPUTracerBackend(nil, true)
		}
	}
}

// withBackend substitutes the device backend, used by tests to run the
// scheduler against a recording fake.
func withBackend(backend TracerBackend) TracerOption {
	return func(t *tracerImpl) {
		t.backend = backend
	}
}

// NewTracer creates a tracer with an empty scene and allocates the per-frame
// GPU resources for the configured dimensions. Panics when the adapter or
// device cannot be acquired, and on initial resource creation failure; there
// is no rendering without them.
//
// Parameters:
//   - options: functional options for the tracer
//
// Returns:
//   - Tracer: the new tracer
func NewTracer(options ...TracerOption) Tracer {
	store := mesh.NewStore()
	t := &tracerImpl{
		mu:        &sync.Mutex{},
		buffers:   newSceneBuffers(),
		store:     store,
		table:     instance.NewTable(store),
		lights:    light.NewLights(),
		materials: material.NewLibrary(),
		cam:       camera.NewCamera(),
		pool:      worker.NewDynamicWorkerPool(runtime.NumCPU(), 256, 1*time.Second),
		prof:      profiler.NewProfiler(),
		width:     defaultWidth,
		height:    defaultHeight,
	}
	for _, option := range options {
		option(t)
	}
	if t.backend == nil {
		t.backend = newWGPUTracerBackend(nil, false)
	}

	t.pathCapacity = int(t.width) * int(t.height) * pathHeadroomNum / pathHeadroomDen
	if err := t.backend.Resize(t.width, t.height, t.pathCapacity); err != nil {
		panic(err)
	}
	return t
}
