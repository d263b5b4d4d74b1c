package tracer

import (
	"testing"

	"github.com/lumen-rt/lumen/common"
	"github.com/lumen-rt/lumen/engine/camera"
	"github.com/lumen-rt/lumen/engine/instance"
	"github.com/lumen-rt/lumen/engine/light"
	"github.com/lumen-rt/lumen/engine/mesh"
)

func identityTransform() [16]float32 {
	return [16]float32{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}
}

// fakeBackend records every call the scheduler makes and plays back scripted
// counter values, so the wavefront loop runs without a device.
type fakeBackend struct {
	written []camera.GPUCameraData

	// Scripted counters returned by successive ReadCamera calls. When the
	// script runs out the counters read zero.
	extensionScript []int32
	shadowScript    []int32
	readIndex       int

	primaryRuns int
	extendRuns  []int32
	shadeRuns   []int32
	shadowRuns  []int32
	blitRuns    int
	presents    int

	flushes        int
	flushedBuffers *sceneBuffers
	textureUploads [][]common.TextureStagingData

	resizes []fakeResize
}

type fakeResize struct {
	width        uint32
	height       uint32
	pathCapacity int
}

var _ TracerBackend = &fakeBackend{}

func (f *fakeBackend) FlushScene(buffers *sceneBuffers) error {
	f.flushes++
	f.flushedBuffers = buffers
	return nil
}

func (f *fakeBackend) UploadTextures(textures []common.TextureStagingData) error {
	f.textureUploads = append(f.textureUploads, textures)
	return nil
}

func (f *fakeBackend) WriteCamera(data camera.GPUCameraData) {
	f.written = append(f.written, data)
}

func (f *fakeBackend) ReadCamera() (camera.GPUCameraData, error) {
	data := f.written[len(f.written)-1]
	if f.readIndex < len(f.extensionScript) {
		data.ExtensionID = f.extensionScript[f.readIndex]
	}
	if f.readIndex < len(f.shadowScript) {
		data.ShadowID = f.shadowScript[f.readIndex]
	}
	f.readIndex++
	return data, nil
}

func (f *fakeBackend) RunPrimary(width, height uint32) error {
	f.primaryRuns++
	return nil
}

func (f *fakeBackend) RunExtend(pathCount int32) error {
	f.extendRuns = append(f.extendRuns, pathCount)
	return nil
}

func (f *fakeBackend) RunShade(pathCount int32) error {
	f.shadeRuns = append(f.shadeRuns, pathCount)
	return nil
}

func (f *fakeBackend) RunShadow(shadowCount int32) error {
	f.shadowRuns = append(f.shadowRuns, shadowCount)
	return nil
}

func (f *fakeBackend) RunBlit(width, height uint32) error {
	f.blitRuns++
	return nil
}

func (f *fakeBackend) Present() {
	f.presents++
}

func (f *fakeBackend) Resize(width, height uint32, pathCapacity int) error {
	f.resizes = append(f.resizes, fakeResize{width, height, pathCapacity})
	return nil
}

func (f *fakeBackend) Release() {}

func newTestTracer(t *testing.T, fake *fakeBackend, width, height uint32) Tracer {
	t.Helper()
	return NewTracer(
		withBackend(fake),
		WithDimensions(width, height),
		WithComputeWorkers(0),
	)
}

func TestRenderPathCountsNeverGrow(t *testing.T) {
	fake := &fakeBackend{
		// The first readback over-reports the live paths; the clamp must
		// hold the wave at the launched count.
		extensionScript: []int32{500, 5, 0},
	}
	tr := newTestTracer(t, fake, 10, 10)

	if err := tr.Render(RenderModeAccumulate); err != nil {
		t.Fatalf("render: %v", err)
	}

	if fake.primaryRuns != 1 {
		t.Fatalf("primary ran %d times, want 1", fake.primaryRuns)
	}
	wantShade := []int32{100, 100, 5}
	if len(fake.shadeRuns) != len(wantShade) {
		t.Fatalf("shade ran %d times, want %d", len(fake.shadeRuns), len(wantShade))
	}
	for i, want := range wantShade {
		if fake.shadeRuns[i] != want {
			t.Fatalf("shade round %d ran %d paths, want %d", i, fake.shadeRuns[i], want)
		}
	}
	wantExtend := []int32{100, 5}
	if len(fake.extendRuns) != len(wantExtend) {
		t.Fatalf("extend ran %d times, want %d", len(fake.extendRuns), len(wantExtend))
	}
	for i, want := range wantExtend {
		if fake.extendRuns[i] != want {
			t.Fatalf("extend round %d ran %d paths, want %d", i, fake.extendRuns[i], want)
		}
	}
}

func TestRenderRoundCap(t *testing.T) {
	fake := &fakeBackend{
		// The script never drains the wave; the loop must stop on its own.
		extensionScript: []int32{100, 100, 100, 100, 100},
	}
	tr := newTestTracer(t, fake, 10, 10)

	if err := tr.Render(RenderModeAccumulate); err != nil {
		t.Fatalf("render: %v", err)
	}

	if got := fake.primaryRuns + len(fake.extendRuns); got != maxPathLength {
		t.Fatalf("loop ran %d intersection passes, want %d", got, maxPathLength)
	}
	if fake.blitRuns != 1 || fake.presents != 1 {
		t.Fatalf("blit ran %d times and present %d times, want 1 each", fake.blitRuns, fake.presents)
	}
}

func TestRenderEarlyDrainStopsLoop(t *testing.T) {
	fake := &fakeBackend{extensionScript: []int32{0}}
	tr := newTestTracer(t, fake, 4, 4)

	if err := tr.Render(RenderModeAccumulate); err != nil {
		t.Fatalf("render: %v", err)
	}
	if len(fake.extendRuns) != 0 {
		t.Fatalf("extend ran %d times after the wave drained, want 0", len(fake.extendRuns))
	}
	if len(fake.shadeRuns) != 1 {
		t.Fatalf("shade ran %d times, want 1", len(fake.shadeRuns))
	}
	if fake.blitRuns != 1 {
		t.Fatal("frame did not resolve after early drain")
	}
}

func TestRenderShadowDispatch(t *testing.T) {
	fake := &fakeBackend{
		extensionScript: []int32{10, 0},
		shadowScript:    []int32{7, 0},
	}
	tr := newTestTracer(t, fake, 4, 4)

	if err := tr.Render(RenderModeAccumulate); err != nil {
		t.Fatalf("render: %v", err)
	}

	if len(fake.shadowRuns) != 1 {
		t.Fatalf("shadow ran %d times, want 1", len(fake.shadowRuns))
	}
	if fake.shadowRuns[0] != 7 {
		t.Fatalf("shadow ran %d rays, want 7", fake.shadowRuns[0])
	}
}

func TestRenderModeResetZeroesSampleCount(t *testing.T) {
	fake := &fakeBackend{}
	tr := newTestTracer(t, fake, 4, 4)

	for range 3 {
		if err := tr.Render(RenderModeAccumulate); err != nil {
			t.Fatalf("render: %v", err)
		}
	}
	if got := tr.SampleCount(); got != 3 {
		t.Fatalf("sample count = %d after 3 frames, want 3", got)
	}

	fake.written = nil
	if err := tr.Render(RenderModeReset); err != nil {
		t.Fatalf("render: %v", err)
	}
	if fake.written[0].SampleCount != 0 {
		t.Fatalf("first camera write after reset carried sample count %d, want 0", fake.written[0].SampleCount)
	}
	if got := tr.SampleCount(); got != 1 {
		t.Fatalf("sample count = %d after reset frame, want 1", got)
	}
}

func TestResizeHeadroomAndReset(t *testing.T) {
	fake := &fakeBackend{}
	tr := newTestTracer(t, fake, 100, 100)

	wantInitial := 100 * 100 * 3 / 2
	if got := fake.resizes[0].pathCapacity; got != wantInitial {
		t.Fatalf("initial path capacity = %d, want %d", got, wantInitial)
	}

	if err := tr.Render(RenderModeAccumulate); err != nil {
		t.Fatalf("render: %v", err)
	}
	if got := tr.SampleCount(); got != 1 {
		t.Fatalf("sample count = %d, want 1", got)
	}

	// Shrinking stays within the existing allocation.
	if err := tr.Resize(80, 80); err != nil {
		t.Fatalf("resize: %v", err)
	}
	if got := fake.resizes[1].pathCapacity; got != wantInitial {
		t.Fatalf("capacity after shrink = %d, want unchanged %d", got, wantInitial)
	}
	if got := tr.SampleCount(); got != 0 {
		t.Fatalf("sample count = %d after resize, want 0", got)
	}

	// Growth past the headroom reallocates with fresh headroom.
	if err := tr.Resize(200, 100); err != nil {
		t.Fatalf("resize: %v", err)
	}
	wantGrown := 200 * 100 * 3 / 2
	if got := fake.resizes[2].pathCapacity; got != wantGrown {
		t.Fatalf("capacity after growth = %d, want %d", got, wantGrown)
	}
}

func TestResizeRejectsZeroDimensions(t *testing.T) {
	fake := &fakeBackend{}
	tr := newTestTracer(t, fake, 4, 4)

	if err := tr.Resize(0, 4); err == nil {
		t.Fatal("resize to zero width did not fail")
	}
	if err := tr.Resize(4, 0); err == nil {
		t.Fatal("resize to zero height did not fail")
	}
}

func TestSynchronizeStagesScene(t *testing.T) {
	fake := &fakeBackend{}
	tr := newTestTracer(t, fake, 4, 4)

	tr.SetMesh(0, []mesh.Triangle{
		{Vertex0: [3]float32{0, 0, 0}, Vertex1: [3]float32{1, 0, 0}, Vertex2: [3]float32{0, 1, 0}},
	})
	if err := tr.SetInstance(0, instance.StaticRef(0), identityTransform()); err != nil {
		t.Fatalf("set instance: %v", err)
	}
	tr.SetPointLights([]light.PointLight{{Position: [3]float32{0, 5, 0}, Energy: 10}})

	if err := tr.Synchronize(); err != nil {
		t.Fatalf("synchronize: %v", err)
	}

	if fake.flushes != 1 {
		t.Fatalf("scene flushed %d times, want 1", fake.flushes)
	}
	buffers := fake.flushedBuffers
	if buffers.triangles.Len() == 0 {
		t.Fatal("triangle buffer empty after synchronize")
	}
	if buffers.instances.Len() == 0 {
		t.Fatal("instance buffer empty after synchronize")
	}
	if buffers.topNodes.Len() == 0 {
		t.Fatal("top-level node buffer empty after synchronize")
	}
	if got := buffers.pointLights.Host()[0].Energy; got != 10 {
		t.Fatalf("point light energy staged as %v, want 10", got)
	}
}

func TestSynchronizeTransformOnlySkipsMeshBuffers(t *testing.T) {
	fake := &fakeBackend{}
	tr := newTestTracer(t, fake, 4, 4)

	tr.SetMesh(0, []mesh.Triangle{
		{Vertex0: [3]float32{0, 0, 0}, Vertex1: [3]float32{1, 0, 0}, Vertex2: [3]float32{0, 1, 0}},
	})
	if err := tr.SetInstance(0, instance.StaticRef(0), identityTransform()); err != nil {
		t.Fatalf("set instance: %v", err)
	}
	if err := tr.Synchronize(); err != nil {
		t.Fatalf("synchronize: %v", err)
	}

	// Sentinel survives a transform-only pass only if the mesh buffers are
	// left alone.
	buffers := fake.flushedBuffers
	buffers.triangles.Host()[0].U0 = 42

	moved := identityTransform()
	moved[12] = 3
	if err := tr.SetInstanceTransform(0, moved); err != nil {
		t.Fatalf("set transform: %v", err)
	}
	if err := tr.Synchronize(); err != nil {
		t.Fatalf("second synchronize: %v", err)
	}

	if got := buffers.triangles.Host()[0].U0; got != 42 {
		t.Fatalf("triangle buffer rewritten on transform-only update (U0 = %v)", got)
	}
	if got := buffers.instances.Host()[0].Matrix[12]; got != 3 {
		t.Fatalf("instance matrix not restaged, translation = %v, want 3", got)
	}
}

func TestSynchronizeUploadsTexturesOnce(t *testing.T) {
	fake := &fakeBackend{}
	tr := newTestTracer(t, fake, 4, 4)

	tr.SetTextures([]common.TextureStagingData{{Pixels: make([]byte, 4), Width: 1, Height: 1}})
	if err := tr.Synchronize(); err != nil {
		t.Fatalf("synchronize: %v", err)
	}
	if err := tr.Synchronize(); err != nil {
		t.Fatalf("second synchronize: %v", err)
	}

	if got := len(fake.textureUploads); got != 1 {
		t.Fatalf("textures uploaded %d times, want 1", got)
	}
}

func TestRenderCarriesLightCounts(t *testing.T) {
	fake := &fakeBackend{}
	tr := newTestTracer(t, fake, 4, 4)

	tr.SetPointLights([]light.PointLight{{}, {}})
	tr.SetAreaLights([]light.AreaLight{{}})
	if err := tr.Synchronize(); err != nil {
		t.Fatalf("synchronize: %v", err)
	}
	if err := tr.Render(RenderModeAccumulate); err != nil {
		t.Fatalf("render: %v", err)
	}

	first := fake.written[0]
	if first.PointLightCount != 2 || first.AreaLightCount != 1 {
		t.Fatalf("camera carried %d point and %d area lights, want 2 and 1",
			first.PointLightCount, first.AreaLightCount)
	}
}
