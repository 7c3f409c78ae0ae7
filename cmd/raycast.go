package cmd

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"runtime"
	"sync"
	"time"
	"unsafe"

	"github.com/achilleasa/go-rtcore/memory"
	"github.com/achilleasa/go-rtcore/mesh"
	"github.com/achilleasa/go-rtcore/rtc"
	"github.com/achilleasa/go-rtcore/types"
	"github.com/achilleasa/go-rtcore/view"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/urfave/cli"
)

// Vertical field of view of the raycast camera.
const cameraFov float32 = 45.0

// Load a mesh, trace one primary ray per pixel and save a depth image.
func Raycast(ctx *cli.Context) error {
	setupLogging(ctx)

	if ctx.NArg() != 1 {
		return errors.New("missing mesh file argument")
	}
	frameW, frameH := ctx.Int("width"), ctx.Int("height")
	if frameW <= 0 || frameH <= 0 {
		return fmt.Errorf("invalid frame dimensions %dx%d", frameW, frameH)
	}

	meshes, err := mesh.ReadWavefrontFile(ctx.Args().First())
	if err != nil {
		return err
	}
	if len(meshes) == 0 {
		return errors.New("mesh file does not contain any polygons")
	}

	dev, err := openDevice(ctx)
	if err != nil {
		return err
	}
	defer dev.Release()

	scene, err := dev.NewScene()
	if err != nil {
		return err
	}
	defer scene.Release()

	for _, m := range meshes {
		if err = attachMesh(dev, scene, m); err != nil {
			return fmt.Errorf("mesh %q: %w", m.Name, err)
		}
	}

	start := time.Now()
	if err = scene.Commit(); err != nil {
		return err
	}
	logger.Noticef("committed scene with %d mesh(es) in %d ms", len(meshes), time.Since(start).Nanoseconds()/1e6)

	bounds, err := scene.Bounds()
	if err != nil {
		return err
	}

	start = time.Now()
	depth, err := traceDepth(scene, bounds, frameW, frameH)
	if err != nil {
		return err
	}
	logger.Noticef("traced %d rays in %d ms", frameW*frameH, time.Since(start).Nanoseconds()/1e6)

	return saveDepthImage(ctx.String("out"), depth, frameW, frameH)
}

// Upload a mesh into caller owned shared buffers and attach it to scene.
// The scene keeps the buffers alive after they are closed here.
func attachMesh(dev *rtc.Device, scene *rtc.Scene, m *mesh.Mesh) error {
	vertexBytes := uintptr(len(m.Vertices)) * unsafe.Sizeof(types.Vec3{})
	indexBytes := uintptr(len(m.Indices)) * unsafe.Sizeof([3]uint32{})

	// The native library may read 16 bytes starting at the last vertex.
	vertices, err := memory.NewShared(vertexBytes+4, 16)
	if err != nil {
		return err
	}
	defer vertices.Close()
	indices, err := memory.NewShared(indexBytes, 16)
	if err != nil {
		return err
	}
	defer indices.Close()

	if err = fillShared(vertices, m.Vertices); err != nil {
		return err
	}
	if err = fillShared(indices, m.Indices); err != nil {
		return err
	}

	geom, err := dev.NewGeometry(rtc.GeometryTriangle)
	if err != nil {
		return err
	}
	defer geom.Release()

	if err = geom.SetSharedBuffer(rtc.BufferVertex, 0, rtc.FormatFloat3, vertices, 0, unsafe.Sizeof(types.Vec3{}), uintptr(len(m.Vertices))); err != nil {
		return err
	}
	if err = geom.SetSharedBuffer(rtc.BufferIndex, 0, rtc.FormatUint3, indices, 0, unsafe.Sizeof([3]uint32{}), uintptr(len(m.Indices))); err != nil {
		return err
	}
	if err = geom.Commit(); err != nil {
		return err
	}

	id, err := scene.Attach(geom)
	if err != nil {
		return err
	}
	logger.Infof("attached mesh %q (%d triangles) with id %d", m.Name, m.TriangleCount(), id)
	return nil
}

// Copy items to the start of a shared region.
func fillShared[T any](shared *memory.Shared, items []T) error {
	raw, err := shared.View()
	if err != nil {
		return err
	}
	raw, err = raw.Slice(0, int64(len(items))*int64(unsafe.Sizeof(*new(T))))
	if err != nil {
		return err
	}
	typed, err := view.Cast[T](raw)
	if err != nil {
		return err
	}
	dst, err := typed.Span()
	if err != nil {
		return err
	}
	copy(dst, items)
	return nil
}

// Trace one ray per pixel from a pinhole camera that frames bounds and
// return the hit distance per pixel; misses are +inf. Rows are split
// between workers that each query through their own scene wrapper.
func traceDepth(scene *rtc.Scene, bounds types.Bounds, frameW, frameH int) ([]float32, error) {
	center := mgl32.Vec3(bounds.Center())
	radius := mgl32.Vec3(bounds.Size()).Len() * 0.5
	if radius == 0 {
		radius = 1
	}
	tanHalf := float32(math.Tan(float64(mgl32.DegToRad(cameraFov * 0.5))))
	eye := center.Add(mgl32.Vec3{0, 0, 1.1 * radius / tanHalf})

	forward := center.Sub(eye).Normalize()
	right := forward.Cross(mgl32.Vec3{0, 1, 0}).Normalize()
	up := right.Cross(forward)

	aspect := float32(frameW) / float32(frameH)

	depth := make([]float32, frameW*frameH)
	rows := make(chan int, frameH)
	for y := 0; y < frameH; y++ {
		rows <- y
	}
	close(rows)

	workers := runtime.NumCPU()
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()

			ref, err := scene.Retain()
			if err != nil {
				errs[w] = err
				return
			}
			defer ref.Release()

			restore := rtc.SetFlushToZero()
			defer restore()

			for y := range rows {
				py := (1 - 2*(float32(y)+0.5)/float32(frameH)) * tanHalf
				for x := 0; x < frameW; x++ {
					px := (2*(float32(x)+0.5)/float32(frameW) - 1) * tanHalf * aspect
					dir := forward.Add(right.Mul(px)).Add(up.Mul(py)).Normalize()

					rh := types.NewRayHit(types.Vec3(eye), types.Vec3(dir), 0, float32(math.Inf(1)))
					if err := ref.Intersect1(&rh); err != nil {
						errs[w] = err
						return
					}
					if rh.DidHit() {
						depth[y*frameW+x] = rh.Ray.TFar
					} else {
						depth[y*frameW+x] = float32(math.Inf(1))
					}
				}
			}
		}(w)
	}
	wg.Wait()

	return depth, errors.Join(errs...)
}

// Map hit distances to grayscale with near hits bright and save as PNG.
func saveDepthImage(path string, depth []float32, frameW, frameH int) error {
	near, far := float32(math.Inf(1)), float32(0)
	for _, d := range depth {
		if math.IsInf(float64(d), 1) {
			continue
		}
		near = min(near, d)
		far = max(far, d)
	}

	img := image.NewGray16(image.Rect(0, 0, frameW, frameH))
	for y := 0; y < frameH; y++ {
		for x := 0; x < frameW; x++ {
			d := depth[y*frameW+x]
			if math.IsInf(float64(d), 1) {
				continue
			}
			shade := float32(1)
			if far > near {
				shade = 1 - 0.8*(d-near)/(far-near)
			}
			img.SetGray16(x, y, color.Gray16{Y: uint16(shade * math.MaxUint16)})
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err = png.Encode(f, img); err != nil {
		return err
	}
	logger.Noticef("saved depth image to %s", path)
	return nil
}
