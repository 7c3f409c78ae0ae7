package types

import "math"

const (
	// Geometry/instance id reported for rays that did not hit anything.
	InvalidGeometryID uint32 = 0xFFFFFFFF

	// Ray mask that matches every geometry.
	MaskAll uint32 = 0xFFFFFFFF
)

// Ray mirrors the native single ray record (48 bytes).
type Ray struct {
	OrgX, OrgY, OrgZ float32
	TNear            float32

	DirX, DirY, DirZ float32
	Time             float32

	TFar  float32
	Mask  uint32
	ID    uint32
	Flags uint32
}

// Hit mirrors the native single hit record, padded to the 16-byte
// alignment of the native layout.
type Hit struct {
	NgX, NgY, NgZ float32

	U, V float32

	PrimID     uint32
	GeomID     uint32
	InstID     [1]uint32
	InstPrimID [1]uint32

	_ [3]uint32
}

// RayHit combines a ray and the hit it produced.
type RayHit struct {
	Ray Ray
	Hit Hit
}

// Create a ray covering the [tnear, tfar] interval. Use math.Inf(1) as
// tfar for unbounded rays.
func NewRay(org, dir Vec3, tnear, tfar float32) Ray {
	return Ray{
		OrgX: org[0], OrgY: org[1], OrgZ: org[2],
		TNear: tnear,
		DirX:  dir[0], DirY: dir[1], DirZ: dir[2],
		TFar: tfar,
		Mask: MaskAll,
	}
}

// Create a ray/hit pair ready to be passed to an intersection query.
func NewRayHit(org, dir Vec3, tnear, tfar float32) RayHit {
	rh := RayHit{Ray: NewRay(org, dir, tnear, tfar)}
	rh.Reset()
	return rh
}

// Reset the hit part so the record can be reused for another query.
func (rh *RayHit) Reset() {
	rh.Hit = Hit{
		PrimID:     InvalidGeometryID,
		GeomID:     InvalidGeometryID,
		InstID:     [1]uint32{InvalidGeometryID},
		InstPrimID: [1]uint32{InvalidGeometryID},
	}
}

// Report whether the query found an intersection.
func (rh *RayHit) DidHit() bool {
	return rh.Hit.GeomID != InvalidGeometryID
}

func (r Ray) Org() Vec3 {
	return Vec3{r.OrgX, r.OrgY, r.OrgZ}
}

func (r Ray) Dir() Vec3 {
	return Vec3{r.DirX, r.DirY, r.DirZ}
}

// Get the point along the ray at distance t.
func (r Ray) At(t float32) Vec3 {
	return r.Org().Add(r.Dir().Mul(t))
}

// Report whether an occlusion query found a blocker. The native library
// sets tfar to -inf when the ray is occluded.
func (r Ray) Occluded() bool {
	return math.IsInf(float64(r.TFar), -1)
}

// Get the unnormalized geometry normal at the hit point.
func (h Hit) Normal() Vec3 {
	return Vec3{h.NgX, h.NgY, h.NgZ}
}
