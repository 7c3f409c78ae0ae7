package types

import "math"

// Bounds mirrors the native axis-aligned bounds record. The two align
// fields pad each corner to 16 bytes; the record is 32 bytes in total.
type Bounds struct {
	LowerX, LowerY, LowerZ float32
	align0                 float32
	UpperX, UpperY, UpperZ float32
	align1                 float32
}

// Create bounds from two corners.
func NewBounds(lower, upper Vec3) Bounds {
	return Bounds{
		LowerX: lower[0], LowerY: lower[1], LowerZ: lower[2],
		UpperX: upper[0], UpperY: upper[1], UpperZ: upper[2],
	}
}

// Get inverted bounds that act as the identity element for Extend.
func EmptyBounds() Bounds {
	return NewBounds(
		Vec3{math.MaxFloat32, math.MaxFloat32, math.MaxFloat32},
		Vec3{-math.MaxFloat32, -math.MaxFloat32, -math.MaxFloat32},
	)
}

func (b Bounds) Lower() Vec3 {
	return Vec3{b.LowerX, b.LowerY, b.LowerZ}
}

func (b Bounds) Upper() Vec3 {
	return Vec3{b.UpperX, b.UpperY, b.UpperZ}
}

// Check whether the bounds enclose no volume (lower > upper on any axis).
func (b Bounds) IsEmpty() bool {
	return b.LowerX > b.UpperX || b.LowerY > b.UpperY || b.LowerZ > b.UpperZ
}

// Get the bounds center.
func (b Bounds) Center() Vec3 {
	return b.Lower().Add(b.Upper()).Mul(0.5)
}

// Get the bounds extent along each axis.
func (b Bounds) Size() Vec3 {
	if b.IsEmpty() {
		return Vec3{}
	}
	return b.Upper().Sub(b.Lower())
}

// Calculate half of the bounds surface area.
func (b Bounds) HalfArea() float32 {
	side := b.Size()
	return side[0]*side[1] + side[1]*side[2] + side[0]*side[2]
}

// Grow the bounds so they include other.
func (b Bounds) Union(other Bounds) Bounds {
	return NewBounds(
		MinVec3(b.Lower(), other.Lower()),
		MaxVec3(b.Upper(), other.Upper()),
	)
}

// Grow the bounds so they include point p.
func (b Bounds) ExtendPoint(p Vec3) Bounds {
	return NewBounds(MinVec3(b.Lower(), p), MaxVec3(b.Upper(), p))
}

// Check whether other is fully contained in b.
func (b Bounds) Contains(other Bounds) bool {
	return other.LowerX >= b.LowerX && other.LowerY >= b.LowerY && other.LowerZ >= b.LowerZ &&
		other.UpperX <= b.UpperX && other.UpperY <= b.UpperY && other.UpperZ <= b.UpperZ
}

// Compare two bounds component-wise using an absolute tolerance.
func (b Bounds) ApproxEqual(other Bounds, eps float32) bool {
	l1, l2 := b.Lower(), other.Lower()
	u1, u2 := b.Upper(), other.Upper()
	for i := 0; i < 3; i++ {
		if absf(l1[i]-l2[i]) > eps || absf(u1[i]-u2[i]) > eps {
			return false
		}
	}
	return true
}

// Clip the bounds at pos along dim and return the two halves. A pos outside
// the bounds is clamped to them, so one half collapses to a zero thickness
// slab on that face while the other equals b. Dimensions
// outside [0, 2] return the unmodified bounds for both halves and false.
func (b Bounds) Split(dim uint32, pos float32) (left, right Bounds, ok bool) {
	if dim > 2 {
		return b, b, false
	}

	left, right = b, b
	lower, upper := b.Lower(), b.Upper()
	if pos < lower[dim] {
		pos = lower[dim]
	} else if pos > upper[dim] {
		pos = upper[dim]
	}

	l := left.Upper()
	l[dim] = pos
	left = NewBounds(left.Lower(), l)

	r := right.Lower()
	r[dim] = pos
	right = NewBounds(r, right.Upper())
	return left, right, true
}

func absf(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
