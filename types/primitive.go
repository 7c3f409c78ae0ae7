package types

// BuildPrimitive is the 32-byte input record consumed by the BVH builder.
type BuildPrimitive struct {
	LowerX, LowerY, LowerZ float32
	GeomID                 uint32
	UpperX, UpperY, UpperZ float32
	PrimID                 uint32
}

// Create a build primitive from its bounds and ids.
func NewBuildPrimitive(b Bounds, geomID, primID uint32) BuildPrimitive {
	return BuildPrimitive{
		LowerX: b.LowerX, LowerY: b.LowerY, LowerZ: b.LowerZ,
		GeomID: geomID,
		UpperX: b.UpperX, UpperY: b.UpperY, UpperZ: b.UpperZ,
		PrimID: primID,
	}
}

// Get primitive bounds.
func (p BuildPrimitive) Bounds() Bounds {
	return Bounds{
		LowerX: p.LowerX, LowerY: p.LowerY, LowerZ: p.LowerZ,
		UpperX: p.UpperX, UpperY: p.UpperY, UpperZ: p.UpperZ,
	}
}

// Replace the primitive bounds keeping its ids.
func (p *BuildPrimitive) SetBounds(b Bounds) {
	p.LowerX, p.LowerY, p.LowerZ = b.LowerX, b.LowerY, b.LowerZ
	p.UpperX, p.UpperY, p.UpperZ = b.UpperX, b.UpperY, b.UpperZ
}

// Get the primitive centroid.
func (p BuildPrimitive) Center() Vec3 {
	return Vec3{
		(p.LowerX + p.UpperX) * 0.5,
		(p.LowerY + p.UpperY) * 0.5,
		(p.LowerZ + p.UpperZ) * 0.5,
	}
}

// Calculate the union of the bounds of all primitives in the list.
func PrimitiveBounds(prims []BuildPrimitive) Bounds {
	out := EmptyBounds()
	for i := range prims {
		out = out.Union(prims[i].Bounds())
	}
	return out
}
