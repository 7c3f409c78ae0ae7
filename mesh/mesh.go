package mesh

import (
	"github.com/achilleasa/go-rtcore/types"
)

// Mesh is an indexed triangle mesh.
type Mesh struct {
	Name     string
	Vertices []types.Vec3
	Indices  [][3]uint32
}

// Get the number of triangles.
func (m *Mesh) TriangleCount() int {
	return len(m.Indices)
}

// Get the bounds of all vertices referenced by the mesh.
func (m *Mesh) Bounds() types.Bounds {
	b := types.EmptyBounds()
	for _, v := range m.Vertices {
		b = b.ExtendPoint(v)
	}
	return b
}

// Get the build primitive of every triangle.
func (m *Mesh) Primitives(geomID uint32) []types.BuildPrimitive {
	prims := make([]types.BuildPrimitive, len(m.Indices))
	for i, tri := range m.Indices {
		v0, v1, v2 := m.Vertices[tri[0]], m.Vertices[tri[1]], m.Vertices[tri[2]]
		b := types.NewBounds(
			types.MinVec3(v0, types.MinVec3(v1, v2)),
			types.MaxVec3(v0, types.MaxVec3(v1, v2)),
		)
		prims[i] = types.NewBuildPrimitive(b, geomID, uint32(i))
	}
	return prims
}
