package bvh

import (
	"testing"
	"unsafe"

	"github.com/achilleasa/go-rtcore/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type typedHeader struct {
	isLeaf uint32
	_      uint32
}

type typedNode struct {
	typedHeader
	left, right *typedHeader
	bounds      [2]types.Bounds
}

type typedLeaf struct {
	typedHeader
	primID uint32
	geomID uint32
}

func TestTypedBuilder(t *testing.T) {
	var initNodes, initLeaves int
	tb, err := NewTypedBuilder(NewSoftwareKernel(), TypedCallbacks[typedHeader, typedNode, typedLeaf]{
		InitNode: func(n *typedNode, childCount int) {
			initNodes++
			assert.Equal(t, 2, childCount)
			assert.Nil(t, n.left, "node blocks must be zeroed")
		},
		SetNodeChildren: func(n *typedNode, children []*typedHeader) {
			n.left, n.right = children[0], children[1]
		},
		SetNodeBounds: func(n *typedNode, bounds []*types.Bounds) {
			n.bounds[0], n.bounds[1] = *bounds[0], *bounds[1]
		},
		InitLeaf: func(l *typedLeaf, prims []types.BuildPrimitive) {
			initLeaves++
			l.isLeaf = 1
			l.primID = prims[0].PrimID
			l.geomID = prims[0].GeomID
		},
	})
	require.NoError(t, err)
	defer tb.Release()

	opts := DefaultOptions()
	opts.MaxLeafSize = 1
	require.NoError(t, tb.SetOptions(opts))
	got, err := tb.Options()
	require.NoError(t, err)
	assert.Equal(t, opts, got)

	prims := quadrantBoxes()
	for i := range prims {
		prims[i].GeomID = 9
	}
	require.NoError(t, tb.SetPrimitives(prims))

	root, err := tb.Build()
	require.NoError(t, err)
	require.NotNil(t, root)
	require.Zero(t, root.isLeaf)

	seen := map[uint32]bool{}
	var visit func(h *typedHeader)
	visit = func(h *typedHeader) {
		if h.isLeaf == 1 {
			l := (*typedLeaf)(unsafe.Pointer(h))
			assert.EqualValues(t, 9, l.geomID)
			seen[l.primID] = true
			return
		}
		n := (*typedNode)(unsafe.Pointer(h))
		visit(n.left)
		visit(n.right)
	}
	visit(root)

	assert.Len(t, seen, 4)
	assert.Equal(t, 3, initNodes)
	assert.Equal(t, 4, initLeaves)

	fetched, err := tb.Root()
	require.NoError(t, err)
	assert.Equal(t, root, fetched)

	stats, err := tb.Stats()
	require.NoError(t, err)
	assert.EqualValues(t, 4, stats.Leaves)
}

func TestTypedBuilderHeaderLayout(t *testing.T) {
	type bigHeader struct {
		pad [64]byte
	}
	_, err := NewTypedBuilder(NewSoftwareKernel(), TypedCallbacks[bigHeader, typedNode, typedLeaf]{})
	assert.ErrorIs(t, err, ErrHeaderLayout)
}

func TestTypedBuilderMandatoryCallbacks(t *testing.T) {
	_, err := NewTypedBuilder(NewSoftwareKernel(), TypedCallbacks[typedHeader, typedNode, typedLeaf]{})
	assert.ErrorIs(t, err, ErrMissingCallback)
	assert.Contains(t, err.Error(), "SetNodeChildren")

	_, err = NewTypedBuilder(NewSoftwareKernel(), TypedCallbacks[typedHeader, typedNode, typedLeaf]{
		SetNodeChildren: func(*typedNode, []*typedHeader) {},
	})
	assert.ErrorIs(t, err, ErrMissingCallback)
	assert.Contains(t, err.Error(), "SetNodeBounds")

	// Node and leaf initializers are optional.
	tb, err := NewTypedBuilder(NewSoftwareKernel(), TypedCallbacks[typedHeader, typedNode, typedLeaf]{
		SetNodeChildren: func(n *typedNode, children []*typedHeader) {
			n.left, n.right = children[0], children[1]
		},
		SetNodeBounds: func(*typedNode, []*types.Bounds) {},
	})
	require.NoError(t, err)
	defer tb.Release()

	require.NoError(t, tb.SetPrimitives(quadrantBoxes()))
	root, err := tb.Build()
	require.NoError(t, err)
	require.NotNil(t, root)
	assert.Zero(t, root.isLeaf)
}

func TestArenaAlignment(t *testing.T) {
	a := &arena{}
	for _, align := range []uintptr{1, 8, 16, 32, 64, 128} {
		for i := 0; i < 10; i++ {
			ptr := a.Alloc(24, align)
			require.NotNil(t, ptr)
			exp := align
			if exp < 8 {
				exp = 8
			}
			assert.Zero(t, uintptr(ptr)%exp, "alloc with alignment %d returned %x", align, uintptr(ptr))
		}
	}

	// Oversized requests get a dedicated chunk.
	big := a.Alloc(arenaChunkWords*8+100, 64)
	require.NotNil(t, big)
	assert.Zero(t, uintptr(big)%64)
	assert.Greater(t, a.reserved(), arenaChunkWords*8)
}
