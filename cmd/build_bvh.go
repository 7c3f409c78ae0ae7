package cmd

import (
	"bytes"
	"fmt"
	"math/rand"
	"sync/atomic"
	"unsafe"

	"github.com/achilleasa/go-rtcore/bvh"
	"github.com/achilleasa/go-rtcore/types"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"
)

const maxBranchingFactor = 8

// Tree layout produced by the build-bvh command. Nodes and leaves share a
// common header so that children can be told apart while walking.
type treeHeader struct {
	leaf uint32
}

type treeNode struct {
	treeHeader
	childCount uint32
	children   [maxBranchingFactor]*treeHeader
	bounds     [maxBranchingFactor]types.Bounds
}

type treeLeaf struct {
	treeHeader
	primCount uint32
	bounds    types.Bounds
}

// Build a BVH over random boxes and print its statistics.
func BuildBVH(ctx *cli.Context) error {
	setupLogging(ctx)

	count := ctx.Int("count")
	if count <= 0 {
		return fmt.Errorf("count must be positive; got %d", count)
	}
	quality, err := bvh.ParseQuality(ctx.String("quality"))
	if err != nil {
		return err
	}
	branching := ctx.Int("branching")
	if branching < 2 || branching > maxBranchingFactor {
		return fmt.Errorf("branching factor must be in [2, %d]; got %d", maxBranchingFactor, branching)
	}

	prims := randomBoxes(rand.New(rand.NewSource(ctx.Int64("seed"))), count)
	expBounds := types.PrimitiveBounds(prims)

	var builder *bvh.Builder
	if ctx.Bool("software") {
		logger.Info("using software kernel")
		builder = bvh.NewBuilder(bvh.NewSoftwareKernel(), treeCallbacks())
	} else {
		dev, err := openDevice(ctx)
		if err != nil {
			return err
		}
		defer dev.Release()

		handle, err := dev.NewBVH()
		if err != nil {
			return err
		}
		if builder, err = handle.NewBuilder(treeCallbacks()); err != nil {
			handle.Release()
			return err
		}
	}
	defer builder.Release()

	opts := bvh.DefaultOptions()
	opts.Quality = quality
	opts.MaxBranchingFactor = uint32(branching)
	opts.MaxLeafSize = uint32(ctx.Int("max-leaf-size"))
	if err = builder.SetOptions(opts); err != nil {
		return err
	}
	if err = builder.SetPrimitives(prims); err != nil {
		return err
	}

	logger.Noticef("building %s quality BVH for %d primitives", quality, count)
	rootPtr, err := builder.Build()
	if err != nil {
		return err
	}
	stats, err := builder.Stats()
	if err != nil {
		return err
	}

	root := (*treeHeader)(rootPtr)
	gotBounds, depth, leafPrims := walkTree(root, 1)
	if !gotBounds.ApproxEqual(expBounds, 1e-4) {
		return fmt.Errorf("root bounds %+v do not match primitive bounds %+v", gotBounds, expBounds)
	}

	displayBuildStats(stats, depth, leafPrims, gotBounds)
	return nil
}

// Generate count unit boxes inside a 1000^3 cube.
func randomBoxes(rng *rand.Rand, count int) []types.BuildPrimitive {
	prims := make([]types.BuildPrimitive, count)
	for i := range prims {
		lower := types.XYZ(rng.Float32()*1000, rng.Float32()*1000, rng.Float32()*1000)
		prims[i] = types.NewBuildPrimitive(types.NewBounds(lower, lower.Add(types.XYZ(1, 1, 1))), 0, uint32(i))
	}
	return prims
}

func treeCallbacks() bvh.Callbacks {
	var lastDecile atomic.Int32
	return bvh.Callbacks{
		CreateNode: func(alloc bvh.Allocator, childCount int) unsafe.Pointer {
			ptr := alloc.Alloc(unsafe.Sizeof(treeNode{}), 16)
			*(*treeNode)(ptr) = treeNode{childCount: uint32(childCount)}
			return ptr
		},
		SetNodeChildren: func(node unsafe.Pointer, children []unsafe.Pointer) {
			n := (*treeNode)(node)
			n.childCount = uint32(len(children))
			for i, child := range children {
				n.children[i] = (*treeHeader)(child)
			}
		},
		SetNodeBounds: func(node unsafe.Pointer, bounds []*types.Bounds) {
			n := (*treeNode)(node)
			for i, b := range bounds {
				n.bounds[i] = *b
			}
		},
		CreateLeaf: func(alloc bvh.Allocator, prims []types.BuildPrimitive) unsafe.Pointer {
			ptr := alloc.Alloc(unsafe.Sizeof(treeLeaf{}), 16)
			*(*treeLeaf)(ptr) = treeLeaf{
				treeHeader: treeHeader{leaf: 1},
				primCount:  uint32(len(prims)),
				bounds:     types.PrimitiveBounds(prims),
			}
			return ptr
		},
		SplitPrimitive: func(prim *types.BuildPrimitive, dim uint32, pos float32, left, right *types.Bounds) {
			*left, *right, _ = prim.Bounds().Split(dim, pos)
		},
		Progress: func(fraction float64) bool {
			decile := int32(fraction * 10)
			if prev := lastDecile.Load(); decile > prev && lastDecile.CompareAndSwap(prev, decile) {
				logger.Infof("build progress: %d%%", decile*10)
			}
			return true
		},
	}
}

// Walk the tree and return its bounds, depth and the number of primitive
// references stored in its leaves.
func walkTree(h *treeHeader, depth int) (types.Bounds, int, int) {
	if h.leaf != 0 {
		leaf := (*treeLeaf)(unsafe.Pointer(h))
		return leaf.bounds, depth, int(leaf.primCount)
	}

	n := (*treeNode)(unsafe.Pointer(h))
	bounds := types.EmptyBounds()
	maxDepth, prims := depth, 0
	for i := uint32(0); i < n.childCount; i++ {
		_, childDepth, childPrims := walkTree(n.children[i], depth+1)
		bounds = bounds.Union(n.bounds[i])
		if childDepth > maxDepth {
			maxDepth = childDepth
		}
		prims += childPrims
	}
	return bounds, maxDepth, prims
}

func displayBuildStats(stats bvh.Stats, depth, leafPrims int, bounds types.Bounds) {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Metric", "Value"})
	table.Append([]string{"Primitives", fmt.Sprintf("%d", stats.Primitives)})
	table.Append([]string{"Staging capacity", fmt.Sprintf("%d", stats.Capacity)})
	table.Append([]string{"Inner nodes", fmt.Sprintf("%d", stats.Nodes)})
	table.Append([]string{"Leaves", fmt.Sprintf("%d", stats.Leaves)})
	table.Append([]string{"Leaf references", fmt.Sprintf("%d", leafPrims)})
	table.Append([]string{"Spatial splits", fmt.Sprintf("%d", stats.Splits)})
	table.Append([]string{"Rejected splits", fmt.Sprintf("%d", stats.RejectedSplits)})
	table.Append([]string{"Depth", fmt.Sprintf("%d", depth)})
	table.Append([]string{"Lower bound", fmt.Sprintf("%v", bounds.Lower())})
	table.Append([]string{"Upper bound", fmt.Sprintf("%v", bounds.Upper())})
	table.SetFooter([]string{"BUILD TIME", stats.BuildTime.String()})

	table.Render()
	logger.Noticef("build statistics\n%s", buf.String())
}
