package bvh

import (
	"math"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/achilleasa/go-rtcore/log"
	"github.com/achilleasa/go-rtcore/types"
)

const (
	// Number of centroid bins evaluated per axis.
	sahBins = 16

	// The builder will not attempt to calculate split candidates along an
	// axis if the centroid bounds along it are less than this threshold.
	minSideLength float32 = 1e-6

	// Subtrees and split scoring for ranges with at least this many
	// primitives are processed by separate goroutines.
	parallelThreshold = 4096
)

// SoftwareKernel is a pure Go top-down binned-SAH builder that drives the
// same callback protocol as the native kernel. For high quality builds
// with a split callback installed it splits straddling primitives while
// spare staging capacity remains.
//
// MaxDepth bounds SAH splitting only. Sets still larger than MaxLeafSize
// at that depth are split at the object median, so the tree may grow
// deeper than MaxDepth but no leaf exceeds MaxLeafSize.
type SoftwareKernel struct {
	logger log.Logger

	mu       sync.Mutex
	released bool

	arenaMu sync.Mutex
	arenas  []*arena
}

// Create a software kernel.
func NewSoftwareKernel() *SoftwareKernel {
	return &SoftwareKernel{
		logger: log.New("bvh"),
	}
}

type swStats struct {
	maxDepth atomic.Int64
	leafPrims atomic.Int64
}

type swBuild struct {
	kernel *SoftwareKernel
	opts   Options
	d      Dispatcher

	total       int64
	splitBudget atomic.Int64
	lastStep    atomic.Int64
	stopped     atomic.Bool

	workers chan struct{}
	stats   swStats
}

// Build a tree. Memory from a previous build is dropped.
func (k *SoftwareKernel) Build(args *BuildArguments, d Dispatcher) (unsafe.Pointer, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.released {
		return nil, ErrReleased
	}
	k.dropArenas()

	opts := sanitize(args.Options)
	b := &swBuild{
		kernel:  k,
		opts:    opts,
		d:       d,
		total:   int64(len(args.Primitives)),
		workers: make(chan struct{}, runtime.GOMAXPROCS(0)-1),
	}
	if opts.Quality == QualityHigh && d.CanSplit() {
		b.splitBudget.Store(int64(cap(args.Primitives) - len(args.Primitives)))
	}

	if !d.Progress(0) {
		return nil, nil
	}

	start := time.Now()
	prims := args.Primitives
	root := b.subtree(prims, types.PrimitiveBounds(prims), 0, k.newArena())
	if b.stopped.Load() {
		return nil, nil
	}
	d.Progress(1)

	k.logger.Debugf(
		"software BVH build time: %d ms, maxDepth: %d, primitives: %d, arena: %d bytes",
		time.Since(start).Nanoseconds()/1e6,
		b.stats.maxDepth.Load(), b.stats.leafPrims.Load(), k.reserved(),
	)
	return root, nil
}

// Release all tree memory.
func (k *SoftwareKernel) Release() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.released {
		return ErrReleased
	}
	k.released = true
	k.dropArenas()
	return nil
}

// Create an arena for a build worker.
func (k *SoftwareKernel) newArena() *arena {
	a := &arena{}
	k.arenaMu.Lock()
	k.arenas = append(k.arenas, a)
	k.arenaMu.Unlock()
	return a
}

func (k *SoftwareKernel) dropArenas() {
	k.arenaMu.Lock()
	k.arenas = nil
	k.arenaMu.Unlock()
}

func (k *SoftwareKernel) reserved() int {
	k.arenaMu.Lock()
	defer k.arenaMu.Unlock()

	total := 0
	for _, a := range k.arenas {
		total += a.reserved()
	}
	return total
}

// Clamp options to values the algorithm can work with.
func sanitize(opts Options) Options {
	if opts.MaxBranchingFactor < 2 {
		opts.MaxBranchingFactor = 2
	}
	if opts.MinLeafSize < 1 {
		opts.MinLeafSize = 1
	}
	if opts.MaxLeafSize < opts.MinLeafSize {
		opts.MaxLeafSize = opts.MinLeafSize
	}
	if opts.SAHBlockSize < 1 {
		opts.SAHBlockSize = 1
	}
	return opts
}

// A set of primitives that becomes one child of a node.
type workSet struct {
	prims  []types.BuildPrimitive
	bounds types.Bounds
}

type splitScore struct {
	axis int
	bin  int
	pos  float32
	cost float32

	centroidMin, centroidScale float32
	valid                      bool
}

// Build the subtree for prims and return its block.
func (b *swBuild) subtree(prims []types.BuildPrimitive, bounds types.Bounds, depth int, alloc *arena) unsafe.Pointer {
	if b.stopped.Load() {
		return nil
	}
	b.trackDepth(depth)

	children := b.partition(workSet{prims, bounds}, depth)
	if len(children) == 1 {
		return b.leaf(alloc, prims)
	}

	node := b.d.CreateNode(alloc, len(children))

	childPtrs := make([]unsafe.Pointer, len(children))
	childBounds := make([]types.Bounds, len(children))
	boundPtrs := make([]*types.Bounds, len(children))

	var wg sync.WaitGroup
	for i := range children {
		childBounds[i] = children[i].bounds
		boundPtrs[i] = &childBounds[i]

		if i > 0 && len(children[i].prims) >= parallelThreshold && b.tryAcquireWorker() {
			wg.Add(1)
			go func(i int, workerArena *arena) {
				defer wg.Done()
				defer b.releaseWorker()
				childPtrs[i] = b.subtree(children[i].prims, children[i].bounds, depth+1, workerArena)
			}(i, b.kernel.newArena())
			continue
		}
		childPtrs[i] = b.subtree(children[i].prims, children[i].bounds, depth+1, alloc)
	}
	wg.Wait()

	if b.stopped.Load() {
		return nil
	}

	b.d.SetNodeChildren(node, childPtrs)
	b.d.SetNodeBounds(node, boundPtrs)
	return node
}

// Split a work set into up to MaxBranchingFactor children by repeatedly
// splitting the child with the largest surface area. A single returned
// set means the input should become a leaf.
func (b *swBuild) partition(ws workSet, depth int) []workSet {
	children := []workSet{ws}
	for uint32(len(children)) < b.opts.MaxBranchingFactor {
		order := make([]int, len(children))
		for i := range order {
			order[i] = i
		}
		sort.Slice(order, func(i, j int) bool {
			return children[order[i]].bounds.HalfArea() > children[order[j]].bounds.HalfArea()
		})

		split := false
		for _, idx := range order {
			left, right, ok := b.split(children[idx], depth)
			if !ok {
				continue
			}
			children[idx] = left
			children = append(children, right)
			split = true
			break
		}
		if !split {
			break
		}
	}
	return children
}

// Split a work set in two. Returns false if the set should stay a leaf.
func (b *swBuild) split(ws workSet, depth int) (left, right workSet, ok bool) {
	n := len(ws.prims)
	if n <= int(b.opts.MinLeafSize) {
		return left, right, false
	}
	mustSplit := n > int(b.opts.MaxLeafSize)

	// Past the depth limit only oversized sets are split and only at the
	// object median.
	if depth >= int(b.opts.MaxDepth) {
		if !mustSplit {
			return left, right, false
		}
		left, right = b.medianSplit(ws)
		return left, right, true
	}

	centroids := types.EmptyBounds()
	for i := range ws.prims {
		centroids = centroids.ExtendPoint(ws.prims[i].Center())
	}

	best := b.findSplit(ws, centroids)
	if !best.valid {
		if !mustSplit {
			return left, right, false
		}
		left, right = b.medianSplit(ws)
		return left, right, true
	}

	if !mustSplit && best.cost >= b.leafCost(n, ws.bounds.HalfArea()) {
		return left, right, false
	}

	left, right = b.binSplit(ws, best)
	if len(left.prims) == 0 || len(right.prims) == 0 {
		if !mustSplit {
			return left, right, false
		}
		left, right = b.medianSplit(ws)
	}
	return left, right, true
}

// SAH cost of turning n primitives with the given half area into a leaf.
func (b *swBuild) leafCost(n int, area float32) float32 {
	return b.opts.IntersectionCost * float32(b.blocks(n)) * area
}

func (b *swBuild) blocks(n int) int {
	bs := int(b.opts.SAHBlockSize)
	return (n + bs - 1) / bs
}

// Evaluate binned SAH split candidates for each axis and return the best.
// Axes are scored in parallel for large sets.
func (b *swBuild) findSplit(ws workSet, centroids types.Bounds) splitScore {
	scoreChan := make(chan splitScore, 3)
	side := centroids.Size()
	lower := centroids.Lower()
	area := ws.bounds.HalfArea()

	pending := 0
	for axis := 0; axis < 3; axis++ {
		if side[axis] < minSideLength {
			continue
		}
		pending++
		if len(ws.prims) >= parallelThreshold {
			go func(axis int) {
				scoreChan <- b.scoreAxis(ws.prims, axis, lower[axis], side[axis], area)
			}(axis)
		} else {
			scoreChan <- b.scoreAxis(ws.prims, axis, lower[axis], side[axis], area)
		}
	}

	best := splitScore{cost: math.MaxFloat32}
	for ; pending > 0; pending-- {
		candidate := <-scoreChan
		if candidate.valid && candidate.cost < best.cost {
			best = candidate
		}
	}
	return best
}

func binIndex(c, cmin, scale float32) int {
	idx := int((c - cmin) * scale)
	if idx < 0 {
		return 0
	}
	if idx >= sahBins {
		return sahBins - 1
	}
	return idx
}

// Score all bin boundaries along an axis. The score of a candidate is
// traversal + intersection * (count * area) summed over both sides, with
// counts rounded up to SAH blocks.
func (b *swBuild) scoreAxis(prims []types.BuildPrimitive, axis int, cmin, extent, area float32) splitScore {
	var (
		counts [sahBins]int
		bounds [sahBins]types.Bounds
	)
	for i := range bounds {
		bounds[i] = types.EmptyBounds()
	}

	scale := float32(sahBins) * (1 - 1e-5) / extent
	for i := range prims {
		c := prims[i].Center()
		idx := binIndex(c[axis], cmin, scale)
		counts[idx]++
		bounds[idx] = bounds[idx].Union(prims[i].Bounds())
	}

	// Sweep from the right to collect suffix areas.
	var (
		rightArea  [sahBins]float32
		rightCount [sahBins]int
	)
	acc := types.EmptyBounds()
	count := 0
	for i := sahBins - 1; i > 0; i-- {
		acc = acc.Union(bounds[i])
		count += counts[i]
		rightArea[i] = acc.HalfArea()
		rightCount[i] = count
	}

	best := splitScore{axis: axis, cost: math.MaxFloat32, centroidMin: cmin, centroidScale: scale}
	acc = types.EmptyBounds()
	count = 0
	for i := 0; i < sahBins-1; i++ {
		acc = acc.Union(bounds[i])
		count += counts[i]
		if count == 0 || rightCount[i+1] == 0 {
			continue
		}

		cost := b.opts.TraversalCost*area +
			b.opts.IntersectionCost*(float32(b.blocks(count))*acc.HalfArea()+float32(b.blocks(rightCount[i+1]))*rightArea[i+1])
		if cost < best.cost {
			best.cost = cost
			best.bin = i
			best.pos = cmin + float32(i+1)/scale
			best.valid = true
		}
	}
	return best
}

// Partition a work set around a bin boundary. Primitives straddling the
// split plane are split through the dispatcher while the split budget
// lasts.
func (b *swBuild) binSplit(ws workSet, s splitScore) (left, right workSet) {
	prims := ws.prims
	isLeft := func(p *types.BuildPrimitive) bool {
		c := p.Center()
		return binIndex(c[s.axis], s.centroidMin, s.centroidScale) <= s.bin
	}

	// In-place partition.
	i, j := 0, len(prims)-1
	for i <= j {
		if isLeft(&prims[i]) {
			i++
			continue
		}
		prims[i], prims[j] = prims[j], prims[i]
		j--
	}
	leftPrims, rightPrims := prims[:i], prims[i:]

	if b.splitBudget.Load() > 0 {
		leftPrims, rightPrims = b.spatialSplit(leftPrims, rightPrims, s)
	}

	return workSet{leftPrims, types.PrimitiveBounds(leftPrims)},
		workSet{rightPrims, types.PrimitiveBounds(rightPrims)}
}

// Move the parts of primitives that cross the split plane to the other
// side. Fragments are appended to freshly allocated copies of both lists.
func (b *swBuild) spatialSplit(leftPrims, rightPrims []types.BuildPrimitive, s splitScore) ([]types.BuildPrimitive, []types.BuildPrimitive) {
	straddles := func(p *types.BuildPrimitive) bool {
		lo, hi := p.Bounds().Lower(), p.Bounds().Upper()
		return lo[s.axis] < s.pos && hi[s.axis] > s.pos
	}

	var toRight, toLeft []types.BuildPrimitive
	for _, side := range []struct {
		prims []types.BuildPrimitive
		other *[]types.BuildPrimitive
		keepL bool
	}{
		{leftPrims, &toRight, true},
		{rightPrims, &toLeft, false},
	} {
		for i := range side.prims {
			p := &side.prims[i]
			if !straddles(p) || !b.reserveSplit() {
				continue
			}

			var lb, rb types.Bounds
			orig := *p
			b.d.SplitPrimitive(&orig, uint32(s.axis), s.pos, &lb, &rb)

			fragment := orig
			if side.keepL {
				p.SetBounds(lb)
				fragment.SetBounds(rb)
			} else {
				p.SetBounds(rb)
				fragment.SetBounds(lb)
			}
			*side.other = append(*side.other, fragment)
		}
	}

	if len(toLeft) == 0 && len(toRight) == 0 {
		return leftPrims, rightPrims
	}

	newLeft := make([]types.BuildPrimitive, 0, len(leftPrims)+len(toLeft))
	newLeft = append(append(newLeft, leftPrims...), toLeft...)
	newRight := make([]types.BuildPrimitive, 0, len(rightPrims)+len(toRight))
	newRight = append(append(newRight, rightPrims...), toRight...)
	return newLeft, newRight
}

func (b *swBuild) reserveSplit() bool {
	for {
		budget := b.splitBudget.Load()
		if budget <= 0 {
			return false
		}
		if b.splitBudget.CompareAndSwap(budget, budget-1) {
			return true
		}
	}
}

// Split at the object median along the axis with the widest centroid spread.
func (b *swBuild) medianSplit(ws workSet) (left, right workSet) {
	centroids := types.EmptyBounds()
	for i := range ws.prims {
		centroids = centroids.ExtendPoint(ws.prims[i].Center())
	}
	axis := centroids.Size().MaxDimension()

	prims := ws.prims
	sort.Slice(prims, func(i, j int) bool {
		return prims[i].Center()[axis] < prims[j].Center()[axis]
	})
	mid := len(prims) / 2
	return workSet{prims[:mid], types.PrimitiveBounds(prims[:mid])},
		workSet{prims[mid:], types.PrimitiveBounds(prims[mid:])}
}

// Create a leaf and report progress.
func (b *swBuild) leaf(alloc *arena, prims []types.BuildPrimitive) unsafe.Pointer {
	ptr := b.d.CreateLeaf(alloc, prims)

	done := b.stats.leafPrims.Add(int64(len(prims)))
	fraction := float64(done) / float64(b.total)
	if fraction > 1 {
		fraction = 1
	}

	step := int64(fraction * 100)
	last := b.lastStep.Load()
	if step > last && b.lastStep.CompareAndSwap(last, step) {
		if !b.d.Progress(fraction) {
			b.stopped.Store(true)
		}
	}
	return ptr
}

func (b *swBuild) trackDepth(depth int) {
	for {
		cur := b.stats.maxDepth.Load()
		if int64(depth) <= cur || b.stats.maxDepth.CompareAndSwap(cur, int64(depth)) {
			return
		}
	}
}

func (b *swBuild) tryAcquireWorker() bool {
	select {
	case b.workers <- struct{}{}:
		return true
	default:
		return false
	}
}

func (b *swBuild) releaseWorker() {
	<-b.workers
}
