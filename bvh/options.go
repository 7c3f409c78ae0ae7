package bvh

import "fmt"

type Quality uint32

// Build qualities. Values match the native enumeration.
const (
	QualityLow Quality = iota
	QualityMedium
	QualityHigh
	QualityRefit
)

func (q Quality) String() string {
	switch q {
	case QualityLow:
		return "low"
	case QualityMedium:
		return "medium"
	case QualityHigh:
		return "high"
	case QualityRefit:
		return "refit"
	}
	return fmt.Sprintf("quality(%d)", uint32(q))
}

// Parse a quality name as accepted by the CLI.
func ParseQuality(name string) (Quality, error) {
	for q := QualityLow; q <= QualityRefit; q++ {
		if q.String() == name {
			return q, nil
		}
	}
	return QualityMedium, fmt.Errorf("bvh: unknown build quality %q", name)
}

type Flags uint32

// Build flags. Values match the native enumeration.
const (
	FlagNone    Flags = 0
	FlagDynamic Flags = 1 << 0
)

// Options control the tree shape produced by a build.
type Options struct {
	Quality Quality
	Flags   Flags

	// Max children per inner node.
	MaxBranchingFactor uint32

	// Max tree depth.
	MaxDepth uint32

	// Primitive count granularity used by the SAH cost model.
	SAHBlockSize uint32

	// Primitives per leaf.
	MinLeafSize uint32
	MaxLeafSize uint32

	// Cost model weights.
	TraversalCost    float32
	IntersectionCost float32
}

// Get the default options of the native builder.
func DefaultOptions() Options {
	return Options{
		Quality:            QualityMedium,
		Flags:              FlagNone,
		MaxBranchingFactor: 2,
		MaxDepth:           32,
		SAHBlockSize:       1,
		MinLeafSize:        1,
		MaxLeafSize:        32,
		TraversalCost:      1.0,
		IntersectionCost:   1.0,
	}
}

// Get the number of staging slots required for building count primitives.
// High quality builds split primitives in place and need twice the space.
func StagingCapacity(q Quality, count int) int {
	if q == QualityHigh {
		return 2 * count
	}
	return count
}
