package cmd

import (
	"bytes"
	"flag"
	"math/rand"
	"testing"

	"github.com/achilleasa/go-rtcore/bvh"
	"github.com/achilleasa/go-rtcore/rtc/config"
	"github.com/achilleasa/go-rtcore/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli"
)

// Create a cli context with the device flags parsed from args.
func deviceContext(t *testing.T, args ...string) (*cli.Context, *bytes.Buffer) {
	var out bytes.Buffer
	app := cli.NewApp()
	app.Writer = &out

	set := flag.NewFlagSet("test", flag.ContinueOnError)
	for _, f := range DeviceFlags {
		f.Apply(set)
	}
	require.NoError(t, set.Parse(args))
	return cli.NewContext(app, set, nil), &out
}

func TestDeviceConfigFromFlags(t *testing.T) {
	ctx, _ := deviceContext(t,
		"--threads", "32", "--user-threads", "32", "--set-affinity",
		"--isa", "avx", "--max-isa", "avx512", "--device-verbose", "7",
	)
	cfg, err := deviceConfig(ctx)
	require.NoError(t, err)

	assert.Equal(t, config.Device{
		Threads:     32,
		UserThreads: 32,
		SetAffinity: true,
		ISA:         config.ISAAVX,
		MaxISA:      config.ISAAVX512,
		Verbose:     7,
	}, cfg)
	assert.Equal(t,
		"threads=32,user_threads=32,set_affinity=1,start_threads=0,isa=avx,max_isa=avx512,hugepages=0,enable_selockmemoryprivilege=0,verbose=3,frequency_level=simd512",
		cfg.String(),
	)
}

func TestDeviceConfigDefaults(t *testing.T) {
	ctx, out := deviceContext(t)
	cfg, err := deviceConfig(ctx)
	require.NoError(t, err)
	assert.True(t, cfg.IsZero())

	require.NoError(t, PrintConfig(ctx))
	assert.Equal(t, "\n", out.String())
}

func TestDeviceConfigRejectsBadValues(t *testing.T) {
	ctx, _ := deviceContext(t, "--isa", "mmx")
	_, err := deviceConfig(ctx)
	assert.ErrorIs(t, err, config.ErrInvalidValue)

	ctx, _ = deviceContext(t, "--frequency-level", "simd64")
	_, err = deviceConfig(ctx)
	assert.ErrorIs(t, err, config.ErrInvalidValue)
}

func TestSoftwareTreeWalk(t *testing.T) {
	prims := randomBoxes(rand.New(rand.NewSource(3)), 5000)
	exp := types.PrimitiveBounds(prims)

	builder := bvh.NewBuilder(bvh.NewSoftwareKernel(), treeCallbacks())
	defer builder.Release()

	opts := bvh.DefaultOptions()
	opts.MaxBranchingFactor = 4
	opts.MaxLeafSize = 4
	require.NoError(t, builder.SetOptions(opts))
	require.NoError(t, builder.SetPrimitives(prims))

	root, err := builder.Build()
	require.NoError(t, err)
	require.NotNil(t, root)

	bounds, depth, leafPrims := walkTree((*treeHeader)(root), 1)
	assert.True(t, bounds.ApproxEqual(exp, 1e-4), "expected %+v; got %+v", exp, bounds)
	assert.Greater(t, depth, 1)
	assert.Equal(t, len(prims), leafPrims)
}
