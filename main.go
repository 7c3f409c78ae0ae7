package main

import (
	"fmt"
	"os"

	"github.com/achilleasa/go-rtcore/cmd"
	"github.com/urfave/cli"
)

func main() {
	cli.VersionFlag = cli.BoolFlag{
		Name:  "version",
		Usage: "print only the version",
	}

	app := cli.NewApp()
	app.Name = "go-rtcore"
	app.Usage = "inspect ray tracing devices and build bounding volume hierarchies"
	app.Version = "0.0.1"
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "v",
			Usage: "enable verbose logging",
		},
		cli.BoolFlag{
			Name:  "vv",
			Usage: "enable even more verbose logging",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:   "device-info",
			Usage:  "create a device and list its properties",
			Flags:  cmd.DeviceFlags,
			Action: cmd.DeviceInfo,
		},
		{
			Name:  "config",
			Usage: "print the device configuration string for the given flags",
			Description: `
Map the device flags to the comma separated configuration string that is
passed to the native library when a device is created.`,
			Flags:  cmd.DeviceFlags,
			Action: cmd.PrintConfig,
		},
		{
			Name:  "build-bvh",
			Usage: "build a BVH over random boxes and print tree statistics",
			Description: `
Generate unit boxes at random positions inside a 1000^3 cube, build a BVH
either with the native builder or with the software kernel and verify that
the bounds of the produced tree match the bounds of the input.`,
			Flags: append([]cli.Flag{
				cli.IntFlag{
					Name:  "count",
					Value: 100000,
					Usage: "number of boxes",
				},
				cli.StringFlag{
					Name:  "quality",
					Value: "medium",
					Usage: "build quality (low, medium, high, refit)",
				},
				cli.IntFlag{
					Name:  "branching",
					Value: 2,
					Usage: "max children per inner node (2-8)",
				},
				cli.IntFlag{
					Name:  "max-leaf-size",
					Value: 8,
					Usage: "max primitives per leaf",
				},
				cli.Int64Flag{
					Name:  "seed",
					Value: 1,
					Usage: "random generator seed",
				},
				cli.BoolFlag{
					Name:  "software",
					Usage: "use the software kernel instead of the native builder",
				},
			}, cmd.DeviceFlags...),
			Action: cmd.BuildBVH,
		},
		{
			Name:  "raycast",
			Usage: "trace primary rays against a mesh and save a depth image",
			Description: `
Load the triangle meshes of a wavefront obj file, attach them to a scene and
trace one ray per pixel from a camera that frames the scene bounds.`,
			ArgsUsage: "mesh_file.obj",
			Flags: append([]cli.Flag{
				cli.IntFlag{
					Name:  "width",
					Value: 512,
					Usage: "frame width",
				},
				cli.IntFlag{
					Name:  "height",
					Value: 512,
					Usage: "frame height",
				},
				cli.StringFlag{
					Name:  "out, o",
					Value: "depth.png",
					Usage: "image filename for the depth frame",
				},
			}, cmd.DeviceFlags...),
			Action: cmd.Raycast,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}
