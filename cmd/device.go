package cmd

import (
	"bytes"
	"fmt"

	"github.com/achilleasa/go-rtcore/rtc"
	"github.com/achilleasa/go-rtcore/rtc/config"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"
)

// Flags shared by every command that creates a device.
var DeviceFlags = []cli.Flag{
	cli.UintFlag{
		Name:  "threads",
		Usage: "number of build threads; 0 uses all hardware threads",
	},
	cli.UintFlag{
		Name:  "user-threads",
		Usage: "number of user threads that may join commits",
	},
	cli.BoolFlag{
		Name:  "set-affinity",
		Usage: "pin build threads to hardware threads",
	},
	cli.BoolFlag{
		Name:  "start-threads",
		Usage: "start build threads when the device is created",
	},
	cli.StringFlag{
		Name:  "isa",
		Usage: "instruction set (sse2, sse4.2, avx, avx2, avx512)",
	},
	cli.StringFlag{
		Name:  "max-isa",
		Usage: "highest instruction set the device may select",
	},
	cli.BoolFlag{
		Name:  "hugepages",
		Usage: "use huge pages for internal allocations",
	},
	cli.UintFlag{
		Name:  "device-verbose",
		Usage: "native library verbosity (0-3)",
	},
	cli.StringFlag{
		Name:  "frequency-level",
		Usage: "widest vector width that keeps the cpu clock (simd128, simd256, simd512)",
	},
}

// Map the device flags to a device configuration.
func deviceConfig(ctx *cli.Context) (config.Device, error) {
	cfg := config.Device{
		Threads:      uint32(ctx.Uint("threads")),
		UserThreads:  uint32(ctx.Uint("user-threads")),
		SetAffinity:  ctx.Bool("set-affinity"),
		StartThreads: ctx.Bool("start-threads"),
		HugePages:    ctx.Bool("hugepages"),
		Verbose:      uint32(ctx.Uint("device-verbose")),
	}

	var err error
	if cfg.ISA, err = config.ParseISA(ctx.String("isa")); err != nil {
		return cfg, err
	}
	if cfg.MaxISA, err = config.ParseISA(ctx.String("max-isa")); err != nil {
		return cfg, err
	}
	if level := ctx.String("frequency-level"); level != "" {
		if cfg.FrequencyLevel, err = config.ParseFrequencyLevel(level); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// Create a device from the command flags.
func openDevice(ctx *cli.Context) (*rtc.Device, error) {
	cfg, err := deviceConfig(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.IsZero() {
		logger.Info("creating device with default configuration")
	} else {
		logger.Infof("creating device with configuration %q", cfg.String())
	}
	return rtc.NewDevice(cfg)
}

// Print the configuration string built from the command flags.
func PrintConfig(ctx *cli.Context) error {
	setupLogging(ctx)

	cfg, err := deviceConfig(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(ctx.App.Writer, cfg.String())
	return nil
}

// Create a device and list its properties.
func DeviceInfo(ctx *cli.Context) error {
	setupLogging(ctx)

	dev, err := openDevice(ctx)
	if err != nil {
		return err
	}
	defer dev.Release()

	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Property", "Value"})
	for _, prop := range rtc.Properties {
		val, err := dev.Property(prop)
		if err != nil {
			table.Append([]string{prop.String(), fmt.Sprintf("error: %s", err)})
			continue
		}
		table.Append([]string{prop.String(), fmt.Sprintf("%d", val)})
	}
	table.Render()

	logger.Noticef("device properties\n%s", buf.String())
	return nil
}
