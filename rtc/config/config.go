package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrUnknownKey   = errors.New("config: unknown key")
	ErrInvalidValue = errors.New("config: invalid value")
)

// Highest supported verbosity level.
const MaxVerbose = 3

// ISA selects an instruction set.
type ISA string

// Supported instruction sets. The empty ISA lets the device decide.
const (
	ISADefault ISA = ""
	ISASSE2    ISA = "sse2"
	ISASSE42   ISA = "sse4.2"
	ISAAVX     ISA = "avx"
	ISAAVX2    ISA = "avx2"
	ISAAVX512  ISA = "avx512"
)

var isas = []ISA{ISASSE2, ISASSE42, ISAAVX, ISAAVX2, ISAAVX512}

// Parse an ISA name.
func ParseISA(name string) (ISA, error) {
	for _, isa := range isas {
		if string(isa) == name {
			return isa, nil
		}
	}
	if name == "" {
		return ISADefault, nil
	}
	return ISADefault, fmt.Errorf("%w: unknown isa %q", ErrInvalidValue, name)
}

// FrequencyLevel selects the widest vector width the device may use
// without lowering the CPU clock.
type FrequencyLevel string

// Supported frequency levels. The empty level is reported as SIMD512.
const (
	FrequencySIMD128 FrequencyLevel = "simd128"
	FrequencySIMD256 FrequencyLevel = "simd256"
	FrequencySIMD512 FrequencyLevel = "simd512"
)

// Parse a frequency level name.
func ParseFrequencyLevel(name string) (FrequencyLevel, error) {
	switch FrequencyLevel(name) {
	case FrequencySIMD128, FrequencySIMD256, FrequencySIMD512:
		return FrequencyLevel(name), nil
	case "":
		return FrequencySIMD512, nil
	}
	return "", fmt.Errorf("%w: unknown frequency level %q", ErrInvalidValue, name)
}

// Device is the configuration a device is created with.
type Device struct {
	// Number of build threads; 0 uses every hardware thread.
	Threads uint32

	// Number of user threads that may join commits.
	UserThreads uint32

	// Pin build threads to hardware threads.
	SetAffinity bool

	// Start the build threads when the device is created instead of on the
	// first build.
	StartThreads bool

	ISA    ISA
	MaxISA ISA

	HugePages                   bool
	EnableSeLockMemoryPrivilege bool

	// Verbosity in [0, MaxVerbose]; larger values are clamped.
	Verbose uint32

	FrequencyLevel FrequencyLevel
}

// Check if the configuration has no fields set.
func (d Device) IsZero() bool {
	return d == Device{}
}

// Get the configuration string understood by the native device. The zero
// configuration yields an empty string.
func (d Device) String() string {
	if d.IsZero() {
		return ""
	}

	verbose := d.Verbose
	if verbose > MaxVerbose {
		verbose = MaxVerbose
	}
	freq := d.FrequencyLevel
	if freq == "" {
		freq = FrequencySIMD512
	}

	fields := []string{
		"threads=" + strconv.FormatUint(uint64(d.Threads), 10),
		"user_threads=" + strconv.FormatUint(uint64(d.UserThreads), 10),
		"set_affinity=" + formatBool(d.SetAffinity),
		"start_threads=" + formatBool(d.StartThreads),
	}
	if d.ISA != ISADefault {
		fields = append(fields, "isa="+string(d.ISA))
	}
	if d.MaxISA != ISADefault {
		fields = append(fields, "max_isa="+string(d.MaxISA))
	}
	fields = append(fields,
		"hugepages="+formatBool(d.HugePages),
		"enable_selockmemoryprivilege="+formatBool(d.EnableSeLockMemoryPrivilege),
		"verbose="+strconv.FormatUint(uint64(verbose), 10),
		"frequency_level="+string(freq),
	)
	return strings.Join(fields, ",")
}

// Parse a configuration string in the format produced by String.
func Parse(s string) (Device, error) {
	var d Device
	s = strings.TrimSpace(s)
	if s == "" {
		return d, nil
	}

	for _, field := range strings.Split(s, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(field), "=")
		if !found {
			return Device{}, fmt.Errorf("%w: expected key=value; got %q", ErrInvalidValue, field)
		}

		var err error
		switch key {
		case "threads":
			d.Threads, err = parseUint(key, value)
		case "user_threads":
			d.UserThreads, err = parseUint(key, value)
		case "set_affinity":
			d.SetAffinity, err = parseBool(key, value)
		case "start_threads":
			d.StartThreads, err = parseBool(key, value)
		case "isa":
			d.ISA, err = ParseISA(value)
		case "max_isa":
			d.MaxISA, err = ParseISA(value)
		case "hugepages":
			d.HugePages, err = parseBool(key, value)
		case "enable_selockmemoryprivilege":
			d.EnableSeLockMemoryPrivilege, err = parseBool(key, value)
		case "verbose":
			d.Verbose, err = parseVerbose(value)
		case "frequency_level":
			d.FrequencyLevel, err = ParseFrequencyLevel(value)
		default:
			err = fmt.Errorf("%w: %q", ErrUnknownKey, key)
		}
		if err != nil {
			return Device{}, err
		}
	}
	return d, nil
}

// Parse a verbosity level clamped to [0, MaxVerbose].
func parseVerbose(value string) (uint32, error) {
	level, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: verbose=%q", ErrInvalidValue, value)
	}
	switch {
	case level < 0:
		return 0, nil
	case level > MaxVerbose:
		return MaxVerbose, nil
	}
	return uint32(level), nil
}

func formatBool(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func parseBool(key, value string) (bool, error) {
	switch value {
	case "1", "true":
		return true, nil
	case "0", "false":
		return false, nil
	}
	return false, fmt.Errorf("%w: %s=%q", ErrInvalidValue, key, value)
}

func parseUint(key, value string) (uint32, error) {
	v, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalidValue, key, value)
	}
	return uint32(v), nil
}
