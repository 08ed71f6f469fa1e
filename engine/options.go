package engine

import (
	"fmt"
	"time"

	"github.com/CrimsonAS/signalgraph/config"
	"github.com/CrimsonAS/signalgraph/counter"
)

// Mode selects how the edge table is driven.
type Mode int

const (
	// ModeSampling rescans the whole object graph on every tick.
	ModeSampling Mode = iota
	// ModeLive applies queued registry notifications on every tick.
	ModeLive
)

func (m Mode) String() string {
	switch m {
	case ModeSampling:
		return "sampling"
	case ModeLive:
		return "live"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode is the inverse of Mode.String.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "sampling":
		return ModeSampling, nil
	case "live":
		return ModeLive, nil
	default:
		return 0, fmt.Errorf("unknown mode %q", s)
	}
}

// Options configure an Engine.
type Options struct {
	Mode Mode
	// SamplingRate is in ticks per second, within (0, 100).
	SamplingRate float64
	// BufferSize is the edge count that BufferUsage reports as 100%.
	BufferSize int
	// LiveInterval is the live mode drain period.
	LiveInterval time.Duration
	// LivePolicy gates connections in live mode.
	LivePolicy Policy
	// Defaults are the gates of newly seen keys in every dimension.
	Defaults counter.Defaults
	// Metrics receives pass statistics. May be nil.
	Metrics *Metrics
}

// DefaultOptions returns the options matching config.Default.
func DefaultOptions() Options {
	opts, _ := OptionsFromConfig(config.Default().Engine)
	return opts
}

// OptionsFromConfig converts the engine section of a configuration file.
func OptionsFromConfig(c config.Engine) (Options, error) {
	mode, err := ParseMode(c.Mode)
	if err != nil {
		return Options{}, err
	}
	policy, err := ParseLivePolicy(c.LivePolicy)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Mode:         mode,
		SamplingRate: c.SamplingRate,
		BufferSize:   c.BufferSize,
		LiveInterval: c.LiveInterval,
		LivePolicy:   policy,
		Defaults: counter.Defaults{
			Recording: c.DefaultRecording,
			Visible:   c.DefaultVisible,
		},
	}, nil
}
