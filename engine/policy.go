package engine

import "fmt"

// Gates are the recording gates that apply to one connection: its type,
// and its sender's thread, class and object.
type Gates struct {
	Type   bool
	Thread bool
	Class  bool
	Object bool
}

// Policy decides from a connection's gates whether it is tracked as an
// edge. It is the single place where gate combination is defined.
type Policy struct {
	Name   string
	Accept func(g Gates) bool
}

var (
	// SamplingPolicy tracks a connection when any of its gates records.
	SamplingPolicy = Policy{
		Name: "sampling",
		Accept: func(g Gates) bool {
			return g.Thread || g.Class || g.Object || g.Type
		},
	}

	// ObservedLivePolicy is the rule live mode has always applied: the
	// type and thread must record and the class must not. The inverted
	// class gate is kept until the intended behaviour is confirmed.
	ObservedLivePolicy = Policy{
		Name: "observed",
		Accept: func(g Gates) bool {
			return g.Type && g.Thread && !g.Class
		},
	}

	// SymmetricLivePolicy applies the sampling rule in live mode.
	SymmetricLivePolicy = Policy{
		Name:   "symmetric",
		Accept: SamplingPolicy.Accept,
	}
)

// ParseLivePolicy returns the live mode policy called name.
func ParseLivePolicy(name string) (Policy, error) {
	switch name {
	case "", ObservedLivePolicy.Name:
		return ObservedLivePolicy, nil
	case SymmetricLivePolicy.Name:
		return SymmetricLivePolicy, nil
	default:
		return Policy{}, fmt.Errorf("unknown live policy %q", name)
	}
}
