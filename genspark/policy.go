package genspark

import (
	"context"
	"fmt"
)

// Strategy selects how ambiguous and conflicting paths are resolved.
type Strategy int

const (
	// StrategyLocal treats the local tree as ground truth.
	StrategyLocal Strategy = iota

	// StrategyRemote treats the drive as ground truth.
	StrategyRemote

	// StrategyAsk defers every ambiguous path to a Prompter.
	StrategyAsk
)

func (s Strategy) String() string {
	switch s {
	case StrategyLocal:
		return "local"
	case StrategyRemote:
		return "remote"
	case StrategyAsk:
		return "ask"
	default:
		return "unknown"
	}
}

// ParseStrategy maps a config value onto a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "", "local":
		return StrategyLocal, nil
	case "remote":
		return StrategyRemote, nil
	case "ask":
		return StrategyAsk, nil
	default:
		return 0, fmt.Errorf("unknown sync strategy %q", s)
	}
}

// Decision is the action the orchestrator takes for one path.
type Decision int

const (
	// DecisionNone leaves the path alone.
	DecisionNone Decision = iota

	// DecisionAdopt records a baseline for a path that already matches on
	// both sides, without transferring anything.
	DecisionAdopt

	// DecisionPush uploads the local copy, replacing any remote copy.
	DecisionPush

	// DecisionPull downloads the remote copy, replacing any local copy.
	DecisionPull

	// DecisionDeleteRemote removes the remote copy and the record.
	DecisionDeleteRemote

	// DecisionDeleteLocal removes the local copy and the record.
	DecisionDeleteLocal

	// DecisionForget drops a record whose path is gone from both sides.
	DecisionForget

	// DecisionSkip leaves the path and its record untouched so it is
	// evaluated again next cycle.
	DecisionSkip
)

var decisionNames = map[Decision]string{
	DecisionNone:         "none",
	DecisionAdopt:        "adopt",
	DecisionPush:         "push",
	DecisionPull:         "pull",
	DecisionDeleteRemote: "delete-remote",
	DecisionDeleteLocal:  "delete-local",
	DecisionForget:       "forget",
	DecisionSkip:         "skip",
}

func (d Decision) String() string {
	if s, ok := decisionNames[d]; ok {
		return s
	}
	return "unknown"
}

// Prompt describes an ambiguous path to an interactive resolver. Sides the
// path is absent on have Exists false.
type Prompt struct {
	Path string
	Kind Kind

	LocalExists bool
	LocalSize   int64
	LocalMTime  float64

	RemoteExists bool
	RemoteSize   int64
	RemoteMTime  float64
}

// Prompter resolves one ambiguous path. It must return one of Pull, Push,
// DeleteRemote, DeleteLocal or Skip.
type Prompter func(ctx context.Context, p Prompt) Decision

// Policy maps classified actions to decisions. Apart from the injected
// Prompter it does no I/O.
type Policy struct {
	Strategy Strategy
	Prompter Prompter
}

// Decide returns the decision for a.
func (p Policy) Decide(ctx context.Context, a Action) Decision {
	// Unambiguous cases follow the side that changed, whatever the strategy.
	switch a.Kind {
	case KindUnchanged:
		if a.Record == nil {
			return DecisionAdopt
		}
		return DecisionNone
	case KindModifiedLocal:
		return DecisionPush
	case KindModifiedRemote:
		return DecisionPull
	case KindOrphaned:
		return DecisionForget
	}

	switch p.Strategy {
	case StrategyLocal:
		switch a.Kind {
		case KindNewRemote, KindDeletedLocal:
			return DecisionDeleteRemote
		case KindNewLocal, KindDeletedRemote, KindConflict:
			return DecisionPush
		}
	case StrategyRemote:
		switch a.Kind {
		case KindNewRemote, KindDeletedLocal, KindConflict:
			return DecisionPull
		case KindNewLocal, KindDeletedRemote:
			return DecisionDeleteLocal
		}
	case StrategyAsk:
		return p.ask(ctx, a)
	}

	return DecisionSkip
}

func (p Policy) ask(ctx context.Context, a Action) Decision {
	if p.Prompter == nil {
		return DecisionSkip
	}

	pr := Prompt{Path: a.Path, Kind: a.Kind}
	if a.Local != nil {
		pr.LocalExists = true
		pr.LocalSize = a.Local.Size
		pr.LocalMTime = a.Local.ModifiedTime
	}
	if a.Remote != nil {
		pr.RemoteExists = true
		pr.RemoteSize = a.Remote.Size
		pr.RemoteMTime = a.Remote.ModifiedTime
	}

	d := p.Prompter(ctx, pr)

	// Choices that need a side the path does not have are downgraded.
	switch d {
	case DecisionPull, DecisionDeleteRemote:
		if a.Remote == nil {
			return DecisionSkip
		}
		return d
	case DecisionPush, DecisionDeleteLocal:
		if a.Local == nil {
			return DecisionSkip
		}
		return d
	default:
		return DecisionSkip
	}
}
