package app

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/riskwatch/riskwatch-backend/internal/locks"
)

type Phase string

const (
	PhaseGenerate Phase = "generate"
	PhaseFanout   Phase = "fanout"
	PhaseDigest   Phase = "digest"
	PhaseSend     Phase = "send"
)

// Phases in pipeline order, for the run-everything invocation.
var Phases = []Phase{PhaseGenerate, PhaseFanout, PhaseDigest, PhaseSend}

func phaseLockKey(p Phase) (locks.Key, error) {
	switch p {
	case PhaseGenerate:
		return locks.KeyPhaseGenerate, nil
	case PhaseFanout:
		return locks.KeyPhaseFanout, nil
	case PhaseDigest:
		return locks.KeyPhaseDigest, nil
	case PhaseSend:
		return locks.KeyPhaseSend, nil
	}
	return "", fmt.Errorf("unknown phase %q", p)
}

// RunPhase executes one phase under its advisory lock. A held lock is a
// silent no-op, not an error; any other worker already running the phase
// owns this cycle.
func (a *App) RunPhase(ctx context.Context, phase Phase) error {
	if !a.Cfg.PipelineEnabled {
		a.Log.Info("Pipeline disabled, skipping", "phase", phase)
		return nil
	}
	key, err := phaseLockKey(phase)
	if err != nil {
		return err
	}

	ran, err := a.Locks.WithLock(ctx, key, func(ctx context.Context) error {
		return a.runPhase(ctx, phase)
	})
	if err != nil {
		return fmt.Errorf("phase %s: %w", phase, err)
	}
	if !ran {
		a.Log.Info("Phase lock held elsewhere, skipping", "phase", phase)
	}
	return nil
}

func (a *App) runPhase(ctx context.Context, phase Phase) error {
	var (
		summary any
		err     error
	)
	switch phase {
	case PhaseGenerate:
		summary, err = a.Generator.Run(ctx)
	case PhaseFanout:
		summary, err = a.Fanout.Run(ctx)
	case PhaseDigest:
		summary, err = a.Batcher.Run(ctx)
	case PhaseSend:
		summary, err = a.Sender.Run(ctx)
	}
	if err != nil {
		return err
	}
	raw, _ := json.Marshal(summary)
	a.Log.Info("Phase run summary", "phase", phase, "summary", string(raw))
	return nil
}

// RunPhases executes the named phases in order, aborting on the first
// infrastructure failure.
func (a *App) RunPhases(ctx context.Context, phases []Phase) error {
	for _, p := range phases {
		if err := a.RunPhase(ctx, p); err != nil {
			return err
		}
	}
	return nil
}
