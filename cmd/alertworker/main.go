package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/riskwatch/riskwatch-backend/internal/app"
	"github.com/riskwatch/riskwatch-backend/internal/pkg/envutil"
	"github.com/riskwatch/riskwatch-backend/internal/pkg/logger"
)

// The worker runs one pipeline pass and exits; an external scheduler (cron,
// k8s CronJob) provides cadence. Arguments name the phases to run, in
// order. No arguments means the full pipeline.
func main() {
	log, err := logger.New(envutil.String("LOG_MODE", "production"))
	if err != nil {
		os.Exit(1)
	}
	defer log.Sync()

	phases, err := parsePhases(os.Args[1:])
	if err != nil {
		log.Fatal("Bad phase argument", "error", err.Error())
	}

	a, err := app.New(log)
	if err != nil {
		log.Fatal("Startup failed", "error", err.Error())
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.RunPhases(ctx, phases); err != nil {
		log.Fatal("Pipeline run failed", "error", err.Error())
	}
}

func parsePhases(args []string) ([]app.Phase, error) {
	if len(args) == 0 {
		return app.Phases, nil
	}
	out := make([]app.Phase, 0, len(args))
	for _, raw := range args {
		p := app.Phase(strings.ToLower(strings.TrimSpace(raw)))
		switch p {
		case app.PhaseGenerate, app.PhaseFanout, app.PhaseDigest, app.PhaseSend:
			out = append(out, p)
		default:
			return nil, errUnknownPhase(raw)
		}
	}
	return out, nil
}

type errUnknownPhase string

func (e errUnknownPhase) Error() string {
	return "unknown phase " + string(e) + " (want generate, fanout, digest, send)"
}
