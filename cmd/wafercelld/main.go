// Command wafercelld runs one CMP wafer cell: the transfer dispatcher, the
// journey orchestrator, and the HTTP control plane, wired together per the
// resolved configuration.
package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/brightforge/wafercell/internal/api"
	"github.com/brightforge/wafercell/internal/config"
	"github.com/brightforge/wafercell/internal/dispatch"
	"github.com/brightforge/wafercell/internal/journey"
	"github.com/brightforge/wafercell/internal/model"
	"github.com/brightforge/wafercell/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional; defaults apply if omitted)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		os.Stderr.WriteString("wafercelld: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := telemetry.New(cfg.Log.Level)
	registry := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(registry)

	policy := buildPolicy(cfg.Dispatch)
	d := dispatch.New(policy, cfg.Dispatch.BypassBound, metrics, log)
	defer d.Stop()

	j := journey.New(d, buildStationHandles(log), nil, metrics, log)

	srv := api.New(d, j, registry, log)

	log.Infof("listening on %s", cfg.HTTP.Listen)
	go func() {
		if err := http.ListenAndServe(cfg.HTTP.Listen, srv); err != nil {
			log.Errorf("http server exited: %v", err)
		}
	}()

	<-interrupt()
	log.Infof("shutting down")
}

func buildPolicy(cfg config.DispatchConfig) dispatch.Policy {
	switch cfg.Policy {
	case "poll":
		return dispatch.NewPollPolicy(cfg.PollIntervalDuration())
	case "broadcast":
		return dispatch.NewBroadcastPolicy()
	case "pheromone":
		p := cfg.Pheromone
		return dispatch.NewPheromonePolicy(dispatch.PheromoneConfig{
			Alpha:             p.Alpha,
			Beta:              p.Beta,
			EvaporationRate:   p.EvaporationRate,
			EvaporationPeriod: p.EvaporationPeriodDuration(),
			TauMin:            p.TauMin,
			TauMax:            p.TauMax,
			Delta0:            p.Delta0,
		})
	case "batch":
		return dispatch.NewBatchPolicy()
	default:
		return dispatch.NewImmediatePolicy()
	}
}

func buildStationHandles(log *telemetry.Logger) map[model.StationName]model.StationHandle {
	names := []model.StationName{model.Carrier, model.Polisher, model.Cleaner, model.Buffer}
	handles := make(map[model.StationName]model.StationHandle, len(names))
	for _, name := range names {
		handles[name] = api.NewLoggingStationHandle(name, log)
	}
	return handles
}

func interrupt() chan os.Signal {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	return c
}
