package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/attrsim/attrsim/sim"
	_ "github.com/attrsim/attrsim/sim/attrfunc"
	_ "github.com/attrsim/attrsim/sim/geo"
	_ "github.com/attrsim/attrsim/sim/numeric"
	"github.com/attrsim/attrsim/sim/store"
	_ "github.com/attrsim/attrsim/sim/text"
)

// brokerTimeout bounds each context broker request issued by the CLI.
const brokerTimeout = 30 * time.Second

type evalOptions struct {
	Config   *SimulationConfig
	Start    time.Time
	Duration time.Duration
	Step     time.Duration
}

// evalOptionsFromFlags loads the config named by --config, or wraps --spec
// into a one-attribute config, then applies flag overrides.
func evalOptionsFromFlags(cmd *cobra.Command) (evalOptions, error) {
	var opts evalOptions
	switch {
	case configPath != "" && specText != "":
		return opts, fmt.Errorf("%w: --config and --spec are mutually exclusive", sim.ErrSimulationConfigurationNotValid)
	case configPath != "":
		cfg, err := LoadConfig(configPath)
		if err != nil {
			return opts, err
		}
		opts.Config = cfg
	case specText != "":
		opts.Config = &SimulationConfig{Attributes: []AttributeConfig{{Entity: "cli", Name: "value", Value: specText}}}
	default:
		return opts, fmt.Errorf("%w: one of --config or --spec is required", sim.ErrSimulationConfigurationNotValid)
	}

	if token != "" {
		opts.Config.Token = token
	}
	if cmd.Flags().Changed("seed") || opts.Config.Seed == 0 {
		opts.Config.Seed = seed
	}
	if stateDB != "" {
		opts.Config.StateDB = stateDB
	}

	opts.Start = time.Now()
	if startAt != "" {
		t, err := time.Parse(time.RFC3339, startAt)
		if err != nil {
			return opts, fmt.Errorf("%w: --start: %v", sim.ErrSimulationConfigurationNotValid, err)
		}
		opts.Start = t
	}
	opts.Duration, opts.Step = duration, step
	return opts, nil
}

// attribute is a built interpolator, or a constant when ip is nil.
type attribute struct {
	key      string
	ip       sim.Interpolator
	constant string
}

// runEval builds one interpolator per attribute and writes one line per
// attribute and tick: the tick instant, the attribute key and the value as
// JSON.
func runEval(ctx context.Context, w io.Writer, opts evalOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return err
	}
	if opts.Step <= 0 || opts.Duration < 0 {
		return fmt.Errorf("%w: step must be positive and duration non-negative", sim.ErrSimulationConfigurationNotValid)
	}

	globals := store.New()
	if cfg.StateDB != "" {
		db, err := store.OpenSQLite(cfg.StateDB)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := globals.Load(ctx, db); err != nil {
			return err
		}
		logrus.Infof("Loaded %d global variables from %s", globals.Len(), cfg.StateDB)
		defer func() {
			if err := globals.Save(context.Background(), db); err != nil {
				logrus.Errorf("saving global variables: %v", err)
			}
		}()
	}

	current := opts.Start
	clock := func() time.Time { return current }
	rng := sim.NewPartitionedRNG(sim.NewSimulationKey(cfg.Seed))
	httpClient := &http.Client{Timeout: brokerTimeout}

	attrs := make([]attribute, 0, len(cfg.Attributes))
	for _, a := range cfg.Attributes {
		spec, ok, err := a.Spec()
		if err != nil {
			return fmt.Errorf("attribute %s: %w", a.Key(), err)
		}
		if !ok {
			attrs = append(attrs, attribute{key: a.Key(), constant: a.Value})
			continue
		}
		entity := a.Entity
		if a.EntityType != "" {
			entity += ":" + a.EntityType
		}
		ip, err := sim.NewInterpolator(spec, sim.Deps{
			Attribute:  a.Key(),
			Globals:    globals,
			Broker:     cfg.ContextBroker,
			Domain:     cfg.Domain,
			HTTPClient: httpClient,
			RNG:        rng.ForSubsystem(sim.SubsystemAttribute(entity, a.Name)),
			Now:        clock,
		})
		if err != nil {
			return fmt.Errorf("attribute %s: %w", a.Key(), err)
		}
		attrs = append(attrs, attribute{key: a.Key(), ip: ip})
	}

	started := time.Now()
	var values, ticks int64
	for elapsed := time.Duration(0); elapsed <= opts.Duration; elapsed += opts.Step {
		current = opts.Start.Add(elapsed)
		tick := sim.Tick{At: current, Elapsed: elapsed.Seconds(), Token: cfg.Token}
		for _, a := range attrs {
			var v any = a.constant
			if a.ip != nil {
				var err error
				if v, err = a.ip.Interpolate(ctx, tick); err != nil {
					return fmt.Errorf("attribute %s at %s: %w", a.key, current.UTC().Format(time.RFC3339), err)
				}
			}
			b, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("attribute %s: encoding value: %w", a.key, err)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", current.UTC().Format(time.RFC3339), a.key, b)
			values++
		}
		ticks++
	}
	logrus.Infof("Evaluated %s values for %s attributes over %s ticks in %s",
		humanize.Comma(values), humanize.Comma(int64(len(attrs))), humanize.Comma(ticks), time.Since(started))
	return nil
}
