package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/anggasct/logicdriver/pkg/core"
	"github.com/anggasct/logicdriver/pkg/definition"
	"github.com/anggasct/logicdriver/pkg/network"
	"github.com/anggasct/logicdriver/pkg/observers"
	"github.com/anggasct/logicdriver/pkg/transport/memory"
)

type runOptions struct {
	machine   string
	ticks     int
	delta     float64
	allTrue   bool
	replicate bool
}

// simulation is the context object handed to callbacks.
type simulation struct {
	Tick int
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "simulate a machine for a number of ticks",
		Long: `
Runs the machine with every graph-evaluated transition and conduit bound to
a guard that always passes (--all-true) or never passes. Prints the active
states, the state history and per-transition counts when done.

With --replicate a server and an owning client are connected through an
in-process transport and the client's view is printed as well. Replication
settings are read from the LD_* environment variables.
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := root.logger()
			if err != nil {
				return err
			}
			return runSimulation(cmd.Context(), cmd.OutOrStdout(), log, args[0], opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.machine, "machine", "", "machine to run (default: the first one)")
	flags.IntVar(&opts.ticks, "ticks", 10, "number of updates")
	flags.Float64Var(&opts.delta, "delta", 0.1, "seconds per update")
	flags.BoolVar(&opts.allTrue, "all-true", false, "let every guarded transition pass")
	flags.BoolVar(&opts.replicate, "replicate", false, "mirror the run to a client over an in-process transport")
	return cmd
}

func runSimulation(ctx context.Context, out io.Writer, log *slog.Logger, path string, opts *runOptions) error {
	if opts.ticks < 0 || opts.delta < 0 {
		return fmt.Errorf("--ticks and --delta must not be negative")
	}
	lib, def, err := loadMachine(path, opts.machine)
	if err != nil {
		return err
	}
	if err := lib.Validate(); err != nil {
		return err
	}
	settings, err := core.LoadSettings()
	if err != nil {
		return err
	}

	rec := observers.NewRecordingObserver(0)
	metrics, err := observers.NewMetricsObserver(prometheus.NewRegistry())
	if err != nil {
		return err
	}
	validation := observers.NewValidationObserver()
	validation.ExpectDefinition(def)

	newInstance := func(obs ...core.Observer) *core.Instance {
		all := []core.Option{core.WithLibrary(lib), core.WithLogger(log), core.WithSettings(settings)}
		for _, o := range obs {
			all = append(all, core.WithObserver(o))
		}
		inst := core.NewInstance(def, all...)
		bindGuards(inst.Registry(), lib, opts.allTrue)
		return inst
	}
	inst := newInstance(rec, metrics, validation, observers.NewLoggingObserver(log, observers.LogInfo, "run"))
	sim := &simulation{}

	var replica *network.Component
	if opts.replicate {
		replica, err = runReplicated(ctx, log, inst, newInstance(), sim, opts)
	} else {
		err = runLocal(ctx, inst, sim, opts)
	}
	if err != nil {
		return err
	}

	report(out, inst, sim, rec, metrics, validation)
	if replica != nil {
		fmt.Fprintf(out, "replica: %s [%s]\n", strings.Join(activeNames(replica.Instance()), ", "), replica.SyncStatus())
	}
	return nil
}

func runLocal(ctx context.Context, inst *core.Instance, sim *simulation, opts *runOptions) error {
	if err := inst.Initialize(ctx, sim); err != nil {
		return err
	}
	if err := inst.Start(); err != nil {
		return err
	}
	for sim.Tick < opts.ticks && inst.HasStarted() {
		sim.Tick++
		inst.Update(opts.delta)
	}
	return nil
}

// runReplicated drives inst as the server and mirror as its owning
// client. The side with state change authority starts the machine.
func runReplicated(ctx context.Context, log *slog.Logger, inst, mirror *core.Instance, sim *simulation,
	opts *runOptions) (*network.Component, error) {
	settings, err := network.LoadSettings()
	if err != nil {
		return nil, err
	}
	hub := memory.NewTransport()
	defer hub.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	common := []network.Option{network.WithTransport(hub), network.WithSettings(settings), network.WithLogger(log)}
	server := network.NewComponent(inst, append(common, network.WithID("server"), network.WithOwningClient())...)
	client := network.NewComponent(mirror, append(common, network.WithID("client"),
		network.WithRole(network.RoleOwningClient))...)
	for _, c := range []*network.Component{server, client} {
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
	}

	if err := server.Initialize(ctx, sim); err != nil {
		return nil, err
	}
	if client.HasAuthorityToChangeStates() {
		server.HandleChannelOpen(client.ID(), true)
		if err := client.Initialize(ctx, sim); err != nil {
			return nil, err
		}
		server.Tick(0)
		client.ServerStart()
	} else {
		if err := client.Initialize(ctx, sim); err != nil {
			return nil, err
		}
		server.HandleChannelOpen(client.ID(), true)
		server.ServerStart()
	}

	for sim.Tick < opts.ticks {
		sim.Tick++
		server.Tick(opts.delta)
		client.Tick(opts.delta)
	}
	// One more exchange so the last changes reach the other side.
	server.Tick(0)
	client.Tick(0)
	return client, nil
}

// bindGuards registers a constant guard on every transition and conduit
// of the library.
func bindGuards(r *core.Registry, lib *definition.Library, pass bool) {
	guard := func(*core.EvalContext) bool { return pass }
	for _, name := range lib.Names() {
		def, err := lib.Get(name)
		if err != nil {
			continue
		}
		b := r.Bind(def)
		def.Walk(func(path []string, s *definition.State) {
			if s.KindOrDefault() == definition.KindConduit {
				b.Conduit(qualify(path, s.Name), core.ConduitCallbacks{CanEnter: guard})
			}
		}, func(path []string, t *definition.Transition) {
			b.Guard(qualify(path, t.Name), guard)
		})
	}
}

func report(out io.Writer, inst *core.Instance, sim *simulation, rec *observers.RecordingObserver,
	metrics *observers.MetricsObserver, validation *observers.ValidationObserver) {
	fmt.Fprintf(out, "machine: %s\n", inst.Name())
	fmt.Fprintf(out, "ticks: %d\n", sim.Tick)
	fmt.Fprintf(out, "started: %t\n", inst.HasStarted())
	fmt.Fprintf(out, "active: %s\n", strings.Join(activeNames(inst), ", "))

	var history []string
	for _, h := range inst.StateHistory() {
		history = append(history, h.Name)
	}
	fmt.Fprintf(out, "history: %s\n", strings.Join(history, " -> "))

	counts := metrics.GetTransitionCounts()
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintln(out, "transitions:")
	for _, name := range names {
		fmt.Fprintf(out, "  %s: %d\n", name, counts[name])
	}

	fmt.Fprintf(out, "events: %d\n", len(rec.Events()))
	if unvisited := validation.GetUnvisitedStates(); len(unvisited) > 0 {
		fmt.Fprintf(out, "unvisited: %s\n", strings.Join(unvisited, ", "))
	}
	for _, v := range validation.GetViolations() {
		fmt.Fprintf(out, "violation: %s\n", v)
	}
}

func activeNames(inst *core.Instance) []string {
	var names []string
	for _, s := range inst.GetAllActiveStates() {
		names = append(names, s.QualifiedName())
	}
	return names
}

func qualify(path []string, name string) string {
	if len(path) == 0 {
		return name
	}
	return strings.Join(path, ".") + "." + name
}
