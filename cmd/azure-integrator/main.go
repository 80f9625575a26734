// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Command azure-integrator is the hook entry point for the Azure
// integrator charm. The charm's hooks are symlinks to (or thin shims
// around) this binary; it reads the hook name from the environment,
// talks to Juju through the hook tools and to Azure through the az
// CLI, and keeps its state in the unit's local state database.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo"

	"github.com/juju/azure-integrator/internal/azurecli"
	"github.com/juju/azure-integrator/internal/endpoint"
	"github.com/juju/azure-integrator/internal/hookenv"
	"github.com/juju/azure-integrator/internal/integrator"
	"github.com/juju/azure-integrator/internal/reactive"
	"github.com/juju/azure-integrator/internal/unitdata"
)

var logger = loggo.GetLogger("azure-integrator")

func main() {
	os.Exit(Main(os.Args))
}

// Main runs one hook invocation and returns the process exit code.
func Main(args []string) int {
	f := gnuflag.NewFlagSet(args[0], gnuflag.ContinueOnError)
	var hook string
	var debug bool
	f.StringVar(&hook, "hook", "", "hook to run (defaults to $JUJU_HOOK_NAME)")
	f.BoolVar(&debug, "debug", false, "enable debug logging")
	if err := f.Parse(true, args[1:]); err != nil {
		if err == gnuflag.ErrHelp {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if hook == "" {
		hook = hookenv.HookName()
	}
	if hook == "" && f.NArg() > 0 {
		hook = f.Arg(0)
	}
	if hook == "" {
		fmt.Fprintln(os.Stderr, "no hook to run; pass --hook or set JUJU_HOOK_NAME")
		return 2
	}

	// The az CLI keeps its session under $HOME. Hooks normally run as
	// root but debug-hooks sessions may not be, so pin it.
	_ = os.Setenv("HOME", "/root")

	tools := hookenv.NewTools(nil)
	if _, err := loggo.ReplaceDefaultWriter(hookenv.NewLogWriter(tools)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if debug {
		logger.SetLogLevel(loggo.DEBUG)
	}

	if err := runHook(context.Background(), tools, hook); err != nil {
		logger.Errorf("hook %q failed: %v", hook, errors.ErrorStack(err))
		return 1
	}
	return 0
}

func runHook(ctx context.Context, tools *hookenv.Tools, hook string) error {
	store, err := unitdata.Open(unitdata.DefaultPath())
	if err != nil {
		return errors.Trace(err)
	}
	defer store.Close()

	unitName := hookenv.UnitName()
	clients := endpoint.NewClients(tools, unitName)
	lbConsumers := endpoint.NewLBConsumers(tools, unitName)
	integ := integrator.New(integrator.Params{
		CLI:      azurecli.New(nil),
		Tools:    tools,
		Store:    store,
		Clients:  clients,
		RolesDir: filepath.Join(hookenv.CharmDir(), "files", "roles"),
	})
	dispatcher := NewDispatcher(integ, reactive.NewFlags(store), tools, store, clients, lbConsumers)
	return errors.Trace(dispatcher.Dispatch(ctx, hook))
}
