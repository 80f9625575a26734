// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package hookenv is the charm's client side of the Juju hook tools:
// config-get, credential-get, status-set, juju-log and the relation
// tools. Each call execs the corresponding tool and parses its YAML
// output.
package hookenv

import (
	"os"
	"regexp"
	"strings"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/utils/v4"
	"github.com/juju/utils/v4/exec"
)

// CommandRunner runs hook tool invocations; tests substitute canned
// responses.
type CommandRunner interface {
	RunCommands(run exec.RunParams) (*exec.ExecResponse, error)
}

type defaultRunner struct {
	clock clock.Clock
}

func (r defaultRunner) RunCommands(run exec.RunParams) (*exec.ExecResponse, error) {
	if run.Clock == nil {
		run.Clock = r.clock
	}
	return exec.RunCommands(run)
}

// Tools provides access to the hook tools of the running hook context.
type Tools struct {
	runner CommandRunner
}

// NewTools returns a Tools using the given runner, or the real hook
// tools when runner is nil.
func NewTools(runner CommandRunner) *Tools {
	if runner == nil {
		runner = defaultRunner{clock: clock.WallClock}
	}
	return &Tools{runner: runner}
}

var safeArg = regexp.MustCompile(`^[a-zA-Z0-9@%+=:,./_-]+$`)

func quoteArg(arg string) string {
	if safeArg.MatchString(arg) {
		return arg
	}
	return utils.ShQuote(arg)
}

// run execs a hook tool and returns its trimmed stdout. The error
// satisfies errors.IsNotSupported when the tool is not on the PATH,
// which is how older controllers present missing features.
func (t *Tools) run(tool string, args ...string) (string, error) {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, tool)
	for _, arg := range args {
		parts = append(parts, quoteArg(arg))
	}
	resp, err := t.runner.RunCommands(exec.RunParams{
		Commands: strings.Join(parts, " "),
	})
	if err != nil {
		return "", errors.Trace(err)
	}
	stderr := strings.TrimSpace(string(resp.Stderr))
	if resp.Code != 0 {
		if resp.Code == 127 || strings.Contains(stderr, "command not found") {
			return "", errors.NotSupportedf("hook tool %q", tool)
		}
		if strings.Contains(stderr, "permission denied") {
			return "", errors.NewUnauthorized(nil, stderr)
		}
		return "", errors.Annotatef(errors.New(stderr), "running %s", tool)
	}
	return strings.TrimSpace(string(resp.Stdout)), nil
}

// UnitName returns the name of the unit running the hook.
func UnitName() string { return os.Getenv("JUJU_UNIT_NAME") }

// ModelUUID returns the UUID of the model the unit runs in.
func ModelUUID() string { return os.Getenv("JUJU_MODEL_UUID") }

// HookName returns the name of the hook being run.
func HookName() string { return os.Getenv("JUJU_HOOK_NAME") }

// CharmDir returns the root of the charm directory.
func CharmDir() string {
	if dir := os.Getenv("JUJU_CHARM_DIR"); dir != "" {
		return dir
	}
	return os.Getenv("CHARM_DIR")
}
