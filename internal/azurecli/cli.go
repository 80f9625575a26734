// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package azurecli wraps the az command line tool. Every exported
// method is a single invocation of az, with stdout parsed as JSON
// where az produces any.
package azurecli

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/utils/v4"
	"github.com/juju/utils/v4/exec"
)

var logger = loggo.GetLogger("azure-integrator.azurecli")

// CommandRunner is the subset of juju/utils exec used by the CLI,
// indirected so tests can substitute canned responses.
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

// CLI drives the az tool through a CommandRunner.
type CLI struct {
	runner CommandRunner
}

// New returns a CLI using the given runner, or one backed by the real
// az binary when runner is nil.
func New(runner CommandRunner) *CLI {
	if runner == nil {
		runner = defaultRunner{clock: clock.WallClock}
	}
	return &CLI{runner: runner}
}

// safeArg matches arguments that survive the shell unquoted.
var safeArg = regexp.MustCompile(`^[a-zA-Z0-9@%+=:,./_-]+$`)

func quoteArg(arg string) string {
	if safeArg.MatchString(arg) {
		return arg
	}
	return utils.ShQuote(arg)
}

// run invokes az with the given arguments and returns trimmed stdout.
func (c *CLI) run(args ...string) (string, error) {
	quoted := make([]string, 0, len(args)+1)
	quoted = append(quoted, "az")
	for _, arg := range args {
		quoted = append(quoted, quoteArg(arg))
	}
	logger.Tracef("running az %s", strings.Join(args[:min(len(args), 2)], " "))
	resp, err := c.runner.RunCommands(exec.RunParams{
		Commands: strings.Join(quoted, " "),
	})
	if err != nil {
		return "", errors.Trace(err)
	}
	stderr := strings.TrimSpace(string(resp.Stderr))
	if resp.Code != 0 {
		return "", classifyError(stderr)
	}
	return strings.TrimSpace(string(resp.Stdout)), nil
}

// runJSON invokes az and unmarshals its stdout into result. Empty
// stdout leaves result untouched; az prints nothing for some
// operations.
func (c *CLI) runJSON(result interface{}, args ...string) error {
	stdout, err := c.run(args...)
	if err != nil {
		return errors.Trace(err)
	}
	if stdout == "" || result == nil {
		return nil
	}
	if err := json.Unmarshal([]byte(stdout), result); err != nil {
		return errors.Annotate(err, "cannot parse az output")
	}
	return nil
}

// Logout ends any existing az session. az reports an error when there
// is no session to end; callers generally ignore it.
func (c *CLI) Logout() error {
	_, err := c.run("logout")
	return errors.Trace(err)
}

// Login authenticates the CLI as the given service principal. The
// credential material is redacted from any error before it propagates,
// since az echoes the offending values back in its messages.
func (c *CLI) Login(appID, appPassword, tenantID string) error {
	_, err := c.run("login",
		"--service-principal",
		"-u", appID,
		"-p", appPassword,
		"-t", tenantID,
	)
	if err == nil {
		return nil
	}
	msg := err.Error()
	for value, placeholder := range map[string]string{
		appID:       "<app-id>",
		appPassword: "<app-pass>",
		tenantID:    "<tenant-id>",
	} {
		if value != "" {
			msg = strings.ReplaceAll(msg, value, placeholder)
		}
	}
	return errors.New(msg)
}

// AssignVMIdentity enables the system-assigned managed identity on the
// named VM and returns the identity's principal ID.
func (c *CLI) AssignVMIdentity(vmName, resourceGroup string) (string, error) {
	var result struct {
		SystemAssignedIdentity string `json:"systemAssignedIdentity"`
	}
	err := c.runJSON(&result, "vm", "identity", "assign",
		"--name", vmName,
		"--resource-group", resourceGroup,
	)
	if err != nil {
		return "", errors.Trace(err)
	}
	if result.SystemAssignedIdentity == "" {
		return "", errors.Errorf("az returned no system-assigned identity for %q", vmName)
	}
	return result.SystemAssignedIdentity, nil
}

// ResourceGroup is the subset of az group show output the charm uses.
type ResourceGroup struct {
	Name     string `json:"name"`
	Location string `json:"location"`
}

// ShowResourceGroup returns details of the named resource group.
func (c *CLI) ShowResourceGroup(name string) (*ResourceGroup, error) {
	var group ResourceGroup
	err := c.runJSON(&group, "group", "show", "--name", name)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &group, nil
}

// UpdateVMTags sets the given tags on a VM, leaving tags not named
// here alone.
func (c *CLI) UpdateVMTags(vmName, resourceGroup string, tags map[string]string) error {
	keys := make([]string, 0, len(tags))
	for key := range tags {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	args := []string{"vm", "update",
		"--name", vmName,
		"--resource-group", resourceGroup,
		"--set",
	}
	for _, key := range keys {
		args = append(args, fmt.Sprintf("tags.%s=%s", key, tags[key]))
	}
	_, err := c.run(args...)
	return errors.Trace(err)
}

// CreateRoleDefinition registers a custom role from its JSON document.
// The error satisfies errors.IsAlreadyExists when a role of the same
// name is already registered.
func (c *CLI) CreateRoleDefinition(definition []byte) error {
	_, err := c.run("role", "definition", "create",
		"--role-definition", string(definition),
	)
	return errors.Trace(err)
}

// UpdateRoleDefinition updates an existing custom role in place. The
// error satisfies errors.IsNotFound when no such role exists.
func (c *CLI) UpdateRoleDefinition(definition []byte) error {
	_, err := c.run("role", "definition", "update",
		"--role-definition", string(definition),
	)
	return errors.Trace(err)
}

// CreateRoleAssignment grants role to the given principal, scoped to a
// resource group. role may be a built-in role GUID or a custom role
// name. The error satisfies errors.IsAlreadyExists when the assignment
// is already in place.
func (c *CLI) CreateRoleAssignment(assigneeObjectID, resourceGroup, role string) error {
	_, err := c.run("role", "assignment", "create",
		"--assignee-object-id", assigneeObjectID,
		"--resource-group", resourceGroup,
		"--role", role,
	)
	return errors.Trace(err)
}
