// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package azurecli_test

import (
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	"github.com/juju/utils/v4/exec"
	gc "gopkg.in/check.v1"

	"github.com/juju/azure-integrator/internal/azurecli"
)

type stubResponse struct {
	code   int
	stdout string
	stderr string
	err    error
}

type stubRunner struct {
	commands  []string
	responses []stubResponse
}

func (r *stubRunner) RunCommands(run exec.RunParams) (*exec.ExecResponse, error) {
	r.commands = append(r.commands, run.Commands)
	if len(r.responses) == 0 {
		return &exec.ExecResponse{}, nil
	}
	resp := r.responses[0]
	r.responses = r.responses[1:]
	if resp.err != nil {
		return nil, resp.err
	}
	return &exec.ExecResponse{
		Code:   resp.code,
		Stdout: []byte(resp.stdout),
		Stderr: []byte(resp.stderr),
	}, nil
}

func (r *stubRunner) queue(resp stubResponse) {
	r.responses = append(r.responses, resp)
}

type cliSuite struct {
	testing.IsolationSuite
	runner *stubRunner
	cli    *azurecli.CLI
}

var _ = gc.Suite(&cliSuite{})

func (s *cliSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.runner = &stubRunner{}
	s.cli = azurecli.New(s.runner)
}

func (s *cliSuite) TestLogin(c *gc.C) {
	err := s.cli.Login("app-id", "hunter2", "tenant-id")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(s.runner.commands, jc.DeepEquals, []string{
		"az login --service-principal -u app-id -p hunter2 -t tenant-id",
	})
}

func (s *cliSuite) TestLoginRedactsCredentials(c *gc.C) {
	s.runner.queue(stubResponse{
		code:   1,
		stderr: "AADSTS7000215: invalid secret hunter2 provided for app-id in tenant-id",
	})
	err := s.cli.Login("app-id", "hunter2", "tenant-id")
	c.Assert(err, gc.NotNil)
	c.Assert(err.Error(), gc.Equals,
		"AADSTS7000215: invalid secret <app-pass> provided for <app-id> in <tenant-id>")
}

func (s *cliSuite) TestLoginQuotesArguments(c *gc.C) {
	err := s.cli.Login("app-id", "pass word", "tenant-id")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(s.runner.commands[0], gc.Equals,
		"az login --service-principal -u app-id -p 'pass word' -t tenant-id")
}

func (s *cliSuite) TestLogout(c *gc.C) {
	err := s.cli.Logout()
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(s.runner.commands, jc.DeepEquals, []string{"az logout"})
}

func (s *cliSuite) TestAssignVMIdentity(c *gc.C) {
	s.runner.queue(stubResponse{
		stdout: `{"systemAssignedIdentity": "6e9d45d6-8b9d-4c51-a45a-bbd37a482e28"}`,
	})
	msi, err := s.cli.AssignVMIdentity("machine-0", "juju-model-rg")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(msi, gc.Equals, "6e9d45d6-8b9d-4c51-a45a-bbd37a482e28")
	c.Assert(s.runner.commands, jc.DeepEquals, []string{
		"az vm identity assign --name machine-0 --resource-group juju-model-rg",
	})
}

func (s *cliSuite) TestAssignVMIdentityMissingIdentity(c *gc.C) {
	s.runner.queue(stubResponse{stdout: `{}`})
	_, err := s.cli.AssignVMIdentity("machine-0", "juju-model-rg")
	c.Assert(err, gc.ErrorMatches, `az returned no system-assigned identity for "machine-0"`)
}

func (s *cliSuite) TestShowResourceGroup(c *gc.C) {
	s.runner.queue(stubResponse{
		stdout: `{"name": "juju-model-rg", "location": "westeurope"}`,
	})
	group, err := s.cli.ShowResourceGroup("juju-model-rg")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(group, jc.DeepEquals, &azurecli.ResourceGroup{
		Name:     "juju-model-rg",
		Location: "westeurope",
	})
}

func (s *cliSuite) TestUpdateVMTagsSorted(c *gc.C) {
	err := s.cli.UpdateVMTags("machine-0", "juju-model-rg", map[string]string{
		"owner":   "admin",
		"charmed": "true",
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(s.runner.commands, jc.DeepEquals, []string{
		"az vm update --name machine-0 --resource-group juju-model-rg" +
			" --set tags.charmed=true tags.owner=admin",
	})
}

func (s *cliSuite) TestCreateRoleAssignmentAlreadyExists(c *gc.C) {
	s.runner.queue(stubResponse{
		code:   1,
		stderr: "The role assignment already exists.",
	})
	err := s.cli.CreateRoleAssignment("msi-id", "juju-model-rg", "some-role")
	c.Assert(err, jc.Satisfies, errors.IsAlreadyExists)
}

func (s *cliSuite) TestUpdateRoleDefinitionNotFound(c *gc.C) {
	s.runner.queue(stubResponse{
		code:   1,
		stderr: "No definition was found matching the name.",
	})
	err := s.cli.UpdateRoleDefinition([]byte(`{"Name": "some-role"}`))
	c.Assert(err, jc.Satisfies, errors.IsNotFound)
}

func (s *cliSuite) TestUpdateRoleDefinitionProvideExisting(c *gc.C) {
	s.runner.queue(stubResponse{
		code:   1,
		stderr: "Please provide the name of an existing role definition.",
	})
	err := s.cli.UpdateRoleDefinition([]byte(`{"Name": "some-role"}`))
	c.Assert(err, jc.Satisfies, errors.IsNotFound)
}

func (s *cliSuite) TestRunErrorPassthrough(c *gc.C) {
	s.runner.queue(stubResponse{
		code:   1,
		stderr: "The subscription is not registered to use namespace 'Microsoft.Network'",
	})
	err := s.cli.Logout()
	c.Assert(err, gc.ErrorMatches,
		"The subscription is not registered to use namespace 'Microsoft.Network'")
	c.Assert(err, gc.Not(jc.Satisfies), errors.IsAlreadyExists)
	c.Assert(err, gc.Not(jc.Satisfies), errors.IsNotFound)
}

func (s *cliSuite) TestBadJSONOutput(c *gc.C) {
	s.runner.queue(stubResponse{stdout: "not json"})
	_, err := s.cli.ShowResourceGroup("juju-model-rg")
	c.Assert(err, gc.ErrorMatches, "cannot parse az output: .*")
}
