// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package endpoint_test

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	"github.com/juju/utils/v4/exec"
	gc "gopkg.in/check.v1"

	"github.com/juju/azure-integrator/internal/endpoint"
	"github.com/juju/azure-integrator/internal/hookenv"
)

// mapRunner resolves hook tool invocations against canned output keyed
// by the exact command line.
type mapRunner struct {
	commands []string
	stdout   map[string]string
}

func (r *mapRunner) RunCommands(run exec.RunParams) (*exec.ExecResponse, error) {
	r.commands = append(r.commands, run.Commands)
	return &exec.ExecResponse{Stdout: []byte(r.stdout[run.Commands])}, nil
}

const localUnit = "azure-integrator/0"

type clientsSuite struct {
	testing.IsolationSuite
	runner  *mapRunner
	clients *endpoint.Clients
}

var _ = gc.Suite(&clientsSuite{})

func (s *clientsSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.runner = &mapRunner{stdout: map[string]string{}}
	s.clients = endpoint.NewClients(hookenv.NewTools(s.runner), localUnit)
}

func (s *clientsSuite) primeRequest(c *gc.C, extra map[string]string) {
	s.runner.stdout["relation-ids --format=yaml clients"] = "- clients:0\n"
	s.runner.stdout["relation-list --format=yaml -r clients:0"] = "- myapp/0\n"
	settings := []string{
		"charm: myapp",
		"vm-id: /subscriptions/s/resourceGroups/rg/providers/Microsoft.Compute/virtualMachines/machine-0",
		"vm-name: machine-0",
		"res-group: juju-model-rg",
	}
	for key, value := range extra {
		settings = append(settings, fmt.Sprintf("%s: '%s'", key, value))
	}
	s.runner.stdout["relation-get --format=yaml -r clients:0 - myapp/0"] =
		strings.Join(settings, "\n") + "\n"
}

func (s *clientsSuite) TestRequests(c *gc.C) {
	s.primeRequest(c, map[string]string{
		"enable-network-management": "true",
		"enable-dns-management":     "false",
		"instance-tags":             `{"owner": "admin"}`,
	})
	requests, err := s.clients.Requests()
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(requests, gc.HasLen, 1)
	req := requests[0]
	c.Check(req.RelationID, gc.Equals, "clients:0")
	c.Check(req.UnitName, gc.Equals, "myapp/0")
	c.Check(req.VMName, gc.Equals, "machine-0")
	c.Check(req.ResourceGroup, gc.Equals, "juju-model-rg")
	c.Check(req.NetworkManagement, jc.IsTrue)
	c.Check(req.DNSManagement, jc.IsFalse)
	c.Check(req.InstanceTags, jc.DeepEquals, map[string]string{"owner": "admin"})

	app, err := req.ApplicationName()
	c.Assert(err, jc.ErrorIsNil)
	c.Check(app, gc.Equals, "myapp")
}

func (s *clientsSuite) TestRequestsIgnoresIncomplete(c *gc.C) {
	s.runner.stdout["relation-ids --format=yaml clients"] = "- clients:0\n"
	s.runner.stdout["relation-list --format=yaml -r clients:0"] = "- myapp/0\n"
	s.runner.stdout["relation-get --format=yaml -r clients:0 - myapp/0"] = "charm: myapp\n"
	requests, err := s.clients.Requests()
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(requests, gc.HasLen, 0)
}

func (s *clientsSuite) TestRequestsSkipsCompleted(c *gc.C) {
	s.primeRequest(c, nil)
	requests, err := s.clients.Requests()
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(requests, gc.HasLen, 1)

	done := map[string]string{requests[0].VMID: requests[0].Hash()}
	payload, err := json.Marshal(done)
	c.Assert(err, jc.ErrorIsNil)
	s.runner.stdout["relation-get --format=yaml -r clients:0 - "+localUnit] =
		fmt.Sprintf("completed: '%s'\n", payload)

	requests, err = s.clients.Requests()
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(requests, gc.HasLen, 0)
}

func (s *clientsSuite) TestRequestsReturnsChangedRequest(c *gc.C) {
	s.primeRequest(c, nil)
	s.runner.stdout["relation-get --format=yaml -r clients:0 - "+localUnit] =
		`completed: '{"stale-vm-id": "stale-hash"}'` + "\n"
	requests, err := s.clients.Requests()
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(requests, gc.HasLen, 1)
}

func (s *clientsSuite) TestMarkCompleted(c *gc.C) {
	s.primeRequest(c, nil)
	requests, err := s.clients.Requests()
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(requests, gc.HasLen, 1)
	req := requests[0]

	err = s.clients.MarkCompleted(req)
	c.Assert(err, jc.ErrorIsNil)
	done := map[string]string{req.VMID: req.Hash()}
	payload, err := json.Marshal(done)
	c.Assert(err, jc.ErrorIsNil)
	expected := fmt.Sprintf("relation-set -r clients:0 'completed=%s'", payload)
	c.Assert(s.runner.commands[len(s.runner.commands)-1], gc.Equals, expected)
}

func (s *clientsSuite) TestSendAdditionalMetadata(c *gc.C) {
	req := &endpoint.Request{RelationID: "clients:0", UnitName: "myapp/0"}
	err := s.clients.SendAdditionalMetadata(req, endpoint.Metadata{
		ResourceGroupLocation: "westeurope",
		VNetName:              "juju-internal-network",
		VNetResourceGroup:     "juju-model-rg",
		SubnetName:            "juju-internal-subnet",
		SecurityGroupName:     "juju-internal-nsg",
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(s.runner.commands, jc.DeepEquals, []string{
		"relation-set -r clients:0 resource-group-location=westeurope" +
			" security-group-name=juju-internal-nsg subnet-name=juju-internal-subnet" +
			" vnet-name=juju-internal-network vnet-resource-group=juju-model-rg",
	})
}

func (s *clientsSuite) TestHashStable(c *gc.C) {
	s.primeRequest(c, nil)
	requests, err := s.clients.Requests()
	c.Assert(err, jc.ErrorIsNil)
	first := requests[0].Hash()
	requests, err = s.clients.Requests()
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(requests[0].Hash(), gc.Equals, first)
}
