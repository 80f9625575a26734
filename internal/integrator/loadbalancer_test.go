// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package integrator_test

import (
	"path/filepath"

	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/azure-integrator/internal/azurecli"
	"github.com/juju/azure-integrator/internal/endpoint"
	"github.com/juju/azure-integrator/internal/hookenv"
	"github.com/juju/azure-integrator/internal/integrator"
	"github.com/juju/azure-integrator/internal/unitdata"
)

type lbSuite struct {
	testing.IsolationSuite
	runner *routeRunner
	store  *unitdata.Store
	integ  *integrator.Integrator
}

var _ = gc.Suite(&lbSuite{})

func (s *lbSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.runner = &routeRunner{}
	store, err := unitdata.Open(filepath.Join(c.MkDir(), "unit-state.db"))
	c.Assert(err, jc.ErrorIsNil)
	s.store = store
	s.AddCleanup(func(c *gc.C) { _ = store.Close() })

	tools := hookenv.NewTools(s.runner)
	s.integ = integrator.New(integrator.Params{
		CLI:     azurecli.New(s.runner),
		Tools:   tools,
		Store:   store,
		Clients: endpoint.NewClients(tools, "azure-integrator/0"),
	})
	c.Assert(store.Set(integrator.ModelGroupKey, "juju-model-rg"), jc.ErrorIsNil)
}

func lbRequest() *endpoint.LBRequest {
	return &endpoint.LBRequest{
		RelationID:  "lb-consumers:1",
		AppName:     "myapp",
		Name:        "myapp-lb",
		TrafficType: "tcp",
		PortMapping: map[string]int{"443": 8443},
		Backends:    []string{"10.0.0.4"},
		Public:      true,
	}
}

func (s *lbSuite) TestCreateLoadBalancer(c *gc.C) {
	s.runner.route(route{
		prefix: "az network nic list",
		stdout: `[{"name": "machine-0-nic", "ipConfigurations": [
			{"name": "primary", "privateIpAddress": "10.0.0.4"}]}]`,
	})
	s.runner.route(route{
		prefix: "az network public-ip show",
		stdout: `{"ipAddress": "20.54.1.7"}`,
	})
	address, err := s.integ.CreateLoadBalancer(lbRequest())
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(address, gc.Equals, "20.54.1.7")
	c.Assert(s.runner.matching("az network"), jc.DeepEquals, []string{
		"az network lb create --name myapp-lb --resource-group juju-model-rg" +
			" --sku Basic --frontend-ip-name myapp-lb-frontend" +
			" --backend-pool-name myapp-lb-backend --public-ip-address myapp-lb-public-ip",
		"az network lb probe create --lb-name myapp-lb --resource-group juju-model-rg" +
			" --name myapp-lb-probe-8443 --protocol Tcp --port 8443",
		"az network lb rule create --lb-name myapp-lb --resource-group juju-model-rg" +
			" --name myapp-lb-rule-443-8443 --protocol Tcp --frontend-port 443" +
			" --backend-port 8443 --frontend-ip-name myapp-lb-frontend" +
			" --backend-pool-name myapp-lb-backend --probe-name myapp-lb-probe-8443",
		"az network nic list --resource-group juju-model-rg",
		"az network nic ip-config address-pool add --resource-group juju-model-rg" +
			" --nic-name machine-0-nic --ip-config-name primary" +
			" --lb-name myapp-lb --address-pool myapp-lb-backend",
		"az network public-ip show --resource-group juju-model-rg --name myapp-lb-public-ip",
	})
}

func (s *lbSuite) TestCreateLoadBalancerInternal(c *gc.C) {
	req := lbRequest()
	req.Public = false
	req.Backends = nil
	s.runner.route(route{
		prefix: "az network lb show",
		stdout: `{"frontendIpConfigurations": [{"privateIpAddress": "10.0.0.12"}]}`,
	})
	address, err := s.integ.CreateLoadBalancer(req)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(address, gc.Equals, "10.0.0.12")
	created := s.runner.matching("az network lb create")
	c.Assert(created, gc.HasLen, 1)
	c.Assert(created[0], jc.Contains, "--vnet-name juju-internal-network")
	c.Assert(created[0], jc.Contains, "--subnet juju-internal-subnet")
}

func (s *lbSuite) TestCreateLoadBalancerUnsupported(c *gc.C) {
	req := lbRequest()
	req.TLSTermination = true
	req.Sticky = true
	_, err := s.integ.CreateLoadBalancer(req)
	c.Assert(err, jc.Satisfies, integrator.IsUnsupportedFeatures)
	c.Assert(err.(*integrator.UnsupportedFeaturesError).Fields, jc.DeepEquals, map[string]string{
		"tls-termination": "TLS termination is not supported",
		"sticky":          "session stickiness is not supported",
	})
	c.Assert(s.runner.matching("az "), gc.HasLen, 0)
}

func (s *lbSuite) TestCreateLoadBalancerUsesConfiguredGroup(c *gc.C) {
	s.runner.route(route{prefix: "config-get", stdout: "vnetResourceGroup: shared-rg\n"})
	s.runner.route(route{prefix: "az network public-ip show", stdout: `{"ipAddress": "20.54.1.7"}`})
	req := lbRequest()
	req.Backends = nil
	_, err := s.integ.CreateLoadBalancer(req)
	c.Assert(err, jc.ErrorIsNil)
	created := s.runner.matching("az network lb create")
	c.Assert(created, gc.HasLen, 1)
	c.Assert(created[0], jc.Contains, "--resource-group shared-rg")
}

func (s *lbSuite) TestRemoveLoadBalancer(c *gc.C) {
	s.runner.route(route{prefix: "az network public-ip show", stdout: `{"ipAddress": "20.54.1.7"}`})
	req := lbRequest()
	req.Backends = nil
	_, err := s.integ.CreateLoadBalancer(req)
	c.Assert(err, jc.ErrorIsNil)

	err = s.integ.RemoveLoadBalancer("myapp-lb")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(s.runner.matching("az network lb delete"), jc.DeepEquals, []string{
		"az network lb delete --resource-group juju-model-rg --name myapp-lb",
	})
	c.Assert(s.runner.matching("az network public-ip delete"), jc.DeepEquals, []string{
		"az network public-ip delete --resource-group juju-model-rg --name myapp-lb-public-ip",
	})
}

func (s *lbSuite) TestRemoveLoadBalancerUnknown(c *gc.C) {
	err := s.integ.RemoveLoadBalancer("nonesuch")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(s.runner.commands, gc.HasLen, 0)
}

func (s *lbSuite) TestRemoveStaleLoadBalancers(c *gc.C) {
	s.runner.route(route{prefix: "az network public-ip show", stdout: `{"ipAddress": "20.54.1.7"}`})
	req := lbRequest()
	req.Backends = nil
	_, err := s.integ.CreateLoadBalancer(req)
	c.Assert(err, jc.ErrorIsNil)

	// The request is still live: nothing is removed.
	err = s.integ.RemoveStaleLoadBalancers([]*endpoint.LBRequest{req})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(s.runner.matching("az network lb delete"), gc.HasLen, 0)

	// The request has gone away: the load balancer goes with it.
	err = s.integ.RemoveStaleLoadBalancers(nil)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(s.runner.matching("az network lb delete"), gc.HasLen, 1)
}
