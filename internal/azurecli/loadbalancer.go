// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package azurecli

import (
	"strconv"

	"github.com/juju/errors"
)

// LoadBalancerSpec names everything needed to create an Azure load
// balancer. Derived resources (public IP, frontend, backend pool) are
// named after the load balancer itself.
type LoadBalancerSpec struct {
	Name          string
	ResourceGroup string
	Public        bool
	// VNet and Subnet are only used for internal load balancers.
	VNet   string
	Subnet string
}

// PublicIPName returns the name of the public IP resource created
// alongside a public load balancer.
func (s LoadBalancerSpec) PublicIPName() string { return s.Name + "-public-ip" }

// FrontendName returns the load balancer's frontend IP configuration name.
func (s LoadBalancerSpec) FrontendName() string { return s.Name + "-frontend" }

// BackendPoolName returns the load balancer's backend pool name.
func (s LoadBalancerSpec) BackendPoolName() string { return s.Name + "-backend" }

// CreateLoadBalancer creates a basic SKU load balancer. For public
// load balancers a public IP resource is created with it; internal
// ones take a dynamic frontend address on the given subnet.
func (c *CLI) CreateLoadBalancer(spec LoadBalancerSpec) error {
	args := []string{"network", "lb", "create",
		"--name", spec.Name,
		"--resource-group", spec.ResourceGroup,
		"--sku", "Basic",
		"--frontend-ip-name", spec.FrontendName(),
		"--backend-pool-name", spec.BackendPoolName(),
	}
	if spec.Public {
		args = append(args, "--public-ip-address", spec.PublicIPName())
	} else {
		args = append(args,
			"--vnet-name", spec.VNet,
			"--subnet", spec.Subnet,
		)
	}
	_, err := c.run(args...)
	return errors.Trace(err)
}

// CreateLoadBalancerProbe adds a TCP health probe on the given port.
func (c *CLI) CreateLoadBalancerProbe(lbName, resourceGroup, probeName string, port int) error {
	_, err := c.run("network", "lb", "probe", "create",
		"--lb-name", lbName,
		"--resource-group", resourceGroup,
		"--name", probeName,
		"--protocol", "Tcp",
		"--port", strconv.Itoa(port),
	)
	return errors.Trace(err)
}

// CreateLoadBalancerRule maps a frontend port onto the backend pool.
func (c *CLI) CreateLoadBalancerRule(spec LoadBalancerSpec, ruleName, protocol string, frontendPort, backendPort int, probeName string) error {
	_, err := c.run("network", "lb", "rule", "create",
		"--lb-name", spec.Name,
		"--resource-group", spec.ResourceGroup,
		"--name", ruleName,
		"--protocol", protocol,
		"--frontend-port", strconv.Itoa(frontendPort),
		"--backend-port", strconv.Itoa(backendPort),
		"--frontend-ip-name", spec.FrontendName(),
		"--backend-pool-name", spec.BackendPoolName(),
		"--probe-name", probeName,
	)
	return errors.Trace(err)
}

// ShowPublicIPAddress returns the allocated address of a public IP
// resource, which is empty until Azure has finished allocating it.
func (c *CLI) ShowPublicIPAddress(resourceGroup, name string) (string, error) {
	var result struct {
		IPAddress string `json:"ipAddress"`
	}
	err := c.runJSON(&result, "network", "public-ip", "show",
		"--resource-group", resourceGroup,
		"--name", name,
	)
	if err != nil {
		return "", errors.Trace(err)
	}
	return result.IPAddress, nil
}

// ShowLoadBalancerFrontendAddress returns the private address of an
// internal load balancer's frontend.
func (c *CLI) ShowLoadBalancerFrontendAddress(resourceGroup, lbName string) (string, error) {
	var result struct {
		FrontendIPConfigurations []struct {
			PrivateIPAddress string `json:"privateIpAddress"`
		} `json:"frontendIpConfigurations"`
	}
	err := c.runJSON(&result, "network", "lb", "show",
		"--resource-group", resourceGroup,
		"--name", lbName,
	)
	if err != nil {
		return "", errors.Trace(err)
	}
	if len(result.FrontendIPConfigurations) == 0 {
		return "", errors.NotFoundf("frontend IP configuration for %q", lbName)
	}
	return result.FrontendIPConfigurations[0].PrivateIPAddress, nil
}

// NetworkInterface is the subset of az network nic list output used to
// match backend addresses to their NICs.
type NetworkInterface struct {
	Name             string `json:"name"`
	IPConfigurations []struct {
		Name             string `json:"name"`
		PrivateIPAddress string `json:"privateIpAddress"`
	} `json:"ipConfigurations"`
}

// ListNetworkInterfaces returns the NICs in a resource group.
func (c *CLI) ListNetworkInterfaces(resourceGroup string) ([]NetworkInterface, error) {
	var nics []NetworkInterface
	err := c.runJSON(&nics, "network", "nic", "list",
		"--resource-group", resourceGroup,
	)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return nics, nil
}

// AddBackendPoolMember joins a NIC's IP configuration to a load
// balancer backend pool.
func (c *CLI) AddBackendPoolMember(spec LoadBalancerSpec, nicName, ipConfigName string) error {
	_, err := c.run("network", "nic", "ip-config", "address-pool", "add",
		"--resource-group", spec.ResourceGroup,
		"--nic-name", nicName,
		"--ip-config-name", ipConfigName,
		"--lb-name", spec.Name,
		"--address-pool", spec.BackendPoolName(),
	)
	return errors.Trace(err)
}

// DeleteLoadBalancer removes a load balancer. Missing resources are
// not an error; removal runs on relation departure and again at stop.
func (c *CLI) DeleteLoadBalancer(resourceGroup, name string) error {
	_, err := c.run("network", "lb", "delete",
		"--resource-group", resourceGroup,
		"--name", name,
	)
	if err != nil && !errors.IsNotFound(err) {
		return errors.Trace(err)
	}
	return nil
}

// DeletePublicIPAddress removes the public IP resource created for a
// public load balancer.
func (c *CLI) DeletePublicIPAddress(resourceGroup, name string) error {
	_, err := c.run("network", "public-ip", "delete",
		"--resource-group", resourceGroup,
		"--name", name,
	)
	if err != nil && !errors.IsNotFound(err) {
		return errors.Trace(err)
	}
	return nil
}
