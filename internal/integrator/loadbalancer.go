// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package integrator

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/juju/collections/set"
	"github.com/juju/errors"

	"github.com/juju/azure-integrator/internal/azurecli"
	"github.com/juju/azure-integrator/internal/endpoint"
)

// supportedTrafficTypes are the traffic types we can map onto Azure
// load balancing rules. http/https are plain TCP at this layer.
var supportedTrafficTypes = set.NewStrings("tcp", "udp", "http", "https")

// UnsupportedFeaturesError reports the load balancer request fields we
// cannot satisfy on Azure.
type UnsupportedFeaturesError struct {
	Fields map[string]string
}

// Error implements error.
func (e *UnsupportedFeaturesError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Sprintf("unsupported load balancer features: %v", names)
}

// IsUnsupportedFeatures reports whether err is an
// UnsupportedFeaturesError.
func IsUnsupportedFeatures(err error) bool {
	_, ok := errors.Cause(err).(*UnsupportedFeaturesError)
	return ok
}

func unsupportedFeatures(req *endpoint.LBRequest) map[string]string {
	fields := map[string]string{}
	if !supportedTrafficTypes.Contains(req.TrafficType) {
		fields["traffic-type"] = fmt.Sprintf("traffic type %q is not supported", req.TrafficType)
	}
	if req.TLSTermination {
		fields["tls-termination"] = "TLS termination is not supported"
	}
	if req.Sticky {
		fields["sticky"] = "session stickiness is not supported"
	}
	if len(req.Algorithm) > 0 {
		fields["algorithm"] = "algorithm selection is not supported"
	}
	return fields
}

func trafficProtocol(trafficType string) string {
	if trafficType == "udp" {
		return "Udp"
	}
	return "Tcp"
}

// lbRecord remembers a load balancer we created, so it can be removed
// after the requesting relation is gone.
type lbRecord struct {
	Name          string `json:"name"`
	ResourceGroup string `json:"resource-group"`
	Public        bool   `json:"public"`
}

func (i *Integrator) lbRecords() (map[string]lbRecord, error) {
	records := map[string]lbRecord{}
	err := i.store.Get(lbsKey, &records)
	if err != nil && !errors.IsNotFound(err) {
		return nil, errors.Trace(err)
	}
	return records, nil
}

// loadBalancerGroup decides which resource group a load balancer
// belongs in: the configured vnet resource group when set, otherwise
// the model's resource group as seen on earlier client requests.
func (i *Integrator) loadBalancerGroup() (string, error) {
	config, err := i.tools.ConfigGet()
	if err != nil {
		return "", errors.Trace(err)
	}
	if group := config.ConfiguredVNetResourceGroup(); group != "" {
		return group, nil
	}
	group, err := i.store.GetString(modelGroupKey)
	if err != nil {
		return "", errors.Trace(err)
	}
	if group == "" {
		return "", errors.NotFoundf("resource group for load balancers")
	}
	return group, nil
}

// CreateLoadBalancer satisfies a load balancer request and returns the
// frontend address. The same request can be replayed (upgrade-charm
// does); existing resources are reused.
func (i *Integrator) CreateLoadBalancer(req *endpoint.LBRequest) (string, error) {
	if fields := unsupportedFeatures(req); len(fields) > 0 {
		return "", &UnsupportedFeaturesError{Fields: fields}
	}
	group, err := i.loadBalancerGroup()
	if err != nil {
		return "", errors.Trace(err)
	}
	config, err := i.tools.ConfigGet()
	if err != nil {
		return "", errors.Trace(err)
	}
	spec := azurecli.LoadBalancerSpec{
		Name:          req.Name,
		ResourceGroup: group,
		Public:        req.Public,
		VNet:          config.VNetName(),
		Subnet:        config.SubnetName(),
	}
	logger.Infof("creating load balancer %q in resource group %q", req.Name, group)
	if err := i.cli.CreateLoadBalancer(spec); err != nil && !errors.IsAlreadyExists(err) {
		return "", errors.Trace(err)
	}

	frontendPorts := make([]string, 0, len(req.PortMapping))
	for port := range req.PortMapping {
		frontendPorts = append(frontendPorts, port)
	}
	sort.Strings(frontendPorts)
	for _, frontend := range frontendPorts {
		frontendPort, err := strconv.Atoi(frontend)
		if err != nil {
			return "", errors.NotValidf("frontend port %q", frontend)
		}
		backendPort := req.PortMapping[frontend]
		probeName := fmt.Sprintf("%s-probe-%d", req.Name, backendPort)
		if err := i.cli.CreateLoadBalancerProbe(req.Name, group, probeName, backendPort); err != nil && !errors.IsAlreadyExists(err) {
			return "", errors.Trace(err)
		}
		ruleName := fmt.Sprintf("%s-rule-%d-%d", req.Name, frontendPort, backendPort)
		err = i.cli.CreateLoadBalancerRule(spec, ruleName,
			trafficProtocol(req.TrafficType), frontendPort, backendPort, probeName)
		if err != nil && !errors.IsAlreadyExists(err) {
			return "", errors.Trace(err)
		}
	}

	if err := i.attachBackends(spec, req.Backends); err != nil {
		return "", errors.Trace(err)
	}

	var address string
	if req.Public {
		address, err = i.cli.ShowPublicIPAddress(group, spec.PublicIPName())
	} else {
		address, err = i.cli.ShowLoadBalancerFrontendAddress(group, req.Name)
	}
	if err != nil {
		return "", errors.Trace(err)
	}

	records, err := i.lbRecords()
	if err != nil {
		return "", errors.Trace(err)
	}
	records[req.Name] = lbRecord{Name: req.Name, ResourceGroup: group, Public: req.Public}
	if err := i.store.Set(lbsKey, records); err != nil {
		return "", errors.Trace(err)
	}
	return address, nil
}

// attachBackends joins the NICs carrying the backend addresses to the
// load balancer's pool. Addresses without a matching NIC in the
// resource group are skipped with a warning; the requesting charm may
// name units that have not finished provisioning.
func (i *Integrator) attachBackends(spec azurecli.LoadBalancerSpec, backends []string) error {
	if len(backends) == 0 {
		return nil
	}
	nics, err := i.cli.ListNetworkInterfaces(spec.ResourceGroup)
	if err != nil {
		return errors.Trace(err)
	}
	wanted := set.NewStrings(backends...)
	for _, nic := range nics {
		for _, ipConfig := range nic.IPConfigurations {
			if !wanted.Contains(ipConfig.PrivateIPAddress) {
				continue
			}
			err := i.cli.AddBackendPoolMember(spec, nic.Name, ipConfig.Name)
			if err != nil && !errors.IsAlreadyExists(err) {
				return errors.Trace(err)
			}
			wanted.Remove(ipConfig.PrivateIPAddress)
		}
	}
	for _, missed := range wanted.SortedValues() {
		logger.Warningf("no network interface found for backend %q", missed)
	}
	return nil
}

// RemoveLoadBalancer deletes the load balancer created for a request,
// along with its public IP when there is one. Removing an unknown or
// already-removed load balancer is a no-op.
func (i *Integrator) RemoveLoadBalancer(name string) error {
	records, err := i.lbRecords()
	if err != nil {
		return errors.Trace(err)
	}
	record, ok := records[name]
	if !ok {
		logger.Debugf("no record of load balancer %q, nothing to remove", name)
		return nil
	}
	logger.Infof("removing load balancer %q", name)
	if err := i.cli.DeleteLoadBalancer(record.ResourceGroup, record.Name); err != nil {
		return errors.Trace(err)
	}
	if record.Public {
		spec := azurecli.LoadBalancerSpec{Name: record.Name, ResourceGroup: record.ResourceGroup}
		if err := i.cli.DeletePublicIPAddress(record.ResourceGroup, spec.PublicIPName()); err != nil {
			return errors.Trace(err)
		}
	}
	delete(records, name)
	return errors.Trace(i.store.Set(lbsKey, records))
}

// RemoveStaleLoadBalancers removes every recorded load balancer whose
// name is not in current. Used on stop and when relations depart.
func (i *Integrator) RemoveStaleLoadBalancers(current []*endpoint.LBRequest) error {
	records, err := i.lbRecords()
	if err != nil {
		return errors.Trace(err)
	}
	wanted := set.NewStrings()
	for _, req := range current {
		wanted.Add(req.Name)
	}
	for name := range records {
		if wanted.Contains(name) {
			continue
		}
		if err := i.RemoveLoadBalancer(name); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}
