// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"context"
	"fmt"

	"github.com/juju/errors"

	"github.com/juju/azure-integrator/internal/endpoint"
	"github.com/juju/azure-integrator/internal/hookenv"
	"github.com/juju/azure-integrator/internal/integrator"
	"github.com/juju/azure-integrator/internal/reactive"
	"github.com/juju/azure-integrator/internal/unitdata"
)

// Handler flags, carried over between hook invocations.
const (
	credsFlag      = "charm.azure.creds.set"
	roleUpdateFlag = "charm.azure.initial-role-update"

	// lastCredentialsKey remembers the credentials config value last
	// seen, so a config change can force a fresh login.
	lastCredentialsKey = "reactive.config.credentials"
)

// Dispatcher routes a hook invocation to the charm's handlers and then
// reconciles: obtain credentials, load roles, grant pending requests,
// manage load balancers.
type Dispatcher struct {
	integ       *integrator.Integrator
	flags       *reactive.Flags
	tools       *hookenv.Tools
	store       *unitdata.Store
	clients     *endpoint.Clients
	lbConsumers *endpoint.LBConsumers
}

// NewDispatcher returns a Dispatcher over the given collaborators.
func NewDispatcher(
	integ *integrator.Integrator,
	flags *reactive.Flags,
	tools *hookenv.Tools,
	store *unitdata.Store,
	clients *endpoint.Clients,
	lbConsumers *endpoint.LBConsumers,
) *Dispatcher {
	return &Dispatcher{
		integ:       integ,
		flags:       flags,
		tools:       tools,
		store:       store,
		clients:     clients,
		lbConsumers: lbConsumers,
	}
}

// Dispatch runs the handlers for one hook invocation.
func (d *Dispatcher) Dispatch(ctx context.Context, hook string) error {
	logger.Debugf("dispatching hook %q", hook)
	switch hook {
	case "config-changed":
		if err := d.checkCredentialsConfig(); err != nil {
			return errors.Trace(err)
		}
	case "upgrade-charm":
		if err := d.upgradeCharm(); err != nil {
			return errors.Trace(err)
		}
	case "stop":
		// Relations are normally gone by now; remove anything left.
		return errors.Trace(d.integ.RemoveStaleLoadBalancers(nil))
	case "pre-series-upgrade":
		return errors.Trace(d.tools.Blocked("Series upgrade in progress"))
	}
	return errors.Trace(d.reconcile(ctx))
}

// checkCredentialsConfig clears the credentials flag when the
// credentials config has changed, forcing a fresh login.
func (d *Dispatcher) checkCredentialsConfig() error {
	config, err := d.tools.ConfigGet()
	if err != nil {
		return errors.Trace(err)
	}
	previous, err := d.store.GetString(lastCredentialsKey)
	if err != nil {
		return errors.Trace(err)
	}
	current := config.Credentials()
	if current == previous {
		return nil
	}
	logger.Debugf("credentials config changed")
	if err := d.flags.Clear(credsFlag); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(d.store.Set(lastCredentialsKey, current))
}

// upgradeCharm refreshes the custom roles against the definitions in
// the new charm revision and replays outstanding load balancer
// requests against it.
func (d *Dispatcher) upgradeCharm() error {
	loggedIn, err := d.flags.IsSet(credsFlag)
	if err != nil {
		return errors.Trace(err)
	}
	if !loggedIn {
		return nil
	}
	if err := d.integ.UpdateRoles(); err != nil {
		return errors.Trace(err)
	}
	all, err := d.lbConsumers.AllRequests()
	if err != nil {
		return errors.Trace(err)
	}
	for _, req := range all {
		if err := d.respondLoadBalancer(req); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (d *Dispatcher) reconcile(ctx context.Context) error {
	loggedIn, err := d.flags.IsSet(credsFlag)
	if err != nil {
		return errors.Trace(err)
	}
	if !loggedIn {
		ok, err := d.integ.GetCredentials(ctx)
		if err != nil {
			return errors.Trace(err)
		}
		if err := d.flags.Toggle(credsFlag, ok); err != nil {
			return errors.Trace(err)
		}
		if !ok {
			// GetCredentials has set a blocked status explaining why.
			return nil
		}
	}

	rolesLoaded, err := d.flags.IsSet(roleUpdateFlag)
	if err != nil {
		return errors.Trace(err)
	}
	if !rolesLoaded {
		if err := d.tools.Maintenance("loading roles"); err != nil {
			return errors.Trace(err)
		}
		if err := d.integ.UpdateRoles(); err != nil {
			return errors.Trace(err)
		}
		if err := d.flags.Set(roleUpdateFlag); err != nil {
			return errors.Trace(err)
		}
	}

	granted, err := d.handleRequests()
	if err != nil {
		return errors.Trace(err)
	}
	if !granted {
		// A grant failed; the blocked status must stand.
		return nil
	}
	if err := d.manageLoadBalancers(); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(d.tools.Active("Ready"))
}

// handleRequests grants all pending client requests. A failure to
// grant is reported through the unit status rather than a hook error,
// so a broken credential does not wedge the hook queue; it reports
// false in that case.
func (d *Dispatcher) handleRequests() (bool, error) {
	requests, err := d.clients.Requests()
	if err != nil {
		return false, errors.Trace(err)
	}
	if len(requests) == 0 {
		return true, errors.Trace(d.integ.Cleanup())
	}
	for _, req := range requests {
		message := fmt.Sprintf("granting request for %s (%s)", req.VMName, req.UnitName)
		if err := d.tools.Maintenance(message); err != nil {
			return false, errors.Trace(err)
		}
		if err := d.grant(req); err != nil {
			logger.Errorf("error granting request for %s (%s): %v",
				req.VMName, req.UnitName, errors.ErrorStack(err))
			blockErr := d.tools.Blocked(
				"error while granting requests; check credentials and debug-log")
			return false, errors.Trace(blockErr)
		}
		if err := d.clients.MarkCompleted(req); err != nil {
			return false, errors.Trace(err)
		}
		logger.Infof("finished request for %s (%s)", req.VMName, req.UnitName)
	}
	return true, nil
}

func (d *Dispatcher) grant(req *endpoint.Request) error {
	if err := d.integ.EnsureMSI(req); err != nil {
		return errors.Trace(err)
	}
	if err := d.integ.SendAdditionalMetadata(req); err != nil {
		return errors.Trace(err)
	}
	if len(req.InstanceTags) > 0 {
		if err := d.integ.TagInstance(req); err != nil {
			return errors.Trace(err)
		}
	}
	steps := []struct {
		wanted bool
		enable func(*endpoint.Request) error
	}{
		{req.LoadBalancerManagement, d.integ.EnableLoadBalancerManagement},
		{req.InstanceInspection, d.integ.EnableInstanceInspection},
		{req.NetworkManagement, d.integ.EnableNetworkManagement},
		{req.SecurityManagement, d.integ.EnableSecurityManagement},
		{req.BlockStorageManagement, d.integ.EnableBlockStorageManagement},
		{req.DNSManagement, d.integ.EnableDNSManagement},
		{req.ObjectStorageAccess, d.integ.EnableObjectStorageAccess},
		{req.ObjectStorageManagement, d.integ.EnableObjectStorageManagement},
	}
	for _, step := range steps {
		if !step.wanted {
			continue
		}
		if err := step.enable(req); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// manageLoadBalancers answers new load balancer requests and removes
// load balancers whose requests have gone away.
func (d *Dispatcher) manageLoadBalancers() error {
	fresh, err := d.lbConsumers.NewRequests()
	if err != nil {
		return errors.Trace(err)
	}
	for _, req := range fresh {
		if err := d.respondLoadBalancer(req); err != nil {
			return errors.Trace(err)
		}
	}
	all, err := d.lbConsumers.AllRequests()
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(d.integ.RemoveStaleLoadBalancers(all))
}

func (d *Dispatcher) respondLoadBalancer(req *endpoint.LBRequest) error {
	address, err := d.integ.CreateLoadBalancer(req)
	var resp endpoint.LBResponse
	switch {
	case err == nil && address == "":
		resp = endpoint.LBResponse{
			Error:        endpoint.LBErrorProvider,
			ErrorMessage: "no address returned by provider",
		}
	case err == nil:
		resp = endpoint.LBResponse{Address: address}
	case integrator.IsUnsupportedFeatures(err):
		unsupported := errors.Cause(err).(*integrator.UnsupportedFeaturesError)
		resp = endpoint.LBResponse{
			Error:        endpoint.LBErrorUnsupported,
			ErrorMessage: unsupported.Error(),
			ErrorFields:  unsupported.Fields,
		}
	default:
		logger.Errorf("error creating load balancer %q: %v", req.Name, errors.ErrorStack(err))
		resp = endpoint.LBResponse{
			Error:        endpoint.LBErrorProvider,
			ErrorMessage: err.Error(),
		}
	}
	return errors.Trace(d.lbConsumers.SendResponse(req, resp))
}
