// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package integrator implements the charm's operations against Azure:
// logging the az CLI in from Juju-supplied credentials, enabling
// managed identities on workload VMs and granting them RBAC roles.
// Every operation is a translation from an "enable capability X"
// request into one or two az invocations, with a little state in the
// unit's key/value store.
package integrator

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/juju/errors"
	"github.com/juju/loggo"

	"github.com/juju/azure-integrator/internal/azureauth"
	"github.com/juju/azure-integrator/internal/azurecli"
	"github.com/juju/azure-integrator/internal/endpoint"
	"github.com/juju/azure-integrator/internal/hookenv"
	"github.com/juju/azure-integrator/internal/roles"
	"github.com/juju/azure-integrator/internal/unitdata"
)

var logger = loggo.GetLogger("azure-integrator.integrator")

// Keys in the unit's key/value store.
const (
	subIDKey        = "charm.azure.sub-id"
	vmIdentitiesKey = "charm.azure.vm-identities"
	rolesKey        = "charm.azure.roles"
	modelGroupKey   = "charm.azure.model-resource-group"
	lbsKey          = "charm.azure.lbs"
)

// Params collects the integrator's collaborators.
type Params struct {
	CLI       *azurecli.CLI
	Tools     *hookenv.Tools
	Store     *unitdata.Store
	Clients   *endpoint.Clients
	Transport policy.Transporter
	RolesDir  string
}

// Integrator ties the hook tools, the az CLI and the unit state
// together.
type Integrator struct {
	cli       *azurecli.CLI
	tools     *hookenv.Tools
	store     *unitdata.Store
	clients   *endpoint.Clients
	transport policy.Transporter
	rolesDir  string
}

// New returns an Integrator with the given collaborators.
func New(p Params) *Integrator {
	return &Integrator{
		cli:       p.CLI,
		tools:     p.Tools,
		store:     p.Store,
		clients:   p.Clients,
		transport: p.Transport,
		rolesDir:  p.RolesDir,
	}
}

// GetCredentials obtains credentials and authenticates the CLI with
// them. The credential-get hook tool (juju trust) is preferred; the
// base64 credentials config overrides stay available for controllers
// without it. Returns false, after setting a blocked status, when no
// usable credentials are available yet.
func (i *Integrator) GetCredentials(ctx context.Context) (bool, error) {
	noCredsMsg := "missing credentials; set credentials config"
	creds, err := i.tools.CredentialGet()
	switch {
	case err == nil:
		if err := i.Login(ctx, creds); err != nil {
			return false, errors.Trace(err)
		}
		return true, nil
	case errors.IsNotSupported(err):
		// juju trust not available on this controller
	case errors.IsUnauthorized(err):
		noCredsMsg = "missing credentials access; grant with: juju trust"
	default:
		return false, errors.Trace(err)
	}

	config, err := i.tools.ConfigGet()
	if err != nil {
		return false, errors.Trace(err)
	}
	if encoded := config.Credentials(); encoded != "" {
		creds, err := parseCredentialsConfig(encoded)
		if err == nil {
			err = i.Login(ctx, creds)
		}
		if err != nil {
			msg := "invalid value for credentials config"
			logger.Debugf("%s: %v", msg, err)
			if err := i.tools.Blocked(msg); err != nil {
				return false, errors.Trace(err)
			}
			return false, nil
		}
		return true, nil
	}

	if err := i.tools.Blocked(noCredsMsg); err != nil {
		return false, errors.Trace(err)
	}
	return false, nil
}

func parseCredentialsConfig(encoded string) (*hookenv.Credential, error) {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errors.Annotate(err, "decoding credentials config")
	}
	var creds hookenv.Credential
	if err := json.Unmarshal(decoded, &creds); err != nil {
		return nil, errors.Annotate(err, "parsing credentials config")
	}
	if err := creds.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &creds, nil
}

// Login authenticates the az CLI as the credential's service
// principal and caches the subscription ID for role operations.
func (i *Integrator) Login(ctx context.Context, creds *hookenv.Credential) error {
	tenantID, err := azureauth.DiscoverTenantID(ctx, creds.SubscriptionID, i.transport)
	if err != nil {
		return errors.Trace(err)
	}
	logger.Infof("forcing logout of Azure CLI")
	if err := i.cli.Logout(); err != nil {
		logger.Debugf("logout failed (ignored): %v", err)
	}
	logger.Infof("logging in to Azure CLI")
	if err := i.cli.Login(creds.ApplicationID, creds.ApplicationPassword, tenantID); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(i.store.Set(subIDKey, creds.SubscriptionID))
}

func (i *Integrator) vmIdentities() (map[string]string, error) {
	identities := map[string]string{}
	err := i.store.Get(vmIdentitiesKey, &identities)
	if err != nil && !errors.IsNotFound(err) {
		return nil, errors.Trace(err)
	}
	return identities, nil
}

// EnsureMSI enables the system-assigned managed identity on the
// request's VM, reusing the cached principal when it is already
// enabled.
func (i *Integrator) EnsureMSI(req *endpoint.Request) error {
	identities, err := i.vmIdentities()
	if err != nil {
		return errors.Trace(err)
	}
	msi := identities[req.VMID]
	if msi == "" {
		logger.Infof("enabling Managed Service Identity")
		msi, err = i.cli.AssignVMIdentity(req.VMName, req.ResourceGroup)
		if err != nil {
			return errors.Trace(err)
		}
		identities[req.VMID] = msi
		if err := i.store.Set(vmIdentitiesKey, identities); err != nil {
			return errors.Trace(err)
		}
	}
	// Remember the model's resource group for load balancer work.
	if err := i.store.Set(modelGroupKey, req.ResourceGroup); err != nil {
		return errors.Trace(err)
	}
	logger.Infof("instance MSI is: %s", msi)
	return nil
}

// SendAdditionalMetadata publishes instance details the requesting
// charm cannot get from the metadata server. The network names are
// hard-coded juju defaults unless configured otherwise; with Juju
// they are always the same and looking them up is needless work.
func (i *Integrator) SendAdditionalMetadata(req *endpoint.Request) error {
	config, err := i.tools.ConfigGet()
	if err != nil {
		return errors.Trace(err)
	}
	group, err := i.cli.ShowResourceGroup(req.ResourceGroup)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(i.clients.SendAdditionalMetadata(req, endpoint.Metadata{
		ResourceGroupLocation: group.Location,
		VNetName:              config.VNetName(),
		VNetResourceGroup:     config.VNetResourceGroup(req.ResourceGroup),
		SubnetName:            config.SubnetName(),
		SecurityGroupName:     config.SecurityGroupName(),
	}))
}

// TagInstance applies the request's instance tags to its VM.
func (i *Integrator) TagInstance(req *endpoint.Request) error {
	logger.Infof("tagging instance with: %v", req.InstanceTags)
	return errors.Trace(i.cli.UpdateVMTags(req.VMName, req.ResourceGroup, req.InstanceTags))
}

// EnableInstanceInspection grants read access to VM details.
func (i *Integrator) EnableInstanceInspection(req *endpoint.Request) error {
	logger.Infof("enabling instance inspection")
	role, err := i.customRole("vm-reader")
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(i.assignRole(req, role, ""))
}

// EnableNetworkManagement grants the built-in network contributor role.
func (i *Integrator) EnableNetworkManagement(req *endpoint.Request) error {
	logger.Infof("enabling network management")
	return errors.Trace(i.assignRole(req, roles.NetworkManager, ""))
}

// EnableLoadBalancerManagement grants the custom lb-manager role; when
// the virtual network lives in another resource group the role is
// granted there as well.
func (i *Integrator) EnableLoadBalancerManagement(req *endpoint.Request) error {
	logger.Infof("enabling load balancer management")
	role, err := i.customRole("lb-manager")
	if err != nil {
		return errors.Trace(err)
	}
	if err := i.assignRole(req, role, ""); err != nil {
		return errors.Trace(err)
	}
	config, err := i.tools.ConfigGet()
	if err != nil {
		return errors.Trace(err)
	}
	vnetGroup := config.ConfiguredVNetResourceGroup()
	if vnetGroup != "" && vnetGroup != req.ResourceGroup {
		return errors.Trace(i.assignRole(req, role, vnetGroup))
	}
	return nil
}

// EnableSecurityManagement grants the built-in security admin role.
func (i *Integrator) EnableSecurityManagement(req *endpoint.Request) error {
	logger.Infof("enabling security management")
	return errors.Trace(i.assignRole(req, roles.SecurityManager, ""))
}

// EnableBlockStorageManagement grants the custom disk-manager role.
func (i *Integrator) EnableBlockStorageManagement(req *endpoint.Request) error {
	logger.Infof("enabling block storage management")
	role, err := i.customRole("disk-manager")
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(i.assignRole(req, role, ""))
}

// EnableDNSManagement grants the built-in DNS zone contributor role.
func (i *Integrator) EnableDNSManagement(req *endpoint.Request) error {
	logger.Infof("enabling DNS management")
	return errors.Trace(i.assignRole(req, roles.DNSManager, ""))
}

// EnableObjectStorageAccess grants read-only blob storage access.
func (i *Integrator) EnableObjectStorageAccess(req *endpoint.Request) error {
	logger.Infof("enabling object storage read")
	return errors.Trace(i.assignRole(req, roles.ObjectStoreReader, ""))
}

// EnableObjectStorageManagement grants full blob storage access.
func (i *Integrator) EnableObjectStorageManagement(req *endpoint.Request) error {
	logger.Infof("enabling object store management")
	return errors.Trace(i.assignRole(req, roles.ObjectStoreManager, ""))
}

// customRole translates a short role name into the subscription's
// full custom role name, registering the role definition on first
// use. Custom roles are per subscription and the subscription is
// shared by the whole credential, so the 2k custom role limit is not
// a practical concern.
func (i *Integrator) customRole(shortName string) (string, error) {
	known := map[string]string{}
	if err := i.store.Get(rolesKey, &known); err != nil && !errors.IsNotFound(err) {
		return "", errors.Trace(err)
	}
	if fullName, ok := known[shortName]; ok {
		return fullName, nil
	}
	subID, err := i.store.GetString(subIDKey)
	if err != nil {
		return "", errors.Trace(err)
	}
	definition, err := roles.Load(i.rolesDir, shortName)
	if err != nil {
		return "", errors.Trace(err)
	}
	doc, fullName, err := definition.Expand(subID)
	if err != nil {
		return "", errors.Trace(err)
	}
	logger.Infof("ensuring role %s", fullName)
	if err := i.cli.CreateRoleDefinition(doc); err != nil && !errors.IsAlreadyExists(err) {
		return "", errors.Trace(err)
	}
	known[shortName] = fullName
	if err := i.store.Set(rolesKey, known); err != nil {
		return "", errors.Trace(err)
	}
	return fullName, nil
}

// assignRole grants role to the request's MSI, scoped to the request's
// resource group unless overridden. Granting a role twice is not an
// error.
func (i *Integrator) assignRole(req *endpoint.Request, role, resourceGroup string) error {
	identities, err := i.vmIdentities()
	if err != nil {
		return errors.Trace(err)
	}
	msi := identities[req.VMID]
	if msi == "" {
		return errors.NotFoundf("managed identity for VM %q", req.VMID)
	}
	if resourceGroup == "" {
		resourceGroup = req.ResourceGroup
	}
	err = i.cli.CreateRoleAssignment(msi, resourceGroup, role)
	if err != nil && !errors.IsAlreadyExists(err) {
		return errors.Trace(err)
	}
	return nil
}

// UpdateRoles brings every custom role definition shipped with the
// charm up to date in the subscription, refreshing the name cache.
// Roles are updated in place when they exist and created otherwise.
func (i *Integrator) UpdateRoles() error {
	subID, err := i.store.GetString(subIDKey)
	if err != nil {
		return errors.Trace(err)
	}
	definitions, err := roles.LoadAll(i.rolesDir)
	if err != nil {
		return errors.Trace(err)
	}
	known := map[string]string{}
	for _, definition := range definitions {
		doc, fullName, err := definition.Expand(subID)
		if err != nil {
			return errors.Trace(err)
		}
		err = i.cli.UpdateRoleDefinition(doc)
		switch {
		case err == nil:
			logger.Infof("updated existing role %s", fullName)
		case errors.IsNotFound(err):
			if err := i.cli.CreateRoleDefinition(doc); err != nil {
				return errors.Trace(err)
			}
			logger.Infof("created new role %s", fullName)
		default:
			return errors.Trace(err)
		}
		known[definition.ShortName] = fullName
	}
	return errors.Trace(i.store.Set(rolesKey, known))
}

// Cleanup releases resources held for requests that have gone away.
// Nothing is currently tracked per request beyond role assignments,
// which stay with the VM identity.
func (i *Integrator) Cleanup() error {
	return nil
}
