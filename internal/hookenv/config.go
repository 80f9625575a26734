// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package hookenv

import (
	"github.com/juju/errors"
	"github.com/juju/schema"
	yaml "gopkg.in/yaml.v2"
)

var configFields = schema.Fields{
	"credentials":       schema.String(),
	"vnetName":          schema.String(),
	"vnetResourceGroup": schema.String(),
	"subnetName":        schema.String(),
	"vnetSecurityGroup": schema.String(),
}

var configDefaults = schema.Defaults{
	"credentials":       "",
	"vnetName":          "",
	"vnetResourceGroup": "",
	"subnetName":        "",
	"vnetSecurityGroup": "",
}

var configChecker = schema.FieldMap(configFields, configDefaults)

// Config is the charm's validated configuration.
type Config map[string]interface{}

// ConfigGet reads and validates the charm config.
func (t *Tools) ConfigGet() (Config, error) {
	out, err := t.run("config-get", "--format=yaml", "--all")
	if err != nil {
		return nil, errors.Trace(err)
	}
	raw := map[interface{}]interface{}{}
	if out != "" {
		if err := yaml.Unmarshal([]byte(out), &raw); err != nil {
			return nil, errors.Annotate(err, "cannot parse config-get output")
		}
	}
	coerced, err := configChecker.Coerce(raw, nil)
	if err != nil {
		return nil, errors.Annotate(err, "invalid charm config")
	}
	return Config(coerced.(map[string]interface{})), nil
}

func (c Config) str(key string) string {
	value, _ := c[key].(string)
	return value
}

// Credentials returns the base64 credentials config, which overrides
// anything obtained through juju trust.
func (c Config) Credentials() string { return c.str("credentials") }

// VNetName returns the configured virtual network name, or the name
// juju gives the model's network when unconfigured.
func (c Config) VNetName() string {
	if name := c.str("vnetName"); name != "" {
		return name
	}
	return "juju-internal-network"
}

// VNetResourceGroup returns the resource group holding the virtual
// network; fallback is the resource group of the requesting VM.
func (c Config) VNetResourceGroup(fallback string) string {
	if group := c.str("vnetResourceGroup"); group != "" {
		return group
	}
	return fallback
}

// ConfiguredVNetResourceGroup returns the vnetResourceGroup option as
// configured, empty when unset.
func (c Config) ConfiguredVNetResourceGroup() string {
	return c.str("vnetResourceGroup")
}

// SubnetName returns the configured subnet name or the juju default.
func (c Config) SubnetName() string {
	if name := c.str("subnetName"); name != "" {
		return name
	}
	return "juju-internal-subnet"
}

// SecurityGroupName returns the configured network security group name
// or the juju default.
func (c Config) SecurityGroupName() string {
	if name := c.str("vnetSecurityGroup"); name != "" {
		return name
	}
	return "juju-internal-nsg"
}
