// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package hookenv

import (
	"github.com/google/uuid"
	"github.com/juju/errors"
	yaml "gopkg.in/yaml.v2"
)

// Credential is the service principal credential the charm operates
// with, as supplied by juju trust or the credentials config.
type Credential struct {
	ApplicationID       string `json:"application-id" yaml:"application-id"`
	ApplicationPassword string `json:"application-password" yaml:"application-password"`
	SubscriptionID      string `json:"subscription-id" yaml:"subscription-id"`
}

// Validate checks the credential is complete enough to log in with.
func (c Credential) Validate() error {
	if c.ApplicationID == "" {
		return errors.NotValidf("empty application-id")
	}
	if c.ApplicationPassword == "" {
		return errors.NotValidf("empty application-password")
	}
	if _, err := uuid.Parse(c.SubscriptionID); err != nil {
		return errors.NotValidf("subscription-id %q", c.SubscriptionID)
	}
	return nil
}

// CredentialGet obtains the cloud credential through the
// credential-get hook tool. The error satisfies:
//   - errors.IsNotSupported when the controller does not provide the
//     tool at all;
//   - errors.IsUnauthorized when the model has not been trusted
//     (juju trust <app>).
func (t *Tools) CredentialGet() (*Credential, error) {
	out, err := t.run("credential-get", "--format=yaml")
	if err != nil {
		return nil, errors.Trace(err)
	}
	var spec struct {
		Credential struct {
			Attributes Credential `yaml:"attributes"`
		} `yaml:"credential"`
	}
	if err := yaml.Unmarshal([]byte(out), &spec); err != nil {
		return nil, errors.Annotate(err, "cannot parse credential-get output")
	}
	creds := spec.Credential.Attributes
	if err := creds.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &creds, nil
}
