// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package hookenv

import (
	"github.com/juju/errors"
)

// Status is a workload status value accepted by status-set.
type Status string

const (
	StatusMaintenance Status = "maintenance"
	StatusBlocked     Status = "blocked"
	StatusWaiting     Status = "waiting"
	StatusActive      Status = "active"
)

// SetStatus sets the unit's workload status.
func (t *Tools) SetStatus(status Status, message string) error {
	_, err := t.run("status-set", string(status), message)
	return errors.Trace(err)
}

// Maintenance is shorthand for a maintenance status with a message.
func (t *Tools) Maintenance(message string) error {
	return t.SetStatus(StatusMaintenance, message)
}

// Blocked is shorthand for a blocked status with a message.
func (t *Tools) Blocked(message string) error {
	return t.SetStatus(StatusBlocked, message)
}

// Active is shorthand for an active status with a message.
func (t *Tools) Active(message string) error {
	return t.SetStatus(StatusActive, message)
}
