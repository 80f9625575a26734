// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package azurecli

import (
	"strings"

	"github.com/juju/errors"
)

// classifyError turns the stderr text of a failed az invocation into an
// error whose type callers can test for. The az tool reports most
// conditions only in prose, so this is substring matching on the
// messages it is known to emit.
func classifyError(stderr string) error {
	switch {
	case strings.Contains(stderr, "already exists"):
		return errors.NewAlreadyExists(nil, stderr)
	case strings.Contains(stderr, "Please provide") && strings.Contains(stderr, "an existing"):
		return errors.NewNotFound(nil, stderr)
	case strings.Contains(stderr, "No definition was found"):
		return errors.NewNotFound(nil, stderr)
	}
	return errors.New(stderr)
}
