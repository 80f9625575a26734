// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package reactive persists the charm's handler flags between hook
// invocations, in the style of the reactive charm framework: a flag
// is a named bit that gates which handlers run.
package reactive

import (
	"github.com/juju/collections/set"
	"github.com/juju/errors"

	"github.com/juju/azure-integrator/internal/unitdata"
)

const flagsKey = "reactive.flags"

// Flags is the persistent flag set.
type Flags struct {
	store *unitdata.Store
}

// NewFlags returns a Flags backed by the given store.
func NewFlags(store *unitdata.Store) *Flags {
	return &Flags{store: store}
}

func (f *Flags) load() (set.Strings, error) {
	var flags []string
	err := f.store.Get(flagsKey, &flags)
	if err != nil && !errors.IsNotFound(err) {
		return nil, errors.Trace(err)
	}
	return set.NewStrings(flags...), nil
}

func (f *Flags) save(flags set.Strings) error {
	return errors.Trace(f.store.Set(flagsKey, flags.SortedValues()))
}

// IsSet reports whether flag is set.
func (f *Flags) IsSet(flag string) (bool, error) {
	flags, err := f.load()
	if err != nil {
		return false, errors.Trace(err)
	}
	return flags.Contains(flag), nil
}

// Set sets flag.
func (f *Flags) Set(flag string) error {
	flags, err := f.load()
	if err != nil {
		return errors.Trace(err)
	}
	flags.Add(flag)
	return errors.Trace(f.save(flags))
}

// Clear clears flag.
func (f *Flags) Clear(flag string) error {
	flags, err := f.load()
	if err != nil {
		return errors.Trace(err)
	}
	flags.Remove(flag)
	return errors.Trace(f.save(flags))
}

// Toggle sets or clears flag according to value.
func (f *Flags) Toggle(flag string, value bool) error {
	if value {
		return errors.Trace(f.Set(flag))
	}
	return errors.Trace(f.Clear(flag))
}
