// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package hookenv

import (
	"fmt"
	"sort"

	"github.com/juju/errors"
	yaml "gopkg.in/yaml.v2"
)

// RelationIDs returns the IDs of the established relations on the
// given endpoint, e.g. "clients:3".
func (t *Tools) RelationIDs(endpoint string) ([]string, error) {
	out, err := t.run("relation-ids", "--format=yaml", endpoint)
	if err != nil {
		return nil, errors.Trace(err)
	}
	var ids []string
	if out != "" {
		if err := yaml.Unmarshal([]byte(out), &ids); err != nil {
			return nil, errors.Annotate(err, "cannot parse relation-ids output")
		}
	}
	return ids, nil
}

// RelationList returns the remote units present on a relation.
func (t *Tools) RelationList(relationID string) ([]string, error) {
	out, err := t.run("relation-list", "--format=yaml", "-r", relationID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	var units []string
	if out != "" {
		if err := yaml.Unmarshal([]byte(out), &units); err != nil {
			return nil, errors.Annotate(err, "cannot parse relation-list output")
		}
	}
	return units, nil
}

// RelationGet returns the settings a remote unit has published on a
// relation. Juju relation data is flat string/string.
func (t *Tools) RelationGet(relationID, unit string) (map[string]string, error) {
	return t.relationGet(relationID, unit, false)
}

// RelationGetApp returns the application-level settings published by
// the remote application's leader.
func (t *Tools) RelationGetApp(relationID, app string) (map[string]string, error) {
	return t.relationGet(relationID, app, true)
}

func (t *Tools) relationGet(relationID, member string, app bool) (map[string]string, error) {
	args := []string{"--format=yaml", "-r", relationID}
	if app {
		args = append(args, "--app")
	}
	args = append(args, "-", member)
	out, err := t.run("relation-get", args...)
	if err != nil {
		return nil, errors.Trace(err)
	}
	settings := map[string]string{}
	if out != "" {
		if err := yaml.Unmarshal([]byte(out), &settings); err != nil {
			return nil, errors.Annotate(err, "cannot parse relation-get output")
		}
	}
	return settings, nil
}

// RelationSet publishes settings on a relation, at unit or application
// level. Setting a key to "" clears it.
func (t *Tools) RelationSet(relationID string, app bool, settings map[string]string) error {
	keys := make([]string, 0, len(settings))
	for key := range settings {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	args := []string{"-r", relationID}
	if app {
		args = append(args, "--app")
	}
	for _, key := range keys {
		args = append(args, fmt.Sprintf("%s=%s", key, settings[key]))
	}
	_, err := t.run("relation-set", args...)
	return errors.Trace(err)
}
