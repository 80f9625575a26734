// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package roles knows the RBAC roles the charm can grant: built-in
// Azure role GUIDs, and the custom role definitions shipped with the
// charm as JSON documents under files/roles.
package roles

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/juju/errors"
)

// Built-in Azure role definition IDs, stable across subscriptions.
const (
	NetworkManager     = "4d97b98b-1d4f-4787-a291-c67834d212e7"
	SecurityManager    = "e3d13bf0-dd5a-482e-ba6b-9b8433878d10"
	DNSManager         = "befefa01-2a29-4197-83a8-272ff33ce314"
	ObjectStoreReader  = "2a2b9908-6ea1-4ae2-8e65-a410df84e7d1"
	ObjectStoreManager = "ba92f5b4-2d11-453d-a403-e96b0029c9fe"
)

// MaxRoleNameLen is the Azure limit on custom role names.
const MaxRoleNameLen = 64

// Definition is a custom role definition document. Name and the first
// assignable scope carry a {} placeholder for the subscription ID, so
// one charm revision can serve any subscription without name
// collisions.
type Definition struct {
	ShortName string
	raw       []byte
}

// Load reads the definition for a short role name (e.g. "vm-reader")
// from dir.
func Load(dir, shortName string) (*Definition, error) {
	path := filepath.Join(dir, shortName+".json")
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFoundf("role definition %q", shortName)
		}
		return nil, errors.Trace(err)
	}
	return &Definition{ShortName: shortName, raw: raw}, nil
}

// LoadAll reads every definition in dir, sorted by short name.
func LoadAll(dir string) ([]*Definition, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, errors.Trace(err)
	}
	sort.Strings(matches)
	definitions := make([]*Definition, 0, len(matches))
	for _, path := range matches {
		shortName := strings.TrimSuffix(filepath.Base(path), ".json")
		definition, err := Load(dir, shortName)
		if err != nil {
			return nil, errors.Trace(err)
		}
		definitions = append(definitions, definition)
	}
	return definitions, nil
}

// Expand substitutes the subscription ID into the definition and
// returns the document to hand to az along with the role's full name.
func (d *Definition) Expand(subscriptionID string) ([]byte, string, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(d.raw, &doc); err != nil {
		return nil, "", errors.Annotatef(err, "parsing role definition %q", d.ShortName)
	}
	name, ok := doc["Name"].(string)
	if !ok {
		return nil, "", errors.Errorf("role definition %q has no Name", d.ShortName)
	}
	fullName := Elide(strings.ReplaceAll(name, "{}", subscriptionID), MaxRoleNameLen)
	doc["Name"] = fullName

	scopes, ok := doc["AssignableScopes"].([]interface{})
	if !ok || len(scopes) == 0 {
		return nil, "", errors.Errorf("role definition %q has no AssignableScopes", d.ShortName)
	}
	scope, ok := scopes[0].(string)
	if !ok {
		return nil, "", errors.Errorf("role definition %q has a malformed scope", d.ShortName)
	}
	scopes[0] = strings.ReplaceAll(scope, "{}", subscriptionID)

	expanded, err := json.Marshal(doc)
	if err != nil {
		return nil, "", errors.Trace(err)
	}
	return expanded, fullName, nil
}

const ellipsis = "..."

// Elide shortens s to at most maxLen by replacing characters in the
// middle with an ellipsis, keeping both ends visible.
func Elide(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	keep := maxLen - len(ellipsis)
	head := keep / 2
	tail := keep - head
	return s[:head] + ellipsis + s[len(s)-tail:]
}
