// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package endpoint reads and writes the charm's relation endpoints:
// "clients" (the azure-integration interface) and "lb-consumers" (the
// loadbalancer interface). The relation data is the only protocol
// here; both interfaces are flat string settings with JSON payloads
// for structured values.
package endpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"

	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/names/v5"

	"github.com/juju/azure-integrator/internal/hookenv"
)

var logger = loggo.GetLogger("azure-integrator.endpoint")

// Request is one related unit's integration request: which VM it runs
// on and which capabilities it wants granted to that VM's identity.
type Request struct {
	RelationID string
	UnitName   string

	Charm         string
	VMID          string
	VMName        string
	ResourceGroup string
	InstanceTags  map[string]string

	InstanceInspection      bool
	NetworkManagement       bool
	LoadBalancerManagement  bool
	SecurityManagement      bool
	BlockStorageManagement  bool
	DNSManagement           bool
	ObjectStorageAccess     bool
	ObjectStorageManagement bool
}

// ApplicationName returns the name of the requesting application.
func (r *Request) ApplicationName() (string, error) {
	app, err := names.UnitApplication(r.UnitName)
	return app, errors.Trace(err)
}

// Hash identifies the request content, so a repeat hook run can tell
// an already-granted request from a changed one.
func (r *Request) Hash() string {
	payload, _ := json.Marshal(r)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func parseBool(value string) bool {
	parsed, err := strconv.ParseBool(value)
	return err == nil && parsed
}

func parseRequest(relationID, unit string, settings map[string]string) (*Request, error) {
	req := &Request{
		RelationID:    relationID,
		UnitName:      unit,
		Charm:         settings["charm"],
		VMID:          settings["vm-id"],
		VMName:        settings["vm-name"],
		ResourceGroup: settings["res-group"],

		InstanceInspection:      parseBool(settings["enable-instance-inspection"]),
		NetworkManagement:       parseBool(settings["enable-network-management"]),
		LoadBalancerManagement:  parseBool(settings["enable-loadbalancer-management"]),
		SecurityManagement:      parseBool(settings["enable-security-management"]),
		BlockStorageManagement:  parseBool(settings["enable-block-storage-management"]),
		DNSManagement:           parseBool(settings["enable-dns-management"]),
		ObjectStorageAccess:     parseBool(settings["enable-object-storage-access"]),
		ObjectStorageManagement: parseBool(settings["enable-object-storage-management"]),
	}
	if tags := settings["instance-tags"]; tags != "" {
		if err := json.Unmarshal([]byte(tags), &req.InstanceTags); err != nil {
			return nil, errors.Annotatef(err, "parsing instance-tags from %q", unit)
		}
	}
	return req, nil
}

// Clients is the provider side of the azure-integration interface.
type Clients struct {
	tools    *hookenv.Tools
	unitName string
}

// NewClients returns a view over the clients endpoint for the local
// unit.
func NewClients(tools *hookenv.Tools, unitName string) *Clients {
	return &Clients{tools: tools, unitName: unitName}
}

// completed returns the vm-id to request-hash map this unit has
// published on a relation.
func (e *Clients) completed(relationID string) (map[string]string, error) {
	settings, err := e.tools.RelationGet(relationID, e.unitName)
	if err != nil {
		return nil, errors.Trace(err)
	}
	done := map[string]string{}
	if raw := settings["completed"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &done); err != nil {
			return nil, errors.Annotate(err, "parsing completed map")
		}
	}
	return done, nil
}

// Requests returns the integration requests not yet marked completed,
// in stable unit order.
func (e *Clients) Requests() ([]*Request, error) {
	ids, err := e.tools.RelationIDs("clients")
	if err != nil {
		return nil, errors.Trace(err)
	}
	var pending []*Request
	for _, relationID := range ids {
		done, err := e.completed(relationID)
		if err != nil {
			return nil, errors.Trace(err)
		}
		units, err := e.tools.RelationList(relationID)
		if err != nil {
			return nil, errors.Trace(err)
		}
		sort.Strings(units)
		for _, unit := range units {
			settings, err := e.tools.RelationGet(relationID, unit)
			if err != nil {
				return nil, errors.Trace(err)
			}
			if settings["vm-id"] == "" || settings["vm-name"] == "" || settings["res-group"] == "" {
				logger.Debugf("ignoring incomplete request from %q", unit)
				continue
			}
			req, err := parseRequest(relationID, unit, settings)
			if err != nil {
				return nil, errors.Trace(err)
			}
			if done[req.VMID] == req.Hash() {
				continue
			}
			pending = append(pending, req)
		}
	}
	return pending, nil
}

// MarkCompleted records that a request has been fully granted, so it
// is not replayed on the next hook.
func (e *Clients) MarkCompleted(req *Request) error {
	done, err := e.completed(req.RelationID)
	if err != nil {
		return errors.Trace(err)
	}
	done[req.VMID] = req.Hash()
	payload, err := json.Marshal(done)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(e.tools.RelationSet(req.RelationID, false, map[string]string{
		"completed": string(payload),
	}))
}

// Metadata is the additional instance information published back to a
// requesting charm; with Juju on Azure most of it is model-constant.
type Metadata struct {
	ResourceGroupLocation string
	VNetName              string
	VNetResourceGroup     string
	SubnetName            string
	SecurityGroupName     string
}

// SendAdditionalMetadata publishes metadata on the request's relation.
func (e *Clients) SendAdditionalMetadata(req *Request, meta Metadata) error {
	return errors.Trace(e.tools.RelationSet(req.RelationID, false, map[string]string{
		"resource-group-location": meta.ResourceGroupLocation,
		"vnet-name":               meta.VNetName,
		"vnet-resource-group":     meta.VNetResourceGroup,
		"subnet-name":             meta.SubnetName,
		"security-group-name":     meta.SecurityGroupName,
	}))
}
