// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package endpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/juju/errors"
	"github.com/juju/names/v5"

	"github.com/juju/azure-integrator/internal/hookenv"
)

// Error types understood by loadbalancer interface consumers.
const (
	LBErrorProvider    = "provider_error"
	LBErrorUnsupported = "unsupported"
)

// LBRequest is a consumer application's load balancer request,
// published as a JSON document in its application relation data.
type LBRequest struct {
	RelationID string `json:"-"`
	AppName    string `json:"-"`

	raw string

	Name           string         `json:"name"`
	TrafficType    string         `json:"traffic-type"`
	PortMapping    map[string]int `json:"port-mapping"`
	Backends       []string       `json:"backends"`
	Algorithm      []string       `json:"algorithm,omitempty"`
	Sticky         bool           `json:"sticky,omitempty"`
	TLSTermination bool           `json:"tls-termination,omitempty"`
	Public         bool           `json:"public"`
}

// Hash identifies the request content as published.
func (r *LBRequest) Hash() string {
	sum := sha256.Sum256([]byte(r.raw))
	return hex.EncodeToString(sum[:])
}

// LBResponse is the provider's answer to an LBRequest.
type LBResponse struct {
	Address      string            `json:"address,omitempty"`
	Error        string            `json:"error,omitempty"`
	ErrorMessage string            `json:"error-message,omitempty"`
	ErrorFields  map[string]string `json:"error-fields,omitempty"`
	RequestHash  string            `json:"request-hash"`
}

// LBConsumers is the provider side of the loadbalancer interface.
type LBConsumers struct {
	tools    *hookenv.Tools
	unitName string
}

// NewLBConsumers returns a view over the lb-consumers endpoint for the
// local unit.
func NewLBConsumers(tools *hookenv.Tools, unitName string) *LBConsumers {
	return &LBConsumers{tools: tools, unitName: unitName}
}

func (e *LBConsumers) localApp() (string, error) {
	app, err := names.UnitApplication(e.unitName)
	return app, errors.Trace(err)
}

// AllRequests returns every parseable request currently published on
// the endpoint.
func (e *LBConsumers) AllRequests() ([]*LBRequest, error) {
	ids, err := e.tools.RelationIDs("lb-consumers")
	if err != nil {
		return nil, errors.Trace(err)
	}
	var requests []*LBRequest
	for _, relationID := range ids {
		units, err := e.tools.RelationList(relationID)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if len(units) == 0 {
			continue
		}
		app, err := names.UnitApplication(units[0])
		if err != nil {
			return nil, errors.Trace(err)
		}
		settings, err := e.tools.RelationGetApp(relationID, app)
		if err != nil {
			return nil, errors.Trace(err)
		}
		raw := settings["request"]
		if raw == "" {
			continue
		}
		req := &LBRequest{RelationID: relationID, AppName: app, raw: raw}
		if err := json.Unmarshal([]byte(raw), req); err != nil {
			return nil, errors.Annotatef(err, "parsing load balancer request from %q", app)
		}
		requests = append(requests, req)
	}
	return requests, nil
}

// NewRequests returns the requests we have not yet responded to at
// their current content.
func (e *LBConsumers) NewRequests() ([]*LBRequest, error) {
	all, err := e.AllRequests()
	if err != nil {
		return nil, errors.Trace(err)
	}
	localApp, err := e.localApp()
	if err != nil {
		return nil, errors.Trace(err)
	}
	var fresh []*LBRequest
	for _, req := range all {
		settings, err := e.tools.RelationGetApp(req.RelationID, localApp)
		if err != nil {
			return nil, errors.Trace(err)
		}
		var previous LBResponse
		if raw := settings["response"]; raw != "" {
			if err := json.Unmarshal([]byte(raw), &previous); err != nil {
				return nil, errors.Annotate(err, "parsing published response")
			}
		}
		if previous.RequestHash == req.Hash() {
			continue
		}
		fresh = append(fresh, req)
	}
	return fresh, nil
}

// SendResponse publishes a response for the given request.
func (e *LBConsumers) SendResponse(req *LBRequest, resp LBResponse) error {
	resp.RequestHash = req.Hash()
	payload, err := json.Marshal(resp)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(e.tools.RelationSet(req.RelationID, true, map[string]string{
		"response": string(payload),
	}))
}
