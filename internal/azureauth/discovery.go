// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package azureauth derives the Azure AD tenant behind a subscription.
// The subscription ID alone does not expose its tenant, but an
// unauthenticated request to the resource manager API is rejected with
// a WWW-Authenticate header whose authorization URI carries it.
package azureauth

import (
	"context"
	"io"
	"net/http"
	"regexp"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/juju/errors"
	"github.com/juju/loggo"
)

var logger = loggo.GetLogger("azure-integrator.azureauth")

const subscriptionsAPIVersion = "2018-03-01-01.6.1"

var authorizationURIRegexp = regexp.MustCompile(`authorization_uri="[^"]*/([^/"]*)"`)

// DiscoverTenantID returns the tenant ID owning the given subscription.
// The request is made deliberately without credentials; anything other
// than an unauthorized response means the discovery trick no longer
// works.
func DiscoverTenantID(ctx context.Context, subscriptionID string, transport policy.Transporter) (string, error) {
	if transport == nil {
		transport = http.DefaultClient
	}
	url := "https://management.azure.com/subscriptions/" +
		subscriptionID + "?api-version=" + subscriptionsAPIVersion
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return "", errors.Trace(err)
	}
	resp, err := transport.Do(req)
	if err != nil {
		return "", errors.Annotate(err, "getting tenant ID")
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusUnauthorized {
		return "", errors.Errorf(
			`getting tenant ID: expected "unauthorized" response, got %v`, resp.StatusCode)
	}
	header := resp.Header.Get("WWW-Authenticate")
	if header == "" {
		return "", errors.New("getting tenant ID: missing WWW-Authenticate header")
	}
	match := authorizationURIRegexp.FindStringSubmatch(header)
	if match == nil {
		return "", errors.Errorf("getting tenant ID: unable to find authorization URI in %q", header)
	}
	logger.Debugf("tenant ID for subscription %q is %q", subscriptionID, match[1])
	return match[1], nil
}
