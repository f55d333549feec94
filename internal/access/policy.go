// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package access

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// AppLabel prefixes every permission string.
const AppLabel = "tasks"

// ErrMethodNotAllowed is returned for verbs the policy does not map.
var ErrMethodNotAllowed = errors.New("method not allowed")

// =============================================================================
// CAPABILITIES AND RESOURCES
// =============================================================================

// Capability is a named permission verb.
type Capability string

const (
	CapView   Capability = "view"
	CapCancel Capability = "cancel"
	CapChange Capability = "change"
	CapDelete Capability = "delete"
)

// Resource is a kind of object guarded by the policy.
type Resource string

const (
	ResourceStatus   Resource = "status"
	ResourceArtifact Resource = "artifact"
)

// Permission is "<app>.<capability>_<resource>", e.g. "tasks.cancel_status".
type Permission string

// PermissionFor builds the permission for capability c on res.
func PermissionFor(c Capability, res Resource) Permission {
	return Permission(fmt.Sprintf("%s.%s_%s", AppLabel, c, res))
}

// Parse splits a permission into capability and resource.
func (p Permission) Parse() (Capability, Resource, error) {
	rest, ok := strings.CutPrefix(string(p), AppLabel+".")
	if !ok {
		return "", "", fmt.Errorf("permission %q: missing %q prefix", p, AppLabel)
	}
	c, res, ok := strings.Cut(rest, "_")
	if !ok || c == "" || res == "" {
		return "", "", fmt.Errorf("permission %q: want <capability>_<resource>", p)
	}
	return Capability(c), Resource(res), nil
}

var (
	PermViewStatus   = PermissionFor(CapView, ResourceStatus)
	PermCancelStatus = PermissionFor(CapCancel, ResourceStatus)
	PermChangeStatus = PermissionFor(CapChange, ResourceStatus)
	PermDeleteStatus = PermissionFor(CapDelete, ResourceStatus)

	PermViewArtifact   = PermissionFor(CapView, ResourceArtifact)
	PermChangeArtifact = PermissionFor(CapChange, ResourceArtifact)
	PermDeleteArtifact = PermissionFor(CapDelete, ResourceArtifact)
)

// =============================================================================
// VERB POLICY
// =============================================================================

// methodCapabilities maps HTTP verbs to the capability they require. POST is
// only routed to custom actions, of which cancel is the one defined.
var methodCapabilities = map[string]Capability{
	http.MethodGet:     CapView,
	http.MethodHead:    CapView,
	http.MethodOptions: CapView,
	http.MethodPost:    CapCancel,
	http.MethodPut:     CapChange,
	http.MethodPatch:   CapChange,
	http.MethodDelete:  CapDelete,
}

// RequiredCapability returns the capability an HTTP verb requires.
func RequiredCapability(method string) (Capability, error) {
	c, ok := methodCapabilities[strings.ToUpper(method)]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMethodNotAllowed, method)
	}
	return c, nil
}

// MethodsFor lists, sorted, the HTTP verbs that require capability c.
func MethodsFor(c Capability) []string {
	var out []string
	for m, need := range methodCapabilities {
		if need == c {
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out
}

// Required returns the permission an HTTP verb requires on res.
func Required(method string, res Resource) (Permission, error) {
	c, err := RequiredCapability(method)
	if err != nil {
		return "", err
	}
	return PermissionFor(c, res), nil
}
