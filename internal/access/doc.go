// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package access decides who may do what to task records.
//
// HTTP verbs map to capabilities (view, cancel, change, delete) and each
// capability combines with a resource type into a permission such as
// "tasks.cancel_status". Roles grant permissions with a scope: a user's own
// records, or any record.
//
// Object-level checks distinguish two failures: a caller who cannot view an
// object is told it does not exist (Hide), while one who can view it but
// lacks the capability is refused (Deny).
//
// # Usage
//
//	auth, _ := access.NewAuthorizer(grants, access.WithDefaultRole(access.RoleUser))
//	perm, _ := access.Required(http.MethodPost, access.ResourceStatus)
//	switch auth.Decide(caller, perm, record.UserID) {
//	case access.Hide:  // 404
//	case access.Deny:  // 403
//	}
package access
