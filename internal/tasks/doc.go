// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tasks defines the user task status record, its artifacts and the
// lifecycle state machine.
//
// # Key Types
//
//   - Status: one user-triggered task, with step progress and attempt count
//   - State: Pending, In Progress, Succeeded, Failed, Canceled, Retrying
//   - Artifact: a file, text or URL produced by a task
//   - Signaler: delivers cancellation signals to the execution engine
//
// # Lifecycle
//
//	Pending -> In Progress -> Succeeded | Failed | Retrying
//	Retrying -> In Progress (attempts + 1)
//	any non-terminal -> Canceled (Status.Cancel only)
//
// Succeeded, Failed and Canceled are terminal. Every transition or progress
// update attempted on a terminal record fails with ErrInvalidTransition and
// leaves the record unchanged.
//
// # Usage
//
//	st, _ := tasks.NewStatus("alice", "Export grades", 10)
//	_ = st.Start()
//	_ = st.SetProgress(10, 10)
//	_ = st.Succeed()
//
// Engines learn about cancellations through a Signaler. The server fans
// signals out with a Broadcaster; WebhookSignaler posts them to an engine
// endpoint:
//
//	signaler := tasks.MultiSignaler{broadcaster, tasks.NewWebhookSignaler(url, 5*time.Second)}
package tasks
