// Copyright 2024 The Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

// Package workitem contains the base types shared by every layer of the
// scheduler: the QoS class enum, the per-client identity tuple, and the
// View interface that decouples the TagEngine and HighPriorityQueue from
// whatever concrete request type a host embeds its work in.
package workitem

import (
	"github.com/cockroachdb/redact"
)

// Class is the QoS class of a work item. Unrelated to the item's
// message-level Priority.
type Class int8

const (
	// Immediate work always bypasses the fair-share engine.
	Immediate Class = iota
	// Client work originates from an external tenant/client.
	Client
	// BackgroundRecovery is internal recovery/backfill work.
	BackgroundRecovery
	// BackgroundBestEffort is internal best-effort work (e.g. scrub).
	BackgroundBestEffort

	numClasses
)

// String implements fmt.Stringer.
func (c Class) String() string {
	switch c {
	case Immediate:
		return "immediate"
	case Client:
		return "client"
	case BackgroundRecovery:
		return "background_recovery"
	case BackgroundBestEffort:
		return "background_best_effort"
	default:
		return "unknown"
	}
}

// SafeFormat implements redact.SafeFormatter so class names may appear in
// redactable log output without being treated as sensitive.
func (c Class) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Print(redact.SafeString(c.String()))
}

// ClientProfileID disambiguates external tenants within the Client class.
// Ignored for every other Class.
type ClientProfileID string

// DefaultClientProfileID is used by callers that have no external client
// identity of their own, e.g. internal probes issued on behalf of "any"
// tenant.
const DefaultClientProfileID ClientProfileID = ""

// ID is the key under which the TagEngine and ClientRegistry track
// per-client tag state and configuration. Requesting it for Immediate
// work is a programming error: Immediate items never reach the
// TagEngine (see scheduler.Scheduler.Enqueue).
type ID struct {
	Class           Class
	ClientProfileID ClientProfileID
}

// Less gives SchedulerIDs a total, deterministic order, used to break ties
// between identical proportional tags during tag-engine Phase P selection
// by always favoring the lowest-ordered id.
func (id ID) Less(other ID) bool {
	if id.Class != other.Class {
		return id.Class < other.Class
	}
	return id.ClientProfileID < other.ClientProfileID
}

// String implements fmt.Stringer.
func (id ID) String() string {
	if id.Class != Client {
		return id.Class.String()
	}
	if id.ClientProfileID == DefaultClientProfileID {
		return "client/<default>"
	}
	return "client/" + string(id.ClientProfileID)
}

// SafeFormat implements redact.SafeFormatter. The client profile id may be
// derived from tenant-controlled data, so it is marked redactable while
// the class name is not.
func (id ID) SafeFormat(w redact.SafePrinter, _ rune) {
	if id.Class != Client {
		w.Print(id.Class)
		return
	}
	w.Printf("client/%s", string(id.ClientProfileID))
}

// View is the read-only surface the scheduler requires of a work item.
// Hosts adapt their own request types to this interface rather than
// copying fields into a scheduler-owned struct (see DESIGN.md, "Polymorphic
// work items").
type View interface {
	// Priority is the message-level priority, unrelated to QoS Class.
	Priority() uint32
	// Cost is the caller-declared cost in bytes. May be any int32; the
	// engine clamps it to at least one IO's worth of cost on admission.
	Cost() int32
	// SchedClass returns the QoS class of this item.
	SchedClass() Class
	// ClientProfile returns the external client identity. Only consulted
	// when SchedClass() == Client.
	ClientProfile() ClientProfileID
}

// SchedulerID returns the ID under which item's tag state is tracked,
// mirroring the Class/ClientProfileID pairing above.
func SchedulerID(item View) ID {
	id := ID{Class: item.SchedClass()}
	if id.Class == Client {
		id.ClientProfileID = item.ClientProfile()
	}
	return id
}

// ClampCost enforces the "clamped to >= 1" admission rule from the data
// model: a caller-declared cost of zero or negative bytes still consumes
// at least one byte of capacity.
func ClampCost(cost int32) int32 {
	if cost < 1 {
		return 1
	}
	return cost
}
