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

// Package clientinfo holds the per-class and per-external-client
// (reservation, weight, limit) tuples the TagEngine consumes, and the
// profile tables that materialize them from coarse policy configuration.
package clientinfo

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/mohit84/mclock/pkg/mclock/clock"
	"github.com/mohit84/mclock/pkg/mclock/workitem"
)

// DefaultMin is the strictly positive floor every ClientInfo.Reservation
// and ClientInfo.Limit is clamped to; a configured ratio of 0 resolves to
// this floor for Reservation ("no minimum") and to DefaultMax for Limit
// ("no cap").
const DefaultMin = 1.0

// DefaultMax is the very large sentinel a zero limit-ratio resolves to.
const DefaultMax = 1e15

// Info is the (reservation, weight, limit) tuple governing one
// SchedulerID, in cost-units (bytes) per second.
type Info struct {
	Reservation float64
	Weight      uint64
	Limit       float64
}

// clamp enforces the registry invariant that, after any update, Reservation
// and Limit lie in [DefaultMin, DefaultMax] and Weight is >= 1.
func (ci Info) clamp() Info {
	if ci.Reservation < DefaultMin {
		ci.Reservation = DefaultMin
	}
	if ci.Reservation > DefaultMax {
		ci.Reservation = DefaultMax
	}
	if ci.Limit < DefaultMin {
		ci.Limit = DefaultMin
	}
	if ci.Limit > DefaultMax {
		ci.Limit = DefaultMax
	}
	if ci.Weight < 1 {
		ci.Weight = 1
	}
	return ci
}

// ratios is a profile's (reservation_ratio, weight, limit_ratio) triple
// for one QoS class. A ratio of 0 means "use the sentinel".
type ratios struct {
	reservationRatio float64
	weight           uint64
	limitRatio       float64
}

func (r ratios) materialize(capacityPerShard int64) Info {
	info := Info{Weight: r.weight}
	if r.reservationRatio > 0 {
		info.Reservation = r.reservationRatio * float64(capacityPerShard)
	} else {
		info.Reservation = DefaultMin
	}
	if r.limitRatio > 0 {
		info.Limit = r.limitRatio * float64(capacityPerShard)
	} else {
		info.Limit = DefaultMax
	}
	return info.clamp()
}

// Profile names one of the built-in policy-level presets.
type Profile string

const (
	HighClientOps   Profile = "high_client_ops"
	HighRecoveryOps Profile = "high_recovery_ops"
	Balanced        Profile = "balanced"
	// Custom suppresses profile application, preserving whatever explicit
	// per-class values the operator has set directly.
	Custom Profile = "custom"
)

type profileSpec struct {
	client      ratios
	recovery    ratios
	bestEffort  ratios
}

var profiles = map[Profile]profileSpec{
	HighClientOps: {
		client:     ratios{reservationRatio: 0.60, weight: 2, limitRatio: 0.00},
		recovery:   ratios{reservationRatio: 0.40, weight: 1, limitRatio: 0.00},
		bestEffort: ratios{reservationRatio: 0.00, weight: 1, limitRatio: 0.70},
	},
	HighRecoveryOps: {
		client:     ratios{reservationRatio: 0.30, weight: 1, limitRatio: 0.00},
		recovery:   ratios{reservationRatio: 0.70, weight: 2, limitRatio: 0.00},
		bestEffort: ratios{reservationRatio: 0.00, weight: 1, limitRatio: 0.00},
	},
	Balanced: {
		client:     ratios{reservationRatio: 0.50, weight: 1, limitRatio: 0.00},
		recovery:   ratios{reservationRatio: 0.50, weight: 1, limitRatio: 0.00},
		bestEffort: ratios{reservationRatio: 0.00, weight: 1, limitRatio: 0.90},
	},
}

// ValidProfile reports whether name is one of the built-in profiles or
// Custom. Applying an unknown profile name is a fatal configuration error.
func ValidProfile(name Profile) bool {
	if name == Custom {
		return true
	}
	_, ok := profiles[name]
	return ok
}

// ClassOverrides carries explicit per-class (reservation, weight, limit)
// ratios as set directly by the operator; consulted only while Profile ==
// Custom, since non-custom profiles ignore direct per-class edits. The
// Reservation and Limit fields hold ratios of capacityPerShard, resolved
// exactly like a profile's ratios.
type ClassOverrides struct {
	Recovery   Info
	BestEffort Info
	// ExternalDefault is the default_external_client_info fallback used
	// for every client_profile_id without an explicit override.
	ExternalDefault Info
}

// Registry holds one Info per internal class, a sparse map of
// external-client overrides, and the default external-client fallback.
type Registry struct {
	recovery        Info
	bestEffort      Info
	defaultExternal Info

	external   map[workitem.ClientProfileID]Info
	lastTouch  map[workitem.ClientProfileID]time.Time

	clock clock.Source

	// EvictionFactor * anticipationTimeout is how long an external-client
	// override may sit idle before Registry.EvictIdle reclaims it. Without
	// this, a long-running node with high tenant churn accumulates a
	// sparse map entry per tenant ever seen and never frees one.
	EvictionFactor float64
}

// NewRegistry returns an empty Registry. Call UpdateFromConfig before use.
func NewRegistry(src clock.Source) *Registry {
	return &Registry{
		external:       make(map[workitem.ClientProfileID]Info),
		lastTouch:      make(map[workitem.ClientProfileID]time.Time),
		clock:          src,
		EvictionFactor: 8,
	}
}

// UpdateFromConfig recomputes every internal-class Info and the default
// external Info from profile, overrides (consulted only when profile ==
// Custom) and capacityPerShard. It is idempotent: identical inputs always
// produce an identical Registry state.
func (r *Registry) UpdateFromConfig(profile Profile, overrides ClassOverrides, capacityPerShard int64) error {
	if !ValidProfile(profile) {
		return errors.Newf("clientinfo: unknown profile %q", profile)
	}
	if profile == Custom {
		fromOverride := func(o Info) Info {
			return ratios{reservationRatio: o.Reservation, weight: o.Weight, limitRatio: o.Limit}.materialize(capacityPerShard)
		}
		r.recovery = fromOverride(overrides.Recovery)
		r.bestEffort = fromOverride(overrides.BestEffort)
		r.defaultExternal = fromOverride(overrides.ExternalDefault)
		return nil
	}
	spec := profiles[profile]
	r.recovery = spec.recovery.materialize(capacityPerShard)
	r.bestEffort = spec.bestEffort.materialize(capacityPerShard)
	r.defaultExternal = spec.client.materialize(capacityPerShard)
	return nil
}

// GetInfo is total over every non-Immediate scheduler id. Asking for
// Immediate is a programming error.
func (r *Registry) GetInfo(id workitem.ID) (Info, error) {
	switch id.Class {
	case workitem.Immediate:
		return Info{}, errors.AssertionFailedf("clientinfo: GetInfo called for the immediate class")
	case workitem.BackgroundRecovery:
		return r.recovery, nil
	case workitem.BackgroundBestEffort:
		return r.bestEffort, nil
	case workitem.Client:
		return r.GetExternalClient(id.ClientProfileID), nil
	default:
		return Info{}, errors.AssertionFailedf("clientinfo: unknown class %d", id.Class)
	}
}

// GetExternalClient hits the sparse per-tenant table, falling back to the
// default external entry on miss, and records the touch for idle
// eviction purposes.
func (r *Registry) GetExternalClient(id workitem.ClientProfileID) Info {
	if info, ok := r.external[id]; ok {
		r.lastTouch[id] = r.clock.Now()
		return info
	}
	return r.defaultExternal
}

// SetExternalClientOverride installs an explicit per-tenant override,
// e.g. from a host-side quota system.
func (r *Registry) SetExternalClientOverride(id workitem.ClientProfileID, info Info) {
	r.external[id] = info.clamp()
	r.lastTouch[id] = r.clock.Now()
}

// EvictIdle removes external-client overrides that have not been touched
// in longer than anticipationTimeout * EvictionFactor.
func (r *Registry) EvictIdle(anticipationTimeout time.Duration) {
	if anticipationTimeout <= 0 {
		return
	}
	cutoff := r.clock.Now().Add(-time.Duration(r.EvictionFactor * float64(anticipationTimeout)))
	for id, last := range r.lastTouch {
		if last.Before(cutoff) {
			delete(r.external, id)
			delete(r.lastTouch, id)
		}
	}
}
