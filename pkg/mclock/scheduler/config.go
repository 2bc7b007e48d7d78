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

package scheduler

import (
	"time"

	"github.com/mohit84/mclock/pkg/mclock/capacity"
	"github.com/mohit84/mclock/pkg/mclock/clientinfo"
)

// ConfigKey names one of the scheduler's tunable configuration settings.
// Changes are delivered as an explicit delta (see DESIGN.md, "Config
// observer as a message") rather than a callback registered into a global
// settings subject: the host computes which keys changed and calls
// Scheduler.ApplyConfigDelta.
type ConfigKey int8

const (
	KeyClientRes ConfigKey = iota
	KeyClientWgt
	KeyClientLim
	KeyRecoveryRes
	KeyRecoveryWgt
	KeyRecoveryLim
	KeyBestEffortRes
	KeyBestEffortWgt
	KeyBestEffortLim
	KeyMaxIOPSHDD
	KeyMaxIOPSSSD
	KeyMaxBandwidthHDD
	KeyMaxBandwidthSSD
	KeyProfile
	KeyAnticipationTimeout
)

// KeySet is the set of ConfigKeys that changed in a given delta.
type KeySet map[ConfigKey]struct{}

// NewKeySet builds a KeySet from a list of keys.
func NewKeySet(keys ...ConfigKey) KeySet {
	s := make(KeySet, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

// Has reports whether key is present in the set.
func (s KeySet) Has(key ConfigKey) bool {
	_, ok := s[key]
	return ok
}

// HasAny reports whether any of keys is present in the set.
func (s KeySet) HasAny(keys ...ConfigKey) bool {
	for _, k := range keys {
		if s.Has(k) {
			return true
		}
	}
	return false
}

var capacityKeys = []ConfigKey{KeyMaxIOPSHDD, KeyMaxIOPSSSD, KeyMaxBandwidthHDD, KeyMaxBandwidthSSD}

var classKeys = []ConfigKey{
	KeyClientRes, KeyClientWgt, KeyClientLim,
	KeyRecoveryRes, KeyRecoveryWgt, KeyRecoveryLim,
	KeyBestEffortRes, KeyBestEffortWgt, KeyBestEffortLim,
}

// Config is the full configuration snapshot backing a Scheduler. Ratios
// for the built-in profiles live in the clientinfo package; the
// Explicit* fields here are the operator-set per-class values (reservation
// and limit as ratios of shard capacity, plus a weight) consulted only
// while Profile == clientinfo.Custom.
type Config struct {
	Profile clientinfo.Profile

	ExplicitClientRes, ExplicitClientLim           float64
	ExplicitClientWgt                              uint64
	ExplicitRecoveryRes, ExplicitRecoveryLim       float64
	ExplicitRecoveryWgt                            uint64
	ExplicitBestEffortRes, ExplicitBestEffortLim   float64
	ExplicitBestEffortWgt                          uint64

	MaxCapacityIOPSHDD        int64
	MaxCapacityIOPSSSD        int64
	MaxSequentialBandwidthHDD int64
	MaxSequentialBandwidthSSD int64

	// CutOff is read once, at construction; it is not part of the
	// ApplyConfigDelta path.
	CutOff capacity.CutoffSelector

	AnticipationTimeout time.Duration
}

func (c Config) overrides() clientinfo.ClassOverrides {
	return clientinfo.ClassOverrides{
		Recovery: clientinfo.Info{
			Reservation: c.ExplicitRecoveryRes,
			Weight:      c.ExplicitRecoveryWgt,
			Limit:       c.ExplicitRecoveryLim,
		},
		BestEffort: clientinfo.Info{
			Reservation: c.ExplicitBestEffortRes,
			Weight:      c.ExplicitBestEffortWgt,
			Limit:       c.ExplicitBestEffortLim,
		},
		ExternalDefault: clientinfo.Info{
			Reservation: c.ExplicitClientRes,
			Weight:      c.ExplicitClientWgt,
			Limit:       c.ExplicitClientLim,
		},
	}
}

func (c Config) rawBandwidthIOPS(isRotational bool) (bandwidth, iops int64) {
	if isRotational {
		return c.MaxSequentialBandwidthHDD, c.MaxCapacityIOPSHDD
	}
	return c.MaxSequentialBandwidthSSD, c.MaxCapacityIOPSSSD
}

// ConfigDelta is delivered to Scheduler.ApplyConfigDelta whenever the host
// observes a change to any configuration key the scheduler cares about.
type ConfigDelta struct {
	Config  Config
	Changed KeySet
}
