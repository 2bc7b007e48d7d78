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

// Package capacity translates hardware hints and the cutoff-priority
// selector into the concrete numeric parameters consumed by the rest of
// the scheduler. CapacityModel must be a pure function of its
// configuration inputs: recomputation has to be idempotent and
// side-effect free.
package capacity

import (
	"math/rand"

	"github.com/cockroachdb/errors"
)

// DeviceClass distinguishes the raw-bandwidth/IOPS defaults a host may
// fall back to when it has not supplied explicit hints.
type DeviceClass int8

const (
	// Rotational is a spinning-disk device.
	Rotational DeviceClass = iota
	// SolidState is an SSD/NVMe device.
	SolidState
)

// CutoffSelector is the raw string form of osd_op_queue_cut_off.
type CutoffSelector string

const (
	CutoffLow         CutoffSelector = "low"
	CutoffHigh        CutoffSelector = "high"
	CutoffDebugRandom CutoffSelector = "debug_random"
)

// Fixed cutoff-priority constants the "low"/"high" selectors map to.
// Messages with Priority >= the resolved cutoff bypass the fair-share
// engine via the high-priority queue.
const (
	CutoffPriorityLow  uint32 = 64
	CutoffPriorityHigh uint32 = 196
)

// Inputs are the raw, operator/hardware supplied configuration values
// CapacityModel consumes.
type Inputs struct {
	DeviceClass           DeviceClass
	RawSequentialBandwidth int64 // bytes/s, as configured; 0 is clamped to 1.
	RawIOPS                int64 // as configured; 0 is clamped to 1.
	NumShards              int
	Cutoff                 CutoffSelector
}

// Model holds the derived, per-shard capacity numbers.
type Model struct {
	// CostPerIO is osd_bandwidth_cost_per_io: bytes charged for a single
	// IO at minimum, derived as raw_bandwidth / raw_iops.
	CostPerIO int64
	// CapacityPerShard is osd_bandwidth_capacity_per_shard, in bytes/s:
	// raw_bandwidth / num_shards.
	CapacityPerShard int64
	// CutoffPriority is the resolved message-priority threshold above
	// which items bypass the tag engine.
	CutoffPriority uint32
}

// randSource is overridable by tests so that "debug_random" resolution
// is deterministic.
var randSource = rand.Int63n

// Compute derives a Model from Inputs. It is pure: identical Inputs always
// produce an identical Model, except where Cutoff == CutoffDebugRandom,
// whose resolution picks one of the two priorities uniformly at random.
// Callers that need a stable choice for the life of a process should
// resolve the cutoff once via ResolveCutoff and hold it fixed across
// subsequent Compute calls.
func Compute(in Inputs) (Model, error) {
	if in.NumShards <= 0 {
		return Model{}, errors.AssertionFailedf("capacity: num_shards must be > 0, got %d", in.NumShards)
	}
	bw := in.RawSequentialBandwidth
	if bw < 1 {
		bw = 1
	}
	iops := in.RawIOPS
	if iops < 1 {
		iops = 1
	}
	cutoff, err := ResolveCutoff(in.Cutoff)
	if err != nil {
		return Model{}, err
	}
	return Model{
		CostPerIO:        bw / iops,
		CapacityPerShard: bw / int64(in.NumShards),
		CutoffPriority:   cutoff,
	}, nil
}

// ResolveCutoff maps the configured cutoff selector to a concrete
// priority threshold. "debug_random" is resolved to one of the two fixed
// constants uniformly at random; callers that need this pinned for the
// lifetime of a process should call ResolveCutoff once (e.g. at
// Scheduler construction) and pass the result down rather than
// re-resolving it on every config refresh.
func ResolveCutoff(sel CutoffSelector) (uint32, error) {
	switch sel {
	case CutoffLow:
		return CutoffPriorityLow, nil
	case CutoffHigh:
		return CutoffPriorityHigh, nil
	case CutoffDebugRandom:
		if randSource(2) == 0 {
			return CutoffPriorityLow, nil
		}
		return CutoffPriorityHigh, nil
	default:
		return 0, errors.Newf("capacity: unknown osd_op_queue_cut_off value %q", sel)
	}
}
