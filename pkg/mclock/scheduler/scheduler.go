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

// Package scheduler implements the per-shard façade: it classifies
// incoming work into the strict-priority bypass or the dmClock tag
// engine, and exposes the non-blocking Enqueue/Dequeue/Dump operations.
// One Scheduler is instantiated per shard; there is no cross-shard
// coordination and no internal locking. Callers are responsible for
// confining all calls to one shard's owning goroutine.
package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/logtags"
	"github.com/mohit84/mclock/pkg/mclock/capacity"
	"github.com/mohit84/mclock/pkg/mclock/clientinfo"
	"github.com/mohit84/mclock/pkg/mclock/clock"
	"github.com/mohit84/mclock/pkg/mclock/priority"
	"github.com/mohit84/mclock/pkg/mclock/tagengine"
	"github.com/mohit84/mclock/pkg/mclock/workitem"
	"github.com/rs/zerolog"
)

// logEvent attaches whatever logtags are present on ctx (e.g. shard id,
// active profile, see cmd/mclockctl) to ev as a single "tags" field,
// correlating log lines through context-carried tags rather than
// repeating them at every call site.
func logEvent(ctx context.Context, ev *zerolog.Event) *zerolog.Event {
	if buf := logtags.FromContext(ctx); buf != nil && len(buf.Get()) > 0 {
		ev = ev.Str("tags", buf.String())
	}
	return ev
}

// Logger is shared with the tagengine package so that a single SetLogger
// call from the host (e.g. mclockctl) configures logging for the whole
// scheduler; assigning Logger directly does not reach tagengine.
// Defaults to disabled.
var Logger = zerolog.Nop()

func init() {
	tagengine.Logger = Logger
}

// SetLogger installs l as the logger for the scheduler and tagengine
// packages.
func SetLogger(l zerolog.Logger) {
	Logger = l
	tagengine.Logger = l
}

// Options configures a new Scheduler: config snapshot, identity, shard
// geometry, and the hardware hint needed to pick HDD vs SSD capacity
// defaults.
type Options struct {
	WhoAmI        string
	NumShards     int
	ShardID       int
	IsRotational  bool
	InitialConfig Config
	// Clock defaults to clock.Real{} when nil.
	Clock clock.Source
}

// Scheduler is the per-shard façade.
type Scheduler struct {
	whoAmI       string
	numShards    int
	shardID      int
	isRotational bool
	clock        clock.Source

	cfg            Config
	cutoffPriority uint32
	capacityModel  capacity.Model

	registry  *clientinfo.Registry
	tagEngine *tagengine.Engine
	highQ     *priority.Queue
}

// New constructs a Scheduler. A num_shards of 0 is a fatal programming
// error.
func New(opts Options) (*Scheduler, error) {
	if opts.NumShards <= 0 {
		return nil, errors.AssertionFailedf("scheduler: num_shards must be > 0, got %d", opts.NumShards)
	}
	src := opts.Clock
	if src == nil {
		src = clock.Real{}
	}

	cutoff, err := capacity.ResolveCutoff(opts.InitialConfig.CutOff)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		whoAmI:         opts.WhoAmI,
		numShards:      opts.NumShards,
		shardID:        opts.ShardID,
		isRotational:   opts.IsRotational,
		clock:          src,
		cfg:            opts.InitialConfig,
		cutoffPriority: cutoff,
		registry:       clientinfo.NewRegistry(src),
		highQ:          priority.NewQueue(),
	}

	if err := s.recomputeCapacity(opts.InitialConfig); err != nil {
		return nil, err
	}
	if err := s.refreshRegistry(); err != nil {
		return nil, err
	}
	s.tagEngine = tagengine.NewEngine(src, s.registry, s.capacityModel.CostPerIO, opts.InitialConfig.AnticipationTimeout)

	return s, nil
}

// recomputeCapacity derives CapacityModel from cfg. The cutoff priority is
// resolved once, at construction, into s.cutoffPriority and is deliberately
// excluded from the config-delta path, so Inputs.Cutoff is fixed to
// CutoffLow here purely to satisfy capacity.Compute's validation; the
// resulting Model.CutoffPriority is discarded in favor of s.cutoffPriority.
func (s *Scheduler) recomputeCapacity(cfg Config) error {
	bw, iops := cfg.rawBandwidthIOPS(s.isRotational)
	model, err := capacity.Compute(capacity.Inputs{
		RawSequentialBandwidth: bw,
		RawIOPS:                iops,
		NumShards:              s.numShards,
		Cutoff:                 capacity.CutoffLow,
	})
	if err != nil {
		return err
	}
	s.capacityModel = model
	return nil
}

func (s *Scheduler) refreshRegistry() error {
	return s.registry.UpdateFromConfig(s.cfg.Profile, s.cfg.overrides(), s.capacityModel.CapacityPerShard)
}

// IsProfileAuthority reports whether this shard is responsible for
// persisting profile-derived defaults back to the shared config store.
// The actual write-back is an external collaborator (the config store,
// see DESIGN.md "Global config side effects on shard 0"), so this merely
// tells the host whether it should perform that write.
func (s *Scheduler) IsProfileAuthority() bool {
	return s.shardID == 0
}

// ApplyConfigDelta handles a configuration change. It MUST be called on
// the shard's owning goroutine; the scheduler performs no internal
// synchronization. ctx is used only for its logtags, to correlate the
// resulting log lines with the caller's shard/node identity.
// ApplyConfigDelta does not block on it.
func (s *Scheduler) ApplyConfigDelta(ctx context.Context, delta ConfigDelta) error {
	changedCapacity := delta.Changed.HasAny(capacityKeys...)
	changedProfile := delta.Changed.Has(KeyProfile)
	changedClass := delta.Changed.HasAny(classKeys...)

	s.cfg = delta.Config

	if changedCapacity {
		if err := s.recomputeCapacity(s.cfg); err != nil {
			return err
		}
		s.tagEngine.SetCostPerIO(s.capacityModel.CostPerIO)
	}

	if changedCapacity || changedProfile || (changedClass && s.cfg.Profile == clientinfo.Custom) {
		if changedProfile && s.IsProfileAuthority() {
			logEvent(ctx, Logger.Info()).Str("profile", string(s.cfg.Profile)).
				Msg("scheduler: shard 0 applying profile defaults")
		}
		if err := s.refreshRegistry(); err != nil {
			return err
		}
	} else if changedClass {
		logEvent(ctx, Logger.Warn()).Msg("scheduler: ignoring per-class config edit, profile is not custom")
	}

	if delta.Changed.Has(KeyAnticipationTimeout) {
		s.tagEngine.SetAnticipationTimeout(s.cfg.AnticipationTimeout)
	}

	return nil
}

// Enqueue classifies item: immediate items and items at or above the
// cutoff priority bypass the tag engine via the high-priority queue;
// everything else is admitted into the fair-share engine.
func (s *Scheduler) Enqueue(item workitem.View) error {
	switch {
	case item.SchedClass() == workitem.Immediate:
		s.highQ.Enqueue(priority.ImmediateClassPriority, item, false)
		return nil
	case item.Priority() >= s.cutoffPriority:
		s.highQ.Enqueue(item.Priority(), item, false)
		return nil
	default:
		id := workitem.SchedulerID(item)
		cost := workitem.ClampCost(item.Cost())
		return s.tagEngine.AddRequest(item, id, cost)
	}
}

// EnqueueFront applies the same classification as Enqueue, but every
// branch uses front=true, and the tag-engine branch is replaced by a
// priority-0 bypass enqueue since the fair-share engine cannot express
// "skip ahead".
func (s *Scheduler) EnqueueFront(item workitem.View) {
	switch {
	case item.SchedClass() == workitem.Immediate:
		s.highQ.Enqueue(priority.ImmediateClassPriority, item, true)
	case item.Priority() >= s.cutoffPriority:
		s.highQ.Enqueue(item.Priority(), item, true)
	default:
		s.highQ.Enqueue(priority.FrontBypassPriority, item, true)
	}
}

// ResultKind classifies a Dequeue outcome.
type ResultKind int8

const (
	// DequeueReady carries a work item ready for dispatch.
	DequeueReady ResultKind = iota
	// DequeueFuture means no request is eligible yet; caller should arm a
	// timer for WakeAt and retry no earlier than that.
	DequeueFuture
	// DequeueEmpty means there is no pending work at all.
	DequeueEmpty
)

// DequeueResult is returned by Dequeue.
type DequeueResult struct {
	Kind   ResultKind
	Item   workitem.View
	WakeAt time.Time
}

// Dequeue drains the high-priority queue first (descending priority),
// then asks the tag engine. It also sweeps the client registry for
// external-client overrides that have sat idle past the eviction
// threshold, alongside the tag engine's own idle-client sweep inside
// PullRequest.
func (s *Scheduler) Dequeue() DequeueResult {
	s.registry.EvictIdle(s.cfg.AnticipationTimeout)
	if item, ok := s.highQ.Dequeue(); ok {
		return DequeueResult{Kind: DequeueReady, Item: item}
	}
	res := s.tagEngine.PullRequest()
	switch res.Kind {
	case tagengine.Ready:
		return DequeueResult{Kind: DequeueReady, Item: res.Item}
	case tagengine.Future:
		return DequeueResult{Kind: DequeueFuture, WakeAt: res.WakeAt}
	default:
		return DequeueResult{Kind: DequeueEmpty}
	}
}

// DumpSnapshot is the structured form of the scheduler's dump output.
// Field names are part of the stable interface; values are advisory.
type DumpSnapshot struct {
	QueueSizes struct {
		HighPriority int
		MClock       int
	}
	MClockClients           int
	HighPriorityQueueDepths map[uint32]int
	MClockQueuesText        string
}

// Dump gathers the scheduler's observable counters.
func (s *Scheduler) Dump(ctx context.Context) DumpSnapshot {
	var snap DumpSnapshot
	snap.QueueSizes.HighPriority = s.highQ.Len()
	snap.QueueSizes.MClock = s.tagEngine.RequestCount()
	snap.MClockClients = s.tagEngine.ClientCount()
	snap.HighPriorityQueueDepths = s.highQ.DepthByPriority()

	var buf strings.Builder
	s.tagEngine.DisplayQueues(&buf)
	snap.MClockQueuesText = buf.String()

	logEvent(ctx, Logger.Debug()).Str("who", s.whoAmI).Int("mclock_clients", snap.MClockClients).
		Msg("scheduler: dump")
	return snap
}
