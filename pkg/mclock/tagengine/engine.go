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

// Package tagengine implements the dmClock two-phase virtual-time
// admission and selection algorithm, with the at-limit = Wait policy: a
// client whose next request would violate its limit tag is held rather
// than downgraded or rejected.
package tagengine

import (
	"container/list"
	"io"
	"math"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
	"github.com/mohit84/mclock/pkg/mclock/clientinfo"
	"github.com/mohit84/mclock/pkg/mclock/clock"
	"github.com/mohit84/mclock/pkg/mclock/workitem"
	"github.com/rs/zerolog"
)

// WRef is the engine's proportional-share reference weight. It is chosen
// so that a client with Weight == 1 and no contention advances its p_tag
// at exactly the same rate as its r_tag would advance under a reservation
// equal to WRef cost-units/second: WRef plays the same role in the
// proportional formula that a client's own Reservation plays in the
// reservation formula. We fix WRef = 1 cost-unit/second: combined with the
// materialization in clientinfo (reservations expressed in bytes/second),
// a weight-1 client with infinite headroom and no competing traffic
// accrues p_tag at a rate indistinguishable from a reservation of 1
// byte/second, which is negligible next to any real ClientInfo.Reservation
// and therefore never dominates Phase R.
const WRef float64 = 1.0

// Logger is the package-level structured logger; defaults to disabled.
// Hosts set it through scheduler.SetLogger, which assigns the same logger
// to the scheduler package and to this one.
var Logger = zerolog.Nop()

// ResultKind classifies the outcome of PullRequest.
type ResultKind int8

const (
	// Empty means there are no pending requests at all.
	Empty ResultKind = iota
	// Ready means Item holds the next request to dispatch.
	Ready
	// Future means no request is eligible yet; retry at WakeAt or later.
	Future
)

// Result is returned by PullRequest.
type Result struct {
	Kind   ResultKind
	Item   workitem.View
	WakeAt time.Time
}

type taggedItem struct {
	item     workitem.View
	costNorm int64
	rTag     float64
	pTag     float64
	lTag     float64
	seq      uint64
}

type clientState struct {
	id    workitem.ID
	queue list.List // of *taggedItem

	// rTag, pTag, lTag hold the tags assigned to the *last admitted*
	// request for this client; they seed the next admission's formula.
	rTag, pTag, lTag float64

	lastActive time.Time

	rIndex, pIndex int // heap indices; -1 when not a heap member.
}

func (cs *clientState) headTagged() *taggedItem {
	if cs.queue.Len() == 0 {
		return nil
	}
	return cs.queue.Front().Value.(*taggedItem)
}

func (cs *clientState) headRTag() float64 {
	if h := cs.headTagged(); h != nil {
		return h.rTag
	}
	return math.Inf(1)
}

func (cs *clientState) headPTag() float64 {
	if h := cs.headTagged(); h != nil {
		return h.pTag
	}
	return math.Inf(1)
}

// Engine is the per-shard dmClock tag engine: reservation, proportional
// and limit tags are tracked per client and a request is selected by the
// two-phase Phase R / Phase P rule.
type Engine struct {
	clock    clock.Source
	registry *clientinfo.Registry
	epoch    time.Time

	costPerIO           int64
	anticipationTimeout time.Duration

	clients map[workitem.ID]*clientState
	rHeap   rHeap
	pHeap   pHeap
	seq     uint64
}

// NewEngine constructs an Engine. costPerIO is the CapacityModel's
// osd_bandwidth_cost_per_io; SetCostPerIO updates it on config change.
func NewEngine(src clock.Source, registry *clientinfo.Registry, costPerIO int64, anticipationTimeout time.Duration) *Engine {
	return &Engine{
		clock:               src,
		registry:            registry,
		epoch:               src.Now(),
		costPerIO:           costPerIO,
		anticipationTimeout: anticipationTimeout,
		clients:             make(map[workitem.ID]*clientState),
	}
}

// SetCostPerIO updates the per-IO cost floor used by future admissions.
func (e *Engine) SetCostPerIO(costPerIO int64) {
	if costPerIO < 1 {
		costPerIO = 1
	}
	e.costPerIO = costPerIO
}

// SetAnticipationTimeout updates the idle-client retention duration.
func (e *Engine) SetAnticipationTimeout(d time.Duration) {
	e.anticipationTimeout = d
}

func (e *Engine) nowSeconds() float64 {
	return e.clock.Now().Sub(e.epoch).Seconds()
}

// timeFromSeconds rounds up to the next whole nanosecond, so that a tag
// converted to a wake-up time is due once the clock reaches that time.
func (e *Engine) timeFromSeconds(s float64) time.Time {
	return e.epoch.Add(time.Duration(math.Ceil(s * float64(time.Second))))
}

func (e *Engine) nextSeq() uint64 {
	e.seq++
	return e.seq
}

// AddRequest admits item under id, computing its three dmClock tags. cost
// is the caller-supplied cost in bytes, already resolved by the façade via
// workitem.ClampCost; AddRequest further floors it at the per-IO cost so
// every request consumes at least one IO.
func (e *Engine) AddRequest(item workitem.View, id workitem.ID, cost int32) error {
	if id.Class == workitem.Immediate {
		return errors.AssertionFailedf("tagengine: AddRequest called for the immediate class")
	}
	info, err := e.registry.GetInfo(id)
	if err != nil {
		return err
	}

	cs := e.clients[id]
	if cs == nil {
		cs = &clientState{id: id, rIndex: -1, pIndex: -1}
		e.clients[id] = cs
	}

	now := e.nowSeconds()
	costNorm := int64(cost)
	if costNorm < e.costPerIO {
		costNorm = e.costPerIO
	}

	rNew := math.Max(cs.rTag, now) + float64(costNorm)/info.Reservation
	// p_tag has no "now" term: proportional share only compares requests
	// against each other, never against wall-clock time.
	pNew := cs.pTag + float64(costNorm)*WRef/float64(info.Weight)
	lNew := math.Max(cs.lTag, now) + float64(costNorm)/info.Limit

	wasEmpty := cs.queue.Len() == 0
	cs.queue.PushBack(&taggedItem{
		item:     item,
		costNorm: costNorm,
		rTag:     rNew,
		pTag:     pNew,
		lTag:     lNew,
		seq:      e.nextSeq(),
	})
	cs.rTag, cs.pTag, cs.lTag = rNew, pNew, lNew
	cs.lastActive = e.clock.Now()

	if wasEmpty {
		e.rHeap.push(cs)
		e.pHeap.push(cs)
	}
	Logger.Debug().Stringer("client", id).Float64("r", rNew).Float64("p", pNew).Float64("l", lNew).Msg("tagengine: admitted request")
	return nil
}

// PullRequest selects the next request to dispatch: Phase R, then Phase P,
// then Future/Empty.
func (e *Engine) PullRequest() Result {
	e.gcIdle()
	now := e.nowSeconds()

	if cs, ok := e.selectPhaseR(now); ok {
		return e.emit(cs, now)
	}

	if cs, ok := e.selectPhaseP(now); ok {
		return e.emit(cs, now)
	}

	if len(e.clients) == 0 {
		return Result{Kind: Empty}
	}
	wake, any := e.earliestWake(now)
	if !any {
		return Result{Kind: Empty}
	}
	wakeAt := e.timeFromSeconds(wake)
	if cur := e.clock.Now(); !wakeAt.After(cur) {
		wakeAt = cur.Add(time.Nanosecond)
	}
	return Result{Kind: Future, WakeAt: wakeAt}
}

// selectPhaseR finds the client eligible for reservation-phase dispatch:
// the smallest head r_tag, provided it is <= now. Ties are broken by
// insertion order (taggedItem.seq), not by whichever client
// container/heap happens to leave at index 0: the heap only guarantees
// the root holds a minimum, not which one when several clients share it.
func (e *Engine) selectPhaseR(now float64) (*clientState, bool) {
	winner := e.rHeap.peek()
	if winner == nil || winner.headRTag() > now {
		return nil, false
	}
	for _, cs := range e.rHeap.items {
		if cs == winner || cs.headRTag() != winner.headRTag() {
			continue
		}
		if cs.headTagged().seq < winner.headTagged().seq {
			winner = cs
		}
	}
	return winner, true
}

// selectPhaseP finds the client with the smallest head p_tag among
// clients whose head l_tag <= now (not limit-throttled), tie-breaking on
// SchedulerID. The candidates skipped along the way (limit-throttled,
// popped off pHeap to look past them) are restored before returning.
func (e *Engine) selectPhaseP(now float64) (*clientState, bool) {
	var skipped []*clientState
	var winner *clientState
	for e.pHeap.Len() > 0 {
		cs := e.pHeap.items[0]
		if cs.headTagged().lTag > now {
			skipped = append(skipped, e.pHeap.removeAt(0))
			continue
		}
		winner = cs
		break
	}
	for _, cs := range skipped {
		e.pHeap.push(cs)
	}
	if winner == nil {
		return nil, false
	}
	// Tie-break deterministically on SchedulerID among any other client
	// sharing winner's exact p_tag (the heap only guarantees winner holds
	// the minimum, not uniqueness of the minimum).
	for _, cs := range e.pHeap.items {
		if cs == winner || cs.headTagged().lTag > now {
			continue
		}
		if cs.headPTag() == winner.headPTag() && cs.id.Less(winner.id) {
			winner = cs
		}
	}
	return winner, true
}

// earliestWake returns the smallest wake-up time across all head
// requests that are not currently eligible (r_tag > now or l_tag > now).
func (e *Engine) earliestWake(now float64) (float64, bool) {
	wake := math.Inf(1)
	found := false
	for _, cs := range e.clients {
		h := cs.headTagged()
		if h == nil {
			continue
		}
		if h.rTag > now && h.rTag < wake {
			wake = h.rTag
			found = true
		}
		if h.lTag > now && h.lTag < wake {
			wake = h.lTag
			found = true
		}
	}
	return wake, found
}

// emit pops cs's head request and fixes up both heaps to reflect the new
// head (or removes cs from both heaps if its FIFO is now empty).
func (e *Engine) emit(cs *clientState, now float64) Result {
	front := cs.queue.Front()
	tagged := front.Value.(*taggedItem)
	cs.queue.Remove(front)

	if cs.queue.Len() == 0 {
		if cs.rIndex >= 0 {
			e.rHeap.removeAt(cs.rIndex)
		}
		if cs.pIndex >= 0 {
			e.pHeap.removeAt(cs.pIndex)
		}
	} else {
		if cs.rIndex >= 0 {
			e.rHeap.fix(cs.rIndex)
		}
		if cs.pIndex >= 0 {
			e.pHeap.fix(cs.pIndex)
		}
	}
	cs.lastActive = e.clock.Now()
	Logger.Debug().Stringer("client", cs.id).Msg("tagengine: emitted request")
	return Result{Kind: Ready, Item: tagged.item}
}

// gcIdle discards per-client tag state for clients whose FIFO has been
// empty for longer than the anticipation timeout.
func (e *Engine) gcIdle() {
	if e.anticipationTimeout <= 0 {
		return
	}
	cutoff := e.clock.Now().Add(-e.anticipationTimeout)
	for id, cs := range e.clients {
		if cs.queue.Len() == 0 && cs.lastActive.Before(cutoff) {
			delete(e.clients, id)
		}
	}
}

// ClientCount returns the number of clients with live tag state.
func (e *Engine) ClientCount() int {
	return len(e.clients)
}

// RequestCount returns the total number of queued requests across all
// clients.
func (e *Engine) RequestCount() int {
	n := 0
	for _, cs := range e.clients {
		n += cs.queue.Len()
	}
	return n
}

// DisplayQueues writes a human-readable snapshot of every client's queue
// depth and head tags. No stable format is guaranteed. Lines are built
// with redact.Sprintf, in which the client identifier (potentially
// derived from tenant-controlled data, via workitem.ID's SafeFormatter)
// is marked redactable, matching the teacher's workKindString
// convention; the markers are stripped before each line is written, so
// the text written to w is plain.
func (e *Engine) DisplayQueues(w io.Writer) {
	for id, cs := range e.clients {
		h := cs.headTagged()
		var line redact.RedactableString
		if h == nil {
			line = redact.Sprintf("%s: empty (r=%.3f p=%.3f l=%.3f)\n", id, cs.rTag, cs.pTag, cs.lTag)
		} else {
			line = redact.Sprintf("%s: depth=%d head(r=%.3f p=%.3f l=%.3f)\n", id, cs.queue.Len(), h.rTag, h.pTag, h.lTag)
		}
		io.WriteString(w, line.StripMarkers())
	}
}
