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

package tagengine

import "container/heap"

// rHeap and pHeap are min-heaps of clientState pointers, ordered by the
// head-of-FIFO tag relevant to each dmClock phase. Each entry is a
// heap.Interface over pointers that know their own index, to support
// arbitrary removal; each clientState carries the index for both heaps
// since a client can be a member of either or both at once.
//
// A client only occupies a heap slot while its FIFO is non-empty. An
// enqueue onto an already non-empty FIFO appends at the tail and does not
// change the head, so no heap fix is needed; only the transition from
// empty to non-empty (push) and the removal of the head (pop, or fix to
// reflect the new head) touch the heaps.

type rHeap struct {
	items []*clientState
}

var _ heap.Interface = (*rHeap)(nil)

func (h *rHeap) Len() int { return len(h.items) }

func (h *rHeap) Less(i, j int) bool {
	return h.items[i].headRTag() < h.items[j].headRTag()
}

func (h *rHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].rIndex = i
	h.items[j].rIndex = j
}

func (h *rHeap) Push(x any) {
	cs := x.(*clientState)
	cs.rIndex = len(h.items)
	h.items = append(h.items, cs)
}

func (h *rHeap) Pop() any {
	n := len(h.items)
	cs := h.items[n-1]
	h.items[n-1] = nil
	cs.rIndex = -1
	h.items = h.items[:n-1]
	return cs
}

func (h *rHeap) push(cs *clientState)      { heap.Push(h, cs) }
func (h *rHeap) removeAt(i int) *clientState { return heap.Remove(h, i).(*clientState) }
func (h *rHeap) fix(i int)                 { heap.Fix(h, i) }
func (h *rHeap) peek() *clientState {
	if len(h.items) == 0 {
		return nil
	}
	return h.items[0]
}

type pHeap struct {
	items []*clientState
}

var _ heap.Interface = (*pHeap)(nil)

func (h *pHeap) Len() int { return len(h.items) }

func (h *pHeap) Less(i, j int) bool {
	return h.items[i].headPTag() < h.items[j].headPTag()
}

func (h *pHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].pIndex = i
	h.items[j].pIndex = j
}

func (h *pHeap) Push(x any) {
	cs := x.(*clientState)
	cs.pIndex = len(h.items)
	h.items = append(h.items, cs)
}

func (h *pHeap) Pop() any {
	n := len(h.items)
	cs := h.items[n-1]
	h.items[n-1] = nil
	cs.pIndex = -1
	h.items = h.items[:n-1]
	return cs
}

func (h *pHeap) push(cs *clientState)      { heap.Push(h, cs) }
func (h *pHeap) removeAt(i int) *clientState { return heap.Remove(h, i).(*clientState) }
func (h *pHeap) fix(i int)                 { heap.Fix(h, i) }
