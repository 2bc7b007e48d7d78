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

// Package priority implements the strict-priority bypass queue: a
// mapping from priority to a per-bucket deque, with empty buckets erased
// immediately so that the queue's depth map only ever reports priorities
// that actually hold items.
//
// The within-bucket ordering deliberately keeps an oddity: a
// back-enqueue appends to the bucket's tail, and dequeue always pops
// from the tail, which yields LIFO order for back-enqueued items, not
// FIFO. This is not normalized; see DESIGN.md.
package priority

import (
	"container/list"

	"github.com/google/btree"
	"github.com/mohit84/mclock/pkg/mclock/workitem"
)

// ImmediateClassPriority is a constant above any configurable message
// priority, used for Immediate-class requests.
const ImmediateClassPriority uint32 = 1 << 31

// FrontBypassPriority (priority 0) is where enqueue_front diverts an item
// that would otherwise enter the tag engine, since the tag engine has no
// "front" semantics.
const FrontBypassPriority uint32 = 0

type bucket struct {
	priority uint32
	items    list.List // of workitem.View
}

func bucketLess(a, b *bucket) bool {
	return a.priority < b.priority
}

// Queue is the HighPriorityQueue.
type Queue struct {
	tree *btree.BTreeG[*bucket]
	buckets map[uint32]*bucket
	size  int
}

// NewQueue returns an empty Queue.
func NewQueue() *Queue {
	return &Queue{
		tree:    btree.NewG(32, bucketLess),
		buckets: make(map[uint32]*bucket),
	}
}

// Enqueue pushes item into the bucket for priority. atFront selects
// head-of-bucket (push-to-front) placement; otherwise the item is
// appended to the bucket's tail.
func (q *Queue) Enqueue(priority uint32, item workitem.View, atFront bool) {
	b := q.buckets[priority]
	if b == nil {
		b = &bucket{priority: priority}
		q.buckets[priority] = b
		q.tree.ReplaceOrInsert(b)
	}
	if atFront {
		b.items.PushFront(item)
	} else {
		b.items.PushBack(item)
	}
	q.size++
}

// Dequeue selects the highest-priority non-empty bucket and pops from
// its tail, erasing the bucket if it becomes empty. Returns ok=false if
// the queue is empty.
func (q *Queue) Dequeue() (item workitem.View, ok bool) {
	b, found := q.tree.Max()
	if !found {
		return nil, false
	}
	back := b.items.Back()
	item = back.Value.(workitem.View)
	b.items.Remove(back)
	q.size--
	if b.items.Len() == 0 {
		q.tree.Delete(b)
		delete(q.buckets, b.priority)
	}
	return item, true
}

// Len returns the total number of queued items across all buckets.
func (q *Queue) Len() int {
	return q.size
}

// Empty reports whether the queue holds no items.
func (q *Queue) Empty() bool {
	return q.size == 0
}

// DepthByPriority returns the number of queued items for each
// currently-populated priority bucket, for Scheduler.Dump.
func (q *Queue) DepthByPriority() map[uint32]int {
	out := make(map[uint32]int, len(q.buckets))
	q.tree.Ascend(func(b *bucket) bool {
		out[b.priority] = b.items.Len()
		return true
	})
	return out
}
