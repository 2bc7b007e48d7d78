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

package priority

import (
	"testing"

	"github.com/mohit84/mclock/pkg/mclock/workitem"
	"github.com/stretchr/testify/require"
)

type tok struct{ name string }

func (t tok) Priority() uint32                      { return 0 }
func (t tok) Cost() int32                           { return 1 }
func (t tok) SchedClass() workitem.Class             { return workitem.Client }
func (t tok) ClientProfile() workitem.ClientProfileID { return "" }

var _ workitem.View = tok{}

func TestDequeueOrdersByDescendingPriority(t *testing.T) {
	q := NewQueue()
	q.Enqueue(10, tok{"low"}, false)
	q.Enqueue(30, tok{"high"}, false)
	q.Enqueue(20, tok{"mid"}, false)

	item, ok := q.Dequeue()
	require.True(t, ok)
	require.Equal(t, tok{"high"}, item)

	item, ok = q.Dequeue()
	require.True(t, ok)
	require.Equal(t, tok{"mid"}, item)

	item, ok = q.Dequeue()
	require.True(t, ok)
	require.Equal(t, tok{"low"}, item)
}

func TestBackEnqueueIsLIFOWithinBucket(t *testing.T) {
	// Documented oddity: back-enqueue appends to the tail and Dequeue
	// always pops the tail, so within one bucket the most recently
	// enqueued item drains first.
	q := NewQueue()
	q.Enqueue(5, tok{"first"}, false)
	q.Enqueue(5, tok{"second"}, false)
	q.Enqueue(5, tok{"third"}, false)

	item, _ := q.Dequeue()
	require.Equal(t, tok{"third"}, item)
	item, _ = q.Dequeue()
	require.Equal(t, tok{"second"}, item)
	item, _ = q.Dequeue()
	require.Equal(t, tok{"first"}, item)
}

func TestFrontEnqueueIsDequeuedLastWithinBucket(t *testing.T) {
	q := NewQueue()
	q.Enqueue(5, tok{"back-1"}, false)
	q.Enqueue(5, tok{"front"}, true)

	// front push lands at the head; Dequeue still pops from the tail, so
	// the back-enqueued item drains first, not the front one.
	item, _ := q.Dequeue()
	require.Equal(t, tok{"back-1"}, item)
	item, _ = q.Dequeue()
	require.Equal(t, tok{"front"}, item)
}

func TestEmptyBucketIsErasedAfterDequeue(t *testing.T) {
	q := NewQueue()
	q.Enqueue(5, tok{"only"}, false)
	_, ok := q.Dequeue()
	require.True(t, ok)

	depths := q.DepthByPriority()
	_, present := depths[5]
	require.False(t, present)
	require.True(t, q.Empty())
}

func TestDequeueOnEmptyQueue(t *testing.T) {
	q := NewQueue()
	_, ok := q.Dequeue()
	require.False(t, ok)
}

func TestLenAndDepthByPriority(t *testing.T) {
	q := NewQueue()
	q.Enqueue(1, tok{"a"}, false)
	q.Enqueue(1, tok{"b"}, false)
	q.Enqueue(2, tok{"c"}, false)

	require.Equal(t, 3, q.Len())
	depths := q.DepthByPriority()
	require.Equal(t, 2, depths[1])
	require.Equal(t, 1, depths[2])
}
