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

package workitem

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeItem struct {
	priority uint32
	cost     int32
	class    Class
	client   ClientProfileID
}

func (f fakeItem) Priority() uint32              { return f.priority }
func (f fakeItem) Cost() int32                   { return f.cost }
func (f fakeItem) SchedClass() Class             { return f.class }
func (f fakeItem) ClientProfile() ClientProfileID { return f.client }

func TestSchedulerID(t *testing.T) {
	cases := []struct {
		name string
		item fakeItem
		want ID
	}{
		{"immediate ignores client", fakeItem{class: Immediate, client: "x"}, ID{Class: Immediate}},
		{"recovery ignores client", fakeItem{class: BackgroundRecovery, client: "x"}, ID{Class: BackgroundRecovery}},
		{"client keeps profile", fakeItem{class: Client, client: "tenant-1"}, ID{Class: Client, ClientProfileID: "tenant-1"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, SchedulerID(tc.item))
		})
	}
}

func TestClampCost(t *testing.T) {
	require.EqualValues(t, 1, ClampCost(0))
	require.EqualValues(t, 1, ClampCost(-100))
	require.EqualValues(t, 42, ClampCost(42))
}

func TestIDLessOrdersByClassThenProfile(t *testing.T) {
	a := ID{Class: Client, ClientProfileID: "a"}
	b := ID{Class: Client, ClientProfileID: "b"}
	rec := ID{Class: BackgroundRecovery}

	require.True(t, a.Less(b))
	require.False(t, b.Less(a))
	require.True(t, a.Less(rec))
}

func TestIDString(t *testing.T) {
	require.Equal(t, "client/<default>", ID{Class: Client}.String())
	require.Equal(t, "client/tenant-1", ID{Class: Client, ClientProfileID: "tenant-1"}.String())
	require.Equal(t, "background_recovery", ID{Class: BackgroundRecovery}.String())
}
