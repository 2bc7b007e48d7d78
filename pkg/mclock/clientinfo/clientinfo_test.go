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

package clientinfo

import (
	"testing"
	"time"

	"github.com/mohit84/mclock/pkg/mclock/clock"
	"github.com/mohit84/mclock/pkg/mclock/workitem"
	"github.com/stretchr/testify/require"
)

func TestUpdateFromConfigBalancedProfile(t *testing.T) {
	r := NewRegistry(clock.NewManual(time.Unix(0, 0)))
	require.NoError(t, r.UpdateFromConfig(Balanced, ClassOverrides{}, 1000))

	recovery, err := r.GetInfo(workitem.ID{Class: workitem.BackgroundRecovery})
	require.NoError(t, err)
	require.InDelta(t, 500, recovery.Reservation, 0.001)
	require.EqualValues(t, 1, recovery.Weight)
	require.InDelta(t, DefaultMax, recovery.Limit, 0.001)

	bestEffort, err := r.GetInfo(workitem.ID{Class: workitem.BackgroundBestEffort})
	require.NoError(t, err)
	require.InDelta(t, DefaultMin, bestEffort.Reservation, 0.001)
	require.InDelta(t, 900, bestEffort.Limit, 0.001)

	client, err := r.GetInfo(workitem.ID{Class: workitem.Client, ClientProfileID: "anyone"})
	require.NoError(t, err)
	require.InDelta(t, 500, client.Reservation, 0.001)
}

func TestUpdateFromConfigIsIdempotent(t *testing.T) {
	r := NewRegistry(clock.NewManual(time.Unix(0, 0)))
	require.NoError(t, r.UpdateFromConfig(HighRecoveryOps, ClassOverrides{}, 10000))
	first, err := r.GetInfo(workitem.ID{Class: workitem.BackgroundRecovery})
	require.NoError(t, err)

	require.NoError(t, r.UpdateFromConfig(HighRecoveryOps, ClassOverrides{}, 10000))
	second, err := r.GetInfo(workitem.ID{Class: workitem.BackgroundRecovery})
	require.NoError(t, err)

	require.Equal(t, first, second)
}

func TestUpdateFromConfigCustomUsesOverrides(t *testing.T) {
	r := NewRegistry(clock.NewManual(time.Unix(0, 0)))
	overrides := ClassOverrides{
		Recovery:        Info{Reservation: 10, Weight: 3, Limit: 20},
		BestEffort:      Info{Reservation: 5, Weight: 1, Limit: 15},
		ExternalDefault: Info{Reservation: 2, Weight: 1, Limit: 8},
	}
	require.NoError(t, r.UpdateFromConfig(Custom, overrides, 999999))

	recovery, err := r.GetInfo(workitem.ID{Class: workitem.BackgroundRecovery})
	require.NoError(t, err)
	require.Equal(t, Info{Reservation: 10 * 999999, Weight: 3, Limit: 20 * 999999}, recovery)
}

func TestUpdateFromConfigRejectsUnknownProfile(t *testing.T) {
	r := NewRegistry(clock.NewManual(time.Unix(0, 0)))
	require.Error(t, r.UpdateFromConfig(Profile("nonsense"), ClassOverrides{}, 100))
}

func TestGetInfoRejectsImmediate(t *testing.T) {
	r := NewRegistry(clock.NewManual(time.Unix(0, 0)))
	require.NoError(t, r.UpdateFromConfig(Balanced, ClassOverrides{}, 100))
	_, err := r.GetInfo(workitem.ID{Class: workitem.Immediate})
	require.Error(t, err)
}

func TestExternalClientFallsBackToDefault(t *testing.T) {
	r := NewRegistry(clock.NewManual(time.Unix(0, 0)))
	require.NoError(t, r.UpdateFromConfig(Balanced, ClassOverrides{}, 1000))

	def := r.GetExternalClient("never-seen")
	require.InDelta(t, 500, def.Reservation, 0.001)

	r.SetExternalClientOverride("tenant-x", Info{Reservation: 1, Weight: 1, Limit: 1})
	override := r.GetExternalClient("tenant-x")
	require.InDelta(t, DefaultMin, override.Reservation, 0.001)
}

func TestEvictIdleReclaimsStaleExternalClients(t *testing.T) {
	src := clock.NewManual(time.Unix(0, 0))
	r := NewRegistry(src)
	require.NoError(t, r.UpdateFromConfig(Balanced, ClassOverrides{}, 1000))
	r.SetExternalClientOverride("stale", Info{Reservation: 5, Weight: 1, Limit: 5})

	anticipation := time.Second
	src.Advance(time.Duration(r.EvictionFactor) * anticipation * 2)
	r.EvictIdle(anticipation)

	// After eviction, the tenant falls back to the default entry again.
	got := r.GetExternalClient("stale")
	def, err := r.GetInfo(workitem.ID{Class: workitem.Client, ClientProfileID: "unrelated"})
	require.NoError(t, err)
	require.Equal(t, def, got)
}

func TestEvictIdleKeepsRecentlyTouchedClients(t *testing.T) {
	src := clock.NewManual(time.Unix(0, 0))
	r := NewRegistry(src)
	require.NoError(t, r.UpdateFromConfig(Balanced, ClassOverrides{}, 1000))
	r.SetExternalClientOverride("fresh", Info{Reservation: 5, Weight: 1, Limit: 5})

	anticipation := time.Second
	src.Advance(anticipation)
	r.EvictIdle(anticipation)

	got := r.GetExternalClient("fresh")
	require.InDelta(t, 5, got.Reservation, 0.001)
}
