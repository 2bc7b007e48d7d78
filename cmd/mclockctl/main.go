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

// Command mclockctl drives an in-process scheduler for manual
// experimentation: it replays a synthetic workload under the one profile
// chosen by flag and prints a dump snapshot. It does not switch profiles
// while a replay runs. It is a developer tool, not part of the
// scheduler's stable API.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cockroachdb/logtags"
	"github.com/mohit84/mclock/pkg/mclock/capacity"
	"github.com/mohit84/mclock/pkg/mclock/clientinfo"
	"github.com/mohit84/mclock/pkg/mclock/clock"
	"github.com/mohit84/mclock/pkg/mclock/scheduler"
	"github.com/mohit84/mclock/pkg/mclock/workitem"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build).
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "mclockctl",
	Short:   "Exercise a weighted multi-class I/O scheduler from the command line",
	Version: fmt.Sprintf("%s (%s)", Version, Commit),
}

func init() {
	rootCmd.PersistentFlags().Bool("verbose", false, "enable debug logging")
	rootCmd.AddCommand(replayCmd)
}

// item is the CLI's concrete workitem.View: a fixed-priority, fixed-cost
// synthetic request tagged with a class and client profile.
type item struct {
	priority uint32
	cost     int32
	class    workitem.Class
	client   workitem.ClientProfileID
}

func (i item) Priority() uint32                      { return i.priority }
func (i item) Cost() int32                           { return i.cost }
func (i item) SchedClass() workitem.Class             { return i.class }
func (i item) ClientProfile() workitem.ClientProfileID { return i.client }

var _ workitem.View = item{}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a synthetic workload against one scheduler shard",
	RunE: func(cmd *cobra.Command, args []string) error {
		verbose, _ := cmd.Flags().GetBool("verbose")
		profile, _ := cmd.Flags().GetString("profile")
		clientItems, _ := cmd.Flags().GetInt("client-items")
		recoveryItems, _ := cmd.Flags().GetInt("recovery-items")
		cost, _ := cmd.Flags().GetInt32("cost")
		bandwidth, _ := cmd.Flags().GetInt64("bandwidth")
		iops, _ := cmd.Flags().GetInt64("iops")

		if verbose {
			scheduler.SetLogger(zerolog.New(os.Stderr).With().Timestamp().Logger())
		}

		src := clock.NewManual(time.Unix(0, 0))
		sched, err := scheduler.New(scheduler.Options{
			WhoAmI:       "mclockctl",
			NumShards:    1,
			ShardID:      0,
			IsRotational: false,
			Clock:        src,
			InitialConfig: scheduler.Config{
				Profile:                   clientinfo.Profile(profile),
				MaxSequentialBandwidthSSD: bandwidth,
				MaxCapacityIOPSSSD:        iops,
				CutOff:                    capacity.CutoffLow,
				AnticipationTimeout:       time.Second,
			},
		})
		if err != nil {
			return err
		}

		ctx := logtags.AddTag(context.Background(), "cmd", "replay")

		for i := 0; i < clientItems; i++ {
			if err := sched.Enqueue(item{priority: 50, cost: cost, class: workitem.Client, client: "tenant-a"}); err != nil {
				return err
			}
		}
		for i := 0; i < recoveryItems; i++ {
			if err := sched.Enqueue(item{priority: 50, cost: cost, class: workitem.BackgroundRecovery}); err != nil {
				return err
			}
		}

		dispatched := 0
		for {
			res := sched.Dequeue()
			switch res.Kind {
			case scheduler.DequeueReady:
				dispatched++
			case scheduler.DequeueFuture:
				src.AdvanceTo(res.WakeAt)
			case scheduler.DequeueEmpty:
				fmt.Printf("dispatched %d items\n", dispatched)
				snap := sched.Dump(ctx)
				fmt.Printf("queue_sizes: %+v\n", snap.QueueSizes)
				fmt.Printf("mClockClients: %d\n", snap.MClockClients)
				fmt.Printf("HighPriorityQueue: %v\n", snap.HighPriorityQueueDepths)
				fmt.Print(snap.MClockQueuesText)
				return nil
			}
		}
	},
}

func init() {
	replayCmd.Flags().String("profile", string(clientinfo.Balanced), "policy profile: high_client_ops|high_recovery_ops|balanced|custom")
	replayCmd.Flags().Int("client-items", 50, "number of client-class items to enqueue")
	replayCmd.Flags().Int("recovery-items", 50, "number of background-recovery items to enqueue")
	replayCmd.Flags().Int32("cost", 4096, "cost in bytes charged per item")
	replayCmd.Flags().Int64("bandwidth", 1<<30, "raw sequential bandwidth hint, bytes/s")
	replayCmd.Flags().Int64("iops", 1<<16, "raw IOPS hint")
}
