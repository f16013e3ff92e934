// Copyright 2025 StreamNative, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package allocate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/streamnative/shardalloc/cmd/conf"
	"github.com/streamnative/shardalloc/cmd/flag"
	"github.com/streamnative/shardalloc/coordinator"
	"github.com/streamnative/shardalloc/coordinator/allocator"
	"github.com/streamnative/shardalloc/coordinator/model"
)

const (
	OutputJSON = "json"
	OutputYAML = "yaml"
)

type options struct {
	snapshotFile string
	settingsFile string
	force        []string
	started      []string
	failed       []string
	output       string
	explain      bool
	write        bool
}

var (
	opts = options{output: OutputYAML}

	Cmd = &cobra.Command{
		Use:   "allocate",
		Short: "Run one allocation pass over a cluster snapshot",
		Long: `Run one allocation pass over a cluster snapshot and print the resulting
routing table. Shard events and forced allocations are applied before the pass.`,
		Args:    cobra.NoArgs,
		PreRunE: validate,
		RunE:    exec,
	}
)

func init() {
	flag.SnapshotFile(Cmd, &opts.snapshotFile)
	flag.ConfigFile(Cmd, &opts.settingsFile)
	Cmd.Flags().StringArrayVar(&opts.force, "force", nil, "Force a copy onto a node, as index[shard][p]=node")
	Cmd.Flags().StringArrayVar(&opts.started, "started", nil, "Report a copy as started, as index[shard][p]")
	Cmd.Flags().StringArrayVar(&opts.failed, "failed", nil, "Report a copy as failed, as index[shard][p]=message")
	Cmd.Flags().StringVarP(&opts.output, "output", "o", opts.output, "Output format [json|yaml]")
	Cmd.Flags().BoolVar(&opts.explain, "explain", false, "Include the decisions behind the result")
	Cmd.Flags().BoolVarP(&opts.write, "write", "w", false, "Write the new routing table back into the snapshot file")
	_ = Cmd.MarkFlagRequired("snapshot")
}

func validate(*cobra.Command, []string) error {
	if opts.output != OutputJSON && opts.output != OutputYAML {
		return errors.Errorf("unknown output format %q", opts.output)
	}
	if len(opts.force) > 0 && (len(opts.started) > 0 || len(opts.failed) > 0) {
		return errors.New("--force cannot be combined with shard events")
	}
	return nil
}

func loadSettings(file string) (coordinator.Settings, error) {
	settings := coordinator.DefaultSettings()
	if file == "" {
		return settings, nil
	}
	v := viper.New()
	if err := conf.Setup(v, file, false); err != nil {
		return settings, err
	}
	if err := conf.Load(v, file, &settings); err != nil {
		return settings, err
	}
	return settings, nil
}

func isJSON(file string) bool {
	return strings.EqualFold(filepath.Ext(file), ".json")
}

func readSnapshot(file string) (*model.Snapshot, error) {
	content, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	snapshot := &model.Snapshot{}
	if isJSON(file) {
		err = json.Unmarshal(content, snapshot)
	} else {
		err = yaml.Unmarshal(content, snapshot)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode snapshot %s", file)
	}
	return snapshot, nil
}

func writeSnapshot(file string, snapshot *model.Snapshot) error {
	var content []byte
	var err error
	if isJSON(file) {
		content, err = json.MarshalIndent(snapshot, "", "  ")
	} else {
		content, err = yaml.Marshal(snapshot)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(file, content, 0640)
}

func run(ctx context.Context, a *allocator.Allocator, snapshot *model.Snapshot) (*allocator.Result, error) {
	if len(opts.force) > 0 {
		var res *allocator.Result
		for _, f := range opts.force {
			request, err := allocator.ParseForceAllocation(f)
			if err != nil {
				return nil, err
			}
			if res, err = a.ForceAllocate(ctx, snapshot, request); err != nil {
				return nil, err
			}
			snapshot = &model.Snapshot{Nodes: snapshot.Nodes, Metadata: snapshot.Metadata, RoutingTable: res.RoutingTable}
		}
		return res, nil
	}

	if len(opts.failed) == 0 && len(opts.started) == 0 {
		return a.Reroute(ctx, snapshot)
	}

	var events allocator.ShardEvents
	for _, f := range opts.failed {
		copyStr, message, _ := strings.Cut(f, "=")
		id, err := model.ParseCopyID(copyStr)
		if err != nil {
			return nil, err
		}
		events.Failed = append(events.Failed, allocator.FailedShard{Copy: id, Message: message})
	}
	for _, s := range opts.started {
		id, err := model.ParseCopyID(s)
		if err != nil {
			return nil, err
		}
		events.Started = append(events.Started, id)
	}
	return a.ApplyShardEvents(ctx, snapshot, events)
}

func printResult(out io.Writer, res *allocator.Result) error {
	printed := *res
	if !opts.explain {
		printed.Explanation = nil
	}
	if opts.output == OutputJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(&printed)
	}
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(&printed); err != nil {
		return err
	}
	return enc.Close()
}

func summary(res *allocator.Result, elapsed time.Duration) string {
	rt := res.RoutingTable
	return fmt.Sprintf("%s copies, %s started, %s unassigned, changed: %v (%s, digest %x)",
		humanize.Comma(int64(rt.Len())),
		humanize.Comma(int64(rt.CountInState(model.ShardStateStarted))),
		humanize.Comma(int64(rt.CountInState(model.ShardStateUnassigned))),
		res.Changed,
		elapsed.Round(time.Microsecond),
		res.Digest())
}

func exec(cmd *cobra.Command, _ []string) error {
	settings, err := loadSettings(opts.settingsFile)
	if err != nil {
		return err
	}
	a, err := settings.NewAllocator(slog.Default())
	if err != nil {
		return err
	}
	snapshot, err := readSnapshot(opts.snapshotFile)
	if err != nil {
		return err
	}

	start := time.Now()
	res, err := run(cmd.Context(), a, snapshot)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	if err := printResult(cmd.OutOrStdout(), res); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(cmd.ErrOrStderr(), summary(res, elapsed))

	if opts.write && res.Changed {
		snapshot.RoutingTable = res.RoutingTable
		if err := writeSnapshot(opts.snapshotFile, snapshot); err != nil {
			return errors.Wrap(err, "failed to write the snapshot")
		}
	}
	return nil
}
