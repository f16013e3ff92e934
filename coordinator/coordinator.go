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

package coordinator

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/time/rate"

	"github.com/streamnative/shardalloc/common/metrics"
	"github.com/streamnative/shardalloc/common/process"
	time2 "github.com/streamnative/shardalloc/common/time"
	"github.com/streamnative/shardalloc/coordinator/allocator"
	"github.com/streamnative/shardalloc/coordinator/metadata"
	"github.com/streamnative/shardalloc/coordinator/model"
)

var ErrNoSnapshot = errors.New("no cluster snapshot to allocate")

// Coordinator keeps the stored cluster snapshot allocated. It runs a pass
// periodically, when triggered, and when the settings change, and publishes
// the routing table of every pass that changed it.
type Coordinator interface {
	io.Closer

	// Trigger asks for a pass as soon as the rate limit allows.
	Trigger()

	// UpdateSettings rebuilds the decider chain and triggers a pass.
	UpdateSettings(settings Settings) error

	Reroute(ctx context.Context) (*allocator.Result, error)

	ShardsStarted(ctx context.Context, started []model.CopyID) (*allocator.Result, error)

	ShardsFailed(ctx context.Context, failed []allocator.FailedShard) (*allocator.Result, error)

	ForceAllocate(ctx context.Context, request allocator.ForceAllocation) (*allocator.Result, error)

	// LastResult is the result of the last successful pass, or nil.
	LastResult() *allocator.Result
}

type coordinator struct {
	sync.RWMutex
	// passes are serialized so that two of them never race on the store
	passMutex sync.Mutex

	provider  metadata.Provider
	allocator *allocator.Allocator
	limiter   *rate.Limiter
	interval  time.Duration
	trigger   chan struct{}
	last      *allocator.Result
	log       *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	unassignedGauge metrics.Gauge
	publishCounter  metrics.Counter
	conflictCounter metrics.Counter
	failedCounter   metrics.Counter
}

func New(provider metadata.Provider, config Config) (Coordinator, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid coordinator config")
	}

	c := &coordinator{
		provider: provider,
		limiter:  rate.NewLimiter(rate.Limit(config.MaxPassesPerSecond), 1),
		interval: config.Interval,
		trigger:  make(chan struct{}, 1),
		log: slog.With(
			slog.String("component", "coordinator"),
		),
	}
	if err := c.UpdateSettings(config.Settings); err != nil {
		return nil, err
	}

	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.publishCounter = metrics.NewCounter("shardalloc_coordinator_published_tables",
		"The number of routing tables published to the metadata store", metrics.Dimensionless, nil)
	c.conflictCounter = metrics.NewCounter("shardalloc_coordinator_store_conflicts",
		"The number of stores rejected because the snapshot changed concurrently", metrics.Dimensionless, nil)
	c.failedCounter = metrics.NewCounter("shardalloc_coordinator_failed_passes",
		"The number of passes that could not complete", metrics.Dimensionless, nil)
	c.unassignedGauge = metrics.NewGauge("shardalloc_coordinator_unassigned_copies",
		"The number of unassigned shard copies after the last pass", metrics.Dimensionless, nil, c.unassigned)

	c.log.Info(
		"Started coordinator",
		slog.Duration("interval", config.Interval),
		slog.Float64("max-passes-per-second", config.MaxPassesPerSecond),
	)

	c.wg.Add(1)
	go process.DoWithLabels(map[string]string{
		"shardalloc": "coordinator",
	}, c.run)

	c.Trigger()
	return c, nil
}

func (c *coordinator) run() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
		case <-c.trigger:
		}

		if err := c.limiter.Wait(c.ctx); err != nil {
			return
		}
		if _, err := c.Reroute(c.ctx); err != nil && !errors.Is(err, ErrNoSnapshot) && !errors.Is(err, context.Canceled) {
			c.log.Warn(
				"Periodic allocation pass failed",
				slog.Any("error", err),
			)
		}
	}
}

func (c *coordinator) Trigger() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

func (c *coordinator) UpdateSettings(settings Settings) error {
	a, err := settings.NewAllocator(c.log)
	if err != nil {
		return err
	}

	c.Lock()
	c.allocator = a
	c.Unlock()

	c.log.Info(
		"Applied allocation settings",
		slog.Any("deciders", a.Chain().Names()),
		slog.Bool("rebalance", settings.Rebalance.Enabled),
		slog.String("selector", settings.Selector),
	)
	c.Trigger()
	return nil
}

func (c *coordinator) Reroute(ctx context.Context) (*allocator.Result, error) {
	return c.pass(ctx, "reroute", func(a *allocator.Allocator, snapshot *model.Snapshot) (*allocator.Result, error) {
		return a.Reroute(ctx, snapshot)
	})
}

func (c *coordinator) ShardsStarted(ctx context.Context, started []model.CopyID) (*allocator.Result, error) {
	return c.pass(ctx, "shards-started", func(a *allocator.Allocator, snapshot *model.Snapshot) (*allocator.Result, error) {
		return a.ApplyStartedShards(ctx, snapshot, started)
	})
}

func (c *coordinator) ShardsFailed(ctx context.Context, failed []allocator.FailedShard) (*allocator.Result, error) {
	return c.pass(ctx, "shards-failed", func(a *allocator.Allocator, snapshot *model.Snapshot) (*allocator.Result, error) {
		return a.ApplyFailedShards(ctx, snapshot, failed)
	})
}

func (c *coordinator) ForceAllocate(ctx context.Context, request allocator.ForceAllocation) (*allocator.Result, error) {
	return c.pass(ctx, "force", func(a *allocator.Allocator, snapshot *model.Snapshot) (*allocator.Result, error) {
		return a.ForceAllocate(ctx, snapshot, request)
	})
}

// pass reads the stored snapshot, runs the operation and publishes a changed
// routing table. A concurrent update of the store restarts the pass on the
// fresh snapshot.
func (c *coordinator) pass(ctx context.Context, operation string,
	fn func(a *allocator.Allocator, snapshot *model.Snapshot) (*allocator.Result, error)) (*allocator.Result, error) {
	c.passMutex.Lock()
	defer c.passMutex.Unlock()

	c.RLock()
	a := c.allocator
	c.RUnlock()

	log := c.log.With(
		slog.String("pass-id", uuid.NewString()),
		slog.String("operation", operation),
	)

	var res *allocator.Result
	err := backoff.RetryNotify(func() error {
		snapshot, version, err := c.provider.Get()
		if err != nil {
			return err
		}
		if snapshot == nil {
			return backoff.Permanent(ErrNoSnapshot)
		}

		res, err = fn(a, snapshot)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !res.Changed {
			return nil
		}

		published := &model.Snapshot{
			Nodes:        snapshot.Nodes,
			Metadata:     snapshot.Metadata,
			RoutingTable: res.RoutingTable,
		}
		newVersion, err := c.provider.Store(published, version)
		if err != nil {
			if errors.Is(err, metadata.ErrBadVersion) {
				c.conflictCounter.Inc()
			}
			return err
		}
		c.publishCounter.Inc()
		log.Info(
			"Published routing table",
			slog.Any("version", newVersion),
			slog.Int("copies", res.RoutingTable.Len()),
			slog.Int("unassigned", res.RoutingTable.CountInState(model.ShardStateUnassigned)),
		)
		return nil
	}, time2.NewBackOff(ctx), func(err error, duration time.Duration) {
		log.Warn(
			"Failed to publish the routing table, retrying",
			slog.Any("error", err),
			slog.Duration("retry-after", duration),
		)
	})
	if err != nil {
		c.failedCounter.Inc()
		return nil, err
	}

	c.Lock()
	c.last = res
	c.Unlock()
	log.Debug(
		"Completed allocation pass",
		slog.Bool("changed", res.Changed),
	)
	return res, nil
}

func (c *coordinator) LastResult() *allocator.Result {
	c.RLock()
	defer c.RUnlock()
	return c.last
}

func (c *coordinator) unassigned() int64 {
	res := c.LastResult()
	if res == nil || res.RoutingTable == nil {
		return 0
	}
	return int64(res.RoutingTable.CountInState(model.ShardStateUnassigned))
}

func (c *coordinator) Close() error {
	c.cancel()
	c.wg.Wait()
	return multierr.Combine(
		c.unassignedGauge.Close(),
		c.provider.Close(),
	)
}
