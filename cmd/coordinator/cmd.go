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
	"io"
	"log/slog"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"github.com/streamnative/shardalloc/cmd/conf"
	"github.com/streamnative/shardalloc/cmd/flag"
	"github.com/streamnative/shardalloc/common/metrics"
	"github.com/streamnative/shardalloc/common/process"
	"github.com/streamnative/shardalloc/coordinator"
	"github.com/streamnative/shardalloc/coordinator/metadata"
)

var (
	config     = coordinator.NewConfig()
	configFile string

	Cmd = &cobra.Command{
		Use:     "coordinator",
		Short:   "Start a coordinator",
		Long:    `Start a coordinator that keeps the stored cluster snapshot allocated`,
		Args:    cobra.NoArgs,
		PreRunE: validate,
		RunE:    exec,
	}
)

func init() {
	flag.MetricsAddr(Cmd, &config.MetricsServiceAddr)
	flag.ConfigFile(Cmd, &configFile)
	Cmd.Flags().StringVar((*string)(&config.Metadata.Backend), "metadata", string(config.Metadata.Backend), "Metadata provider implementation: file, configmap or memory")
	Cmd.Flags().StringVar(&config.Metadata.File, "file-snapshot-path", config.Metadata.File, "The path where the cluster snapshot is stored when using the 'file' provider")
	Cmd.Flags().StringVar(&config.Metadata.Namespace, "k8s-namespace", config.Metadata.Namespace, "Kubernetes namespace of the cluster snapshot config map")
	Cmd.Flags().StringVar(&config.Metadata.ConfigMap, "k8s-configmap-name", config.Metadata.ConfigMap, "Name of the cluster snapshot config map")
	Cmd.Flags().DurationVar(&config.Interval, "interval", config.Interval, "Interval between two periodic allocation passes")
	Cmd.Flags().Float64Var(&config.MaxPassesPerSecond, "max-passes-per-second", config.MaxPassesPerSecond, "Upper bound on the rate of allocation passes")
}

func validate(*cobra.Command, []string) error {
	return config.Metadata.Validate()
}

// loadSettings reads the settings file, when there is one, over the flags.
func loadSettings(v *viper.Viper) (coordinator.Config, error) {
	c := config
	if configFile == "" {
		return c, nil
	}
	if err := conf.Load(v, configFile, &c); err != nil {
		return c, err
	}
	return c, c.Validate()
}

func exec(*cobra.Command, []string) error {
	v := viper.New()
	if configFile != "" {
		if err := conf.Setup(v, configFile, true); err != nil {
			return err
		}
	}

	c, err := loadSettings(v)
	if err != nil {
		return err
	}

	process.RunProcess(func() (io.Closer, error) {
		provider, err := metadata.New(c.Metadata)
		if err != nil {
			return nil, err
		}
		coord, err := coordinator.New(provider, c)
		if err != nil {
			return nil, multierr.Combine(err, provider.Close())
		}
		m, err := metrics.Start(c.MetricsServiceAddr)
		if err != nil {
			return nil, multierr.Combine(err, coord.Close())
		}

		reload := func() {
			updated, err := loadSettings(v)
			if err != nil {
				slog.Warn(
					"Ignoring invalid settings",
					slog.Any("error", err),
				)
				return
			}
			if err := coord.UpdateSettings(updated.Settings); err != nil {
				slog.Warn(
					"Failed to apply settings",
					slog.Any("error", err),
				)
			}
		}
		v.OnConfigChange(func(fsnotify.Event) { reload() })
		go process.DoWithLabels(map[string]string{
			"component": "settings-watch",
		}, func() {
			for range conf.RemoteChanges {
				reload()
			}
		})

		return &closer{coord, m}, nil
	})
	return nil
}

type closer struct {
	coordinator coordinator.Coordinator
	metrics     *metrics.PrometheusMetrics
}

func (c *closer) Close() error {
	return multierr.Combine(
		c.coordinator.Close(),
		c.metrics.Close(),
	)
}
