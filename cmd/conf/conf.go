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

package conf

import (
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const remotePrefix = "configmap:"

func IsRemote(file string) bool {
	return strings.HasPrefix(file, remotePrefix)
}

// Setup points viper at the settings, either a local file or a config map,
// and starts watching them when watch is set.
func Setup(v *viper.Viper, file string, watch bool) error {
	v.SetConfigType("yaml")
	v.SetEnvPrefix("SHARDALLOC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if IsRemote(file) {
		if err := v.AddRemoteProvider("configmap", "endpoint", file); err != nil {
			return errors.Wrap(err, "failed to add remote provider")
		}
		if watch {
			return v.WatchRemoteConfigOnChannel()
		}
		return nil
	}

	if file == "" {
		v.SetConfigName("shardalloc")
		v.AddConfigPath("/shardalloc/conf")
		v.AddConfigPath(".")
	} else {
		v.SetConfigFile(file)
	}
	if watch {
		v.WatchConfig()
	}
	return nil
}

// Load reads the settings into target, which keeps its values for the keys
// the settings do not set.
func Load(v *viper.Viper, file string, target any) error {
	var err error
	if IsRemote(file) {
		err = v.ReadRemoteConfig()
	} else {
		err = v.ReadInConfig()
	}
	if err != nil {
		return err
	}

	if err := v.Unmarshal(target, DecodeHook()); err != nil {
		return errors.Wrap(err, "failed to decode settings")
	}
	return nil
}

func DecodeHook() viper.DecoderConfigOption {
	return viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(), // default hook
		mapstructure.StringToSliceHookFunc(","),     // default hook
	))
}
