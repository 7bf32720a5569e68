// Copyright 2025 WondFS Authors.
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

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"strconv"

	"github.com/mitchellh/mapstructure"
)

// Octal is a permission-bits field that may be written in a config file as
// either a JSON number or a quoted octal string ("0644"), mirroring how
// mount-option permission bits are usually spelled on the command line.
type Octal uint32

// mountConfig is the on-disk shape of the optional --config file: a JSON
// object whose keys mirror the command's flag names. Any field a flag also
// sets takes its value from the flag instead, once the flag is explicitly
// provided (see applyConfigFile in main.go).
type mountConfig struct {
	BackingFile string `mapstructure:"backing-file"`
	CachePages  int    `mapstructure:"cache-pages"`
	Uid         uint32 `mapstructure:"uid"`
	Gid         uint32 `mapstructure:"gid"`
	FilePerms   Octal  `mapstructure:"file-perms"`
	DirPerms    Octal  `mapstructure:"dir-perms"`
}

// octalDecodeHook lets a JSON string field decode into an Octal, parsing it
// base 8 the way a shell-quoted permission mode ("0644") is meant to read.
func octalDecodeHook(f, t reflect.Type, data interface{}) (interface{}, error) {
	if f.Kind() != reflect.String || t != reflect.TypeOf(Octal(0)) {
		return data, nil
	}
	v, err := strconv.ParseUint(data.(string), 8, 32)
	if err != nil {
		return nil, fmt.Errorf("config: invalid octal permission %q: %w", data, err)
	}
	return Octal(v), nil
}

// loadMountConfig reads a JSON config file into a generic map and decodes it
// into a mountConfig via mapstructure, so permission fields may be spelled
// as either numbers or octal strings without a bespoke JSON unmarshaler.
func loadMountConfig(path string) (*mountConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var generic map[string]interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	var cfg mountConfig
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: octalDecodeHook,
		Result:     &cfg,
	})
	if err != nil {
		return nil, fmt.Errorf("config: build decoder: %w", err)
	}
	if err := decoder.Decode(generic); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return &cfg, nil
}
