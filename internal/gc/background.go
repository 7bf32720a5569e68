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

package gc

import (
	"context"
	"time"

	"github.com/WondFS/WondFS-nfs/internal/logger"
)

// RunBackground periodically runs one forward-GC pass via dispose, which is
// expected to call NewEvent and apply the resulting plan (the KV manager's
// dispose_gc_group). Grounded on fs/garbage_collect.go's time.Tick-driven
// background loop.
func RunBackground(ctx context.Context, period time.Duration, dispose func() (disposed bool, err error)) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			disposed, err := dispose()
			if err != nil {
				logger.Errorf("background gc pass failed: %v", err)
				continue
			}
			if disposed {
				logger.Infof("background gc reclaimed a block")
			}
		}
	}
}
