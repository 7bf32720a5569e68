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

package tl

import (
	"context"
	"time"

	"github.com/WondFS/WondFS-nfs/internal/logger"
)

// RunFlusher drains the write cache on a fixed tick until ctx is cancelled,
// following the same time.Tick background-loop shape as the forward-GC loop
// (see fs/garbage_collect.go's runBackgroundGC, which runs gc.RunBackground).
func (t *TL) RunFlusher(ctx context.Context, period time.Duration) {
	tick := time.NewTicker(period)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if !t.NeedSync() {
				continue
			}
			logger.Debugf("tl: starting a flush run")
			t.Flush()
		}
	}
}
