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

package fs

import (
	"context"
	"time"

	"github.com/WondFS/WondFS-nfs/internal/gc"
	"github.com/WondFS/WondFS-nfs/internal/kv"
)

// runBackgroundGC periodically disposes one forward-GC group against kvMgr
// on a timer, so reclaimable space is freed even without allocation
// pressure forcing a synchronous GC pass.
func runBackgroundGC(ctx context.Context, kvMgr *kv.Manager) {
	const period = 10 * time.Second
	gc.RunBackground(ctx, period, kvMgr.RunBackgroundGC)
}
