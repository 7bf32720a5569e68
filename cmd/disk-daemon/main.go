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

// Command disk-daemon serves the remote-disk HTTP protocol in front of
// either a RAM-backed device or a file-backed one.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/WondFS/WondFS-nfs/internal/disk"
	"github.com/WondFS/WondFS-nfs/internal/layout"
	"github.com/WondFS/WondFS-nfs/internal/logger"
	"github.com/WondFS/WondFS-nfs/internal/remotedisk"
)

// defaultBlocks gives a RAM-backed device of roughly 612MiB, matching the
// size the rest of the corpus's integration tests mount against.
const defaultBlocks = 1224

var addr string

var rootCmd = &cobra.Command{
	Use:   "disk-daemon [backing-file-path]",
	Short: "Serve the WondFS remote-disk protocol over HTTP",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var dev disk.Device
		size := uint32(defaultBlocks) * layout.PagesPerBlock

		if len(args) == 1 {
			fd, err := disk.OpenFileDevice(args[0], size)
			if err != nil {
				return fmt.Errorf("disk-daemon: %w", err)
			}
			defer fd.Close()
			dev = fd
			logger.Infof("disk-daemon: serving file-backed device %s (%d blocks)", args[0], defaultBlocks)
		} else {
			dev = disk.NewFakeDisk(size)
			logger.Infof("disk-daemon: serving RAM-backed device (%d blocks)", defaultBlocks)
		}

		d := remotedisk.NewDaemon(dev)
		defer d.Close()

		srv := &http.Server{Addr: addr, Handler: d.Handler()}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		// Run the HTTP server and its shutdown side by side: a SIGINT, or
		// the server stopping with an error, cancels egCtx and shuts the
		// server down. Wait returns the first error either leg reports.
		eg, egCtx := errgroup.WithContext(ctx)
		eg.Go(func() error {
			logger.Infof("disk-daemon: listening on %s", addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
		eg.Go(func() error {
			<-egCtx.Done()
			logger.Infof("disk-daemon: shutting down...")
			return srv.Shutdown(context.Background())
		})
		return eg.Wait()
	},
}

func init() {
	rootCmd.Flags().StringVar(&addr, "addr", ":3010", "address to listen on")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
