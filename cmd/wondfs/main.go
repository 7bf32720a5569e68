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

// Command wondfs mounts the WondFS POSIX bridge over a RAM-backed or
// file-backed flash device.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/jacobsa/fuse"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"

	"github.com/WondFS/WondFS-nfs/fs"
	"github.com/WondFS/WondFS-nfs/internal/buf"
	"github.com/WondFS/WondFS-nfs/internal/disk"
	"github.com/WondFS/WondFS-nfs/internal/kv"
	"github.com/WondFS/WondFS-nfs/internal/layout"
	"github.com/WondFS/WondFS-nfs/internal/logger"
	"github.com/WondFS/WondFS-nfs/internal/tl"
)

// defaultBlocks gives a RAM-backed device of roughly 612MiB, matching the
// size disk-daemon defaults to.
const defaultBlocks = 1224

// defaultCacheCapacity is the number of pages the buffer cache holds.
const defaultCacheCapacity = 4096

var (
	backingFile string
	cacheCap    int
	uid         uint32
	gid         uint32
	filePerms   uint32
	dirPerms    uint32
	configPath  string
)

var rootCmd = &cobra.Command{
	Use:   "wondfs <mountpoint>",
	Short: "Mount the WondFS flash file system",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mountPoint := args[0]

		if configPath != "" {
			if err := applyConfigFile(cmd, configPath); err != nil {
				return fmt.Errorf("wondfs: %w", err)
			}
		}

		var dev disk.Device
		size := uint32(defaultBlocks) * layout.PagesPerBlock
		if backingFile != "" {
			fd, err := disk.OpenFileDevice(backingFile, size)
			if err != nil {
				return fmt.Errorf("wondfs: %w", err)
			}
			dev = fd
			logger.Infof("wondfs: using file-backed device %s (%d blocks)", backingFile, defaultBlocks)
		} else {
			dev = disk.NewFakeDisk(size)
			logger.Infof("wondfs: using RAM-backed device (%d blocks)", defaultBlocks)
		}

		geo := layout.NewGeometry(defaultBlocks)
		t := tl.New(dev, geo)
		bc := buf.New(t, cacheCap)
		kvMgr := kv.New(bc, geo)

		logger.Infof("wondfs: mounting key-value manager...")
		if err := kvMgr.Mount(); err != nil {
			return fmt.Errorf("kv.Manager.Mount: %w", err)
		}

		server, err := fs.NewServer(&fs.ServerConfig{
			KVManager: kvMgr,
			Uid:       uid,
			Gid:       gid,
			FilePerms: os.FileMode(filePerms),
			DirPerms:  os.FileMode(dirPerms),
		})
		if err != nil {
			return fmt.Errorf("fs.NewServer: %w", err)
		}

		logger.Infof("wondfs: mounting file system at %s...", mountPoint)
		mfs, err := fuse.Mount(mountPoint, server, &fuse.MountConfig{
			FSName:  "wondfs",
			Subtype: "wondfs",
		})
		if err != nil {
			return fmt.Errorf("fuse.Mount: %w", err)
		}

		registerSIGINTHandler(mountPoint)

		if err := mfs.Join(context.Background()); err != nil {
			return fmt.Errorf("MountedFileSystem.Join: %w", err)
		}

		return nil
	},
}

// registerSIGINTHandler lets the user unmount with Ctrl-C.
func registerSIGINTHandler(mountPoint string) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt)

	go func() {
		for range signalChan {
			logger.Infof("wondfs: received SIGINT, attempting to unmount...")
			if err := fuse.Unmount(mountPoint); err != nil {
				logger.Errorf("wondfs: failed to unmount in response to SIGINT: %v", err)
				continue
			}
			logger.Infof("wondfs: successfully unmounted in response to SIGINT.")
			return
		}
	}()
}

// applyConfigFile loads path and fills any flag the user did not explicitly
// pass on the command line from its corresponding config value, so a
// --config file acts as a set of defaults rather than a hard override.
func applyConfigFile(cmd *cobra.Command, path string) error {
	cfg, err := loadMountConfig(path)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if !flags.Changed("backing-file") && cfg.BackingFile != "" {
		backingFile = cfg.BackingFile
	}
	if !flags.Changed("cache-pages") && cfg.CachePages != 0 {
		cacheCap = cfg.CachePages
	}
	if !flags.Changed("uid") && cfg.Uid != 0 {
		uid = cfg.Uid
	}
	if !flags.Changed("gid") && cfg.Gid != 0 {
		gid = cfg.Gid
	}
	if !flags.Changed("file-perms") && cfg.FilePerms != 0 {
		filePerms = uint32(cfg.FilePerms)
	}
	if !flags.Changed("dir-perms") && cfg.DirPerms != 0 {
		dirPerms = uint32(cfg.DirPerms)
	}
	return nil
}

// chooseDefaultCacheCapacity picks a buffer-cache page capacity scaled to
// the process's open-file-descriptor limit, falling back to
// defaultCacheCapacity on error. Mirrors gcsfuse's
// ChooseTempDirLimitNumFiles: ask RLIMIT_NOFILE, take a fraction of it,
// clamp to a reasonable ceiling.
func chooseDefaultCacheCapacity() int {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlimit); err != nil {
		logger.Errorf("wondfs: failed to query RLIMIT_NOFILE, using default cache capacity of %d: %v", defaultCacheCapacity, err)
		return defaultCacheCapacity
	}
	limit := rlimit.Cur / 2
	const reasonableLimit = 1 << 16
	if limit > reasonableLimit {
		limit = reasonableLimit
	}
	if limit == 0 {
		return defaultCacheCapacity
	}
	return int(limit)
}

// bindFlags registers every wondfs flag on flagSet, mirroring gcsfuse's
// cfg.BindFlags(*pflag.FlagSet) shape of taking the FlagSet itself rather
// than working only through cobra.Command's convenience wrappers.
func bindFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&backingFile, "backing-file", "", "backing file for the flash device (RAM-backed if omitted)")
	flagSet.IntVar(&cacheCap, "cache-pages", chooseDefaultCacheCapacity(), "buffer cache capacity in pages")
	flagSet.Uint32Var(&uid, "uid", uint32(os.Getuid()), "owning uid for the root inode")
	flagSet.Uint32Var(&gid, "gid", uint32(os.Getgid()), "owning gid for the root inode")
	flagSet.Uint32Var(&filePerms, "file-perms", 0644, "file permission bits (validated; new files take the mode of the create request)")
	flagSet.Uint32Var(&dirPerms, "dir-perms", 0755, "permission bits of the root directory when it is first created")
	flagSet.StringVar(&configPath, "config", "", "optional JSON config file providing defaults for the flags above")
}

func init() {
	bindFlags(rootCmd.Flags())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
