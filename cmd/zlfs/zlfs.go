/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Thu May 10 13:01:44 2018 mstenber
 * Last modified: Fri May 11 09:47:12 2018 mstenber
 * Edit time:     97 min
 *
 */

package main

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime/pprof"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/ugorji/go/codec"

	"github.com/fingon/go-zlfs/config"
	"github.com/fingon/go-zlfs/device"
	"github.com/fingon/go-zlfs/device/factory"
	"github.com/fingon/go-zlfs/disk"
	"github.com/fingon/go-zlfs/fs"
	"github.com/fingon/go-zlfs/kernel"
	"github.com/fingon/go-zlfs/mlog"
	"github.com/fingon/go-zlfs/snapshot"
)

var (
	cfg        *config.Config
	configPath string
	verbose    bool
	mlogFlag   string
	cpuprofile string

	// overrides of the config file
	backend  string
	path     string
	password string
	geometry = config.Default().Device.Geometry

	kernelName   string
	kernelParams string
	client       uint64
)

var rootCmd = &cobra.Command{
	Use:           "zlfs",
	Short:         "Log-structured filesystem on zoned block devices",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) (err error) {
		if verbose {
			log.SetLevel(log.DebugLevel)
		}
		if mlogFlag != "" {
			mlog.SetPattern(mlogFlag)
		}
		if cpuprofile != "" {
			f, err := os.Create(cpuprofile)
			if err != nil {
				return err
			}
			if err = pprof.StartCPUProfile(f); err != nil {
				return err
			}
		}
		if configPath != "" {
			if cfg, err = config.Load(configPath); err != nil {
				return err
			}
		} else {
			cfg = config.Default()
		}
		flags := cmd.Flags()
		if flags.Changed("backend") {
			cfg.Device.Backend = backend
		}
		if flags.Changed("path") {
			cfg.Device.Path = path
		}
		if flags.Changed("password") {
			cfg.Codec.Password = password
		}
		g := &cfg.Device.Geometry
		if flags.Changed("zones") {
			g.ZoneCount = geometry.ZoneCount
		}
		if flags.Changed("zone-size") {
			g.ZoneSize = geometry.ZoneSize
		}
		if flags.Changed("zone-capacity") {
			g.ZoneCapacity = geometry.ZoneCapacity
		}
		if flags.Changed("sector-size") {
			g.SectorSize = geometry.SectorSize
		}
		log.Debugf("configuration: %+v", cfg.Device)
		return cfg.Validate()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if cpuprofile != "" {
			pprof.StopCPUProfile()
		}
	},
}

var mkfsCmd = &cobra.Command{
	Use:   "mkfs",
	Short: "Create (or recreate) the filesystem",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDevice(func(dev device.Device) error {
			if err := fs.Format(dev); err != nil {
				return err
			}
			log.Infof("formatted %s device %s: %+v",
				cfg.Device.Backend, cfg.Device.Path, dev.Geometry())
			return nil
		})
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Mount and unmount the filesystem cleanly",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFs(func(myfs *fs.Fs) error {
			st, err := myfs.Stat()
			if err != nil {
				return err
			}
			log.Infof("%v: %d inodes, %d log sectors free",
				st.UUID, st.Inodes, st.LogFree)
			return nil
		})
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print filesystem state as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFs(func(myfs *fs.Fs) error {
			st, err := myfs.Stat()
			if err != nil {
				return err
			}
			out := struct {
				Volume  string   `json:"volume"`
				Backend string   `json:"backend"`
				Stat    fs.Stat  `json:"stat"`
				Kernels []string `json:"kernels"`
			}{st.UUID.String(), cfg.Device.Backend, st, kernel.DefaultRegistry.Names()}
			var jh codec.JsonHandle
			jh.Indent = 2
			if err = codec.NewEncoder(os.Stdout, &jh).Encode(out); err != nil {
				return err
			}
			fmt.Println()
			return nil
		})
	},
}

var execCmd = &cobra.Command{
	Use:   "exec FILE",
	Short: "Store FILE and run a built-in kernel over it",
	Long: `Stores the local FILE in the filesystem, installs the chosen
built-in kernel and runs it on the device. Read kernels write their
result to stdout; the write kernel stores FILE through the device.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		params, err := hex.DecodeString(kernelParams)
		if err != nil {
			return fmt.Errorf("--params: %w", err)
		}
		if kernel.DefaultRegistry.Lookup(kernelName) == nil {
			return fmt.Errorf("%w: %q (possible: %v)", kernel.ErrUnknownProgram,
				kernelName, kernel.DefaultRegistry.Names())
		}
		return withFs(func(myfs *fs.Fs) error {
			return execKernel(myfs, filepath.Base(args[0]), data, params)
		})
	},
}

func execKernel(myfs *fs.Fs, name string, data, params []byte) error {
	isWrite := kernelName == "write"
	ino, err := myfs.CreateInode(disk.RootInode, name, disk.InodeType_FILE)
	if err != nil {
		return err
	}
	if !isWrite {
		if _, err = myfs.Write(ino, data, 0); err != nil {
			return err
		}
	}
	kino, err := myfs.CreateInode(disk.RootInode, name+"."+kernelName, disk.InodeType_FILE)
	if err != nil {
		return err
	}
	if _, err = myfs.Write(kino, kernel.MakeProgram(kernelName, params), 0); err != nil {
		return err
	}
	ctx := snapshot.Context{Inode: ino, Client: client}
	if err = myfs.SetKernel(ctx, kino, isWrite); err != nil {
		return err
	}
	defer myfs.Release(ctx)

	bg := context.Background()
	if isWrite {
		wr, err := myfs.WriteCSD(bg, ctx, data, 0)
		if err != nil {
			return err
		}
		log.Infof("inode %d: %v, %d bytes at %v", ino, wr.Status, wr.Size, wr.LBAs)
		return nil
	}
	res, err := myfs.ReadCSD(bg, ctx, uint64(len(data)), 0)
	if err != nil {
		if res != nil {
			log.Warnf("kernel %s: status %d after %d steps", kernelName, res.Status, res.Steps)
		}
		return err
	}
	log.Debugf("kernel %s: %d steps, %d bytes", kernelName, res.Steps, len(res.Data))
	switch {
	case kernelName == "count" && len(res.Data) == 8:
		fmt.Println(binary.LittleEndian.Uint64(res.Data))
		return nil
	case kernelName == "average" && len(res.Data) == 16:
		fmt.Println(binary.LittleEndian.Uint64(res.Data[8:]))
		return nil
	case kernelName == "entropy":
		h, err := kernel.Entropy(res.Data)
		if err != nil {
			return err
		}
		fmt.Printf("%.6f\n", h)
		return nil
	}
	_, err = os.Stdout.Write(res.Data)
	return err
}

func withDevice(fn func(dev device.Device) error) error {
	dev, err := cfg.OpenDevice()
	if err != nil {
		return err
	}
	err = fn(dev)
	if cerr := dev.Close(); err == nil {
		err = cerr
	}
	return err
}

func withFs(fn func(myfs *fs.Fs) error) error {
	return withDevice(func(dev device.Device) error {
		myfs, err := fs.Mount(dev, cfg.Fs)
		if err != nil {
			return err
		}
		err = fn(myfs)
		if uerr := myfs.Unmount(); err == nil {
			err = uerr
		}
		return err
	})
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	pf.StringVar(&mlogFlag, "mlog", "", "Enable tracing for file tags matching the regular expression")
	pf.StringVar(&cpuprofile, "cpuprofile", "", "CPU profile file")
	pf.StringVarP(&backend, "backend", "b", "",
		fmt.Sprintf("Backend to use (possible: %v)", factory.List()))
	pf.StringVarP(&path, "path", "p", "", "Backend path")
	pf.StringVar(&password, "password", "", "Encrypt sectors with the password")
	pf.Uint64Var(&geometry.ZoneCount, "zones", geometry.ZoneCount, "Number of zones (mkfs)")
	pf.Uint64Var(&geometry.ZoneSize, "zone-size", geometry.ZoneSize, "Sectors per zone (mkfs)")
	pf.Uint64Var(&geometry.ZoneCapacity, "zone-capacity", geometry.ZoneCapacity, "Writable sectors per zone (mkfs)")
	pf.Uint64Var(&geometry.SectorSize, "sector-size", geometry.SectorSize, "Sector size in bytes (mkfs)")

	ef := execCmd.Flags()
	ef.StringVarP(&kernelName, "kernel", "k", "read", "Built-in kernel to run")
	ef.StringVar(&kernelParams, "params", "", "Kernel parameters (hex)")
	ef.Uint64Var(&client, "client", 1, "Client identity of the execution context")

	rootCmd.AddCommand(mkfsCmd, checkCmd, inspectCmd, execCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
