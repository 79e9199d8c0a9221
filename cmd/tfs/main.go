// tfs formats, mounts and inspects tinyfs disk images.
//
// "tfs mount" serves an image through FUSE until interrupted. The other
// commands operate on an unmounted image directly.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/mit-pdos/tinyfs/common"
	"github.com/mit-pdos/tinyfs/config"
	"github.com/mit-pdos/tinyfs/disk"
	"github.com/mit-pdos/tinyfs/fuse"
	"github.com/mit-pdos/tinyfs/super"
	"github.com/mit-pdos/tinyfs/tfs"
	"github.com/mit-pdos/tinyfs/util"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type env struct {
	cfg    *config.Config
	logger *slog.Logger
	stdout io.Writer
	force  bool
}

type command struct {
	usage string
	nargs int
	run   func(e *env, args []string) error
}

var commands = map[string]command{
	"mkfs":  {"mkfs", 0, cmdMkfs},
	"mount": {"mount [mountpoint]", -1, cmdMount},
	"ls":    {"ls <path>", 1, cmdLs},
	"stat":  {"stat <path>", 1, cmdStat},
	"cat":   {"cat <path>", 1, cmdCat},
	"put":   {"put <host-file> <path>", 2, cmdPut},
	"mkdir": {"mkdir <path>", 1, cmdMkdir},
	"rm":    {"rm <path>", 1, cmdRm},
	"rmdir": {"rmdir <path>", 1, cmdRmdir},
	"df":    {"df", 0, cmdDf},
	"sum":   {"sum <path>", 1, cmdSum},
}

func run(args []string, stdout io.Writer, stderr io.Writer) error {
	var configPath, image, logLevel string
	var debug uint64
	var force bool

	flagSet := pflag.NewFlagSet("tfs", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVar(&configPath, "config", "", "YAML config file (default: $"+config.EnvVar+")")
	flagSet.StringVar(&image, "image", "", "disk image path (overrides config)")
	flagSet.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	flagSet.Uint64Var(&debug, "debug", 0, "filesystem trace level (overrides config)")
	flagSet.BoolVarP(&force, "force", "f", false, "mkfs: overwrite an existing image")
	flagSet.Usage = func() { printHelp(flagSet, stderr) }

	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	rest := flagSet.Args()
	if len(rest) == 0 {
		printHelp(flagSet, stderr)
		return fmt.Errorf("no command given")
	}
	cmd, ok := commands[rest[0]]
	if !ok {
		return fmt.Errorf("unknown command %q", rest[0])
	}
	if cmd.nargs >= 0 && len(rest)-1 != cmd.nargs {
		return fmt.Errorf("usage: tfs %s", cmd.usage)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if image != "" {
		cfg.Image = image
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if flagSet.Changed("debug") {
		cfg.Log.Debug = debug
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	level, err := cfg.Log.SlogLevel()
	if err != nil {
		return err
	}
	util.Debug = cfg.Log.Debug

	e := &env{
		cfg:    cfg,
		logger: slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})),
		stdout: stdout,
		force:  force,
	}
	return cmd.run(e, rest[1:])
}

func printHelp(flagSet *pflag.FlagSet, w io.Writer) {
	fmt.Fprintf(w, `tfs manages tinyfs disk images.

Usage:
  tfs [flags] <command> [args]

Commands:
  mkfs                      format a new image
  mount [mountpoint]        serve the image through FUSE until interrupted
  ls <path>                 list a directory
  stat <path>               show inode attributes
  cat <path>                write a file to stdout
  put <host-file> <path>    copy a host file into the image
  mkdir <path>              create a directory
  rm <path>                 remove a file
  rmdir <path>              remove an empty directory
  df                        show free inodes and blocks
  sum <path>                print the BLAKE3 hash of a file

Flags:
`)
	flagSet.SetOutput(w)
	flagSet.PrintDefaults()
}

// withFs runs f on the existing image and unmounts it afterwards.
func (e *env) withFs(f func(fs *tfs.Fs) error) error {
	d, err := disk.Open(e.cfg.Image)
	if err != nil {
		return err
	}
	fs, err := tfs.Attach(d)
	if err != nil {
		d.Close()
		return fmt.Errorf("%s: %w", e.cfg.Image, err)
	}
	err = f(fs)
	if uerr := fs.Unmount(); uerr != nil && err == nil {
		err = uerr
	}
	return err
}

func cmdMkfs(e *env, args []string) error {
	g := e.cfg.Geometry.Geometry()
	if _, err := os.Stat(e.cfg.Image); err == nil && !e.force {
		return fmt.Errorf("%s exists; use --force to overwrite", e.cfg.Image)
	}
	d, err := disk.Create(e.cfg.Image, super.MkSuperblock(g).NumBlocks())
	if err != nil {
		return err
	}
	fs, err := tfs.Format(d, g)
	if err != nil {
		d.Close()
		return err
	}
	e.logger.Info("formatted image",
		"image", e.cfg.Image,
		"inodes", g.MaxInodes,
		"data_blocks", g.MaxDataBlocks,
		"data_start", fs.Super().Sb.DataStrt,
	)
	return fs.Unmount()
}

func cmdMount(e *env, args []string) error {
	mountpoint := e.cfg.Mount.Mountpoint
	if len(args) > 1 {
		return fmt.Errorf("usage: tfs mount [mountpoint]")
	}
	if len(args) == 1 {
		mountpoint = args[0]
	}
	if mountpoint == "" {
		return fmt.Errorf("no mountpoint given and mount.mountpoint not set")
	}

	fs, err := tfs.Mount(e.cfg.Image, e.cfg.Geometry.Geometry())
	if err != nil {
		return err
	}
	server, err := fuse.Mount(fuse.Options{
		Mountpoint:   mountpoint,
		Fs:           fs,
		AllowOther:   e.cfg.Mount.AllowOther,
		FsName:       e.cfg.Mount.FsName,
		EntryTimeout: e.cfg.Mount.EntryTimeout,
		AttrTimeout:  e.cfg.Mount.AttrTimeout,
		Logger:       e.logger,
	})
	if err != nil {
		fs.Unmount()
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	done := make(chan struct{})
	go func() {
		server.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		e.logger.Info("unmounting", "mountpoint", mountpoint)
		if err := server.Unmount(); err != nil {
			e.logger.Error("fuse unmount failed", "mountpoint", mountpoint, "error", err)
		}
		<-done
	case <-done:
		e.logger.Info("unmounted externally", "mountpoint", mountpoint)
	}
	return fs.Unmount()
}

func cmdLs(e *env, args []string) error {
	return e.withFs(func(fs *tfs.Fs) error {
		ents, err := fs.Readdir(args[0])
		if err != nil {
			return err
		}
		for _, de := range ents {
			fmt.Fprintf(e.stdout, "%6d %-4v %s\n", de.Inum, de.Kind, de.Name)
		}
		return nil
	})
}

func cmdStat(e *env, args []string) error {
	return e.withFs(func(fs *tfs.Fs) error {
		a, err := fs.Getattr(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(e.stdout, "inode: %d\ntype:  %v\nlinks: %d\nsize:  %d\natime: %v\nmtime: %v\nctime: %v\n",
			a.Inum, a.Kind, a.Link, a.Size, a.Atime.UTC(), a.Mtime.UTC(), a.Ctime.UTC())
		return nil
	})
}

func cmdCat(e *env, args []string) error {
	return e.withFs(func(fs *tfs.Fs) error {
		chunk := 64 * disk.BlockSize
		for off := uint64(0); ; off += chunk {
			b, err := fs.Read(args[0], off, chunk)
			if err != nil {
				return err
			}
			if len(b) == 0 {
				return nil
			}
			if _, err := e.stdout.Write(b); err != nil {
				return err
			}
		}
	})
}

func cmdPut(e *env, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	return e.withFs(func(fs *tfs.Fs) error {
		err := fs.Create(args[1])
		if err != nil && !errors.Is(err, common.ErrExist) {
			return err
		}
		if err := fs.Truncate(args[1], 0); err != nil {
			return err
		}
		if _, err := fs.Write(args[1], 0, data); err != nil {
			return err
		}
		e.logger.Debug("copied", "from", args[0], "to", args[1], "bytes", len(data))
		return nil
	})
}

func cmdMkdir(e *env, args []string) error {
	return e.withFs(func(fs *tfs.Fs) error { return fs.Mkdir(args[0]) })
}

func cmdRm(e *env, args []string) error {
	return e.withFs(func(fs *tfs.Fs) error { return fs.Unlink(args[0]) })
}

func cmdRmdir(e *env, args []string) error {
	return e.withFs(func(fs *tfs.Fs) error { return fs.Rmdir(args[0]) })
}

func cmdDf(e *env, args []string) error {
	return e.withFs(func(fs *tfs.Fs) error {
		st, err := fs.Statfs()
		if err != nil {
			return err
		}
		fmt.Fprintf(e.stdout, "%-8s %10s %10s %10s\n", "", "total", "used", "free")
		fmt.Fprintf(e.stdout, "%-8s %10d %10d %10d\n", "inodes", st.Files, st.Files-st.Ffree, st.Ffree)
		fmt.Fprintf(e.stdout, "%-8s %10d %10d %10d\n", "blocks", st.Blocks, st.Blocks-st.Bfree, st.Bfree)
		return nil
	})
}

func cmdSum(e *env, args []string) error {
	return e.withFs(func(fs *tfs.Fs) error {
		d, err := fs.Sum(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(e.stdout, "%v  %s\n", d, args[0])
		return nil
	})
}
