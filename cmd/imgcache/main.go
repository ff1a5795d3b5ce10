// imgcache is an interactive CLI over an image cache directory.
//
// Usage:
//
//	imgcache [flags]              Start the REPL
//	imgcache [flags] <command>    Run one REPL command and exit
//
// Flags:
//
//	-c, --config          Explicit JSONC config file
//	-d, --dir             Cache directory
//	    --disk-budget     Disk tier budget (e.g. 64MiB)
//	    --memory-budget   Memory tier budget (e.g. 16MiB, default: auto)
//	    --log-level       debug, info, warn or error
//	    --log-format      text or json
//	    --require-disk    Fail instead of running memory-only
//
// Commands (in REPL):
//
//	put <key> <file>      Cache the contents of file under key
//	get <key> [out-file]  Look up key, optionally writing the image to out-file
//	clear                 Delete all disk entries (memory is kept)
//	folder                Print the disk tier directory
//	stats                 Show tier sizes and counters
//	trim <size>           Shrink the memory tier to at most size
//	classify <file>       Show how a payload would be cached
//	config                Show the effective configuration
//	help                  Show this help
//	exit / quit / q       Exit
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/calvinalkan/imagecache/internal/config"
	"github.com/calvinalkan/imagecache/internal/logging"
	"github.com/calvinalkan/imagecache/pkg/imagecache"
)

func main() {
	os.Exit(run(os.Args[1:], os.Environ(), os.Stdout, os.Stderr))
}

func run(args, env []string, stdout, stderr io.Writer) int {
	flags := pflag.NewFlagSet("imgcache", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.SetInterspersed(false)

	configPath := flags.StringP("config", "c", "", "explicit JSONC config file")
	dir := flags.StringP("dir", "d", "", "cache directory")
	diskBudget := flags.String("disk-budget", "", "disk tier budget (e.g. 64MiB)")
	memoryBudget := flags.String("memory-budget", "", "memory tier budget (default: auto)")
	logLevel := flags.String("log-level", "", "debug, info, warn or error")
	logFormat := flags.String("log-format", "", "text or json")
	requireDisk := flags.Bool("require-disk", false, "fail instead of running memory-only")

	err := flags.Parse(args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}

		return 2
	}

	overrides := config.Config{Dir: *dir, LogLevel: *logLevel, LogFormat: *logFormat}

	sizeFlags := []struct {
		name   string
		raw    string
		target *config.Size
	}{
		{"disk-budget", *diskBudget, &overrides.DiskBudget},
		{"memory-budget", *memoryBudget, &overrides.MemoryBudget},
	}

	for _, sf := range sizeFlags {
		if !flags.Changed(sf.name) {
			continue
		}

		size, parseErr := config.ParseSize(sf.raw)
		if parseErr != nil {
			fmt.Fprintf(stderr, "error: --%s: %v\n", sf.name, parseErr)

			return 2
		}

		*sf.target = size
	}

	workDir, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)

		return 1
	}

	cfg, sources, err := config.Load(config.LoadOptions{
		WorkDir:    workDir,
		ConfigPath: *configPath,
		Env:        env,
		Overrides:  overrides,
	})
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)

		return 1
	}

	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: stderr})
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)

		return 1
	}

	cache, err := imagecache.New(imagecache.Options{
		Dir:          cfg.Dir,
		DiskBudget:   int64(cfg.DiskBudget),
		MemoryBudget: int64(cfg.MemoryBudget),
		AppVersion:   cfg.AppVersion,
		Logger:       logger,
		RequireDisk:  *requireDisk,
	})
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)

		return 1
	}

	defer func() {
		closeErr := cache.Close()
		if closeErr != nil {
			fmt.Fprintf(stderr, "error: closing cache: %v\n", closeErr)
		}
	}()

	r := &REPL{cache: cache, cfg: cfg, sources: sources, out: stdout}

	if flags.NArg() > 0 {
		r.confirm = func(string) bool { return true }
		r.dispatch(flags.Args())

		if r.failed {
			return 1
		}

		return 0
	}

	err = r.Run()
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)

		return 1
	}

	return 0
}
