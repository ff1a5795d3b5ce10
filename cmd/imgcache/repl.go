package main

import (
	"bytes"
	"errors"
	"fmt"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/natefinch/atomic"
	"github.com/peterh/liner"

	"github.com/calvinalkan/imagecache/internal/config"
	"github.com/calvinalkan/imagecache/pkg/fs"
	"github.com/calvinalkan/imagecache/pkg/imagecache"
	"github.com/calvinalkan/imagecache/pkg/imaging"
)

var commands = []string{
	"put", "get", "clear", "folder", "stats", "trim",
	"classify", "config", "help", "exit", "quit", "q",
}

// REPL reads imgcache commands from a terminal, or runs a single one
// in one-shot mode.
type REPL struct {
	cache   *imagecache.Cache
	cfg     config.Config
	sources config.Sources
	out     io.Writer
	liner   *liner.State

	// confirm asks a yes/no question. Nil means prompt through liner.
	confirm func(prompt string) bool

	// failed records whether the last command reported an error.
	failed bool
}

// historyFile is empty when no home directory is known.
func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".imgcache_history")
}

// Run starts the REPL loop.
func (r *REPL) Run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(historyFile()); err == nil {
		_, _ = r.liner.ReadHistory(f)
		_ = f.Close()
	}

	defer r.saveHistory()

	mode := "disk+memory"
	if r.cache.Degraded() {
		mode = "memory-only"
	}

	r.printf("imgcache - %s (%s)\n", r.cache.Folder(), mode)
	r.printf("Type 'help' for available commands.\n\n")

	for {
		line, err := r.liner.Prompt("imgcache> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				r.printf("\nBye!\n")

				return nil
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		r.liner.AppendHistory(line)

		if r.exec(line) {
			r.printf("Bye!\n")

			return nil
		}
	}
}

// exec runs one command line and reports whether the user asked to quit.
func (r *REPL) exec(line string) bool {
	return r.dispatch(strings.Fields(line))
}

func (r *REPL) dispatch(parts []string) bool {
	r.failed = false

	if len(parts) == 0 {
		return false
	}

	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "exit", "quit", "q":
		return true
	case "help", "?":
		r.printHelp()
	case "put":
		r.cmdPut(args)
	case "get":
		r.cmdGet(args)
	case "clear":
		r.cmdClear()
	case "folder":
		r.printf("%s\n", r.cache.Folder())
	case "stats":
		r.cmdStats()
	case "trim":
		r.cmdTrim(args)
	case "classify":
		r.cmdClassify(args)
	case "config":
		r.cmdConfig()
	default:
		r.errorf("Unknown command: %s (type 'help' for commands)\n", cmd)
	}

	return false
}

func (r *REPL) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			_, _ = r.liner.WriteHistory(f)
			_ = f.Close()
		}
	}
}

// completer completes command names only.
func (r *REPL) completer(line string) []string {
	var completions []string

	lower := strings.ToLower(line)
	for _, cmd := range commands {
		if strings.HasPrefix(cmd, lower) {
			completions = append(completions, cmd)
		}
	}

	return completions
}

func (r *REPL) printHelp() {
	r.printf("Commands:\n")
	r.printf("  put <key> <file>       Cache the contents of file under key\n")
	r.printf("  get <key> [out-file]   Look up key, optionally writing the image to out-file\n")
	r.printf("  clear                  Delete all disk entries (memory is kept)\n")
	r.printf("  folder                 Print the disk tier directory\n")
	r.printf("  stats                  Show tier sizes and counters\n")
	r.printf("  trim <size>            Shrink the memory tier to at most size (e.g. 1MiB, 0)\n")
	r.printf("  classify <file>        Show how a payload would be cached\n")
	r.printf("  config                 Show the effective configuration\n")
	r.printf("  help                   Show this help\n")
	r.printf("  exit / quit / q        Exit\n")
}

func (r *REPL) cmdPut(args []string) {
	if len(args) != 2 {
		r.errorf("Usage: put <key> <file>\n")

		return
	}

	data, err := os.ReadFile(args[1])
	if err != nil {
		r.errorf("Error: %v\n", err)

		return
	}

	before := r.cache.Stats()
	r.cache.Put(args[0], data)
	after := r.cache.Stats()

	disk := "written to disk"

	switch {
	case after.Degraded:
		disk = "memory only (no disk tier)"
	case after.DiskBusy > before.DiskBusy:
		disk = "disk write skipped (entry busy)"
	case after.DiskFailures > before.DiskFailures:
		disk = "disk write failed (see log)"
	}

	r.printf("OK: put %s (%s, %s, %s)\n", args[0], imaging.Classify(data), humanize.IBytes(uint64(len(data))), disk)
}

func (r *REPL) cmdGet(args []string) {
	if len(args) < 1 || len(args) > 2 {
		r.errorf("Usage: get <key> [out-file]\n")

		return
	}

	e, ok := r.cache.Get(args[0])
	if !ok {
		r.printf("(not found)\n")

		return
	}

	r.printf("Kind:    %s\n", e.Kind())
	r.printf("Weight:  %s\n", humanize.IBytes(uint64(e.Weight())))
	r.printf("Valid:   %v\n", e.Valid())

	switch {
	case !e.Valid():
		r.printf("Error:   %v\n", e.Err())
	case e.Animated():
		r.printf("Raw:     %s\n", humanize.IBytes(uint64(e.RawLen())))
	default:
		b := e.Pixels().Bounds()
		r.printf("Size:    %dx%d (reduced depth: %v)\n", b.Dx(), b.Dy(), e.ReducedColorDepth())

		if px, ok := e.Pixels().(*imaging.RGB565); ok {
			r.printf("Pixels:  %s\n", humanize.IBytes(uint64(px.SizeBytes())))
		}
	}

	if len(args) == 2 && e.Valid() {
		err := writeEntity(args[1], e)
		if err != nil {
			r.errorf("Error: %v\n", err)

			return
		}

		r.printf("Wrote:   %s\n", args[1])
	}
}

// writeEntity saves animated payloads verbatim and raster pixels as PNG.
func writeEntity(path string, e *imaging.Entity) error {
	var buf bytes.Buffer

	if e.Animated() {
		buf.Write(e.Raw())
	} else {
		err := png.Encode(&buf, e.Pixels())
		if err != nil {
			return fmt.Errorf("encoding png: %w", err)
		}
	}

	err := atomic.WriteFile(path, &buf)
	if err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	return nil
}

func (r *REPL) cmdClear() {
	ask := r.confirm
	if ask == nil {
		ask = r.prompt
	}

	if !ask("Delete all disk entries? Memory entries are kept. (yes/no): ") {
		r.printf("Cancelled.\n")

		return
	}

	r.cache.Clear()
	r.printf("Disk tier cleared.\n")
}

func (r *REPL) prompt(question string) bool {
	answer, err := r.liner.Prompt(question)
	if err != nil {
		return false
	}

	answer = strings.TrimSpace(strings.ToLower(answer))

	return answer == "yes" || answer == "y"
}

func (r *REPL) cmdStats() {
	s := r.cache.Stats()

	r.printf("Memory:     %d entries, %s / %s (%d evicted)\n",
		s.MemoryEntries, humanize.IBytes(uint64(s.MemoryWeight)), humanize.IBytes(uint64(s.MemoryBudget)), s.MemoryEvictions)

	if s.Degraded {
		r.printf("Disk:       unavailable (memory-only)\n")
	} else {
		r.printf("Disk:       %d entries, %s / %s\n",
			s.DiskEntries, humanize.IBytes(uint64(s.DiskSize)), humanize.IBytes(uint64(s.DiskBudget)))
	}

	if usage, err := fs.DiskUsage(r.cache.Folder()); err == nil {
		r.printf("Volume:     %s free of %s (%.0f%%)\n",
			humanize.IBytes(usage.FreeBytes), humanize.IBytes(usage.TotalBytes), usage.FreeRatio()*100)
	}

	r.printf("Gets:       %s hits, %s misses (%.1f%% hit rate)\n",
		humanize.Comma(s.Hits), humanize.Comma(s.Misses), s.HitRate()*100)
	r.printf("Puts:       %s (%s disk writes, %s busy, %s failures)\n",
		humanize.Comma(s.Puts), humanize.Comma(s.DiskWrites), humanize.Comma(s.DiskBusy), humanize.Comma(s.DiskFailures))
	r.printf("Promotions: %s\n", humanize.Comma(s.Promotions))
}

func (r *REPL) cmdTrim(args []string) {
	if len(args) != 1 {
		r.errorf("Usage: trim <size>\n")

		return
	}

	target, err := config.ParseSize(args[0])
	if err != nil {
		r.errorf("Error: %v\n", err)

		return
	}

	n := r.cache.Trim(int64(target))
	r.printf("Evicted %d entries, memory now %s\n", n, humanize.IBytes(uint64(r.cache.Stats().MemoryWeight)))
}

func (r *REPL) cmdClassify(args []string) {
	if len(args) != 1 {
		r.errorf("Usage: classify <file>\n")

		return
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		r.errorf("Error: %v\n", err)

		return
	}

	kind := imaging.Classify(data)
	r.printf("Kind:    %s\n", kind)
	r.printf("Weight:  %s\n", humanize.IBytes(uint64(len(data))))

	if kind == imaging.KindAnimated {
		r.printf("Stored:  verbatim\n")

		return
	}

	img, err := imaging.NewDecoder().Decode(data)
	if err != nil {
		r.printf("Decode:  failed (%v)\n", err)

		return
	}

	b := img.Bounds()
	r.printf("Decode:  %dx%d RGB565, %s of pixels\n", b.Dx(), b.Dy(), humanize.IBytes(uint64(b.Dx()*b.Dy()*2)))
}

func (r *REPL) cmdConfig() {
	out, err := config.Format(r.cfg)
	if err != nil {
		r.errorf("Error: %v\n", err)

		return
	}

	r.printf("%s\n", out)

	if r.sources.Global != "" {
		r.printf("# global:  %s\n", r.sources.Global)
	}

	if r.sources.Project != "" {
		r.printf("# project: %s\n", r.sources.Project)
	}
}

func (r *REPL) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(r.out, format, args...)
}

func (r *REPL) errorf(format string, args ...any) {
	r.failed = true
	r.printf(format, args...)
}
