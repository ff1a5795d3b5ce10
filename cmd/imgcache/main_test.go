package main

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/calvinalkan/imagecache/internal/config"
	"github.com/calvinalkan/imagecache/pkg/imagecache"
)

func runCLI(t *testing.T, args ...string) (string, string, int) {
	t.Helper()

	var out, errOut bytes.Buffer

	env := []string{"XDG_CONFIG_HOME=" + filepath.Join(t.TempDir(), "xdg")}
	code := run(args, env, &out, &errOut)

	return out.String(), errOut.String(), code
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.NRGBA{R: uint8(x * 9), G: uint8(y * 9), B: 0x80, A: 0xff})
		}
	}

	var buf bytes.Buffer

	err := png.Encode(&buf, img)
	if err != nil {
		t.Fatalf("png.Encode: %v", err)
	}

	err = os.WriteFile(path, buf.Bytes(), 0o600)
	if err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func assertExitCode(t *testing.T, got, want int, stderr string) {
	t.Helper()

	if got != want {
		t.Fatalf("exit code = %d, want %d\nstderr: %s", got, want, stderr)
	}
}

func assertContains(t *testing.T, output, substr string) {
	t.Helper()

	if !strings.Contains(output, substr) {
		t.Fatalf("output should contain %q, got:\n%s", substr, output)
	}
}

func Test_CLI_Get_Reads_Entry_Put_By_Previous_Run(t *testing.T) {
	t.Parallel()

	work := t.TempDir()
	cacheDir := filepath.Join(work, "cache")
	src := filepath.Join(work, "in.png")
	dst := filepath.Join(work, "out.png")

	writePNG(t, src, 20, 10)

	stdout, stderr, code := runCLI(t, "--dir", cacheDir, "put", "logo", src)
	assertExitCode(t, code, 0, stderr)
	assertContains(t, stdout, "OK: put logo (raster")
	assertContains(t, stdout, "written to disk")

	stdout, stderr, code = runCLI(t, "--dir", cacheDir, "get", "logo", dst)
	assertExitCode(t, code, 0, stderr)
	assertContains(t, stdout, "Size:    20x10 (reduced depth: true)")
	assertContains(t, stdout, "Pixels:  400 B")

	f, err := os.Open(dst)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()

	decoded, err := png.Decode(f)
	if err != nil {
		t.Fatalf("output is not a png: %v", err)
	}

	if got := decoded.Bounds(); got.Dx() != 20 || got.Dy() != 10 {
		t.Fatalf("output bounds = %v, want 20x10", got)
	}
}

func Test_CLI_Get_Prints_Not_Found_When_Key_Missing(t *testing.T) {
	t.Parallel()

	stdout, stderr, code := runCLI(t, "--dir", t.TempDir(), "get", "nothing")
	assertExitCode(t, code, 0, stderr)
	assertContains(t, stdout, "(not found)")
}

func Test_CLI_Stats_Reports_Budgets_From_Flags(t *testing.T) {
	t.Parallel()

	stdout, stderr, code := runCLI(t, "--dir", t.TempDir(), "--disk-budget", "2MiB", "--memory-budget", "1MiB", "stats")
	assertExitCode(t, code, 0, stderr)
	assertContains(t, stdout, "Memory:     0 entries, 0 B / 1.0 MiB")
	assertContains(t, stdout, "Disk:       0 entries, 0 B / 2.0 MiB")
}

func Test_CLI_Exits_2_When_Size_Flag_Invalid(t *testing.T) {
	t.Parallel()

	_, stderr, code := runCLI(t, "--dir", t.TempDir(), "--disk-budget", "huge", "stats")
	assertExitCode(t, code, 2, stderr)
	assertContains(t, stderr, "--disk-budget")
}

func Test_CLI_Exits_1_When_Command_Unknown(t *testing.T) {
	t.Parallel()

	stdout, stderr, code := runCLI(t, "--dir", t.TempDir(), "frobnicate")
	assertExitCode(t, code, 1, stderr)
	assertContains(t, stdout, "Unknown command: frobnicate")
}

func Test_CLI_Exits_1_When_Config_File_Missing(t *testing.T) {
	t.Parallel()

	_, stderr, code := runCLI(t, "--config", filepath.Join(t.TempDir(), "none.json"), "stats")
	assertExitCode(t, code, 1, stderr)
	assertContains(t, stderr, config.ErrConfigFileNotFound.Error())
}

func newTestREPL(t *testing.T) (*REPL, *bytes.Buffer) {
	t.Helper()

	cache, err := imagecache.New(imagecache.Options{Dir: t.TempDir(), DiskBudget: 1 << 20, MemoryBudget: 1 << 20})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	t.Cleanup(func() { _ = cache.Close() })

	var out bytes.Buffer

	return &REPL{cache: cache, cfg: config.Default(), out: &out}, &out
}

func Test_REPL_Clear_Keeps_Memory_And_Honors_Confirmation(t *testing.T) {
	t.Parallel()

	r, out := newTestREPL(t)
	src := filepath.Join(t.TempDir(), "a.png")
	writePNG(t, src, 4, 4)

	r.exec("put a " + src)

	r.confirm = func(string) bool { return false }
	r.exec("clear")
	assertContains(t, out.String(), "Cancelled.")

	if got := r.cache.Stats().DiskEntries; got != 1 {
		t.Fatalf("DiskEntries after cancelled clear = %d, want 1", got)
	}

	r.confirm = func(string) bool { return true }
	r.exec("clear")

	if got := r.cache.Stats().DiskEntries; got != 0 {
		t.Fatalf("DiskEntries after clear = %d, want 0", got)
	}

	out.Reset()
	r.exec("get a")
	assertContains(t, out.String(), "Valid:   true")

	out.Reset()
	r.exec("trim 0")
	assertContains(t, out.String(), "Evicted 1 entries")

	out.Reset()
	r.exec("get a")
	assertContains(t, out.String(), "(not found)")
}

func Test_REPL_Classify_Describes_Payload(t *testing.T) {
	t.Parallel()

	r, out := newTestREPL(t)
	dir := t.TempDir()

	gifPath := filepath.Join(dir, "anim.gif")
	if err := os.WriteFile(gifPath, []byte("GIF89a-not-really"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	r.exec("classify " + gifPath)
	assertContains(t, out.String(), "Kind:    animated")
	assertContains(t, out.String(), "Stored:  verbatim")

	out.Reset()

	pngPath := filepath.Join(dir, "still.png")
	writePNG(t, pngPath, 8, 8)

	r.exec("classify " + pngPath)
	assertContains(t, out.String(), "Decode:  8x8 RGB565, 128 B of pixels")
}

func Test_REPL_Exit_Stops_Loop(t *testing.T) {
	t.Parallel()

	r, _ := newTestREPL(t)

	for _, cmd := range []string{"exit", "quit", "q", "QUIT"} {
		if !r.exec(cmd) {
			t.Fatalf("exec(%q) should request exit", cmd)
		}
	}

	if r.exec("folder") {
		t.Fatal("folder should not exit")
	}
}
