package diskcache_test

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/calvinalkan/imagecache/pkg/diskcache"
	"github.com/calvinalkan/imagecache/pkg/fs"
)

func openTestCache(t *testing.T, opts diskcache.Options) *diskcache.Cache {
	t.Helper()

	if opts.Dir == "" {
		opts.Dir = t.TempDir()
	}

	if opts.AppVersion == 0 {
		opts.AppVersion = 1
	}

	if opts.ValueCount == 0 {
		opts.ValueCount = 1
	}

	if opts.MaxSize == 0 {
		opts.MaxSize = 1 << 20
	}

	c, err := diskcache.Open(opts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	t.Cleanup(func() { _ = c.Close() })

	return c
}

func commitValue(t *testing.T, c *diskcache.Cache, key string, data []byte) {
	t.Helper()

	ed, err := c.Edit(key)
	if err != nil {
		t.Fatalf("Edit(%q) failed: %v", key, err)
	}

	if ed.Key() != key {
		t.Fatalf("editor key mismatch: got=%q want=%q", ed.Key(), key)
	}

	w, err := ed.NewWriter(0)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}

	_, err = w.Write(data)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	err = w.Close()
	if err != nil {
		t.Fatalf("writer Close failed: %v", err)
	}

	err = ed.Commit()
	if err != nil {
		t.Fatalf("Commit(%q) failed: %v", key, err)
	}
}

func readValue(t *testing.T, c *diskcache.Cache, key string) ([]byte, bool) {
	t.Helper()

	snap, found, err := c.Get(key)
	if err != nil {
		t.Fatalf("Get(%q) failed: %v", key, err)
	}

	if !found {
		return nil, false
	}

	defer func() { _ = snap.Close() }()

	if snap.Key() != key {
		t.Fatalf("snapshot key mismatch: got=%q want=%q", snap.Key(), key)
	}

	data, err := io.ReadAll(snap.Reader(0))
	if err != nil {
		t.Fatalf("ReadAll(%q) failed: %v", key, err)
	}

	if int64(len(data)) != snap.Len(0) {
		t.Fatalf("snapshot length mismatch: read=%d Len=%d", len(data), snap.Len(0))
	}

	return data, true
}

func writeJournal(t *testing.T, dir string, records ...string) {
	t.Helper()

	content := "imagecache.diskcache\n1\n1\n1\n\n" + strings.Join(records, "")

	err := os.WriteFile(filepath.Join(dir, "journal"), []byte(content), 0o644)
	if err != nil {
		t.Fatalf("write journal: %v", err)
	}
}

func Test_Get_Returns_Committed_Bytes_When_Edit_Committed(t *testing.T) {
	t.Parallel()

	c := openTestCache(t, diskcache.Options{})

	commitValue(t, c, "alpha", []byte("hello world"))

	got, found := readValue(t, c, "alpha")
	if !found {
		t.Fatal("Get(alpha) not found after commit")
	}

	if diff := cmp.Diff([]byte("hello world"), got); diff != "" {
		t.Fatalf("value mismatch (-want +got):\n%s", diff)
	}

	if c.Len() != 1 || c.Size() != 11 {
		t.Fatalf("Len/Size mismatch: Len=%d Size=%d, want 1/11", c.Len(), c.Size())
	}
}

func Test_Get_Returns_NotFound_When_Key_Never_Written(t *testing.T) {
	t.Parallel()

	c := openTestCache(t, diskcache.Options{})

	snap, found, err := c.Get("missing")
	if err != nil || found || snap != nil {
		t.Fatalf("Get(missing) = (%v, %v, %v), want (nil, false, nil)", snap, found, err)
	}
}

func Test_Edit_Returns_ErrBusy_When_Edit_Already_Open(t *testing.T) {
	t.Parallel()

	c := openTestCache(t, diskcache.Options{})

	ed, err := c.Edit("k")
	if err != nil {
		t.Fatalf("Edit failed: %v", err)
	}

	_, err = c.Edit("k")
	if !errors.Is(err, diskcache.ErrBusy) {
		t.Fatalf("second Edit error mismatch: got=%v want=%v", err, diskcache.ErrBusy)
	}

	err = ed.Abort()
	if err != nil {
		t.Fatalf("Abort failed: %v", err)
	}

	ed2, err := c.Edit("k")
	if err != nil {
		t.Fatalf("Edit after Abort failed: %v", err)
	}

	_ = ed2.Abort()
}

func Test_Get_Returns_NotFound_When_Edit_Not_Yet_Committed(t *testing.T) {
	t.Parallel()

	c := openTestCache(t, diskcache.Options{})

	ed, err := c.Edit("pending")
	if err != nil {
		t.Fatalf("Edit failed: %v", err)
	}

	w, _ := ed.NewWriter(0)
	_, _ = w.Write([]byte("not yet"))

	_, found := readValue(t, c, "pending")
	if found {
		t.Fatal("uncommitted value visible to Get")
	}

	_ = w.Close()

	err = ed.Commit()
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	_, found = readValue(t, c, "pending")
	if !found {
		t.Fatal("committed value not visible")
	}
}

func Test_Abort_Leaves_No_Entry_And_No_Dirty_File_When_New_Key(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c := openTestCache(t, diskcache.Options{Dir: dir})

	ed, err := c.Edit("gone")
	if err != nil {
		t.Fatalf("Edit failed: %v", err)
	}

	w, _ := ed.NewWriter(0)
	_, _ = w.Write([]byte("discard me"))
	_ = w.Close()

	err = ed.Abort()
	if err != nil {
		t.Fatalf("Abort failed: %v", err)
	}

	if _, found := readValue(t, c, "gone"); found {
		t.Fatal("aborted value visible")
	}

	if _, statErr := os.Stat(filepath.Join(dir, "gone.0.tmp")); !os.IsNotExist(statErr) {
		t.Fatalf("dirty file left behind: %v", statErr)
	}

	if err := ed.Abort(); err != nil {
		t.Fatalf("second Abort should be a no-op, got %v", err)
	}

	if err := ed.Commit(); !errors.Is(err, diskcache.ErrClosed) {
		t.Fatalf("Commit after Abort error mismatch: got=%v want=%v", err, diskcache.ErrClosed)
	}
}

func Test_Abort_Keeps_Previous_Value_When_Key_Already_Committed(t *testing.T) {
	t.Parallel()

	c := openTestCache(t, diskcache.Options{})

	commitValue(t, c, "k", []byte("v1"))

	ed, _ := c.Edit("k")
	w, _ := ed.NewWriter(0)
	_, _ = w.Write([]byte("v2-longer"))
	_ = w.Close()
	_ = ed.Abort()

	got, found := readValue(t, c, "k")
	if !found || string(got) != "v1" {
		t.Fatalf("Get after Abort = (%q, %v), want (v1, true)", got, found)
	}

	if c.Size() != 2 {
		t.Fatalf("Size=%d, want 2", c.Size())
	}
}

func Test_Commit_Returns_ErrIncomplete_When_New_Entry_Misses_A_Value(t *testing.T) {
	t.Parallel()

	c := openTestCache(t, diskcache.Options{ValueCount: 2})

	ed, _ := c.Edit("pair")
	w, _ := ed.NewWriter(0)
	_, _ = w.Write([]byte("left"))
	_ = w.Close()

	err := ed.Commit()
	if !errors.Is(err, diskcache.ErrIncomplete) {
		t.Fatalf("Commit error mismatch: got=%v want=%v", err, diskcache.ErrIncomplete)
	}

	if c.Len() != 0 {
		t.Fatalf("Len=%d after incomplete commit, want 0", c.Len())
	}
}

func Test_Open_Restores_Entries_When_Reopened(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	opts := diskcache.Options{Dir: dir, AppVersion: 1, ValueCount: 1, MaxSize: 1 << 20}

	c, err := diskcache.Open(opts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	commitValue(t, c, "one", []byte("1"))
	commitValue(t, c, "two", []byte("22"))
	commitValue(t, c, "three", []byte("333"))

	removed, err := c.Remove("two")
	if err != nil || !removed {
		t.Fatalf("Remove(two) = (%v, %v), want (true, nil)", removed, err)
	}

	err = c.Close()
	if err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	c2 := openTestCache(t, opts)

	if c2.Recovered() != nil {
		t.Fatalf("unexpected recovery: %v", c2.Recovered())
	}

	if c2.Len() != 2 || c2.Size() != 4 {
		t.Fatalf("reopened Len/Size = %d/%d, want 2/4", c2.Len(), c2.Size())
	}

	got, found := readValue(t, c2, "three")
	if !found || string(got) != "333" {
		t.Fatalf("Get(three) = (%q, %v)", got, found)
	}

	if _, found := readValue(t, c2, "two"); found {
		t.Fatal("removed entry restored")
	}
}

func Test_Open_Discards_Entry_When_Journal_Ends_In_Dirty(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	writeJournal(t, dir,
		"CLEAN kept 3\n",
		"DIRTY crashed\n",
	)

	for name, data := range map[string]string{"kept.0": "abc", "crashed.0": "half", "crashed.0.tmp": "half-written"} {
		err := os.WriteFile(filepath.Join(dir, name), []byte(data), 0o644)
		if err != nil {
			t.Fatalf("seed %s: %v", name, err)
		}
	}

	c := openTestCache(t, diskcache.Options{Dir: dir})

	if c.Len() != 1 || c.Size() != 3 {
		t.Fatalf("Len/Size = %d/%d, want 1/3", c.Len(), c.Size())
	}

	if _, found := readValue(t, c, "crashed"); found {
		t.Fatal("dirty entry survived recovery")
	}

	for _, name := range []string{"crashed.0", "crashed.0.tmp"} {
		if _, err := os.Stat(filepath.Join(dir, name)); !os.IsNotExist(err) {
			t.Fatalf("%s not cleaned up: %v", name, err)
		}
	}
}

func Test_Open_Ignores_Torn_Last_Line_When_Journal_Truncated(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	writeJournal(t, dir, "CLEAN whole 2\n", "CLEAN torn 1")

	err := os.WriteFile(filepath.Join(dir, "whole.0"), []byte("ok"), 0o644)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	c := openTestCache(t, diskcache.Options{Dir: dir})

	if c.Recovered() != nil {
		t.Fatalf("torn line should not count as corruption: %v", c.Recovered())
	}

	if _, found := readValue(t, c, "whole"); !found {
		t.Fatal("entry before torn line lost")
	}

	if _, found := readValue(t, c, "torn"); found {
		t.Fatal("torn record applied")
	}
}

func Test_Open_Wipes_Directory_When_Journal_Corrupt(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	writeJournal(t, dir, "CLEAN ok 2\n", "BOGUS record here\n")

	err := os.WriteFile(filepath.Join(dir, "ok.0"), []byte("ok"), 0o644)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	c := openTestCache(t, diskcache.Options{Dir: dir})

	if !errors.Is(c.Recovered(), diskcache.ErrCorrupt) {
		t.Fatalf("Recovered mismatch: got=%v want=%v", c.Recovered(), diskcache.ErrCorrupt)
	}

	if c.Len() != 0 {
		t.Fatalf("Len=%d after wipe, want 0", c.Len())
	}

	if _, err := os.Stat(filepath.Join(dir, "ok.0")); !os.IsNotExist(err) {
		t.Fatalf("value file survived wipe: %v", err)
	}

	commitValue(t, c, "fresh", []byte("x"))
}

func Test_Open_Wipes_Directory_When_App_Version_Changes(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	opts := diskcache.Options{Dir: dir, AppVersion: 1, ValueCount: 1, MaxSize: 1 << 20}

	c, err := diskcache.Open(opts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	commitValue(t, c, "old", []byte("v1 data"))
	_ = c.Close()

	opts.AppVersion = 2
	c2 := openTestCache(t, opts)

	if !errors.Is(c2.Recovered(), diskcache.ErrIncompatible) {
		t.Fatalf("Recovered mismatch: got=%v want=%v", c2.Recovered(), diskcache.ErrIncompatible)
	}

	if _, found := readValue(t, c2, "old"); found {
		t.Fatal("entry from old app version visible")
	}
}

func Test_Open_Returns_ErrLocked_When_Directory_Already_Open(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_ = openTestCache(t, diskcache.Options{Dir: dir})

	_, err := diskcache.Open(diskcache.Options{Dir: dir, AppVersion: 1, ValueCount: 1, MaxSize: 1024})
	if !errors.Is(err, diskcache.ErrLocked) {
		t.Fatalf("Open error mismatch: got=%v want=%v", err, diskcache.ErrLocked)
	}
}

func Test_Open_Returns_ErrInvalidInput_When_Options_Invalid(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	cases := []diskcache.Options{
		{Dir: "", ValueCount: 1, MaxSize: 1},
		{Dir: dir, ValueCount: 0, MaxSize: 1},
		{Dir: dir, ValueCount: 1, MaxSize: 0},
	}

	for _, opts := range cases {
		_, err := diskcache.Open(opts)
		if !errors.Is(err, diskcache.ErrInvalidInput) {
			t.Fatalf("Open(%+v) error mismatch: got=%v want=%v", opts, err, diskcache.ErrInvalidInput)
		}
	}
}

func Test_Edit_Returns_ErrInvalidKey_When_Key_Has_Illegal_Characters(t *testing.T) {
	t.Parallel()

	c := openTestCache(t, diskcache.Options{})

	for _, key := range []string{"", "UPPER", "with space", "slash/y", strings.Repeat("a", 121)} {
		_, err := c.Edit(key)
		if !errors.Is(err, diskcache.ErrInvalidKey) {
			t.Fatalf("Edit(%q) error mismatch: got=%v want=%v", key, err, diskcache.ErrInvalidKey)
		}
	}
}

func Test_Commit_Evicts_Least_Recently_Used_When_Over_MaxSize(t *testing.T) {
	t.Parallel()

	c := openTestCache(t, diskcache.Options{MaxSize: 10})

	commitValue(t, c, "a", []byte("aaaa"))
	commitValue(t, c, "b", []byte("bbbb"))

	// Touch a so b becomes the eviction candidate.
	if _, found := readValue(t, c, "a"); !found {
		t.Fatal("a missing")
	}

	commitValue(t, c, "c", []byte("cccc"))

	if c.Size() > c.MaxSize() {
		t.Fatalf("Size=%d exceeds MaxSize=%d", c.Size(), c.MaxSize())
	}

	if _, found := readValue(t, c, "b"); found {
		t.Fatal("least recently used entry b not evicted")
	}

	for _, key := range []string{"a", "c"} {
		if _, found := readValue(t, c, key); !found {
			t.Fatalf("%s evicted, want kept", key)
		}
	}
}

func Test_Snapshot_Reads_Old_Bytes_When_Key_Recommitted_After_Get(t *testing.T) {
	t.Parallel()

	c := openTestCache(t, diskcache.Options{})

	commitValue(t, c, "k", []byte("first"))

	snap, found, err := c.Get("k")
	if err != nil || !found {
		t.Fatalf("Get = (%v, %v)", found, err)
	}

	defer func() { _ = snap.Close() }()

	commitValue(t, c, "k", []byte("second!"))

	old, err := io.ReadAll(snap.Reader(0))
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}

	if string(old) != "first" {
		t.Fatalf("snapshot read %q, want first", old)
	}

	got, _ := readValue(t, c, "k")
	if string(got) != "second!" {
		t.Fatalf("new Get read %q, want second!", got)
	}
}

func Test_Delete_Leaves_Store_Usable_And_Invalidates_Open_Editors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c := openTestCache(t, diskcache.Options{Dir: dir})

	commitValue(t, c, "a", []byte("aaa"))
	commitValue(t, c, "b", []byte("bbb"))

	stale, err := c.Edit("c")
	if err != nil {
		t.Fatalf("Edit failed: %v", err)
	}

	w, _ := stale.NewWriter(0)
	_, _ = w.Write([]byte("ccc"))

	err = c.Delete()
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if c.Len() != 0 || c.Size() != 0 {
		t.Fatalf("Len/Size after Delete = %d/%d, want 0/0", c.Len(), c.Size())
	}

	if err := stale.Commit(); !errors.Is(err, diskcache.ErrClosed) {
		t.Fatalf("stale Commit error mismatch: got=%v want=%v", err, diskcache.ErrClosed)
	}

	if _, found := readValue(t, c, "c"); found {
		t.Fatal("stale editor published after Delete")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}

	var names []string
	for _, de := range entries {
		names = append(names, de.Name())
	}

	if diff := cmp.Diff([]string{".lock", "journal"}, names); diff != "" {
		t.Fatalf("dir contents after Delete (-want +got):\n%s", diff)
	}

	commitValue(t, c, "a", []byte("again"))

	got, found := readValue(t, c, "a")
	if !found || string(got) != "again" {
		t.Fatalf("Get after Delete = (%q, %v)", got, found)
	}
}

func Test_Commit_Fails_And_Publishes_Nothing_When_Disk_Full(t *testing.T) {
	t.Parallel()

	chaos := fs.NewChaos(fs.NewReal(), 7, fs.ChaosConfig{
		WriteFailRate: 1,
		WriteErrnos:   []syscall.Errno{syscall.ENOSPC},
		Match:         func(path string) bool { return strings.HasSuffix(path, ".0.tmp") },
	})

	c := openTestCache(t, diskcache.Options{FS: chaos})

	ed, err := c.Edit("full")
	if err != nil {
		t.Fatalf("Edit failed: %v", err)
	}

	w, err := ed.NewWriter(0)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}

	_, writeErr := w.Write(bytes.Repeat([]byte{0xAB}, 4096))
	if !errors.Is(writeErr, syscall.ENOSPC) {
		t.Fatalf("Write error mismatch: got=%v want ENOSPC", writeErr)
	}

	err = ed.Commit()
	if !errors.Is(err, syscall.ENOSPC) || !fs.IsChaosErr(err) {
		t.Fatalf("Commit error mismatch: got=%v want injected ENOSPC", err)
	}

	if _, found := readValue(t, c, "full"); found {
		t.Fatal("failed write published")
	}

	chaos.SetMode(fs.ChaosModeNoOp)

	commitValue(t, c, "full", []byte("fits now"))

	got, found := readValue(t, c, "full")
	if !found || string(got) != "fits now" {
		t.Fatalf("Get after recovery = (%q, %v)", got, found)
	}
}

func Test_Get_Compacts_Journal_When_Redundant_Records_Accumulate(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c := openTestCache(t, diskcache.Options{Dir: dir})

	commitValue(t, c, "hot", []byte("h"))

	for range 2100 {
		if _, found := readValue(t, c, "hot"); !found {
			t.Fatal("hot missing")
		}
	}

	err := c.Flush()
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "journal"))
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}

	lines := strings.Count(string(data), "\n")
	if lines >= 200 {
		t.Fatalf("journal has %d lines, want compaction below 200", lines)
	}
}

func Test_Close_Is_Idempotent_And_Rejects_Later_Calls(t *testing.T) {
	t.Parallel()

	c, err := diskcache.Open(diskcache.Options{Dir: t.TempDir(), AppVersion: 1, ValueCount: 1, MaxSize: 64})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	ed, _ := c.Edit("open")

	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	if err := ed.Commit(); !errors.Is(err, diskcache.ErrClosed) {
		t.Fatalf("Commit after Close error mismatch: got=%v want=%v", err, diskcache.ErrClosed)
	}

	if _, err := c.Edit("x"); !errors.Is(err, diskcache.ErrClosed) {
		t.Fatalf("Edit after Close error mismatch: got=%v want=%v", err, diskcache.ErrClosed)
	}
}
