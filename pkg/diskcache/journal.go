package diskcache

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Journal layout:
//
//	imagecache.diskcache
//	1
//	<app version>
//	<value count>
//	<blank>
//	DIRTY <key>
//	CLEAN <key> <len 0> ... <len n-1>
//	REMOVE <key>
//	READ <key>
//
// Every record is one line. A trailing line without a newline is a torn
// append from a crash; it is ignored and the journal is rewritten.
const (
	journalMagic   = "imagecache.diskcache"
	journalVersion = "1"

	opDirty  = "DIRTY"
	opClean  = "CLEAN"
	opRemove = "REMOVE"
	opRead   = "READ"
)

// readJournal replays the journal into the in-memory index. rebuild is true
// when the journal ended in a torn line.
func (c *Cache) readJournal() (rebuild bool, err error) {
	f, err := c.fs.Open(c.journalPath())
	if err != nil {
		return false, fmt.Errorf("diskcache: open journal: %w", err)
	}

	defer func() {
		closeErr := f.Close()
		if err == nil && closeErr != nil {
			err = fmt.Errorf("diskcache: close journal: %w", closeErr)
		}
	}()

	r := bufio.NewReader(f)

	want := []string{journalMagic, journalVersion, strconv.Itoa(c.appVersion), strconv.Itoa(c.valueCount), ""}
	for i, expected := range want {
		line, readErr := r.ReadString('\n')
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return false, fmt.Errorf("%w: truncated header", ErrCorrupt)
			}

			return false, fmt.Errorf("diskcache: read journal: %w", readErr)
		}

		got := strings.TrimSuffix(line, "\n")
		if got != expected {
			return false, fmt.Errorf("%w: header line %d is %q, want %q", ErrIncompatible, i+1, got, expected)
		}
	}

	lines := 0

	for {
		line, readErr := r.ReadString('\n')
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				return false, fmt.Errorf("diskcache: read journal: %w", readErr)
			}

			rebuild = line != ""

			break
		}

		err = c.replayLine(strings.TrimSuffix(line, "\n"))
		if err != nil {
			return false, fmt.Errorf("%w: line %d: %w", ErrCorrupt, lines+6, err)
		}

		lines++
	}

	c.redundantOps = lines - len(c.entries)

	return rebuild, nil
}

func (c *Cache) replayLine(line string) error {
	parts := strings.Split(line, " ")
	if len(parts) < 2 {
		return fmt.Errorf("malformed record %q", line)
	}

	op, key := parts[0], parts[1]
	if !ValidKey(key) {
		return fmt.Errorf("invalid key %q", key)
	}

	if op == opRemove && len(parts) == 2 {
		if e := c.lookupLocked(key); e != nil {
			c.dropLocked(e)
		}

		return nil
	}

	e := c.lookupLocked(key)
	if e == nil {
		e = &entry{key: key, lengths: make([]int64, c.valueCount)}
		c.entries[key] = c.lru.PushFront(e)
	} else {
		c.lru.MoveToFront(c.entries[key])
	}

	switch {
	case op == opClean && len(parts) == 2+c.valueCount:
		for i, field := range parts[2:] {
			n, err := strconv.ParseInt(field, 10, 64)
			if err != nil || n < 0 {
				return fmt.Errorf("invalid length %q", field)
			}

			e.lengths[i] = n
		}

		e.readable = true
		e.editor = nil
	case op == opDirty && len(parts) == 2:
		// Placeholder; processJournal discards entries still marked dirty.
		e.editor = &Editor{}
	case op == opRead && len(parts) == 2:
	default:
		return fmt.Errorf("malformed record %q", line)
	}

	return nil
}

// processJournal computes the committed size and deletes entries whose last
// record is DIRTY along with any orphaned dirty files.
func (c *Cache) processJournal() error {
	for elem := c.lru.Front(); elem != nil; {
		next := elem.Next()
		e := elem.Value.(*entry)

		if e.editor == nil {
			for _, n := range e.lengths {
				c.size += n
			}

			elem = next

			continue
		}

		e.editor = nil

		for i := range c.valueCount {
			err := c.removeIfExists(c.cleanPath(e.key, i))
			if err != nil {
				return err
			}
		}

		c.dropLocked(e)

		elem = next
	}

	dirEntries, err := c.fs.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("diskcache: list dir: %w", err)
	}

	for _, de := range dirEntries {
		if strings.HasSuffix(de.Name(), ".tmp") {
			err = c.removeIfExists(filepath.Join(c.dir, de.Name()))
			if err != nil {
				return err
			}
		}
	}

	return nil
}

// rebuildJournalLocked writes a compact journal describing the current
// index, oldest entry first, and swaps it in with a rename.
func (c *Cache) rebuildJournalLocked() error {
	// The previous handle is replaced either way.
	_ = c.closeJournalLocked()

	var buf bytes.Buffer

	buf.WriteString(journalMagic + "\n")
	buf.WriteString(journalVersion + "\n")
	buf.WriteString(strconv.Itoa(c.appVersion) + "\n")
	buf.WriteString(strconv.Itoa(c.valueCount) + "\n")
	buf.WriteString("\n")

	for elem := c.lru.Back(); elem != nil; elem = elem.Prev() {
		e := elem.Value.(*entry)

		switch {
		case e.editor != nil:
			buf.WriteString(opDirty + " " + e.key + "\n")
		case e.readable:
			buf.WriteString(cleanRecord(e) + "\n")
		}
	}

	tmpPath := c.journalPath() + ".tmp"

	err := c.writeFileSynced(tmpPath, buf.Bytes())
	if err != nil {
		return errors.Join(err, c.removeIfExists(tmpPath))
	}

	err = c.fs.Rename(tmpPath, c.journalPath())
	if err != nil {
		return errors.Join(fmt.Errorf("diskcache: install journal: %w", err), c.removeIfExists(tmpPath))
	}

	err = c.openJournalForAppend()
	if err != nil {
		return err
	}

	c.redundantOps = 0

	return nil
}

func (c *Cache) writeFileSynced(path string, data []byte) error {
	f, err := c.fs.Create(path)
	if err != nil {
		return fmt.Errorf("diskcache: create journal: %w", err)
	}

	_, err = f.Write(data)
	if err == nil {
		err = f.Sync()
	}

	closeErr := f.Close()

	if err != nil {
		return errors.Join(fmt.Errorf("diskcache: write journal: %w", err), closeErr)
	}

	if closeErr != nil {
		return fmt.Errorf("diskcache: close journal: %w", closeErr)
	}

	return nil
}

func (c *Cache) openJournalForAppend() error {
	f, err := c.fs.OpenFile(c.journalPath(), os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("diskcache: open journal: %w", err)
	}

	c.journal = f
	c.journalBuf = bufio.NewWriter(f)
	c.journalBroken = false

	return nil
}

// appendJournalLocked writes one record. A failed append marks the journal
// broken; the next append rewrites it from the in-memory index first.
func (c *Cache) appendJournalLocked(flush bool, fields ...string) error {
	if c.journalBroken {
		err := c.rebuildJournalLocked()
		if err != nil {
			return err
		}
	}

	_, err := c.journalBuf.WriteString(strings.Join(fields, " ") + "\n")
	if err == nil && flush {
		err = c.journalBuf.Flush()
	}

	if err != nil {
		c.journalBroken = true

		return fmt.Errorf("diskcache: append journal: %w", err)
	}

	return nil
}

// syncJournalLocked flushes buffered records and fsyncs the journal.
func (c *Cache) syncJournalLocked() error {
	if c.journalBroken {
		return c.rebuildJournalLocked()
	}

	err := c.journalBuf.Flush()
	if err != nil {
		c.journalBroken = true

		return fmt.Errorf("diskcache: flush journal: %w", err)
	}

	err = c.journal.Sync()
	if err != nil {
		return fmt.Errorf("diskcache: sync journal: %w", err)
	}

	return nil
}

func (c *Cache) closeJournalLocked() error {
	if c.journal == nil {
		c.journalBroken = true

		return nil
	}

	var flushErr error
	if !c.journalBroken {
		flushErr = c.journalBuf.Flush()
	}

	closeErr := c.journal.Close()

	c.journal = nil
	c.journalBuf = nil
	c.journalBroken = true

	return errors.Join(flushErr, closeErr)
}

func (c *Cache) removeIfExists(path string) error {
	err := c.fs.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("diskcache: remove %s: %w", path, err)
	}

	return nil
}

func cleanRecord(e *entry) string {
	var b strings.Builder

	b.WriteString(opClean)
	b.WriteByte(' ')
	b.WriteString(e.key)

	for _, n := range e.lengths {
		b.WriteByte(' ')
		b.WriteString(strconv.FormatInt(n, 10))
	}

	return b.String()
}
