package diskcache

import (
	"errors"
	"fmt"
	"io"
)

// Editor stages new values for one entry. Obtain one with [Cache.Edit] and
// finish it with exactly one of [Editor.Commit] or [Editor.Abort].
//
// Values not written during an edit of an existing entry keep their previous
// contents. A new entry must write every value before committing.
type Editor struct {
	c          *Cache
	entry      *entry
	generation uint64
	written    []bool
	writers    []*valueWriter
	done       bool
}

// Key returns the key being edited.
func (ed *Editor) Key() string {
	return ed.entry.key
}

// NewWriter returns a writer for value index. The bytes go to a dirty file
// and are invisible to readers until Commit. Calling NewWriter again for the
// same index discards what the previous writer wrote.
func (ed *Editor) NewWriter(index int) (io.WriteCloser, error) {
	c := ed.c

	c.mu.Lock()
	defer c.mu.Unlock()

	if ed.done || c.closed || ed.generation != c.generation {
		return nil, ErrClosed
	}

	if index < 0 || index >= c.valueCount {
		return nil, fmt.Errorf("%w: value index %d out of range [0,%d)", ErrInvalidInput, index, c.valueCount)
	}

	if ed.writers == nil {
		ed.writers = make([]*valueWriter, c.valueCount)
	}

	if prev := ed.writers[index]; prev != nil {
		_ = prev.Close()
	}

	f, err := c.fs.Create(c.dirtyPath(ed.entry.key, index))
	if err != nil {
		return nil, fmt.Errorf("diskcache: create value %s.%d: %w", ed.entry.key, index, err)
	}

	w := &valueWriter{f: f}
	ed.writers[index] = w
	ed.written[index] = true

	return w, nil
}

// Commit publishes the written values. On failure the edit is aborted and
// the entry keeps its previous committed state, if any.
//
// Commit returns [ErrClosed] if the editor already finished or was
// invalidated by [Cache.Delete], and [ErrIncomplete] if a new entry is
// missing values.
func (ed *Editor) Commit() error {
	c := ed.c

	c.mu.Lock()
	defer c.mu.Unlock()

	if ed.done || c.closed {
		return ErrClosed
	}

	if ed.generation != c.generation {
		ed.done = true

		return errors.Join(ErrClosed, ed.closeWriters())
	}

	writeErr := ed.closeWriters()
	if writeErr != nil {
		return errors.Join(fmt.Errorf("diskcache: write value: %w", writeErr), c.completeEditLocked(ed, false))
	}

	if !ed.entry.readable {
		for i, ok := range ed.written {
			if !ok {
				return errors.Join(fmt.Errorf("%w: value %d not written", ErrIncomplete, i), c.completeEditLocked(ed, false))
			}
		}
	}

	return c.completeEditLocked(ed, true)
}

// Abort discards the written values. Abort after Commit or Abort is a no-op.
func (ed *Editor) Abort() error {
	c := ed.c

	c.mu.Lock()
	defer c.mu.Unlock()

	if ed.done || c.closed {
		return nil
	}

	if ed.generation != c.generation {
		ed.done = true

		// The dirty files went with the rest of the directory.
		_ = ed.closeWriters()

		return nil
	}

	return c.completeEditLocked(ed, false)
}

func (ed *Editor) closeWriters() error {
	var errs []error

	for _, w := range ed.writers {
		if w != nil {
			errs = append(errs, w.Close())
		}
	}

	return errors.Join(errs...)
}

// completeEditLocked finishes ed: it installs the dirty files when success is
// true and discards them otherwise, then journals the entry's new state.
func (c *Cache) completeEditLocked(ed *Editor, success bool) error {
	ed.done = true

	closeErr := ed.closeWriters()
	if closeErr != nil {
		success = false
	}

	e := ed.entry
	e.editor = nil

	var errs []error

	installed := false
	renamed := 0

	if success {
		installed = true

		for i, wrote := range ed.written {
			if !wrote {
				continue
			}

			clean := c.cleanPath(e.key, i)

			err := c.fs.Rename(c.dirtyPath(e.key, i), clean)
			if err != nil {
				errs = append(errs, fmt.Errorf("diskcache: install value %s.%d: %w", e.key, i, err))
				installed = false

				break
			}

			renamed++

			info, err := c.fs.Stat(clean)
			if err != nil {
				errs = append(errs, fmt.Errorf("diskcache: stat value %s.%d: %w", e.key, i, err))
				installed = false

				break
			}

			c.size += info.Size() - e.lengths[i]
			e.lengths[i] = info.Size()
		}
	}

	if !installed {
		for i, wrote := range ed.written {
			if wrote {
				errs = append(errs, c.removeIfExists(c.dirtyPath(e.key, i)))
			}
		}
	}

	c.redundantOps++

	switch {
	case renamed > 0 && !installed:
		// Some values may already be replaced; the entry can no longer be
		// trusted as a unit.
		errs = append(errs, c.removeEntryLocked(e))
	case installed || e.readable:
		e.readable = true
		errs = append(errs, c.appendJournalLocked(true, cleanRecord(e)))
	default:
		c.dropLocked(e)
		errs = append(errs, c.appendJournalLocked(true, opRemove, e.key))
	}

	if !c.closed {
		errs = append(errs, c.trimLocked())

		if c.compactionDue() {
			errs = append(errs, c.rebuildJournalLocked())
		}
	}

	return errors.Join(errs...)
}

// valueWriter remembers the first write error so Commit can refuse to
// publish a value that was only partially written.
type valueWriter struct {
	f      io.WriteCloser
	err    error
	closed bool
}

func (w *valueWriter) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}

	if w.closed {
		return 0, ErrClosed
	}

	n, err := w.f.Write(p)
	if err != nil {
		w.err = err
	}

	return n, err
}

// Close closes the dirty file and returns the first write or close error.
// Repeated calls return the same error.
func (w *valueWriter) Close() error {
	if w.closed {
		return w.err
	}

	w.closed = true

	err := w.f.Close()
	if w.err != nil {
		return w.err
	}

	w.err = err

	return err
}
