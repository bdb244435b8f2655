package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/ghalamif/AegisProbe/internal/domain"
	"github.com/ghalamif/AegisProbe/internal/ports"
)

// record layout: [8 id][4 body len][4 crc32 of body][body msgpack]
const recordHeaderLen = 16

var (
	ErrClosed  = errors.New("wal: closed")
	ErrCorrupt = errors.New("wal: corrupt record")
)

// FileWAL is an append-only observation log. Observations survive a restart
// until Commit moves the watermark past them.
type FileWAL struct {
	mu        sync.Mutex
	dir       string
	path      string
	metaPath  string
	file      *os.File
	writer    *bufio.Writer
	nextID    ports.WALEntryID
	committed ports.WALEntryID
	sizeBytes int64
	closed    bool
}

func NewFileWAL(dir string) (*FileWAL, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	w := &FileWAL{
		dir:      dir,
		path:     filepath.Join(dir, "observations.wal"),
		metaPath: filepath.Join(dir, "observations.meta"),
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *FileWAL) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	w.file = f
	if err := w.recover(); err != nil {
		f.Close()
		return err
	}
	if err := w.loadCommitted(); err != nil {
		f.Close()
		return err
	}
	if w.nextID < w.committed {
		w.nextID = w.committed
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return err
	}
	w.writer = bufio.NewWriterSize(f, 256<<10)
	return nil
}

// recover walks the log and cuts it at the first torn or damaged record.
func (w *FileWAL) recover() error {
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	r := bufio.NewReader(w.file)
	var (
		good   int64
		lastID ports.WALEntryID
	)
	for {
		id, body, err := readRecord(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, ErrCorrupt) {
				break
			}
			return fmt.Errorf("wal recover: %w", err)
		}
		good += int64(recordHeaderLen + len(body))
		lastID = id
	}
	if err := w.file.Truncate(good); err != nil {
		return err
	}
	w.sizeBytes = good
	w.nextID = lastID
	return nil
}

func readRecord(r io.Reader) (ports.WALEntryID, []byte, error) {
	var hdr [recordHeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	id := ports.WALEntryID(binary.BigEndian.Uint64(hdr[0:8]))
	n := binary.BigEndian.Uint32(hdr[8:12])
	sum := binary.BigEndian.Uint32(hdr[12:16])

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, nil, io.ErrUnexpectedEOF
		}
		return 0, nil, err
	}
	if crc32.ChecksumIEEE(body) != sum {
		return 0, nil, fmt.Errorf("%w: checksum mismatch at id %d", ErrCorrupt, id)
	}
	return id, body, nil
}

func (w *FileWAL) loadCommitted() error {
	data, err := os.ReadFile(w.metaPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	val := strings.TrimSpace(string(data))
	if val == "" {
		return nil
	}
	u, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return fmt.Errorf("wal meta parse: %w", err)
	}
	w.committed = ports.WALEntryID(u)
	return nil
}

func (w *FileWAL) Append(obs *domain.Observation) (ports.WALEntryID, error) {
	if obs == nil {
		return 0, errors.New("wal: nil observation")
	}
	body, err := msgpack.Marshal(obs)
	if err != nil {
		return 0, fmt.Errorf("wal encode: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, ErrClosed
	}

	id := w.nextID + 1
	var hdr [recordHeaderLen]byte
	binary.BigEndian.PutUint64(hdr[0:8], uint64(id))
	binary.BigEndian.PutUint32(hdr[8:12], uint32(len(body)))
	binary.BigEndian.PutUint32(hdr[12:16], crc32.ChecksumIEEE(body))

	if _, err := w.writer.Write(hdr[:]); err != nil {
		return 0, err
	}
	if _, err := w.writer.Write(body); err != nil {
		return 0, err
	}
	w.nextID = id
	w.sizeBytes += int64(recordHeaderLen + len(body))
	return id, nil
}

// Iterate calls fn for every record with id >= from, in append order.
func (w *FileWAL) Iterate(from ports.WALEntryID, fn func(id ports.WALEntryID, obs *domain.Observation) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if err := w.writer.Flush(); err != nil {
		return err
	}

	f, err := os.Open(w.path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		id, body, err := readRecord(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("wal iterate: %w", err)
		}
		if id < from {
			continue
		}
		var obs domain.Observation
		if err := msgpack.Unmarshal(body, &obs); err != nil {
			return fmt.Errorf("%w: id %d: %v", ErrCorrupt, id, err)
		}
		if err := fn(id, &obs); err != nil {
			return err
		}
	}
}

func (w *FileWAL) Commit(upto ports.WALEntryID) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if upto <= w.committed {
		return nil
	}
	w.committed = upto
	return w.persistMetaLocked()
}

// Compact rewrites the log keeping only uncommitted records.
func (w *FileWAL) Compact() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if err := w.writer.Flush(); err != nil {
		return err
	}

	tmpPath := w.path + ".compact"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	src, err := os.Open(w.path)
	if err != nil {
		tmp.Close()
		return err
	}

	out := bufio.NewWriter(tmp)
	var kept int64
	r := bufio.NewReader(src)
	for {
		id, body, rerr := readRecord(r)
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				break
			}
			src.Close()
			tmp.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("wal compact: %w", rerr)
		}
		if id <= w.committed {
			continue
		}
		var hdr [recordHeaderLen]byte
		binary.BigEndian.PutUint64(hdr[0:8], uint64(id))
		binary.BigEndian.PutUint32(hdr[8:12], uint32(len(body)))
		binary.BigEndian.PutUint32(hdr[12:16], crc32.ChecksumIEEE(body))
		out.Write(hdr[:])
		out.Write(body)
		kept += int64(recordHeaderLen + len(body))
	}
	src.Close()

	if err := out.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	tmp.Close()

	if err := w.file.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, w.path); err != nil {
		return err
	}
	f, err := os.OpenFile(w.path, os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	w.file = f
	w.writer = bufio.NewWriterSize(f, 256<<10)
	w.sizeBytes = kept
	return nil
}

// Sync flushes buffered records and fsyncs the log.
func (w *FileWAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if err := w.writer.Flush(); err != nil {
		return err
	}
	return w.file.Sync()
}

func (w *FileWAL) Stats() ports.WALStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return ports.WALStats{
		OldestUncommitted: w.committed + 1,
		LatestAppended:    w.nextID,
		SizeBytes:         w.sizeBytes,
	}
}

func (w *FileWAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	flushErr := w.writer.Flush()
	closeErr := w.file.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

func (w *FileWAL) persistMetaLocked() error {
	tmp := w.metaPath + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.FormatUint(uint64(w.committed), 10)+"\n"), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, w.metaPath)
}

var _ ports.WAL = (*FileWAL)(nil)
