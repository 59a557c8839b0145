// Package data records the sample stream to disk and reads recordings back.
//
// A recording is a sequence of records, each a 4-byte little-endian length followed by that
// many bytes of an encoded stream.Frame. There is no file header, so readers scan from offset 0.
package data

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/biosignal/stream"
)

const (
	// FileExt is the extension of recording files.
	FileExt = ".dat"
	// MaxSessionIDLen is the longest session id that can be appended to a file name.
	MaxSessionIDLen = 4

	lengthPrefixLen = 4
	// A frame this large is not something the recorder writes.
	maxRecordLen = 16 << 20
)

// ValidateSessionID checks that id can be used in a file name.
func ValidateSessionID(id string) error {
	if len(id) > MaxSessionIDLen {
		return errors.Errorf("session id %q is longer than %d characters", id, MaxSessionIDLen)
	}
	if strings.ContainsAny(id, `/\:. `) {
		return errors.Errorf("session id %q contains reserved characters", id)
	}
	return nil
}

// FileName returns the name of recording number seq. When the wall clock is trusted the name
// starts with the date and time of now.
func FileName(seq int, id string, now time.Time, clockTrusted bool) string {
	var sb strings.Builder
	if clockTrusted {
		sb.WriteString(now.Format("20060102_1504_"))
	}
	fmt.Fprintf(&sb, "%03d", seq)
	if id != "" {
		sb.WriteString("_")
		sb.WriteString(id)
	}
	sb.WriteString(FileExt)
	return sb.String()
}

// NextFilePath returns the first path in dir, by sequence number, that does not exist yet.
func NextFilePath(dir, id string, now time.Time, clockTrusted bool) (string, error) {
	for seq := 0; seq < 1000; seq++ {
		path := filepath.Join(dir, FileName(seq, id, now, clockTrusted))
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return path, nil
		} else if err != nil {
			return "", err
		}
	}
	return "", errors.Errorf("no free recording name in %s", dir)
}

// ClockTrusted reports whether now looks like a set wall clock. Boards without a battery-backed
// clock boot near the epoch.
func ClockTrusted(now time.Time) bool {
	return now.Year() >= 2000
}

// Writer appends length-prefixed frames to a file.
type Writer struct {
	file    *os.File
	buf     *bufio.Writer
	scratch []byte
	frames  int
	bytes   int64
}

// CreateWriter creates the file at path. It fails if the file exists.
func CreateWriter(path string) (*Writer, error) {
	//nolint:gosec
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}
	return NewWriter(f), nil
}

// NewWriter returns a writer appending to f.
func NewWriter(f *os.File) *Writer {
	return &Writer{file: f, buf: bufio.NewWriter(f)}
}

// WriteFrame appends one record.
func (w *Writer) WriteFrame(frame *stream.Frame) error {
	size := frame.Size()
	if uint64(size) > math.MaxUint32 {
		return errors.Errorf("frame of %d bytes does not fit a record", size)
	}
	w.scratch = binary.LittleEndian.AppendUint32(w.scratch[:0], uint32(size))
	w.scratch = frame.AppendMarshal(w.scratch)
	n, err := w.buf.Write(w.scratch)
	w.bytes += int64(n)
	if err != nil {
		return errors.Wrapf(err, "writing frame to %s", w.file.Name())
	}
	w.frames++
	return nil
}

// Flush writes buffered records to the file and syncs it.
func (w *Writer) Flush() error {
	if err := w.buf.Flush(); err != nil {
		return err
	}
	return w.file.Sync()
}

// Close flushes and closes the file.
func (w *Writer) Close() error {
	return multierr.Combine(w.Flush(), w.file.Close())
}

// Path returns the file path.
func (w *Writer) Path() string {
	return w.file.Name()
}

// Frames returns how many records were written.
func (w *Writer) Frames() int {
	return w.frames
}

// Bytes returns how many bytes were written, prefixes included.
func (w *Writer) Bytes() int64 {
	return w.bytes
}

// Reader iterates the records of a recording.
type Reader struct {
	path string
	size int64

	lock       sync.Mutex
	file       *os.File
	readOffset int64
}

// OpenReader opens the recording at path.
func OpenReader(path string) (*Reader, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := NewReader(f)
	if err != nil {
		return nil, multierr.Combine(err, f.Close())
	}
	return r, nil
}

// NewReader returns a reader over f, starting at offset 0.
func NewReader(f *os.File) (*Reader, error) {
	if filepath.Ext(f.Name()) != FileExt {
		return nil, errors.Errorf("%s is not a recording", f.Name())
	}
	finfo, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return &Reader{path: f.Name(), size: finfo.Size(), file: f}, nil
}

// ReadNext returns the next frame. It returns io.EOF after the last complete record and
// io.ErrUnexpectedEOF if the file ends inside a record.
func (r *Reader) ReadNext() (*stream.Frame, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, err := r.file.Seek(r.readOffset, io.SeekStart); err != nil {
		return nil, err
	}
	var prefix [lengthPrefixLen]byte
	if _, err := io.ReadFull(r.file, prefix[:]); err != nil {
		return nil, err
	}
	size := binary.LittleEndian.Uint32(prefix[:])
	if size > maxRecordLen {
		return nil, errors.Errorf("record at offset %d claims %d bytes", r.readOffset, size)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r.file, body); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	var frame stream.Frame
	if err := frame.Unmarshal(body); err != nil {
		return nil, errors.Wrapf(err, "record at offset %d", r.readOffset)
	}
	r.readOffset += int64(lengthPrefixLen) + int64(size)
	return &frame, nil
}

// Reset moves the reader back to the first record.
func (r *Reader) Reset() {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.readOffset = 0
}

// Size returns the file size when the reader was opened.
func (r *Reader) Size() int64 {
	return r.size
}

// Path returns the file path.
func (r *Reader) Path() string {
	return r.path
}

// Close closes the file.
func (r *Reader) Close() error {
	return r.file.Close()
}

// FramesFromPath returns every frame of the recording at path.
func FramesFromPath(path string) ([]*stream.Frame, error) {
	r, err := OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		//nolint:errcheck
		r.Close()
	}()
	var frames []*stream.Frame
	for {
		f, err := r.ReadNext()
		if errors.Is(err, io.EOF) {
			return frames, nil
		}
		if err != nil {
			return frames, err
		}
		frames = append(frames, f)
	}
}
