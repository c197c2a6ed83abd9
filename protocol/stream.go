package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"sync"
)

// ErrFrameTooLarge is returned when a line exceeds the reader's limit. The
// stream cannot be resynchronized afterwards.
var ErrFrameTooLarge = errors.New("frame too large")

// Reader reads newline-delimited envelopes from a byte stream.
type Reader struct {
	r     *bufio.Reader
	limit int
}

// NewReader returns a Reader without a line length limit.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// NewLimitedReader returns a Reader that fails with ErrFrameTooLarge on
// lines longer than limit bytes, without buffering more than that.
func NewLimitedReader(r io.Reader, limit int) *Reader {
	if limit <= 0 {
		return NewReader(r)
	}
	return &Reader{r: bufio.NewReaderSize(r, limit+1), limit: limit}
}

// ReadLine returns the next non-empty line without its terminator.
func (r *Reader) ReadLine() ([]byte, error) {
	for {
		line, err := r.readLine()
		if err != nil {
			// a final unterminated line is still a frame
			if err == io.EOF && len(bytes.TrimSpace(line)) > 0 {
				return bytes.TrimSpace(line), nil
			}
			return nil, err
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		return line, nil
	}
}

func (r *Reader) readLine() ([]byte, error) {
	var line []byte
	for {
		chunk, err := r.r.ReadSlice('\n')
		line = append(line, chunk...)

		if r.limit > 0 && len(bytes.TrimSuffix(line, []byte("\n"))) > r.limit {
			return nil, ErrFrameTooLarge
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		return line, err
	}
}

// ReadClientFrame reads and decodes the next client frame. Decoding failures
// wrap ErrInvalidFrame and leave the stream usable; I/O errors do not.
func (r *Reader) ReadClientFrame() (ClientFrame, error) {
	line, err := r.ReadLine()
	if err != nil {
		return nil, err
	}
	return DecodeClientFrame(line)
}

func (r *Reader) ReadServerFrame() (ServerFrame, error) {
	line, err := r.ReadLine()
	if err != nil {
		return nil, err
	}
	return DecodeServerFrame(line)
}

// Writer writes newline-delimited envelopes. It is safe for concurrent use.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (w *Writer) WriteClientFrame(f ClientFrame) error {
	data, err := EncodeClientFrame(f)
	if err != nil {
		return err
	}
	return w.writeLine(data)
}

func (w *Writer) WriteServerFrame(f ServerFrame) error {
	data, err := EncodeServerFrame(f)
	if err != nil {
		return err
	}
	return w.writeLine(data)
}

func (w *Writer) writeLine(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.w.Write(append(data, '\n'))
	return err
}
