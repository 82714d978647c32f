package redistest

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
)

var (
	// ErrInvalidProtocol indicates malformed RESP data
	ErrInvalidProtocol = errors.New("redistest: invalid RESP format")
)

// RESP type bytes
const (
	typeSimpleString = '+'
	typeError        = '-'
	typeInteger      = ':'
	typeBulkString   = '$'
	typeArray        = '*'
)

const (
	maxBulkLength  = 512 * 1024 * 1024
	maxArrayLength = 1_000_000
	bufSize        = 16 * 1024
)

var crlf = []byte("\r\n")

// respReader reads client commands. Clients always send arrays of bulk
// strings, so that is the only shape it accepts at the top level.
type respReader struct {
	rd *bufio.Reader
}

func newRespReader(r io.Reader) *respReader {
	return &respReader{rd: bufio.NewReaderSize(r, bufSize)}
}

// ReadCommand reads one command and returns its arguments.
func (r *respReader) ReadCommand() ([]string, error) {
	typeByte, err := r.rd.ReadByte()
	if err != nil {
		return nil, err
	}
	if typeByte != typeArray {
		return nil, fmt.Errorf("%w: expected array, got %q", ErrInvalidProtocol, typeByte)
	}
	n, err := r.readLength(maxArrayLength)
	if err != nil {
		return nil, err
	}
	args := make([]string, 0, n)
	for i := 0; i < n; i++ {
		b, err := r.rd.ReadByte()
		if err != nil {
			return nil, err
		}
		if b != typeBulkString {
			return nil, fmt.Errorf("%w: expected bulk string, got %q", ErrInvalidProtocol, b)
		}
		s, err := r.readBulk()
		if err != nil {
			return nil, err
		}
		args = append(args, s)
	}
	return args, nil
}

func (r *respReader) readLine() (string, error) {
	line, err := r.rd.ReadString('\n')
	if err != nil {
		return "", err
	}
	if len(line) < 2 || line[len(line)-2] != '\r' {
		return "", ErrInvalidProtocol
	}
	return line[:len(line)-2], nil
}

func (r *respReader) readLength(max int64) (int, error) {
	line, err := r.readLine()
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(line, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: invalid length %q", ErrInvalidProtocol, line)
	}
	if n > max {
		return 0, fmt.Errorf("%w: length %d too large", ErrInvalidProtocol, n)
	}
	return int(n), nil
}

func (r *respReader) readBulk() (string, error) {
	n, err := r.readLength(maxBulkLength)
	if err != nil {
		return "", err
	}
	data := make([]byte, n+2)
	if _, err := io.ReadFull(r.rd, data); err != nil {
		return "", err
	}
	if data[n] != '\r' || data[n+1] != '\n' {
		return "", ErrInvalidProtocol
	}
	return string(data[:n]), nil
}

// respWriter encodes RESP2 replies. Callers flush once per command.
type respWriter struct {
	wr *bufio.Writer
}

func newRespWriter(w io.Writer) *respWriter {
	return &respWriter{wr: bufio.NewWriterSize(w, bufSize)}
}

func (w *respWriter) Flush() error { return w.wr.Flush() }

func (w *respWriter) writeTyped(prefix byte, n int64) {
	w.wr.WriteByte(prefix)
	w.wr.WriteString(strconv.FormatInt(n, 10))
	w.wr.Write(crlf)
}

func (w *respWriter) Status(s string) {
	w.wr.WriteByte(typeSimpleString)
	w.wr.WriteString(s)
	w.wr.Write(crlf)
}

// Error writes msg verbatim; msg carries its own prefix (ERR, BUSYKEY, ...).
func (w *respWriter) Error(msg string) {
	w.wr.WriteByte(typeError)
	w.wr.WriteString(msg)
	w.wr.Write(crlf)
}

func (w *respWriter) Int(n int64) {
	w.writeTyped(typeInteger, n)
}

func (w *respWriter) Bulk(s string) {
	w.writeTyped(typeBulkString, int64(len(s)))
	w.wr.WriteString(s)
	w.wr.Write(crlf)
}

func (w *respWriter) Null() {
	w.wr.WriteString("$-1\r\n")
}

func (w *respWriter) ArrayHeader(n int) {
	w.writeTyped(typeArray, int64(n))
}

func (w *respWriter) BulkArray(items []string) {
	w.ArrayHeader(len(items))
	for _, s := range items {
		w.Bulk(s)
	}
}
