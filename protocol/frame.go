package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Status is the first word of every reply header.
type Status string

const (
	StatusOK       Status = "OK"
	StatusNotFound Status = "NOTFOUND"
	StatusError    Status = "ERROR"
	StatusFile     Status = "FILE"
)

const (
	FileNotFound = "File not found"
	NoFileFound  = "No file found"
)

func (s Status) valid() bool {
	switch s {
	case StatusOK, StatusNotFound, StatusError, StatusFile:
		return true
	}
	return false
}

// maxHeaderLen bounds a reply header line: status, space, decimal int64.
const maxHeaderLen = 64

var (
	ErrLineTooLong = errors.New("line too long")
	ErrBadHeader   = errors.New("malformed reply header")
)

// WriteHeader writes "<status> <length>\n". Exactly length payload bytes must
// follow.
func WriteHeader(w io.Writer, status Status, length int64) error {
	_, err := fmt.Fprintf(w, "%s %d\n", status, length)
	return err
}

// WriteText writes a complete text reply. A trailing newline is added when
// the text lacks one.
func WriteText(w io.Writer, status Status, text string) error {
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	if err := WriteHeader(w, status, int64(len(text))); err != nil {
		return err
	}
	_, err := io.WriteString(w, text)
	return err
}

// ReadHeader reads one reply header.
func ReadHeader(r *bufio.Reader) (Status, int64, error) {
	line, err := ReadLine(r, maxHeaderLen)
	if err != nil {
		if errors.Is(err, ErrLineTooLong) {
			return "", 0, ErrBadHeader
		}
		return "", 0, err
	}
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return "", 0, fmt.Errorf("%w: %q", ErrBadHeader, line)
	}
	status := Status(fields[0])
	if !status.valid() {
		return "", 0, fmt.Errorf("%w: unknown status %q", ErrBadHeader, fields[0])
	}
	n, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil || n < 0 {
		return "", 0, fmt.Errorf("%w: bad length %q", ErrBadHeader, fields[1])
	}
	return status, n, nil
}

// ReadLine reads one newline-terminated line of at most max bytes, without
// the terminator (a trailing CR is also dropped). An over-long line is
// consumed up to its newline and reported as ErrLineTooLong so the stream
// stays aligned on the next line. A final unterminated line is returned as
// is; io.EOF is returned only when nothing was read.
func ReadLine(r *bufio.Reader, max int) (string, error) {
	var sb strings.Builder
	tooLong := false
	for {
		frag, err := r.ReadSlice('\n')
		if !tooLong {
			if sb.Len()+len(frag) > max+2 {
				tooLong = true
				sb.Reset()
			} else {
				sb.Write(frag)
			}
		}
		switch {
		case err == nil:
			if tooLong {
				return "", ErrLineTooLong
			}
			return trimEOL(sb.String(), max)
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if tooLong {
				return "", ErrLineTooLong
			}
			if sb.Len() == 0 {
				return "", io.EOF
			}
			return trimEOL(sb.String(), max)
		default:
			return "", err
		}
	}
}

func trimEOL(s string, max int) (string, error) {
	s = strings.TrimSuffix(s, "\n")
	s = strings.TrimSuffix(s, "\r")
	if len(s) > max {
		return "", ErrLineTooLong
	}
	return s, nil
}
