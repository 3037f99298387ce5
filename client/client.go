// Package client talks to a catalog server: it validates a command locally,
// sends it, and reads the framed reply.
package client

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/pkg/errors"

	"filecatalog/protocol"
)

// ErrTruncated means the connection ended before the announced artifact
// length was received.
var ErrTruncated = errors.New("artifact truncated")

type Reply struct {
	Status protocol.Status
	// Text is the payload of a text reply; empty for FILE replies.
	Text string
	// Size is the payload length announced by the server.
	Size int64
}

// IsArtifact reports whether the reply carried an archive.
func (r Reply) IsArtifact() bool {
	return r.Status == protocol.StatusFile
}

type Client struct {
	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer
}

func Dial(addr string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, errors.Wrapf(err, "connect %s", addr)
	}
	return New(conn), nil
}

// New wraps an established connection.
func New(conn net.Conn) *Client {
	return &Client{
		conn: conn,
		r:    bufio.NewReader(conn),
		w:    bufio.NewWriter(conn),
	}
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Do validates line, sends it and reads the reply. An artifact is copied to
// artifact (discarded when nil). A *protocol.UsageError is returned without
// contacting the server when the command is malformed.
func (c *Client) Do(line string, artifact io.Writer) (*protocol.Request, Reply, error) {
	req, err := protocol.Parse(line)
	if err != nil {
		return nil, Reply{}, err
	}
	reply, err := c.Raw(req.String(), artifact)
	return req, reply, err
}

// Raw sends line verbatim, skipping local validation.
func (c *Client) Raw(line string, artifact io.Writer) (Reply, error) {
	if _, err := fmt.Fprintf(c.w, "%s\n", line); err != nil {
		return Reply{}, errors.Wrap(err, "send command")
	}
	if err := c.w.Flush(); err != nil {
		return Reply{}, errors.Wrap(err, "send command")
	}
	return c.readReply(artifact)
}

func (c *Client) readReply(artifact io.Writer) (Reply, error) {
	status, n, err := protocol.ReadHeader(c.r)
	if err != nil {
		return Reply{}, errors.Wrap(err, "read reply header")
	}
	reply := Reply{Status: status, Size: n}

	if status != protocol.StatusFile {
		buf := make([]byte, n)
		if _, err := io.ReadFull(c.r, buf); err != nil {
			return reply, errors.Wrap(err, "read reply")
		}
		reply.Text = string(buf)
		return reply, nil
	}

	if artifact == nil {
		artifact = io.Discard
	}
	got, err := io.CopyN(artifact, c.r, n)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return reply, errors.Wrapf(ErrTruncated, "received %d of %d bytes", got, n)
		}
		return reply, errors.Wrap(err, "receive artifact")
	}
	return reply, nil
}
