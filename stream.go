package ladybug

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"time"
	"unicode/utf8"
)

// capture accumulates the bytes that flow through a wrapped stream message
// into its checkpoint. It's guarded by the mutex of the owning report, and
// keeps the report open until the stream is closed or swept.
type capture struct {
	t     *Tracer
	r     *Report
	cp    *Checkpoint
	buf   []byte
	total int
	max   int
	done  bool
}

// wrap replaces stream messages with capturing wrappers, and records every
// other message directly. Must be called with r.mtx held.
func (t *Tracer) wrap(r *Report, cp *Checkpoint, message any, now time.Time) any {
	maxLen := int(t.maxMessageLength.Load())

	switch m := message.(type) {
	case io.ReadCloser:
		return &captureReadCloser{capture: t.capture(r, cp, message, StreamingReader, maxLen, now), rc: m}
	case io.WriteCloser:
		return &captureWriteCloser{capture: t.capture(r, cp, message, StreamingWriter, maxLen, now), wc: m}
	case io.Reader:
		return &captureReader{capture: t.capture(r, cp, message, StreamingReader, maxLen, now), src: m}
	default:
		cp.setMessage(message, maxLen)
		return message
	}
}

func (t *Tracer) capture(r *Report, cp *Checkpoint, message any, kind string, maxLen int, now time.Time) *capture {
	cp.MessageType = fmt.Sprintf("%T", message)
	cp.Streaming = kind
	cp.Message = ""
	c := &capture{t: t, r: r, cp: cp, max: maxLen}
	r.state.streams[c] = struct{}{}
	r.state.lastStream = now
	return c
}

func (c *capture) write(p []byte) {
	c.r.mtx.Lock()
	defer c.r.mtx.Unlock()

	if c.done {
		return
	}

	c.total += len(p)
	if room := c.max - len(c.buf); c.max < 0 || room >= len(p) {
		c.buf = append(c.buf, p...)
	} else if room > 0 {
		c.buf = append(c.buf, p[:room]...)
	}
	c.seal()

	c.r.state.lastStream = time.Now().UTC()
	c.r.bytes = nil
}

// seal copies the captured bytes to the checkpoint. Must be called with r.mtx
// held.
func (c *capture) seal() {
	if utf8.Valid(c.buf) {
		c.cp.Message = string(c.buf)
		c.cp.Encoding = EncodingNone
	} else {
		c.cp.Message = base64.StdEncoding.EncodeToString(c.buf)
		c.cp.Encoding = EncodingBase64
	}
	if c.total > len(c.buf) {
		c.cp.PreTruncatedLength = c.total
	}
}

// detach stops capturing. It returns true if the capture was still active.
// Must be called with r.mtx held.
func (c *capture) detach() bool {
	if c.done {
		return false
	}
	c.done = true
	c.seal()
	delete(c.r.state.streams, c)
	return true
}

// finish detaches the capture and closes the report if this was the last
// thing keeping it open.
func (c *capture) finish() {
	c.r.mtx.Lock()
	var done bool
	if c.detach() {
		done = c.t.settle(c.r, time.Now().UTC())
	}
	c.r.mtx.Unlock()

	if done {
		c.t.finish(context.Background(), c.r)
	}
}

type captureReader struct {
	*capture
	src io.Reader
}

func (cr *captureReader) Read(p []byte) (int, error) {
	n, err := cr.src.Read(p)
	if n > 0 {
		cr.write(p[:n])
	}
	if err == io.EOF {
		cr.finish()
	}
	return n, err
}

type captureReadCloser struct {
	*capture
	rc io.ReadCloser
}

func (crc *captureReadCloser) Read(p []byte) (int, error) {
	n, err := crc.rc.Read(p)
	if n > 0 {
		crc.write(p[:n])
	}
	return n, err
}

func (crc *captureReadCloser) Close() error {
	err := crc.rc.Close()
	crc.finish()
	return err
}

type captureWriteCloser struct {
	*capture
	wc io.WriteCloser
}

func (cwc *captureWriteCloser) Write(p []byte) (int, error) {
	n, err := cwc.wc.Write(p)
	if n > 0 {
		cwc.write(p[:n])
	}
	return n, err
}

func (cwc *captureWriteCloser) Close() error {
	err := cwc.wc.Close()
	cwc.finish()
	return err
}
