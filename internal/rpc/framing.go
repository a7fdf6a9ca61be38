package rpc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
)

// DebugLogging enables verbose payload logging (RPC send/recv frames).
var DebugLogging bool

// maxFrameSize bounds the declared body length so a corrupted header
// cannot make us allocate gigabytes.
const maxFrameSize = 16 << 20

const headerContentLength = "content-length:"

// writeFrame serializes msg and writes it with Content-Length framing:
// a textual header declaring the exact byte length of the JSON body,
// then a blank line, then the body.
func writeFrame(w io.Writer, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if DebugLogging {
		log.Printf("RPC send: %s", body)
	}
	if _, err := fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(body)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	return nil
}

// Decoder reads length-prefixed JSON-RPC messages from a byte stream.
// The buffered reader assembles frames regardless of how the transport
// chunks them: headers and bodies may arrive split across reads, and a
// single read may carry several complete messages.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder creates a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Next blocks until one complete message is available and decodes it.
// Malformed headers or invalid JSON return a *FramingError; after that
// the stream position is undefined and the caller must abandon the
// connection. A clean end of stream returns io.EOF.
func (d *Decoder) Next() (*Message, error) {
	length := -1
	first := true
	for {
		line, err := d.r.ReadString('\n')
		if err != nil {
			if err == io.EOF && first && line == "" {
				return nil, io.EOF
			}
			if err == io.EOF {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		first = false
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		if strings.HasPrefix(strings.ToLower(line), headerContentLength) {
			value := strings.TrimSpace(line[len(headerContentLength):])
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				return nil, &FramingError{Reason: "invalid Content-Length " + strconv.Quote(value), Err: err}
			}
			length = n
		}
	}

	if length < 0 {
		return nil, &FramingError{Reason: "missing Content-Length header"}
	}
	if length > maxFrameSize {
		return nil, &FramingError{Reason: fmt.Sprintf("frame of %d bytes exceeds limit", length)}
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(d.r, body); err != nil {
		return nil, err
	}
	if DebugLogging {
		log.Printf("RPC recv: %s", body)
	}

	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, &FramingError{Reason: "invalid JSON body", Err: err}
	}
	return &msg, nil
}
