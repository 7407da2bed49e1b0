package stream

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
)

const maxEventBytes = 64 * 1024

// SSESource subscribes to a text/event-stream endpoint such as the relay's
// GET /give-command and forwards every event's data.
type SSESource struct {
	base
	client *http.Client
}

// NewSSESource builds a source. A nil client uses a client without timeout,
// since the response body stays open for the life of the stream.
func NewSSESource(cfg Config, client *http.Client) *SSESource {
	if client == nil {
		client = &http.Client{}
	}
	return &SSESource{base: newBase(cfg, "sse"), client: client}
}

// Run blocks until the stream ends. Cancelling ctx returns nil; any other end
// of stream is reported once and returned.
func (s *SSESource) Run(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return s.fail(ctx, fmt.Errorf("stream: build request: %w", err))
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return s.fail(ctx, fmt.Errorf("stream: connect: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return s.fail(ctx, fmt.Errorf("stream: unexpected status %s", resp.Status))
	}

	err = readEvents(resp.Body, func(data []byte) { s.deliver(ctx, data) })
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return s.fail(ctx, fmt.Errorf("stream: read: %w", err))
	}
	return s.fail(ctx, ErrStreamClosed)
}

// readEvents splits an event stream into events and calls dispatch with the
// data of each. Multi-line data is joined with newlines; comments and other
// fields are skipped. An event cut off by EOF is discarded.
func readEvents(r io.Reader, dispatch func([]byte)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxEventBytes)

	var data []byte
	pending := false
	for scanner.Scan() {
		line := bytes.TrimSuffix(scanner.Bytes(), []byte("\r"))
		if len(line) == 0 {
			if pending {
				dispatch(data)
			}
			data = data[:0]
			pending = false
			continue
		}
		field, value, found := bytes.Cut(line, []byte(":"))
		if len(field) == 0 {
			continue
		}
		if !bytes.Equal(field, []byte("data")) {
			continue
		}
		if found {
			value = bytes.TrimPrefix(value, []byte(" "))
		}
		if pending {
			data = append(data, '\n')
		}
		data = append(data, value...)
		pending = true
	}
	return scanner.Err()
}
