package proxy

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/thushan/codex-helper-proxy/internal/core/domain"
	"github.com/thushan/codex-helper-proxy/pkg/pool"
)

// maxBufferedBody bounds how much of a non-2xx response is buffered
// before classification, so a runaway upstream can't exhaust memory.
const maxBufferedBody = 2 * 1024 * 1024

// bufPool recycles the scratch buffers used to read non-2xx bodies,
// since every retried attempt on the hot path (upstream flapping) would
// otherwise allocate and discard one.
var bufPool = pool.NewLitePool(func() *bytes.Buffer { return new(bytes.Buffer) })

// bufferNon2xx reads the full (bounded) body of a non-2xx response so
// the retry classifiers (Cloudflare challenge/timeout) can inspect it
// before the pipeline decides whether to retry or forward it verbatim.
func bufferNon2xx(body io.ReadCloser) ([]byte, error) {
	defer body.Close()

	buf := bufPool.Get()
	defer bufPool.Put(buf)

	limited := io.LimitReader(body, maxBufferedBody+1)
	_, err := buf.ReadFrom(limited)
	if err != nil && err != io.EOF {
		return nil, err
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	if len(out) > maxBufferedBody {
		out = out[:maxBufferedBody]
	}
	return out, nil
}

// sseLine is one line read off the upstream body by the background
// reader goroutine in streamSSE, or the terminal read error (io.EOF on
// clean close).
type sseLine struct {
	data []byte
	err  error
}

// streamResult is what a completed (or interrupted) SSE stream tells
// the pipeline, so it can decide between a clean finish and a stream
// disconnect and fold usage into the request record.
type streamResult struct {
	disconnected     bool
	clientDisconnect bool
	bytesWritten     int64
	usage            *domain.Usage
}

// streamSSE tees upstream bytes to the client as they arrive while
// concurrently scanning `data:` lines for usage and the `[DONE]`
// terminator. A single reader goroutine feeds a channel so the select
// loop can race reads against the idle timeout and both contexts.
func streamSSE(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, body io.ReadCloser, idleTimeout time.Duration) *streamResult {
	defer body.Close()

	lines := make(chan sseLine, 8)
	go func() {
		r := bufio.NewReaderSize(body, 16*1024)
		for {
			line, err := r.ReadString('\n')
			if len(line) > 0 {
				lines <- sseLine{data: []byte(line)}
			}
			if err != nil {
				lines <- sseLine{err: err}
				close(lines)
				return
			}
		}
	}()

	result := &streamResult{}
	sawDone := false

	timer := time.NewTimer(idleTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			result.disconnected = !sawDone
			result.clientDisconnect = true
			return result

		case <-timer.C:
			result.disconnected = true
			return result

		case ln, ok := <-lines:
			if !ok {
				if !sawDone {
					result.disconnected = true
				}
				return result
			}
			if ln.err != nil {
				if len(ln.data) == 0 {
					if !sawDone {
						result.disconnected = true
					}
					return result
				}
			}

			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(idleTimeout)

			if len(ln.data) > 0 {
				n, werr := w.Write(ln.data)
				result.bytesWritten += int64(n)
				if werr != nil {
					result.disconnected = true
					return result
				}
				if flusher != nil {
					flusher.Flush()
				}

				if payload, ok := sseDataPayload(ln.data); ok {
					if bytes.Equal(payload, []byte("[DONE]")) {
						sawDone = true
					} else if len(payload) > 0 {
						if u := extractUsageFromSSEPayload(payload); u != nil {
							result.usage = mergeUsage(result.usage, u)
						}
					}
				}
			}

			if ln.err != nil {
				if !sawDone {
					result.disconnected = true
				}
				return result
			}
		}
	}
}

// sseDataPayload extracts the payload of a `data: ...` SSE line, if ln
// is one; the trailing newline(s) are trimmed.
func sseDataPayload(ln []byte) ([]byte, bool) {
	trimmed := bytes.TrimRight(ln, "\r\n")
	if !bytes.HasPrefix(trimmed, []byte("data:")) {
		return nil, false
	}
	payload := bytes.TrimPrefix(trimmed, []byte("data:"))
	return bytes.TrimSpace(payload), true
}

// isEventStream reports whether a response's Content-Type indicates
// SSE.
func isEventStream(contentType string) bool {
	return bytes.Contains([]byte(contentType), []byte("text/event-stream"))
}
