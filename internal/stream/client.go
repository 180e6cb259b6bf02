package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/star/timekeeper/internal/metrics"
)

// writeTimeout bounds each individual SSE write.
const writeTimeout = 30 * time.Second

var errNoFlusher = errors.New("streaming not supported")

// client is one open SSE connection.
type client struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
	ip      string
	logger  *slog.Logger

	messages int64
	bytes    int64
}

// newClient writes the SSE response headers and the reconnect hint.
// It fails before writing anything if w cannot flush.
func newClient(w http.ResponseWriter, ip string, logger *slog.Logger) (*client, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errNoFlusher
	}
	c := &client{
		w:       w,
		flusher: flusher,
		rc:      http.NewResponseController(w),
		ip:      ip,
		logger:  logger,
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// The server WriteTimeout would cut long-lived streams.
	if err := c.rc.SetWriteDeadline(time.Time{}); err != nil {
		logger.Debug("could not clear write deadline", "error", err)
	}

	// Jittered 3-7s retry spreads reconnects after a restart.
	if err := c.write(fmt.Sprintf("retry: %d\n\n", 3000+rand.Intn(4000)), false); err != nil {
		return nil, err
	}
	return c, nil
}

// sendJSON sends v as an SSE data message.
func (c *client) sendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("json marshal: %w", err)
	}
	return c.sendRaw(data)
}

// sendRaw sends pre-encoded JSON as an SSE data message.
func (c *client) sendRaw(data []byte) error {
	if err := c.write("data: "+string(data)+"\n\n", true); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// sendKeepalive sends an SSE comment line.
func (c *client) sendKeepalive() error {
	if err := c.write(":\n\n", false); err != nil {
		return fmt.Errorf("keepalive write: %w", err)
	}
	return nil
}

func (c *client) write(frame string, message bool) error {
	if err := c.rc.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		c.logger.Debug("could not set write deadline", "error", err)
	}
	n, err := fmt.Fprint(c.w, frame)
	if err != nil {
		return err
	}
	c.flusher.Flush()

	c.bytes += int64(n)
	metrics.AddStreamBytes(int64(n))
	if message {
		c.messages++
		metrics.IncStreamMessages()
	}
	return nil
}
