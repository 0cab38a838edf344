package commitflow

import (
	"context"
	"sync"
	"time"

	"github.com/beevik/ntp"

	"github.com/timxx/qgitc-sub000/internal/errors"
	"github.com/timxx/qgitc-sub000/internal/logging"
)

// DefaultNTPTimeout bounds one NTP query.
const DefaultNTPTimeout = 5 * time.Second

// OffsetFunc returns the offset of the local clock from server.
type OffsetFunc func(ctx context.Context, server string) (time.Duration, error)

// QueryNTP asks server for the clock offset.
func QueryNTP(ctx context.Context, server string) (time.Duration, error) {
	timeout := DefaultNTPTimeout
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}
	resp, err := ntp.QueryWithOptions(server, ntp.QueryOptions{Timeout: timeout})
	if err != nil {
		return 0, errors.NewNetworkError("ntp query to "+server+" failed", err)
	}
	if err := resp.Validate(); err != nil {
		return 0, errors.NewNetworkError("invalid ntp response from "+server, err)
	}
	return resp.ClockOffset, nil
}

// Clock supplies commit dates corrected by an NTP offset.
type Clock struct {
	server string
	query  OffsetFunc
	now    func() time.Time
	logger *logging.Logger

	mu     sync.Mutex
	offset time.Duration
	known  bool
}

// NewClock creates a Clock for server. A nil query uses QueryNTP.
func NewClock(server string, query OffsetFunc, logger *logging.Logger) *Clock {
	if query == nil {
		query = QueryNTP
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Clock{
		server: server,
		query:  query,
		now:    time.Now,
		logger: logger.WithComponent("ntp"),
	}
}

// Sync refreshes the offset. On failure the previous offset, if any, is
// kept.
func (c *Clock) Sync(ctx context.Context) error {
	off, err := c.query(ctx, c.server)
	if err != nil {
		c.logger.Warn("ntp sync failed", "server", c.server, "error", err.Error())
		return err
	}
	c.mu.Lock()
	c.offset = off
	c.known = true
	c.mu.Unlock()
	c.logger.Debug("ntp offset updated", "server", c.server, "offset_ms", off.Milliseconds())
	return nil
}

// Offset returns the last known offset.
func (c *Clock) Offset() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offset, c.known
}

// Now returns local time plus the known offset.
func (c *Clock) Now() time.Time {
	off, _ := c.Offset()
	return c.now().Add(off)
}

// DateOverride returns the corrected time in ISO 8601, or "" when no
// offset is known.
func (c *Clock) DateOverride() string {
	if c == nil {
		return ""
	}
	if _, ok := c.Offset(); !ok {
		return ""
	}
	return c.Now().Format(time.RFC3339)
}
