package connectors

import (
	"context"
	"strconv"
	"sync"
	"time"

	"portfoliodoctor/src/metrics"

	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// TimeSync keeps the offset between local time and the exchange clock.
// Concurrent resync requests share one server round trip.
type TimeSync struct {
	exchange      string
	getServerTime func(ctx context.Context) (int64, error)
	now           func() time.Time

	mu       sync.RWMutex
	offset   int64 // milliseconds, server - local
	lastSync time.Time

	group singleflight.Group
	calls int64
}

func NewTimeSync(exchange string, getServerTime func(ctx context.Context) (int64, error)) *TimeSync {
	return &TimeSync{
		exchange:      exchange,
		getServerTime: getServerTime,
		now:           time.Now,
	}
}

// Now returns the current exchange time in milliseconds.
func (ts *TimeSync) Now() int64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.now().UnixMilli() + ts.offset
}

func (ts *TimeSync) Offset() int64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.offset
}

func (ts *TimeSync) LastSync() time.Time {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.lastSync
}

// Resync refreshes the offset from the exchange.
func (ts *TimeSync) Resync(ctx context.Context) error {
	_, err, shared := ts.group.Do("resync", func() (interface{}, error) {
		return nil, ts.sync(ctx)
	})
	if shared {
		logger.WithField("exchange", ts.exchange).Debug("time resync shared with concurrent caller")
	}
	return err
}

func (ts *TimeSync) sync(ctx context.Context) error {
	localBefore := ts.now().UnixMilli()
	serverTime, err := ts.getServerTime(ctx)
	if err != nil {
		metrics.ClockResyncs.WithLabelValues(ts.exchange, "error").Inc()
		return err
	}
	localAfter := ts.now().UnixMilli()

	// symmetric latency
	localTime := localBefore + (localAfter-localBefore)/2

	ts.mu.Lock()
	ts.offset = serverTime - localTime
	ts.lastSync = ts.now()
	ts.calls++
	offset := ts.offset
	ts.mu.Unlock()

	metrics.ClockResyncs.WithLabelValues(ts.exchange, "ok").Inc()
	logger.WithFields(map[string]interface{}{
		"exchange":  ts.exchange,
		"offset_ms": strconv.FormatInt(offset, 10),
	}).Info("exchange clock resynchronized")
	return nil
}
