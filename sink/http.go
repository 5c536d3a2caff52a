package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/shreekarashastry/blocksim/record"
)

// Forwarder posts each record as JSON to an ingest endpoint. Posting is
// rate limited; records over the limit are dropped rather than queued.
type Forwarder struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter

	sent    atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// NewForwarder allows perSecond posts with the given burst. A
// non-positive perSecond disables the limit.
func NewForwarder(url string, perSecond float64, burst int) *Forwarder {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &Forwarder{
		url:     url,
		client:  &http.Client{Timeout: 5 * time.Second},
		limiter: rate.NewLimiter(limit, max(burst, 1)),
	}
}

func (f *Forwarder) Emit(r record.Record) {
	if !f.limiter.Allow() {
		f.dropped.Add(1)
		return
	}
	if err := f.post(context.Background(), r); err != nil {
		f.failed.Add(1)
		log.WithFields(log.Fields{"url": f.url, "kind": r.Kind, "err": err}).Warn("Could not forward record")
		return
	}
	f.sent.Add(1)
}

func (f *Forwarder) post(ctx context.Context, r record.Record) error {
	body, err := json.Marshal(r)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}

// Stats returns how many records were sent, dropped by the limiter and
// failed in transport.
func (f *Forwarder) Stats() (sent, dropped, failed uint64) {
	return f.sent.Load(), f.dropped.Load(), f.failed.Load()
}
