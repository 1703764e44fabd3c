package indexdb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"musicduel.ai/internal/sim/engine"
)

// IngestConfig points the index at a remote HTTP ingest endpoint instead of a local file.
type IngestConfig struct {
	Endpoint      string
	Token         string
	BatchSize     int
	FlushInterval time.Duration
	HTTPTimeout   time.Duration
	// MaxPending bounds the retained batch while the endpoint is failing.
	MaxPending int
	Logger     *log.Logger
}

// IngestIndex posts turn, epoch, claim and reset events in batches.
type IngestIndex struct {
	cfg        IngestConfig
	httpClient *http.Client

	ch   chan engine.Event
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	queueDropped atomic.Uint64
	flushFail    atomic.Uint64
	pendingDrop  atomic.Uint64
}

type IngestStats struct {
	QueueDepth        int
	QueueCapacity     int
	QueueDroppedTotal uint64
	FlushFailTotal    uint64
	PendingDropTotal  uint64
}

func OpenIngest(cfg IngestConfig) (*IngestIndex, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("empty ingest endpoint")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 128
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = 8192
	}

	d := &IngestIndex{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		ch:         make(chan engine.Event, 32768),
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.loop()
	}()
	return d, nil
}

func (d *IngestIndex) Close() error {
	if d == nil {
		return nil
	}
	d.once.Do(func() {
		d.closed.Store(true)
		close(d.ch)
		d.wg.Wait()
	})
	return nil
}

func (d *IngestIndex) Stats() IngestStats {
	if d == nil {
		return IngestStats{}
	}
	return IngestStats{
		QueueDepth:        len(d.ch),
		QueueCapacity:     cap(d.ch),
		QueueDroppedTotal: d.queueDropped.Load(),
		FlushFailTotal:    d.flushFail.Load(),
		PendingDropTotal:  d.pendingDrop.Load(),
	}
}

// Record implements engine.Recorder for the kinds the index keeps.
func (d *IngestIndex) Record(ev engine.Event) {
	if d == nil || d.closed.Load() {
		return
	}
	switch ev.Kind {
	case engine.EventTurn, engine.EventEpoch, engine.EventClaim, engine.EventReset:
	default:
		return
	}
	select {
	case d.ch <- ev:
	default:
		d.queueDropped.Add(1)
		d.printf("ingest queue full; drop kind=%s lobby=%s", ev.Kind, ev.LobbyID)
	}
}

func (d *IngestIndex) loop() {
	ticker := time.NewTicker(d.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]engine.Event, 0, d.cfg.BatchSize)
	// A failed batch is kept and retried on the next tick; while it is pending a
	// full batch does not trigger another post.
	failing := false
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := d.sendBatch(batch); err != nil {
			d.flushFail.Add(1)
			d.printf("ingest flush failed batch=%d err=%v", len(batch), err)
			if over := len(batch) - d.cfg.MaxPending; over > 0 {
				d.pendingDrop.Add(uint64(over))
				batch = append(batch[:0], batch[over:]...)
			}
			failing = true
			return
		}
		failing = false
		batch = batch[:0]
	}

	for {
		select {
		case ev, ok := <-d.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if !failing && len(batch) >= d.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (d *IngestIndex) sendBatch(events []engine.Event) error {
	body := struct {
		Events []engine.Event `json:"events"`
	}{Events: events}
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, d.cfg.Endpoint, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("content-type", "application/json")
	if d.cfg.Token != "" {
		req.Header.Set("authorization", "Bearer "+d.cfg.Token)
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return nil
}

func (d *IngestIndex) printf(format string, args ...any) {
	if d != nil && d.cfg.Logger != nil {
		d.cfg.Logger.Printf(format, args...)
	}
}
