package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Metric names recorded by vgrid.
const (
	MetricCheckDuration     = "check_duration_ms"
	MetricRenderDuration    = "render_duration_ms"
	MetricResourcesResolved = "resources_resolved"
	MetricRendersFailed     = "renders_failed"
)

// Metric is one datapoint.
type Metric struct {
	Name   string
	At     time.Time
	Value  float64
	Unit   string
	Labels map[string]string
}

// Metrics buffers datapoints and writes them to the metrics table in
// batches, on a timer or when the buffer fills. Writes never block the
// caller; failed batches are logged and dropped.
type Metrics struct {
	db       *sql.DB
	logger   *slog.Logger
	size     int
	interval time.Duration
	now      func() time.Time

	mu     sync.Mutex
	buffer []Metric

	stop chan struct{}
	done chan struct{}
}

// NewMetrics starts a Metrics flushing every interval or every size
// datapoints. Zero values default to 100 and 5s.
func NewMetrics(db *sql.DB, size int, interval time.Duration, logger *slog.Logger) *Metrics {
	if size <= 0 {
		size = 100
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Metrics{
		db:       db,
		logger:   logger,
		size:     size,
		interval: interval,
		now:      time.Now,
		buffer:   make([]Metric, 0, size),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go m.loop()
	return m
}

// Record queues a datapoint stamped with the current time.
func (m *Metrics) Record(name string, value float64, unit string, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buffer = append(m.buffer, Metric{Name: name, At: m.now(), Value: value, Unit: unit, Labels: labels})
	if len(m.buffer) >= m.size {
		m.flushLocked()
	}
}

// Query returns the datapoints named name since since, newest first.
// An empty name matches every metric.
func (m *Metrics) Query(ctx context.Context, name string, since time.Time, limit int) ([]Metric, error) {
	q := "SELECT name, at, value, unit, labels FROM metrics WHERE at >= ?"
	args := []any{since.UnixMilli()}
	if name != "" {
		q += " AND name = ?"
		args = append(args, name)
	}
	q += " ORDER BY at DESC"
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := m.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query metrics: %w", err)
	}
	defer rows.Close()

	var out []Metric
	for rows.Next() {
		var (
			mt     Metric
			at     int64
			labels sql.NullString
		)
		if err := rows.Scan(&mt.Name, &at, &mt.Value, &mt.Unit, &labels); err != nil {
			return nil, fmt.Errorf("store: scan metric: %w", err)
		}
		mt.At = time.UnixMilli(at)
		if labels.Valid {
			json.Unmarshal([]byte(labels.String), &mt.Labels)
		}
		out = append(out, mt)
	}
	return out, rows.Err()
}

// Flush writes the buffered datapoints now.
func (m *Metrics) Flush() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushLocked()
}

// Close flushes what is left and stops the background loop.
func (m *Metrics) Close() error {
	close(m.stop)
	<-m.done
	return nil
}

func (m *Metrics) loop() {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			m.Flush()
			return
		case <-ticker.C:
			m.Flush()
		}
	}
}

func (m *Metrics) flushLocked() {
	if len(m.buffer) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := runTx(ctx, m.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO metrics (name, at, value, unit, labels) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, mt := range m.buffer {
			var labels sql.NullString
			if len(mt.Labels) > 0 {
				if b, err := json.Marshal(mt.Labels); err == nil {
					labels = sql.NullString{String: string(b), Valid: true}
				}
			}
			if _, err := stmt.ExecContext(ctx, mt.Name, mt.At.UnixMilli(), mt.Value, mt.Unit, labels); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		m.logger.Error("store: flush metrics", "error", err, "dropped", len(m.buffer))
	}
	m.buffer = m.buffer[:0]
}
