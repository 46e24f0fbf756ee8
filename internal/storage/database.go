// Package storage keeps a sqlite journal of served requests.
package storage

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/matt0x6f/alis-bot/internal/events"
	"github.com/matt0x6f/alis-bot/internal/irc"
	"github.com/matt0x6f/alis-bot/internal/logger"
)

// ErrClosed is returned by writes after Close
var ErrClosed = errors.New("journal is closed")

const insertRequest = `INSERT OR REPLACE INTO requests (id, network, requester, query, outcome, collected, matched, duration_ms, timestamp)
	VALUES (:id, :network, :requester, :query, :outcome, :collected, :matched, :duration_ms, :timestamp)`

// Journal buffers request records and writes them in batches
type Journal struct {
	db            *sqlx.DB
	writeBuffer   chan RequestRecord
	bufferSize    int
	flushInterval time.Duration
	mu            sync.Mutex
	stopCh        chan struct{}
	wg            sync.WaitGroup
	closed        bool
	closedMu      sync.RWMutex
}

// NewJournal opens (or creates) the journal at dbPath
func NewJournal(dbPath string, bufferSize int, flushInterval time.Duration) (*Journal, error) {
	// Enable WAL mode for better concurrent writes
	db, err := sqlx.Connect("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with a single connection in WAL mode
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	if bufferSize <= 0 {
		bufferSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	j := &Journal{
		db:            db,
		writeBuffer:   make(chan RequestRecord, bufferSize),
		bufferSize:    bufferSize,
		flushInterval: flushInterval,
		stopCh:        make(chan struct{}),
	}

	j.wg.Add(1)
	go j.flushLoop()

	return j, nil
}

// Close flushes buffered records and closes the database
func (j *Journal) Close() error {
	j.closedMu.Lock()
	if j.closed {
		j.closedMu.Unlock()
		return nil
	}
	j.closed = true
	j.closedMu.Unlock()

	close(j.stopCh)
	j.wg.Wait()
	return j.db.Close()
}

func (j *Journal) isClosed() bool {
	j.closedMu.RLock()
	defer j.closedMu.RUnlock()
	return j.closed
}

// flushLoop periodically flushes the write buffer
func (j *Journal) flushLoop() {
	defer j.wg.Done()
	ticker := time.NewTicker(j.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-j.stopCh:
			j.flushBuffer()
			return
		case <-ticker.C:
			j.flushBuffer()
		}
	}
}

// flushBuffer writes every buffered record in one batch
func (j *Journal) flushBuffer() {
	j.mu.Lock()
	defer j.mu.Unlock()

	records := make([]RequestRecord, 0, j.bufferSize)
drain:
	for {
		select {
		case rec := <-j.writeBuffer:
			records = append(records, rec)
		default:
			break drain
		}
	}
	if len(records) == 0 {
		return
	}

	if _, err := j.db.NamedExec(insertRequest, records); err != nil {
		logger.Log.Error().Err(err).Int("count", len(records)).Msg("Error flushing request journal")
	}
}

// Write queues rec for the next batch
func (j *Journal) Write(rec RequestRecord) error {
	if j.isClosed() {
		return ErrClosed
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	select {
	case j.writeBuffer <- rec:
		return nil
	default:
		// Buffer full, flush immediately
		j.flushBuffer()
		select {
		case j.writeBuffer <- rec:
			return nil
		default:
			return fmt.Errorf("write buffer full and flush failed")
		}
	}
}

// Flush writes buffered records now
func (j *Journal) Flush() {
	if j.isClosed() {
		return
	}
	j.flushBuffer()
}

// RecentRequests returns the newest requests of network, newest first.
// An empty network means all networks.
func (j *Journal) RecentRequests(network string, limit int) ([]RequestRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []RequestRecord
	var err error
	if network == "" {
		err = j.db.Select(&records, `SELECT * FROM requests ORDER BY timestamp DESC LIMIT ?`, limit)
	} else {
		err = j.db.Select(&records, `SELECT * FROM requests WHERE network = ? ORDER BY timestamp DESC LIMIT ?`, network, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read requests: %w", err)
	}
	return records, nil
}

// OutcomeCounts counts requests of network by outcome
func (j *Journal) OutcomeCounts(network string) ([]OutcomeCount, error) {
	var counts []OutcomeCount
	err := j.db.Select(&counts, `SELECT outcome, COUNT(*) AS count FROM requests WHERE network = ? GROUP BY outcome ORDER BY outcome`, network)
	if err != nil {
		return nil, fmt.Errorf("failed to count outcomes: %w", err)
	}
	return counts, nil
}

// OnEvent journals request completion events
func (j *Journal) OnEvent(ev events.Event) {
	if ev.Type != irc.EventRequestCompleted {
		return
	}
	rec := RequestRecord{
		ID:         ev.String("request_id"),
		Network:    ev.String("network"),
		Requester:  ev.String("requester"),
		Query:      ev.String("query"),
		Outcome:    ev.String("outcome"),
		Collected:  ev.Int("collected"),
		Matched:    ev.Int("matched"),
		DurationMS: int64(ev.Int("duration_ms")),
		Timestamp:  ev.Timestamp,
	}
	if err := j.Write(rec); err != nil {
		logger.Log.Debug().Err(err).Str("request_id", rec.ID).Msg("Request not journaled")
	}
}
