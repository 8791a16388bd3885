// Package tradejournal records trade intents in a write-ahead log so an
// interrupted buy or sell can be reported after a restart.
package tradejournal

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/gowal"

	"github.com/vadiminshakov/tokensync/internal/domain"
)

const (
	defaultJournalDir    = "./wal/trades"
	walDirPermissions    = 0o755
	walSegmentLimit      = 1000
	walMaxSegments       = 100
	tradeIntentKeyPrefix = "trade_intent_"
)

// Status is the lifecycle stage of a recorded intent.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSubmitted Status = "submitted"
	StatusDone      Status = "done"
	StatusFailed    Status = "failed"
)

// Record is a single trade intent as stored in the journal.
type Record struct {
	ID        string           `json:"id"`
	Status    Status           `json:"status"`
	Direction domain.Direction `json:"direction"`
	Amount    decimal.Decimal  `json:"amount"`
	Price     decimal.Decimal  `json:"price"`
	Time      time.Time        `json:"time"`
	TxHash    *common.Hash     `json:"tx_hash,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// Journal keeps intents in memory and mirrors every change to the WAL.
type Journal struct {
	mu      sync.Mutex
	wal     *gowal.Wal
	records []*Record
	index   map[string]*Record
}

// Open opens the journal under dir and replays existing intents.
// Later writes of the same intent replace earlier ones.
func Open(dir string) (*Journal, error) {
	if dir == "" {
		dir = defaultJournalDir
	}
	if err := os.MkdirAll(dir, walDirPermissions); err != nil {
		return nil, errors.Wrapf(err, "failed to ensure journal directory %s", dir)
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           "trade_",
		SegmentThreshold: walSegmentLimit,
		MaxSegments:      walMaxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init trade journal WAL")
	}

	j := &Journal{wal: wal, index: make(map[string]*Record)}
	for msg := range wal.Iterator() {
		if !strings.HasPrefix(msg.Key, tradeIntentKeyPrefix) {
			continue
		}
		var rec Record
		if err := json.Unmarshal(msg.Value, &rec); err != nil {
			continue
		}
		j.track(&rec)
	}

	return j, nil
}

// Prepare records a new pending intent before anything is sent to the node.
func (j *Journal) Prepare(direction domain.Direction, amount, price decimal.Decimal, at time.Time) (*Record, error) {
	rec := &Record{
		ID:        uuid.New().String(),
		Status:    StatusPending,
		Direction: direction,
		Amount:    amount,
		Price:     price,
		Time:      at,
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.persist(rec); err != nil {
		return nil, err
	}
	j.track(rec)
	return rec, nil
}

// MarkSubmitted stores the hash of the transaction sent for rec.
func (j *Journal) MarkSubmitted(rec *Record, hash common.Hash) error {
	if rec == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	rec.Status = StatusSubmitted
	rec.TxHash = &hash
	return j.persist(rec)
}

// MarkDone marks rec as confirmed.
func (j *Journal) MarkDone(rec *Record) error {
	if rec == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	rec.Status = StatusDone
	rec.Error = ""
	return j.persist(rec)
}

// MarkFailed marks rec as failed with the given cause.
func (j *Journal) MarkFailed(rec *Record, cause error) error {
	if rec == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	rec.Status = StatusFailed
	rec.Error = ""
	if cause != nil {
		rec.Error = cause.Error()
	}
	return j.persist(rec)
}

// Records returns copies of all known intents in the order they were first seen.
func (j *Journal) Records() []Record {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Record, 0, len(j.records))
	for _, rec := range j.records {
		out = append(out, *rec)
	}
	return out
}

// Unfinished returns intents that never reached a final status.
func (j *Journal) Unfinished() []Record {
	var out []Record
	for _, rec := range j.Records() {
		if rec.Status == StatusPending || rec.Status == StatusSubmitted {
			out = append(out, rec)
		}
	}
	return out
}

// Close closes the underlying WAL.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.wal.Close()
}

func (j *Journal) track(rec *Record) {
	if existing, ok := j.index[rec.ID]; ok {
		*existing = *rec
		return
	}
	j.records = append(j.records, rec)
	j.index[rec.ID] = rec
}

func (j *Journal) persist(rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "failed to marshal trade intent")
	}
	key := fmt.Sprintf("%s%s", tradeIntentKeyPrefix, rec.ID)
	nextIndex := j.wal.CurrentIndex() + 1
	return j.wal.Write(nextIndex, key, data)
}
