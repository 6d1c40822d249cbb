package editlog

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"planetsync/core"
)

// ErrGap is returned by Ingest when records skip past the replica's end
var ErrGap = errors.New("editlog: gap in record stream")

// Sender forwards a locally issued record to wherever the log is committed
type Sender interface {
	SendAppend(ctx context.Context, rec core.LogRecord) error
}

// RemoteLog is a client-side replica of a world log held elsewhere.
// Append hands the record to the Sender and returns; the record becomes
// visible only once the committed copy comes back through Ingest.
type RemoteLog struct {
	mu      sync.RWMutex
	base    uint64
	records []core.LogRecord
	sender  Sender
}

// NewRemoteLog starts a replica whose first held record is base. Records
// before base were folded into a snapshot and are never served.
func NewRemoteLog(base uint64, sender Sender) *RemoteLog {
	return &RemoteLog{base: base, sender: sender}
}

func (l *RemoteLog) Append(ctx context.Context, rec core.LogRecord) error {
	if l.sender == nil {
		return errors.New("remote log has no sender")
	}
	return l.sender.SendAppend(ctx, rec)
}

func (l *RemoteLog) Length() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return int(l.base) + len(l.records)
}

// Base is the index of the first record held
func (l *RemoteLog) Base() uint64 {
	return l.base
}

func (l *RemoteLog) Entry(i int) (core.LogRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := int(l.base) + len(l.records)
	if i < int(l.base) || i >= n {
		return core.LogRecord{}, fmt.Errorf("%w: %d not in [%d, %d)", ErrOutOfRange, i, l.base, n)
	}
	return l.records[i-int(l.base)], nil
}

// Ingest adds committed records. Records already held are skipped; a
// record past the current end is a gap and stops the ingest.
func (l *RemoteLog) Ingest(records []core.LogRecord) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	added := 0
	for _, rec := range records {
		next := l.base + uint64(len(l.records))
		if rec.Index < next {
			continue
		}
		if rec.Index > next {
			return added, fmt.Errorf("%w: got %d, want %d", ErrGap, rec.Index, next)
		}
		l.records = append(l.records, rec)
		added++
	}
	return added, nil
}
