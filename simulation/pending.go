package simulation

import "planetsync/core"

// Pending tracks edits this session appended that have not come back
// through the log yet
type Pending struct {
	origin  string
	nextSeq uint64
	records []core.LogRecord
}

func NewPending(origin string) *Pending {
	return &Pending{origin: origin}
}

// Origin is the peer session id stamped on issued records
func (p *Pending) Origin() string { return p.origin }

// Issue stamps entry with this session's origin and next sequence number
// and queues it
func (p *Pending) Issue(entry core.EditEntry) core.LogRecord {
	p.nextSeq++
	rec := core.LogRecord{Origin: p.origin, OriginSeq: p.nextSeq, Entry: entry}
	p.records = append(p.records, rec)
	return rec
}

// Drop removes a record whose append failed
func (p *Pending) Drop(rec core.LogRecord) {
	for i, r := range p.records {
		if r.SameOrigin(rec) {
			p.records = append(p.records[:i], p.records[i+1:]...)
			return
		}
	}
}

// Confirm removes rec and any earlier record from this session. One
// session's appends commit in issue order, so an earlier record that is
// still queued was lost.
func (p *Pending) Confirm(rec core.LogRecord) bool {
	if rec.Origin != p.origin || rec.OriginSeq == 0 {
		return false
	}
	kept := p.records[:0]
	found := false
	for _, r := range p.records {
		if r.OriginSeq <= rec.OriginSeq {
			found = found || r.SameOrigin(rec)
			continue
		}
		kept = append(kept, r)
	}
	p.records = kept
	return found
}

func (p *Pending) Len() int { return len(p.records) }

// Entries returns the queued edits in issue order
func (p *Pending) Entries() []core.EditEntry {
	out := make([]core.EditEntry, len(p.records))
	for i, r := range p.records {
		out[i] = r.Entry
	}
	return out
}
