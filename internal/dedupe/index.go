// Package dedupe is the per-persona near-duplicate index. It enforces the
// rule that no two accepted drafts for the same persona inside the trailing
// window may be near-identical.
package dedupe

import (
	"sync"
	"time"

	"github.com/cryptodefiza-create/content-machine/internal/fingerprint"
)

const dayLayout = "2006-01-02"

// Match describes the closest recorded draft when a duplicate is found.
// Text carries the matched draft's content so callers can steer a rewrite
// away from it.
type Match struct {
	Similarity float64
	Day        string
	RecordedAt time.Time
	Text       string
}

type record struct {
	fp         fingerprint.Fingerprint
	text       string
	recordedAt time.Time
}

type personaIndex struct {
	mu      sync.Mutex
	buckets map[string][]record // keyed by UTC calendar day
}

// Index holds fingerprint buckets per (persona, calendar day). Buckets
// whose day falls outside the configured window are excluded from
// comparison and purged opportunistically on access. Different personas
// never contend on the same lock.
type Index struct {
	mu         sync.RWMutex
	personas   map[string]*personaIndex
	threshold  float64
	windowDays int
	now        func() time.Time
}

// New builds an index with the configured similarity threshold and
// trailing window in days.
func New(threshold float64, windowDays int) *Index {
	if windowDays < 1 {
		windowDays = 1
	}
	return &Index{
		personas:   make(map[string]*personaIndex),
		threshold:  threshold,
		windowDays: windowDays,
		now:        time.Now,
	}
}

// SetClock overrides the index clock. Test hook.
func (ix *Index) SetClock(now func() time.Time) {
	ix.mu.Lock()
	ix.now = now
	ix.mu.Unlock()
}

// WouldDuplicate reports whether fp is a near-duplicate of any fingerprint
// recorded for persona inside the active window. Callers must check before
// accepting a draft and must not record rejected drafts.
func (ix *Index) WouldDuplicate(persona string, fp fingerprint.Fingerprint) (Match, bool) {
	if fp.IsEmpty() {
		return Match{}, false
	}

	pi := ix.personaFor(persona)
	active := ix.activeDays()

	pi.mu.Lock()
	defer pi.mu.Unlock()
	pi.purge(active)

	best := Match{}
	for day, records := range pi.buckets {
		for _, r := range records {
			sim := fingerprint.Similarity(fp, r.fp)
			if sim > best.Similarity {
				best = Match{Similarity: sim, Day: day, RecordedAt: r.recordedAt, Text: r.text}
			}
		}
	}
	return best, best.Similarity >= ix.threshold
}

// Record stores fp and its source text in today's bucket for persona.
// Only accepted drafts should reach here.
func (ix *Index) Record(persona string, fp fingerprint.Fingerprint, text string) {
	if fp.IsEmpty() {
		return
	}

	pi := ix.personaFor(persona)
	now := ix.nowUTC()
	day := now.Format(dayLayout)

	pi.mu.Lock()
	pi.buckets[day] = append(pi.buckets[day], record{fp: fp, text: text, recordedAt: now})
	pi.mu.Unlock()
}

// Size returns the number of fingerprints currently recorded for persona,
// stale buckets included until their next purge.
func (ix *Index) Size(persona string) int {
	pi := ix.personaFor(persona)
	pi.mu.Lock()
	defer pi.mu.Unlock()
	total := 0
	for _, records := range pi.buckets {
		total += len(records)
	}
	return total
}

func (ix *Index) personaFor(persona string) *personaIndex {
	ix.mu.RLock()
	pi, ok := ix.personas[persona]
	ix.mu.RUnlock()
	if ok {
		return pi
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if pi, ok = ix.personas[persona]; ok {
		return pi
	}
	pi = &personaIndex{buckets: make(map[string][]record)}
	ix.personas[persona] = pi
	return pi
}

// activeDays returns the set of day keys inside the trailing window.
func (ix *Index) activeDays() map[string]struct{} {
	now := ix.nowUTC()
	days := make(map[string]struct{}, ix.windowDays)
	for i := 0; i < ix.windowDays; i++ {
		days[now.AddDate(0, 0, -i).Format(dayLayout)] = struct{}{}
	}
	return days
}

func (ix *Index) nowUTC() time.Time {
	ix.mu.RLock()
	now := ix.now
	ix.mu.RUnlock()
	return now().UTC()
}

// purge drops day buckets outside the active window. Caller holds pi.mu.
func (pi *personaIndex) purge(active map[string]struct{}) {
	for day := range pi.buckets {
		if _, ok := active[day]; !ok {
			delete(pi.buckets, day)
		}
	}
}
