package normalize

import (
	"github.com/samber/lo"

	"urconnect/internal/model"
)

// Batch collects the entries of one retrieval together with the records
// that had to be skipped.
type Batch struct {
	entries  []model.TimetableEntry
	problems []error
}

// Add records the outcome of normalizing one record.
func (b *Batch) Add(e model.TimetableEntry, err error) {
	if err != nil {
		b.Skip(err)
		return
	}
	b.entries = append(b.entries, e)
}

// Skip records a record that could not be used.
func (b *Batch) Skip(err error) {
	b.problems = append(b.problems, err)
}

// Skipped is the number of records dropped so far.
func (b *Batch) Skipped() int {
	return len(b.problems)
}

// Problems returns the reasons records were skipped, in input order.
func (b *Batch) Problems() []error {
	return append([]error(nil), b.problems...)
}

// Entries returns the deduplicated entries sorted by start, then title.
func (b *Batch) Entries() []model.TimetableEntry {
	return Finalize(b.entries)
}

// Finalize drops entries that repeat an earlier entry's title, start and
// end, then sorts the remainder. The input slice is left untouched.
func Finalize(entries []model.TimetableEntry) []model.TimetableEntry {
	out := lo.UniqBy(entries, func(e model.TimetableEntry) model.Key {
		return e.Key()
	})
	model.Sort(out)
	return out
}
