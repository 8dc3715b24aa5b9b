package normalize

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"urconnect/internal/model"
)

func TestBatchDeduplicatesAndSorts(t *testing.T) {
	base := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	entry := func(title string, start time.Time, desc string) model.TimetableEntry {
		return model.TimetableEntry{Title: title, Start: start, End: start.Add(time.Hour), Description: desc}
	}

	var b Batch
	b.Add(entry("Networks", base.Add(2*time.Hour), ""), nil)
	b.Add(entry("Algorithms", base, "first"), nil)
	b.Add(entry("Algorithms", base, "second copy"), nil)
	b.Add(entry("Compilers", base, ""), nil)
	b.Add(model.TimetableEntry{}, errors.New("broken"))
	b.Skip(errors.New("also broken"))

	got := b.Entries()
	require.Len(t, got, 3)
	require.Equal(t, "Algorithms", got[0].Title)
	require.Equal(t, "first", got[0].Description)
	require.Equal(t, "Compilers", got[1].Title)
	require.Equal(t, "Networks", got[2].Title)

	require.Equal(t, 2, b.Skipped())
	problems := b.Problems()
	require.EqualError(t, problems[0], "broken")
	problems[0] = nil
	require.NotNil(t, b.Problems()[0])
}

func TestFinalizeKeepsDistinctEnds(t *testing.T) {
	start := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	in := []model.TimetableEntry{
		{Title: "Lab", Start: start, End: start.Add(2 * time.Hour)},
		{Title: "Lab", Start: start, End: start.Add(time.Hour)},
		{Title: "Lab", Start: start.In(time.FixedZone("CET", 3600)), End: start.Add(time.Hour)},
	}

	out := Finalize(in)
	require.Len(t, out, 2)
	require.Len(t, in, 3)
}

func TestFinalizeEmpty(t *testing.T) {
	require.Empty(t, Finalize(nil))
}
