package harvest

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSafeID(t *testing.T) {
	t.Parallel()

	cases := []struct {
		id   string
		want bool
	}{
		{"BR1", true},
		{"12345", true},
		{"report.v2", true},
		{"", false},
		{".", false},
		{"..", false},
		{"../escaped", false},
		{"a/b", false},
		{`a\b`, false},
		{"/abs", false},
		{"nul\x00byte", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, SafeID(tc.id), "SafeID(%q)", tc.id)
	}
}

func TestWellFormedURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw  string
		want bool
	}{
		{"https://example.com/report", true},
		{"  http://example.com  ", true},
		{"", false},
		{"   ", false},
		{"nan", false},
		{"ftp://example.com/file", false},
		{"http://", false},
		{"://broken", false},
		{"/relative/path", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, WellFormedURL(tc.raw), "WellFormedURL(%q)", tc.raw)
	}
}

func TestOutcomeSucceeded(t *testing.T) {
	t.Parallel()

	assert.True(t, OutcomeDirect.Succeeded())
	assert.True(t, OutcomeFallback.Succeeded())
	assert.False(t, OutcomeFailed.Succeeded())
	assert.False(t, Outcome("").Succeeded())
}

func TestBatchLimitAndIDs(t *testing.T) {
	t.Parallel()

	batch := Batch{{ID: "1"}, {ID: "2"}, {ID: "3"}}
	assert.Equal(t, []string{"1", "2"}, batch.Limit(2).IDs())
	assert.Len(t, batch.Limit(0), 3)
	assert.Len(t, batch.Limit(-1), 3)
	assert.Len(t, batch.Limit(10), 3)
}

func TestRecordPath(t *testing.T) {
	t.Parallel()

	rec := Record{ID: "BR42", FallbackURL: "http://example.com/page"}
	assert.Equal(t, "BR42.pdf", rec.FileName())
	assert.Equal(t, filepath.Join("out", "BR42.pdf"), rec.PathIn("out"))
	assert.True(t, rec.HasFallback())
	assert.False(t, Record{ID: "x"}.HasFallback())
}
