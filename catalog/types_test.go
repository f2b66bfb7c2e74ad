package catalog

import (
	"testing"
	"time"
)

func TestCourseDirName(t *testing.T) {
	cases := []struct {
		name       string
		course     Course
		preferShort bool
		want       string
	}{
		{"prefers short when asked and present", Course{ShortName: "cs101", FullName: "Intro to CS"}, true, "cs101"},
		{"falls back to full when short is empty", Course{FullName: "Intro to CS"}, true, "Intro to CS"},
		{"prefers full by default", Course{ShortName: "cs101", FullName: "Intro to CS"}, false, "Intro to CS"},
		{"falls back to short when full is empty", Course{ShortName: "cs101"}, false, "cs101"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.course.DirName(tc.preferShort); got != tc.want {
				t.Errorf("DirName(%v) = %q, want %q", tc.preferShort, got, tc.want)
			}
		})
	}
}

func TestBadURLBackoff(t *testing.T) {
	cases := []struct {
		timesChecked int
		wantMinutes  float64
	}{
		{0, 0},
		{1, 125},
		{2, 1000},
	}
	for _, tc := range cases {
		b := &BadURL{TimesChecked: tc.timesChecked}
		if got := b.BackoffMinutes(); got != tc.wantMinutes {
			t.Errorf("BackoffMinutes(times=%d) = %v, want %v", tc.timesChecked, got, tc.wantMinutes)
		}
	}
}

func TestBadURLShouldRetry(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	b := &BadURL{TimesChecked: 1, LastChecked: now}

	if b.ShouldRetry(now.Add(1 * time.Minute)) {
		t.Error("should not retry before backoff elapses")
	}
	if !b.ShouldRetry(now.Add(200 * time.Minute)) {
		t.Error("should retry once backoff elapses")
	}
}

func TestMediaKeyIsStableAcrossTypes(t *testing.T) {
	m := &MediaURL{URL: "https://example.org/x", CourseID: 42}
	tf := &TempFile{URL: "https://example.org/x", CourseID: 42}
	bad := &BadURL{URL: "https://example.org/x", CourseID: 42}

	if m.Key() != tf.Key() || tf.Key() != bad.Key() {
		t.Errorf("expected identical keys for same (url, course_id), got %q, %q, %q", m.Key(), tf.Key(), bad.Key())
	}

	other := &MediaURL{URL: "https://example.org/x", CourseID: 43}
	if m.Key() == other.Key() {
		t.Error("expected different course_id to produce a different key")
	}
}
