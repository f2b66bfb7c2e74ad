package catalog

import (
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenSeedsDefaultConfig(t *testing.T) {
	s := openTestStore(t)
	cfg, err := s.GetConfig()
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	if cfg.SchemaVersion != CurrentSchemaVersion {
		t.Errorf("SchemaVersion = %d, want %d", cfg.SchemaVersion, CurrentSchemaVersion)
	}
	if len(cfg.Salt) != 0 {
		// salt is generated on first open, not asserted empty; just exercise the path.
		t.Logf("salt generated: %d bytes", len(cfg.Salt))
	}
}

func TestCourseRoundTrip(t *testing.T) {
	s := openTestStore(t)
	c := &Course{ID: 7, ShortName: "cs101", FullName: "Intro to CS"}
	if err := s.UpsertCourse(c); err != nil {
		t.Fatalf("UpsertCourse: %v", err)
	}

	got, err := s.GetCourse(7)
	if err != nil {
		t.Fatalf("GetCourse: %v", err)
	}
	if got.ShortName != "cs101" {
		t.Errorf("ShortName = %q, want cs101", got.ShortName)
	}

	c.FullName = "Introduction to Computer Science"
	if err := s.UpsertCourse(c); err != nil {
		t.Fatalf("UpsertCourse (update): %v", err)
	}
	got, err = s.GetCourse(7)
	if err != nil {
		t.Fatalf("GetCourse after update: %v", err)
	}
	if got.FullName != "Introduction to Computer Science" {
		t.Errorf("FullName not updated, got %q", got.FullName)
	}

	if _, err := s.GetCourse(999); err != ErrNotFound {
		t.Errorf("GetCourse(missing) err = %v, want ErrNotFound", err)
	}

	all, err := s.ListCourses()
	if err != nil {
		t.Fatalf("ListCourses: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("ListCourses returned %d, want 1", len(all))
	}
}

func TestBadURLUpsertIncrementsTimesChecked(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()

	b, err := s.UpsertBadURL("https://example.org/a", 1, now)
	if err != nil {
		t.Fatalf("UpsertBadURL: %v", err)
	}
	if b.TimesChecked != 1 {
		t.Errorf("first UpsertBadURL TimesChecked = %d, want 1", b.TimesChecked)
	}

	b, err = s.UpsertBadURL("https://example.org/a", 1, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("second UpsertBadURL: %v", err)
	}
	if b.TimesChecked != 2 {
		t.Errorf("second UpsertBadURL TimesChecked = %d, want 2", b.TimesChecked)
	}

	if err := s.DeleteBadURL("https://example.org/a", 1); err != nil {
		t.Fatalf("DeleteBadURL: %v", err)
	}
	if _, err := s.GetBadURL("https://example.org/a", 1); err != ErrNotFound {
		t.Errorf("GetBadURL after delete err = %v, want ErrNotFound", err)
	}
}

func TestTempFileLifecycle(t *testing.T) {
	s := openTestStore(t)
	tf := &TempFile{CourseID: 1, URL: "https://example.org/a", DownloadURL: "https://example.org/a?dl=1", CreatedAt: time.Now()}
	if err := s.InsertTempFile(tf); err != nil {
		t.Fatalf("InsertTempFile: %v", err)
	}

	got, err := s.GetTempFile(tf.URL, tf.CourseID)
	if err != nil {
		t.Fatalf("GetTempFile: %v", err)
	}
	if got.DownloadURL != tf.DownloadURL {
		t.Errorf("DownloadURL = %q, want %q", got.DownloadURL, tf.DownloadURL)
	}

	all, err := s.ListTempFiles()
	if err != nil {
		t.Fatalf("ListTempFiles: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("ListTempFiles returned %d, want 1", len(all))
	}

	if err := s.DeleteTempFile(tf.URL, tf.CourseID); err != nil {
		t.Fatalf("DeleteTempFile: %v", err)
	}
	if _, err := s.GetTempFile(tf.URL, tf.CourseID); err != ErrNotFound {
		t.Errorf("GetTempFile after delete err = %v, want ErrNotFound", err)
	}
}

func TestFinalizeTempFileIsAtomicWithCommit(t *testing.T) {
	s := openTestStore(t)
	container := &MediaContainer{URL: "https://example.org/a", CourseID: 1, Name: "a.pdf", Size: 10, Checksum: "deadbeef"}

	ran := false
	if err := s.FinalizeTempFile(container, func() error {
		ran = true
		return nil
	}); err != nil {
		t.Fatalf("FinalizeTempFile: %v", err)
	}
	if !ran {
		t.Error("commit callback did not run")
	}

	got, err := s.GetContainer(container.URL, container.CourseID)
	if err != nil {
		t.Fatalf("GetContainer: %v", err)
	}
	if got.Checksum != "deadbeef" {
		t.Errorf("Checksum = %q, want deadbeef", got.Checksum)
	}
}

func TestFinalizeTempFileRollsBackOnCommitFailure(t *testing.T) {
	s := openTestStore(t)
	container := &MediaContainer{URL: "https://example.org/b", CourseID: 1, Name: "b.pdf"}

	wantErr := errBoom
	if err := s.FinalizeTempFile(container, func() error { return wantErr }); err != wantErr {
		t.Fatalf("FinalizeTempFile err = %v, want %v", err, wantErr)
	}

	if _, err := s.GetContainer(container.URL, container.CourseID); err != ErrNotFound {
		t.Errorf("GetContainer after failed commit err = %v, want ErrNotFound", err)
	}
}

func TestConfigAndUserRoundTrip(t *testing.T) {
	s := openTestStore(t)
	cfg, err := s.GetConfig()
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	cfg.ConcurrentCourses = 5
	if err := s.SetConfig(cfg); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}
	got, err := s.GetConfig()
	if err != nil {
		t.Fatalf("GetConfig after set: %v", err)
	}
	if got.ConcurrentCourses != 5 {
		t.Errorf("ConcurrentCourses = %d, want 5", got.ConcurrentCourses)
	}

	if err := s.SetUser(&User{Username: "alice"}); err != nil {
		t.Fatalf("SetUser: %v", err)
	}
	u, err := s.GetUser()
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u.Username != "alice" {
		t.Errorf("Username = %q, want alice", u.Username)
	}
}
