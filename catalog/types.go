// Package catalog implements the durable key/value store that remembers
// everything the download engine has discovered and fetched: courses,
// planned media URLs, URLs known to be bad, in-flight temp files,
// finalized containers, and the single-row user/config records.
//
// Storage is an embedded BuntDB instance keyed by collection, with
// jsoniter marshaling records into string values. BuntDB's Update/View
// transactions give us the SERIALIZABLE isolation this package relies
// on for conflict-free finalization on the embedded backend.
package catalog

import (
	"strconv"
	"time"
)

// MediaClass classifies a MediaURL/MediaContainer by what it is or why
// it failed.
type MediaClass string

const (
	ClassDocument                MediaClass = "document"
	ClassExtern                  MediaClass = "extern"
	ClassVideo                   MediaClass = "video"
	ClassArchive                 MediaClass = "archive"
	ClassCorruptedOnDisk         MediaClass = "corrupted_on_disk"
	ClassNotAvailable            MediaClass = "not_available"
	ClassNotAvailableForLegal    MediaClass = "not_available_for_legal_reasons"
	ClassHardlink                MediaClass = "hardlink"
)

// Course is a stable, LMS-enrolled course.
type Course struct {
	ID             int64      `json:"id"`
	ShortName      string     `json:"short_name"`
	FullName       string     `json:"full_name"`
	PreferredName  string     `json:"preferred_name,omitempty"`
	NumUsers       int        `json:"num_users"`
	Favorite       bool       `json:"favorite"`
	LastAccess     *time.Time `json:"last_access,omitempty"`
	LastModified   *time.Time `json:"last_modified,omitempty"`
	StartDate      *time.Time `json:"start_date,omitempty"`
	EndDate        *time.Time `json:"end_date,omitempty"`
}

// DirName derives the course's on-disk directory name, per config
// whether to prefer the short or full name. Sanitizing the result to a
// filesystem-safe form is the caller's job; picking short vs. full
// name is this method's.
func (c *Course) DirName(preferShort bool) string {
	if preferShort && c.ShortName != "" {
		return c.ShortName
	}
	if c.FullName != "" {
		return c.FullName
	}
	return c.ShortName
}

// MediaURL is a planned artifact: something the Endpoint Adapters found
// in the LMS and that the Planner may decide to fetch.
type MediaURL struct {
	URL          string     `json:"url"`
	CourseID     int64      `json:"course_id"`
	Class        MediaClass `json:"class"`
	RelativePath string     `json:"relative_path"`
	DisplayName  string     `json:"display_name,omitempty"`
	Size         *int64     `json:"size,omitempty"`
	CreatedAt    *time.Time `json:"created_at,omitempty"`
	ModifiedAt   *time.Time `json:"modified_at,omitempty"`

	// ModuleURL is the LMS module page this artifact was found on (e.g.
	// its mod/resource or mod/folder view.php URL), carried so the
	// Planner can tell a "resource" module from a "folder" module
	// without re-deriving it from the content's own download URL.
	ModuleURL string `json:"module_url,omitempty"`
}

func (m *MediaURL) Key() string { return mediaKey(m.URL, m.CourseID) }

// BadURL remembers a URL that previously failed, with cubic back-off
// state.
type BadURL struct {
	URL          string    `json:"url"`
	CourseID     int64     `json:"course_id"`
	LastChecked  time.Time `json:"last_checked"`
	TimesChecked int       `json:"times_checked"`
}

func (b *BadURL) Key() string { return mediaKey(b.URL, b.CourseID) }

// BackoffMinutes is (times_checked * 5)^3, the cubic-in-attempts
// back-off in minutes.
func (b *BadURL) BackoffMinutes() float64 {
	n := float64(b.TimesChecked) * 5
	return n * n * n
}

// ShouldRetry reports whether the back-off has elapsed as of now.
func (b *BadURL) ShouldRetry(now time.Time) bool {
	deadline := b.LastChecked.Add(time.Duration(b.BackoffMinutes() * float64(time.Minute)))
	return now.After(deadline)
}

// TempFile is an in-flight download: a MediaURL whose bytes are landing
// on disk at a content-addressed path, tagged with a traffic class for
// the rate limiter.
type TempFile struct {
	CourseID    int64      `json:"course_id"`
	URL         string     `json:"url"`
	DownloadURL string     `json:"download_url"`
	Class       MediaClass `json:"class"`
	TrafficTag  string     `json:"traffic_tag"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (t *TempFile) Key() string { return mediaKey(t.URL, t.CourseID) }

// MediaContainer is a finalized, on-disk artifact with its local
// checksum.
type MediaContainer struct {
	URL          string     `json:"url"`
	CourseID     int64      `json:"course_id"`
	DownloadURL  string     `json:"download_url"`
	Class        MediaClass `json:"class"`
	RelativePath string     `json:"relative_path"`
	Name         string     `json:"name"`
	Size         int64      `json:"size"`
	Checksum     string     `json:"checksum"`
	CreatedAt    time.Time  `json:"created_at"`
	ModifiedAt   time.Time  `json:"modified_at"`
}

func (m *MediaContainer) Key() string { return mediaKey(m.URL, m.CourseID) }

// Config is the single-row engine configuration.
type Config struct {
	Salt                     []byte `json:"salt"`
	RequirePassphrase        bool   `json:"pw_encrypt_password"`
	DownloadRateMbit         *float64 `json:"download_rate_mbit"`
	ConcurrentCourses        int    `json:"concurrent_courses"`
	CourseDefaultShortName   bool   `json:"fs_course_default_shortname"`
	SanitizeFilenames        bool   `json:"fs_sanitize_filenames"`
	UpdatePolicy             string `json:"update_policy"`
	SchemaVersion            int    `json:"schema_version"`
}

// User is the single-row authenticated user record.
type User struct {
	Username           string `json:"username"`
	EncryptedPassword  []byte `json:"encrypted_password"`
}

func mediaKey(url string, courseID int64) string {
	return url + "\x00" + strconv.FormatInt(courseID, 10)
}
