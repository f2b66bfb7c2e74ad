// Package layout centralizes the on-disk path rules, shared by the
// planner (existence checks), the downloader (temp file paths) and the
// conflict resolver (final paths), so all three agree on where a given
// artifact lives without importing each other.
package layout

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"

	"github.com/emily3403/isisdl-go/cmn"
)

// Layout resolves paths under a single working directory.
type Layout struct {
	WorkingDir string
}

func New(workingDir string) Layout { return Layout{WorkingDir: workingDir} }

// CourseDir returns the course's directory under courses_root.
func (l Layout) CourseDir(courseDirName string) string {
	return filepath.Join(l.WorkingDir, cmn.CoursesRootDir, courseDirName)
}

// FinalPath is <working_dir>/<courses_root>/<course_dir>/<relative_path>/<name>.
func (l Layout) FinalPath(courseDirName, relativePath, name string) string {
	return filepath.Join(l.CourseDir(courseDirName), relativePath, name)
}

// TempPath is <working_dir>/<temp_root>/<course_dir>/<hex(sha256(download_url))>.
func (l Layout) TempPath(courseDirName, downloadURL string) string {
	return filepath.Join(l.WorkingDir, cmn.TempRootDir, courseDirName, HexSHA256(downloadURL))
}

// HexSHA256 is the content address used for temp file names.
func HexSHA256(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func (l Layout) CatalogPath() string {
	return filepath.Join(l.WorkingDir, cmn.InternDir, cmn.CatalogFile)
}

func (l Layout) LockPath() string {
	return filepath.Join(l.WorkingDir, cmn.InternDir, cmn.LockFile)
}
