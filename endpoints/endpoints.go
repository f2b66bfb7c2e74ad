// Package endpoints adapts LMS JSON module/content payloads into the
// core's Course and MediaURL values. It is translation only — no
// scheduling. It drops an artifact when a required field is missing,
// when its URL matches the ignore pattern, or when it is a "url"
// content whose fileurl is not an extern link.
package endpoints

import (
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/emily3403/isisdl-go/catalog"
)

// ignorePattern matches non-downloadable LMS module types.
var ignorePattern = regexp.MustCompile(`(?i)/mod/(forum|choicegroup|quiz|glossary|choice|feedback|chat|survey)/`)

// externPattern matches URLs that should be recorded as extern media
// rather than attempted as a direct download.
var externPattern = regexp.MustCompile(`(?i)youtube\.com|vimeo\.com|panopto`)

// folderPattern and resourcePattern tell an LMS "folder" module (a
// zip-bundle of several files, fetched through the bulk-download
// endpoint) apart from a "resource" module (a single file fronted by a
// view.php that 303-redirects to the real download URL).
var folderPattern = regexp.MustCompile(`(?i)/mod/folder/`)
var resourcePattern = regexp.MustCompile(`(?i)/mod/resource/`)

func IsIgnored(url string) bool        { return ignorePattern.MatchString(url) }
func IsExtern(url string) bool         { return externPattern.MatchString(url) }
func IsFolderModule(url string) bool   { return folderPattern.MatchString(url) }
func IsResourceModule(url string) bool { return resourcePattern.MatchString(url) }

// FolderDownloadURL rewrites a folder module's view.php URL to Moodle's
// bulk zip-download endpoint for that module.
func FolderDownloadURL(moduleURL string) string {
	return strings.Replace(moduleURL, "/mod/folder/view.php", "/mod/folder/download_folder.php", 1)
}

// Course parses one enrolled-courses JSON entry.
func Course(raw []byte) (*catalog.Course, bool) {
	r := gjson.ParseBytes(raw)
	id := r.Get("id")
	if !id.Exists() {
		return nil, false
	}
	c := &catalog.Course{
		ID:        id.Int(),
		ShortName: r.Get("shortname").String(),
		FullName:  r.Get("fullname").String(),
		NumUsers:  int(r.Get("enrolledusercount").Int()),
		Favorite:  r.Get("isfavourite").Bool(),
	}
	if v := r.Get("preferredname"); v.Exists() {
		c.PreferredName = v.String()
	}
	if ts := r.Get("lastaccess"); ts.Exists() {
		c.LastAccess = unixPtr(ts.Int())
	}
	if ts := r.Get("timemodified"); ts.Exists() {
		c.LastModified = unixPtr(ts.Int())
	}
	if ts := r.Get("startdate"); ts.Exists() {
		c.StartDate = unixPtr(ts.Int())
	}
	if ts := r.Get("enddate"); ts.Exists() {
		c.EndDate = unixPtr(ts.Int())
	}
	return c, true
}

// MediaURLs parses the "contents" module payload for a course into
// MediaURL values. Documents are ordered before videos and archives
// last, for a deterministic merge order downstream. A content missing a
// required field is silently dropped (not recorded as bad).
//
// A folder module is represented by a single archive entry for the
// whole module rather than one entry per contained file: the bulk
// endpoint downloads the folder as one zip, so there is nothing to gain
// from tracking its contents individually.
func MediaURLs(courseID int64, modules []byte) []*catalog.MediaURL {
	var docs, videos, archives []*catalog.MediaURL

	gjson.ParseBytes(modules).ForEach(func(_, module gjson.Result) bool {
		moduleURL := module.Get("url").String()

		if IsFolderModule(moduleURL) {
			if m, ok := folderMediaURL(courseID, module, moduleURL); ok {
				archives = append(archives, m)
			}
			return true
		}

		module.Get("contents").ForEach(func(_, content gjson.Result) bool {
			m, class, ok := mediaURLFromContent(courseID, module, content, moduleURL)
			if !ok {
				return true
			}
			if class == catalog.ClassVideo {
				videos = append(videos, m)
			} else {
				docs = append(docs, m)
			}
			return true
		})
		return true
	})

	out := make([]*catalog.MediaURL, 0, len(docs)+len(videos)+len(archives))
	out = append(out, docs...)
	out = append(out, videos...)
	out = append(out, archives...)
	return out
}

// folderMediaURL builds the single archive entry standing in for every
// file a folder module contains. The actual bulk-download URL is
// derived later by the planner, once it has decided the folder is worth
// fetching this run.
func folderMediaURL(courseID int64, module gjson.Result, moduleURL string) (*catalog.MediaURL, bool) {
	if moduleURL == "" || IsIgnored(moduleURL) {
		return nil, false
	}
	name := module.Get("name").String()
	if name == "" {
		name = "folder"
	}
	return &catalog.MediaURL{
		URL:         moduleURL,
		CourseID:    courseID,
		Class:       catalog.ClassArchive,
		DisplayName: name + ".zip",
		ModuleURL:   moduleURL,
	}, true
}

func mediaURLFromContent(courseID int64, module, content gjson.Result, moduleURL string) (*catalog.MediaURL, catalog.MediaClass, bool) {
	contentType := content.Get("type").String()
	fileURL := content.Get("fileurl")
	filename := content.Get("filename")

	if contentType == "url" {
		u := module.Get("url").String()
		if u == "" || IsIgnored(u) {
			return nil, "", false
		}
		if fileURL.Exists() && !IsExtern(fileURL.String()) {
			return nil, "", false
		}
		return &catalog.MediaURL{
			URL:       u,
			CourseID:  courseID,
			Class:     catalog.ClassExtern,
			ModuleURL: moduleURL,
		}, catalog.ClassExtern, true
	}

	if !fileURL.Exists() || !filename.Exists() {
		return nil, "", false
	}
	url := fileURL.String()
	if IsIgnored(url) {
		return nil, "", false
	}

	class := classify(filename.String())
	m := &catalog.MediaURL{
		URL:          url,
		CourseID:     courseID,
		Class:        class,
		RelativePath: content.Get("filepath").String(),
		DisplayName:  filename.String(),
		ModuleURL:    moduleURL,
	}
	if size := content.Get("filesize"); size.Exists() {
		v := size.Int()
		m.Size = &v
	}
	if ts := content.Get("timecreated"); ts.Exists() {
		m.CreatedAt = unixPtr(ts.Int())
	}
	if ts := content.Get("timemodified"); ts.Exists() {
		m.ModifiedAt = unixPtr(ts.Int())
	}
	return m, class, true
}

var videoExtensions = map[string]bool{
	".mp4": true, ".mkv": true, ".webm": true, ".mov": true, ".avi": true,
}

func classify(filename string) catalog.MediaClass {
	for ext := range videoExtensions {
		if strings.HasSuffix(strings.ToLower(filename), ext) {
			return catalog.ClassVideo
		}
	}
	return catalog.ClassDocument
}

func unixPtr(sec int64) *time.Time {
	if sec == 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
