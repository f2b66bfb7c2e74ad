// Package planner implements the URL filter and planner: given
// everything the endpoint adapters discovered and the catalog's current
// state, it decides which MediaURLs are worth attempting this run.
package planner

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/OneOfOne/xxhash"
	"github.com/golang/glog"

	"github.com/emily3403/isisdl-go/catalog"
	"github.com/emily3403/isisdl-go/endpoints"
	"github.com/emily3403/isisdl-go/layout"
	"github.com/emily3403/isisdl-go/session"
)

// Plan is one MediaURL this run will attempt, with its resolved
// download URL already determined (folder -> bulk endpoint, resource ->
// redirect target).
type Plan struct {
	Media       *catalog.MediaURL
	DownloadURL string
}

// ignoreCache memoizes the ignore-pattern check by an xxhash of the URL
// for the duration of one Plan call (one course's discovered URLs).
type ignoreCache struct {
	seen map[uint64]bool
}

func newIgnoreCache() *ignoreCache { return &ignoreCache{seen: make(map[uint64]bool)} }

func (c *ignoreCache) ignored(url string) bool {
	h := xxhash.ChecksumString64(url)
	if v, ok := c.seen[h]; ok {
		return v
	}
	v := endpoints.IsIgnored(url)
	c.seen[h] = v
	return v
}

// Plan applies the five filter rules in order against store's current
// state, issuing HEAD requests for "resource" URLs as needed. lay
// resolves a finalized container back to its on-disk path for the
// existence check.
func Plan(ctx context.Context, store *catalog.Store, sess *session.Session, lay layout.Layout, courseDirName string, courseID int64, discovered []*catalog.MediaURL, resourceFilePathHint func(*catalog.MediaURL) bool) ([]Plan, error) {
	cache := newIgnoreCache()
	out := make([]Plan, 0, len(discovered))

	for _, m := range discovered {
		// Rule 1: ignore-listed URLs.
		if cache.ignored(m.URL) {
			continue
		}

		// Rule 2: already represented by a live MediaContainer.
		if container, err := store.GetContainer(m.URL, courseID); err == nil {
			path := lay.FinalPath(courseDirName, container.RelativePath, container.Name)
			if fileExistsWithSize(path, container.Size) {
				continue
			}
			// The container exists but the file's size disagrees (or it
			// is gone entirely). A present-but-wrong-size file is not
			// merely missing: something altered or truncated it after
			// finalization, so mark it corrupted before requeuing the
			// URL rather than silently re-downloading over it.
			if container.Class != catalog.ClassCorruptedOnDisk {
				if _, statErr := os.Stat(path); statErr == nil {
					corrupted := *container
					corrupted.Class = catalog.ClassCorruptedOnDisk
					if err := store.UpsertContainer(&corrupted); err != nil {
						glog.Warningf("planner: mark corrupted %s: %v", m.URL, err)
					}
				}
			}
		}

		// Rule 3: respect BadURL back-off.
		if bad, err := store.GetBadURL(m.URL, courseID); err == nil {
			if !bad.ShouldRetry(time.Now()) {
				continue
			}
		}

		downloadURL := m.URL
		if m.Class == catalog.ClassArchive {
			// Rule 4: folder -> bulk-download endpoint, tagged archive.
			downloadURL = endpoints.FolderDownloadURL(m.URL)
		} else if resourceFilePathHint != nil && resourceFilePathHint(m) {
			// Rule 5: resource -> HEAD with redirects disabled.
			resolved, ok := resolveResourceRedirect(ctx, sess, m.URL)
			if !ok {
				if _, err := store.UpsertBadURL(m.URL, courseID, time.Now()); err != nil {
					glog.Warningf("planner: record bad url %s: %v", m.URL, err)
				}
				continue
			}
			downloadURL = resolved
		}

		out = append(out, Plan{Media: m, DownloadURL: downloadURL})
	}
	return out, nil
}

// resolveResourceRedirect issues a HEAD with redirects disabled and
// returns the Location header of a 303.
func resolveResourceRedirect(ctx context.Context, sess *session.Session, url string) (string, bool) {
	res := sess.Head(ctx, url)
	if !res.OK() {
		return "", false
	}
	defer res.Close()
	if res.Response.StatusCode != http.StatusSeeOther {
		return "", false
	}
	loc := res.Response.Header.Get("Location")
	return loc, loc != ""
}

// fileExistsWithSize is the cheap liveness check: a container is only
// considered live if the file is actually present with the recorded
// size.
func fileExistsWithSize(path string, size int64) bool {
	fi, err := os.Stat(path)
	if err != nil {
		return false
	}
	return fi.Size() == size
}
