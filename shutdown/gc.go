package shutdown

import (
	"os"
	"path/filepath"

	"github.com/karrick/godirwalk"
	"github.com/golang/glog"

	"github.com/emily3403/isisdl-go/catalog"
	"github.com/emily3403/isisdl-go/cmn"
	"github.com/emily3403/isisdl-go/layout"
)

// GCOrphanedTempFiles walks <temp_root> for files that have no matching
// TempFile catalog row — the remainder of a hard-cancelled previous
// run — and removes them. It returns the count removed.
func GCOrphanedTempFiles(store *catalog.Store, tempRoot string) (int, error) {
	known, err := store.ListTempFiles()
	if err != nil {
		return 0, err
	}
	live := make(map[string]bool, len(known))
	for _, t := range known {
		live[layout.HexSHA256(t.DownloadURL)] = true
	}

	if _, err := os.Stat(tempRoot); os.IsNotExist(err) {
		return 0, nil
	}

	removed := 0
	walkErr := godirwalk.Walk(tempRoot, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				return nil
			}
			name := filepath.Base(path)
			if live[name] {
				return nil
			}
			if err := os.Remove(path); err != nil {
				glog.Warningf("shutdown: gc orphaned temp file %s: %v", path, err)
				return nil
			}
			removed++
			return nil
		},
		ErrorCallback: func(_ string, _ error) godirwalk.ErrorAction {
			return godirwalk.SkipNode
		},
	})
	if walkErr != nil {
		return removed, cmn.WrapError(cmn.ErrCatalogWrite, walkErr, "gc walk %s", tempRoot)
	}
	return removed, nil
}
