package resolve

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"
	"golang.org/x/sync/errgroup"

	"github.com/emily3403/isisdl-go/catalog"
	"github.com/emily3403/isisdl-go/layout"
)

// checksumWorkers bounds how many files are hashed concurrently: local
// checksumming is CPU- and disk-bound, so unbounded fan-out for a
// course with hundreds of temp files would thrash rather than help.
const checksumWorkers = 8

// pendingFile is a TempFile augmented with its computed local checksum,
// ready for bucketing.
type pendingFile struct {
	Temp      *catalog.TempFile
	FinalName string
	Checksum  string
	Size      int64
	CreatedAt time.Time
}

type bucketKey struct {
	courseID     int64
	relativePath string
	finalName    string
}

// Resolver runs the Conflict Resolver stage: compute checksums, bucket
// by (course_id, relative_path, final_name), and commit finalized
// records.
type Resolver struct {
	store *catalog.Store
	lay   layout.Layout
}

func New(store *catalog.Store, lay layout.Layout) *Resolver {
	return &Resolver{store: store, lay: lay}
}

// NameFn derives a TempFile's target relative path and
// final name. In this engine the relative path and display name are
// carried on the originating MediaURL record.
type NameFn func(*catalog.TempFile) (relativePath, finalName string)

// Resolve processes every given TempFile for courseDirName, computing
// local checksums, collapsing or disambiguating collisions, and
// committing MediaContainer records. It returns the number of
// containers written.
func (r *Resolver) Resolve(courseDirName string, temps []*catalog.TempFile, nameOf NameFn) (int, error) {
	type keyed struct {
		key bucketKey
		pf  *pendingFile
	}
	results := make([]*keyed, len(temps))

	g := new(errgroup.Group)
	g.SetLimit(checksumWorkers)
	for i, t := range temps {
		i, t := i, t
		g.Go(func() error {
			relPath, finalName := nameOf(t)
			tempPath := r.lay.TempPath(courseDirName, t.DownloadURL)
			checksum, size, err := LocalChecksum(tempPath)
			if err != nil {
				glog.Warningf("resolve: checksum %s: %v", tempPath, err)
				return nil
			}
			pf := &pendingFile{Temp: t, FinalName: finalName, Checksum: checksum, Size: size, CreatedAt: t.CreatedAt}
			results[i] = &keyed{key: bucketKey{courseID: t.CourseID, relativePath: relPath, finalName: finalName}, pf: pf}
			return nil
		})
	}
	_ = g.Wait() // each worker already logs and skips its own checksum failure

	buckets := map[bucketKey][]*pendingFile{}
	for _, res := range results {
		if res == nil {
			continue
		}
		buckets[res.key] = append(buckets[res.key], res.pf)
	}

	written := 0
	for key, bucket := range buckets {
		winners := dedupeByChecksum(bucket)
		r.discardLosers(courseDirName, bucket, winners)
		names := disambiguate(winners, key.finalName)
		for i, w := range winners {
			container := &catalog.MediaContainer{
				URL:          w.Temp.URL,
				CourseID:     w.Temp.CourseID,
				DownloadURL:  w.Temp.DownloadURL,
				Class:        w.Temp.Class,
				RelativePath: key.relativePath,
				Name:         names[i],
				Size:         w.Size,
				Checksum:     w.Checksum,
				CreatedAt:    w.CreatedAt,
				ModifiedAt:   time.Now(),
			}
			if err := r.commit(courseDirName, w, container); err != nil {
				glog.Errorf("resolve: commit %s: %v", container.URL, err)
				continue
			}
			written++
		}
	}
	return written, nil
}

// discardLosers removes the temp file and catalog row for every bucket
// entry that dedupeByChecksum did not carry forward as a winner: an
// equal-checksum duplicate's bytes are redundant once the earliest copy
// is slated for the final rename.
func (r *Resolver) discardLosers(courseDirName string, bucket, winners []*pendingFile) {
	keep := map[string]bool{}
	for _, w := range winners {
		keep[w.Temp.URL] = true
	}
	for _, pf := range bucket {
		if keep[pf.Temp.URL] {
			continue
		}
		tempPath := r.lay.TempPath(courseDirName, pf.Temp.DownloadURL)
		if err := os.Remove(tempPath); err != nil && !os.IsNotExist(err) {
			glog.Warningf("resolve: discard loser %s: %v", tempPath, err)
		}
		if err := r.store.DeleteTempFile(pf.Temp.URL, pf.Temp.CourseID); err != nil {
			glog.Warningf("resolve: delete temp record %s: %v", pf.Temp.URL, err)
		}
	}
}

// dedupeByChecksum collapses equal-checksum duplicates within a bucket
// into a single winner (the first by created_at asc, url asc).
// Unequal-checksum entries all survive for disambiguation.
func dedupeByChecksum(bucket []*pendingFile) []*pendingFile {
	sort.Slice(bucket, func(i, j int) bool {
		if !bucket[i].CreatedAt.Equal(bucket[j].CreatedAt) {
			return bucket[i].CreatedAt.Before(bucket[j].CreatedAt)
		}
		return bucket[i].Temp.URL < bucket[j].Temp.URL
	})

	seen := map[string]*pendingFile{}
	var order []string
	for _, pf := range bucket {
		if _, ok := seen[pf.Checksum]; !ok {
			order = append(order, pf.Checksum)
			seen[pf.Checksum] = pf
		}
	}

	winners := make([]*pendingFile, 0, len(order))
	for _, cs := range order {
		winners = append(winners, seen[cs])
	}
	return winners
}

// disambiguate names len(winners) surviving files. A single winner
// keeps its base name; multiple winners (distinct checksums) each get
// "(i/n)" appended before the extension, where i is the 0-based index
// by (created_at asc, url asc) and n = count-1.
func disambiguate(winners []*pendingFile, finalName string) []string {
	if len(winners) <= 1 {
		return []string{finalName}
	}
	sort.Slice(winners, func(i, j int) bool {
		if !winners[i].CreatedAt.Equal(winners[j].CreatedAt) {
			return winners[i].CreatedAt.Before(winners[j].CreatedAt)
		}
		return winners[i].Temp.URL < winners[j].Temp.URL
	})
	n := len(winners) - 1
	ext := filepath.Ext(finalName)
	base := strings.TrimSuffix(finalName, ext)
	names := make([]string, len(winners))
	for i := range winners {
		names[i] = base + "(" + strconv.Itoa(i) + "/" + strconv.Itoa(n) + ")" + ext
	}
	return names
}

// commit performs the filesystem rename and catalog swap as a single
// atomic step: the rename happens inside the catalog transaction's
// critical section so a crash leaves either the temp or the final
// file, never both.
func (r *Resolver) commit(courseDirName string, pf *pendingFile, container *catalog.MediaContainer) error {
	tempPath := r.lay.TempPath(courseDirName, pf.Temp.DownloadURL)
	finalPath := r.lay.FinalPath(courseDirName, container.RelativePath, container.Name)

	return r.store.FinalizeTempFile(container, func() error {
		if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
			return err
		}
		return os.Rename(tempPath, finalPath)
	})
}
