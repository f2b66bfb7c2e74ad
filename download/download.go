// Package download implements the per-course downloader: for one
// course, it drives every planned URL through a TempFile download,
// honoring the rate limiter's token handouts and the shutdown
// coordinator's stop signal.
//
// The shape — a progressReader wrapping the response body, one
// goroutine per course fetching its plans in turn, scoped register/completed around the
// rate limiter — keeps accounting close to the transfer itself instead
// of polling file sizes from the side.
package download

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/glog"

	"github.com/emily3403/isisdl-go/catalog"
	"github.com/emily3403/isisdl-go/cmn"
	"github.com/emily3403/isisdl-go/layout"
	"github.com/emily3403/isisdl-go/planner"
	"github.com/emily3403/isisdl-go/ratelimit"
	"github.com/emily3403/isisdl-go/session"
)

// Progress is the out-of-scope observer's increment sink.
type Progress interface {
	Increment(courseID int64, url string, n int64)
}

type noopProgress struct{}

func (noopProgress) Increment(int64, string, int64) {}

// Downloader drives one course's planned downloads to completion.
type Downloader struct {
	store    *catalog.Store
	sess     *session.Session
	limiter  *ratelimit.Limiter
	lay      layout.Layout
	progress Progress
	stop     *cmn.StopCh
}

func New(store *catalog.Store, sess *session.Session, limiter *ratelimit.Limiter, lay layout.Layout, stop *cmn.StopCh, progress Progress) *Downloader {
	if progress == nil {
		progress = noopProgress{}
	}
	return &Downloader{store: store, sess: sess, limiter: limiter, lay: lay, progress: progress, stop: stop}
}

// progressReader overwrites Read to report bytes consumed so far.
type progressReader struct {
	r        io.Reader
	reporter func(n int64)
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.r.Read(p)
	if n > 0 && pr.reporter != nil {
		pr.reporter(int64(n))
	}
	return n, err
}

// Run fetches every plan for courseDirName/courseID, one after another,
// writing each into its TempFile path. It returns nothing; once the stop
// flag is closed, the plans not yet started are skipped.
func (d *Downloader) Run(ctx context.Context, courseID int64, courseDirName string, plans []planner.Plan) {
	for i, p := range plans {
		if d.stop.IsClosed() {
			glog.Infof("download: stop requested, leaving %d remaining plans for course %d", len(plans)-i, courseID)
			return
		}
		d.fetchOne(ctx, courseID, courseDirName, p)
	}
}

func (d *Downloader) fetchOne(ctx context.Context, courseID int64, courseDirName string, p planner.Plan) {
	class := ratelimit.ClassFromMediaClass(p.Media.Class)

	// Scoped acquisition: register before starting, completed on every
	// exit path.
	d.limiter.Register(class)
	defer d.limiter.Completed(class)

	res := d.sess.Get(ctx, p.DownloadURL, false)
	if !res.OK() {
		d.recordBad(courseID, p.Media.URL)
		return
	}
	defer res.Close()

	tempPath := d.lay.TempPath(courseDirName, p.DownloadURL)
	if err := os.MkdirAll(filepath.Dir(tempPath), 0o755); err != nil {
		glog.Errorf("download: mkdir for %s: %v", tempPath, err)
		d.recordBad(courseID, p.Media.URL)
		return
	}

	// Content-addressed temp path + O_EXCL: two concurrent fetches for
	// the exact same download URL race to create the same file; the
	// loser aborts without recording a BadURL.
	f, err := os.OpenFile(tempPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		glog.Warningf("download: duplicate in flight for %s, aborting", p.DownloadURL)
		return
	}

	if err := d.store.InsertTempFile(&catalog.TempFile{
		CourseID:    courseID,
		URL:         p.Media.URL,
		DownloadURL: p.DownloadURL,
		Class:       p.Media.Class,
		TrafficTag:  class.String(),
		CreatedAt:   time.Now(),
	}); err != nil {
		glog.Errorf("download: catalog write failed for %s: %v", p.Media.URL, err)
	}

	pr := &progressReader{r: res.Response.Body, reporter: func(n int64) {
		d.progress.Increment(courseID, p.Media.URL, n)
	}}

	if err := d.pump(pr, f, class); err != nil {
		f.Close()
		os.Remove(tempPath)
		d.store.DeleteTempFile(p.Media.URL, courseID)
		d.recordBad(courseID, p.Media.URL)
		return
	}
	f.Close()
}

// pump is the token-gated copy loop: acquire a token, read at most its
// byte budget, write, return the token, repeat until EOF or the stop
// flag is observed.
func (d *Downloader) pump(r io.Reader, w io.Writer, class ratelimit.Class) error {
	buf := make([]byte, ratelimit.ChunkBytes)
	for {
		if d.stop.IsClosed() {
			// Simply stop issuing new reads and unwind; any already
			// in-flight write above has already landed.
			return nil
		}

		token, ok := d.limiter.Get(class)
		if !ok {
			return nil
		}

		n, err := r.Read(buf[:token.NumBytes])
		d.limiter.ReturnToken(n)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
}

func (d *Downloader) recordBad(courseID int64, url string) {
	if _, err := d.store.UpsertBadURL(url, courseID, time.Now()); err != nil {
		glog.Errorf("download: record bad url %s: %v", url, err)
	}
}
