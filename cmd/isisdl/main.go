// Command isisdl is the download engine's entry point: it opens the
// catalog, loads the config stored in it, builds the rate limiter,
// shutdown coordinator and session in that order, then drives every
// known course's plan/download/resolve cycle, tearing down in reverse.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/golang/glog"
	"golang.org/x/sync/errgroup"

	"github.com/emily3403/isisdl-go/catalog"
	"github.com/emily3403/isisdl-go/cmn"
	"github.com/emily3403/isisdl-go/download"
	"github.com/emily3403/isisdl-go/endpoints"
	"github.com/emily3403/isisdl-go/layout"
	"github.com/emily3403/isisdl-go/planner"
	"github.com/emily3403/isisdl-go/ratelimit"
	"github.com/emily3403/isisdl-go/resolve"
	"github.com/emily3403/isisdl-go/session"
	"github.com/emily3403/isisdl-go/shutdown"
)

// isResourceModule is the real resourceFilePathHint passed to
// planner.Plan: a MediaURL came from a "resource" module if its
// ModuleURL looks like one, meaning its download URL needs HEAD
// pre-flight to follow the 303 redirect to the real file.
func isResourceModule(m *catalog.MediaURL) bool {
	return endpoints.IsResourceModule(m.ModuleURL)
}

func main() {
	workingDir := flag.String("working-dir", ".", "root directory for courses, temp files and the catalog")
	concurrentCourses := flag.Int("concurrent-courses", 3, "max parallel per-course downloaders")
	flag.Parse()

	if err := run(*workingDir, *concurrentCourses); err != nil {
		if _, reportErr := cmn.ReportError(*workingDir, err); reportErr != nil {
			glog.Errorf("main: failed to write error report: %v", reportErr)
		}
		os.Exit(exitCodeFor(err))
	}
}

func exitCodeFor(err error) int {
	ce, ok := err.(*cmn.Error)
	if !ok {
		return 1
	}
	switch ce.Kind {
	case cmn.ErrFatal:
		return 2
	default:
		return 1
	}
}

func run(workingDir string, concurrentCourses int) error {
	lay := layout.New(workingDir)

	// Config lives in the catalog, so the catalog is opened first and the
	// config (defaulted on first open) is loaded from it before anything
	// else touches the filesystem.
	store, err := catalog.Open(lay.CatalogPath())
	if err != nil {
		return cmn.WrapError(cmn.ErrFatal, err, "open catalog at %s", lay.CatalogPath())
	}
	defer store.Close()

	cfg, err := store.GetConfig()
	if err != nil {
		return cmn.WrapError(cmn.ErrFatal, err, "load config")
	}
	if concurrentCourses > 0 {
		cfg.ConcurrentCourses = concurrentCourses
	}

	limiter := ratelimit.NewUnlimited()
	if cfg.DownloadRateMbit != nil {
		limiter = ratelimit.NewFromMbit(*cfg.DownloadRateMbit)
	}
	defer limiter.Stop()

	coord := shutdown.New(lay, limiter)
	if err := coord.AcquireLock(); err != nil {
		return err
	}
	defer coord.ReleaseLock()
	coord.Register(0, "persist catalog", func() {
		if cerr := store.Close(); cerr != nil {
			glog.Errorf("main: catalog close on shutdown: %v", cerr)
		}
	})
	coord.Watch()
	defer coord.Close()

	if removed, gcErr := shutdown.GCOrphanedTempFiles(store, filepath.Join(lay.WorkingDir, cmn.TempRootDir)); gcErr != nil {
		glog.Warningf("main: gc pass failed: %v", gcErr)
	} else if removed > 0 {
		glog.Infof("main: gc'd %d orphaned temp files", removed)
	}

	user, err := store.GetUser()
	if err != nil {
		return cmn.WrapError(cmn.ErrFatal, err, "load user")
	}

	sess := session.New(&http.Client{}, "", "")
	_ = user // the SSO login flow that populates sessionKey/mobileToken is an external collaborator

	resolver := resolve.New(store, lay)
	downloader := download.New(store, sess, limiter, lay, coord.Stop(), nil)

	courses, err := store.ListCourses()
	if err != nil {
		return cmn.WrapError(cmn.ErrFatal, err, "list courses")
	}

	ctx := context.Background()
	work := planAllCourses(ctx, store, sess, lay, coord.Stop(), courses, cfg)

	downloader.RunAll(ctx, work, cfg.ConcurrentCourses)

	for _, w := range work {
		temps, err := collectTempFiles(store, w.Course.ID)
		if err != nil {
			glog.Warningf("main: collect temp files for course %d: %v", w.Course.ID, err)
			continue
		}
		if len(temps) == 0 {
			continue
		}
		nameOf := nameFnFor(w.Plans)
		if n, err := resolver.Resolve(w.CourseDirName, temps, nameOf); err != nil {
			glog.Warningf("main: resolve course %d: %v", w.Course.ID, err)
		} else if n > 0 {
			glog.Infof("main: finalized %d artifacts for course %d", n, w.Course.ID)
		}
	}

	return nil
}

// planAllCourses runs the planner for every course concurrently,
// bounded by cfg.ConcurrentCourses in flight at once, since each
// course's plan only reads the catalog's per-course media list and
// issues its own independent HEAD requests for resource redirects.
func planAllCourses(ctx context.Context, store *catalog.Store, sess *session.Session, lay layout.Layout, stop *cmn.StopCh, courses []*catalog.Course, cfg *catalog.Config) []download.CourseWork {
	var (
		mu   sync.Mutex
		work []download.CourseWork
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(cfg.ConcurrentCourses, 1))

	for _, c := range courses {
		c := c
		if stop.IsClosed() {
			break
		}
		g.Go(func() error {
			discovered, err := store.ListMediaURLsByCourse(c.ID)
			if err != nil {
				glog.Warningf("main: list media for course %d: %v", c.ID, err)
				return nil
			}
			dirName := c.DirName(cfg.CourseDefaultShortName)
			plans, err := planner.Plan(gctx, store, sess, lay, dirName, c.ID, discovered, isResourceModule)
			if err != nil {
				glog.Warningf("main: plan course %d: %v", c.ID, err)
				return nil
			}
			mu.Lock()
			work = append(work, download.CourseWork{Course: c, CourseDirName: dirName, Plans: plans})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // every Go closure swallows its own error; nothing to propagate

	return work
}

// collectTempFiles returns every TempFile row belonging to courseID.
// The catalog indexes temp files by (url, course_id), not by course
// alone, so this scans the full list once per course.
func collectTempFiles(store *catalog.Store, courseID int64) ([]*catalog.TempFile, error) {
	all, err := store.ListTempFiles()
	if err != nil {
		return nil, err
	}
	out := make([]*catalog.TempFile, 0, len(all))
	for _, t := range all {
		if t.CourseID == courseID {
			out = append(out, t)
		}
	}
	return out, nil
}

// nameFnFor builds a resolve.NameFn from the planned media, since the
// relative path and display name are carried on the MediaURL record
// the plan was derived from.
func nameFnFor(plans []planner.Plan) resolve.NameFn {
	byURL := make(map[string]*catalog.MediaURL, len(plans))
	for _, p := range plans {
		byURL[p.Media.URL] = p.Media
	}
	return func(t *catalog.TempFile) (string, string) {
		if m, ok := byURL[t.URL]; ok {
			return m.RelativePath, m.DisplayName
		}
		return "", t.URL
	}
}
