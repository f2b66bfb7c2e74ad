package download

import (
	"context"
	"sort"
	"time"

	"github.com/emily3403/isisdl-go/catalog"
	"github.com/emily3403/isisdl-go/cmn"
	"github.com/emily3403/isisdl-go/planner"
)

// CourseWork bundles one course with its planned downloads.
type CourseWork struct {
	Course        *catalog.Course
	CourseDirName string
	Plans         []planner.Plan
}

// SortByPriority orders courses by (last modification desc, last
// access desc, full name asc): lower index means higher priority, and
// higher-priority courses register with the limiter first so their
// traffic classes get first crack at the period's fairness weights.
func SortByPriority(work []CourseWork) {
	sort.SliceStable(work, func(i, j int) bool {
		a, b := work[i].Course, work[j].Course
		if !sameTime(a.LastModified, b.LastModified) {
			return after(a.LastModified, b.LastModified)
		}
		if !sameTime(a.LastAccess, b.LastAccess) {
			return after(a.LastAccess, b.LastAccess)
		}
		return a.FullName < b.FullName
	})
}

func sameTime(a, b *time.Time) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return a.Equal(*b)
}

func after(a, b *time.Time) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	return a.After(*b)
}

// RunAll runs every course's downloader, bounded by concurrentCourses
// in-flight at once, in priority order. Higher-priority courses start
// first; the bounded semaphore lets later courses begin as soon as a
// slot frees up rather than waiting for a full batch to finish.
func (d *Downloader) RunAll(ctx context.Context, work []CourseWork, concurrentCourses int) {
	SortByPriority(work)

	lwg := cmn.NewLimitedWaitGroup(concurrentCourses)
	for _, w := range work {
		if d.stop.IsClosed() {
			break
		}
		w := w
		lwg.Add(1)
		go func() {
			defer lwg.Done()
			d.Run(ctx, w.Course.ID, w.CourseDirName, w.Plans)
		}()
	}
	lwg.Wait()
}
