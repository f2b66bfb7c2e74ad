package cmn

const (
	KiB = 1024
	MiB = 1024 * KiB
)

// On-disk layout, relative to the configured working directory.
const (
	CoursesRootDir = "courses"
	TempRootDir    = "temp"
	InternDir      = "intern"
	CatalogFile    = "state.db"
	LockFile       = ".lock"
	ErrorsDir      = "errors"
)
