package catalog

import (
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/tidwall/buntdb"

	"github.com/emily3403/isisdl-go/cmn"
)

// BuntDB tuning: sync to disk every second rather than on every write,
// and only start compacting once the file has grown past autoShrinkSize,
// re-compacting whenever it grows by another autoShrinkPercentage.
const (
	autoShrinkSize       = 4 * cmn.MiB
	autoShrinkPercentage = 50
)

// collections
const (
	collCourse    = "course"
	collMedia     = "media"
	collBad       = "bad"
	collTemp      = "temp"
	collContainer = "container"
	collConfig    = "config##"
	collUser      = "user##"
)

const (
	singletonConfigKey = "singleton"
	singletonUserKey   = "singleton"
)

var ErrNotFound = errors.New("catalog: not found")

// Store is the Catalog: a BuntDB-backed key/value store holding every
// tracked entity. All writes are idempotent upserts keyed by the
// declared primary key.
type Store struct {
	db *buntdb.DB
}

// Open opens (creating if necessary) the catalog database at path.
func Open(path string) (*Store, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open catalog")
	}
	if err := db.SetConfig(buntdb.Config{
		SyncPolicy:           buntdb.EverySecond,
		AutoShrinkMinSize:    autoShrinkSize,
		AutoShrinkPercentage: autoShrinkPercentage,
	}); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "configure catalog")
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func makePath(collection, key string) string {
	if strings.HasSuffix(collection, "##") {
		return collection + key
	}
	return collection + "##" + key
}

func toCommonErr(err error) error {
	if err == buntdb.ErrNotFound {
		return ErrNotFound
	}
	return err
}

func (s *Store) set(collection, key string, v interface{}) error {
	b, err := jsoniter.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "marshal record")
	}
	path := makePath(collection, key)
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(path, string(b), nil)
		return err
	})
}

func (s *Store) get(collection, key string, v interface{}) error {
	path := makePath(collection, key)
	var raw string
	err := s.db.View(func(tx *buntdb.Tx) error {
		var err error
		raw, err = tx.Get(path)
		return err
	})
	if err != nil {
		return toCommonErr(err)
	}
	return jsoniter.Unmarshal([]byte(raw), v)
}

func (s *Store) delete(collection, key string) error {
	path := makePath(collection, key)
	err := s.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(path)
		return err
	})
	return toCommonErr(err)
}

func (s *Store) list(collection string) ([]string, error) {
	pattern := makePath(collection, "*")
	var keys []string
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(pattern, func(key, _ string) bool {
			keys = append(keys, strings.TrimPrefix(key, makePath(collection, "")))
			return true
		})
	})
	return keys, err
}

// ---- Course ----

// UpsertCourse inserts or updates a Course. Collapses on conflict by
// primary key (course id).
func (s *Store) UpsertCourse(c *Course) error {
	return s.set(collCourse, itoa64(c.ID), c)
}

func (s *Store) GetCourse(id int64) (*Course, error) {
	var c Course
	if err := s.get(collCourse, itoa64(id), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) ListCourses() ([]*Course, error) {
	keys, err := s.list(collCourse)
	if err != nil {
		return nil, err
	}
	out := make([]*Course, 0, len(keys))
	for _, k := range keys {
		var c Course
		if err := s.get(collCourse, k, &c); err != nil {
			continue
		}
		out = append(out, &c)
	}
	return out, nil
}

// ---- MediaURL ----

func (s *Store) InsertMediaURL(m *MediaURL) error {
	return s.set(collMedia, m.Key(), m)
}

func (s *Store) GetMediaURL(url string, courseID int64) (*MediaURL, error) {
	var m MediaURL
	if err := s.get(collMedia, mediaKey(url, courseID), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) ListMediaURLsByCourse(courseID int64) ([]*MediaURL, error) {
	keys, err := s.list(collMedia)
	if err != nil {
		return nil, err
	}
	out := make([]*MediaURL, 0)
	for _, k := range keys {
		var m MediaURL
		if err := s.get(collMedia, k, &m); err != nil {
			continue
		}
		if m.CourseID == courseID {
			out = append(out, &m)
		}
	}
	return out, nil
}

// ---- BadURL ----

// UpsertBadURL inserts a new BadURL record or bumps TimesChecked and
// LastChecked on an existing one, feeding the cubic retry back-off.
func (s *Store) UpsertBadURL(url string, courseID int64, at time.Time) (*BadURL, error) {
	existing, err := s.GetBadURL(url, courseID)
	if err != nil && err != ErrNotFound {
		return nil, err
	}
	if existing == nil {
		existing = &BadURL{URL: url, CourseID: courseID}
	}
	existing.TimesChecked++
	existing.LastChecked = at
	if err := s.set(collBad, existing.Key(), existing); err != nil {
		return nil, err
	}
	return existing, nil
}

func (s *Store) GetBadURL(url string, courseID int64) (*BadURL, error) {
	var b BadURL
	if err := s.get(collBad, mediaKey(url, courseID), &b); err != nil {
		if err == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

func (s *Store) DeleteBadURL(url string, courseID int64) error {
	return s.delete(collBad, mediaKey(url, courseID))
}

// ---- TempFile ----

func (s *Store) InsertTempFile(t *TempFile) error {
	return s.set(collTemp, t.Key(), t)
}

func (s *Store) GetTempFile(url string, courseID int64) (*TempFile, error) {
	var t TempFile
	if err := s.get(collTemp, mediaKey(url, courseID), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) DeleteTempFile(url string, courseID int64) error {
	return s.delete(collTemp, mediaKey(url, courseID))
}

func (s *Store) ListTempFiles() ([]*TempFile, error) {
	keys, err := s.list(collTemp)
	if err != nil {
		return nil, err
	}
	out := make([]*TempFile, 0, len(keys))
	for _, k := range keys {
		var t TempFile
		if err := s.get(collTemp, k, &t); err != nil {
			continue
		}
		out = append(out, &t)
	}
	return out, nil
}

// ---- MediaContainer ----

// UpsertContainer overwrites a MediaContainer's record in place, used
// to reclassify a finalized artifact (e.g. to corrupted_on_disk)
// without touching the filesystem.
func (s *Store) UpsertContainer(c *MediaContainer) error {
	return s.set(collContainer, c.Key(), c)
}

func (s *Store) GetContainer(url string, courseID int64) (*MediaContainer, error) {
	var m MediaContainer
	if err := s.get(collContainer, mediaKey(url, courseID), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) ListContainers() ([]*MediaContainer, error) {
	keys, err := s.list(collContainer)
	if err != nil {
		return nil, err
	}
	out := make([]*MediaContainer, 0, len(keys))
	for _, k := range keys {
		var m MediaContainer
		if err := s.get(collContainer, k, &m); err != nil {
			continue
		}
		out = append(out, &m)
	}
	return out, nil
}

// FinalizeTempFile atomically swaps a TempFile for a MediaContainer: the
// caller supplies a commit closure that performs the filesystem rename,
// which runs inside the same BuntDB transaction's critical section so a
// crash leaves either the temp file or the final file, never both.
func (s *Store) FinalizeTempFile(container *MediaContainer, commit func() error) error {
	tempPath := makePath(collTemp, container.Key())
	containerPath := makePath(collContainer, container.Key())
	b, err := jsoniter.Marshal(container)
	if err != nil {
		return errors.Wrap(err, "marshal container")
	}
	return s.db.Update(func(tx *buntdb.Tx) error {
		if err := commit(); err != nil {
			return err
		}
		if _, _, err := tx.Set(containerPath, string(b), nil); err != nil {
			return err
		}
		_, err := tx.Delete(tempPath)
		if err != nil && err != buntdb.ErrNotFound {
			return err
		}
		return nil
	})
}

// ---- Config / User (single row) ----

func (s *Store) GetConfig() (*Config, error) {
	var c Config
	if err := s.get(collConfig, singletonConfigKey, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) SetConfig(c *Config) error {
	return s.set(collConfig, singletonConfigKey, c)
}

func (s *Store) GetUser() (*User, error) {
	var u User
	if err := s.get(collUser, singletonUserKey, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) SetUser(u *User) error {
	return s.set(collUser, singletonUserKey, u)
}

func itoa64(n int64) string { return strconv.FormatInt(n, 10) }
