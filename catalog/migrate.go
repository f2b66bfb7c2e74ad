package catalog

import (
	"github.com/pkg/errors"

	"github.com/emily3403/isisdl-go/cmn"
)

// CurrentSchemaVersion gates which on-disk catalogs this build can open.
// Per Design Notes, migrations are an explicit table keyed by
// (fromVersion, toVersion) rather than dynamically evaluated function
// names built from version numbers.
const CurrentSchemaVersion = 1

type migration struct {
	from, to int
	apply    func(*Store) error
}

var migrations = []migration{
	// No migrations yet: schema version 1 is the first release.
}

// migrate brings an on-disk catalog up to CurrentSchemaVersion, or
// refuses to open it if no migration path exists.
func (s *Store) migrate() error {
	cfg, err := s.GetConfig()
	if err == ErrNotFound {
		salt, saltErr := cmn.NewSalt()
		if saltErr != nil {
			return errors.Wrap(saltErr, "generate install salt")
		}
		return s.SetConfig(&Config{Salt: salt, SchemaVersion: CurrentSchemaVersion, ConcurrentCourses: 3, UpdatePolicy: "none"})
	}
	if err != nil {
		return err
	}

	for cfg.SchemaVersion < CurrentSchemaVersion {
		found := false
		for _, m := range migrations {
			if m.from == cfg.SchemaVersion {
				if err := m.apply(s); err != nil {
					return errors.Wrapf(err, "migrate schema %d -> %d", m.from, m.to)
				}
				cfg.SchemaVersion = m.to
				found = true
				break
			}
		}
		if !found {
			return errors.Errorf("no migration path from schema version %d to %d", cfg.SchemaVersion, CurrentSchemaVersion)
		}
	}
	if cfg.SchemaVersion > CurrentSchemaVersion {
		return errors.Errorf("catalog schema version %d is newer than supported %d", cfg.SchemaVersion, CurrentSchemaVersion)
	}
	return s.SetConfig(cfg)
}
