package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/go-go-golems/chatlogic/pkg/settings"
)

// settingsFile is the persisted settings tree of one bot process.
type settingsFile struct {
	tree  *settings.Tree
	store settings.Storage
	close func() error
}

// openSettings loads the tree from path. A .db path selects SQLite, any
// other path YAML. An empty path keeps the settings in memory.
func openSettings(ctx context.Context, path string) (*settingsFile, error) {
	sf := &settingsFile{tree: settings.NewTree(), close: func() error { return nil }}
	path = strings.TrimSpace(path)
	if path == "" {
		return sf, nil
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		dsn, err := settings.SQLiteDSNForFile(path)
		if err != nil {
			return nil, err
		}
		st, err := settings.NewSQLiteStore(dsn)
		if err != nil {
			return nil, errors.Wrapf(err, "open settings %s", path)
		}
		sf.store = st
		sf.close = st.Close
	default:
		sf.store = settings.YAMLFile{Path: path}
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return sf, nil
		}
	}
	if err := sf.tree.Load(ctx, sf.store); err != nil {
		_ = sf.close()
		return nil, errors.Wrapf(err, "load settings %s", path)
	}
	return sf, nil
}

// Save writes the tree back when it changed since loading.
func (sf *settingsFile) Save(ctx context.Context, log zerolog.Logger) error {
	if sf.store == nil || !sf.tree.Dirty() {
		return nil
	}
	if err := sf.tree.Save(ctx, sf.store); err != nil {
		return errors.Wrap(err, "save settings")
	}
	log.Debug().Msg("settings saved")
	return nil
}

func (sf *settingsFile) Close() error { return sf.close() }
