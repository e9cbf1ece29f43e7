package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Storage persists a whole settings tree.
type Storage interface {
	Load(ctx context.Context) (map[string]any, error)
	Save(ctx context.Context, root map[string]any) error
}

// Load replaces the tree content with what st holds.
func (t *Tree) Load(ctx context.Context, st Storage) error {
	m, err := st.Load(ctx)
	if err != nil {
		return err
	}
	t.Replace(m)
	return nil
}

// Save writes the whole tree to st.
func (t *Tree) Save(ctx context.Context, st Storage) error {
	if err := st.Save(ctx, t.Snapshot()); err != nil {
		return err
	}
	t.markClean()
	return nil
}

// YAMLFile stores the tree as a YAML document.
type YAMLFile struct {
	Path string
}

var _ Storage = YAMLFile{}

// Load returns an empty tree when the file does not exist yet.
func (f YAMLFile) Load(_ context.Context) (map[string]any, error) {
	b, err := os.ReadFile(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, errors.Wrap(err, "settings: read yaml")
	}
	var m map[string]any
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, errors.Wrapf(err, "settings: parse yaml %s", f.Path)
	}
	if m == nil {
		m = map[string]any{}
	}
	return normalizeMap(m), nil
}

func (f YAMLFile) Save(_ context.Context, root map[string]any) error {
	b, err := yaml.Marshal(root)
	if err != nil {
		return errors.Wrap(err, "settings: encode yaml")
	}
	if dir := filepath.Dir(f.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "settings: create settings dir")
		}
	}
	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return errors.Wrap(err, "settings: write yaml")
	}
	return errors.Wrap(os.Rename(tmp, f.Path), "settings: replace yaml")
}

// SQLiteStore keeps one row per leaf path with a JSON encoded value.
type SQLiteStore struct {
	db *sql.DB
}

var _ Storage = (*SQLiteStore)(nil)

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, errors.New("sqlite settings store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// SQLiteDSNForFile builds a DSN with WAL and a busy timeout for path.
func SQLiteDSNForFile(path string) (string, error) {
	if path == "" {
		return "", errors.New("sqlite settings store: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path), nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS settings (
		  path TEXT PRIMARY KEY,
		  value_json TEXT NOT NULL
		);`)
	return errors.Wrap(err, "sqlite settings store: migrate")
}

func (s *SQLiteStore) Load(ctx context.Context) (map[string]any, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite settings store: db is nil")
	}
	rows, err := s.db.QueryContext(ctx, `SELECT path, value_json FROM settings ORDER BY path`)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite settings store: query")
	}
	defer func() { _ = rows.Close() }()

	t := NewTree()
	for rows.Next() {
		var (
			path string
			raw  string
		)
		if err := rows.Scan(&path, &raw); err != nil {
			return nil, errors.Wrap(err, "sqlite settings store: scan")
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, errors.Wrapf(err, "sqlite settings store: decode %s", path)
		}
		t.Set(path, v)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite settings store: rows")
	}
	return t.Snapshot(), nil
}

func (s *SQLiteStore) Save(ctx context.Context, root map[string]any) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite settings store: db is nil")
	}
	leaves := map[string]any{}
	flatten("", root, leaves)
	paths := make([]string, 0, len(leaves))
	for p := range leaves {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "sqlite settings store: begin")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM settings`); err != nil {
		return errors.Wrap(err, "sqlite settings store: clear")
	}
	for _, p := range paths {
		b, err := json.Marshal(leaves[p])
		if err != nil {
			return errors.Wrapf(err, "sqlite settings store: encode %s", p)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO settings (path, value_json) VALUES (?, ?)`, p, string(b)); err != nil {
			return errors.Wrapf(err, "sqlite settings store: insert %s", p)
		}
	}
	return errors.Wrap(tx.Commit(), "sqlite settings store: commit")
}

// flatten collects the leaves of m keyed by dotted path. Empty maps are kept
// as leaves so branches created by defaults survive a round trip.
func flatten(prefix string, m map[string]any, out map[string]any) {
	if len(m) == 0 && prefix != "" {
		out[prefix] = map[string]any{}
		return
	}
	for k, v := range m {
		p := k
		if prefix != "" {
			p = prefix + "." + k
		}
		if sub, ok := v.(map[string]any); ok {
			flatten(p, sub, out)
			continue
		}
		out[p] = v
	}
}
