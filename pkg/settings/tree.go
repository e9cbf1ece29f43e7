// Package settings is a hierarchical key-path store. Paths are dot separated
// ("chats.42.maskExceptions"); typed getters write their default back when a
// key is missing, so a saved tree always lists every option in use.
package settings

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
)

const pathTrim = " \r\n\t\b"

// SplitPath splits a dot separated path, trimming every part and dropping
// empty ones: "a..b" and " a.b." both give [a b].
func SplitPath(path string) []string {
	var ret []string
	for _, p := range strings.Split(path, ".") {
		p = strings.Trim(p, pathTrim)
		if p != "" {
			ret = append(ret, p)
		}
	}
	return ret
}

type treeState struct {
	mu    sync.RWMutex
	root  map[string]any
	dirty bool
}

// Tree is a view on a settings tree rooted at prefix. Views returned by Sub
// share state with their parent.
type Tree struct {
	s      *treeState
	prefix []string
}

func NewTree() *Tree {
	return &Tree{s: &treeState{root: map[string]any{}}}
}

// FromMap builds a tree owning a normalized copy of m.
func FromMap(m map[string]any) *Tree {
	t := NewTree()
	t.s.root = normalizeMap(m)
	return t
}

// Sub returns the view rooted at path below t.
func (t *Tree) Sub(path string) *Tree {
	p := append(append([]string(nil), t.prefix...), SplitPath(path)...)
	return &Tree{s: t.s, prefix: p}
}

// Prefix is the dotted path of the view root.
func (t *Tree) Prefix() string { return strings.Join(t.prefix, ".") }

func (t *Tree) full(path string) []string {
	return append(append([]string(nil), t.prefix...), SplitPath(path)...)
}

func lookup(root map[string]any, parts []string) (any, bool) {
	var cur any = root
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// branch returns the map holding the last part, creating intermediate maps.
// Scalars in the way are replaced by maps.
func branch(root map[string]any, parts []string) map[string]any {
	cur := root
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[p] = next
		}
		cur = next
	}
	return cur
}

// Get returns the value at path. An empty path returns the view root.
func (t *Tree) Get(path string) (any, bool) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	v, ok := lookup(t.s.root, t.full(path))
	if !ok {
		return nil, false
	}
	return normalize(v), true
}

// Set stores v at path. Setting the view root itself is not allowed.
func (t *Tree) Set(path string, v any) {
	parts := t.full(path)
	if len(parts) == 0 {
		return
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	branch(t.s.root, parts)[parts[len(parts)-1]] = normalize(v)
	t.s.dirty = true
}

// Delete removes path. No-op when absent.
func (t *Tree) Delete(path string) {
	parts := t.full(path)
	if len(parts) == 0 {
		return
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	parent, ok := lookup(t.s.root, parts[:len(parts)-1])
	if !ok {
		return
	}
	if m, ok := parent.(map[string]any); ok {
		if _, ok := m[parts[len(parts)-1]]; ok {
			delete(m, parts[len(parts)-1])
			t.s.dirty = true
		}
	}
}

// getOrSet returns the stored value at path, storing def when missing.
func (t *Tree) getOrSet(path string, def any) any {
	parts := t.full(path)
	if len(parts) == 0 {
		return def
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if v, ok := lookup(t.s.root, parts); ok {
		return v
	}
	branch(t.s.root, parts)[parts[len(parts)-1]] = normalize(def)
	t.s.dirty = true
	return def
}

func (t *Tree) Bool(path string, def bool) bool {
	switch v := t.getOrSet(path, def).(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func (t *Tree) Int(path string, def int) int {
	switch v := t.getOrSet(path, def).(type) {
	case int:
		return v
	case int64:
		return int(v)
	case uint64:
		if v <= math.MaxInt64 {
			return int(v)
		}
	case float64:
		if v == math.Trunc(v) {
			return int(v)
		}
	case string:
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func (t *Tree) Float(path string, def float64) float64 {
	switch v := t.getOrSet(path, def).(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func (t *Tree) String(path string, def string) string {
	switch v := t.getOrSet(path, def).(type) {
	case string:
		return v
	case nil:
		return def
	default:
		return fmt.Sprint(v)
	}
}

// Snapshot returns a deep copy of the whole tree, independent of the view.
func (t *Tree) Snapshot() map[string]any {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	return normalizeMap(t.s.root)
}

// Replace swaps the whole tree content for m.
func (t *Tree) Replace(m map[string]any) {
	t.s.mu.Lock()
	t.s.root = normalizeMap(m)
	t.s.dirty = false
	t.s.mu.Unlock()
}

// Dirty reports whether the tree changed since the last Load or Save.
func (t *Tree) Dirty() bool {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	return t.s.dirty
}

func (t *Tree) markClean() {
	t.s.mu.Lock()
	t.s.dirty = false
	t.s.mu.Unlock()
}

// normalize deep copies v, turning every map into map[string]any and every
// integer into int.
func normalize(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return normalizeMap(x)
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, vv := range x {
			m[fmt.Sprint(k)] = normalize(vv)
		}
		return m
	case []any:
		out := make([]any, len(x))
		for i, vv := range x {
			out[i] = normalize(vv)
		}
		return out
	case int64:
		return int(x)
	case int32:
		return int(x)
	case uint64:
		if x <= math.MaxInt64 {
			return int(x)
		}
		return x
	case float32:
		return float64(x)
	default:
		return v
	}
}

func normalizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalize(v)
	}
	return out
}
