// Package cache stores analysis reports on disk, one file per content
// fingerprint, and expires them lazily by file modification time.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const entrySuffix = ".json"

// Config configures the cache.
type Config struct {
	Enabled bool
	Dir     string
	TTL     time.Duration
}

// Stats summarizes the entries currently on disk.
type Stats struct {
	Enabled bool       `json:"enabled"`
	Count   int        `json:"count"`
	Size    int64      `json:"size"`
	Oldest  *time.Time `json:"oldest"`
	Newest  *time.Time `json:"newest"`
}

// Cache is a directory of fingerprint-named report files. It is safe for
// concurrent use: writes of the same key are idempotent and replace the entry
// atomically, and eviction tolerates a concurrent delete.
type Cache struct {
	cfg    Config
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source used for TTL checks and write stamps.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

// New creates a cache. The directory is created on first write.
func New(cfg Config, opts ...Option) *Cache {
	c := &Cache{cfg: cfg, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enabled reports whether the cache is active.
func (c *Cache) Enabled() bool { return c != nil && c.cfg.Enabled }

type fingerprintInput struct {
	Code       string      `json:"code"`
	Standard   string      `json:"standard"`
	PHPVersion *string     `json:"php_version"`
	Options    [][2]string `json:"options"`
}

// Fingerprint derives the cache key for an analysis input. Options are sorted
// by name so their order never affects the key. An empty versionPin is
// distinct from any non-empty one.
func Fingerprint(code, standard, versionPin string, options map[string]string) string {
	in := fingerprintInput{
		Code:     code,
		Standard: standard,
		Options:  make([][2]string, 0, len(options)),
	}
	if versionPin != "" {
		in.PHPVersion = &versionPin
	}

	names := make([]string, 0, len(options))
	for name := range options {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		in.Options = append(in.Options, [2]string{name, options[name]})
	}

	// Encoding a struct of strings cannot fail.
	data, _ := json.Marshal(in)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Get returns the stored report for key. Expired and undecodable entries are
// deleted and reported as misses.
func (c *Cache) Get(key string) (json.RawMessage, bool) {
	if !c.Enabled() || !validKey(key) {
		return nil, false
	}
	path := c.path(key)

	info, err := os.Stat(path)
	if err != nil {
		return nil, false
	}
	if c.now().Sub(info.ModTime()) > c.cfg.TTL {
		c.evict(path, "expired")
		return nil, false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	if !json.Valid(data) {
		c.evict(path, "corrupt")
		return nil, false
	}
	return json.RawMessage(data), true
}

// Set stores report under key, replacing any existing entry. It reports
// false if the cache is disabled or the entry could not be written.
func (c *Cache) Set(key string, report json.RawMessage) bool {
	if !c.Enabled() || !validKey(key) {
		return false
	}
	if !json.Valid(report) {
		return false
	}
	if err := os.MkdirAll(c.cfg.Dir, 0o750); err != nil {
		c.logger.Warn("cache directory unavailable", slog.String("dir", c.cfg.Dir), slog.String("error", err.Error()))
		return false
	}

	tmp, err := os.CreateTemp(c.cfg.Dir, "."+key+".*.tmp")
	if err != nil {
		c.logger.Warn("cache write failed", slog.String("key", key), slog.String("error", err.Error()))
		return false
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(report); err != nil {
		tmp.Close()
		return false
	}
	if err := tmp.Close(); err != nil {
		return false
	}
	now := c.now()
	if err := os.Chtimes(tmpName, now, now); err != nil {
		return false
	}
	if err := os.Rename(tmpName, c.path(key)); err != nil {
		c.logger.Warn("cache write failed", slog.String("key", key), slog.String("error", err.Error()))
		return false
	}
	return true
}

// Clear removes every entry. It reports false if the cache is disabled, the
// directory cannot be read, or any entry could not be removed.
func (c *Cache) Clear() bool {
	if !c.Enabled() {
		return false
	}
	entries, err := os.ReadDir(c.cfg.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		return true
	}
	if err != nil {
		return false
	}

	ok := true
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), entrySuffix) {
			continue
		}
		if err := os.Remove(filepath.Join(c.cfg.Dir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			ok = false
		}
	}
	return ok
}

// Stats enumerates the entries on disk.
func (c *Cache) Stats() Stats {
	if !c.Enabled() {
		return Stats{}
	}
	st := Stats{Enabled: true}

	entries, err := os.ReadDir(c.cfg.Dir)
	if err != nil {
		return st
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), entrySuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		st.Count++
		st.Size += info.Size()
		mod := info.ModTime().UTC()
		if st.Oldest == nil || mod.Before(*st.Oldest) {
			oldest := mod
			st.Oldest = &oldest
		}
		if st.Newest == nil || mod.After(*st.Newest) {
			newest := mod
			st.Newest = &newest
		}
	}
	return st
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.cfg.Dir, key+entrySuffix)
}

// evict removes path, ignoring an entry that another request already removed.
func (c *Cache) evict(path, reason string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		c.logger.Warn("cache eviction failed", slog.String("path", path), slog.String("error", err.Error()))
		return
	}
	c.logger.Debug("cache entry evicted", slog.String("path", path), slog.String("reason", reason))
}

// validKey accepts only lowercase hex SHA-256 digests so keys can never
// escape the cache directory.
func validKey(key string) bool {
	if len(key) != sha256.Size*2 {
		return false
	}
	for i := 0; i < len(key); i++ {
		ch := key[i]
		if (ch < '0' || ch > '9') && (ch < 'a' || ch > 'f') {
			return false
		}
	}
	return true
}
