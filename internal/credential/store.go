package credential

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// tokenBytes is the amount of randomness in a generated key (192 bits).
const tokenBytes = 24

// Store maps API keys to credentials. Reads go straight to the in-memory
// table; Generate, Revoke and Reload are serialized and mirror the table to a
// JSON file replaced atomically on every write.
//
// A Store with an empty path never touches the filesystem.
type Store struct {
	path          string
	table         Table
	now           func() time.Time
	defaultScopes []string
	logger        *slog.Logger

	mu     sync.Mutex
	loaded atomic.Bool
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithDefaultScopes sets the scopes granted when Generate is given none.
func WithDefaultScopes(scopes []string) Option {
	return func(s *Store) { s.defaultScopes = slices.Clone(scopes) }
}

// WithLogger sets the logger used for load failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithTable replaces the in-memory table.
func WithTable(t Table) Option {
	return func(s *Store) { s.table = t }
}

// NewStore creates a store persisted at path. The file is read lazily on
// first use; a missing file is an empty store.
func NewStore(path string, opts ...Option) *Store {
	s := &Store{
		path:          path,
		table:         NewMemoryTable(),
		now:           time.Now,
		defaultScopes: slices.Clone(DefaultScopes),
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the backing file, or "" for an in-memory store.
func (s *Store) Path() string { return s.path }

// GenerateParams are the caller-supplied attributes of a new key. Zero
// values fall back to the store defaults.
type GenerateParams struct {
	Name     string
	Scopes   []string
	Expires  *time.Time
	Metadata map[string]string
}

// Generate mints a new key, persists it, and returns the token.
func (s *Store) Generate(p GenerateParams) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return "", err
	}

	token, err := newToken()
	if err != nil {
		return "", err
	}

	cred := Credential{
		Name:     p.Name,
		Created:  s.now().UTC(),
		Expires:  p.Expires,
		Active:   true,
		Scopes:   slices.Clone(s.defaultScopes),
		Metadata: p.Metadata,
	}
	if len(p.Scopes) > 0 {
		cred.Scopes = slices.Clone(p.Scopes)
	}

	records, err := s.latest()
	if err != nil {
		return "", err
	}
	records[token] = cred
	if err := s.persist(records); err != nil {
		return "", err
	}
	s.replace(records)
	return token, nil
}

// Validate reports whether token names a valid credential holding scope. An
// empty scope only checks validity. Unknown tokens are simply false.
func (s *Store) Validate(token, scope string) bool {
	cred, ok := s.Lookup(token)
	if !ok {
		return false
	}
	return cred.Valid(s.now()) && cred.HasScope(scope)
}

// Lookup returns the credential for token, whether or not it is still valid.
func (s *Store) Lookup(token string) (Credential, bool) {
	if token == "" {
		return Credential{}, false
	}
	if err := s.ensureLoaded(); err != nil {
		s.logger.Error("failed to load api keys",
			slog.String("path", s.path),
			slog.String("error", err.Error()))
		return Credential{}, false
	}
	return s.table.Get(token)
}

// Revoke deactivates token. It reports false for unknown tokens and true for
// any existing key, including one already revoked.
func (s *Store) Revoke(token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return false, err
	}

	records, err := s.latest()
	if err != nil {
		return false, err
	}
	cred, ok := records[token]
	if !ok {
		return false, nil
	}
	if !cred.Active {
		s.replace(records)
		return true, nil
	}
	cred.Active = false

	records[token] = cred
	if err := s.persist(records); err != nil {
		return false, err
	}
	s.replace(records)
	return true, nil
}

// Entry pairs a token with its credential.
type Entry struct {
	Token string
	Credential
}

// List returns every key ordered by creation time.
func (s *Store) List() ([]Entry, error) {
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	all := s.table.All()
	entries := make([]Entry, 0, len(all))
	for token, cred := range all {
		entries = append(entries, Entry{Token: token, Credential: cred})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Created.Equal(entries[j].Created) {
			return entries[i].Token < entries[j].Token
		}
		return entries[i].Created.Before(entries[j].Created)
	})
	return entries, nil
}

// Reload rereads the backing file and replaces the table contents with it.
// On error the current contents stay in place.
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read()
	if err != nil {
		return err
	}
	s.replace(records)
	s.loaded.Store(true)
	return nil
}

func (s *Store) ensureLoaded() error {
	if s.loaded.Load() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() error {
	if s.loaded.Load() {
		return nil
	}
	records, err := s.read()
	if err != nil {
		return err
	}
	s.replace(records)
	s.loaded.Store(true)
	return nil
}

// latest returns the records to write back. With a backing file it is
// reread so keys written by another process, such as the keygen CLI, are
// kept even if the watcher has not reloaded them yet.
func (s *Store) latest() (map[string]Credential, error) {
	if s.path == "" {
		return s.table.All(), nil
	}
	return s.read()
}

func (s *Store) replace(records map[string]Credential) {
	for token := range s.table.All() {
		if _, ok := records[token]; !ok {
			s.table.Delete(token)
		}
	}
	for token, cred := range records {
		s.table.Set(token, cred)
	}
}

func (s *Store) read() (map[string]Credential, error) {
	records := make(map[string]Credential)
	if s.path == "" {
		return records, nil
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return records, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	if len(data) == 0 {
		return records, nil
	}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode key file %s: %w", s.path, err)
	}
	return records, nil
}

func (s *Store) persist(records map[string]Credential) error {
	if s.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode key file: %w", err)
	}
	if err := writeFileAtomic(s.path, data, 0o640); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}
	return nil
}

// writeFileAtomic writes data to a temporary file in the target directory and
// renames it into place.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
