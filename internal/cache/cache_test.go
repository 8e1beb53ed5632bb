package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newCache(t *testing.T, ttl time.Duration) (*Cache, *fakeClock, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "cache")
	clock := &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	return New(Config{Enabled: true, Dir: dir, TTL: ttl}, WithClock(clock.Now)), clock, dir
}

func TestFingerprint(t *testing.T) {
	base := Fingerprint("<?php echo 1;", "PSR12", "8.1", map[string]string{"severity": "5", "tab-width": "4"})

	if len(base) != 64 {
		t.Fatalf("fingerprint length = %d", len(base))
	}

	reordered := Fingerprint("<?php echo 1;", "PSR12", "8.1", map[string]string{"tab-width": "4", "severity": "5"})
	if reordered != base {
		t.Error("option order changed the fingerprint")
	}

	variants := map[string]string{
		"code":     Fingerprint("<?php echo 2;", "PSR12", "8.1", map[string]string{"severity": "5", "tab-width": "4"}),
		"standard": Fingerprint("<?php echo 1;", "PSR2", "8.1", map[string]string{"severity": "5", "tab-width": "4"}),
		"version":  Fingerprint("<?php echo 1;", "PSR12", "8.2", map[string]string{"severity": "5", "tab-width": "4"}),
		"no pin":   Fingerprint("<?php echo 1;", "PSR12", "", map[string]string{"severity": "5", "tab-width": "4"}),
		"value":    Fingerprint("<?php echo 1;", "PSR12", "8.1", map[string]string{"severity": "4", "tab-width": "4"}),
		"key":      Fingerprint("<?php echo 1;", "PSR12", "8.1", map[string]string{"severity": "5"}),
	}
	for name, fp := range variants {
		if fp == base {
			t.Errorf("changing %s did not change the fingerprint", name)
		}
	}

	if Fingerprint("a", "b", "", nil) != Fingerprint("a", "b", "", map[string]string{}) {
		t.Error("nil and empty option maps should fingerprint identically")
	}
}

func TestCache_RoundTrip(t *testing.T) {
	c, _, _ := newCache(t, time.Hour)
	key := Fingerprint("code", "PSR12", "", nil)
	report := json.RawMessage(`{"totals":{"errors":1,"warnings":0},"files":{}}`)

	if _, ok := c.Get(key); ok {
		t.Fatal("unset key should miss")
	}
	if !c.Set(key, report) {
		t.Fatal("Set() failed")
	}
	got, ok := c.Get(key)
	if !ok {
		t.Fatal("Get() missed after Set()")
	}
	if string(got) != string(report) {
		t.Errorf("Get() = %s, want %s", got, report)
	}
}

func TestCache_Expiry(t *testing.T) {
	c, clock, dir := newCache(t, time.Minute)
	key := Fingerprint("code", "PSR12", "", nil)
	c.Set(key, json.RawMessage(`{"ok":true}`))

	clock.Advance(time.Minute)
	if _, ok := c.Get(key); !ok {
		t.Fatal("entry exactly at the TTL should still be served")
	}

	clock.Advance(time.Second)
	if _, ok := c.Get(key); ok {
		t.Fatal("expired entry should miss")
	}
	if _, err := os.Stat(filepath.Join(dir, key+".json")); !os.IsNotExist(err) {
		t.Error("expired entry should be removed from disk")
	}
}

func TestCache_CorruptEntry(t *testing.T) {
	c, _, dir := newCache(t, time.Hour)
	key := Fingerprint("code", "PSR12", "", nil)
	c.Set(key, json.RawMessage(`{"ok":true}`))

	path := filepath.Join(dir, key+".json")
	if err := os.WriteFile(path, []byte("{truncated"), 0o640); err != nil {
		t.Fatal(err)
	}
	now := c.now()
	os.Chtimes(path, now, now)

	if _, ok := c.Get(key); ok {
		t.Fatal("corrupt entry should miss")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("corrupt entry should be removed")
	}
}

func TestCache_InvalidKey(t *testing.T) {
	c, _, _ := newCache(t, time.Hour)
	for _, key := range []string{"", "../../etc/passwd", strings.Repeat("g", 64), strings.Repeat("A", 64)} {
		if c.Set(key, json.RawMessage(`{}`)) {
			t.Errorf("Set(%q) should be rejected", key)
		}
		if _, ok := c.Get(key); ok {
			t.Errorf("Get(%q) should miss", key)
		}
	}
}

func TestCache_Disabled(t *testing.T) {
	dir := t.TempDir()
	c := New(Config{Enabled: false, Dir: dir, TTL: time.Hour})
	key := Fingerprint("code", "PSR12", "", nil)

	if c.Set(key, json.RawMessage(`{}`)) {
		t.Error("disabled Set should return false")
	}
	if _, ok := c.Get(key); ok {
		t.Error("disabled Get should miss")
	}
	if c.Clear() {
		t.Error("disabled Clear should return false")
	}
	if st := c.Stats(); st.Enabled || st.Count != 0 || st.Oldest != nil {
		t.Errorf("disabled Stats = %+v", st)
	}
}

func TestCache_ClearAndStats(t *testing.T) {
	c, clock, dir := newCache(t, time.Hour)

	if st := c.Stats(); !st.Enabled || st.Count != 0 {
		t.Errorf("empty Stats = %+v", st)
	}

	first := Fingerprint("one", "PSR12", "", nil)
	second := Fingerprint("two", "PSR12", "", nil)
	c.Set(first, json.RawMessage(`{"a":1}`))
	t0 := clock.Now()
	clock.Advance(10 * time.Second)
	c.Set(second, json.RawMessage(`{"bb":22}`))
	t1 := clock.Now()

	// Unrelated files in the directory are left alone.
	os.WriteFile(filepath.Join(dir, "README"), []byte("keep"), 0o640)

	st := c.Stats()
	if st.Count != 2 {
		t.Fatalf("Count = %d, want 2", st.Count)
	}
	if st.Size != int64(len(`{"a":1}`)+len(`{"bb":22}`)) {
		t.Errorf("Size = %d", st.Size)
	}
	if st.Oldest == nil || !st.Oldest.Equal(t0) {
		t.Errorf("Oldest = %v, want %v", st.Oldest, t0)
	}
	if st.Newest == nil || !st.Newest.Equal(t1) {
		t.Errorf("Newest = %v, want %v", st.Newest, t1)
	}

	if !c.Clear() {
		t.Fatal("Clear() failed")
	}
	if st := c.Stats(); st.Count != 0 {
		t.Errorf("Count after Clear = %d", st.Count)
	}
	if _, err := os.Stat(filepath.Join(dir, "README")); err != nil {
		t.Error("Clear removed a file it does not own")
	}
}

func TestCache_ClearMissingDir(t *testing.T) {
	c := New(Config{Enabled: true, Dir: filepath.Join(t.TempDir(), "never-created"), TTL: time.Hour})
	if !c.Clear() {
		t.Error("clearing a cache that never wrote anything should succeed")
	}
}

func TestCache_ConcurrentSameKey(t *testing.T) {
	c, _, dir := newCache(t, time.Hour)
	key := Fingerprint("same", "PSR12", "", nil)
	report := json.RawMessage(`{"totals":{"errors":0}}`)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.Set(key, report)
		}()
		go func() {
			defer wg.Done()
			if got, ok := c.Get(key); ok && string(got) != string(report) {
				t.Errorf("observed partial entry: %s", got)
			}
		}()
	}
	wg.Wait()

	tmp, _ := filepath.Glob(filepath.Join(dir, "*.tmp"))
	if len(tmp) != 0 {
		t.Errorf("temporary files left behind: %v", tmp)
	}
}

func TestCache_ConcurrentEviction(t *testing.T) {
	c, clock, _ := newCache(t, time.Minute)
	key := Fingerprint("evict", "PSR12", "", nil)
	c.Set(key, json.RawMessage(`{}`))
	clock.Advance(2 * time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := c.Get(key); ok {
				t.Error("expired entry served")
			}
		}()
	}
	wg.Wait()
}
