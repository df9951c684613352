package stagecache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"soundstage/internal/artifacts"
	"soundstage/internal/hashing"
	"soundstage/internal/stage"
)

func newTestCache(t *testing.T) (*Cache, *artifacts.Store, string) {
	t.Helper()
	dataDir := t.TempDir()
	cacheDir := filepath.Join(dataDir, "cache")
	store := artifacts.NewStore(dataDir)
	return New(store, cacheDir, nil), store, cacheDir
}

func TestLookupMissThenStoreThenHit(t *testing.T) {
	cache, _, _ := newTestCache(t)
	key := KeyForSeparation(hashing.Digest([]byte("audio")))

	if _, hit, err := cache.Lookup(stage.Separation, key); err != nil || hit {
		t.Fatalf("expected clean miss, got hit=%v err=%v", hit, err)
	}

	result := &stage.Result{
		Stage:   stage.Separation,
		Payload: []byte(`{"provider":"placeholder","stems":[]}`),
		Raw: []stage.RawArtifact{
			{Name: "vocals.wav", Data: []byte("pcm-vocals")},
			{Name: "drums.wav", Data: []byte("pcm-drums")},
		},
	}
	entry, err := cache.Store(stage.Separation, key, result)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if entry.Key != key || entry.Stage != stage.Separation {
		t.Fatalf("entry identity mismatch: %+v", entry)
	}

	got, hit, err := cache.Lookup(stage.Separation, key)
	if err != nil || !hit {
		t.Fatalf("expected hit, got hit=%v err=%v", hit, err)
	}
	payload, err := cache.Payload(got)
	if err != nil {
		t.Fatalf("Payload: %v", err)
	}
	if string(payload) != string(result.Payload) {
		t.Fatalf("payload mismatch: %s", payload)
	}
	if _, ok, err := got.RawRef("vocals.wav"); err != nil || !ok {
		t.Fatalf("raw ref missing: ok=%v err=%v", ok, err)
	}
}

func TestUnpublishedSlotIsMiss(t *testing.T) {
	cache, store, _ := newTestCache(t)
	key := KeyForTranscription("digest", "en")

	// Payload present but no entry file: the write never committed.
	ref, _ := artifacts.CacheRef(string(stage.Transcription), key, "payload.json")
	if err := store.Put(ref, []byte("{}")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if _, hit, err := cache.Lookup(stage.Transcription, key); err != nil || hit {
		t.Fatalf("uncommitted slot must miss, got hit=%v err=%v", hit, err)
	}
}

func TestCorruptEntryIsMiss(t *testing.T) {
	cache, _, cacheDir := newTestCache(t)
	key := KeyForTranscription("digest", "")
	dir := filepath.Join(cacheDir, string(stage.Transcription), key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "entry.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, hit, err := cache.Lookup(stage.Transcription, key); err != nil || hit {
		t.Fatalf("corrupt entry must miss, got hit=%v err=%v", hit, err)
	}
}

func TestKeyDerivation(t *testing.T) {
	digest := hashing.Digest([]byte("song"))

	if KeyForSeparation(digest) != KeyForSeparation(digest) {
		t.Fatal("separation key must be deterministic")
	}
	if KeyForTranscription(digest, "en") == KeyForTranscription(digest, "es") {
		t.Fatal("language must participate in the transcription key")
	}
	if KeyForTranscription(digest, "") == KeyForSeparation(digest) {
		t.Fatal("stage key shapes must not collide")
	}
	if KeyForPosition(digest, "words-a", "gemini-2.0-flash") == KeyForPosition(digest, "words-b", "gemini-2.0-flash") {
		t.Fatal("transcript digest must participate in the position key")
	}
	if KeyForPosition(digest, "words-a", "gemini-2.0-flash") == KeyForPosition(digest, "words-a", "gemini-1.5-pro") {
		t.Fatal("model name must participate in the position key")
	}
}

func TestEntryFileIsWrittenLast(t *testing.T) {
	cache, _, cacheDir := newTestCache(t)
	key := KeyForSeparation("digest")
	result := &stage.Result{
		Stage:   stage.Separation,
		Payload: []byte(`{}`),
		Raw:     []stage.RawArtifact{{Name: "vocals.wav", Data: []byte("pcm")}},
	}
	if _, err := cache.Store(stage.Separation, key, result); err != nil {
		t.Fatalf("Store: %v", err)
	}

	entryPath := filepath.Join(cacheDir, string(stage.Separation), key, "entry.json")
	data, err := os.ReadFile(entryPath)
	if err != nil {
		t.Fatalf("entry file: %v", err)
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatalf("entry decode: %v", err)
	}
	// Every ref the entry mentions must already exist on disk.
	for name, rel := range entry.Raw {
		if _, err := os.Stat(filepath.Join(filepath.Dir(cacheDir), filepath.FromSlash(rel))); err != nil {
			t.Fatalf("raw artifact %s not on disk: %v", name, err)
		}
	}
}

func TestStoreRejectsReservedNames(t *testing.T) {
	cache, _, _ := newTestCache(t)
	result := &stage.Result{
		Stage:   stage.Separation,
		Payload: []byte(`{}`),
		Raw:     []stage.RawArtifact{{Name: "entry.json", Data: []byte("x")}},
	}
	if _, err := cache.Store(stage.Separation, "key", result); err == nil {
		t.Fatal("reserved artifact name should be rejected")
	}
}

func TestStats(t *testing.T) {
	cache, _, _ := newTestCache(t)
	for i, key := range []string{KeyForSeparation("a"), KeyForSeparation("b")} {
		result := &stage.Result{Stage: stage.Separation, Payload: []byte(`{}`)}
		if i == 0 {
			result.Raw = []stage.RawArtifact{{Name: "vocals.wav", Data: []byte("0123456789")}}
		}
		if _, err := cache.Store(stage.Separation, key, result); err != nil {
			t.Fatalf("Store: %v", err)
		}
	}

	stats, err := cache.statsWith(func(string) (uint64, uint64, error) {
		return 1000, 400, nil
	})
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Entries[stage.Separation] != 2 {
		t.Fatalf("expected 2 separation entries, got %d", stats.Entries[stage.Separation])
	}
	if stats.EntryCount() != 2 {
		t.Fatalf("EntryCount = %d", stats.EntryCount())
	}
	if stats.TotalBytes < 10 {
		t.Fatalf("TotalBytes should include raw artifacts, got %d", stats.TotalBytes)
	}
	if stats.DiskTotal != 1000 || stats.DiskFree != 400 {
		t.Fatalf("statfs results not propagated: %+v", stats)
	}
}
