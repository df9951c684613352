// Package stagecache provides the content-addressed result cache that lets
// repeated submissions of identical audio skip expensive stage work. Slots
// are keyed by composite digests and published atomically: raw artifacts and
// the payload land first, the entry file last, so a crash mid-write leaves a
// plain cache miss rather than a corrupt hit.
package stagecache

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"soundstage/internal/artifacts"
	"soundstage/internal/fileutil"
	"soundstage/internal/hashing"
	"soundstage/internal/logging"
	"soundstage/internal/services"
	"soundstage/internal/stage"
)

const (
	entryFileName   = "entry.json"
	payloadFileName = "payload.json"
)

// KeyForSeparation derives the separation cache key. Only the audio content
// participates; separation has no tunable parameters that alter output
// identity.
func KeyForSeparation(contentDigest string) string {
	return hashing.CompositeKey(contentDigest)
}

// KeyForTranscription derives the transcription cache key from the audio
// content and the normalized language hint. An empty language is a distinct
// input meaning auto-detect.
func KeyForTranscription(contentDigest, language string) string {
	return hashing.CompositeKey(contentDigest, language)
}

// KeyForPosition derives the position cache key from the audio content, the
// digest of the transcript word sequence, and the model name. A changed
// transcript or model invalidates positions even for identical audio.
func KeyForPosition(contentDigest, wordsDigest, model string) string {
	return hashing.CompositeKey(contentDigest, wordsDigest, model)
}

// Entry describes one published cache slot. Refs are store-relative so the
// data directory can move without invalidating the cache.
type Entry struct {
	Key       string            `json:"key"`
	Stage     stage.Stage       `json:"stage"`
	Payload   string            `json:"payload"`
	Raw       map[string]string `json:"raw,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// PayloadRef returns the validated ref for the entry's payload document.
func (e *Entry) PayloadRef() (artifacts.Ref, error) {
	return artifacts.ParseRef(e.Payload)
}

// RawRef returns the validated ref for a named raw artifact.
func (e *Entry) RawRef(name string) (artifacts.Ref, bool, error) {
	rel, ok := e.Raw[name]
	if !ok {
		return artifacts.Ref{}, false, nil
	}
	ref, err := artifacts.ParseRef(rel)
	return ref, true, err
}

// Cache reads and writes stage result slots on top of the artifact store.
type Cache struct {
	store  *artifacts.Store
	root   string
	logger *slog.Logger
}

// New returns a cache rooted at cacheDir, which must be the "cache"
// subdirectory of the artifact store's data dir.
func New(store *artifacts.Store, cacheDir string, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Cache{store: store, root: cacheDir, logger: logger.With(logging.String(logging.FieldComponent, "stagecache"))}
}

// Lookup returns the entry for a stage and key, or a miss when the slot is
// absent or was never fully published. A readable entry whose payload file
// has since disappeared also counts as a miss.
func (c *Cache) Lookup(st stage.Stage, key string) (*Entry, bool, error) {
	path := filepath.Join(c.root, string(st), key, entryFileName)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, services.Wrap(services.ErrStorage, string(st), "cache lookup", key, err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.logger.Warn("unreadable cache entry, treating as miss",
			logging.String(logging.FieldStage, string(st)),
			logging.String(logging.FieldCacheKey, key),
			logging.Error(err))
		return nil, false, nil
	}
	payloadRef, err := entry.PayloadRef()
	if err != nil || !c.store.Exists(payloadRef) {
		c.logger.Warn("cache entry missing payload, treating as miss",
			logging.String(logging.FieldStage, string(st)),
			logging.String(logging.FieldCacheKey, key))
		return nil, false, nil
	}
	return &entry, true, nil
}

// Store publishes a stage result under key. Raw artifacts and the payload
// are written before the entry file; the entry rename is the commit point.
// Storing over an existing slot replaces it, which is harmless because the
// key pins the content that produced it.
func (c *Cache) Store(st stage.Stage, key string, result *stage.Result) (*Entry, error) {
	if len(result.Payload) == 0 {
		return nil, services.Wrap(services.ErrStorage, string(st), "cache store", "empty payload for "+key, nil)
	}

	entry := &Entry{
		Key:       key,
		Stage:     st,
		Raw:       make(map[string]string, len(result.Raw)),
		CreatedAt: time.Now().UTC(),
	}

	for _, raw := range result.Raw {
		ref, err := artifacts.CacheRef(string(st), key, raw.Name)
		if err != nil {
			return nil, err
		}
		if raw.Name == entryFileName || raw.Name == payloadFileName {
			return nil, services.Wrap(services.ErrStorage, string(st), "cache store", "reserved artifact name "+raw.Name, nil)
		}
		if err := c.store.Put(ref, raw.Data); err != nil {
			return nil, err
		}
		entry.Raw[raw.Name] = ref.Rel()
	}

	payloadRef, err := artifacts.CacheRef(string(st), key, payloadFileName)
	if err != nil {
		return nil, err
	}
	if err := c.store.Put(payloadRef, result.Payload); err != nil {
		return nil, err
	}
	entry.Payload = payloadRef.Rel()

	encoded, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, string(st), "cache store", "encode entry", err)
	}
	entryPath := filepath.Join(c.root, string(st), key, entryFileName)
	if err := fileutil.WriteFileAtomic(entryPath, encoded, 0o644); err != nil {
		return nil, services.Wrap(services.ErrStorage, string(st), "cache store", "publish entry", err)
	}

	c.logger.Info("cached stage result",
		logging.String(logging.FieldStage, string(st)),
		logging.String(logging.FieldCacheKey, key),
		logging.Int("raw_artifacts", len(result.Raw)))
	return entry, nil
}

// Payload reads the normalized payload document for an entry.
func (c *Cache) Payload(entry *Entry) ([]byte, error) {
	ref, err := entry.PayloadRef()
	if err != nil {
		return nil, err
	}
	return c.store.Get(ref)
}
