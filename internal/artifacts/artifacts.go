// Package artifacts is the on-disk blob store for job outputs and cached
// stage results. Every blob lives under the data directory and is addressed
// by a Ref, a validated relative path in either the job or cache namespace.
package artifacts

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"soundstage/internal/fileutil"
	"soundstage/internal/services"
)

// Store writes and reads blobs below a single root directory. Writes are
// atomic, so readers never observe partially written artifacts.
type Store struct {
	root string
}

// NewStore returns a store rooted at dataDir. The directory itself is
// created by config.EnsureDirectories, not here.
func NewStore(dataDir string) *Store {
	return &Store{root: dataDir}
}

// Ref is a validated location inside the store. The zero value is invalid;
// construct refs through JobRef and CacheRef.
type Ref struct {
	rel string
}

// Rel returns the store-relative path, suitable for persisting in job
// records and cache entries.
func (r Ref) Rel() string { return r.rel }

func (r Ref) String() string { return r.rel }

// IsZero reports whether the ref was never constructed.
func (r Ref) IsZero() bool { return r.rel == "" }

// ParseRef revalidates a relative path read back from persisted state.
func ParseRef(rel string) (Ref, error) {
	parts := strings.Split(rel, "/")
	if len(parts) < 2 {
		return Ref{}, services.Wrap(services.ErrStorage, "", "parse ref", "ref too short: "+rel, nil)
	}
	switch parts[0] {
	case "jobs", "cache":
	default:
		return Ref{}, services.Wrap(services.ErrStorage, "", "parse ref", "unknown namespace: "+rel, nil)
	}
	for _, part := range parts {
		if err := checkName(part); err != nil {
			return Ref{}, err
		}
	}
	return Ref{rel: rel}, nil
}

// JobRef addresses an artifact inside a job's directory.
func JobRef(jobID, name string) (Ref, error) {
	if err := checkName(jobID); err != nil {
		return Ref{}, err
	}
	if err := checkName(name); err != nil {
		return Ref{}, err
	}
	return Ref{rel: filepath.ToSlash(filepath.Join("jobs", jobID, name))}, nil
}

// CacheRef addresses an artifact inside a cache slot for one stage and key.
func CacheRef(stage, key, name string) (Ref, error) {
	for _, part := range []string{stage, key, name} {
		if err := checkName(part); err != nil {
			return Ref{}, err
		}
	}
	return Ref{rel: filepath.ToSlash(filepath.Join("cache", stage, key, name))}, nil
}

// Put publishes data at ref atomically.
func (s *Store) Put(ref Ref, data []byte) error {
	if ref.IsZero() {
		return services.Wrap(services.ErrStorage, "", "put", "zero ref", nil)
	}
	if err := fileutil.WriteFileAtomic(s.AbsPath(ref), data, 0o644); err != nil {
		return services.Wrap(services.ErrStorage, "", "put", ref.Rel(), err)
	}
	return nil
}

// Get reads the blob at ref. A missing blob maps to the not-found marker so
// callers can distinguish absence from I/O failure.
func (s *Store) Get(ref Ref) ([]byte, error) {
	data, err := os.ReadFile(s.AbsPath(ref))
	if errors.Is(err, os.ErrNotExist) {
		return nil, services.Wrap(services.ErrNotFound, "", "get", ref.Rel(), nil)
	}
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "", "get", ref.Rel(), err)
	}
	return data, nil
}

// Exists reports whether a regular file is present at ref.
func (s *Store) Exists(ref Ref) bool {
	info, err := os.Stat(s.AbsPath(ref))
	return err == nil && info.Mode().IsRegular()
}

// AbsPath resolves a ref to its absolute filesystem path.
func (s *Store) AbsPath(ref Ref) string {
	return filepath.Join(s.root, filepath.FromSlash(ref.rel))
}

// Copy materializes src at dst, typically a cached artifact into a job
// directory. The copy goes through a temp file so dst appears atomically.
func (s *Store) Copy(src, dst Ref) error {
	data, err := s.Get(src)
	if err != nil {
		return err
	}
	return s.Put(dst, data)
}

// ListJob returns the artifact names present for a job, sorted. A job with
// no directory yet lists as empty rather than failing.
func (s *Store) ListJob(jobID string) ([]string, error) {
	if err := checkName(jobID); err != nil {
		return nil, err
	}
	dir := filepath.Join(s.root, "jobs", jobID)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "", "list job", jobID, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() && !strings.HasPrefix(entry.Name(), ".") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// RemoveJob deletes a job's artifact directory. Used by retention cleanup,
// never by the pipeline itself; the cache namespace is append-only.
func (s *Store) RemoveJob(jobID string) error {
	if err := checkName(jobID); err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Join(s.root, "jobs", jobID)); err != nil {
		return services.Wrap(services.ErrStorage, "", "remove job", jobID, err)
	}
	return nil
}

func checkName(name string) error {
	if name == "" {
		return services.Wrap(services.ErrValidation, "", "artifact name", "empty path element", nil)
	}
	if name == "." || name == ".." {
		return services.Wrap(services.ErrValidation, "", "artifact name", "relative path element: "+name, nil)
	}
	if strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return services.Wrap(services.ErrValidation, "", "artifact name", "illegal character in "+name, nil)
	}
	return nil
}
