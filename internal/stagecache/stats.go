package stagecache

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"soundstage/internal/services"
	"soundstage/internal/stage"
)

// Stats summarizes cache occupancy and the headroom left on the filesystem
// holding it.
type Stats struct {
	Entries    map[stage.Stage]int `json:"entries"`
	TotalBytes int64               `json:"total_bytes"`
	DiskTotal  uint64              `json:"disk_total_bytes"`
	DiskFree   uint64              `json:"disk_free_bytes"`
}

// EntryCount sums entries across all stages.
func (s Stats) EntryCount() int {
	total := 0
	for _, n := range s.Entries {
		total += n
	}
	return total
}

// statfsFunc is swapped in tests; production uses the real syscall.
type statfsFunc func(path string) (total, free uint64, err error)

func realStatfs(path string) (uint64, uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, 0, err
	}
	total := stat.Blocks * uint64(stat.Bsize)
	free := stat.Bavail * uint64(stat.Bsize)
	return total, free, nil
}

// Stats walks the cache tree, counting published slots and their sizes.
// Slots without an entry file are in-progress or abandoned writes and are
// not counted, though their bytes are.
func (c *Cache) Stats() (Stats, error) {
	return c.statsWith(realStatfs)
}

func (c *Cache) statsWith(statfs statfsFunc) (Stats, error) {
	stats := Stats{Entries: make(map[stage.Stage]int)}

	for _, st := range stage.All() {
		stageDir := filepath.Join(c.root, string(st))
		slots, err := os.ReadDir(stageDir)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return Stats{}, services.Wrap(services.ErrStorage, string(st), "cache stats", "", err)
		}
		for _, slot := range slots {
			if !slot.IsDir() {
				continue
			}
			slotDir := filepath.Join(stageDir, slot.Name())
			files, err := os.ReadDir(slotDir)
			if err != nil {
				continue
			}
			published := false
			for _, file := range files {
				if file.Name() == entryFileName {
					published = true
				}
				if info, err := file.Info(); err == nil && info.Mode().IsRegular() {
					stats.TotalBytes += info.Size()
				}
			}
			if published {
				stats.Entries[st]++
			}
		}
	}

	if total, free, err := statfs(c.root); err == nil {
		stats.DiskTotal = total
		stats.DiskFree = free
	}
	return stats, nil
}
