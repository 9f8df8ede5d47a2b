package monitor

import (
	"os"
	"time"
)

// fileStamp identifies one version of a file by modification time and size.
type fileStamp struct {
	modTime time.Time
	size    int64
	exists  bool
}

func stampOf(path string) fileStamp {
	fi, err := os.Stat(path)
	if err != nil {
		return fileStamp{}
	}
	return fileStamp{modTime: fi.ModTime(), size: fi.Size(), exists: true}
}

// stamps records the versions of a set of files.
type stamps map[string]fileStamp

func takeStamps(paths ...string) stamps {
	s := make(stamps, len(paths))
	for _, p := range paths {
		if p != "" {
			s[p] = stampOf(p)
		}
	}
	return s
}

// changed reports whether any recorded file differs from what is on disk.
func (s stamps) changed() bool {
	for p, st := range s {
		if stampOf(p) != st {
			return true
		}
	}
	return false
}
