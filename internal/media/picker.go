package media

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Picker chooses a random image from a directory.
type Picker struct {
	dir string

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewPicker creates a picker over dir seeded from the clock.
func NewPicker(dir string) *Picker {
	return NewPickerWithRand(dir, rand.New(rand.NewSource(time.Now().UnixNano())))
}

// NewPickerWithRand creates a picker with a caller supplied random source.
func NewPickerWithRand(dir string, rnd *rand.Rand) *Picker {
	return &Picker{dir: dir, rnd: rnd}
}

// Files lists the regular files in the directory, sorted by name. A missing
// directory yields no files.
func (p *Picker) Files() ([]string, error) {
	entries, err := os.ReadDir(p.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", p.dir, err)
	}

	var files []string
	for _, entry := range entries {
		path := filepath.Join(p.dir, entry.Name())
		// Stat follows symlinks so linked images count
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		files = append(files, path)
	}
	sort.Strings(files)
	return files, nil
}

// Pick returns a uniformly random file path, or "" when there is none.
func (p *Picker) Pick() (string, error) {
	files, err := p.Files()
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return files[p.rnd.Intn(len(files))], nil
}
