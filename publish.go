package epaper4

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultBinName is the published artifact name fetched by the panel firmware.
const DefaultBinName = "image.bin"

// Publisher replaces a file atomically so that readers never observe a
// partially written artifact.
type Publisher struct {
	dir  string
	name string

	mu sync.Mutex
}

// NewPublisher creates a Publisher for dir/name, creating dir if needed.
// An empty name selects DefaultBinName.
func NewPublisher(dir, name string) (*Publisher, error) {
	if name == "" {
		name = DefaultBinName
	}
	if filepath.Base(name) != name {
		return nil, fmt.Errorf("epaper4: artifact name %q must not contain a path", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("epaper4: create output dir: %w", err)
	}
	return &Publisher{dir: dir, name: name}, nil
}

// Path returns the published artifact path.
func (p *Publisher) Path() string {
	return filepath.Join(p.dir, p.name)
}

// Name returns the published artifact name.
func (p *Publisher) Name() string {
	return p.name
}

// Publish writes data to a temporary file next to the artifact and renames
// it into place. The temporary file is removed on every failure.
func (p *Publisher) Publish(data []byte) (err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pattern := fmt.Sprintf(".%s.%s.*.tmp", p.name, time.Now().Format("20060102_150405"))
	f, err := os.CreateTemp(p.dir, pattern)
	if err != nil {
		return fmt.Errorf("epaper4: create temp file: %w", err)
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			f.Close()
			if rmErr := os.Remove(tmp); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				err = errors.Join(err, rmErr)
			}
		}
	}()

	if _, err = f.Write(data); err != nil {
		return fmt.Errorf("epaper4: write temp file: %w", err)
	}
	if err = f.Sync(); err != nil {
		return fmt.Errorf("epaper4: sync temp file: %w", err)
	}
	if err = f.Chmod(0o644); err != nil {
		return fmt.Errorf("epaper4: chmod temp file: %w", err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("epaper4: close temp file: %w", err)
	}
	if err = os.Rename(tmp, p.Path()); err != nil {
		return fmt.Errorf("epaper4: replace %s: %w", p.name, err)
	}
	return nil
}

// Stat returns information about the published artifact.
func (p *Publisher) Stat() (os.FileInfo, error) {
	return os.Stat(p.Path())
}
