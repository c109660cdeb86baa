package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"

	"github.com/input-output-hk/brencher/release"
)

// Snapshot is the persisted layout of the store.
type Snapshot struct {
	Releases     []release.Release     `json:"releases"`
	Environments []release.Environment `json:"environments"`
}

// Backend loads and saves snapshots. A missing snapshot loads as an empty
// one without error.
type Backend interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
}

// DefaultStatePath returns $XDG_DATA_HOME/brencher/state.json.
func DefaultStatePath() string {
	return filepath.Join(xdg.DataHome, "brencher", "state.json")
}

// FileBackend stores the snapshot as a JSON file. Writes go to a temporary
// file in the same directory which is then renamed over the target.
type FileBackend struct {
	path string
}

// NewFileBackend creates a FileBackend for path. An empty path selects
// DefaultStatePath.
func NewFileBackend(path string) *FileBackend {
	if path == "" {
		path = DefaultStatePath()
	}
	return &FileBackend{path: path}
}

// Path returns the snapshot file location.
func (b *FileBackend) Path() string {
	return b.path
}

// Load implements Backend.
func (b *FileBackend) Load(_ context.Context) (Snapshot, error) {
	data, err := os.ReadFile(b.path)
	if os.IsNotExist(err) {
		return Snapshot{}, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("reading %s: %w", b.path, err)
	}
	return decode(data)
}

// Save implements Backend.
func (b *FileBackend) Save(_ context.Context, snap Snapshot) error {
	data, err := encode(snap)
	if err != nil {
		return err
	}

	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("creating temporary snapshot: %w", err)
	}
	defer func() {
		// No-op after a successful rename.
		_ = os.Remove(tmp.Name())
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("syncing snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), b.path); err != nil {
		return fmt.Errorf("replacing %s: %w", b.path, err)
	}
	return nil
}

func encode(snap Snapshot) ([]byte, error) {
	if snap.Releases == nil {
		snap.Releases = []release.Release{}
	}
	if snap.Environments == nil {
		snap.Environments = []release.Environment{}
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	return data, nil
}

func decode(data []byte) (Snapshot, error) {
	var snap Snapshot
	if len(data) == 0 {
		return snap, nil
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decoding snapshot: %w", err)
	}
	return snap, nil
}
