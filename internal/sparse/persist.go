package sparse

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
)

// Save writes the model to path as gob, atomically via a rename.
func (mo *Model) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create model file: %w", err)
	}
	if err := gob.NewEncoder(f).Encode(mo); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("encode model: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace model file: %w", err)
	}
	return nil
}

// LoadModel reads a model previously written by Save.
func LoadModel(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open model file: %w", err)
	}
	defer f.Close()
	var mo Model
	if err := gob.NewDecoder(f).Decode(&mo); err != nil {
		return nil, fmt.Errorf("decode model %s: %w", path, err)
	}
	return &mo, nil
}
