package entity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// BootstrapFile is the top-level structure of an entity bootstrap YAML
// file. System entities declared here are upserted at startup.
//
// Example:
//
//	entities:
//	  - name: "Cortex"
//	    isSystem: true
//	    isDefault: true
//	    useMemory: true
//	    tools: ["*"]
type BootstrapFile struct {
	Entities []Entity `yaml:"entities"`
}

// LoadBootstrapFile reads and parses a bootstrap YAML file from disk.
func LoadBootstrapFile(path string) (*BootstrapFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("entity: open bootstrap file %q: %w", path, err)
	}
	defer f.Close()

	bf, err := LoadBootstrapFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("entity: parse bootstrap file %q: %w", path, err)
	}
	return bf, nil
}

// LoadBootstrapFromReader parses bootstrap YAML from an [io.Reader].
// The reader is consumed entirely; the caller is responsible for closing it.
func LoadBootstrapFromReader(r io.Reader) (*BootstrapFile, error) {
	var bf BootstrapFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true) // reject unknown top-level keys to catch typos
	if err := dec.Decode(&bf); err != nil {
		return nil, fmt.Errorf("entity: decode bootstrap yaml: %w", err)
	}
	return &bf, nil
}

// Bootstrap upserts the given entities into store. System entities are
// matched by case-insensitive name, so repeated startups update the
// existing document instead of creating duplicates. Non-system entities
// are matched by ID. Returns the number of entities written.
//
// Invalid entries abort the bootstrap: a broken definition at startup is
// a configuration error, not something to limp past.
func Bootstrap(ctx context.Context, store Store, entities []Entity) (int, error) {
	count := 0
	for i, e := range entities {
		if err := Validate(e); err != nil {
			return count, fmt.Errorf("entity: bootstrap entry %d (name %q): %w", i, e.Name, err)
		}

		existing, err := matchExisting(ctx, store, e)
		switch {
		case err == nil:
			e.ID = existing.ID
			e.CreatedAt = existing.CreatedAt
			e.CreatedBy = existing.CreatedBy
			if err := store.Update(ctx, e); err != nil {
				return count, fmt.Errorf("entity: bootstrap update %q: %w", e.Name, err)
			}
			slog.Debug("entity bootstrap: updated", "name", e.Name, "id", e.ID)
		case errors.Is(err, ErrNotFound):
			created, err := store.Create(ctx, e)
			if err != nil {
				return count, fmt.Errorf("entity: bootstrap create %q: %w", e.Name, err)
			}
			slog.Info("entity bootstrap: created", "name", created.Name, "id", created.ID)
		default:
			return count, fmt.Errorf("entity: bootstrap lookup %q: %w", e.Name, err)
		}
		count++
	}
	return count, nil
}

// BootstrapDir loads every *.yaml/*.yml file under dir and upserts the
// entities they declare. Returns the total number of entities written.
func BootstrapDir(ctx context.Context, store Store, dir string) (int, error) {
	total := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		bf, loadErr := LoadBootstrapFile(path)
		if loadErr != nil {
			return loadErr
		}
		n, bootErr := Bootstrap(ctx, store, bf.Entities)
		total += n
		return bootErr
	})
	if err != nil {
		return total, fmt.Errorf("entity: bootstrap dir %s: %w", dir, err)
	}
	return total, nil
}

// matchExisting finds the stored entity that a bootstrap entry refers
// to: system entities by case-insensitive name, others by ID.
func matchExisting(ctx context.Context, store Store, e Entity) (Entity, error) {
	if e.IsSystem {
		return store.GetSystemByName(ctx, e.Name)
	}
	if e.ID == "" {
		return Entity{}, ErrNotFound
	}
	return store.GetFresh(ctx, e.ID)
}
