// Package checkpoint stores model snapshots.
//
// A checkpoint is split in two: the weights of both generators go to a
// FileStore as one msgpack blob at checkpoints/<id>.msgpack, and a small
// msgpack Meta record goes to a kv index under {"checkpoint", <id>}. Listing
// only touches the index.
package checkpoint

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/haivivi/condwave/pkg/autoencoder"
	"github.com/haivivi/condwave/pkg/kv"
	"github.com/haivivi/condwave/pkg/storage"
)

var (
	// ErrNotFound is returned when no checkpoint matches.
	ErrNotFound = errors.New("checkpoint: not found")

	// ErrAmbiguous is returned by Resolve when a reference matches more
	// than one checkpoint.
	ErrAmbiguous = errors.New("checkpoint: ambiguous reference")
)

const indexPrefix = "checkpoint"

// blobVersion is bumped whenever the blob layout changes.
const blobVersion = 1

// Meta describes a stored checkpoint.
type Meta struct {
	ID        string    `msgpack:"id" json:"id" yaml:"id"`
	Name      string    `msgpack:"name" json:"name" yaml:"name"`
	CreatedAt time.Time `msgpack:"created_at" json:"created_at" yaml:"created_at"`
	UseVAE    bool      `msgpack:"use_vae" json:"use_vae" yaml:"use_vae"`

	// Size is the blob size in bytes.
	Size int64 `msgpack:"size" json:"size" yaml:"size"`

	// Params counts scalar weights per generator.
	Params map[string]int `msgpack:"params" json:"params" yaml:"params"`

	// Options holds the option maps the generators were built from, so a
	// checkpoint can be restored without the original config file.
	Options map[string]map[string]any `msgpack:"options,omitempty" json:"options,omitempty" yaml:"options,omitempty"`
}

type blob struct {
	Version    int                            `msgpack:"version"`
	Generators map[string]autoencoder.Weights `msgpack:"generators"`
}

// Registry saves and loads checkpoints.
type Registry struct {
	index  kv.Store
	blobs  storage.FileStore
	now    func() time.Time
	logger *slog.Logger
}

// New returns a Registry over index and blobs.
func New(index kv.Store, blobs storage.FileStore) *Registry {
	return &Registry{index: index, blobs: blobs, now: time.Now, logger: slog.Default()}
}

// WithLogger sets the logger. It returns r.
func (r *Registry) WithLogger(l *slog.Logger) *Registry {
	r.logger = l
	return r
}

func blobPath(id string) string { return "checkpoints/" + id + ".msgpack" }

func indexKey(id string) kv.Key { return kv.Key{indexPrefix, id} }

// Save stores weights under a fresh ID. Save fills in the bookkeeping
// fields of meta and keeps UseVAE and Options as given.
func (r *Registry) Save(ctx context.Context, name string, weights map[string]autoencoder.Weights, meta Meta) (Meta, error) {
	meta.ID = uuid.NewString()
	meta.Name = name
	meta.CreatedAt = r.now().UTC()
	meta.Params = make(map[string]int, len(weights))
	for gen, w := range weights {
		n := 0
		for _, b := range w {
			n += len(b.Data)
		}
		meta.Params[gen] = n
	}

	data, err := msgpack.Marshal(blob{Version: blobVersion, Generators: weights})
	if err != nil {
		return Meta{}, fmt.Errorf("checkpoint: encode weights: %w", err)
	}
	meta.Size = int64(len(data))
	if err := storage.Put(ctx, r.blobs, blobPath(meta.ID), data); err != nil {
		return Meta{}, fmt.Errorf("checkpoint: save %s: %w", meta.ID, err)
	}

	rec, err := msgpack.Marshal(meta)
	if err != nil {
		return Meta{}, fmt.Errorf("checkpoint: encode meta: %w", err)
	}
	if err := r.index.Set(ctx, indexKey(meta.ID), rec); err != nil {
		if derr := r.blobs.Delete(ctx, blobPath(meta.ID)); derr != nil {
			r.logger.Warn("checkpoint: orphaned blob after failed index write", "path", blobPath(meta.ID), "err", derr)
		}
		return Meta{}, fmt.Errorf("checkpoint: index %s: %w", meta.ID, err)
	}
	r.logger.Info("checkpoint saved", "id", meta.ID, "name", name, "bytes", len(data))
	return meta, nil
}

// Get returns the metadata of checkpoint id.
func (r *Registry) Get(ctx context.Context, id string) (Meta, error) {
	rec, err := r.index.Get(ctx, indexKey(id))
	if errors.Is(err, kv.ErrNotFound) {
		return Meta{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Meta{}, fmt.Errorf("checkpoint: get %s: %w", id, err)
	}
	var meta Meta
	if err := msgpack.Unmarshal(rec, &meta); err != nil {
		return Meta{}, fmt.Errorf("checkpoint: decode meta %s: %w", id, err)
	}
	return meta, nil
}

// Load returns the metadata and weights of checkpoint id.
func (r *Registry) Load(ctx context.Context, id string) (Meta, map[string]autoencoder.Weights, error) {
	meta, err := r.Get(ctx, id)
	if err != nil {
		return Meta{}, nil, err
	}
	data, err := storage.Get(ctx, r.blobs, blobPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return Meta{}, nil, fmt.Errorf("%w: %s has no weights", ErrNotFound, id)
	}
	if err != nil {
		return Meta{}, nil, fmt.Errorf("checkpoint: load %s: %w", id, err)
	}
	var b blob
	if err := msgpack.Unmarshal(data, &b); err != nil {
		return Meta{}, nil, fmt.Errorf("checkpoint: decode weights %s: %w", id, err)
	}
	if b.Version != blobVersion {
		return Meta{}, nil, fmt.Errorf("checkpoint: %s has blob version %d, want %d", id, b.Version, blobVersion)
	}
	return meta, b.Generators, nil
}

// List returns every checkpoint, oldest first.
func (r *Registry) List(ctx context.Context) ([]Meta, error) {
	var metas []Meta
	for e, err := range r.index.List(ctx, kv.Key{indexPrefix}) {
		if err != nil {
			return nil, fmt.Errorf("checkpoint: list: %w", err)
		}
		var meta Meta
		if err := msgpack.Unmarshal(e.Value, &meta); err != nil {
			r.logger.Warn("checkpoint: skipping malformed record", "key", e.Key.String(), "err", err)
			continue
		}
		metas = append(metas, meta)
	}
	slices.SortFunc(metas, func(a, b Meta) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), strings.Compare(a.ID, b.ID))
	})
	return metas, nil
}

// Resolve finds a checkpoint by full ID, unique ID prefix, or name. A name
// shared by several checkpoints resolves to the newest.
func (r *Registry) Resolve(ctx context.Context, ref string) (Meta, error) {
	if ref == "" {
		return Meta{}, fmt.Errorf("%w: empty reference", ErrNotFound)
	}
	if meta, err := r.Get(ctx, ref); err == nil || !errors.Is(err, ErrNotFound) {
		return meta, err
	}
	metas, err := r.List(ctx)
	if err != nil {
		return Meta{}, err
	}
	var byPrefix []Meta
	var byName *Meta
	for i, m := range metas {
		if strings.HasPrefix(m.ID, ref) {
			byPrefix = append(byPrefix, m)
		}
		if m.Name == ref {
			byName = &metas[i]
		}
	}
	switch {
	case len(byPrefix) == 1:
		return byPrefix[0], nil
	case len(byPrefix) > 1:
		return Meta{}, fmt.Errorf("%w: %q matches %d checkpoints", ErrAmbiguous, ref, len(byPrefix))
	case byName != nil:
		return *byName, nil
	}
	return Meta{}, fmt.Errorf("%w: %s", ErrNotFound, ref)
}

// Delete removes checkpoint id.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	if err := r.blobs.Delete(ctx, blobPath(id)); err != nil {
		return fmt.Errorf("checkpoint: delete %s: %w", id, err)
	}
	if err := r.index.Delete(ctx, indexKey(id)); err != nil {
		return fmt.Errorf("checkpoint: delete %s: %w", id, err)
	}
	r.logger.Info("checkpoint deleted", "id", id)
	return nil
}
