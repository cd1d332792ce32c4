package collection

import (
	"context"
	"maps"

	"warcreplay/internal/catalog"
)

// modify applies fn to the record for name under writeMu and persists the
// result. It returns nil when no record exists.
func (m *Manager) modify(ctx context.Context, name string, fn func(*catalog.Record) error) (*catalog.Record, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	rec, err := m.registry.Get(ctx, name)
	if err != nil || rec == nil {
		return nil, err
	}
	if err := fn(rec); err != nil {
		return nil, err
	}
	if err := m.registry.Put(ctx, *rec); err != nil {
		return nil, err
	}
	m.replace(*rec)
	return rec, nil
}

// UpdateAuth replaces the request headers used to reach the collection's
// source. It returns false if the collection does not exist.
func (m *Manager) UpdateAuth(ctx context.Context, name string, headers map[string]string) (bool, error) {
	rec, err := m.modify(ctx, name, func(r *catalog.Record) error {
		r.Config.Headers = maps.Clone(headers)
		return nil
	})
	return rec != nil, err
}

// UpdateMetadata shallow-merges patch into the collection's metadata and
// returns the merged metadata, or nil if the collection does not exist.
func (m *Manager) UpdateMetadata(ctx context.Context, name string, patch map[string]any) (*catalog.Metadata, error) {
	rec, err := m.modify(ctx, name, func(r *catalog.Record) error {
		merged, err := r.Config.Metadata.Merge(patch)
		if err != nil {
			return err
		}
		r.Config.Metadata = merged
		return nil
	})
	if rec == nil {
		return nil, err
	}
	md := rec.Config.Metadata.Clone()
	return &md, nil
}

// UpdateSize adds fullSize and dedupSize to the collection's size counters
// and stamps its modification time. When decode is set, it also replaces
// the collection's decode flag. It returns false if the collection does
// not exist.
func (m *Manager) UpdateSize(ctx context.Context, name string, fullSize, dedupSize int64, decode *bool) (bool, error) {
	rec, err := m.modify(ctx, name, func(r *catalog.Record) error {
		r.Config.Metadata.Size += dedupSize
		r.Config.Metadata.FullSize += fullSize
		r.Config.Metadata.MTime = m.now().UnixMilli()
		if decode != nil {
			r.Config.Decode = *decode
		}
		return nil
	})
	return rec != nil, err
}

// InitNewColl creates an empty collection under a fresh generated name
// and loads it. An empty typ creates an archive collection.
func (m *Manager) InitNewColl(ctx context.Context, metadata catalog.Metadata, extraConfig map[string]any, typ string) (*Collection, error) {
	if typ == "" {
		typ = catalog.TypeArchive
	}
	id := m.newID()
	rec := catalog.Record{
		Name: id,
		Type: typ,
		Config: catalog.Config{
			DBName:      "db:" + id,
			SourceURL:   "local://" + id,
			SourceName:  "local://" + id,
			CTime:       m.now().UnixMilli(),
			Metadata:    metadata.Clone(),
			ExtraConfig: maps.Clone(extraConfig),
		},
	}
	if err := m.registry.Add(ctx, rec); err != nil {
		return nil, err
	}
	m.logger.Info("collection initialized", "name", id, "type", typ)
	return m.LoadColl(ctx, id)
}
