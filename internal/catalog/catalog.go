// Package catalog defines the persistent collection catalog.
//
// A catalog holds one Record per collection, keyed by a unique name. The
// record carries the collection type (which archive backend serves it)
// and its configuration. Store is the backend contract; Registry wraps a
// Store with lazy, memoized initialization.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
)

// ErrConflict is returned by Store.Add when a record with the same name
// already exists.
var ErrConflict = errors.New("collection already exists")

// Collection types.
const (
	TypeArchive         = "archive"
	TypeRemoteWARCProxy = "remotewarcproxy"
	TypeLive            = "live"
	TypeRemoteProxy     = "remoteproxy"
)

// Record is a catalog entry.
type Record struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Config Config `json:"config"`
}

// Config is the persisted configuration of a collection.
type Config struct {
	DBName         string            `json:"dbname"`
	SourceURL      string            `json:"sourceUrl,omitempty"`
	SourceName     string            `json:"sourceName,omitempty"`
	TopTemplateURL string            `json:"topTemplateUrl,omitempty"`
	CTime          int64             `json:"ctime,omitempty"` // ms since epoch
	Decode         bool              `json:"decode"`
	OnDemand       bool              `json:"onDemand,omitempty"`
	Root           bool              `json:"root,omitempty"`
	Metadata       Metadata          `json:"metadata"`
	Headers        map[string]string `json:"headers,omitempty"`
	ExtraConfig    map[string]any    `json:"extraConfig,omitempty"`
}

// Clone returns a copy of r that shares no maps with it.
func (r Record) Clone() Record {
	r.Config.Headers = maps.Clone(r.Config.Headers)
	r.Config.ExtraConfig = maps.Clone(r.Config.ExtraConfig)
	r.Config.Metadata = r.Config.Metadata.Clone()
	return r
}

// Store is the catalog backend contract. Implementations must be safe for
// concurrent use and atomic per record.
type Store interface {
	// Get returns the record for name, or nil if there is none.
	Get(ctx context.Context, name string) (*Record, error)

	// Put inserts or replaces a record.
	Put(ctx context.Context, rec Record) error

	// Add inserts a record. It returns ErrConflict if the name exists.
	Add(ctx context.Context, rec Record) error

	// Delete removes the record for name. Deleting an absent name is a no-op.
	Delete(ctx context.Context, name string) error

	// List returns all records ordered by name.
	List(ctx context.Context) ([]Record, error)

	// ListByType returns the records of one type ordered by name.
	ListByType(ctx context.Context, typ string) ([]Record, error)
}

// Metadata is the user-facing description of a collection. Keys outside
// the known fields are preserved in Extra and round-trip through JSON.
type Metadata struct {
	Title    string
	Desc     string
	Size     int64
	FullSize int64
	MTime    int64 // ms since epoch
	Extra    map[string]any
}

var knownMetadataKeys = []string{"title", "desc", "size", "fullSize", "mtime"}

// Clone returns a copy of m that shares no maps with it.
func (m Metadata) Clone() Metadata {
	m.Extra = maps.Clone(m.Extra)
	return m
}

// MarshalJSON flattens the known fields and Extra into one object.
func (m Metadata) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+5)
	maps.Copy(out, m.Extra)
	for _, k := range knownMetadataKeys {
		delete(out, k)
	}
	if m.Title != "" {
		out["title"] = m.Title
	}
	if m.Desc != "" {
		out["desc"] = m.Desc
	}
	if m.Size != 0 {
		out["size"] = m.Size
	}
	if m.FullSize != 0 {
		out["fullSize"] = m.FullSize
	}
	if m.MTime != 0 {
		out["mtime"] = m.MTime
	}
	return json.Marshal(out)
}

// UnmarshalJSON splits an object into the known fields and Extra.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = Metadata{}
	fields := map[string]any{
		"title":    &m.Title,
		"desc":     &m.Desc,
		"size":     &m.Size,
		"fullSize": &m.FullSize,
		"mtime":    &m.MTime,
	}
	for k, v := range raw {
		if dst, ok := fields[k]; ok {
			if string(v) == "null" {
				continue
			}
			if err := json.Unmarshal(v, dst); err != nil {
				return err
			}
			continue
		}
		var x any
		if err := json.Unmarshal(v, &x); err != nil {
			return err
		}
		if m.Extra == nil {
			m.Extra = make(map[string]any)
		}
		m.Extra[k] = x
	}
	return nil
}

// Merge returns m with the keys of patch shallow-merged over it. Known
// keys must carry values of the matching JSON type.
func (m Metadata) Merge(patch map[string]any) (Metadata, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return m, err
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return m, err
	}
	maps.Copy(obj, patch)
	data, err = json.Marshal(obj)
	if err != nil {
		return m, err
	}
	var out Metadata
	if err := json.Unmarshal(data, &out); err != nil {
		return m, err
	}
	return out, nil
}
