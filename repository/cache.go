package repository

import (
	"bytes"
	"time"

	"github.com/boltdb/bolt"
	"github.com/jmank88/nuts"
	toml "github.com/pelletier/go-toml"
	"github.com/pkg/errors"

	"github.com/negril/paludis/name"
)

// MetadataCache is a persistent memoization layer for repository metadata,
// backed by a single BoltDB file. Each repository gets a top-level bucket:
//
//	Bucket: "<repository>"
//	Keys: "md:<cat/pkg>\x00<version>" -> TOML-encoded metadata
//	Sub-bucket: "vl:<cat/pkg>"        -> sequence-keyed version strings
//
// The sequence keys use compact big-endian integers so that a cursor scan
// yields versions in insertion order. The cache is strictly advisory: the
// repositories remain the source of truth, and CachingRepository falls
// through on any miss or decode error.
type MetadataCache struct {
	db *bolt.DB
}

// OpenMetadataCache opens (or creates) the cache file at path.
func OpenMetadataCache(path string) (*MetadataCache, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open metadata cache %q", path)
	}
	return &MetadataCache{db: db}, nil
}

// Close releases the cache file.
func (c *MetadataCache) Close() error {
	return errors.Wrap(c.db.Close(), "error closing metadata cache")
}

type rawCachedMetadata struct {
	Eapi        string   `toml:"eapi"`
	Slot        string   `toml:"slot"`
	Keywords    []string `toml:"keywords"`
	IUse        []string `toml:"iuse"`
	Use         []string `toml:"use"`
	Description string   `toml:"description"`
	License     string   `toml:"license"`
	Depend      string   `toml:"depend"`
	Rdepend     string   `toml:"rdepend"`
	Pdepend     string   `toml:"pdepend"`
	Sdepend     string   `toml:"sdepend"`
	Provide     string   `toml:"provide"`
	Installed   int64    `toml:"installed"`
}

func encodeMetadata(m *Metadata) ([]byte, error) {
	raw := rawCachedMetadata{
		Eapi:        m.Eapi,
		Slot:        string(m.Slot),
		Description: m.Description,
		License:     m.License,
		Depend:      m.BuildDependencies,
		Rdepend:     m.RunDependencies,
		Pdepend:     m.PostDependencies,
		Sdepend:     m.SuggestDependencies,
		Provide:     m.Provide,
		Installed:   m.InstalledTime,
	}
	for _, k := range m.Keywords {
		raw.Keywords = append(raw.Keywords, string(k))
	}
	for _, u := range m.IUse {
		raw.IUse = append(raw.IUse, string(u))
	}
	for u, v := range m.Choices {
		if v {
			raw.Use = append(raw.Use, string(u))
		}
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(raw); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeMetadata(data []byte) (*Metadata, error) {
	var raw rawCachedMetadata
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	m := &Metadata{
		Eapi:                raw.Eapi,
		Slot:                name.SlotName(raw.Slot),
		Description:         raw.Description,
		License:             raw.License,
		BuildDependencies:   raw.Depend,
		RunDependencies:     raw.Rdepend,
		PostDependencies:    raw.Pdepend,
		SuggestDependencies: raw.Sdepend,
		Provide:             raw.Provide,
		InstalledTime:       raw.Installed,
		Choices:             make(map[name.UseFlagName]bool),
	}
	for _, k := range raw.Keywords {
		m.Keywords = append(m.Keywords, name.KeywordName(k))
	}
	for _, u := range raw.IUse {
		m.IUse = append(m.IUse, name.UseFlagName(u))
	}
	for _, u := range raw.Use {
		m.Choices[name.UseFlagName(u)] = true
	}
	return m, nil
}

func metadataKey(q name.QualifiedPackageName, v *name.VersionSpec) []byte {
	return []byte("md:" + q.String() + "\x00" + v.String())
}

// PutMetadata stores one version's metadata.
func (c *MetadataCache) PutMetadata(repo name.RepositoryName, q name.QualifiedPackageName, v *name.VersionSpec, m *Metadata) error {
	data, err := encodeMetadata(m)
	if err != nil {
		return errors.Wrap(err, "encoding metadata")
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(repo))
		if err != nil {
			return err
		}
		return b.Put(metadataKey(q, v), data)
	})
}

// GetMetadata fetches cached metadata, reporting a miss with ok=false.
func (c *MetadataCache) GetMetadata(repo name.RepositoryName, q name.QualifiedPackageName, v *name.VersionSpec) (m *Metadata, ok bool, err error) {
	err = c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(repo))
		if b == nil {
			return nil
		}
		data := b.Get(metadataKey(q, v))
		if data == nil {
			return nil
		}
		dm, derr := decodeMetadata(data)
		if derr != nil {
			return nil // treat undecodable entries as misses
		}
		m, ok = dm, true
		return nil
	})
	return m, ok, err
}

// PutVersionList stores the full version list for one package.
func (c *MetadataCache) PutVersionList(repo name.RepositoryName, q name.QualifiedPackageName, versions []*name.VersionSpec) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		top, err := tx.CreateBucketIfNotExists([]byte(repo))
		if err != nil {
			return err
		}
		bname := []byte("vl:" + q.String())
		if top.Bucket(bname) != nil {
			if err := top.DeleteBucket(bname); err != nil {
				return err
			}
		}
		b, err := top.CreateBucket(bname)
		if err != nil {
			return err
		}
		klen := nuts.KeyLen(uint64(len(versions)))
		for i, v := range versions {
			// bolt holds key references until the transaction commits, so
			// each key needs its own allocation.
			key := make(nuts.Key, klen)
			key.Put(uint64(i))
			if err := b.Put([]byte(key), []byte(v.String())); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetVersionList fetches a cached version list, ok=false on a miss.
func (c *MetadataCache) GetVersionList(repo name.RepositoryName, q name.QualifiedPackageName) (versions []*name.VersionSpec, ok bool, err error) {
	err = c.db.View(func(tx *bolt.Tx) error {
		top := tx.Bucket([]byte(repo))
		if top == nil {
			return nil
		}
		b := top.Bucket([]byte("vl:" + q.String()))
		if b == nil {
			return nil
		}
		ok = true
		return b.ForEach(func(_, value []byte) error {
			v, perr := name.ParseVersionSpec(string(value))
			if perr != nil {
				return perr
			}
			versions = append(versions, v)
			return nil
		})
	})
	if err != nil {
		return nil, false, errors.Wrap(err, "reading cached version list")
	}
	return versions, ok, nil
}

// CachingRepository wraps a Repository with the metadata cache. Reads are
// served from the cache when possible and written through on miss.
type CachingRepository struct {
	Repository
	cache *MetadataCache
}

// NewCachingRepository wraps r.
func NewCachingRepository(r Repository, cache *MetadataCache) *CachingRepository {
	return &CachingRepository{Repository: r, cache: cache}
}

// VersionSpecs consults the cache before the underlying repository.
func (c *CachingRepository) VersionSpecs(q name.QualifiedPackageName) []*name.VersionSpec {
	if vs, ok, err := c.cache.GetVersionList(c.Name(), q); err == nil && ok {
		return vs
	}
	vs := c.Repository.VersionSpecs(q)
	if len(vs) > 0 {
		_ = c.cache.PutVersionList(c.Name(), q, vs)
	}
	return vs
}

// VersionMetadata consults the cache before the underlying repository.
func (c *CachingRepository) VersionMetadata(q name.QualifiedPackageName, v *name.VersionSpec) (*Metadata, error) {
	if m, ok, err := c.cache.GetMetadata(c.Name(), q, v); err == nil && ok {
		return m, nil
	}
	m, err := c.Repository.VersionMetadata(q, v)
	if err != nil {
		return nil, err
	}
	_ = c.cache.PutMetadata(c.Name(), q, v, m)
	return m, nil
}
