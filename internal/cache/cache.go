// Package cache is the decoded-block cache sitting between the extraction
// pipeline and the codec decoders (§5's "expensive to recompute, safe to
// memoize" boundary): a small in-memory admission cache
// (github.com/dgryski/go-tinylfu, the same library and call shape the
// teacher's internal/spinner uses for its block cache) fronting a durable
// on-disk store (github.com/cockroachdb/pebble/v2), with concurrent
// requests for the same key collapsed through golang.org/x/sync/singleflight
// so two goroutines extracting different entries out of one folder never
// race two codec instances against the same decode. Values written to the
// durable tier are zstd-compressed (github.com/klauspost/compress/zstd)
// before they hit pebble and decompressed on read-through, so a decoded
// folder/section takes less disk than its raw bytes; the in-memory hot
// tier stores the already-decompressed bytes so a hot hit never pays the
// zstd cost.
//
// This replaces the teacher's own internal/decompressioncache, which kept
// everything in an in-memory allegro/bigcache/v3 store with no admission
// policy and no durability; see DESIGN.md for why that teacher dependency
// was dropped rather than kept.
package cache

import (
	"encoding/binary"
	"log/slog"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/pebble/v2"
	"github.com/dgryski/go-tinylfu"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/singleflight"
)

// Key identifies one decoded checkpoint: which archive, which folder or
// section within it, and the uncompressed offset the decoded bytes start
// at (decoding always proceeds forward from a checkpoint, never from an
// arbitrary mid-block offset).
type Key struct {
	ArchiveID uint64
	FolderID  int64
	Offset    int64
}

func (k Key) bytes() []byte {
	var b [24]byte
	binary.BigEndian.PutUint64(b[0:8], k.ArchiveID)
	binary.BigEndian.PutUint64(b[8:16], uint64(k.FolderID))
	binary.BigEndian.PutUint64(b[16:24], uint64(k.Offset))
	return b[:]
}

func (k Key) string() string {
	return string(k.bytes())
}

// ArchiveID derives a stable cache-namespace identifier for one archive
// from its backing file's size and leading header bytes, the same
// shortcut the teacher's internal/fileid uses xxhash for: cheap to compute
// on open, and collision-resistant enough to keep distinct archives (even
// ones sharing a path over time, e.g. a rebuilt CAB) from colliding in one
// shared cache.
func ArchiveID(size int64, header []byte) uint64 {
	h := xxhash.New()
	var sizeBuf [8]byte
	binary.BigEndian.PutUint64(sizeBuf[:], uint64(size))
	h.Write(sizeBuf[:])
	h.Write(header)
	return h.Sum64()
}

const (
	hotCacheSize    = 1 << 12
	hotSampleFactor = 10
)

// Cache is the decoded-block cache. One instance should be shared across
// every ArchiveHandle in a process: the whole point is collapsing repeated
// work across archives/handles, not per-handle memoization.
type Cache struct {
	db    *pebble.DB
	hot   *tinylfu.T[string, []byte]
	group singleflight.Group
	zEnc  *zstd.Encoder
	zDec  *zstd.Decoder
}

// Open opens (creating if absent) a pebble store at dir to back the cache.
func Open(dir string) (*Cache, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Cache{
		db: db,
		hot: tinylfu.New[string, []byte](
			hotCacheSize, hotCacheSize*hotSampleFactor, xxhash.Sum64String),
		zEnc: enc,
		zDec: dec,
	}, nil
}

func (c *Cache) Close() error {
	c.zEnc.Close()
	c.zDec.Close()
	return c.db.Close()
}

// Get returns previously decoded bytes for key, checking the in-memory
// admission cache before falling through to pebble (where values are
// stored zstd-compressed and must be decompressed on the way out).
func (c *Cache) Get(key Key) ([]byte, bool) {
	k := key.string()
	if v, ok := c.hot.Get(k); ok {
		return v, true
	}
	v, closer, err := c.db.Get(key.bytes())
	if err != nil {
		return nil, false
	}
	out, err := c.zDec.DecodeAll(v, nil)
	closer.Close()
	if err != nil {
		slog.Error("cache.decompress", "archive", key.ArchiveID, "folder", key.FolderID, "err", err)
		return nil, false
	}
	c.hot.Add(k, out)
	return out, true
}

// set stores decoded bytes for key in both cache tiers: raw in the
// in-memory hot tier, zstd-compressed in the durable pebble tier.
func (c *Cache) set(key Key, data []byte) error {
	c.hot.Add(key.string(), data)
	compressed := c.zEnc.EncodeAll(data, nil)
	return c.db.Set(key.bytes(), compressed, pebble.NoSync)
}

// GetOrDecode returns the cached bytes for key, or calls decode exactly
// once across however many concurrent callers ask for the same key (via
// singleflight), caching and returning its result.
func (c *Cache) GetOrDecode(key Key, decode func() ([]byte, error)) ([]byte, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err, _ := c.group.Do(key.string(), func() (any, error) {
		data, err := decode()
		if err != nil {
			slog.Error("cache.decode", "archive", key.ArchiveID, "folder", key.FolderID, "offset", key.Offset, "err", err)
			return nil, err
		}
		if setErr := c.set(key, data); setErr != nil {
			slog.Error("cache.set", "archive", key.ArchiveID, "folder", key.FolderID, "err", setErr)
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}
