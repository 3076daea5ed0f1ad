package collector

import (
	"go.uber.org/zap"
)

// metadataWriter is the slice of the store the metadata cache needs.
type metadataWriter interface {
	UpsertMetadata(source, entityPath, key, value string) error
}

// metaCache suppresses redundant metadata writes: display names,
// images and tags change rarely, so only actual changes hit the store.
type metaCache struct {
	store  metadataWriter
	source string
	log    *zap.Logger
	seen   map[string]string // "entity\x00key" -> value
}

func newMetaCache(store metadataWriter, source string, log *zap.Logger) *metaCache {
	return &metaCache{store: store, source: source, log: log, seen: make(map[string]string)}
}

// Put writes the attribute only when its value changed since the last
// successful write. Metadata failures are logged and skipped: losing
// a display-name update must not abort a healthy sample stream.
func (m *metaCache) Put(entityPath, key, value string) {
	ck := entityPath + "\x00" + key
	if m.seen[ck] == value {
		return
	}
	if err := m.store.UpsertMetadata(m.source, entityPath, key, value); err != nil {
		m.log.Warn("metadata write failed", zap.String("entity", entityPath), zap.String("key", key), zap.Error(err))
		return
	}
	m.seen[ck] = value
}
