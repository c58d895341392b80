package podcast

import (
	"time"

	"github.com/maypok86/otter"
)

// showCacheTTL is how long a show's metadata stays in showCache.
const showCacheTTL = 6 * time.Hour

// showCache is a process-local cache of the last-seen show metadata.
// pollGroup writes and invalidates entries, but no poll path reads them:
// every poll still fetches every show with GetShows.
type showCache struct {
	hot otter.Cache[string, showMeta]
}

func newShowCache() (*showCache, error) {
	hot, err := otter.MustBuilder[string, showMeta](4096).
		WithTTL(showCacheTTL).
		Cost(func(_ string, _ showMeta) uint32 { return 1 }).
		Build()
	if err != nil {
		return nil, err
	}
	return &showCache{hot: hot}, nil
}

func (c *showCache) get(showID string) (showMeta, bool) {
	return c.hot.Get(showID)
}

func (c *showCache) put(meta showMeta) {
	c.hot.Set(meta.ShowID, meta)
}

// invalidate drops a show's cached metadata; called whenever its episode
// count has just changed.
func (c *showCache) invalidate(showID string) {
	c.hot.Delete(showID)
}
