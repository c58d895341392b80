package webfeed

import (
	"time"

	"github.com/maypok86/otter"
)

// validatorCacheTTL bounds how long a conditional-GET validator is trusted
// before a poll falls back to an unconditional fetch.
const validatorCacheTTL = 24 * time.Hour

// validators is a process-local cache of each feed's last conditional-GET
// validators, mirroring the podcast provider's showCache: a read-through
// accelerator that is strictly best-effort (spec.md §5, "eventual
// consistency is tolerable"), not a correctness requirement — a cold cache
// just re-fetches the feed in full on the next poll.
type validators struct {
	hot otter.Cache[string, validator]
}

type validator struct {
	ETag         string
	LastModified string
}

func newValidatorCache() (*validators, error) {
	hot, err := otter.MustBuilder[string, validator](4096).
		WithTTL(validatorCacheTTL).
		Cost(func(_ string, _ validator) uint32 { return 1 }).
		Build()
	if err != nil {
		return nil, err
	}
	return &validators{hot: hot}, nil
}

func (c *validators) get(subscriptionID string) (validator, bool) {
	return c.hot.Get(subscriptionID)
}

func (c *validators) put(subscriptionID string, v validator) {
	c.hot.Set(subscriptionID, v)
}
