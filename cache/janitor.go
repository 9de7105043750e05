package cache

import (
	"github.com/robfig/cron/v3"
)

type janitor struct {
	cron *cron.Cron
}

func (j *janitor) stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
}

// StartJanitor schedules periodic pruning of the entity stores, keeping only
// the newest keep rows in each. spec is a cron expression such as "@hourly".
func (c *Cache) StartJanitor(spec string, keep int) error {
	cr := cron.New()
	if _, err := cr.AddFunc(spec, func() { c.prune(keep) }); err != nil {
		return err
	}
	cr.Start()
	c.janitor = &janitor{cron: cr}
	return nil
}

func (c *Cache) prune(keep int) {
	for _, table := range []string{StorePosts, StoreMessages, StoreListings} {
		res, err := c.db.Exec(
			"DELETE FROM "+table+" WHERE id NOT IN (SELECT id FROM "+table+" ORDER BY created_at DESC, id DESC LIMIT ?)",
			keep)
		if err != nil {
			c.metrics.CacheErrors.Inc()
			c.log.Warn().Err(err).Str("store", table).Msg("prune failed")
			continue
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			c.log.Debug().Str("store", table).Int64("pruned", n).Msg("pruned stale rows")
		}
	}
}
