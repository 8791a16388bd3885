package session

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/vadiminshakov/tokensync/internal/domain"
)

func (c *Controller) update(fn func()) {
	c.mu.Lock()
	fn()
	c.mu.Unlock()
}

func (c *Controller) publish() {
	if c.publisher == nil {
		return
	}
	c.publisher.Publish(c.View())
}

func (c *Controller) transition(state domain.ConnectionState) {
	c.update(func() { c.session.State = state })
	c.publish()
}

func (c *Controller) state() domain.ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session.State
}

func (c *Controller) account() (common.Address, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session.Account == nil {
		return common.Address{}, false
	}
	return *c.session.Account, true
}

// notify stamps n with the display window and shows it. A notice replaces
// older notices about the same field.
func (c *Controller) notify(n domain.Notice) {
	now := c.now()
	n.CreatedAt = now
	n.ExpiresAt = now.Add(c.noticeTTL)

	c.update(func() {
		kept := c.notices[:0]
		for _, old := range c.notices {
			if n.Field == "" || old.Field != n.Field {
				kept = append(kept, old)
			}
		}
		c.notices = append(kept, n)
		if n.IsError() {
			c.session.LastError = &n
		} else {
			c.session.LastNotice = &n
		}
	})
	c.publish()
}

// fail shows err as an error notice with its remediation hint.
func (c *Controller) fail(field string, err error) {
	msg := err.Error()
	if hint := domain.Remediation(err); hint != "" {
		msg += ": " + hint
	}
	c.notify(domain.NewNotice(domain.NoticeError, field, msg))
}

// sweep drops expired notices and reports whether anything changed.
func (c *Controller) sweep() bool {
	now := c.now()
	changed := false

	c.update(func() {
		kept := c.notices[:0]
		for _, n := range c.notices {
			if n.Expired(now) {
				changed = true
				continue
			}
			kept = append(kept, n)
		}
		c.notices = kept
		if c.session.LastError != nil && c.session.LastError.Expired(now) {
			c.session.LastError = nil
			changed = true
		}
		if c.session.LastNotice != nil && c.session.LastNotice.Expired(now) {
			c.session.LastNotice = nil
			changed = true
		}
	})
	return changed
}
