package turnout

import (
	"github.com/arloliu/go-xnet/xnet"
	"github.com/puzpuzpuz/xsync/v3"
)

// feedbackCache keeps the latest feedback item of every nibble seen on the
// bus, so a turnout created later starts from the layout's last report.
type feedbackCache struct {
	items *xsync.MapOf[int, xnet.FeedbackItem]
}

func newFeedbackCache() *feedbackCache {
	return &feedbackCache{items: xsync.NewMapOf[int, xnet.FeedbackItem]()}
}

// nibbleOf returns the cache key of the nibble holding turnout number.
func nibbleOf(number int) int {
	return (number - 1) / 2
}

func (c *feedbackCache) put(item xnet.FeedbackItem) {
	c.items.Store(nibbleOf(item.FirstTurnout()), item)
}

// reply rebuilds a feedback reply for number from the cache.
func (c *feedbackCache) reply(number int) (*xnet.Reply, bool) {
	item, ok := c.items.Load(nibbleOf(number))
	if !ok {
		return nil, false
	}

	r, err := xnet.NewFeedbackReply(item)
	if err != nil {
		return nil, false
	}

	return r, true
}

func (c *feedbackCache) size() int {
	return c.items.Size()
}
