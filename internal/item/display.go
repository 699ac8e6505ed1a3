package item

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

const hnItemURL = "news.ycombinator.com/item?id=%d"

// Hosts whose links are shown with their full path instead of just the host.
var fullPathHosts = map[string]struct{}{
	"github.com":           {},
	"news.ycombinator.com": {},
}

// IsLive reports whether the item should be rendered as live content.
func (it *Item) IsLive() bool {
	return !it.Deleted && !it.Dead
}

// HNURL links to the item on the upstream site.
func (it *Item) HNURL() string {
	return "https://" + fmt.Sprintf(hnItemURL, it.ID)
}

// LocalPath is the path of the item on this mirror.
func (it *Item) LocalPath() string {
	return fmt.Sprintf("/v1/items/%d", it.ID)
}

// Href is the external link for link posts, or the mirror path otherwise.
func (it *Item) Href() string {
	if it.URL != nil {
		return *it.URL
	}
	return it.LocalPath()
}

// DisplayURL is the short link label shown next to a story title.
func (it *Item) DisplayURL() string {
	if it.Kind != KindStory {
		return fmt.Sprintf(hnItemURL, it.ID)
	}
	link := fmt.Sprintf(hnItemURL, it.ID)
	if it.URL != nil {
		link = *it.URL
	}
	if _, rest, ok := strings.Cut(link, "://"); ok {
		link = rest
	}
	host, _, _ := strings.Cut(link, "/")
	if _, ok := fullPathHosts[host]; ok {
		return link
	}
	return host
}

// Age renders the creation time relative to now, or "unknown".
func (it *Item) Age(now time.Time) string {
	if it.CreatedAt == nil {
		return "unknown"
	}
	return humanize.RelTime(time.Unix(*it.CreatedAt, 0), now, "ago", "from now")
}
