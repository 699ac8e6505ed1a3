package api

import (
	"time"

	"github.com/JakeFAU/hn-mirror/internal/item"
	"github.com/JakeFAU/hn-mirror/internal/thread"
)

type topResponse struct {
	Stories []itemView `json:"stories"`
}

type itemResponse struct {
	Item     itemView      `json:"item"`
	Comments []commentView `json:"comments"`
}

// itemView is an item plus the display fields the front end renders.
type itemView struct {
	*item.Item
	HNURL      string `json:"hn_url"`
	Href       string `json:"href"`
	DisplayURL string `json:"display_url,omitempty"`
	Age        string `json:"age"`
	Live       bool   `json:"live"`
}

type commentView struct {
	itemView
	Depth   int           `json:"depth"`
	Replies []commentView `json:"replies,omitempty"`
}

func newItemView(it *item.Item, now time.Time) itemView {
	return itemView{
		Item:       it,
		HNURL:      it.HNURL(),
		Href:       it.Href(),
		DisplayURL: it.DisplayURL(),
		Age:        it.Age(now),
		Live:       it.IsLive(),
	}
}

func newCommentViews(nodes []thread.Node, now time.Time) []commentView {
	views := make([]commentView, 0, len(nodes))
	for _, node := range nodes {
		views = append(views, commentView{
			itemView: newItemView(node.Item, now),
			Depth:    node.Depth,
			Replies:  newCommentViews(node.Replies, now),
		})
	}
	return views
}
