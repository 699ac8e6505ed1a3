// Package item defines the mirrored content model: stories, comments, jobs,
// polls and poll options as served by the remote API.
package item

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
)

// ID is the stable identifier the remote API assigns to every item.
type ID uint64

// String formats the id in base 10.
func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Kind is the type of an item. KindNone marks an item whose type is absent,
// which the remote uses for deleted placeholders.
type Kind string

// Supported item kinds.
const (
	KindNone       Kind = ""
	KindJob        Kind = "job"
	KindStory      Kind = "story"
	KindComment    Kind = "comment"
	KindPoll       Kind = "poll"
	KindPollOption Kind = "pollopt"
)

// Valid reports whether k is one of the known kinds or absent.
func (k Kind) Valid() bool {
	switch k {
	case KindNone, KindJob, KindStory, KindComment, KindPoll, KindPollOption:
		return true
	default:
		return false
	}
}

// UnmarshalJSON rejects kinds the mirror does not know about.
func (k *Kind) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*k = KindNone
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("item kind: %w", err)
	}
	kind := Kind(raw)
	if !kind.Valid() {
		return fmt.Errorf("unknown item kind %q", raw)
	}
	*k = kind
	return nil
}

// Item is one node of the mirrored graph. Optional fields are pointers so an
// absent field stays distinguishable from a zero value. Items handed out by
// the store are shared and must be treated as read-only.
type Item struct {
	ID          ID      `json:"id"`
	Kind        Kind    `json:"type,omitempty"`
	Author      *string `json:"by,omitempty"`
	CreatedAt   *int64  `json:"time,omitempty"`
	Text        *string `json:"text,omitempty"`
	Deleted     bool    `json:"deleted,omitempty"`
	Dead        bool    `json:"dead,omitempty"`
	Parent      *ID     `json:"parent,omitempty"`
	Poll        *ID     `json:"poll,omitempty"`
	Kids        []ID    `json:"kids,omitempty"`
	URL         *string `json:"url,omitempty"`
	Score       int     `json:"score"`
	Title       *string `json:"title,omitempty"`
	Parts       []ID    `json:"parts,omitempty"`
	Descendants int     `json:"descendants"`
}

// ErrNullRecord is returned when the remote answers with a JSON null, which
// it does for identifiers that do not exist.
var ErrNullRecord = errors.New("null record")

// ErrInvalidID reports a malformed inbound identifier.
var ErrInvalidID = errors.New("invalid item id")

// Decode parses a single remote item record.
func Decode(body []byte) (*Item, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, ErrNullRecord
	}
	var it Item
	if err := json.Unmarshal(trimmed, &it); err != nil {
		return nil, fmt.Errorf("decode item: %w", err)
	}
	return &it, nil
}

// DecodeIDs parses a JSON array of identifiers such as the top stories list.
func DecodeIDs(body []byte) ([]ID, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, ErrNullRecord
	}
	var ids []ID
	if err := json.Unmarshal(trimmed, &ids); err != nil {
		return nil, fmt.Errorf("decode ids: %w", err)
	}
	return ids, nil
}

// ParseID validates an identifier received from a client.
func ParseID(raw string) (ID, error) {
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidID, raw)
	}
	return ID(n), nil
}
