// Package fetcher holds the error type shared by remote fetcher implementations.
package fetcher

import (
	"fmt"

	"github.com/JakeFAU/hn-mirror/internal/crawler"
)

// Kind separates failures for diagnostics. The crawler treats all kinds alike.
type Kind string

// Failure kinds.
const (
	// KindTransport covers connect, timeout, cancellation and non-2xx responses.
	KindTransport Kind = "transport"
	// KindDecode covers bodies that do not match the expected record shape.
	KindDecode Kind = "decode"
)

// Error describes one failed remote request. It matches crawler.ErrFetch
// under errors.Is.
type Error struct {
	Kind       Kind
	URL        string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s error fetching %s (status %d): %v", e.Kind, e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s error fetching %s: %v", e.Kind, e.URL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is crawler.ErrFetch.
func (e *Error) Is(target error) bool {
	return target == crawler.ErrFetch
}

// Transport wraps err as a transport failure.
func Transport(url string, status int, err error) *Error {
	return &Error{Kind: KindTransport, URL: url, StatusCode: status, Err: err}
}

// Decode wraps err as a decode failure.
func Decode(url string, err error) *Error {
	return &Error{Kind: KindDecode, URL: url, Err: err}
}
