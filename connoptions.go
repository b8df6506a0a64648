package pipehttp

import (
	"strings"
)

// ConnectionOptions is the parsed value of the request's Connection header.
type ConnectionOptions struct {
	KeepAlive bool
	Close     bool
	Upgrade   bool
	// Extensions holds the remaining tokens, lower-cased.
	Extensions []string
}

// ParseConnectionOptions parses every Connection header of h.
//
// nil is returned when the request carries no Connection header, in which
// case the protocol version alone decides keep-alive.
func ParseConnectionOptions(h *RequestHead) *ConnectionOptions {
	values := h.Values("Connection")
	if len(values) == 0 {
		return nil
	}
	opts := &ConnectionOptions{}
	for _, v := range values {
		for _, token := range strings.Split(v, ",") {
			token = strings.ToLower(strings.TrimSpace(token))
			switch token {
			case "":
			case "close":
				opts.Close = true
			case "keep-alive":
				opts.KeepAlive = true
			case "upgrade":
				opts.Upgrade = true
			default:
				opts.Extensions = append(opts.Extensions, token)
			}
		}
	}
	return opts
}

// IsLastRequest reports whether no further request may be read from the
// connection after a request with the given version and options.
//
// Without a Connection header HTTP/1.0 closes and HTTP/1.1 stays open. An
// explicit close token always closes, and an explicit keep-alive token keeps
// even an HTTP/1.0 connection open.
func IsLastRequest(v Version, opts *ConnectionOptions) bool {
	switch {
	case opts == nil && v == HTTP10:
		return true
	case opts == nil:
		return v != HTTP11
	case opts.Close:
		return true
	case opts.KeepAlive:
		return false
	default:
		return false
	}
}
