// Package connid mints short correlation ids for half-connections, used to
// tag log lines and metrics labels for a connection's whole lifetime.
package connid

import "github.com/rs/xid"

// ID is a half-connection correlation id.
type ID string

// New mints a fresh correlation id.
func New() ID {
	return ID(xid.New().String())
}

func (id ID) String() string {
	return string(id)
}
