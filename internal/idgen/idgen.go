// Package idgen provides the default document id generator.
package idgen

import "github.com/google/uuid"

// New returns a new RFC 4122 v4 id, the engine's default
// config.IDGenerator.
func New() string {
	return uuid.NewString()
}
