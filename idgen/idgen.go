// Package idgen mints the short opaque identifiers used for sessions,
// subscribers, decisions and records.
package idgen

import gonanoid "github.com/matoous/go-nanoid/v2"

const defaultLength = 12

// New returns a new random id. It panics only if the system's crypto
// random source is broken, which gonanoid itself treats as unrecoverable.
func New() string {
	id, err := gonanoid.New(defaultLength)
	if err != nil {
		panic("idgen: failed to generate id: " + err.Error())
	}
	return id
}

// NewWithPrefix returns New() prefixed with prefix and a dash, for
// human-scannable ids such as "sess-7f3kd92a1b3c".
func NewWithPrefix(prefix string) string {
	return prefix + "-" + New()
}
