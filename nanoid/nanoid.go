// Package nanoid generates short random identifiers.
package nanoid

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Alphabets
const (
	Number        = "0123456789"
	Lowercase     = "abcdefghijklmnopqrstuvwxyz"
	Uppercase     = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	NumLowerUpper = Number + Lowercase + Uppercase
)

// DefaultSize of generated ids
const DefaultSize = 16

func getSize(l ...int) int {
	if len(l) > 0 && l[0] > 0 {
		return l[0]
	}
	return DefaultSize
}

// New generates an alphanumeric id of optional length
func New(l ...int) (string, error) {
	return gonanoid.Generate(NumLowerUpper, getSize(l...))
}
