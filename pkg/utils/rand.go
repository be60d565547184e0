package utils

import (
	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid"
)

const randAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// RandText returns a random alphanumeric string of length n
func RandText(n int) string {
	s, err := gonanoid.Generate(randAlphabet, n)
	if err != nil {
		// only fails on invalid alphabet/size
		return uuid.NewString()[:n]
	}
	return s
}

// NewID returns a new random UUID string
func NewID() string {
	return uuid.NewString()
}
