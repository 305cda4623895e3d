package id

import "github.com/google/uuid"

func New() string {
	return uuid.NewString()
}

// Valid reports whether s looks like an identifier issued by New.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
