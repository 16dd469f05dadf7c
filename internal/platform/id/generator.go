package id

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates opaque ids for reconciliation runs.
type Generator interface {
	NewID() (string, error)
}

// UUIDGenerator issues time-ordered UUIDv7 values so run ids sort by start time.
type UUIDGenerator struct{}

func NewUUIDGenerator() *UUIDGenerator {
	return &UUIDGenerator{}
}

func (g *UUIDGenerator) NewID() (string, error) {
	v, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid v7: %w", err)
	}
	return v.String(), nil
}

// Static returns the same id every time. Tests and named resumable runs use it.
type Static string

func (s Static) NewID() (string, error) {
	if s == "" {
		return "", fmt.Errorf("static id is empty")
	}
	return string(s), nil
}
