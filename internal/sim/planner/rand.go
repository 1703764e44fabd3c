package planner

import (
	"hash/fnv"
	"strings"
)

// Hasher turns a seed string into a 32-bit seed.
type Hasher interface {
	Sum32(s string) uint32
}

// Source yields floats in [0,1).
type Source interface {
	Float64() float64
}

// FNV1a is the 32-bit FNV-1a hash over the string's bytes.
type FNV1a struct{}

func (FNV1a) Sum32(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}

// Mulberry32 is a 32-bit state generator; identical seeds give identical streams.
type Mulberry32 struct {
	state uint32
}

func NewMulberry32(seed uint32) *Mulberry32 { return &Mulberry32{state: seed} }

func (m *Mulberry32) Uint32() uint32 {
	m.state += 0x6D2B79F5
	t := m.state
	t = (t ^ (t >> 15)) * (t | 1)
	t ^= t + (t^(t>>7))*(t|61)
	return t ^ (t >> 14)
}

func (m *Mulberry32) Float64() float64 {
	return float64(m.Uint32()) / 4294967296.0
}

// SeedString joins seed parts with a separator that cannot occur in lobby or match ids.
func SeedString(parts ...string) string {
	return strings.Join(parts, "|")
}
