// Package algorithm holds the process-wide algorithm registry: the fixed
// table mapping a small-integer wire id to an AEAD cipher's identifying
// parameters. It is built once, lazily, and handed out by value to readers
// — no locking is required after initialization since the table never
// changes once built.
package algorithm

import (
	"strings"
	"sync"

	"github.com/sage-x-project/ubiq/internal/errs"
)

// Spec describes one registered AEAD algorithm.
type Spec struct {
	ID     uint8
	Name   string
	KeyLen int
	IVLen  int
	TagLen int
}

const (
	AES256GCM uint8 = 0
	AES128GCM uint8 = 1
)

var (
	once  sync.Once
	table []Spec
)

func build() []Spec {
	return []Spec{
		{ID: AES256GCM, Name: "AES-256-GCM", KeyLen: 32, IVLen: 12, TagLen: 16},
		{ID: AES128GCM, Name: "AES-128-GCM", KeyLen: 16, IVLen: 12, TagLen: 16},
	}
}

func registry() []Spec {
	once.Do(func() {
		table = build()
	})
	return table
}

// ByID returns the Spec registered under id. Lookup is a bounds check since
// id equals the table index by construction.
func ByID(id uint8) (Spec, error) {
	t := registry()
	if int(id) >= len(t) {
		return Spec{}, errs.New(errs.ProtocolViolation, "unknown algorithm id")
	}
	return t[id], nil
}

// ByName resolves a server-reported algorithm name (e.g.
// "security_model.algorithm") to its registry entry. The table has at most
// a handful of entries, so a linear scan is simplest.
func ByName(name string) (Spec, error) {
	t := registry()
	for _, s := range t {
		if strings.EqualFold(s.Name, name) {
			return s, nil
		}
	}
	return Spec{}, errs.New(errs.InvalidArgument, "unknown algorithm name: "+name)
}

// All returns a copy of the full registry, e.g. for CLI introspection.
func All() []Spec {
	t := registry()
	out := make([]Spec, len(t))
	copy(out, t)
	return out
}
