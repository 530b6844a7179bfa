package comet

import (
	"sync"

	"github.com/drblury/botcomet/internal/runtime/ids"
	"github.com/drblury/botcomet/internal/runtime/registry"
)

// EntityKind names a class of platform identifier.
type EntityKind string

const (
	Guild   EntityKind = "guild"
	Channel EntityKind = "channel"
	User    EntityKind = "user"
	Message EntityKind = "message"
)

// Obfuscator maps real platform ids to random stand-ins, one table per
// entity kind. Only the owning Comet can translate back.
type Obfuscator struct {
	mu     sync.Mutex
	tables map[EntityKind]*registry.Registry[string, string]
}

// NewObfuscator returns an Obfuscator with tables for the standard kinds.
// Other kinds get a table on first use.
func NewObfuscator() *Obfuscator {
	o := &Obfuscator{tables: make(map[EntityKind]*registry.Registry[string, string])}
	for _, kind := range []EntityKind{Guild, Channel, User, Message} {
		o.tables[kind] = registry.New[string, string]()
	}
	return o
}

func (o *Obfuscator) table(kind EntityKind) *registry.Registry[string, string] {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.tables[kind]
	if !ok {
		t = registry.New[string, string]()
		o.tables[kind] = t
	}
	return t
}

// Obfuscate returns the stand-in for realID, minting one on first sight.
func (o *Obfuscator) Obfuscate(kind EntityKind, realID string) string {
	t := o.table(kind)
	for {
		if id, ok := t.GetByA(realID); ok {
			return id
		}
		id, ok := ids.Unique(ids.ObfuscatedID, t.HasB)
		if !ok {
			continue
		}
		if err := t.Set(realID, id); err == nil {
			return id
		}
		// Lost a race for realID or id; look again.
	}
}

// Reveal translates a stand-in back to the real id.
func (o *Obfuscator) Reveal(kind EntityKind, obfuscated string) (string, bool) {
	return o.table(kind).GetByB(obfuscated)
}

// Forget drops the mapping for realID.
func (o *Obfuscator) Forget(kind EntityKind, realID string) bool {
	_, ok := o.table(kind).DeleteByA(realID)
	return ok
}

// Len returns the number of mappings held for kind.
func (o *Obfuscator) Len(kind EntityKind) int {
	return o.table(kind).Len()
}
