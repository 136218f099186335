package tagstore

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Unknown is the Identify result for a tag missing from the registry.
const Unknown = -1

// UIDSize is the length of a single-size ISO 14443-A UID.
const UIDSize = 4

// UID is a 4-byte tag identity.
type UID [UIDSize]byte

// ParseUID parses 8 hex digits, optionally separated by spaces or colons.
func ParseUID(s string) (UID, error) {
	b, err := parseHex(s)
	if err != nil {
		return UID{}, fmt.Errorf("parse uid %q: %w", s, err)
	}
	if len(b) != UIDSize {
		return UID{}, fmt.Errorf("parse uid %q: need %d bytes, got %d", s, UIDSize, len(b))
	}
	var u UID
	copy(u[:], b)
	return u, nil
}

func parseHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.NewReplacer(" ", "", ":", "", "0x", "").Replace(s))
}

// UIDFromBytes converts a raw card UID. Only single-size UIDs fit.
func UIDFromBytes(b []byte) (UID, bool) {
	var u UID
	if len(b) != UIDSize {
		return u, false
	}
	copy(u[:], b)
	return u, true
}

func (u UID) String() string {
	return strings.ToUpper(hex.EncodeToString(u[:]))
}

// Tag is a registry entry. The same UID may be listed more than once.
type Tag struct {
	UID  UID
	Name string
}

// DefaultTags are the tags shipped with the installation.
var DefaultTags = []Tag{
	{UID: UID{0x53, 0xAA, 0x95, 0x1A}, Name: "blank card"},
	{UID: UID{0x57, 0x99, 0x52, 0xC8}, Name: "blue puck"},
	{UID: UID{0xCD, 0x78, 0x9A, 0x4F}, Name: "blank tag"},
	{UID: UID{0x4D, 0x79, 0x9A, 0x4F}, Name: "pink mouse"},
	{UID: UID{0x0D, 0x79, 0x9A, 0x4F}, Name: "white cat"},
}

// Registry is a static list of known tags.
type Registry struct {
	tags []Tag
}

// NewRegistry creates a registry over tags.
func NewRegistry(tags []Tag) *Registry {
	r := &Registry{tags: make([]Tag, len(tags))}
	copy(r.tags, tags)
	return r
}

// Identify returns the index of the first entry matching uid, or Unknown.
func (r *Registry) Identify(uid UID) int {
	for i, t := range r.tags {
		if t.UID == uid {
			return i
		}
	}
	return Unknown
}

// Lookup returns the first entry matching uid.
func (r *Registry) Lookup(uid UID) (Tag, bool) {
	i := r.Identify(uid)
	if i == Unknown {
		return Tag{}, false
	}
	return r.tags[i], true
}

// Len is the number of entries.
func (r *Registry) Len() int {
	return len(r.tags)
}
