package identifier

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Identifier is a globally shared, content-addressed cache entry for one
// (source, external id) pair. It is not owned by any project.
type Identifier struct {
	ID          int64  `json:"id"`
	Source      Source `json:"source"`
	ExternalID  string `json:"external_id"`
	Content     []byte `json:"-"`
	ContentHash string `json:"content_hash,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

// Key identifies an Identifier independently of its database id.
type Key struct {
	Source     Source `json:"source"`
	ExternalID string `json:"external_id"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s", k.Source, k.ExternalID)
}

// Key returns the identifier's (source, external id) pair.
func (i Identifier) Key() Key {
	return Key{Source: i.Source, ExternalID: i.ExternalID}
}

// Hash returns the hex BLAKE2b-256 digest of content.
func Hash(content []byte) string {
	sum := blake2b.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// ContentID derives a stable external id from content, for sources whose rows
// carry no trustworthy id of their own (e.g. RIS exports).
func ContentID(content []byte) string {
	return Hash(content)[:32]
}
