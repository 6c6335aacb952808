// Package ledger simulates the two on-chain registries the pipeline anchors
// into: an append-only anchor registry binding content hashes to manifest
// metadata, and a mint registry recording token ownership. Both are
// in-memory stand-ins with the identity guarantees a real chain client
// would provide: instance-scoped, strictly increasing identifiers.
package ledger

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Anchor is an immutable registry entry for one content hash.
type Anchor struct {
	ID          int64
	ContentHash string
	Manifest    string
	Policy      string
	StorageHint string
}

// Token is an immutable ownership record backed by an anchor.
type Token struct {
	ID       int64
	Owner    string
	AnchorID int64
	TokenURI string
}

// newContractAddress generates a fresh simulated contract address: "ct_"
// followed by 32 hex characters.
func newContractAddress() string {
	return "ct_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// identityBase derives the numbering base for an instance from the last
// eight hex characters of its address, so separate instances allocate from
// disjoint ranges.
func identityBase(address string) int64 {
	if len(address) < 8 {
		return 1000
	}
	base, err := strconv.ParseInt(address[len(address)-8:], 16, 64)
	if err != nil {
		return 1000
	}
	return base
}

// AnchorRegistry is the simulated append-only anchor ledger. Safe for
// concurrent use.
type AnchorRegistry struct {
	mu      sync.Mutex
	address string
	base    int64
	count   int64
	anchors map[int64]Anchor
}

// NewAnchorRegistry provisions a registry instance with a fresh address.
func NewAnchorRegistry() *AnchorRegistry {
	addr := newContractAddress()
	return &AnchorRegistry{
		address: addr,
		base:    identityBase(addr),
		anchors: make(map[int64]Anchor),
	}
}

// Address returns the instance's simulated contract address.
func (r *AnchorRegistry) Address() string {
	return r.address
}

// Anchor stores a content hash with its manifest, policy, and storage hint,
// and returns the newly allocated anchor identity. Identities are strictly
// increasing within an instance and never reused.
func (r *AnchorRegistry) Anchor(contentHash, manifest, policy, storageHint string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.count++
	id := r.base + r.count
	r.anchors[id] = Anchor{
		ID:          id,
		ContentHash: contentHash,
		Manifest:    manifest,
		Policy:      policy,
		StorageHint: storageHint,
	}
	return id, nil
}

// Verify reports whether an anchor exists at id with exactly the given
// content hash. Unknown identities and mismatched digests both report
// false; Verify never fails.
func (r *AnchorRegistry) Verify(id int64, contentHash string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.anchors[id]
	return ok && a.ContentHash == contentHash
}

// Get returns the stored anchor for id, if any.
func (r *AnchorRegistry) Get(id int64) (Anchor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.anchors[id]
	return a, ok
}

// MintRegistry is the simulated ownership registry. Its identity space is
// independent from the anchor registry's. Safe for concurrent use.
type MintRegistry struct {
	mu      sync.Mutex
	address string
	base    int64
	count   int64
	tokens  map[int64]Token
}

// NewMintRegistry provisions a registry instance with a fresh address.
func NewMintRegistry() *MintRegistry {
	addr := newContractAddress()
	return &MintRegistry{
		address: addr,
		base:    identityBase(addr),
		tokens:  make(map[int64]Token),
	}
}

// Address returns the instance's simulated contract address.
func (r *MintRegistry) Address() string {
	return r.address
}

// Mint records a token for owner backed by anchorID and returns the new
// token identity. Tokens are immutable; there is no transfer operation.
func (r *MintRegistry) Mint(owner string, anchorID int64, tokenURI string) (int64, error) {
	if owner == "" {
		return 0, fmt.Errorf("minting token: owner is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.count++
	id := r.base + r.count
	r.tokens[id] = Token{
		ID:       id,
		Owner:    owner,
		AnchorID: anchorID,
		TokenURI: tokenURI,
	}
	return id, nil
}

// OwnerOf returns the owner of a token, or false for unknown identities.
// Lookup never fails.
func (r *MintRegistry) OwnerOf(tokenID int64) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tokens[tokenID]
	if !ok {
		return "", false
	}
	return t.Owner, true
}
