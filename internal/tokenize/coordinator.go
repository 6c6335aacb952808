// Package tokenize composes content hashing, anchoring, and minting into a
// single all-or-nothing operation against the ledger pair.
package tokenize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/convoanchor/internal/conversation"
	"github.com/kalambet/convoanchor/internal/ledger"
)

// AnchorLedger is the contract the coordinator expects from an anchor
// registry, simulated or real.
type AnchorLedger interface {
	Anchor(contentHash, manifest, policy, storageHint string) (int64, error)
	Verify(id int64, contentHash string) bool
	Address() string
}

// MintRegistry is the contract the coordinator expects from an ownership
// registry.
type MintRegistry interface {
	Mint(owner string, anchorID int64, tokenURI string) (int64, error)
	OwnerOf(tokenID int64) (string, bool)
	Address() string
}

// Result reports a completed tokenize call. Either every field is
// populated or the call failed; there is no partial success.
type Result struct {
	AnchorID              int64  `json:"anchor_id"`
	TokenID               int64  `json:"token_id"`
	ContentHash           string `json:"content_hash"`
	AnchorRegistryAddress string `json:"anchor_registry_address"`
	TokenRegistryAddress  string `json:"token_registry_address"`
}

// manifest describes an anchored record.
type manifest struct {
	Type           string `json:"type"`
	Version        string `json:"version"`
	CreatedAt      string `json:"created_at"`
	ConversationID string `json:"conversation_id"`
}

// policy is fixed for every anchor this pipeline creates.
type policy struct {
	AccessControl string `json:"access_control"`
	DataRetention string `json:"data_retention"`
	ExportAllowed bool   `json:"export_allowed"`
}

var defaultPolicy = policy{
	AccessControl: "nft_ownership",
	DataRetention: "permanent",
	ExportAllowed: true,
}

// Coordinator drives tokenize calls against a lazily provisioned
// ledger/registry pair. Safe for concurrent use: provisioning and the
// anchor-then-mint sequence are serialized.
type Coordinator struct {
	mu        sync.Mutex
	anchors   AnchorLedger
	tokens    MintRegistry
	provision func() (AnchorLedger, MintRegistry, error)
	logger    *slog.Logger
}

// NewCoordinator returns a Coordinator that provisions simulated in-memory
// registries on first use.
func NewCoordinator() *Coordinator {
	return &Coordinator{
		provision: func() (AnchorLedger, MintRegistry, error) {
			return ledger.NewAnchorRegistry(), ledger.NewMintRegistry(), nil
		},
		logger: slog.Default(),
	}
}

// NewCoordinatorWith returns a Coordinator backed by the given provisioning
// function, used to swap in a real chain client or test doubles.
func NewCoordinatorWith(provision func() (AnchorLedger, MintRegistry, error)) *Coordinator {
	return &Coordinator{provision: provision, logger: slog.Default()}
}

// ContentHash computes the deterministic digest of a record: sha256 over a
// canonical JSON serialization with stable key ordering and UTF-8 bytes.
func ContentHash(rec conversation.Record) (string, error) {
	canonical, err := canonicalJSON(rec)
	if err != nil {
		return "", fmt.Errorf("canonicalizing record: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalJSON serializes v with all object keys sorted. Marshalling into
// a generic value and back leans on encoding/json's sorted map-key output.
func canonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}

// ensureProvisioned lazily creates the ledger pair. Callers must hold c.mu.
func (c *Coordinator) ensureProvisioned() error {
	if c.anchors != nil && c.tokens != nil {
		return nil
	}
	anchors, tokens, err := c.provision()
	if err != nil {
		return fmt.Errorf("provisioning ledger pair: %w", err)
	}
	c.anchors = anchors
	c.tokens = tokens
	c.logger.Info("ledger pair provisioned",
		"anchor_registry", anchors.Address(),
		"token_registry", tokens.Address())
	return nil
}

// Tokenize hashes the record, anchors the hash with its manifest and
// policy, and mints an ownership token. Any failure fails the whole call;
// no partial anchor-without-token result is ever returned.
func (c *Coordinator) Tokenize(rec conversation.Record, owner, tokenURI string) (Result, error) {
	contentHash, err := ContentHash(rec)
	if err != nil {
		return Result{}, err
	}

	man, err := json.Marshal(manifest{
		Type:           "conversation_summary",
		Version:        "1.0",
		CreatedAt:      rec.FetchedAt.UTC().Format(time.RFC3339),
		ConversationID: rec.ExternalID,
	})
	if err != nil {
		return Result{}, fmt.Errorf("building manifest: %w", err)
	}
	pol, err := json.Marshal(defaultPolicy)
	if err != nil {
		return Result{}, fmt.Errorf("building policy: %w", err)
	}

	externalID := rec.ExternalID
	if externalID == "" {
		externalID = "unknown"
	}
	storageHint := "conversation_" + externalID

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureProvisioned(); err != nil {
		return Result{}, err
	}

	anchorID, err := c.anchors.Anchor(contentHash, string(man), string(pol), storageHint)
	if err != nil {
		return Result{}, fmt.Errorf("anchoring conversation %s: %w", externalID, err)
	}

	tokenID, err := c.tokens.Mint(owner, anchorID, tokenURI)
	if err != nil {
		return Result{}, fmt.Errorf("minting token for conversation %s: %w", externalID, err)
	}

	c.logger.Debug("conversation tokenized",
		"conversation_id", externalID,
		"anchor_id", anchorID,
		"token_id", tokenID)

	return Result{
		AnchorID:              anchorID,
		TokenID:               tokenID,
		ContentHash:           contentHash,
		AnchorRegistryAddress: c.anchors.Address(),
		TokenRegistryAddress:  c.tokens.Address(),
	}, nil
}

// VerifyConversation reports whether anchorID holds exactly contentHash.
// It returns false, never an error, when no ledger has been provisioned.
func (c *Coordinator) VerifyConversation(anchorID int64, contentHash string) bool {
	c.mu.Lock()
	anchors := c.anchors
	c.mu.Unlock()

	if anchors == nil {
		return false
	}
	return anchors.Verify(anchorID, contentHash)
}

// TokenOwner looks up the owner of a minted token. It returns false for
// unknown tokens and when no registry has been provisioned.
func (c *Coordinator) TokenOwner(tokenID int64) (string, bool) {
	c.mu.Lock()
	tokens := c.tokens
	c.mu.Unlock()

	if tokens == nil {
		return "", false
	}
	return tokens.OwnerOf(tokenID)
}
