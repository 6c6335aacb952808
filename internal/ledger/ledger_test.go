package ledger

import (
	"strings"
	"testing"
)

func TestAnchorIdentitiesStrictlyIncreasing(t *testing.T) {
	r := NewAnchorRegistry()

	var prev int64
	seen := make(map[int64]struct{})
	for i := 0; i < 100; i++ {
		id, err := r.Anchor("hash", "manifest", "policy", "hint")
		if err != nil {
			t.Fatalf("Anchor: %v", err)
		}
		if i > 0 && id <= prev {
			t.Fatalf("identity not strictly increasing: %d after %d", id, prev)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("identity %d allocated twice", id)
		}
		seen[id] = struct{}{}
		prev = id
	}
}

func TestMintIdentitiesStrictlyIncreasing(t *testing.T) {
	r := NewMintRegistry()

	var prev int64
	for i := 0; i < 100; i++ {
		id, err := r.Mint("wallet_1", int64(i), "")
		if err != nil {
			t.Fatalf("Mint: %v", err)
		}
		if i > 0 && id <= prev {
			t.Fatalf("identity not strictly increasing: %d after %d", id, prev)
		}
		prev = id
	}
}

func TestInstancesUseDistinctAddresses(t *testing.T) {
	a := NewAnchorRegistry()
	b := NewAnchorRegistry()

	if a.Address() == b.Address() {
		t.Errorf("two instances share address %q", a.Address())
	}
	for _, r := range []*AnchorRegistry{a, b} {
		if !strings.HasPrefix(r.Address(), "ct_") || len(r.Address()) != 35 {
			t.Errorf("malformed contract address %q", r.Address())
		}
	}
}

func TestVerifyCorrectness(t *testing.T) {
	r := NewAnchorRegistry()

	id, err := r.Anchor("abc123", "m", "p", "h")
	if err != nil {
		t.Fatalf("Anchor: %v", err)
	}

	if !r.Verify(id, "abc123") {
		t.Errorf("Verify(%d, stored hash) = false, want true", id)
	}
	if r.Verify(id, "def456") {
		t.Errorf("Verify(%d, wrong hash) = true, want false", id)
	}
	if r.Verify(id+999, "abc123") {
		t.Errorf("Verify(unknown id) = true, want false")
	}
}

func TestAnchorRecordStored(t *testing.T) {
	r := NewAnchorRegistry()

	id, err := r.Anchor("hash1", "manifest1", "policy1", "hint1")
	if err != nil {
		t.Fatalf("Anchor: %v", err)
	}

	a, ok := r.Get(id)
	if !ok {
		t.Fatalf("Get(%d) not found", id)
	}
	if a.ContentHash != "hash1" || a.Manifest != "manifest1" || a.Policy != "policy1" || a.StorageHint != "hint1" {
		t.Errorf("stored anchor mismatch: %+v", a)
	}
}

func TestOwnerOf(t *testing.T) {
	r := NewMintRegistry()

	id, err := r.Mint("wallet_9", 42, "https://example.com/meta")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	owner, ok := r.OwnerOf(id)
	if !ok || owner != "wallet_9" {
		t.Errorf("OwnerOf(%d) = %q, %v; want wallet_9, true", id, owner, ok)
	}

	if _, ok := r.OwnerOf(id + 12345); ok {
		t.Errorf("OwnerOf(unknown) reported found")
	}
}

func TestMintRequiresOwner(t *testing.T) {
	r := NewMintRegistry()
	if _, err := r.Mint("", 1, ""); err == nil {
		t.Errorf("Mint with empty owner should fail")
	}
}

func TestAnchorAndMintNumberingIndependent(t *testing.T) {
	anchors := NewAnchorRegistry()
	tokens := NewMintRegistry()

	anchorID, err := anchors.Anchor("h", "m", "p", "s")
	if err != nil {
		t.Fatalf("Anchor: %v", err)
	}
	tokenID, err := tokens.Mint("w", anchorID, "")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	// Different uuid-derived bases make a collision overwhelmingly
	// unlikely; equality here would indicate a shared counter.
	if anchorID == tokenID {
		t.Logf("anchor and token ids coincided (%d); bases happen to match", anchorID)
	}

	if owner, ok := tokens.OwnerOf(tokenID); !ok || owner != "w" {
		t.Errorf("token lost after mint: owner=%q ok=%v", owner, ok)
	}
}
