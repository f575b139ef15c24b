package crypto

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestSigner_InstructionRoundTrip(t *testing.T) {
	s := NewSigner("secret", nil)
	amount := decimal.RequireFromString("500.10")

	sig := s.SignInstruction("p1", "c1", "rider-1", amount, 1700000000)

	if err := s.VerifyInstruction("p1", "c1", "rider-1", amount, 1700000000, sig); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}

	tests := []struct {
		name      string
		payoutID  string
		claimID   string
		amount    decimal.Decimal
		signature string
	}{
		{"tampered amount", "p1", "c1", decimal.NewFromInt(5000), sig},
		{"shifted field boundary", "p1c", "1", amount, sig},
		{"not hex", "p1", "c1", amount, "zz" + sig[2:]},
		{"truncated", "p1", "c1", amount, sig[:10]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.VerifyInstruction(tt.payoutID, tt.claimID, "rider-1", tt.amount, 1700000000, tt.signature)
			if !errors.Is(err, ErrBadSignature) {
				t.Errorf("expected ErrBadSignature, got %v", err)
			}
		})
	}
}

func TestSigner_DifferentSecretsDisagree(t *testing.T) {
	a := NewSigner("secret-a", nil)
	b := NewSigner("secret-b", nil)
	amount := decimal.NewFromInt(100)

	sig := a.SignInstruction("p1", "c1", "rider-1", amount, 1)
	if err := b.VerifyInstruction("p1", "c1", "rider-1", amount, 1, sig); !errors.Is(err, ErrBadSignature) {
		t.Errorf("expected ErrBadSignature across secrets, got %v", err)
	}
}

func TestEvidenceDigest(t *testing.T) {
	a := EvidenceDigest("v1", "double voting", "tx:abc")
	b := EvidenceDigest("v1", "double voting", "tx:abc")
	c := EvidenceDigest("v1", "double votingtx:abc", "")

	if a != b {
		t.Error("expected digest to be deterministic")
	}
	if a == c {
		t.Error("expected part boundaries to change the digest")
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
}

func TestTokenIssuer(t *testing.T) {
	issuer := NewTokenIssuer("admin-secret", "adjudicator")
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	issuer.now = func() time.Time { return now }

	raw, err := issuer.Issue("ops-lead", []string{ScopeOverride}, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	auth, err := issuer.Verify(raw)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if auth.Subject != "ops-lead" || !auth.Can(ScopeOverride) || auth.Can(ScopeSlash) {
		t.Errorf("unexpected authorizer %+v", auth)
	}

	other := NewTokenIssuer("wrong-secret", "adjudicator")
	if _, err := other.Verify(raw); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for wrong secret, got %v", err)
	}

	now = now.Add(2 * time.Hour)
	if _, err := issuer.Verify(raw); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for expired token, got %v", err)
	}
}
