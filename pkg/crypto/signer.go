package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrBadSignature = errors.New("signature mismatch")

// Signer produces HMAC-SHA256 signatures over payout instructions handed to the ledger.
type Signer struct {
	secretKey []byte
	logger    *slog.Logger
}

func NewSigner(secretKey string, logger *slog.Logger) *Signer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Signer{
		secretKey: []byte(secretKey),
		logger:    logger,
	}
}

// canonical length-prefixes every part so no two field lists share an encoding.
func canonical(parts ...string) []byte {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(strconv.Itoa(len(p)))
		b.WriteByte(':')
		b.WriteString(p)
		b.WriteByte(';')
	}
	return []byte(b.String())
}

func (s *Signer) mac(data []byte) []byte {
	mac := hmac.New(sha256.New, s.secretKey)
	mac.Write(data)
	return mac.Sum(nil)
}

func (s *Signer) Sign(data []byte) string {
	return hex.EncodeToString(s.mac(data))
}

// Verify reports ErrBadSignature for a malformed or mismatched hex signature.
func (s *Signer) Verify(data []byte, signature string) error {
	got, err := hex.DecodeString(signature)
	if err != nil || !hmac.Equal(s.mac(data), got) {
		s.logger.Warn("Signature verification failed",
			slog.Int("payload_bytes", len(data)))
		return ErrBadSignature
	}
	return nil
}

func instructionPayload(payoutID, claimID, beneficiary string, amount decimal.Decimal, timestamp int64) []byte {
	return canonical(payoutID, claimID, beneficiary, amount.StringFixed(2), strconv.FormatInt(timestamp, 10))
}

func (s *Signer) SignInstruction(payoutID, claimID, beneficiary string, amount decimal.Decimal, timestamp int64) string {
	return s.Sign(instructionPayload(payoutID, claimID, beneficiary, amount, timestamp))
}

func (s *Signer) VerifyInstruction(payoutID, claimID, beneficiary string, amount decimal.Decimal, timestamp int64, signature string) error {
	return s.Verify(instructionPayload(payoutID, claimID, beneficiary, amount, timestamp), signature)
}
