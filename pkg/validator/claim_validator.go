package validator

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"claims_adjudicator/internal/domain"

	"github.com/shopspring/decimal"
)

const maxDescriptionLength = 4000

// ClaimValidator checks claim intake input. Every problem found is reported as a
// *domain.ValidationError joined into the returned error.
type ClaimValidator struct {
	idRegex   *regexp.Regexp
	maxAmount decimal.Decimal
	now       func() time.Time
}

func NewClaimValidator(maxAmount decimal.Decimal) *ClaimValidator {
	return &ClaimValidator{
		idRegex:   regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:-]{0,127}$`),
		maxAmount: maxAmount,
		now:       time.Now,
	}
}

func (v *ClaimValidator) ValidateClaim(claim *domain.Claim) error {
	if claim == nil {
		return domain.NewValidationError("claim", "is required")
	}

	var errs []error

	if err := v.ValidateIdentifier("policy_id", claim.PolicyID); err != nil {
		errs = append(errs, err)
	}
	if err := v.ValidateIdentifier("claimant_id", claim.ClaimantID); err != nil {
		errs = append(errs, err)
	}
	if claim.CounterpartyID != "" && claim.CounterpartyID == claim.ClaimantID {
		errs = append(errs, domain.NewValidationError("counterparty_id", "cannot equal claimant_id"))
	}

	if !claim.IncidentType.Valid() {
		errs = append(errs, domain.NewValidationError("incident_type", fmt.Sprintf("unknown value %q", claim.IncidentType)))
	}

	if err := v.ValidateAmount(claim.Amount); err != nil {
		errs = append(errs, err)
	}

	if claim.IncidentAt.IsZero() {
		errs = append(errs, domain.NewValidationError("incident_at", "is required"))
	} else if claim.IncidentAt.After(v.now().Add(5 * time.Minute)) {
		errs = append(errs, domain.NewValidationError("incident_at", "cannot be in the future"))
	}

	if strings.TrimSpace(claim.Description) == "" {
		errs = append(errs, domain.NewValidationError("description", "is required"))
	} else if len(claim.Description) > maxDescriptionLength {
		errs = append(errs, domain.NewValidationError("description", fmt.Sprintf("exceeds %d characters", maxDescriptionLength)))
	}

	seen := make(map[string]struct{}, len(claim.DocumentIDs))
	for _, id := range claim.DocumentIDs {
		if _, dup := seen[id]; dup {
			errs = append(errs, domain.NewValidationError("document_ids", fmt.Sprintf("duplicate document %q", id)))
			continue
		}
		seen[id] = struct{}{}
	}

	return errors.Join(errs...)
}

func (v *ClaimValidator) ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return domain.NewValidationError("amount", "must be positive")
	}
	if !amount.Equal(amount.Round(2)) {
		return domain.NewValidationError("amount", "cannot have more than two decimal places")
	}
	if v.maxAmount.IsPositive() && amount.GreaterThan(v.maxAmount) {
		return domain.NewValidationError("amount", fmt.Sprintf("exceeds maximum %s", v.maxAmount.StringFixed(2)))
	}
	return nil
}

func (v *ClaimValidator) ValidateIdentifier(field, id string) error {
	if id == "" {
		return domain.NewValidationError(field, "is required")
	}
	if !v.idRegex.MatchString(id) {
		return domain.NewValidationError(field, "has invalid format")
	}
	return nil
}
