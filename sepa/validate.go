package sepa

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/warp/settlement-engine/generic"
)

// =============================================================================
// BATCH VALIDATION - collect everything, fail on nothing
// =============================================================================

// ValidateDirectDebit returns every problem of the batch as a human-readable
// message. An empty slice means the batch can be exported.
func ValidateDirectDebit(batch DirectDebitBatch) []string {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	c := batch.Creditor
	if strings.TrimSpace(c.Name) == "" {
		add("creditor: name is required")
	}
	if err := ValidateIBAN(c.IBAN); err != nil {
		add("creditor: %v", err)
	}
	if err := ValidateBIC(c.BIC); err != nil {
		add("creditor: %v", err)
	}
	if err := ValidateCreditorID(c.CreditorID); err != nil {
		add("creditor: %v", err)
	}
	if batch.CollectionDate.IsZero() {
		add("collection date is required")
	}
	switch batch.SequenceType {
	case "", SequenceFirst, SequenceRecurring, SequenceOneOff, SequenceFinal:
	default:
		add("unknown sequence type %q", batch.SequenceType)
	}
	switch batch.LocalInstrument {
	case "", InstrumentCore, InstrumentB2B:
	default:
		add("unknown local instrument %q", batch.LocalInstrument)
	}
	if len(batch.Debtors) == 0 {
		add("batch has no debtors")
	}

	for i, d := range batch.Debtors {
		label := fmt.Sprintf("debtor %d (%s)", i+1, d.Name)
		if strings.TrimSpace(d.Name) == "" {
			add("debtor %d: name is required", i+1)
		}
		if err := ValidateIBAN(d.IBAN); err != nil {
			add("%s: %v", label, err)
		}
		if err := ValidateBIC(d.BIC); err != nil {
			add("%s: %v", label, err)
		}
		if strings.TrimSpace(d.MandateID) == "" {
			add("%s: mandate id is required", label)
		} else if tooLong(d.MandateID) {
			add("%s: mandate id exceeds %d characters", label, maxIDLength)
		}
		if tooLong(d.EndToEndID) {
			add("%s: end-to-end id exceeds %d characters", label, maxIDLength)
		}
		if d.MandateDate.IsZero() {
			add("%s: mandate signature date is required", label)
		}
		if !generic.RoundMoney(d.Amount).IsPositive() {
			add("%s: amount must be positive, got %s", label, d.Amount.String())
		}
	}
	return problems
}

// ValidateCreditTransfer is the pain.001 counterpart of ValidateDirectDebit.
func ValidateCreditTransfer(batch CreditTransferBatch) []string {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	o := batch.Originator
	if strings.TrimSpace(o.Name) == "" {
		add("originator: name is required")
	}
	if err := ValidateIBAN(o.IBAN); err != nil {
		add("originator: %v", err)
	}
	if err := ValidateBIC(o.BIC); err != nil {
		add("originator: %v", err)
	}
	if batch.ExecutionDate.IsZero() {
		add("execution date is required")
	}
	if len(batch.Transfers) == 0 {
		add("batch has no transfers")
	}

	for i, tr := range batch.Transfers {
		label := fmt.Sprintf("transfer %d (%s)", i+1, tr.Name)
		if strings.TrimSpace(tr.Name) == "" {
			add("transfer %d: name is required", i+1)
		}
		if err := ValidateIBAN(tr.IBAN); err != nil {
			add("%s: %v", label, err)
		}
		if err := ValidateBIC(tr.BIC); err != nil {
			add("%s: %v", label, err)
		}
		if tooLong(tr.EndToEndID) {
			add("%s: end-to-end id exceeds %d characters", label, maxIDLength)
		}
		if !generic.RoundMoney(tr.Amount).IsPositive() {
			add("%s: amount must be positive, got %s", label, tr.Amount.String())
		}
	}
	return problems
}

// tooLong reports whether an identifier would not fit the 35-character
// Max35Text fields. Identifiers are never cut; only free text is.
func tooLong(id string) bool {
	return utf8.RuneCountInString(strings.TrimSpace(id)) > maxIDLength
}
