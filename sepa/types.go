/*
Package sepa renders ISO 20022 payment initiation files for Austrian banks.

PURPOSE:
  Monthly rent is collected by SEPA direct debit (pain.008.001.02); credit
  balances from an operating cost settlement are refunded by SEPA credit
  transfer (pain.001.001.03). The engine only renders documents, it never
  talks to a bank.

HARD LIMITS (bank-enforced, not stylistic):
  - names:                  70 characters
  - ids (MsgId, EndToEnd,
    PmtInfId, MndtId):      35 characters
  - unstructured remittance: 140 characters

CONSISTENCY:
  NbOfTxs and CtrlSum appear in GrpHdr AND PmtInf. Both are computed once
  from the rendered transactions; a bank rejects any mismatch.

VALIDATION:
  ValidateDirectDebit / ValidateCreditTransfer collect every problem so a
  user can fix the whole batch at once. Generate* refuses invalid batches
  with a *generic.ValidationErrors.

SEE ALSO:
  - iban.go: IBAN / BIC / creditor id checks
  - pain008.go, pain001.go: document layouts
*/
package sepa

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/settlement-engine/generic"
)

const (
	maxNameLength       = 70
	maxIDLength         = 35
	maxRemittanceLength = 140

	// NotProvided is the ISO placeholder for an absent end-to-end id.
	NotProvided = "NOTPROVIDED"

	currency = "EUR"
)

// SequenceType of a direct debit collection.
type SequenceType string

const (
	SequenceFirst     SequenceType = "FRST"
	SequenceRecurring SequenceType = "RCUR"
	SequenceOneOff    SequenceType = "OOFF"
	SequenceFinal     SequenceType = "FNAL"
)

// LocalInstrument distinguishes consumer (CORE) from business (B2B) mandates.
type LocalInstrument string

const (
	InstrumentCore LocalInstrument = "CORE"
	InstrumentB2B  LocalInstrument = "B2B"
)

// Creditor is the collecting party (the property management).
type Creditor struct {
	Name       string
	IBAN       string
	BIC        string
	CreditorID string
}

// Debtor is one tenant to collect from.
type Debtor struct {
	Name           string
	IBAN           string
	BIC            string
	MandateID      string
	MandateDate    generic.TimePoint
	Amount         decimal.Decimal
	EndToEndID     string
	RemittanceInfo string
}

// DirectDebitBatch is one pain.008 document with a single PmtInf block.
type DirectDebitBatch struct {
	MessageID       string
	CreatedAt       time.Time
	CollectionDate  generic.TimePoint
	SequenceType    SequenceType
	LocalInstrument LocalInstrument
	Creditor        Creditor
	Debtors         []Debtor
}

// Account is an originator of credit transfers.
type Account struct {
	Name string
	IBAN string
	BIC  string
}

// Transfer is one credit transfer to a beneficiary.
type Transfer struct {
	Name           string
	IBAN           string
	BIC            string
	Amount         decimal.Decimal
	EndToEndID     string
	RemittanceInfo string
}

// CreditTransferBatch is one pain.001 document with a single PmtInf block.
type CreditTransferBatch struct {
	MessageID     string
	CreatedAt     time.Time
	ExecutionDate generic.TimePoint
	Originator    Account
	Transfers     []Transfer
}

// truncate cuts s to at most n characters (runes, not bytes).
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
