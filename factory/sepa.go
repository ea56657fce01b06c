package factory

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/settlement-engine/generic"
	"github.com/warp/settlement-engine/sepa"
	"github.com/warp/settlement-engine/settlement"
)

// =============================================================================
// SEPA BATCHES
// =============================================================================
//
// Only syntax is checked here (dates, sequence type). Identifier and length
// rules live in sepa.ValidateDirectDebit / sepa.ValidateCreditTransfer so a
// caller can validate without rendering.

// CreditorJSON is the collecting party of a direct debit batch.
type CreditorJSON struct {
	Name       string `json:"name"`
	IBAN       string `json:"iban"`
	BIC        string `json:"bic"`
	CreditorID string `json:"creditor_id"`
}

// DebtorJSON is one direct debit transaction.
type DebtorJSON struct {
	Name           string          `json:"name"`
	IBAN           string          `json:"iban"`
	BIC            string          `json:"bic"`
	MandateID      string          `json:"mandate_id"`
	MandateDate    string          `json:"mandate_date"`
	Amount         decimal.Decimal `json:"amount"`
	EndToEndID     string          `json:"end_to_end_id,omitempty"`
	RemittanceInfo string          `json:"remittance_info,omitempty"`
}

// DirectDebitJSON is a pain.008 batch.
type DirectDebitJSON struct {
	MessageID       string        `json:"message_id,omitempty"`
	CollectionDate  string        `json:"collection_date"`
	SequenceType    string        `json:"sequence_type,omitempty"`    // FRST, RCUR, OOFF, FNAL
	LocalInstrument string        `json:"local_instrument,omitempty"` // CORE, B2B
	Creditor        *CreditorJSON `json:"creditor,omitempty"`
	Debtors         []DebtorJSON  `json:"debtors"`
}

// AccountJSON is a named bank account.
type AccountJSON struct {
	Name string `json:"name"`
	IBAN string `json:"iban"`
	BIC  string `json:"bic"`
}

// TransferJSON is one credit transfer.
type TransferJSON struct {
	AccountJSON
	Amount         decimal.Decimal `json:"amount"`
	EndToEndID     string          `json:"end_to_end_id,omitempty"`
	RemittanceInfo string          `json:"remittance_info,omitempty"`
}

// CreditTransferJSON is a pain.001 batch.
type CreditTransferJSON struct {
	MessageID     string         `json:"message_id,omitempty"`
	ExecutionDate string         `json:"execution_date"`
	Originator    *AccountJSON   `json:"originator,omitempty"`
	Transfers     []TransferJSON `json:"transfers"`
}

// ParseDirectDebit parses a JSON direct debit batch. A batch without a
// creditor gets defaultCreditor.
func (f *Factory) ParseDirectDebit(data []byte, defaultCreditor sepa.Creditor) (sepa.DirectDebitBatch, error) {
	var dj DirectDebitJSON
	if err := json.Unmarshal(data, &dj); err != nil {
		return sepa.DirectDebitBatch{}, fmt.Errorf("%w: failed to parse direct debit JSON: %v", generic.ErrValidation, err)
	}
	return f.DirectDebitFromJSON(dj, defaultCreditor)
}

// DirectDebitFromJSON converts dj.
func (f *Factory) DirectDebitFromJSON(dj DirectDebitJSON, defaultCreditor sepa.Creditor) (sepa.DirectDebitBatch, error) {
	var problems generic.ValidationErrors

	batch := sepa.DirectDebitBatch{
		MessageID:       dj.MessageID,
		SequenceType:    sepa.SequenceType(dj.SequenceType),
		LocalInstrument: sepa.LocalInstrument(dj.LocalInstrument),
		Creditor:        defaultCreditor,
	}
	if dj.Creditor != nil {
		batch.Creditor = sepa.Creditor{
			Name:       dj.Creditor.Name,
			IBAN:       dj.Creditor.IBAN,
			BIC:        dj.Creditor.BIC,
			CreditorID: dj.Creditor.CreditorID,
		}
	}

	switch batch.SequenceType {
	case "", sepa.SequenceFirst, sepa.SequenceRecurring, sepa.SequenceOneOff, sepa.SequenceFinal:
	default:
		problems.Add("sequence_type %q is not one of FRST, RCUR, OOFF, FNAL", dj.SequenceType)
	}
	switch batch.LocalInstrument {
	case "", sepa.InstrumentCore, sepa.InstrumentB2B:
	default:
		problems.Add("local_instrument %q is not one of CORE, B2B", dj.LocalInstrument)
	}

	collection, err := generic.ParseDate(dj.CollectionDate)
	if err != nil {
		problems.Add("collection_date: %v", err)
	}
	batch.CollectionDate = collection

	for i, d := range dj.Debtors {
		var mandateDate generic.TimePoint
		if d.MandateDate != "" {
			mandateDate, err = generic.ParseDate(d.MandateDate)
			if err != nil {
				problems.Add("debtors[%d].mandate_date: %v", i, err)
			}
		}
		batch.Debtors = append(batch.Debtors, sepa.Debtor{
			Name:           d.Name,
			IBAN:           d.IBAN,
			BIC:            d.BIC,
			MandateID:      d.MandateID,
			MandateDate:    mandateDate,
			Amount:         d.Amount,
			EndToEndID:     d.EndToEndID,
			RemittanceInfo: d.RemittanceInfo,
		})
	}

	if err := problems.OrNil(); err != nil {
		return sepa.DirectDebitBatch{}, err
	}
	return batch, nil
}

// ParseCreditTransfer parses a JSON credit transfer batch. A batch without an
// originator gets defaultOriginator.
func (f *Factory) ParseCreditTransfer(data []byte, defaultOriginator sepa.Account) (sepa.CreditTransferBatch, error) {
	var cj CreditTransferJSON
	if err := json.Unmarshal(data, &cj); err != nil {
		return sepa.CreditTransferBatch{}, fmt.Errorf("%w: failed to parse credit transfer JSON: %v", generic.ErrValidation, err)
	}
	return f.CreditTransferFromJSON(cj, defaultOriginator)
}

// CreditTransferFromJSON converts cj.
func (f *Factory) CreditTransferFromJSON(cj CreditTransferJSON, defaultOriginator sepa.Account) (sepa.CreditTransferBatch, error) {
	var problems generic.ValidationErrors

	batch := sepa.CreditTransferBatch{
		MessageID:  cj.MessageID,
		Originator: defaultOriginator,
	}
	if cj.Originator != nil {
		batch.Originator = sepa.Account{Name: cj.Originator.Name, IBAN: cj.Originator.IBAN, BIC: cj.Originator.BIC}
	}

	execution, err := generic.ParseDate(cj.ExecutionDate)
	if err != nil {
		problems.Add("execution_date: %v", err)
	}
	batch.ExecutionDate = execution

	for _, t := range cj.Transfers {
		batch.Transfers = append(batch.Transfers, sepa.Transfer{
			Name:           t.Name,
			IBAN:           t.IBAN,
			BIC:            t.BIC,
			Amount:         t.Amount,
			EndToEndID:     t.EndToEndID,
			RemittanceInfo: t.RemittanceInfo,
		})
	}

	if err := problems.OrNil(); err != nil {
		return sepa.CreditTransferBatch{}, err
	}
	return batch, nil
}

// =============================================================================
// COLLECTION - Direct debit over a month's open invoices
// =============================================================================

// MandateJSON is a tenant's direct debit authorization.
type MandateJSON struct {
	TenantID  string `json:"tenant_id"`
	Name      string `json:"name"`
	IBAN      string `json:"iban"`
	BIC       string `json:"bic"`
	MandateID string `json:"mandate_id"`
	SignedOn  string `json:"signed_on"`
}

// CollectionJSON asks for a pain.008 covering the open invoices of a month.
type CollectionJSON struct {
	MessageID      string        `json:"message_id,omitempty"`
	CollectionDate string        `json:"collection_date"`
	SequenceType   string        `json:"sequence_type,omitempty"`
	Creditor       *CreditorJSON `json:"creditor,omitempty"`
	Mandates       []MandateJSON `json:"mandates"`
}

// Collection is a batch header without debtors plus the mandates to fill it.
type Collection struct {
	Batch    sepa.DirectDebitBatch
	Mandates map[generic.TenantID]settlement.Mandate
}

// ParseCollection parses a collection request. Every problem is reported at once.
func (f *Factory) ParseCollection(data []byte, defaultCreditor sepa.Creditor) (Collection, error) {
	var cj CollectionJSON
	if err := json.Unmarshal(data, &cj); err != nil {
		return Collection{}, fmt.Errorf("%w: failed to parse collection JSON: %v", generic.ErrValidation, err)
	}

	var problems generic.ValidationErrors
	batch, err := f.DirectDebitFromJSON(DirectDebitJSON{
		MessageID:      cj.MessageID,
		CollectionDate: cj.CollectionDate,
		SequenceType:   cj.SequenceType,
		Creditor:       cj.Creditor,
	}, defaultCreditor)
	if err != nil {
		var ve *generic.ValidationErrors
		if !errors.As(err, &ve) {
			return Collection{}, err
		}
		problems.Messages = append(problems.Messages, ve.Messages...)
	}

	mandates := make(map[generic.TenantID]settlement.Mandate, len(cj.Mandates))
	for i, m := range cj.Mandates {
		if m.TenantID == "" {
			problems.Add("mandates[%d]: tenant_id is required", i)
			continue
		}
		signed, err := generic.ParseDate(m.SignedOn)
		if err != nil {
			problems.Add("mandates[%d].signed_on: %v", i, err)
		}
		if _, dup := mandates[generic.TenantID(m.TenantID)]; dup {
			problems.Add("mandates[%d]: duplicate tenant %s", i, m.TenantID)
		}
		mandates[generic.TenantID(m.TenantID)] = settlement.Mandate{
			Name:      m.Name,
			IBAN:      m.IBAN,
			BIC:       m.BIC,
			MandateID: m.MandateID,
			SignedOn:  signed,
		}
	}

	if err := problems.OrNil(); err != nil {
		return Collection{}, err
	}
	return Collection{Batch: batch, Mandates: mandates}, nil
}
