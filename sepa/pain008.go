package sepa

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/settlement-engine/generic"
)

// =============================================================================
// pain.008.001.02 - SEPA direct debit initiation
// =============================================================================

const (
	// Pain008Namespace is the XML namespace of the rendered document.
	Pain008Namespace = "urn:iso:std:iso:20022:tech:xsd:pain.008.001.02"
	// Pain008 labels direct debit exports in metrics and logs.
	Pain008 = "pain.008.001.02"

	dateTimeLayout = "2006-01-02T15:04:05"
	dateLayout     = "2006-01-02"
)

// DirectDebitDocument is the XML tree of a pain.008.001.02 file.
type DirectDebitDocument struct {
	XMLName  xml.Name           `xml:"urn:iso:std:iso:20022:tech:xsd:pain.008.001.02 Document"`
	Initiate DirectDebitInitiate `xml:"CstmrDrctDbtInitn"`
}

type DirectDebitInitiate struct {
	GroupHeader GroupHeader   `xml:"GrpHdr"`
	PaymentInfo DDPaymentInfo `xml:"PmtInf"`
}

type GroupHeader struct {
	MessageID            string    `xml:"MsgId"`
	CreationDateTime     string    `xml:"CreDtTm"`
	NumberOfTransactions int       `xml:"NbOfTxs"`
	ControlSum           string    `xml:"CtrlSum"`
	InitiatingParty      PartyName `xml:"InitgPty"`
}

type PartyName struct {
	Name string `xml:"Nm"`
}

type DDPaymentInfo struct {
	PaymentInfoID        string            `xml:"PmtInfId"`
	PaymentMethod        string            `xml:"PmtMtd"`
	BatchBooking         bool              `xml:"BtchBookg"`
	NumberOfTransactions int               `xml:"NbOfTxs"`
	ControlSum           string            `xml:"CtrlSum"`
	PaymentTypeInfo      DDPaymentTypeInfo `xml:"PmtTpInf"`
	CollectionDate       string            `xml:"ReqdColltnDt"`
	Creditor             PartyName         `xml:"Cdtr"`
	CreditorAccount      AccountID         `xml:"CdtrAcct"`
	CreditorAgent        Agent             `xml:"CdtrAgt"`
	ChargeBearer         string            `xml:"ChrgBr"`
	CreditorSchemeID     CreditorSchemeID  `xml:"CdtrSchmeId"`
	Transactions         []DDTransaction   `xml:"DrctDbtTxInf"`
}

type DDPaymentTypeInfo struct {
	ServiceLevel    Code   `xml:"SvcLvl"`
	LocalInstrument Code   `xml:"LclInstrm"`
	SequenceType    string `xml:"SeqTp"`
}

type Code struct {
	Code string `xml:"Cd"`
}

type AccountID struct {
	IBAN string `xml:"Id>IBAN"`
}

type Agent struct {
	BIC string `xml:"FinInstnId>BIC"`
}

type CreditorSchemeID struct {
	ID         string `xml:"Id>PrvtId>Othr>Id"`
	SchemeName string `xml:"Id>PrvtId>Othr>SchmeNm>Prtry"`
}

type DDTransaction struct {
	EndToEndID       string      `xml:"PmtId>EndToEndId"`
	InstructedAmount Amount      `xml:"InstdAmt"`
	MandateID        string      `xml:"DrctDbtTx>MndtRltdInf>MndtId"`
	MandateSignedOn  string      `xml:"DrctDbtTx>MndtRltdInf>DtOfSgntr"`
	DebtorAgent      Agent       `xml:"DbtrAgt"`
	Debtor           PartyName   `xml:"Dbtr"`
	DebtorAccount    AccountID   `xml:"DbtrAcct"`
	Remittance       *Remittance `xml:"RmtInf,omitempty"`
}

type Amount struct {
	Currency string `xml:"Ccy,attr"`
	Value    string `xml:",chardata"`
}

type Remittance struct {
	Unstructured string `xml:"Ustrd"`
}

// GenerateDirectDebit renders the batch. An invalid batch is refused with a
// *generic.ValidationErrors listing every problem.
func GenerateDirectDebit(batch DirectDebitBatch) ([]byte, error) {
	if problems := ValidateDirectDebit(batch); len(problems) > 0 {
		return nil, &generic.ValidationErrors{Messages: problems}
	}

	doc := buildDirectDebit(batch)
	if err := checkControls(doc.Initiate.GroupHeader, doc.Initiate.PaymentInfo.NumberOfTransactions,
		doc.Initiate.PaymentInfo.ControlSum, len(doc.Initiate.PaymentInfo.Transactions)); err != nil {
		return nil, err
	}
	return render(doc)
}

// ParseDirectDebit reads a rendered pain.008.001.02 document back.
func ParseDirectDebit(data []byte) (*DirectDebitDocument, error) {
	var doc DirectDebitDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse pain.008: %w", err)
	}
	return &doc, nil
}

func buildDirectDebit(batch DirectDebitBatch) DirectDebitDocument {
	messageID := batch.MessageID
	if strings.TrimSpace(messageID) == "" {
		messageID = newMessageID()
	}
	messageID = truncate(messageID, maxIDLength)

	created := batch.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	sequence := batch.SequenceType
	if sequence == "" {
		sequence = SequenceRecurring
	}
	instrument := batch.LocalInstrument
	if instrument == "" {
		instrument = InstrumentCore
	}

	txs := make([]DDTransaction, 0, len(batch.Debtors))
	sum := decimal.Zero
	for _, d := range batch.Debtors {
		amount := generic.RoundMoney(d.Amount)
		sum = sum.Add(amount)

		tx := DDTransaction{
			EndToEndID:       endToEnd(d.EndToEndID),
			InstructedAmount: Amount{Currency: currency, Value: generic.FormatMoney(amount)},
			MandateID:        strings.TrimSpace(d.MandateID),
			MandateSignedOn:  d.MandateDate.Time.Format(dateLayout),
			DebtorAgent:      Agent{BIC: NormalizeBIC(d.BIC)},
			Debtor:           PartyName{Name: truncate(strings.TrimSpace(d.Name), maxNameLength)},
			DebtorAccount:    AccountID{IBAN: NormalizeIBAN(d.IBAN)},
		}
		if info := strings.TrimSpace(d.RemittanceInfo); info != "" {
			tx.Remittance = &Remittance{Unstructured: truncate(info, maxRemittanceLength)}
		}
		txs = append(txs, tx)
	}
	controlSum := generic.FormatMoney(sum)
	creditorName := truncate(strings.TrimSpace(batch.Creditor.Name), maxNameLength)

	return DirectDebitDocument{
		Initiate: DirectDebitInitiate{
			GroupHeader: GroupHeader{
				MessageID:            messageID,
				CreationDateTime:     created.Format(dateTimeLayout),
				NumberOfTransactions: len(txs),
				ControlSum:           controlSum,
				InitiatingParty:      PartyName{Name: creditorName},
			},
			PaymentInfo: DDPaymentInfo{
				PaymentInfoID:        truncate(messageID+"-1", maxIDLength),
				PaymentMethod:        "DD",
				BatchBooking:         true,
				NumberOfTransactions: len(txs),
				ControlSum:           controlSum,
				PaymentTypeInfo: DDPaymentTypeInfo{
					ServiceLevel:    Code{Code: "SEPA"},
					LocalInstrument: Code{Code: string(instrument)},
					SequenceType:    string(sequence),
				},
				CollectionDate:   batch.CollectionDate.Time.Format(dateLayout),
				Creditor:         PartyName{Name: creditorName},
				CreditorAccount:  AccountID{IBAN: NormalizeIBAN(batch.Creditor.IBAN)},
				CreditorAgent:    Agent{BIC: NormalizeBIC(batch.Creditor.BIC)},
				ChargeBearer:     "SLEV",
				CreditorSchemeID: CreditorSchemeID{ID: NormalizeIBAN(batch.Creditor.CreditorID), SchemeName: "SEPA"},
				Transactions:     txs,
			},
		},
	}
}

// =============================================================================
// SHARED RENDERING
// =============================================================================

func newMessageID() string {
	return "MSG-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

func endToEnd(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return NotProvided
	}
	return id
}

// checkControls refuses a document whose two control blocks disagree with
// each other or with the rendered transactions.
func checkControls(hdr GroupHeader, pmtCount int, pmtSum string, txCount int) error {
	if hdr.NumberOfTransactions != pmtCount || hdr.NumberOfTransactions != txCount || hdr.ControlSum != pmtSum {
		return fmt.Errorf("inconsistent control values: GrpHdr %d/%s, PmtInf %d/%s, %d transactions",
			hdr.NumberOfTransactions, hdr.ControlSum, pmtCount, pmtSum, txCount)
	}
	return nil
}

func render(doc any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("render sepa document: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}
