package sepa

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/settlement-engine/generic"
)

// =============================================================================
// pain.001.001.03 - SEPA credit transfer initiation (settlement refunds)
// =============================================================================

const (
	Pain001Namespace = "urn:iso:std:iso:20022:tech:xsd:pain.001.001.03"
	Pain001          = "pain.001.001.03"
)

// CreditTransferDocument is the XML tree of a pain.001.001.03 file.
type CreditTransferDocument struct {
	XMLName  xml.Name               `xml:"urn:iso:std:iso:20022:tech:xsd:pain.001.001.03 Document"`
	Initiate CreditTransferInitiate `xml:"CstmrCdtTrfInitn"`
}

type CreditTransferInitiate struct {
	GroupHeader GroupHeader   `xml:"GrpHdr"`
	PaymentInfo CTPaymentInfo `xml:"PmtInf"`
}

type CTPaymentInfo struct {
	PaymentInfoID        string          `xml:"PmtInfId"`
	PaymentMethod        string          `xml:"PmtMtd"`
	BatchBooking         bool            `xml:"BtchBookg"`
	NumberOfTransactions int             `xml:"NbOfTxs"`
	ControlSum           string          `xml:"CtrlSum"`
	ServiceLevel         Code            `xml:"PmtTpInf>SvcLvl"`
	ExecutionDate        string          `xml:"ReqdExctnDt"`
	Debtor               PartyName       `xml:"Dbtr"`
	DebtorAccount        AccountID       `xml:"DbtrAcct"`
	DebtorAgent          Agent           `xml:"DbtrAgt"`
	ChargeBearer         string          `xml:"ChrgBr"`
	Transactions         []CTTransaction `xml:"CdtTrfTxInf"`
}

type CTTransaction struct {
	EndToEndID       string      `xml:"PmtId>EndToEndId"`
	InstructedAmount Amount      `xml:"Amt>InstdAmt"`
	CreditorAgent    Agent       `xml:"CdtrAgt"`
	Creditor         PartyName   `xml:"Cdtr"`
	CreditorAccount  AccountID   `xml:"CdtrAcct"`
	Remittance       *Remittance `xml:"RmtInf,omitempty"`
}

// GenerateCreditTransfer renders a refund batch.
func GenerateCreditTransfer(batch CreditTransferBatch) ([]byte, error) {
	if problems := ValidateCreditTransfer(batch); len(problems) > 0 {
		return nil, &generic.ValidationErrors{Messages: problems}
	}

	doc := buildCreditTransfer(batch)
	pmt := doc.Initiate.PaymentInfo
	if err := checkControls(doc.Initiate.GroupHeader, pmt.NumberOfTransactions, pmt.ControlSum, len(pmt.Transactions)); err != nil {
		return nil, err
	}
	return render(doc)
}

// ParseCreditTransfer reads a rendered pain.001.001.03 document back.
func ParseCreditTransfer(data []byte) (*CreditTransferDocument, error) {
	var doc CreditTransferDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse pain.001: %w", err)
	}
	return &doc, nil
}

func buildCreditTransfer(batch CreditTransferBatch) CreditTransferDocument {
	messageID := batch.MessageID
	if strings.TrimSpace(messageID) == "" {
		messageID = newMessageID()
	}
	messageID = truncate(messageID, maxIDLength)

	created := batch.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	txs := make([]CTTransaction, 0, len(batch.Transfers))
	sum := decimal.Zero
	for _, tr := range batch.Transfers {
		amount := generic.RoundMoney(tr.Amount)
		sum = sum.Add(amount)

		tx := CTTransaction{
			EndToEndID:       endToEnd(tr.EndToEndID),
			InstructedAmount: Amount{Currency: currency, Value: generic.FormatMoney(amount)},
			CreditorAgent:    Agent{BIC: NormalizeBIC(tr.BIC)},
			Creditor:         PartyName{Name: truncate(strings.TrimSpace(tr.Name), maxNameLength)},
			CreditorAccount:  AccountID{IBAN: NormalizeIBAN(tr.IBAN)},
		}
		if info := strings.TrimSpace(tr.RemittanceInfo); info != "" {
			tx.Remittance = &Remittance{Unstructured: truncate(info, maxRemittanceLength)}
		}
		txs = append(txs, tx)
	}
	controlSum := generic.FormatMoney(sum)
	originatorName := truncate(strings.TrimSpace(batch.Originator.Name), maxNameLength)

	return CreditTransferDocument{
		Initiate: CreditTransferInitiate{
			GroupHeader: GroupHeader{
				MessageID:            messageID,
				CreationDateTime:     created.Format(dateTimeLayout),
				NumberOfTransactions: len(txs),
				ControlSum:           controlSum,
				InitiatingParty:      PartyName{Name: originatorName},
			},
			PaymentInfo: CTPaymentInfo{
				PaymentInfoID:        truncate(messageID+"-1", maxIDLength),
				PaymentMethod:        "TRF",
				BatchBooking:         true,
				NumberOfTransactions: len(txs),
				ControlSum:           controlSum,
				ServiceLevel:         Code{Code: "SEPA"},
				ExecutionDate:        batch.ExecutionDate.Time.Format(dateLayout),
				Debtor:               PartyName{Name: originatorName},
				DebtorAccount:        AccountID{IBAN: NormalizeIBAN(batch.Originator.IBAN)},
				DebtorAgent:          Agent{BIC: NormalizeBIC(batch.Originator.BIC)},
				ChargeBearer:         "SLEV",
				Transactions:         txs,
			},
		},
	}
}
