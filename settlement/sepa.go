package settlement

import (
	"fmt"
	"sort"

	"github.com/warp/settlement-engine/generic"
	"github.com/warp/settlement-engine/sepa"
)

// Mandate is a tenant's SEPA direct debit authorization.
type Mandate struct {
	Name      string
	IBAN      string
	BIC       string
	MandateID string
	SignedOn  generic.TimePoint
}

// DebtorsForInvoices turns the open amounts of invoices into direct debit
// transactions. Paid invoices and tenants without a mandate are skipped; the
// second return value lists invoices that could not be collected for lack of
// a mandate.
func DebtorsForInvoices(invoices []generic.Invoice, mandates map[generic.TenantID]Mandate) ([]sepa.Debtor, []generic.InvoiceID) {
	debtors := make([]sepa.Debtor, 0, len(invoices))
	var missing []generic.InvoiceID
	for _, inv := range invoices {
		open := inv.OpenAmount()
		if !open.IsPositive() {
			continue
		}
		m, ok := mandates[inv.TenantID]
		if !ok {
			missing = append(missing, inv.ID)
			continue
		}
		debtors = append(debtors, sepa.Debtor{
			Name:           m.Name,
			IBAN:           m.IBAN,
			BIC:            m.BIC,
			MandateID:      m.MandateID,
			MandateDate:    m.SignedOn,
			Amount:         open,
			EndToEndID:     monthlyReference(inv),
			RemittanceInfo: fmt.Sprintf("Vorschreibung %02d/%04d %s", int(inv.Month), inv.Year, inv.UnitID),
		})
	}
	return debtors, missing
}

// RefundTransfers lists a credit transfer for every statement with a credit
// balance (Guthaben). Tenants without a known account are returned separately.
func RefundTransfers(result Result, accounts map[generic.TenantID]sepa.Account) ([]sepa.Transfer, []generic.TenantID) {
	transfers := make([]sepa.Transfer, 0)
	missingSet := map[generic.TenantID]bool{}
	for _, st := range result.Statements {
		if !st.Balance.IsNegative() {
			continue
		}
		acc, ok := accounts[st.TenantID]
		if !ok {
			missingSet[st.TenantID] = true
			continue
		}
		transfers = append(transfers, sepa.Transfer{
			Name:           acc.Name,
			IBAN:           acc.IBAN,
			BIC:            acc.BIC,
			Amount:         st.Balance.Neg(),
			EndToEndID:     statementReference(result.Year, st),
			RemittanceInfo: fmt.Sprintf("Guthaben Betriebskostenabrechnung %d %s", result.Year, st.UnitID),
		})
	}

	missing := make([]generic.TenantID, 0, len(missingSet))
	for id := range missingSet {
		missing = append(missing, id)
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
	return transfers, missing
}
