package factory_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/settlement-engine/factory"
	"github.com/warp/settlement-engine/generic"
	"github.com/warp/settlement-engine/sepa"
)

func TestParseSettlement(t *testing.T) {
	// GIVEN: A settlement run as exported by an accounting tool
	body := `{
		"property_id": "P1",
		"year": 2025,
		"booking_date": "2026-02-15",
		"heating_ratio": "0.6",
		"units": [
			{"unit_id": "A", "area": "60", "consumption": 300, "water_reading": "42.5"},
			{"unit_id": "B", "area": "40"}
		],
		"expenses": [
			{"category": "Müllabfuhr", "amount": "1000.00"},
			{"category": "Wasser", "amount": 250.5, "key": "water"}
		],
		"prepayments": {"T1": "500.00"}
	}`

	// WHEN: Parsed
	in, err := factory.New().ParseSettlement("org-1", []byte(body))

	// THEN: Typed input with exact decimals
	require.NoError(t, err)
	assert.Equal(t, generic.OrganizationID("org-1"), in.OrganizationID)
	assert.Equal(t, generic.PropertyID("P1"), in.PropertyID)
	assert.Equal(t, 2025, in.Year)
	assert.Equal(t, "2026-02-15", in.BookingDate.String())
	require.NotNil(t, in.HeatingRatio)
	assert.True(t, in.HeatingRatio.Equal(decimal.RequireFromString("0.6")))

	require.Len(t, in.Units, 2)
	require.NotNil(t, in.Units[0].WaterReading)
	assert.True(t, in.Units[0].WaterReading.Equal(decimal.RequireFromString("42.5")))
	assert.Nil(t, in.Units[1].WaterReading)

	require.Len(t, in.Expenses, 2)
	assert.True(t, in.Expenses[1].Amount.Equal(decimal.RequireFromString("250.5")))
	assert.True(t, in.Prepayments["T1"].Equal(decimal.RequireFromString("500")))
}

func TestParseSettlement_CollectsEveryProblem(t *testing.T) {
	// GIVEN: A run with several mistakes
	body := `{
		"year": 25,
		"booking_date": "15.02.2026",
		"units": [{"unit_id": "A", "area": "-1"}, {"unit_id": "A", "area": "1"}],
		"expenses": [{"category": "", "amount": "-5", "key": "shoe-size"}]
	}`

	// WHEN: Parsed
	_, err := factory.New().ParseSettlement("org-1", []byte(body))

	// THEN: One validation error listing all of them
	require.ErrorIs(t, err, generic.ErrValidation)
	var ve *generic.ValidationErrors
	require.True(t, errors.As(err, &ve))
	assert.Len(t, ve.Messages, 8)
}

func TestParseSettlement_MalformedJSON(t *testing.T) {
	_, err := factory.New().ParseSettlement("org-1", []byte(`{"year":`))

	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestParseMonthly(t *testing.T) {
	body := `{
		"year": 2025, "month": 3,
		"leases": [
			{"tenant_id": "T1", "unit_id": "A", "move_in": "2024-01-01",
			 "grundmiete": "500", "betriebskosten": "100", "heizkosten": "50", "wasserkosten": "20"},
			{"tenant_id": "T2", "unit_id": "B", "move_in": "2024-01-01", "move_out": "2025-03-15",
			 "grundmiete": "400"}
		]
	}`

	in, err := factory.New().ParseMonthly("org-1", []byte(body))

	require.NoError(t, err)
	assert.Equal(t, time.March, in.Month)
	require.Len(t, in.Leases, 2)
	assert.Nil(t, in.Leases[0].MoveOut)
	require.NotNil(t, in.Leases[1].MoveOut)
	assert.Equal(t, "2025-03-15", in.Leases[1].MoveOut.String())
	assert.True(t, in.Leases[1].Heizkosten.IsZero())
}

func TestParseMonthly_Invalid(t *testing.T) {
	body := `{"year": 2025, "month": 13, "leases": [{"tenant_id": "T1", "unit_id": "A", "move_in": "2025-05-01", "move_out": "2025-04-01"}]}`

	_, err := factory.New().ParseMonthly("org-1", []byte(body))

	var ve *generic.ValidationErrors
	require.True(t, errors.As(err, &ve))
	assert.Len(t, ve.Messages, 2)
}

func TestParseDirectDebit_DefaultCreditor(t *testing.T) {
	// GIVEN: A batch without creditor
	body := `{
		"collection_date": "2025-03-05",
		"sequence_type": "FRST",
		"debtors": [{"name": "Anna Huber", "iban": "AT61 1904 3002 3457 3201", "bic": "BKAUATWW",
		             "mandate_id": "M-1", "mandate_date": "2020-01-01", "amount": "742.00"}]
	}`
	creditor := sepa.Creditor{Name: "Hausverwaltung", IBAN: "AT483200000012345864", BIC: "RLNWATWW", CreditorID: "AT61ZZZ01234567890"}

	// WHEN: Parsed and rendered
	batch, err := factory.New().ParseDirectDebit([]byte(body), creditor)
	require.NoError(t, err)
	xmlDoc, err := sepa.GenerateDirectDebit(batch)

	// THEN: The configured creditor collects
	require.NoError(t, err)
	assert.Equal(t, creditor, batch.Creditor)
	assert.Equal(t, sepa.SequenceFirst, batch.SequenceType)
	assert.Contains(t, string(xmlDoc), "<SeqTp>FRST</SeqTp>")
	assert.Contains(t, string(xmlDoc), "AT611904300234573201")
}

func TestParseDirectDebit_RejectsUnknownSequence(t *testing.T) {
	body := `{"collection_date": "2025-03-05", "sequence_type": "NEXT", "local_instrument": "COR1", "debtors": []}`

	_, err := factory.New().ParseDirectDebit([]byte(body), sepa.Creditor{})

	var ve *generic.ValidationErrors
	require.True(t, errors.As(err, &ve))
	assert.Len(t, ve.Messages, 2)
}

func TestParseCreditTransfer(t *testing.T) {
	body := `{
		"execution_date": "2026-03-01",
		"originator": {"name": "Hausverwaltung", "iban": "AT483200000012345864", "bic": "RLNWATWW"},
		"transfers": [{"name": "Anna Huber", "iban": "AT611904300234573201", "bic": "BKAUATWW", "amount": "60.00"}]
	}`

	batch, err := factory.New().ParseCreditTransfer([]byte(body), sepa.Account{})

	require.NoError(t, err)
	assert.Equal(t, "Hausverwaltung", batch.Originator.Name)
	require.Len(t, batch.Transfers, 1)
	assert.Equal(t, "Anna Huber", batch.Transfers[0].Name)
	assert.Equal(t, "2026-03-01", batch.ExecutionDate.String())
}

func TestParseCollection(t *testing.T) {
	creditor := sepa.Creditor{Name: "HV", IBAN: "AT483200000012345864", CreditorID: "AT61ZZZ01234567890"}

	col, err := factory.New().ParseCollection([]byte(`{
		"collection_date": "2025-03-05",
		"mandates": [{"tenant_id": "T1", "name": "Anna Huber", "iban": "AT611904300234573201",
			"bic": "BKAUATWW", "mandate_id": "M-1", "signed_on": "2023-01-15"}]
	}`), creditor)

	require.NoError(t, err)
	assert.Equal(t, creditor, col.Batch.Creditor)
	assert.Equal(t, "2025-03-05", col.Batch.CollectionDate.String())
	assert.Empty(t, col.Batch.Debtors)
	require.Contains(t, col.Mandates, generic.TenantID("T1"))
	assert.Equal(t, "M-1", col.Mandates["T1"].MandateID)
	assert.Equal(t, "2023-01-15", col.Mandates["T1"].SignedOn.String())
}

func TestParseCollection_CollectsEveryProblem(t *testing.T) {
	_, err := factory.New().ParseCollection([]byte(`{
		"collection_date": "05.03.2025",
		"mandates": [
			{"name": "no tenant"},
			{"tenant_id": "T1", "signed_on": "2023-01-15"},
			{"tenant_id": "T1", "signed_on": "gestern"}
		]
	}`), sepa.Creditor{})

	var ve *generic.ValidationErrors
	require.True(t, errors.As(err, &ve))
	assert.Len(t, ve.Messages, 4)
}
