package saft

import (
	"strings"

	"github.com/shopspring/decimal"
)

// SentinelAccount is used for lines where no account could be resolved, not
// even through a party control account.
const SentinelAccount = "UNDEFINED"

// balanceTolerance is the maximum |debit-credit| for a voucher to count as
// balanced. Producers leave up to half a cent of rounding slack on
// two-decimal amounts.
var balanceTolerance = decimal.New(5, -3)

// CanonAccountID normalizes an account identifier so the same account spelled
// "0001500", "1500.0" or "1500" collapses to one key. Normalizing twice gives
// the same value.
func CanonAccountID(id string) string {
	s := strings.TrimSpace(id)
	s = strings.TrimSuffix(s, ".0")
	s = strings.TrimLeft(s, "0")
	if s == "" {
		return "0"
	}
	return s
}

// Header is the one-row company/file identity record written when the Header
// section closes.
type Header struct {
	CompanyName               string
	CompanyID                 string
	FunctionalCurrency        string
	DefaultCurrencyCode       string
	FileCreationDate          string
	AuditFileVersion          string
	SelectionStart            string
	SelectionStartDate        string
	SelectionEnd              string
	SelectionEndDate          string
	StartDate                 string
	EndDate                   string
	ProductVersion            string
	SoftwareCertificateNumber string
}

// Account is one declared general-ledger account. ParentAccountID may form a
// tree, but cycles are tolerated; nothing here walks the hierarchy.
type Account struct {
	AccountID          string
	AccountDescription string
	AccountType        string
	ParentAccountID    string
	GroupingCategory   string
	GroupingCode       string
	OpeningDebit       decimal.Decimal
	OpeningCredit      decimal.Decimal
	ClosingDebit       decimal.Decimal
	ClosingCredit      decimal.Decimal
	TaxCode            string
	TaxType            string
}

// TaxTableEntry is one declared tax code.
type TaxTableEntry struct {
	TaxCode          string
	StandardTaxCode  string
	TaxType          string
	TaxPercentage    string
	TaxCountryRegion string
	Description      string
}

// Party is a customer or supplier. Kind is "Customer" or "Supplier".
type Party struct {
	Kind       string
	ID         string
	Name       string
	VATNumber  string
	Country    string
	City       string
	PostalCode string
	Email      string
	Telephone  string
}

// ControlAccountLink ties a party to the GL account that aggregates its
// subledger, discovered inside nested balance-structure elements.
type ControlAccountLink struct {
	PartyType     string
	PartyID       string
	AccountID     string
	OpeningDebit  decimal.Decimal
	OpeningCredit decimal.Decimal
	ClosingDebit  decimal.Decimal
	ClosingCredit decimal.Decimal
}

// Journal is the per-journal metadata and control totals row.
type Journal struct {
	JournalID   string
	Type        string
	TotalDebit  decimal.Decimal
	TotalCredit decimal.Decimal
}

// Voucher is one transaction header. DebitTotal and CreditTotal accumulate
// from child lines while the transaction element is open.
type Voucher struct {
	VoucherID          string
	VoucherNo          string
	TransactionDate    string
	PostingDate        string
	Period             string
	Year               string
	SourceDocumentID   string
	JournalID          string
	CurrencyCode       string
	VoucherType        string
	VoucherDescription string
	ModificationDate   string
	DebitTotal         decimal.Decimal
	CreditTotal        decimal.Decimal
}

// Balanced reports whether the accumulated totals cancel out within
// tolerance. It depends on nothing but the totals.
func (v *Voucher) Balanced() bool {
	return v.DebitTotal.Sub(v.CreditTotal).Abs().Cmp(balanceTolerance) <= 0
}

// TransactionLine is the atomic record. The owning voucher's identifiers are
// denormalized onto it so consumers never need a join.
type TransactionLine struct {
	RecordID           string
	VoucherID          string
	VoucherNo          string
	JournalID          string
	TransactionDate    string
	PostingDate        string
	Period             string
	Year               string
	SystemID           string
	BatchID            string
	DocumentNumber     string
	SourceDocumentID   string
	AccountID          string
	AccountDescription string
	CustomerID         string
	CustomerName       string
	CustomerVATNumber  string
	SupplierID         string
	SupplierName       string
	SupplierVATNumber  string
	Description        string
	Debit              decimal.Decimal
	Credit             decimal.Decimal
	Amount             decimal.Decimal
	CurrencyCode       string
	AmountCurrency     string
	ExchangeRate       string
	TaxType            string
	TaxCountryRegion   string
	TaxCode            string
	TaxPercentage      string
	DebitTaxAmount     decimal.Decimal
	CreditTaxAmount    decimal.Decimal
	TaxAmount          decimal.Decimal
}

// AnalysisLine is a secondary dimension row referencing its parent line by
// RecordID.
type AnalysisLine struct {
	RecordID string
	Type     string
	ID       string
	Amount   decimal.Decimal
}

// Invoice is a sales or purchase document row. Party fields hold the
// customer for sales invoices and the supplier for purchase invoices.
type Invoice struct {
	InvoiceNo      string
	InvoiceDate    string
	TaxPointDate   string
	GLPostingDate  string
	PartyID        string
	PartyName      string
	PartyVATNumber string
	CurrencyCode   string
	NetTotal       string
	TaxPayable     string
	GrossTotal     string
	SourceID       string
	DocumentNumber string
	DueDate        string
}
