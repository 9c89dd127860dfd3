package saft

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AliasTable maps a canonical logical field name to the ordered list of tag
// or attribute spellings observed across producers. Resolution tries the
// spellings in order; earlier entries win over later ones regardless of
// document position.
type AliasTable map[string][]string

// DefaultAliases is the built-in table covering the producer variants seen in
// the wild. It is read-only; runs wanting extra spellings should Clone and
// merge an overlay.
var DefaultAliases = AliasTable{
	// Header
	"CompanyName":               {"CompanyName"},
	"CompanyID":                 {"CompanyID"},
	"FunctionalCurrency":        {"FunctionalCurrency", "DefaultCurrencyCode"},
	"DefaultCurrencyCode":       {"DefaultCurrencyCode", "CurrencyCode"},
	"FileCreationDate":          {"FileCreationDateTime", "AuditFileDateCreated", "FileCreationDate"},
	"AuditFileVersion":          {"AuditFileVersion"},
	"SelectionStart":            {"SelectionStart", "SelectionStartDate"},
	"SelectionStartDate":        {"SelectionStartDate"},
	"SelectionEnd":              {"SelectionEnd", "SelectionEndDate"},
	"SelectionEndDate":          {"SelectionEndDate"},
	"StartDate":                 {"StartDate"},
	"EndDate":                   {"EndDate"},
	"ProductVersion":            {"ProductVersion"},
	"SoftwareCertificateNumber": {"SoftwareCertificateNumber"},

	// Accounts
	"AccountID":             {"AccountID", "GLAccountID"},
	"AccountDescription":    {"AccountDescription", "Description"},
	"AccountType":           {"AccountType"},
	"ParentAccountID":       {"ParentAccountID", "ParentID"},
	"GroupingCategory":      {"GroupingCategory"},
	"GroupingCode":          {"GroupingCode", "GroupingCategoryCode"},
	"OpeningDebitBalance":   {"OpeningDebitBalance"},
	"OpeningCreditBalance":  {"OpeningCreditBalance"},
	"ClosingDebitBalance":   {"ClosingDebitBalance"},
	"ClosingCreditBalance":  {"ClosingCreditBalance"},

	// Tax table
	"TaxCode":          {"TaxCode"},
	"StandardTaxCode":  {"StandardTaxCode"},
	"TaxType":          {"TaxType"},
	"TaxPercentage":    {"TaxPercentage", "Rate"},
	"TaxCountryRegion": {"TaxCountryRegion", "CountryRegion"},
	"Description":      {"Description"},

	// Parties
	"CustomerID":   {"CustomerID", "ID"},
	"SupplierID":   {"SupplierID", "ID"},
	"CustomerName": {"CompanyName", "CustomerName", "Name"},
	"SupplierName": {"CompanyName", "SupplierName", "Name"},
	"VATNumber":    {"VATNumber", "VATRegistrationNumber"},
	"Country":      {"Country"},
	"City":         {"City"},
	"PostalCode":   {"PostalCode"},
	"Email":        {"Email"},
	"Telephone":    {"Telephone", "MobilePhone"},

	// Journals
	"JournalID":   {"JournalID", "Journal", "JournalNo", "JournalCode"},
	"JournalType": {"Type"},
	"TotalDebit":  {"TotalDebit"},
	"TotalCredit": {"TotalCredit"},

	// Vouchers
	"VoucherID":          {"TransactionID", "TransactionNo", "VoucherID", "EntryID"},
	"VoucherNo":          {"VoucherNo", "TransactionNo", "TransactionID", "EntryNumber"},
	"TransactionDate":    {"TransactionDate", "EntryDate"},
	"PostingDate":        {"PostingDate", "GLDate", "ValueDate"},
	"Period":             {"Period"},
	"Year":               {"FiscalYear", "Year"},
	"SourceDocumentID":   {"SourceDocumentID", "SourceID", "DocumentNumber", "DocumentNo", "ReferenceNumber"},
	"CurrencyCode":       {"CurrencyCode", "TransactionCurrency"},
	"VoucherType":        {"VoucherType"},
	"VoucherDescription": {"VoucherDescription", "Description"},
	"ModificationDate":   {"ModificationDate"},

	// Lines
	"RecordID":             {"RecordID", "LineID"},
	"SystemID":             {"SystemID"},
	"BatchID":              {"BatchID"},
	"DocumentNumber":       {"DocumentNumber", "DocumentNo", "ReferenceNumber"},
	"LineSourceDocumentID": {"SourceDocumentID", "SourceID"},
	"LineCustomerID":       {"CustomerID", "Customer"},
	"LineSupplierID":       {"SupplierID", "Supplier", "VendorID", "Vendor"},
	"LineDescription":      {"Description", "Narrative", "LineDescription"},
	"DebitAmount":          {"DebitAmount"},
	"CreditAmount":         {"CreditAmount"},
	"Amount":               {"Amount"},
	"DebitCreditIndicator": {"DebitCreditIndicator", "DebitCreditFlag", "Indicator"},
	"AmountCurrency":       {"AmountCurrency", "ForeignAmount"},
	"ExchangeRate":         {"ExchangeRate"},
	"DebitTaxAmount":       {"DebitTaxAmount"},
	"CreditTaxAmount":      {"CreditTaxAmount"},
	"TaxAmount":            {"TaxAmount"},

	// Analysis
	"AnalysisType":         {"AnalysisType"},
	"AnalysisID":           {"AnalysisID"},
	"AnalysisAmount":       {"AnalysisAmount"},
	"DebitAnalysisAmount":  {"DebitAnalysisAmount"},
	"CreditAnalysisAmount": {"CreditAnalysisAmount"},

	// Invoices
	"InvoiceNo":     {"InvoiceNo", "InvoiceNumber"},
	"InvoiceDate":   {"InvoiceDate"},
	"TaxPointDate":  {"TaxPointDate"},
	"GLPostingDate": {"GLPostingDate"},
	"NetTotal":      {"NetTotal", "DocumentNetTotal"},
	"TaxPayable":    {"TaxPayable", "DocumentTaxPayable"},
	"GrossTotal":    {"GrossTotal", "DocumentGrossTotal"},
	"SourceID":      {"SourceID"},
	"DueDate":       {"DueDate"},
}

// Lookup returns the spellings for a canonical field. An unmapped field
// resolves to its own name so the table never blocks a lookup.
func (t AliasTable) Lookup(field string) []string {
	if spellings, ok := t[field]; ok {
		return spellings
	}
	return []string{field}
}

// Clone returns a deep copy safe to mutate.
func (t AliasTable) Clone() AliasTable {
	out := make(AliasTable, len(t))
	for k, v := range t {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// LoadAliasOverlay reads a YAML file mapping canonical field names to extra
// spellings and returns a copy of t with those spellings appended. Unknown
// canonical names create new entries, so overlays can also introduce fields.
func LoadAliasOverlay(t AliasTable, path string) (AliasTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("alias overlay: %w", err)
	}
	var overlay map[string][]string
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("alias overlay %s: %w", path, err)
	}
	out := t.Clone()
	for field, spellings := range overlay {
		existing := out[field]
	next:
		for _, sp := range spellings {
			for _, have := range existing {
				if have == sp {
					continue next
				}
			}
			existing = append(existing, sp)
		}
		out[field] = existing
	}
	return out, nil
}

// structural element names the traversal engine reacts to. Everything else
// that closes outside a captured record subtree lands in the unknown census.
var (
	containerTags = map[string]bool{
		"AuditFile":             true,
		"Header":                true,
		"MasterFiles":           true,
		"GeneralLedgerAccounts": true,
		"TaxTable":              true,
		"Customers":             true,
		"Suppliers":             true,
		"GeneralLedgerEntries":  true,
		"SourceDocuments":       true,
		"SalesInvoices":         true,
		"PurchaseInvoices":      true,
	}

	lineTags = map[string]bool{
		"Line":            true,
		"TransactionLine": true,
		"JournalLine":     true,
	}

	accountTags = map[string]bool{
		"Account":              true,
		"GeneralLedgerAccount": true,
	}
)

// knownTags is the census whitelist: every structural name plus every
// spelling the alias table can resolve. Built once at init so overlays do not
// change what counts as schema drift.
var knownTags = buildKnownTags()

func buildKnownTags() map[string]bool {
	known := map[string]bool{
		"Journal":                 true,
		"Transaction":             true,
		"TaxTableEntry":           true,
		"Customer":                true,
		"Supplier":                true,
		"Invoice":                 true,
		"Analysis":                true,
		"BalanceAccountStructure": true,
		"Amount":                  true,
	}
	for tag := range containerTags {
		known[tag] = true
	}
	for tag := range lineTags {
		known[tag] = true
	}
	for tag := range accountTags {
		known[tag] = true
	}
	for _, spellings := range DefaultAliases {
		for _, sp := range spellings {
			known[sp] = true
		}
	}
	return known
}
