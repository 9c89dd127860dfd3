package saft

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Well-known entity names. Consumers locate output tables by these names,
// never by file-path convention.
const (
	SinkHeader           = "header"
	SinkAccounts         = "accounts"
	SinkTaxTable         = "tax_table"
	SinkCustomers        = "customers"
	SinkSuppliers        = "suppliers"
	SinkControlAccounts  = "arap_control_accounts"
	SinkJournals         = "journals"
	SinkGLTotals         = "gl_totals"
	SinkVouchers         = "vouchers"
	SinkTransactions     = "transactions"
	SinkAnalysisLines    = "analysis_lines"
	SinkSalesInvoices    = "sales_invoices"
	SinkPurchaseInvoices = "purchase_invoices"
	SinkRawElements      = "raw_elements"
	SinkMissingAccounts  = "missing_accounts"
	SinkUnbalanced       = "unbalanced_vouchers"
	SinkUnknownSummary   = "unknown_summary"
	SinkRunMeta          = "run_meta"
)

// sinkColumns fixes the column order of every entity table. The schemas are
// versioned with the package; they never vary at runtime.
var sinkColumns = map[string][]string{
	SinkHeader: {
		"CompanyName", "CompanyID",
		"FunctionalCurrency", "DefaultCurrencyCode",
		"FileCreationDate", "AuditFileVersion",
		"SelectionStart", "SelectionStartDate", "SelectionEnd", "SelectionEndDate",
		"StartDate", "EndDate", "ProductVersion", "SoftwareCertificateNumber",
	},
	SinkAccounts: {
		"AccountID", "AccountDescription", "AccountType", "ParentAccountID",
		"GroupingCategory", "GroupingCode",
		"OpeningDebit", "OpeningCredit", "ClosingDebit", "ClosingCredit", "TaxCode", "TaxType",
	},
	SinkTaxTable: {
		"TaxCode", "StandardTaxCode", "TaxType", "TaxPercentage", "TaxCountryRegion", "Description",
	},
	SinkCustomers: {
		"CustomerID", "Name", "VATNumber", "Country", "City", "PostalCode", "Email", "Telephone",
	},
	SinkSuppliers: {
		"SupplierID", "Name", "VATNumber", "Country", "City", "PostalCode", "Email", "Telephone",
	},
	SinkControlAccounts: {
		"PartyType", "PartyID", "AccountID", "OpeningDebit", "OpeningCredit", "ClosingDebit", "ClosingCredit",
	},
	SinkJournals: {"JournalID", "Type"},
	SinkGLTotals: {"JournalID", "TotalDebit", "TotalCredit"},
	SinkVouchers: {
		"VoucherID", "VoucherNo", "TransactionDate", "PostingDate", "Period", "Year",
		"SourceDocumentID", "JournalID", "CurrencyCode",
		"VoucherType", "VoucherDescription", "ModificationDate",
		"DebitTotal", "CreditTotal", "Balanced",
	},
	SinkTransactions: {
		"RecordID", "VoucherID", "VoucherNo", "JournalID", "TransactionDate", "PostingDate", "Period", "Year",
		"SystemID", "BatchID", "DocumentNumber", "SourceDocumentID",
		"AccountID", "AccountDescription",
		"CustomerID", "CustomerName", "CustomerVATNumber",
		"SupplierID", "SupplierName", "SupplierVATNumber",
		"Description", "Debit", "Credit", "Amount",
		"CurrencyCode", "AmountCurrency", "ExchangeRate",
		"TaxType", "TaxCountryRegion", "TaxCode", "TaxPercentage",
		"DebitTaxAmount", "CreditTaxAmount", "TaxAmount",
		"IsGL", "SourceType",
	},
	SinkAnalysisLines: {"RecordID", "Type", "ID", "Amount"},
	SinkSalesInvoices: {
		"InvoiceNo", "InvoiceDate", "TaxPointDate", "GLPostingDate",
		"CustomerID", "CustomerName", "CustomerVATNumber",
		"CurrencyCode", "NetTotal", "TaxPayable", "GrossTotal", "SourceID", "DocumentNumber", "DueDate",
	},
	SinkPurchaseInvoices: {
		"InvoiceNo", "InvoiceDate", "TaxPointDate", "GLPostingDate",
		"SupplierID", "SupplierName", "SupplierVATNumber",
		"CurrencyCode", "NetTotal", "TaxPayable", "GrossTotal", "SourceID", "DocumentNumber", "DueDate",
	},
	SinkRawElements:     {"Path", "Tag", "Text", "Attributes"},
	SinkMissingAccounts: {"AccountID"},
	SinkUnbalanced:      {"VoucherID", "VoucherNo", "DebitTotal", "CreditTotal", "Delta"},
	SinkUnknownSummary:  {"Section", "Tag", "Count"},
	SinkRunMeta: {
		"RunID", "Parser", "ParserVersion", "UsedFallback", "Cancelled", "WroteRaw",
	},
}

// Columns returns the fixed column order of an entity table.
func Columns(entity string) []string {
	return sinkColumns[entity]
}

// Entities lists all well-known entity names, sorted.
func Entities() []string {
	out := make([]string, 0, len(sinkColumns))
	for name := range sinkColumns {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// RowWriter appends rows to one entity table. Writes are append-only; a crash
// after N writes must leave the first N rows readable.
type RowWriter interface {
	Write(row []string) error
}

// SinkTarget is where one ingestion run lands its tables. Writer opens (or
// reopens) an entity table, truncating any earlier content for that entity;
// Reset drops everything written so far, which is how an aborted streaming
// attempt is discarded before the fallback rewrites from the start.
type SinkTarget interface {
	Writer(entity string) (RowWriter, error)
	Reset() error
	Close() error
}

// DirSink writes one CSV file per entity into a directory, headers first,
// one row per record, flushed per write.
type DirSink struct {
	dir   string
	files map[string]*csvTable
}

type csvTable struct {
	f *os.File
	w *csv.Writer
}

func (t *csvTable) Write(row []string) error {
	if err := t.w.Write(row); err != nil {
		return err
	}
	t.w.Flush()
	return t.w.Error()
}

// NewDirSink creates the directory if needed and returns a CSV sink in it.
func NewDirSink(dir string) (*DirSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &DirSink{dir: dir, files: make(map[string]*csvTable)}, nil
}

func (s *DirSink) Writer(entity string) (RowWriter, error) {
	cols, ok := sinkColumns[entity]
	if !ok {
		return nil, fmt.Errorf("unknown sink entity %q", entity)
	}
	if t, open := s.files[entity]; open {
		return t, nil
	}
	f, err := os.Create(filepath.Join(s.dir, entity+".csv"))
	if err != nil {
		return nil, err
	}
	t := &csvTable{f: f, w: csv.NewWriter(f)}
	s.files[entity] = t
	if err := t.Write(cols); err != nil {
		return nil, err
	}
	return t, nil
}

// Reset closes and removes every file written so far, so a discarded
// streaming attempt leaves no partial tables behind.
func (s *DirSink) Reset() error {
	err := s.Close()
	for entity := range s.files {
		if rmErr := os.Remove(filepath.Join(s.dir, entity+".csv")); rmErr != nil && err == nil {
			err = rmErr
		}
	}
	s.files = make(map[string]*csvTable)
	return err
}

func (s *DirSink) Close() error {
	var first error
	for _, t := range s.files {
		t.w.Flush()
		if err := t.w.Error(); err != nil && first == nil {
			first = err
		}
		if err := t.f.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// MemSink keeps every table in memory. Used by tests and by the
// fallback-equivalence comparison.
type MemSink struct {
	Tables map[string]*MemTable
}

// MemTable is one in-memory entity table.
type MemTable struct {
	Columns []string
	Rows    [][]string
}

func (t *MemTable) Write(row []string) error {
	t.Rows = append(t.Rows, append([]string(nil), row...))
	return nil
}

// NewMemSink returns an empty in-memory sink.
func NewMemSink() *MemSink {
	return &MemSink{Tables: make(map[string]*MemTable)}
}

func (s *MemSink) Writer(entity string) (RowWriter, error) {
	cols, ok := sinkColumns[entity]
	if !ok {
		return nil, fmt.Errorf("unknown sink entity %q", entity)
	}
	if t, open := s.Tables[entity]; open {
		return t, nil
	}
	t := &MemTable{Columns: append([]string(nil), cols...)}
	s.Tables[entity] = t
	return t, nil
}

func (s *MemSink) Reset() error {
	s.Tables = make(map[string]*MemTable)
	return nil
}

func (s *MemSink) Close() error { return nil }
