package saft

import (
	"encoding/json"
	"fmt"
	"time"

	date "github.com/joyt/godate"
	"github.com/shopspring/decimal"
)

type partyInfo struct {
	Name      string
	VATNumber string
}

type accountInfo struct {
	Description string
	TaxCode     string
}

type censusKey struct {
	Section string
	Tag     string
}

// emitter owns the sink writers, the run-scoped lookup maps and the running
// aggregates the integrity checker consumes. Its lifetime is exactly one
// parsing attempt; the fallback path starts over with a fresh one.
type emitter struct {
	target   SinkTarget
	res      resolver
	stats    *stats
	raw      bool
	sentinel string
	writers  map[string]RowWriter

	accounts     map[string]accountInfo
	customers    map[string]partyInfo
	suppliers    map[string]partyInfo
	customerCtrl map[string]string
	supplierCtrl map[string]string

	declared    map[string]bool
	seenOnLines map[string]bool
	unknown     map[censusKey]int64
	unbalanced  []Voucher

	periodStart time.Time
	periodEnd   time.Time
}

func newEmitter(target SinkTarget, res resolver, st *stats, opts Options) *emitter {
	return &emitter{
		target:       target,
		res:          res,
		stats:        st,
		raw:          opts.WriteRaw,
		sentinel:     opts.sentinel(),
		writers:      make(map[string]RowWriter),
		accounts:     make(map[string]accountInfo),
		customers:    make(map[string]partyInfo),
		suppliers:    make(map[string]partyInfo),
		customerCtrl: make(map[string]string),
		supplierCtrl: make(map[string]string),
		declared:     make(map[string]bool),
		seenOnLines:  make(map[string]bool),
		unknown:      make(map[censusKey]int64),
	}
}

func (e *emitter) write(entity string, row []string) error {
	w, ok := e.writers[entity]
	if !ok {
		var err error
		if w, err = e.target.Writer(entity); err != nil {
			return err
		}
		e.writers[entity] = w
	}
	if err := w.Write(row); err != nil {
		return fmt.Errorf("sink %s: %w", entity, err)
	}
	e.stats.row(entity)
	return nil
}

// noteUnknown counts one occurrence of a tag outside the known set, bucketed
// by the nearest known structural ancestor.
func (e *emitter) noteUnknown(section, tag string) {
	e.unknown[censusKey{Section: section, Tag: tag}]++
}

// censusChildren records unknown descendants of a captured record subtree,
// using the record's own tag as the census bucket.
func (e *emitter) censusChildren(n *Node) {
	for _, c := range n.Children {
		c.walk(func(d *Node) {
			if !knownTags[d.Name] {
				e.noteUnknown(n.Name, d.Name)
			}
		})
	}
}

func (e *emitter) emitHeader(n *Node) error {
	done := e.stats.phase("header")
	defer done()
	first := func(field string) string {
		v, _ := e.res.First(n, field)
		return v
	}
	h := Header{
		CompanyName:               first("CompanyName"),
		CompanyID:                 first("CompanyID"),
		FunctionalCurrency:        first("FunctionalCurrency"),
		DefaultCurrencyCode:       first("DefaultCurrencyCode"),
		FileCreationDate:          first("FileCreationDate"),
		AuditFileVersion:          first("AuditFileVersion"),
		SelectionStart:            first("SelectionStart"),
		SelectionStartDate:        first("SelectionStartDate"),
		SelectionEnd:              first("SelectionEnd"),
		SelectionEndDate:          first("SelectionEndDate"),
		StartDate:                 first("StartDate"),
		EndDate:                   first("EndDate"),
		ProductVersion:            first("ProductVersion"),
		SoftwareCertificateNumber: first("SoftwareCertificateNumber"),
	}
	// Producers write period bounds in whatever date shape their platform
	// uses; keep the raw strings in the table and a parsed copy for the
	// run outcome.
	if t, err := date.Parse(firstNonEmpty(h.SelectionStart, h.StartDate)); err == nil {
		e.periodStart = t
	}
	if t, err := date.Parse(firstNonEmpty(h.SelectionEnd, h.EndDate)); err == nil {
		e.periodEnd = t
	}
	e.censusChildren(n)
	return e.write(SinkHeader, []string{
		h.CompanyName, h.CompanyID,
		h.FunctionalCurrency, h.DefaultCurrencyCode,
		h.FileCreationDate, h.AuditFileVersion,
		h.SelectionStart, h.SelectionStartDate, h.SelectionEnd, h.SelectionEndDate,
		h.StartDate, h.EndDate, h.ProductVersion, h.SoftwareCertificateNumber,
	})
}

func (e *emitter) emitAccount(n *Node) error {
	done := e.stats.phase("account")
	defer done()
	id, ok := e.res.First(n, "AccountID")
	if !ok {
		return nil
	}
	first := func(field string) string {
		v, _ := e.res.First(n, field)
		return v
	}
	a := Account{
		AccountID:          CanonAccountID(id),
		AccountDescription: first("AccountDescription"),
		AccountType:        first("AccountType"),
		ParentAccountID:    first("ParentAccountID"),
		GroupingCategory:   first("GroupingCategory"),
		GroupingCode:       first("GroupingCode"),
		OpeningDebit:       e.res.AmountOr(n, "OpeningDebitBalance"),
		OpeningCredit:      e.res.AmountOr(n, "OpeningCreditBalance"),
		ClosingDebit:       e.res.AmountOr(n, "ClosingDebitBalance"),
		ClosingCredit:      e.res.AmountOr(n, "ClosingCreditBalance"),
		TaxCode:            first("TaxCode"),
		TaxType:            first("TaxType"),
	}
	if a.ParentAccountID != "" {
		a.ParentAccountID = CanonAccountID(a.ParentAccountID)
	}
	e.accounts[a.AccountID] = accountInfo{Description: a.AccountDescription, TaxCode: a.TaxCode}
	e.declared[a.AccountID] = true
	e.censusChildren(n)
	return e.write(SinkAccounts, []string{
		a.AccountID, a.AccountDescription, a.AccountType, a.ParentAccountID,
		a.GroupingCategory, a.GroupingCode,
		amountString(a.OpeningDebit), amountString(a.OpeningCredit),
		amountString(a.ClosingDebit), amountString(a.ClosingCredit),
		a.TaxCode, a.TaxType,
	})
}

func (e *emitter) emitTaxEntry(n *Node) error {
	done := e.stats.phase("tax_table")
	defer done()
	first := func(field string) string {
		v, _ := e.res.First(n, field)
		return v
	}
	e.censusChildren(n)
	return e.write(SinkTaxTable, []string{
		first("TaxCode"), first("StandardTaxCode"), first("TaxType"),
		first("TaxPercentage"), first("TaxCountryRegion"), first("Description"),
	})
}

func (e *emitter) emitParty(kind string, n *Node) error {
	done := e.stats.phase("party")
	defer done()
	idField, nameField := "CustomerID", "CustomerName"
	if kind == "Supplier" {
		idField, nameField = "SupplierID", "SupplierName"
	}
	id, ok := e.res.First(n, idField)
	if !ok {
		return nil
	}
	first := func(field string) string {
		v, _ := e.res.First(n, field)
		return v
	}
	p := Party{
		Kind:       kind,
		ID:         id,
		Name:       first(nameField),
		VATNumber:  first("VATNumber"),
		Country:    first("Country"),
		City:       first("City"),
		PostalCode: first("PostalCode"),
		Email:      first("Email"),
		Telephone:  first("Telephone"),
	}
	info := partyInfo{Name: p.Name, VATNumber: p.VATNumber}
	if kind == "Customer" {
		e.customers[p.ID] = info
	} else {
		e.suppliers[p.ID] = info
	}
	sink := SinkCustomers
	if kind == "Supplier" {
		sink = SinkSuppliers
	}
	if err := e.write(sink, []string{
		p.ID, p.Name, p.VATNumber, p.Country, p.City, p.PostalCode, p.Email, p.Telephone,
	}); err != nil {
		return err
	}
	// Control-account links hide inside nested balance structures, sometimes
	// under generically named wrappers; scan the whole party subtree.
	var balances []*Node
	n.walk(func(d *Node) {
		if d.Name == "BalanceAccountStructure" {
			balances = append(balances, d)
		}
	})
	for _, b := range balances {
		link := ControlAccountLink{
			PartyType:     kind,
			PartyID:       p.ID,
			OpeningDebit:  e.res.AmountOr(b, "OpeningDebitBalance"),
			OpeningCredit: e.res.AmountOr(b, "OpeningCreditBalance"),
			ClosingDebit:  e.res.AmountOr(b, "ClosingDebitBalance"),
			ClosingCredit: e.res.AmountOr(b, "ClosingCreditBalance"),
		}
		if acct, ok := e.res.First(b, "AccountID"); ok {
			link.AccountID = CanonAccountID(acct)
			if kind == "Customer" {
				e.customerCtrl[p.ID] = link.AccountID
			} else {
				e.supplierCtrl[p.ID] = link.AccountID
			}
		}
		if err := e.write(SinkControlAccounts, []string{
			link.PartyType, link.PartyID, link.AccountID,
			amountString(link.OpeningDebit), amountString(link.OpeningCredit),
			amountString(link.ClosingDebit), amountString(link.ClosingCredit),
		}); err != nil {
			return err
		}
	}
	e.censusChildren(n)
	return nil
}

// emitJournal writes the journal metadata and control-total rows from the
// journal's non-transaction children.
func (e *emitter) emitJournal(meta *Node) error {
	done := e.stats.phase("journal")
	defer done()
	id, _ := e.res.First(meta, "JournalID")
	jtype, _ := e.res.First(meta, "JournalType")
	totalDebit := e.res.AmountOr(meta, "TotalDebit")
	totalCredit := e.res.AmountOr(meta, "TotalCredit")
	if id != "" {
		if err := e.write(SinkJournals, []string{id, jtype}); err != nil {
			return err
		}
	}
	if id != "" || totalDebit.Sign() != 0 || totalCredit.Sign() != 0 {
		if err := e.write(SinkGLTotals, []string{id, amountString(totalDebit), amountString(totalCredit)}); err != nil {
			return err
		}
	}
	return nil
}

// voucherFromMeta resolves the transaction header fields from the metadata
// children of a Transaction element (lines excluded, so a line-level
// description can never leak into the voucher).
func (e *emitter) voucherFromMeta(meta *Node, journalID string) Voucher {
	first := func(field string) string {
		v, _ := e.res.First(meta, field)
		return v
	}
	v := Voucher{
		VoucherID:          first("VoucherID"),
		VoucherNo:          first("VoucherNo"),
		TransactionDate:    first("TransactionDate"),
		PostingDate:        first("PostingDate"),
		Period:             first("Period"),
		Year:               first("Year"),
		SourceDocumentID:   first("SourceDocumentID"),
		JournalID:          first("JournalID"),
		CurrencyCode:       first("CurrencyCode"),
		VoucherType:        first("VoucherType"),
		VoucherDescription: first("VoucherDescription"),
		ModificationDate:   first("ModificationDate"),
		DebitTotal:         decimal.Zero,
		CreditTotal:        decimal.Zero,
	}
	if v.JournalID == "" {
		v.JournalID = journalID
	}
	return v
}

// emitLine resolves one line subtree, updates the owning voucher's running
// totals and writes the TransactionLine row. Analysis rows nested under the
// line are emitted too, referencing the line's RecordID.
func (e *emitter) emitLine(v *Voucher, n *Node) error {
	done := e.stats.phase("line")
	defer done()
	first := func(field string) string {
		val, _ := e.res.First(n, field)
		return val
	}

	debit, credit, amount, found := e.res.lineAmounts(n)
	if !found && e.res.hasAmountText(n) {
		return fmt.Errorf("line %s: %w", first("RecordID"), ErrAmountFormat)
	}
	v.DebitTotal = v.DebitTotal.Add(debit)
	v.CreditTotal = v.CreditTotal.Add(credit)

	custID := first("LineCustomerID")
	supID := first("LineSupplierID")

	accID, ok := e.res.First(n, "AccountID")
	switch {
	case ok:
		accID = CanonAccountID(accID)
	case custID != "" && e.customerCtrl[custID] != "":
		accID = e.customerCtrl[custID]
	case supID != "" && e.supplierCtrl[supID] != "":
		accID = e.supplierCtrl[supID]
	default:
		accID = e.sentinel
	}
	e.seenOnLines[accID] = true

	debitTax := e.res.AmountOr(n, "DebitTaxAmount")
	creditTax := e.res.AmountOr(n, "CreditTaxAmount")
	taxAmount, okTax := e.res.Amount(n, "TaxAmount")
	if !okTax {
		taxAmount = debitTax.Sub(creditTax)
	}

	rec := TransactionLine{
		RecordID:           first("RecordID"),
		VoucherID:          v.VoucherID,
		VoucherNo:          v.VoucherNo,
		JournalID:          v.JournalID,
		TransactionDate:    v.TransactionDate,
		PostingDate:        v.PostingDate,
		Period:             v.Period,
		Year:               v.Year,
		SystemID:           first("SystemID"),
		BatchID:            first("BatchID"),
		DocumentNumber:     first("DocumentNumber"),
		SourceDocumentID:   first("LineSourceDocumentID"),
		AccountID:          accID,
		AccountDescription: e.accounts[accID].Description,
		CustomerID:         custID,
		SupplierID:         supID,
		Description:        first("LineDescription"),
		Debit:              debit,
		Credit:             credit,
		Amount:             amount,
		CurrencyCode:       v.CurrencyCode,
		AmountCurrency:     first("AmountCurrency"),
		ExchangeRate:       first("ExchangeRate"),
		TaxType:            first("TaxType"),
		TaxCountryRegion:   first("TaxCountryRegion"),
		TaxCode:            first("TaxCode"),
		TaxPercentage:      first("TaxPercentage"),
		DebitTaxAmount:     debitTax,
		CreditTaxAmount:    creditTax,
		TaxAmount:          taxAmount,
	}
	if custID != "" {
		rec.CustomerName = e.customers[custID].Name
		rec.CustomerVATNumber = e.customers[custID].VATNumber
	}
	if supID != "" {
		rec.SupplierName = e.suppliers[supID].Name
		rec.SupplierVATNumber = e.suppliers[supID].VATNumber
	}
	if err := e.write(SinkTransactions, []string{
		rec.RecordID, rec.VoucherID, rec.VoucherNo, rec.JournalID,
		rec.TransactionDate, rec.PostingDate, rec.Period, rec.Year,
		rec.SystemID, rec.BatchID, rec.DocumentNumber, rec.SourceDocumentID,
		rec.AccountID, rec.AccountDescription,
		rec.CustomerID, rec.CustomerName, rec.CustomerVATNumber,
		rec.SupplierID, rec.SupplierName, rec.SupplierVATNumber,
		rec.Description, amountString(rec.Debit), amountString(rec.Credit), amountString(rec.Amount),
		rec.CurrencyCode, rec.AmountCurrency, rec.ExchangeRate,
		rec.TaxType, rec.TaxCountryRegion, rec.TaxCode, rec.TaxPercentage,
		amountString(rec.DebitTaxAmount), amountString(rec.CreditTaxAmount), amountString(rec.TaxAmount),
		"True", "GL",
	}); err != nil {
		return err
	}

	var analyses []*Node
	n.walk(func(d *Node) {
		if d.Name == "Analysis" {
			analyses = append(analyses, d)
		}
	})
	for _, a := range analyses {
		if err := e.emitAnalysis(rec.RecordID, a); err != nil {
			return err
		}
	}
	e.censusChildren(n)
	return nil
}

func (e *emitter) emitAnalysis(recordID string, n *Node) error {
	aDebit := e.res.AmountOr(n, "DebitAnalysisAmount")
	aCredit := e.res.AmountOr(n, "CreditAnalysisAmount")
	amount, ok := e.res.Amount(n, "AnalysisAmount")
	if !ok {
		amount = aDebit.Sub(aCredit)
	}
	aType, _ := e.res.First(n, "AnalysisType")
	aID, _ := e.res.First(n, "AnalysisID")
	return e.write(SinkAnalysisLines, []string{recordID, aType, aID, amountString(amount)})
}

// emitVoucher finalizes the accumulator when its transaction element closes.
// Unbalanced vouchers are remembered for the integrity pass.
func (e *emitter) emitVoucher(v *Voucher) error {
	done := e.stats.phase("voucher")
	defer done()
	balanced := "N"
	if v.Balanced() {
		balanced = "Y"
	} else {
		e.unbalanced = append(e.unbalanced, *v)
	}
	return e.write(SinkVouchers, []string{
		v.VoucherID, v.VoucherNo, v.TransactionDate, v.PostingDate, v.Period, v.Year,
		v.SourceDocumentID, v.JournalID, v.CurrencyCode,
		v.VoucherType, v.VoucherDescription, v.ModificationDate,
		amountString(v.DebitTotal), amountString(v.CreditTotal), balanced,
	})
}

func (e *emitter) emitInvoice(section string, n *Node) error {
	done := e.stats.phase("invoice")
	defer done()
	first := func(field string) string {
		v, _ := e.res.First(n, field)
		return v
	}
	inv := Invoice{
		InvoiceNo:      first("InvoiceNo"),
		InvoiceDate:    first("InvoiceDate"),
		TaxPointDate:   first("TaxPointDate"),
		GLPostingDate:  first("GLPostingDate"),
		CurrencyCode:   first("CurrencyCode"),
		NetTotal:       first("NetTotal"),
		TaxPayable:     first("TaxPayable"),
		GrossTotal:     first("GrossTotal"),
		SourceID:       first("SourceID"),
		DocumentNumber: first("DocumentNumber"),
		DueDate:        first("DueDate"),
	}
	e.censusChildren(n)
	switch section {
	case "SalesInvoices":
		inv.PartyID = first("LineCustomerID")
		if info, ok := e.customers[inv.PartyID]; ok {
			inv.PartyName = info.Name
			inv.PartyVATNumber = info.VATNumber
		} else {
			inv.PartyName = first("CustomerName")
		}
		return e.write(SinkSalesInvoices, []string{
			inv.InvoiceNo, inv.InvoiceDate, inv.TaxPointDate, inv.GLPostingDate,
			inv.PartyID, inv.PartyName, inv.PartyVATNumber,
			inv.CurrencyCode, inv.NetTotal, inv.TaxPayable, inv.GrossTotal,
			inv.SourceID, inv.DocumentNumber, inv.DueDate,
		})
	case "PurchaseInvoices":
		inv.PartyID = first("LineSupplierID")
		if info, ok := e.suppliers[inv.PartyID]; ok {
			inv.PartyName = info.Name
			inv.PartyVATNumber = info.VATNumber
		} else {
			inv.PartyName = first("SupplierName")
		}
		return e.write(SinkPurchaseInvoices, []string{
			inv.InvoiceNo, inv.InvoiceDate, inv.TaxPointDate, inv.GLPostingDate,
			inv.PartyID, inv.PartyName, inv.PartyVATNumber,
			inv.CurrencyCode, inv.NetTotal, inv.TaxPayable, inv.GrossTotal,
			inv.SourceID, inv.DocumentNumber, inv.DueDate,
		})
	}
	// invoices outside a recognized section are schema drift, not rows
	e.noteUnknown(section, "Invoice")
	return nil
}

// emitRaw writes one row of the per-element debug dump.
func (e *emitter) emitRaw(path, tag, text string, attrs map[string]string) error {
	if !e.raw {
		return nil
	}
	if len(text) > 2000 {
		text = text[:2000]
	}
	encoded := "{}"
	if len(attrs) > 0 {
		if b, err := json.Marshal(attrs); err == nil {
			encoded = string(b)
		}
	}
	return e.write(SinkRawElements, []string{path, tag, text, encoded})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
