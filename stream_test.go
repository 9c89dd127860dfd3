package saft

import (
	"bufio"
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const sampleAudit = `<?xml version="1.0" encoding="UTF-8"?>
<AuditFile xmlns="urn:StandardAuditFile-Taxation-Financial:NO">
  <Header>
    <AuditFileVersion>1.10</AuditFileVersion>
    <CompanyName>Eksempel AS</CompanyName>
    <CompanyID>999888777</CompanyID>
    <DefaultCurrencyCode>NOK</DefaultCurrencyCode>
    <SelectionStartDate>2023-01-01</SelectionStartDate>
    <SelectionEndDate>2023-12-31</SelectionEndDate>
  </Header>
  <MasterFiles>
    <GeneralLedgerAccounts>
      <Account>
        <AccountID>1500</AccountID>
        <AccountDescription>Kundefordringer</AccountDescription>
        <OpeningDebitBalance>0.00</OpeningDebitBalance>
        <ClosingDebitBalance>500.00</ClosingDebitBalance>
      </Account>
    </GeneralLedgerAccounts>
    <TaxTable>
      <TaxTableEntry>
        <TaxCode>3</TaxCode>
        <Description>Utgaaende mva hoey sats</Description>
        <TaxPercentage>25</TaxPercentage>
      </TaxTableEntry>
    </TaxTable>
    <Customers>
      <Customer>
        <CustomerID>K-100</CustomerID>
        <Name>Kunde AS</Name>
        <VATNumber>912345678</VATNumber>
        <BalanceAccountStructure>
          <AccountID>1500</AccountID>
          <OpeningDebitBalance>0.00</OpeningDebitBalance>
          <ClosingDebitBalance>500.00</ClosingDebitBalance>
        </BalanceAccountStructure>
      </Customer>
    </Customers>
  </MasterFiles>
  <GeneralLedgerEntries>
    <Journal>
      <JournalID>GL</JournalID>
      <Type>Salg</Type>
      <Transaction>
        <TransactionID>V-1</TransactionID>
        <TransactionDate>2023-03-15</TransactionDate>
        <Description>Faktura 1001</Description>
        <Line>
          <RecordID>1</RecordID>
          <CustomerID>K-100</CustomerID>
          <Description>Kundefordring</Description>
          <DebitAmount><Amount>500.00</Amount></DebitAmount>
        </Line>
        <Line>
          <RecordID>2</RecordID>
          <AccountID>1920</AccountID>
          <Description>Motkonto</Description>
          <CreditAmount><Amount>500.00</Amount></CreditAmount>
        </Line>
        <Frobnicator>x</Frobnicator>
      </Transaction>
    </Journal>
  </GeneralLedgerEntries>
</AuditFile>`

func writeSample(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.xml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

func colIndex(t *testing.T, entity, column string) int {
	t.Helper()
	for i, c := range Columns(entity) {
		if c == column {
			return i
		}
	}
	t.Fatalf("no column %s in %s", column, entity)
	return -1
}

func cell(t *testing.T, row []string, entity, column string) string {
	t.Helper()
	return row[colIndex(t, entity, column)]
}

func TestIngestScenario(t *testing.T) {
	sink := NewMemSink()
	outcome, err := Ingest(context.Background(), writeSample(t, sampleAudit), sink, Options{})
	require.NoError(t, err)
	require.False(t, outcome.UsedFallback)
	require.False(t, outcome.Cancelled)
	require.NotEmpty(t, outcome.RunID)

	require.Equal(t, "2023-01-01", outcome.PeriodStart.Format("2006-01-02"))
	require.Equal(t, "2023-12-31", outcome.PeriodEnd.Format("2006-01-02"))

	rows := func(entity string) [][]string {
		tab := sink.Tables[entity]
		require.NotNil(t, tab, "missing table %s", entity)
		return tab.Rows
	}

	header := rows(SinkHeader)
	require.Len(t, header, 1)
	require.Equal(t, "Eksempel AS", cell(t, header[0], SinkHeader, "CompanyName"))
	require.Equal(t, "NOK", cell(t, header[0], SinkHeader, "DefaultCurrencyCode"))

	accounts := rows(SinkAccounts)
	require.Len(t, accounts, 1)
	require.Equal(t, "1500", cell(t, accounts[0], SinkAccounts, "AccountID"))
	require.Equal(t, "500.00", cell(t, accounts[0], SinkAccounts, "ClosingDebit"))

	require.Len(t, rows(SinkTaxTable), 1)

	customers := rows(SinkCustomers)
	require.Len(t, customers, 1)
	require.Equal(t, "Kunde AS", cell(t, customers[0], SinkCustomers, "Name"))

	arap := rows(SinkControlAccounts)
	require.Len(t, arap, 1)
	require.Equal(t, "Customer", cell(t, arap[0], SinkControlAccounts, "PartyType"))
	require.Equal(t, "1500", cell(t, arap[0], SinkControlAccounts, "AccountID"))

	journals := rows(SinkJournals)
	require.Len(t, journals, 1)
	require.Equal(t, []string{"GL", "Salg"}, journals[0])

	glTotals := rows(SinkGLTotals)
	require.Len(t, glTotals, 1)
	require.Equal(t, "GL", cell(t, glTotals[0], SinkGLTotals, "JournalID"))

	vouchers := rows(SinkVouchers)
	require.Len(t, vouchers, 1)
	require.Equal(t, "V-1", cell(t, vouchers[0], SinkVouchers, "VoucherID"))
	require.Equal(t, "Faktura 1001", cell(t, vouchers[0], SinkVouchers, "VoucherDescription"))
	require.Equal(t, "500.00", cell(t, vouchers[0], SinkVouchers, "DebitTotal"))
	require.Equal(t, "500.00", cell(t, vouchers[0], SinkVouchers, "CreditTotal"))
	require.Equal(t, "Y", cell(t, vouchers[0], SinkVouchers, "Balanced"))

	lines := rows(SinkTransactions)
	require.Len(t, lines, 2)
	// first line has no AccountID; the customer's control account steps in
	require.Equal(t, "1500", cell(t, lines[0], SinkTransactions, "AccountID"))
	require.Equal(t, "Kundefordringer", cell(t, lines[0], SinkTransactions, "AccountDescription"))
	require.Equal(t, "Kunde AS", cell(t, lines[0], SinkTransactions, "CustomerName"))
	require.Equal(t, "500.00", cell(t, lines[0], SinkTransactions, "Debit"))
	require.Equal(t, "Kundefordring", cell(t, lines[0], SinkTransactions, "Description"))
	require.Equal(t, "V-1", cell(t, lines[0], SinkTransactions, "VoucherID"))
	require.Equal(t, "GL", cell(t, lines[0], SinkTransactions, "JournalID"))

	require.Equal(t, "1920", cell(t, lines[1], SinkTransactions, "AccountID"))
	require.Equal(t, "", cell(t, lines[1], SinkTransactions, "AccountDescription"))
	require.Equal(t, "500.00", cell(t, lines[1], SinkTransactions, "Credit"))
	require.Equal(t, "-500.00", cell(t, lines[1], SinkTransactions, "Amount"))

	missing := rows(SinkMissingAccounts)
	require.Equal(t, [][]string{{"1920"}}, missing)

	unknown := rows(SinkUnknownSummary)
	require.Equal(t, [][]string{{"Transaction", "Frobnicator", "1"}}, unknown)

	require.Nil(t, sink.Tables[SinkUnbalanced], "balanced run must not write unbalanced_vouchers")

	meta := rows(SinkRunMeta)
	require.Len(t, meta, 1)
	require.Equal(t, outcome.RunID, cell(t, meta[0], SinkRunMeta, "RunID"))
	require.Equal(t, "false", cell(t, meta[0], SinkRunMeta, "UsedFallback"))
}

func TestAmountEncodingEquivalence(t *testing.T) {
	const shell = `<AuditFile><GeneralLedgerEntries><Journal><JournalID>GL</JournalID>
<Transaction><TransactionID>V-1</TransactionID>
<Line><RecordID>1</RecordID><AccountID>1920</AccountID>%s</Line>
</Transaction></Journal></GeneralLedgerEntries></AuditFile>`

	encodings := map[string]string{
		"pair":      `<CreditAmount>500.00</CreditAmount>`,
		"indicator": `<Amount>500.00</Amount><DebitCreditIndicator>C</DebitCreditIndicator>`,
		"signed":    `<Amount>-500,00</Amount>`,
	}

	var reference []string
	for name, frag := range encodings {
		t.Run(name, func(t *testing.T) {
			sink := NewMemSink()
			_, err := Ingest(context.Background(), writeSample(t, fmt.Sprintf(shell, frag)), sink, Options{})
			require.NoError(t, err)
			lines := sink.Tables[SinkTransactions].Rows
			require.Len(t, lines, 1)
			got := []string{
				cell(t, lines[0], SinkTransactions, "Debit"),
				cell(t, lines[0], SinkTransactions, "Credit"),
				cell(t, lines[0], SinkTransactions, "Amount"),
			}
			require.Equal(t, []string{"0", "500.00", "-500.00"}, got)
			if reference == nil {
				reference = got
			} else {
				require.Equal(t, reference, got)
			}
		})
	}
}

func TestUnbalancedVoucher(t *testing.T) {
	doc := strings.Replace(sampleAudit, "<Amount>500.00</Amount></CreditAmount>", "<Amount>499.00</Amount></CreditAmount>", 1)
	sink := NewMemSink()
	outcome, err := Ingest(context.Background(), writeSample(t, doc), sink, Options{})
	require.NoError(t, err)

	vouchers := sink.Tables[SinkVouchers].Rows
	require.Equal(t, "N", cell(t, vouchers[0], SinkVouchers, "Balanced"))

	require.Len(t, outcome.Findings.Unbalanced, 1)
	unbalanced := sink.Tables[SinkUnbalanced].Rows
	require.Len(t, unbalanced, 1)
	require.Equal(t, "1.00", cell(t, unbalanced[0], SinkUnbalanced, "Delta"))
}

func TestStreamFallbackEquivalence(t *testing.T) {
	opts := Options{WriteRaw: true}
	res := resolver{aliases: opts.aliases()}

	streamSink := NewMemSink()
	streamStats := newStats()
	streamEm := newEmitter(streamSink, res, streamStats, opts)
	require.NoError(t, streamParse(context.Background(), strings.NewReader(sampleAudit), streamEm, streamStats, opts))
	require.NoError(t, writeFindings(streamEm, runChecks(streamEm)))

	fbSink := NewMemSink()
	fbStats := newStats()
	fbEm := newEmitter(fbSink, res, fbStats, opts)
	require.NoError(t, fallbackParse(strings.NewReader(sampleAudit), fbEm, fbStats))
	require.NoError(t, writeFindings(fbEm, runChecks(fbEm)))

	require.Equal(t, streamSink.Tables, fbSink.Tables)
}

func TestIngestCancellation(t *testing.T) {
	var doc strings.Builder
	doc.WriteString(`<AuditFile><GeneralLedgerEntries><Journal><JournalID>GL</JournalID>`)
	for i := 0; i < 200; i++ {
		fmt.Fprintf(&doc, `<Transaction><TransactionID>V-%d</TransactionID>
<Line><RecordID>1</RecordID><AccountID>1920</AccountID><DebitAmount>1.00</DebitAmount></Line>
<Line><RecordID>2</RecordID><AccountID>1921</AccountID><CreditAmount>1.00</CreditAmount></Line>
</Transaction>`, i)
	}
	doc.WriteString(`</Journal></GeneralLedgerEntries></AuditFile>`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ticks int
	sink := NewMemSink()
	outcome, err := Ingest(ctx, writeSample(t, doc.String()), sink, Options{
		ProgressEvery: 50,
		OnProgress: func(s Snapshot) {
			ticks++
			cancel()
		},
	})
	require.NoError(t, err)
	require.True(t, outcome.Cancelled)
	require.False(t, outcome.UsedFallback)
	require.Greater(t, ticks, 0)
	// a consistent prefix, not the full file
	require.Less(t, int(outcome.Rows[SinkTransactions]), 400)
	// cancelled runs still record their run identity
	require.Len(t, sink.Tables[SinkRunMeta].Rows, 1)
	require.Nil(t, sink.Tables[SinkMissingAccounts])
}

func TestProgressSnapshots(t *testing.T) {
	var snaps []Snapshot
	sink := NewMemSink()
	_, err := Ingest(context.Background(), writeSample(t, sampleAudit), sink, Options{
		ProgressEvery: 5,
		OnProgress:    func(s Snapshot) { snaps = append(snaps, s) },
	})
	require.NoError(t, err)
	require.NotEmpty(t, snaps)
	last := snaps[len(snaps)-1]
	require.Greater(t, last.Events, int64(0))
	require.Equal(t, int64(2), last.Rows[SinkTransactions])
}

func TestVoucherTotalsExactOverManyLines(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	var doc strings.Builder
	doc.WriteString(`<AuditFile><GeneralLedgerEntries><Journal><JournalID>GL</JournalID><Transaction><TransactionID>V-1</TransactionID>`)
	total := decimal.Zero
	for i := 0; i < 500; i++ {
		cents := rnd.Int63n(10_000_000) + 1
		amt := decimal.New(cents, -2)
		total = total.Add(amt)
		fmt.Fprintf(&doc, `<Line><RecordID>%d</RecordID><AccountID>3000</AccountID><DebitAmount>%s</DebitAmount></Line>`, 2*i+1, amountString(amt))
		fmt.Fprintf(&doc, `<Line><RecordID>%d</RecordID><AccountID>1920</AccountID><CreditAmount>%s</CreditAmount></Line>`, 2*i+2, amountString(amt))
	}
	doc.WriteString(`</Transaction></Journal></GeneralLedgerEntries></AuditFile>`)

	sink := NewMemSink()
	outcome, err := Ingest(context.Background(), writeSample(t, doc.String()), sink, Options{})
	require.NoError(t, err)
	require.Empty(t, outcome.Findings.Unbalanced)

	vouchers := sink.Tables[SinkVouchers].Rows
	require.Len(t, vouchers, 1)
	require.Equal(t, amountString(total), cell(t, vouchers[0], SinkVouchers, "DebitTotal"))
	require.Equal(t, amountString(total), cell(t, vouchers[0], SinkVouchers, "CreditTotal"))
	require.Equal(t, "Y", cell(t, vouchers[0], SinkVouchers, "Balanced"))
}

func TestWrappedRecordsStillEmitted(t *testing.T) {
	// producers sometimes invent grouping elements around standard records;
	// the record must land in its table and the wrapper in the census
	doc := strings.Replace(sampleAudit,
		"</Customers>",
		`<CustomerGroup><Customer><CustomerID>K-200</CustomerID><Name>Annen Kunde AS</Name></Customer></CustomerGroup></Customers>`,
		1)

	sink := NewMemSink()
	outcome, err := Ingest(context.Background(), writeSample(t, doc), sink, Options{})
	require.NoError(t, err)
	require.False(t, outcome.UsedFallback)

	customers := sink.Tables[SinkCustomers].Rows
	require.Len(t, customers, 2)
	require.Equal(t, "K-200", cell(t, customers[1], SinkCustomers, "CustomerID"))
	require.Equal(t, "Annen Kunde AS", cell(t, customers[1], SinkCustomers, "Name"))

	var wrapper *UnknownTag
	for i, u := range outcome.Findings.UnknownTags {
		if u.Section == "Customers" && u.Tag == "CustomerGroup" {
			wrapper = &outcome.Findings.UnknownTags[i]
		}
	}
	require.NotNil(t, wrapper, "wrapper element missing from census")
	require.Equal(t, int64(1), wrapper.Count)

	// both tiers must agree on the wrapped document
	opts := Options{WriteRaw: true}
	res := resolver{aliases: opts.aliases()}

	streamSink := NewMemSink()
	streamStats := newStats()
	streamEm := newEmitter(streamSink, res, streamStats, opts)
	require.NoError(t, streamParse(context.Background(), strings.NewReader(doc), streamEm, streamStats, opts))
	require.NoError(t, writeFindings(streamEm, runChecks(streamEm)))

	fbSink := NewMemSink()
	fbStats := newStats()
	fbEm := newEmitter(fbSink, res, fbStats, opts)
	require.NoError(t, fallbackParse(strings.NewReader(doc), fbEm, fbStats))
	require.NoError(t, writeFindings(fbEm, runChecks(fbEm)))

	require.Equal(t, streamSink.Tables, fbSink.Tables)
}

type discardSink struct{}

type discardWriter struct{}

func (discardWriter) Write([]string) error { return nil }

func (discardSink) Writer(string) (RowWriter, error) { return discardWriter{}, nil }
func (discardSink) Reset() error                     { return nil }
func (discardSink) Close() error                     { return nil }

func TestStreamingMemoryBounded(t *testing.T) {
	if testing.Short() {
		t.Skip("stress test")
	}
	const vouchers = 20000

	path := filepath.Join(t.TempDir(), "big.xml")
	f, err := os.Create(path)
	require.NoError(t, err)
	w := bufio.NewWriter(f)
	w.WriteString(`<AuditFile><GeneralLedgerEntries><Journal><JournalID>GL</JournalID>`)
	for i := 0; i < vouchers; i++ {
		fmt.Fprintf(w, `<Transaction><TransactionID>V-%d</TransactionID><Description>Bilag %d</Description>`+
			`<Line><RecordID>1</RecordID><AccountID>3000</AccountID><DebitAmount>10.00</DebitAmount></Line>`+
			`<Line><RecordID>2</RecordID><AccountID>1920</AccountID><CreditAmount>10.00</CreditAmount></Line>`+
			`</Transaction>`, i, i)
	}
	w.WriteString(`</Journal></GeneralLedgerEntries></AuditFile>`)
	require.NoError(t, w.Flush())
	require.NoError(t, f.Close())

	var peak uint64
	outcome, err := Ingest(context.Background(), path, discardSink{}, Options{
		ProgressEvery: 10000,
		OnProgress: func(Snapshot) {
			var ms runtime.MemStats
			runtime.ReadMemStats(&ms)
			if ms.HeapAlloc > peak {
				peak = ms.HeapAlloc
			}
		},
	})
	require.NoError(t, err)
	require.False(t, outcome.UsedFallback)
	require.Equal(t, int64(2*vouchers), outcome.Rows[SinkTransactions])
	require.Equal(t, int64(vouchers), outcome.Rows[SinkVouchers])
	// the live set is one open record plus run aggregates, not the document
	require.Less(t, peak, uint64(64<<20))
}

func TestBalanceIndependentOfLineOrder(t *testing.T) {
	const shell = `<AuditFile><GeneralLedgerEntries><Journal><JournalID>GL</JournalID>
<Transaction><TransactionID>V-1</TransactionID>%s</Transaction>
</Journal></GeneralLedgerEntries></AuditFile>`
	debit := `<Line><RecordID>1</RecordID><AccountID>3000</AccountID><DebitAmount>100.00</DebitAmount></Line>`
	credit := `<Line><RecordID>2</RecordID><AccountID>1920</AccountID><CreditAmount>100.00</CreditAmount></Line>`

	for name, body := range map[string]string{
		"debit first":  debit + credit,
		"credit first": credit + debit,
	} {
		t.Run(name, func(t *testing.T) {
			sink := NewMemSink()
			_, err := Ingest(context.Background(), writeSample(t, fmt.Sprintf(shell, body)), sink, Options{})
			require.NoError(t, err)
			vouchers := sink.Tables[SinkVouchers].Rows
			require.Equal(t, "Y", cell(t, vouchers[0], SinkVouchers, "Balanced"))
		})
	}
}
