package saft

import (
	"sort"
	"strconv"
)

// UnknownTag is one census entry: an element name the schema does not know,
// bucketed by the nearest recognized section.
type UnknownTag struct {
	Section string
	Tag     string
	Count   int64
}

// Findings is the result of the post-run integrity pass.
type Findings struct {
	// MissingAccounts are account ids referenced by lines but never declared
	// in the chart of accounts. The placeholder id is exempt.
	MissingAccounts []string
	// Unbalanced holds every voucher whose debit and credit totals differ by
	// more than the tolerance.
	Unbalanced []Voucher
	// UnknownTags is the schema-drift census, most frequent first.
	UnknownTags []UnknownTag
}

// Empty reports whether the run produced no findings at all.
func (f Findings) Empty() bool {
	return len(f.MissingAccounts) == 0 && len(f.Unbalanced) == 0 && len(f.UnknownTags) == 0
}

// runChecks derives the findings from the emitter's aggregates.
func runChecks(em *emitter) Findings {
	var f Findings
	for id := range em.seenOnLines {
		if id == em.sentinel || em.declared[id] {
			continue
		}
		f.MissingAccounts = append(f.MissingAccounts, id)
	}
	sort.Strings(f.MissingAccounts)

	f.Unbalanced = append(f.Unbalanced, em.unbalanced...)

	for k, count := range em.unknown {
		f.UnknownTags = append(f.UnknownTags, UnknownTag{Section: k.Section, Tag: k.Tag, Count: count})
	}
	sort.Slice(f.UnknownTags, func(i, j int) bool {
		a, b := f.UnknownTags[i], f.UnknownTags[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		if a.Section != b.Section {
			return a.Section < b.Section
		}
		return a.Tag < b.Tag
	})
	return f
}

// writeFindings lands each non-empty findings table on the sink. Empty tables
// are not written at all, so their absence is the all-clear signal.
func writeFindings(em *emitter, f Findings) error {
	for _, id := range f.MissingAccounts {
		if err := em.write(SinkMissingAccounts, []string{id}); err != nil {
			return err
		}
	}
	for _, v := range f.Unbalanced {
		delta := v.DebitTotal.Sub(v.CreditTotal)
		if err := em.write(SinkUnbalanced, []string{
			v.VoucherID, v.VoucherNo, amountString(v.DebitTotal), amountString(v.CreditTotal), amountString(delta),
		}); err != nil {
			return err
		}
	}
	for _, u := range f.UnknownTags {
		if err := em.write(SinkUnknownSummary, []string{
			u.Section, u.Tag, strconv.FormatInt(u.Count, 10),
		}); err != nil {
			return err
		}
	}
	return nil
}
