package saft

import (
	"encoding/xml"
	"fmt"
	"io"

	"golang.org/x/net/html/charset"
)

// fallbackParse materializes the whole document and replays it through the
// same emitter in document order. For a structurally sound file its output is
// identical to the streaming pass row for row; it exists for inputs the
// token-at-a-time engine gives up on, at the price of holding the tree in
// memory.
func fallbackParse(r io.Reader, em *emitter, st *stats) error {
	d := xml.NewDecoder(r)
	d.CharsetReader = charset.NewReaderLabel

	var root *Node
	for {
		tok, err := d.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrFallbackParsing, err)
		}
		if t, ok := tok.(xml.StartElement); ok {
			if root, err = readNode(d, t, &st.events); err != nil {
				return fmt.Errorf("%w: %v", ErrFallbackParsing, err)
			}
			break
		}
	}
	if root == nil {
		return fmt.Errorf("%w: no document element", ErrFallbackParsing)
	}

	w := &treeWalker{em: em}
	if err := w.visit(root); err != nil {
		return fmt.Errorf("%w: %v", ErrFallbackParsing, err)
	}
	return nil
}

type treeWalker struct {
	em    *emitter
	stack []string
}

func (w *treeWalker) section() string {
	for i := len(w.stack) - 1; i >= 0; i-- {
		if containerTags[w.stack[i]] {
			return w.stack[i]
		}
	}
	return "AuditFile"
}

func (w *treeWalker) path() string {
	out := ""
	for i, s := range w.stack {
		if i > 0 {
			out += "/"
		}
		out += s
	}
	return out
}

func (w *treeWalker) visit(n *Node) error {
	name := n.Name
	switch {
	case name == "Header":
		if err := w.em.emitHeader(n); err != nil {
			return err
		}
		return w.dump(n)
	case accountTags[name]:
		if err := w.em.emitAccount(n); err != nil {
			return err
		}
		return w.dump(n)
	case name == "TaxTableEntry":
		if err := w.em.emitTaxEntry(n); err != nil {
			return err
		}
		return w.dump(n)
	case name == "Customer", name == "Supplier":
		if err := w.em.emitParty(name, n); err != nil {
			return err
		}
		return w.dump(n)
	case name == "Invoice":
		if err := w.em.emitInvoice(w.section(), n); err != nil {
			return err
		}
		return w.dump(n)
	case name == "Journal":
		return w.visitJournal(n)
	case lineTags[name]:
		// A line with no enclosing transaction has no voucher to charge it
		// to. The streaming tier refuses the whole file; here we drop the
		// stray line and keep the rest.
		return w.dump(n)
	case containerTags[name]:
		w.stack = append(w.stack, name)
		for _, c := range n.Children {
			if err := w.visit(c); err != nil {
				return err
			}
		}
		w.stack = w.stack[:len(w.stack)-1]
		return nil
	}
	// Unrecognized element: count it, then keep walking underneath, so
	// records wrapped in producer-invented grouping elements still land in
	// their tables.
	if !knownTags[name] {
		w.em.noteUnknown(w.section(), name)
	}
	if err := w.dumpSelf(n); err != nil {
		return err
	}
	w.stack = append(w.stack, name)
	for _, c := range n.Children {
		if err := w.visit(c); err != nil {
			return err
		}
	}
	w.stack = w.stack[:len(w.stack)-1]
	return nil
}

// visitJournal rebuilds the metadata set incrementally, exactly as the
// streaming pass sees it: a transaction only resolves the journal id from
// siblings that precede it in the document.
func (w *treeWalker) visitJournal(n *Node) error {
	w.stack = append(w.stack, "Journal")
	meta := &Node{Name: "Journal", Attr: n.Attr}
	for _, c := range n.Children {
		if c.Name == "Transaction" {
			if err := w.visitTransaction(c, meta); err != nil {
				return err
			}
			continue
		}
		meta.Children = append(meta.Children, c)
		if err := w.dump(c); err != nil {
			return err
		}
	}
	w.stack = w.stack[:len(w.stack)-1]
	w.em.censusChildren(meta)
	return w.em.emitJournal(meta)
}

func (w *treeWalker) visitTransaction(n *Node, journalMeta *Node) error {
	w.stack = append(w.stack, "Transaction")
	journalID := func() string {
		id, _ := w.em.res.First(journalMeta, "JournalID")
		return id
	}
	meta := &Node{Name: "Transaction", Attr: n.Attr}
	var voucher *Voucher
	for _, c := range n.Children {
		if lineTags[c.Name] {
			if voucher == nil {
				v := w.em.voucherFromMeta(meta, journalID())
				voucher = &v
			}
			if err := w.em.emitLine(voucher, c); err != nil {
				return err
			}
		} else {
			meta.Children = append(meta.Children, c)
		}
		if err := w.dump(c); err != nil {
			return err
		}
	}
	w.em.censusChildren(meta)
	v := w.em.voucherFromMeta(meta, journalID())
	if voucher != nil {
		v.DebitTotal = voucher.DebitTotal
		v.CreditTotal = voucher.CreditTotal
	}
	w.stack = w.stack[:len(w.stack)-1]
	return w.em.emitVoucher(&v)
}

// dumpSelf writes the raw row for one element without descending, for
// elements whose children are visited individually.
func (w *treeWalker) dumpSelf(n *Node) error {
	if !w.em.raw {
		return nil
	}
	return w.em.emitRaw(w.path()+"/"+n.Name, n.Name, n.text(), n.Attr)
}

func (w *treeWalker) dump(n *Node) error {
	if !w.em.raw {
		return nil
	}
	var rec func(prefix string, n *Node) error
	rec = func(prefix string, n *Node) error {
		p := prefix + "/" + n.Name
		if err := w.em.emitRaw(p, n.Name, n.text(), n.Attr); err != nil {
			return err
		}
		for _, c := range n.Children {
			if err := rec(p, c); err != nil {
				return err
			}
		}
		return nil
	}
	return rec(w.path(), n)
}
