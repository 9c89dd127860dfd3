package saft

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html/charset"
)

// txState accumulates one open Transaction element. Metadata children are
// collected into meta; the voucher itself is built when the first line shows
// up, because lines denormalize the voucher fields and cannot wait for the
// element to close.
type txState struct {
	meta    *Node
	voucher *Voucher
}

// jrState accumulates the non-transaction children of one open Journal
// element so control totals and the journal id survive interleaved
// transactions.
type jrState struct {
	meta *Node
}

// engine drives one streaming pass over the token stream. It holds no record
// data beyond the currently open journal and transaction, so memory stays
// bounded by the deepest record element, not by file size.
type engine struct {
	d        *xml.Decoder
	em       *emitter
	st       *stats
	opts     Options
	stack    []string
	jr       *jrState
	tx       *txState
	lastTick int64
}

// streamParse runs the single-pass traversal. A context cancellation surfaces
// as ctx.Err(); every other failure means the stream cannot be trusted and is
// wrapped in ErrStreamingTraversal for the caller to fall back on.
func streamParse(ctx context.Context, r io.Reader, em *emitter, st *stats, opts Options) error {
	d := xml.NewDecoder(r)
	d.CharsetReader = charset.NewReaderLabel

	eng := &engine{d: d, em: em, st: st, opts: opts}
	for {
		tok, err := d.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStreamingTraversal, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			err = eng.start(t)
		case xml.EndElement:
			st.events++
			err = eng.end(t)
		}
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return fmt.Errorf("%w: %v", ErrStreamingTraversal, err)
		}
		if err := eng.tick(ctx); err != nil {
			return err
		}
	}
	return nil
}

// section names the innermost open container, for census bucketing.
func (g *engine) section() string {
	for i := len(g.stack) - 1; i >= 0; i-- {
		if containerTags[g.stack[i]] {
			return g.stack[i]
		}
	}
	return "AuditFile"
}

func (g *engine) path() string {
	return strings.Join(g.stack, "/")
}

// capture materializes the subtree opened by start. The consumed end events
// are counted so progress ticks stay honest.
func (g *engine) capture(start xml.StartElement) (*Node, error) {
	return readNode(g.d, start, &g.st.events)
}

func (g *engine) start(t xml.StartElement) error {
	name := t.Name.Local

	// Inside an open transaction everything is either a line or voucher
	// metadata; there is no third kind.
	if g.tx != nil {
		n, err := g.capture(t)
		if err != nil {
			return err
		}
		if lineTags[name] {
			if g.tx.voucher == nil {
				v := g.em.voucherFromMeta(g.tx.meta, g.journalID())
				g.tx.voucher = &v
			}
			if err := g.em.emitLine(g.tx.voucher, n); err != nil {
				return err
			}
		} else {
			g.tx.meta.Children = append(g.tx.meta.Children, n)
		}
		return g.dumpRaw(g.path(), n)
	}

	if g.jr != nil && name != "Transaction" {
		n, err := g.capture(t)
		if err != nil {
			return err
		}
		g.jr.meta.Children = append(g.jr.meta.Children, n)
		return g.dumpRaw(g.path(), n)
	}

	switch {
	case name == "Transaction":
		g.tx = &txState{meta: nodeFromStart(t)}
		g.stack = append(g.stack, name)
		return nil
	case name == "Journal":
		g.jr = &jrState{meta: nodeFromStart(t)}
		g.stack = append(g.stack, name)
		return nil
	case name == "Header":
		n, err := g.capture(t)
		if err != nil {
			return err
		}
		if err := g.em.emitHeader(n); err != nil {
			return err
		}
		return g.dumpRaw(g.path(), n)
	case accountTags[name]:
		n, err := g.capture(t)
		if err != nil {
			return err
		}
		if err := g.em.emitAccount(n); err != nil {
			return err
		}
		return g.dumpRaw(g.path(), n)
	case name == "TaxTableEntry":
		n, err := g.capture(t)
		if err != nil {
			return err
		}
		if err := g.em.emitTaxEntry(n); err != nil {
			return err
		}
		return g.dumpRaw(g.path(), n)
	case name == "Customer", name == "Supplier":
		n, err := g.capture(t)
		if err != nil {
			return err
		}
		if err := g.em.emitParty(name, n); err != nil {
			return err
		}
		return g.dumpRaw(g.path(), n)
	case name == "Invoice":
		n, err := g.capture(t)
		if err != nil {
			return err
		}
		if err := g.em.emitInvoice(g.section(), n); err != nil {
			return err
		}
		return g.dumpRaw(g.path(), n)
	case lineTags[name]:
		return fmt.Errorf("%w: <%s> at %s", ErrLineOutsideVoucher, name, g.path())
	case containerTags[name]:
		g.stack = append(g.stack, name)
		return nil
	}

	// Unrecognized element: materialize it and hand it to the tree walker,
	// which counts it and still emits any known records wrapped inside.
	n, err := g.capture(t)
	if err != nil {
		return err
	}
	w := &treeWalker{em: g.em, stack: append([]string(nil), g.stack...)}
	return w.visit(n)
}

func (g *engine) end(t xml.EndElement) error {
	name := t.Name.Local
	if len(g.stack) > 0 && g.stack[len(g.stack)-1] == name {
		g.stack = g.stack[:len(g.stack)-1]
	}
	switch {
	case name == "Transaction" && g.tx != nil:
		err := g.closeTransaction()
		g.tx = nil
		return err
	case name == "Journal" && g.jr != nil:
		g.em.censusChildren(g.jr.meta)
		err := g.em.emitJournal(g.jr.meta)
		g.jr = nil
		return err
	}
	return nil
}

// closeTransaction finalizes the voucher. The header fields are re-resolved
// against the complete metadata set, so a producer that trails its
// description after the lines still lands it on the voucher row.
func (g *engine) closeTransaction() error {
	g.em.censusChildren(g.tx.meta)
	v := g.em.voucherFromMeta(g.tx.meta, g.journalID())
	if g.tx.voucher != nil {
		v.DebitTotal = g.tx.voucher.DebitTotal
		v.CreditTotal = g.tx.voucher.CreditTotal
	}
	return g.em.emitVoucher(&v)
}

func (g *engine) journalID() string {
	if g.jr == nil {
		return ""
	}
	id, _ := g.em.res.First(g.jr.meta, "JournalID")
	return id
}

// tick fires at most once per progress interval. Cancellation is only
// observed here, which bounds the latency of a cancel to one interval.
func (g *engine) tick(ctx context.Context) error {
	every := g.opts.progressEvery()
	if g.st.events-g.lastTick < every {
		return nil
	}
	g.lastTick = g.st.events
	if err := ctx.Err(); err != nil {
		return err
	}
	if g.opts.OnProgress != nil {
		g.opts.OnProgress(g.st.snapshot())
	}
	return nil
}

func (g *engine) dumpRaw(prefix string, n *Node) error {
	if !g.em.raw {
		return nil
	}
	p := prefix + "/" + n.Name
	if err := g.em.emitRaw(p, n.Name, n.text(), n.Attr); err != nil {
		return err
	}
	for _, c := range n.Children {
		if err := g.dumpRaw(p, c); err != nil {
			return err
		}
	}
	return nil
}

func nodeFromStart(t xml.StartElement) *Node {
	n := &Node{Name: t.Name.Local}
	if len(t.Attr) > 0 {
		n.Attr = make(map[string]string, len(t.Attr))
		for _, a := range t.Attr {
			n.Attr[a.Name.Local] = a.Value
		}
	}
	return n
}
