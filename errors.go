package saft

import "errors"

var (
	// ErrSourceFormat means the source container itself is unusable. There is
	// no fallback for this; the caller sees it directly.
	ErrSourceFormat = errors.New("unreadable or non-conforming source container")

	// ErrStreamingTraversal is the wrapped cause when the streaming path
	// aborts. Ingest treats it as a signal to retry with the fallback parser,
	// it never reaches the caller on its own.
	ErrStreamingTraversal = errors.New("streaming traversal failed")

	// ErrFallbackParsing means the safety-net path failed too. No further
	// recovery exists.
	ErrFallbackParsing = errors.New("fallback parsing failed")

	// ErrAmountFormat is returned when an amount string holds no digits after
	// separator stripping. Optional fields absorb it as zero; a line without
	// any resolvable amount cannot be emitted.
	ErrAmountFormat = errors.New("no digits in amount")

	// ErrLineOutsideVoucher marks a Line element closing with no open
	// Transaction, which corrupts voucher accumulation.
	ErrLineOutsideVoucher = errors.New("transaction line outside an open voucher")
)
