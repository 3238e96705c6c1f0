package pipeline

import (
	"strings"

	"github.com/joseph-ayodele/bill-trends/internal/entity"
)

// Result is the outcome of one extraction attempt or of a whole chain.
// Bill is meaningful when OK, or when the attempt decoded the document but found too few
// fields; Reason explains any result that is not OK.
type Result struct {
	Bill    entity.ExtractedBill
	Reason  string
	ok      bool
	decoded bool
}

// Ok wraps a usable bill.
func Ok(b entity.ExtractedBill) Result {
	return Result{Bill: b, ok: true}
}

// Failed records why an attempt produced nothing usable.
func Failed(reason string) Result {
	return Result{Reason: reason}
}

// Partial records a document that was read but carries too few fields for the trend.
// The chain keeps trying; if nothing better turns up the partial bill is used.
func Partial(b entity.ExtractedBill, reason string) Result {
	return Result{Bill: b, Reason: reason, decoded: true}
}

func (r Result) OK() bool { return r.ok }

// Decoded reports whether the attempt read the document, even if nothing useful came out.
func (r Result) Decoded() bool { return r.ok || r.decoded }

// failedAll folds the reasons of every attempt into a single failure.
func failedAll(reasons []string) Result {
	if len(reasons) == 0 {
		return Failed("no extraction attempt applies to this document")
	}
	return Failed(strings.Join(reasons, "; "))
}
