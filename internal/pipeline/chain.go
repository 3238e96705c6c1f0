package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/bill-trends/constants"
	"github.com/joseph-ayodele/bill-trends/internal/entity"
	"github.com/joseph-ayodele/bill-trends/internal/extract"
	"github.com/joseph-ayodele/bill-trends/internal/llm"
	"github.com/joseph-ayodele/bill-trends/internal/metrics"
	"github.com/joseph-ayodele/bill-trends/internal/ocr"
)

// Field extraction modes.
const (
	ModeRegex = "regex"
	ModeLLM   = "llm"
)

// MethodVision names the attempt that sends the image itself to the model.
const MethodVision = "vision"

// TextSource decodes documents into text. *ocr.Extractor implements it.
type TextSource interface {
	TextLayer(ctx context.Context, path string) (ocr.ExtractionResult, error)
	OCR(ctx context.Context, path, format string) (ocr.ExtractionResult, error)
}

// Document is one stored upload as seen by the chain. Path is absolute.
type Document struct {
	Kind     constants.DocKind
	Path     string
	MIMEType string
}

// Attempt is one step of the fallback chain.
type Attempt struct {
	Name string
	Run  func(ctx context.Context, doc Document) Result
}

// Chain turns a document into an ExtractedBill by trying text-layer, ocr and vision in order.
type Chain struct {
	text   TextSource
	fields llm.FieldExtractor
	mode   string
	log    *slog.Logger
}

// NewChain builds the extraction chain. fe may be nil, which disables the vision attempt;
// mode must then be ModeRegex.
func NewChain(text TextSource, fe llm.FieldExtractor, mode string, log *slog.Logger) (*Chain, error) {
	if log == nil {
		log = slog.Default()
	}
	switch mode {
	case ModeRegex:
	case ModeLLM:
		if fe == nil {
			return nil, fmt.Errorf("extraction mode %q needs a field extractor", mode)
		}
	default:
		return nil, fmt.Errorf("unknown extraction mode %q", mode)
	}
	return &Chain{text: text, fields: fe, mode: mode, log: log}, nil
}

// Attempts lists the steps that apply to doc, in order.
func (c *Chain) Attempts(doc Document) []Attempt {
	format := constants.MapMIMEToFormat(doc.MIMEType)
	var out []Attempt
	if format == constants.PDF {
		out = append(out, Attempt{Name: ocr.MethodTextLayer, Run: c.runTextLayer})
	}
	if format == constants.PDF || format == constants.IMAGE {
		out = append(out, Attempt{Name: ocr.MethodOCR, Run: c.runOCR})
	}
	if format == constants.IMAGE && c.fields != nil {
		out = append(out, Attempt{Name: MethodVision, Run: c.runVision})
	}
	return out
}

// Extract runs the attempts for doc and returns the first Ok. When no attempt finds usable
// fields but one of them did read the document, the first such partial bill is returned as Ok;
// rules and trend take empty fields as valid input. Failed means no attempt could read the
// document at all. Oracle failures never panic; each becomes a reason on the Result.
func (c *Chain) Extract(ctx context.Context, doc Document) Result {
	var (
		reasons []string
		partial *Result
	)
	for _, a := range c.Attempts(doc) {
		if err := ctx.Err(); err != nil {
			reasons = append(reasons, err.Error())
			break
		}
		start := time.Now()
		res := a.Run(ctx, doc)
		metrics.IncExtractionAttempt(a.Name, res.OK())
		if res.OK() {
			c.log.Info("pipeline.extract.ok",
				"kind", doc.Kind, "attempt", a.Name,
				"source", res.Bill.Source, "text_len", res.Bill.TextLen,
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
			return res
		}
		c.log.Warn("pipeline.extract.attempt_failed",
			"kind", doc.Kind, "attempt", a.Name, "reason", res.Reason,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		reasons = append(reasons, a.Name+": "+res.Reason)
		if res.Decoded() && partial == nil {
			partial = &res
		}
	}
	if partial != nil && ctx.Err() == nil {
		c.log.Info("pipeline.extract.partial",
			"kind", doc.Kind, "method", partial.Bill.Method, "reasons", reasons,
		)
		bill := partial.Bill
		bill.Warnings = append(bill.Warnings, "few fields could be read from this bill")
		return Ok(bill)
	}
	return failedAll(reasons)
}

func (c *Chain) runTextLayer(ctx context.Context, doc Document) Result {
	res, err := c.text.TextLayer(ctx, doc.Path)
	if err != nil {
		return Failed(err.Error())
	}
	if n := ocr.NonBlankLen(res.Text); n < constants.MinTextLayerChars {
		return Failed(fmt.Sprintf("text layer too short (%d chars)", n))
	}
	return c.fromText(ctx, doc, res, false)
}

func (c *Chain) runOCR(ctx context.Context, doc Document) Result {
	res, err := c.text.OCR(ctx, doc.Path, constants.MapMIMEToFormat(doc.MIMEType))
	if err != nil {
		return Failed(err.Error())
	}
	if ocr.NonBlankLen(res.Text) == 0 {
		return Failed("ocr produced no text")
	}
	return c.fromText(ctx, doc, res, true)
}

func (c *Chain) runVision(ctx context.Context, doc Document) Result {
	raw, err := c.fields.ExtractFields(ctx, llm.ExtractRequest{Kind: doc.Kind, ImagePath: doc.Path})
	if err != nil {
		return Failed(err.Error())
	}
	return fromPayload(doc.Kind, raw, MethodVision, 0, true)
}

func (c *Chain) fromText(ctx context.Context, doc Document, res ocr.ExtractionResult, ocrUsed bool) Result {
	if c.mode == ModeLLM {
		raw, err := c.fields.ExtractFields(ctx, llm.ExtractRequest{Kind: doc.Kind, Text: res.Text})
		if err != nil {
			return Failed(err.Error())
		}
		return fromPayload(doc.Kind, raw, res.Method, len(res.Text), ocrUsed)
	}

	fields := extract.FieldsFromText(res.Text)
	raw, _ := json.Marshal(fields)
	bill := entity.ExtractedBill{
		Kind:       doc.Kind,
		Fields:     fields,
		Confidence: regexConfidence(fields, float64(res.Confidence)),
		Warnings:   extract.SecondPass(fields),
		Method:     res.Method,
		Source:     ModeRegex,
		OCRUsed:    ocrUsed,
		TextLen:    len(res.Text),
		Raw:        raw,
	}
	if !usable(fields) {
		return Partial(bill, "no usable fields in text")
	}
	return Ok(bill)
}

func fromPayload(kind constants.DocKind, raw json.RawMessage, method string, textLen int, ocrUsed bool) Result {
	p, err := extract.ValidateJSON(raw)
	if err != nil {
		return Failed(err.Error())
	}
	bill := entity.ExtractedBill{
		Kind:       kind,
		Fields:     p.Fields,
		Confidence: p.Confidence,
		Warnings:   extract.SecondPass(p.Fields),
		Method:     method,
		Source:     ModeLLM,
		OCRUsed:    ocrUsed,
		TextLen:    textLen,
		Raw:        raw,
	}
	if !usable(p.Fields) {
		return Partial(bill, "no usable fields in model output")
	}
	return Ok(bill)
}

// usable reports whether a bill carries anything the rules or the trend can use. A supplier
// line alone is what garbage text decodes to.
func usable(f entity.BillFields) bool {
	return f.TotalDue != nil || f.KWh != nil || f.Smc != nil || f.VariableCost != nil || f.HasPeriod()
}

// regexConfidence gives every field the parser found the confidence of the decoded text.
func regexConfidence(f entity.BillFields, textConf float64) entity.FieldConfidence {
	textConf = min(1, max(0, textConf))
	present := map[entity.Field]bool{
		entity.FieldPeriodStart:   f.PeriodStart != nil,
		entity.FieldPeriodEnd:     f.PeriodEnd != nil,
		entity.FieldIssueDate:     f.IssueDate != nil,
		entity.FieldTotalDue:      f.TotalDue != nil,
		entity.FieldKWh:           f.KWh != nil,
		entity.FieldSmc:           f.Smc != nil,
		entity.FieldEnergyCost:    f.EnergyCost != nil,
		entity.FieldTransportCost: f.TransportCost != nil,
		entity.FieldTaxes:         f.Taxes != nil,
		entity.FieldSupplier:      f.Supplier != nil,
		entity.FieldTariffName:    f.TariffName != nil,
		entity.FieldZoneHint:      f.ZoneHint != nil,
	}
	conf := make(entity.FieldConfidence, len(entity.ConfidenceFields))
	for _, k := range entity.ConfidenceFields {
		if present[k] {
			conf[k] = textConf
		} else {
			conf[k] = 0
		}
	}
	return conf
}
