package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/bill-trends/constants"
)

// Method names recorded on extracted bills.
const (
	MethodTextLayer = "text-layer"
	MethodOCR       = "ocr"
)

type Config struct {
	Pdftotext string // binary name or absolute path; if empty -> "pdftotext"
	Pdftoppm  string // binary name or absolute path; if empty -> "pdftoppm"
	Tesseract string // binary name or absolute path; if empty -> "tesseract"

	TesseractLang string // default "ita"
	DPI           int    // rasterization DPI for scanned PDFs, default 300
	MaxPages      int    // 0 = no limit

	TessdataDir         string
	EnableTSVConfidence bool

	PSM int // e.g., 6 is good for uniform block of text
	OEM int // 1 = LSTM; leave 0 to use default
}

type ExtractionResult struct {
	Text       string
	Pages      int
	Method     string // MethodTextLayer | MethodOCR
	Language   string
	Duration   time.Duration
	Warnings   []string
	Confidence float32
}

type Extractor struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewExtractor(cfg Config, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Pdftotext == "" {
		cfg.Pdftotext = "pdftotext"
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.TesseractLang == "" {
		cfg.TesseractLang = "ita"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	return &Extractor{cfg: cfg, runner: execRunner{logger: logger}, logger: logger}
}

// WithRunner swaps the command runner; tests use it to stub poppler and tesseract.
func (e *Extractor) WithRunner(r Runner) *Extractor {
	e.runner = r
	return e
}

// TextLayer reads the embedded text of a PDF. It never rasterizes.
func (e *Extractor) TextLayer(ctx context.Context, path string) (ExtractionResult, error) {
	start := time.Now()
	text, pages, warns, err := e.pdfToText(ctx, path)
	res := ExtractionResult{
		Text:     Normalize(text),
		Pages:    pages,
		Method:   MethodTextLayer,
		Warnings: warns,
		Duration: time.Since(start),
	}
	if err != nil {
		return res, fmt.Errorf("pdftotext: %w", err)
	}
	res.Confidence = heuristicConfidence(res.Text)
	e.logger.Debug("text layer extracted", "path", path, "pages", pages, "chars", len(res.Text))
	return res, nil
}

// OCR recognizes text from a scanned PDF or an image. format is constants.PDF or constants.IMAGE.
func (e *Extractor) OCR(ctx context.Context, path, format string) (ExtractionResult, error) {
	start := time.Now()
	e.logger.Debug("starting ocr extraction", "path", path, "format", format, "lang", e.cfg.TesseractLang)
	var (
		res ExtractionResult
		err error
	)
	switch format {
	case constants.PDF:
		res, err = e.extractScannedPDF(ctx, path)
	case constants.IMAGE:
		res, err = e.extractImage(ctx, path)
	default:
		e.logger.Error("unsupported ocr format", "format", format)
		return ExtractionResult{}, fmt.Errorf("unsupported format: %q", format)
	}
	res.Duration = time.Since(start)
	return res, err
}

func (e *Extractor) extractScannedPDF(ctx context.Context, path string) (ExtractionResult, error) {
	text, pages, warns, err := e.pdfToOCR(ctx, path)
	res := ExtractionResult{
		Text:     Normalize(text),
		Pages:    pages,
		Method:   MethodOCR,
		Language: e.cfg.TesseractLang,
		Warnings: warns,
	}
	if err != nil {
		return res, err
	}
	res.Confidence = heuristicConfidence(res.Text)
	return res, nil
}

func (e *Extractor) extractImage(ctx context.Context, path string) (ExtractionResult, error) {
	txt, warn, err := e.tesseractOCR(ctx, path)
	if err != nil {
		return ExtractionResult{Method: MethodOCR, Warnings: warn}, err
	}
	txt = Normalize(txt)

	var ocrConf float32
	if e.cfg.EnableTSVConfidence {
		if c, w, err2 := e.tesseractTSVConfidence(ctx, path); err2 == nil {
			ocrConf = c
			warn = append(warn, w...)
		} else {
			warn = append(warn, err2.Error())
		}
	}
	heurConf := heuristicConfidence(txt)

	// weight OCR higher if present
	conf := heurConf
	if ocrConf > 0 {
		conf = 0.7*ocrConf + 0.3*heurConf
	}

	return ExtractionResult{
		Text:       txt,
		Pages:      1,
		Method:     MethodOCR,
		Language:   e.cfg.TesseractLang,
		Warnings:   warn,
		Confidence: min(conf, 1.0),
	}, nil
}
