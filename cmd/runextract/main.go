package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joseph-ayodele/bill-trends/constants"
	"github.com/joseph-ayodele/bill-trends/internal/common"
	"github.com/joseph-ayodele/bill-trends/internal/llm"
	"github.com/joseph-ayodele/bill-trends/internal/llm/openai"
	"github.com/joseph-ayodele/bill-trends/internal/ocr"
	"github.com/joseph-ayodele/bill-trends/internal/pipeline"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	kindFlag := flag.String("kind", "recent", "bill slot: recent or old")
	modeFlag := flag.String("mode", "", "regex or llm (default: EXTRACTOR)")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall timeout")
	flag.Parse()
	if flag.NArg() != 1 {
		logger.Error("usage", "cmd", "runextract [-kind recent|old] [-mode regex|llm] <file>")
		os.Exit(2)
	}
	path, err := filepath.Abs(flag.Arg(0))
	if err != nil {
		logger.Error("invalid path", "arg", flag.Arg(0), "error", err)
		os.Exit(2)
	}
	kind, ok := constants.ParseDocKind(*kindFlag)
	if !ok {
		logger.Error("invalid kind", "kind", *kindFlag)
		os.Exit(2)
	}
	mimeType := constants.MIMEForExt(filepath.Ext(path))
	if _, ok := constants.AllowedMIME[mimeType]; !ok {
		logger.Error("unsupported file type", "path", path)
		os.Exit(2)
	}

	cfg, err := common.LoadConfig()
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(2)
	}
	mode := cfg.LLM.Mode
	if *modeFlag != "" {
		mode = *modeFlag
	}

	text := ocr.NewExtractor(ocr.Config{
		Pdftotext:           cfg.OCR.Pdftotext,
		Pdftoppm:            cfg.OCR.Pdftoppm,
		Tesseract:           cfg.OCR.Tesseract,
		TesseractLang:       cfg.OCR.Lang,
		DPI:                 cfg.OCR.DPI,
		MaxPages:            cfg.OCR.MaxPages,
		TessdataDir:         cfg.OCR.TessdataDir,
		EnableTSVConfidence: true,
	}, logger)
	var fields llm.FieldExtractor
	if cfg.LLM.APIKey != "" {
		fields = openai.NewClient(openai.Config{
			APIKey:          cfg.LLM.APIKey,
			BaseURL:         cfg.LLM.BaseURL,
			Model:           cfg.LLM.Model,
			Temperature:     cfg.LLM.Temperature,
			Timeout:         cfg.LLM.Timeout,
			MaxVisionMB:     cfg.LLM.MaxVisionMB,
			LenientOptional: true,
		}, logger)
	}
	chain, err := pipeline.NewChain(text, fields, mode, logger)
	if err != nil {
		logger.Error("build chain", "error", err)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	start := time.Now()
	res := chain.Extract(ctx, pipeline.Document{Kind: kind, Path: path, MIMEType: mimeType})
	dur := time.Since(start)
	if !res.OK() {
		logger.Error("extraction failed", "reason", res.Reason, "duration_ms", dur.Milliseconds())
		os.Exit(1)
	}
	res.Bill.Kind = kind

	logger.Info("extraction OK",
		"method", res.Bill.Method,
		"source", res.Bill.Source,
		"ocr_used", res.Bill.OCRUsed,
		"text_len", res.Bill.TextLen,
		"duration_ms", dur.Milliseconds(),
	)
	for _, w := range res.Bill.Warnings {
		logger.Warn("extraction warning", "warning", w)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res.Bill); err != nil {
		fmt.Fprintln(os.Stderr, "encode:", err)
		os.Exit(1)
	}
}
