// Package extraction implements the document extraction stage (spec
// §4.B): given a staged file and a detected format, it produces an
// ExtractionResult. The stage never decodes PDFs or images
// itself — those are external collaborators (spec §1) injected as
// TextExtractor/ImagePreprocessor/PdfRenderer — so this package is mostly
// dispatch and confidence bookkeeping around those collaborators and the
// model client's vision path.
package extraction

import (
	"context"
	"strings"

	"github.com/ktiyab/coheara/internal/errs"
	"github.com/ktiyab/coheara/internal/modelclient"
)

// Format is the detected input format driving method dispatch.
type Format string

const (
	FormatPlaintext    Format = "plaintext"
	FormatDigitalPDF    Format = "digital_pdf"
	FormatRasterizedPDF  Format = "rasterized_pdf"
	FormatImage      Format = "image"
	FormatEncryptedPDF  Format = "encrypted_pdf"
	FormatUnsupported   Format = "unsupported"
)

// Method names which extraction path actually ran, for debug dumps and
// confidence defaults.
type Method string

const (
	MethodPlaintext  Method = "plaintext"
	MethodDigitalText Method = "digital_text_layer"
	MethodVisionOCR  Method = "vision_ocr"
)

// Region is an optional bounding box a page extraction may carry (e.g.
// from a PDF text layer or OCR region detector). Units are collaborator-
// defined; the extraction stage treats them as opaque passthrough data.
type Region struct {
	X, Y, Width, Height float64
	Text        string
}

// PageExtraction is one page's extracted content.
type PageExtraction struct {
	PageNumber  int
	Text     string
	Confidence  float64
	Regions    []Region
	Warnings   []string
	ContentType *string
}

// ExtractionResult is the full contract output of the extraction stage
// (spec §4.B).
type ExtractionResult struct {
	Method    Method
	Pages    []PageExtraction
	FullText   string
	OverallConfidence float64
	Language   *string
	PageCount  int
}

// TextExtractor reads a digital-text-layer source directly (plaintext
// files, or a PDF's embedded text layer) without invoking a model.
type TextExtractor interface {
	// ExtractText returns one string per page, in page order.
	ExtractText(ctx context.Context, stagedPath string) ([]string, error)
}

// ImagePreprocessor runs the deskew/contrast/binarize pipeline (spec
// §4.B) on a page bitmap before it's sent to the vision model. It returns
// the preprocessed bitmap and a quality metric in [0,1] the caller may use
// to lower the default rasterized-page confidence.
type ImagePreprocessor interface {
	Preprocess(ctx context.Context, pageImage []byte) (processed []byte, quality float64, err error)
}

// PdfRenderer rasterizes a PDF's pages to bitmaps for the vision path. A
// digital PDF with no selectable text layer, or any image-only input,
// goes through this collaborator.
type PdfRenderer interface {
	// RenderPages returns one bitmap per page, in page order.
	RenderPages(ctx context.Context, stagedPath string) ([][]byte, error)
	// HasSelectableText reports whether the PDF carries an extractable
	// text layer, used to choose between the digital and rasterized path.
	HasSelectableText(ctx context.Context, stagedPath string) (bool, error)
	// IsEncrypted reports whether the PDF is password-protected.
	IsEncrypted(ctx context.Context, stagedPath string) (bool, error)
}

const visionPrompt = `Transcribe this page faithfully as Markdown. Preserve structure (headings, lists, tables). Do not summarize, paraphrase, or add content not present on the page. If text is illegible, mark it [illegible].`

// maxOversizedImageBytes mirrors the model client's own 20MB base64
// bound; extraction rejects oversized pages before calling the vision
// path so the failure is attributed correctly (OversizedImage, not a
// model-client-side rejection).
const maxOversizedImageBytes = 20 * 1024 * 1024 * 3 / 4 // raw bytes, base64 inflates by ~4/3

// Stage is the extraction stage's production entry point, wired with its
// injected collaborators (spec §9 trait-based DI: tests substitute
// deterministic fakes for any of these).
type Stage struct {
	TextExtractor  TextExtractor
	ImagePreprocessor ImagePreprocessor
	PdfRenderer    PdfRenderer
	Vision      modelclient.VisionGenerator
	VisionModel    string
}

// Extract dispatches on format and produces an ExtractionResult, or a
// typed *errs.CoreError for one of the documented failure modes:
// EncryptedPdf and Unsupported (non-retryable), NotReachable (the model
// is unreachable, retryable), ImageTooLarge (non-retryable).
func (s *Stage) Extract(ctx context.Context, stagedPath string, format Format) (ExtractionResult, error) {
	switch format {
	case FormatPlaintext:
		return s.extractPlaintext(ctx, stagedPath)
	case FormatDigitalPDF:
		return s.extractDigitalOrRasterized(ctx, stagedPath)
	case FormatRasterizedPDF, FormatImage:
		return s.extractRasterized(ctx, stagedPath)
	case FormatEncryptedPDF:
		return ExtractionResult{}, errs.New(errs.KindImportEncryptedPdf, "PDF is password-protected")
	default:
		return ExtractionResult{}, errs.New(errs.KindImportUnsupported, "unsupported document format")
	}
}

func (s *Stage) extractPlaintext(ctx context.Context, stagedPath string) (ExtractionResult, error) {
	texts, err := s.TextExtractor.ExtractText(ctx, stagedPath)
	if err != nil {
		return ExtractionResult{}, errs.Wrap(errs.KindExtractionError, "plaintext extraction failed", err)
	}
	pages := make([]PageExtraction, len(texts))
	var full strings.Builder
	for i, t := range texts {
		pages[i] = PageExtraction{PageNumber: i + 1, Text: t, Confidence: 0.99}
		if i > 0 {
			full.WriteString("\n\n")
		}
		full.WriteString(t)
	}
	return ExtractionResult{
		Method:    MethodPlaintext,
		Pages:    pages,
		FullText:   full.String(),
		OverallConfidence: 0.99,
		PageCount:  len(pages),
	}, nil
}

// extractDigitalOrRasterized picks between the digital-text-layer path and
// the rasterized/vision path depending on whether the PDF carries
// selectable text, per spec §4.B.
func (s *Stage) extractDigitalOrRasterized(ctx context.Context, stagedPath string) (ExtractionResult, error) {
	encrypted, err := s.PdfRenderer.IsEncrypted(ctx, stagedPath)
	if err != nil {
		return ExtractionResult{}, errs.Wrap(errs.KindExtractionError, "failed to inspect PDF", err)
	}
	if encrypted {
		return ExtractionResult{}, errs.New(errs.KindImportEncryptedPdf, "PDF is password-protected")
	}
	hasText, err := s.PdfRenderer.HasSelectableText(ctx, stagedPath)
	if err != nil {
		return ExtractionResult{}, errs.Wrap(errs.KindExtractionError, "failed to inspect PDF", err)
	}
	if !hasText {
		return s.extractRasterized(ctx, stagedPath)
	}

	texts, err := s.TextExtractor.ExtractText(ctx, stagedPath)
	if err != nil {
		return ExtractionResult{}, errs.Wrap(errs.KindExtractionError, "digital text extraction failed", err)
	}
	pages := make([]PageExtraction, len(texts))
	var full strings.Builder
	for i, t := range texts {
		pages[i] = PageExtraction{PageNumber: i + 1, Text: t, Confidence: 0.95}
		if i > 0 {
			full.WriteString("\n\n")
		}
		full.WriteString(t)
	}
	return ExtractionResult{
		Method:    MethodDigitalText,
		Pages:    pages,
		FullText:   full.String(),
		OverallConfidence: 0.95,
		PageCount:  len(pages),
	}, nil
}

// extractRasterized renders each page to a bitmap, preprocesses it, and
// sends it through the model client's vision chat path with a fixed
// transcription prompt (spec §4.B). Default confidence is 0.85, lowered by
// the preprocessor's quality metric when that metric is worse.
func (s *Stage) extractRasterized(ctx context.Context, stagedPath string) (ExtractionResult, error) {
	bitmaps, err := s.PdfRenderer.RenderPages(ctx, stagedPath)
	if err != nil {
		return ExtractionResult{}, errs.Wrap(errs.KindExtractionError, "rasterization failed", err)
	}

	pages := make([]PageExtraction, 0, len(bitmaps))
	var full strings.Builder
	for i, bitmap := range bitmaps {
		processed, quality, err := s.ImagePreprocessor.Preprocess(ctx, bitmap)
		if err != nil {
			return ExtractionResult{}, errs.Wrap(errs.KindExtractionError, "image preprocessing failed", err)
		}
		if len(processed) > maxOversizedImageBytes {
			return ExtractionResult{}, errs.New(errs.KindImageTooLarge, "page image exceeds size bound")
		}

		text, err := s.Vision.ChatWithImages(ctx, "", visionPrompt, [][]byte{processed}, modelclient.GenerationParams{
			Model:      s.VisionModel,
			Temperature:  floatPtr(0.0),
			KeepAlive:    "30m",
		})
		if err != nil {
			return ExtractionResult{}, errs.Wrap(errs.KindNotReachable, "vision model unreachable", err)
		}

		confidence := 0.85
		if quality < confidence {
			confidence = quality
		}
		pages = append(pages, PageExtraction{PageNumber: i + 1, Text: text, Confidence: confidence})
		if i > 0 {
			full.WriteString("\n\n")
		}
		full.WriteString(text)
	}

	overall := 0.85
	if len(pages) > 0 {
		var sum float64
		for _, p := range pages {
			sum += p.Confidence
		}
		overall = sum / float64(len(pages))
	}
	return ExtractionResult{
		Method:    MethodVisionOCR,
		Pages:    pages,
		FullText:   full.String(),
		OverallConfidence: overall,
		PageCount:  len(pages),
	}, nil
}

func floatPtr(f float64) *float64 { return &f }
