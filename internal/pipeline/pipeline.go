// Package pipeline implements the processor orchestrator (spec §4.D): the
// single public entry point for document intake. It drives a document
// through Imported → Extracting → Structuring → PendingReview → Ingested,
// invoking the extraction and structuring stages and merging their
// per-page results deterministically.
package pipeline

import (
	"context"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ktiyab/coheara/internal/errs"
	"github.com/ktiyab/coheara/internal/extraction"
	"github.com/ktiyab/coheara/internal/observability"
	"github.com/ktiyab/coheara/internal/structuring"
	"github.com/ktiyab/coheara/internal/types"
)

const tracerName = "coheara.pipeline"

// ImportStatus narrows the outcome of staging a source file.
type ImportStatus string

const (
	ImportStaged   ImportStatus = "Staged"
	ImportDuplicate  ImportStatus = "Duplicate"
	ImportUnsupported ImportStatus = "Unsupported"
)

// ImportResult is produced by the import step (spec §4.D step 1).
type ImportResult struct {
	DocumentID    types.ID
	OriginalFilename string
	Status      ImportStatus
	StagedPath    string
	Format      extraction.Format
}

// Importer stages a source file and detects its format/duplicate status.
// Production bindings live with the encrypted SQL store and staging
// directory (external collaborators per spec §1); the orchestrator only
// consumes this interface.
type Importer interface {
	Import(ctx context.Context, sourcePath string) (ImportResult, error)
}

// Session scopes pipeline operations to an open profile, matching the
// "profile session" contract of spec §4.B/§4.D. It is an opaque handle
// the caller provides and the orchestrator forwards to collaborators.
type Session interface {
	ProfileID() types.ID
}

// Conn is the persistence handle the orchestrator writes pipeline_status
// and confidence values through. Production bindings live with the
// encrypted SQL store.
type Conn interface {
	SetPipelineStatus(ctx context.Context, documentID types.ID, status types.PipelineStatus) error
	SetOCRConfidence(ctx context.Context, documentID types.ID, confidence float64) error
}

// PageProgressCallback fires after each page's structuring attempt (spec
// §4.D step 5).
type PageProgressCallback func(current, total int)

// BetweenStagesHook runs after extraction completes and before
// structuring begins. Its canonical use on CPU-only hosts is unloading
// the vision model and warming the structuring model to free RAM (spec
// §4.D step 4).
type BetweenStagesHook func(ctx context.Context) error

// ProcessingOutput is the merged result of processing one document.
type ProcessingOutput struct {
	DocumentID types.ID
	Result   structuring.StructuringResult
}

// Orchestrator is the pipeline's production entry point, wired with its
// injected collaborators (spec §9 trait-based DI).
type Orchestrator struct {
	Importer     Importer
	Extraction    *extraction.Stage
	Structuring   *structuring.Stage
	BetweenStages  BetweenStagesHook
	OnPageProgress PageProgressCallback
}

// ProcessFile drives one document through the full pipeline (spec §4.D).
// Every error path sets pipeline_status to Failed on the owning document
// (the document row itself is preserved for retry) and is mapped to a
// PatientError by the caller via errs.ToPatientError.
func (o *Orchestrator) ProcessFile(ctx context.Context, sourcePath string, session Session, conn Conn) (ProcessingOutput, error) {
	ctx, span := observability.StartSpan(ctx, tracerName, "ProcessFile",
		attribute.String("profile_id", session.ProfileID().String()))
	defer span.End()

	output, err := o.processFile(ctx, sourcePath, conn)
	if err != nil {
		observability.RecordError(span, err)
		return output, err
	}
	observability.SetSpanAttributes(span, attribute.String("document_id", output.DocumentID.String()))
	observability.SetSpanOK(span)
	return output, nil
}

func (o *Orchestrator) processFile(ctx context.Context, sourcePath string, conn Conn) (ProcessingOutput, error) {
	imported, err := o.Importer.Import(ctx, sourcePath)
	if err != nil {
		return ProcessingOutput{}, errs.Wrap(errs.KindImportIo, "import failed", err)
	}
	switch imported.Status {
	case ImportDuplicate:
		return ProcessingOutput{}, errs.New(errs.KindImportDuplicate, "document already imported")
	case ImportUnsupported:
		return ProcessingOutput{}, errs.New(errs.KindImportUnsupported, "unsupported document format")
	case ImportStaged:
		// proceeds below
	default:
		return ProcessingOutput{}, errs.New(errs.KindImportUnsupported, "unrecognized import status")
	}

	documentID := imported.DocumentID

	if err := conn.SetPipelineStatus(ctx, documentID, types.StatusExtracting); err != nil {
		return ProcessingOutput{}, errs.Wrap(errs.KindDatabaseError, "failed to set pipeline_status", err)
	}
	extracted, err := o.Extraction.Extract(ctx, imported.StagedPath, imported.Format)
	if err != nil {
		o.fail(ctx, conn, documentID)
		return ProcessingOutput{}, err
	}
	if err := conn.SetOCRConfidence(ctx, documentID, extracted.OverallConfidence); err != nil {
		o.fail(ctx, conn, documentID)
		return ProcessingOutput{}, errs.Wrap(errs.KindDatabaseError, "failed to write OCR confidence", err)
	}

	if o.BetweenStages != nil {
		if err := o.BetweenStages(ctx); err != nil {
			o.fail(ctx, conn, documentID)
			return ProcessingOutput{}, errs.Wrap(errs.KindStructuringError, "between-stages hook failed", err)
		}
	}

	if err := conn.SetPipelineStatus(ctx, documentID, types.StatusStructuring); err != nil {
		o.fail(ctx, conn, documentID)
		return ProcessingOutput{}, errs.Wrap(errs.KindDatabaseError, "failed to set pipeline_status", err)
	}

	var pageResults []structuring.StructuringResult
	total := len(extracted.Pages)
	for i, page := range extracted.Pages {
		if structuring.ShouldSkip(page.Text) {
			if o.OnPageProgress != nil {
				o.OnPageProgress(i+1, total)
			}
			continue
		}
		result, err := o.Structuring.Structure(ctx, documentID, page.Text, page.Confidence)
		if err != nil {
			// Per-page fault tolerance (spec §4.D step 5, scenario S7):
			// skip the page and continue to the next one rather than
			// failing the whole document.
			if o.OnPageProgress != nil {
				o.OnPageProgress(i+1, total)
			}
			continue
		}
		pageResults = append(pageResults, result)
		if o.OnPageProgress != nil {
			o.OnPageProgress(i+1, total)
		}
	}

	if len(pageResults) == 0 {
		o.fail(ctx, conn, documentID)
		return ProcessingOutput{}, errs.New(errs.KindInputTooShort, "no page produced a structuring result")
	}

	merged := Merge(pageResults)
	return ProcessingOutput{DocumentID: documentID, Result: merged}, nil
}

func (o *Orchestrator) fail(ctx context.Context, conn Conn, documentID types.ID) {
	_ = conn.SetPipelineStatus(ctx, documentID, types.StatusFailed)
}

// Merge combines per-page StructuringResults into a single result,
// deterministically (spec §4.D per-page merge). Merge([result]) returns
// result unchanged (invariant 1, spec §8).
func Merge(pages []structuring.StructuringResult) structuring.StructuringResult {
	if len(pages) == 1 {
		return pages[0]
	}

	merged := structuring.StructuringResult{
		DocumentID: pages[0].DocumentID,
	}

	merged.DocumentType = firstNonOther(pages)
	merged.DocumentDate = minNonNilDate(pages)
	merged.Professional = firstNonNilProfessional(pages)
	merged.StructuredMarkdown = joinMarkdown(pages)
	merged.StructuringConfidence = weightedConfidence(pages)
	merged.ValidationWarnings = unionWarnings(pages)
	merged.ExtractedEntities = mergeEntities(pages)

	return merged
}

func firstNonOther(pages []structuring.StructuringResult) types.DocumentType {
	for _, p := range pages {
		if p.DocumentType != types.DocOther {
			return p.DocumentType
		}
	}
	return types.DocOther
}

func minNonNilDate(pages []structuring.StructuringResult) *string {
	var min *string
	for _, p := range pages {
		if p.DocumentDate == nil {
			continue
		}
		if min == nil || *p.DocumentDate < *min {
			d := *p.DocumentDate
			min = &d
		}
	}
	return min
}

func firstNonNilProfessional(pages []structuring.StructuringResult) *string {
	for _, p := range pages {
		if p.Professional != nil {
			return p.Professional
		}
	}
	return nil
}

func joinMarkdown(pages []structuring.StructuringResult) string {
	parts := make([]string, len(pages))
	for i, p := range pages {
		parts[i] = p.StructuredMarkdown
	}
	var b strings.Builder
	for i, part := range parts {
		if i > 0 {
			b.WriteString("\n\n--- Page ")
			b.WriteString(itoa(i + 1))
			b.WriteString(" ---\n\n")
		}
		b.WriteString(part)
	}
	return b.String()
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

// weightedConfidence averages structuring_confidence weighted by each
// page's markdown length; falls back to an unweighted mean when total
// length is zero (spec §4.D).
func weightedConfidence(pages []structuring.StructuringResult) float64 {
	var totalLen int
	var weightedSum float64
	for _, p := range pages {
		l := len(p.StructuredMarkdown)
		totalLen += l
		weightedSum += float64(l) * p.StructuringConfidence
	}
	if totalLen == 0 {
		var sum float64
		for _, p := range pages {
			sum += p.StructuringConfidence
		}
		if len(pages) == 0 {
			return 0
		}
		return sum / float64(len(pages))
	}
	return weightedSum / float64(totalLen)
}

func unionWarnings(pages []structuring.StructuringResult) []string {
	seen := map[string]bool{}
	var out []string
	for _, p := range pages {
		for _, w := range p.ValidationWarnings {
			if !seen[w] {
				seen[w] = true
				out = append(out, w)
			}
		}
	}
	return out
}

// normalize lowercases and collapses whitespace for dedup-key comparisons
// (spec §4.D).
func normalize(s string) string {
	fields := strings.Fields(strings.ToLower(s))
	return strings.Join(fields, " ")
}

func mergeEntities(pages []structuring.StructuringResult) structuring.ExtractedEntities {
	var out structuring.ExtractedEntities

	medsByKey := map[string]types.Medication{}
	var medOrder []string
	for _, p := range pages {
		for _, m := range p.ExtractedEntities.Medications {
			name := m.GenericName
			if m.BrandName != nil {
				name = name + "|" + *m.BrandName
			}
			key := normalize(name) + "|" + normalize(m.Dose)
			if existing, ok := medsByKey[key]; ok {
				if confidenceOf(m) > confidenceOf(existing) {
					medsByKey[key] = m
				}
			} else {
				medsByKey[key] = m
				medOrder = append(medOrder, key)
			}
		}
	}
	for _, k := range medOrder {
		out.Medications = append(out.Medications, medsByKey[k])
	}

	labsByKey := map[string]types.LabResult{}
	var labOrder []string
	for _, p := range pages {
		for _, l := range p.ExtractedEntities.LabResults {
			valuePart := ""
			if l.ValueText != nil {
				valuePart = normalize(*l.ValueText)
			} else if l.Value != nil {
				valuePart = formatFloat(*l.Value)
			}
			key := normalize(l.TestName) + "|" + valuePart
			if existing, ok := labsByKey[key]; ok {
				_ = existing
				// labs carry no confidence field distinguishing
				// collisions; keep first occurrence deterministically.
				continue
			}
			labsByKey[key] = l
			labOrder = append(labOrder, key)
		}
	}
	for _, k := range labOrder {
		out.LabResults = append(out.LabResults, labsByKey[k])
	}

	diagByKey := map[string]types.Diagnosis{}
	var diagOrder []string
	for _, p := range pages {
		for _, d := range p.ExtractedEntities.Diagnoses {
			key := normalize(d.Name)
			if _, ok := diagByKey[key]; ok {
				continue
			}
			diagByKey[key] = d
			diagOrder = append(diagOrder, key)
		}
	}
	for _, k := range diagOrder {
		out.Diagnoses = append(out.Diagnoses, diagByKey[k])
	}

	allergyByKey := map[string]types.Allergy{}
	var allergyOrder []string
	for _, p := range pages {
		for _, a := range p.ExtractedEntities.Allergies {
			key := normalize(a.Allergen)
			if _, ok := allergyByKey[key]; ok {
				continue
			}
			allergyByKey[key] = a
			allergyOrder = append(allergyOrder, key)
		}
	}
	for _, k := range allergyOrder {
		out.Allergies = append(out.Allergies, allergyByKey[k])
	}

	procByKey := map[string]types.Procedure{}
	var procOrder []string
	for _, p := range pages {
		for _, pr := range p.ExtractedEntities.Procedures {
			datePart := ""
			if pr.Date != nil {
				datePart = pr.Date.Format("2006-01-02")
			}
			key := normalize(pr.Name) + "|" + datePart
			if _, ok := procByKey[key]; ok {
				continue
			}
			procByKey[key] = pr
			procOrder = append(procOrder, key)
		}
	}
	for _, k := range procOrder {
		out.Procedures = append(out.Procedures, procByKey[k])
	}

	refByKey := map[string]types.Referral{}
	var refOrder []string
	for _, p := range pages {
		for _, r := range p.ExtractedEntities.Referrals {
			specialty := ""
			if r.Specialty != nil {
				specialty = normalize(*r.Specialty)
			}
			key := normalize(r.ReferredTo) + "|" + specialty
			if _, ok := refByKey[key]; ok {
				continue
			}
			refByKey[key] = r
			refOrder = append(refOrder, key)
		}
	}
	for _, k := range refOrder {
		out.Referrals = append(out.Referrals, refByKey[k])
	}

	instrByKey := map[string]types.MedicationInstruction{}
	var instrOrder []string
	for _, p := range pages {
		for _, ins := range p.ExtractedEntities.Instructions {
			key := normalize(ins.Text)
			if _, ok := instrByKey[key]; ok {
				continue // instructions carry no confidence: keep first occurrence
			}
			instrByKey[key] = ins
			instrOrder = append(instrOrder, key)
		}
	}
	for _, k := range instrOrder {
		out.Instructions = append(out.Instructions, instrByKey[k])
	}

	return out
}

// confidenceOf derives a medication's collision-resolution confidence.
// Structured medications carry no explicit per-entity confidence field;
// dose completeness (both dose and frequency populated) is used as the
// tiebreaker so the more fully-specified entity wins a collision.
func confidenceOf(m types.Medication) float64 {
	score := 0.0
	if strings.TrimSpace(m.Dose) != "" {
		score += 0.5
	}
	if strings.TrimSpace(m.Frequency) != "" {
		score += 0.5
	}
	return score
}

// formatFloat renders f deterministically for dedup-key comparison (exact
// numeric equality only, no rounding tolerance).
func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
