// Package structuring implements the structuring stage (spec §4.C): given
// one page's text and its OCR confidence, it prompts the local model for a
// fenced JSON object of extracted clinical entities plus a Markdown
// rendering, validates the JSON against the closed entity schema, and
// retries once with a repair prompt on parse failure.
package structuring

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ktiyab/coheara/internal/errs"
	"github.com/ktiyab/coheara/internal/modelclient"
	"github.com/ktiyab/coheara/internal/types"
)

// StructuringResult is the contract output of the structuring stage (spec
// §4.C).
type StructuringResult struct {
	DocumentID        types.ID
	DocumentType       types.DocumentType
	DocumentDate       *string // ISO calendar date, parsed by the caller
	Professional       *string
	StructuredMarkdown    string
	ExtractedEntities    ExtractedEntities
	StructuringConfidence  float64
	ValidationWarnings    []string
}

// ExtractedEntities groups every entity family a single page may yield.
type ExtractedEntities struct {
	Medications []types.Medication
	LabResults  []types.LabResult
	Diagnoses  []types.Diagnosis
	Allergies  []types.Allergy
	Procedures []types.Procedure
	Referrals  []types.Referral
	Instructions []types.MedicationInstruction
}

// minPageChars is the spec §4.C input threshold: pages whose trimmed text
// is shorter than this are skipped without invoking the model.
const minPageChars = 10

// ShouldSkip reports whether pageText is too short to structure.
func ShouldSkip(pageText string) bool {
	return len(strings.TrimSpace(pageText)) < minPageChars
}

// rawSchema is the JSON shape the model is asked to emit. Field names
// match ExtractedEntities/StructuringResult one-to-one so decoding can use
// the standard library decoder without a bespoke translation layer.
type rawSchema struct {
	DocumentType string      `json:"document_type"`
	DocumentDate *string     `json:"document_date"`
	Professional *string     `json:"professional"`
	Medications  []rawMedication  `json:"medications"`
	LabResults  []rawLabResult  `json:"lab_results"`
	Diagnoses  []rawDiagnosis  `json:"diagnoses"`
	Allergies  []rawAllergy   `json:"allergies"`
	Procedures []rawProcedure  `json:"procedures"`
	Referrals  []rawReferral   `json:"referrals"`
	Instructions []rawInstruction `json:"instructions"`
}

type rawMedication struct {
	GenericName string `json:"generic_name"`
	BrandName  *string `json:"brand_name"`
	Dose     string `json:"dose"`
	Frequency  string `json:"frequency"`
	FrequencyType string `json:"frequency_type"`
	Route    string `json:"route"`
	Prescriber  *string `json:"prescriber"`
	IsOTC    bool  `json:"is_otc"`
	Status    string `json:"status"`
	IsCompound  bool  `json:"is_compound"`
	Condition  *string `json:"condition"`
}

type rawLabResult struct {
	TestName   string  `json:"test_name"`
	TestCode   *string  `json:"test_code"`
	Value    *float64 `json:"value"`
	ValueText  *string  `json:"value_text"`
	Unit     *string  `json:"unit"`
	RangeLow   *float64 `json:"reference_range_low"`
	RangeHigh  *float64 `json:"reference_range_high"`
	AbnormalFlag string  `json:"abnormal_flag"`
	CollectionDate string  `json:"collection_date"`
}

type rawDiagnosis struct {
	Name     string `json:"name"`
	Status    string `json:"status"`
	DiagnosedDate *string `json:"diagnosed_date"`
}

type rawAllergy struct {
	Allergen string `json:"allergen"`
	Severity *string `json:"severity"`
	Reaction *string `json:"reaction"`
}

type rawProcedure struct {
	Name string `json:"name"`
	Date *string `json:"date"`
}

type rawReferral struct {
	ReferredTo  string `json:"referred_to"`
	Specialty  *string `json:"specialty"`
	ReferralDate *string `json:"referral_date"`
}

type rawInstruction struct {
	Text string `json:"text"`
}

// SystemPrompt composes the voice/role/locale system prompt preceding the
// schema instruction (spec §4.C step 1).
func SystemPrompt(locale string) string {
	return fmt.Sprintf(`You are a clinical document structuring assistant operating entirely offline on the patient's own device, locale %s. You extract structured data faithfully from the page text given to you. You never infer values not present in the text. You never offer diagnosis, treatment advice, or medical opinions — you only transcribe and classify what the document states.`, locale)
}

// UserPrompt composes the schema-describing user prompt wrapping pageText
// (spec §4.C step 1): it must require a fenced JSON object followed by a
// Markdown rendering.
func UserPrompt(pageText string) string {
	return fmt.Sprintf(`Given the following page of a medical document, respond with:

1. A fenced JSON object matching this schema exactly (omit unknown fields, use null for missing optional values):
{"document_type":"prescription|lab_report|clinical_note|imaging_report|referral|other","document_date":"YYYY-MM-DD or null","professional":"name or null","medications":[...],"lab_results":[...],"diagnoses":[...],"allergies":[...],"procedures":[...],"referrals":[...],"instructions":[...]}

2. Followed by a Markdown rendering of the page content.

Page text:
%s`, pageText)
}

// repairPrompt is issued once if the first response's JSON fence fails to
// parse, echoing the parser error back to the model (spec §4.C step 3).
func repairPrompt(parseErr error) string {
	return fmt.Sprintf("Your previous response's JSON block failed to parse: %s. Respond again with only a corrected fenced JSON object followed by the Markdown rendering.", parseErr)
}

var fencedJSONRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

func extractFencedJSON(response string) (string, bool) {
	m := fencedJSONRe.FindStringSubmatch(response)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func extractMarkdown(response string) string {
	idx := fencedJSONRe.FindStringIndex(response)
	if idx == nil {
		return strings.TrimSpace(response)
	}
	return strings.TrimSpace(response[idx[1]:])
}

// Stage is the structuring stage's production entry point.
type Stage struct {
	Structurer modelclient.MedicalStructurer
	Model    string
	Locale   string
}

// Structure runs the page-text prompt/parse/validate/retry algorithm of
// spec §4.C.
func (s *Stage) Structure(ctx context.Context, documentID types.ID, pageText string, ocrConfidence float64) (StructuringResult, error) {
	guard := modelclient.DefaultStreamGuard()
	params := modelclient.GenerationParams{
		Model:      s.Model,
		Temperature:  floatPtr(0.1),
		TopP:      floatPtr(0.9),
		TopK:      intPtr(40),
		KeepAlive:   "30m",
	}
	prompt := SystemPrompt(s.Locale) + "\n\n" + UserPrompt(pageText)

	response, err := s.Structurer.GenerateStreamingGuarded(ctx, prompt, params, guard, nil)
	if err != nil {
		if de, ok := err.(*modelclient.DegenerationError); ok {
			return StructuringResult{}, errs.Wrap(errs.KindDegeneration, string(de.Pattern), de)
		}
		return StructuringResult{}, errs.Wrap(errs.KindStructuringError, "structuring generation failed", err)
	}

	raw, warnings, markdown, parseErr := parseAndValidate(response)
	if parseErr != nil {
		// One repair retry, echoing the parser error (spec §4.C step 3).
		guard2 := modelclient.DefaultStreamGuard()
		repairedPrompt := prompt + "\n\n" + repairPrompt(parseErr)
		response2, err2 := s.Structurer.GenerateStreamingGuarded(ctx, repairedPrompt, params, guard2, nil)
		if err2 != nil {
			return StructuringResult{}, errs.Wrap(errs.KindStructuringError, "structuring repair generation failed", err2)
		}
		raw, warnings, markdown, parseErr = parseAndValidate(response2)
		if parseErr != nil {
			return StructuringResult{}, errs.Wrap(errs.KindMalformedResponse, "structured output could not be parsed after repair", parseErr)
		}
	}

	entities, entityWarnings := toEntities(raw, documentID)
	warnings = append(warnings, entityWarnings...)

	docType, dtErr := types.ParseEnum(raw.DocumentType,
		types.DocPrescription, types.DocLabReport, types.DocClinicalNote,
		types.DocImagingReport, types.DocReferral, types.DocOther)
	if dtErr != nil {
		docType = types.DocOther
		warnings = append(warnings, "unknown document_type, defaulted to other")
	}

	return StructuringResult{
		DocumentID:       documentID,
		DocumentType:      docType,
		DocumentDate:      raw.DocumentDate,
		Professional:      raw.Professional,
		StructuredMarkdown:   markdown,
		ExtractedEntities:    entities,
		StructuringConfidence: ocrConfidence,
		ValidationWarnings:   warnings,
	}, nil
}

func parseAndValidate(response string) (rawSchema, []string, string, error) {
	fenced, ok := extractFencedJSON(response)
	if !ok {
		return rawSchema{}, nil, "", fmt.Errorf("no fenced JSON object found in response")
	}
	var raw rawSchema
	if err := json.Unmarshal([]byte(fenced), &raw); err != nil {
		return rawSchema{}, nil, "", err
	}
	markdown := extractMarkdown(response)
	return raw, nil, markdown, nil
}

// toEntities validates and converts each raw entity. An entity with an
// unknown enum value or missing required field is dropped with a warning;
// it never fails the whole page (spec §4.C step 4).
func toEntities(raw rawSchema, documentID types.ID) (ExtractedEntities, []string) {
	var out ExtractedEntities
	var warnings []string

	for _, m := range raw.Medications {
		if strings.TrimSpace(m.GenericName) == "" {
			warnings = append(warnings, "medication dropped: missing generic_name")
			continue
		}
		freqType, err := types.ParseEnum(m.FrequencyType, types.FreqScheduled, types.FreqAsNeeded, types.FreqTapering, types.FreqOneTime)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("medication %q dropped: unknown frequency_type", m.GenericName))
			continue
		}
		status, err := types.ParseEnum(m.Status, types.MedActive, types.MedStopped, types.MedPaused, types.MedCompleted)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("medication %q dropped: unknown status", m.GenericName))
			continue
		}
		out.Medications = append(out.Medications, types.Medication{
			ID:       types.NewID(),
			DocumentID:   documentID,
			GenericName:  m.GenericName,
			BrandName:   m.BrandName,
			Dose:      m.Dose,
			Frequency:   m.Frequency,
			FrequencyType: freqType,
			Route:     m.Route,
			IsOTC:     m.IsOTC,
			Status:     status,
			IsCompound:  m.IsCompound,
			Condition:   m.Condition,
			DoseType:   types.DoseFixed,
		})
	}

	for _, l := range raw.LabResults {
		if strings.TrimSpace(l.TestName) == "" {
			warnings = append(warnings, "lab result dropped: missing test_name")
			continue
		}
		if l.Value == nil && (l.ValueText == nil || strings.TrimSpace(*l.ValueText) == "") {
			warnings = append(warnings, fmt.Sprintf("lab result %q dropped: missing value", l.TestName))
			continue
		}
		flag, err := types.ParseEnum(l.AbnormalFlag, types.FlagNormal, types.FlagLow, types.FlagHigh, types.FlagCriticalLow, types.FlagCriticalHigh)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("lab result %q dropped: unknown abnormal_flag", l.TestName))
			continue
		}
		collectionDate, err := parseDate(l.CollectionDate)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("lab result %q dropped: unparseable collection_date", l.TestName))
			continue
		}
		out.LabResults = append(out.LabResults, types.LabResult{
			ID:        types.NewID(),
			DocumentID:    documentID,
			TestName:     l.TestName,
			TestCode:     l.TestCode,
			Value:       l.Value,
			ValueText:     l.ValueText,
			Unit:       l.Unit,
			ReferenceRangeLow: l.RangeLow,
			ReferenceRangeHigh: l.RangeHigh,
			AbnormalFlag:   flag,
			CollectionDate:  collectionDate,
		})
	}

	for _, d := range raw.Diagnoses {
		if strings.TrimSpace(d.Name) == "" {
			warnings = append(warnings, "diagnosis dropped: missing name")
			continue
		}
		status, err := types.ParseEnum(d.Status, types.DiagnosisActive, types.DiagnosisResolved, types.DiagnosisChronic)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("diagnosis %q dropped: unknown status", d.Name))
			continue
		}
		out.Diagnoses = append(out.Diagnoses, types.Diagnosis{
			ID:      types.NewID(),
			DocumentID:  documentID,
			Name:     d.Name,
			Status:    status,
			DiagnosedDate: parseDatePtr(d.DiagnosedDate),
		})
	}

	for _, a := range raw.Allergies {
		if strings.TrimSpace(a.Allergen) == "" {
			warnings = append(warnings, "allergy dropped: missing allergen")
			continue
		}
		out.Allergies = append(out.Allergies, types.Allergy{
			ID:      types.NewID(),
			DocumentID:  documentID,
			Allergen:   a.Allergen,
			Severity:   a.Severity,
			Reaction:   a.Reaction,
		})
	}

	for _, p := range raw.Procedures {
		if strings.TrimSpace(p.Name) == "" {
			warnings = append(warnings, "procedure dropped: missing name")
			continue
		}
		out.Procedures = append(out.Procedures, types.Procedure{
			ID:      types.NewID(),
			DocumentID:  documentID,
			Name:     p.Name,
			Date:     parseDatePtr(p.Date),
		})
	}

	for _, r := range raw.Referrals {
		if strings.TrimSpace(r.ReferredTo) == "" {
			warnings = append(warnings, "referral dropped: missing referred_to")
			continue
		}
		out.Referrals = append(out.Referrals, types.Referral{
			ID:      types.NewID(),
			DocumentID:  documentID,
			ReferredTo:  r.ReferredTo,
			Specialty:  r.Specialty,
			ReferralDate: parseDatePtr(r.ReferralDate),
		})
	}

	for _, ins := range raw.Instructions {
		if strings.TrimSpace(ins.Text) == "" {
			warnings = append(warnings, "instruction dropped: missing text")
			continue
		}
		out.Instructions = append(out.Instructions, types.MedicationInstruction{
			ID:      types.NewID(),
			DocumentID:  documentID,
			Text:     ins.Text,
		})
	}

	return out, warnings
}

func floatPtr(f float64) *float64 { return &f }
func intPtr(i int) *int       { return &i }

// parseDate parses a calendar date in YYYY-MM-DD form (spec §3: dates are
// calendar dates with no timezone).
func parseDate(s string) (time.Time, error) {
	return time.Parse("2006-01-02", strings.TrimSpace(s))
}

// parseDatePtr parses an optional date, returning nil on empty input or
// parse failure rather than propagating the error — callers that need to
// drop the entity on bad input call parseDate directly instead.
func parseDatePtr(s *string) *time.Time {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	t, err := parseDate(*s)
	if err != nil {
		return nil
	}
	return &t
}
