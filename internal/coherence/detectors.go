package coherence

import (
	"fmt"
	"time"

	"github.com/ktiyab/coheara/internal/types"
)

// isTargetMedication restricts a medication to the target document when
// documentID is non-nil; a nil documentID means "full-snapshot scan"
// (spec §4.E).
func isTargetMedication(m types.Medication, documentID *types.ID) bool {
	return documentID == nil || m.DocumentID == *documentID
}

func isTargetLab(l types.LabResult, documentID *types.ID) bool {
	return documentID == nil || l.DocumentID == *documentID
}

func isActiveMed(m types.Medication) bool { return m.Status == types.MedActive }

func buildPrescriberRef(snap RepositorySnapshot, m types.Medication) types.PrescriberRef {
	ref := types.PrescriberRef{DocumentID: m.DocumentID}
	if m.PrescriberID != nil {
		ref.ProfessionalID = *m.PrescriberID
		ref.Name = snap.professionalName(m.PrescriberID)
	} else {
		ref.Name = "unknown prescriber"
	}
	return ref
}

func samePrescriber(a, b types.Medication) bool {
	if a.PrescriberID == nil || b.PrescriberID == nil {
		return false
	}
	return *a.PrescriberID == *b.PrescriberID
}

// DetectConflicts is detector 1 (spec §4.E): active medications sharing a
// resolved generic name across distinct documents, prescribed by
// different (or unknown) prescribers, raise one alert per differing field
// among {dose, frequency, route}.
func DetectConflicts(snap RepositorySnapshot, documentID *types.ID, ref ReferenceData) []types.Alert {
	var alerts []alertWithKey
	for i, target := range snap.Medications {
		if !isTargetMedication(target, documentID) || !isActiveMed(target) {
			continue
		}
		targetGeneric := ref.ResolveGeneric(target.GenericName)
		for j, other := range snap.Medications {
			if i == j || !isActiveMed(other) {
				continue
			}
			if other.DocumentID == target.DocumentID {
				continue
			}
			if ref.ResolveGeneric(other.GenericName) != targetGeneric {
				continue
			}
			if samePrescriber(target, other) {
				continue
			}
			for _, field := range conflictFields(target, other) {
				alerts = append(alerts, buildConflictAlert(snap, target, other, field))
			}
		}
	}
	return finalize(snap, alerts)
}

type conflictField struct {
	name  string
	valueA string
	valueB string
}

func conflictFields(a, b types.Medication) []conflictField {
	var out []conflictField
	if normalizeText(a.Dose) != normalizeText(b.Dose) {
		out = append(out, conflictField{"dose", a.Dose, b.Dose})
	}
	if normalizeText(a.Frequency) != normalizeText(b.Frequency) {
		out = append(out, conflictField{"frequency", a.Frequency, b.Frequency})
	}
	if normalizeText(a.Route) != normalizeText(b.Route) {
		out = append(out, conflictField{"route", a.Route, b.Route})
	}
	return out
}

func buildConflictAlert(snap RepositorySnapshot, a, b types.Medication, field conflictField) alertWithKey {
	entityIDs := []types.ID{a.ID, b.ID}
	key := dismissedAlertKey(types.AlertConflict, entityIDs, field.name)
	msg := fmt.Sprintf("Your documents show %s prescribed with differing %s: %q vs %q.", a.GenericName, field.name, field.valueA, field.valueB)
	alert := types.Alert{
		ID:         types.NewID(),
		Type:        types.AlertConflict,
		Severity:      types.SeverityStandard,
		EntityIDs:     entityIDs,
		SourceDocumentIDs: []types.ID{a.DocumentID, b.DocumentID},
		PatientMessage:   msg,
		Detail: types.AlertDetail{
			Kind: types.AlertConflict,
			Conflict: &types.ConflictDetail{
				MedicationName:  a.GenericName,
				PrescriberA:    buildPrescriberRef(snap, a),
				PrescriberB:    buildPrescriberRef(snap, b),
				FieldConflicted:  field.name,
				ValueA:       field.valueA,
				ValueB:       field.valueB,
			},
		},
		DetectedAt: time.Now().UTC(),
	}
	return alertWithKey{alert: alert, dedupKey: key, pairKey: symmetricPairKey("conflict:"+field.name, a.ID, b.ID)}
}

// DetectDuplicates is detector 2: the same generic appearing under two
// distinct display names (brand vs generic, or two brands) on distinct
// documents.
func DetectDuplicates(snap RepositorySnapshot, documentID *types.ID, ref ReferenceData) []types.Alert {
	var alerts []alertWithKey
	for i, target := range snap.Medications {
		if !isTargetMedication(target, documentID) {
			continue
		}
		targetGeneric := ref.ResolveGeneric(target.GenericName)
		targetDisplay := displayName(target)
		for j, other := range snap.Medications {
			if i == j || other.DocumentID == target.DocumentID {
				continue
			}
			if ref.ResolveGeneric(other.GenericName) != targetGeneric {
				continue
			}
			otherDisplay := displayName(other)
			if normalizeText(targetDisplay) == normalizeText(otherDisplay) {
				continue
			}
			alerts = append(alerts, buildDuplicateAlert(target, other))
		}
	}
	return finalize(snap, alerts)
}

func displayName(m types.Medication) string {
	if m.BrandName != nil && *m.BrandName != "" {
		return *m.BrandName
	}
	return m.GenericName
}

func buildDuplicateAlert(a, b types.Medication) alertWithKey {
	entityIDs := []types.ID{a.ID, b.ID}
	key := dismissedAlertKey(types.AlertDuplicate, entityIDs, "")
	msg := fmt.Sprintf("Your documents show %s and %s may be the same medication (%s).", displayName(a), displayName(b), a.GenericName)
	alert := types.Alert{
		ID:         types.NewID(),
		Type:        types.AlertDuplicate,
		Severity:      types.SeverityStandard,
		EntityIDs:     entityIDs,
		SourceDocumentIDs: []types.ID{a.DocumentID, b.DocumentID},
		PatientMessage:   msg,
		Detail: types.AlertDetail{
			Kind: types.AlertDuplicate,
			Duplicate: &types.DuplicateDetail{
				GenericName:  a.GenericName,
				BrandA:     displayName(a),
				BrandB:     displayName(b),
				MedicationIDA: a.ID,
				MedicationIDB: b.ID,
			},
		},
		DetectedAt: time.Now().UTC(),
	}
	return alertWithKey{alert: alert, dedupKey: key, pairKey: symmetricPairKey("duplicate", a.ID, b.ID)}
}

// DetectGaps is detector 3, with two sub-rules (spec §4.E).
func DetectGaps(snap RepositorySnapshot, documentID *types.ID) []types.Alert {
	var alerts []alertWithKey

	for _, d := range snap.Diagnoses {
		if documentID != nil && d.DocumentID != *documentID {
			continue
		}
		if d.Status != types.DiagnosisActive {
			continue
		}
		related := false
		for _, m := range snap.Medications {
			if !isActiveMed(m) {
				continue
			}
			if m.Condition != nil && normalizeText(*m.Condition) == normalizeText(d.Name) {
				related = true
				break
			}
		}
		if related {
			continue
		}
		key := dismissedAlertKey(types.AlertGap, []types.ID{d.ID}, string(types.GapDiagnosisWithoutTreatment))
		alert := types.Alert{
			ID:         types.NewID(),
			Type:        types.AlertGap,
			Severity:      types.SeverityInfo,
			EntityIDs:     []types.ID{d.ID},
			SourceDocumentIDs: []types.ID{d.DocumentID},
			PatientMessage:   fmt.Sprintf("Your documents show a diagnosis of %s with no related active medication on record.", d.Name),
			Detail: types.AlertDetail{
				Kind: types.AlertGap,
				Gap: &types.GapDetail{
					GapType:   types.GapDiagnosisWithoutTreatment,
					EntityName: d.Name,
					EntityID:  d.ID,
					Expected:  "an active medication related to this diagnosis",
					DocumentID: d.DocumentID,
				},
			},
			DetectedAt: time.Now().UTC(),
		}
		alerts = append(alerts, alertWithKey{alert: alert, dedupKey: key})
	}

	for _, m := range snap.Medications {
		if documentID != nil && m.DocumentID != *documentID {
			continue
		}
		if !isActiveMed(m) || m.IsOTC {
			continue
		}
		if m.ReasonStart != nil && *m.ReasonStart != "" {
			continue
		}
		related := false
		for _, d := range snap.Diagnoses {
			if d.Status != types.DiagnosisActive {
				continue
			}
			if m.Condition != nil && normalizeText(*m.Condition) == normalizeText(d.Name) {
				related = true
				break
			}
		}
		if related {
			continue
		}
		key := dismissedAlertKey(types.AlertGap, []types.ID{m.ID}, string(types.GapMedicationWithoutDiagnosis))
		alert := types.Alert{
			ID:         types.NewID(),
			Type:        types.AlertGap,
			Severity:      types.SeverityInfo,
			EntityIDs:     []types.ID{m.ID},
			SourceDocumentIDs: []types.ID{m.DocumentID},
			PatientMessage:   fmt.Sprintf("Your documents show %s prescribed with no related diagnosis or stated reason on record.", m.GenericName),
			Detail: types.AlertDetail{
				Kind: types.AlertGap,
				Gap: &types.GapDetail{
					GapType:   types.GapMedicationWithoutDiagnosis,
					EntityName: m.GenericName,
					EntityID:  m.ID,
					Expected:  "a related active diagnosis or a stated reason for starting",
					DocumentID: m.DocumentID,
				},
			},
			DetectedAt: time.Now().UTC(),
		}
		alerts = append(alerts, alertWithKey{alert: alert, dedupKey: key})
	}

	return finalize(snap, alerts)
}

// DetectDrift is detector 4: medication/diagnosis status transitions that
// occurred without a recorded reason.
func DetectDrift(snap RepositorySnapshot, documentID *types.ID, ref ReferenceData) []types.Alert {
	var alerts []alertWithKey

	for _, target := range snap.Medications {
		if documentID != nil && target.DocumentID != *documentID {
			continue
		}
		targetGeneric := ref.ResolveGeneric(target.GenericName)
		for _, prior := range snap.Medications {
			if prior.ID == target.ID || prior.DocumentID == target.DocumentID {
				continue
			}
			if ref.ResolveGeneric(prior.GenericName) != targetGeneric {
				continue
			}
			if target.Status == types.MedStopped && prior.Status == types.MedActive {
				if target.ReasonStop == nil || *target.ReasonStop == "" {
					alerts = append(alerts, buildMedicationDriftAlert(target, prior, "active", "stopped"))
				}
			}
			if normalizeText(target.Dose) != normalizeText(prior.Dose) {
				hasReason := false
				for _, dc := range snap.DoseChanges {
					if dc.MedicationID == target.ID && dc.Reason != nil && *dc.Reason != "" {
						hasReason = true
						break
					}
				}
				if !hasReason {
					alerts = append(alerts, buildMedicationDriftAlert(target, prior, prior.Dose, target.Dose))
				}
			}
		}
	}

	for _, target := range snap.Diagnoses {
		if documentID != nil && target.DocumentID != *documentID {
			continue
		}
		for _, prior := range snap.Diagnoses {
			if prior.ID == target.ID || prior.DocumentID == target.DocumentID {
				continue
			}
			if normalizeText(prior.Name) != normalizeText(target.Name) {
				continue
			}
			if prior.Status == target.Status {
				continue
			}
			if target.StatusReason != nil && *target.StatusReason != "" {
				continue
			}
			key := dismissedAlertKey(types.AlertDrift, []types.ID{target.ID, prior.ID}, string(prior.Status)+"->"+string(target.Status))
			alert := types.Alert{
				ID:         types.NewID(),
				Type:        types.AlertDrift,
				Severity:      types.SeverityInfo,
				EntityIDs:     []types.ID{target.ID, prior.ID},
				SourceDocumentIDs: []types.ID{target.DocumentID, prior.DocumentID},
				PatientMessage:   fmt.Sprintf("Your documents show the diagnosis %s changed from %s to %s with no stated reason.", target.Name, prior.Status, target.Status),
				Detail: types.AlertDetail{
					Kind: types.AlertDrift,
					Drift: &types.DriftDetail{
						EntityName:   target.Name,
						EntityID:    target.ID,
						TransitionFrom: string(prior.Status),
						TransitionTo:  string(target.Status),
						DocumentID:   target.DocumentID,
					},
				},
				DetectedAt: time.Now().UTC(),
			}
			alerts = append(alerts, alertWithKey{
				alert:  alert,
				dedupKey: key,
				pairKey: symmetricPairKey("drift:diagnosis", target.ID, prior.ID),
			})
		}
	}

	return finalize(snap, alerts)
}

func buildMedicationDriftAlert(target, prior types.Medication, from, to string) alertWithKey {
	entityIDs := []types.ID{target.ID, prior.ID}
	key := dismissedAlertKey(types.AlertDrift, entityIDs, from+"->"+to)
	alert := types.Alert{
		ID:         types.NewID(),
		Type:        types.AlertDrift,
		Severity:      types.SeverityStandard,
		EntityIDs:     entityIDs,
		SourceDocumentIDs: []types.ID{target.DocumentID, prior.DocumentID},
		PatientMessage:   fmt.Sprintf("Your documents show %s changed from %s to %s with no stated reason.", target.GenericName, from, to),
		Detail: types.AlertDetail{
			Kind: types.AlertDrift,
			Drift: &types.DriftDetail{
				EntityName:   target.GenericName,
				EntityID:    target.ID,
				TransitionFrom: from,
				TransitionTo:  to,
				DocumentID:   target.DocumentID,
			},
		},
		DetectedAt: time.Now().UTC(),
	}
	return alertWithKey{
		alert:  alert,
		dedupKey: key,
		pairKey: symmetricPairKey("drift:medication:"+from+"->"+to, target.ID, prior.ID),
	}
}

const temporalWindowDays = 14

// DetectTemporal is detector 5: symptom onsets within 14 days of a
// medication start, dose change, or procedure.
func DetectTemporal(snap RepositorySnapshot, documentID *types.ID) []types.Alert {
	var alerts []alertWithKey

	var symptomsInScope []types.Symptom
	if documentID == nil {
		for _, s := range snap.Symptoms {
			if s.StillActive {
				symptomsInScope = append(symptomsInScope, s)
			}
		}
	} else {
		for _, s := range snap.Symptoms {
			if s.DocumentID == *documentID {
				symptomsInScope = append(symptomsInScope, s)
			}
		}
	}

	for _, symptom := range symptomsInScope {
		for _, m := range snap.Medications {
			if !isActiveMed(m) || m.StartDate == nil {
				continue
			}
			if days, ok := withinWindow(symptom.OnsetDate, *m.StartDate); ok {
				alerts = append(alerts, buildTemporalAlert(symptom, m.ID, types.EventMedicationStart, days, m.DocumentID))
			}
		}
		for _, dc := range snap.DoseChanges {
			if days, ok := withinWindow(symptom.OnsetDate, dc.ChangeDate); ok {
				alerts = append(alerts, buildTemporalAlert(symptom, dc.ID, types.EventDoseChange, days, dc.DocumentID))
			}
		}
		for _, proc := range snap.Procedures {
			if proc.Date == nil {
				continue
			}
			if days, ok := withinWindow(symptom.OnsetDate, *proc.Date); ok {
				alerts = append(alerts, buildTemporalAlert(symptom, proc.ID, types.EventProcedure, days, proc.DocumentID))
			}
		}
	}

	return finalize(snap, alerts)
}

// withinWindow reports whether 0 <= (onset - event) <= 14 days.
func withinWindow(onset, event time.Time) (int, bool) {
	days := int(onset.Sub(event).Hours() / 24)
	if days < 0 || days > temporalWindowDays {
		return 0, false
	}
	return days, true
}

func buildTemporalAlert(symptom types.Symptom, eventID types.ID, event types.CorrelatedEvent, days int, eventDocumentID types.ID) alertWithKey {
	entityIDs := []types.ID{symptom.ID, eventID}
	key := dismissedAlertKey(types.AlertTemporal, entityIDs, string(event))
	alert := types.Alert{
		ID:         types.NewID(),
		Type:        types.AlertTemporal,
		Severity:      types.SeverityStandard,
		EntityIDs:     entityIDs,
		SourceDocumentIDs: []types.ID{symptom.DocumentID, eventDocumentID},
		PatientMessage:   fmt.Sprintf("You reported %s %d day(s) after a %s.", symptom.Description, days, humanEventName(event)),
		Detail: types.AlertDetail{
			Kind: types.AlertTemporal,
			Temporal: &types.TemporalDetail{
				SymptomID:    symptom.ID,
				EventID:     eventID,
				CorrelatedEvent: event,
				DaysBetween:   days,
			},
		},
		DetectedAt: time.Now().UTC(),
	}
	return alertWithKey{alert: alert, dedupKey: key}
}

func humanEventName(event types.CorrelatedEvent) string {
	switch event {
	case types.EventMedicationStart:
		return "medication start"
	case types.EventDoseChange:
		return "dose change"
	case types.EventProcedure:
		return "procedure"
	default:
		return "event"
	}
}

// DetectAllergies is detector 6: new medications whose resolved
// ingredients match a recorded allergen (exact or same drug family).
func DetectAllergies(snap RepositorySnapshot, documentID *types.ID, ref ReferenceData) []types.Alert {
	var alerts []alertWithKey
	for _, m := range snap.Medications {
		if !isTargetMedication(m, documentID) {
			continue
		}
		ingredients := []string{ref.ResolveGeneric(m.GenericName)}
		if m.IsCompound {
			for _, ci := range snap.ingredientsOf(m.ID) {
				generic := ci.IngredientName
				if ci.GenericMapping != nil && *ci.GenericMapping != "" {
					generic = *ci.GenericMapping
				}
				ingredients = append(ingredients, ref.ResolveGeneric(generic))
			}
		}
		for _, a := range snap.Allergies {
			allergen := ref.ResolveGeneric(a.Allergen)
			for _, ingredient := range ingredients {
				sameFamily := ref.SameFamily(ingredient, allergen)
				if ingredient != allergen && !sameFamily {
					continue
				}
				key := dismissedAlertKey(types.AlertAllergy, []types.ID{m.ID, a.ID}, "")
				alert := types.Alert{
					ID:         types.NewID(),
					Type:        types.AlertAllergy,
					Severity:      types.SeverityCritical,
					EntityIDs:     []types.ID{m.ID, a.ID},
					SourceDocumentIDs: []types.ID{m.DocumentID, a.DocumentID},
					PatientMessage:   fmt.Sprintf("Your documents show an allergy to %s; %s may be related.", a.Allergen, m.GenericName),
					Detail: types.AlertDetail{
						Kind: types.AlertAllergy,
						Allergy: &types.AllergyDetail{
							Allergen:    a.Allergen,
							MedicationName: m.GenericName,
							MedicationID:  m.ID,
							AllergyID:    a.ID,
							SameFamily:   sameFamily,
						},
					},
					DetectedAt: time.Now().UTC(),
				}
				alerts = append(alerts, alertWithKey{alert: alert, dedupKey: key})
			}
		}
	}
	return finalize(snap, alerts)
}

// DetectDoseRange is detector 7: a new medication's single dose falling
// outside its reference range.
func DetectDoseRange(snap RepositorySnapshot, documentID *types.ID, ref ReferenceData) []types.Alert {
	var alerts []alertWithKey
	for _, m := range snap.Medications {
		if !isTargetMedication(m, documentID) {
			continue
		}
		generic := ref.ResolveGeneric(m.GenericName)
		dr, ok := ref.DoseRangeFor(generic)
		if !ok {
			continue
		}
		doseMg, ok := ParseDoseMg(m.Dose)
		if !ok {
			continue
		}
		if doseMg < dr.MinSingleMg || doseMg > dr.MaxSingleMg {
			key := dismissedAlertKey(types.AlertDose, []types.ID{m.ID}, "single")
			alert := types.Alert{
				ID:         types.NewID(),
				Type:        types.AlertDose,
				Severity:      types.SeverityStandard,
				EntityIDs:     []types.ID{m.ID},
				SourceDocumentIDs: []types.ID{m.DocumentID},
				PatientMessage:   fmt.Sprintf("Your documents show %s at %.0fmg, outside the typical single-dose range of %.0f-%.0fmg.", m.GenericName, doseMg, dr.MinSingleMg, dr.MaxSingleMg),
				Detail: types.AlertDetail{
					Kind: types.AlertDose,
					Dose: &types.DoseDetail{
						MedicationID: m.ID,
						DoseMg:    doseMg,
						MinSingleMg: dr.MinSingleMg,
						MaxSingleMg: dr.MaxSingleMg,
					},
				},
				DetectedAt: time.Now().UTC(),
			}
			alerts = append(alerts, alertWithKey{alert: alert, dedupKey: key})
		}
	}
	return finalize(snap, alerts)
}

// DetectDailyDose is detector 8: accumulated daily dose (single dose ×
// per-day frequency) exceeding the effective maximum (the lesser of the
// reference max_daily_mg and any prescriber-supplied max_daily_dose).
func DetectDailyDose(snap RepositorySnapshot, documentID *types.ID, ref ReferenceData) []types.Alert {
	var alerts []alertWithKey
	for _, m := range snap.Medications {
		if !isTargetMedication(m, documentID) {
			continue
		}
		generic := ref.ResolveGeneric(m.GenericName)
		dr, ok := ref.DoseRangeFor(generic)
		if !ok {
			continue
		}
		doseMg, ok := ParseDoseMg(m.Dose)
		if !ok {
			continue
		}
		multiplier, ok := ParseDailyMultiplier(m.Frequency)
		if !ok {
			continue
		}
		effectiveMax := dr.MaxDailyMg
		if m.MaxDailyDose != nil {
			if prescriberMax, ok := ParseDoseMg(*m.MaxDailyDose); ok && prescriberMax < effectiveMax {
				effectiveMax = prescriberMax
			}
		}
		total := doseMg * float64(multiplier)
		if total > effectiveMax {
			key := dismissedAlertKey(types.AlertDose, []types.ID{m.ID}, "daily")
			maxDaily := effectiveMax
			alert := types.Alert{
				ID:         types.NewID(),
				Type:        types.AlertDose,
				Severity:      types.SeverityStandard,
				EntityIDs:     []types.ID{m.ID},
				SourceDocumentIDs: []types.ID{m.DocumentID},
				PatientMessage:   fmt.Sprintf("Your documents show %s totaling %.0fmg/day, above the effective daily maximum of %.0fmg.", m.GenericName, total, effectiveMax),
				Detail: types.AlertDetail{
					Kind: types.AlertDose,
					Dose: &types.DoseDetail{
						MedicationID: m.ID,
						DoseMg:    doseMg,
						MinSingleMg: dr.MinSingleMg,
						MaxSingleMg: dr.MaxSingleMg,
						DailyTotalMg: &total,
						MaxDailyMg:  &maxDaily,
					},
				},
				DetectedAt: time.Now().UTC(),
			}
			alerts = append(alerts, alertWithKey{alert: alert, dedupKey: key})
		}
	}
	return finalize(snap, alerts)
}

// DetectCriticalLabs is detector 9: new lab results flagged critical_low
// or critical_high always raise exactly one Critical alert (spec §8
// invariant 13).
func DetectCriticalLabs(snap RepositorySnapshot, documentID *types.ID) []types.Alert {
	var alerts []alertWithKey
	for _, l := range snap.LabResults {
		if !isTargetLab(l, documentID) {
			continue
		}
		if l.AbnormalFlag != types.FlagCriticalLow && l.AbnormalFlag != types.FlagCriticalHigh {
			continue
		}
		valueStr := ""
		if l.ValueText != nil {
			valueStr = *l.ValueText
		} else if l.Value != nil {
			valueStr = fmt.Sprintf("%g", *l.Value)
		}
		key := dismissedAlertKey(types.AlertCritical, []types.ID{l.ID}, "")
		alert := types.Alert{
			ID:         types.NewID(),
			Type:        types.AlertCritical,
			Severity:      types.SeverityCritical,
			EntityIDs:     []types.ID{l.ID},
			SourceDocumentIDs: []types.ID{l.DocumentID},
			PatientMessage:   fmt.Sprintf("Your documents show a critical %s result: %s%s on %s.", l.TestName, valueStr, unitSuffix(l.Unit), l.CollectionDate.Format("2006-01-02")),
			Detail: types.AlertDetail{
				Kind: types.AlertCritical,
				Critical: &types.CriticalLabDetail{
					LabResultID: l.ID,
					TestName:  l.TestName,
					Value:    valueStr,
					Unit:    l.Unit,
					Date:    l.CollectionDate,
					Direction:  l.AbnormalFlag,
				},
			},
			DetectedAt: time.Now().UTC(),
		}
		alerts = append(alerts, alertWithKey{alert: alert, dedupKey: key})
	}
	return finalize(snap, alerts)
}

func unitSuffix(unit *string) string {
	if unit == nil || *unit == "" {
		return ""
	}
	return " " + *unit
}

// DetectAll runs every detector and concatenates their output, the
// top-level entry point a document-intake or on-demand scan calls.
func DetectAll(snap RepositorySnapshot, documentID *types.ID, ref ReferenceData) []types.Alert {
	var all []types.Alert
	all = append(all, DetectConflicts(snap, documentID, ref)...)
	all = append(all, DetectDuplicates(snap, documentID, ref)...)
	all = append(all, DetectGaps(snap, documentID)...)
	all = append(all, DetectDrift(snap, documentID, ref)...)
	all = append(all, DetectTemporal(snap, documentID)...)
	all = append(all, DetectAllergies(snap, documentID, ref)...)
	all = append(all, DetectDoseRange(snap, documentID, ref)...)
	all = append(all, DetectDailyDose(snap, documentID, ref)...)
	all = append(all, DetectCriticalLabs(snap, documentID)...)
	return all
}
