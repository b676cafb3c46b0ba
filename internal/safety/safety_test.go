package safety

import "testing"

func hasCategory(violations []Violation, cat Category) bool {
	for _, v := range violations {
		if v.Category == cat {
			return true
		}
	}
	return false
}

func TestSupportedLanguages(t *testing.T) {
	for _, lang := range []string{"en", "fr", "de"} {
		if !IsSupportedLanguage(lang) {
			t.Errorf("expected %q to be supported", lang)
		}
	}
	for _, lang := range []string{"zh", "ja", ""} {
		if IsSupportedLanguage(lang) {
			t.Errorf("expected %q to be unsupported", lang)
		}
	}
}

func TestValidateLanguageRejectsUnknown(t *testing.T) {
	if err := ValidateLanguage("zh"); err == nil {
		t.Fatal("expected error for unsupported language code")
	}
	if err := ValidateLanguage("en"); err != nil {
		t.Fatalf("unexpected error for supported language: %v", err)
	}
}

func TestStripAccentsFrench(t *testing.T) {
	cases := map[string]string{
		"été":         "ete",
		"diagnostiqué": "diagnostique",
		"médecin":     "medecin",
		"hôpital":     "hopital",
	}
	for in, want := range cases {
		if got := stripAccents(in); got != want {
			t.Errorf("stripAccents(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStripAccentsGerman(t *testing.T) {
	cases := map[string]string{
		"über":   "uber",
		"Straße": "Strasse",
	}
	for in, want := range cases {
		if got := stripAccents(in); got != want {
			t.Errorf("stripAccents(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestEnglishDiagnostic(t *testing.T) {
	v := Scan("Based on the symptoms, you have diabetes.")
	if !hasCategory(v, CategoryDiagnostic) {
		t.Fatalf("expected diagnostic violation, got %v", v)
	}
}

func TestEnglishPrescriptive(t *testing.T) {
	v := Scan("You should take aspirin daily.")
	if !hasCategory(v, CategoryPrescriptive) {
		t.Fatalf("expected prescriptive violation, got %v", v)
	}
}

func TestEnglishAlarm(t *testing.T) {
	v := Scan("Call 911 right away.")
	if !hasCategory(v, CategoryAlarm) {
		t.Fatalf("expected alarm violation, got %v", v)
	}
}

// S5 (spec §8): grounded English text is exempted.
func TestGroundingExceptionEnglish(t *testing.T) {
	text := "Your documents show that you have been prescribed metformin."
	if v := Scan(text); len(v) != 0 {
		t.Fatalf("expected no violations for grounded text, got %v", v)
	}
}

func TestGroundingExceptionDoctorNoted(t *testing.T) {
	text := "Your doctor noted that you have diabetes and prescribed metformin."
	if v := Scan(text); len(v) != 0 {
		t.Fatalf("expected no violations, got %v", v)
	}
}

func TestNoExceptionWithoutAttribution(t *testing.T) {
	text := "You have diabetes and should manage it carefully."
	if v := Scan(text); len(v) == 0 {
		t.Fatal("expected violations for ungrounded diagnostic claim")
	}
}

// S6 (spec §8): cross-language alarm detection against stripped French text.
func TestCrossLanguageAlarmFrench(t *testing.T) {
	v := Scan("Allez aux urgences immédiatement.")
	if !hasCategory(v, CategoryAlarm) {
		t.Fatalf("expected French alarm violation, got %v", v)
	}
}

func TestFrenchDiagnosticAccented(t *testing.T) {
	v := Scan("Vous avez été diagnostiqué avec le diabète.")
	if !hasCategory(v, CategoryDiagnostic) {
		t.Fatalf("expected French diagnostic violation, got %v", v)
	}
}

func TestFrenchExceptionSelonDocuments(t *testing.T) {
	text := "Selon vos documents, vous avez un diabète de type 2."
	if v := Scan(text); len(v) != 0 {
		t.Fatalf("expected no violations for grounded French text, got %v", v)
	}
}

func TestGermanDiagnostic(t *testing.T) {
	v := Scan("Sie haben einen Diabetes Typ 2.")
	if !hasCategory(v, CategoryDiagnostic) {
		t.Fatalf("expected German diagnostic violation, got %v", v)
	}
}

func TestGermanAlarmEszett(t *testing.T) {
	v := Scan("Die beste Maßnahme wäre sofort zum Arzt.")
	if len(v) == 0 {
		t.Fatal("expected a violation for eszett-containing German text")
	}
}

func TestGermanExceptionLautUnterlagen(t *testing.T) {
	text := "Laut Ihren Unterlagen haben Sie einen Diabetes Typ 2."
	if v := Scan(text); len(v) != 0 {
		t.Fatalf("expected no violations for grounded German text, got %v", v)
	}
}

func TestCleanTextNoViolations(t *testing.T) {
	text := "Your documents show that Dr. Chen prescribed metformin 500mg twice daily. " +
		"This was documented on January 15, 2024."
	if v := Scan(text); len(v) != 0 {
		t.Fatalf("expected no violations, got %v", v)
	}
}

func TestCaseInsensitiveDetection(t *testing.T) {
	for _, text := range []string{
		"you should take aspirin.",
		"You Should Take aspirin.",
		"YOU SHOULD TAKE aspirin.",
	} {
		if v := Scan(text); len(v) == 0 {
			t.Errorf("expected violation for %q", text)
		}
	}
}

func TestDeduplicateOverlapping(t *testing.T) {
	violations := []Violation{
		{Category: CategoryAlarm, MatchedText: "immediately go", Offset: 0, Length: 14, Reason: "short"},
		{Category: CategoryAlarm, MatchedText: "immediately go to the emergency", Offset: 0, Length: 32, Reason: "long"},
	}
	out := dedupe(violations)
	if len(out) != 1 {
		t.Fatalf("expected exactly one violation after dedup, got %d: %v", len(out), out)
	}
	if out[0].Length != 32 {
		t.Fatalf("expected the longer match to survive, got length %d", out[0].Length)
	}
}

// Scan is pure and deterministic (spec §8 invariant 4).
func TestScanIdempotent(t *testing.T) {
	text := "You have diabetes. You should take metformin. This is dangerous."
	first := Scan(text)
	second := Scan(text)
	if len(first) != len(second) {
		t.Fatalf("expected identical results across calls, got %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("result %d differs between calls: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestMultiViolationResponse(t *testing.T) {
	text := "You have diabetes. You should take metformin. " +
		"This is dangerous and you should immediately go to the hospital."
	v := Scan(text)
	if !hasCategory(v, CategoryDiagnostic) {
		t.Error("expected diagnostic violation")
	}
	if !hasCategory(v, CategoryPrescriptive) {
		t.Error("expected prescriptive violation")
	}
	if !hasCategory(v, CategoryAlarm) {
		t.Error("expected alarm violation")
	}
}

func TestMixedLanguageAllThreeDetected(t *testing.T) {
	text := "You have diabetes. Vous souffrez de douleurs. Dies ist ein Notfall."
	v := Scan(text)
	if len(v) < 3 {
		t.Fatalf("expected violations from all three languages, got %v", v)
	}
}

func TestPasses(t *testing.T) {
	if !Passes("Your documents show Dr. Chen prescribed metformin 500mg twice daily.") {
		t.Error("expected grounded text to pass")
	}
	if Passes("You have diabetes.") {
		t.Error("expected ungrounded diagnostic claim to fail")
	}
}
