// Package safety implements the safety filter (spec §4.F): a pattern-based
// scanner over patient-facing response text in English, French, and German.
// It is a pass/fail sentinel, never a rewriter — rewording responsibility
// lives upstream in message templates.
package safety

import (
	"regexp"
	"sort"
	"strings"

	"github.com/ktiyab/coheara/internal/errs"
)

// Category narrows which of the three pattern families a violation matched.
type Category string

const (
	CategoryDiagnostic  Category = "Diagnostic"
	CategoryPrescriptive Category = "Prescriptive"
	CategoryAlarm     Category = "Alarm"
)

// Violation is one matched unsafe span in a scanned text.
type Violation struct {
	Category  Category
	MatchedText string
	Offset    int
	Length    int
	Reason    string
}

// SupportedLanguages is the closed set of language codes the filter
// recognizes; any other code is rejected at the facade.
var SupportedLanguages = []string{"en", "fr", "de"}

// IsSupportedLanguage reports whether lang is one of SupportedLanguages.
func IsSupportedLanguage(lang string) bool {
	for _, l := range SupportedLanguages {
		if l == lang {
			return true
		}
	}
	return false
}

// ValidateLanguage returns an InvalidArgument error when lang is not one of
// the three supported codes.
func ValidateLanguage(lang string) error {
	if !IsSupportedLanguage(lang) {
		return errs.New(errs.KindInvalidArgument, "unsupported language code: "+lang)
	}
	return nil
}

type pattern struct {
	re     *regexp.Regexp
	category Category
	reason  string
}

func p(expr string, category Category, reason string) pattern {
	return pattern{re: regexp.MustCompile(expr), category: category, reason: reason}
}

// English patterns (24: 8 diagnostic + 8 prescriptive + 8 alarm).
var enDiagnostic = []pattern{
	p(`(?i)\byou\s+have\s+(?:a\s+)?(?:been\s+)?(?:diagnosed\s+with\s+)?[a-z]`, CategoryDiagnostic, "EN diagnostic: 'you have [condition]'"),
	p(`(?i)\byou\s+are\s+suffering\s+from\b`, CategoryDiagnostic, "EN diagnostic: 'you are suffering from'"),
	p(`(?i)\byou\s+(?:likely|probably|possibly)\s+have\b`, CategoryDiagnostic, "EN diagnostic: 'you likely/probably have'"),
	p(`(?i)\bthis\s+(?:means|indicates|suggests|confirms)\s+(?:you|that\s+you)\s+have\b`, CategoryDiagnostic, "EN diagnostic: 'this means you have'"),
	p(`(?i)\byou\s+(?:are|have\s+been)\s+diagnosed\b`, CategoryDiagnostic, "EN diagnostic: diagnosis claim without attribution"),
	p(`(?i)\byou(?:'re|\s+are)\s+(?:a\s+)?diabetic\b`, CategoryDiagnostic, "EN diagnostic: 'you are diabetic'"),
	p(`(?i)\byour\s+condition\s+is\b`, CategoryDiagnostic, "EN diagnostic: 'your condition is'"),
	p(`(?i)\byou\s+(?:appear|seem)\s+to\s+have\b`, CategoryDiagnostic, "EN diagnostic: 'you appear to have'"),
}

var enPrescriptive = []pattern{
	p(`(?i)\byou\s+should\s+(?:take|stop|start|increase|decrease|change|switch|discontinue|avoid|reduce)\b`, CategoryPrescriptive, "EN prescriptive: 'you should [take/stop/...]'"),
	p(`(?i)\bI\s+recommend\b`, CategoryPrescriptive, "EN prescriptive: 'I recommend'"),
	p(`(?i)\bI\s+(?:would\s+)?(?:suggest|advise)\b`, CategoryPrescriptive, "EN prescriptive: 'I suggest/advise'"),
	p(`(?i)\byou\s+(?:need|must|have)\s+to\s+(?:take|stop|start|see|visit|go|call|increase|decrease)\b`, CategoryPrescriptive, "EN prescriptive: 'you need to [action]'"),
	p(`(?i)\bdo\s+not\s+(?:take|stop|eat|drink|use|skip)\b`, CategoryPrescriptive, "EN prescriptive: 'do not [action]'"),
	p(`(?i)\btry\s+(?:taking|using|adding|reducing)\b`, CategoryPrescriptive, "EN prescriptive: 'try taking/using'"),
	p(`(?i)\bthe\s+(?:best|recommended)\s+(?:treatment|course\s+of\s+action|approach)\s+(?:is|would\s+be)\b`, CategoryPrescriptive, "EN prescriptive: 'the best treatment is'"),
	p(`(?i)\bconsider\s+(?:taking|stopping|increasing|decreasing|switching)\b`, CategoryPrescriptive, "EN prescriptive: 'consider taking/stopping'"),
}

var enAlarm = []pattern{
	p(`(?i)\b(?:dangerous|life[- ]threatening|fatal|deadly|lethal)\b`, CategoryAlarm, "EN alarm: dangerous/life-threatening/fatal"),
	p(`(?i)\b(?:emergency|urgent(?:ly)?|immediately|right\s+away|right\s+now)\b`, CategoryAlarm, "EN alarm: emergency/immediately/urgently"),
	p(`(?i)\b(?:immediately|urgently)\s+(?:go|call|visit|see|seek|get)\b`, CategoryAlarm, "EN alarm: 'immediately go/call'"),
	p(`(?i)\bcall\s+(?:911|emergency|an\s+ambulance|your\s+doctor\s+(?:immediately|right\s+away|now))\b`, CategoryAlarm, "EN alarm: 'call 911/emergency'"),
	p(`(?i)\bgo\s+to\s+(?:the\s+)?(?:emergency|ER|hospital|A&E)\b`, CategoryAlarm, "EN alarm: 'go to the emergency/hospital'"),
	p(`(?i)\bseek\s+(?:immediate|emergency|urgent)\s+(?:medical\s+)?(?:help|attention|care)\b`, CategoryAlarm, "EN alarm: 'seek immediate medical help'"),
	p(`(?i)\bthis\s+(?:is|could\s+be)\s+(?:a\s+)?(?:medical\s+)?emergency\b`, CategoryAlarm, "EN alarm: 'this is an emergency'"),
	p(`(?i)\bdo\s+not\s+(?:wait|delay|ignore)\b`, CategoryAlarm, "EN alarm: 'do not wait/delay'"),
}

// French patterns are matched against accent-stripped text.
var frDiagnostic = []pattern{
	p(`(?i)\b(?:tu\s+as|vous\s+avez)\s+(?:un[e]?\s+)?`, CategoryDiagnostic, "FR diagnostic: 'vous avez [condition]'"),
	p(`(?i)\b(?:tu\s+souffres|vous\s+souffrez)\s+de?\b`, CategoryDiagnostic, "FR diagnostic: 'vous souffrez de'"),
	p(`(?i)\b(?:tu\s+es|vous\s+etes)\s+(?:probablement|sans\s+doute|possiblement)`, CategoryDiagnostic, "FR diagnostic: 'vous etes probablement'"),
	p(`(?i)\bcela\s+(?:signifie|indique|suggere|confirme)\s+que\s+(?:tu|vous)`, CategoryDiagnostic, "FR diagnostic: 'cela signifie que vous'"),
	p(`(?i)\b(?:tu\s+as|vous\s+avez)\s+ete\s+diagnostique`, CategoryDiagnostic, "FR diagnostic: 'vous avez ete diagnostique'"),
	p(`(?i)\b(?:tu\s+es|vous\s+etes)\s+(?:diabetique|hypertendu|malade)`, CategoryDiagnostic, "FR diagnostic: 'vous etes diabetique'"),
	p(`(?i)\bvotre\s+(?:etat|condition)\s+est\b`, CategoryDiagnostic, "FR diagnostic: 'votre etat est'"),
	p(`(?i)\b(?:tu\s+sembles|vous\s+semblez)\s+avoir\b`, CategoryDiagnostic, "FR diagnostic: 'vous semblez avoir'"),
}

var frPrescriptive = []pattern{
	p(`(?i)\b(?:tu\s+devrais|vous\s+devriez)\s+(?:prendre|arreter|commencer|augmenter|diminuer|changer|eviter|reduire)`, CategoryPrescriptive, "FR prescriptive: 'vous devriez [prendre/arreter/...]'"),
	p(`(?i)\bje\s+(?:vous\s+)?recommande\b`, CategoryPrescriptive, "FR prescriptive: 'je recommande'"),
	p(`(?i)\bje\s+(?:vous\s+)?(?:suggere|conseille)\b`, CategoryPrescriptive, "FR prescriptive: 'je suggere/conseille'"),
	p(`(?i)\b(?:tu\s+dois|vous\s+devez|il\s+faut)\s+(?:prendre|arreter|commencer|consulter|aller|appeler)`, CategoryPrescriptive, "FR prescriptive: 'vous devez/il faut [action]'"),
	p(`(?i)\bne\s+(?:prenez|prends|mangez|buvez|utilisez)\s+(?:pas|plus)\b`, CategoryPrescriptive, "FR prescriptive: 'ne prenez pas'"),
	p(`(?i)\bessayez\s+(?:de\s+)?(?:prendre|utiliser|ajouter|reduire)`, CategoryPrescriptive, "FR prescriptive: 'essayez de prendre'"),
	p(`(?i)\ble\s+(?:meilleur|bon)\s+(?:traitement|choix|approche)\s+(?:est|serait)\b`, CategoryPrescriptive, "FR prescriptive: 'le meilleur traitement est'"),
	p(`(?i)\benvisagez\s+(?:de\s+)?(?:prendre|arreter|augmenter|diminuer|changer)`, CategoryPrescriptive, "FR prescriptive: 'envisagez de prendre'"),
}

var frAlarm = []pattern{
	p(`(?i)\b(?:dangereux|dangereuse|mortel(?:le)?|fatal[e]?|lethal)\b`, CategoryAlarm, "FR alarm: dangereux/mortel/fatal"),
	p(`(?i)\b(?:urgence|urgent[e]?|immediatement|tout\s+de\s+suite)\b`, CategoryAlarm, "FR alarm: urgence/immediatement"),
	p(`(?i)\b(?:immediatement|tout\s+de\s+suite)\s+(?:allez|appelez|consultez|rendez-vous)`, CategoryAlarm, "FR alarm: 'immediatement allez/appelez'"),
	p(`(?i)\bappelez\s+(?:le\s+15|le\s+112|le\s+samu|une\s+ambulance|votre\s+medecin\s+(?:immediatement|tout\s+de\s+suite))\b`, CategoryAlarm, "FR alarm: 'appelez le 15/112/SAMU'"),
	p(`(?i)\ballez\s+(?:aux?\s+)?(?:urgences|hopital)\b`, CategoryAlarm, "FR alarm: 'allez aux urgences/hopital'"),
	p(`(?i)\b(?:cherchez|demandez)\s+(?:une?\s+)?(?:aide\s+)?(?:medicale\s+)?(?:immediate|urgente|d'urgence)`, CategoryAlarm, "FR alarm: 'cherchez aide medicale immediate'"),
	p(`(?i)\bc'est\s+(?:une?\s+)?(?:urgence\s+)?medicale\b`, CategoryAlarm, "FR alarm: 'c'est une urgence medicale'"),
	p(`(?i)\bn'attendez\s+pas\b`, CategoryAlarm, "FR alarm: 'n'attendez pas'"),
}

// German patterns are matched against accent-stripped text, formal "Sie"
// address per the original implementation's i18n convention.
var deDiagnostic = []pattern{
	p(`(?i)\bSie\s+haben\s+(?:eine?n?\s+)?`, CategoryDiagnostic, "DE diagnostic: 'Sie haben [Erkrankung]'"),
	p(`(?i)\bSie\s+leiden\s+(?:an|unter)\b`, CategoryDiagnostic, "DE diagnostic: 'Sie leiden an/unter'"),
	p(`(?i)\bSie\s+(?:sind\s+)?(?:wahrscheinlich|vermutlich|moglicherweise)\b`, CategoryDiagnostic, "DE diagnostic: 'Sie sind wahrscheinlich'"),
	p(`(?i)\bdas\s+(?:bedeutet|zeigt|deutet|bestatigt)\s+dass\s+Sie\b`, CategoryDiagnostic, "DE diagnostic: 'das bedeutet dass Sie'"),
	p(`(?i)\bbei\s+Ihnen\s+wurde\s+(?:eine?\s+)?(?:\w+\s+)?diagnostiziert\b`, CategoryDiagnostic, "DE diagnostic: 'bei Ihnen wurde diagnostiziert'"),
	p(`(?i)\bSie\s+sind\s+(?:Diabetiker(?:in)?|zuckerkrank|bluthochdruck)\b`, CategoryDiagnostic, "DE diagnostic: 'Sie sind Diabetiker'"),
	p(`(?i)\bIhr\s+Zustand\s+ist\b`, CategoryDiagnostic, "DE diagnostic: 'Ihr Zustand ist'"),
	p(`(?i)\bSie\s+scheinen\s+(?:eine?n?\s+)?(?:\w+\s+)?zu\s+haben\b`, CategoryDiagnostic, "DE diagnostic: 'Sie scheinen zu haben'"),
}

var dePrescriptive = []pattern{
	p(`(?i)\bSie\s+sollten\s+(?:\w+\s+){0,5}(?:einnehmen|aufhoren|anfangen|erhohen|reduzieren|andern|vermeiden|absetzen)`, CategoryPrescriptive, "DE prescriptive: 'Sie sollten [einnehmen/aufhoren/...]'"),
	p(`(?i)\bich\s+empfehle\b`, CategoryPrescriptive, "DE prescriptive: 'ich empfehle'"),
	p(`(?i)\bich\s+(?:wurde\s+)?(?:vorschlagen|raten)\b`, CategoryPrescriptive, "DE prescriptive: 'ich schlage vor/rate'"),
	p(`(?i)\bSie\s+(?:mussen|sollen)\s+(?:\w+\s+){0,5}(?:einnehmen|aufhoren|anfangen|einen\s+Arzt|zum\s+Arzt|ins\s+Krankenhaus)`, CategoryPrescriptive, "DE prescriptive: 'Sie mussen [action]'"),
	p(`(?i)\bnehmen\s+Sie\s+(?:nicht|kein[e]?)\b`, CategoryPrescriptive, "DE prescriptive: 'nehmen Sie nicht'"),
	p(`(?i)\bversuchen\s+Sie\s+(?:\w+\s+){0,5}(?:einzunehmen|zu\s+nehmen|zu\s+verwenden|zu\s+reduzieren)`, CategoryPrescriptive, "DE prescriptive: 'versuchen Sie einzunehmen'"),
	p(`(?i)\bdie\s+beste\s+(?:Behandlung|Therapie|Massnahme)\s+(?:ist|ware)\b`, CategoryPrescriptive, "DE prescriptive: 'die beste Behandlung ist'"),
	p(`(?i)\berwagen\s+Sie\s+(?:die\s+)?(?:Einnahme|das\s+Absetzen|eine\s+Erhohung|eine\s+Reduzierung)`, CategoryPrescriptive, "DE prescriptive: 'erwagen Sie die Einnahme'"),
}

var deAlarm = []pattern{
	p(`(?i)\b(?:gefahrlich|lebensbedrohlich|todlich|letal)\b`, CategoryAlarm, "DE alarm: gefahrlich/lebensbedrohlich/todlich"),
	p(`(?i)\b(?:Notfall|dringend|sofort|unverzuglich)\b`, CategoryAlarm, "DE alarm: Notfall/dringend/sofort"),
	p(`(?i)\b(?:sofort|unverzuglich)\s+(?:gehen|rufen|aufsuchen|zum\s+Arzt)`, CategoryAlarm, "DE alarm: 'sofort gehen/rufen'"),
	p(`(?i)\brufen\s+Sie\s+(?:die\s+)?(?:112|den\s+(?:Notarzt|Rettungsdienst)|einen\s+(?:Krankenwagen|Notarzt))\b`, CategoryAlarm, "DE alarm: 'rufen Sie 112/Notarzt'"),
	p(`(?i)\bgehen\s+Sie\s+(?:in\s+die\s+)?(?:Notaufnahme|ins?\s+Krankenhaus)\b`, CategoryAlarm, "DE alarm: 'gehen Sie in die Notaufnahme'"),
	p(`(?i)\bsuchen\s+Sie\s+(?:sofort(?:ige)?|dringend(?:e)?|notfall)?\s*(?:arztliche\s+)?(?:Hilfe|Behandlung)\b`, CategoryAlarm, "DE alarm: 'suchen Sie sofortige Hilfe'"),
	p(`(?i)\bdies\s+ist\s+ein\s+(?:medizinischer\s+)?Notfall\b`, CategoryAlarm, "DE alarm: 'dies ist ein Notfall'"),
	p(`(?i)\bwarten\s+Sie\s+nicht\b`, CategoryAlarm, "DE alarm: 'warten Sie nicht'"),
}

// exceptionPatterns identify grounded/attributed statements; a violation
// whose surrounding window matches one of these is discarded.
var exceptionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\byour\s+documents?\s+(?:show|indicate|mention|state|record|note)`),
	regexp.MustCompile(`(?i)\b(?:according|based)\s+(?:to|on)\s+your\s+(?:records?|documents?|files?)`),
	regexp.MustCompile(`(?i)\b(?:is|was)\s+documented\s+(?:in|on)\b`),
	regexp.MustCompile(`(?i)\byour\s+doctor\s+(?:noted|recorded|documented|wrote)\b`),
	regexp.MustCompile(`(?i)\b(?:dr\.|doctor)\s+\w+\s+(?:noted|recorded|prescribed|documented)\b`),
	regexp.MustCompile(`(?i)\bvos\s+documents?\s+(?:montrent|indiquent|mentionnent)\b`),
	regexp.MustCompile(`(?i)\bselon\s+(?:vos\s+)?(?:documents?|dossiers?)\b`),
	regexp.MustCompile(`(?i)\bvotre\s+(?:medecin|docteur)\s+a\s+(?:note|prescrit|documente)\b`),
	regexp.MustCompile(`(?i)\bIhre\s+(?:Unterlagen|Dokumente)\s+(?:zeigen|belegen|enthalten)\b`),
	regexp.MustCompile(`(?i)\blaut\s+(?:Ihren?\s+)?(?:Unterlagen|Dokumenten?|Akten?|Befunden?)\b`),
	regexp.MustCompile(`(?i)\bIhr\s+(?:Arzt|Hausarzt)\s+hat\s+(?:festgestellt|verordnet|dokumentiert|notiert)\b`),
}

// stripAccents replaces common French/German diacritics with their ASCII
// equivalents, enabling accent-insensitive matching without NFC/NFD
// normalization.
func stripAccents(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch r {
		case 'é', 'è', 'ê', 'ë':
			b.WriteRune('e')
		case 'É', 'È', 'Ê', 'Ë':
			b.WriteRune('E')
		case 'à', 'â':
			b.WriteRune('a')
		case 'À', 'Â':
			b.WriteRune('A')
		case 'ù', 'û', 'ü':
			b.WriteRune('u')
		case 'Ù', 'Û', 'Ü':
			b.WriteRune('U')
		case 'ô':
			b.WriteRune('o')
		case 'Ô':
			b.WriteRune('O')
		case 'ö':
			b.WriteRune('o')
		case 'Ö':
			b.WriteRune('O')
		case 'ä':
			b.WriteRune('a')
		case 'Ä':
			b.WriteRune('A')
		case 'î', 'ï':
			b.WriteRune('i')
		case 'Î', 'Ï':
			b.WriteRune('I')
		case 'ç':
			b.WriteRune('c')
		case 'Ç':
			b.WriteRune('C')
		case 'ß':
			b.WriteString("ss")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isException(text string, offset int) bool {
	start := offset - 128
	if start < 0 {
		start = 0
	}
	end := offset + 64
	if end > len(text) {
		end = len(text)
	}
	if start >= end {
		return false
	}
	window := text[start:end]
	for _, re := range exceptionPatterns {
		if re.MatchString(window) {
			return true
		}
	}
	return false
}

// Scan applies the EN/FR/DE diagnostic/prescriptive/alarm pattern tables to
// text, deduplicates overlapping matches keeping the more specific (longer)
// one, then discards any violation falling inside a grounded/attributed
// exception window. It is pure and deterministic: two calls on the same
// text yield identical results.
func Scan(text string) []Violation {
	stripped := stripAccents(text)

	var violations []Violation
	for _, table := range [][]pattern{enDiagnostic, enPrescriptive, enAlarm} {
		violations = append(violations, findAll(text, table)...)
	}
	for _, table := range [][]pattern{frDiagnostic, frPrescriptive, frAlarm} {
		violations = append(violations, findAll(stripped, table)...)
	}
	for _, table := range [][]pattern{deDiagnostic, dePrescriptive, deAlarm} {
		violations = append(violations, findAll(stripped, table)...)
	}

	violations = dedupe(violations)

	out := violations[:0]
	for _, v := range violations {
		if isException(text, v.Offset) || isException(stripped, v.Offset) {
			continue
		}
		out = append(out, v)
	}
	return out
}

func findAll(text string, table []pattern) []Violation {
	var out []Violation
	for _, pat := range table {
		for _, loc := range pat.re.FindAllStringIndex(text, -1) {
			out = append(out, Violation{
				Category:  pat.category,
				MatchedText: text[loc[0]:loc[1]],
				Offset:    loc[0],
				Length:    loc[1] - loc[0],
				Reason:    pat.reason,
			})
		}
	}
	return out
}

// dedupe sorts by (offset asc, length desc) and drops any violation fully
// contained within an earlier, longer one.
func dedupe(violations []Violation) []Violation {
	sort.SliceStable(violations, func(i, j int) bool {
		if violations[i].Offset != violations[j].Offset {
			return violations[i].Offset < violations[j].Offset
		}
		return violations[i].Length > violations[j].Length
	})
	var out []Violation
	for _, v := range violations {
		contained := false
		for _, kept := range out {
			if v.Offset >= kept.Offset && v.Offset+v.Length <= kept.Offset+kept.Length {
				contained = true
				break
			}
		}
		if !contained {
			out = append(out, v)
		}
	}
	return out
}

// Passes reports whether text carries zero violations and may be surfaced
// to the patient unmodified.
func Passes(text string) bool {
	return len(Scan(text)) == 0
}
