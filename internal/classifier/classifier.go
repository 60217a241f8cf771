// Package classifier maps free product text onto the closed dosage form and
// category vocabularies and derives the identity and confidence fields of a
// product record.
package classifier

import (
	"regexp"
	"strings"

	"github.com/maltedev/catalog-importer/internal/models"
)

type dosageRule struct {
	form    models.DosageForm
	pattern *regexp.Regexp
}

type categoryRule struct {
	category models.Category
	pattern  *regexp.Regexp
}

// Order matters: the first matching rule wins, so the more specific forms
// precede the ones they contain ("liquid softgels", "chewable tablets").
var dosageRules = []dosageRule{
	{models.DosageFormSoftgel, regexp.MustCompile(`(?i)\bsoft[\s-]?gels?\b|\bliquid[\s-]?caps?\b|\bgelcaps?\b`)},
	{models.DosageFormGummy, regexp.MustCompile(`(?i)\bgumm(?:y|ies)\b`)},
	{models.DosageFormChewable, regexp.MustCompile(`(?i)\bchewables?\b|\bchews?\b`)},
	{models.DosageFormLozenge, regexp.MustCompile(`(?i)\blozenges?\b|\btroches?\b|\bpastilles?\b`)},
	{models.DosageFormSpray, regexp.MustCompile(`(?i)\bsprays?\b|\bmist\b`)},
	{models.DosageFormCapsule, regexp.MustCompile(`(?i)\b(?:veg(?:gie|etarian)?[\s-]?)?caps(?:ules?)?\b|\bv-?caps?\b`)},
	{models.DosageFormTablet, regexp.MustCompile(`(?i)\btabs?\b|\btablets?\b|\bcaplets?\b`)},
	{models.DosageFormPowder, regexp.MustCompile(`(?i)\bpowders?\b|\bscoops?\b|\bgranules\b`)},
	{models.DosageFormLiquid, regexp.MustCompile(`(?i)\bliquids?\b|\bdrops\b|\btinctures?\b|\bsyrups?\b|\belixirs?\b|\bfl\.?\s?oz\b|\bml\b`)},
}

// Multivitamins list minerals among their ingredients, so they are caught
// before the mineral rule.
var categoryRules = []categoryRule{
	{models.CategoryVitamin, regexp.MustCompile(`(?i)\bmulti[\s-]?vitamins?\b|\bprenatal\b`)},
	{models.CategoryProbiotic, regexp.MustCompile(`(?i)\bpro[\s-]?biotics?\b|\blactobacillus\b|\bbifidobacterium\b|\bacidophilus\b|\bsaccharomyces\b|\bcfu\b`)},
	{models.CategoryOmega, regexp.MustCompile(`(?i)\bomega[\s-]?[369]s?\b|\bomegas?\b|\bfish\s+oil\b|\bkrill\b|\bcod\s+liver\b|\bdha\b|\bepa\b|\bflax(?:seed)?\s+oil\b`)},
	{models.CategoryProtein, regexp.MustCompile(`(?i)\bproteins?\b|\bwhey\b|\bcasein\b|\bcollagen\b|\bpea\s+isolate\b`)},
	{models.CategoryAminoAcid, regexp.MustCompile(`(?i)\bamino\b|\bbcaas?\b|\beaas?\b|\bl-(?:theanine|glutamine|carnitine|arginine|lysine|tyrosine|citrulline|leucine|cysteine)\b|\bn-acetyl\s+cysteine\b|\bnac\b|\bcreatine\b|\btaurine\b|\bglycine\b`)},
	{models.CategoryHerbal, regexp.MustCompile(`(?i)\bherbs?\b|\bherbal\b|\bbotanicals?\b|\bashwagandha\b|\bturmeric\b|\bcurcumin\b|\bginseng\b|\belderberry\b|\bechinacea\b|\bmilk\s+thistle\b|\brhodiola\b|\bvalerian\b|\bginkgo\b|\bmaca\b|\bmushrooms?\b|\broot\b|\bleaf\b`)},
	{models.CategoryMineral, regexp.MustCompile(`(?i)\bminerals?\b|\bmagnesium\b|\bzinc\b|\bcalcium\b|\biron\b|\bpotassium\b|\bselenium\b|\biodine\b|\bchromium\b|\bcopper\b|\bmanganese\b|\bboron\b|\belectrolytes?\b`)},
	{models.CategoryVitamin, regexp.MustCompile(`(?i)\bvitamins?\b|\b(?:b1|b2|b3|b5|b6|b12|d2|d3|k1|k2)\b|\bbiotin\b|\bfol(?:ate|ic)\b|\bniacin(?:amide)?\b|\briboflavin\b|\bthiamine?\b|\bascorbic\b|\bmethylcobalamin\b|\bcholecalciferol\b`)},
}

// ClassifyDosageForm maps product text to a dosage form. The product name and
// package label are consulted before the description; text matching no rule
// yields DosageOther.
func ClassifyDosageForm(name, description, packageLabel string) models.DosageForm {
	for _, text := range nonEmpty(name+" "+packageLabel, description) {
		for _, rule := range dosageRules {
			if rule.pattern.MatchString(text) {
				return rule.form
			}
		}
	}
	return models.DosageFormOther
}

// ClassifyCategory maps product text to a category. The name decides when it
// is specific; otherwise the ingredient text is consulted. Text matching no
// rule yields CategoryOther.
func ClassifyCategory(name, ingredientText string) models.Category {
	for _, text := range nonEmpty(name, name+" "+ingredientText) {
		for _, rule := range categoryRules {
			if rule.pattern.MatchString(text) {
				return rule.category
			}
		}
	}
	return models.CategoryOther
}

func nonEmpty(texts ...string) []string {
	out := make([]string, 0, len(texts))
	for _, t := range texts {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// IngredientText flattens ingredient names into a single string for
// classification.
func IngredientText(ingredients []models.Ingredient, other []string) string {
	parts := make([]string, 0, len(ingredients)+len(other))
	for _, ing := range ingredients {
		parts = append(parts, ing.Name)
	}
	parts = append(parts, other...)
	return strings.Join(parts, ", ")
}
