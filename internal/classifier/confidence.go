package classifier

import (
	"math"
	"strings"

	"github.com/maltedev/catalog-importer/internal/models"
)

// Weights of the completeness score. Required fields dominate, descriptive
// fields come second and label images last. They sum to 1.
const (
	weightDosageForm  = 0.15
	weightCategory    = 0.15
	weightBrand       = 0.10
	weightProductName = 0.10
	weightIngredients = 0.10

	weightDosePerUnit     = 0.075
	weightRecommendedDose = 0.075
	weightKeyIngredients  = 0.05
	weightCertifications  = 0.05
	weightAllergenInfo    = 0.025
	weightNotes           = 0.025

	weightFrontImage = 0.05
	weightBackImage  = 0.05
)

var placeholders = map[string]bool{
	"":        true,
	"unknown": true,
	"n/a":     true,
	"na":      true,
	"none":    true,
	"brand":   true,
	"product": true,
}

// IsPlaceholder reports whether s carries no identifying information.
func IsPlaceholder(s string) bool {
	return placeholders[strings.ToLower(strings.TrimSpace(s))]
}

// Confidence scores how complete a product record is, in [0,1] rounded to two
// decimals. Adding a field never lowers the score.
func Confidence(p *models.Product) float64 {
	if p == nil {
		return 0
	}

	var score float64
	add := func(ok bool, w float64) {
		if ok {
			score += w
		}
	}

	add(p.DosageForm.Valid() && p.DosageForm != models.DosageFormOther, weightDosageForm)
	add(p.Category.Valid() && p.Category != models.CategoryOther, weightCategory)
	add(!IsPlaceholder(p.Brand), weightBrand)
	add(!IsPlaceholder(p.ProductName), weightProductName)
	add(len(p.Ingredients) > 0, weightIngredients)

	add(present(p.DosePerUnit), weightDosePerUnit)
	add(present(p.RecommendedDose), weightRecommendedDose)
	add(present(p.KeyIngredients), weightKeyIngredients)
	add(len(p.Certifications) > 0, weightCertifications)
	add(!p.AllergenInfo.Empty(), weightAllergenInfo)
	add(present(p.Notes), weightNotes)

	add(present(p.FrontImageURL), weightFrontImage)
	add(present(p.BackImageURL), weightBackImage)

	return Round(Clamp(score))
}

// Penalize lowers a confidence by penalty without leaving [0,1].
func Penalize(confidence, penalty float64) float64 {
	return Round(Clamp(confidence - penalty))
}

// Clamp limits v to [0,1].
func Clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// Round rounds to two decimals.
func Round(v float64) float64 {
	return math.Round(v*100) / 100
}

func present(s *string) bool {
	return s != nil && strings.TrimSpace(*s) != ""
}
