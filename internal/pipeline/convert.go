package pipeline

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/maltedev/catalog-importer/internal/classifier"
	"github.com/maltedev/catalog-importer/internal/models"
	"github.com/maltedev/catalog-importer/internal/parser"
	"github.com/maltedev/catalog-importer/internal/validator"
)

const keyIngredientCount = 3

// Converter turns enriched listing items into validated product records.
type Converter struct {
	validator        *validator.Validator
	penalty          float64
	classifyDosage   func(name, description, packageLabel string) models.DosageForm
	classifyCategory func(name, ingredientText string) models.Category
	logger           *slog.Logger
}

func NewConverter(v *validator.Validator, penalty float64, logger *slog.Logger) *Converter {
	if v == nil {
		v = validator.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Converter{
		validator:        v,
		penalty:          penalty,
		classifyDosage:   classifier.ClassifyDosageForm,
		classifyCategory: classifier.ClassifyCategory,
		logger:           logger.With("component", "converter"),
	}
}

// Convert builds one product per item, in order. Products failing validation
// are kept with a discounted confidence and reported as job errors.
func (c *Converter) Convert(items []models.DetailEnrichedItem, retrievedAt time.Time) ([]models.Product, []models.JobError) {
	products := make([]models.Product, 0, len(items))
	var errs []models.JobError

	for _, item := range items {
		p := c.Build(item, retrievedAt)
		if res := c.Finalize(&p); !res.Valid {
			errs = append(errs, models.JobError{
				Stage:   string(StateConverting),
				Message: res.Error().Error(),
				URL:     item.DetailURL,
				Time:    retrievedAt.UTC(),
			})
		}
		products = append(products, p)
	}

	return products, errs
}

// Build maps an enriched item onto the product contract without scoring it.
func (c *Converter) Build(item models.DetailEnrichedItem, retrievedAt time.Time) models.Product {
	block := parser.ParseMoreBlock(item.IngredientHTML)

	brand := parser.CollapseWhitespace(item.Brand)
	name := parser.CollapseWhitespace(item.ProductName)

	ingredients := block.Ingredients
	if ingredients == nil {
		ingredients = make([]models.Ingredient, 0)
	}

	p := models.Product{
		Brand:       brand,
		ProductName: name,
		DisplayName: classifier.DisplayName(brand, name),
		CanonicalID: classifier.CanonicalID(brand, name),
		DosageForm:  c.classifyDosage(name, item.Description, item.PackageLabel),
		Category:    c.classifyCategory(name, classifier.IngredientText(block.Ingredients, block.OtherIngredients)),
		Ingredients: ingredients,
		SourceMetadata: models.SourceMetadata{
			Origin:      models.ImportSource,
			SourceURL:   item.DetailURL,
			RetrievedAt: retrievedAt.UTC(),
		},
		DosePerUnit:     dosePerUnit(block.Ingredients, firstNonEmpty(item.ServingSize, deref(block.ServingSize))),
		RecommendedDose: optional(firstNonEmpty(item.SuggestedUse, deref(block.SuggestedUse))),
		KeyIngredients:  keyIngredients(block.Ingredients),
		Certifications:  item.Certifications,
		Notes:           notes(block.OtherIngredients, item.DietaryRestrictions, item.Warnings),
		FrontImageURL:   optional(firstNonEmpty(item.FrontImageURL, item.ThumbnailURL)),
		BackImageURL:    optional(item.BackLabelImageURL),
	}

	if contains, freeOf := parser.ParseAllergens(item.Warnings, item.DietaryRestrictions); len(contains) > 0 || len(freeOf) > 0 {
		p.AllergenInfo = &models.AllergenInfo{Contains: contains, FreeOf: freeOf}
	}

	return p
}

// Finalize scores p, validates it and applies the penalty when invalid.
func (c *Converter) Finalize(p *models.Product) validator.Result {
	p.Confidence = classifier.Confidence(p)

	res := c.validator.Product(p)
	if !res.Valid {
		p.Confidence = classifier.Penalize(p.Confidence, c.penalty)
		c.logger.Warn("product failed validation",
			"canonical_id", p.CanonicalID,
			"issues", len(res.Issues),
			"error", res.Error(),
			"confidence", p.Confidence,
		)
	}
	return res
}

// dosePerUnit renders the first measured ingredient, qualified by the serving.
func dosePerUnit(ingredients []models.Ingredient, serving string) *string {
	for _, ing := range ingredients {
		if ing.Amount == nil || ing.Unit == nil {
			continue
		}
		dose := formatAmount(*ing.Amount, *ing.Unit)
		if serving != "" {
			dose += " per " + serving
		}
		return &dose
	}
	return optional(serving)
}

func keyIngredients(ingredients []models.Ingredient) *string {
	parts := make([]string, 0, keyIngredientCount)
	for _, ing := range ingredients {
		if ing.Amount == nil || ing.Unit == nil || ing.Parent != nil {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s (%s)", ing.Name, formatAmount(*ing.Amount, *ing.Unit)))
		if len(parts) == keyIngredientCount {
			break
		}
	}
	if len(parts) == 0 {
		return nil
	}
	s := strings.Join(parts, ", ")
	return &s
}

func notes(other, dietary []string, warnings string) *string {
	var parts []string
	if len(other) > 0 {
		parts = append(parts, "Other ingredients: "+strings.Join(other, ", "))
	}
	if len(dietary) > 0 {
		parts = append(parts, "Dietary: "+strings.Join(dietary, ", "))
	}
	if w := parser.CollapseWhitespace(warnings); w != "" {
		parts = append(parts, "Warnings: "+w)
	}
	if len(parts) == 0 {
		return nil
	}
	s := strings.Join(parts, ". ")
	return &s
}

func formatAmount(amount float64, unit string) string {
	return strconv.FormatFloat(amount, 'f', -1, 64) + " " + unit
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func optional(s string) *string {
	if s = strings.TrimSpace(s); s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
