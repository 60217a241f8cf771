package models

import (
	"time"
)

const (
	SchemaVersion = "1.0"
	ImportVersion = "1.0.0"
	ImportSource  = "catalog_scraper"
)

// Ingredient is one line of a supplement facts panel. Amount and Unit are
// either both set or both nil.
type Ingredient struct {
	Name            string   `json:"name" validate:"required"`
	Amount          *float64 `json:"amount"`
	Unit            *string  `json:"unit"`
	Standardization *string  `json:"standardization"`
	Equivalent      *string  `json:"equivalent"`
	Parent          *string  `json:"parent"`
}

type SourceMetadata struct {
	Origin      string    `json:"origin" validate:"required"`
	SourceURL   string    `json:"source_url" validate:"required,url"`
	RetrievedAt time.Time `json:"retrieved_at" validate:"required"`
}

type AllergenInfo struct {
	Contains []string `json:"contains,omitempty" validate:"omitempty,dive,required"`
	FreeOf   []string `json:"free_of,omitempty" validate:"omitempty,dive,required"`
}

func (a *AllergenInfo) Empty() bool {
	return a == nil || (len(a.Contains) == 0 && len(a.FreeOf) == 0)
}

type Product struct {
	Brand          string         `json:"brand" validate:"required"`
	ProductName    string         `json:"product_name" validate:"required"`
	DisplayName    string         `json:"display_name" validate:"required"`
	CanonicalID    string         `json:"canonical_id" validate:"required"`
	DosageForm     DosageForm     `json:"dosage_form" validate:"required,dosage_form"`
	Category       Category       `json:"category" validate:"required,category"`
	Ingredients    []Ingredient   `json:"ingredients" validate:"dive"`
	Confidence     float64        `json:"confidence" validate:"gte=0,lte=1"`
	SourceMetadata SourceMetadata `json:"source_metadata"`

	DosePerUnit     *string       `json:"dose_per_unit,omitempty"`
	RecommendedDose *string       `json:"recommended_dose,omitempty"`
	KeyIngredients  *string       `json:"key_ingredients,omitempty"`
	Certifications  []string      `json:"certifications,omitempty" validate:"omitempty,dive,required"`
	AllergenInfo    *AllergenInfo `json:"allergen_info,omitempty"`
	Notes           *string       `json:"notes,omitempty"`
	FrontImageURL   *string       `json:"front_image_url,omitempty" validate:"omitempty,url"`
	BackImageURL    *string       `json:"back_image_url,omitempty" validate:"omitempty,url"`
}

type ImportMetadata struct {
	ImportDate          time.Time `json:"import_date" validate:"required"`
	ImportSource        string    `json:"import_source" validate:"eq=catalog_scraper"`
	LLMModel            *string   `json:"llm_model"`
	ConfidenceThreshold float64   `json:"confidence_threshold" validate:"gte=0,lte=1"`
	Notes               string    `json:"notes"`
}

// Import is the versioned envelope persisted once per job.
type Import struct {
	SchemaVersion  string         `json:"schema_version" validate:"eq=1.0"`
	Version        string         `json:"version" validate:"required"`
	ImportMetadata ImportMetadata `json:"import_metadata"`
	Products       []Product      `json:"products" validate:"required"`
}

// NewImport wraps products in an envelope with the fixed literals filled in.
func NewImport(products []Product, threshold float64, notes string, now time.Time) *Import {
	if products == nil {
		products = make([]Product, 0)
	}
	return &Import{
		SchemaVersion: SchemaVersion,
		Version:       ImportVersion,
		ImportMetadata: ImportMetadata{
			ImportDate:          now.UTC(),
			ImportSource:        ImportSource,
			LLMModel:            nil,
			ConfidenceThreshold: threshold,
			Notes:               notes,
		},
		Products: products,
	}
}

func StringPtr(s string) *string {
	return &s
}

func Float64Ptr(f float64) *float64 {
	return &f
}
