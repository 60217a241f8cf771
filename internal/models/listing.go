package models

// RawListingItem is one entry read off the catalog listing.
type RawListingItem struct {
	Brand        string `json:"brand"`
	ProductName  string `json:"product_name"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	DetailURL    string `json:"detail_url,omitempty"`
	PackageLabel string `json:"package_label,omitempty"`
}

// DetailFields holds everything the detail page visit could read. Any field
// may be empty when its disclosure could not be extracted.
type DetailFields struct {
	Description         string   `json:"description,omitempty"`
	Warnings            string   `json:"warnings,omitempty"`
	Certifications      []string `json:"certifications,omitempty"`
	DietaryRestrictions []string `json:"dietary_restrictions,omitempty"`
	SuggestedUse        string   `json:"suggested_use,omitempty"`
	ServingSize         string   `json:"serving_size,omitempty"`
	IngredientHTML      string   `json:"ingredient_html,omitempty"`
	FrontImageURL       string   `json:"front_image_url,omitempty"`
	BackLabelImageURL   string   `json:"back_label_image_url,omitempty"`
}

// DetailEnrichedItem is a listing item merged with its detail page fields.
type DetailEnrichedItem struct {
	RawListingItem
	DetailFields

	// Enriched is false when the detail visit failed and only listing data
	// is available.
	Enriched bool `json:"enriched"`
}

// Merge combines a listing item with the result of its detail visit. A nil
// detail keeps the listing data as a degraded record.
func Merge(item RawListingItem, detail *DetailFields) DetailEnrichedItem {
	merged := DetailEnrichedItem{RawListingItem: item}
	if detail != nil {
		merged.DetailFields = *detail
		merged.Enriched = true
	}
	return merged
}
