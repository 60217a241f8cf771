package models

import "strings"

type DosageForm string

const (
	DosageFormCapsule  DosageForm = "capsule"
	DosageFormSoftgel  DosageForm = "softgel"
	DosageFormTablet   DosageForm = "tablet"
	DosageFormChewable DosageForm = "chewable"
	DosageFormGummy    DosageForm = "gummy"
	DosageFormPowder   DosageForm = "powder"
	DosageFormLiquid   DosageForm = "liquid"
	DosageFormLozenge  DosageForm = "lozenge"
	DosageFormSpray    DosageForm = "spray"
	DosageFormOther    DosageForm = "other"
)

var DosageForms = []DosageForm{
	DosageFormCapsule, DosageFormSoftgel, DosageFormTablet, DosageFormChewable,
	DosageFormGummy, DosageFormPowder, DosageFormLiquid, DosageFormLozenge,
	DosageFormSpray, DosageFormOther,
}

func (d DosageForm) Valid() bool {
	for _, f := range DosageForms {
		if d == f {
			return true
		}
	}
	return false
}

type Category string

const (
	CategoryVitamin   Category = "vitamin"
	CategoryMineral   Category = "mineral"
	CategoryHerbal    Category = "herbal"
	CategoryProbiotic Category = "probiotic"
	CategoryOmega     Category = "omega_fatty_acid"
	CategoryProtein   Category = "protein"
	CategoryAminoAcid Category = "amino_acid"
	CategoryOther     Category = "other"
)

var Categories = []Category{
	CategoryVitamin, CategoryMineral, CategoryHerbal, CategoryProbiotic,
	CategoryOmega, CategoryProtein, CategoryAminoAcid, CategoryOther,
}

func (c Category) Valid() bool {
	for _, v := range Categories {
		if c == v {
			return true
		}
	}
	return false
}

// JobMode selects how the listing is filtered.
type JobMode string

const (
	ModeFullCatalog JobMode = "full_catalog"
	ModeCategory    JobMode = "category"
	ModeBrand       JobMode = "brand"
	ModeSearch      JobMode = "search"
)

// ParseJobMode accepts a mode name case-insensitively.
func ParseJobMode(s string) (JobMode, bool) {
	switch m := JobMode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeFullCatalog, ModeCategory, ModeBrand, ModeSearch:
		return m, true
	}
	return "", false
}
