// Package validator checks finished product records and import envelopes
// against the output contract before they are persisted.
package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/maltedev/catalog-importer/internal/models"
)

// Penalty is subtracted from the confidence of a product that fails validation.
const Penalty = 0.20

// Issue is a single failed rule.
type Issue struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s", i.Field, i.Message)
}

// Result is the outcome of validating one record.
type Result struct {
	Valid  bool    `json:"valid"`
	Issues []Issue `json:"issues,omitempty"`
}

// Error joins the issues into a single error, nil when valid.
func (r Result) Error() error {
	if r.Valid {
		return nil
	}
	msgs := make([]string, 0, len(r.Issues))
	for _, issue := range r.Issues {
		msgs = append(msgs, issue.String())
	}
	return fmt.Errorf("validation failed: %s", strings.Join(msgs, "; "))
}

// Validator wraps a configured go-playground validator.
type Validator struct {
	validate *validator.Validate
}

// New creates a validator with the product vocabulary rules registered.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(jsonFieldName)

	_ = v.RegisterValidation("dosage_form", func(fl validator.FieldLevel) bool {
		return models.DosageForm(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("category", func(fl validator.FieldLevel) bool {
		return models.Category(fl.Field().String()).Valid()
	})
	v.RegisterStructValidation(ingredientAmountUnit, models.Ingredient{})

	return &Validator{validate: v}
}

// ingredientAmountUnit enforces that amount and unit appear together.
func ingredientAmountUnit(sl validator.StructLevel) {
	ing := sl.Current().Interface().(models.Ingredient)
	hasAmount := ing.Amount != nil
	hasUnit := ing.Unit != nil && strings.TrimSpace(*ing.Unit) != ""
	switch {
	case hasAmount && !hasUnit:
		sl.ReportError(ing.Unit, "unit", "Unit", "amount_unit", "")
	case hasUnit && !hasAmount:
		sl.ReportError(ing.Amount, "amount", "Amount", "amount_unit", "")
	}
}

// Product validates a finished product record. It never panics; a record the
// validator cannot inspect is reported as invalid.
func (v *Validator) Product(p *models.Product) Result {
	if p == nil {
		return Result{Issues: []Issue{{Field: "product", Rule: "required", Message: "product is nil"}}}
	}
	return v.check(p)
}

// Import validates the envelope fields and every product in it.
func (v *Validator) Import(imp *models.Import) Result {
	if imp == nil {
		return Result{Issues: []Issue{{Field: "import", Rule: "required", Message: "import is nil"}}}
	}

	res := v.check(imp)
	for i := range imp.Products {
		pr := v.check(&imp.Products[i])
		for _, issue := range pr.Issues {
			issue.Field = fmt.Sprintf("products[%d].%s", i, issue.Field)
			res.Issues = append(res.Issues, issue)
		}
	}
	res.Valid = len(res.Issues) == 0
	return res
}

// Envelope validates only the envelope fields of imp, not its products.
func (v *Validator) Envelope(imp *models.Import) Result {
	if imp == nil {
		return Result{Issues: []Issue{{Field: "import", Rule: "required", Message: "import is nil"}}}
	}
	return v.check(imp)
}

func (v *Validator) check(s interface{}) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Issues: []Issue{{Field: "record", Rule: "panic", Message: fmt.Sprint(r)}}}
		}
	}()

	err := v.validate.Struct(s)
	if err == nil {
		return Result{Valid: true}
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return Result{Issues: []Issue{{Field: "record", Rule: "invalid", Message: err.Error()}}}
	}

	for _, fe := range fieldErrs {
		res.Issues = append(res.Issues, Issue{
			Field:   fieldPath(fe),
			Rule:    fe.Tag(),
			Message: message(fe),
		})
	}
	return res
}

// fieldPath drops the root type name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "dosage_form":
		return fmt.Sprintf("%q is not a known dosage form", fe.Value())
	case "category":
		return fmt.Sprintf("%q is not a known category", fe.Value())
	case "url":
		return "must be a well-formed URL"
	case "gte", "lte":
		return fmt.Sprintf("must be %s %s", fe.Tag(), fe.Param())
	case "eq":
		return fmt.Sprintf("must equal %q", fe.Param())
	case "amount_unit":
		return "amount and unit must be set together"
	default:
		return fmt.Sprintf("failed %q rule", fe.Tag())
	}
}

func jsonFieldName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" || name == "" {
		return fld.Name
	}
	return name
}

var (
	defaultOnce      sync.Once
	defaultValidator *Validator
)

// Default returns a shared validator. validator.Validate caches struct
// metadata, so one instance should be reused.
func Default() *Validator {
	defaultOnce.Do(func() {
		defaultValidator = New()
	})
	return defaultValidator
}
