package mate

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// ErrConfiguration is matched by every *ConfigurationError.
var ErrConfiguration = errors.New("invalid configuration")

// ConfigurationError reports an invalid threshold or option value.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// Thresholds parameterize classification and learning. Distances are in mm,
// angles in degrees.
type Thresholds struct {
	ConcentricAxisDist    float64 `json:"concentric_axis_dist" yaml:"concentric_axis_dist" validate:"gte=0"`
	ConcentricAngleDeg    float64 `json:"concentric_angle_deg" yaml:"concentric_angle_deg" validate:"gte=0,lte=180"`
	ParallelAngleDeg      float64 `json:"parallel_angle_deg" yaml:"parallel_angle_deg" validate:"gte=0,lte=180"`
	PerpendicularAngleMin float64 `json:"perpendicular_angle_min" yaml:"perpendicular_angle_min" validate:"gte=0,lte=180"`
	PerpendicularAngleMax float64 `json:"perpendicular_angle_max" yaml:"perpendicular_angle_max" validate:"gte=0,lte=180"`
	CoincidentDist        float64 `json:"coincident_dist" yaml:"coincident_dist" validate:"gte=0"`
	MaxAssociationDist    float64 `json:"max_association_dist" yaml:"max_association_dist" validate:"gte=0"`
	MinSamplesForRule     int     `json:"min_samples_for_rule" yaml:"min_samples_for_rule" validate:"gte=1"`
	MaxRulesPerType       int     `json:"max_rules_per_type" yaml:"max_rules_per_type" validate:"gte=1"`
	ConfidenceThreshold   float64 `json:"confidence_threshold" yaml:"confidence_threshold" validate:"gte=0,lte=1"`
	HoleRadiusMax         float64 `json:"hole_radius_max" yaml:"hole_radius_max" validate:"gte=0"`
	HoleSpacingMax        float64 `json:"hole_spacing_max" yaml:"hole_spacing_max" validate:"gte=0"`
}

// DefaultThresholds returns the stock thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ConcentricAxisDist:    0.5,
		ConcentricAngleDeg:    2.0,
		ParallelAngleDeg:      5.0,
		PerpendicularAngleMin: 88,
		PerpendicularAngleMax: 92,
		CoincidentDist:        0.1,
		MaxAssociationDist:    300,
		MinSamplesForRule:     2,
		MaxRulesPerType:       50,
		ConfidenceThreshold:   0.5,
		HoleRadiusMax:         50,
		HoleSpacingMax:        200,
	}
}

// NewThresholds validates t and returns it unchanged on success.
func NewThresholds(t Thresholds) (Thresholds, error) {
	if err := t.Validate(); err != nil {
		return Thresholds{}, err
	}
	return t, nil
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// Validate checks every field and the cross-field constraints. The first
// violation is returned as a *ConfigurationError.
func (t Thresholds) Validate() error {
	if err := structValidator().Struct(t); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &ConfigurationError{Field: fe.Field(), Reason: describe(fe)}
		}
		return &ConfigurationError{Field: "thresholds", Reason: err.Error()}
	}
	if t.PerpendicularAngleMin > t.PerpendicularAngleMax {
		return &ConfigurationError{
			Field:  "perpendicular_angle_min",
			Reason: fmt.Sprintf("min %v exceeds max %v", t.PerpendicularAngleMin, t.PerpendicularAngleMax),
		}
	}
	return nil
}

// ValidateWeight checks a blend weight in [0, 1].
func ValidateWeight(field string, w float64) error {
	if math.IsNaN(w) || w < 0 || w > 1 {
		return &ConfigurationError{Field: field, Reason: fmt.Sprintf("must be within [0, 1], got %v", w)}
	}
	return nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "gte":
		return fmt.Sprintf("must be >= %s, got %v", fe.Param(), fe.Value())
	case "lte":
		return fmt.Sprintf("must be <= %s, got %v", fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("failed %q check, got %v", fe.Tag(), fe.Value())
	}
}
