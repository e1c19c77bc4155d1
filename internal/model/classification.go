package model

import (
	"errors"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
)

// OutputShape is the declared payload shape of a classifier.
type OutputShape string

const (
	OutputShapeSingle       OutputShape = "single"
	OutputShapeMulti        OutputShape = "multi"
	OutputShapeHierarchical OutputShape = "hierarchical"
)

// Valid reports whether s is a known output shape.
func (s OutputShape) Valid() bool {
	switch s {
	case OutputShapeSingle, OutputShapeMulti, OutputShapeHierarchical:
		return true
	}
	return false
}

var payloadValidate = validator.New()

// SingleValue is the payload of a single-label classifier.
type SingleValue struct {
	Value      string   `json:"value" validate:"required"`
	Confidence *float64 `json:"confidence,omitempty" validate:"omitempty,gte=0,lte=1"`
	Reason     string   `json:"reason,omitempty"`
}

// LabelValue is one label of a multi-label payload.
type LabelValue struct {
	Value      string   `json:"value" validate:"required"`
	Confidence *float64 `json:"confidence,omitempty" validate:"omitempty,gte=0,lte=1"`
	Reason     string   `json:"reason,omitempty"`
}

// MultiValue is the payload of a multi-label classifier.
type MultiValue struct {
	Values []LabelValue `json:"values" validate:"required,min=1,dive"`
}

// LevelValue is one level of a hierarchical payload.
type LevelValue struct {
	Level      int      `json:"level" validate:"gte=0"`
	Value      string   `json:"value" validate:"required"`
	Confidence *float64 `json:"confidence,omitempty" validate:"omitempty,gte=0,lte=1"`
}

// HierarchicalValue is the payload of a hierarchical classifier. Levels are
// ordered by increasing level.
type HierarchicalValue struct {
	Levels []LevelValue `json:"levels" validate:"required,min=1,dive"`
}

// ClassificationPayload is a tagged union over the three payload shapes.
// Exactly the arm named by Type is populated.
type ClassificationPayload struct {
	Type         OutputShape        `json:"type"`
	Single       *SingleValue       `json:"single,omitempty"`
	Multi        *MultiValue        `json:"multi,omitempty"`
	Hierarchical *HierarchicalValue `json:"hierarchical,omitempty"`
}

// NewSinglePayload builds a single-shape payload.
func NewSinglePayload(value string, confidence *float64) *ClassificationPayload {
	return &ClassificationPayload{
		Type:   OutputShapeSingle,
		Single: &SingleValue{Value: value, Confidence: confidence},
	}
}

// NewMultiPayload builds a multi-shape payload.
func NewMultiPayload(values ...LabelValue) *ClassificationPayload {
	return &ClassificationPayload{
		Type:  OutputShapeMulti,
		Multi: &MultiValue{Values: values},
	}
}

// NewHierarchicalPayload builds a hierarchical payload.
func NewHierarchicalPayload(levels ...LevelValue) *ClassificationPayload {
	return &ClassificationPayload{
		Type:         OutputShapeHierarchical,
		Hierarchical: &HierarchicalValue{Levels: levels},
	}
}

// Validate checks p against the declared shape of its classifier.
func (p *ClassificationPayload) Validate(shape OutputShape) error {
	if p == nil {
		return newValidationError("", "payload is nil")
	}
	if !shape.Valid() {
		return newValidationError("output_shape", "unknown shape %q", shape)
	}
	if p.Type != shape {
		return newValidationError("type", "got %q, classifier declares %q", p.Type, shape)
	}

	arms := 0
	for _, set := range []bool{p.Single != nil, p.Multi != nil, p.Hierarchical != nil} {
		if set {
			arms++
		}
	}
	if arms != 1 {
		return newValidationError("", "expected exactly one payload arm, got %d", arms)
	}

	var target any
	switch shape {
	case OutputShapeSingle:
		target = p.Single
	case OutputShapeMulti:
		target = p.Multi
	case OutputShapeHierarchical:
		target = p.Hierarchical
	}
	if target == nil || isNilPtr(target) {
		return newValidationError(string(shape), "payload arm for %q is missing", shape)
	}
	if err := payloadValidate.Struct(target); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return newValidationError(fe.Namespace(), "failed %q constraint", fe.Tag())
		}
		return newValidationError(string(shape), "%v", err)
	}

	if shape == OutputShapeHierarchical {
		for i := 1; i < len(p.Hierarchical.Levels); i++ {
			if p.Hierarchical.Levels[i].Level <= p.Hierarchical.Levels[i-1].Level {
				return newValidationError("levels", "levels must be strictly increasing (index %d)", i)
			}
		}
	}
	return nil
}

// Values flattens the payload into its label values, in order.
func (p *ClassificationPayload) Values() []string {
	if p == nil {
		return nil
	}
	switch {
	case p.Single != nil:
		return []string{p.Single.Value}
	case p.Multi != nil:
		out := make([]string, 0, len(p.Multi.Values))
		for _, v := range p.Multi.Values {
			out = append(out, v.Value)
		}
		return out
	case p.Hierarchical != nil:
		out := make([]string, 0, len(p.Hierarchical.Levels))
		for _, l := range p.Hierarchical.Levels {
			out = append(out, l.Value)
		}
		return out
	}
	return nil
}

func isNilPtr(v any) bool {
	switch t := v.(type) {
	case *SingleValue:
		return t == nil
	case *MultiValue:
		return t == nil
	case *HierarchicalValue:
		return t == nil
	}
	return false
}

// ClassificationResult is the persisted outcome of one classifier on one item.
// At most one exists per (ItemID, ClassifierSlug).
type ClassificationResult struct {
	ID             string                `json:"id"`
	ItemID         string                `json:"item_id"`
	ClassifierSlug string                `json:"classifier_slug"`
	Payload        ClassificationPayload `json:"payload"`
	CreatedAt      time.Time             `json:"created_at"`
}

// ClampConfidence bounds c to [0,1]. NaN maps to 0.
func ClampConfidence(c float64) float64 {
	if math.IsNaN(c) || c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
