package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// Category is the fixed issue taxonomy.
type Category string

const (
	CategoryPothole        Category = "Pothole"
	CategoryGarbage        Category = "Garbage"
	CategoryStreetlight    Category = "Streetlight"
	CategorySewage         Category = "Sewage"
	CategoryWaterLeakage   Category = "Water Leakage"
	CategoryDamagedSignage Category = "Damaged Signage"
	CategoryOther          Category = "Other"
)

// Categories lists every category in display order.
var Categories = []Category{
	CategoryPothole,
	CategoryGarbage,
	CategoryStreetlight,
	CategorySewage,
	CategoryWaterLeakage,
	CategoryDamagedSignage,
	CategoryOther,
}

func (c Category) Valid() bool {
	for _, v := range Categories {
		if v == c {
			return true
		}
	}
	return false
}

// Severity is the four-level urgency scale.
type Severity string

const (
	SeverityLow      Severity = "Low"
	SeverityMedium   Severity = "Medium"
	SeverityHigh     Severity = "High"
	SeverityCritical Severity = "Critical"
)

var Severities = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

func (s Severity) Valid() bool {
	for _, v := range Severities {
		if v == s {
			return true
		}
	}
	return false
}

// Status is the officer-facing lifecycle of an issue.
type Status string

const (
	StatusNew        Status = "new"
	StatusInProgress Status = "in_progress"
	StatusResolved   Status = "resolved"
)

var Statuses = []Status{StatusNew, StatusInProgress, StatusResolved}

func (s Status) Valid() bool {
	for _, v := range Statuses {
		if v == s {
			return true
		}
	}
	return false
}

func joinValues[T ~string](values []T) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = string(v)
	}
	return strings.Join(parts, ", ")
}

// CategoryOptions renders the category list for prompts and error messages.
func CategoryOptions() string { return joinValues(Categories) }

func SeverityOptions() string { return joinValues(Severities) }

func StatusOptions() string { return joinValues(Statuses) }

// Vector is an embedding stored as a JSON array of floats.
// A nil Vector is stored as NULL.
type Vector []float64

func (v Vector) Value() (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal([]float64(v))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (v *Vector) Scan(src interface{}) error {
	if src == nil {
		*v = nil
		return nil
	}
	var raw []byte
	switch s := src.(type) {
	case []byte:
		raw = s
	case string:
		raw = []byte(s)
	default:
		return fmt.Errorf("vector: unsupported source type %T", src)
	}
	if len(raw) == 0 {
		*v = nil
		return nil
	}
	var out []float64
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("vector: %w", err)
	}
	*v = out
	return nil
}

// Norm returns the Euclidean length of v.
func (v Vector) Norm() float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}

var ErrEmptyVector = errors.New("empty embedding vector")

// CheckVector rejects empty vectors and non-finite components.
func CheckVector(v []float64) error {
	if len(v) == 0 {
		return ErrEmptyVector
	}
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("embedding component %d is not finite", i)
		}
	}
	return nil
}
