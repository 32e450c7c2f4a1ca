package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"github.com/noah-isme/gema-autotest/internal/autotest"
	"github.com/noah-isme/gema-autotest/internal/rubric"
)

// Assignment stores the grading configuration of an assignment: its rubric
// and the optional AutoTest definition, both as JSON documents.
type Assignment struct {
	ID                   uint           `gorm:"primaryKey" json:"id"`
	Title                string         `gorm:"size:255;not null" json:"title"`
	Rubric               datatypes.JSON `gorm:"type:json" json:"rubric"`
	AutoTest             datatypes.JSON `gorm:"type:json" json:"auto_test"`
	FixedMaxRubricPoints *float64       `json:"fixed_max_rubric_points"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// DecodeRubric parses the stored rubric. An empty column is an empty rubric.
func (a Assignment) DecodeRubric() (rubric.Rubric, error) {
	var rub rubric.Rubric
	if len(a.Rubric) == 0 {
		return rub, nil
	}
	if err := json.Unmarshal(a.Rubric, &rub); err != nil {
		return rubric.Rubric{}, fmt.Errorf("decode rubric of assignment %d: %w", a.ID, err)
	}
	return rub, nil
}

// DecodeAutoTest parses the stored AutoTest definition. It returns false when
// the assignment has none.
func (a Assignment) DecodeAutoTest() (autotest.AutoTest, bool, error) {
	if len(a.AutoTest) == 0 || string(a.AutoTest) == "null" {
		return autotest.AutoTest{}, false, nil
	}
	var def autotest.AutoTest
	if err := json.Unmarshal(a.AutoTest, &def); err != nil {
		return autotest.AutoTest{}, false, fmt.Errorf("decode auto test of assignment %d: %w", a.ID, err)
	}
	return def, true, nil
}

// SetRubric replaces the stored rubric.
func (a *Assignment) SetRubric(rub rubric.Rubric) error {
	raw, err := json.Marshal(rub)
	if err != nil {
		return err
	}
	a.Rubric = datatypes.JSON(raw)
	return nil
}

// SetAutoTest replaces the stored AutoTest definition.
func (a *Assignment) SetAutoTest(def autotest.AutoTest) error {
	raw, err := json.Marshal(def)
	if err != nil {
		return err
	}
	a.AutoTest = datatypes.JSON(raw)
	return nil
}
