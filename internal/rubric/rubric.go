package rubric

import (
	"encoding/json"
	"fmt"
	"strings"
)

// RowType is the wire name of a row variant.
type RowType string

const (
	RowTypeNormal     RowType = "normal"
	RowTypeContinuous RowType = "continuous"
)

// Lock describes who controls the selection of a row.
type Lock string

const (
	LockNone     Lock = ""
	LockAutoTest Lock = "auto_test"
)

// MarshalJSON writes false for unlocked rows.
func (l Lock) MarshalJSON() ([]byte, error) {
	if l == LockNone {
		return []byte("false"), nil
	}
	return json.Marshal(string(l))
}

// UnmarshalJSON accepts false, null or a lock name.
func (l *Lock) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case "false", "null":
		*l = LockNone
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid lock value %s", data)
	}
	if Lock(raw) != LockAutoTest {
		return fmt.Errorf("unknown lock %q", raw)
	}
	*l = LockAutoTest
	return nil
}

// Item is a scoring level of a row.
type Item struct {
	ID          int     `json:"id"`
	Points      float64 `json:"points"`
	Header      string  `json:"header"`
	Description string  `json:"description"`
}

// RowBase carries the fields every row variant has.
type RowBase struct {
	ID          int
	Header      string
	Description string
	Locked      Lock
	Items       []Item
}

// Row is the closed set of rubric categories: NormalRow and ContinuousRow.
type Row interface {
	Base() RowBase
	Type() RowType
	MaxPoints() float64
	isRow()
}

// NormalRow lets a grader select one of its discrete items.
type NormalRow struct {
	RowBase
}

// ContinuousRow has a single item that is scaled by a multiplier in [0, 1].
type ContinuousRow struct {
	RowBase
}

func (r NormalRow) Base() RowBase     { return r.RowBase }
func (r ContinuousRow) Base() RowBase { return r.RowBase }

func (NormalRow) Type() RowType     { return RowTypeNormal }
func (ContinuousRow) Type() RowType { return RowTypeContinuous }

func (NormalRow) isRow()     {}
func (ContinuousRow) isRow() {}

// MaxPoints is the highest item of the row, or zero for a row without items.
func (r NormalRow) MaxPoints() float64 {
	if len(r.Items) == 0 {
		return 0
	}
	highest := r.Items[0].Points
	for _, item := range r.Items[1:] {
		if item.Points > highest {
			highest = item.Points
		}
	}
	return highest
}

// MaxPoints is the points of the single item.
func (r ContinuousRow) MaxPoints() float64 {
	if len(r.Items) == 0 {
		return 0
	}
	return r.Items[0].Points
}

// Item looks an item of the row up by id.
func (b RowBase) Item(id int) (Item, bool) {
	for _, item := range b.Items {
		if item.ID == id {
			return item, true
		}
	}
	return Item{}, false
}

// WithItems returns a copy of the row with its items replaced.
func WithItems(row Row, items []Item) Row {
	base := row.Base()
	base.Items = append([]Item(nil), items...)
	switch row.(type) {
	case NormalRow:
		return NormalRow{RowBase: base}
	case ContinuousRow:
		return ContinuousRow{RowBase: base}
	}
	panic(fmt.Sprintf("rubric: unhandled row type %T", row))
}

type rowJSON struct {
	ID          int     `json:"id"`
	Header      string  `json:"header"`
	Description string  `json:"description"`
	Type        RowType `json:"type"`
	Locked      Lock    `json:"locked"`
	Items       []Item  `json:"items"`
}

func encodeRow(row Row) rowJSON {
	base := row.Base()
	items := base.Items
	if items == nil {
		items = []Item{}
	}
	return rowJSON{
		ID:          base.ID,
		Header:      base.Header,
		Description: base.Description,
		Type:        row.Type(),
		Locked:      base.Locked,
		Items:       items,
	}
}

func decodeRow(wire rowJSON) (Row, error) {
	base := RowBase{
		ID:          wire.ID,
		Header:      wire.Header,
		Description: wire.Description,
		Locked:      wire.Locked,
		Items:       wire.Items,
	}
	switch wire.Type {
	case RowTypeNormal, "":
		return NormalRow{RowBase: base}, nil
	case RowTypeContinuous:
		return ContinuousRow{RowBase: base}, nil
	default:
		return nil, fmt.Errorf("row %d: unknown row type %q", wire.ID, wire.Type)
	}
}

// Rubric is an ordered list of rows. Edits return new values.
type Rubric struct {
	Rows []Row
}

// MarshalJSON encodes the rows as a JSON array.
func (r Rubric) MarshalJSON() ([]byte, error) {
	rows := make([]rowJSON, 0, len(r.Rows))
	for _, row := range r.Rows {
		rows = append(rows, encodeRow(row))
	}
	return json.Marshal(rows)
}

// UnmarshalJSON decodes a JSON array of rows.
func (r *Rubric) UnmarshalJSON(data []byte) error {
	var wire []rowJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	rows := make([]Row, 0, len(wire))
	for _, w := range wire {
		row, err := decodeRow(w)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	r.Rows = rows
	return nil
}

// MaxPoints sums the maximum of every row.
func (r Rubric) MaxPoints() float64 {
	var total float64
	for _, row := range r.Rows {
		total += row.MaxPoints()
	}
	return total
}

// Row looks a row up by id.
func (r Rubric) Row(id int) (Row, bool) {
	for _, row := range r.Rows {
		if row.Base().ID == id {
			return row, true
		}
	}
	return nil, false
}

// HasRow reports whether a row with the id exists.
func (r Rubric) HasRow(id int) bool {
	_, ok := r.Row(id)
	return ok
}

// WithRow returns a copy with the row replaced by id, or appended when new.
func (r Rubric) WithRow(row Row) Rubric {
	rows := append([]Row(nil), r.Rows...)
	for i := range rows {
		if rows[i].Base().ID == row.Base().ID {
			rows[i] = row
			return Rubric{Rows: rows}
		}
	}
	return Rubric{Rows: append(rows, row)}
}

// WithoutRow returns a copy without the given row.
func (r Rubric) WithoutRow(id int) Rubric {
	rows := make([]Row, 0, len(r.Rows))
	for _, row := range r.Rows {
		if row.Base().ID != id {
			rows = append(rows, row)
		}
	}
	return Rubric{Rows: rows}
}

// Errors validates the rubric for the editor; nil means valid.
func (r Rubric) Errors() []string {
	var errs []string
	seen := make(map[int]struct{}, len(r.Rows))

	for idx, row := range r.Rows {
		base := row.Base()
		label := fmt.Sprintf("Category %d", idx+1)
		if strings.TrimSpace(base.Header) != "" {
			label = fmt.Sprintf("Category %q", base.Header)
		} else {
			errs = append(errs, label+": the header may not be empty.")
		}

		if _, dup := seen[base.ID]; dup && base.ID != 0 {
			errs = append(errs, fmt.Sprintf("%s: duplicate category id %d.", label, base.ID))
		}
		seen[base.ID] = struct{}{}

		switch row.(type) {
		case NormalRow:
			if len(base.Items) == 0 {
				errs = append(errs, label+": there should be at least one item.")
			}
			for i, item := range base.Items {
				if strings.TrimSpace(item.Header) == "" {
					errs = append(errs, fmt.Sprintf("%s: the header of item %d may not be empty.", label, i+1))
				}
			}
		case ContinuousRow:
			if len(base.Items) != 1 {
				errs = append(errs, label+": a continuous category should have exactly one item.")
			} else if base.Items[0].Points <= 0 {
				errs = append(errs, label+": the points of a continuous category should be larger than 0.")
			}
		}
	}

	return errs
}
