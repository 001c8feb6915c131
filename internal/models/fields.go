package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Field names as they appear in update patches.
const (
	FieldName            = "name"
	FieldStartDate       = "startDate"
	FieldEndDate         = "endDate"
	FieldPercentComplete = "percentComplete"
	FieldStatus          = "status"
	FieldAssignedTo      = "assignedTo"
	FieldCost            = "cost"
	FieldFlagged         = "flagged"
	FieldPredecessor     = "predecessor"
	FieldDescription     = "description"
	FieldAttachments     = "attachments"
)

// Value returns the current value of a patchable field.
func (t *Task) Value(field string) (any, error) {
	switch field {
	case FieldName:
		return t.Name, nil
	case FieldStartDate:
		return t.StartDate, nil
	case FieldEndDate:
		return t.EndDate, nil
	case FieldPercentComplete:
		return t.PercentComplete, nil
	case FieldStatus:
		return t.Status, nil
	case FieldAssignedTo:
		return t.AssignedTo, nil
	case FieldCost:
		return t.Cost, nil
	case FieldFlagged:
		return t.Flagged, nil
	case FieldPredecessor:
		return t.Predecessor, nil
	case FieldDescription:
		return t.Description, nil
	case FieldAttachments:
		return t.Attachments, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownField, field)
}

// SetField decodes raw into the named field and reports whether the stored
// value changed. Setting the value a field already holds is a no-op.
func (t *Task) SetField(field string, raw json.RawMessage) (bool, error) {
	before, err := t.encoded(field)
	if err != nil {
		return false, err
	}
	if err := t.decodeField(field, raw); err != nil {
		return false, fmt.Errorf("%w for %s: %v", ErrInvalidValue, field, err)
	}
	after, _ := t.encoded(field)
	return !bytes.Equal(before, after), nil
}

func (t *Task) encoded(field string) ([]byte, error) {
	v, err := t.Value(field)
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func (t *Task) decodeField(field string, raw json.RawMessage) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage("null")
	}
	switch field {
	case FieldName:
		return decodeString(raw, &t.Name)
	case FieldStartDate:
		return decodeString(raw, &t.StartDate)
	case FieldEndDate:
		return decodeString(raw, &t.EndDate)
	case FieldDescription:
		return decodeString(raw, &t.Description)
	case FieldCost:
		var c Cost
		if err := c.UnmarshalJSON(raw); err != nil {
			return err
		}
		t.Cost = c
	case FieldPercentComplete:
		p, err := decodePercent(raw)
		if err != nil {
			return err
		}
		t.PercentComplete = p
	case FieldStatus:
		var s string
		if err := decodeString(raw, &s); err != nil {
			return err
		}
		if s == "" {
			t.Status = StatusNotStarted
			return nil
		}
		st, ok := ParseStatus(s)
		if !ok {
			return fmt.Errorf("unknown status %q", s)
		}
		t.Status = st
	case FieldAssignedTo:
		var set AssigneeSet
		if err := set.UnmarshalJSON(raw); err != nil {
			return err
		}
		t.AssignedTo = set
	case FieldPredecessor:
		var set PredecessorSet
		if err := set.UnmarshalJSON(raw); err != nil {
			return err
		}
		t.Predecessor = set
	case FieldFlagged:
		var b bool
		if !bytes.Equal(raw, []byte("null")) {
			if err := json.Unmarshal(raw, &b); err != nil {
				return err
			}
		}
		t.Flagged = b
	case FieldAttachments:
		var list []Attachment
		if err := json.Unmarshal(raw, &list); err != nil {
			return err
		}
		t.Attachments = list
	default:
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	return nil
}

func decodeString(raw json.RawMessage, dst *string) error {
	if bytes.Equal(raw, []byte("null")) {
		*dst = ""
		return nil
	}
	return json.Unmarshal(raw, dst)
}

// decodePercent accepts a number or numeric string and clamps it to 0-100.
func decodePercent(raw json.RawMessage) (int, error) {
	if bytes.Equal(raw, []byte("null")) {
		return 0, nil
	}
	var n json.Number
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
		n = json.Number(strings.TrimSpace(s))
	} else if err := json.Unmarshal(raw, &n); err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(n.String(), 64)
	if err != nil {
		return 0, err
	}
	return ClampPercent(int(f)), nil
}

// ClampPercent bounds p to 0-100.
func ClampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
