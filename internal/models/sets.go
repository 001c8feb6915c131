package models

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// AssigneeSet holds contact ids assigned to a task.
// It decodes from an array or from the legacy single-string form and always encodes as an array.
type AssigneeSet []string

// ParseAssigneeList splits a comma-separated contact list.
func ParseAssigneeList(text string) AssigneeSet {
	set := AssigneeSet{}
	for _, part := range strings.Split(text, ",") {
		set = set.add(strings.TrimSpace(part))
	}
	return set
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *AssigneeSet) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = AssigneeSet{}
		return nil
	}
	if b[0] == '"' {
		var one string
		if err := json.Unmarshal(b, &one); err != nil {
			return err
		}
		*s = AssigneeSet{}.add(strings.TrimSpace(one))
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	set := AssigneeSet{}
	for _, id := range many {
		set = set.add(strings.TrimSpace(id))
	}
	*s = set
	return nil
}

// MarshalJSON implements json.Marshaler.
func (s AssigneeSet) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(s))
}

// Contains reports whether id is in the set.
func (s AssigneeSet) Contains(id string) bool {
	for _, v := range s {
		if v == id {
			return true
		}
	}
	return false
}

// String joins the set for display and for the grid export.
func (s AssigneeSet) String() string {
	return strings.Join(s, ", ")
}

func (s AssigneeSet) add(id string) AssigneeSet {
	if id == "" || s.Contains(id) {
		return s
	}
	return append(s, id)
}

// PredecessorSet holds the ids of tasks that must finish first.
// One editing surface stores a single id, another an array; both decode here.
type PredecessorSet []int

// ParsePredecessorList splits a comma-separated id list, dropping tokens that are not ids.
func ParsePredecessorList(text string) PredecessorSet {
	set := PredecessorSet{}
	for _, part := range strings.Split(text, ",") {
		if id, ok := parseID(strings.TrimSpace(part)); ok {
			set = set.add(id)
		}
	}
	return set
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *PredecessorSet) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = PredecessorSet{}
		return nil
	}
	if b[0] != '[' {
		id, err := decodeRef(b)
		if err != nil {
			return err
		}
		*s = PredecessorSet{}.add(id)
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	set := PredecessorSet{}
	for _, r := range raw {
		id, err := decodeRef(r)
		if err != nil {
			return err
		}
		set = set.add(id)
	}
	*s = set
	return nil
}

// decodeRef reads a number or numeric string; anything else yields 0.
func decodeRef(b []byte) (int, error) {
	if len(b) > 0 && b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return 0, err
		}
		id, _ := parseID(strings.TrimSpace(str))
		return id, nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return 0, err
	}
	id, _ := parseID(n.String())
	return id, nil
}

// MarshalJSON implements json.Marshaler.
func (s PredecessorSet) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]int(s))
}

// Contains reports whether id is in the set.
func (s PredecessorSet) Contains(id int) bool {
	for _, v := range s {
		if v == id {
			return true
		}
	}
	return false
}

// Primary narrows the set to the single id shown by one-value surfaces.
func (s PredecessorSet) Primary() (int, bool) {
	if len(s) == 0 {
		return 0, false
	}
	return s[0], true
}

// Without returns the set with id removed and whether it was present.
func (s PredecessorSet) Without(id int) (PredecessorSet, bool) {
	out := s[:0:0]
	removed := false
	for _, v := range s {
		if v == id {
			removed = true
			continue
		}
		out = append(out, v)
	}
	if !removed {
		return s, false
	}
	return out, true
}

// String joins the ids with commas.
func (s PredecessorSet) String() string {
	parts := make([]string, len(s))
	for i, id := range s {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ", ")
}

func (s PredecessorSet) add(id int) PredecessorSet {
	if id <= 0 || s.Contains(id) {
		return s
	}
	return append(s, id)
}
