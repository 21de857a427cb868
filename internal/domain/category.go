package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Category is one row of the remote category tree. ParentID links rows into
// an implicit tree; Level is the precomputed depth used for display
// indentation and is trusted as sent.
type Category struct {
	ID       int    `json:"id"`
	ParentID int    `json:"parentId"`
	Level    int    `json:"level"`
	Name     string `json:"name"`
}

// UnmarshalJSON coerces the numeric fields to integers. PHP backends tend to
// serialize them inconsistently as numbers or numeric strings.
func (c *Category) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID       flexInt `json:"id"`
		ParentID flexInt `json:"parentId"`
		Level    flexInt `json:"level"`
		Name     string  `json:"name"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.ID = int(raw.ID)
	c.ParentID = int(raw.ParentID)
	c.Level = int(raw.Level)
	c.Name = raw.Name
	return nil
}

type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("not a numeric value: %q", s)
	}
	*f = flexInt(int(v))
	return nil
}
