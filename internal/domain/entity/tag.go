package entity

import (
	"encoding/json"
	"fmt"
)

type Tag struct {
	KeapID      string `json:"-"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

func (t *Tag) EntityType() Type  { return TypeTag }
func (t *Tag) ExternalID() string { return t.KeapID }

func (t *Tag) Validate() error {
	if t.KeapID == "" {
		return fmt.Errorf("tag id is required")
	}
	return nil
}

type tagPayload struct {
	ID          json.RawMessage `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Category    json.RawMessage `json:"category"`
}

func (m *Mapper) buildTag(id string, raw json.RawMessage) (Record, error) {
	var p tagPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, mappingErr(TypeTag, id, "decode payload: %v", err)
	}

	t := &Tag{
		KeapID:      id,
		Name:        text(p.Name),
		Description: text(p.Description),
	}
	if len(p.Category) > 0 {
		switch p.Category[0] {
		case '"':
			var name string
			if err := json.Unmarshal(p.Category, &name); err != nil {
				return nil, mappingErr(TypeTag, id, "decode category: %v", err)
			}
			t.Category = text(name)
		case '{':
			var cat struct {
				Name string `json:"name"`
			}
			if err := json.Unmarshal(p.Category, &cat); err != nil {
				return nil, mappingErr(TypeTag, id, "decode category: %v", err)
			}
			t.Category = text(cat.Name)
		}
	}
	return t, nil
}
