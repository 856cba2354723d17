package entity

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// Contact контакт CRM в форме зеркала
type Contact struct {
	KeapID         string            `json:"-"`
	Email          string            `json:"email"`
	FirstName      string            `json:"first_name"`
	LastName       string            `json:"last_name"`
	FullName       string            `json:"full_name"`
	Phone          string            `json:"phone"`
	Company        string            `json:"company"`
	LifecycleStage string            `json:"lifecycle_stage"`
	LeadScore      int64             `json:"lead_score"`
	TagIDs         []string          `json:"tag_ids"`
	IsActiveClient bool              `json:"is_active_client"`
	CustomFields   map[string]string `json:"custom_fields"`
}

func (c *Contact) EntityType() Type  { return TypeContact }
func (c *Contact) ExternalID() string { return c.KeapID }

func (c *Contact) Validate() error {
	if c.KeapID == "" {
		return fmt.Errorf("contact id is required")
	}
	if c.Email != "" && !strings.Contains(c.Email, "@") {
		return fmt.Errorf("invalid email %q", c.Email)
	}
	return nil
}

type contactPayload struct {
	ID             json.RawMessage `json:"id"`
	GivenName      string          `json:"given_name"`
	FamilyName     string          `json:"family_name"`
	EmailAddresses []struct {
		Email string `json:"email"`
	} `json:"email_addresses"`
	PhoneNumbers []struct {
		Number string `json:"number"`
	} `json:"phone_numbers"`
	Company *struct {
		CompanyName string `json:"company_name"`
	} `json:"company"`
	CompanyName    string            `json:"company_name"`
	LifecycleStage string            `json:"lifecycle_stage"`
	LeadScore      int64             `json:"lead_score"`
	TagIDs         []json.RawMessage `json:"tag_ids"`
	Tags           []struct {
		ID   json.RawMessage `json:"id"`
		Name string          `json:"name"`
	} `json:"tags"`
	CustomFields []struct {
		ID      json.RawMessage `json:"id"`
		Content any             `json:"content"`
	} `json:"custom_fields"`
}

func (m *Mapper) buildContact(id string, raw json.RawMessage) (Record, error) {
	var p contactPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, mappingErr(TypeContact, id, "decode payload: %v", err)
	}

	c := &Contact{
		KeapID:         id,
		FirstName:      text(p.GivenName),
		LastName:       text(p.FamilyName),
		FullName:       joinName(p.GivenName, p.FamilyName),
		Company:        text(p.CompanyName),
		LifecycleStage: strings.ToLower(text(p.LifecycleStage)),
		LeadScore:      p.LeadScore,
		TagIDs:         []string{},
		CustomFields:   map[string]string{},
	}
	if len(p.EmailAddresses) > 0 {
		c.Email = strings.ToLower(text(p.EmailAddresses[0].Email))
	}
	if len(p.PhoneNumbers) > 0 {
		c.Phone = text(p.PhoneNumbers[0].Number)
	}
	if p.Company != nil && c.Company == "" {
		c.Company = text(p.Company.CompanyName)
	}

	tagSet := make(map[string]struct{}, len(p.TagIDs)+len(p.Tags))
	for _, raw := range p.TagIDs {
		if tagID, ok := externalID(raw); ok {
			tagSet[tagID] = struct{}{}
		}
	}
	for _, tag := range p.Tags {
		tagID, ok := externalID(tag.ID)
		if ok {
			tagSet[tagID] = struct{}{}
		}
		if m.isActiveClientTag(tagID, tag.Name) {
			c.IsActiveClient = true
		}
	}
	for tagID := range tagSet {
		c.TagIDs = append(c.TagIDs, tagID)
		if m.isActiveClientTag(tagID, "") {
			c.IsActiveClient = true
		}
	}
	slices.SortFunc(c.TagIDs, compareIDs)

	for _, cf := range p.CustomFields {
		fieldID, ok := externalID(cf.ID)
		if !ok || cf.Content == nil {
			continue
		}
		c.CustomFields[fieldID] = text(fmt.Sprint(cf.Content))
	}

	return c, nil
}

func (m *Mapper) isActiveClientTag(id, name string) bool {
	if _, ok := m.activeClientTags[strings.ToLower(text(name))]; ok && name != "" {
		return true
	}
	_, ok := m.activeClientTags[id]
	return ok && id != ""
}
