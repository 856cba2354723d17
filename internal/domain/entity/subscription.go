package entity

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Subscription повторяющийся заказ (recurring order) в Keap
type Subscription struct {
	KeapID        string  `json:"-"`
	ContactKeapID string  `json:"contact_keap_id"`
	ProductID     string  `json:"product_id"`
	Status        string  `json:"status"`
	Active        bool    `json:"active"`
	Amount        float64 `json:"amount"`
	BillingCycle  string  `json:"billing_cycle"`
	Frequency     int64   `json:"frequency"`
	NextBillDate  string  `json:"next_bill_date"`
	StartDate     string  `json:"start_date"`
}

func (s *Subscription) EntityType() Type  { return TypeSubscription }
func (s *Subscription) ExternalID() string { return s.KeapID }

func (s *Subscription) Validate() error {
	if s.KeapID == "" {
		return fmt.Errorf("subscription id is required")
	}
	if s.Amount < 0 {
		return fmt.Errorf("subscription amount must not be negative, got %v", s.Amount)
	}
	return nil
}

type subscriptionPayload struct {
	ID                 json.RawMessage `json:"id"`
	ContactID          json.RawMessage `json:"contact_id"`
	ProductID          json.RawMessage `json:"product_id"`
	Status             string          `json:"status"`
	Active             *bool           `json:"active"`
	BillingAmount      float64         `json:"billing_amount"`
	BillingAmountCents *int64          `json:"billing_amount_cents"`
	BillingCycle       string          `json:"billing_cycle"`
	BillingFrequency   int64           `json:"billing_frequency"`
	NextBillDate       string          `json:"next_bill_date"`
	StartDate          string          `json:"start_date"`
}

func (m *Mapper) buildSubscription(id string, raw json.RawMessage) (Record, error) {
	var p subscriptionPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, mappingErr(TypeSubscription, id, "decode payload: %v", err)
	}

	s := &Subscription{
		KeapID:        id,
		ContactKeapID: optionalID(p.ContactID),
		ProductID:     optionalID(p.ProductID),
		Status:        strings.ToLower(text(p.Status)),
		Amount:        roundMoney(p.BillingAmount),
		BillingCycle:  strings.ToLower(text(p.BillingCycle)),
		Frequency:     p.BillingFrequency,
		NextBillDate:  timestamp(p.NextBillDate),
		StartDate:     timestamp(p.StartDate),
	}
	if p.BillingAmountCents != nil {
		s.Amount = fromCents(*p.BillingAmountCents)
	}
	if p.Active != nil {
		s.Active = *p.Active
	} else {
		s.Active = s.Status == "active"
	}
	return s, nil
}
