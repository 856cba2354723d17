package entity

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// Order заказ CRM; суммы в основных единицах валюты
type Order struct {
	KeapID        string      `json:"-"`
	ContactKeapID string      `json:"contact_keap_id"`
	CustomerName  string      `json:"customer_name"`
	CustomerEmail string      `json:"customer_email"`
	Title         string      `json:"title"`
	Status        string      `json:"status"`
	Total         float64     `json:"total"`
	OrderDate     string      `json:"order_date"`
	Items         []OrderItem `json:"items"`
}

type OrderItem struct {
	ID        string  `json:"id"`
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	Quantity  int64   `json:"quantity"`
	Price     float64 `json:"price"`
}

func (o *Order) EntityType() Type  { return TypeOrder }
func (o *Order) ExternalID() string { return o.KeapID }

func (o *Order) Validate() error {
	if o.KeapID == "" {
		return fmt.Errorf("order id is required")
	}
	if o.Total < 0 {
		return fmt.Errorf("order total must not be negative, got %v", o.Total)
	}
	for _, item := range o.Items {
		if item.Quantity < 0 {
			return fmt.Errorf("order item %s: negative quantity", item.ID)
		}
	}
	return nil
}

type orderPayload struct {
	ID         json.RawMessage `json:"id"`
	Title      string          `json:"title"`
	Status     string          `json:"status"`
	TotalCents *int64          `json:"total_cents"`
	Total      json.RawMessage `json:"total"`
	ContactID  json.RawMessage `json:"contact_id"`
	Contact    *struct {
		ID         json.RawMessage `json:"id"`
		Email      string          `json:"email"`
		GivenName  string          `json:"given_name"`
		FamilyName string          `json:"family_name"`
	} `json:"contact"`
	OrderDate  string `json:"order_date"`
	OrderItems []struct {
		ID         json.RawMessage `json:"id"`
		Name       string          `json:"name"`
		Quantity   int64           `json:"quantity"`
		Price      float64         `json:"price"`
		PriceCents *int64          `json:"price_cents"`
		Product    *struct {
			ID   json.RawMessage `json:"id"`
			Name string          `json:"name"`
		} `json:"product"`
	} `json:"order_items"`
}

func (m *Mapper) buildOrder(id string, raw json.RawMessage) (Record, error) {
	var p orderPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, mappingErr(TypeOrder, id, "decode payload: %v", err)
	}

	total, err := orderTotal(p.TotalCents, p.Total)
	if err != nil {
		return nil, mappingErr(TypeOrder, id, "%v", err)
	}

	o := &Order{
		KeapID:        id,
		ContactKeapID: optionalID(p.ContactID),
		Title:         text(p.Title),
		Status:        strings.ToLower(text(p.Status)),
		Total:         total,
		OrderDate:     timestamp(p.OrderDate),
		Items:         []OrderItem{},
	}
	if p.Contact != nil {
		if o.ContactKeapID == "" {
			o.ContactKeapID = optionalID(p.Contact.ID)
		}
		o.CustomerName = joinName(p.Contact.GivenName, p.Contact.FamilyName)
		o.CustomerEmail = strings.ToLower(text(p.Contact.Email))
	}

	for _, it := range p.OrderItems {
		item := OrderItem{
			ID:       optionalID(it.ID),
			Name:     text(it.Name),
			Quantity: it.Quantity,
			Price:    roundMoney(it.Price),
		}
		if it.PriceCents != nil {
			item.Price = fromCents(*it.PriceCents)
		}
		if it.Product != nil {
			item.ProductID = optionalID(it.Product.ID)
			if item.Name == "" {
				item.Name = text(it.Product.Name)
			}
		}
		o.Items = append(o.Items, item)
	}
	slices.SortStableFunc(o.Items, func(a, b OrderItem) int {
		if c := compareIDs(a.ID, b.ID); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})

	return o, nil
}

// orderTotal: total_cents и total.amount приходят в центах, число в total уже в основных единицах
func orderTotal(cents *int64, total json.RawMessage) (float64, error) {
	if cents != nil {
		return fromCents(*cents), nil
	}
	if len(total) == 0 || string(total) == "null" {
		return 0, nil
	}
	if total[0] == '{' {
		var money struct {
			Amount int64 `json:"amount"`
		}
		if err := json.Unmarshal(total, &money); err != nil {
			return 0, fmt.Errorf("decode total: %w", err)
		}
		return fromCents(money.Amount), nil
	}
	var v float64
	if err := json.Unmarshal(total, &v); err != nil {
		return 0, fmt.Errorf("decode total: %w", err)
	}
	return roundMoney(v), nil
}
