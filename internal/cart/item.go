package cart

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Product describes an item being added; the cart assigns the quantity.
type Product struct {
	ID       string  `json:"id" validate:"required"`
	Title    string  `json:"title"`
	ImageURL string  `json:"image_url"`
	Price    float64 `json:"price" validate:"gte=0"`
}

type LineItem struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	ImageURL string  `json:"image_url"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}

func (p Product) lineItem(qty int) LineItem {
	return LineItem{
		ID:       p.ID,
		Title:    p.Title,
		ImageURL: p.ImageURL,
		Price:    p.Price,
		Quantity: qty,
	}
}

// UnmarshalJSON also accepts the camel-cased imageUrl written by older
// clients. Any other unknown key is an error.
func (p *Product) UnmarshalJSON(b []byte) error {
	type plain Product
	var aux struct {
		plain
		LegacyImageURL string `json:"imageUrl"`
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&aux); err != nil {
		return err
	}
	if aux.ImageURL == "" {
		aux.ImageURL = aux.LegacyImageURL
	}
	*p = Product(aux.plain)
	return nil
}

func (it *LineItem) UnmarshalJSON(b []byte) error {
	type plain LineItem
	var aux struct {
		plain
		LegacyImageURL string `json:"imageUrl"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	if aux.ImageURL == "" {
		aux.ImageURL = aux.LegacyImageURL
	}
	*it = LineItem(aux.plain)
	return nil
}

func encodeItems(items []LineItem) (string, error) {
	if items == nil {
		items = []LineItem{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeItems(raw string) ([]LineItem, error) {
	var items []LineItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("decode cart: %w", err)
	}
	if items == nil {
		items = []LineItem{}
	}
	for i := range items {
		if items[i].Quantity < 0 {
			items[i].Quantity = 0
		}
	}
	return items, nil
}

func indexOf(items []LineItem, id string) int {
	for i := range items {
		if items[i].ID == id {
			return i
		}
	}
	return -1
}

func clone(items []LineItem) []LineItem {
	out := make([]LineItem, len(items))
	copy(out, items)
	return out
}
