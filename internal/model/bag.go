package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidBagEntry возвращается при разборе записи корзины неизвестной формы.
var ErrInvalidBagEntry = errors.New("invalid bag entry")

// Bag представляет корзину сессии: ключ — идентификатор товара в виде строки.
type Bag map[string]BagEntry

// BagEntry — запись корзины в одной из двух форм: либо простое количество,
// либо количества по размерам. Ровно одно из полей заполнено.
type BagEntry struct {
	Quantity int
	BySize   map[string]int
}

// HasSizes сообщает, является ли запись размерной.
func (e BagEntry) HasSizes() bool {
	return e.BySize != nil
}

type sizedEntry struct {
	ItemsBySize map[string]int `json:"items_by_size"`
}

// MarshalJSON сериализует запись в исторический формат: голое число
// для простой записи и объект items_by_size для размерной.
func (e BagEntry) MarshalJSON() ([]byte, error) {
	if e.HasSizes() {
		return json.Marshal(sizedEntry{ItemsBySize: e.BySize})
	}
	return json.Marshal(e.Quantity)
}

// UnmarshalJSON принимает обе исторические формы записи корзины.
func (e *BagEntry) UnmarshalJSON(data []byte) error {
	var qty int
	if err := json.Unmarshal(data, &qty); err == nil {
		if qty <= 0 {
			return fmt.Errorf("%w: quantity must be positive", ErrInvalidBagEntry)
		}
		*e = BagEntry{Quantity: qty}
		return nil
	}

	var sized sizedEntry
	if err := json.Unmarshal(data, &sized); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidBagEntry, err)
	}
	if len(sized.ItemsBySize) == 0 {
		return fmt.Errorf("%w: items_by_size is empty", ErrInvalidBagEntry)
	}
	for size, q := range sized.ItemsBySize {
		if q <= 0 {
			return fmt.Errorf("%w: quantity for size %q must be positive", ErrInvalidBagEntry, size)
		}
	}
	*e = BagEntry{BySize: sized.ItemsBySize}
	return nil
}

// ParseBag разбирает сериализованный снимок корзины.
func ParseBag(raw string) (Bag, error) {
	var bag Bag
	if err := json.Unmarshal([]byte(raw), &bag); err != nil {
		return nil, fmt.Errorf("parse bag: %w", err)
	}
	return bag, nil
}

// Encode сериализует корзину в снимок, пригодный для метаданных платежа.
func (b Bag) Encode() (string, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return "", fmt.Errorf("encode bag: %w", err)
	}
	return string(data), nil
}
