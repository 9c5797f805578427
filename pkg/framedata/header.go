package framedata

import (
	"fmt"
	"strconv"
	"strings"
)

// A Card is one header entry. Value is one of string, bool, int,
// int64, float64 - the types a FITS header can carry.
type Card struct {
	Name    string
	Value   interface{}
	Comment string
}

// Header is an ordered set of cards plus HISTORY lines. Order is
// preserved on write, so provenance reads sensibly in the output file.
type Header struct {
	cards   []Card
	index   map[string]int
	history []string
}

func NewHeader() *Header {
	return &Header{index: map[string]int{}}
}

func (h *Header) Len() int { return len(h.cards) }

func (h *Header) Keys() []string {
	keys := make([]string, len(h.cards))
	for i, c := range h.cards {
		keys[i] = c.Name
	}
	return keys
}

func (h *Header) Has(name string) bool {
	_, exists := h.index[strings.ToUpper(name)]
	return exists
}

func (h *Header) Get(name string) (interface{}, bool) {
	if i, exists := h.index[strings.ToUpper(name)]; exists {
		return h.cards[i].Value, true
	}
	return nil, false
}

func (h *Header) Card(name string) (Card, bool) {
	if i, exists := h.index[strings.ToUpper(name)]; exists {
		return h.cards[i], true
	}
	return Card{}, false
}

// Set adds or replaces a card, preserving its position on replace.
func (h *Header) Set(name string, value interface{}, comment string) {
	name = strings.ToUpper(name)
	if i, exists := h.index[name]; exists {
		h.cards[i].Value = value
		if comment != "" {
			h.cards[i].Comment = comment
		}
		return
	}
	h.index[name] = len(h.cards)
	h.cards = append(h.cards, Card{Name: name, Value: value, Comment: comment})
}

func (h *Header) Del(name string) {
	name = strings.ToUpper(name)
	i, exists := h.index[name]
	if !exists {
		return
	}
	h.cards = append(h.cards[:i], h.cards[i+1:]...)
	delete(h.index, name)
	for k, v := range h.index {
		if v > i {
			h.index[k] = v - 1
		}
	}
}

// String returns the keyword value as a string, failing with
// ErrMissingKeyword when absent.
func (h *Header) String(name string) (string, error) {
	v, exists := h.Get(name)
	if !exists {
		return "", fmt.Errorf("%q: %w", name, ErrMissingKeyword)
	}
	return fmt.Sprintf("%v", v), nil
}

// Float returns the keyword value as a float64, converting integral
// and string-encoded numbers.
func (h *Header) Float(name string) (float64, error) {
	v, exists := h.Get(name)
	if !exists {
		return 0, fmt.Errorf("%q: %w", name, ErrMissingKeyword)
	}
	switch val := v.(type) {
	case float64:
		return val, nil
	case float32:
		return float64(val), nil
	case int:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, fmt.Errorf("keyword %q value %q is not numeric", name, val)
		}
		return f, nil
	}
	return 0, fmt.Errorf("keyword %q has non-numeric type %T", name, v)
}

func (h *Header) Int(name string) (int, error) {
	f, err := h.Float(name)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

func (h *Header) AddHistory(line string) {
	h.history = append(h.history, line)
}

func (h *Header) History() []string {
	return append([]string(nil), h.history...)
}

func (h *Header) Clone() *Header {
	h2 := NewHeader()
	h2.cards = append([]Card(nil), h.cards...)
	for k, v := range h.index {
		h2.index[k] = v
	}
	h2.history = append([]string(nil), h.history...)
	return h2
}

// ValueEqual compares a header value against a filter value. Numbers
// compare numerically so that 2 matches 2.0; everything else compares
// by trimmed string form.
func ValueEqual(have, want interface{}) bool {
	hf, hok := toFloat(have)
	wf, wok := toFloat(want)
	if hok && wok {
		return hf == wf
	}
	return strings.TrimSpace(fmt.Sprintf("%v", have)) == strings.TrimSpace(fmt.Sprintf("%v", want))
}

func toFloat(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	}
	return 0, false
}
