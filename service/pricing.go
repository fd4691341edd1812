package service

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"github.com/Amdecodes/DocServe-sub001/config"
	"github.com/Amdecodes/DocServe-sub001/model"
)

type Price struct {
	Amount   decimal.Decimal
	Currency currency.Unit
}

func (p Price) String() string {
	return p.Amount.StringFixed(2) + " " + p.Currency.String()
}

// PriceBook resolves what an order costs. Lookup order: the full service type
// ("agreement:house-rent-am"), then its kind ("cv"), then the default.
type PriceBook struct {
	unit      currency.Unit
	def       decimal.Decimal
	kinds     map[model.Kind]decimal.Decimal
	templates map[string]decimal.Decimal
}

func NewPriceBook(cfg *config.PricingConfig) (*PriceBook, error) {
	unit, err := currency.ParseISO(cfg.Currency)
	if err != nil {
		return nil, fmt.Errorf("currency[%s] is not valid: %w", cfg.Currency, err)
	}

	def, err := parseAmount("default", cfg.Default)
	if err != nil {
		return nil, err
	}

	pb := &PriceBook{
		unit:      unit,
		def:       def,
		kinds:     make(map[model.Kind]decimal.Decimal, len(cfg.Kinds)),
		templates: make(map[string]decimal.Decimal, len(cfg.Templates)),
	}
	for k, v := range cfg.Kinds {
		amt, err := parseAmount(k, v)
		if err != nil {
			return nil, err
		}
		pb.kinds[model.Kind(k)] = amt
	}
	for k, v := range cfg.Templates {
		st, err := model.ParseServiceType(k)
		if err != nil {
			return nil, fmt.Errorf("pricing.templates[%s]: %w", k, err)
		}
		amt, err := parseAmount(k, v)
		if err != nil {
			return nil, err
		}
		pb.templates[st.String()] = amt
	}
	return pb, nil
}

func parseAmount(name, v string) (decimal.Decimal, error) {
	amt, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("pricing[%s]: %w", name, err)
	}
	if amt.IsNegative() {
		return decimal.Zero, fmt.Errorf("pricing[%s]: negative amount", name)
	}
	return amt, nil
}

func (pb *PriceBook) Resolve(st model.ServiceType) Price {
	if amt, ok := pb.templates[st.String()]; ok {
		return Price{Amount: amt, Currency: pb.unit}
	}
	if amt, ok := pb.kinds[st.Kind]; ok {
		return Price{Amount: amt, Currency: pb.unit}
	}
	return Price{Amount: pb.def, Currency: pb.unit}
}

// PriceEntry is one row of the public price list.
type PriceEntry struct {
	ServiceType string `json:"service_type"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
}

func (pb *PriceBook) Catalogue() []PriceEntry {
	out := []PriceEntry{{ServiceType: "default", Amount: pb.def.StringFixed(2), Currency: pb.unit.String()}}
	for k, amt := range pb.kinds {
		out = append(out, PriceEntry{ServiceType: string(k), Amount: amt.StringFixed(2), Currency: pb.unit.String()})
	}
	for k, amt := range pb.templates {
		out = append(out, PriceEntry{ServiceType: k, Amount: amt.StringFixed(2), Currency: pb.unit.String()})
	}
	sort.Slice(out[1:], func(i, j int) bool { return out[i+1].ServiceType < out[j+1].ServiceType })
	return out
}
