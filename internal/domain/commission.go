package domain

import "math"

// Бонусные проценты площадки поверх ставки магазина.
const (
	liveBonusPct   = 10
	socialBonusPct = 3
	storeCutPct    = 3
)

// StoreCommissionPct переводит ставку маркетплейса (долю 0..1) в процент
// магазина за вычетом удержания площадки, не опускаясь ниже нуля.
func StoreCommissionPct(reported float64) float64 {
	pct := reported*100 - storeCutPct
	if pct < 0 {
		return 0
	}
	return round2(pct)
}

// NewCatalogItem строит товар из сырого ответа маркетплейса и считает комиссии.
func NewCatalogItem(offer RawOffer) CatalogItem {
	pct := StoreCommissionPct(offer.CommissionPct)
	return CatalogItem{
		Title:              offer.Title,
		ImageURL:           offer.ImageURL,
		Price:              offer.Price,
		OriginalPrice:      offer.OriginalPrice,
		CommissionPctStore: pct,
		CommissionLive:     round2(offer.Price * (liveBonusPct + pct) / 100),
		CommissionSocial:   round2(offer.Price * (socialBonusPct + pct) / 100),
		Link:               offer.Link,
		Store:              offer.Store,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
