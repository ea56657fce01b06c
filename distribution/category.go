package distribution

import (
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/settlement-engine/generic"
)

// =============================================================================
// EXPENSE CATEGORIES - Free text to legal category
// =============================================================================

// Category is the legal cost category an expense is booked under.
type Category string

const (
	CategoryBetriebskosten Category = "betriebskosten"
	CategoryHeizung        Category = "heizung"
	CategoryRuecklage      Category = "ruecklage"
	CategoryInstandhaltung Category = "instandhaltung"
	CategoryVerwaltung     Category = "verwaltung"
)

type categoryRule struct {
	keywords []string
	category Category
}

// categoryRules is evaluated top to bottom; the first rule with a keyword
// contained in the lower-cased text wins. Reserve comes first so that
// "Rücklage Heizungstausch" stays a reserve contribution.
var categoryRules = []categoryRule{
	{keywords: []string{"rücklage", "ruecklage", "reserve"}, category: CategoryRuecklage},
	{keywords: []string{"heizung", "heizkosten", "fernwärme", "fernwaerme", "heating", "warmwasser"}, category: CategoryHeizung},
	{keywords: []string{"instandhaltung", "reparatur", "repair", "maintenance", "sanierung"}, category: CategoryInstandhaltung},
	{keywords: []string{"verwaltung", "verwaltungshonorar", "management", "administration"}, category: CategoryVerwaltung},
}

// Categorize maps a free-text expense category. Unmatched text is betriebskosten.
func Categorize(text string) Category {
	lower := strings.ToLower(text)
	for _, rule := range categoryRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.category
			}
		}
	}
	return CategoryBetriebskosten
}

// =============================================================================
// VAT - fixed statutory rates, not configuration
// =============================================================================

var vatRates = map[Category]decimal.Decimal{
	CategoryBetriebskosten: decimal.RequireFromString("0.10"),
	CategoryHeizung:        decimal.RequireFromString("0.20"),
	CategoryRuecklage:      decimal.Zero,
	CategoryInstandhaltung: decimal.RequireFromString("0.20"),
	CategoryVerwaltung:     decimal.RequireFromString("0.20"),
}

// VATRate returns the statutory rate of a category.
func VATRate(c Category) decimal.Decimal {
	if rate, ok := vatRates[c]; ok {
		return rate
	}
	return vatRates[CategoryBetriebskosten]
}

// LineType maps a category onto the invoice line type it is billed as.
func (c Category) LineType() generic.LineType {
	switch c {
	case CategoryHeizung:
		return generic.LineHeizkosten
	case CategoryRuecklage:
		return generic.LineRuecklage
	case CategoryInstandhaltung:
		return generic.LineInstandhaltung
	case CategoryVerwaltung:
		return generic.LineVerwaltung
	default:
		return generic.LineBetriebskosten
	}
}
