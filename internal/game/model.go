package game

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	MaxSatiety = 100

	// MaxFeedCount caps a pet's feed counter. Saves above it are rejected.
	MaxFeedCount = 10_000

	StarterGrain = int64(100)
	StarterStars = int64(10)

	// GrainPerStarListing derives the second market price of a listing.
	GrainPerStarListing = int64(20)

	recentKeyLimit = 64
)

type Currency string

const (
	Grain Currency = "grain"
	Gromd Currency = "gromd"
	Ton   Currency = "ton"
	Stars Currency = "stars"
)

var AllCurrencies = []Currency{Grain, Gromd, Ton, Stars}

func ParseCurrency(s string) (Currency, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "grain", "grains":
		return Grain, nil
	case "gromd":
		return Gromd, nil
	case "ton", "tons":
		return Ton, nil
	case "stars", "star":
		return Stars, nil
	}
	return "", reject(ReasonUnknownCurrency, "unknown currency %q", s)
}

type Currencies struct {
	Grain decimal.Decimal `json:"grain"`
	Gromd decimal.Decimal `json:"gromd"`
	Ton   decimal.Decimal `json:"ton"`
	Stars decimal.Decimal `json:"stars"`
}

func (c Currencies) Get(cur Currency) decimal.Decimal {
	switch cur {
	case Grain:
		return c.Grain
	case Gromd:
		return c.Gromd
	case Ton:
		return c.Ton
	case Stars:
		return c.Stars
	}
	return decimal.Zero
}

func (c *Currencies) Set(cur Currency, v decimal.Decimal) {
	switch cur {
	case Grain:
		c.Grain = v
	case Gromd:
		c.Gromd = v
	case Ton:
		c.Ton = v
	case Stars:
		c.Stars = v
	}
}

func (c *Currencies) Add(cur Currency, v decimal.Decimal) {
	c.Set(cur, c.Get(cur).Add(v))
}

func (c Currencies) Equal(o Currencies) bool {
	for _, cur := range AllCurrencies {
		if !c.Get(cur).Equal(o.Get(cur)) {
			return false
		}
	}
	return true
}

type Pair struct {
	From Currency
	To   Currency
}

// Exchange is one-way; the reverse directions are not offered.
var exchangeRates = map[Pair]decimal.Decimal{
	{From: Stars, To: Grain}: decimal.NewFromInt(5),
	{From: Ton, To: Grain}:   decimal.NewFromInt(4000),
	{From: Ton, To: Stars}:   decimal.NewFromInt(300),
}

func ExchangeRate(from, to Currency) (decimal.Decimal, bool) {
	rate, ok := exchangeRates[Pair{From: from, To: to}]
	return rate, ok
}

func ExchangePairs() map[Pair]decimal.Decimal {
	out := make(map[Pair]decimal.Decimal, len(exchangeRates))
	for k, v := range exchangeRates {
		out[k] = v
	}
	return out
}

type Rules struct {
	MaxLevel      int
	MinBreedLevel int
	BreedDuration time.Duration
	BaseInterval  time.Duration
	MaxCatchUp    time.Duration
}

func DefaultRules() Rules {
	return Rules{
		MaxLevel:      10,
		MinBreedLevel: 5,
		BreedDuration: 18 * time.Hour,
		BaseInterval:  5 * time.Minute,
		MaxCatchUp:    24 * time.Hour,
	}
}
