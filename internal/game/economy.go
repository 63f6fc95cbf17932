package game

import (
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// EffectiveFarmRate is the species base rate plus every equipped bonus.
func (e *Engine) EffectiveFarmRate(st State, pet PetInstance) decimal.Decimal {
	sp, ok := e.catalog.Species(pet.SpeciesID)
	if !ok {
		return decimal.Zero
	}
	rate := sp.BaseFarmRate
	for _, instanceID := range pet.AccessorySlots {
		owned, idx := st.ownedAccessory(instanceID)
		if idx < 0 {
			continue
		}
		if acc, ok := e.catalog.Accessory(owned.AccessoryID); ok {
			rate = rate.Add(acc.FarmBonus)
		}
	}
	return rate
}

// Accrue credits idle production for every Idle pet since its last accrual.
// Elapsed time is capped at MaxCatchUp. A clock that moved backwards credits
// nothing and leaves the pet's accrual mark where it was.
func (e *Engine) Accrue(st *State, now time.Time) AccrualResult {
	res := AccrualResult{Total: decimal.Zero}
	intervalMs := decimal.NewFromInt(e.rules.BaseInterval.Milliseconds())
	if !intervalMs.IsPositive() {
		return res
	}
	for i := range st.Inventory.Pets {
		pet := &st.Inventory.Pets[i]
		if pet.LastAccrualAt.IsZero() {
			pet.LastAccrualAt = now
			continue
		}
		elapsed := now.Sub(pet.LastAccrualAt)
		if elapsed <= 0 {
			continue
		}
		capped := elapsed > e.rules.MaxCatchUp
		if capped {
			elapsed = e.rules.MaxCatchUp
		}
		perMs := e.EffectiveFarmRate(*st, *pet).Mul(decimal.NewFromInt(int64(pet.Satiety)))
		if pet.IsBreeding() || !perMs.IsPositive() {
			pet.LastAccrualAt = now
			continue
		}

		den := hundred.Mul(intervalMs)
		gain, _ := perMs.Mul(decimal.NewFromInt(elapsed.Milliseconds())).QuoRem(den, 0)
		if capped {
			pet.LastAccrualAt = now
		} else {
			// Only the time that produced whole grain is consumed; the
			// remainder carries into the next tick.
			consumed := gain.Mul(den).Div(perMs).Ceil().IntPart()
			pet.LastAccrualAt = pet.LastAccrualAt.Add(time.Duration(consumed) * time.Millisecond)
		}
		if !gain.IsPositive() {
			continue
		}
		st.Account.Currencies.Grain = st.Account.Currencies.Grain.Add(gain)
		pet.GrainCollected = pet.GrainCollected.Add(gain)
		res.Total = res.Total.Add(gain)
		res.Pets = append(res.Pets, PetAccrual{PetID: pet.ID, Gain: gain})
	}
	return res
}

func (e *Engine) Convert(st *State, from, to Currency, amount decimal.Decimal) (ConvertResult, error) {
	if !amount.IsPositive() {
		return ConvertResult{}, ErrInvalidAmount
	}
	rate, ok := ExchangeRate(from, to)
	if !ok {
		return ConvertResult{}, reject(ReasonUnsupportedPair, "cannot exchange %s to %s", from, to)
	}
	balance := st.Account.Currencies.Get(from)
	if balance.LessThan(amount) {
		return ConvertResult{}, reject(ReasonInsufficientFunds, "have %s %s, need %s", balance, from, amount)
	}

	received := amount.Mul(rate).Floor()
	st.Account.Currencies.Set(from, balance.Sub(amount))
	st.Account.Currencies.Add(to, received)
	return ConvertResult{From: from, To: to, Spent: amount, Received: received, Rate: rate}, nil
}
