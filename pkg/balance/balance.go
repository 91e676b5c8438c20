// Package balance reduces a user's ledger snapshot to a spendable balance.
//
// Every function here is pure: the same snapshot always yields the same
// figure, so callers may compute balances concurrently with accrual passes.
package balance

import (
	"github.com/mcclellann/fredInvest/pkg/models"
	"github.com/shopspring/decimal"
)

// Sign is the direction an entry moves the balance.
type Sign int

const (
	Ignore Sign = 0
	Credit Sign = 1
	Debit  Sign = -1
)

// Policy is the sign table applied to each category.
type Policy struct {
	Deposit    Sign
	Withdrawal Sign
	Penalty    Sign
	Earning    Sign
	Bonus      Sign
	// OnlyConfirmedDeposits drops pending and failed deposits.
	OnlyConfirmedDeposits bool
}

// DefaultPolicy credits confirmed deposits, earnings and bonuses and debits
// withdrawals and penalties.
var DefaultPolicy = Policy{
	Deposit:               Credit,
	Withdrawal:            Debit,
	Penalty:               Debit,
	Earning:               Credit,
	Bonus:                 Credit,
	OnlyConfirmedDeposits: true,
}

// Breakdown is the balance with each bucket shown separately.
type Breakdown struct {
	Deposits    decimal.Decimal `json:"deposits"`
	Withdrawals decimal.Decimal `json:"withdrawals"`
	Penalties   decimal.Decimal `json:"penalties"`
	Earnings    decimal.Decimal `json:"earnings"`
	Bonuses     decimal.Decimal `json:"bonuses"`
	// Locked is the principal of running investments.
	Locked decimal.Decimal `json:"locked"`
	// Released is the payout of completed investments net of their principal.
	Released decimal.Decimal `json:"released"`
	Balance  decimal.Decimal `json:"balance"`
}

// Compute returns the spendable balance of snap under DefaultPolicy.
func Compute(snap *models.LedgerSnapshot) decimal.Decimal {
	return DefaultPolicy.Breakdown(snap).Balance
}

// Compute returns the spendable balance of snap under p.
func (p Policy) Compute(snap *models.LedgerSnapshot) decimal.Decimal {
	return p.Breakdown(snap).Balance
}

// Breakdown computes every bucket of the balance.
//
// Placing an investment moves its principal out of the spendable balance.
// While it runs the principal stays out; once completed its payout comes back
// in. The net effect of a completed investment is therefore payout - principal,
// and the running-to-completed flip raises the balance by exactly the payout.
func (p Policy) Breakdown(snap *models.LedgerSnapshot) Breakdown {
	b := Breakdown{
		Deposits:    decimal.Zero,
		Withdrawals: decimal.Zero,
		Penalties:   decimal.Zero,
		Earnings:    decimal.Zero,
		Bonuses:     decimal.Zero,
		Locked:      decimal.Zero,
		Released:    decimal.Zero,
	}
	if snap == nil {
		b.Balance = decimal.Zero
		return b
	}

	for _, d := range snap.Deposits {
		if p.OnlyConfirmedDeposits && d.Status != models.EntryStatusConfirmed {
			continue
		}
		b.Deposits = b.Deposits.Add(d.Amount)
	}
	b.Withdrawals = sum(snap.Withdrawals)
	b.Penalties = sum(snap.Penalties)
	b.Earnings = sum(snap.Earnings)
	b.Bonuses = sum(snap.Bonuses)

	for _, inv := range snap.Investments {
		switch inv.Status {
		case models.InvestmentStatusRunning:
			b.Locked = b.Locked.Add(inv.Principal)
		case models.InvestmentStatusCompleted:
			b.Released = b.Released.Add(inv.PayoutAmount.Sub(inv.Principal))
		}
	}

	b.Balance = apply(p.Deposit, b.Deposits).
		Add(apply(p.Withdrawal, b.Withdrawals)).
		Add(apply(p.Penalty, b.Penalties)).
		Add(apply(p.Earning, b.Earnings)).
		Add(apply(p.Bonus, b.Bonuses)).
		Sub(b.Locked).
		Add(b.Released)
	return b
}

func sum(entries []*models.Entry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Amount)
	}
	return total
}

func apply(s Sign, amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(decimal.NewFromInt(int64(s)))
}
