package escrow

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Default milestone split, in basis points of the total reward.
const (
	DefaultDesignBps         = 3000
	DefaultImplementationBps = 5000
	DefaultFinalBps          = 2000
	bpsDenominator           = 10000
)

// Shares is the per-milestone split of a task's total reward, fixed at
// creation and immutable thereafter. All three shares are positive and sum
// exactly to the total.
type Shares struct {
	Design         decimal.Decimal `json:"design"`
	Implementation decimal.Decimal `json:"implementation"`
	Final          decimal.Decimal `json:"final"`
}

// Sum returns the total of the three shares.
func (s Shares) Sum() decimal.Decimal {
	return s.Design.Add(s.Implementation).Add(s.Final)
}

// For returns the share for milestone m.
func (s Shares) For(m Milestone) decimal.Decimal {
	switch m {
	case MilestoneDesign:
		return s.Design
	case MilestoneImplementation:
		return s.Implementation
	case MilestoneFinal:
		return s.Final
	}
	return decimal.Zero
}

// Validate checks that every share is positive and the shares sum exactly to
// total. Creation must reject any schedule failing this.
func (s Shares) Validate(total decimal.Decimal) error {
	for _, m := range Milestones {
		if !s.For(m).IsPositive() {
			return fmt.Errorf("%w: %s share must be positive, got %s", ErrInvalidAmount, m, s.For(m))
		}
	}
	if !s.Sum().Equal(total) {
		return fmt.Errorf("%w: shares sum to %s, total is %s", ErrInvalidAmount, s.Sum(), total)
	}
	return nil
}

// SplitByBps splits total into milestone shares by basis points, folding any
// rounding remainder into the final share so the sum is exact.
func SplitByBps(total decimal.Decimal, designBps, implementationBps, finalBps int) (Shares, error) {
	if designBps <= 0 || implementationBps <= 0 || finalBps <= 0 {
		return Shares{}, fmt.Errorf("%w: basis points must be positive", ErrInvalidAmount)
	}
	if designBps+implementationBps+finalBps != bpsDenominator {
		return Shares{}, fmt.Errorf("%w: basis points %d+%d+%d != %d",
			ErrInvalidAmount, designBps, implementationBps, finalBps, bpsDenominator)
	}
	denom := decimal.NewFromInt(bpsDenominator)
	design := total.Mul(decimal.NewFromInt(int64(designBps))).DivRound(denom, 18)
	implementation := total.Mul(decimal.NewFromInt(int64(implementationBps))).DivRound(denom, 18)
	final := total.Sub(design).Sub(implementation)
	s := Shares{Design: design, Implementation: implementation, Final: final}
	if err := s.Validate(total); err != nil {
		return Shares{}, err
	}
	return s, nil
}

// DefaultShares splits total by the contract's default 30/50/20 schedule.
func DefaultShares(total decimal.Decimal) (Shares, error) {
	return SplitByBps(total, DefaultDesignBps, DefaultImplementationBps, DefaultFinalBps)
}
