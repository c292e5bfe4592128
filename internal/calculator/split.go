// Package calculator computes bill splits and settle-up suggestions. It is
// pure: it never touches storage and never mutates the document it reads.
package calculator

import (
	"fmt"
)

// Share is one participant's computed share of a single expense.
type Share struct {
	Subtotal float64
	Fees     float64
	Total    float64
}

// Line is one expense line item with the member ids it is assigned to.
type Line struct {
	Description string
	Amount      float64
	AssignedTo  []string
}

// SplitExpense computes how much each participant owes for one expense,
// including a proportional share of fees (total - subtotal, i.e. tax and tip):
// share_total = share_subtotal × (1 + fees / subtotal)
func SplitExpense(lines []Line, total, subtotal float64, participants []string) (map[string]*Share, error) {
	if subtotal == 0 {
		return nil, fmt.Errorf("subtotal cannot be zero")
	}
	if len(participants) == 0 {
		return nil, fmt.Errorf("must have at least one participant")
	}

	fees := total - subtotal
	shares := make(map[string]*Share)
	for _, p := range participants {
		shares[p] = &Share{}
	}

	// Without line items the whole expense splits equally.
	if len(lines) == 0 {
		n := float64(len(participants))
		for _, s := range shares {
			s.Subtotal = subtotal / n
			s.Fees = fees / n
			s.Total = total / n
		}
		return shares, nil
	}

	for _, line := range lines {
		if len(line.AssignedTo) == 0 {
			continue
		}
		perPerson := line.Amount / float64(len(line.AssignedTo))
		for _, p := range line.AssignedTo {
			if s, ok := shares[p]; ok {
				s.Subtotal += perPerson
			}
		}
	}

	for _, s := range shares {
		s.Fees = s.Subtotal * (fees / subtotal)
		s.Total = s.Subtotal + s.Fees
	}
	return shares, nil
}
