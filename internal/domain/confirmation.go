package domain

import (
	xerrors "trade-service/internal/pkg/xerrors"
)

// VoteResult reports the outcome of a confirmation round after a vote.
type VoteResult struct {
	Unanimous   bool `json:"unanimous"`
	AnyRejected bool `json:"any_rejected"`
}

// Confirmation is the mutual-agreement primitive reused by the role, amount,
// fee and privacy phases (and, with a single required party, the payout
// address phase). It is mechanical: it knows nothing about ticket semantics,
// and what happens on a rejected round is the aggregate's per-phase policy.
type Confirmation struct {
	Required []string        `json:"required"`
	Votes    map[string]bool `json:"votes"`
}

func NewConfirmation(required ...string) *Confirmation {
	return &Confirmation{
		Required: append([]string(nil), required...),
		Votes:    make(map[string]bool),
	}
}

// RecordVote stores a party's vote. A repeat vote from the same party
// overwrites the previous one. Votes from ids outside the required set are
// rejected without mutating the round.
func (c *Confirmation) RecordVote(partyID string, vote bool) (VoteResult, error) {
	if !c.requires(partyID) {
		return VoteResult{}, xerrors.ErrNotParticipant
	}
	if c.Votes == nil {
		c.Votes = make(map[string]bool)
	}
	c.Votes[partyID] = vote
	return c.Result(), nil
}

// Result is insertion-order independent: it walks the required set, never
// the vote map.
func (c *Confirmation) Result() VoteResult {
	res := VoteResult{Unanimous: len(c.Required) > 0}
	for _, id := range c.Required {
		v, voted := c.Votes[id]
		if !voted {
			res.Unanimous = false
			continue
		}
		if !v {
			res.AnyRejected = true
			res.Unanimous = false
		}
	}
	return res
}

// Reset clears all votes, keeping the required set.
func (c *Confirmation) Reset() {
	c.Votes = make(map[string]bool)
}

func (c *Confirmation) requires(partyID string) bool {
	for _, id := range c.Required {
		if id == partyID {
			return true
		}
	}
	return false
}
