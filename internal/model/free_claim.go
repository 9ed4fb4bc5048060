package model

// FreeClaimStatus describes whether the daily free pages can be claimed.
type FreeClaimStatus struct {
	CanClaim       bool       `json:"can_claim"`
	PagesAvailable int        `json:"pages_available"`
	LastClaimed    *Timestamp `json:"last_claimed"`
	NextClaimAt    *Timestamp `json:"next_claim_at"`
}

type FreeClaimResult struct {
	Message         string     `json:"message"`
	CanClaimAgainAt *Timestamp `json:"can_claim_again_at"`
}
