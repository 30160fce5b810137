package entity

import "time"

type MembershipStatus string

const (
	MembershipStatusActive    MembershipStatus = "active"
	MembershipStatusDelayed   MembershipStatus = "delayed"
	MembershipStatusPaused    MembershipStatus = "paused"
	MembershipStatusCancelled MembershipStatus = "cancelled"
)

type Membership struct {
	ID uint64

	ProductID     uint64
	ParentOrderID uint64

	CustomerEmail string
	CustomerName  string

	StartDate        time.Time
	EndDate          time.Time
	DelayedStartDate *time.Time
	Status           MembershipStatus

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}
