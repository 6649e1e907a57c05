package models

import "time"

// PendingShareTTL is how long an invite for an unregistered email is kept.
const PendingShareTTL = 30 * 24 * time.Hour

// PendingShare records a list shared with an email that has no account yet.
// It becomes a viewer membership when that email signs up.
type PendingShare struct {
	ListID    string    `json:"list_id" db:"list_id"`
	OwnerID   string    `json:"owner_id" db:"owner_id"`
	Email     string    `json:"email" db:"email"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ListView is a wish list as presented to one viewer. Owners never see
// claims; viewers see claims and whether each one is their own.
type ListView struct {
	List     *WishList  `json:"list"`
	Items    []ItemView `json:"items"`
	IsShared bool       `json:"is_shared"`
	Archived bool       `json:"archived"`
}

// ItemView is an item with claim details resolved for a viewer.
type ItemView struct {
	Item
	Claimed     bool `json:"claimed"`
	ClaimedByMe bool `json:"claimed_by_me"`
}
