package models

import "time"

const (
	// MinPriority and MaxPriority bound Item.Priority when it is set.
	MinPriority = 1
	MaxPriority = 5
)

// WishList is a named collection of items owned by one user and visible to
// the users in SharedWith. The owner is never a member of SharedWith.
type WishList struct {
	ID          string     `json:"id" db:"id"`
	OwnerID     string     `json:"owner_id" db:"owner_id"`
	Name        string     `json:"name" db:"name"`
	Description string     `json:"description" db:"description"`
	EventDate   *time.Time `json:"event_date,omitempty" db:"event_date"`
	SharedWith  []string   `json:"shared_with,omitempty"`
	Items       []Item     `json:"items"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	Owner       *User      `json:"owner,omitempty"`
}

// Item is one desired gift entry embedded in a wish list.
type Item struct {
	ID          string    `json:"id" db:"id"`
	ListID      string    `json:"list_id" db:"list_id"`
	Title       string    `json:"title" db:"title"`
	Description string    `json:"description" db:"description"`
	Link        string    `json:"link" db:"link"`
	Price       *float64  `json:"price,omitempty" db:"price"`
	Priority    *int      `json:"priority,omitempty" db:"priority"`
	Claim       *Claim    `json:"claim,omitempty"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Claim marks an item as taken by a shared viewer.
type Claim struct {
	ClaimantID string    `json:"claimant_id" db:"claimed_by_id"`
	ClaimedAt  time.Time `json:"claimed_at" db:"claimed_at"`
}

// ClaimResult is the claim state of an item after a toggle.
type ClaimResult struct {
	ListID  string `json:"list_id"`
	ItemID  string `json:"item_id"`
	Claimed bool   `json:"claimed"`
	Claim   *Claim `json:"claim,omitempty"`
}

// Item returns the item with the given id, or nil.
func (l *WishList) Item(itemID string) *Item {
	for i := range l.Items {
		if l.Items[i].ID == itemID {
			return &l.Items[i]
		}
	}
	return nil
}

// IsSharedWith reports whether userID is one of the list's viewers.
func (l *WishList) IsSharedWith(userID string) bool {
	for _, id := range l.SharedWith {
		if id == userID {
			return true
		}
	}
	return false
}

// ArchiveDate is three months after creation or one month after the event,
// whichever is later.
func (l *WishList) ArchiveDate() time.Time {
	archive := l.CreatedAt.AddDate(0, 3, 0)
	if l.EventDate == nil {
		return archive
	}
	if afterEvent := l.EventDate.AddDate(0, 1, 0); afterEvent.After(archive) {
		return afterEvent
	}
	return archive
}

// IsArchived reports whether the list is past its archive date at now.
func (l *WishList) IsArchived(now time.Time) bool {
	return now.After(l.ArchiveDate())
}

// ClaimedBy reports whether the item is currently claimed by userID.
func (i *Item) ClaimedBy(userID string) bool {
	return i.Claim != nil && i.Claim.ClaimantID == userID
}
