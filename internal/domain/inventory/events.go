package inventory

import "time"

const (
	EventItemReserved       = "ItemReserved"
	EventItemSold           = "ItemSold"
	EventItemReleased       = "ItemReleased"
	EventReservationExpired = "ReservationExpired"
)

type ItemReserved struct {
	ItemKeys      []string  `json:"item_keys"`
	HolderID      string    `json:"holder_id"`
	Token         string    `json:"token"`
	ReservedUntil time.Time `json:"reserved_until"`
	ReservedAt    time.Time `json:"reserved_at"`
}

type ItemSold struct {
	ItemKeys []string  `json:"item_keys"`
	Token    string    `json:"token"`
	SoldAt   time.Time `json:"sold_at"`
}

type ItemReleased struct {
	ItemKeys   []string  `json:"item_keys"`
	Token      string    `json:"token"`
	ReleasedAt time.Time `json:"released_at"`
}

type ReservationExpired struct {
	ItemKey   string    `json:"item_key"`
	Token     string    `json:"token"`
	ExpiredAt time.Time `json:"expired_at"`
}
