package models

import (
	"time"
)

// Auction is the canonical auction entity. The same shape arrives from the
// bus ("listed" events carry everything, "sold" events only a subset) and is
// served back out by the query API.
type Auction struct {
	UUID          string            `json:"uuid"`
	Tag           string            `json:"tag"`
	ItemName      string            `json:"item_name"`
	Category      string            `json:"category"`
	Tier          string            `json:"tier"`
	Bin           bool              `json:"bin"`
	Count         int               `json:"count"`
	StartingBid   int64             `json:"starting_bid"`
	HighestBid    int64             `json:"highest_bid_amount"`
	Seller        string            `json:"seller"`
	ProfileID     string            `json:"profile_id"`
	HighestBidder string            `json:"highest_bidder,omitempty"`
	CoopMembers   []string          `json:"coop_members,omitempty"`
	Start         time.Time         `json:"start"`
	End           time.Time         `json:"end"`
	ItemCreatedAt time.Time         `json:"item_created_at"`
	ItemBytes     []byte            `json:"item_bytes,omitempty"`

	// FlatNBT is the string->string view of the item's attribute tree,
	// including synthetic keys like "uid", "uuid", "color", "modifier".
	FlatNBT map[string]string `json:"flat_nbt,omitempty"`
	// Enchantments maps enchantment name to level. Duplicate names (all
	// unrecognized enchantments share the "unknown" key) keep the highest
	// level seen.
	Enchantments map[string]int `json:"enchantments,omitempty"`

	// Derived fields, filled by the codec on decode.
	Color    string `json:"color,omitempty"`
	Sold     bool   `json:"sold"`
	ItemUID  int64  `json:"item_uid,omitempty"`
	ItemUUID string `json:"item_uuid,omitempty"`

	Bids []Bid `json:"bids"`
}

// Enchant is the wire form of a single enchantment as the upstream feed
// sends it, before folding into the Enchantments map.
type Enchant struct {
	Name  string `json:"type"`
	Level int    `json:"level"`
}

// Bid is one bid on an auction. Identity is (auction uuid, amount, timestamp).
type Bid struct {
	Bidder    string    `json:"bidder"`
	ProfileID string    `json:"profile_id"`
	Amount    int64     `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}

// HighestBidAmount returns the largest bid amount, or 0 with no bids.
func (a *Auction) HighestBidAmount() int64 {
	var max int64
	for _, b := range a.Bids {
		if b.Amount > max {
			max = b.Amount
		}
	}
	return max
}

// SellPrice is the price an auction closed (or will close) at: the highest
// bid when there is one, else the asking price.
func (a *Auction) SellPrice() int64 {
	if hb := a.HighestBidAmount(); hb > 0 {
		return hb
	}
	if a.HighestBid > 0 {
		return a.HighestBid
	}
	return a.StartingBid
}

// SummaryRow is one memoized daily aggregate, keyed by
// (tag, filter_key) with the day boundary as the clustering column.
// Rows for finalized days are immutable once written.
type SummaryRow struct {
	Tag       string            `json:"tag"`
	FilterKey string            `json:"filter_key"`
	End       time.Time         `json:"end"`
	Start     time.Time         `json:"start"`
	Filters   map[string]string `json:"filters,omitempty"`
	Max       int64             `json:"max"`
	Min       int64             `json:"min"`
	Median    int64             `json:"med"`
	Mean      float64           `json:"mean"`
	Mode      int64             `json:"mode"`
	Volume    int               `json:"volume"`
}

// PriceSummary is the condensed answer for the price endpoint, aggregated
// over a query window.
type PriceSummary struct {
	Max    int64   `json:"max"`
	Min    int64   `json:"min"`
	Median int64   `json:"med"`
	Mean   float64 `json:"mean"`
	Mode   int64   `json:"mode"`
	Volume int64   `json:"volume"`
}

// ItemPreview is one element of the recent-sales overview.
type ItemPreview struct {
	UUID       string    `json:"uuid"`
	ItemName   string    `json:"item_name"`
	Price      int64     `json:"price"`
	End        time.Time `json:"end"`
	PlayerName string    `json:"player_name,omitempty"`
	Count      int       `json:"count"`
}

// PlayerBid is one row of a player's bid history, joined with the auction
// the bid was placed on.
type PlayerBid struct {
	AuctionUUID string    `json:"auction_uuid"`
	Amount      int64     `json:"amount"`
	ProfileID   string    `json:"profile_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// ArchivedMonth names one sealed cold-store blob.
type ArchivedMonth struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}
