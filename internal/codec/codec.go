package codec

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"skyvault/internal/models"
)

// StoredAuction is the hot-store row shape. All player identifiers are
// resolved to real UUID columns so the store can index them.
type StoredAuction struct {
	Tag           string
	TimeKey       int16
	IsSold        bool
	End           time.Time
	UUID          gocql.UUID
	ItemName      string
	Category      string
	Tier          string
	Bin           bool
	Count         int
	StartingBid   int64
	HighestBid    int64
	Seller        gocql.UUID
	ProfileID     gocql.UUID
	HighestBidder gocql.UUID
	Start         time.Time
	ItemCreatedAt time.Time
	ItemBytes     []byte
	NBT           map[string]string
	Enchantments  map[string]int
	Color         string
	ItemUID       int64
	ItemUUID      gocql.UUID
	CoopMembers   []gocql.UUID
	Bids          []StoredBid
}

// StoredBid is a single bid as persisted, both packed into the auction row
// and written to the bidder-partitioned table.
type StoredBid struct {
	Bidder    gocql.UUID `json:"bidder"`
	ProfileID gocql.UUID `json:"profile_id"`
	Amount    int64      `json:"amount"`
	Timestamp time.Time  `json:"timestamp"`
}

// SentinelProfile marks bids whose profile arrived as the literal string
// "unknown" rather than being absent.
var SentinelProfile = gocql.UUID{15: 1}

// Encode converts an ingested auction into its stored form using the
// current wall clock for the sold determination.
func Encode(a models.Auction) (StoredAuction, error) {
	return EncodeAt(a, time.Now())
}

// EncodeAt is Encode with an explicit clock.
//
// Normalizations applied on the way in:
//   - empty tags become TagUnknown
//   - non-UTC timestamps are rebased by subtracting their zone offset
//   - bid profiles default to the bidder when absent, SentinelProfile when
//     the literal "unknown"
//   - auctions without bids get a deterministic synthetic highest bidder,
//     since the store indexes that column and rejects the zero UUID
//   - a missing or unparseable item uid is replaced with a small random
//     positive value so the uid index stays selective
func EncodeAt(a models.Auction, now time.Time) (StoredAuction, error) {
	id, err := parseUUID(a.UUID)
	if err != nil {
		return StoredAuction{}, fmt.Errorf("codec: auction %q: %w", a.UUID, err)
	}

	tag := a.Tag
	if tag == "" {
		tag = TagUnknown
	}

	end := toUTC(a.End)
	seller := lenientUUID(a.Seller)
	profile := lenientUUID(a.ProfileID)
	if profile == (gocql.UUID{}) {
		profile = seller
	}

	bids := make([]StoredBid, 0, len(a.Bids))
	var top StoredBid
	for _, b := range a.Bids {
		sb := StoredBid{
			Bidder:    lenientUUID(b.Bidder),
			Amount:    b.Amount,
			Timestamp: toUTC(b.Timestamp),
		}
		switch b.ProfileID {
		case "":
			sb.ProfileID = sb.Bidder
		case "unknown":
			sb.ProfileID = SentinelProfile
		default:
			sb.ProfileID = lenientUUID(b.ProfileID)
		}
		bids = append(bids, sb)
		if sb.Amount > top.Amount {
			top = sb
		}
	}

	highestBid := a.HighestBidAmount()
	if a.HighestBid > highestBid {
		// sparse sold events carry the amount without the bid list
		highestBid = a.HighestBid
	}
	bidder := top.Bidder
	if len(bids) == 0 || bidder == (gocql.UUID{}) {
		bidder = SyntheticBidder(id)
	}

	itemUID := a.ItemUID
	if itemUID == 0 {
		itemUID = parseItemUID(a.FlatNBT["uid"])
	}
	itemUUID := parseItemUUID(a.ItemUUID, a.FlatNBT["uuid"], itemUID)

	color := a.Color
	if color == "" {
		color = a.FlatNBT["color"]
	}

	coop := make([]gocql.UUID, 0, len(a.CoopMembers))
	for _, m := range a.CoopMembers {
		if u := lenientUUID(m); u != (gocql.UUID{}) {
			coop = append(coop, u)
		}
	}

	return StoredAuction{
		Tag:           tag,
		TimeKey:       TimeKey(tag, end),
		IsSold:        highestBid > 0 && !end.After(now),
		End:           end,
		UUID:          id,
		ItemName:      a.ItemName,
		Category:      a.Category,
		Tier:          a.Tier,
		Bin:           a.Bin,
		Count:         a.Count,
		StartingBid:   a.StartingBid,
		HighestBid:    highestBid,
		Seller:        seller,
		ProfileID:     profile,
		HighestBidder: bidder,
		Start:         toUTC(a.Start),
		ItemCreatedAt: toUTC(a.ItemCreatedAt),
		ItemBytes:     a.ItemBytes,
		NBT:           a.FlatNBT,
		Enchantments:  a.Enchantments,
		Color:         color,
		ItemUID:       itemUID,
		ItemUUID:      itemUUID,
		CoopMembers:   coop,
		Bids:          bids,
	}, nil
}

// Decode converts a stored row back into the API-facing auction shape.
func Decode(s StoredAuction) models.Auction {
	bids := make([]models.Bid, 0, len(s.Bids))
	for _, b := range s.Bids {
		bids = append(bids, models.Bid{
			Bidder:    uuidString(b.Bidder),
			ProfileID: uuidString(b.ProfileID),
			Amount:    b.Amount,
			Timestamp: b.Timestamp,
		})
	}
	coop := make([]string, 0, len(s.CoopMembers))
	for _, m := range s.CoopMembers {
		coop = append(coop, uuidString(m))
	}
	return models.Auction{
		UUID:          uuidString(s.UUID),
		Tag:           s.Tag,
		ItemName:      s.ItemName,
		Category:      s.Category,
		Tier:          s.Tier,
		Bin:           s.Bin,
		Count:         s.Count,
		StartingBid:   s.StartingBid,
		HighestBid:    s.HighestBid,
		Seller:        uuidString(s.Seller),
		ProfileID:     uuidString(s.ProfileID),
		HighestBidder: uuidString(s.HighestBidder),
		CoopMembers:   coop,
		Start:         s.Start,
		End:           s.End,
		ItemCreatedAt: s.ItemCreatedAt,
		ItemBytes:     s.ItemBytes,
		FlatNBT:       s.NBT,
		Enchantments:  s.Enchantments,
		Color:         s.Color,
		Sold:          s.IsSold,
		ItemUID:       s.ItemUID,
		ItemUUID:      uuidString(s.ItemUUID),
		Bids:          bids,
	}
}

// SyntheticBidder derives a stable placeholder bidder for auctions without
// bids. The same auction always maps to the same value.
func SyntheticBidder(auction gocql.UUID) gocql.UUID {
	sum := sha256.Sum256(append([]byte("no-bidder:"), auction[:]...))
	var u gocql.UUID
	copy(u[:], sum[:16])
	if u == (gocql.UUID{}) {
		u[15] = 1
	}
	return u
}

// PackBids serializes bids for the packed column on the auction row.
func PackBids(bids []StoredBid) ([]byte, error) {
	if len(bids) == 0 {
		return nil, nil
	}
	return json.Marshal(bids)
}

// UnpackBids is the inverse of PackBids. A nil or empty payload yields nil.
func UnpackBids(raw []byte) ([]StoredBid, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var bids []StoredBid
	if err := json.Unmarshal(raw, &bids); err != nil {
		return nil, fmt.Errorf("codec: unpack bids: %w", err)
	}
	return bids, nil
}

// FoldEnchantments collapses a wire-format enchantment list into a map,
// keeping the highest level when the same enchantment appears twice.
func FoldEnchantments(list []models.Enchant) map[string]int {
	if len(list) == 0 {
		return nil
	}
	out := make(map[string]int, len(list))
	for _, e := range list {
		if cur, ok := out[e.Name]; !ok || e.Level > cur {
			out[e.Name] = e.Level
		}
	}
	return out
}

func parseUUID(s string) (gocql.UUID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return gocql.UUID{}, err
	}
	return gocql.UUID(u), nil
}

// lenientUUID parses dashed or bare-hex player identifiers, yielding the
// zero UUID for anything unparseable.
func lenientUUID(s string) gocql.UUID {
	if s == "" {
		return gocql.UUID{}
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return gocql.UUID{}
	}
	return gocql.UUID(u)
}

func uuidString(u gocql.UUID) string {
	if u == (gocql.UUID{}) {
		return ""
	}
	return uuid.UUID(u).String()
}

func parseItemUID(hexUID string) int64 {
	if hexUID != "" {
		if v, err := strconv.ParseInt(hexUID, 16, 64); err == nil && v > 0 {
			return v
		}
	}
	return 1 + rand.Int63n(999_999)
}

// parseItemUUID resolves the item uuid from the explicit field, the NBT
// attribute, or synthesizes one from the numeric uid. The game server only
// persists the low 12 hex chars of the item uuid, so synthesized values
// zero-fill the high bits.
func parseItemUUID(explicit, nbt string, itemUID int64) gocql.UUID {
	for _, s := range []string{explicit, nbt} {
		if s == "" {
			continue
		}
		if u, err := uuid.Parse(s); err == nil {
			return gocql.UUID(u)
		}
	}
	synth := fmt.Sprintf("00000000-0000-0000-0000-%012x", uint64(itemUID)&0xffffffffffff)
	u, _ := uuid.Parse(synth)
	return gocql.UUID(u)
}

// toUTC rebases zoned timestamps to UTC: local wall clock minus the zone
// offset. Everything downstream (bucket keys, clustering order, statement
// timestamps) assumes UTC.
func toUTC(t time.Time) time.Time {
	return t.UTC()
}
