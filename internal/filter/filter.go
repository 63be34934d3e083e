// Package filter compiles free-form key=value query filters into predicates
// over auctions. The query engine treats the compiled predicate as opaque;
// the summary cache key is derived from the raw string map only.
package filter

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"skyvault/internal/models"
)

// Predicate reports whether an auction matches a compiled filter.
type Predicate func(*models.Auction) bool

// ErrBadFilter marks a filter value the caller supplied that cannot be
// compiled. Handlers map it to a 400.
var ErrBadFilter = errors.New("bad filter")

// Reserved keys bound the query window or control paging. They are stripped
// before compilation and never appear in the summary cache key.
const (
	KeyEndAfter  = "EndAfter"
	KeyEndBefore = "EndBefore"
)

// Key derives the summary-cache key: filter keys and values sorted by key,
// minus the window bounds. Identical filter maps always produce identical
// keys regardless of iteration order.
func Key(filters map[string]string) string {
	if len(filters) == 0 {
		return ""
	}
	keys := make([]string, 0, len(filters))
	for k := range filters {
		if k == KeyEndAfter || k == KeyEndBefore {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(filters[k])
	}
	return b.String()
}

// Compile builds a conjunction of per-key predicates. Unknown keys match
// against the flattened NBT attributes, so new item attributes are
// filterable without code changes. Malformed values return an error the
// API layer maps to a 4xx.
func Compile(filters map[string]string) (Predicate, error) {
	preds := make([]Predicate, 0, len(filters))
	var enchant string
	var enchantLvl = -1

	for k, v := range filters {
		k, v := k, strings.TrimSpace(v)
		switch k {
		case KeyEndAfter, KeyEndBefore:
			continue
		case "Tier", "Rarity":
			preds = append(preds, func(a *models.Auction) bool { return strings.EqualFold(a.Tier, v) })
		case "Category":
			preds = append(preds, func(a *models.Auction) bool { return strings.EqualFold(a.Category, v) })
		case "Bin":
			want, err := strconv.ParseBool(strings.ToLower(v))
			if err != nil {
				return nil, fmt.Errorf("%w: Bin=%q is not a boolean", ErrBadFilter, v)
			}
			preds = append(preds, func(a *models.Auction) bool { return a.Bin == want })
		case "Count":
			want, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("%w: Count=%q is not a number", ErrBadFilter, v)
			}
			preds = append(preds, func(a *models.Auction) bool { return a.Count == want })
		case "Seller":
			want, err := uuid.Parse(v)
			if err != nil {
				return nil, fmt.Errorf("%w: Seller=%q is not a uuid", ErrBadFilter, v)
			}
			preds = append(preds, func(a *models.Auction) bool {
				got, err := uuid.Parse(a.Seller)
				return err == nil && got == want
			})
		case "ItemName":
			needle := strings.ToLower(v)
			preds = append(preds, func(a *models.Auction) bool {
				return strings.Contains(strings.ToLower(a.ItemName), needle)
			})
		case "Color":
			preds = append(preds, func(a *models.Auction) bool { return a.Color == v })
		case "Enchantment":
			enchant = strings.ToLower(v)
		case "EnchantLvl":
			lvl, err := strconv.Atoi(v)
			if err != nil || lvl < 0 {
				return nil, fmt.Errorf("%w: EnchantLvl=%q is not a level", ErrBadFilter, v)
			}
			enchantLvl = lvl
		case "Reforge":
			preds = append(preds, func(a *models.Auction) bool {
				return strings.EqualFold(a.FlatNBT["modifier"], v)
			})
		default:
			preds = append(preds, func(a *models.Auction) bool { return a.FlatNBT[k] == v })
		}
	}

	if enchantLvl >= 0 && enchant == "" {
		return nil, fmt.Errorf("%w: EnchantLvl given without Enchantment", ErrBadFilter)
	}
	if enchant != "" {
		name, lvl := enchant, enchantLvl
		preds = append(preds, func(a *models.Auction) bool {
			got, ok := a.Enchantments[name]
			if !ok {
				return false
			}
			return lvl < 0 || got == lvl
		})
	}

	if len(preds) == 0 {
		return func(*models.Auction) bool { return true }, nil
	}
	return func(a *models.Auction) bool {
		for _, p := range preds {
			if !p(a) {
				return false
			}
		}
		return true
	}, nil
}
