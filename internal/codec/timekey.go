package codec

import (
	"math"
	"math/rand"
	"time"
)

// Time bucketing maps (tag, end time) to a short partition key so that a
// tag-scoped scan only touches the buckets overlapping the query window.
// Ordinary tags use week-wide buckets; the two firehose tags get 12h buckets
// so single partitions stay small enough for the hot store.

var bucketEpoch = time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)

// legacyCutoff guards against corrupt rows with pre-2000 end dates left
// behind by the old importer.
var legacyCutoff = time.Date(2000, 6, 1, 0, 0, 0, 0, time.UTC)

const (
	weekWidth    = 7 * 24 * time.Hour
	halfDayWidth = 12 * time.Hour

	// TagUnknown is the bucket tag for auctions without a resolvable item tag.
	TagUnknown = "unknown"

	highVolumeTag = "ENCHANTED_BOOK"
)

// HighVolume reports whether tag is one of the firehose tags that get
// half-day buckets.
func HighVolume(tag string) bool {
	return tag == highVolumeTag || tag == TagUnknown || tag == ""
}

// BucketWidth returns the bucket width for tag.
func BucketWidth(tag string) time.Duration {
	if HighVolume(tag) {
		return halfDayWidth
	}
	return weekWidth
}

// TimeKey returns the bucket key for an auction of the given tag ending at
// end. Keys grow monotonically with end for any fixed tag, except for the
// legacy fixup: pre-2000 dates on high-volume tags land in a random bucket
// in [0,10) because those rows carry garbage end dates.
func TimeKey(tag string, end time.Time) int16 {
	end = end.UTC()
	if HighVolume(tag) && end.Before(legacyCutoff) {
		return int16(rand.Intn(10))
	}
	return clampKey(tag, rawKey(tag, end))
}

// KeyDate returns the start of the bucket identified by key for tag.
// It inverts TimeKey up to bucket granularity.
func KeyDate(tag string, key int16) time.Time {
	return bucketEpoch.Add(time.Duration(key) * BucketWidth(tag))
}

// KeysForRange returns all bucket keys whose window may hold an auction of
// tag ending in (from, to], newest first to match descending scan order.
// Bounds never take the legacy random mapping, so an open-ended lower bound
// still covers the fixup buckets.
func KeysForRange(tag string, from, to time.Time) []int16 {
	if to.Before(from) {
		return nil
	}
	hi := clampKey(tag, rawKey(tag, to))
	lo := clampKey(tag, rawKey(tag, from))
	keys := make([]int16, 0, int(hi)-int(lo)+1)
	for k := hi; k >= lo; k-- {
		keys = append(keys, k)
	}
	return keys
}

func rawKey(tag string, t time.Time) int64 {
	width := BucketWidth(tag)
	d := t.UTC().Sub(bucketEpoch)
	k := int64(d / width)
	if d < 0 && d%width != 0 {
		k-- // floor, not truncation, for pre-epoch dates
	}
	return k
}

// clampKey pins keys to the representable range. Nothing real ended before
// legacyCutoff, so that date bounds the low end.
func clampKey(tag string, k int64) int16 {
	if min := rawKey(tag, legacyCutoff); k < min {
		k = min
	}
	if k > math.MaxInt16 {
		k = math.MaxInt16
	}
	return int16(k)
}
