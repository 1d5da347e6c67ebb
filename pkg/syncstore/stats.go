package syncstore

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/dd0wney/cluso-syncstore/pkg/merge"
)

// ActivityPoint counts field writes that landed in one minute
type ActivityPoint struct {
	Minute time.Time `json:"x"`
	Writes int       `json:"y"`
}

// Stats summarizes the collection
type Stats struct {
	Total      int             `json:"total"`
	VIP        int             `json:"vip"`
	NotVIP     int             `json:"not_vip"`
	Entered    int             `json:"entered"`
	NotEntered int             `json:"not_entered"`
	Activity   []ActivityPoint `json:"activity"`
}

// Stats lists the collection and summarizes it
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	docs, err := s.List(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Summarize(docs), nil
}

// Summarize counts documents by their vip and entered flags and buckets
// every $times stamp by minute. Minutes next to an active one are reported
// with zero writes so the series reads as a continuous line.
func Summarize(docs []merge.Document) Stats {
	stats := Stats{Total: len(docs)}
	buckets := make(map[int64]int)

	for _, doc := range docs {
		if truthy(doc.Fields["vip"]) {
			stats.VIP++
		} else {
			stats.NotVIP++
		}
		if truthy(doc.Fields["entered"]) {
			stats.Entered++
		} else {
			stats.NotEntered++
		}
		for _, ts := range doc.Times {
			buckets[minuteOf(ts)]++
		}
	}

	const minute = int64(time.Minute / time.Millisecond)
	active := make([]int64, 0, len(buckets))
	for m := range buckets {
		active = append(active, m)
	}
	for _, m := range active {
		for _, n := range []int64{m - minute, m + minute} {
			if _, ok := buckets[n]; !ok {
				buckets[n] = 0
			}
		}
	}

	stats.Activity = make([]ActivityPoint, 0, len(buckets))
	for m, writes := range buckets {
		stats.Activity = append(stats.Activity, ActivityPoint{
			Minute: time.UnixMilli(m).UTC(),
			Writes: writes,
		})
	}
	sort.Slice(stats.Activity, func(i, j int) bool {
		return stats.Activity[i].Minute.Before(stats.Activity[j].Minute)
	})
	return stats
}

func minuteOf(ms int64) int64 {
	const minute = int64(time.Minute / time.Millisecond)
	m := ms - ms%minute
	if ms < 0 && ms%minute != 0 {
		m -= minute
	}
	return m
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(t) {
		case "true", "yes", "1", "on":
			return true
		}
	}
	return false
}
