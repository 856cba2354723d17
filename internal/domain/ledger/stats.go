package ledger

import (
	"sort"
	"time"

	"keapsync/internal/domain/entity"
)

// Summarize агрегирует записи окна [since, until].
// Конфликты не считаются ошибками и не входят в знаменатель доли успешных операций.
func Summarize(entries []Entry, since, until time.Time) Stats {
	stats := Stats{
		Since:        since,
		Until:        until,
		ByEntityType: make(map[entity.Type]TypeStats),
	}
	days := make(map[string]*DayVolume)

	for _, e := range entries {
		if e.Operation == OpRun {
			stats.Runs++
			if e.Status == StatusError {
				stats.FailedRuns++
			}
			at := e.CreatedAt
			if stats.LastRunAt == nil || at.After(*stats.LastRunAt) {
				stats.LastRunAt = &at
			}
			continue
		}

		day := e.CreatedAt.UTC().Format("2006-01-02")
		dv, ok := days[day]
		if !ok {
			dv = &DayVolume{Day: day}
			days[day] = dv
		}
		ts := stats.ByEntityType[e.EntityType]

		stats.Total++
		ts.Total++
		switch e.Status {
		case StatusSuccess:
			stats.Success++
			ts.Success++
			dv.Success++
		case StatusError:
			stats.Errors++
			ts.Errors++
			dv.Errors++
		case StatusConflict:
			stats.Conflicts++
			ts.Conflicts++
			dv.Conflicts++
		}
		ts.SuccessRate = successRate(ts.Success, ts.Errors)
		stats.ByEntityType[e.EntityType] = ts
	}

	stats.SuccessRate = successRate(stats.Success, stats.Errors)

	stats.Trend = make([]DayVolume, 0, len(days))
	for _, dv := range days {
		stats.Trend = append(stats.Trend, *dv)
	}
	sort.Slice(stats.Trend, func(i, j int) bool {
		return stats.Trend[i].Day < stats.Trend[j].Day
	})
	return stats
}

// successRate процент успешных операций; без операций 100
func successRate(success, errors int) float64 {
	if success+errors == 0 {
		return 100
	}
	return float64(success) / float64(success+errors) * 100
}
