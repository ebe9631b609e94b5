package stats

import (
	"sort"
	"time"

	"agroscan/internal/model"

	"github.com/samber/lo"
)

const (
	// RecentWindow is the trailing period counted as "recent" on the dashboard.
	RecentWindow = 7 * 24 * time.Hour
	// RecentHistorySize is how many of the newest records the dashboard lists.
	RecentHistorySize = 5
)

// Aggregate summarizes records ordered newest first. It is a pure function of
// its input and now.
func Aggregate(records []model.DetectionRecord, now time.Time) model.DashboardStats {
	stats := model.DashboardStats{
		TotalDetections: len(records),
		DiseaseCounts:   make(map[string]int),
		SeverityCounts: map[model.Severity]int{
			model.SeverityHigh:   0,
			model.SeverityMedium: 0,
			model.SeverityLow:    0,
		},
		DiseaseRanking: []model.DiseaseCount{},
		RecentHistory:  []model.DetectionRecord{},
	}
	if len(records) == 0 {
		stats.SeverityPercent = severityPercents(stats)
		return stats
	}
	stats.HasData = true

	// order keeps labels in first-encountered order for the stable tie-break
	var order []string
	for _, r := range records {
		if _, seen := stats.DiseaseCounts[r.Class]; !seen {
			order = append(order, r.Class)
		}
		stats.DiseaseCounts[r.Class]++
		stats.SeverityCounts[r.Severity]++
	}

	stats.DiseaseRanking = lo.Map(order, func(name string, _ int) model.DiseaseCount {
		return model.DiseaseCount{Name: name, Count: stats.DiseaseCounts[name]}
	})
	sort.SliceStable(stats.DiseaseRanking, func(i, j int) bool {
		return stats.DiseaseRanking[i].Count > stats.DiseaseRanking[j].Count
	})
	top := stats.DiseaseRanking[0]
	stats.MostCommon = &top

	total := lo.SumBy(records, func(r model.DetectionRecord) float64 { return r.Confidence })
	stats.AvgConfidence = total / float64(len(records)) * 100

	cutoff := now.Add(-RecentWindow).UnixMilli()
	stats.RecentDetections = lo.CountBy(records, func(r model.DetectionRecord) bool {
		return r.Timestamp > cutoff
	})

	n := min(RecentHistorySize, len(records))
	stats.RecentHistory = append(stats.RecentHistory, records[:n]...)
	stats.SeverityPercent = severityPercents(stats)

	return stats
}

func severityPercents(stats model.DashboardStats) map[model.Severity]float64 {
	return lo.MapValues(stats.SeverityCounts, func(_ int, severity model.Severity) float64 {
		return SeverityPercent(stats, severity)
	})
}

// SeverityPercent returns the share of total for a severity bucket, 0 when
// there is no data.
func SeverityPercent(stats model.DashboardStats, severity model.Severity) float64 {
	if stats.TotalDetections == 0 {
		return 0
	}
	return float64(stats.SeverityCounts[severity]) / float64(stats.TotalDetections) * 100
}
