package model

// DiseaseCount pairs a disease label with how often it was seen.
type DiseaseCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// DashboardStats summarizes a window of detection history. Derived on every
// load and never persisted.
type DashboardStats struct {
	HasData          bool                 `json:"hasData"`
	TotalDetections  int                  `json:"totalDetections"`
	DiseaseCounts    map[string]int       `json:"diseaseCounts"`
	SeverityCounts   map[Severity]int     `json:"severityCounts"`
	SeverityPercent  map[Severity]float64 `json:"severityPercent"`
	DiseaseRanking   []DiseaseCount       `json:"diseaseRanking"`
	MostCommon       *DiseaseCount        `json:"mostCommon"`
	AvgConfidence    float64              `json:"avgConfidence"` // percent
	RecentDetections int                  `json:"recentDetections"`
	RecentHistory    []DetectionRecord    `json:"recentHistory"`
}
