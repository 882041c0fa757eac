// Package stats computes aggregates over a snapshot of the visit store.
// Every function is pure: it reads the rows it is given and keeps no state.
// Distinct clients are always counted by client id.
package stats

import (
	"sort"
	"strings"

	"marketing-analytics/models"
)

// SalaryPercent is the share of a period's income paid as salary.
const SalaryPercent = 40

// HistoryPreview is how many recent visits a short history shows.
const HistoryPreview = 5

type DayStats struct {
	Date    string  `json:"date"`
	Clients int     `json:"clients"`
	Records int     `json:"records"`
	Income  int     `json:"income"`
	Salary  float64 `json:"salary"`
}

type DirectionStats struct {
	Direction models.Direction `json:"direction"`
	Clients   int              `json:"clients"`
	Income    int              `json:"income"`
}

type MonthStats struct {
	Month       string           `json:"month"`
	Clients     int              `json:"clients"`
	Records     int              `json:"records"`
	Income      int              `json:"income"`
	ByDirection []DirectionStats `json:"by_direction"`
}

// Direction returns the breakdown entry for d, zero when d is not commercial.
func (m MonthStats) Direction(d models.Direction) DirectionStats {
	for _, s := range m.ByDirection {
		if s.Direction == d {
			return s
		}
	}
	return DirectionStats{Direction: d}
}

// Salary is SalaryPercent of income.
func Salary(income int) float64 {
	return float64(income*SalaryPercent) / 100
}

// Today aggregates the commercial rows whose Date starts with date (YYYY-MM-DD).
func Today(visits []models.Visit, date string) DayStats {
	rows := commercialWithPrefix(visits, date)
	income := sumPrice(rows)
	return DayStats{
		Date:    date,
		Clients: distinctClients(rows),
		Records: len(rows),
		Income:  income,
		Salary:  Salary(income),
	}
}

// Month aggregates the commercial rows of yearMonth (YYYY-MM). Rows with an
// unrecognised direction count toward the totals but not the breakdown.
func Month(visits []models.Visit, yearMonth string) MonthStats {
	rows := commercialWithPrefix(visits, yearMonth)

	byDirection := make([]DirectionStats, 0, len(models.CommercialDirections))
	for _, d := range models.CommercialDirections {
		var sub []models.Visit
		for _, v := range rows {
			if v.Direction == d {
				sub = append(sub, v)
			}
		}
		byDirection = append(byDirection, DirectionStats{
			Direction: d,
			Clients:   distinctClients(sub),
			Income:    sumPrice(sub),
		})
	}

	return MonthStats{
		Month:       yearMonth,
		Clients:     distinctClients(rows),
		Records:     len(rows),
		Income:      sumPrice(rows),
		ByDirection: byDirection,
	}
}

type ClientHistory struct {
	ClientID     string         `json:"client_id"`
	Name         string         `json:"name"`
	Visits       []models.Visit `json:"visits"`
	TotalVisits  int            `json:"total_visits"`
	TotalSpent   int            `json:"total_spent"`
	AverageSpent float64        `json:"average_spent"`
}

// Recent returns at most n of the newest visits.
func (h ClientHistory) Recent(n int) []models.Visit {
	if n >= len(h.Visits) {
		return h.Visits
	}
	return h.Visits[:n]
}

// History returns every row of clientID, newest first.
func History(visits []models.Visit, clientID string) ClientHistory {
	var rows []models.Visit
	for _, v := range visits {
		if v.ClientID == clientID {
			rows = append(rows, v)
		}
	}
	// формат даты сортируется как строка
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Date > rows[j].Date
	})

	h := ClientHistory{
		ClientID:    clientID,
		Visits:      rows,
		TotalVisits: len(rows),
		TotalSpent:  sumPrice(rows),
	}
	if len(rows) > 0 {
		h.Name = rows[0].ClientName
		h.AverageSpent = float64(h.TotalSpent) / float64(h.TotalVisits)
	}
	return h
}

// Overview is the all-time summary of commercial rows.
type Overview struct {
	Income       int     `json:"income"`
	Clients      int     `json:"clients"`
	Services     int     `json:"services"`
	AverageCheck float64 `json:"average_check"`
}

func Summarize(visits []models.Visit) Overview {
	rows := commercialWithPrefix(visits, "")
	o := Overview{
		Income:   sumPrice(rows),
		Clients:  distinctClients(rows),
		Services: len(rows),
	}
	if o.Services > 0 {
		o.AverageCheck = float64(o.Income) / float64(o.Services)
	}
	return o
}

// Months returns the distinct YYYY-MM prefixes present, newest first.
func Months(visits []models.Visit) []string {
	seen := make(map[string]struct{})
	var months []string
	for _, v := range visits {
		m := v.Month()
		if m == "" {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		months = append(months, m)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(months)))
	return months
}

// ReferrerCandidates lists every known name, clients and mailing contacts
// alike, sorted.
func ReferrerCandidates(visits []models.Visit) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, v := range visits {
		if v.ClientName == "" {
			continue
		}
		if _, ok := seen[v.ClientName]; ok {
			continue
		}
		seen[v.ClientName] = struct{}{}
		names = append(names, v.ClientName)
	}
	sort.Strings(names)
	return names
}

func commercialWithPrefix(visits []models.Visit, prefix string) []models.Visit {
	var out []models.Visit
	for _, v := range visits {
		if v.IsMailing() || !strings.HasPrefix(v.Date, prefix) {
			continue
		}
		out = append(out, v)
	}
	return out
}

func distinctClients(visits []models.Visit) int {
	seen := make(map[string]struct{}, len(visits))
	for _, v := range visits {
		seen[v.ClientID] = struct{}{}
	}
	return len(seen)
}

func sumPrice(visits []models.Visit) int {
	total := 0
	for _, v := range visits {
		total += v.Price
	}
	return total
}
