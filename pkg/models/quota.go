package models

import "time"

// RateWindow is the per-minute request counter.
type RateWindow struct {
	Count   int       `json:"count"`
	ResetAt time.Time `json:"reset_at"`
}

// DailyQuota is the calendar-day remote call counter.
type DailyQuota struct {
	Count     int    `json:"dailyRequestCount"`
	ResetDate string `json:"lastResetDate"`
}

// QuotaStatus shows current daily usage against the limit.
type QuotaStatus struct {
	Used      int    `json:"used"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
	ResetDate string `json:"reset_date"`
	Exhausted bool   `json:"exhausted"`
}
