package mcp

import (
	"fmt"
	"strings"

	"github.com/killer-ai/killer/pkg/models"
)

// formatResult renders the answer followed by a status footer when there is
// something to report.
func formatResult(res models.Result) string {
	var b strings.Builder
	b.WriteString(res.Response)
	switch {
	case res.Cached:
		fmt.Fprintf(&b, "\n\n(cached %s)", res.Timestamp)
	case res.QuotaInfo != nil && (res.QuotaInfo.ShowWarning || res.QuotaInfo.Exhausted):
		fmt.Fprintf(&b, "\n\n(%d of %d requests left today)", res.QuotaInfo.Remaining, res.QuotaInfo.Total)
	}
	return b.String()
}

func formatQuotaStatus(st models.QuotaStatus) string {
	pct := float64(0)
	if st.Limit > 0 {
		pct = float64(st.Used) / float64(st.Limit) * 100
	}
	return fmt.Sprintf("Daily Quota (%s)\n"+
		"  Used:      %d\n"+
		"  Limit:     %d\n"+
		"  Remaining: %d\n"+
		"  Usage:     %.1f%%\n",
		st.ResetDate, st.Used, st.Limit, st.Remaining, pct)
}

func formatCacheStats(stats models.CacheStats) string {
	total := stats.Hits + stats.Misses
	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(stats.Hits) / float64(total) * 100
	}
	return fmt.Sprintf("Cache Statistics\n"+
		"  Entries:  %d/%d\n"+
		"  Hits:     %d\n"+
		"  Misses:   %d\n"+
		"  Hit Rate: %.1f%%\n",
		stats.Entries, stats.Capacity, stats.Hits, stats.Misses, hitRate)
}
