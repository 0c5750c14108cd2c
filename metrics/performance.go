package metrics

import (
	"context"
	"time"

	"martingale_bot/logger"
	"martingale_bot/models"
	"martingale_bot/utils"
)

// MonitorPerformance logs a performance summary every interval and, when
// csvPath is set, appends it to that CSV file. It returns when ctx is done.
func MonitorPerformance(ctx context.Context, source func() models.PerformanceMetrics, csvPath string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			recordPerformance(source(), csvPath)
		case <-ctx.Done():
			return
		}
	}
}

func recordPerformance(metric models.PerformanceMetrics, csvPath string) {
	if csvPath != "" {
		if err := utils.AppendMetricsToCSV(csvPath, metric); err != nil {
			logger.Errorf("Failed to append metrics to CSV: %v", err)
		}
	}

	logger.Infof("Performance Summary (%s):", metric.State)
	logger.Infof("Realized profit: %s, unrealized: %s", metric.RealizedProfit.StringFixed(4), metric.UnrealizedProfit.StringFixed(4))
	logger.Infof("Fees: %s, net: %s", metric.TotalFees.StringFixed(4), metric.NetProfit.StringFixed(4))
	logger.Infof("Open quantity %s @ %s, layer %d", metric.OpenQuantity, metric.AvgEntryPrice.StringFixed(4), metric.CurrentLayer)
}
