package utils

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"martingale_bot/models"
)

var metricsHeader = []string{
	"Timestamp", "State", "RealizedProfit", "UnrealizedProfit", "TotalFees",
	"NetProfit", "OpenQuantity", "AvgEntryPrice", "CurrentLayer",
}

// AppendMetricsToCSV appends performance metrics to a CSV file.
func AppendMetricsToCSV(filename string, metric models.PerformanceMetrics) error {
	// Ensure the directory exists
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	file, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to get file info: %w", err)
	}

	writer := csv.NewWriter(file)
	if stat.Size() == 0 {
		if err := writer.Write(metricsHeader); err != nil {
			return fmt.Errorf("failed to write CSV header: %w", err)
		}
	}

	record := []string{
		metric.Timestamp.UTC().Format(time.RFC3339),
		metric.State,
		metric.RealizedProfit.StringFixed(8),
		metric.UnrealizedProfit.StringFixed(8),
		metric.TotalFees.StringFixed(8),
		metric.NetProfit.StringFixed(8),
		metric.OpenQuantity.String(),
		metric.AvgEntryPrice.String(),
		strconv.Itoa(metric.CurrentLayer),
	}
	if err := writer.Write(record); err != nil {
		return fmt.Errorf("failed to write CSV record: %w", err)
	}
	writer.Flush()
	return writer.Error()
}
