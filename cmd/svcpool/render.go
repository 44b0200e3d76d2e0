package main

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/bearlytools/svcpool/config"
	"github.com/bearlytools/svcpool/manager"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/jedib0t/go-pretty/v6/table"
)

const (
	formatTable = "table"
	formatJSON  = "json"
)

type configRow struct {
	Service             string `json:"service"`
	Addr                string `json:"addr"`
	PoolSize            int    `json:"poolSize"`
	MaxRetries          int    `json:"maxRetries"`
	RetryDelay          string `json:"retryDelay"`
	MaxRetryDelay       string `json:"maxRetryDelay"`
	Timeout             string `json:"timeout"`
	Keepalive           string `json:"keepalive"`
	Compressor          string `json:"compressor,omitempty"`
	HealthCheckInterval string `json:"healthCheckInterval"`
}

func configRows(configs map[string]config.ServiceConfig) []configRow {
	rows := make([]configRow, 0, len(configs))
	for name, c := range configs {
		comp := ""
		if c.CompressionEnabled {
			comp = c.Compressor
		}
		rows = append(rows, configRow{
			Service:             name,
			Addr:                c.Addr(),
			PoolSize:            c.PoolSize,
			MaxRetries:          c.MaxRetries,
			RetryDelay:          c.RetryDelay.String(),
			MaxRetryDelay:       c.MaxRetryDelay.String(),
			Timeout:             c.Timeout.String(),
			Keepalive:           c.KeepaliveInterval.String() + "/" + c.KeepaliveTimeout.String(),
			Compressor:          comp,
			HealthCheckInterval: c.HealthCheckInterval.String(),
		})
	}
	slices.SortFunc(rows, func(a, b configRow) int {
		return strings.Compare(a.Service, b.Service)
	})
	return rows
}

func renderConfigs(w io.Writer, format string, configs map[string]config.ServiceConfig) error {
	rows := configRows(configs)
	if format == formatJSON {
		return writeJSON(w, rows)
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Service", "Address", "Pool", "Retries", "Retry Delay", "Max Delay", "Timeout", "Keepalive", "Compressor", "Health Interval"})
	for _, r := range rows {
		t.AppendRow(table.Row{r.Service, r.Addr, r.PoolSize, r.MaxRetries, r.RetryDelay, r.MaxRetryDelay, r.Timeout, r.Keepalive, r.Compressor, r.HealthCheckInterval})
	}
	t.Render()
	return nil
}

type statusRow struct {
	Service     string  `json:"service"`
	Healthy     bool    `json:"healthy"`
	Ready       int     `json:"ready"`
	Total       int     `json:"total"`
	Requests    uint64  `json:"requests"`
	SuccessRate float64 `json:"successRate"`
	AvgMs       float64 `json:"avgResponseTimeMs"`
	Reconnects  uint64  `json:"reconnects"`
	Degraded    uint64  `json:"degradedAcquires"`
	LastError   string  `json:"lastError,omitempty"`
}

// status is a point in time report for every pool of a Manager.
type status []statusRow

func newStatus(m *manager.Manager) status {
	health := m.HealthAll()
	metrics := m.MetricsAll()

	s := make(status, 0, len(health))
	for _, name := range m.Services() {
		h, pm := health[name], metrics[name]
		s = append(s, statusRow{
			Service:     name,
			Healthy:     h.Healthy,
			Ready:       h.Ready,
			Total:       h.Total,
			Requests:    pm.TotalRequests,
			SuccessRate: pm.SuccessRate,
			AvgMs:       pm.AvgResponseTimeMs,
			Reconnects:  pm.Reconnects,
			Degraded:    pm.DegradedAcquires,
			LastError:   h.LastError,
		})
	}
	return s
}

func renderStatus(w io.Writer, format string, s status) error {
	if format == formatJSON {
		return writeJSON(w, s)
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Service", "Healthy", "Ready", "Requests", "Success", "Avg ms", "Reconnects", "Degraded", "Last Error"})
	for _, r := range s {
		t.AppendRow(table.Row{
			r.Service,
			r.Healthy,
			fmt.Sprintf("%d/%d", r.Ready, r.Total),
			r.Requests,
			strconv.FormatFloat(r.SuccessRate*100, 'f', 1, 64) + "%",
			strconv.FormatFloat(r.AvgMs, 'f', 2, 64),
			r.Reconnects,
			r.Degraded,
			r.LastError,
		})
	}
	t.Render()
	return nil
}

func writeJSON(w io.Writer, v any) error {
	if err := json.MarshalWrite(w, v, jsontext.WithIndent("  ")); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}
