package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/bearlytools/svcpool/config"

	"github.com/go-json-experiment/json"
	"github.com/kylelemons/godebug/pretty"
)

func TestRenderConfigs(t *testing.T) {
	stt := config.New("stt.internal", 50051)
	nlp := config.New("nlp.internal", 50052)
	nlp.CompressionEnabled = false
	nlp.RetryDelay = 500 * time.Millisecond
	configs := map[string]config.ServiceConfig{"stt": stt, "nlp": nlp}

	buf := &bytes.Buffer{}
	if err := renderConfigs(buf, formatJSON, configs); err != nil {
		t.Fatalf("TestRenderConfigs: renderConfigs(json) err: %s", err)
	}
	var got []configRow
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("TestRenderConfigs: output is not JSON: %s\n%s", err, buf.String())
	}
	want := []configRow{
		{
			Service:             "nlp",
			Addr:                "nlp.internal:50052",
			PoolSize:            3,
			MaxRetries:          3,
			RetryDelay:          "500ms",
			MaxRetryDelay:       "30s",
			Timeout:             "30s",
			Keepalive:           "10s/5s",
			HealthCheckInterval: "30s",
		},
		{
			Service:             "stt",
			Addr:                "stt.internal:50051",
			PoolSize:            3,
			MaxRetries:          3,
			RetryDelay:          "1s",
			MaxRetryDelay:       "30s",
			Timeout:             "30s",
			Keepalive:           "10s/5s",
			Compressor:          "gzip",
			HealthCheckInterval: "30s",
		},
	}
	if diff := pretty.Compare(want, got); diff != "" {
		t.Errorf("TestRenderConfigs(json): -want/+got:\n%s", diff)
	}

	buf.Reset()
	if err := renderConfigs(buf, formatTable, configs); err != nil {
		t.Fatalf("TestRenderConfigs: renderConfigs(table) err: %s", err)
	}
	out := buf.String()
	for _, s := range []string{"stt.internal:50051", "nlp.internal:50052", "gzip"} {
		if !strings.Contains(out, s) {
			t.Errorf("TestRenderConfigs(table): output missing %q:\n%s", s, out)
		}
	}
	if strings.Index(out, "nlp.internal") > strings.Index(out, "stt.internal") {
		t.Errorf("TestRenderConfigs(table): services are not sorted:\n%s", out)
	}
}

func TestRenderStatus(t *testing.T) {
	s := status{
		{Service: "nlp", Healthy: false, Ready: 0, Total: 2, LastError: "ServiceUnavailable[nlp#1]"},
		{Service: "stt", Healthy: true, Ready: 3, Total: 3, Requests: 4, SuccessRate: 0.75, AvgMs: 12.5},
	}

	buf := &bytes.Buffer{}
	if err := renderStatus(buf, formatTable, s); err != nil {
		t.Fatalf("TestRenderStatus: renderStatus(table) err: %s", err)
	}
	for _, want := range []string{"0/2", "3/3", "75.0%", "12.50", "ServiceUnavailable[nlp#1]"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("TestRenderStatus(table): output missing %q:\n%s", want, buf.String())
		}
	}

	buf.Reset()
	if err := renderStatus(buf, formatJSON, s); err != nil {
		t.Fatalf("TestRenderStatus: renderStatus(json) err: %s", err)
	}
	var got status
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("TestRenderStatus: output is not JSON: %s", err)
	}
	if diff := pretty.Compare(s, got); diff != "" {
		t.Errorf("TestRenderStatus(json): -want/+got:\n%s", diff)
	}
}
