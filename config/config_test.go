package config

import (
	"strings"
	"testing"
)

func TestSearchConfigValidate(t *testing.T) {
	cases := []struct {
		cfg     SearchConfig
		wantErr string
	}{
		{SearchConfig{Backend: "serper", SerperAPIKey: "k"}, ""},
		{SearchConfig{Backend: "serper"}, "serper_api_key"},
		{SearchConfig{Backend: "brave", BraveAPIKey: "k"}, ""},
		{SearchConfig{Backend: "brave"}, "brave_api_key"},
		{SearchConfig{Backend: "crawler", CrawlerURL: "https://c"}, ""},
		{SearchConfig{Backend: "crawler"}, "crawler_url"},
		{SearchConfig{Backend: "bing"}, "unsupported"},
	}
	for _, tc := range cases {
		err := tc.cfg.Validate()
		if tc.wantErr == "" {
			if err != nil {
				t.Fatalf("%+v: unexpected error %v", tc.cfg, err)
			}
			continue
		}
		if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
			t.Fatalf("%+v: expected error containing %q, got %v", tc.cfg, tc.wantErr, err)
		}
	}
}

func TestScrapeConfigValidate(t *testing.T) {
	if err := (ScrapeConfig{Fetcher: "http"}).Validate(); err != nil {
		t.Fatalf("http fetcher needs no extra config: %v", err)
	}
	if err := (ScrapeConfig{Fetcher: "api"}).Validate(); err == nil {
		t.Fatalf("api fetcher requires base url")
	}
	if err := (ScrapeConfig{Fetcher: "wget"}).Validate(); err == nil {
		t.Fatalf("unknown fetcher must be rejected")
	}
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{Host: "db", User: "u", Password: "p", DBName: "alf"}
	want := "postgres://u:p@db:5432/alf?sslmode=disable"
	if got := p.DSN(); got != want {
		t.Fatalf("DSN = %q, want %q", got, want)
	}
	p.URL = "postgres://explicit"
	if got := p.DSN(); got != "postgres://explicit" {
		t.Fatalf("explicit url must win, got %q", got)
	}
}

func TestPipelineConfigValidate(t *testing.T) {
	if err := (PipelineConfig{TopN: 8, RetryMax: 3}).Validate(); err != nil {
		t.Fatalf("valid pipeline config rejected: %v", err)
	}
	if err := (PipelineConfig{TopN: 0, RetryMax: 3}).Validate(); err == nil {
		t.Fatalf("top_n must be positive")
	}
}
