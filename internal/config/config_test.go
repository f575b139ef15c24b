package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "adjudicator.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.HTTPAddr != ":8080" || cfg.Storage.Backend != BackendMemory {
		t.Errorf("expected defaults, got %+v", cfg.Server)
	}
	if cfg.Consensus.ReviewWindow != 48*time.Hour {
		t.Errorf("expected 48h review window, got %s", cfg.Consensus.ReviewWindow)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: ":7000"
storage:
  backend: pebble
  pebble_path: /var/lib/adjudicator
consensus:
  review_window: 24h
  threshold: 0.75
kafka:
  brokers: [k1:9092]
  topics:
    payout.executed: payouts
`)
	t.Setenv("ADJ_HTTP_ADDR", ":7100")
	t.Setenv("ADJ_KAFKA_BROKERS", "a:9092, b:9092")
	t.Setenv("ADJ_SMALL_CLAIM_CEILING", "750")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.HTTPAddr != ":7100" {
		t.Errorf("expected env to override file, got %s", cfg.Server.HTTPAddr)
	}
	if cfg.Storage.Backend != BackendPebble || cfg.Storage.PebblePath != "/var/lib/adjudicator" {
		t.Errorf("unexpected storage %+v", cfg.Storage)
	}
	if cfg.Consensus.ReviewWindow != 24*time.Hour || cfg.Consensus.Threshold != 0.75 {
		t.Errorf("unexpected consensus %+v", cfg.Consensus)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "b:9092" {
		t.Errorf("expected brokers from env, got %v", cfg.Kafka.Brokers)
	}
	if cfg.Kafka.Topics["payout.executed"] != "payouts" {
		t.Errorf("expected topic mapping from file, got %v", cfg.Kafka.Topics)
	}
	if cfg.Kafka.DefaultTopic != "claims.events" {
		t.Errorf("expected default topic kept, got %s", cfg.Kafka.DefaultTopic)
	}

	pc := cfg.PayoutEngine()
	if !pc.SmallClaimCeiling.Equal(decimal.NewFromInt(750)) {
		t.Errorf("expected small claim ceiling 750, got %s", pc.SmallClaimCeiling)
	}
	if pc.CommunityApprovalMin != 0.75 {
		t.Errorf("expected community approval to follow consensus threshold, got %v", pc.CommunityApprovalMin)
	}
	if cc := cfg.ConsensusTracker(); cc.MinPanelSize != 3 || cc.MaxPanelSize != 7 {
		t.Errorf("expected panel bounds from jury config, got %+v", cc)
	}
}

func TestLoad_KnownRelationships(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
jury:
  known_relationships:
    - [rider-1, juror-7]
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rel := cfg.Relationships()
	if rel == nil {
		t.Fatalf("expected relationships from file")
	}
	if shared, _ := rel.SharedHistory(context.Background(), "juror-7", "rider-1"); !shared {
		t.Errorf("expected pair to be symmetric")
	}
	if shared, _ := rel.SharedHistory(context.Background(), "juror-7", "rider-2"); shared {
		t.Errorf("expected unrelated parties to share nothing")
	}
	if Default().Relationships() != nil {
		t.Errorf("expected no relationships by default")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		env  map[string]string
		want string
	}{
		{
			name: "unknown backend",
			body: "storage:\n  backend: cassandra\n",
			want: "unknown storage backend",
		},
		{
			name: "postgres without url",
			body: "storage:\n  backend: postgres\n",
			want: "postgres_url is required",
		},
		{
			name: "inverted ceilings",
			body: "payout:\n  small_claim_ceiling: 60000\n",
			want: "payout ceilings",
		},
		{
			name: "simple majority threshold",
			body: "consensus:\n  threshold: 0.5\n",
			want: "consensus.threshold",
		},
		{
			name: "bad env number",
			env:  map[string]string{"ADJ_EVENT_WORKERS": "many"},
			want: "ADJ_EVENT_WORKERS",
		},
		{
			name: "relationship with one party",
			body: "jury:\n  known_relationships:\n    - [rider-1]\n",
			want: "known_relationships[0]",
		},
		{
			name: "malformed yaml",
			body: "server: [",
			want: "parse config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(writeConfig(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
