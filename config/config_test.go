package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "zapsd.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalConfig = `
network:
  passphrase: "Zaps Test Network ; April 2026"
  rpc_url: "http://localhost:8000"
sponsorship:
  fee_payer_seed: "env:ZAPS_FEE_PAYER_SEED"
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("listen default = %q", cfg.ListenAddr)
	}
	if cfg.Sponsorship.ValidityWindow.Duration != 300*time.Second {
		t.Fatalf("validity window default = %v", cfg.Sponsorship.ValidityWindow.Duration)
	}
	if cfg.Indexer.PollInterval.Duration != 5*time.Second {
		t.Fatalf("poll interval default = %v", cfg.Indexer.PollInterval.Duration)
	}
	if cfg.Jobs.Workers != 4 || cfg.Jobs.MaxRetries != 3 {
		t.Fatalf("jobs defaults = %+v", cfg.Jobs)
	}
	if cfg.Reports.Timezone != "UTC" {
		t.Fatalf("timezone default = %q", cfg.Reports.Timezone)
	}
}

func TestLoadParsesDurations(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
indexer:
  poll_interval: "250ms"
  error_backoff: "1m"
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Indexer.PollInterval.Duration != 250*time.Millisecond {
		t.Fatalf("poll interval = %v", cfg.Indexer.PollInterval.Duration)
	}
	if cfg.Indexer.ErrorBackoff.Duration != time.Minute {
		t.Fatalf("error backoff = %v", cfg.Indexer.ErrorBackoff.Duration)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "missing passphrase",
			body: `
network:
  rpc_url: "http://localhost:8000"
sponsorship:
  fee_payer_seed: "prompt"
`,
			want: "passphrase",
		},
		{
			name: "missing fee payer seed",
			body: `
network:
  passphrase: "net"
  rpc_url: "http://localhost:8000"
`,
			want: "fee_payer_seed",
		},
		{
			name: "bad registry contract",
			body: minimalConfig + `
  registry_contract: "not-a-contract"
`,
			want: "registry_contract",
		},
		{
			name: "auth enabled without secret",
			body: minimalConfig + `
gateway:
  auth:
    enabled: true
`,
			want: "gateway.auth.secret",
		},
		{
			name: "report hour out of range",
			body: minimalConfig + `
reports:
  run_hour: 24
`,
			want: "run_hour",
		},
		{
			name: "unknown field",
			body: minimalConfig + `
no_such_field: true
`,
			want: "parse config",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}
