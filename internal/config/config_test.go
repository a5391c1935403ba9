package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func boolPtr(b bool) *bool {
	return &b
}

func validConfig() Config {
	return Config{
		Source:      "/srv/site",
		Destination: "/var/www/site",
		Sync:        SyncConfig{Recursive: boolPtr(true)},
		Serve:       ServeConfig{ListenAddr: DefaultListenAddr, Debounce: DefaultDebounce},
	}
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
source: /srv/site
destination: /var/www/site

sync:
  recursive: false
  dry_run: true

ignore:
  names: [".DS_Store", "Thumbs.db"]
  patterns: ["*.tmp"]

serve:
  enabled: true
  listen_addr: "0.0.0.0:9000"
  trigger_secret_file: /etc/treesyncd/secret
  debounce: 5s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Source != "/srv/site" {
		t.Errorf("expected source /srv/site, got %s", cfg.Source)
	}
	if cfg.IsRecursive() {
		t.Error("expected recursive to be false")
	}
	if !cfg.Sync.DryRun {
		t.Error("expected dry_run to be true")
	}
	if len(cfg.Ignore.Names) != 2 {
		t.Errorf("expected 2 ignore names, got %d", len(cfg.Ignore.Names))
	}
	if cfg.Serve.ListenAddr != "0.0.0.0:9000" {
		t.Errorf("expected listen_addr 0.0.0.0:9000, got %s", cfg.Serve.ListenAddr)
	}
	if cfg.Serve.Debounce != 5*time.Second {
		t.Errorf("expected debounce 5s, got %s", cfg.Serve.Debounce)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
source: /srv/site
destination: /var/www/site
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if !cfg.IsRecursive() {
		t.Error("expected recursive to default to true")
	}
	if cfg.Serve.ListenAddr != DefaultListenAddr {
		t.Errorf("expected default listen_addr, got %s", cfg.Serve.ListenAddr)
	}
	if cfg.Serve.Debounce != DefaultDebounce {
		t.Errorf("expected default debounce, got %s", cfg.Serve.Debounce)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	if _, err := Load(writeConfig(t, "source: [unterminated")); err == nil {
		t.Error("expected error for malformed YAML")
	}

	_, err := Load(writeConfig(t, "destination: /var/www/site\n"))
	if err == nil {
		t.Fatal("expected error for missing source")
	}
	if !strings.Contains(err.Error(), "Missing source directory or type is not a string.") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid config",
			mutate: func(*Config) {},
		},
		{
			name:    "missing source",
			mutate:  func(c *Config) { c.Source = "" },
			wantErr: "Missing source directory or type is not a string.",
		},
		{
			name:    "missing destination",
			mutate:  func(c *Config) { c.Destination = "" },
			wantErr: "Missing destination directory or type is not a string.",
		},
		{
			name:    "relative source",
			mutate:  func(c *Config) { c.Source = "site" },
			wantErr: "source must be an absolute path",
		},
		{
			name:    "relative destination",
			mutate:  func(c *Config) { c.Destination = "www" },
			wantErr: "destination must be an absolute path",
		},
		{
			name:    "same directory",
			mutate:  func(c *Config) { c.Destination = "/srv/site/" },
			wantErr: "source and destination must differ",
		},
		{
			name:    "destination inside source",
			mutate:  func(c *Config) { c.Destination = "/srv/site/public" },
			wantErr: "destination must not be inside source",
		},
		{
			name:    "source inside destination",
			mutate:  func(c *Config) { c.Destination = "/srv" },
			wantErr: "source must not be inside destination",
		},
		{
			name:   "sibling with shared prefix",
			mutate: func(c *Config) { c.Destination = "/srv/site2" },
		},
		{
			name:    "empty ignore name",
			mutate:  func(c *Config) { c.Ignore.Names = []string{"a", ""} },
			wantErr: "ignore.names",
		},
		{
			name:    "invalid ignore pattern",
			mutate:  func(c *Config) { c.Ignore.Patterns = []string{"[a-"} },
			wantErr: "ignore.patterns",
		},
		{
			name: "serve without secret",
			mutate: func(c *Config) {
				c.Serve.Enabled = true
			},
			wantErr: "serve.trigger_secret_file is required",
		},
		{
			name: "serve without listen address",
			mutate: func(c *Config) {
				c.Serve.Enabled = true
				c.Serve.ListenAddr = ""
				c.Serve.TriggerSecretFile = "/secret"
			},
			wantErr: "serve.listen_addr is required",
		},
		{
			name: "serve enabled",
			mutate: func(c *Config) {
				c.Serve.Enabled = true
				c.Serve.TriggerSecretFile = "/secret"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := Config{Sync: SyncConfig{Recursive: boolPtr(false)}}
	cfg.applyDefaults()

	if cfg.IsRecursive() {
		t.Error("explicit recursive: false must survive defaults")
	}
	if cfg.Serve.Debounce != DefaultDebounce {
		t.Errorf("expected debounce %s, got %s", DefaultDebounce, cfg.Serve.Debounce)
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("TREESYNCD_TEST_HOME", "/home/testuser")

	cfg, err := Parse([]byte(`
source: ${TREESYNCD_TEST_HOME}/site
destination: $TREESYNCD_TEST_HOME/www
serve:
  trigger_secret_file: ${TREESYNCD_TEST_HOME}/secret
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Source != "/home/testuser/site" {
		t.Errorf("expected expanded source, got %s", cfg.Source)
	}
	if cfg.Destination != "/home/testuser/www" {
		t.Errorf("expected expanded destination, got %s", cfg.Destination)
	}
	if cfg.Serve.TriggerSecretFile != "/home/testuser/secret" {
		t.Errorf("expected expanded secret file, got %s", cfg.Serve.TriggerSecretFile)
	}
}

func TestLoad_ExpandsPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TREESYNCD_TEST_CONFIG_DIR", dir)
	if err := os.WriteFile(filepath.Join(dir, "c.yaml"), []byte("source: /a\ndestination: /b\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := Load("$TREESYNCD_TEST_CONFIG_DIR/c.yaml"); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
}

func TestIgnoreFilter(t *testing.T) {
	cfg := validConfig()
	cfg.Ignore = IgnoreConfig{
		Names:    []string{".DS_Store"},
		Patterns: []string{"*.tmp", "*~"},
	}

	filter, err := cfg.IgnoreFilter()
	if err != nil {
		t.Fatalf("IgnoreFilter failed: %v", err)
	}

	tests := map[string]bool{
		".DS_Store":  true,
		"upload.tmp": true,
		"notes.txt~": true,
		"index.html": false,
		"tmp":        false,
	}
	for name, want := range tests {
		if got := filter.ShouldIgnore("/srv/site", name); got != want {
			t.Errorf("ShouldIgnore(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestSyncOptions(t *testing.T) {
	cfg := validConfig()
	cfg.Sync.Recursive = boolPtr(false)
	cfg.Sync.DryRun = true
	cfg.Ignore.Names = []string{"skip"}

	opts, err := cfg.SyncOptions()
	if err != nil {
		t.Fatalf("SyncOptions failed: %v", err)
	}
	if !opts.NonRecursive {
		t.Error("expected non-recursive options")
	}
	if !opts.DryRun {
		t.Error("expected dry-run options")
	}
	if !opts.Ignore.ShouldIgnore("/", "skip") {
		t.Error("expected ignore filter to match configured name")
	}

	cfg.Ignore.Patterns = []string{"[broken"}
	if _, err := cfg.SyncOptions(); err == nil {
		t.Error("expected error for invalid pattern")
	}
}

func TestSummary(t *testing.T) {
	cfg := validConfig()
	summary := cfg.Summary()
	if len(summary)%2 != 0 {
		t.Fatalf("summary must be key/value pairs, got %d items", len(summary))
	}
	if summary[0] != "source" || summary[1] != "/srv/site" {
		t.Errorf("unexpected first pair: %v=%v", summary[0], summary[1])
	}
}
