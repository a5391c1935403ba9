//go:build integration

package tier1

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"
)

const (
	srcRel     = "src"
	dstRel     = "dst"
	configRel  = "config/config.yaml"
	secretRel  = "config/secret"
	testSecret = "tier1-secret"
)

func TestTier1Sync(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	h := NewHarness(t)
	defer h.Cleanup()

	if err := h.Build(ctx); err != nil {
		t.Fatalf("build binary: %v", err)
	}

	seedSource(h)

	t.Run("A_InitialSync", func(t *testing.T) {
		testInitialSync(t, h, ctx)
	})

	t.Run("B_UpdateRemovesStale", func(t *testing.T) {
		testUpdateRemovesStale(t, h, ctx)
	})

	t.Run("C_SecondRunOnlyUpdates", func(t *testing.T) {
		testSecondRunOnlyUpdates(t, h, ctx)
	})

	t.Run("D_IgnoreFromConfig", func(t *testing.T) {
		testIgnoreFromConfig(t, h, ctx)
	})

	t.Run("E_DryRunMode", func(t *testing.T) {
		h.RemoveAll(dstRel)
		testDryRunMode(t, h, ctx)
	})

	t.Run("F_ServeTrigger", func(t *testing.T) {
		h.RemoveAll(dstRel)
		testServeTrigger(t, h, ctx)
	})
}

func seedSource(h *Harness) {
	h.WriteFile(srcRel+"/index.html", "<html>v1</html>")
	h.WriteFile(srcRel+"/assets/site.css", "body{}")
	h.WriteFile(srcRel+"/assets/img/logo.svg", "<svg/>")
	h.WriteFile(srcRel+"/.DS_Store", "junk")
}

func writeConfig(t *testing.T, h *Harness, extra string) {
	t.Helper()
	h.WriteFile(secretRel, testSecret+"\n")
	h.WriteFile(configRel, fmt.Sprintf(`source: %s
destination: %s
%s`, h.Path(srcRel), h.Path(dstRel), extra))
}

func testInitialSync(t *testing.T, h *Harness, ctx context.Context) {
	stdout, _ := h.MustRun(ctx, "sync", h.Path(srcRel), h.Path(dstRel), "--itemize", "--log-level", "error")

	for _, rel := range []string{"index.html", "assets/site.css", "assets/img/logo.svg", ".DS_Store"} {
		if !h.Exists(dstRel + "/" + rel) {
			t.Errorf("expected %s in destination", rel)
		}
	}
	if got := strings.Count(stdout, "+ "); got != 6 {
		t.Errorf("expected 6 added entries, got %d:\n%s", got, stdout)
	}
}

func testUpdateRemovesStale(t *testing.T, h *Harness, ctx context.Context) {
	h.WriteFile(srcRel+"/index.html", "<html>v2</html>")
	h.RemoveAll(srcRel + "/assets/img")
	h.WriteFile(dstRel+"/orphan.txt", "orphan")

	stdout, _ := h.MustRun(ctx, "sync", h.Path(srcRel), h.Path(dstRel), "--itemize", "--log-level", "error")

	content, err := h.ReadFile(dstRel + "/index.html")
	if err != nil || content != "<html>v2</html>" {
		t.Errorf("expected updated index.html, got %q (%v)", content, err)
	}
	for _, rel := range []string{"orphan.txt", "assets/img"} {
		if h.Exists(dstRel + "/" + rel) {
			t.Errorf("expected %s to be removed", rel)
		}
	}
	if !strings.Contains(stdout, "- "+h.Path(dstRel, "orphan.txt")) {
		t.Errorf("expected itemized deletion, got:\n%s", stdout)
	}
}

func testSecondRunOnlyUpdates(t *testing.T, h *Harness, ctx context.Context) {
	stdout, _ := h.MustRun(ctx, "sync", h.Path(srcRel), h.Path(dstRel), "--itemize", "--log-level", "error")

	if strings.Contains(stdout, "+ ") || strings.Contains(stdout, "- ") {
		t.Errorf("unchanged trees must not add or delete:\n%s", stdout)
	}
	if got := strings.Count(stdout, "~ "); got != 3 {
		t.Errorf("expected every file rewritten (3), got %d:\n%s", got, stdout)
	}
}

func testIgnoreFromConfig(t *testing.T, h *Harness, ctx context.Context) {
	writeConfig(t, h, `ignore:
  names: [".DS_Store"]
  patterns: ["*.css"]
`)

	h.MustRun(ctx, "sync", "--config", h.Path(configRel), "--log-level", "error")

	for _, rel := range []string{".DS_Store", "assets/site.css"} {
		if h.Exists(dstRel + "/" + rel) {
			t.Errorf("ignored %s must be removed from destination", rel)
		}
	}
	if !h.Exists(dstRel + "/index.html") {
		t.Error("expected index.html to remain")
	}
}

func testDryRunMode(t *testing.T, h *Harness, ctx context.Context) {
	_, stderr := h.MustRun(ctx, "sync", h.Path(srcRel), h.Path(dstRel), "--dry-run")

	if h.Exists(dstRel) {
		t.Error("dry-run must not create the destination")
	}
	if !strings.Contains(stderr, "[dry-run] would add") {
		t.Errorf("expected dry-run log lines, got:\n%s", stderr)
	}
}

func testServeTrigger(t *testing.T, h *Harness, ctx context.Context) {
	addr := FreeAddr(t)
	writeConfig(t, h, fmt.Sprintf(`serve:
  enabled: true
  listen_addr: %q
  trigger_secret_file: %s
  debounce: 100ms
`, addr, h.Path(secretRel)))

	if _, err := h.Start(ctx, "serve", "--config", h.Path(configRel)); err != nil {
		t.Fatalf("start serve: %v", err)
	}

	base := "http://" + addr
	waitFor(t, func() bool {
		resp, err := http.Get(base + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	})

	if !h.Exists(dstRel + "/index.html") {
		t.Fatal("expected initial sync on startup")
	}

	h.WriteFile(srcRel+"/late.txt", "late")

	body := []byte(`{"reason":"tier1"}`)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/sync", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	req.Header.Set("X-Treesyncd-Signature", "sha256="+hex.EncodeToString(mac.Sum(nil)))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("trigger request: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	waitFor(t, func() bool { return h.Exists(dstRel + "/late.txt") })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
