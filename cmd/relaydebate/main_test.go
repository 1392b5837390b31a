package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/agentworkforce/relaydebate/internal/config"
	"github.com/agentworkforce/relaydebate/internal/debate"
	"github.com/agentworkforce/relaydebate/internal/debateclient"
	"github.com/agentworkforce/relaydebate/internal/httpapi"
	"github.com/agentworkforce/relaydebate/internal/logging"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func seedDebate(t *testing.T, service *debate.Service) debate.Result {
	t.Helper()
	ctx := context.Background()
	created, err := service.CreateDebate(ctx, debate.CreateDebateInput{
		DebateID:        "d1",
		Title:           "Tabs or spaces",
		DebateType:      "technical",
		MotionContent:   "Tabs are better",
		ClientRequestID: "create-d1",
	})
	if err != nil {
		t.Fatalf("create debate failed: %v", err)
	}
	if _, err := service.SubmitClaim(ctx, debate.SubmitClaimInput{
		DebateID:        "d1",
		Role:            debate.RoleOpponent,
		TargetID:        created.Argument.ID,
		Content:         "Spaces render the same everywhere",
		ClientRequestID: "c1",
	}); err != nil {
		t.Fatalf("submit claim failed: %v", err)
	}
	return created
}

// seedDriftedStore writes a debate whose cached state disagrees with its log.
func seedDriftedStore(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "debate.db")
	store, err := debate.OpenSQLiteStore(ctx, path, debate.SQLiteOptions{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	seedDebate(t, debate.NewService(store, nil, debate.ServiceOptions{}))
	err = store.WithTx(ctx, func(tx debate.Tx) error {
		return tx.UpdateDebateState(ctx, "d1", debate.StateClosed, time.Now().UTC())
	})
	if err != nil {
		t.Fatalf("tamper state: %v", err)
	}
	return path
}

func TestRepairCommand(t *testing.T) {
	path := seedDriftedStore(t)
	configPath := filepath.Join(t.TempDir(), "relaydebate.yaml")
	content := fmt.Sprintf("store:\n  dsn: %s\nlogging:\n  mode: production\n", path)
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	out, err := runCommand(t, "repair", "--config", configPath, "--dry-run")
	if err != nil {
		t.Fatalf("dry run failed: %v", err)
	}
	if !strings.Contains(out, "d1: CLOSED -> AWAITING_PROPOSER (would fix)") {
		t.Fatalf("expected dry run report, got %q", out)
	}

	out, err = runCommand(t, "repair", "--config", configPath)
	if err != nil {
		t.Fatalf("repair failed: %v", err)
	}
	if !strings.Contains(out, "(fixed)") {
		t.Fatalf("expected fix report, got %q", out)
	}

	out, err = runCommand(t, "repair", "--config", configPath)
	if err != nil {
		t.Fatalf("second repair failed: %v", err)
	}
	if !strings.Contains(out, "all debate states match") {
		t.Fatalf("expected clean report, got %q", out)
	}
}

func TestRepairCommandRejectsMissingConfig(t *testing.T) {
	if _, err := runCommand(t, "repair", "--config", filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected an explicit missing config file to fail")
	}
}

func TestShowCommand(t *testing.T) {
	path := seedDriftedStore(t)
	out, err := runCommand(t, "show", "--dsn", path, "--log-mode", "production", "--debate", "d1", "--limit", "5")
	if err != nil {
		t.Fatalf("show failed: %v", err)
	}
	if !strings.Contains(out, "#1 proposer MOTION: Tabs are better") || !strings.Contains(out, "#2 opponent CLAIM") {
		t.Fatalf("expected motion and claim, got %q", out)
	}

	if _, err := runCommand(t, "show", "--dsn", path, "--debate", "missing"); !errors.Is(err, debate.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestServeAppLifecycle(t *testing.T) {
	cfg := config.Default()
	cfg.Store.DSN = "memory://"
	cfg.Watch.Enabled = false
	cfg.Server.AuthToken = "s3cret"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, err := buildApp(ctx, cfg, logging.Nop())
	if err != nil {
		t.Fatalf("build app failed: %v", err)
	}
	defer a.close()
	if a.watcher != nil || a.relay != nil {
		t.Fatalf("expected watcher and relay to be disabled")
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- a.run(ctx, listener) }()

	client := debateclient.NewClient("http://"+listener.Addr().String(), "s3cret", nil)
	health, err := client.Health(context.Background())
	if err != nil {
		t.Fatalf("health failed: %v", err)
	}
	if health.Status != "ok" {
		t.Fatalf("expected ok, got %+v", health)
	}
	if _, err := client.CreateDebate(context.Background(), debate.CreateDebateInput{
		DebateID:        "d1",
		Title:           "Tabs or spaces",
		DebateType:      "technical",
		MotionContent:   "Tabs are better",
		ClientRequestID: "create-d1",
	}); err != nil {
		t.Fatalf("create over served app failed: %v", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("server did not shut down")
	}
}

func TestBuildAppEnablesWatcherForSQLite(t *testing.T) {
	cfg := config.Default()
	cfg.Store.DSN = filepath.Join(t.TempDir(), "debate.db")
	a, err := buildApp(context.Background(), cfg, logging.Nop())
	if err != nil {
		t.Fatalf("build app failed: %v", err)
	}
	defer a.close()
	if a.watcher == nil {
		t.Fatalf("expected watcher for a sqlite file store")
	}
	if ids := a.followedDebates(); len(ids) != 0 {
		t.Fatalf("expected nothing followed yet, got %v", ids)
	}
}

func TestWatchCommandStopsWhenClosed(t *testing.T) {
	store, err := debate.OpenMemoryStore(context.Background())
	if err != nil {
		t.Fatalf("open memory store failed: %v", err)
	}
	defer store.Close()
	service := debate.NewService(store, nil, debate.ServiceOptions{PollTimeout: time.Second})
	server, err := httpapi.NewServer(service, nil, httpapi.ServerConfig{})
	if err != nil {
		t.Fatalf("new server failed: %v", err)
	}
	httpServer := httptest.NewServer(server)
	defer httpServer.Close()

	created := seedDebate(t, service)
	if _, err := service.SubmitIntervention(context.Background(), debate.SubmitInterventionInput{DebateID: "d1"}); err != nil {
		t.Fatalf("intervention failed: %v", err)
	}
	if _, err := service.SubmitRuling(context.Background(), debate.SubmitRulingInput{DebateID: "d1", Content: "Closed", Close: true}); err != nil {
		t.Fatalf("ruling failed: %v", err)
	}

	out, err := runCommand(t, "watch", "--dsn", "memory://", "--base-url", httpServer.URL, "--debate", "d1", "--role", "opponent", "--cursor", created.Argument.ID)
	if err != nil {
		t.Fatalf("watch failed: %v", err)
	}
	if !strings.Contains(out, string(debate.WaitDebateClosed)) {
		t.Fatalf("expected watch to report the closed debate, got %q", out)
	}
}

func TestWatchCommandValidatesFlags(t *testing.T) {
	if _, err := runCommand(t, "watch", "--debate", "d1", "--role", "arbitrator"); err == nil {
		t.Fatalf("expected arbitrator role to be rejected")
	}
	if _, err := runCommand(t, "watch", "--role", "proposer"); err == nil {
		t.Fatalf("expected missing debate to be rejected")
	}
}

func TestRetryable(t *testing.T) {
	if retryable(&debateclient.HTTPError{StatusCode: 404}) {
		t.Fatalf("expected not found to be final")
	}
	if !retryable(&debateclient.HTTPError{StatusCode: 503}) {
		t.Fatalf("expected unavailable to be retried")
	}
	if !retryable(errors.New("connection refused")) {
		t.Fatalf("expected transport errors to be retried")
	}
	if retryable(context.Canceled) {
		t.Fatalf("expected cancellation to be final")
	}
}

func TestClampJitterRatio(t *testing.T) {
	if got := clampJitterRatio(-0.1); got != 0 {
		t.Fatalf("expected clamp to 0, got %f", got)
	}
	if got := clampJitterRatio(1.5); got != 1 {
		t.Fatalf("expected clamp to 1, got %f", got)
	}
	if got := clampJitterRatio(0.4); got != 0.4 {
		t.Fatalf("expected passthrough 0.4, got %f", got)
	}
}

func TestJitteredIntervalWithSample(t *testing.T) {
	base := 10 * time.Second
	if got := jitteredIntervalWithSample(base, 0, 0.2); got != base {
		t.Fatalf("expected no jitter interval %s, got %s", base, got)
	}
	if got := jitteredIntervalWithSample(base, 0.2, 0); got != 8*time.Second {
		t.Fatalf("expected min jitter interval 8s, got %s", got)
	}
	if got := jitteredIntervalWithSample(base, 0.2, 1); got != 12*time.Second {
		t.Fatalf("expected max jitter interval 12s, got %s", got)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := runCommand(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.Contains(out, "relaydebate dev") {
		t.Fatalf("expected version output, got %q", out)
	}
}
