package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"opus/internal/config"
	"opus/internal/devserver"
	"opus/pkg/api"
	"opus/pkg/domain"
)

func newTestCLI(t *testing.T) (*env, *bytes.Buffer) {
	t.Helper()
	tokens, err := devserver.NewTokenIssuer("cli-test-secret-0123456789", time.Hour)
	if err != nil {
		t.Fatalf("token issuer: %v", err)
	}
	srv, err := devserver.New(devserver.Config{Store: devserver.NewMemoryStore(), Tokens: tokens})
	if err != nil {
		t.Fatalf("devserver: %v", err)
	}
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Close()
	})
	out := &bytes.Buffer{}
	e, err := newEnv(config.FileConfig{APIURL: ts.URL, TokenStore: config.TokenStoreMemory, RequestTimeout: "5s"}, out)
	if err != nil {
		t.Fatalf("env: %v", err)
	}
	return e, out
}

func TestCLIRegisterCreateAndListJobs(t *testing.T) {
	e, out := newTestCLI(t)
	ctx := context.Background()

	if err := runWhoami(ctx, e, nil); err == nil {
		t.Fatalf("expected whoami to fail before sign-in")
	}
	if err := runRegister(ctx, e, []string{"-email", "maria@example.com", "-password", "secret123", "-name", "Maria"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	out.Reset()
	if err := runWhoami(ctx, e, nil); err != nil {
		t.Fatalf("whoami: %v", err)
	}
	var me domain.User
	if err := json.Unmarshal(out.Bytes(), &me); err != nil || me.Email != "maria@example.com" {
		t.Fatalf("whoami output %q err=%v", out.String(), err)
	}

	args := []string{"create", "-category", "1", "-title", "Sink", "-description", "Leaking", "-address", "Rua A", "-lat", "-23.55", "-lng", "-46.63"}
	if err := runJobs(ctx, e, args); err != nil {
		t.Fatalf("jobs create: %v", err)
	}
	out.Reset()
	if err := runJobs(ctx, e, []string{"nearby", "-lat", "-23.55", "-lng", "-46.63", "-radius", "2"}); err != nil {
		t.Fatalf("jobs nearby: %v", err)
	}
	var list api.JobList
	if err := json.Unmarshal(out.Bytes(), &list); err != nil || list.Total != 1 || list.Items[0].Title != "Sink" {
		t.Fatalf("nearby output %q err=%v", out.String(), err)
	}

	out.Reset()
	if err := runWallet(ctx, e, nil); err != nil {
		t.Fatalf("wallet: %v", err)
	}
	if !strings.Contains(out.String(), `"currency": "BRL"`) {
		t.Fatalf("unexpected wallet output: %s", out.String())
	}

	if err := runLogout(ctx, e, nil); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if err := runWhoami(ctx, e, nil); err == nil {
		t.Fatalf("expected whoami to fail after logout")
	}
}

func TestCLIDemoAcceptPolicy(t *testing.T) {
	e, out := newTestCLI(t)
	ctx := context.Background()
	if err := runDemo(ctx, e, []string{"-accept-policy", "bogus"}); err == nil {
		t.Fatalf("expected unknown policy error")
	}
	if err := runDemo(ctx, e, []string{"-accept", "1:p1"}); err != nil {
		t.Fatalf("demo: %v", err)
	}
	var view stateView
	if err := json.Unmarshal(out.Bytes(), &view); err != nil {
		t.Fatalf("decode demo output: %v", err)
	}
	if view.User == nil || len(view.Categories) == 0 {
		t.Fatalf("unexpected demo view: %+v", view)
	}
	for _, o := range view.Orders {
		if o.ID == "1" && o.Status != "confirmed" {
			t.Fatalf("expected order 1 confirmed, got %s", o.Status)
		}
	}
}

func TestSubcommand(t *testing.T) {
	if _, _, err := subcommand(nil, "a"); err == nil {
		t.Fatalf("expected error for missing subcommand")
	}
	name, rest, err := subcommand([]string{"b", "-x"}, "a", "b")
	if err != nil || name != "b" || len(rest) != 1 {
		t.Fatalf("subcommand: %q %v %v", name, rest, err)
	}
	if _, _, err := subcommand([]string{"c"}, "a", "b"); err == nil {
		t.Fatalf("expected error for unknown subcommand")
	}
}
