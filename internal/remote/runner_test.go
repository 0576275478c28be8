package remote

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestReleaseHosts(t *testing.T) {
	hosts := []Host{
		{Name: "web1", Addr: "10.0.0.1"},
		{Name: "db1", Addr: "10.0.0.2", NoRelease: true},
		{Name: "web2", Addr: "10.0.0.3"},
	}

	got := ReleaseHosts(hosts)
	if len(got) != 2 {
		t.Fatalf("Expected 2 release hosts, got %d", len(got))
	}
	for _, h := range got {
		if h.NoRelease {
			t.Errorf("Host %s flagged no_release should have been excluded", h.Name)
		}
	}
}

func TestReleaseHostsEmpty(t *testing.T) {
	if got := ReleaseHosts(nil); len(got) != 0 {
		t.Errorf("Expected no hosts, got %d", len(got))
	}
}

func TestExecRunnerRun(t *testing.T) {
	r := NewExecRunner(zap.NewNop())
	host := Host{Name: "local"}

	out, err := r.Run(context.Background(), host, "echo hello")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if strings.TrimSpace(out) != "hello" {
		t.Errorf("Output = %q, want hello", out)
	}
}

func TestExecRunnerRunFailure(t *testing.T) {
	r := NewExecRunner(zap.NewNop())
	host := Host{Name: "local"}

	_, err := r.Run(context.Background(), host, "exit 3")
	if err == nil {
		t.Fatal("Expected error for failing command")
	}
	if !strings.Contains(err.Error(), "local") {
		t.Errorf("Error should name the host: %v", err)
	}
}

func TestExecRunnerUpload(t *testing.T) {
	r := NewExecRunner(zap.NewNop())
	host := Host{Name: "local"}
	path := filepath.Join(t.TempDir(), "deploy-lock.yml")

	if err := r.Upload(context.Background(), host, path, []byte("username: alice\n")); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read uploaded file: %v", err)
	}
	if string(data) != "username: alice\n" {
		t.Errorf("Uploaded contents = %q", data)
	}

	// Uploads overwrite.
	if err := r.Upload(context.Background(), host, path, []byte("username: bob\n")); err != nil {
		t.Fatalf("Second upload failed: %v", err)
	}
	data, _ = os.ReadFile(path)
	if string(data) != "username: bob\n" {
		t.Errorf("Overwritten contents = %q", data)
	}
}

func TestShellQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "/srv/app/shared/deploy-lock.yml", want: "'/srv/app/shared/deploy-lock.yml'"},
		{in: "/srv/it's here", want: `'/srv/it'\''s here'`},
	}

	for _, tt := range tests {
		if got := shellQuote(tt.in); got != tt.want {
			t.Errorf("shellQuote(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
