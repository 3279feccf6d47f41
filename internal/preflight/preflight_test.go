package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"threadmap/internal/config"
	"threadmap/internal/testsupport"
)

func TestCheckDirectoryAccess(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("Data directory", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir: %+v", result)
	}

	result = CheckDirectoryAccess("Data directory", filepath.Join(dir, "missing"))
	if result.Passed {
		t.Fatalf("expected failure for missing dir: %+v", result)
	}
}

func TestCheckDiskSpace(t *testing.T) {
	dir := t.TempDir()
	if result := CheckDiskSpace("Free space", dir, 0); !result.Passed {
		t.Fatalf("expected pass for zero requirement: %+v", result)
	}
	// No filesystem has this much free.
	if result := CheckDiskSpace("Free space", dir, 1<<30); result.Passed {
		t.Fatalf("expected failure for absurd requirement: %+v", result)
	}
}

func TestCheckDatabase(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	result := CheckDatabase(context.Background(), cfg)
	if !result.Passed {
		t.Fatalf("expected healthy database: %+v", result)
	}
}

func TestCheckBinary(t *testing.T) {
	if result := CheckBinary("Shell", "sh"); !result.Passed {
		t.Fatalf("expected sh on PATH: %+v", result)
	}
	if result := CheckBinary("Missing", "no-such-binary-xyz"); result.Passed {
		t.Fatalf("expected failure for missing binary: %+v", result)
	}
	if result := CheckBinary("Empty", ""); result.Passed {
		t.Fatalf("expected failure for empty command: %+v", result)
	}
}

func TestCheckImageryAPI(t *testing.T) {
	okServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data": []}`))
	}))
	defer okServer.Close()

	result := CheckImageryAPI(context.Background(), config.Mapillary{
		AccessToken: "token",
		BaseURL:     okServer.URL,
	})
	if !result.Passed {
		t.Fatalf("expected reachable API: %+v", result)
	}

	authServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer authServer.Close()

	result = CheckImageryAPI(context.Background(), config.Mapillary{
		AccessToken: "bad",
		BaseURL:     authServer.URL,
	})
	if result.Passed {
		t.Fatalf("expected auth failure: %+v", result)
	}

	result = CheckImageryAPI(context.Background(), config.Mapillary{BaseURL: okServer.URL})
	if result.Passed {
		t.Fatalf("expected failure for missing token: %+v", result)
	}
}
