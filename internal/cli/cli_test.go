package cli

import (
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
)

func TestParseServeFlagsDefaults(t *testing.T) {
	os.Unsetenv("CASSANDRA_HOST")
	cfg := ParseServeFlags(nil)

	if cfg.ControlAddr != ":5050" {
		t.Errorf("ControlAddr: got %q, want %q", cfg.ControlAddr, ":5050")
	}
	if cfg.FileAddr != ":5051" {
		t.Errorf("FileAddr: got %q, want %q", cfg.FileAddr, ":5051")
	}
	if cfg.OpsAddr != ":9090" {
		t.Errorf("OpsAddr: got %q, want %q", cfg.OpsAddr, ":9090")
	}
	if cfg.DataDir != "./server_data" {
		t.Errorf("DataDir: got %q, want %q", cfg.DataDir, "./server_data")
	}
	if cfg.CassandraHost != "127.0.0.1" {
		t.Errorf("CassandraHost: got %q, want %q", cfg.CassandraHost, "127.0.0.1")
	}
}

func TestParseServeFlagsOverrides(t *testing.T) {
	cfg := ParseServeFlags([]string{"-control-addr", ":6050", "-data-dir", "/tmp/ppgram"})
	if cfg.ControlAddr != ":6050" {
		t.Errorf("ControlAddr: got %q, want %q", cfg.ControlAddr, ":6050")
	}
	if cfg.DataDir != "/tmp/ppgram" {
		t.Errorf("DataDir: got %q, want %q", cfg.DataDir, "/tmp/ppgram")
	}
}

func TestParseServeFlagsHonorsCassandraHostEnv(t *testing.T) {
	os.Setenv("CASSANDRA_HOST", "db1,db2")
	defer os.Unsetenv("CASSANDRA_HOST")

	cfg := ParseServeFlags(nil)
	if cfg.CassandraHost != "db1,db2" {
		t.Errorf("CassandraHost: got %q, want %q", cfg.CassandraHost, "db1,db2")
	}
}

func TestRunCLIVersionIsHandled(t *testing.T) {
	if !RunCLI([]string{"version"}) {
		t.Fatalf("expected version subcommand to be handled")
	}
}

func TestRunCLIServeIsNotHandled(t *testing.T) {
	if RunCLI([]string{"serve"}) {
		t.Fatalf("expected serve to fall through to flag parsing")
	}
	if RunCLI(nil) {
		t.Fatalf("expected no args to fall through to flag parsing")
	}
}

func TestCliStatusReportsHealthyServer(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := httptest.NewUnstartedServer(mux)
	srv.Listener.Close()
	srv.Listener = ln
	srv.Start()
	defer srv.Close()

	_, port, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}

	if !cliStatus([]string{":" + port}) {
		t.Fatalf("expected cliStatus to report handled")
	}
}
