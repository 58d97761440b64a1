package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"firestige.xyz/netcore/internal/command"
)

func writeDaemonConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
}

const baseConfig = `
netcore:
  stack:
    buffers:
      count: 64
      size: 512
  devices:
    - name: lo
      type: loopback
    - name: eth0
      hw_addr: "02:00:00:00:00:10"
      address: 192.0.2.10/24
  arp:
    - address: 192.0.2.1
      hw_addr: "02:00:00:00:00:01"
      permanent: true
  log:
    level: %s
    format: text
  metrics:
    enabled: %s
    listen: 127.0.0.1:0
  routes:
    - prefix: 0.0.0.0/0
      next_hop: 192.0.2.1
      device: eth0
%s`

func configWith(level, metrics string, extraRoutes ...string) string {
	extra := ""
	for _, prefix := range extraRoutes {
		extra += fmt.Sprintf("    - prefix: %s\n      next_hop: 192.0.2.1\n", prefix)
	}
	return fmt.Sprintf(baseConfig, level, metrics, extra)
}

func TestDaemon_StartStopIntegration(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "netcore.yml")
	writeDaemonConfig(t, configPath, configWith("debug", "true"))

	socketPath := filepath.Join(tmpDir, "netcore.sock")
	pidFile := filepath.Join(tmpDir, "netcore.pid")

	d, err := New(configPath, socketPath, pidFile)
	if err != nil {
		t.Fatalf("failed to create daemon: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("failed to start daemon: %v", err)
	}

	if _, err := os.Stat(pidFile); os.IsNotExist(err) {
		t.Errorf("PID file was not created: %s", pidFile)
	}
	if _, err := os.Stat(socketPath); os.IsNotExist(err) {
		t.Errorf("UDS socket was not created: %s", socketPath)
	}

	runDone := make(chan error, 1)
	go func() {
		runDone <- d.Run()
	}()

	client := command.NewUDSClient(socketPath, 5*time.Second)
	st, err := client.Status(context.Background())
	if err != nil {
		t.Fatalf("daemon_status failed: %v", err)
	}
	if st.Stack.Devices != 2 {
		t.Errorf("expected 2 devices, got %d", st.Stack.Devices)
	}
	if st.Stack.ARPEntries != 1 {
		t.Errorf("expected 1 arp entry, got %d", st.Stack.ARPEntries)
	}

	// The reply may race the listener shutdown, so only the exit is checked.
	_ = client.Shutdown(context.Background())

	select {
	case err := <-runDone:
		if err != nil {
			t.Errorf("daemon.Run() returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop within timeout")
	}

	if _, err := os.Stat(pidFile); !os.IsNotExist(err) {
		t.Errorf("PID file was not removed after shutdown: %s", pidFile)
	}
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Errorf("UDS socket was not removed after shutdown: %s", socketPath)
	}

	// Repeated stops are no-ops.
	d.Stop()
	d.TriggerShutdown()
}

func TestDaemon_ReloadLogLevel(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "netcore.yml")
	writeDaemonConfig(t, configPath, configWith("info", "false"))

	d, err := New(configPath, filepath.Join(tmpDir, "netcore.sock"), filepath.Join(tmpDir, "netcore.pid"))
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop()

	if d.Config().Log.Level != "info" {
		t.Fatalf("expected initial level info, got %s", d.Config().Log.Level)
	}

	// Log level is hot; the extra route needs a restart.
	writeDaemonConfig(t, configPath, configWith("debug", "false", "10.0.0.0/8"))

	if err := d.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if d.Config().Log.Level != "debug" {
		t.Fatalf("expected level debug after reload, got %s", d.Config().Log.Level)
	}
	if len(d.Config().Routes) != 1 || d.Config().Routes[0].Prefix != "0.0.0.0/0" {
		t.Fatalf("cold routes must keep the running table, got %+v", d.Config().Routes)
	}

	client := command.NewUDSClient(filepath.Join(tmpDir, "netcore.sock"), 5*time.Second)
	if err := client.ConfigReload(context.Background()); err != nil {
		t.Fatalf("config_reload: %v", err)
	}
}

func TestDaemon_ReloadInvalidConfigKeepsRunning(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "netcore.yml")
	writeDaemonConfig(t, configPath, configWith("info", "false"))

	d, err := New(configPath, filepath.Join(tmpDir, "netcore.sock"), "")
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	d.pidFile = ""
	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop()

	writeDaemonConfig(t, configPath, configWith("verbose", "false"))
	if err := d.Reload(); err == nil {
		t.Fatal("expected reload of an invalid config to fail")
	}
	if d.Config().Log.Level != "info" {
		t.Fatalf("failed reload changed level to %s", d.Config().Log.Level)
	}
}

func TestDaemon_StartFailsOnUnroutableConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "netcore.yml")
	// the next hop is outside every attached subnet
	writeDaemonConfig(t, configPath, `
netcore:
  devices:
    - name: eth0
      hw_addr: "02:00:00:00:00:10"
      address: 192.0.2.10/24
  routes:
    - prefix: 10.0.0.0/8
      next_hop: 198.51.100.1
  metrics:
    enabled: false
`)
	pidFile := filepath.Join(tmpDir, "netcore.pid")

	d, err := New(configPath, filepath.Join(tmpDir, "netcore.sock"), pidFile)
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	if err := d.Start(); err == nil {
		t.Fatal("expected start to fail")
	}
	d.Stop()

	if _, err := os.Stat(pidFile); !os.IsNotExist(err) {
		t.Errorf("PID file left behind after failed start: %s", pidFile)
	}
}

func TestNew_MissingConfig(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "absent.yml"), "", ""); err == nil {
		t.Fatal("expected error for missing config")
	}
}
