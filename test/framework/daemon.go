package framework

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuemby/dynadns/pkg/client"
	"github.com/cuemby/dynadns/pkg/config"
	"github.com/cuemby/dynadns/pkg/manager"
)

// Daemon is a dynadns manager running inside the test process
type Daemon struct {
	Manager *manager.Manager
	Dir     string

	cancel context.CancelFunc
	done   chan error
}

// DaemonOptions is prepended to every test configuration. DNS and API
// listeners bind ephemeral loopback ports.
const DaemonOptions = `
options:
  listen: ["127.0.0.1:0"]
  dns_network: [udp, tcp]
  io_threads: 2
  api_listen: 127.0.0.1:0
  data_dir: %DIR%/data
  zones_dir: %DIR%
  zone_reload_interval: 0
  log_level: warn
`

// StartDaemon writes the zones, builds a manager from body (the
// service_types and plugins blocks) and runs it until the test ends.
func StartDaemon(t TestingT, body string, zones ...Zone) *Daemon {
	t.Helper()
	dir := t.TempDir()

	var zoneCfg strings.Builder
	zoneCfg.WriteString("zones:\n")
	for _, z := range zones {
		file := strings.TrimSuffix(z.Origin, ".") + ".zone"
		if err := os.WriteFile(filepath.Join(dir, file), []byte(z.Body), 0o644); err != nil {
			t.Fatalf("Failed to write zone %s: %v", z.Origin, err)
		}
		fmt.Fprintf(&zoneCfg, "  %s: %s\n", z.Origin, file)
	}

	text := strings.ReplaceAll(DaemonOptions, "%DIR%", dir) + body + "\n" + zoneCfg.String()
	file, err := config.ParseFile([]byte(text))
	if err != nil {
		t.Fatalf("Invalid test configuration: %v", err)
	}

	mgr, err := manager.NewManager(file, "test")
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{Manager: mgr, Dir: dir, cancel: cancel, done: make(chan error, 1)}
	go func() { d.done <- mgr.Run(ctx) }()
	t.Cleanup(func() {
		if err := d.Stop(); err != nil {
			t.Errorf("Daemon stopped with error: %v", err)
		}
	})

	w := NewWaiter(10*time.Second, 20*time.Millisecond)
	if err := w.WaitFor(context.Background(), func() bool {
		return mgr.Ready() && mgr.APIAddr() != ""
	}, "daemon to serve"); err != nil {
		t.Fatalf("%v", err)
	}
	return d
}

// Stop cancels the daemon and waits for Run to return. It is safe to call
// more than once.
func (d *Daemon) Stop() error {
	d.cancel()
	select {
	case err, ok := <-d.done:
		if !ok {
			return nil
		}
		close(d.done)
		return err
	case <-time.After(15 * time.Second):
		return fmt.Errorf("daemon did not stop")
	}
}

// DNSAddr returns the UDP listener address.
func (d *Daemon) DNSAddr() string {
	return d.Manager.DNSAddrs()[0].String()
}

// API returns a client for the daemon's HTTP API.
func (d *Daemon) API() *client.Client {
	return client.NewClient(d.Manager.APIAddr())
}
