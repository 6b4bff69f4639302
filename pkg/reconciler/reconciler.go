package reconciler

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cuemby/dynadns/pkg/config"
	"github.com/cuemby/dynadns/pkg/log"
	"github.com/cuemby/dynadns/pkg/metrics"
	"github.com/cuemby/dynadns/pkg/zone"
	"github.com/rs/zerolog"
)

// ReloadFunc observes a successful reload.
type ReloadFunc func(zones []*zone.Zone)

// Reconciler keeps the served zones in line with the zone files on disk.
// It is the only goroutine that maps resources once the server runs, so
// MapResource keeps its single-writer guarantee during live reloads.
type Reconciler struct {
	zones    []config.ZoneConfig
	set      *zone.Set
	mapper   zone.Mapper
	interval time.Duration
	onReload ReloadFunc
	logger   zerolog.Logger

	mu       sync.Mutex
	mtimes   map[string]time.Time
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewReconciler creates a reconciler for the configured zones. The files'
// current modification times are taken as already loaded.
func NewReconciler(zones []config.ZoneConfig, set *zone.Set, mapper zone.Mapper, interval time.Duration) *Reconciler {
	r := &Reconciler{
		zones:    zones,
		set:      set,
		mapper:   mapper,
		interval: interval,
		logger:   log.WithComponent("reconciler"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	r.mtimes, _ = r.scan()
	return r
}

// OnReload sets a hook run after every successful reload. It must be set
// before Start.
func (r *Reconciler) OnReload(fn ReloadFunc) {
	r.onReload = fn
}

// Start begins the reconciliation loop
func (r *Reconciler) Start() {
	if r.interval <= 0 {
		close(r.doneCh)
		return
	}
	go r.run()
}

// Stop stops the reconciler and waits for a running cycle to finish
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	<-r.doneCh
}

func (r *Reconciler) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := r.Reconcile(); err != nil {
				r.logger.Error().Err(err).Msg("zone reload failed, keeping previous zones")
			}
		case <-r.stopCh:
			return
		}
	}
}

// Reconcile reloads every zone if any zone file changed since the last
// successful load. It reports whether new zones were installed. On error
// the zones being served are left untouched.
func (r *Reconciler) Reconcile() (bool, error) {
	return r.reload(false)
}

// Reload loads every zone again whether or not the files changed.
func (r *Reconciler) Reload() error {
	_, err := r.reload(true)
	return err
}

func (r *Reconciler) reload(force bool) (bool, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ZoneReconcileDuration)

	r.mu.Lock()
	defer r.mu.Unlock()

	mtimes, err := r.scan()
	if err != nil {
		return false, err
	}
	if !force && !r.changed(mtimes) {
		return false, nil
	}

	zones, err := zone.LoadAll(r.zones, r.mapper, false)
	if err != nil {
		return false, err
	}
	r.set.Replace(zones)
	r.mtimes = mtimes

	r.logger.Info().Int("zones", len(zones)).Bool("forced", force).Msg("zones reloaded")
	if r.onReload != nil {
		r.onReload(zones)
	}
	return true, nil
}

func (r *Reconciler) scan() (map[string]time.Time, error) {
	mtimes := make(map[string]time.Time, len(r.zones))
	var errs []error
	for _, zc := range r.zones {
		fi, err := os.Stat(zc.File)
		if err != nil {
			errs = append(errs, fmt.Errorf("zone %s: %w", zc.Origin, err))
			continue
		}
		mtimes[zc.File] = fi.ModTime()
	}
	return mtimes, errors.Join(errs...)
}

func (r *Reconciler) changed(mtimes map[string]time.Time) bool {
	if len(mtimes) != len(r.mtimes) {
		return true
	}
	for file, t := range mtimes {
		if old, ok := r.mtimes[file]; !ok || !old.Equal(t) {
			return true
		}
	}
	return false
}
