package gpu

import (
	"fmt"
	"time"

	"lyrebird/internal/logging"
	"lyrebird/internal/metrics"
	"lyrebird/internal/services"
)

// admitLocked makes room for a new variant. Idle residents are evicted
// oldest-first until the estimate fits the budget; if everything left is
// pinned the acquisition is refused rather than over-committing the device.
func (m *Manager) admitLocked(variantKey string, estMB int) error {
	budget := m.budgetMB()
	if budget <= 0 {
		return nil
	}
	for m.usedEstMB+estMB > budget {
		victim := m.idleVictimLocked()
		if victim == nil {
			return services.Wrap(services.ErrResourceUnavailable, "", "acquire model",
				fmt.Sprintf("%s needs %d MB but only %d of %d MB are free and every resident is in use",
					variantKey, estMB, budget-m.usedEstMB, budget), nil)
		}
		m.evictLocked(victim, "vram pressure")
	}
	return nil
}

// idleVictimLocked picks the least recently used resident with no handles.
func (m *Manager) idleVictimLocked() *entry {
	var lru *entry
	for _, e := range m.entries {
		if e.state != stateReady || e.refCount > 0 {
			continue
		}
		if lru == nil || e.lastUsed.Before(lru.lastUsed) {
			lru = e
		}
	}
	return lru
}

// evictLocked removes an entry from the residency table. The unload runs on
// its own goroutine so callers holding the mutex never block on the loader.
func (m *Manager) evictLocked(e *entry, reason string) {
	delete(m.entries, e.key)
	m.usedEstMB -= e.estMB
	if m.usedEstMB < 0 {
		m.usedEstMB = 0
	}
	instance := e.instance
	e.instance = nil
	metrics.SetModelsResident(m.residentsLocked())
	metrics.SetVRAMReserved(int64(m.usedEstMB))

	m.logger.Info("model evicted",
		logging.String("variant", e.key),
		logging.Int("est_vram_mb", e.estMB),
		logging.String("reason", reason))

	m.unloadWG.Add(1)
	go func() {
		defer m.unloadWG.Done()
		m.unloadInstance(instance)
	}()
}

func (m *Manager) runJanitor(idleAfter time.Duration) {
	defer close(m.janitorDone)

	interval := idleAfter / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.janitorStop:
			return
		case <-ticker.C:
			m.evictIdle(idleAfter)
		}
	}
}

// evictIdle drops residents that have sat unpinned past the idle window.
func (m *Manager) evictIdle(idleAfter time.Duration) {
	cutoff := time.Now().Add(-idleAfter)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.state == stateReady && e.refCount == 0 && e.lastUsed.Before(cutoff) {
			m.evictLocked(e, "idle")
		}
	}
}
