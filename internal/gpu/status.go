package gpu

import (
	"sort"
	"time"
)

// ResidentModel summarizes one tracked variant for status reporting.
type ResidentModel struct {
	VariantKey string    `json:"variantKey"`
	State      string    `json:"state"`
	RefCount   int       `json:"refCount"`
	EstVRAMMB  int       `json:"estVramMb"`
	LastUsedAt time.Time `json:"lastUsedAt"`
}

// Status is a point-in-time view of the resource manager.
type Status struct {
	Device    Device          `json:"device"`
	BudgetMB  int             `json:"budgetMb"`
	UsedEstMB int             `json:"usedEstMb"`
	Residents []ResidentModel `json:"residents"`
}

// Status reports the device, the admission budget, and every tracked variant.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := Status{
		Device:    m.device,
		BudgetMB:  m.budgetMB(),
		UsedEstMB: m.usedEstMB,
		Residents: make([]ResidentModel, 0, len(m.entries)),
	}
	for _, e := range m.entries {
		status.Residents = append(status.Residents, ResidentModel{
			VariantKey: e.key,
			State:      e.state.String(),
			RefCount:   e.refCount,
			EstVRAMMB:  e.estMB,
			LastUsedAt: e.lastUsed,
		})
	}
	sort.Slice(status.Residents, func(i, j int) bool {
		return status.Residents[i].VariantKey < status.Residents[j].VariantKey
	})
	return status
}
