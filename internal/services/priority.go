package services

import (
	"time"

	"queue-system/config"
	"queue-system/models"
)

var defaultSpecialNeedBonus = map[models.SpecialNeed]int{
	models.NeedElderly:     100,
	models.NeedDisability:  150,
	models.NeedPregnant:    120,
	models.NeedAppointment: 300,
}

// PriorityCalculator scores tickets as
// base weight + wait bonus + special needs bonus + no-show boost.
type PriorityCalculator struct {
	DefaultBase         int
	WaitPointsPerMinute int
	MaxWaitBonus        int
	NoShowBoost         int
	MaxNoShowBoost      int
	SpecialNeedBonus    map[models.SpecialNeed]int
}

func NewPriorityCalculator(cfg *config.Config) *PriorityCalculator {
	return &PriorityCalculator{
		DefaultBase:         cfg.DefaultBasePriority,
		WaitPointsPerMinute: cfg.WaitPointsPerMinute,
		MaxWaitBonus:        cfg.MaxWaitBonus,
		NoShowBoost:         cfg.NoShowBoost,
		MaxNoShowBoost:      cfg.MaxNoShowBoost,
		SpecialNeedBonus:    defaultSpecialNeedBonus,
	}
}

// Compute is pure: the same ticket, service type and instant always give the same score.
func (c *PriorityCalculator) Compute(t *models.Ticket, svc models.ServiceType, now time.Time) int {
	base := svc.PriorityWeight
	if base <= 0 {
		base = c.DefaultBase
	}

	waited := now.Sub(t.EnqueuedAt)
	if waited < 0 {
		waited = 0
	}
	wait := int(waited/time.Minute) * c.WaitPointsPerMinute
	if wait > c.MaxWaitBonus {
		wait = c.MaxWaitBonus
	}

	special := 0
	seen := make(map[models.SpecialNeed]bool, len(t.SpecialNeeds))
	for _, need := range t.SpecialNeeds {
		if seen[need] {
			continue
		}
		seen[need] = true
		special += c.SpecialNeedBonus[need]
	}

	noShow := t.NoShowCount * c.NoShowBoost
	if noShow > c.MaxNoShowBoost {
		noShow = c.MaxNoShowBoost
	}

	return base + wait + special + noShow
}

// Refresh never lowers a ticket's current score.
func (c *PriorityCalculator) Refresh(t *models.Ticket, svc models.ServiceType, now time.Time) int {
	return max(t.Priority, c.Compute(t, svc, now))
}
