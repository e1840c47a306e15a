package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTunablesDefaults(t *testing.T) {
	defaults := DefaultTunables()
	assert.Equal(t, time.Minute, defaults.SchedulerTick)
	assert.Equal(t, 2, defaults.InvoiceCloseHour)
	assert.Equal(t, 3, defaults.OverdueSweepHour)
	assert.Equal(t, 7, defaults.InvoiceDueDays)
	assert.Equal(t, 7, defaults.GenerationWindowDays)
}

func TestTunablesWithDefaultsFillsZeroValues(t *testing.T) {
	got := Tunables{InvoiceCloseHour: 5}.withDefaults()
	assert.Equal(t, 5, got.InvoiceCloseHour)
	assert.Equal(t, time.Minute, got.SchedulerTick)
	assert.Equal(t, 7, got.InvoiceDueDays)

	bad := Tunables{InvoiceCloseHour: 99, OverdueSweepHour: -1}.withDefaults()
	assert.Equal(t, 2, bad.InvoiceCloseHour)
	assert.Equal(t, 3, bad.OverdueSweepHour)
}

func TestLocationFallsBackToUTC(t *testing.T) {
	cfg := Config{BillingTimezone: "Not/AZone"}
	assert.Equal(t, time.UTC, cfg.Location())

	cfg = Config{BillingTimezone: "UTC"}
	assert.Equal(t, time.UTC, cfg.Location())
}
