package config

import (
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Tunables are the file-backed knobs that may change without a
// restart: scheduler cadence and invoice terms.
type Tunables struct {
	SchedulerTick        time.Duration `mapstructure:"schedulerTick"`
	InvoiceCloseHour     int           `mapstructure:"invoiceCloseHour"`
	OverdueSweepHour     int           `mapstructure:"overdueSweepHour"`
	InvoiceDueDays       int           `mapstructure:"invoiceDueDays"`
	GenerationWindowDays int           `mapstructure:"generationWindowDays"`
	EnabledJobs          []string      `mapstructure:"enabledJobs"`
}

// DefaultTunables mirrors spec'd cadence: close pass at 02:00, sweep
// at 03:00, net-7 due dates, invoice only within 7 days of close.
func DefaultTunables() Tunables {
	return Tunables{
		SchedulerTick:        time.Minute,
		InvoiceCloseHour:     2,
		OverdueSweepHour:     3,
		InvoiceDueDays:       7,
		GenerationWindowDays: 7,
	}
}

func (t Tunables) withDefaults() Tunables {
	defaults := DefaultTunables()
	if t.SchedulerTick <= 0 {
		t.SchedulerTick = defaults.SchedulerTick
	}
	if t.InvoiceCloseHour < 0 || t.InvoiceCloseHour > 23 {
		t.InvoiceCloseHour = defaults.InvoiceCloseHour
	}
	if t.OverdueSweepHour < 0 || t.OverdueSweepHour > 23 {
		t.OverdueSweepHour = defaults.OverdueSweepHour
	}
	if t.InvoiceDueDays <= 0 {
		t.InvoiceDueDays = defaults.InvoiceDueDays
	}
	if t.GenerationWindowDays <= 0 {
		t.GenerationWindowDays = defaults.GenerationWindowDays
	}
	return t
}

// TunablesHolder serves the current Tunables and hot-reloads them when
// the backing file changes.
type TunablesHolder struct {
	current atomic.Value // holds Tunables
}

// NewTunablesHolder reads metergate.yml if present and watches it for
// changes. A missing file means defaults.
func NewTunablesHolder() (*TunablesHolder, error) {
	v := viper.New()
	v.SetConfigName("metergate")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/metergate")
	v.AddConfigPath(".")

	v.SetEnvPrefix("METERGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	holder := &TunablesHolder{}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		holder.current.Store(DefaultTunables())
		return holder, nil
	}

	holder.current.Store(unmarshalTunables(v))

	v.OnConfigChange(func(_ fsnotify.Event) {
		holder.current.Store(unmarshalTunables(v))
		log.Printf("reloaded tunables from %s", v.ConfigFileUsed())
	})
	v.WatchConfig()

	return holder, nil
}

// Current returns the tunables in effect.
func (h *TunablesHolder) Current() Tunables {
	if value, ok := h.current.Load().(Tunables); ok {
		return value
	}
	return DefaultTunables()
}

func unmarshalTunables(v *viper.Viper) Tunables {
	var t Tunables
	if err := v.UnmarshalKey("metergate", &t); err != nil {
		log.Printf("unmarshal tunables: %v", err)
		return DefaultTunables()
	}
	return t.withDefaults()
}
