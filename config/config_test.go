package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "")
	t.Setenv("TAX_RATE_BPS", "")

	cfg := Load()

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, int64(1800), cfg.Business.TaxRateBps)
	assert.Equal(t, 3, cfg.Business.BundleMinItems)
	assert.Equal(t, int64(1500), cfg.Business.BundleDiscountBps)
	assert.Equal(t, 24*time.Hour, cfg.Business.IdempotencyTTL)
	assert.Equal(t, 6, cfg.Renewal.Hour)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "memory")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("SHIPPING_FEE", "2500")
	t.Setenv("RENEWAL_SCHEDULER_ENABLED", "false")
	t.Setenv("BUNDLE_MIN_ITEMS", "not-a-number")

	cfg := Load()

	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, int64(2500), cfg.Business.ShippingFee)
	assert.False(t, cfg.Renewal.SchedulerEnabled)
	assert.Equal(t, 3, cfg.Business.BundleMinItems)
}

func TestLocationFallback(t *testing.T) {
	b := BusinessConfig{Timezone: "Nowhere/Invalid"}
	assert.Equal(t, time.Local, b.Location())

	b.Timezone = "UTC"
	assert.Equal(t, "UTC", b.Location().String())
}
