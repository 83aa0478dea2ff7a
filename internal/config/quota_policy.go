package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// QuotaPolicy holds the tunables that operators may change without a restart.
type QuotaPolicy struct {
	SweepInterval      time.Duration `mapstructure:"sweepInterval"`
	GraceWindow        time.Duration `mapstructure:"graceWindow"`
	SweepBatchSize     int           `mapstructure:"sweepBatchSize"`
	SnapshotTTL        time.Duration `mapstructure:"snapshotTTL"`
	ResolverTTL        time.Duration `mapstructure:"resolverTTL"`
	PublishTimeout     time.Duration `mapstructure:"publishTimeout"`
	FallbackPeriodDays int           `mapstructure:"fallbackPeriodDays"`
}

func DefaultQuotaPolicy() QuotaPolicy {
	return QuotaPolicy{
		SweepInterval:      5 * time.Minute,
		GraceWindow:        15 * time.Minute,
		SweepBatchSize:     100,
		SnapshotTTL:        30 * time.Second,
		ResolverTTL:        45 * time.Second,
		PublishTimeout:     2 * time.Second,
		FallbackPeriodDays: 30,
	}
}

type QuotaPolicyHolder struct {
	current atomic.Value // holds QuotaPolicy
}

// NewStaticQuotaPolicyHolder returns a holder that never reloads.
func NewStaticQuotaPolicyHolder(policy QuotaPolicy) *QuotaPolicyHolder {
	holder := &QuotaPolicyHolder{}
	holder.current.Store(policy)
	return holder
}

func NewQuotaPolicyHolder(cfg Config) (*QuotaPolicyHolder, error) {
	v := viper.New()

	if path := strings.TrimSpace(cfg.Quota.PolicyPath); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("quota")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/creditgate")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("CREDITGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultQuotaPolicy()
	v.SetDefault("quota.sweepInterval", defaults.SweepInterval)
	v.SetDefault("quota.graceWindow", defaults.GraceWindow)
	v.SetDefault("quota.sweepBatchSize", defaults.SweepBatchSize)
	v.SetDefault("quota.snapshotTTL", defaults.SnapshotTTL)
	v.SetDefault("quota.resolverTTL", defaults.ResolverTTL)
	v.SetDefault("quota.publishTimeout", defaults.PublishTimeout)
	v.SetDefault("quota.fallbackPeriodDays", defaults.FallbackPeriodDays)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileLoaded = false
	}

	policy, err := decodeQuotaPolicy(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticQuotaPolicyHolder(policy)
	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeQuotaPolicy(v)
		if err != nil {
			log.Printf("[quota-policy] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[quota-policy] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *QuotaPolicyHolder) Get() QuotaPolicy {
	if h == nil {
		return DefaultQuotaPolicy()
	}
	policy, ok := h.current.Load().(QuotaPolicy)
	if !ok {
		return DefaultQuotaPolicy()
	}
	return policy
}

func decodeQuotaPolicy(v *viper.Viper) (QuotaPolicy, error) {
	var policy QuotaPolicy
	if err := v.UnmarshalKey("quota", &policy); err != nil {
		return QuotaPolicy{}, err
	}
	if err := validateQuotaPolicy(policy); err != nil {
		return QuotaPolicy{}, err
	}
	return policy, nil
}

func validateQuotaPolicy(p QuotaPolicy) error {
	if p.SweepInterval <= 0 {
		return errors.New("quota.sweepInterval must be positive")
	}
	if p.GraceWindow <= 0 {
		return errors.New("quota.graceWindow must be positive")
	}
	if p.SweepBatchSize <= 0 {
		return errors.New("quota.sweepBatchSize must be positive")
	}
	if p.SnapshotTTL <= 0 {
		return errors.New("quota.snapshotTTL must be positive")
	}
	if p.ResolverTTL < 0 {
		return errors.New("quota.resolverTTL cannot be negative")
	}
	if p.FallbackPeriodDays <= 0 {
		return errors.New("quota.fallbackPeriodDays must be positive")
	}
	return nil
}
