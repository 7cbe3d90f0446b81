package config

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// QuotaPolicy holds the quota rules that are not carried by a plan.
type QuotaPolicy struct {
	FreeTier FreeTierQuota `mapstructure:"freeTier"`
}

// FreeTierQuota applies to tenants without an entitling subscription.
// Counts are per calendar month.
type FreeTierQuota struct {
	MaxResourceTypesPerMonth int `mapstructure:"maxResourceTypesPerMonth"`
	MaxSubmissionsPerMonth   int `mapstructure:"maxSubmissionsPerMonth"`
}

func DefaultQuotaPolicy() QuotaPolicy {
	return QuotaPolicy{
		FreeTier: FreeTierQuota{
			MaxResourceTypesPerMonth: 1,
			MaxSubmissionsPerMonth:   2,
		},
	}
}

type QuotaPolicyHolder struct {
	current atomic.Value // holds QuotaPolicy
}

// NewQuotaPolicyHolder loads quota.yml from the standard locations and
// watches it for changes.
func NewQuotaPolicyHolder(log *zap.Logger) (*QuotaPolicyHolder, error) {
	return LoadQuotaPolicy(log, "/etc/saas-platform", ".")
}

// LoadQuotaPolicy reads quota.yml from the first matching path. Defaults
// apply to every key the file leaves out, or to all of them when no file
// exists.
func LoadQuotaPolicy(log *zap.Logger, paths ...string) (*QuotaPolicyHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.quota")

	v := viper.New()
	v.SetConfigName("quota")
	v.SetConfigType("yml")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	v.SetEnvPrefix("SAAS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultQuotaPolicy()
	v.SetDefault("quota.freeTier.maxResourceTypesPerMonth", defaults.FreeTier.MaxResourceTypesPerMonth)
	v.SetDefault("quota.freeTier.maxSubmissionsPerMonth", defaults.FreeTier.MaxSubmissionsPerMonth)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileFound = false
	}

	policy := DefaultQuotaPolicy()
	if err := v.UnmarshalKey("quota", &policy); err != nil {
		return nil, err
	}
	if err := validateQuotaPolicy(policy); err != nil {
		return nil, err
	}

	holder := NewStaticQuotaPolicy(policy)
	if !fileFound {
		return holder, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		updated := DefaultQuotaPolicy()
		if err := v.UnmarshalKey("quota", &updated); err != nil {
			log.Warn("quota.reload.failed", zap.String("file", e.Name), zap.Error(err))
			return
		}
		if err := validateQuotaPolicy(updated); err != nil {
			log.Warn("quota.reload.ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("quota.reloaded", zap.String("file", e.Name))
	})
	v.WatchConfig()

	return holder, nil
}

// NewStaticQuotaPolicy returns a holder that never reloads.
func NewStaticQuotaPolicy(policy QuotaPolicy) *QuotaPolicyHolder {
	holder := &QuotaPolicyHolder{}
	holder.current.Store(policy)
	return holder
}

func (h *QuotaPolicyHolder) Get() QuotaPolicy {
	return h.current.Load().(QuotaPolicy)
}

func validateQuotaPolicy(policy QuotaPolicy) error {
	if policy.FreeTier.MaxResourceTypesPerMonth < 0 {
		return errors.New("quota.freeTier.maxResourceTypesPerMonth cannot be negative")
	}
	if policy.FreeTier.MaxSubmissionsPerMonth < 0 {
		return errors.New("quota.freeTier.maxSubmissionsPerMonth cannot be negative")
	}
	return nil
}
