package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// RewardPolicy holds the referral reward amounts in cents. Amounts are
// applied at qualification time; already-qualified rewards keep the amount
// they were credited with.
type RewardPolicy struct {
	SignupRewardAmount  int64 `mapstructure:"signupRewardAmount"`
	ListingRewardAmount int64 `mapstructure:"listingRewardAmount"`
	ClickRewardAmount   int64 `mapstructure:"clickRewardAmount"`
	DiscountedFee       int64 `mapstructure:"discountedFee"`
}

func DefaultRewardPolicy() RewardPolicy {
	return RewardPolicy{
		SignupRewardAmount:  2500,
		ListingRewardAmount: 2500,
		ClickRewardAmount:   0,
		DiscountedFee:       500,
	}
}

// RewardPolicyHolder exposes the current policy with hot reload.
type RewardPolicyHolder struct {
	current atomic.Value // holds RewardPolicy
}

func NewRewardPolicyHolder() (*RewardPolicyHolder, error) {
	v := viper.New()

	v.SetConfigName("rewards")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/partnerly/config") // Volume-mounted config
	v.AddConfigPath("/etc/partnerly")            // System config
	v.AddConfigPath(".")                         // Current directory (dev mode)

	v.SetEnvPrefix("PARTNERLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultRewardPolicy()
	v.SetDefault("rewards.signupRewardAmount", defaults.SignupRewardAmount)
	v.SetDefault("rewards.listingRewardAmount", defaults.ListingRewardAmount)
	v.SetDefault("rewards.clickRewardAmount", defaults.ClickRewardAmount)
	v.SetDefault("rewards.discountedFee", defaults.DiscountedFee)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var policy RewardPolicy
	if err := v.UnmarshalKey("rewards", &policy); err != nil {
		return nil, err
	}
	if err := validateRewardPolicy(policy); err != nil {
		return nil, err
	}

	holder := &RewardPolicyHolder{}
	holder.current.Store(policy)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated RewardPolicy
		if err := v.UnmarshalKey("rewards", &updated); err != nil {
			log.Printf("[reward-policy] reload failed: %v", err)
			return
		}
		if err := validateRewardPolicy(updated); err != nil {
			log.Printf("[reward-policy] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[reward-policy] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticRewardPolicyHolder returns a holder pinned to the given policy,
// with no file watching.
func NewStaticRewardPolicyHolder(policy RewardPolicy) *RewardPolicyHolder {
	holder := &RewardPolicyHolder{}
	holder.current.Store(policy)
	return holder
}

func (h *RewardPolicyHolder) Get() RewardPolicy {
	return h.current.Load().(RewardPolicy)
}

func validateRewardPolicy(policy RewardPolicy) error {
	if policy.SignupRewardAmount < 0 || policy.ListingRewardAmount < 0 || policy.ClickRewardAmount < 0 {
		return errors.New("rewards amounts cannot be negative")
	}
	if policy.DiscountedFee < 0 {
		return errors.New("rewards.discountedFee cannot be negative")
	}
	return nil
}
