package secureconfirm

import "github.com/tatchi-labs/secureconfirm/provider"

// ClientContext carries the runtime signals the safety rules key off,
// information the orchestrator cannot derive from the request itself.
type ClientContext struct {
	IsIOSOrSafariMobile bool
	HasUserActivation   bool
	IsWalletIframe      bool
	IsCrossOrigin       bool
}

// defaultConfirmationConfig is used when neither a request override nor a
// user preference supplies one.
func defaultConfirmationConfig() provider.ConfirmationConfig {
	return provider.ConfirmationConfig{
		UIMode:   provider.UIModeModal,
		Behavior: provider.BehaviorRequireClick,
		Theme:    provider.ThemeDark,
	}
}

// mergeConfirmationConfig computes the effective UI configuration for a
// request, in precedence order: per-request override, then user
// preferences, then runtime safety rules, then built-in defaults.
func mergeConfirmationConfig(reqType RequestType, override, userPrefs *provider.ConfirmationConfig, client ClientContext) provider.ConfirmationConfig {
	cfg := defaultConfirmationConfig()
	if userPrefs != nil {
		applyNonZero(&cfg, *userPrefs)
	}
	if override != nil {
		applyNonZero(&cfg, *override)
	}

	if client.IsIOSOrSafariMobile && !client.HasUserActivation {
		if cfg.UIMode == provider.UIModeSkip {
			cfg.UIMode = provider.UIModeDrawer
		}
		if cfg.Behavior == provider.BehaviorAutoProceed {
			cfg.Behavior = provider.BehaviorRequireClick
		}
	}

	if client.IsWalletIframe && client.IsCrossOrigin {
		explicitOptOut := override != nil &&
			(override.UIMode == provider.UIModeSkip || override.Behavior == provider.BehaviorAutoProceed)
		if !explicitOptOut {
			cfg.UIMode = provider.UIModeModal
			cfg.Behavior = provider.BehaviorRequireClick
		}
	}

	if reqType == RequestDecryptPrivateKey {
		cfg.UIMode = provider.UIModeSkip
	}

	return cfg
}

// applyNonZero overlays the non-zero-valued fields of patch onto cfg.
func applyNonZero(cfg *provider.ConfirmationConfig, patch provider.ConfirmationConfig) {
	if patch.UIMode != "" {
		cfg.UIMode = patch.UIMode
	}
	if patch.Behavior != "" {
		cfg.Behavior = patch.Behavior
	}
	if patch.AutoProceedDelay != 0 {
		cfg.AutoProceedDelay = patch.AutoProceedDelay
	}
	if patch.Theme != "" {
		cfg.Theme = patch.Theme
	}
}
