package app

import (
	"fmt"
	"net/url"
	"time"

	"chatrelay/pkg/config"
)

// validateConfig performs quick, fail-fast checks on the effective
// configuration before starting long-running services.
func validateConfig(eff config.EffectiveConfigResult) error {
	if eff.BackendURL == "" {
		return fmt.Errorf("backend URL is empty: set --backend flag, CHATRELAY_BACKEND_URL env, or backend.base_url in config")
	}
	u, err := url.Parse(eff.BackendURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("backend URL %q is not an absolute URL", eff.BackendURL)
	}

	if eff.Config.Journal.Enabled && eff.Journal == "" {
		return fmt.Errorf("journal enabled but no path: set --journal flag, CHATRELAY_JOURNAL_PATH env, or journal.path in config")
	}

	ret := eff.Config.Journal.Retention
	if ret.Enabled {
		if !eff.Config.Journal.Enabled {
			return fmt.Errorf("retention enabled but journal disabled")
		}
		if ret.Period == "" {
			return fmt.Errorf("retention enabled but journal.retention.period is empty")
		}
		if _, err := time.ParseDuration(ret.Period); err != nil {
			return fmt.Errorf("invalid journal.retention.period %q: %w", ret.Period, err)
		}
	}
	return nil
}
