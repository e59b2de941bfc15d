//
//  Copyright © CWMS Data Project. All rights reserved.
//

package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaults(t *testing.T) {
	ResetConfig()

	assert.Equal(t, ":3001", VConfig.GetString(ProxyListen))
	assert.Equal(t, "http://localhost:8181", VConfig.GetString(OpaURL))
	assert.Equal(t, "/v1/data/cwms/authorize", VConfig.GetString(OpaPolicyPath))
	assert.False(t, VConfig.GetBool(OpaBypass))
	assert.Equal(t, 300*time.Second, VConfig.GetDuration(DecisionCacheTTL))
	assert.Equal(t, time.Minute, VConfig.GetDuration(DecisionCacheSweep))
	assert.Equal(t, 30*time.Minute, VConfig.GetDuration(IdentityCacheTTL))
	assert.Equal(t, `["/cwms-data/timeseries","/cwms-data/offices"]`, VConfig.GetString(WhitelistEndpoints))
}

func TestEnvOverride(t *testing.T) {
	_ = os.Setenv("CWA_OPA_BYPASS", "true")
	_ = os.Setenv("CWA_OPA_URL", "http://opa.internal:8181")
	defer func() {
		_ = os.Unsetenv("CWA_OPA_BYPASS")
		_ = os.Unsetenv("CWA_OPA_URL")
	}()

	ResetConfig()

	assert.True(t, VConfig.GetBool(OpaBypass))
	assert.Equal(t, "http://opa.internal:8181", VConfig.GetString(OpaURL))
}
