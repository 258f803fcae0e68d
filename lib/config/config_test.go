// config_test.go tests config files
package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fileToTest is a relative path to the configuration file to test (ie. rpcbalancer/cmd/conf.json)
var fileToTest = "../../cmd/conf.json" //nolint:gochecknoglobals // testdata

// TestConfig extracts config from a file and checks values loaded
func TestConfig(t *testing.T) {
	conf, err := ExtractConfiguration(fileToTest)
	require.NoError(t, err)

	assert.Equal(t, "3030", conf.Port)
	assert.Equal(t, "mainNet", conf.Network)
	assert.Equal(t, 3, conf.MaxRetries)

	require.Len(t, conf.Networks, 3)
	assert.Equal(t, "mainNet", conf.Networks[0].Name)
	assert.Equal(t, "sepolia", conf.Networks[1].Name)
	assert.Equal(t, "classic", conf.Networks[2].Name)

	main, ok := conf.FindNetwork("mainNet")
	require.True(t, ok)
	require.Len(t, main.Backends, 3)
	assert.Equal(t, KindEthcli, main.Backends[2].Kind)
	assert.Equal(t, 10.0, main.Backends[1].RateLimit)

	_, ok = conf.FindNetwork("ropsten")
	assert.False(t, ok)
}

func TestConfigEnv(t *testing.T) {
	t.Setenv("RPCB_PORT", "4040")
	t.Setenv("RPCB_MAXRETRIES", "5")
	t.Setenv("RPCB_NETWORKS", `[{"name":"devnet","backends":[{"id":"local","url":"http://localhost:8545"}]}]`)
	t.Setenv("RPCB_REQUIREDMETHODS", `["getBalance","sendRawTx"]`)

	conf, err := ExtractConfiguration("")
	require.NoError(t, err)

	assert.Equal(t, "4040", conf.Port)
	assert.Equal(t, 5, conf.MaxRetries)
	assert.Equal(t, QueueSizeDefault, conf.QueueSize)
	require.Len(t, conf.Networks, 1)
	assert.Equal(t, "local", conf.Networks[0].Backends[0].ID)
	assert.Equal(t, []string{"getBalance", "sendRawTx"}, conf.RequiredMethods)
}

func TestConfigErrors(t *testing.T) {
	_, err := ExtractConfiguration("does-not-exist.json")
	assert.Error(t, err)

	t.Setenv("RPCB_QUEUESIZE", "many")
	_, err = ExtractConfiguration("")
	assert.Error(t, err)
}

func TestBackendDefaults(t *testing.T) {
	cases := []struct {
		name string
		in   BackendConfig
		exp  BackendConfig
	}{
		{"empty", BackendConfig{ID: "a"}, BackendConfig{ID: "a", Kind: KindRPC, MaxWorkers: MaxWorkersDefault,
			TimeoutMs: TimeoutMsDefault, FailureThreshold: FailureThresholdDefault}},
		{"set", BackendConfig{ID: "b", Kind: KindEthcli, MaxWorkers: 1, TimeoutMs: 50, FailureThreshold: 7},
			BackendConfig{ID: "b", Kind: KindEthcli, MaxWorkers: 1, TimeoutMs: 50, FailureThreshold: 7}},
	}

	for _, c := range cases {
		assert.Equal(t, c.exp, c.in.WithDefaults(), c.name)
	}
}
