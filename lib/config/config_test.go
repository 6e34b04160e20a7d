// config_test.go tests config files
package config

import (
	"testing"
)

// fileToTest is a relative path to the configuration file to test (ie. core/cmd/core/conf.json)
var fileToTest string = "../../cmd/core/conf.json"

// TestConfig extracts config from a file and checks values loaded
func TestConfig(t *testing.T) {
	// extract configuration
	conf, err := ExtractConfiguration(fileToTest)
	if err != nil {
		t.Errorf("Error reading config file:%e\n", err)
	} else {
		if conf.ClearingURL != "wss://clearnode.example/ws" {
			t.Errorf("config clearingUrl is not the expected %s", conf.ClearingURL)
		}

		if len(conf.Custody) != 2 {
			t.Errorf("custody addresses do not match the expected %v", conf.Custody)
		} else if conf.Custody[0].ChainID != 8453 || conf.Custody[1].ChainID != 1 {
			t.Errorf("custody addresses do not match the expected %v", conf.Custody)
		}
	}
}

// TestConfigEnvOverride checks that OS ENV variables override file/defaults.
func TestConfigEnvOverride(t *testing.T) {
	t.Setenv("CORE_CLEARINGURL", "wss://override.example/ws")

	conf, err := ExtractConfiguration("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if conf.ClearingURL != "wss://override.example/ws" {
		t.Errorf("expected env override to take effect, got %s", conf.ClearingURL)
	}
}
