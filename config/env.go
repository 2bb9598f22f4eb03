package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/hashicorp/go-envparse"
)

// ProvisioningSecretEnv holds the shared secret of the registration API.
const ProvisioningSecretEnv = "PROVISIONING_SECRET"

// DefaultEnvFile is read at startup when present.
const DefaultEnvFile = ".env"

// LoadEnvFile reads KEY=value pairs from path into the process environment.
// Variables that are already set win over the file. A missing file is not an error.
// It returns the keys it set.
func LoadEnvFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not open env file: %w", err)
	}
	defer f.Close()

	values, err := envparse.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("could not parse env file %s: %w", path, err)
	}

	var set []string
	for key, value := range values {
		if _, ok := os.LookupEnv(key); ok {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return set, fmt.Errorf("could not set %s: %w", key, err)
		}
		set = append(set, key)
	}
	return set, nil
}

// ProvisioningSecret returns the registration API secret from the environment.
func ProvisioningSecret() (string, error) {
	secret, ok := os.LookupEnv(ProvisioningSecretEnv)
	if !ok || secret == "" {
		return "", fmt.Errorf("%s is not set", ProvisioningSecretEnv)
	}
	return secret, nil
}
