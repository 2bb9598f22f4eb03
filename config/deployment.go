// Package config holds the typed deployment table and process-level settings
// resolved once at startup.
package config

import (
	"fmt"

	"github.com/ruteri/iot-device-provisioning/interfaces"
)

const (
	// DefaultPolicyName is attached when neither an environment nor an override is given.
	DefaultPolicyName = "Soliseco-P1-Policy"
	// DefaultBucketName is the credentials bucket.
	DefaultBucketName = "soliseco-p1-credentials"
	// DefaultRegion is the AWS region of the registry and the bucket.
	DefaultRegion = "eu-central-1"
)

// EnvironmentConfig is what differs between deployment environments.
type EnvironmentConfig struct {
	PolicyName      string
	RegistrationURL string
}

// Deployment maps each environment to its settings.
type Deployment struct {
	Dev     EnvironmentConfig
	Staging EnvironmentConfig
	Prod    EnvironmentConfig
}

// DefaultDeployment returns the built-in table.
func DefaultDeployment() Deployment {
	return Deployment{
		Dev: EnvironmentConfig{
			PolicyName:      "Soliseco-P1-Policy-Dev",
			RegistrationURL: "https://dev.api.soliseco.com/api/devices/provision/",
		},
		Staging: EnvironmentConfig{
			PolicyName:      "Soliseco-P1-Policy-Staging",
			RegistrationURL: "https://staging.api.soliseco.com/api/devices/provision/",
		},
		Prod: EnvironmentConfig{
			PolicyName:      "Soliseco-P1-Policy-Prod",
			RegistrationURL: "https://api.soliseco.com/api/devices/provision/",
		},
	}
}

// For returns the settings of env. EnvNone has no settings and is an error.
func (d Deployment) For(env interfaces.Environment) (EnvironmentConfig, error) {
	switch env {
	case interfaces.EnvDev:
		return d.Dev, nil
	case interfaces.EnvStaging:
		return d.Staging, nil
	case interfaces.EnvProd:
		return d.Prod, nil
	default:
		return EnvironmentConfig{}, fmt.Errorf("no deployment settings for environment %q", env)
	}
}

// ResolvePolicy picks the policy for a run: an explicit override first, then the
// environment's policy, then DefaultPolicyName.
func (d Deployment) ResolvePolicy(env interfaces.Environment, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if env == interfaces.EnvNone {
		return DefaultPolicyName, nil
	}
	cfg, err := d.For(env)
	if err != nil {
		return "", err
	}
	if cfg.PolicyName == "" {
		return "", fmt.Errorf("no policy configured for environment %q", env)
	}
	return cfg.PolicyName, nil
}

// ResolveRegistrationURL picks the registration API URL: an explicit override first,
// then the environment's URL.
func (d Deployment) ResolveRegistrationURL(env interfaces.Environment, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if env == interfaces.EnvNone {
		return "", fmt.Errorf("registration url requires --env or an explicit url")
	}
	cfg, err := d.For(env)
	if err != nil {
		return "", err
	}
	if cfg.RegistrationURL == "" {
		return "", fmt.Errorf("no registration url configured for environment %q", env)
	}
	return cfg.RegistrationURL, nil
}
