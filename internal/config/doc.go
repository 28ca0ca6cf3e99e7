// Package config provides configuration loading and validation for the risk dashboard
// service. Settings come from a YAML file; provider credentials may be overridden from
// the environment and are validated at startup.
package config
