// Package config loads and validates the identity-vault configuration.
package config
