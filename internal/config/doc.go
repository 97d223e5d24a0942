// Package config defines the project packaging configuration (polypack.yaml)
// and the launcher's environment settings.
//
// Load, Save and Validate handle the YAML file; LoadLauncherEnv reads the
// POLYPACK_* variables honoured by self-extracting artifacts.
package config
