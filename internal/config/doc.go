// Package config handles YAML configuration loading for the botlink commands.
//
// Configuration files support ${VAR} syntax for environment variable
// interpolation and Go-style duration strings such as "3s" or "1m30s".
package config
