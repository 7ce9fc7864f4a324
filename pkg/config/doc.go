/*
Package config loads the repository's flat configuration struct:
filesystem root, remote peer URI, S3 bucket names, cache/bag
defaults, and debug verbosity. Values load from an optional YAML file via
gopkg.in/yaml.v3, then environment variables, then command-line flags
(applied by cmd/vaultd), in that increasing order of precedence.
*/
package config
