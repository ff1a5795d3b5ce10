package config

import "errors"

var (
	// ErrConfigFileNotFound indicates an explicit --config path does not exist.
	ErrConfigFileNotFound = errors.New("config file not found")

	// ErrConfigFileRead indicates a config file exists but could not be read.
	ErrConfigFileRead = errors.New("cannot read config file")

	// ErrConfigInvalid indicates a config file or the merged config failed
	// to parse or validate.
	ErrConfigInvalid = errors.New("invalid config")

	// ErrDirEmpty indicates "dir" was explicitly set to an empty string.
	ErrDirEmpty = errors.New("dir cannot be empty")
)
