package main

import (
	"github.com/fentz26/beacon/internal/config"
	"github.com/spf13/pflag"
)

// The helpers below copy a flag into dst only when it was given on the
// command line, so file values survive flag defaults.

func stringFlag(fs *pflag.FlagSet, name string, dst *string) {
	if !fs.Changed(name) {
		return
	}
	if v, err := fs.GetString(name); err == nil {
		*dst = v
	}
}

func intFlag(fs *pflag.FlagSet, name string, dst *int) {
	if !fs.Changed(name) {
		return
	}
	if v, err := fs.GetInt(name); err == nil {
		*dst = v
	}
}

func boolFlag(fs *pflag.FlagSet, name string, dst *bool) {
	if !fs.Changed(name) {
		return
	}
	if v, err := fs.GetBool(name); err == nil {
		*dst = v
	}
}

func durationFlag(fs *pflag.FlagSet, name string, dst *config.Duration) {
	if !fs.Changed(name) {
		return
	}
	if v, err := fs.GetDuration(name); err == nil {
		*dst = config.Duration(v)
	}
}
