//go:build !windows

package connectors

const shellPrefix = ""
