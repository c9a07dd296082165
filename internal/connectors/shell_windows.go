//go:build windows

package connectors

// Built-ins such as dir and echo only exist inside cmd.exe.
const shellPrefix = "cmd.exe /c "
