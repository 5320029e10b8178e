//go:build windows

package workspace

func flushTTYInput() {}
