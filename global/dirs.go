package global

import (
	"os"
	"path/filepath"
)

var (
	dataDir = filepath.Join(os.Getenv("HOME"), ".local", "share", "race-manager")
)

// DataDir returns the directory file-based stores persist namespaces into,
// either configured or defaulted to $HOME/.local/share/race-manager.
func DataDir() string {
	if Conf.Directory != "" {
		return Conf.Directory
	}

	// guarantee that even if $HOME is "/root", "/home/someone", or nothing, it catches
	// that it should be an absolute path to avoid interpretations.
	if !filepath.IsAbs(dataDir) {
		panic("data directory is not absolute")
	}

	return dataDir
}

// Prefix returns the configured namespace prefix, or DefaultPrefix.
func Prefix() string {
	if Conf.Store.Prefix != "" {
		return Conf.Store.Prefix
	}
	return DefaultPrefix
}
