package handlers

import (
	"encoding/json"
	"net/http"
	"sync"
)

// VersionInfo describes the running build.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

var (
	versionMu   sync.RWMutex
	versionInfo = VersionInfo{Version: "dev", Commit: "HEAD", BuildDate: "unknown"}
)

// SetVersion records build metadata for the /version endpoint.
func SetVersion(version, commit, buildDate string) {
	versionMu.Lock()
	versionInfo = VersionInfo{Version: version, Commit: commit, BuildDate: buildDate}
	versionMu.Unlock()
}

// Version reports build metadata.
func Version(w http.ResponseWriter, _ *http.Request) {
	versionMu.RLock()
	info := versionInfo
	versionMu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(info)
}
