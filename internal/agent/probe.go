package agent

import (
	"os/exec"
	"strings"

	"github.com/vibemate/vibemate/internal/config"
)

// binaryVersion runs "<binary> --version" and returns the first line of its
// output, or "" when the binary is missing or errors.
func binaryVersion(binary string) string {
	out, err := exec.Command(binary, "--version").Output()
	if err != nil {
		return ""
	}
	version := strings.TrimSpace(string(out))
	if idx := strings.IndexByte(version, '\n'); idx >= 0 {
		version = strings.TrimSpace(version[:idx])
	}
	return version
}

func binaryInstalled(binary string) bool {
	return exec.Command(binary, "--version").Run() == nil
}

// Probe checks one agent's local installation.
func Probe(t config.AgentType) config.CodingAgent {
	m := metadataByType[t]
	probed := config.CodingAgent{
		AgentType: t,
		Name:      m.Name,
	}
	if m.Binary == "" {
		return probed
	}
	probed.Installed = binaryInstalled(m.Binary)
	if probed.Installed {
		probed.Version = binaryVersion(m.Binary)
	}
	return probed
}

// Discover probes every supported agent and returns those installed.
func Discover() []config.CodingAgent {
	var installed []config.CodingAgent
	for _, t := range config.AllAgentTypes() {
		if a := Probe(t); a.Installed {
			installed = append(installed, a)
		}
	}
	return installed
}
