package stage

import (
	"fmt"
	"os/exec"
	"path"
)

// Prerequisite names a cached artifact a stage depends on. Name is matched
// with path.Match so handlers can require "transcription_*.json" without
// knowing which model variant produced it.
type Prerequisite struct {
	Stage string
	Name  string
}

// String renders the prerequisite as "stage/name" for error messages.
func (p Prerequisite) String() string {
	return p.Stage + "/" + p.Name
}

// Matches reports whether an artifact name satisfies the prerequisite.
func (p Prerequisite) Matches(name string) bool {
	ok, err := path.Match(p.Name, name)
	return err == nil && ok
}

// BinaryHealth reports stage readiness from whether the stage's external
// binary resolves on PATH.
func BinaryHealth(stageName, binary string) Health {
	if binary == "" {
		return Unhealthy(stageName, "no binary configured")
	}
	if _, err := exec.LookPath(binary); err != nil {
		return Unhealthy(stageName, fmt.Sprintf("%s not found on PATH", binary))
	}
	return Healthy(stageName)
}
