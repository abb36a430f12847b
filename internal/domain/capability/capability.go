// Package capability defines the static descriptors for registered actions:
// what an action can do, how risky it is, and the parameter schema it accepts.
package capability

// RiskLevel grades how dangerous an action is.
type RiskLevel string

const (
	RiskNone     RiskLevel = "none"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Rank returns the ordering of a risk level for comparisons (none < critical).
func (r RiskLevel) Rank() int {
	switch r {
	case RiskNone:
		return 0
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	case RiskCritical:
		return 4
	}
	return 2
}

// BlastRadius is the scope of systems an action can affect.
type BlastRadius string

const (
	BlastLocal    BlastRadius = "local"
	BlastDevice   BlastRadius = "device"
	BlastNetwork  BlastRadius = "network"
	BlastExternal BlastRadius = "external"
)

// ToolCapability is the immutable descriptor an executor registers per action.
// It is created at process start and looked up by name; never mutated.
type ToolCapability struct {
	Name                string      `json:"name" yaml:"name"`
	Description         string      `json:"description" yaml:"description"`
	Schema              Schema      `json:"schema" yaml:"schema"`
	RiskLevel           RiskLevel   `json:"risk_level" yaml:"risk_level"`
	Reversible          bool        `json:"reversible" yaml:"reversible"`
	ExternalImpact      bool        `json:"external_impact" yaml:"external_impact"`
	BlastRadius         BlastRadius `json:"blast_radius" yaml:"blast_radius"`
	RequiredPermissions []string    `json:"required_permissions,omitempty" yaml:"required_permissions,omitempty"`
	SupportsSimulation  bool        `json:"supports_simulation" yaml:"supports_simulation"`
}
