package session

// Preferences is a fixed record of five independent enumerations steering the
// reasoning process. Each has a documented default; unknown or empty values
// are normalized to the default on read rather than rejected.
type Preferences struct {
	// RiskTolerance: conservative, balanced (default), aggressive.
	RiskTolerance string `json:"risk_tolerance"`
	// SpeedQuality: speed, balanced (default), quality.
	SpeedQuality string `json:"speed_quality"`
	// ScopeFlexibility: strict, flexible (default), open.
	ScopeFlexibility string `json:"scope_flexibility"`
	// DetailLevel: minimal, standard (default), comprehensive.
	DetailLevel string `json:"detail_level"`
	// AutonomyLevel: guided, semi_autonomous (default), autonomous.
	AutonomyLevel string `json:"autonomy_level"`
}

// DefaultPreferences returns the documented defaults.
func DefaultPreferences() Preferences {
	return Preferences{
		RiskTolerance:    "balanced",
		SpeedQuality:     "balanced",
		ScopeFlexibility: "flexible",
		DetailLevel:      "standard",
		AutonomyLevel:    "semi_autonomous",
	}
}

var preferenceValues = map[string][]string{
	"risk_tolerance":    {"conservative", "balanced", "aggressive"},
	"speed_quality":     {"speed", "balanced", "quality"},
	"scope_flexibility": {"strict", "flexible", "open"},
	"detail_level":      {"minimal", "standard", "comprehensive"},
	"autonomy_level":    {"guided", "semi_autonomous", "autonomous"},
}

// Normalized returns a copy with every field validated against its allowed
// values; unknown or empty fields fall back to the default.
func (p Preferences) Normalized() Preferences {
	d := DefaultPreferences()
	return Preferences{
		RiskTolerance:    pick("risk_tolerance", p.RiskTolerance, d.RiskTolerance),
		SpeedQuality:     pick("speed_quality", p.SpeedQuality, d.SpeedQuality),
		ScopeFlexibility: pick("scope_flexibility", p.ScopeFlexibility, d.ScopeFlexibility),
		DetailLevel:      pick("detail_level", p.DetailLevel, d.DetailLevel),
		AutonomyLevel:    pick("autonomy_level", p.AutonomyLevel, d.AutonomyLevel),
	}
}

func pick(field, value, fallback string) string {
	for _, v := range preferenceValues[field] {
		if value == v {
			return value
		}
	}
	return fallback
}
