package engine

// StrategyProfile is a named set of ping-pong parameters.
type StrategyProfile struct {
	Name                      string
	Description               string
	QuoteSize                 int64
	TickOffset                int64
	MaxInventory              int64
	CancelThresholdTicks      int64
	CooldownBetweenRequotesUs int64
}

var (
	ProfileAggressive = StrategyProfile{
		Name:                      "aggressive",
		Description:               "Tight spreads, high frequency, large positions. Higher risk/reward.",
		QuoteSize:                 5,
		TickOffset:                1,
		MaxInventory:              20,
		CancelThresholdTicks:      1,
		CooldownBetweenRequotesUs: 1_000,
	}

	ProfileBalanced = StrategyProfile{
		Name:                      "balanced",
		Description:               "Moderate parameters. Good starting point for most conditions.",
		QuoteSize:                 3,
		TickOffset:                2,
		MaxInventory:              10,
		CancelThresholdTicks:      2,
		CooldownBetweenRequotesUs: 5_000,
	}

	ProfilePassive = StrategyProfile{
		Name:                      "passive",
		Description:               "Wider spreads, lower frequency, smaller positions. Lower risk.",
		QuoteSize:                 1,
		TickOffset:                3,
		MaxInventory:              5,
		CancelThresholdTicks:      3,
		CooldownBetweenRequotesUs: 10_000,
	}
)

// Profiles lists the built-in strategy profiles.
func Profiles() []StrategyProfile {
	return []StrategyProfile{ProfileAggressive, ProfileBalanced, ProfilePassive}
}

// ProfileByName looks up a built-in profile.
func ProfileByName(name string) (StrategyProfile, bool) {
	for _, p := range Profiles() {
		if p.Name == name {
			return p, true
		}
	}
	return StrategyProfile{}, false
}

// Apply copies the profile's parameters onto a simulation config.
func (p StrategyProfile) Apply(config SimulationConfig) SimulationConfig {
	config.QuoteSize = p.QuoteSize
	config.TickOffset = p.TickOffset
	config.MaxInventory = p.MaxInventory
	config.CancelThresholdTicks = p.CancelThresholdTicks
	config.CooldownBetweenRequotesUs = p.CooldownBetweenRequotesUs
	return config
}
