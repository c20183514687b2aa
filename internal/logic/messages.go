package logic

// phaseMessages are shown while a transition into the phase is in progress.
var phaseMessages = map[Phase][]string{
	PhasePristine: nil,
	PhaseGlitching: {
		"Something is off...",
		"Still going?",
		"The scroll has you.",
	},
	PhaseUnstable: {
		"You can't stop now.",
		"Just a little more...",
		"Hypnotic, isn't it?",
	},
	PhaseChaotic: {
		"STOP. Look at yourself.",
		"How long has it been?",
		"The chaos is calling.",
	},
	PhaseBroken: {
		"You broke everything.",
		"This is what endless scrolling does.",
		"Welcome to the void.",
	},
}

// Messages returns the transition messages for a phase.
func Messages(p Phase) []string {
	return phaseMessages[p]
}
