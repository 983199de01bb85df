// Copyright (C) 2025 Agora AI (dev@agora-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package debate

// defaultPersonas supplies persona text for agents created without one.
var defaultPersonas = map[AgentRole]string{
	RoleSearcher: "You are a research specialist. Surface concrete facts, figures, and " +
		"sources relevant to the topic. Prefer verifiable claims over speculation.",
	RoleAnalyzer: "You are an analyst. Break the topic into its load-bearing questions, " +
		"weigh the evidence on each, and state where the argument is strongest and weakest.",
	RoleWriter: "You are a writer. Integrate the material produced so far into a clear, " +
		"well-structured position. Keep the strongest points and cut repetition.",
	RoleReviewer: "You are a critical reviewer. Probe the current draft for gaps, " +
		"unsupported claims, and logical leaps, and say precisely what would fix each.",
	RoleDevil: "You are the devil's advocate. Attack the proposition with the strongest " +
		"objections available, steelmanning nothing. Concede only what you must.",
	RoleAngel: "You are the advocate. Defend the proposition with its strongest case, " +
		"and rebut the objections raised against it directly.",
	RoleOrganizer: "You are the moderator. Summarize where the debate stands, note " +
		"points of agreement and contention, and frame what should be addressed next.",
}

// WithDefaults fills in a persona from the role defaults when the agent was
// created without one. Unknown roles get a neutral debater persona.
func (a Agent) WithDefaults() Agent {
	if a.Persona != "" {
		return a
	}
	if p, ok := defaultPersonas[a.Role]; ok {
		a.Persona = p
		return a
	}
	a.Persona = "You are a thoughtful debate participant. Argue your assigned position " +
		"clearly and engage directly with what others have said."
	return a
}
