package domain

import "strings"

// Role identifies who produced an event or lifecycle change.
type Role string

// Role values. Requester and responder are the two principals; agent and system never
// authorize from an actor id.
const (
	RoleRequester Role = "requester"
	RoleResponder Role = "responder"
	RoleAgent     Role = "agent"
	RoleSystem    Role = "system"
)

// SystemActorID attributes engine-generated events and transitions.
const SystemActorID = "system"

// Actor is an authorized caller: an opaque id resolved once to a role.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// AgentActor builds the actor used for events proposed by the automated agent.
func AgentActor(id string) Actor {
	id = strings.TrimSpace(id)
	if id == "" {
		id = string(RoleAgent)
	}
	return Actor{ID: id, Role: RoleAgent}
}

// SystemActor builds the actor used for engine notices and passive transitions.
func SystemActor() Actor {
	return Actor{ID: SystemActorID, Role: RoleSystem}
}

// IsValid reports whether the role is one of the closed set.
func (r Role) IsValid() bool {
	switch r {
	case RoleRequester, RoleResponder, RoleAgent, RoleSystem:
		return true
	default:
		return false
	}
}

// side groups roles into the two negotiating parties; the agent speaks for the responder.
type side int

const (
	sideNone side = iota
	sideRequester
	sideResponder
)

// side returns the negotiating party for the role.
func (r Role) side() side {
	switch r {
	case RoleRequester:
		return sideRequester
	case RoleResponder, RoleAgent:
		return sideResponder
	default:
		return sideNone
	}
}
