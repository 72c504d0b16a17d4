package routing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chatroute/internal/provider"
	"chatroute/internal/routestate"
)

// CommandKind identifies a parsed routing command.
type CommandKind string

const (
	CmdProfile      CommandKind = "profile"
	CmdModel        CommandKind = "model"
	CmdRoutePrimary CommandKind = "route-primary"
	CmdRouteShow    CommandKind = "route-show"
	CmdRouteReset   CommandKind = "route-reset"
	// CmdUsage is a recognised command word with bad arguments.
	CmdUsage CommandKind = "usage"
)

// Command is a parsed in-chat command.
type Command struct {
	Kind      CommandKind
	ProfileID string
	ModelID   string
	Usage     string
}

// String returns the canonical text form.
func (c Command) String() string {
	switch c.Kind {
	case CmdProfile:
		return "/profile " + c.ProfileID
	case CmdModel:
		return "/model " + c.ModelID
	case CmdRoutePrimary:
		return fmt.Sprintf("/route primary %s %s", c.ProfileID, c.ModelID)
	case CmdRouteShow:
		return "/route show"
	case CmdRouteReset:
		return "/route reset"
	default:
		return c.Usage
	}
}

const (
	usageProfile = "usage: /profile <profileId>"
	usageModel   = "usage: /model <modelId>"
	usageRoute   = "usage: /route primary <profileId> <modelId> | /route show | /route reset"
)

// ParseCommand recognises a routing command in the latest user message.
// Slash words other than profile, model and route are not commands.
func ParseCommand(text string) (Command, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return Command{}, false
	}
	parts := strings.Fields(text[1:])
	if len(parts) == 0 {
		return Command{}, false
	}

	args := parts[1:]
	switch strings.ToLower(parts[0]) {
	case "profile":
		if len(args) != 1 {
			return Command{Kind: CmdUsage, Usage: usageProfile}, true
		}
		return Command{Kind: CmdProfile, ProfileID: args[0]}, true

	case "model":
		if len(args) != 1 {
			return Command{Kind: CmdUsage, Usage: usageModel}, true
		}
		return Command{Kind: CmdModel, ModelID: args[0]}, true

	case "route":
		if len(args) == 0 {
			return Command{Kind: CmdUsage, Usage: usageRoute}, true
		}
		switch strings.ToLower(args[0]) {
		case "primary":
			if len(args) != 3 {
				return Command{Kind: CmdUsage, Usage: usageRoute}, true
			}
			return Command{Kind: CmdRoutePrimary, ProfileID: args[1], ModelID: args[2]}, true
		case "show":
			return Command{Kind: CmdRouteShow}, true
		case "reset":
			return Command{Kind: CmdRouteReset}, true
		default:
			return Command{Kind: CmdUsage, Usage: usageRoute}, true
		}
	}
	return Command{}, false
}

// ErrNoConversation is returned by commands that need a conversation id.
var ErrNoConversation = errors.New("routing: command requires a conversation id")

// PolicyWriter persists a new primary route in the global policy.
type PolicyWriter interface {
	SetPrimaryRoute(ctx context.Context, target provider.Target) error
}

// Dispatcher applies commands to the route stores.
type Dispatcher struct {
	Routes   routestate.Store
	Policy   PolicyWriter
	Profiles provider.ProfileSource
}

// Dispatch executes cmd and returns a short acknowledgement. Validation
// problems come back as an acknowledgement, not an error; errors are
// reserved for store failures.
func (d *Dispatcher) Dispatch(ctx context.Context, conversationID string, cmd Command, policy Policy) (string, error) {
	switch cmd.Kind {
	case CmdUsage:
		return cmd.Usage, nil

	case CmdProfile:
		prof, msg := d.usableProfile(cmd.ProfileID)
		if msg != "" {
			return msg, nil
		}
		if conversationID == "" {
			return "", ErrNoConversation
		}
		st := routestate.State{ActiveProfileID: prof.ID}
		if err := d.Routes.Upsert(ctx, conversationID, st); err != nil {
			return "", err
		}
		model := prof.DefaultModel
		if model == "" {
			model = "(profile default)"
		}
		return fmt.Sprintf("Switched this conversation to profile %s, model %s.", prof.ID, model), nil

	case CmdModel:
		if conversationID == "" {
			return "", ErrNoConversation
		}
		state, err := routestate.Lookup(ctx, d.Routes, conversationID)
		if err != nil {
			return "", err
		}
		current := Primary(policy, state, nil)
		if current.ProfileID == "" {
			return "No profile is configured; use /profile <profileId> first.", nil
		}
		prof, msg := d.usableProfile(current.ProfileID)
		if msg != "" {
			return msg, nil
		}
		if !prof.AllowsModel(cmd.ModelID) {
			return fmt.Sprintf("Model %s is not allowed for profile %s.", cmd.ModelID, prof.ID), nil
		}
		st := routestate.State{ActiveProfileID: prof.ID, ActiveModelID: cmd.ModelID}
		if err := d.Routes.Upsert(ctx, conversationID, st); err != nil {
			return "", err
		}
		return fmt.Sprintf("Switched this conversation to model %s on profile %s.", cmd.ModelID, prof.ID), nil

	case CmdRoutePrimary:
		prof, msg := d.usableProfile(cmd.ProfileID)
		if msg != "" {
			return msg, nil
		}
		if !prof.AllowsModel(cmd.ModelID) {
			return fmt.Sprintf("Model %s is not allowed for profile %s.", cmd.ModelID, prof.ID), nil
		}
		target := provider.Target{ProfileID: prof.ID, ModelID: cmd.ModelID}
		if err := d.Policy.SetPrimaryRoute(ctx, target); err != nil {
			return "", err
		}
		return fmt.Sprintf("Primary route set to %s.", target), nil

	case CmdRouteShow:
		state, err := routestate.Lookup(ctx, d.Routes, conversationID)
		if err != nil {
			return "", err
		}
		plan := Plan(policy, state, nil, false)
		var sb strings.Builder
		sb.WriteString("Route plan:")
		for i, t := range plan {
			fmt.Fprintf(&sb, "\n%d. %s", i+1, t)
		}
		if state != nil {
			fmt.Fprintf(&sb, "\nConversation override: %s", state.Target())
		}
		return sb.String(), nil

	case CmdRouteReset:
		if conversationID == "" {
			return "", ErrNoConversation
		}
		err := d.Routes.Delete(ctx, conversationID)
		if err != nil && !errors.Is(err, routestate.ErrNotFound) {
			return "", err
		}
		return "Conversation route reset to the global priority.", nil
	}
	return "", fmt.Errorf("routing: unknown command %q", cmd.Kind)
}

func (d *Dispatcher) usableProfile(id string) (provider.Profile, string) {
	prof, ok := d.Profiles.GetProfileByID(id)
	if !ok {
		return provider.Profile{}, fmt.Sprintf("Profile %s does not exist.", id)
	}
	if prof.Disabled {
		return provider.Profile{}, fmt.Sprintf("Profile %s is disabled.", id)
	}
	return prof, ""
}
