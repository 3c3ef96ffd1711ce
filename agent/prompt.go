package agent

import (
	"fmt"
	"strings"

	"github.com/shaketlabs/shaket/core"
	"github.com/shaketlabs/shaket/state"
)

// DefaultSystemPrompt returns the system instruction used by the LLM-backed
// agents when none is configured.
func DefaultSystemPrompt(role core.Role) string {
	switch role {
	case core.RoleSeller:
		return "You are a seller negotiating the sale of an item. Maximize the final " +
			"price while still closing a deal. Always respond by calling exactly one " +
			"of the provided tools."
	default:
		return "You are a buyer negotiating the purchase of an item. Minimize the " +
			"final price while still closing a deal. Always respond by calling " +
			"exactly one of the provided tools."
	}
}

// StatePrompt renders the current session state as a prompt for an LLM to
// decide the next action.
func StatePrompt(st state.SessionState) string {
	base := st.Base()
	item := base.Item()

	var sb strings.Builder
	fmt.Fprintf(&sb, "Session type: %s\n", base.Type())
	fmt.Fprintf(&sb, "Your role: %s\n", base.Role())
	fmt.Fprintf(&sb, "Item: %s", item.Name)
	if item.Description != "" {
		fmt.Fprintf(&sb, " (%s)", item.Description)
	}
	sb.WriteString("\n")

	switch v := st.(type) {
	case *state.NegotiationState:
		fmt.Fprintf(&sb, "Round: %d", v.CurrentRound())
		if max := v.MaxRounds(); max > 0 {
			fmt.Fprintf(&sb, " of %d", max)
		}
		sb.WriteString("\n")
		if sent := v.LastOfferSent(); sent != nil {
			fmt.Fprintf(&sb, "Your last offer: $%.2f\n", sent.Price)
		}
		if recv := v.LastOfferReceived(); recv != nil {
			fmt.Fprintf(&sb, "Their last offer: $%.2f (offer_id %s)", recv.Price, recv.OfferID)
			if recv.Message != "" {
				fmt.Fprintf(&sb, " with message: %q", recv.Message)
			}
			sb.WriteString("\n")
		} else {
			sb.WriteString("No offer received yet.\n")
		}
	case *state.ReverseAuctionState:
		fmt.Fprintf(&sb, "Round: %d of %d\n", v.CurrentRound(), v.TotalRounds())
		offers := v.OffersForRound(v.CurrentRound())
		fmt.Fprintf(&sb, "Offers this round: %d\n", len(offers))
	}

	for _, msg := range base.DiscoveryMessages() {
		if text, ok := msg.Data["message"].(string); ok && text != "" {
			fmt.Fprintf(&sb, "Counterparty said: %q\n", text)
		}
	}

	sb.WriteString("\nDecide what to do next by calling one of the tools.")
	return sb.String()
}
