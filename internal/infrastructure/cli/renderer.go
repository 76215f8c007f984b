package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/doeshing/merchat/internal/domain"
)

// RenderTurn prints a turn response in a plain, ASCII-only format. When the
// reply already streamed, only diagnostics are printed.
func RenderTurn(out io.Writer, resp domain.TurnResponse, streamed, debug bool) {
	if !streamed && resp.Reply != "" {
		fmt.Fprintln(out, resp.Reply)
	}
	if resp.Degraded {
		fmt.Fprintln(out, "(degraded reply)")
	}
	if !debug {
		return
	}
	fmt.Fprintf(out, "-- session %s | mode %s\n", resp.SessionID, resp.Mode)
	if len(resp.ActionsInvoked) > 0 {
		fmt.Fprintf(out, "-- actions: %s\n", strings.Join(resp.ActionsInvoked, ", "))
	}
	if resp.LastError != "" {
		fmt.Fprintf(out, "-- last error: %s\n", resp.LastError)
	}
}

// RenderDoctorReport prints one line per diagnostic check.
func RenderDoctorReport(out io.Writer, report domain.HealthReport) {
	for _, check := range report.Checks {
		fmt.Fprintf(out, "[%s] %s - %s\n", strings.ToUpper(string(check.Status)), check.Name, check.Details)
	}
}

// RenderState prints a session snapshot: mode, cart, security posture, and
// recent transcript.
func RenderState(out io.Writer, state domain.ConversationState) {
	fmt.Fprintf(out, "session: %s\n", state.SessionID)
	fmt.Fprintf(out, "mode: %s\n", state.Mode)
	fmt.Fprintf(out, "threat level: %s\n", state.Security.ThreatLevel)
	if state.LastAction != "" {
		fmt.Fprintf(out, "last action: %s\n", state.LastAction)
	}
	if state.LastError != "" {
		fmt.Fprintf(out, "last error: %s\n", state.LastError)
	}

	fmt.Fprintf(out, "\ncart (%d item(s)):\n", len(state.Cart.Items))
	for _, item := range state.Cart.Items {
		fmt.Fprintf(out, "  %s x%d @ %s\n", item.ProductID, item.Quantity, formatMoney(item.UnitPrice, state.Cart.Currency))
	}
	if len(state.Cart.Items) > 0 {
		fmt.Fprintf(out, "  total: %s\n", formatMoney(state.Cart.Total(), state.Cart.Currency))
	}

	if len(state.Performance.PerNodeDurationsMs) > 0 {
		fmt.Fprintln(out, "\nlast turn timings:")
		nodes := make([]string, 0, len(state.Performance.PerNodeDurationsMs))
		for node := range state.Performance.PerNodeDurationsMs {
			nodes = append(nodes, node)
		}
		sort.Strings(nodes)
		for _, node := range nodes {
			fmt.Fprintf(out, "  %s: %dms\n", node, state.Performance.PerNodeDurationsMs[node])
		}
	}

	fmt.Fprintf(out, "\ntranscript (%d message(s)):\n", len(state.Messages))
	for _, msg := range state.Messages {
		content := msg.Content
		if content == "" && len(msg.ToolCalls) > 0 {
			names := make([]string, 0, len(msg.ToolCalls))
			for _, call := range msg.ToolCalls {
				names = append(names, call.Name)
			}
			content = "(tool calls: " + strings.Join(names, ", ") + ")"
		}
		fmt.Fprintf(out, "  [%s] %s\n", msg.Role, content)
	}
}

// RenderActions is exported for the golden test; renderActions is the
// command-facing alias.
func RenderActions(out io.Writer, defs []domain.ActionDefinition) {
	for _, def := range defs {
		modes := "all modes"
		if len(def.Modes) > 0 {
			parts := make([]string, len(def.Modes))
			for i, mode := range def.Modes {
				parts[i] = string(mode)
			}
			modes = strings.Join(parts, ", ")
		}
		ttl := "not cached"
		if def.CachePolicy.Cacheable() {
			ttl = "ttl " + def.CachePolicy.TTL.String()
		}
		fmt.Fprintf(out, "%-16s %-12s %-12s %s\n", def.Name, modes, ttl, def.Description)
	}
}

func renderActions(out io.Writer, defs []domain.ActionDefinition) {
	RenderActions(out, defs)
}

func formatMoney(minor int64, currency string) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	amount := fmt.Sprintf("%d.%02d", minor/100, minor%100)
	if currency == "USD" || currency == "" {
		return sign + "$" + amount
	}
	return sign + currency + " " + amount
}
