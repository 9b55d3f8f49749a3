package supervisor

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/nodiinc/nodi-edge/internal/store"
)

var (
	statusHeaderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("15")).Bold(true)
	statusActiveStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	statusDeadStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusDimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// RenderStatus renders the running Supervisor's in-memory service map as
// a human-readable table. The CLI "status" subcommand uses
// RenderRegistryStatus instead.
func (s *Supervisor) RenderStatus() string {
	s.servicesMu.Lock()
	ids := make([]string, 0, len(s.services))
	for id := range s.services {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	b.WriteString(statusHeaderStyle.Render(fmt.Sprintf("%-24s %-10s %-8s %-8s %s", "APP ID", "CATEGORY", "ENABLED", "ACTIVE", "MODULE")))
	b.WriteString("\n")
	for _, id := range ids {
		e := s.services[id]
		activeCell := statusDeadStyle.Render("no")
		if e.Active {
			activeCell = statusActiveStyle.Render("yes")
		}
		enabledCell := "no"
		if e.Enabled {
			enabledCell = "yes"
		}
		b.WriteString(fmt.Sprintf("%-24s %-10s %-8s %-8s %s\n", id, e.Category, enabledCell, activeCell, e.Module))
	}
	s.servicesMu.Unlock()

	if len(ids) == 0 {
		return statusDimStyle.Render("no services registered")
	}
	return b.String()
}

// RenderRegistryStatus renders the app-registry table directly from the
// store, probing each enabled row's live state through driver. Unlike
// RenderStatus, which reads the running Supervisor's in-memory service
// map, this is for the CLI "status" subcommand, a separate process
// invocation with no access to a live Supervisor's state.
func RenderRegistryStatus(ctx context.Context, db *store.EdgeDB, driver ServiceDriver) (string, error) {
	rows, err := db.ListAppRegistry(ctx)
	if err != nil {
		return "", fmt.Errorf("supervisor: list app registry: %w", err)
	}
	if len(rows) == 0 {
		return statusDimStyle.Render("no services registered"), nil
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].AppID < rows[j].AppID })

	var b strings.Builder
	b.WriteString(statusHeaderStyle.Render(fmt.Sprintf("%-24s %-10s %-8s %-8s %s", "APP ID", "CATEGORY", "ENABLED", "ACTIVE", "MODULE")))
	b.WriteString("\n")
	for _, row := range rows {
		category := categoryFor(row)
		active := row.Enabled && driver.IsActive(ctx, category, row.AppID)

		activeCell := statusDeadStyle.Render("no")
		if active {
			activeCell = statusActiveStyle.Render("yes")
		}
		enabledCell := "no"
		if row.Enabled {
			enabledCell = "yes"
		}
		b.WriteString(fmt.Sprintf("%-24s %-10s %-8s %-8s %s\n", row.AppID, string(category), enabledCell, activeCell, row.Module))
	}
	return b.String(), nil
}
