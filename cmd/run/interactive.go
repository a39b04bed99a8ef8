package main

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/wippyai/heap-bridge/render"
)

// runInteractive drives the view until the foreign program quits, the user
// leaves or a dispatch fails. Update runs on the calling goroutine, so foreign
// calls stay on the thread registered with the runtime.
func runInteractive(ctx context.Context, model *render.Model, d render.Dispatcher, cfg render.ViewConfig) error {
	view := render.NewView(ctx, model, d, cfg)
	p := tea.NewProgram(view, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return err
	}
	return view.Err()
}
