package cli

import (
	"errors"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/nhle/tempmail/internal/app"
)

func newWatchCommand() *cobra.Command {
	var fresh bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Open the live inbox viewer",
		Long: "Open the terminal inbox viewer for the current address. Without a " +
			"current address (or with --new) the viewer starts with the new address form.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			c := rt.Client()

			var session *app.Session
			if !fresh {
				session, err = rt.loadSession(cmd.Context(), c)
				if err != nil && !errors.Is(err, errNoAddress) {
					return err
				}
			}

			m := app.New(app.Config{
				Backend:   app.FromClient(c),
				Session:   session,
				OnSession: rt.saveSession,
			})
			p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(cmd.Context()))
			_, err = p.Run()
			return err
		},
	}
	cmd.Flags().BoolVar(&fresh, "new", false, "Start by creating a new address")
	return cmd
}
