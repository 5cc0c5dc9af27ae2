package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ayusman/roomguard/internal/session"
)

var authenticateCmd = &cobra.Command{
	Use:   "authenticate [room]",
	Short: "Run a live authentication session in the terminal",
	Long: `Open the camera and authenticate whoever is in front of it against a room.

The session ends when the person is rejected, when an accepted person leaves
the frame, or on Ctrl+C. Without a room argument the configured default_room
is used, then the room of the last session.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := openApp()
		if err != nil {
			return err
		}
		defer cleanup()

		room, err := resolveRoom(args, a.Store())
		if err != nil {
			return err
		}

		updates, unsubscribe := a.Subscribe()
		defer unsubscribe()

		if err := a.StartSession(room); err != nil {
			return err
		}
		fmt.Printf("Authenticating in room %s (Ctrl+C to stop)\n", room)

		done := make(chan struct{})
		go func() {
			a.Wait()
			close(done)
		}()

		var last session.State
		for {
			select {
			case <-cmd.Context().Done():
				a.StopSession()
				printFinal(a.SessionStatus())
				return nil
			case <-done:
				printFinal(a.SessionStatus())
				a.WaitHooks()
				return nil
			case u := <-updates:
				if u.State != last {
					printUpdate(u)
					last = u.State
				}
			}
		}
	},
}

func printUpdate(u session.Update) {
	switch u.State {
	case session.StateAccepted:
		fmt.Printf("Welcome %s (similarity %.3f)\n", u.Result.UserID, u.Result.Similarity)
	case session.StateRejected:
		fmt.Printf("Access denied after %d failures\n", u.Failures)
	case session.StateLost:
		fmt.Println("Face lost")
	}
}

func printFinal(st session.Status) {
	fmt.Printf("Session ended: %s", st.State)
	if st.UserID != "" {
		fmt.Printf(" (%s)", st.UserID)
	}
	fmt.Println()
}

func init() {
	rootCmd.AddCommand(authenticateCmd)
}
