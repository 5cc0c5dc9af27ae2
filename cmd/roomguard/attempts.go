package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var attemptsLimit int

var attemptsCmd = &cobra.Command{
	Use:   "attempts <room>",
	Short: "Show recent authorization attempts in a room",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		attempts, err := st.Attempts().ListByRoom(args[0], attemptsLimit)
		if err != nil {
			return err
		}
		if len(attempts) == 0 {
			fmt.Printf("No attempts in room %s.\n", args[0])
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "STARTED\tSOURCE\tOUTCOME\tUSER\tSIMILARITY\tFAILURES\tFRAMES")
		fmt.Fprintln(w, "-------\t------\t-------\t----\t----------\t--------\t------")
		for _, at := range attempts {
			user := at.UserID
			if user == "" {
				user = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.3f\t%d\t%d\n",
				at.StartedAt.Local().Format("2006-01-02 15:04:05"),
				at.Source, at.Outcome, user, at.Similarity, at.Failures, at.Frames)
		}
		return w.Flush()
	},
}

func init() {
	attemptsCmd.Flags().IntVar(&attemptsLimit, "limit", 20, "number of attempts to show")
	rootCmd.AddCommand(attemptsCmd)
}
