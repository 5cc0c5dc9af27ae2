package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var roomCmd = &cobra.Command{
	Use:   "room",
	Short: "Manage rooms",
}

var roomCreateCmd = &cobra.Command{
	Use:   "create <room>",
	Short: "Create an empty room",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rs, err := openRooms()
		if err != nil {
			return err
		}
		created, err := rs.CreateRoom(args[0])
		if err != nil {
			return err
		}
		if !created {
			fmt.Printf("Room %s already exists\n", args[0])
			return nil
		}
		fmt.Printf("Created room %s\n", args[0])
		return nil
	},
}

var roomListCmd = &cobra.Command{
	Use:   "list",
	Short: "List rooms and their user counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rs, err := openRooms()
		if err != nil {
			return err
		}
		ids, err := rs.ListRooms()
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			fmt.Println("No rooms found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ROOM\tUSERS")
		fmt.Fprintln(w, "----\t-----")
		for _, id := range ids {
			users, err := rs.ListUsers(id)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s\t%d\n", id, len(users))
		}
		return w.Flush()
	},
}

func init() {
	roomCmd.AddCommand(roomCreateCmd, roomListCmd)
	rootCmd.AddCommand(roomCmd)
}
