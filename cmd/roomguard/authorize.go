package main

import (
	"fmt"

	"github.com/fogleman/gg"
	"github.com/spf13/cobra"
)

var authorizeOverlay string

var authorizeCmd = &cobra.Command{
	Use:   "authorize <room> <image>",
	Short: "Authorize the face in a still image against a room",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		room, path := args[0], args[1]

		img, err := loadImage(path)
		if err != nil {
			return err
		}

		a, cleanup, err := openApp()
		if err != nil {
			return err
		}
		defer cleanup()

		res, err := a.AuthorizeImage(room, img)
		if err != nil {
			return err
		}
		// Hooks run in the background; let them finish before exiting.
		defer a.WaitHooks()

		switch {
		case !res.Face:
			fmt.Println("No face found")
		case res.Accepted:
			fmt.Printf("Accepted: %s (similarity %.3f)\n", res.UserID, res.Similarity)
		case res.Compared == 0:
			fmt.Printf("Rejected: room %s has no users\n", room)
		default:
			fmt.Printf("Rejected (best similarity %.3f)\n", res.Similarity)
		}

		if authorizeOverlay != "" && res.Overlay != nil {
			if err := gg.SavePNG(authorizeOverlay, res.Overlay); err != nil {
				return fmt.Errorf("save overlay: %w", err)
			}
			fmt.Printf("Overlay written to %s\n", authorizeOverlay)
		}
		return nil
	},
}

func init() {
	authorizeCmd.Flags().StringVar(&authorizeOverlay, "overlay", "", "write the annotated image to this PNG file")
	rootCmd.AddCommand(authorizeCmd)
}
