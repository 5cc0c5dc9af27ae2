package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/ayusman/roomguard/internal/rooms"
)

var (
	userImage     string
	userEmbedding []float32
)

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".bmp": true, ".webp": true,
}

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage the users enrolled in a room",
}

var userAddCmd = &cobra.Command{
	Use:   "add <room> <user>",
	Short: "Enroll a user from the camera, an image or a raw embedding",
	Long: `Enroll a user into a room. The room is created if needed.

Without --image or --embedding the camera is opened and the first frame
with a face is used.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		room, user := args[0], args[1]

		// A raw embedding needs no models.
		if len(userEmbedding) > 0 {
			rs, err := openRooms()
			if err != nil {
				return err
			}
			if err := rs.AddUser(room, user, userEmbedding); err != nil {
				return err
			}
			fmt.Printf("Enrolled %s in room %s\n", user, room)
			return nil
		}

		a, cleanup, err := openApp()
		if err != nil {
			return err
		}
		defer cleanup()

		if userImage != "" {
			img, err := loadImage(userImage)
			if err != nil {
				return err
			}
			err = a.EnrollImage(room, user, img)
		} else {
			fmt.Println("Look at the camera...")
			err = a.EnrollFromCamera(cmd.Context(), room, user)
		}
		if err != nil {
			return err
		}
		fmt.Printf("Enrolled %s in room %s\n", user, room)
		return nil
	},
}

var userRemoveCmd = &cobra.Command{
	Use:   "remove <room> <user>",
	Short: "Remove a user from a room",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rs, err := openRooms()
		if err != nil {
			return err
		}
		if err := rs.RemoveUser(args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("Removed %s from room %s\n", args[1], args[0])
		return nil
	},
}

var userListCmd = &cobra.Command{
	Use:   "list <room>",
	Short: "List the users enrolled in a room",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rs, err := openRooms()
		if err != nil {
			return err
		}
		users, err := rs.ListUsers(args[0])
		if err != nil {
			return err
		}
		if len(users) == 0 {
			fmt.Printf("No users in room %s.\n", args[0])
			return nil
		}
		for _, u := range users {
			fmt.Println(u)
		}
		return nil
	},
}

var userImportCmd = &cobra.Command{
	Use:   "import <room> <dir>",
	Short: "Enroll one user per image file in a directory",
	Long: `Enroll every image in a directory. The file name without its extension
is the user ID, so alice.jpg enrolls alice. Users already in the room are
skipped.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		room, dir := args[0], args[1]

		files, err := imageFiles(dir)
		if err != nil {
			return err
		}
		if len(files) == 0 {
			fmt.Printf("No images found in %s.\n", dir)
			return nil
		}

		a, cleanup, err := openApp()
		if err != nil {
			return err
		}
		defer cleanup()

		bar := progressbar.NewOptions(len(files),
			progressbar.OptionSetDescription("Enrolling"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionSetItsString("faces"),
			progressbar.OptionShowElapsedTimeOnFinish(),
		)

		var enrolled, skipped int
		var failures []string
		for _, path := range files {
			if err := cmd.Context().Err(); err != nil {
				return err
			}

			user := userFromFile(path)
			img, err := loadImage(path)
			if err == nil {
				err = a.EnrollImage(room, user, img)
			}
			switch {
			case err == nil:
				enrolled++
			case errors.Is(err, rooms.ErrUserExists):
				skipped++
			default:
				failures = append(failures, fmt.Sprintf("%s: %v", filepath.Base(path), err))
			}
			bar.Add(1)
		}
		bar.Finish()
		fmt.Fprintln(os.Stderr)

		fmt.Printf("Enrolled %d, skipped %d existing, %d failed\n", enrolled, skipped, len(failures))
		for _, f := range failures {
			fmt.Println("  " + f)
		}
		if len(failures) > 0 && enrolled == 0 {
			return fmt.Errorf("no users enrolled from %s", dir)
		}
		return nil
	},
}

// imageFiles returns the image files directly in dir, sorted by name.
func imageFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

func userFromFile(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func init() {
	userAddCmd.Flags().StringVar(&userImage, "image", "", "enroll the face in this image file")
	userAddCmd.Flags().Float32SliceVar(&userEmbedding, "embedding", nil, "enroll a precomputed embedding (comma separated)")
	userAddCmd.MarkFlagsMutuallyExclusive("image", "embedding")

	userCmd.AddCommand(userAddCmd, userRemoveCmd, userListCmd, userImportCmd)
	rootCmd.AddCommand(userCmd)
}
