package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Socheema/Framez-sub000/internal/app"
)

var followCmd = &cobra.Command{
	Use:   "follow <user-id>",
	Short: "Follow a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFollow(cmd, args[0], true)
	},
}

var unfollowCmd = &cobra.Command{
	Use:   "unfollow <user-id>",
	Short: "Stop following a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFollow(cmd, args[0], false)
	},
}

func runFollow(cmd *cobra.Command, target string, add bool) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Follows.LoadStatus(ctx, target); err != nil {
		return err
	}
	if err := a.Follows.LoadCounts(ctx, target); err != nil {
		return err
	}
	if add {
		err = a.Follows.RequestFollow(ctx, target)
	} else {
		err = a.Follows.RequestUnfollow(ctx, target)
	}
	if err != nil {
		return err
	}
	printFollow(cmd.OutOrStdout(), a, target)
	return nil
}

func printFollow(w io.Writer, a *app.App, target string) {
	followers, _ := a.Follows.FollowerCount(target)
	following, _ := a.Follows.FollowingCount(target)
	fmt.Fprintf(w, "%s: %s, %d followers, %d following\n", target, a.Follows.Status(target), followers, following)
}

var likeCmd = &cobra.Command{
	Use:   "like <post-id>",
	Short: "Like a post",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLike(cmd, args[0], true)
	},
}

var unlikeCmd = &cobra.Command{
	Use:   "unlike <post-id>",
	Short: "Remove a like from a post",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLike(cmd, args[0], false)
	},
}

func runLike(cmd *cobra.Command, postID string, add bool) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Posts.Load(ctx, postID); err != nil {
		return err
	}
	if add {
		err = a.Posts.RequestLike(ctx, postID)
	} else {
		err = a.Posts.RequestUnlike(ctx, postID)
	}
	if err != nil {
		return err
	}
	n, _ := a.Posts.LikesCount(postID)
	fmt.Fprintf(cmd.OutOrStdout(), "%s: liked=%t, %d likes\n", postID, a.Posts.HasLiked(postID), n)
	return nil
}

func init() {
	rootCmd.AddCommand(followCmd, unfollowCmd, likeCmd, unlikeCmd)
}
