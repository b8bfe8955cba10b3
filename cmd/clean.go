package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/manifoldco/promptui"
	"github.com/moby/moby/client"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var cleanFlags struct {
	containersOnly bool
	assumeYes      bool
}

var cleanCmd = &cobra.Command{
	Use:     "clean",
	Aliases: []string{"prune", "cleanup"},
	Short:   "Remove docker artifacts left behind by sandboxed searches",
	Long: `Remove docker artifacts left behind by sandboxed searches: leftover containers,
running or stopped, and the sandbox images built from dockerfiles. Only artifacts
carrying the culprit label are touched.`,
	Run: func(cmd *cobra.Command, args []string) {
		log := newLogger()

		cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			log.Fatalf("Couldn't create docker client - %v", err)
		}
		defer cli.Close()

		containers, images, err := labelledArtifacts(cmd.Context(), cli)
		if err != nil {
			log.Fatalf("Couldn't list docker artifacts - %v", err)
		}
		if cleanFlags.containersOnly {
			images = nil
		}
		if len(containers)+len(images) == 0 {
			log.Info("Nothing to remove. Exiting...")
			return
		}

		log.Infof("About to delete %s.", removalSummary(len(containers), len(images)))
		if !cleanFlags.assumeYes && !confirmed() {
			log.Info("Exiting...")
			return
		}

		if err := removeArtifacts(cmd.Context(), cli, log, containers, images); err != nil {
			log.Fatalf("Cleanup failed - %v", err)
		}
		log.Info("Done cleaning up.")
	},
}

// labelledArtifacts lists the containers and images a search sandbox may have left
// behind, identified by the label the sandbox runner puts on everything it creates.
func labelledArtifacts(ctx context.Context, cli *client.Client) ([]types.Container, []image.Summary, error) {
	byLabel := filters.NewArgs(filters.Arg("label", "culprit=1"))

	containers, err := cli.ContainerList(ctx, container.ListOptions{All: true, Filters: byLabel})
	if err != nil {
		return nil, nil, errors.Join(fmt.Errorf("listing containers failed"), err)
	}
	images, err := cli.ImageList(ctx, image.ListOptions{All: true, Filters: byLabel})
	if err != nil {
		return nil, nil, errors.Join(fmt.Errorf("listing images failed"), err)
	}
	return containers, images, nil
}

func removalSummary(containers, images int) string {
	summary := fmt.Sprintf("%d containers", containers)
	if images > 0 {
		summary += fmt.Sprintf(" and %d images", images)
	}
	return summary
}

func confirmed() bool {
	prompt := promptui.Prompt{
		Label:     "Proceed",
		IsConfirm: true,
	}
	_, err := prompt.Run()
	return err == nil
}

func removeArtifacts(ctx context.Context, cli *client.Client, log *logrus.Logger, containers []types.Container, images []image.Summary) error {
	for _, c := range containers {
		log.Infof("Removing container %s (ID: %s)", containerName(c), c.ID)
		if err := cli.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true}); err != nil {
			return errors.Join(fmt.Errorf("removing container %s failed", c.ID), err)
		}
	}
	for _, i := range images {
		log.Infof("Removing image %s (ID: %s)", imageName(i), i.ID)
		if _, err := cli.ImageRemove(ctx, i.ID, image.RemoveOptions{PruneChildren: true, Force: true}); err != nil {
			return errors.Join(fmt.Errorf("removing image %s failed", i.ID), err)
		}
	}
	return nil
}

func containerName(c types.Container) string {
	if len(c.Names) == 0 {
		return c.ID
	}
	return strings.TrimPrefix(c.Names[0], "/")
}

// imageName prefers a tag for display; a sandbox image that lost its tag still shows up
// by id.
func imageName(i image.Summary) string {
	if len(i.RepoTags) == 0 {
		return i.ID
	}
	return i.RepoTags[0]
}

func init() {
	rootCmd.AddCommand(cleanCmd)

	cleanCmd.Flags().BoolVarP(&cleanFlags.containersOnly, "containers", "c", false, "Only delete containers, no images.")
	cleanCmd.Flags().BoolVarP(&cleanFlags.assumeYes, "assume-yes", "y", false, `Bypass "Are you sure?" message.`)
}
