package cmd

import (
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/image"
	"github.com/stretchr/testify/assert"
)

func TestRemovalSummary(t *testing.T) {
	values := []struct {
		containers int
		images     int
		summary    string
	}{
		{3, 0, "3 containers"},
		{3, 2, "3 containers and 2 images"},
		{0, 1, "0 containers and 1 images"},
	}

	for _, v := range values {
		assert.Equal(t, v.summary, removalSummary(v.containers, v.images), "Wrong removal summary")
	}
}

func TestContainerName(t *testing.T) {
	values := []struct {
		container types.Container
		name      string
	}{
		{types.Container{ID: "abc123", Names: []string{"/culprit-x7f"}}, "culprit-x7f"},
		{types.Container{ID: "abc123"}, "abc123"},
	}

	for _, v := range values {
		assert.Equal(t, v.name, containerName(v.container), "Wrong container display name")
	}
}

func TestImageName(t *testing.T) {
	values := []struct {
		image image.Summary
		name  string
	}{
		{image.Summary{ID: "sha256:def", RepoTags: []string{"culprit:1a2b"}}, "culprit:1a2b"},
		{image.Summary{ID: "sha256:def"}, "sha256:def"},
	}

	for _, v := range values {
		assert.Equal(t, v.name, imageName(v.image), "Wrong image display name")
	}
}

func TestCleanCommandRegistration(t *testing.T) {
	clean, _, err := rootCmd.Find([]string{"clean"})
	assert.Nil(t, err, "Clean command not registered")

	assert.NotNil(t, clean.Flags().Lookup("containers"), "Missing containers flag")
	assert.NotNil(t, clean.Flags().Lookup("assume-yes"), "Missing assume-yes flag")
	assert.Contains(t, clean.Aliases, "prune", "Missing prune alias")
}
