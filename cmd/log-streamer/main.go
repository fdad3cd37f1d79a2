// log-streamer tails the logs of every service in the local compose stack
// into one terminal, each service in its own color.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	containerTypes "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/fatih/color"
	"gopkg.in/yaml.v3"
)

const (
	composeFileName    = "docker-compose.yml"
	projectRootRelPath = "../.."
)

var colorPalette = []*color.Color{
	color.New(color.FgCyan),
	color.New(color.FgGreen),
	color.New(color.FgYellow),
	color.New(color.FgBlue),
	color.New(color.FgMagenta),
	color.New(color.FgRed),
}

type composeConfig struct {
	Services map[string]interface{} `yaml:"services"`
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("Shutting down log streamer...")
		cancel()
	}()

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		log.Fatalf("❌ Failed to create Docker client: %v", err)
	}
	defer func() {
		if err := cli.Close(); err != nil {
			log.Printf("⚠️  Error closing Docker client: %v", err)
		}
	}()

	// Service names come from the compose file itself, so new services
	// show up here without code changes.
	composePath := filepath.Join(projectRootRelPath, composeFileName)
	composeFile, err := os.ReadFile(composePath)
	if err != nil {
		log.Fatalf("❌ Failed to read %s: %v", composePath, err)
	}

	var cfg composeConfig
	if err := yaml.Unmarshal(composeFile, &cfg); err != nil {
		log.Fatalf("❌ Failed to parse %s: %v", composeFileName, err)
	}

	var wg sync.WaitGroup
	i := 0
	log.Println("Starting log streams...")

	for serviceName := range cfg.Services {
		wg.Add(1)
		serviceColor := colorPalette[i%len(colorPalette)]
		go streamServiceLogs(ctx, &wg, cli, serviceName, serviceColor)
		i++
	}

	wg.Wait()
	log.Println("All log streams finished.")
}

func streamServiceLogs(ctx context.Context, wg *sync.WaitGroup, cli *client.Client, serviceName string, c *color.Color) {
	defer wg.Done()

	// Compose names containers <project>-<service>-1; matching on the
	// com.docker.compose.service label is stable across project names.
	containers, err := cli.ContainerList(ctx, containerTypes.ListOptions{})
	if err != nil {
		log.Printf("⚠️  Error listing containers for %s: %v", serviceName, err)
		return
	}

	var containerID string
	for _, cont := range containers {
		if cont.Labels["com.docker.compose.service"] == serviceName {
			containerID = cont.ID
			break
		}
	}

	if containerID == "" {
		log.Printf("⚠️  Container for service %s not found.", serviceName)
		return
	}

	logReader, err := cli.ContainerLogs(ctx, containerID, containerTypes.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
		Timestamps: false,
	})
	if err != nil {
		log.Printf("⚠️  Error getting logs for %s: %v", serviceName, err)
		return
	}
	defer func() {
		if err := logReader.Close(); err != nil {
			log.Printf("⚠️  Error closing log reader for %s: %v", serviceName, err)
		}
	}()

	scanner := bufio.NewScanner(logReader)
	for scanner.Scan() {
		prefix := c.SprintfFunc()("[%s]", serviceName)
		fmt.Printf("%-25s %s\n", prefix, scanner.Text())
	}
}
