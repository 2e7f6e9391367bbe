package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/topicwatch/topicwatch/server/internal/api"
)

func topicsCmd() *cli.Command {
	return &cli.Command{
		Name:      "topics",
		Usage:     "List the topics known to a running server",
		UsageText: "topicwatch topics [--addr URL] [--api-key KEY] [--api-key-header NAME]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Usage:   "base URL of the topicwatch server",
				Sources: cli.EnvVars("TOPICWATCH_ADDR"),
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    "api-key",
				Usage:   "API key sent in the --api-key-header header",
				Sources: cli.EnvVars("TOPICWATCH_API_KEY"),
			},
			&cli.StringFlag{
				Name:    "api-key-header",
				Usage:   "header the server reads the API key from",
				Sources: cli.EnvVars("TOPICWATCH_API_KEY_HEADER"),
				Value:   "x-api-key",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			topics, err := fetchTopics(ctx, c.String("addr"), c.String("api-key-header"), c.String("api-key"))
			if err != nil {
				return err
			}
			return printTopics(c.Root().Writer, topics)
		},
	}
}

func fetchTopics(ctx context.Context, addr, header, key string) ([]api.TopicResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	url := strings.TrimRight(addr, "/") + "/api/v1/topics"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if key != "" {
		if header == "" {
			header = "x-api-key"
		}
		req.Header.Set(header, key)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get %s: HTTP %d", url, resp.StatusCode)
	}

	var topics []api.TopicResponse
	if err := json.NewDecoder(resp.Body).Decode(&topics); err != nil {
		return nil, fmt.Errorf("decode topics: %w", err)
	}
	return topics, nil
}

func printTopics(out io.Writer, topics []api.TopicResponse) error {
	if len(topics) == 0 {
		_, err := fmt.Fprintln(out, "No topics found")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tTYPE")
	for _, t := range topics {
		_, _ = fmt.Fprintf(w, "%s\t%s\n", t.Name, t.Type)
	}
	return w.Flush()
}
