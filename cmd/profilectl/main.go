// Command profilectl administers data-source profiles through the staging
// engine's admin API.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/your-org/lakestage/internal/staging"
)

func main() {
	app := &cli.App{
		Name:  "profilectl",
		Usage: "manage lakestage data-source profiles",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "endpoint",
				Usage:   "staging engine admin API base URL",
				Value:   "http://localhost:8080",
				EnvVars: []string{"LAKESTAGE_ENDPOINT"},
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "request timeout",
				Value: 10 * time.Second,
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "list registered profiles",
				Action: func(c *cli.Context) error {
					return getJSON(c, "/api/v1/profiles")
				},
			},
			{
				Name:      "get",
				Usage:     "show one profile",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.Exit("usage: profilectl get <id>", 2)
					}
					return getJSON(c, "/api/v1/profiles/"+c.Args().First())
				},
			},
			{
				Name:  "apply",
				Usage: "register or update a profile from a JSON document",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "file",
						Aliases:  []string{"f"},
						Usage:    "path to the profile JSON document ('-' for stdin)",
						Required: true,
					},
				},
				Action: applyProfile,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func applyProfile(c *cli.Context) error {
	path := c.String("file")

	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("read profile document: %w", err)
	}

	var profile staging.DataSourceProfile
	if err := json.Unmarshal(raw, &profile); err != nil {
		return fmt.Errorf("parse profile document: %w", err)
	}
	if err := profile.Validate(); err != nil {
		return err
	}

	url := c.String("endpoint") + "/api/v1/profiles/" + profile.ID
	req, err := http.NewRequestWithContext(c.Context, http.MethodPut, url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: c.Duration("timeout")}
	res, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("apply profile %s: %w", profile.ID, err)
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("apply profile %s: %s: %s", profile.ID, res.Status, bytes.TrimSpace(body))
	}

	fmt.Printf("profile %s applied\n", profile.ID)
	return nil
}

func getJSON(c *cli.Context, path string) error {
	url := c.String("endpoint") + path
	req, err := http.NewRequestWithContext(c.Context, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: c.Duration("timeout")}
	res, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s: %s", path, res.Status, bytes.TrimSpace(body))
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		fmt.Println(string(body))
		return nil
	}
	fmt.Println(pretty.String())
	return nil
}
