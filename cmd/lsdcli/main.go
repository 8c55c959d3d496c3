// Command lsdcli is a thin operator CLI over a running client's statistics
// endpoint: inspect cache occupancy, dump the effective configuration, and
// list configured services.
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
)

func main() {
	app := &cli.App{
		Name:  "lsdcli",
		Usage: "inspect a running LSD client over its statistics endpoint",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "statistics endpoint base address",
				Value: "http://127.0.0.1:8090",
			},
		},
		Commands: []*cli.Command{
			statsCommand("cache", "cache_stats"),
			statsCommand("config", "config"),
			statsCommand("services", "all_services"),
			{
				Name:      "service",
				Usage:     "show one service's handle cache depths",
				ArgsUsage: "<name>",
				Action: func(ctx *cli.Context) error {
					name := ctx.Args().First()
					if name == "" {
						return cli.Exit("service name is required", 1)
					}
					return query(ctx.String("addr"), "service", name)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func statsCommand(name, action string) *cli.Command {
	return &cli.Command{
		Name:  name,
		Usage: fmt.Sprintf("print the %s statistics action's reply", action),
		Action: func(ctx *cli.Context) error {
			return query(ctx.String("addr"), action, "")
		},
	}
}

func query(addr, action, name string) error {
	body, err := json.Marshal(map[string]any{
		"version": 1,
		"action":  action,
		"name":    name,
	})
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(addr+"/stats", "application/json", bytes.NewReader(body))
	if err != nil {
		return cli.Exit(fmt.Sprintf("requesting stats: %v", err), 1)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		fmt.Println(string(raw))
		return nil
	}
	fmt.Println(pretty.String())
	return nil
}
