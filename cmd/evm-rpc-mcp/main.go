package main

import (
	"context"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/urfave/cli/v2"

	evmrpc "github.com/karacurt/evm-rpc-mcp-server"
)

func main() {
	if err := RunCLI(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func RunCLI(args []string) error {
	var client *evmrpc.Client

	app := &cli.App{
		Name:      "evm-rpc-mcp",
		Version:   evmrpc.ServerVersion,
		Usage:     "EVM JSON-RPC tools over MCP",
		UsageText: `exposes EVM read operations and decoded transaction traces to MCP clients, configure via EVM_RPC_URL and METADATA_API_URL`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "rpc-url", Aliases: []string{"r"}, Usage: "EVM node RPC endpoint, overrides EVM_RPC_URL"},
		},
		Before: func(cCtx *cli.Context) error {
			if rpcURL := cCtx.String("rpc-url"); rpcURL != "" {
				_ = os.Setenv(evmrpc.RPCURLEnvVar, rpcURL)
			}
			var err error
			client, err = evmrpc.NewClient()
			return err
		},
		Commands: []*cli.Command{
			{
				Name:        "serve",
				HelpName:    "serve",
				Aliases:     []string{"s"},
				Description: "serve the MCP tools over stdio",
				Action: func(cCtx *cli.Context) error {
					return server.ServeStdio(evmrpc.NewMCPServer(client))
				},
			},
			{
				Name:        "trace",
				HelpName:    "trace",
				Aliases:     []string{"t"},
				Description: "print the decoded trace report of one transaction",
				ArgsUsage:   "evm-rpc-mcp trace -f json ${tx_hash}",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "text"},
				},
				Action: func(cCtx *cli.Context) error {
					hash := cCtx.Args().First()
					if hash == "" {
						return cli.Exit("transaction hash is required", 1)
					}
					report, err := client.TraceAndRender(context.Background(), hash, cCtx.String("format"))
					if err != nil {
						return err
					}
					fmt.Println(report)
					return nil
				},
			},
		},
	}
	return app.Run(args)
}
