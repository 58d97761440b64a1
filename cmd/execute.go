package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"firestige.xyz/netcore/internal/command"
)

// cli overrides the socket client; tests inject a mock through SetClient.
var cli ClientInterface

// Execute runs the root command. This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// client returns the injected client or one bound to --socket.
func client() ClientInterface {
	if cli != nil {
		return cli
	}
	return command.NewUDSClient(socketPath, clientTimeout)
}

// SetClient 用于测试时注入 mock 客户端
func SetClient(c ClientInterface) {
	cli = c
}

// GetClient 用于测试时获取当前客户端
func GetClient() ClientInterface {
	return cli
}

// printResult writes v in the --output format.
func printResult(out io.Writer, v interface{}) error {
	switch outputFormat {
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to format result: %w", err)
		}
		return enc.Close()
	case "json", "":
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to format result: %w", err)
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	default:
		return fmt.Errorf("unknown output format %q (must be json/yaml)", outputFormat)
	}
}
