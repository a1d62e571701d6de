package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	apiKey    string
)

func main() {
	root := &cobra.Command{
		Use:   "codeexec-cli",
		Short: "CLI client for safe-code-exec",
	}

	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	root.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("CODEEXEC_API_KEY"), "API key")

	// Execute command
	execCmd := &cobra.Command{
		Use:   "exec [code]",
		Short: "Validate and execute Python code",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runExec,
	}
	root.AddCommand(execCmd)

	// Execute from file
	execFileCmd := &cobra.Command{
		Use:   "exec-file [file]",
		Short: "Execute code from a file",
		Args:  cobra.ExactArgs(1),
		RunE:  runExecFile,
	}
	root.AddCommand(execFileCmd)

	// Execute and persist the result
	submitCmd := &cobra.Command{
		Use:   "submit [code]",
		Short: "Execute code and store the result as a submission",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSubmit,
	}
	root.AddCommand(submitCmd)

	// Validate only
	validateCmd := &cobra.Command{
		Use:   "validate [code]",
		Short: "Run static analysis without executing",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runValidate,
	}
	root.AddCommand(validateCmd)

	// Health check
	root.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE:  runHealth,
	})

	// List submissions
	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List recent submissions",
		RunE:  runList,
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func readCodeArg(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	// Read from stdin
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return string(data), nil
}

func runExec(_ *cobra.Command, args []string) error {
	code, err := readCodeArg(args)
	if err != nil {
		return err
	}
	return postCode("/execute", code)
}

func runExecFile(_ *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}
	return postCode("/execute", string(data))
}

func runSubmit(_ *cobra.Command, args []string) error {
	code, err := readCodeArg(args)
	if err != nil {
		return err
	}
	return postCode("/submissions", code)
}

func runValidate(_ *cobra.Command, args []string) error {
	code, err := readCodeArg(args)
	if err != nil {
		return err
	}
	return postCode("/validate", code)
}

func postCode(path, code string) error {
	body, _ := json.Marshal(map[string]string{"code": code})

	req, err := http.NewRequest("POST", serverURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	client := &http.Client{Timeout: 70 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	// Pretty print
	formatted, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(formatted))

	// Non-success statuses exit non-zero so the CLI composes in scripts
	if status, ok := result["status"].(string); ok && status != "success" {
		os.Exit(1)
	}
	if safe, ok := result["is_safe"].(bool); ok && !safe {
		os.Exit(1)
	}

	return nil
}

func runHealth(_ *cobra.Command, _ []string) error {
	resp, err := http.Get(serverURL + "/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	var result map[string]any
	json.NewDecoder(resp.Body).Decode(&result)
	formatted, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(formatted))
	return nil
}

func runList(_ *cobra.Command, _ []string) error {
	req, _ := http.NewRequest("GET", serverURL+"/submissions", nil)
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var result any
	json.NewDecoder(resp.Body).Decode(&result)
	formatted, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(formatted))
	return nil
}
