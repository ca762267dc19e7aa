package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

var rpcHTTPClient = &http.Client{Timeout: 15 * time.Second}

func defaultEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("DEAL_RPC_URL")); v != "" {
		return v
	}
	return defaultRPCURL
}

func callRPC(endpoint, token, method string, params json.RawMessage) (json.RawMessage, *rpcError, error) {
	payload := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if len(params) > 0 {
		payload["params"] = []json.RawMessage{params}
	} else {
		payload["params"] = []interface{}{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}
	req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := rpcHTTPClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, nil, fmt.Errorf("failed to decode RPC response (HTTP %d): %w", resp.StatusCode, err)
	}
	return rpcResp.Result, rpcResp.Error, nil
}

func runRPC(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("rpc", stderr)
	endpoint := fs.String("rpc", defaultEndpoint(), "JSON-RPC endpoint")
	tokenEnv := fs.String("token-env", "DEAL_RPC_TOKEN", "Environment variable containing the bearer token")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	rest := fs.Args()
	if len(rest) == 0 || len(rest) > 2 {
		return printError(stderr, "usage: dealctl rpc [flags] <method> [params-json]")
	}
	var params json.RawMessage
	if len(rest) == 2 {
		params = json.RawMessage(rest[1])
		if !json.Valid(params) {
			return printError(stderr, "params must be valid JSON")
		}
	}
	result, rpcErr, err := callRPC(*endpoint, os.Getenv(*tokenEnv), rest[0], params)
	if err != nil {
		fmt.Fprintf(stderr, "RPC call failed: %v\n", err)
		return 1
	}
	if rpcErr != nil {
		fmt.Fprintf(stderr, "RPC error %d: %s\n", rpcErr.Code, rpcErr.Message)
		if len(rpcErr.Data) > 0 {
			fmt.Fprintf(stderr, "%s\n", rpcErr.Data)
		}
		return 1
	}
	if len(result) == 0 {
		fmt.Fprintln(stdout, "null")
		return 0
	}
	stdout.Write(result)
	fmt.Fprintln(stdout)
	return 0
}
