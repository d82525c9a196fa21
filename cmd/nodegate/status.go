package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/blockberries/nodegate/auth"
	"github.com/blockberries/nodegate/rpc"
	grpcserver "github.com/blockberries/nodegate/rpc/grpc"
	"github.com/blockberries/nodegate/rpc/jsonrpc"
)

var (
	statusRPCAddr  string
	statusGRPCAddr string
	statusSecret   string
	statusBlocks   int
	statusMiner    string
	statusJSON     bool
	statusTimeout  time.Duration
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query a running gateway",
	Long: `Query the node status and the newest blocks from a running gateway,
over JSON-RPC by default or over gRPC when --grpc is set.

Example:
  nodegate status
  nodegate status --rpc http://localhost:8080/query --secret s3cret --blocks 5
  nodegate status --grpc localhost:9090 --miner 0xaa01...`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusRPCAddr, "rpc", "http://127.0.0.1:8080/query", "JSON-RPC query endpoint")
	statusCmd.Flags().StringVar(&statusGRPCAddr, "grpc", "", "gRPC address; overrides --rpc when set")
	statusCmd.Flags().StringVar(&statusSecret, "secret", "", "shared secret or API key")
	statusCmd.Flags().IntVar(&statusBlocks, "blocks", 3, "number of newest blocks to list")
	statusCmd.Flags().StringVar(&statusMiner, "miner", "", "only list blocks produced by this address")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output as JSON")
	statusCmd.Flags().DurationVar(&statusTimeout, "timeout", 10*time.Second, "request timeout")
}

// StatusReport is what the status command prints.
type StatusReport struct {
	Node   *rpc.NodeStatusJSON    `json:"node"`
	Blocks []*rpc.BlockHeaderJSON `json:"blocks"`
}

// caller invokes one gateway method and decodes its result.
type caller func(ctx context.Context, method string, params, result any) error

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), statusTimeout)
	defer cancel()

	call := httpCaller(statusRPCAddr, statusSecret)
	if statusGRPCAddr != "" {
		client, err := grpcserver.NewClient(statusGRPCAddr, statusSecret)
		if err != nil {
			return fmt.Errorf("connecting to %s: %w", statusGRPCAddr, err)
		}
		defer client.Close()
		call = client.Call
	}

	var report StatusReport
	if err := call(ctx, rpc.MethodNodeStatus, nil, &report.Node); err != nil {
		return fmt.Errorf("querying node status: %w", err)
	}
	params := map[string]any{"limit": statusBlocks}
	if statusMiner != "" {
		params["miner"] = statusMiner
	}
	if err := call(ctx, rpc.MethodTopmostBlocks, params, &report.Blocks); err != nil {
		return fmt.Errorf("querying topmost blocks: %w", err)
	}

	out := cmd.OutOrStdout()
	if statusJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	node := report.Node
	fmt.Fprintln(out, "Node Status")
	fmt.Fprintln(out, "===========")
	fmt.Fprintf(out, "Bootstrap Ended: %v\n", node.BootstrapEnded)
	fmt.Fprintf(out, "Preload Ended:   %v\n", node.PreloadEnded)
	fmt.Fprintf(out, "Mining:          %v\n", node.IsMining)
	if node.Tip != nil {
		fmt.Fprintf(out, "Tip:             %d %s\n", node.Tip.Index, node.Tip.Hash)
	}
	if node.Genesis != nil {
		fmt.Fprintf(out, "Genesis:         %s\n", node.Genesis.Hash)
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Newest Blocks")
	fmt.Fprintln(out, "-------------")
	for _, b := range report.Blocks {
		miner := "-"
		if b.Miner != nil {
			miner = *b.Miner
		}
		fmt.Fprintf(out, "%8d  %s  %s  %s\n", b.Index, b.Hash, miner, b.Timestamp)
	}

	return nil
}

// httpCaller posts single JSON-RPC requests to endpoint.
func httpCaller(endpoint, secret string) caller {
	client := &http.Client{}
	return func(ctx context.Context, method string, params, result any) error {
		req := jsonrpc.Request{
			JSONRPC: jsonrpc.Version,
			Method:  method,
			ID:      json.RawMessage("1"),
		}
		if params != nil {
			raw, err := json.Marshal(params)
			if err != nil {
				return fmt.Errorf("encoding params: %w", err)
			}
			req.Params = raw
		}
		body, err := json.Marshal(req)
		if err != nil {
			return err
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if secret != "" {
			httpReq.Header.Set(auth.HeaderSecret, secret)
		}

		resp, err := client.Do(httpReq)
		if err != nil {
			return fmt.Errorf("cannot reach gateway at %s: %w", endpoint, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("gateway returned %s: %s", resp.Status, bytes.TrimSpace(msg))
		}

		var rpcResp jsonrpc.Response
		if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
		if rpcResp.Error != nil {
			return rpcResp.Error
		}
		return json.Unmarshal(rpcResp.Result, result)
	}
}
