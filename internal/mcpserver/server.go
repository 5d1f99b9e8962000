// Package mcpserver exposes pathlens's diagnostics facade as an MCP tool
// server, so an LLM agent can run a traceroute, ping, or path discovery the
// same way a human operator would through the HTTP API.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/draymonix/pathlens/internal/classify"
	"github.com/draymonix/pathlens/internal/facade"
	"github.com/draymonix/pathlens/internal/multipath"
	"github.com/draymonix/pathlens/internal/ping"
	"github.com/draymonix/pathlens/internal/traceroute"
)

// Server wraps an mcp.Server configured with pathlens's diagnostics tools.
type Server struct {
	mcp    *mcp.Server
	facade *facade.Facade
	logger *zap.Logger
}

func New(f *facade.Facade, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		facade: f,
		logger: logger,
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    "pathlens",
			Version: "1.0.0",
		}, nil),
	}
	s.registerTools()
	return s
}

// Run serves the MCP protocol over transport until ctx is cancelled.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	return s.mcp.Run(ctx, transport)
}

type traceArgs struct {
	Target      string   `json:"target" jsonschema:"the IPv4 address to trace"`
	MaxHops     int      `json:"max_hops,omitempty" jsonschema:"maximum TTL to probe, defaults to 30"`
	IsVPNTrace  bool     `json:"is_vpn_trace,omitempty" jsonschema:"classify this trace as having left through a VPN tunnel"`
	VPNLocalIPs []string `json:"vpn_local_ips,omitempty" jsonschema:"local-side IPs already known to belong to the VPN tunnel interface"`
}

type pingArgs struct {
	Target string `json:"target" jsonschema:"the IPv4 address to ping"`
	Count  int    `json:"count,omitempty" jsonschema:"number of echo requests to send, defaults to 4"`
}

type discoverArgs struct {
	Target   string `json:"target" jsonschema:"the IPv4 address to discover ECMP paths toward"`
	Attempts int    `json:"attempts,omitempty" jsonschema:"distinct flow identifiers to try, defaults to 20"`
}

type publicIPArgs struct{}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "trace",
		Description: "Run an ICMP traceroute to an IPv4 destination and return the hop-by-hop path.",
	}, s.handleTrace)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "trace_classified",
		Description: "Run a traceroute and classify each hop as LOCAL/ISP/VPN/TRANSIT/DESTINATION by ASN.",
	}, s.handleTraceClassified)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "ping",
		Description: "Send repeated ICMP echo requests to an IPv4 destination and report RTT statistics.",
	}, s.handlePing)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "discover_paths",
		Description: "Enumerate the distinct ECMP paths toward an IPv4 destination.",
	}, s.handleDiscover)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "public_ip",
		Description: "Return the caller's currently observed public IPv4 address.",
	}, s.handlePublicIP)
}

func (s *Server) handleTrace(ctx context.Context, req *mcp.CallToolRequest, args traceArgs) (*mcp.CallToolResult, any, error) {
	dest, err := parseTarget(args.Target)
	if err != nil {
		return errResult(err), nil, nil
	}
	opts := traceroute.Options{}
	if args.MaxHops > 0 {
		opts.MaxHops = uint8(args.MaxHops)
	}
	_, result, err := s.facade.Trace(ctx, dest, opts)
	if err != nil {
		return errResult(err), nil, nil
	}
	return jsonResult(result)
}

func (s *Server) handleTraceClassified(ctx context.Context, req *mcp.CallToolRequest, args traceArgs) (*mcp.CallToolResult, any, error) {
	dest, err := parseTarget(args.Target)
	if err != nil {
		return errResult(err), nil, nil
	}
	opts := traceroute.Options{}
	if args.MaxHops > 0 {
		opts.MaxHops = uint8(args.MaxHops)
	}
	vpn := classify.VPNContext{IsVPNTrace: args.IsVPNTrace, VPNLocalIPs: args.VPNLocalIPs}
	_, result, err := s.facade.TraceClassified(ctx, dest, opts, vpn)
	if err != nil {
		return errResult(err), nil, nil
	}
	return jsonResult(result)
}

func (s *Server) handlePing(ctx context.Context, req *mcp.CallToolRequest, args pingArgs) (*mcp.CallToolResult, any, error) {
	dest, err := parseTarget(args.Target)
	if err != nil {
		return errResult(err), nil, nil
	}
	opts := ping.Options{}
	if args.Count > 0 {
		opts.Count = args.Count
	}
	_, result, err := s.facade.Ping(ctx, dest, opts)
	if err != nil {
		return errResult(err), nil, nil
	}
	return jsonResult(result)
}

func (s *Server) handleDiscover(ctx context.Context, req *mcp.CallToolRequest, args discoverArgs) (*mcp.CallToolResult, any, error) {
	dest, err := parseTarget(args.Target)
	if err != nil {
		return errResult(err), nil, nil
	}
	opts := multipath.Options{}
	if args.Attempts > 0 {
		opts.Attempts = args.Attempts
	}
	_, result, err := s.facade.DiscoverPaths(ctx, dest, opts)
	if err != nil {
		return errResult(err), nil, nil
	}
	return jsonResult(result)
}

func (s *Server) handlePublicIP(ctx context.Context, req *mcp.CallToolRequest, _ publicIPArgs) (*mcp.CallToolResult, any, error) {
	result, err := s.facade.PublicIP(ctx)
	if err != nil {
		return errResult(err), nil, nil
	}
	return jsonResult(result)
}

func parseTarget(target string) (net.IP, error) {
	ip := net.ParseIP(target).To4()
	if ip == nil {
		return nil, fmt.Errorf("target %q is not an ipv4 address", target)
	}
	return ip, nil
}

func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return errResult(err), nil, nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(b)}},
	}, nil, nil
}

func errResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
	}
}
