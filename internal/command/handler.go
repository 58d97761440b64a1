// Package command implements control plane command handling.
package command

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"firestige.xyz/netcore/internal/arp"
	"firestige.xyz/netcore/internal/buffer"
	"firestige.xyz/netcore/internal/config"
	"firestige.xyz/netcore/internal/core"
	"firestige.xyz/netcore/internal/device"
	"firestige.xyz/netcore/internal/log"
	"firestige.xyz/netcore/internal/route"
	"firestige.xyz/netcore/internal/socket"
	"firestige.xyz/netcore/internal/stack"
)

// Version is reported by daemon_status.
var Version = "0.1.0"

// Stack is the part of the network stack driven by the control plane.
type Stack interface {
	Socket(family core.Family, typ socket.Type, protocol int) (int, error)
	Bind(sd int, port uint16) (uint16, error)
	Close(sd int) error
	Sockets() []socket.Info
	GetOption(sd int, level socket.Level, name socket.Name, out []byte) (int, error)
	SetOption(sd int, level socket.Level, name socket.Name, value []byte) error

	ARPUpdateOrCreate(addr netip.Addr, hw core.HardwareAddr, flags arp.Flags, ttl time.Duration) (int, error)
	ARPDelete(addr netip.Addr) error
	ARPEntries() []arp.Info

	RouteInsert(r route.Route) error
	RouteReplace(r route.Route) error
	RouteDelete(prefix netip.Prefix) error
	RouteLookup(addr netip.Addr) (route.Route, error)
	RouteDefault(family core.Family) (route.Route, bool, error)
	Routes(family core.Family) ([]route.Route, error)

	Ioctl(name string, code uint, arg []byte) error
	Devices() []device.Info
	BufferStats() buffer.Stats
	Status() stack.Status
}

// CommandHandler handles control plane commands.
type CommandHandler struct {
	stack          Stack
	configReloader ConfigReloader
	shutdownFunc   func() // Called by daemon_shutdown to trigger graceful stop
	startTime      time.Time
}

// ConfigReloader is the interface for reloading global configuration.
type ConfigReloader interface {
	Reload() error
}

// NewCommandHandler creates a new command handler.
func NewCommandHandler(st Stack, reloader ConfigReloader) *CommandHandler {
	return &CommandHandler{
		stack:          st,
		configReloader: reloader,
		startTime:      time.Now(),
	}
}

// SetShutdownFunc sets the callback invoked by the daemon_shutdown command.
func (h *CommandHandler) SetShutdownFunc(fn func()) {
	h.shutdownFunc = fn
}

// Command represents a control plane command.
type Command struct {
	Method string          `json:"method"` // e.g., "route_add", "sockopt_set"
	Params json.RawMessage `json:"params"` // command-specific parameters
	ID     string          `json:"id"`     // request ID for tracking
}

// Response represents a command response.
type Response struct {
	ID     string      `json:"id"`               // matches request ID
	Result interface{} `json:"result,omitempty"` // success result
	Error  *ErrorInfo  `json:"error,omitempty"`  // error info if failed
}

// ErrorInfo represents an error in the response.
type ErrorInfo struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorInfo) Error() string {
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

// Unwrap maps a stack error code back to its sentinel so callers on the far
// side of the socket can use errors.Is.
func (e *ErrorInfo) Unwrap() error {
	for _, m := range errorCodes {
		if m.code == e.Code {
			return m.err
		}
	}
	return nil
}

// Error codes
const (
	ErrCodeParseError     = -32700 // Invalid JSON
	ErrCodeInvalidRequest = -32600 // Invalid request object
	ErrCodeMethodNotFound = -32601 // Method not found
	ErrCodeInvalidParams  = -32602 // Invalid method parameters
	ErrCodeInternalError  = -32603 // Internal error

	ErrCodeInvalidSocket = -32001
	ErrCodeUnsupported   = -32002
	ErrCodeNotFound      = -32003
	ErrCodeExists        = -32004
	ErrCodeNoMemory      = -32005
	ErrCodeNotPermitted  = -32006
	ErrCodeDeviceDown    = -32007
)

var errorCodes = []struct {
	err  error
	code int
}{
	{core.ErrInvalidSocket, ErrCodeInvalidSocket},
	{core.ErrInvalidParameter, ErrCodeInvalidParams},
	{core.ErrUnsupported, ErrCodeUnsupported},
	{core.ErrNotFound, ErrCodeNotFound},
	{core.ErrNoRoute, ErrCodeNotFound},
	{core.ErrDeviceNotFound, ErrCodeNotFound},
	{core.ErrRouteExists, ErrCodeExists},
	{core.ErrAddressInUse, ErrCodeExists},
	{core.ErrNoMemory, ErrCodeNoMemory},
	{core.ErrOutOfBuffers, ErrCodeNoMemory},
	{core.ErrNotPermitted, ErrCodeNotPermitted},
	{core.ErrDeviceDown, ErrCodeDeviceDown},
}

func errorCode(err error) int {
	for _, m := range errorCodes {
		if errors.Is(err, m.err) {
			return m.code
		}
	}
	return ErrCodeInternalError
}

func failure(id string, code int, format string, args ...interface{}) Response {
	return Response{
		ID: id,
		Error: &ErrorInfo{
			Code:    code,
			Message: fmt.Sprintf(format, args...),
		},
	}
}

func stackFailure(id, what string, err error) Response {
	return failure(id, errorCode(err), "%s: %v", what, err)
}

// decodeParams unmarshals cmd.Params into v; absent params leave v zeroed.
func decodeParams(cmd Command, v interface{}) *Response {
	if len(cmd.Params) == 0 || string(cmd.Params) == "null" {
		return nil
	}
	if err := json.Unmarshal(cmd.Params, v); err != nil {
		resp := failure(cmd.ID, ErrCodeInvalidParams, "invalid params: %v", err)
		return &resp
	}
	return nil
}

// Handle processes a command and returns a response.
func (h *CommandHandler) Handle(ctx context.Context, cmd Command) Response {
	log.GetLogger().WithFields(map[string]interface{}{
		"method": cmd.Method,
		"id":     cmd.ID,
	}).Debug("handling command")

	switch cmd.Method {
	case "arp_set":
		return h.handleARPSet(ctx, cmd)
	case "arp_delete":
		return h.handleARPDelete(ctx, cmd)
	case "arp_list":
		return h.handleARPList(ctx, cmd)
	case "route_add":
		return h.handleRouteAdd(ctx, cmd)
	case "route_delete":
		return h.handleRouteDelete(ctx, cmd)
	case "route_lookup":
		return h.handleRouteLookup(ctx, cmd)
	case "route_default":
		return h.handleRouteDefault(ctx, cmd)
	case "route_list":
		return h.handleRouteList(ctx, cmd)
	case "socket_open":
		return h.handleSocketOpen(ctx, cmd)
	case "socket_close":
		return h.handleSocketClose(ctx, cmd)
	case "socket_list":
		return h.handleSocketList(ctx, cmd)
	case "sockopt_get":
		return h.handleSockoptGet(ctx, cmd)
	case "sockopt_set":
		return h.handleSockoptSet(ctx, cmd)
	case "dev_ioctl":
		return h.handleDevIoctl(ctx, cmd)
	case "dev_list":
		return h.handleDevList(ctx, cmd)
	case "buffer_stats":
		return Response{ID: cmd.ID, Result: h.stack.BufferStats()}
	case "config_reload":
		return h.handleConfigReload(ctx, cmd)
	case "daemon_shutdown":
		return h.handleDaemonShutdown(ctx, cmd)
	case "daemon_status":
		return h.handleDaemonStatus(ctx, cmd)
	default:
		return failure(cmd.ID, ErrCodeMethodNotFound, "method %q not found", cmd.Method)
	}
}

// ─── ARP ───────────────────────────────────────────────────────────────────

func (h *CommandHandler) handleARPSet(_ context.Context, cmd Command) Response {
	var params ARPSetParams
	if resp := decodeParams(cmd, &params); resp != nil {
		return *resp
	}
	addr, err := netip.ParseAddr(params.Address)
	if err != nil {
		return failure(cmd.ID, ErrCodeInvalidParams, "invalid address: %v", err)
	}
	hw, err := core.ParseHardwareAddr(params.HWAddr)
	if err != nil {
		return failure(cmd.ID, ErrCodeInvalidParams, "invalid hw_addr: %v", err)
	}
	var ttl time.Duration
	if params.TTL != "" {
		if ttl, err = time.ParseDuration(params.TTL); err != nil {
			return failure(cmd.ID, ErrCodeInvalidParams, "invalid ttl: %v", err)
		}
	}
	var flags arp.Flags
	if params.Permanent {
		flags |= arp.FlagPermanent
	}
	if params.Published {
		flags |= arp.FlagPublished
	}

	slot, err := h.stack.ARPUpdateOrCreate(addr, hw, flags, ttl)
	if err != nil {
		return stackFailure(cmd.ID, "set arp entry failed", err)
	}
	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"address": addr.String(),
			"slot":    slot,
			"status":  "set",
		},
	}
}

func (h *CommandHandler) handleARPDelete(_ context.Context, cmd Command) Response {
	var params AddressParams
	if resp := decodeParams(cmd, &params); resp != nil {
		return *resp
	}
	addr, err := netip.ParseAddr(params.Address)
	if err != nil {
		return failure(cmd.ID, ErrCodeInvalidParams, "invalid address: %v", err)
	}
	if err := h.stack.ARPDelete(addr); err != nil {
		return stackFailure(cmd.ID, "delete arp entry failed", err)
	}
	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"address": addr.String(),
			"status":  "deleted",
		},
	}
}

func (h *CommandHandler) handleARPList(_ context.Context, cmd Command) Response {
	entries := h.stack.ARPEntries()
	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"entries": entries,
			"count":   len(entries),
		},
	}
}

// ─── Routes ────────────────────────────────────────────────────────────────

func (h *CommandHandler) handleRouteAdd(_ context.Context, cmd Command) Response {
	var params RouteParams
	if resp := decodeParams(cmd, &params); resp != nil {
		return *resp
	}
	r, err := stack.RouteFromConfig(config.RouteConfig{
		Prefix:  params.Prefix,
		NextHop: params.NextHop,
		Device:  params.Device,
		Metric:  params.Metric,
	})
	if err != nil {
		return stackFailure(cmd.ID, "invalid route", err)
	}
	if params.Replace {
		err = h.stack.RouteReplace(r)
	} else {
		err = h.stack.RouteInsert(r)
	}
	if err != nil {
		return stackFailure(cmd.ID, "add route failed", err)
	}
	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"prefix": r.Prefix.String(),
			"status": "added",
		},
	}
}

func (h *CommandHandler) handleRouteDelete(_ context.Context, cmd Command) Response {
	var params RouteParams
	if resp := decodeParams(cmd, &params); resp != nil {
		return *resp
	}
	prefix, err := netip.ParsePrefix(params.Prefix)
	if err != nil {
		return failure(cmd.ID, ErrCodeInvalidParams, "invalid prefix: %v", err)
	}
	if err := h.stack.RouteDelete(prefix); err != nil {
		return stackFailure(cmd.ID, "delete route failed", err)
	}
	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"prefix": prefix.String(),
			"status": "deleted",
		},
	}
}

func (h *CommandHandler) handleRouteLookup(_ context.Context, cmd Command) Response {
	var params AddressParams
	if resp := decodeParams(cmd, &params); resp != nil {
		return *resp
	}
	addr, err := netip.ParseAddr(params.Address)
	if err != nil {
		return failure(cmd.ID, ErrCodeInvalidParams, "invalid address: %v", err)
	}
	r, err := h.stack.RouteLookup(addr)
	if err != nil {
		return stackFailure(cmd.ID, "route lookup failed", err)
	}
	return Response{ID: cmd.ID, Result: r.Info()}
}

func (h *CommandHandler) handleRouteDefault(_ context.Context, cmd Command) Response {
	var params FamilyParams
	if resp := decodeParams(cmd, &params); resp != nil {
		return *resp
	}
	family, err := core.ParseFamily(params.Family)
	if err != nil {
		return failure(cmd.ID, ErrCodeInvalidParams, "%v", err)
	}
	r, ok, err := h.stack.RouteDefault(family)
	if err != nil {
		return stackFailure(cmd.ID, "default route failed", err)
	}
	if !ok {
		return stackFailure(cmd.ID, "no default route", core.ErrNotFound)
	}
	return Response{ID: cmd.ID, Result: r.Info()}
}

func (h *CommandHandler) handleRouteList(_ context.Context, cmd Command) Response {
	var params FamilyParams
	if resp := decodeParams(cmd, &params); resp != nil {
		return *resp
	}
	family, err := core.ParseFamily(params.Family)
	if err != nil {
		return failure(cmd.ID, ErrCodeInvalidParams, "%v", err)
	}
	routes, err := h.stack.Routes(family)
	if err != nil {
		return stackFailure(cmd.ID, "list routes failed", err)
	}
	infos := make([]route.Info, 0, len(routes))
	for i := range routes {
		infos = append(infos, routes[i].Info())
	}
	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"family": family.String(),
			"routes": infos,
			"count":  len(infos),
		},
	}
}

// ─── Sockets ───────────────────────────────────────────────────────────────

func (h *CommandHandler) handleSocketOpen(_ context.Context, cmd Command) Response {
	var params SocketOpenParams
	if resp := decodeParams(cmd, &params); resp != nil {
		return *resp
	}
	typ, err := socket.ParseType(params.Type)
	if err != nil {
		return failure(cmd.ID, ErrCodeInvalidParams, "%v", err)
	}
	sd, err := h.stack.Socket(core.FamilyINET, typ, params.Protocol)
	if err != nil {
		return stackFailure(cmd.ID, "open socket failed", err)
	}
	result := SocketResult{SD: sd}
	if params.Port != nil {
		port, err := h.stack.Bind(sd, *params.Port)
		if err != nil {
			_ = h.stack.Close(sd)
			return stackFailure(cmd.ID, "bind socket failed", err)
		}
		result.Port = port
	}
	return Response{ID: cmd.ID, Result: result}
}

func (h *CommandHandler) handleSocketClose(_ context.Context, cmd Command) Response {
	var params SocketParams
	if resp := decodeParams(cmd, &params); resp != nil {
		return *resp
	}
	if err := h.stack.Close(params.SD); err != nil {
		return stackFailure(cmd.ID, "close socket failed", err)
	}
	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"sd":     params.SD,
			"status": "closed",
		},
	}
}

func (h *CommandHandler) handleSocketList(_ context.Context, cmd Command) Response {
	sockets := h.stack.Sockets()
	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"sockets": sockets,
			"count":   len(sockets),
		},
	}
}

func sockopt(params SockoptParams) (socket.Level, socket.Name, error) {
	level, err := socket.ParseLevel(params.Level)
	if err != nil {
		return 0, 0, err
	}
	name, err := socket.ParseName(level, params.Name)
	if err != nil {
		return 0, 0, err
	}
	return level, name, nil
}

func (h *CommandHandler) handleSockoptGet(_ context.Context, cmd Command) Response {
	var params SockoptParams
	if resp := decodeParams(cmd, &params); resp != nil {
		return *resp
	}
	level, name, err := sockopt(params)
	if err != nil {
		return failure(cmd.ID, ErrCodeInvalidParams, "%v", err)
	}
	out := make([]byte, socket.LingerSize)
	n, err := h.stack.GetOption(params.SD, level, name, out)
	if err != nil {
		return stackFailure(cmd.ID, "get option failed", err)
	}
	return Response{
		ID: cmd.ID,
		Result: SockoptResult{
			SD:    params.SD,
			Level: level.String(),
			Name:  socket.OptionName(level, name),
			Value: decodeOption(level, name, out[:n]),
			Raw:   hex.EncodeToString(out[:n]),
		},
	}
}

func (h *CommandHandler) handleSockoptSet(_ context.Context, cmd Command) Response {
	var params SockoptParams
	if resp := decodeParams(cmd, &params); resp != nil {
		return *resp
	}
	level, name, err := sockopt(params)
	if err != nil {
		return failure(cmd.ID, ErrCodeInvalidParams, "%v", err)
	}
	value, err := encodeOption(level, name, params.Value)
	if err != nil {
		return failure(cmd.ID, ErrCodeInvalidParams, "%v", err)
	}
	if err := h.stack.SetOption(params.SD, level, name, value); err != nil {
		return stackFailure(cmd.ID, "set option failed", err)
	}
	return Response{
		ID: cmd.ID,
		Result: SockoptResult{
			SD:    params.SD,
			Level: level.String(),
			Name:  socket.OptionName(level, name),
			Value: decodeOption(level, name, value),
			Raw:   hex.EncodeToString(value),
		},
	}
}

// ─── Devices ───────────────────────────────────────────────────────────────

func (h *CommandHandler) handleDevIoctl(_ context.Context, cmd Command) Response {
	var params IoctlParams
	if resp := decodeParams(cmd, &params); resp != nil {
		return *resp
	}
	req, arg, err := ioctlArg(params.Request, params.Value)
	if err != nil {
		return failure(cmd.ID, ErrCodeInvalidParams, "%v", err)
	}
	if err := h.stack.Ioctl(params.Device, req.code, arg); err != nil {
		return stackFailure(cmd.ID, "ioctl failed", err)
	}
	return Response{
		ID: cmd.ID,
		Result: IoctlResult{
			Device:  params.Device,
			Request: strings.ToUpper(params.Request),
			Value:   ioctlValue(req, arg),
			Raw:     hex.EncodeToString(arg),
		},
	}
}

func (h *CommandHandler) handleDevList(_ context.Context, cmd Command) Response {
	devices := h.stack.Devices()
	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"devices": devices,
			"count":   len(devices),
		},
	}
}

// ─── Daemon ────────────────────────────────────────────────────────────────

// handleConfigReload handles config_reload command.
func (h *CommandHandler) handleConfigReload(_ context.Context, cmd Command) Response {
	if h.configReloader == nil {
		return failure(cmd.ID, ErrCodeInternalError, "config reloader not available")
	}
	if err := h.configReloader.Reload(); err != nil {
		return failure(cmd.ID, ErrCodeInternalError, "reload config failed: %v", err)
	}
	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"status": "reloaded",
		},
	}
}

// handleDaemonShutdown triggers graceful daemon shutdown via the registered callback.
func (h *CommandHandler) handleDaemonShutdown(_ context.Context, cmd Command) Response {
	if h.shutdownFunc == nil {
		return failure(cmd.ID, ErrCodeInternalError, "shutdown handler not registered")
	}

	log.GetLogger().Info("daemon_shutdown command received, initiating graceful shutdown")
	go h.shutdownFunc() // let the response be sent first

	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"status": "shutting_down",
		},
	}
}

// DaemonStatus is the result of daemon_status.
type DaemonStatus struct {
	Version   string       `json:"version" yaml:"version" mapstructure:"version"`
	UptimeSec int64        `json:"uptime_sec" yaml:"uptime_sec" mapstructure:"uptime_sec"`
	Stack     stack.Status `json:"stack" yaml:"stack" mapstructure:"stack"`
}

func (h *CommandHandler) handleDaemonStatus(_ context.Context, cmd Command) Response {
	return Response{
		ID: cmd.ID,
		Result: DaemonStatus{
			Version:   Version,
			UptimeSec: int64(time.Since(h.startTime).Seconds()),
			Stack:     h.stack.Status(),
		},
	}
}
