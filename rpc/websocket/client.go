package websocket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	bapitypes "github.com/blockberries/bapi/types"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/blockberries/nodegate/auth"
	"github.com/blockberries/nodegate/events"
	"github.com/blockberries/nodegate/logging"
	"github.com/blockberries/nodegate/metrics"
	"github.com/blockberries/nodegate/rpc"
	"github.com/blockberries/nodegate/rpc/jsonrpc"
)

// Stream methods handled by the connection itself.
const (
	MethodSubscribe      = "subscribe"
	MethodUnsubscribe    = "unsubscribe"
	MethodUnsubscribeAll = "unsubscribe_all"

	// MethodSubscription is the method of server-pushed notifications.
	MethodSubscription = "subscription"
)

// Client is one connected WebSocket client.
type Client struct {
	id         string
	server     *Server
	conn       net.Conn
	principal  *auth.Principal
	remoteAddr string
	logger     *logging.Logger

	mu            sync.Mutex
	subscriptions map[string]*subscription
	nextSub       uint64

	writeMu  sync.Mutex
	sendCh   chan []byte
	inFlight chan struct{}
	calls    sync.WaitGroup

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// subscription re-runs a table method and pushes its result when it changes.
type subscription struct {
	id     string
	method string
	params json.RawMessage
	last   []byte

	// refreshing serializes refreshes so pushes follow chain order.
	refreshing sync.Mutex
}

func newClient(s *Server, id string, conn net.Conn, p *auth.Principal, remoteAddr string) *Client {
	ctx, cancel := context.WithCancel(s.ctx)
	ctx = auth.NewContext(ctx, p)
	return &Client{
		id:            id,
		server:        s,
		conn:          conn,
		principal:     p,
		remoteAddr:    remoteAddr,
		logger:        s.logger.With(logging.ClientID(id), logging.RemoteAddr(remoteAddr)),
		subscriptions: make(map[string]*subscription),
		sendCh:        make(chan []byte, s.cfg.SendBuffer),
		inFlight:      make(chan struct{}, s.cfg.MaxInFlight),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// run serves the connection until the client leaves or the server stops.
func (c *Client) run() {
	var wg sync.WaitGroup

	var changes <-chan bapitypes.Event
	if c.server.bus != nil {
		ch, err := c.server.bus.Subscribe(c.ctx, c.id, events.QueryAll{})
		if err != nil {
			c.logger.Warn("change notifications unavailable", logging.Error(err))
		} else {
			changes = ch
		}
	}

	wg.Add(3)
	go func() {
		defer wg.Done()
		c.writeLoop()
	}()
	go func() {
		defer wg.Done()
		c.readLoop()
	}()
	go func() {
		defer wg.Done()
		c.pingLoop()
	}()
	if changes != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.changeLoop(changes)
		}()
	}

	<-c.ctx.Done()
	c.Close()
	wg.Wait()
	c.calls.Wait()
}

// Close disconnects the client. It is safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		if c.server.bus != nil {
			c.server.bus.UnsubscribeAll(c.id)
		}

		c.writeMu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = ws.WriteFrame(c.conn, ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, "")))
		c.writeMu.Unlock()

		_ = c.conn.Close()
	})
}

// lockedWriter serializes control frame replies with the writer goroutine.
type lockedWriter struct {
	c *Client
}

func (w lockedWriter) Write(p []byte) (int, error) {
	w.c.writeMu.Lock()
	defer w.c.writeMu.Unlock()
	_ = w.c.conn.SetWriteDeadline(time.Now().Add(w.c.server.cfg.WriteTimeout))
	return w.c.conn.Write(p)
}

func (c *Client) readLoop() {
	defer c.cancel()

	control := func(h ws.Header, r io.Reader) error {
		return wsutil.ControlHandler{
			Src:                 r,
			Dst:                 lockedWriter{c},
			State:               ws.StateServerSide,
			DisableSrcCiphering: true,
		}.Handle(h)
	}
	rd := &wsutil.Reader{
		Source:         c.conn,
		State:          ws.StateServerSide,
		CheckUTF8:      true,
		OnIntermediate: control,
	}

	for {
		if c.server.cfg.ReadTimeout > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(c.server.cfg.ReadTimeout))
		}

		hdr, err := rd.NextFrame()
		if err != nil {
			c.logReadErr(err)
			return
		}
		if hdr.OpCode.IsControl() {
			if err := control(hdr, rd); err != nil {
				c.logReadErr(err)
				return
			}
			continue
		}
		if hdr.OpCode&(ws.OpText|ws.OpBinary) == 0 {
			if err := rd.Discard(); err != nil {
				return
			}
			continue
		}

		data, err := io.ReadAll(io.LimitReader(rd, c.server.cfg.MaxMessageBytes+1))
		if err != nil {
			c.logReadErr(err)
			return
		}
		if int64(len(data)) > c.server.cfg.MaxMessageBytes {
			c.logger.Warn("closing client", logging.Error(ErrMessageTooLarge))
			return
		}

		c.handleMessage(data)
	}
}

func (c *Client) logReadErr(err error) {
	var closed wsutil.ClosedError
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.As(err, &closed) || c.ctx.Err() != nil {
		return
	}
	c.logger.Debug("read failed", logging.Error(err))
}

func (c *Client) writeLoop() {
	defer c.cancel()

	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-c.sendCh:
			if err := c.writeMessage(ws.OpText, msg); err != nil {
				return
			}
		}
	}
}

func (c *Client) writeMessage(op ws.OpCode, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.server.cfg.WriteTimeout))
	return wsutil.WriteServerMessage(c.conn, op, data)
}

func (c *Client) pingLoop() {
	if c.server.cfg.PingInterval <= 0 {
		<-c.ctx.Done()
		return
	}

	ticker := time.NewTicker(c.server.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if err := c.writeMessage(ws.OpPing, nil); err != nil {
				c.cancel()
				return
			}
		}
	}
}

// changeLoop refreshes every subscription when the chain changes.
func (c *Client) changeLoop(changes <-chan bapitypes.Event) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			// Coalesce a burst of changes into one refresh.
			for drained := false; !drained; {
				select {
				case _, ok := <-changes:
					if !ok {
						return
					}
				default:
					drained = true
				}
			}
			c.refreshAll()
		}
	}
}

func (c *Client) refreshAll() {
	c.mu.Lock()
	subs := make([]*subscription, 0, len(c.subscriptions))
	for _, sub := range c.subscriptions {
		subs = append(subs, sub)
	}
	c.mu.Unlock()

	for _, sub := range subs {
		c.refresh(sub)
	}
}

// refresh evaluates sub and pushes the result if it differs from the last push.
func (c *Client) refresh(sub *subscription) {
	sub.refreshing.Lock()
	defer sub.refreshing.Unlock()

	result, rpcErr := c.server.dispatcher.Call(c.ctx, metrics.TransportWebSocket, c.principal, sub.method, sub.params)
	if c.ctx.Err() != nil {
		return
	}

	params := notificationParams{Subscription: sub.id, Error: rpcErr}
	if rpcErr == nil {
		data, err := json.Marshal(result)
		if err != nil {
			c.logger.Error("failed to encode result", logging.Method(sub.method), logging.Error(err))
			return
		}
		params.Result = data
	}

	payload, err := json.Marshal(params)
	if err != nil {
		return
	}

	c.mu.Lock()
	current, ok := c.subscriptions[sub.id]
	changed := ok && current == sub && !bytes.Equal(sub.last, payload)
	if changed {
		sub.last = payload
	}
	c.mu.Unlock()

	if changed {
		c.send(notification{JSONRPC: jsonrpc.Version, Method: MethodSubscription, Params: payload})
	}
}

// handleMessage answers one client message.
func (c *Client) handleMessage(data []byte) {
	var req jsonrpc.Request
	if err := json.Unmarshal(data, &req); err != nil {
		c.send(jsonrpc.NewErrorResponse(nil, rpc.ErrParseError))
		return
	}
	if req.JSONRPC != jsonrpc.Version || req.Method == "" {
		if !req.IsNotification() {
			c.send(jsonrpc.NewErrorResponse(req.ID, rpc.ErrInvalidRequest))
		}
		return
	}

	switch req.Method {
	case MethodSubscribe:
		c.handleSubscribe(&req)
	case MethodUnsubscribe:
		c.handleUnsubscribe(&req)
	case MethodUnsubscribeAll:
		c.handleUnsubscribeAll(&req)
	default:
		c.handleCall(&req)
	}
}

// handleCall runs a table method without blocking the read loop, so a
// disconnect is noticed and cancels the call.
func (c *Client) handleCall(req *jsonrpc.Request) {
	select {
	case c.inFlight <- struct{}{}:
	case <-c.ctx.Done():
		return
	}

	c.calls.Add(1)
	go func() {
		defer c.calls.Done()
		defer func() { <-c.inFlight }()

		resp := c.server.calls.Process(c.ctx, metrics.TransportWebSocket, c.principal, req)
		if resp != nil && c.ctx.Err() == nil {
			c.send(resp)
		}
	}()
}

type subscribeParams struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type unsubscribeParams struct {
	Subscription string `json:"subscription"`
}

// SubscribeResult answers a subscribe request.
type SubscribeResult struct {
	Subscription string `json:"subscription"`
}

type notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// notificationParams is the payload of a subscription notification.
type notificationParams struct {
	Subscription string          `json:"subscription"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        *rpc.Error      `json:"error,omitempty"`
}

func (c *Client) handleSubscribe(req *jsonrpc.Request) {
	var p subscribeParams
	if err := decodeParams(req.Params, &p, "method", "params"); err != nil || p.Method == "" {
		c.reply(req, nil, rpc.NewError(rpc.CodeInvalidParams, "Invalid params", "subscribe needs a method"))
		return
	}

	m, ok := c.server.dispatcher.Table().Lookup(p.Method)
	if !ok {
		c.reply(req, nil, rpc.ErrMethodNotFound)
		return
	}
	if err := c.server.dispatcher.Gate().Authorize(c.principal, m.Name); err != nil {
		c.server.metrics.IncAuthFailures(metrics.TransportWebSocket, metrics.ReasonMissingClaim)
		c.reply(req, nil, rpc.ToError(err))
		return
	}
	if _, err := rpc.DecodeArgs(m, p.Params); err != nil {
		c.reply(req, nil, rpc.ToError(err))
		return
	}

	c.mu.Lock()
	if limit := c.server.cfg.MaxSubscriptionsPerClient; limit > 0 && len(c.subscriptions) >= limit {
		c.mu.Unlock()
		c.reply(req, nil, rpc.NewError(rpc.CodeInvalidRequest, "Invalid Request", ErrMaxSubscriptions.Error()))
		return
	}
	c.nextSub++
	sub := &subscription{
		id:     strconv.FormatUint(c.nextSub, 10),
		method: m.Name,
		params: p.Params,
	}
	c.mu.Unlock()

	// Register after the reply so no notification precedes it. Subscribes
	// are handled by the read loop one at a time, so the cap still holds.
	c.reply(req, SubscribeResult{Subscription: sub.id}, nil)
	c.mu.Lock()
	c.subscriptions[sub.id] = sub
	c.mu.Unlock()
	c.logger.Debug("subscribed", logging.Subscription(sub.id), logging.Method(sub.method))

	c.calls.Add(1)
	go func() {
		defer c.calls.Done()
		c.refresh(sub)
	}()
}

func (c *Client) handleUnsubscribe(req *jsonrpc.Request) {
	var p unsubscribeParams
	if err := decodeParams(req.Params, &p, "subscription"); err != nil || p.Subscription == "" {
		c.reply(req, nil, rpc.NewError(rpc.CodeInvalidParams, "Invalid params", "unsubscribe needs a subscription id"))
		return
	}

	c.mu.Lock()
	_, ok := c.subscriptions[p.Subscription]
	delete(c.subscriptions, p.Subscription)
	c.mu.Unlock()

	c.reply(req, ok, nil)
}

func (c *Client) handleUnsubscribeAll(req *jsonrpc.Request) {
	c.mu.Lock()
	n := len(c.subscriptions)
	c.subscriptions = make(map[string]*subscription)
	c.mu.Unlock()

	c.reply(req, n, nil)
}

// decodeParams accepts params as an object or as an array ordered by names.
func decodeParams(raw json.RawMessage, dst any, names ...string) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return errors.New("missing params")
	}
	if raw[0] == '[' {
		var positional []json.RawMessage
		if err := json.Unmarshal(raw, &positional); err != nil {
			return err
		}
		if len(positional) > len(names) {
			return errors.New("too many params")
		}
		named := make(map[string]json.RawMessage, len(positional))
		for i, v := range positional {
			named[names[i]] = v
		}
		var err error
		if raw, err = json.Marshal(named); err != nil {
			return err
		}
	}
	return json.Unmarshal(raw, dst)
}

func (c *Client) reply(req *jsonrpc.Request, result any, rpcErr *rpc.Error) {
	if req.IsNotification() {
		return
	}
	if req.JSONRPC != jsonrpc.Version {
		c.send(jsonrpc.NewErrorResponse(req.ID, rpc.ErrInvalidRequest))
		return
	}
	if rpcErr != nil {
		c.send(jsonrpc.NewErrorResponse(req.ID, rpcErr))
		return
	}
	resp, err := jsonrpc.NewResponse(req.ID, result)
	if err != nil {
		c.send(jsonrpc.NewErrorResponse(req.ID, rpc.ErrInternalError))
		return
	}
	c.send(resp)
}

// send queues v for the writer. A client that cannot keep up is disconnected.
func (c *Client) send(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("failed to encode message", logging.Error(err))
		return
	}

	select {
	case c.sendCh <- data:
	case <-c.ctx.Done():
	default:
		c.logger.Warn("closing client", logging.Error(ErrSlowConsumer))
		c.cancel()
	}
}

func writeUnauthorized(w http.ResponseWriter, err error) {
	data, _ := json.Marshal(jsonrpc.NewErrorResponse(nil, rpc.ToError(err)))
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write(data)
}

func headerContainsToken(h http.Header, name, token string) bool {
	for _, v := range h.Values(name) {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}
