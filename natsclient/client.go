package natsclient

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/batchsync/errors"
)

// ConnectionStatus is where the client is in its connection lifecycle
type ConnectionStatus int32

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusCircuitOpen
)

var statusNames = map[ConnectionStatus]string{
	StatusDisconnected: "disconnected",
	StatusConnecting:   "connecting",
	StatusConnected:    "connected",
	StatusReconnecting: "reconnecting",
	StatusCircuitOpen:  "circuit_open",
}

func (s ConnectionStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// Both wrap the shared sentinels, so errors.IsTransient holds for them.
var (
	ErrNotConnected = fmt.Errorf("not connected to NATS: %w", errors.ErrNoConnection)
	ErrCircuitOpen  = fmt.Errorf("nats: %w", errors.ErrCircuitOpen)
)

// Snapshot is a point-in-time view of the client for status reporting
type Snapshot struct {
	Status      ConnectionStatus
	Failures    int32
	LastFailure time.Time
	RTT         time.Duration
}

// Client owns one NATS connection and its JetStream context. Connect and
// every JetStream call go through a circuit breaker.
type Client struct {
	url    string
	logger *slog.Logger
	status atomic.Int32

	circuit          *breaker
	circuitThreshold int32
	maxBackoff       time.Duration

	maxReconnects int
	reconnectWait time.Duration
	pingInterval  time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration
	clientName    string
	tlsConfig     *tls.Config

	// cleared by Close
	username string
	password string
	token    string

	// set once by options, read without locking
	onDisconnect   func(error)
	onReconnect    func()
	onHealthChange func(bool)

	streamMetrics   *streamMetrics
	metricsInterval time.Duration
	metricsCancel   context.CancelFunc

	healthInterval time.Duration
	watchCancel    context.CancelFunc
	watchDone      chan struct{}

	mu   sync.RWMutex // guards conn, js and the watcher handles
	conn *nats.Conn
	js   jetstream.JetStream

	closeOnce sync.Once
	closeErr  error
}

// NewClient applies opts over the defaults. It does not connect.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:              url,
		logger:           slog.Default(),
		circuitThreshold: 5,
		maxBackoff:       time.Minute,
		maxReconnects:    -1,
		reconnectWait:    2 * time.Second,
		pingInterval:     30 * time.Second,
		timeout:          5 * time.Second,
		drainTimeout:     30 * time.Second,
		metricsInterval:  30 * time.Second,
		healthInterval:   10 * time.Second,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	c.circuit = newBreaker(c.circuitThreshold, c.maxBackoff)
	c.setStatus(StatusDisconnected)
	c.logger.Debug("NATS client configured", "url", url)

	return c, nil
}

func (c *Client) URL() string {
	return c.url
}

func (c *Client) Status() ConnectionStatus {
	return ConnectionStatus(c.status.Load())
}

func (c *Client) setStatus(s ConnectionStatus) {
	c.status.Store(int32(s))
}

// IsHealthy is true only while connected
func (c *Client) IsHealthy() bool {
	return c.Status() == StatusConnected
}

// Conn is the underlying connection, nil before Connect and after Close
func (c *Client) Conn() *nats.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

// Failures counts failures since the last success
func (c *Client) Failures() int32 {
	return c.circuit.failures()
}

// Backoff is how long the circuit stays open the next time it trips
func (c *Client) Backoff() time.Duration {
	return c.circuit.wait()
}

// DrainTimeout bounds how long Close waits for pending publishes to flush
func (c *Client) DrainTimeout() time.Duration {
	return c.drainTimeout
}

// MetricsInterval is the stream gauge refresh period, 0 when polling is off
func (c *Client) MetricsInterval() time.Duration {
	return c.metricsInterval
}

func (c *Client) Snapshot() Snapshot {
	snap := Snapshot{
		Status:      c.Status(),
		Failures:    c.circuit.failures(),
		LastFailure: c.circuit.lastFailureAt(),
	}
	if rtt, err := c.RTT(); err == nil {
		snap.RTT = rtt
	}
	return snap
}

func (c *Client) fail() {
	tripped, wait := c.circuit.fail()
	c.logger.Debug("NATS operation failed", "failures", c.circuit.failures())
	if !tripped {
		return
	}

	current := c.Status()
	if current == StatusCircuitOpen {
		c.logger.Warn("Circuit breaker still open", "backoff", c.circuit.wait())
		return
	}
	if c.status.CompareAndSwap(int32(current), int32(StatusCircuitOpen)) {
		c.logger.Warn("Circuit breaker opened", "retry_in", wait)
		time.AfterFunc(wait, c.halfOpen)
	}
}

func (c *Client) succeed() {
	c.circuit.reset()
	c.status.CompareAndSwap(int32(StatusCircuitOpen), int32(StatusDisconnected))
}

// halfOpen lets the next Connect through after the backoff has elapsed
func (c *Client) halfOpen() {
	if c.status.CompareAndSwap(int32(StatusCircuitOpen), int32(StatusDisconnected)) {
		c.logger.Debug("Circuit breaker half-open")
	}
}

// WaitForConnection polls until the client is connected or ctx ends
func (c *Client) WaitForConnection(ctx context.Context) error {
	poll := time.NewTicker(10 * time.Millisecond)
	defer poll.Stop()

	for !c.IsHealthy() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", errors.ErrConnectionTimeout, ctx.Err())
		case <-poll.C:
		}
	}
	return nil
}

// ConnectionOptions is what Connect hands to nats.Connect
func (c *Client) ConnectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.PingInterval(c.pingInterval),
		nats.Timeout(c.timeout),
		nats.DrainTimeout(c.drainTimeout),
		nats.DisconnectErrHandler(c.handleDisconnect),
		nats.ReconnectHandler(c.handleReconnect),
		nats.ClosedHandler(c.handleClosed),
		nats.ErrorHandler(c.handleError),
	}

	if c.username != "" && c.password != "" {
		opts = append(opts, nats.UserInfo(c.username, c.password))
	}
	if c.token != "" {
		opts = append(opts, nats.Token(c.token))
	}
	if c.tlsConfig != nil {
		opts = append(opts, nats.Secure(c.tlsConfig))
	}
	if c.clientName != "" {
		opts = append(opts, nats.Name(c.clientName))
	}
	return opts
}

type dialResult struct {
	conn *nats.Conn
	err  error
}

// Connect dials the server and sets up JetStream. ctx bounds the dial only.
func (c *Client) Connect(ctx context.Context) error {
	if c.Status() == StatusCircuitOpen {
		return ErrCircuitOpen
	}

	c.setStatus(StatusConnecting)
	c.logger.Info("Connecting to NATS", "url", c.url)

	dialed := make(chan dialResult, 1)
	opts := c.ConnectionOptions()
	go func() {
		conn, err := nats.Connect(c.url, opts...)
		dialed <- dialResult{conn, err}
	}()

	var res dialResult
	select {
	case res = <-dialed:
	case <-ctx.Done():
		// A late connection is closed rather than leaked
		go func() {
			if late := <-dialed; late.conn != nil {
				late.conn.Close()
			}
		}()
		res.err = ctx.Err()
	}

	if res.err != nil {
		c.fail()
		if c.Status() == StatusCircuitOpen {
			return ErrCircuitOpen
		}
		c.setStatus(StatusDisconnected)
		return errors.WrapTransient(res.err, "Client", "Connect", "dial "+c.url)
	}

	js, err := jetstream.New(res.conn)
	if err != nil {
		c.logger.Warn("JetStream unavailable", "error", err)
	}

	c.mu.Lock()
	c.conn = res.conn
	c.js = js
	c.mu.Unlock()

	c.setStatus(StatusConnected)
	c.succeed()
	c.logger.Info("Connected to NATS", "url", c.serverURL(res.conn))

	if c.healthInterval > 0 {
		c.startWatch()
	}
	if c.streamMetrics != nil && c.metricsInterval > 0 {
		c.metricsCancel = c.streamMetrics.startPoller(context.Background(), c.metricsInterval)
	}
	c.notify(true, false)

	return nil
}

// serverURL names the server actually reached, which differs from url when
// a list of servers was configured
func (c *Client) serverURL(conn *nats.Conn) string {
	if u := conn.ConnectedUrlRedacted(); u != "" {
		return u
	}
	return c.url
}

// Close drains pending publishes within the drain timeout, or within ctx
// when that ends first, then closes the connection. Later calls return
// the first call's result.
func (c *Client) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		c.closeErr = c.close(ctx)
	})
	return c.closeErr
}

func (c *Client) close(ctx context.Context) error {
	c.stopWatch()
	if c.metricsCancel != nil {
		c.metricsCancel()
	}

	c.mu.Lock()
	conn := c.conn
	c.conn, c.js = nil, nil
	c.username, c.password, c.token = "", "", ""
	c.mu.Unlock()

	var err error
	if conn != nil {
		err = c.drain(ctx, conn)
		conn.Close()
	}
	c.setStatus(StatusDisconnected)

	if err != nil {
		c.logger.Error("NATS drain failed", "error", err)
	}
	return err
}

func (c *Client) drain(ctx context.Context, conn *nats.Conn) error {
	ctx, cancel := context.WithTimeout(ctx, c.drainTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- conn.Drain() }()

	select {
	case err := <-done:
		if err != nil {
			return errors.Wrap(err, "Client", "Close", "drain connection")
		}
		return nil
	case <-ctx.Done():
		if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
			return errors.WrapTransient(
				fmt.Errorf("drain did not finish: %w", ctx.Err()),
				"Client", "Close", "drain connection")
		}
		return errors.Wrap(ctx.Err(), "Client", "Close", "drain connection")
	}
}

func (c *Client) liveConn() (*nats.Conn, error) {
	conn := c.Conn()
	if conn == nil || !conn.IsConnected() {
		return nil, ErrNotConnected
	}
	return conn, nil
}

func (c *Client) RTT() (time.Duration, error) {
	conn, err := c.liveConn()
	if err != nil {
		return 0, err
	}
	return conn.RTT()
}

// Publish sends data on a core NATS subject
func (c *Client) Publish(ctx context.Context, subject string, data []byte) error {
	return c.PublishMsg(ctx, &nats.Msg{Subject: subject, Data: data})
}

// PublishMsg sends msg, headers included, on a core NATS subject
func (c *Client) PublishMsg(_ context.Context, msg *nats.Msg) error {
	conn, err := c.liveConn()
	if err != nil {
		return err
	}
	if err := conn.PublishMsg(msg); err != nil {
		return errors.WrapTransient(err, "Client", "PublishMsg", "publish to "+msg.Subject)
	}
	return nil
}

func (c *Client) JetStream() (jetstream.JetStream, error) {
	c.mu.RLock()
	js := c.js
	c.mu.RUnlock()

	if js == nil {
		return nil, errors.WrapTransient(ErrNotConnected, "Client", "JetStream", "get JetStream context")
	}
	return js, nil
}

// jetStream gates JetStream calls on the breaker and the connection state
func (c *Client) jetStream() (jetstream.JetStream, error) {
	switch c.Status() {
	case StatusConnected:
	case StatusCircuitOpen:
		return nil, ErrCircuitOpen
	default:
		return nil, ErrNotConnected
	}

	js, err := c.JetStream()
	if err != nil {
		c.fail()
	}
	return js, err
}

// CreateStream defines a stream. An existing stream of the same name is
// returned as is.
func (c *Client) CreateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	js, err := c.jetStream()
	if err != nil {
		return nil, err
	}

	stream, err := js.CreateStream(ctx, cfg)
	if isAlreadyExistsError(err) {
		stream, err = js.Stream(ctx, cfg.Name)
	}
	if err != nil {
		c.fail()
		c.streamMetrics.recordError("create_stream")
		return nil, errors.WrapTransient(err, "Client", "CreateStream", "create stream "+cfg.Name)
	}

	c.succeed()
	c.streamMetrics.trackStream(cfg.Name, stream)
	return stream, nil
}

// GetStream looks up a stream by name. A missing stream is an invalid
// error, anything else is transient.
func (c *Client) GetStream(ctx context.Context, name string) (jetstream.Stream, error) {
	js, err := c.jetStream()
	if err != nil {
		return nil, err
	}

	stream, err := js.Stream(ctx, name)
	switch {
	case err == nil:
	case stderrors.Is(err, jetstream.ErrStreamNotFound):
		return nil, errors.WrapInvalid(err, "Client", "GetStream", "look up stream "+name)
	default:
		c.fail()
		c.streamMetrics.recordError("get_stream")
		return nil, errors.WrapTransient(err, "Client", "GetStream", "look up stream "+name)
	}

	c.succeed()
	c.streamMetrics.trackStream(name, stream)
	return stream, nil
}

// PublishToStream publishes on a stream-bound subject and waits for the
// server ack. A subject no stream listens on is an invalid error.
func (c *Client) PublishToStream(
	ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt,
) (*jetstream.PubAck, error) {
	js, err := c.jetStream()
	if err != nil {
		return nil, err
	}

	ack, err := js.Publish(ctx, subject, data, opts...)
	switch {
	case err == nil:
	case stderrors.Is(err, jetstream.ErrNoStreamResponse):
		return nil, errors.WrapInvalid(err, "Client", "PublishToStream", "publish to "+subject)
	default:
		c.fail()
		c.streamMetrics.recordError("publish")
		return nil, errors.WrapTransient(err, "Client", "PublishToStream", "publish to "+subject)
	}

	c.succeed()
	return ack, nil
}

// notify reports a health change. Callbacks fired from nats.go handlers
// run on their own goroutine so they cannot stall the connection.
func (c *Client) notify(healthy, async bool) {
	fn := c.onHealthChange
	if fn == nil {
		return
	}
	if async {
		go fn(healthy)
		return
	}
	fn(healthy)
}

func (c *Client) handleDisconnect(_ *nats.Conn, err error) {
	c.setStatus(StatusReconnecting)
	c.logger.Warn("Disconnected from NATS", "error", err)

	if fn := c.onDisconnect; fn != nil {
		go fn(err)
	}
	c.notify(false, true)
}

func (c *Client) handleReconnect(_ *nats.Conn) {
	c.setStatus(StatusConnected)
	c.succeed()
	c.logger.Info("Reconnected to NATS", "url", c.url)

	if fn := c.onReconnect; fn != nil {
		go fn()
	}
	c.notify(true, true)
}

func (c *Client) handleClosed(_ *nats.Conn) {
	c.setStatus(StatusDisconnected)
	c.notify(false, true)
}

// Async errors such as slow consumers are logged, not counted as failures
func (c *Client) handleError(_ *nats.Conn, _ *nats.Subscription, err error) {
	c.logger.Error("NATS async error", "error", err)
}

// startWatch polls the connection every healthInterval. nats.go callbacks
// miss a server that stops answering without closing the socket.
func (c *Client) startWatch() {
	c.stopWatch()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	c.watchCancel, c.watchDone = cancel, done
	c.mu.Unlock()

	go func() {
		defer close(done)
		c.watch(ctx)
	}()
}

func (c *Client) watch(ctx context.Context) {
	tick := time.NewTicker(c.healthInterval)
	defer tick.Stop()

	was := c.IsHealthy()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}

		conn := c.Conn()
		if conn == nil {
			continue
		}
		healthy := conn.IsConnected()
		if healthy {
			if _, err := conn.RTT(); err != nil {
				healthy = false
			}
		}

		switch status := c.Status(); {
		case healthy && status != StatusConnected:
			c.setStatus(StatusConnected)
		case !healthy && status == StatusConnected:
			c.setStatus(StatusReconnecting)
		}

		if healthy != was {
			c.notify(healthy, false)
			was = healthy
		}
	}
}

// stopWatch cancels the watcher and waits for it to exit
func (c *Client) stopWatch() {
	c.mu.Lock()
	cancel, done := c.watchCancel, c.watchDone
	c.watchCancel, c.watchDone = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func isAlreadyExistsError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, jetstream.ErrStreamNameAlreadyInUse) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "stream name already in use")
}
