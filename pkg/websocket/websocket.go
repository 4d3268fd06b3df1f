package websocketPkg

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	"github.com/yashindibhagya/GestureConnect/pkg/landmark"
)

var ErrClientClosed = errors.New("pose estimator client closed")

type estimateRequest struct {
	Frame string `json:"frame"`
	landmark.Options
}

type slot struct {
	id   int
	mu   sync.Mutex
	conn *websocket.Conn
}

// webSocketClient talks to an external landmark service over a small pool of
// websocket connections. Each connection carries one request at a time.
type webSocketClient struct {
	url          string
	log          *logrus.Logger
	slots        chan *slot
	all          []*slot
	pingInterval time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration
	done         chan struct{}
	closeOnce    sync.Once
}

func NewPoseEstimatorClient(log *logrus.Logger, url string, poolSize int) landmark.Estimator {
	if poolSize < 1 {
		poolSize = 1
	}

	client := &webSocketClient{
		url:          url,
		log:          log,
		slots:        make(chan *slot, poolSize),
		pingInterval: 30 * time.Second,
		readTimeout:  10 * time.Second,
		writeTimeout: 5 * time.Second,
		done:         make(chan struct{}),
	}

	for i := 0; i < poolSize; i++ {
		s := &slot{id: i}
		client.all = append(client.all, s)
		client.slots <- s
	}

	go client.connectInBackground(client.all[0])

	return client
}

func (c *webSocketClient) connectInBackground(s *slot) {
	if _, err := c.connection(s); err != nil {
		c.log.Warnf("Initial connection to pose estimator failed: %v. Will retry on demand.", err)
		return
	}
	c.log.Infof("Successfully connected to pose estimator at %s", c.url)
}

// connection returns the slot's live connection, dialing a new one if needed.
func (c *webSocketClient) connection(s *slot) (*websocket.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-c.done:
		return nil, ErrClientClosed
	default:
	}

	if s.conn != nil {
		return s.conn, nil
	}

	if c.url == "" {
		return nil, errors.New("pose estimator URL not configured")
	}

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.Dial(c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", c.url, err)
	}

	conn.SetPingHandler(func(appData string) error {
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(c.writeTimeout))
		if err != nil {
			c.log.Debugf("Error sending pong: %v", err)
		}
		return nil
	})

	s.conn = conn
	go c.keepAlive(s, conn)

	return conn, nil
}

func (c *webSocketClient) drop(s *slot, conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == conn {
		s.conn = nil
	}
	conn.Close()
}

func (c *webSocketClient) keepAlive(s *slot, conn *websocket.Conn) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		current := s.conn
		s.mu.Unlock()
		if current != conn {
			return
		}

		err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(c.writeTimeout))
		if err != nil {
			c.log.Warnf("Ping failed for pose estimator connection %d, marking it as dead: %v", s.id, err)
			c.drop(s, conn)
			return
		}
	}
}

func (c *webSocketClient) Estimate(ctx context.Context, image []byte, opts landmark.Options) (*landmark.Result, error) {
	var s *slot
	select {
	case s = <-c.slots:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrClientClosed
	}
	defer func() { c.slots <- s }()

	conn, err := c.connection(s)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to pose estimator: %w", err)
	}

	payload, err := jsoniter.Marshal(estimateRequest{
		Frame:   base64.StdEncoding.EncodeToString(image),
		Options: opts,
	})
	if err != nil {
		return nil, fmt.Errorf("error marshaling estimate request: %w", err)
	}

	// Closing the connection is the only safe way to abort a blocked read.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer func() {
		if !stop() {
			c.drop(s, conn)
		}
	}()

	conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.drop(s, conn)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("error sending frame: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	_, message, err := conn.ReadMessage()
	if err != nil {
		c.drop(s, conn)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("error reading landmarks: %w", err)
	}

	conn.SetReadDeadline(time.Time{})
	conn.SetWriteDeadline(time.Time{})

	var result landmark.Result
	if err := jsoniter.Unmarshal(message, &result); err != nil {
		return nil, fmt.Errorf("error unmarshaling landmarks: %w", err)
	}

	if result.Error != "" {
		return nil, fmt.Errorf("pose estimator error: %s", result.Error)
	}

	return &result, nil
}

func (c *webSocketClient) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		for _, s := range c.all {
			s.mu.Lock()
			if s.conn != nil {
				s.conn.Close()
				s.conn = nil
			}
			s.mu.Unlock()
		}
	})
	return nil
}
