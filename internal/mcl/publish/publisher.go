// Package publish streams pose estimates to an MQTT broker while a run is
// in progress. Publishing is best effort: a disconnected broker or a failed
// publish is logged and counted, never fatal to the run.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/banshee-data/overlap-mcl/internal/mcl/localiser"
)

// Client is the subset of mqtt.Client the publisher needs.
type Client interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// PoseMessage is the JSON payload of a pose topic. Positions are in metres.
type PoseMessage struct {
	RunID     string   `json:"run_id,omitempty"`
	Frame     int      `json:"frame"`
	X         float64  `json:"x"`
	Y         float64  `json:"y"`
	Theta     float64  `json:"theta"`
	ErrorM    *float64 `json:"error_m,omitempty"`
	Converged bool     `json:"converged"`
	Observed  bool     `json:"observed"`
	Timestamp int64    `json:"timestamp"`
}

// Options configures a Publisher.
type Options struct {
	Prefix     string
	RunID      string
	Resolution float64
	QoS        byte
	Timeout    time.Duration
}

// Publisher publishes every frame record to <prefix>/pose and the latest
// convergence state, retained, to <prefix>/status. It implements
// localiser.Recorder.
type Publisher struct {
	client Client
	opts   Options

	published atomic.Int64
	dropped   atomic.Int64
	converged atomic.Bool
}

// NewPublisher wraps client. A nil client disables publishing.
func NewPublisher(client Client, opts Options) *Publisher {
	if opts.Prefix == "" {
		opts.Prefix = "overlap-mcl"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.Resolution <= 0 {
		opts.Resolution = 1
	}
	return &Publisher{client: client, opts: opts}
}

// PoseTopic is the topic carrying per-frame estimates.
func (p *Publisher) PoseTopic() string { return p.opts.Prefix + "/pose" }

// StatusTopic is the retained topic carrying the convergence state.
func (p *Publisher) StatusTopic() string { return p.opts.Prefix + "/status" }

// RecordFrame publishes rec. It never returns an error.
func (p *Publisher) RecordFrame(ctx context.Context, rec localiser.FrameRecord) error {
	if p.client == nil || !p.client.IsConnected() {
		p.dropped.Add(1)
		tracef("frame %d: broker not connected, pose dropped", rec.Frame)
		return nil
	}
	msg := PoseMessage{
		RunID:     p.opts.RunID,
		Frame:     rec.Frame,
		X:         rec.Estimate.X * p.opts.Resolution,
		Y:         rec.Estimate.Y * p.opts.Resolution,
		Theta:     rec.Estimate.Theta,
		Converged: rec.Converged,
		Observed:  rec.Observed,
		Timestamp: time.Now().Unix(),
	}
	if !math.IsNaN(rec.LocationError) {
		e := rec.LocationError
		msg.ErrorM = &e
	}
	if err := p.publish(p.PoseTopic(), false, msg); err != nil {
		p.dropped.Add(1)
		opsf("frame %d: %v", rec.Frame, err)
		return nil
	}
	p.published.Add(1)

	if rec.Converged && !p.converged.Swap(true) {
		status := map[string]interface{}{"run_id": p.opts.RunID, "converged": true, "frame": rec.Frame}
		if err := p.publish(p.StatusTopic(), true, status); err != nil {
			opsf("status: %v", err)
		}
	}
	return nil
}

func (p *Publisher) publish(topic string, retain bool, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", topic, err)
	}
	token := p.client.Publish(topic, p.opts.QoS, retain, payload)
	if !token.WaitTimeout(p.opts.Timeout) {
		return fmt.Errorf("publishing to %s: timed out after %s", topic, p.opts.Timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

// Published returns the number of poses delivered to the broker.
func (p *Publisher) Published() int64 { return p.published.Load() }

// Dropped returns the number of poses not delivered.
func (p *Publisher) Dropped() int64 { return p.dropped.Load() }

// Connect dials broker and waits up to timeout for the session.
func Connect(broker, clientID string, timeout time.Duration) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	if clientID == "" {
		clientID = "overlap-mcl"
	}
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(timeout)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		opsf("connection to %s lost: %v", broker, err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("connecting to %s: timed out after %s", broker, timeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", broker, err)
	}
	diagf("connected to %s as %s", broker, clientID)
	return client, nil
}
