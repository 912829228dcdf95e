// Package telemetry ingests live logger readings over MQTT.
//
// Loggers publish one compact JSON object per reading to
// hydro/<site>/<measurement>:
//
//	{"site": "Saddle Road", "meas": "Stage", "at": 1767222000, "val": 412.0}
//
// The topic carries the pair identity; payload site/meas fields override
// it, which is how names containing a topic separator stay addressable.
// Readings that land inside an already fetched window are appended to the
// series cache, and the pair is offered to the reprocess queue so the next
// runner cycle picks the new data up without a refetch.
//
// The listener is optional: runs with no broker configured never start
// one. Reconnects are handled by the MQTT client with the subscription
// re-established in the connect callback.
package telemetry

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	jsoniter "github.com/json-iterator/go"

	"hydroqc/internal/ratelimit"
	"hydroqc/qc"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Appender receives live samples for windows that were already fetched.
// *seriescache.Store satisfies it.
type Appender interface {
	AppendSample(site, measurement string, s qc.Sample) (bool, error)
}

// Pair identifies a site and measurement that received live data.
type Pair struct {
	Site        string
	Measurement string
}

// Reading is one decoded live sample.
type Reading struct {
	Site        string
	Measurement string
	At          time.Time
	Value       float64
}

// Options configures a Listener.
type Options struct {
	Broker    string // broker hostname, required
	Port      int    // defaults to 1883
	Topic     string // defaults to hydro/+/+
	ClientID  string
	Workers   int // parse/append goroutines, defaults to 2
	QueueSize int // ingest buffer and nudge capacity, defaults to 256

	Appender Appender // optional cache append target
}

// Listener maintains the broker connection and converts incoming
// readings into cache appends and reprocess nudges.
type Listener struct {
	opts   Options
	client mqtt.Client
	work   chan mqtt.Message
	nudges chan Pair

	wg       sync.WaitGroup
	stopOnce sync.Once

	received  atomic.Uint64
	appended  atomic.Uint64
	invalid   ratelimit.Steps
	errs      ratelimit.Steps
	dropped   ratelimit.Steps
	nudgeMiss ratelimit.Steps
}

// New validates options and prepares a stopped listener.
func New(opts Options) (*Listener, error) {
	if strings.TrimSpace(opts.Broker) == "" {
		return nil, fmt.Errorf("telemetry: broker is empty")
	}
	if opts.Port <= 0 {
		opts.Port = 1883
	}
	if strings.TrimSpace(opts.Topic) == "" {
		opts.Topic = "hydro/+/+"
	}
	if strings.TrimSpace(opts.ClientID) == "" {
		opts.ClientID = fmt.Sprintf("hydroqc-%d", time.Now().Unix())
	}
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	return &Listener{
		opts:      opts,
		work:      make(chan mqtt.Message, opts.QueueSize),
		nudges:    make(chan Pair, opts.QueueSize),
		invalid:   ratelimit.EveryN(100),
		errs:      ratelimit.EveryN(100),
		dropped:   ratelimit.EveryN(1000),
		nudgeMiss: ratelimit.EveryN(1000),
	}, nil
}

// Start spawns the workers and connects to the broker. The subscription
// happens in the connect handler so it survives reconnects.
func (l *Listener) Start() error {
	for i := 0; i < l.opts.Workers; i++ {
		l.wg.Add(1)
		go l.worker()
	}

	co := mqtt.NewClientOptions()
	co.AddBroker(fmt.Sprintf("tcp://%s:%d", l.opts.Broker, l.opts.Port))
	co.SetClientID(l.opts.ClientID)
	co.SetKeepAlive(60 * time.Second)
	co.SetPingTimeout(10 * time.Second)
	co.SetConnectTimeout(10 * time.Second)
	co.SetAutoReconnect(true)
	co.SetMaxReconnectInterval(time.Minute)
	co.SetOnConnectHandler(l.onConnect)
	co.SetConnectionLostHandler(l.onConnectionLost)

	l.client = mqtt.NewClient(co)
	log.Printf("telemetry: connecting to %s:%d", l.opts.Broker, l.opts.Port)
	token := l.client.Connect()
	if token.Wait() && token.Error() != nil {
		l.stopWorkers()
		return fmt.Errorf("telemetry: connect %s: %w", l.opts.Broker, token.Error())
	}
	return nil
}

func (l *Listener) onConnect(client mqtt.Client) {
	token := client.Subscribe(l.opts.Topic, 0, l.handleMessage)
	if token.Wait() && token.Error() != nil {
		log.Printf("telemetry: subscribe %s: %v", l.opts.Topic, token.Error())
		return
	}
	log.Printf("telemetry: subscribed to %s", l.opts.Topic)
}

func (l *Listener) onConnectionLost(_ mqtt.Client, err error) {
	log.Printf("telemetry: connection lost, reconnecting: %v", err)
}

// handleMessage runs on the MQTT client's callback goroutine and must
// not block it.
func (l *Listener) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	select {
	case l.work <- msg:
	default:
		if n, logOK := l.dropped.Inc(); logOK {
			log.Printf("telemetry: ingest queue full, dropped %d readings", n)
		}
	}
}

func (l *Listener) worker() {
	defer l.wg.Done()
	for msg := range l.work {
		l.process(msg.Topic(), msg.Payload())
	}
}

// process is the per-reading path, split out so tests can drive it
// without a broker.
func (l *Listener) process(topic string, payload []byte) {
	l.received.Add(1)
	r, ok := parseReading(topic, payload)
	if !ok {
		if n, logOK := l.invalid.Inc(); logOK {
			log.Printf("telemetry: %d unparseable readings, latest on %s", n, topic)
		}
		return
	}
	if l.opts.Appender != nil {
		added, err := l.opts.Appender.AppendSample(r.Site, r.Measurement, qc.Sample{At: r.At, Value: r.Value})
		if err != nil {
			if n, logOK := l.errs.Inc(); logOK {
				log.Printf("telemetry: cache append failed (%d errors): %v", n, err)
			}
		} else if added {
			l.appended.Add(1)
		}
	}
	select {
	case l.nudges <- Pair{Site: r.Site, Measurement: r.Measurement}:
	default:
		if n, logOK := l.nudgeMiss.Inc(); logOK {
			log.Printf("telemetry: reprocess queue full, dropped %d nudges", n)
		}
	}
}

// Nudges returns the channel of pairs that received live data. It is
// never closed; consumers stop reading when their context ends.
func (l *Listener) Nudges() <-chan Pair {
	return l.nudges
}

// IsConnected reports whether the broker connection is up.
func (l *Listener) IsConnected() bool {
	return l.client != nil && l.client.IsConnected()
}

// Stats returns readings received, samples appended to the cache,
// unparseable payloads, and readings dropped to backpressure.
func (l *Listener) Stats() (received, appended, invalid, dropped uint64) {
	return l.received.Load(), l.appended.Load(), l.invalid.Total(), l.dropped.Total()
}

// Stop unsubscribes, disconnects, and drains the workers.
func (l *Listener) Stop() {
	if l.client != nil && l.client.IsConnected() {
		l.client.Unsubscribe(l.opts.Topic)
		l.client.Disconnect(250)
	}
	l.stopWorkers()
}

func (l *Listener) stopWorkers() {
	l.stopOnce.Do(func() {
		close(l.work)
		l.wg.Wait()
	})
}

// reading mirrors the wire payload. At is unix seconds.
type reading struct {
	Site        string  `json:"site"`
	Measurement string  `json:"meas"`
	At          int64   `json:"at"`
	Value       float64 `json:"val"`
}

// parseReading decodes one payload, filling identity from the topic
// when the payload omits it.
func parseReading(topic string, payload []byte) (Reading, bool) {
	var w reading
	if err := json.Unmarshal(payload, &w); err != nil {
		return Reading{}, false
	}
	site, meas := splitTopic(topic)
	if w.Site != "" {
		site = w.Site
	}
	if w.Measurement != "" {
		meas = w.Measurement
	}
	if site == "" || meas == "" || w.At <= 0 {
		return Reading{}, false
	}
	return Reading{
		Site:        site,
		Measurement: meas,
		At:          time.Unix(w.At, 0).UTC(),
		Value:       w.Value,
	}, true
}

// splitTopic extracts site and measurement from hydro/<site>/<meas>.
func splitTopic(topic string) (site, measurement string) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 {
		return "", ""
	}
	return parts[1], parts[2]
}
