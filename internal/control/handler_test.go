package control

import (
	"encoding/json"
	"strconv"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Youri-program/radarzuyd/internal/config"
)

type stubToken struct{}

func (stubToken) Wait() bool                     { return true }
func (stubToken) WaitTimeout(time.Duration) bool { return true }
func (stubToken) Error() error                   { return nil }
func (stubToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type publishedMsg struct {
	topic   string
	payload []byte
}

type stubClient struct {
	mu        sync.Mutex
	published []publishedMsg
}

func (c *stubClient) IsConnected() bool      { return true }
func (c *stubClient) IsConnectionOpen() bool { return true }
func (c *stubClient) Connect() mqtt.Token    { return stubToken{} }
func (c *stubClient) Disconnect(quiesce uint) {}
func (c *stubClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, publishedMsg{topic, payload.([]byte)})
	return stubToken{}
}
func (c *stubClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	return stubToken{}
}
func (c *stubClient) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	return stubToken{}
}
func (c *stubClient) Unsubscribe(topics ...string) mqtt.Token            { return stubToken{} }
func (c *stubClient) AddRoute(topic string, callback mqtt.MessageHandler) {}
func (c *stubClient) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.ClientOptionsReader{}
}

func (c *stubClient) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.published)
}

func (c *stubClient) last(t *testing.T) (string, Response) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.published) == 0 {
		t.Fatal("no response published")
	}
	msg := c.published[len(c.published)-1]
	var resp Response
	if err := json.Unmarshal(msg.payload, &resp); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	return msg.topic, resp
}

type stubMessage struct{ payload []byte }

func (m stubMessage) Duplicate() bool   { return false }
func (m stubMessage) Qos() byte         { return 1 }
func (m stubMessage) Retained() bool    { return false }
func (m stubMessage) Topic() string     { return "radar/control/test" }
func (m stubMessage) MessageID() uint16 { return 1 }
func (m stubMessage) Payload() []byte   { return m.payload }
func (m stubMessage) Ack()              {}

func testMQTTConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker:   "localhost:1883",
		ClientID: "radar-test",
		Topics: config.MQTTTopics{
			Control: "radar/control/test",
			Events:  "radar/events/test",
			Health:  "radar/health/test",
		},
		QoS: map[string]byte{"control": 1, "events": 1, "health": 0},
	}
}

func TestHandler_MarkThreatCommand(t *testing.T) {
	client := &stubClient{}
	h := NewHandler(testMQTTConfig(), client, CommandCallbacks{
		OnMarkThreat: func() map[string]interface{} {
			return map[string]interface{}{
				"ok":          true,
				"tracking_on": true,
				"mission_id":  "mission_1748779200000",
			}
		},
	})

	h.handleCommand(Command{Command: "mark_threat"})

	topic, resp := client.last(t)
	if topic != "radar/control/test/response" {
		t.Errorf("response topic = %q, want radar/control/test/response", topic)
	}
	if resp.CommandAck != "mark_threat" {
		t.Errorf("CommandAck = %q, want mark_threat", resp.CommandAck)
	}
	if resp.Status != "success" {
		t.Errorf("Status = %q, want success", resp.Status)
	}
	if resp.Data["mission_id"] != "mission_1748779200000" {
		t.Errorf("Data mission_id = %v", resp.Data["mission_id"])
	}
	if _, err := strconv.ParseInt(resp.Timestamp, 10, 64); err != nil {
		t.Errorf("Timestamp %q is not unix milliseconds", resp.Timestamp)
	}
}

func TestHandler_UnknownCommand(t *testing.T) {
	client := &stubClient{}
	h := NewHandler(testMQTTConfig(), client, CommandCallbacks{})

	h.handleCommand(Command{Command: "self_destruct"})

	_, resp := client.last(t)
	if resp.Status != "error" {
		t.Errorf("Status = %q, want error", resp.Status)
	}
	if resp.Error == "" {
		t.Error("unknown command should carry an error message")
	}
}

func TestHandler_MissingCallback(t *testing.T) {
	client := &stubClient{}
	h := NewHandler(testMQTTConfig(), client, CommandCallbacks{})

	h.handleCommand(Command{Command: "get_status"})

	_, resp := client.last(t)
	if resp.Status != "error" {
		t.Errorf("Status = %q, want error when callback is unset", resp.Status)
	}
}

func TestHandler_UpdateConfigPassesMap(t *testing.T) {
	client := &stubClient{}
	var got map[string]interface{}
	h := NewHandler(testMQTTConfig(), client, CommandCallbacks{
		OnUpdateConfig: func(cfg map[string]interface{}) error {
			got = cfg
			return nil
		},
	})

	h.handleCommand(Command{
		Command: "update_config",
		Config:  map[string]interface{}{"smooth_factor": 0.5},
	})

	if got["smooth_factor"] != 0.5 {
		t.Errorf("callback received %v, want smooth_factor 0.5", got)
	}
	_, resp := client.last(t)
	if resp.Status != "success" {
		t.Errorf("Status = %q, want success", resp.Status)
	}
}

// Property: the shutdown ack is published before the shutdown callback
// runs, so the requester always sees it.
func TestHandler_ShutdownRespondsBeforeCallback(t *testing.T) {
	client := &stubClient{}
	publishedAtCallback := make(chan int, 1)
	h := NewHandler(testMQTTConfig(), client, CommandCallbacks{
		OnShutdown: func() error {
			publishedAtCallback <- client.count()
			return nil
		},
	})

	h.handleCommand(Command{Command: "shutdown"})

	select {
	case n := <-publishedAtCallback:
		if n != 1 {
			t.Errorf("responses published before shutdown callback = %d, want 1", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown callback never ran")
	}
}

func TestHandler_MessageHandlerBadJSON(t *testing.T) {
	client := &stubClient{}
	h := NewHandler(testMQTTConfig(), client, CommandCallbacks{})

	h.messageHandler(client, stubMessage{payload: []byte("{not json")})

	_, resp := client.last(t)
	if resp.CommandAck != "unknown" || resp.Status != "error" {
		t.Errorf("bad JSON response = %+v, want unknown/error ack", resp)
	}
}
