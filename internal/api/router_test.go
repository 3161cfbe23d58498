package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haadziqf/iot-hub-control-dashboard/internal/config"
	"github.com/haadziqf/iot-hub-control-dashboard/internal/events"
	"github.com/haadziqf/iot-hub-control-dashboard/internal/hub"
	"github.com/haadziqf/iot-hub-control-dashboard/internal/telemetry"
)

func TestLogin(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/auth/login", LoginRequest{Username: "admin", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/auth/login", LoginRequest{Username: "admin"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	cookie := ts.login(t)
	assert.True(t, cookie.HttpOnly)

	rec = ts.do(t, http.MethodGet, "/api/auth/me", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"username":"admin"`)

	last := ts.events.GetLast(2)
	require.Len(t, last, 2)
	assert.Equal(t, events.EventLogin, last[0].Type)
	assert.Equal(t, events.EventLoginFailed, last[1].Type)
}

func TestLogin_RateLimited(t *testing.T) {
	ts := newTestServer(t)

	for i := 0; i < 5; i++ {
		rec := ts.do(t, http.MethodPost, "/api/auth/login", LoginRequest{Username: "admin", Password: "nope"})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	rec := ts.do(t, http.MethodPost, "/api/auth/login", LoginRequest{Username: "admin", Password: "password"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestProtectedRoutes_RequireSession(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/api/status", "/api/devices", "/api/messages", "/api/events"} {
		rec := ts.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}

	rec := ts.do(t, http.MethodGet, "/api/status", nil, &http.Cookie{Name: "iothub_token", Value: "garbage"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestNoAuthMode(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) { c.Server.NoAuth = true })

	rec := ts.do(t, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Status    string `json:"status"`
		Connected bool   `json:"connected"`
	}
	decodeBody(t, rec, &resp)
	assert.True(t, resp.Connected)
	assert.Equal(t, "Connected", resp.Status)

	rec = ts.do(t, http.MethodGet, "/api/auth/me", nil)
	assert.Contains(t, rec.Body.String(), "anonymous")
}

func TestConnect_OverlaysDefaults(t *testing.T) {
	ts := newTestServer(t)
	cookie := ts.login(t)

	rec := ts.do(t, http.MethodPost, "/api/connection", map[string]any{
		"host": "test.mosquitto.org", "scheme": hub.SchemeWS, "port": 8080,
	}, cookie)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	require.Len(t, ts.dash.connects, 1)
	got := ts.dash.connects[0]
	assert.Equal(t, "test.mosquitto.org", got.Host)
	assert.Equal(t, 8080, got.Port)
	assert.Equal(t, "/mqtt", got.Path)
	assert.Empty(t, got.ClientID)

	// empty body uses the configured broker
	rec = ts.do(t, http.MethodPost, "/api/connection", nil, cookie)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, config.DefaultBrokerHost, ts.dash.connects[1].Host)

	assert.Equal(t, events.EventConnect, ts.events.GetLast(1)[0].Type)
}

func TestConnect_ValidationFields(t *testing.T) {
	ts := newTestServer(t)
	cookie := ts.login(t)

	rec := ts.do(t, http.MethodPost, "/api/connection", map[string]any{"host": "", "port": 70000}, cookie)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	decodeBody(t, rec, &resp)
	assert.Contains(t, resp.Fields, "host")
	assert.Contains(t, resp.Fields, "port")
	assert.False(t, ts.events.GetLast(1)[0].Success)
}

func TestConnectionDefaults_HidesPassword(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) {
		c.MQTT.Connection.Username = "user"
		c.MQTT.Connection.Password = "s3cret"
	})
	cookie := ts.login(t)

	rec := ts.do(t, http.MethodGet, "/api/connection/defaults", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "s3cret")
	assert.Regexp(t, `"clientId":"iothub_[0-9a-f]{8}"`, rec.Body.String())
}

func TestDisconnect(t *testing.T) {
	ts := newTestServer(t)
	cookie := ts.login(t)

	rec := ts.do(t, http.MethodDelete, "/api/connection", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, ts.dash.disconnects)
}

func TestHubErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{hub.ErrNotConnected, http.StatusConflict},
		{hub.ErrInvalidTopic, http.StatusBadRequest},
		{hub.ErrInvalidQoS, http.StatusBadRequest},
		{hub.ErrClosed, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			ts := newTestServer(t)
			cookie := ts.login(t)
			ts.dash.err = tt.err

			rec := ts.do(t, http.MethodPost, "/api/subscriptions", SubscribeRequest{Topic: "a/b"}, cookie)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestSubscriptions(t *testing.T) {
	ts := newTestServer(t)
	cookie := ts.login(t)

	rec := ts.do(t, http.MethodPost, "/api/subscriptions", SubscribeRequest{Topic: "haadziq/#", QoS: 1}, cookie)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []hub.Subscription{{Topic: "haadziq/#", QoS: 1}}, ts.dash.subscribes)

	rec = ts.do(t, http.MethodPost, "/api/subscriptions", "{not json", cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/api/subscriptions?topic=haadziq/%23", nil, cookie)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"haadziq/#"}, ts.dash.unsubscribes)

	ts.dash.update(func(s *hub.Snapshot) { s.Subscriptions = []hub.Subscription{{Topic: "x", QoS: 0}} })
	rec = ts.do(t, http.MethodGet, "/api/subscriptions", nil, cookie)
	assert.JSONEq(t, `{"subscriptions":[{"topic":"x","qos":0}]}`, rec.Body.String())
}

func TestPublish_RecordsHistory(t *testing.T) {
	ts := newTestServer(t)
	cookie := ts.login(t)

	rec := ts.do(t, http.MethodPost, "/api/publish", PublishRequest{Topic: "haadziq/led1/command", Payload: "true", QoS: 1}, cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, ts.dash.publishes, 1)
	assert.Equal(t, "true", ts.dash.publishes[0].Payload)
	require.Len(t, ts.publishes.records, 1)
	assert.Equal(t, byte(1), ts.publishes.records[0].QoS)
	assert.Equal(t, []int{publishHistorySize}, ts.publishes.trims)

	rec = ts.do(t, http.MethodGet, "/api/publish/history", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"topic":"haadziq/led1/command"`)
}

func TestPublish_FailureNotRecorded(t *testing.T) {
	ts := newTestServer(t)
	cookie := ts.login(t)
	ts.dash.err = hub.ErrNotConnected

	rec := ts.do(t, http.MethodPost, "/api/publish", PublishRequest{Topic: "a", Payload: "x"}, cookie)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, ts.publishes.records)
}

func TestMessages(t *testing.T) {
	ts := newTestServer(t)
	cookie := ts.login(t)

	ts.dash.update(func(s *hub.Snapshot) {
		for i := int64(1); i <= 5; i++ {
			s.Messages = append(s.Messages, hub.MessageLogEntry{ID: i, Topic: "t", Payload: "p"})
		}
	})

	var resp struct {
		Messages []hub.MessageLogEntry `json:"messages"`
		LastID   int64                 `json:"lastId"`
		Total    int                   `json:"total"`
	}

	rec := ts.do(t, http.MethodGet, "/api/messages?since=3", nil, cookie)
	decodeBody(t, rec, &resp)
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, int64(4), resp.Messages[0].ID)
	assert.Equal(t, int64(5), resp.LastID)

	rec = ts.do(t, http.MethodGet, "/api/messages?limit=2", nil, cookie)
	decodeBody(t, rec, &resp)
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, 5, resp.Total)

	rec = ts.do(t, http.MethodGet, "/api/messages?since=abc", nil, cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/api/messages", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, ts.dash.cleared)

	rec = ts.do(t, http.MethodGet, "/api/messages", nil, cookie)
	assert.JSONEq(t, `{"messages":[],"lastId":0,"total":0}`, rec.Body.String())
}

func TestSensors(t *testing.T) {
	ts := newTestServer(t)
	cookie := ts.login(t)

	rec := ts.do(t, http.MethodGet, "/api/sensors", nil, cookie)
	var resp SensorsResponse
	decodeBody(t, rec, &resp)
	assert.False(t, resp.HasData)
	assert.Empty(t, resp.TemperatureLevel)

	now := time.Now()
	ts.dash.update(func(s *hub.Snapshot) {
		s.Sensors = telemetry.SensorState{
			Current: telemetry.SensorReading{Temperature: 30, Humidity: 70, Timestamp: now},
			History: []telemetry.SensorReading{
				{Temperature: 100, Humidity: 100, Timestamp: now.Add(-25 * time.Hour)},
				{Temperature: 20, Humidity: 60, Timestamp: now.Add(-time.Hour)},
				{Temperature: 30, Humidity: 70, Timestamp: now},
			},
		}
	})

	rec = ts.do(t, http.MethodGet, "/api/sensors", nil, cookie)
	resp = SensorsResponse{}
	decodeBody(t, rec, &resp)
	assert.True(t, resp.HasData)
	assert.Equal(t, "Warm", resp.TemperatureLevel)
	assert.Equal(t, "Humid", resp.HumidityLevel)
	assert.Equal(t, 2, resp.Averages.Samples)
	assert.InDelta(t, 25, resp.Averages.Temperature, 0.001)
	assert.InDelta(t, 65, resp.Averages.Humidity, 0.001)
	assert.Equal(t, 3, resp.HistoryLength)

	var hist struct {
		History []telemetry.SensorReading `json:"history"`
	}
	rec = ts.do(t, http.MethodGet, "/api/sensors/history?limit=1", nil, cookie)
	decodeBody(t, rec, &hist)
	require.Len(t, hist.History, 1)
	assert.Equal(t, 30.0, hist.History[0].Temperature)
}

func TestDevices(t *testing.T) {
	ts := newTestServer(t)
	cookie := ts.login(t)

	rec := ts.do(t, http.MethodGet, "/api/devices", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"commandFormat":"json"`)

	rec = ts.do(t, http.MethodPost, "/api/devices/led1/toggle", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":true`)
	assert.Equal(t, "led1 -> ON", ts.events.GetLast(1)[0].Details)

	rec = ts.do(t, http.MethodPost, "/api/devices/nope/toggle", nil, cookie)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/devices/led1/brightness", map[string]any{"brightness": 80}, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"brightness":80`)

	rec = ts.do(t, http.MethodPost, "/api/devices/led1/brightness", map[string]any{}, cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/devices/led1/brightness", map[string]any{"brightness": 150}, cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTopics(t *testing.T) {
	ts := newTestServer(t)
	cookie := ts.login(t)

	rec := ts.do(t, http.MethodGet, "/api/topics", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"temperature":"haadziq/suhu"`)

	updated := telemetry.DefaultTopicSettings("haadziq")
	updated.Temperature = "home/temp"
	rec = ts.do(t, http.MethodPut, "/api/topics", updated, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "home/temp", ts.dash.Snapshot().Topics.Temperature)

	updated.Humidity = "home/#/bad"
	rec = ts.do(t, http.MethodPut, "/api/topics", updated, cookie)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp ErrorResponse
	decodeBody(t, rec, &resp)
	assert.Contains(t, resp.Fields, "humidity")

	rec = ts.do(t, http.MethodPost, "/api/topics/reset", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "haadziq/suhu", ts.dash.Snapshot().Topics.Temperature)
	assert.Equal(t, events.EventTopicsReset, ts.events.GetLast(1)[0].Type)
}

func TestEventsList(t *testing.T) {
	ts := newTestServer(t)
	cookie := ts.login(t)
	ts.do(t, http.MethodDelete, "/api/messages", nil, cookie)

	rec := ts.do(t, http.MethodGet, "/api/events?limit=1", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Events []events.Event `json:"events"`
		LastID int64          `json:"lastId"`
	}
	decodeBody(t, rec, &resp)
	require.Len(t, resp.Events, 1)
	assert.Equal(t, events.EventLogCleared, resp.Events[0].Type)

	rec = ts.do(t, http.MethodGet, "/api/events?since="+"1", nil, cookie)
	decodeBody(t, rec, &resp)
	require.Len(t, resp.Events, 1)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodGet, "/api/status", nil)

	rec := ts.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `iothub_http_requests_total{route="/api/status",status="401"} 1`)
}

func TestStaticSPA(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>app</html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0o644))

	ts := newTestServer(t, func(c *config.Config) { c.Server.WebDir = dir })

	rec := ts.do(t, http.MethodGet, "/app.js", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "console.log(1)", rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/devices/led1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "app")

	rec = ts.do(t, http.MethodGet, "/api/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLive_RequiresToken(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) { c.Server.NoAuth = true })
	srv := httptest.NewServer(ts.srv.Router())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/live"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(url+"?ws_token=bogus", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestLive_StreamsUpdates(t *testing.T) {
	ts := newTestServer(t)
	cookie := ts.login(t)
	ts.dash.update(func(s *hub.Snapshot) {
		s.Messages = []hub.MessageLogEntry{{ID: 1, Topic: "a", Payload: "1"}}
	})

	srv := httptest.NewServer(ts.srv.Router())
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/auth/ws-token", nil)
	require.NoError(t, err)
	req.AddCookie(cookie)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	body, err := io.ReadAll(res.Body)
	res.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))

	var tok struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(body, &tok))

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/live?ws_token=" + tok.Token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	type frame struct {
		Type     string                `json:"type"`
		Messages []hub.MessageLogEntry `json:"messages"`
		LastID   int64                 `json:"lastId"`
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var first frame
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "snapshot", first.Type)
	require.Len(t, first.Messages, 1)
	assert.Equal(t, int64(1), first.LastID)

	ts.dash.update(func(s *hub.Snapshot) {
		s.Messages = append(append([]hub.MessageLogEntry(nil), s.Messages...),
			hub.MessageLogEntry{ID: 2, Topic: "b", Payload: "2"})
	})

	var next frame
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, "update", next.Type)
	require.Len(t, next.Messages, 1)
	assert.Equal(t, int64(2), next.Messages[0].ID)

	// the token is single use
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
