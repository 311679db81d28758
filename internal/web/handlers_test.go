package web

import (
	"bufio"
	"context"
	"encoding/json"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cjeanneret/MountGo/internal/logic/motion"
)

type fakeSource struct {
	status motion.Status
}

func (f *fakeSource) Status() motion.Status { return f.status }

func testStatus() motion.Status {
	return motion.Status{
		Mount:        motion.Fork,
		Tracking:     true,
		RateHz:       60.16427,
		ClockHz:      60.16427,
		Compensation: motion.CompensationRefractionDual,
		Axes: [2]motion.AxisStatus{
			{Name: "Axis1", Enabled: true, Instrument: math.Pi / 2, Target: math.Pi / 2, Frequency: 7.2921e-5, NearTarget: true},
			{Name: "Axis2", Enabled: true, Instrument: -math.Pi / 4, Target: 0, Slewing: true, CoalescedTicks: 3},
		},
	}
}

func TestNewStatusView(t *testing.T) {
	v := NewStatusView(testStatus())

	if v.Mount != "fork" || v.Compensation != "refraction-dual" {
		t.Errorf("mount/compensation = %q/%q", v.Mount, v.Compensation)
	}
	if len(v.Axes) != 2 {
		t.Fatalf("len(Axes) = %d, want 2", len(v.Axes))
	}
	if math.Abs(v.Axes[0].InstrumentDeg-90) > 1e-9 {
		t.Errorf("axis1 instrument = %v°, want 90", v.Axes[0].InstrumentDeg)
	}
	if math.Abs(v.Axes[1].InstrumentDeg+45) > 1e-9 {
		t.Errorf("axis2 instrument = %v°, want -45", v.Axes[1].InstrumentDeg)
	}
	if !v.Axes[1].Slewing || v.Axes[1].LostTicks != 3 {
		t.Errorf("axis2 slewing/lost = %v/%d", v.Axes[1].Slewing, v.Axes[1].LostTicks)
	}
	// sidereal ≈ 15.04 arcsec/s
	if math.Abs(v.Axes[0].RateArcsecS-15.04) > 0.01 {
		t.Errorf("axis1 rate = %v arcsec/s", v.Axes[0].RateArcsecS)
	}
}

func TestHandleStatus(t *testing.T) {
	h := NewHandlers(NewHub(), &fakeSource{status: testStatus()})
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()

	h.HandleStatus(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var v StatusView
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !v.Tracking || v.Axes[1].Name != "Axis2" {
		t.Errorf("decoded = %+v", v)
	}
}

func TestHandleStatus_NoSource(t *testing.T) {
	h := NewHandlers(NewHub(), nil)
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()

	h.HandleStatus(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestMux_Routes(t *testing.T) {
	srv := NewServer(":0", NewHub(), &fakeSource{status: testStatus()})
	ts := httptest.NewServer(srv.Mux())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /status = %d", resp.StatusCode)
	}

	resp, err = http.Post(ts.URL+"/status", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("POST /status = %d, want %d", resp.StatusCode, http.StatusMethodNotAllowed)
	}

	resp, err = http.Get(ts.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET / = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestHandleStatusStream(t *testing.T) {
	hub := NewHub()
	srv := NewServer(":0", hub, nil)
	ts := httptest.NewServer(srv.Mux())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/status/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	if err != nil || !strings.HasPrefix(line, ": connected") {
		t.Fatalf("first line = %q, %v", line, err)
	}

	// The handler subscribes before writing the greeting.
	hub.PublishLog("tracking on")

	for {
		line, err = r.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if strings.HasPrefix(line, "data: ") {
			break
		}
	}
	var evt Event
	if err := json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &evt); err != nil {
		t.Fatalf("unmarshal %q: %v", line, err)
	}
	if evt.Msg != "tracking on" {
		t.Errorf("msg = %q", evt.Msg)
	}
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	srv := NewServer("127.0.0.1:0", NewHub(), nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestServer_RunBindError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	srv := NewServer(ln.Addr().String(), NewHub(), nil)
	if err := srv.Run(context.Background()); err == nil {
		t.Error("Run on a busy port should fail")
	}
}

func TestServer_ServeEndsStreamsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := NewServer(ln.Addr().String(), NewHub(), &fakeSource{status: testStatus()})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/status/stream")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if _, err := bufio.NewReader(resp.Body).ReadString('\n'); err != nil {
		t.Fatalf("read greeting: %v", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return with an open stream")
	}
}
