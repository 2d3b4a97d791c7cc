package link

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPPoller_MergesEndpoints(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/telemetry", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"position":{"lat":47.39,"lon":8.54,"relative_alt":12.5},"ground_speed":4.2}`))
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"armed":true,"flight_mode":"AUTO.MISSION","battery":{"remaining":81}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewHTTPPoller(srv.URL + "/")
	rec, err := p.Poll(context.Background(), "m1")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}

	if rec.VehicleID != "m1" {
		t.Errorf("VehicleID = %q, want m1", rec.VehicleID)
	}
	if rec.Position == nil || rec.Position.Latitude != 47.39 || rec.Position.Altitude != 12.5 {
		t.Errorf("Position = %v", rec.Position)
	}
	if rec.Armed == nil || !*rec.Armed {
		t.Errorf("Armed = %v, want true", rec.Armed)
	}
	if rec.FlightMode == nil || *rec.FlightMode != "AUTO.MISSION" {
		t.Errorf("FlightMode = %v", rec.FlightMode)
	}
}

func TestHTTPPoller_PartialFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/telemetry", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"lat":1.5,"lon":2.5}`))
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	rec, err := NewHTTPPoller(srv.URL).Poll(context.Background(), "m1")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if rec.Position == nil || rec.Position.Latitude != 1.5 {
		t.Errorf("Position = %v", rec.Position)
	}
}

func TestHTTPPoller_AllFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/telemetry" {
			w.Write([]byte(`[1,2,3]`))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	if _, err := NewHTTPPoller(srv.URL).Poll(context.Background(), "m1"); err == nil {
		t.Error("Poll succeeded, want error")
	}
}
