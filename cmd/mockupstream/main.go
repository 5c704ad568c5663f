// Package main provides a mock upstream server for local development of the
// gateway. It serves canned provider payloads (APOD, rover photos, close
// approaches, DSN status, Horizons ephemerides) so the full stack can run
// without real API keys or network access.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"
)

func main() {
	port := flag.Int("port", 3001, "port to listen on")
	flag.Parse()

	// /__status/{code} returns an arbitrary HTTP status code.
	// Useful for testing retries, breaker trips, and metrics.
	// Example: GET /__status/503 → 503 Service Unavailable
	http.HandleFunc("/__status/", func(w http.ResponseWriter, r *http.Request) {
		codeStr := strings.TrimPrefix(r.URL.Path, "/__status/")
		code, err := strconv.Atoi(codeStr)
		if err != nil || code < 100 || code > 599 {
			code = 500
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"requested_code": code,
			"message":        http.StatusText(code),
		})
	})

	http.HandleFunc("/planetary/apod", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"date":        time.Now().UTC().Format("2006-01-02"),
			"title":       "Saturn at Opposition",
			"explanation": "Canned payload served by mockupstream.",
			"url":         "https://example.com/saturn.jpg",
			"hdurl":       "https://example.com/saturn_hd.jpg",
			"media_type":  "image",
			"copyright":   "mockupstream",
		})
	})

	http.HandleFunc("/mars-photos/api/v1/rovers/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"photos": []map[string]interface{}{
				{
					"id":         1000001,
					"sol":        1000,
					"img_src":    "https://example.com/mars1.jpg",
					"earth_date": "2015-05-30",
					"camera":     map[string]interface{}{"name": "NAVCAM", "full_name": "Navigation Camera"},
					"rover":      map[string]interface{}{"name": "Curiosity"},
				},
			},
		})
	})

	http.HandleFunc("/cad.api", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"count":  2,
			"fields": []string{"des", "cd", "dist", "v_rel", "h"},
			"data": [][]interface{}{
				{"2024 AB", "2026-Sep-01 12:00", "0.0231", "14.2", "22.1"},
				{"433 Eros", "2026-Sep-03 04:30", "0.1490", "5.8", "10.4"},
			},
		})
	})

	http.HandleFunc("/status.json", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"stations": []map[string]interface{}{
				{
					"name":         "gdscc",
					"friendlyName": "Goldstone",
					"dishes": []map[string]interface{}{
						{
							"name":           "DSS24",
							"azimuthAngle":   123.4,
							"elevationAngle": 45.6,
							"targets":        []map[string]interface{}{{"name": "VGR1"}},
						},
					},
				},
			},
		})
	})

	// Horizons wraps its plaintext report in a JSON envelope.
	http.HandleFunc("/horizons.api", func(w http.ResponseWriter, r *http.Request) {
		var report string
		if strings.Contains(r.URL.Query().Get("EPHEM_TYPE"), "ELEMENTS") {
			report = "$$SOE\n" +
				"2462000.500000000 = A.D. 2026-Aug-31 00:00:00.0000 TDB\n" +
				" EC= 2.056302E-01 QR= 3.075005E-01 IN= 7.00498E+00\n" +
				"$$EOE\n"
		} else {
			report = "$$SOE\n" +
				"2462000.500000000 = A.D. 2026-Aug-31 00:00:00.0000 TDB\n" +
				" X = 1.234500E+08 Y =-4.560000E+07 Z = 2.100000E+06\n" +
				" VX= 2.345000E+01 VY= 1.120000E+01 VZ=-3.400000E-01\n" +
				" RG= 1.615600E+08\n" +
				"$$EOE\n"
		}
		writeJSON(w, map[string]interface{}{
			"signature": map[string]string{"source": "mockupstream", "version": "1.2"},
			"result":    report,
		})
	})

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("mockupstream listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, nil))
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}
