package main

import (
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

var (
	ipLock     sync.Mutex
	ipLimiters = make(map[string]*rate.Limiter)
)

// getLimiter returns the per-IP token bucket, creating one on first sight.
// The gateway is the only intended caller, so the bucket is generous; it
// exists to blunt misconfigured loops, not to police users.
func getLimiter(ip string) *rate.Limiter {
	ipLock.Lock()
	defer ipLock.Unlock()
	limiter, exists := ipLimiters[ip]
	if !exists {
		limiter = rate.NewLimiter(50, 100)
		ipLimiters[ip] = limiter
	}
	return limiter
}

func throttleByIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, _ := net.SplitHostPort(r.RemoteAddr)
		if !getLimiter(ip).Allow() {
			http.Error(w, "Rate Limit", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// middlewareCORS adds headers to allow browser clients
func middlewareCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key, X-Accept-Compression")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requireKey rejects requests whose X-API-Key is missing, unreadable, or
// expired. /hello stays open: it exists to show a caller what their key
// decodes to.
func requireKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/hello" {
			next.ServeHTTP(w, r)
			return
		}
		tok := codec.Decode(r.Header.Get("X-API-Key"))
		if !tok.Valid() {
			httpError(w, http.StatusUnauthorized, "Invalid API Key")
			return
		}
		next.ServeHTTP(w, r)
	})
}
