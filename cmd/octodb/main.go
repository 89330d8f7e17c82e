package main

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	flag "github.com/spf13/pflag"

	"octogrid/pkg/databases"
	"octogrid/pkg/security"
)

var (
	InfoLog  *log.Logger
	ErrorLog *log.Logger

	registry *databases.Registry
	codec    *security.Codec
)

func setupLogging() {
	logDir := "./logs"
	if _, err := os.Stat(logDir); os.IsNotExist(err) {
		os.Mkdir(logDir, 0755)
	}
	fInfo, _ := os.OpenFile(filepath.Join(logDir, "octodb.log"), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	fErr, _ := os.OpenFile(filepath.Join(logDir, "octodb-error.log"), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	InfoLog = log.New(io.MultiWriter(os.Stdout, fInfo), "INFO: ", log.Ldate|log.Ltime|log.Lshortfile)
	ErrorLog = log.New(io.MultiWriter(os.Stderr, fErr), "ERROR: ", log.Ldate|log.Ltime|log.Lshortfile)
}

func newRouter() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/hello", handleHello).Methods("GET")
	r.HandleFunc("/health", handleHealth).Methods("GET")
	r.HandleFunc("/health/{zone}", handleZoneHealth).Methods("GET")
	r.HandleFunc("/get_max_index/{zone}", handleMaxIndex).Methods("GET")
	r.HandleFunc("/set/{zone}", handleSet).Methods("POST")
	r.HandleFunc("/get/{zone}/{index}", handleGet).Methods("GET")
	r.HandleFunc("/get/{zone}/{index}/{iter}", handleGet).Methods("GET")
	r.HandleFunc("/expand", handleExpand).Methods("POST")
	r.HandleFunc("/expandall", handleExpandAll).Methods("POST")
	r.HandleFunc("/range/{zone}", handleRange).Methods("POST")
	r.HandleFunc("/ownership/{zone}", handleOwnership).Methods("POST")

	return r
}

func main() {
	addr := flag.String("addr", ":9401", "listen address")
	dbDir := flag.String("db-dir", "db", "zone database directory")
	keyFile := flag.String("key-file", "key.json", "shared token key file")
	flag.Parse()

	setupLogging()

	cfg := databases.FromEnv()
	codec = security.NewCodec(*keyFile)
	registry = databases.NewRegistry(*dbDir, cfg, ErrorLog)

	ctx := context.Background()
	if err := registry.InitAll(ctx); err != nil {
		ErrorLog.Fatal(err)
	}
	InfoLog.Printf("opened %d zone stores under %s (pool %d, flush %s, queue %d)",
		len(registry.Zones()), *dbDir, cfg.PoolSize, cfg.FlushInterval, cfg.MaxQueueRows)

	handler := requireKey(newRouter())
	handler = throttleByIP(handler)
	handler = middlewareCORS(handler)

	server := &http.Server{
		Addr:         *addr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		InfoLog.Println("shutting down, draining zone queues")
		shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
		if err := registry.CloseAll(shutdownCtx); err != nil {
			ErrorLog.Printf("close stores: %v", err)
		}
		os.Exit(0)
	}()

	InfoLog.Printf("storage service listening on %s", *addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		ErrorLog.Fatal(err)
	}
}
