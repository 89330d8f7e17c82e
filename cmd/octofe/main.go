package main

import (
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/mux"
	flag "github.com/spf13/pflag"

	"octogrid/pkg/ratelimits"
	"octogrid/pkg/security"
)

var (
	InfoLog  *log.Logger
	ErrorLog *log.Logger

	codec     *security.Codec
	blacklist *security.Blacklist
	limiter   *ratelimits.Limiter
	db        *dbClient
)

func setupLogging() {
	logDir := "./logs"
	if _, err := os.Stat(logDir); os.IsNotExist(err) {
		os.Mkdir(logDir, 0755)
	}
	fInfo, _ := os.OpenFile(filepath.Join(logDir, "octofe.log"), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	fErr, _ := os.OpenFile(filepath.Join(logDir, "octofe-error.log"), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	InfoLog = log.New(io.MultiWriter(os.Stdout, fInfo), "INFO: ", log.Ldate|log.Ltime|log.Lshortfile)
	ErrorLog = log.New(io.MultiWriter(os.Stderr, fErr), "ERROR: ", log.Ldate|log.Ltime|log.Lshortfile)
}

func newRouter() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/render", handleRender).Methods("POST")
	r.HandleFunc("/api/render/one", handleRenderOne).Methods("POST")
	r.HandleFunc("/api/render/areas", handleRenderAreas).Methods("POST")
	r.HandleFunc("/api/mint", handleMint).Methods("POST")
	r.HandleFunc("/api/newiter", handleNewIter).Methods("POST")
	r.HandleFunc("/api/CheckAPIKey", handleCheckAPIKey).Methods("POST")
	r.HandleFunc("/api/APIKey", handleIssueAPIKey).Methods("POST")
	r.HandleFunc("/api/APIKey/renew", handleRenewAPIKey).Methods("POST")
	r.HandleFunc("/api/health", handleHealth).Methods("GET")

	return r
}

func main() {
	addr := flag.String("addr", ":9300", "listen address")
	keyFile := flag.String("key-file", "key.json", "shared token key file")
	blacklistFile := flag.String("blacklist", "blacklist.json", "banned principal file")
	flag.Parse()

	setupLogging()

	codec = security.NewCodec(*keyFile)
	blacklist = security.NewBlacklist(*blacklistFile)
	blacklist.HandleSignals()
	limiter = ratelimits.New()

	dbServer := os.Getenv("DB_SERVER")
	if dbServer == "" {
		dbServer = "http://localhost:9401"
	}
	dbKey := os.Getenv("DB_X_API_KEY")
	if dbKey == "" {
		// Both processes share the key file, so the gateway can mint its
		// own service credential.
		minted, err := codec.Encode("service:octofe")
		if err != nil {
			ErrorLog.Fatal(err)
		}
		dbKey = minted
		InfoLog.Println("DB_X_API_KEY not set, minted a service key from the shared key file")
	}
	db = newDBClient(dbServer, dbKey)

	handler := middlewareCORS(newRouter())
	server := &http.Server{
		Addr:         *addr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	InfoLog.Printf("gateway listening on %s, storage at %s", *addr, dbServer)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		ErrorLog.Fatal(err)
	}
}

// middlewareCORS adds headers to allow browser clients
func middlewareCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
