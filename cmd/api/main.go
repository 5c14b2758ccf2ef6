// cmd/api/main.go
package main

import (
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"

	"github.com/go-chi/chi/v5"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	bookServiceURL, _ := url.Parse(getEnv("BOOK_SERVICE_URL", "http://localhost:8081"))
	loanServiceURL, _ := url.Parse(getEnv("LOAN_SERVICE_URL", "http://localhost:8082"))
	userServiceURL, _ := url.Parse(getEnv("USER_SERVICE_URL", "http://localhost:8083"))

	bookProxy := httputil.NewSingleHostReverseProxy(bookServiceURL)
	loanProxy := httputil.NewSingleHostReverseProxy(loanServiceURL)
	userProxy := httputil.NewSingleHostReverseProxy(userServiceURL)

	r := chi.NewRouter()
	r.Handle("/api/v1/books/*", http.StripPrefix("/api/v1", bookProxy))
	r.Handle("/api/v1/loans/*", http.StripPrefix("/api/v1", loanProxy))
	r.Handle("/api/v1/returns", http.StripPrefix("/api/v1", loanProxy))
	r.Handle("/api/v1/users/*", http.StripPrefix("/api/v1", userProxy))

	port := getEnv("PORT", "8080")
	logger.Info("api gateway listening", "port", port)
	if err := http.ListenAndServe(":"+port, r); err != nil {
		logger.Error("server stopped", "error", err.Error())
		os.Exit(1)
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
