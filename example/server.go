package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"sync"

	flagkit "github.com/flagkit/flagkit-go-client"
	"github.com/flagkit/flagkit-go-client/unit"
)

type ResponseData struct {
	UserID       string `json:"userID"`
	ShowButton   bool   `json:"showButton"`
	ButtonColour string `json:"buttonColour"`
	Reason       string `json:"reason"`
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	// FLAGKIT_SDK_KEY and the other FLAGKIT_* settings come from the environment or a .env file.
	cfg, opts, err := flagkit.LoadEnvOptions()
	if err != nil {
		log.Fatal(err)
	}
	opts = append(opts, flagkit.WithSlogLogger(logger))

	client := flagkit.NewOnDeviceClient(cfg.SDKKey, unit.Unit{}, opts...)
	if err := client.InitializeAsync(context.Background()); err != nil {
		logger.Warn("serving cached values", "error", err)
	}
	defer client.Shutdown(context.Background())

	http.HandleFunc("/", RootHandler(client))

	fmt.Printf("Starting server at port 5000\n")
	if err := http.ListenAndServe(":5000", nil); err != nil {
		log.Fatal(err)
	}
}

// A client evaluates for one unit at a time, so requests take turns.
var mu sync.Mutex

func RootHandler(client *flagkit.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		u := unit.Unit{UserID: q.Get("identifier")}
		if key := q.Get("trait-key"); key != "" {
			u.Custom = map[string]any{key: q.Get("trait-value")}
		}

		mu.Lock()
		_ = client.UpdateUnitSync(u)
		gate := client.GetFeatureGate("secret_button")
		button := client.GetDynamicConfig("secret_button")
		mu.Unlock()

		data := ResponseData{
			UserID:       u.UserID,
			ShowButton:   gate.Value,
			ButtonColour: fmt.Sprint(button.Get("colour", "")),
			Reason:       gate.Details.Reason,
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(data)
	}
}
