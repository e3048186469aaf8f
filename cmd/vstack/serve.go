package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/zboralski/vstack/internal/emu"
	"github.com/zboralski/vstack/internal/executable"
	glog "github.com/zboralski/vstack/internal/log"
	"github.com/zboralski/vstack/internal/vstack"
)

var serveAddr string

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run an HTTP/JSON extraction API, speaking h2c (HTTP/2 without TLS)",
		Long: `serve exposes POST /extract, that accepts a base64-encoded image and a
list of entry-point addresses and returns the recovered regions, plus
/healthz, which always answers 200. It is intended for batch pipelines that already have the image
bytes in hand and would rather not shell out to the CLI per image.`,
		RunE: runServe,
	}
	cmd.Flags().StringVar(&serveAddr, "addr", ":8642", "listen address")
	return cmd
}

type extractRequest struct {
	ImageBase64 string   `json:"image_base64"`
	Addresses   []string `json:"addresses"`
	Stop        string   `json:"stop,omitempty"`
	Wait        uint64   `json:"wait,omitempty"`
	CallsWait   bool     `json:"calls_wait,omitempty"`
	StackSize   uint64   `json:"stack_size,omitempty"`
	BlockSize   uint64   `json:"block_size,omitempty"`
	PatchMin    uint64   `json:"patch_min,omitempty"`
}

type extractResponse struct {
	RunID   string   `json:"run_id"`
	Regions []string `json:"regions"`
	Error   string   `json:"error,omitempty"`
}

func runServe(cmd *cobra.Command, args []string) error {
	glog.Init(verbose)

	mux := http.NewServeMux()
	mux.HandleFunc("/extract", handleExtract)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	h2s := &http2.Server{}
	srv := &http.Server{
		Addr:              serveAddr,
		Handler:           h2c.NewHandler(mux, h2s),
		ReadTimeout:       30 * time.Second,
		WriteHeaderTimeout: 30 * time.Second,
	}

	if glog.L != nil {
		glog.L.Info("vstack serve listening", glog.Fn(serveAddr))
	}
	return srv.ListenAndServe()
}

func handleExtract(w http.ResponseWriter, r *http.Request) {
	runID := uuid.New().String()
	resp := extractResponse{RunID: runID}

	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}

	var req extractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.Error = fmt.Sprintf("decode request: %v", err)
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}

	data, err := base64.StdEncoding.DecodeString(req.ImageBase64)
	if err != nil {
		resp.Error = fmt.Sprintf("decode image: %v", err)
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}

	exe, err := executable.Load(data, nil)
	if err != nil {
		resp.Error = fmt.Sprintf("load image: %v", err)
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}

	opts := vstack.DefaultOptions()
	if req.Wait > 0 {
		opts.Wait = req.Wait
	}
	opts.CallsWait = req.CallsWait
	if req.StackSize > 0 {
		opts.StackSize = req.StackSize
	}
	if req.BlockSize > 0 {
		opts.BlockSize = req.BlockSize
	}
	if req.PatchMin > 0 {
		opts.PatchRange.Min = req.PatchMin
	}
	for _, a := range req.Addresses {
		v, err := parseUint(a)
		if err != nil {
			resp.Error = fmt.Sprintf("bad address %q: %v", a, err)
			writeJSON(w, http.StatusBadRequest, resp)
			return
		}
		opts.Addresses = append(opts.Addresses, v)
	}
	if req.Stop != "" {
		v, err := parseUint(req.Stop)
		if err != nil {
			resp.Error = fmt.Sprintf("bad stop %q: %v", req.Stop, err)
			writeJSON(w, http.StatusBadRequest, resp)
			return
		}
		opts.Stop = &v
	}

	regions, err := vstack.Run(exe, opts, emu.NewFunc())
	if err != nil {
		resp.Error = err.Error()
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}
	for _, r := range regions {
		resp.Regions = append(resp.Regions, base64.StdEncoding.EncodeToString(r))
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
