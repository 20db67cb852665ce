// Package controllers provides HTTP handlers for the chunk gateway, the
// way walletserver/controllers provides handlers for wallet operations.
package controllers

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"sectionnet/core"
	"sectionnet/gateway/services"
)

var errBadAddress = errors.New("address must be a 64-character hex string")

// ChunkController exposes Upload/Read/CalculateAddress over HTTP.
type ChunkController struct {
	svc *services.Service
}

func NewChunkController(svc *services.Service) *ChunkController {
	return &ChunkController{svc: svc}
}

// Upload handles PUT /v1/chunks: the request body is the raw payload to
// self-encrypt and store; ?private=true encrypts under a fresh owner key
// instead of leaving it as public plaintext.
func (c *ChunkController) Upload(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	private := r.URL.Query().Get("private") == "true"

	addr, err := c.svc.Upload(data, private)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"address": addr.String()})
}

// Read handles GET /v1/chunks/{address} and, with ?offset=&length=, the
// read_range variant of the same operation.
func (c *ChunkController) Read(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(mux.Vars(r)["address"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	length, _ := strconv.Atoi(r.URL.Query().Get("length"))

	data, err := c.svc.Read(addr, offset, length)
	if err != nil {
		if err == core.ErrChunkNotFound {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}

// CalculateAddress handles POST /v1/address: a pure content-address
// computation, no chunk store access.
func (c *ChunkController) CalculateAddress(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]string{"address": c.svc.CalculateAddress(data).String()})
}

func parseAddress(hexStr string) (core.ChunkAddress, error) {
	var addr core.ChunkAddress
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return addr, err
	}
	if len(b) != len(addr) {
		return addr, errBadAddress
	}
	copy(addr[:], b)
	return addr, nil
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
