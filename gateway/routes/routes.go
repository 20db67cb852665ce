package routes

import (
	"github.com/gorilla/mux"

	"sectionnet/gateway/controllers"
	"sectionnet/gateway/middleware"
)

// Register wires the chunk gateway's three operations onto r, matching
// spec §6 exactly: PUT upload, GET read (and read_range via ?offset=&length=),
// POST calculate_address.
func Register(r *mux.Router, cc *controllers.ChunkController) {
	r.Use(middleware.Logger)
	r.HandleFunc("/v1/chunks", cc.Upload).Methods("PUT")
	r.HandleFunc("/v1/chunks/{address}", cc.Read).Methods("GET")
	r.HandleFunc("/v1/address", cc.CalculateAddress).Methods("POST")
}
