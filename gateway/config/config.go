package config

import (
	"os"

	"github.com/joho/godotenv"
)

// ServerConfig is the gateway's HTTP bind address and chunk store location.
type ServerConfig struct {
	Port     string
	StoreDir string
}

// AppConfig holds the configuration loaded by Load.
var AppConfig ServerConfig

// Load reads gateway/.env (if present) and GATEWAY_PORT/GATEWAY_STORE_DIR
// from the environment, falling back to sensible defaults.
func Load() error {
	_ = godotenv.Load("gateway/.env")
	port := os.Getenv("GATEWAY_PORT")
	if port == "" {
		port = "8088"
	}
	dir := os.Getenv("GATEWAY_STORE_DIR")
	if dir == "" {
		dir = "gateway-chunks"
	}
	AppConfig = ServerConfig{Port: port, StoreDir: dir}
	return nil
}
