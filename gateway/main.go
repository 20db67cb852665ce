// Command gateway runs the chunk gateway's HTTP surface: a thin client
// interface over self-encryption and chunk storage, grounded in
// walletserver's controllers/services/routes layering.
package main

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"sectionnet/gateway/config"
	"sectionnet/gateway/controllers"
	"sectionnet/gateway/routes"
	"sectionnet/gateway/services"
)

func main() {
	_ = config.Load()

	svc, err := services.NewService(config.AppConfig.StoreDir)
	if err != nil {
		logrus.Fatalf("init service: %v", err)
	}
	ctrl := controllers.NewChunkController(svc)

	r := mux.NewRouter()
	routes.Register(r, ctrl)

	logrus.Infof("gateway listening on :%s", config.AppConfig.Port)
	if err := http.ListenAndServe(":"+config.AppConfig.Port, r); err != nil {
		logrus.Fatal(err)
	}
}
