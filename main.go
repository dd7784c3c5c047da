package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"ordersync/src/engine"
	"ordersync/src/server"

	logger "github.com/sirupsen/logrus"
)

var APP_NAME = os.Getenv("APP_NAME")

func SetupLogger() {
	levelStr := strings.ToLower(os.Getenv("LOG_LEVEL"))

	level, err := logger.ParseLevel(levelStr)
	if err != nil {
		level = logger.InfoLevel
	}

	logger.SetLevel(level)
	logger.SetFormatter(&logger.TextFormatter{
		FullTimestamp: true,
	})
}

func main() {
	SetupLogger()
	defer handlePanic()

	eng, err := engine.New()
	if err != nil {
		logger.WithError(err).Fatal("Failed to build engine")
	}

	initCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := eng.Initialize(initCtx); err != nil {
		logger.WithError(err).Fatal("Failed to initialize engine")
	}

	server.StartServer(server.GetConfig().Port, eng)
}

func handlePanic() {
	if r := recover(); r != nil {
		logger.WithError(fmt.Errorf("%+v", r)).Error(fmt.Sprintf("Application %s panic", APP_NAME))
	}
}
