package sectionnet_test

import "github.com/sirupsen/logrus"

func newTestLogger() *logrus.Logger {
	lg := logrus.New()
	lg.SetLevel(logrus.FatalLevel)
	return lg
}
