//
// Copyright 2024 The Akuma Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

// Package klog wraps logrus so each component holds its own
// "component"-scoped logger, standing in for the kernel's earlycon
// UART sink.
package klog

import (
	"io"

	"github.com/sirupsen/logrus"
)

var base = logrus.New()

func init() {
	base.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000000",
	})
}

// SetOutput redirects the kernel log output (logrus's default writer
// until this is called). Nothing in the kernel calls it; internal/console
// is not wired in.
func SetOutput(w io.Writer) {
	base.SetOutput(w)
}

// SetLevel adjusts verbosity; BootConfig.LogLevel feeds this.
func SetLevel(level logrus.Level) {
	base.SetLevel(level)
}

// For returns a component-scoped entry, e.g. klog.For("scheduler").
func For(component string) *logrus.Entry {
	return base.WithField("component", component)
}

// Fatal halts the kernel in the WFI-loop sense: log then panic.
// Real hardware would spin on WFI; under test/host execution we panic so
// the surrounding test harness can observe the fatal condition.
func Fatal(component, msg string, fields logrus.Fields) {
	base.WithFields(fields).WithField("component", component).Error(msg)
	panic("akuma: fatal kernel invariant violated: " + msg)
}
